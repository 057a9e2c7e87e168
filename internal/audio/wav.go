// Package audio inspects recorded payloads. Only RIFF/WAVE is understood;
// anything else has an unknown duration.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
)

var errNotWAV = errors.New("not a RIFF/WAVE payload")

// WAVDuration returns the playing time in seconds of a PCM WAV payload,
// rounded to the nearest second.
func WAVDuration(b []byte) (int, error) {
	if len(b) < 12 || !bytes.Equal(b[0:4], []byte("RIFF")) || !bytes.Equal(b[8:12], []byte("WAVE")) {
		return 0, errNotWAV
	}

	var byteRate uint32
	for off := int64(12); off+8 <= int64(len(b)); {
		id := string(b[off : off+4])
		size := int64(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8
		remaining := int64(len(b)) - body

		switch id {
		case "fmt ":
			if size < 16 || remaining < 16 {
				return 0, errors.New("truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, errors.New("data chunk before fmt chunk")
			}
			// Streaming writers leave the size unset; use what is present.
			if size == 0 || size > remaining {
				size = remaining
			}
			return int(math.Round(float64(size) / float64(byteRate))), nil
		}

		if size > remaining {
			break
		}
		// Chunks are word aligned.
		off = body + size + size%2
	}
	return 0, errors.New("no data chunk")
}

// Duration is WAVDuration with failures reported as zero.
func Duration(b []byte) int {
	d, err := WAVDuration(b)
	if err != nil {
		return 0
	}
	return d
}
