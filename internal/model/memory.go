// Package model defines the core memory data types.
package model

import (
	"time"
	"unicode/utf8"
)

// Field limits.
const (
	MaxTitleLen = 100
	MaxNoteLen  = 500
)

// Mode selects the backend a memory lives in.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
)

// ID prefixes. Lookups dispatch on Memory.Mode, the prefixes are for humans.
const (
	RealPrefix      = "memory_"
	SimulatedPrefix = "demo_"
	ContractPrefix  = "contract_"
)

// Emotion is the opaque classifier output attached to a memory.
type Emotion struct {
	Label     string  `json:"label"`
	Intensity float64 `json:"intensity"`
}

// Memory represents a stored time-locked memory.
type Memory struct {
	ID              string    `json:"id"`
	Owner           string    `json:"owner"`
	Title           string    `json:"title"`
	Note            string    `json:"note,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UnlockAt        time.Time `json:"unlock_at"`
	Emotion         Emotion   `json:"emotion"`
	DurationSeconds int       `json:"duration_seconds"`
	Locked          bool      `json:"locked"`
	ContractID      uint64    `json:"contract_id"`
	ContentID       string    `json:"content_id,omitempty"`
	EncryptionKey   []byte    `json:"encryption_key,omitempty"`
	Payload         []byte    `json:"payload,omitempty"`
	Mode            Mode      `json:"mode"`
}

// CreateRequest holds the caller input for a new memory.
type CreateRequest struct {
	Title           string
	Note            string
	UnlockAt        time.Time
	Payload         []byte
	Emotion         Emotion
	DurationSeconds int
}

// IsUnlocked reports whether unlockAt has been reached at now.
// Every backend uses this comparison (>=).
func IsUnlocked(now, unlockAt time.Time) bool {
	return !now.Before(unlockAt)
}

// Refresh recomputes the derived Locked flag.
func (m *Memory) Refresh(now time.Time) {
	m.Locked = !IsUnlocked(now, m.UnlockAt)
}

// Public returns a copy without key material or payload, for listings.
func (m Memory) Public() Memory {
	m.EncryptionKey = nil
	m.Payload = nil
	return m
}

// RuneLen counts characters the way the title/note limits are expressed.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
