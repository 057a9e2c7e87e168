package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/chronolock/internal/audio"
	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "create [file]",
		Short: "Create a time-locked memory",
		Long: "Create a time-locked memory. The payload is read from the file argument or piped via stdin. " +
			"WAV recordings get their duration filled in automatically.",
		Args: cobra.MaximumNArgs(1),
		Run:  runCreate,
	}

	cmd.Flags().StringP("title", "t", "", "Title (required)")
	cmd.Flags().StringP("note", "n", "", "Optional note")
	cmd.Flags().String("unlock", "", "Unlock time, RFC3339 (e.g. 2027-01-01T00:00:00Z)")
	cmd.Flags().Duration("in", 0, "Unlock after this duration (e.g. 720h)")
	cmd.Flags().StringP("emotion", "e", "Neutral", "Emotion label")
	cmd.Flags().Float64("intensity", 0.5, "Emotion intensity in [0,1]")
	cmd.Flags().Int("duration", -1, "Recording duration in seconds (default: probed from WAV)")
	cmd.Flags().Bool("simulated", false, "Use the local simulated backend")
	cmd.Flags().BoolP("yes", "y", false, "Sign without asking")

	cmd.MarkFlagRequired("title")
	cmd.MarkFlagsMutuallyExclusive("unlock", "in")

	RootCmd.AddCommand(cmd)
}

func readPayload(args []string) ([]byte, error) {
	if len(args) > 0 {
		return os.ReadFile(args[0])
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) != 0 {
		return nil, errors.New("payload is required (file argument or stdin)")
	}
	return io.ReadAll(os.Stdin)
}

// unlockTime resolves --unlock or --in against now.
func unlockTime(unlock string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case unlock != "":
		t, err := time.Parse(time.RFC3339, unlock)
		if err != nil {
			return time.Time{}, fmt.Errorf("--unlock: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in), nil
	default:
		return time.Time{}, errors.New("one of --unlock or --in is required")
	}
}

func createHint(err error) string {
	switch {
	case errors.Is(err, errs.ErrInsufficientBalance):
		return "fund the account with at least 1 ALGO or rerun with --simulated"
	case errs.Retryable(err):
		return "the service did not answer in time; retry later or rerun with --simulated"
	}
	return ""
}

func runCreate(cmd *cobra.Command, args []string) {
	title, _ := cmd.Flags().GetString("title")
	note, _ := cmd.Flags().GetString("note")
	unlock, _ := cmd.Flags().GetString("unlock")
	in, _ := cmd.Flags().GetDuration("in")
	emotion, _ := cmd.Flags().GetString("emotion")
	intensity, _ := cmd.Flags().GetFloat64("intensity")
	duration, _ := cmd.Flags().GetInt("duration")
	simulated, _ := cmd.Flags().GetBool("simulated")
	yes, _ := cmd.Flags().GetBool("yes")

	unlockAt, err := unlockTime(unlock, in, time.Now())
	if err != nil {
		exitErr("create", err)
	}
	payload, err := readPayload(args)
	if err != nil {
		exitErr("read payload", err)
	}
	if duration < 0 {
		duration = audio.Duration(payload)
	}

	a := newApp()
	defer a.close()
	owner := a.owner()
	if err := requireSigner(a.account, simulated); err != nil {
		a.close()
		exitErr("create", err)
	}

	// Stdin may hold the payload; prompt on the controlling terminal instead.
	prompt := os.Stdin
	if len(args) == 0 && !yes {
		tty, err := os.Open("/dev/tty")
		if err != nil {
			a.close()
			exitErr("create", errors.New("cannot prompt for signature while reading stdin; pass --yes"))
		}
		defer tty.Close()
		prompt = tty
	}

	res, err := a.svc.CreateMemory(cmd.Context(), model.CreateRequest{
		Title:           title,
		Note:            note,
		UnlockAt:        unlockAt,
		Payload:         payload,
		Emotion:         model.Emotion{Label: emotion, Intensity: intensity},
		DurationSeconds: duration,
	}, owner, confirmingSigner(a.account, prompt, os.Stderr, yes), simulated)
	if err != nil {
		a.close()
		if hint := createHint(err); hint != "" {
			fmt.Fprintln(os.Stderr, "hint: "+hint)
		}
		exitErr("create", err)
	}

	printJSON(res)
}
