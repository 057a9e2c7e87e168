package store

import (
	"context"
	"fmt"

	"github.com/rcliao/chronolock/internal/model"
)

// Export returns every record belonging to owner, real and simulated, with
// key material intact. An export is the only backup of the keys.
func Export(ctx context.Context, s Store, owner string) ([]model.Memory, error) {
	records, err := s.Records(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("export records: %w", err)
	}
	sim, err := s.Simulated(ctx)
	if err != nil {
		return nil, fmt.Errorf("export simulated: %w", err)
	}

	out := make([]model.Memory, 0, len(records)+len(sim))
	out = append(out, records...)
	for _, m := range sim {
		if m.Owner == owner {
			out = append(out, m)
		}
	}
	return out, nil
}

// Import stores records from an export under owner. Records whose ID is
// already present are skipped. Returns the number imported.
func Import(ctx context.Context, s Store, owner string, memories []model.Memory) (int, error) {
	seen := map[string]bool{}
	records, err := s.Records(ctx, owner)
	if err != nil {
		return 0, err
	}
	sim, err := s.Simulated(ctx)
	if err != nil {
		return 0, err
	}
	for _, m := range records {
		seen[m.ID] = true
	}
	for _, m := range sim {
		seen[m.ID] = true
	}

	imported := 0
	for _, m := range memories {
		if m.ID == "" || seen[m.ID] {
			continue
		}
		m.Owner = owner
		switch m.Mode {
		case model.ModeSimulated:
			err = s.AppendSimulated(ctx, m)
		default:
			err = s.Append(ctx, owner, m)
		}
		if err != nil {
			return imported, err
		}
		seen[m.ID] = true
		imported++
	}
	return imported, nil
}
