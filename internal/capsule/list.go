package capsule

import (
	"context"
	"fmt"
	"sort"

	"github.com/rcliao/chronolock/internal/model"
)

// GetUserMemories lists owner's memories from every backend, newest first.
// Local records, ledger contracts without a local record and simulated
// records are merged. If the real side cannot be read, only the simulated
// records are returned.
func (s *Service) GetUserMemories(ctx context.Context, owner string) (out []model.Memory, err error) {
	c := s.begin(ctx, "list", owner)
	defer func() { c.end(err) }()

	var simulated []model.Memory
	err = c.stage("simulated", func() (err error) {
		simulated, err = s.sim.List(c.ctx, owner)
		return err
	})
	if err != nil {
		c.logger.Warn("simulated listing failed", "error", err)
		simulated = nil
	}

	var records []model.Memory
	err = c.stage("real", func() (err error) {
		records, err = s.realMemories(c, owner)
		return err
	})
	if err != nil {
		c.logger.Warn("real listing failed, returning simulated memories only", "error", err)
		records = nil
	}

	now := s.now()
	out = make([]model.Memory, 0, len(records)+len(simulated))
	for _, m := range append(records, simulated...) {
		m.Refresh(now)
		out = append(out, m.Public())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})

	s.metrics.SetMemoryCount(c.ctx, string(model.ModeReal), int64(len(records)))
	s.metrics.SetMemoryCount(c.ctx, string(model.ModeSimulated), int64(len(simulated)))
	return out, nil
}

// realMemories returns local records plus contracts owner created whose
// local record is gone. The key for those is unrecoverable, so they are
// listed for visibility only. Contracts whose details cannot be read are
// skipped; only a store failure is returned.
func (s *Service) realMemories(c *call, owner string) ([]model.Memory, error) {
	local, err := s.store.Records(c.ctx, owner)
	if err != nil {
		return nil, err
	}

	known := make(map[uint64]bool, len(local))
	for _, m := range local {
		known[m.ContractID] = true
	}

	out := local
	for _, appID := range s.ledger.ListCreatedContracts(c.ctx, owner) {
		if known[appID] {
			continue
		}
		d, err := s.ledger.ContractDetails(c.ctx, appID)
		if err != nil {
			c.logger.Warn("skipping unreadable contract", "app_id", appID, "error", err)
			continue
		}
		out = append(out, model.Memory{
			ID:         fmt.Sprintf("%s%d", model.ContractPrefix, appID),
			Owner:      owner,
			Title:      fmt.Sprintf("Memory #%d", appID),
			UnlockAt:   d.UnlockAt,
			Emotion:    d.Emotion,
			ContractID: appID,
			ContentID:  d.CID,
			Mode:       model.ModeReal,
		})
	}
	return out, nil
}
