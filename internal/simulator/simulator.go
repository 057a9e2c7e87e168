// Package simulator mimics the content store and time-lock ledger pair with
// local state only. Payloads are kept directly in the simulated list, so the
// mode needs neither funding nor connectivity.
package simulator

import (
	"context"
	"crypto/rand"
	"log/slog"
	"math/big"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/model"
	"github.com/rcliao/chronolock/internal/store"
)

// Synthetic contract ids fall in [ContractIDBase, ContractIDBase+ContractIDSpan).
const (
	ContractIDBase = 100000
	ContractIDSpan = 1000000
)

// Simulator stores simulated memories in the store's global simulated list.
type Simulator struct {
	store  store.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Simulator) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// New creates a Simulator over st.
func New(st store.Store, opts ...Option) *Simulator {
	s := &Simulator{store: st, now: time.Now, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func contractID() (uint64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(ContractIDSpan))
	if err != nil {
		return 0, err
	}
	return ContractIDBase + n.Uint64(), nil
}

// Create records req for owner and returns the new memory and contract ids.
func (s *Simulator) Create(ctx context.Context, req model.CreateRequest, owner string) (string, uint64, error) {
	const op = "simulator.Create"
	if owner == "" {
		return "", 0, errs.Errorf(op, errs.KindValidation, "owner is required")
	}

	appID, err := contractID()
	if err != nil {
		return "", 0, errs.E(op, errs.KindInternal, err)
	}
	now := s.now()
	m := model.Memory{
		ID:              model.SimulatedPrefix + ulid.Make().String(),
		Owner:           owner,
		Title:           req.Title,
		Note:            req.Note,
		CreatedAt:       now,
		UnlockAt:        req.UnlockAt,
		Emotion:         req.Emotion,
		DurationSeconds: req.DurationSeconds,
		ContractID:      appID,
		Payload:         append([]byte(nil), req.Payload...),
		Mode:            model.ModeSimulated,
	}
	m.Refresh(now)

	if err := s.store.AppendSimulated(ctx, m); err != nil {
		return "", 0, errs.E(op, errs.KindStorage, err)
	}
	s.logger.Debug("simulated memory created", "id", m.ID, "contract_id", appID, "unlock_at", m.UnlockAt)
	return m.ID, appID, nil
}

// List returns owner's simulated memories, newest first, without payloads.
func (s *Simulator) List(ctx context.Context, owner string) ([]model.Memory, error) {
	all, err := s.store.Simulated(ctx)
	if err != nil {
		return nil, errs.E("simulator.List", errs.KindStorage, err)
	}
	now := s.now()
	out := make([]model.Memory, 0, len(all))
	for _, m := range all {
		if m.Owner != owner {
			continue
		}
		m.Refresh(now)
		out = append(out, m.Public())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Simulator) find(ctx context.Context, id, owner string) (*model.Memory, error) {
	all, err := s.store.Simulated(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id && all[i].Owner == owner {
			return &all[i], nil
		}
	}
	return nil, nil
}

// Retrieve returns the payload of id once it has unlocked.
func (s *Simulator) Retrieve(ctx context.Context, id, owner string) ([]byte, error) {
	const op = "simulator.Retrieve"
	m, err := s.find(ctx, id, owner)
	if err != nil {
		return nil, errs.E(op, errs.KindStorage, err)
	}
	if m == nil {
		return nil, errs.Errorf(op, errs.KindNotFound, "memory %s not found", id)
	}
	if !model.IsUnlocked(s.now(), m.UnlockAt) {
		return nil, errs.Errorf(op, errs.KindStillLocked, "memory %s unlocks at %s", id, m.UnlockAt.UTC().Format(time.RFC3339))
	}
	return m.Payload, nil
}

// IsUnlocked reports whether id has unlocked. Unknown ids and read errors
// report false.
func (s *Simulator) IsUnlocked(ctx context.Context, id, owner string) bool {
	m, err := s.find(ctx, id, owner)
	if err != nil {
		s.logger.Warn("simulated unlock check failed", "id", id, "error", err)
		return false
	}
	if m == nil {
		return false
	}
	return model.IsUnlocked(s.now(), m.UnlockAt)
}

// ClearAll removes every simulated memory of every owner.
func (s *Simulator) ClearAll(ctx context.Context) error {
	if err := s.store.ClearSimulated(ctx); err != nil {
		return errs.E("simulator.ClearAll", errs.KindStorage, err)
	}
	return nil
}
