package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rcliao/chronolock/internal/model"
)

// MemStore is an in-process Store, used by tests and dry runs.
type MemStore struct {
	mu        sync.Mutex
	records   map[string][]model.Memory
	simulated []model.Memory
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{records: map[string][]model.Memory{}}
}

func clone(ms []model.Memory) []model.Memory {
	out := make([]model.Memory, len(ms))
	copy(out, ms)
	return out
}

func (s *MemStore) Records(ctx context.Context, owner string) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.records[owner]), nil
}

func (s *MemStore) Append(ctx context.Context, owner string, m model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Owner = owner
	m.Mode = model.ModeReal
	list := append(s.records[owner], m)
	if len(list) > RingSize {
		list = list[len(list)-RingSize:]
	}
	s.records[owner] = list
	return nil
}

func (s *MemStore) ClearOwner(ctx context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, owner)
	return nil
}

func (s *MemStore) Simulated(ctx context.Context) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.simulated), nil
}

func (s *MemStore) AppendSimulated(ctx context.Context, m model.Memory) error {
	if m.Owner == "" {
		return fmt.Errorf("simulated record %s has no owner", m.ID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	m.Mode = model.ModeSimulated
	s.simulated = append(s.simulated, m)
	return nil
}

func (s *MemStore) ClearSimulated(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.simulated = nil
	return nil
}

func (s *MemStore) Owners(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make([]string, 0, len(s.records))
	for o, list := range s.records {
		if len(list) > 0 {
			owners = append(owners, o)
		}
	}
	sort.Strings(owners)
	return owners, nil
}

func (s *MemStore) Close() error { return nil }
