// Package store provides local persistence for memory records: the owner's
// real records (including their encryption keys) and the global list of
// simulated records.
package store

import (
	"context"

	"github.com/rcliao/chronolock/internal/model"
)

// RingSize is the number of real records kept per owner; the oldest is
// evicted first.
const RingSize = 100

// Store defines the local persistence interface.
//
// Append is a read-modify-write on the owner's ring and assumes at most one
// writer per owner at a time.
type Store interface {
	// Records returns the owner's real records, oldest first.
	Records(ctx context.Context, owner string) ([]model.Memory, error)

	// Append adds a real record to the owner's ring, evicting the oldest
	// beyond RingSize.
	Append(ctx context.Context, owner string, m model.Memory) error

	// ClearOwner removes every real record of owner.
	ClearOwner(ctx context.Context, owner string) error

	// Simulated returns every simulated record, oldest first.
	Simulated(ctx context.Context) ([]model.Memory, error)

	// AppendSimulated adds a simulated record. m.Owner must be set.
	AppendSimulated(ctx context.Context, m model.Memory) error

	// ClearSimulated removes every simulated record.
	ClearSimulated(ctx context.Context) error

	// Owners lists owners with at least one real record.
	Owners(ctx context.Context) ([]string, error)

	// Close closes the store.
	Close() error
}
