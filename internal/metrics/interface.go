// Package metrics records operation counts, stage latencies and error kinds
// for the memory service.
package metrics

import "context"

// Collector is the interface for metrics collection.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorKind string)
	SetMemoryCount(ctx context.Context, mode string, count int64)
}

// Operation statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusLocked  = "locked"
)
