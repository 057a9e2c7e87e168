// Package capsule is the memory service: it chooses between the real
// (IPFS + time-lock contract) and simulated backends, runs the encrypt →
// upload → anchor pipeline on create, and re-checks the lock on every
// retrieval.
package capsule

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/metrics"
	"github.com/rcliao/chronolock/internal/model"
	"github.com/rcliao/chronolock/internal/store"
	"github.com/rcliao/chronolock/internal/timelock"
)

// ContentStore holds ciphertext by content id.
type ContentStore interface {
	Upload(ctx context.Context, payload []byte, m ipfs.Metadata) (string, error)
	Retrieve(ctx context.Context, cid string) ([]byte, error)
	Metadata(ctx context.Context, cid string) map[string]string
	HealthCheck(ctx context.Context) ipfs.Health
}

// Ledger is the time-lock oracle.
type Ledger interface {
	CreateContract(ctx context.Context, creator string, unlockAt time.Time, cid string, emotion model.Emotion, sign timelock.Signer) (uint64, error)
	IsUnlocked(ctx context.Context, appID uint64) bool
	ContractDetails(ctx context.Context, appID uint64) (*timelock.Details, error)
	ListCreatedContracts(ctx context.Context, address string) []uint64
	CheckBalance(ctx context.Context, address string) (timelock.Balance, error)
	NetworkStatus(ctx context.Context) timelock.Status
}

// Simulator is the local stand-in for the ContentStore and Ledger pair.
type Simulator interface {
	Create(ctx context.Context, req model.CreateRequest, owner string) (string, uint64, error)
	List(ctx context.Context, owner string) ([]model.Memory, error)
	Retrieve(ctx context.Context, id, owner string) ([]byte, error)
	IsUnlocked(ctx context.Context, id, owner string) bool
	ClearAll(ctx context.Context) error
}

// Deps are the backends a Service composes.
type Deps struct {
	Content   ContentStore
	Ledger    Ledger
	Simulator Simulator
	Store     store.Store
}

// CreateResult identifies a newly created memory.
type CreateResult struct {
	MemoryID   string     `json:"memory_id"`
	ContractID uint64     `json:"contract_id"`
	Mode       model.Mode `json:"mode"`
}

// Status summarizes backend connectivity.
type Status struct {
	Content ipfs.Health     `json:"content"`
	Ledger  timelock.Status `json:"ledger"`
}

// Service is the memory façade.
type Service struct {
	content ContentStore
	ledger  Ledger
	sim     Simulator
	store   store.Store

	logger  *slog.Logger
	metrics metrics.Collector
	tracer  trace.Tracer
	now     func() time.Time
	newID   func() string
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c metrics.Collector) Option {
	return func(s *Service) { s.metrics = c }
}

// WithTracer sets the tracer used for operation spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDSource overrides the generator for the unique part of memory ids.
func WithIDSource(f func() string) Option {
	return func(s *Service) { s.newID = f }
}

// New creates a Service.
func New(d Deps, opts ...Option) *Service {
	s := &Service{
		content: d.Content,
		ledger:  d.Ledger,
		sim:     d.Simulator,
		store:   d.Store,
		logger:  slog.Default(),
		metrics: metrics.NewNoopCollector(),
		tracer:  noop.NewTracerProvider().Tracer("chronolock"),
		now:     time.Now,
		newID:   func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// call tracks one public operation: span, request-scoped logger, metrics.
type call struct {
	s      *Service
	op     string
	start  time.Time
	ctx    context.Context
	span   trace.Span
	logger *slog.Logger
}

func (s *Service) begin(ctx context.Context, op, owner string) *call {
	ctx, span := s.tracer.Start(ctx, "capsule."+op,
		trace.WithAttributes(attribute.String("chronolock.owner", owner)))
	return &call{
		s:      s,
		op:     op,
		start:  time.Now(),
		ctx:    ctx,
		span:   span,
		logger: s.logger.With("op", op, "owner", owner, "request_id", uuid.NewString()),
	}
}

// stage times fn as a named stage of the operation.
func (c *call) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	c.s.metrics.RecordStage(c.ctx, c.op, name, time.Since(start).Milliseconds())
	if err != nil {
		c.span.AddEvent(name+" failed", trace.WithAttributes(attribute.String("error.kind", string(errs.KindOf(err)))))
	}
	return err
}

func (c *call) end(err error) {
	defer c.span.End()
	elapsed := time.Since(c.start).Milliseconds()

	if err == nil {
		c.s.metrics.RecordOperation(c.ctx, c.op, metrics.StatusSuccess, elapsed)
		c.span.SetStatus(codes.Ok, "")
		return
	}

	kind := errs.KindOf(err)
	c.span.SetAttributes(attribute.String("error.kind", string(kind)))
	if errs.Expected(err) {
		status := metrics.StatusLocked
		if kind == errs.KindUserCancelled {
			status = string(kind)
		}
		c.s.metrics.RecordOperation(c.ctx, c.op, status, elapsed)
		c.span.SetStatus(codes.Ok, string(kind))
		c.logger.Info("operation ended", "kind", kind, "error", err)
		return
	}

	c.s.metrics.RecordOperation(c.ctx, c.op, metrics.StatusError, elapsed)
	c.s.metrics.RecordError(c.ctx, c.op, string(kind))
	c.span.RecordError(err)
	c.span.SetStatus(codes.Error, err.Error())
	c.logger.Error("operation failed", "kind", kind, "error", err)
}

// CheckBalance reports the owner's ledger balance.
func (s *Service) CheckBalance(ctx context.Context, owner string) (bal timelock.Balance, err error) {
	c := s.begin(ctx, "check_balance", owner)
	defer func() { c.end(err) }()
	return s.ledger.CheckBalance(c.ctx, owner)
}

// CheckUnlockStatus reports whether id has unlocked for owner. Unknown ids
// and read failures report false.
func (s *Service) CheckUnlockStatus(ctx context.Context, id, owner string) bool {
	c := s.begin(ctx, "unlock_status", owner)
	defer c.end(nil)
	c.span.SetAttributes(attribute.String("chronolock.memory_id", id))

	if m, err := s.findLocal(c.ctx, id, owner); err == nil && m != nil {
		return s.ledger.IsUnlocked(c.ctx, m.ContractID)
	}
	if s.sim.IsUnlocked(c.ctx, id, owner) {
		return true
	}
	if appID, ok := s.orphanID(c.ctx, id, owner); ok {
		return s.ledger.IsUnlocked(c.ctx, appID)
	}
	return false
}

// ClearLocalMemories forgets owner's real records, keys included, and every
// simulated record.
func (s *Service) ClearLocalMemories(ctx context.Context, owner string) (err error) {
	c := s.begin(ctx, "clear", owner)
	defer func() { c.end(err) }()

	if err := s.store.ClearOwner(c.ctx, owner); err != nil {
		return errs.E("capsule.ClearLocalMemories", errs.KindStorage, err)
	}
	if err := s.sim.ClearAll(c.ctx); err != nil {
		return err
	}
	c.logger.Info("local memories cleared")
	return nil
}

// ServiceStatus probes both real backends.
func (s *Service) ServiceStatus(ctx context.Context) Status {
	c := s.begin(ctx, "status", "")
	defer c.end(nil)
	return Status{
		Content: s.content.HealthCheck(c.ctx),
		Ledger:  s.ledger.NetworkStatus(c.ctx),
	}
}
