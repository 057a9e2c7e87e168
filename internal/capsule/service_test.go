package capsule

import (
	"bytes"
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/model"
	"github.com/rcliao/chronolock/internal/simulator"
	"github.com/rcliao/chronolock/internal/store"
)

const owner = "OWNERADDRESS"

type harness struct {
	svc     *Service
	clock   *clock
	content *fakeContent
	ledger  *fakeLedger
	store   store.Store
	metrics *recordingCollector
	spans   *tracetest.SpanRecorder
}

func newHarness(t *testing.T, st store.Store) *harness {
	t.Helper()
	if st == nil {
		st = store.NewMemStore()
	}
	c := &clock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	content := newFakeContent()
	ledger := newFakeLedger(c.Now)
	ledger.balance[owner] = 5_000_000
	rec := newRecordingCollector()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	seq := 0
	svc := New(Deps{
		Content:   content,
		Ledger:    ledger,
		Simulator: simulator.New(st, simulator.WithClock(c.Now)),
		Store:     st,
	},
		WithClock(c.Now),
		WithMetrics(rec),
		WithTracer(tp.Tracer("test")),
		WithIDSource(func() string { seq++; return fmt.Sprintf("%04d", seq) }),
	)
	return &harness{svc: svc, clock: c, content: content, ledger: ledger, store: st, metrics: rec, spans: spans}
}

func (h *harness) request(title string, in time.Duration, payload []byte) model.CreateRequest {
	return model.CreateRequest{
		Title:           title,
		Note:            "for later",
		UnlockAt:        h.clock.Now().Add(in),
		Payload:         payload,
		Emotion:         model.Emotion{Label: "Hopeful", Intensity: 0.8},
		DurationSeconds: 30,
	}
}

func TestCreateMemory_Validation(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*model.CreateRequest)
		owner  string
	}{
		{"empty title", func(r *model.CreateRequest) { r.Title = "   " }, owner},
		{"long title", func(r *model.CreateRequest) { r.Title = strings.Repeat("é", 101) }, owner},
		{"long note", func(r *model.CreateRequest) { r.Note = strings.Repeat("n", 501) }, owner},
		{"empty payload", func(r *model.CreateRequest) { r.Payload = nil }, owner},
		{"unlock now", func(r *model.CreateRequest) { r.UnlockAt = h.clock.Now() }, owner},
		{"unlock past", func(r *model.CreateRequest) { r.UnlockAt = h.clock.Now().Add(-time.Hour) }, owner},
		{"intensity", func(r *model.CreateRequest) { r.Emotion.Intensity = 1.5 }, owner},
		{"duration", func(r *model.CreateRequest) { r.DurationSeconds = -1 }, owner},
		{"owner", func(r *model.CreateRequest) {}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := h.request("Valid", time.Hour, []byte("x"))
			tt.mutate(&req)
			for _, force := range []bool{false, true} {
				_, err := h.svc.CreateMemory(ctx, req, tt.owner, approve, force)
				assert.True(t, errors.Is(err, errs.ErrValidation), "got %v", err)
			}
		})
	}

	assert.Zero(t, h.content.uploads)
	records, _ := h.store.Records(ctx, owner)
	assert.Empty(t, records)
	sim, _ := h.store.Simulated(ctx)
	assert.Empty(t, sim)
}

func TestCreateMemory_TitleAtLimits(t *testing.T) {
	h := newHarness(t, nil)
	req := h.request(strings.Repeat("é", 100), time.Hour, []byte("x"))
	req.Note = strings.Repeat("n", 500)
	_, err := h.svc.CreateMemory(context.Background(), req, owner, approve, false)
	require.NoError(t, err)
}

func TestCreateMemory_InsufficientBalance(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.ledger.balance[owner] = 300_000 // 0.3 ALGO

	bal, err := h.svc.CheckBalance(ctx, owner)
	require.NoError(t, err)
	assert.True(t, bal.NeedsFunding)

	_, err = h.svc.CreateMemory(ctx, h.request("Broke", time.Hour, []byte("x")), owner, approve, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrInsufficientBalance))
	assert.False(t, errs.Retryable(err))
	assert.Zero(t, h.content.uploads)

	// The caller can retry in simulated mode.
	res, err := h.svc.CreateMemory(ctx, h.request("Broke", time.Hour, []byte("x")), owner, approve, true)
	require.NoError(t, err)
	assert.Equal(t, model.ModeSimulated, res.Mode)
}

func TestCreateMemory_UnreachableLedgerUsesSimulator(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.balanceErr = errs.Errorf("timelock.CheckBalance", errs.KindNetwork, "connection refused")

	res, err := h.svc.CreateMemory(context.Background(), h.request("Offline", time.Hour, []byte("x")), owner, approve, false)
	require.NoError(t, err)
	assert.Equal(t, model.ModeSimulated, res.Mode)
	assert.True(t, strings.HasPrefix(res.MemoryID, model.SimulatedPrefix))
	assert.Zero(t, h.content.uploads)
}

func TestRealRoundTrip(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	payload := make([]byte, 4096)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res, err := h.svc.CreateMemory(ctx, h.request("  Letter  ", time.Hour, payload), owner, approve, false)
	require.NoError(t, err)
	assert.Equal(t, model.ModeReal, res.Mode)
	assert.Equal(t, "memory_0001", res.MemoryID)
	assert.NotZero(t, res.ContractID)

	// Only ciphertext leaves the process; the nonce rides in metadata.
	require.Len(t, h.content.blobs, 1)
	for cid, blob := range h.content.blobs {
		assert.False(t, bytes.Contains(blob, payload[:64]))
		assert.NotEmpty(t, h.content.meta[cid][ipfs.KeyEncryptionIV])
		assert.Equal(t, "Letter", h.content.meta[cid][ipfs.KeyTitle])
	}

	records, err := h.store.Records(ctx, owner)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].EncryptionKey, 32)
	assert.Equal(t, res.ContractID, records[0].ContractID)

	_, err = h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	assert.True(t, errors.Is(err, errs.ErrStillLocked), "got %v", err)
	assert.True(t, errs.Expected(err))

	h.clock.Advance(time.Hour)
	got, err := h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRetrieve_LedgerIsAuthoritative(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.CreateMemory(ctx, h.request("Early", time.Hour, []byte("secret")), owner, approve, false)
	require.NoError(t, err)

	// Local clock says locked, the ledger has passed the unlock time.
	h.ledger.now = func() time.Time { return h.clock.Now().Add(2 * time.Hour) }
	got, err := h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
}

func TestRetrieve_MissingNonce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.CreateMemory(ctx, h.request("No IV", time.Second, []byte("secret")), owner, approve, false)
	require.NoError(t, err)
	for cid := range h.content.meta {
		delete(h.content.meta[cid], ipfs.KeyEncryptionIV)
	}
	h.clock.Advance(time.Second)

	_, err = h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	assert.True(t, errors.Is(err, errs.ErrMissingNonce), "got %v", err)
	assert.False(t, errs.Retryable(err))
}

func TestRetrieve_TamperedCiphertext(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.CreateMemory(ctx, h.request("Tamper", time.Second, []byte("secret")), owner, approve, false)
	require.NoError(t, err)
	for cid := range h.content.blobs {
		h.content.blobs[cid][0] ^= 0x01
	}
	h.clock.Advance(time.Second)

	got, err := h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	assert.Nil(t, got)
	assert.True(t, errors.Is(err, errs.ErrAuthentication), "got %v", err)
}

func TestRetrieve_NotFound(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.RetrieveMemory(ctx, "memory_nope", owner)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	// A listed ledger orphan has no key.
	appID := h.ledger.addOrphan(owner, h.clock.Now().Add(-time.Hour))
	_, err = h.svc.RetrieveMemory(ctx, fmt.Sprintf("contract_%d", appID), owner)
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	// A record without its key is unrecoverable.
	m := model.Memory{ID: "memory_keyless", Title: "k", UnlockAt: h.clock.Now(), ContractID: 1, ContentID: "bafkreix"}
	require.NoError(t, h.store.Append(ctx, owner, m))
	_, err = h.svc.RetrieveMemory(ctx, "memory_keyless", owner)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestCreate_ContractFailureLeavesNoRecord(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.CreateMemory(ctx, h.request("Nope", time.Hour, []byte("x")), owner, decline, false)
	assert.True(t, errors.Is(err, errs.ErrUserCancelled), "got %v", err)
	assert.False(t, errors.Is(err, errs.ErrDeployment))

	h.ledger.createErr = errs.Errorf("fake", errs.KindDeployment, "rejected by node")
	_, err = h.svc.CreateMemory(ctx, h.request("Nope", time.Hour, []byte("x")), owner, approve, false)
	assert.True(t, errors.Is(err, errs.ErrDeployment))

	h.content.uploadErr = errs.Errorf("fake", errs.KindTimeout, "upload timed out")
	_, err = h.svc.CreateMemory(ctx, h.request("Nope", time.Hour, []byte("x")), owner, approve, false)
	assert.True(t, errors.Is(err, errs.ErrTimeout))

	records, _ := h.store.Records(ctx, owner)
	assert.Empty(t, records)
	list, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFallbackEquivalence(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	req := h.request("Same", time.Hour, []byte("identical input"))

	realRes, err := h.svc.CreateMemory(ctx, req, owner, approve, false)
	require.NoError(t, err)
	simRes, err := h.svc.CreateMemory(ctx, req, owner, approve, true)
	require.NoError(t, err)

	list, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 2)

	byID := map[string]model.Memory{}
	for _, m := range list {
		byID[m.ID] = m
	}
	realMem, simMem := byID[realRes.MemoryID], byID[simRes.MemoryID]
	assert.Equal(t, model.ModeReal, realMem.Mode)
	assert.Equal(t, model.ModeSimulated, simMem.Mode)
	assert.NotEmpty(t, realMem.ContentID)
	assert.Empty(t, simMem.ContentID)

	normalize := func(m model.Memory) model.Memory {
		m.ID, m.Mode, m.ContractID, m.ContentID = "", "", 0, ""
		return m
	}
	assert.Equal(t, normalize(realMem), normalize(simMem))
}

func TestGetUserMemories_MergedAndIdempotent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.CreateMemory(ctx, h.request("Real", time.Hour, []byte("r")), owner, approve, false)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	_, err = h.svc.CreateMemory(ctx, h.request("Sim", time.Hour, []byte("s")), owner, approve, true)
	require.NoError(t, err)
	orphan := h.ledger.addOrphan(owner, h.clock.Now().Add(-time.Minute))

	// Other owners stay out.
	_, err = h.svc.CreateMemory(ctx, h.request("Other", time.Hour, []byte("o")), "SOMEONEELSE", approve, true)
	require.NoError(t, err)

	first, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "Sim", first[0].Title)
	assert.Equal(t, "Real", first[1].Title)
	assert.Equal(t, fmt.Sprintf("Memory #%d", orphan), first[2].Title)
	assert.Equal(t, fmt.Sprintf("contract_%d", orphan), first[2].ID)
	assert.False(t, first[2].Locked)
	assert.True(t, first[0].Locked)

	for _, m := range first {
		assert.Nil(t, m.EncryptionKey)
		assert.Nil(t, m.Payload)
	}

	second, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, int64(2), h.metrics.counts[string(model.ModeReal)])
	assert.Equal(t, int64(1), h.metrics.counts[string(model.ModeSimulated)])
}

func TestGetUserMemories_DegradesToSimulated(t *testing.T) {
	h := newHarness(t, brokenStore{store.NewMemStore()})
	ctx := context.Background()

	_, err := h.svc.CreateMemory(ctx, h.request("Sim", time.Hour, []byte("s")), owner, approve, true)
	require.NoError(t, err)

	list, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.ModeSimulated, list[0].Mode)
}

func TestGetUserMemories_SkipsUnreadableContracts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.CreateMemory(ctx, h.request("Real", time.Hour, []byte("r")), owner, approve, false)
	require.NoError(t, err)
	_, err = h.svc.CreateMemory(ctx, h.request("Sim", time.Hour, []byte("s")), owner, approve, true)
	require.NoError(t, err)
	h.ledger.addForeign(owner)
	orphan := h.ledger.addOrphan(owner, h.clock.Now().Add(time.Hour))

	list, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	titles := make([]string, 0, len(list))
	for _, m := range list {
		titles = append(titles, m.Title)
	}
	assert.ElementsMatch(t, []string{"Real", "Sim", fmt.Sprintf("Memory #%d", orphan)}, titles)

	h.ledger.detailsErr = errs.Errorf("fake", errs.KindNetwork, "node down")
	list, err = h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	titles = titles[:0]
	for _, m := range list {
		titles = append(titles, m.Title)
	}
	assert.ElementsMatch(t, []string{"Real", "Sim"}, titles)
}

func TestLockSemantics_BothBackends(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	realRes, err := h.svc.CreateMemory(ctx, h.request("R", time.Second, []byte("r")), owner, approve, false)
	require.NoError(t, err)
	simRes, err := h.svc.CreateMemory(ctx, h.request("S", time.Second, []byte("s")), owner, approve, true)
	require.NoError(t, err)

	for _, id := range []string{realRes.MemoryID, simRes.MemoryID} {
		assert.False(t, h.svc.CheckUnlockStatus(ctx, id, owner), id)
	}
	list, _ := h.svc.GetUserMemories(ctx, owner)
	for _, m := range list {
		assert.True(t, m.Locked)
	}

	// Exactly at unlockAt both report unlocked.
	h.clock.Advance(time.Second)
	for _, id := range []string{realRes.MemoryID, simRes.MemoryID} {
		assert.True(t, h.svc.CheckUnlockStatus(ctx, id, owner), id)
	}
	list, _ = h.svc.GetUserMemories(ctx, owner)
	for _, m := range list {
		assert.False(t, m.Locked)
	}

	assert.False(t, h.svc.CheckUnlockStatus(ctx, "memory_unknown", owner))
}

func TestTomorrowScenario(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	payload := make([]byte, 500)
	_, err := rand.Read(payload)
	require.NoError(t, err)

	res, err := h.svc.CreateMemory(ctx, h.request("Tomorrow", 2*time.Second, payload), owner, nil, true)
	require.NoError(t, err)
	assert.Equal(t, model.ModeSimulated, res.Mode)

	_, err = h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	assert.True(t, errors.Is(err, errs.ErrStillLocked))

	h.clock.Advance(2 * time.Second)
	got, err := h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestRingBuffer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var first string
	for i := 0; i < store.RingSize+1; i++ {
		res, err := h.svc.CreateMemory(ctx, h.request(fmt.Sprintf("m%d", i), time.Hour, []byte("x")), owner, approve, false)
		require.NoError(t, err)
		if i == 0 {
			first = res.MemoryID
		}
	}
	records, err := h.store.Records(ctx, owner)
	require.NoError(t, err)
	require.Len(t, records, store.RingSize)
	for _, m := range records {
		assert.NotEqual(t, first, m.ID)
	}
}

func TestClearLocalMemories(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.CreateMemory(ctx, h.request("R", time.Hour, []byte("r")), owner, approve, false)
	require.NoError(t, err)
	_, err = h.svc.CreateMemory(ctx, h.request("S", time.Hour, []byte("s")), owner, approve, true)
	require.NoError(t, err)

	require.NoError(t, h.svc.ClearLocalMemories(ctx, owner))

	// The contract survives on the ledger as an orphan.
	list, err := h.svc.GetUserMemories(ctx, owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, strings.HasPrefix(list[0].ID, model.ContractPrefix))
}

func TestServiceStatus(t *testing.T) {
	h := newHarness(t, nil)
	st := h.svc.ServiceStatus(context.Background())
	assert.True(t, st.Content.Connected)
	assert.Equal(t, "connected", st.Ledger.Status)
	assert.Equal(t, uint64(42), st.Ledger.LastRound)
}

func TestObservability(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	res, err := h.svc.CreateMemory(ctx, h.request("Traced", time.Hour, []byte("x")), owner, approve, false)
	require.NoError(t, err)
	_, err = h.svc.RetrieveMemory(ctx, res.MemoryID, owner)
	require.Error(t, err)
	h.content.uploadErr = errs.Errorf("fake", errs.KindNetwork, "reset")
	_, err = h.svc.CreateMemory(ctx, h.request("Fails", time.Hour, []byte("x")), owner, approve, false)
	require.Error(t, err)

	spans := h.spans.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "capsule.create", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)
	assert.Equal(t, "capsule.retrieve", spans[1].Name())
	assert.Equal(t, codes.Ok, spans[1].Status().Code, "still locked is not a fault")
	require.Len(t, spans[1].Events(), 1)
	assert.Equal(t, "unlock_check failed", spans[1].Events()[0].Name)
	assert.Contains(t, h.metrics.stages, "retrieve/unlock_check")
	assert.Equal(t, codes.Error, spans[2].Status().Code)

	assert.Equal(t, 1, h.metrics.operations["create/success"])
	assert.Equal(t, 1, h.metrics.operations["retrieve/locked"])
	assert.Equal(t, 1, h.metrics.operations["create/error"])
	assert.Equal(t, 1, h.metrics.errors["create/network"])
	assert.Contains(t, h.metrics.stages, "create/encrypt")
	assert.Contains(t, h.metrics.stages, "create/upload")
	assert.Contains(t, h.metrics.stages, "create/contract")
	assert.Contains(t, h.metrics.stages, "create/persist")
}
