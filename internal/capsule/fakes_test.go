package capsule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/model"
	"github.com/rcliao/chronolock/internal/store"
	"github.com/rcliao/chronolock/internal/timelock"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeContent struct {
	mu        sync.Mutex
	blobs     map[string][]byte
	meta      map[string]map[string]string
	uploads   int
	uploadErr error
}

func newFakeContent() *fakeContent {
	return &fakeContent{blobs: map[string][]byte{}, meta: map[string]map[string]string{}}
}

func (f *fakeContent) Upload(ctx context.Context, payload []byte, m ipfs.Metadata) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.uploadErr != nil {
		return "", f.uploadErr
	}
	f.uploads++
	cid := fmt.Sprintf("bafkreifake%04d", f.uploads)
	f.blobs[cid] = append([]byte(nil), payload...)
	f.meta[cid] = map[string]string{
		ipfs.KeyTitle:        m.Title,
		ipfs.KeyEmotionTone:  m.EmotionTone,
		ipfs.KeyEncryptionIV: m.EncryptionIV,
		ipfs.KeyCreatedAt:    m.CreatedAt.UTC().Format(time.RFC3339),
	}
	return cid, nil
}

func (f *fakeContent) Retrieve(ctx context.Context, cid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.blobs[cid]
	if !ok {
		return nil, errs.Errorf("fake.Retrieve", errs.KindNotFound, "%s", cid)
	}
	return append([]byte(nil), b...), nil
}

func (f *fakeContent) Metadata(ctx context.Context, cid string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]string{}
	for k, v := range f.meta[cid] {
		out[k] = v
	}
	return out
}

func (f *fakeContent) HealthCheck(ctx context.Context) ipfs.Health {
	return ipfs.Health{Connected: true}
}

type fakeLedger struct {
	mu         sync.Mutex
	now        func() time.Time
	nextID     uint64
	contracts  map[uint64]*timelock.Details
	byCreator  map[string][]uint64
	balance    map[string]uint64
	balanceErr error
	createErr  error
	detailsErr error
}

func newFakeLedger(now func() time.Time) *fakeLedger {
	return &fakeLedger{
		now:       now,
		nextID:    7000,
		contracts: map[uint64]*timelock.Details{},
		byCreator: map[string][]uint64{},
		balance:   map[string]uint64{},
	}
}

func (f *fakeLedger) CreateContract(ctx context.Context, creator string, unlockAt time.Time, cid string, emotion model.Emotion, sign timelock.Signer) (uint64, error) {
	const op = "fake.CreateContract"
	if sign == nil {
		return 0, errs.Errorf(op, errs.KindUserCancelled, "no signer")
	}
	if _, err := sign([]types.Transaction{{}}); err != nil {
		if errors.Is(err, timelock.ErrDeclined) {
			return 0, errs.E(op, errs.KindUserCancelled, err)
		}
		return 0, errs.E(op, errs.KindDeployment, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	id := f.nextID
	f.contracts[id] = &timelock.Details{
		AppID:    id,
		Creator:  creator,
		UnlockAt: time.Unix(int64(timelock.UnlockTimestamp(unlockAt)), 0).UTC(),
		CID:      cid,
		Emotion:  emotion,
	}
	f.byCreator[creator] = append(f.byCreator[creator], id)
	return id, nil
}

// addForeign registers an application owner created that is not a
// time-lock contract.
func (f *fakeLedger) addForeign(creator string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.byCreator[creator] = append(f.byCreator[creator], f.nextID)
	return f.nextID
}

// addOrphan registers a contract that has no local record.
func (f *fakeLedger) addOrphan(creator string, unlockAt time.Time) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.contracts[id] = &timelock.Details{
		AppID: id, Creator: creator, UnlockAt: unlockAt, CID: "bafkreiorphan",
		Emotion: model.Emotion{Label: "Unknown", Intensity: 0.5},
	}
	f.byCreator[creator] = append(f.byCreator[creator], id)
	return id
}

func (f *fakeLedger) IsUnlocked(ctx context.Context, appID uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.contracts[appID]
	if !ok {
		return false
	}
	return model.IsUnlocked(f.now(), d.UnlockAt)
}

func (f *fakeLedger) ContractDetails(ctx context.Context, appID uint64) (*timelock.Details, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.detailsErr != nil {
		return nil, f.detailsErr
	}
	d, ok := f.contracts[appID]
	if !ok {
		return nil, errs.Errorf("fake.ContractDetails", errs.KindContractNotFound, "%d", appID)
	}
	cp := *d
	cp.Locked = !model.IsUnlocked(f.now(), d.UnlockAt)
	return &cp, nil
}

func (f *fakeLedger) ListCreatedContracts(ctx context.Context, address string) []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64{}, f.byCreator[address]...)
}

func (f *fakeLedger) CheckBalance(ctx context.Context, address string) (timelock.Balance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return timelock.Balance{}, f.balanceErr
	}
	micro := f.balance[address]
	return timelock.Balance{
		MicroAlgos:   micro,
		Algos:        float64(micro) / 1e6,
		NeedsFunding: micro < timelock.MinBalanceMicroAlgos,
	}, nil
}

func (f *fakeLedger) NetworkStatus(ctx context.Context) timelock.Status {
	return timelock.Status{Status: "connected", LastRound: 42}
}

// brokenStore fails every read of real records.
type brokenStore struct {
	*store.MemStore
}

func (b brokenStore) Records(ctx context.Context, owner string) ([]model.Memory, error) {
	return nil, errors.New("disk on fire")
}

func approve(txns []types.Transaction) ([][]byte, error) {
	out := make([][]byte, len(txns))
	for i := range out {
		out[i] = []byte{0x01}
	}
	return out, nil
}

func decline(txns []types.Transaction) ([][]byte, error) {
	return nil, fmt.Errorf("user rejected the request: %w", timelock.ErrDeclined)
}

type recordingCollector struct {
	mu         sync.Mutex
	operations map[string]int
	stages     []string
	errors     map[string]int
	counts     map[string]int64
}

func newRecordingCollector() *recordingCollector {
	return &recordingCollector{operations: map[string]int{}, errors: map[string]int{}, counts: map[string]int64{}}
}

func (r *recordingCollector) RecordOperation(ctx context.Context, operation, status string, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operations[operation+"/"+status]++
}

func (r *recordingCollector) RecordStage(ctx context.Context, operation, stage string, durationMs int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, operation+"/"+stage)
}

func (r *recordingCollector) RecordError(ctx context.Context, operation, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors[operation+"/"+kind]++
}

func (r *recordingCollector) SetMemoryCount(ctx context.Context, mode string, count int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counts[mode] = count
}
