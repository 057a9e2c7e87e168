// Package timelock deploys and queries the time-lock application that acts as
// a trustless unlock oracle for memories.
//
// The client never holds private keys: transactions are handed to a
// caller-supplied Signer. Reads of unlock status are fail-closed.
package timelock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/algorand/go-algorand-sdk/v2/transaction"
	"github.com/algorand/go-algorand-sdk/v2/types"

	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/model"
)

const (
	// MinBalanceMicroAlgos is the funding floor below which an account is
	// reported as needing funds (1 ALGO).
	MinBalanceMicroAlgos = 1_000_000
	microAlgosPerAlgo    = 1_000_000

	// DefaultWaitRounds bounds confirmation waiting after submission.
	DefaultWaitRounds = 4

	DefaultReadTimeout    = 30 * time.Second
	DefaultConfirmTimeout = 60 * time.Second

	intensityScale = 1000
	defaultTone    = "Unknown"
	defaultScaled  = 500
)

// ErrDeclined is returned by a Signer when the user refuses to sign. Only
// this error is reported as a user cancellation.
var ErrDeclined = errors.New("signature declined")

// Signer signs the given transactions and returns their encoded signed
// forms. It is invoked synchronously and may block on a human; returning an
// error means the signature was refused.
type Signer func(txns []types.Transaction) ([][]byte, error)

// ValueType distinguishes global state value kinds.
type ValueType uint64

const (
	ValueBytes ValueType = 1
	ValueUint  ValueType = 2
)

// Value is one decoded global state entry.
type Value struct {
	Type  ValueType
	Uint  uint64
	Bytes []byte
}

// Application is the decoded public state of a deployed application.
type Application struct {
	ID      uint64
	Creator string
	Global  map[string]Value
}

// Node is the subset of the ledger node API the client depends on.
type Node interface {
	SuggestedParams(ctx context.Context) (types.SuggestedParams, error)
	Compile(ctx context.Context, source string) ([]byte, error)
	SendRawTransaction(ctx context.Context, signed []byte) (string, error)
	WaitForApplication(ctx context.Context, txID string, rounds uint64) (uint64, error)
	Application(ctx context.Context, appID uint64) (*Application, error)
	AccountBalance(ctx context.Context, address string) (uint64, error)
	LastRound(ctx context.Context) (uint64, error)
	LatestTimestamp(ctx context.Context) (time.Time, error)
}

// Indexer lists applications created by an account.
type Indexer interface {
	CreatedApplications(ctx context.Context, address string) ([]uint64, error)
}

// Details is the public record of one time-lock contract.
type Details struct {
	AppID    uint64        `json:"app_id"`
	Creator  string        `json:"creator"`
	UnlockAt time.Time     `json:"unlock_at"`
	CID      string        `json:"cid"`
	Emotion  model.Emotion `json:"emotion"`
	Locked   bool          `json:"locked"`
}

// Balance reports an account's funds.
type Balance struct {
	MicroAlgos   uint64  `json:"micro_algos"`
	Algos        float64 `json:"algos"`
	NeedsFunding bool    `json:"needs_funding"`
}

// Status is the node connectivity summary.
type Status struct {
	Status    string `json:"status"`
	LastRound uint64 `json:"last_round"`
}

// Client deploys and reads time-lock contracts.
type Client struct {
	node           Node
	indexer        Indexer
	waitRounds     uint64
	readTimeout    time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithReadTimeout bounds each node or indexer call.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.readTimeout = d
		}
	}
}

// WithConfirmTimeout bounds waiting for a submitted deployment to confirm.
func WithConfirmTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// NewClient creates a Client over a node and an indexer.
func NewClient(node Node, indexer Indexer, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		node:           node,
		indexer:        indexer,
		waitRounds:     DefaultWaitRounds,
		readTimeout:    DefaultReadTimeout,
		confirmTimeout: DefaultConfirmTimeout,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) read(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.readTimeout)
}

func uint64Arg(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func truncateBytes(s string, n int) []byte {
	b := []byte(s)
	if len(b) > n {
		b = b[:n]
	}
	return b
}

// UnlockTimestamp converts unlockAt to ledger seconds, rounding up so the
// ledger never opens before the local instant.
func UnlockTimestamp(unlockAt time.Time) uint64 {
	ts := unlockAt.Unix()
	if unlockAt.Nanosecond() > 0 {
		ts++
	}
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

// ScaleIntensity converts an intensity in [0,1] to the 3-digit fixed point
// stored on the ledger.
func ScaleIntensity(intensity float64) uint64 {
	if intensity <= 0 || math.IsNaN(intensity) {
		return 0
	}
	return uint64(math.Floor(intensity * intensityScale))
}

func isInsufficientFunds(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "overspend") ||
		strings.Contains(msg, "insufficient funds") ||
		strings.Contains(msg, "below min")
}

// CreateContract deploys a time-lock application and returns its id.
func (c *Client) CreateContract(ctx context.Context, creator string, unlockAt time.Time, cid string, emotion model.Emotion, sign Signer) (uint64, error) {
	const op = "timelock.CreateContract"
	if sign == nil {
		return 0, errs.Errorf(op, errs.KindUserCancelled, "no signer available")
	}

	sender, err := types.DecodeAddress(creator)
	if err != nil {
		return 0, errs.Errorf(op, errs.KindValidation, "creator address: %v", err)
	}

	params, approval, clearProg, err := c.prepare(ctx)
	if err != nil {
		return 0, errs.E(op, errs.KindDeployment, err)
	}

	args := [][]byte{
		uint64Arg(UnlockTimestamp(unlockAt)),
		truncateBytes(cid, MaxCIDBytes),
		truncateBytes(emotion.Label, MaxToneBytes),
		uint64Arg(ScaleIntensity(emotion.Intensity)),
	}

	txn, err := transaction.MakeApplicationCreateTx(
		false, approval, clearProg, globalSchema, localSchema,
		args, nil, nil, nil,
		params, sender, nil, types.Digest{}, [32]byte{}, types.Address{},
	)
	if err != nil {
		return 0, errs.Errorf(op, errs.KindDeployment, "build transaction: %v", err)
	}

	signed, err := sign([]types.Transaction{txn})
	if errors.Is(err, ErrDeclined) {
		return 0, errs.E(op, errs.KindUserCancelled, err)
	}
	if err != nil {
		return 0, errs.Errorf(op, errs.KindDeployment, "sign: %v", err)
	}
	if len(signed) == 0 || len(signed[0]) == 0 {
		return 0, errs.Errorf(op, errs.KindDeployment, "signer returned no transactions")
	}

	sendCtx, cancel := c.read(ctx)
	txID, err := c.node.SendRawTransaction(sendCtx, signed[0])
	cancel()
	if err != nil {
		if isInsufficientFunds(err) {
			return 0, errs.E(op, errs.KindInsufficientFunds, err)
		}
		return 0, errs.Errorf(op, errs.KindDeployment, "submit: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	appID, err := c.node.WaitForApplication(waitCtx, txID, c.waitRounds)
	cancel()
	if err != nil {
		return 0, errs.Errorf(op, errs.KindDeployment, "confirm %s: %v", txID, err)
	}
	if appID == 0 {
		return 0, errs.Errorf(op, errs.KindDeployment, "transaction %s confirmed without an application index", txID)
	}

	c.logger.Info("time-lock contract deployed", "app_id", appID, "tx_id", txID, "unlock_at", unlockAt.UTC())
	return appID, nil
}

// prepare fetches transaction parameters and compiles both programs.
func (c *Client) prepare(ctx context.Context) (types.SuggestedParams, []byte, []byte, error) {
	ctx, cancel := c.read(ctx)
	defer cancel()

	params, err := c.node.SuggestedParams(ctx)
	if err != nil {
		return params, nil, nil, fmt.Errorf("suggested params: %w", err)
	}
	approval, err := c.node.Compile(ctx, approvalSource)
	if err != nil {
		return params, nil, nil, fmt.Errorf("compile approval program: %w", err)
	}
	clearProg, err := c.node.Compile(ctx, clearSource)
	if err != nil {
		return params, nil, nil, fmt.Errorf("compile clear program: %w", err)
	}
	return params, approval, clearProg, nil
}

// IsUnlocked reports whether the ledger's latest timestamp has reached the
// contract's unlock_timestamp. Any read error or missing state yields false.
func (c *Client) IsUnlocked(ctx context.Context, appID uint64) bool {
	ctx, cancel := c.read(ctx)
	defer cancel()

	app, err := c.node.Application(ctx, appID)
	if err != nil {
		c.logger.Warn("unlock check: read application failed", "app_id", appID, "error", err)
		return false
	}
	v, ok := app.Global[KeyUnlockTimestamp]
	if !ok || v.Type != ValueUint {
		c.logger.Warn("unlock check: unlock_timestamp missing", "app_id", appID)
		return false
	}
	now, err := c.node.LatestTimestamp(ctx)
	if err != nil {
		c.logger.Warn("unlock check: read ledger time failed", "app_id", appID, "error", err)
		return false
	}
	return now.Unix() >= 0 && uint64(now.Unix()) >= v.Uint
}

// ContractDetails reads the public state of appID.
func (c *Client) ContractDetails(ctx context.Context, appID uint64) (*Details, error) {
	const op = "timelock.ContractDetails"
	ctx, cancel := c.read(ctx)
	defer cancel()

	app, err := c.node.Application(ctx, appID)
	if err != nil {
		return nil, errs.Errorf(op, errs.KindContractNotFound, "application %d: %v", appID, err)
	}
	if len(app.Global) == 0 {
		return nil, errs.Errorf(op, errs.KindContractNotFound, "application %d has no global state", appID)
	}

	d := &Details{
		AppID:   appID,
		Creator: app.Creator,
		CID:     string(app.Global[KeyIPFSCID].Bytes),
		Emotion: model.Emotion{Label: defaultTone, Intensity: defaultScaled / float64(intensityScale)},
	}
	unlock := app.Global[KeyUnlockTimestamp].Uint
	d.UnlockAt = time.Unix(int64(unlock), 0).UTC()
	if v, ok := app.Global[KeyEmotionTone]; ok && v.Type == ValueBytes {
		d.Emotion.Label = string(v.Bytes)
	}
	if v, ok := app.Global[KeyEmotionIntensity]; ok && v.Type == ValueUint {
		d.Emotion.Intensity = float64(v.Uint) / intensityScale
	}

	d.Locked = true
	if now, err := c.node.LatestTimestamp(ctx); err == nil {
		d.Locked = !model.IsUnlocked(now, d.UnlockAt)
	}
	return d, nil
}

// ListCreatedContracts returns application ids created by address. Indexer
// failures yield an empty list.
func (c *Client) ListCreatedContracts(ctx context.Context, address string) []uint64 {
	if c.indexer == nil {
		return []uint64{}
	}
	ctx, cancel := c.read(ctx)
	defer cancel()

	ids, err := c.indexer.CreatedApplications(ctx, address)
	if err != nil {
		c.logger.Warn("list created contracts failed", "address", address, "error", err)
		return []uint64{}
	}
	if ids == nil {
		return []uint64{}
	}
	return ids
}

// CheckBalance reports address's balance and whether it is under the
// funding floor. Read failures are returned as network errors.
func (c *Client) CheckBalance(ctx context.Context, address string) (Balance, error) {
	ctx, cancel := c.read(ctx)
	defer cancel()

	micro, err := c.node.AccountBalance(ctx, address)
	if err != nil {
		var e *errs.Error
		if errors.As(err, &e) {
			return Balance{}, err
		}
		return Balance{}, errs.Classify("timelock.CheckBalance", err)
	}
	return Balance{
		MicroAlgos:   micro,
		Algos:        float64(micro) / microAlgosPerAlgo,
		NeedsFunding: micro < MinBalanceMicroAlgos,
	}, nil
}

// NetworkStatus probes the node. It never fails.
func (c *Client) NetworkStatus(ctx context.Context) Status {
	ctx, cancel := c.read(ctx)
	defer cancel()

	round, err := c.node.LastRound(ctx)
	if err != nil {
		c.logger.Warn("network status failed", "error", err)
		return Status{Status: "disconnected"}
	}
	return Status{Status: "connected", LastRound: round}
}

// String renders a Balance for humans.
func (b Balance) String() string {
	return fmt.Sprintf("%.6f ALGO", b.Algos)
}
