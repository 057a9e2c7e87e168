package capsule

import (
	"context"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/chronolock/internal/encryption"
	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/model"
	"github.com/rcliao/chronolock/internal/timelock"
)

func validate(req model.CreateRequest, owner string, now time.Time) error {
	const op = "capsule.CreateMemory"
	switch {
	case owner == "":
		return errs.Errorf(op, errs.KindValidation, "owner address is required")
	case strings.TrimSpace(req.Title) == "":
		return errs.Errorf(op, errs.KindValidation, "title is required")
	case model.RuneLen(req.Title) > model.MaxTitleLen:
		return errs.Errorf(op, errs.KindValidation, "title exceeds %d characters", model.MaxTitleLen)
	case model.RuneLen(req.Note) > model.MaxNoteLen:
		return errs.Errorf(op, errs.KindValidation, "note exceeds %d characters", model.MaxNoteLen)
	case len(req.Payload) == 0:
		return errs.Errorf(op, errs.KindValidation, "payload is empty")
	case !req.UnlockAt.After(now):
		return errs.Errorf(op, errs.KindValidation, "unlock time %s is not in the future", req.UnlockAt.UTC().Format(time.RFC3339))
	case math.IsNaN(req.Emotion.Intensity) || req.Emotion.Intensity < 0 || req.Emotion.Intensity > 1:
		return errs.Errorf(op, errs.KindValidation, "emotion intensity %v outside [0,1]", req.Emotion.Intensity)
	case req.DurationSeconds < 0:
		return errs.Errorf(op, errs.KindValidation, "negative duration")
	}
	return nil
}

// chooseMode decides the backend for a create. A balance below the funding
// floor is reported to the caller; an unreachable ledger falls back to the
// simulator.
func (s *Service) chooseMode(c *call, owner string, forceSimulated bool) (model.Mode, error) {
	if forceSimulated {
		return model.ModeSimulated, nil
	}
	var bal timelock.Balance
	err := c.stage("balance", func() (err error) {
		bal, err = s.ledger.CheckBalance(c.ctx, owner)
		return err
	})
	if err != nil {
		c.logger.Warn("balance check failed, using simulated mode", "error", err)
		return model.ModeSimulated, nil
	}
	if bal.NeedsFunding {
		return "", errs.Errorf("capsule.CreateMemory", errs.KindInsufficientBalance,
			"balance %s is below the %d microAlgo minimum", bal, timelock.MinBalanceMicroAlgos)
	}
	return model.ModeReal, nil
}

// CreateMemory validates req, picks a backend and stores the memory. sign is
// only used in real mode. No record is persisted unless every step succeeds.
func (s *Service) CreateMemory(ctx context.Context, req model.CreateRequest, owner string, sign timelock.Signer, forceSimulated bool) (res *CreateResult, err error) {
	c := s.begin(ctx, "create", owner)
	defer func() { c.end(err) }()

	now := s.now()
	if err := validate(req, owner, now); err != nil {
		return nil, err
	}
	req.Title = strings.TrimSpace(req.Title)

	mode, err := s.chooseMode(c, owner, forceSimulated)
	if err != nil {
		return nil, err
	}
	c.span.SetAttributes(attribute.String("chronolock.mode", string(mode)))

	if mode == model.ModeSimulated {
		var id string
		var appID uint64
		err := c.stage("simulate", func() (err error) {
			id, appID, err = s.sim.Create(c.ctx, req, owner)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.logger.Info("memory created", "id", id, "mode", mode, "contract_id", appID)
		return &CreateResult{MemoryID: id, ContractID: appID, Mode: mode}, nil
	}

	return s.createReal(c, req, owner, now, sign)
}

func (s *Service) createReal(c *call, req model.CreateRequest, owner string, now time.Time, sign timelock.Signer) (*CreateResult, error) {
	const op = "capsule.CreateMemory"

	var key encryption.Key
	var ciphertext, nonce []byte
	err := c.stage("encrypt", func() (err error) {
		if key, err = encryption.GenerateKey(); err != nil {
			return errs.E(op, errs.KindInternal, err)
		}
		ciphertext, nonce, err = encryption.Encrypt(req.Payload, key)
		return err
	})
	if err != nil {
		return nil, err
	}

	var cid string
	err = c.stage("upload", func() (err error) {
		cid, err = s.content.Upload(c.ctx, ciphertext, ipfs.Metadata{
			Title:            req.Title,
			Note:             req.Note,
			EmotionTone:      req.Emotion.Label,
			EmotionIntensity: req.Emotion.Intensity,
			CreatedAt:        now,
			EncryptionIV:     encryption.EncodeNonce(nonce),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	// Nothing is held across the signer call; it may wait on a human.
	var appID uint64
	err = c.stage("contract", func() (err error) {
		appID, err = s.ledger.CreateContract(c.ctx, owner, req.UnlockAt, cid, req.Emotion, sign)
		return err
	})
	if err != nil {
		if !errs.Expected(err) {
			c.logger.Warn("ciphertext orphaned in content store", "cid", cid)
		}
		return nil, err
	}

	m := model.Memory{
		ID:              model.RealPrefix + s.newID(),
		Owner:           owner,
		Title:           req.Title,
		Note:            req.Note,
		CreatedAt:       now,
		UnlockAt:        req.UnlockAt,
		Emotion:         req.Emotion,
		DurationSeconds: req.DurationSeconds,
		ContractID:      appID,
		ContentID:       cid,
		EncryptionKey:   encryption.ExportKey(key),
		Mode:            model.ModeReal,
	}
	m.Refresh(now)

	err = c.stage("persist", func() error {
		if err := s.store.Append(c.ctx, owner, m); err != nil {
			return errs.E(op, errs.KindStorage, err)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("contract deployed but record not persisted", "contract_id", appID, "cid", cid)
		return nil, err
	}

	c.logger.Info("memory created", "id", m.ID, "mode", m.Mode, "contract_id", appID, "cid", cid)
	return &CreateResult{MemoryID: m.ID, ContractID: appID, Mode: model.ModeReal}, nil
}
