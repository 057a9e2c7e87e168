package capsule

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/rcliao/chronolock/internal/encryption"
	"github.com/rcliao/chronolock/internal/errs"
	"github.com/rcliao/chronolock/internal/ipfs"
	"github.com/rcliao/chronolock/internal/model"
)

// findLocal returns owner's real record with id, or nil.
func (s *Service) findLocal(ctx context.Context, id, owner string) (*model.Memory, error) {
	records, err := s.store.Records(ctx, owner)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].ID == id {
			return &records[i], nil
		}
	}
	return nil, nil
}

// orphanID resolves an id from a listing's ledger-only entry to its
// application, if owner created it.
func (s *Service) orphanID(ctx context.Context, id, owner string) (uint64, bool) {
	rest, ok := strings.CutPrefix(id, model.ContractPrefix)
	if !ok {
		return 0, false
	}
	appID, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	for _, created := range s.ledger.ListCreatedContracts(ctx, owner) {
		if created == appID {
			return appID, true
		}
	}
	return 0, false
}

// RetrieveMemory returns the plaintext of id once it has unlocked.
func (s *Service) RetrieveMemory(ctx context.Context, id, owner string) (payload []byte, err error) {
	c := s.begin(ctx, "retrieve", owner)
	defer func() { c.end(err) }()
	c.span.SetAttributes(attribute.String("chronolock.memory_id", id))

	m, err := s.findLocal(c.ctx, id, owner)
	if err != nil {
		return nil, errs.E("capsule.RetrieveMemory", errs.KindStorage, err)
	}
	if m == nil {
		// Not a local real record: the simulator owns it or nobody does.
		c.span.SetAttributes(attribute.String("chronolock.mode", string(model.ModeSimulated)))
		err = c.stage("simulated", func() (err error) {
			payload, err = s.sim.Retrieve(c.ctx, id, owner)
			return err
		})
		if errs.KindOf(err) == errs.KindNotFound {
			if _, ok := s.orphanID(c.ctx, id, owner); ok {
				return nil, errs.Errorf("capsule.RetrieveMemory", errs.KindNotFound,
					"memory %s has no local key; it cannot be decrypted", id)
			}
		}
		return payload, err
	}
	c.span.SetAttributes(attribute.String("chronolock.mode", string(m.Mode)))
	return s.retrieveReal(c, m)
}

func (s *Service) retrieveReal(c *call, m *model.Memory) ([]byte, error) {
	const op = "capsule.RetrieveMemory"
	if len(m.EncryptionKey) == 0 {
		return nil, errs.Errorf(op, errs.KindNotFound, "memory %s has no encryption key", m.ID)
	}
	if m.ContentID == "" {
		return nil, errs.Errorf(op, errs.KindNotFound, "memory %s has no content id", m.ID)
	}
	key, err := encryption.ImportKey(m.EncryptionKey)
	if err != nil {
		return nil, errs.E(op, errs.KindCorruptedPayload, err)
	}

	if !model.IsUnlocked(s.now(), m.UnlockAt) {
		err = c.stage("unlock_check", func() error {
			if s.ledger.IsUnlocked(c.ctx, m.ContractID) {
				return nil
			}
			return errs.Errorf(op, errs.KindStillLocked, "memory %s unlocks at %s",
				m.ID, m.UnlockAt.UTC().Format(time.RFC3339))
		})
		if err != nil {
			return nil, err
		}
	}

	var ciphertext []byte
	err = c.stage("download", func() (err error) {
		ciphertext, err = s.content.Retrieve(c.ctx, m.ContentID)
		return err
	})
	if err != nil {
		return nil, err
	}

	var nonce []byte
	err = c.stage("metadata", func() error {
		md := s.content.Metadata(c.ctx, m.ContentID)
		iv, ok := md[ipfs.KeyEncryptionIV]
		if !ok || iv == "" {
			return errs.Errorf(op, errs.KindMissingNonce, "no encryption nonce recorded for %s", m.ContentID)
		}
		var err error
		if nonce, err = encryption.DecodeNonce(iv); err != nil {
			return errs.E(op, errs.KindMissingNonce, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var plaintext []byte
	err = c.stage("decrypt", func() (err error) {
		plaintext, err = encryption.Decrypt(ciphertext, key, nonce)
		return err
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("memory retrieved", "id", m.ID, "bytes", len(plaintext))
	return plaintext, nil
}
