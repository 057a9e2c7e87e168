// Package encryption seals memory payloads with AES-256-GCM.
//
// The nonce is returned separately from the ciphertext so it can travel as
// content-store metadata. A fresh random nonce is drawn on every call; keys are
// generated per memory and never leave local persistence.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/rcliao/chronolock/internal/errs"
)

const (
	// KeySize is the AES-256 key length in bytes.
	KeySize = 32
	// NonceSize is the GCM nonce length in bytes.
	NonceSize = 12
)

// Key is raw symmetric key material.
type Key [KeySize]byte

// GenerateKey returns a new random key.
func GenerateKey() (Key, error) {
	var k Key
	if _, err := rand.Read(k[:]); err != nil {
		return Key{}, errs.E("encryption.GenerateKey", errs.KindInternal, err)
	}
	return k, nil
}

// ExportKey returns the raw key bytes.
func ExportKey(k Key) []byte {
	out := make([]byte, KeySize)
	copy(out, k[:])
	return out
}

// ImportKey restores a key exported with ExportKey.
func ImportKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, errs.Errorf("encryption.ImportKey", errs.KindValidation, "key must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

func newGCM(k Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(k[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key and returns the ciphertext (tag appended)
// and the nonce used.
func Encrypt(plaintext []byte, key Key) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, errs.E("encryption.Encrypt", errs.KindInternal, err)
	}
	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, errs.E("encryption.Encrypt", errs.KindInternal, err)
	}
	return aead.Seal(nil, nonce, plaintext, nil), nonce, nil
}

// Decrypt opens ciphertext. Any tampering, or a wrong key or nonce, yields an
// authentication error and no plaintext.
func Decrypt(ciphertext []byte, key Key, nonce []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, errs.Errorf("encryption.Decrypt", errs.KindAuthentication, "nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, errs.E("encryption.Decrypt", errs.KindInternal, err)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errs.E("encryption.Decrypt", errs.KindAuthentication, err)
	}
	return plaintext, nil
}

// EncodeNonce renders a nonce for metadata.
func EncodeNonce(nonce []byte) string {
	return base64.StdEncoding.EncodeToString(nonce)
}

// DecodeNonce parses a nonce read back from metadata.
func DecodeNonce(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	return b, nil
}
