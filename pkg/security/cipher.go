package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// ErrBadCiphertext means the input failed authenticated decryption under
// every available key.
var ErrBadCiphertext = errors.New("bad ciphertext")

const (
	nonceSize = 12 // 96-bit GCM nonce
	tagSize   = 16 // 128-bit GCM tag
)

// Cipher provides authenticated encryption of credential bundles using
// AES-256-GCM. The wire format is nonce || tag || ciphertext, hex-encoded
// for storage. A Cipher may carry a fallback key: decryption tries the
// current key first, then the fallback, so data encrypted before an
// upgrade to the platform key stays readable.
type Cipher struct {
	key         []byte // 32 bytes for AES-256
	fallbackKey []byte // optional second decrypt key
	platformKey bool
}

// NewCipher creates a cipher with the given encryption key.
// The key must be 32 bytes for AES-256-GCM.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes for AES-256, got %d", len(key))
	}

	return &Cipher{key: key}, nil
}

// NewCipherWithFallback creates a cipher that encrypts under key and
// decrypts under key first, fallback second.
func NewCipherWithFallback(key, fallback []byte) (*Cipher, error) {
	c, err := NewCipher(key)
	if err != nil {
		return nil, err
	}
	if len(fallback) != 32 {
		return nil, fmt.Errorf("fallback key must be 32 bytes for AES-256, got %d", len(fallback))
	}
	c.fallbackKey = fallback
	return c, nil
}

// SetPlatformKey marks the current key as platform-derived. Observability
// only; does not change cipher behavior.
func (c *Cipher) SetPlatformKey(platform bool) {
	c.platformKey = platform
}

// IsPlatformKey reports whether the current key came from the platform's
// attestation-bound derivation service rather than the fallback seed.
func (c *Cipher) IsPlatformKey() bool {
	return c.platformKey
}

// Encrypt encrypts plaintext using AES-256-GCM under the current key and
// returns the hex-encoded wire form nonce || tag || ciphertext. A fresh
// nonce is drawn per call; two encryptions of the same plaintext never
// produce equal output.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	if len(plaintext) == 0 {
		return "", fmt.Errorf("cannot encrypt empty data")
	}

	gcm, err := newGCM(c.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal yields ciphertext || tag; the wire format wants the tag up
	// front, between nonce and ciphertext.
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-tagSize], sealed[len(sealed)-tagSize:]

	wire := make([]byte, 0, nonceSize+tagSize+len(ct))
	wire = append(wire, nonce...)
	wire = append(wire, tag...)
	wire = append(wire, ct...)

	return hex.EncodeToString(wire), nil
}

// Decrypt decodes the hex wire form and decrypts it, trying the current
// key first and the fallback key second. Failure under every key returns
// ErrBadCiphertext.
func (c *Cipher) Decrypt(encoded string) ([]byte, error) {
	wire, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex encoded", ErrBadCiphertext)
	}
	if len(wire) < nonceSize+tagSize {
		return nil, fmt.Errorf("%w: too short", ErrBadCiphertext)
	}

	nonce := wire[:nonceSize]
	tag := wire[nonceSize : nonceSize+tagSize]
	ct := wire[nonceSize+tagSize:]

	// Reassemble into GCM's native ciphertext || tag layout.
	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := openWithKey(c.key, nonce, sealed)
	if err == nil {
		return plaintext, nil
	}

	if c.fallbackKey != nil {
		if plaintext, ferr := openWithKey(c.fallbackKey, nonce, sealed); ferr == nil {
			return plaintext, nil
		}
	}

	return nil, fmt.Errorf("%w: authentication failed", ErrBadCiphertext)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}

func openWithKey(key, nonce, sealed []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce, sealed, nil)
}
