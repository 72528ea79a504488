package security

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// KeyLabel is the fixed label under which the session-encryption key is
// derived from the platform's attestation-bound key-derivation service.
const KeyLabel = "session-encryption"

// DeriveKeyFromSeed derives a 32-byte encryption key from an
// operator-provided secret seed using SHA-256. Used when the platform
// key service is unavailable.
func DeriveKeyFromSeed(seed string) ([]byte, error) {
	if seed == "" {
		return nil, fmt.Errorf("key seed cannot be empty")
	}

	hash := sha256.Sum256([]byte(seed))
	return hash[:], nil
}

// PlatformKeyClient requests keys from the platform's attestation-bound
// key-derivation service. Inside a confidential-compute environment the
// service runs locally and only hands out keys bound to the measured
// image, so the same label yields the same key across restarts of the
// same attested workload.
type PlatformKeyClient struct {
	endpoint string
	client   *http.Client
}

// NewPlatformKeyClient creates a client for the derivation service at
// the given base endpoint.
func NewPlatformKeyClient(endpoint string) *PlatformKeyClient {
	return &PlatformKeyClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type deriveRequest struct {
	Label string `json:"label"`
}

type deriveResponse struct {
	Key string `json:"key"`
}

// DeriveKey requests a 32-byte key for the given label.
func (c *PlatformKeyClient) DeriveKey(ctx context.Context, label string) ([]byte, error) {
	body, err := json.Marshal(deriveRequest{Label: label})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal derive request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/derive", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build derive request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("platform key service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("platform key service returned status %d", resp.StatusCode)
	}

	var dr deriveResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode derive response: %w", err)
	}

	key, err := hex.DecodeString(dr.Key)
	if err != nil {
		return nil, fmt.Errorf("platform key is not hex encoded: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("platform key must be 32 bytes, got %d", len(key))
	}

	return key, nil
}

// LoadCipher builds the session cipher from the configured key sources.
//
// When the platform key service is available, the key is derived there
// under KeyLabel; an operator seed, if also configured, becomes the
// fallback decrypt key so bundles encrypted before the upgrade stay
// readable. When the platform service is unavailable the seed is
// mandatory and startup fails without it.
func LoadCipher(ctx context.Context, platformAvailable bool, endpoint, seed string) (*Cipher, error) {
	if !platformAvailable {
		key, err := DeriveKeyFromSeed(seed)
		if err != nil {
			return nil, fmt.Errorf("platform key unavailable and no fallback seed: %w", err)
		}
		return NewCipher(key)
	}

	key, err := NewPlatformKeyClient(endpoint).DeriveKey(ctx, KeyLabel)
	if err != nil {
		return nil, fmt.Errorf("failed to derive platform key: %w", err)
	}

	var c *Cipher
	if seed != "" {
		fallback, derr := DeriveKeyFromSeed(seed)
		if derr != nil {
			return nil, derr
		}
		c, err = NewCipherWithFallback(key, fallback)
	} else {
		c, err = NewCipher(key)
	}
	if err != nil {
		return nil, err
	}

	c.SetPlatformKey(true)
	return c, nil
}
