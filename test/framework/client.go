package framework

import (
	"encoding/json"
	"fmt"

	"github.com/stackpod/hutch/pkg/client"
	"github.com/stackpod/hutch/pkg/security"
	"github.com/stackpod/hutch/pkg/types"
)

// Client wraps the hutch API client with test-friendly helpers.
type Client struct {
	*client.Client
}

// NewClient creates a test client wrapper.
func NewClient(c *client.Client) *Client {
	return &Client{Client: c}
}

// TestBundle builds a minimal valid credential bundle keyed by the given
// stable identity.
func TestBundle(secUserID string) *types.Bundle {
	return &types.Bundle{
		Cookies: []types.Cookie{
			{Name: "sessionid", Value: "test-" + secUserID, Domain: ".example.com"},
		},
		User: &types.UserIdentity{SecUserID: secUserID},
	}
}

// LoadIdentity loads a minimal bundle for the given identity and returns
// the resulting session id.
func (c *Client) LoadIdentity(secUserID string) (string, error) {
	res, err := c.Client.LoadSession(TestBundle(secUserID))
	if err != nil {
		return "", err
	}
	return res.SessionID, nil
}

// HasSession reports whether the daemon currently lists the session.
// Listings truncate display ids, so matching runs on the full id.
func (c *Client) HasSession(id string) bool {
	list, err := c.Client.ListSessions()
	if err != nil {
		return false
	}
	for _, s := range list.Sessions {
		if s.FullID == id {
			return true
		}
	}
	return false
}

// EncryptBundle produces a ciphertext blob the daemon can load, using the
// same seed derivation the daemon applies to its fallback key.
func EncryptBundle(seed string, bundle *types.Bundle) (string, error) {
	key, err := security.DeriveKeyFromSeed(seed)
	if err != nil {
		return "", fmt.Errorf("failed to derive key: %w", err)
	}
	cipher, err := security.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("failed to build cipher: %w", err)
	}

	raw, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return cipher.Encrypt(raw)
}
