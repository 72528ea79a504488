package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/stackpod/hutch/pkg/types"
)

// ErrProxyConfig means the in-container relay rejected a proxy
// configuration message.
var ErrProxyConfig = errors.New("proxy configuration failed")

// ControlClient talks to the control plane every container exposes: a
// small SOCKS5 relay with an HTTP control port. The relay starts in
// passthrough mode and accepts one configuration message that switches
// it to an authenticated upstream.
type ControlClient struct {
	port   int
	client *http.Client
}

// RelayStatus is the relay's self-reported state.
type RelayStatus struct {
	Mode     string `json:"mode"` // "passthrough" or "upstream"
	Upstream string `json:"upstream,omitempty"`
}

// NewControlClient creates a client for relay control endpoints on the
// given port.
func NewControlClient(port int) *ControlClient {
	return &ControlClient{
		port: port,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Configure posts upstream credentials to the relay's configure
// endpoint. The relay switches atomically from passthrough to the
// authenticated upstream; a non-200 answer fails with ErrProxyConfig.
func (c *ControlClient) Configure(ctx context.Context, controlURL string, upstream types.ProxyUpstream) error {
	body, err := json.Marshal(upstream)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrProxyConfig, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, controlURL+"/configure", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyConfig, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProxyConfig, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: relay returned status %d: %s", ErrProxyConfig, resp.StatusCode, bytes.TrimSpace(msg))
	}

	return nil
}

// Status fetches the relay's current mode.
func (c *ControlClient) Status(ctx context.Context, controlURL string) (*RelayStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, controlURL+"/status", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build status request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	var status RelayStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode relay status: %w", err)
	}

	return &status, nil
}

// WaitDevtools polls the browser's DevTools version endpoint until it
// answers HTTP 200, sleeping 2 s between tries. Exhausting maxTries
// fails with ErrNotReady.
func (c *ControlClient) WaitDevtools(ctx context.Context, devtoolsURL string, maxTries int) error {
	url := devtoolsURL + "/json/version"

	for i := 0; i < maxTries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
			case <-time.After(2 * time.Second):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotReady, err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			return nil
		}
	}

	return fmt.Errorf("%w: devtools did not answer after %d tries", ErrNotReady, maxTries)
}
