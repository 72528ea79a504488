package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stackpod/hutch/pkg/types"
)

// Default per-call budgets. Sampling drives a real browser and is given
// much more room than the bookkeeping calls.
const (
	callTimeout   = 10 * time.Second
	sampleTimeout = 3 * time.Minute
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message)
}

// Client wraps the Hutch HTTP API for CLI and test usage.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the daemon at addr. addr may be a bare
// host:port or a full URL.
func NewClient(addr string) *Client {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL: strings.TrimRight(addr, "/"),
		http:    &http.Client{},
	}
}

// LoadSessionResult is the answer to a load-session call.
type LoadSessionResult struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

// SessionSummary is one entry of a session listing.
type SessionSummary struct {
	ID     string `json:"id"`
	FullID string `json:"fullId"`
}

// SessionList is the answer to a sessions listing.
type SessionList struct {
	Count    int              `json:"count"`
	Sessions []SessionSummary `json:"sessions"`
}

// AuthStart is the answer to starting an auth flow.
type AuthStart struct {
	AuthSessionID string `json:"authSessionId"`
	Status        string `json:"status"`
}

// AuthPoll is one observation of an auth flow.
type AuthPoll struct {
	Status      string        `json:"status"`
	QRCodeData  []byte        `json:"qrCodeData,omitempty"`
	SessionData *types.Bundle `json:"sessionData,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// PageSampleResult is the browsing-family sampling answer.
type PageSampleResult struct {
	Success   bool             `json:"success"`
	Videos    []map[string]any `json:"videos"`
	Method    string           `json:"method"`
	SampledAt time.Time        `json:"sampled_at"`
}

// ModuleSampleResult is the signed-fetch-family sampling answer.
type ModuleSampleResult struct {
	Success    bool            `json:"success"`
	Raw        json.RawMessage `json:"raw"`
	StatusCode int             `json:"statusCode"`
}

// ModuleSampleOptions selects module and proxy for a module sample.
type ModuleSampleOptions struct {
	Count      int                  `json:"count,omitempty"`
	ModuleType string               `json:"module_type,omitempty"`
	Proxy      *types.ProxyUpstream `json:"proxy,omitempty"`
}

// ContainerInfo is the answer to a container create.
type ContainerInfo struct {
	ContainerID string `json:"containerId"`
	IP          string `json:"ip"`
	CDPURL      string `json:"cdpUrl"`
	Status      string `json:"status"`
}

// ContainerSummary is one entry of a container listing.
type ContainerSummary struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Status     string    `json:"status"`
	SessionID  string    `json:"sessionId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// ContainerList is the answer to a container listing.
type ContainerList struct {
	Total      int                `json:"total"`
	Available  int                `json:"available"`
	Assigned   int                `json:"assigned"`
	Containers []ContainerSummary `json:"containers"`
}

// Health is the daemon self-report.
type Health struct {
	Status       string          `json:"status"`
	Sessions     int             `json:"sessions"`
	AuthSessions int             `json:"authSessions"`
	Uptime       string          `json:"uptime"`
	Encryption   string          `json:"encryption"`
	Modules      map[string]bool `json:"modules"`
}

// LoadSession uploads a plaintext credential bundle.
func (c *Client) LoadSession(bundle *types.Bundle) (*LoadSessionResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out LoadSessionResult
	err := c.do(ctx, http.MethodPost, "/load-session",
		map[string]any{"sessionData": bundle}, &out)
	return &out, err
}

// LoadEncryptedSession uploads a previously exported encrypted bundle.
func (c *Client) LoadEncryptedSession(blob string) (*LoadSessionResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out LoadSessionResult
	err := c.do(ctx, http.MethodPost, "/load-session",
		map[string]any{"encryptedSession": blob}, &out)
	return &out, err
}

// ListSessions lists live credential sessions.
func (c *Client) ListSessions() (*SessionList, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out SessionList
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return &out, err
}

// StartAuth begins a QR login flow for the given session id.
func (c *Client) StartAuth(sessionID string) (*AuthStart, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out AuthStart
	err := c.do(ctx, http.MethodPost, "/auth/start/"+url.PathEscape(sessionID),
		map[string]any{}, &out)
	return &out, err
}

// PollAuth reads the current state of an auth flow.
func (c *Client) PollAuth(authSessionID string) (*AuthPoll, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out AuthPoll
	err := c.do(ctx, http.MethodGet, "/auth/poll/"+url.PathEscape(authSessionID), nil, &out)
	return &out, err
}

// SampleFeed samples the feed surface by driving the page.
func (c *Client) SampleFeed(sessionID string, count int) (*PageSampleResult, error) {
	return c.pageSample("foryoupage", sessionID, count)
}

// SampleHistory samples the watch-history surface by driving the page.
func (c *Client) SampleHistory(sessionID string, count int) (*PageSampleResult, error) {
	return c.pageSample("watchhistory", sessionID, count)
}

func (c *Client) pageSample(surface, sessionID string, count int) (*PageSampleResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	var out PageSampleResult
	err := c.do(ctx, http.MethodPost,
		"/playwright/"+surface+"/sample/"+url.PathEscape(sessionID),
		map[string]any{"count": count}, &out)
	return &out, err
}

// SampleFeedModule samples the feed through a signed in-page fetch.
func (c *Client) SampleFeedModule(sessionID string, opts ModuleSampleOptions) (*ModuleSampleResult, error) {
	return c.moduleSample("foryoupage", sessionID, opts)
}

// SampleHistoryModule samples watch history through a signed in-page
// fetch.
func (c *Client) SampleHistoryModule(sessionID string, opts ModuleSampleOptions) (*ModuleSampleResult, error) {
	return c.moduleSample("watchhistory", sessionID, opts)
}

func (c *Client) moduleSample(surface, sessionID string, opts ModuleSampleOptions) (*ModuleSampleResult, error) {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	var out ModuleSampleResult
	err := c.do(ctx, http.MethodPost,
		"/modules/"+surface+"/sample/"+url.PathEscape(sessionID), opts, &out)
	return &out, err
}

// CreateContainer provisions a container outside the warm pool.
func (c *Client) CreateContainer(proxy *types.ProxyUpstream) (*ContainerInfo, error) {
	// Creation waits for the in-container browser; give it room.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	body := map[string]any{}
	if proxy != nil {
		body["proxy"] = proxy
	}
	var out ContainerInfo
	err := c.do(ctx, http.MethodPost, "/containers/create", body, &out)
	return &out, err
}

// DestroyContainer removes a container by id.
func (c *Client) DestroyContainer(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return c.do(ctx, http.MethodDelete, "/containers/"+url.PathEscape(id), nil, nil)
}

// ListContainers lists live containers and occupancy.
func (c *Client) ListContainers() (*ContainerList, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out ContainerList
	err := c.do(ctx, http.MethodGet, "/containers", nil, &out)
	return &out, err
}

// Health fetches the daemon self-report.
func (c *Client) Health() (*Health, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	return &out, err
}

// Ready reports whether the daemon answers its readiness probe.
func (c *Client) Ready() bool {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ready", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}

// do sends one JSON request and decodes the JSON answer into out.
// Non-2xx answers become *APIError carrying the server's error string.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rd = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return &APIError{Status: resp.StatusCode, Message: apiErr.Error}
		}
		return &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
