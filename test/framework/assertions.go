package framework

import (
	"errors"
	"strings"

	"github.com/stackpod/hutch/pkg/client"
)

// TestingT is the subset of testing.T the assertions need.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...any)
	Errorf(format string, args ...any)
	Logf(format string, args ...any)
}

// Assertions provides test assertion helpers against a running daemon.
type Assertions struct {
	t TestingT
}

// NewAssertions creates an Assertions instance.
func NewAssertions(t TestingT) *Assertions {
	return &Assertions{t: t}
}

// SessionExists asserts that a credential session is listed.
func (a *Assertions) SessionExists(id string, c *Client) {
	a.t.Helper()

	if !c.HasSession(id) {
		a.t.Fatalf("Session %s does not exist", id)
	}
}

// SessionAbsent asserts that a credential session is not listed.
func (a *Assertions) SessionAbsent(id string, c *Client) {
	a.t.Helper()

	if c.HasSession(id) {
		a.t.Fatalf("Session %s still exists", id)
	}
}

// SessionCount asserts the number of live credential sessions.
func (a *Assertions) SessionCount(expected int, c *Client) {
	a.t.Helper()

	list, err := c.ListSessions()
	if err != nil {
		a.t.Fatalf("Failed to list sessions: %v", err)
	}
	if list.Count != expected {
		a.t.Fatalf("Expected %d sessions, got %d", expected, list.Count)
	}
}

// PoolCounts asserts the pool occupancy reported by the daemon.
func (a *Assertions) PoolCounts(total, available, assigned int, c *Client) {
	a.t.Helper()

	list, err := c.ListContainers()
	if err != nil {
		a.t.Fatalf("Failed to list containers: %v", err)
	}
	if list.Total != total || list.Available != available || list.Assigned != assigned {
		a.t.Fatalf("Expected pool total=%d available=%d assigned=%d, got total=%d available=%d assigned=%d",
			total, available, assigned, list.Total, list.Available, list.Assigned)
	}
}

// HealthOK asserts that the daemon reports itself healthy.
func (a *Assertions) HealthOK(c *Client) {
	a.t.Helper()

	h, err := c.Health()
	if err != nil {
		a.t.Fatalf("Failed to fetch health: %v", err)
	}
	if h.Status != "ok" {
		a.t.Fatalf("Expected health ok, got %q", h.Status)
	}
}

// APIErrorWith asserts that err is a daemon error answer carrying the
// given HTTP status and error-kind prefix.
func (a *Assertions) APIErrorWith(err error, status int, kind string) {
	a.t.Helper()

	var apiErr *client.APIError
	if !errors.As(err, &apiErr) {
		a.t.Fatalf("Expected API error, got %v", err)
	}
	if apiErr.Status != status {
		a.t.Fatalf("Expected HTTP %d, got %d (%s)", status, apiErr.Status, apiErr.Message)
	}
	if kind != "" && !strings.HasPrefix(apiErr.Message, kind) {
		a.t.Fatalf("Expected error kind %q, got %q", kind, apiErr.Message)
	}
}
