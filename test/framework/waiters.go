package framework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stackpod/hutch/pkg/client"
)

// Waiter provides utilities for waiting on conditions with timeouts.
type Waiter struct {
	timeout  time.Duration
	interval time.Duration
}

// NewWaiter creates a Waiter with the given timeout and polling interval.
func NewWaiter(timeout, interval time.Duration) *Waiter {
	return &Waiter{timeout: timeout, interval: interval}
}

// DefaultWaiter returns a waiter with a 30s timeout and 1s interval.
func DefaultWaiter() *Waiter {
	return NewWaiter(30*time.Second, 1*time.Second)
}

// WaitFor waits for a condition to become true.
func (w *Waiter) WaitFor(ctx context.Context, condition func() bool, description string) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for: %s (timeout: %v)", description, w.timeout)
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// WaitForReady waits for the daemon readiness endpoint to answer ok.
func (w *Waiter) WaitForReady(ctx context.Context, c *Client) error {
	return w.WaitFor(ctx, c.Ready, "daemon to become ready")
}

// WaitForSession waits for a credential session to appear in listings.
func (w *Waiter) WaitForSession(ctx context.Context, c *Client, id string) error {
	return w.WaitFor(ctx, func() bool {
		return c.HasSession(id)
	}, fmt.Sprintf("session %s to exist", id))
}

// WaitForSessionGone waits for a credential session to be swept.
func (w *Waiter) WaitForSessionGone(ctx context.Context, c *Client, id string) error {
	return w.WaitFor(ctx, func() bool {
		return !c.HasSession(id)
	}, fmt.Sprintf("session %s to be removed", id))
}

// WaitForAvailable waits for the warm pool to hold at least n containers.
func (w *Waiter) WaitForAvailable(ctx context.Context, c *Client, n int) error {
	return w.WaitFor(ctx, func() bool {
		list, err := c.ListContainers()
		if err != nil {
			return false
		}
		return list.Available >= n
	}, fmt.Sprintf("warm pool to reach %d containers", n))
}

// WaitForContainerGone waits for a container to leave the live set.
func (w *Waiter) WaitForContainerGone(ctx context.Context, c *Client, id string) error {
	return w.WaitFor(ctx, func() bool {
		list, err := c.ListContainers()
		if err != nil {
			return false
		}
		for _, ctr := range list.Containers {
			if ctr.ID == id {
				return false
			}
		}
		return true
	}, fmt.Sprintf("container %s to be destroyed", id))
}

// WaitForAuthTerminal polls an auth flow until it leaves awaiting_scan
// and returns the first terminal observation. A NotFound answer after a
// terminal poll means the record was already consumed; that counts as
// terminal too and returns the error.
func (w *Waiter) WaitForAuthTerminal(ctx context.Context, c *Client, authID string) (*client.AuthPoll, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		poll, err := c.PollAuth(authID)
		if err != nil {
			return nil, err
		}
		if poll.Status != "awaiting_scan" {
			return poll, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timeout waiting for auth %s to finish", authID)
		case <-ticker.C:
		}
	}
}

// PollUntil polls a condition until it returns true or the context is
// cancelled.
func PollUntil(ctx context.Context, interval time.Duration, condition func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}

// Retry retries an operation with exponential backoff.
func Retry(ctx context.Context, attempts int, initialDelay time.Duration, operation func() error) error {
	var err error
	delay := initialDelay

	for i := 0; i < attempts; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-time.After(delay):
				delay = delay * 2
			}
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
}

// IsAPIError reports whether err is a daemon error answer with the given
// HTTP status.
func IsAPIError(err error, status int) bool {
	var apiErr *client.APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}
