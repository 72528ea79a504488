package framework

import (
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stackpod/hutch/pkg/client"
)

// DefaultSeed is the fallback encryption seed every test daemon runs
// with unless the options override it.
const DefaultSeed = "hutch-e2e-fallback-seed"

// DaemonOptions configures a hutch daemon under test. The zero value
// starts a daemon with an empty pool (no containers are ever created),
// which is enough for session, auth and API-surface tests.
type DaemonOptions struct {
	PoolMin int
	PoolMax int // defaults to 1; config rejects zero

	// Image overrides the browser container image. Leave empty unless the
	// test actually provisions containers.
	Image string

	// Seed overrides DefaultSeed.
	Seed string

	// Env holds extra HUTCH_* variables, highest precedence.
	Env map[string]string
}

// Daemon is one running hutch serve process plus a client bound to it.
type Daemon struct {
	Addr    string
	Client  *Client
	Process *Process
	Seed    string
}

// BinaryPath returns the daemon binary for end-to-end runs, taken from
// HUTCH_E2E_BINARY. Empty means end-to-end tests are not enabled.
func BinaryPath() string {
	return os.Getenv("HUTCH_E2E_BINARY")
}

// StartDaemon starts a hutch daemon and waits for it to accept requests.
// The test is skipped when HUTCH_E2E_BINARY is unset and fails when the
// daemon does not come up. Shutdown is registered via t.Cleanup.
func StartDaemon(t *testing.T, opts DaemonOptions) *Daemon {
	t.Helper()

	binary := BinaryPath()
	if binary == "" {
		t.Skip("HUTCH_E2E_BINARY not set; skipping end-to-end test")
	}

	if opts.PoolMax < 1 {
		opts.PoolMax = 1
	}
	seed := opts.Seed
	if seed == "" {
		seed = DefaultSeed
	}

	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	env := []string{
		"HUTCH_LISTEN_ADDR=" + addr,
		"HUTCH_FALLBACK_KEY_SEED=" + seed,
		fmt.Sprintf("HUTCH_POOL_MIN=%d", opts.PoolMin),
		fmt.Sprintf("HUTCH_POOL_MAX=%d", opts.PoolMax),
		"HUTCH_LOG_LEVEL=debug",
	}
	if opts.Image != "" {
		env = append(env, "HUTCH_CONTAINER_IMAGE="+opts.Image)
	}
	for k, v := range opts.Env {
		env = append(env, k+"="+v)
	}

	proc := NewProcess(binary)
	proc.Args = []string{"serve"}
	proc.Env = env

	if err := proc.Start(); err != nil {
		t.Fatalf("Failed to start daemon: %v", err)
	}
	t.Cleanup(func() {
		if proc.IsRunning() {
			_ = proc.Stop()
		}
	})

	if err := proc.WaitForLog("hutch is running", 30*time.Second); err != nil {
		t.Fatalf("Daemon never came up: %v\nLogs:\n%s", err, proc.Logs())
	}

	c := NewClient(client.NewClient(addr))

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := PollUntil(ctx, 200*time.Millisecond, c.Ready); err != nil {
		t.Fatalf("Daemon never became ready: %v\nLogs:\n%s", err, proc.Logs())
	}

	return &Daemon{
		Addr:    addr,
		Client:  c,
		Process: proc,
		Seed:    seed,
	}
}

// Stop shuts the daemon down gracefully.
func (d *Daemon) Stop() error {
	return d.Process.Stop()
}

// URL returns the daemon base URL with a leading path joined on.
func (d *Daemon) URL(path string) string {
	return "http://" + d.Addr + path
}

func freePort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to find free port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
