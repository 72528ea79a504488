package framework

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// Process manages one hutch daemon process with log capture and
// lifecycle control.
type Process struct {
	Binary string
	Args   []string
	Env    []string

	ctx    context.Context
	cancel context.CancelFunc
	cmd    *exec.Cmd
	logs   *LogBuffer
	mu     sync.Mutex
}

// NewProcess creates a Process for the given binary. Args and Env may be
// set before Start.
func NewProcess(binary string) *Process {
	ctx, cancel := context.WithCancel(context.Background())
	return &Process{
		Binary: binary,
		ctx:    ctx,
		cancel: cancel,
		logs:   &LogBuffer{},
	}
}

// Start starts the process and begins capturing stdout and stderr.
func (p *Process) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd != nil && p.cmd.Process != nil {
		return fmt.Errorf("process already running with PID %d", p.cmd.Process.Pid)
	}

	p.cmd = exec.CommandContext(p.ctx, p.Binary, p.Args...)
	p.cmd.Env = append(os.Environ(), p.Env...)

	stdout, err := p.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := p.cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := p.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}

	go p.captureLogs("stdout", stdout)
	go p.captureLogs("stderr", stderr)

	return nil
}

// Stop sends SIGTERM and waits for the process to exit, escalating to
// SIGKILL after ten seconds.
func (p *Process) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- p.cmd.Wait()
	}()

	select {
	case err := <-done:
		if err != nil && err.Error() != "signal: terminated" {
			return fmt.Errorf("process exited with error: %w", err)
		}
		return nil
	case <-time.After(10 * time.Second):
		return p.kill()
	}
}

// Kill forcefully kills the process with SIGKILL.
func (p *Process) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kill()
}

func (p *Process) kill() error {
	if p.cmd == nil || p.cmd.Process == nil {
		return fmt.Errorf("process not running")
	}

	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}
	_ = p.cmd.Wait()
	return nil
}

// IsRunning reports whether the process is still alive.
func (p *Process) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil || p.cmd.Process == nil {
		return false
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Logs returns everything the process has written so far.
func (p *Process) Logs() string {
	return p.logs.String()
}

// WaitForLog waits until the captured logs contain pattern.
func (p *Process) WaitForLog(pattern string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for log pattern: %s", pattern)
		case <-ticker.C:
			if p.logs.Contains(pattern) {
				return nil
			}
		}
	}
}

// Wait blocks until the process exits.
func (p *Process) Wait() error {
	p.mu.Lock()
	cmd := p.cmd
	p.mu.Unlock()

	if cmd == nil {
		return fmt.Errorf("process not started")
	}
	return cmd.Wait()
}

func (p *Process) captureLogs(source string, reader io.Reader) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		p.logs.Append(line)

		// Mirror to test output for visibility on failure.
		fmt.Printf("[%s] %s\n", source, line)
	}
}

// LogBuffer is a thread-safe line buffer with timestamps.
type LogBuffer struct {
	mu    sync.RWMutex
	lines []logLine
}

type logLine struct {
	timestamp time.Time
	content   string
}

// Append adds one line to the buffer.
func (lb *LogBuffer) Append(line string) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	lb.lines = append(lb.lines, logLine{timestamp: time.Now(), content: line})
}

// String returns all buffered lines joined with newlines.
func (lb *LogBuffer) String() string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var b strings.Builder
	for _, line := range lb.lines {
		b.WriteString(line.content)
		b.WriteString("\n")
	}
	return b.String()
}

// Since returns lines appended after the given time.
func (lb *LogBuffer) Since(since time.Time) string {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	var b strings.Builder
	for _, line := range lb.lines {
		if line.timestamp.After(since) {
			b.WriteString(line.content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// Contains reports whether any buffered line contains pattern.
func (lb *LogBuffer) Contains(pattern string) bool {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	for _, line := range lb.lines {
		if strings.Contains(line.content, pattern) {
			return true
		}
	}
	return false
}
