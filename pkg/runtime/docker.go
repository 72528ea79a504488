package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackpod/hutch/pkg/log"
	"github.com/stackpod/hutch/pkg/types"
)

const (
	// DefaultSocketPath is the default docker socket
	DefaultSocketPath = "/var/run/docker.sock"

	// ManagedLabel marks containers owned by this service. Orphan cleanup
	// on startup destroys everything carrying it.
	ManagedLabel = "dev.hutch.managed"

	// NamePrefix is prepended to generated container names.
	NamePrefix = "hutch-browser-"

	// readyFile is touched by the in-container supervisor once the
	// browser service is up and its DevTools socket is listening.
	readyFile = "/run/hutch/browser.up"
)

var (
	// ErrCreationFailed means a container could not be created and
	// started; any partial state has been destroyed.
	ErrCreationFailed = errors.New("container creation failed")

	// ErrNotReady means the container's DevTools endpoint never answered
	// within the retry budget.
	ErrNotReady = errors.New("browser not ready")
)

// Config holds the parameters every created container shares.
type Config struct {
	SocketPath    string
	Image         string
	Network       string
	Env           []string
	Limits        types.ResourceLimits
	DevtoolsPort  int
	ControlPort   int
	CreateTimeout time.Duration
}

// DockerDriver is a thin adapter over the local docker daemon exposing
// only the operations the pool needs: create, inspect, destroy, and the
// label-filtered listing used for orphan cleanup.
type DockerDriver struct {
	client  *client.Client
	cfg     Config
	control *ControlClient
	logger  zerolog.Logger
}

// NewDockerDriver connects to the docker daemon at the configured socket
// and verifies it responds.
func NewDockerDriver(cfg Config) (*DockerDriver, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = DefaultSocketPath
	}
	if cfg.CreateTimeout == 0 {
		cfg.CreateTimeout = 60 * time.Second
	}

	cli, err := client.NewClientWithOpts(
		client.WithHost("unix://"+cfg.SocketPath),
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to docker: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("docker daemon not responding: %w", err)
	}

	return &DockerDriver{
		client:  cli,
		cfg:     cfg,
		control: NewControlClient(cfg.ControlPort),
		logger:  log.WithComponent("driver"),
	}, nil
}

// Close closes the docker client connection
func (d *DockerDriver) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// Ping verifies the docker daemon is reachable.
func (d *DockerDriver) Ping(ctx context.Context) error {
	_, err := d.client.Ping(ctx)
	return err
}

// Create creates and starts one browser container. It does not return
// until the in-container supervisor reports the browser service up, or
// the create budget is exhausted. Partial state is destroyed on any
// failure.
func (d *DockerDriver) Create(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CreateTimeout)
	defer cancel()

	name := NamePrefix + uuid.New().String()[:8]

	devtoolsPort := nat.Port(fmt.Sprintf("%d/tcp", d.cfg.DevtoolsPort))
	controlPort := nat.Port(fmt.Sprintf("%d/tcp", d.cfg.ControlPort))

	config := &container.Config{
		Image: d.cfg.Image,
		Env:   d.cfg.Env,
		Labels: map[string]string{
			ManagedLabel: "true",
		},
		ExposedPorts: nat.PortSet{
			devtoolsPort: {},
			controlPort:  {},
		},
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Memory:   d.cfg.Limits.MemoryBytes,
			NanoCPUs: int64(d.cfg.Limits.CPUs * 1e9),
		},
	}

	networkingConfig := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			d.cfg.Network: {},
		},
	}

	resp, err := d.client.ContainerCreate(ctx, config, hostConfig, networkingConfig, nil, name)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		d.removeForce(resp.ID)
		return "", fmt.Errorf("%w: start: %v", ErrCreationFailed, err)
	}

	if err := d.waitSupervisor(ctx, resp.ID); err != nil {
		d.removeForce(resp.ID)
		return "", fmt.Errorf("%w: %v", ErrCreationFailed, err)
	}

	d.logger.Debug().Str("container_id", resp.ID[:12]).Str("name", name).Msg("container created")
	return resp.ID, nil
}

// waitSupervisor polls for the supervisor's ready file via exec until it
// exists or the context expires.
func (d *DockerDriver) waitSupervisor(ctx context.Context, containerID string) error {
	for {
		ok, err := d.execCheck(ctx, containerID, []string{"test", "-f", readyFile})
		if err == nil && ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("supervisor never reported browser up: %w", ctx.Err())
		case <-time.After(1 * time.Second):
		}
	}
}

// execCheck runs a command inside the container and reports whether it
// exited zero.
func (d *DockerDriver) execCheck(ctx context.Context, containerID string, cmd []string) (bool, error) {
	exec, err := d.client.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return false, fmt.Errorf("failed to create exec: %w", err)
	}

	if err := d.client.ContainerExecStart(ctx, exec.ID, container.ExecStartOptions{}); err != nil {
		return false, fmt.Errorf("failed to start exec: %w", err)
	}

	// Exec completion is observed through inspect; these probe commands
	// finish in milliseconds.
	for {
		inspect, err := d.client.ContainerExecInspect(ctx, exec.ID)
		if err != nil {
			return false, fmt.Errorf("failed to inspect exec: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode == 0, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// InspectIP returns the container's address on the configured network.
func (d *DockerDriver) InspectIP(ctx context.Context, containerID string) (string, error) {
	inspect, err := d.client.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", containerID, err)
	}

	endpoint, ok := inspect.NetworkSettings.Networks[d.cfg.Network]
	if !ok || endpoint.IPAddress == "" {
		return "", fmt.Errorf("container %s has no address on network %s", containerID, d.cfg.Network)
	}

	return endpoint.IPAddress, nil
}

// DevtoolsURL builds the DevTools endpoint for a container address.
func (d *DockerDriver) DevtoolsURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, d.cfg.DevtoolsPort)
}

// ControlURL builds the relay control endpoint for a container address.
func (d *DockerDriver) ControlURL(ip string) string {
	return fmt.Sprintf("http://%s:%d", ip, d.cfg.ControlPort)
}

// WaitReady polls the container's DevTools version endpoint until it
// answers HTTP 200 or the retry budget is exhausted.
func (d *DockerDriver) WaitReady(ctx context.Context, ip string, maxTries int) error {
	return d.control.WaitDevtools(ctx, d.DevtoolsURL(ip), maxTries)
}

// ConfigureProxy posts upstream proxy credentials to the container's
// relay control endpoint.
func (d *DockerDriver) ConfigureProxy(ctx context.Context, ip string, upstream types.ProxyUpstream) error {
	return d.control.Configure(ctx, d.ControlURL(ip), upstream)
}

// Destroy force-removes a container. Removing an unknown container is a
// no-op.
func (d *DockerDriver) Destroy(ctx context.Context, containerID string) error {
	err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove container %s: %w", containerID, err)
	}

	d.logger.Debug().Str("container_id", shortID(containerID)).Msg("container destroyed")
	return nil
}

// ListOrphans returns the ids of all managed containers, running or not.
// Called on startup, every survivor belongs to a previous instance.
func (d *DockerDriver) ListOrphans(ctx context.Context) ([]string, error) {
	list, err := d.client.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", ManagedLabel+"=true")),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(list))
	for _, c := range list {
		ids = append(ids, c.ID)
	}

	return ids, nil
}

// removeForce is Destroy without error propagation, for unwinding
// partially created containers.
func (d *DockerDriver) removeForce(containerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		d.logger.Warn().Err(err).Str("container_id", shortID(containerID)).Msg("failed to remove partial container")
	}
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
