/*
Package runtime provides the container driver for Hutch browser
containers: docker lifecycle operations plus the client for the control
plane every container exposes.

The driver is deliberately thin. It knows how to create, inspect, and
force-remove containers built from one image on one network, and how to
find leftovers from a previous daemon instance. Pool policy (when to
create, when to destroy) lives in pkg/pool.

# Architecture

	┌──────────────┐   unix socket    ┌────────────────┐
	│ DockerDriver │ ───────────────► │ docker daemon  │
	└──────┬───────┘                  └───────┬────────┘
	       │                                  │ runs
	       │ HTTP                     ┌───────▼────────┐
	       │                          │ browser        │
	┌──────▼────────┐  :8080 control  │ container      │
	│ ControlClient │ ───────────────►│  supervisor    │
	│               │  :9222 devtools │  SOCKS5 relay  │
	│               │ ───────────────►│  browser + CDP │
	└───────────────┘                 └────────────────┘

Every created container carries the ManagedLabel; orphan cleanup on
startup lists by that label and destroys the survivors of a previous
instance.

# Container Lifecycle

Create runs the whole birth sequence under one timeout budget:

 1. ContainerCreate with image, network, env, resource limits, label
 2. ContainerStart
 3. exec-probe `test -f /run/hutch/browser.up` once per second until the
    in-container supervisor reports the browser service up

Any failure after step 1 force-removes the partial container before the
error is returned; a failed Create never leaks state.

Destroy is always a force-remove. Containers are single-use, so there is
no stop-then-remove grace path; removing an unknown id is a no-op.

# Readiness

Readiness is a bounded startup gate, probed twice and never again:

  - the supervisor's ready file, via exec inside the container (Create
    does not return before it appears)
  - the DevTools /json/version endpoint over HTTP, polled by WaitReady
    with 2 s sleeps up to a bounded try count

ErrNotReady from WaitReady means the browser process never opened its
CDP socket even though the supervisor came up.

# Relay Control

Each container runs a small SOCKS5 relay the browser's traffic exits
through. The relay starts in passthrough mode; ConfigureProxy posts one
upstream (host, port, credentials) to its configure endpoint and the
relay switches atomically. The browser process itself is never
reconfigured and never sees credentials. Status reports the current
mode for diagnostics.

# Usage

	driver, err := runtime.NewDockerDriver(runtime.Config{
		Image:        "hutch/browser:latest",
		Network:      "hutch",
		DevtoolsPort: 9222,
		ControlPort:  8080,
	})
	if err != nil {
		return err
	}
	defer driver.Close()

	id, err := driver.Create(ctx)
	ip, err := driver.InspectIP(ctx, id)
	err = driver.WaitReady(ctx, ip, 10)
	err = driver.ConfigureProxy(ctx, ip, upstream)
	...
	err = driver.Destroy(ctx, id)

# See Also

  - pkg/pool for assignment, warm-pool maintenance, and sweeping
  - pkg/browser for driving the browser over the DevTools socket
*/
package runtime
