/*
Package pool owns the set of live browser containers: the warm pool,
per-session assignment, and the background loops that keep both honest.

Containers are single use. One moves Pooled → Assigned → Released and
is then destroyed; nothing ever re-enters the warm pool. That rule is
what prevents one user's browser state from leaking into the next
user's session, and every operation here is shaped around it.

# Lifecycle

	           assign              release            idle sweep
	 Pooled ───────────► Assigned ─────────► Released ───────────► gone
	   │                     │
	   │ shutdown            │ recycle (auth flows)
	   ▼                     ▼
	  gone                  gone

Pooled containers are never idle-expired; only explicit destroy or
shutdown removes them. Released containers are the only thing the idle
sweeper touches.

# Assignment

Assign pops a warm container, binds it to the session, and pushes the
session's computed proxy upstream to the container's relay before
returning. An empty warm pool fails ErrAtCapacity immediately;
assignment never creates containers on demand, so tail latency stays
bounded by the relay round-trip rather than a container boot. A session
that already holds an Assigned container gets the same one back, which
makes retries idempotent.

Proxy configuration failure rolls the container back into the warm pool
untouched; the container was never exposed to the session.

# Maintenance

A background loop refills the warm pool to its minimum, once
immediately at startup and then on every tick. Creations run in
parallel, capped by the pool's total-size ceiling. An atomic guard
skips ticks while a previous refill is still in flight, so a slow burst
of creations is never doubled by the next tick.

Containers that fail their readiness probe are destroyed before
registration; the registry only ever holds containers that answered
DevTools.

# Startup and Shutdown

Start first destroys every managed container left over from a previous
instance (found by label), then launches the loops. Shutdown stops the
loops and destroys every live container with bounded parallelism.

# Concurrency

One mutex guards the registry maps and the warm-pool list, and nothing
else. Container creation, proxy configuration, and destruction all run
outside it, so slow runtime calls never serialize the registry.

# See Also

  - pkg/runtime for the container driver underneath
  - pkg/proxy for how per-assignment upstreams are computed
*/
package pool
