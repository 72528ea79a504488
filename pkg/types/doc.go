/*
Package types defines the core data structures used throughout Hutch.

This package contains the fundamental types of the domain model: browser
containers and their lifecycle states, credential bundles, the two session
tiers (durable credential sessions and ephemeral auth sessions), proxy
upstreams, and pool statistics. These types are used by all other packages;
types itself imports nothing but the standard library.

# Container Lifecycle

A container moves through exactly one of two terminal paths:

	(create) ──> Pooled ──assign──> Assigned ──release──> Released ──sweep──> gone
	                                    │
	                                    └───recycle──────────────────────────> gone

Containers are single-use. A Released container never returns to the warm
pool and never becomes Assigned again; the idle sweeper destroys it. The
auth flow uses recycle to destroy its container immediately after bundle
capture so no browser state survives into another session. Pooled
containers are exempt from idle sweeping: only pool shrink or process
shutdown destroys them.

The invariants the pool maintains over these records:

  - Status == Assigned exactly when SessionID != ""
  - At most one container per session id
  - Every warm-pool member has Status == Pooled

# Session Tiers

CredentialSession is durable (hour-scale TTL, touched on read) and keyed by
the user's stable identity when the bundle carries one. The bundle itself is
stored encrypted; the plaintext Bundle type appears only in memory during a
request.

AuthSession is ephemeral (minute-scale TTL) and keyed by an unguessable
random id. It tracks one QR login attempt: the QR payload shown to the
user, the container performing the flow, and on completion the captured
bundle.

# Wire Shapes

Bundle, Cookie, UserIdentity, and ProxyUpstream carry JSON tags because
they cross the process boundary (API requests, encrypted storage, the
in-container control plane). Purely internal records (Container,
CredentialSession, AuthSession, PoolStats) do not; the API layer maps them
to its own response shapes.

# Thread Safety

All types in this package are plain data:
  - Read-safe: can be read concurrently from multiple goroutines
  - Write-unsafe: mutations must be synchronized by the owning component

The pool manager and session stores own all mutation; they hand out copies,
never pointers into their internal maps.

# See Also

  - pkg/pool for container lifecycle enforcement
  - pkg/session for session storage and sweeping
  - pkg/security for bundle encryption at rest
*/
package types
