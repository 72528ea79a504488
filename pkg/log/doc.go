/*
Package log provides structured logging for Hutch using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Hutch's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("pool")                    │          │
	│  │  - WithContainerID("hutch-abc123")          │          │
	│  │  - WithSessionID("74810...")                │          │
	│  │  - WithAuthSessionID("f3c9...")             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "pool",                     │          │
	│  │    "time": "2026-02-10T10:30:00Z",         │          │
	│  │    "message": "container assigned"          │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  10:30AM INF container assigned component=pool │       │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from all Hutch packages
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information (routine ticks, poll attempts)
  - Info: General informational messages (assignments, auth outcomes)
  - Warn: Warning messages (retryable failures, sweeper findings)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Context Loggers:
  - WithComponent: Add component name to all logs
  - WithContainerID: Add container ID context
  - WithSessionID: Add credential-session ID context
  - WithAuthSessionID: Add auth-session ID context

# Usage

Initializing the Logger:

	import "github.com/stackpod/hutch/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
	})

Component Loggers:

	logger := log.WithComponent("pool")
	logger.Info().
		Str("container_id", rec.ID).
		Str("session_id", sid).
		Msg("container assigned")

Flow Loggers:

	alog := log.WithAuthSessionID(authID)
	alog.Debug().Int("attempt", n).Msg("qr extraction attempt")

# Sensitive Data

Credential bundles, encryption keys, and proxy passwords are never logged at
any level. Session identifiers are logged in full internally; user-facing
surfaces truncate them. Counts, durations, container IDs, and proxy mode
names are all safe fields.

# Best Practices

Use component loggers for long-lived subsystems, flow loggers for a single
auth or sampling flow, and the package-level helpers only in main and tests.
Background loops log at debug on the happy path so production defaults stay
quiet.
*/
package log
