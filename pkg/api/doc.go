/*
Package api implements the Hutch public HTTP API.

The api package is the single external surface of the daemon. It exposes
session loading, QR auth flows, both sampling families, direct container
management, and the health/readiness/metrics endpoints, all over JSON on
a chi router. Every handler delegates to the orchestrator through the
Service interface; no business logic lives here.

# Architecture

	┌──────────────────────── CLIENT ─────────────────────────┐
	│                                                           │
	│   HTTP/JSON (port 8090)                                   │
	└──────────────────────────┬──────────────────────────────┘
	                           │
	┌──────────────────────────▼───── API SERVER ─────────────┐
	│                                                           │
	│  ┌───────────────────────────────────────────┐          │
	│  │           Middleware Chain                 │          │
	│  │  RequestID → RealIP → request logging →    │          │
	│  │  Recoverer → prometheus instrumentation    │          │
	│  └──────────────────┬────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼────────────────────────┐          │
	│  │             Route Table                    │          │
	│  │  POST /load-session                        │          │
	│  │  GET  /sessions                            │          │
	│  │  POST /auth/start/{sessionId}              │          │
	│  │  GET  /auth/poll/{authSessionId}           │          │
	│  │  POST /playwright/{surface}/sample/{id}    │          │
	│  │  POST /modules/{surface}/sample/{id}       │          │
	│  │  POST /containers/create                   │          │
	│  │  DELETE /containers/{id}                   │          │
	│  │  GET  /containers                          │          │
	│  │  GET  /health  /ready  /metrics            │          │
	│  └──────────────────┬────────────────────────┘          │
	│                     │                                     │
	│  ┌──────────────────▼────────────────────────┐          │
	│  │          Service (orchestrator)            │          │
	│  └───────────────────────────────────────────┘          │
	└─────────────────────────────────────────────────────────┘

# Error Mapping

Errors carry sentinel values owned by the package that raised them; this
package translates them to HTTP statuses and renders

	{ "error": "<Kind>: <message>" }

Bad input (BadBundle, BadCiphertext, UnknownModule, malformed JSON) maps
to 400, lookup misses (SessionNotFound, AuthSessionNotFound,
ContainerNotFound) to 404, retired routes to 410, and everything else
(AtCapacity, ContainerCreationFailed, BrowserNotReady, ProxyConfig,
SamplingScriptFailed, Internal) to 500.

# Usage

	srv := api.NewServer(orch, ":8090")
	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("api server failed")
		}
	}()
	...
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

Request validation uses go-playground/validator tags on the request
shapes; route parameters come from chi. The prometheus middleware labels
by chi route pattern rather than raw path so session ids do not explode
metric cardinality.
*/
package api
