/*
Package metrics provides Prometheus metrics, component health tracking,
and daemon readiness for Hutch.

All series are registered on the default Prometheus registry at package
init and exposed through Handler(), which the API server mounts at
/metrics. Components report liveness through a small health registry
that backs the /ready endpoint.

# Architecture

Instrumentation points sit where the work happens; the package itself
holds only the series and the health registry:

	┌───────────┐  counters/gauges   ┌──────────────┐
	│ pool      │ ─────────────────► │              │
	│ session   │ ─────────────────► │   default    │   GET /metrics
	│ twa/qr    │ ─────────────────► │   registry   │ ◄──────────────
	│ api       │ ─────────────────► │              │
	└───────────┘                    └──────────────┘

	┌───────────┐  Register/Update   ┌──────────────┐
	│ driver    │ ─────────────────► │   health     │   GET /ready
	│ pool      │ ─────────────────► │   registry   │ ◄──────────────
	│ api       │ ─────────────────► │              │
	└───────────┘                    └──────────────┘

Gauges that mirror component state (pool occupancy, live sessions) are
not pushed at every mutation; the Collector polls its sources on a short
interval and overwrites them. Counters and histograms are incremented
inline at the call sites.

# Metrics Catalog

Pool:

	hutch_pool_containers{status}              Live containers by lifecycle status
	hutch_pool_warm_minimum                    Configured minimum warm-pool size
	hutch_pool_assignments_total               Successful container assignments
	hutch_pool_assignment_failures_total{reason}
	hutch_containers_created_total
	hutch_container_create_failures_total
	hutch_containers_destroyed_total{reason}
	hutch_container_create_duration_seconds    Create request to ready browser

Sessions and auth:

	hutch_sessions_active{tier}                credential | auth
	hutch_sessions_expired_total{tier}         Removed by the sweepers
	hutch_auth_flows_total{outcome}            complete or a failure tag
	hutch_qr_extractions_total{result}         ok | extract_failed | validation_failed

Sampling:

	hutch_samples_total{kind,method,outcome}
	hutch_sample_duration_seconds{kind}

API:

	hutch_api_requests_total{route,status}     Labeled by chi route pattern
	hutch_api_request_duration_seconds{route}

Route labels come from the matched chi pattern, never the raw URL, so
cardinality stays bounded by the route table.

# Health Registry

Components register once at startup and update on state changes:

	metrics.RegisterComponent("driver", true, "connected")
	metrics.UpdateComponent("driver", false, "docker unreachable")

GetHealth() reports every component; GetReadiness() reports only the
critical set (driver, pool, api) and flips the overall status to
not_ready when any of them is down. ReadyHandler() serves that as
200/503 for load balancers and orchestrators.

# Usage

Counters and histograms are incremented where the work happens:

	metrics.AssignmentsTotal.Inc()
	metrics.SamplesTotal.WithLabelValues("feed", "playwright", "ok").Inc()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ContainerCreateDuration)

State gauges are kept fresh by the Collector:

	collector := metrics.NewCollector(pool, store)
	collector.Start()
	defer collector.Stop()

# See Also

  - pkg/pool for the assignment and lifecycle instrumentation points
  - pkg/api for the request middleware feeding the API series
*/
package metrics
