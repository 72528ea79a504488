package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pool metrics
	PoolContainers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_pool_containers",
			Help: "Live containers by lifecycle status",
		},
		[]string{"status"},
	)

	PoolWarmMinimum = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "hutch_pool_warm_minimum",
			Help: "Configured minimum warm-pool size",
		},
	)

	AssignmentsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_pool_assignments_total",
			Help: "Total successful container assignments",
		},
	)

	AssignmentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_pool_assignment_failures_total",
			Help: "Failed assignments by reason",
		},
		[]string{"reason"},
	)

	ContainersCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_containers_created_total",
			Help: "Total containers created",
		},
	)

	ContainerCreateFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "hutch_container_create_failures_total",
			Help: "Total container creation failures",
		},
	)

	ContainersDestroyed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_containers_destroyed_total",
			Help: "Containers destroyed by reason",
		},
		[]string{"reason"},
	)

	ContainerCreateDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hutch_container_create_duration_seconds",
			Help:    "Time from create request to ready browser in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60},
		},
	)

	// Session metrics
	SessionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hutch_sessions_active",
			Help: "Active sessions by tier",
		},
		[]string{"tier"},
	)

	SessionsExpired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_sessions_expired_total",
			Help: "Sessions removed by the sweeper, by tier",
		},
		[]string{"tier"},
	)

	// Auth flow metrics
	AuthFlows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_auth_flows_total",
			Help: "QR auth flows by outcome",
		},
		[]string{"outcome"},
	)

	QRExtractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_qr_extractions_total",
			Help: "QR extraction attempts by result",
		},
		[]string{"result"},
	)

	// Sampling metrics
	SamplesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_samples_total",
			Help: "Sampling runs by kind, method, and outcome",
		},
		[]string{"kind", "method", "outcome"},
	)

	SampleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_sample_duration_seconds",
			Help:    "Sampling run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hutch_api_requests_total",
			Help: "Total number of API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hutch_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(PoolContainers)
	prometheus.MustRegister(PoolWarmMinimum)
	prometheus.MustRegister(AssignmentsTotal)
	prometheus.MustRegister(AssignmentFailures)
	prometheus.MustRegister(ContainersCreated)
	prometheus.MustRegister(ContainerCreateFailures)
	prometheus.MustRegister(ContainersDestroyed)
	prometheus.MustRegister(ContainerCreateDuration)
	prometheus.MustRegister(SessionsActive)
	prometheus.MustRegister(SessionsExpired)
	prometheus.MustRegister(AuthFlows)
	prometheus.MustRegister(QRExtractions)
	prometheus.MustRegister(SamplesTotal)
	prometheus.MustRegister(SampleDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
