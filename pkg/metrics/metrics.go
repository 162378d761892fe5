package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Container lifecycle metrics
	ContainersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portod_containers_total",
			Help: "Total number of containers by state",
		},
		[]string{"state"},
	)

	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portod_container_start_duration_seconds",
			Help:    "Time taken for Start to hand off to the process supervisor",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "portod_container_stop_duration_seconds",
			Help:    "Time taken for Stop to observe the process exit (including any SIGKILL escalation)",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerRespawnsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "portod_container_respawns_total",
			Help: "Total number of automatic respawns performed across all containers",
		},
	)

	ContainerExitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portod_container_exits_total",
			Help: "Total number of observed container process exits by outcome",
		},
		[]string{"outcome"}, // "ok", "nonzero", "signaled", "start_error"
	)

	// Volume engine metrics
	VolumesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "portod_volumes_total",
			Help: "Total number of volumes by backend",
		},
		[]string{"backend"},
	)

	VolumeBuildDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portod_volume_build_duration_seconds",
			Help:    "Time taken for Build to complete, by backend",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)

	// RPC metrics
	RPCRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "portod_rpc_requests_total",
			Help: "Total number of RPC requests by command and resulting error code",
		},
		[]string{"command", "error"},
	)

	RPCRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "portod_rpc_request_duration_seconds",
			Help:    "RPC request handling duration in seconds, from dispatch to response encoded",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "portod_sessions_active",
			Help: "Number of currently connected client sessions",
		},
	)
)

func init() {
	prometheus.MustRegister(ContainersTotal)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
	prometheus.MustRegister(ContainerRespawnsTotal)
	prometheus.MustRegister(ContainerExitsTotal)
	prometheus.MustRegister(VolumesTotal)
	prometheus.MustRegister(VolumeBuildDuration)
	prometheus.MustRegister(RPCRequestsTotal)
	prometheus.MustRegister(RPCRequestDuration)
	prometheus.MustRegister(SessionsActive)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a small helper for timing an operation and observing its
// duration to a histogram once it completes.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram vec.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
