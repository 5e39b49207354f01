package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Replica metrics
	Status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "karapace_operator_status",
			Help: "Current replica status (1 for the active status name, 0 otherwise)",
		},
		[]string{"status", "severity"},
	)

	IsLeader = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "karapace_operator_is_leader",
			Help: "Whether this replica is the leader (1 = leader, 0 = follower)",
		},
	)

	WorkloadUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "karapace_operator_workload_up",
			Help: "Whether the Karapace service is running",
		},
	)

	PeerUnits = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "karapace_operator_peer_units",
			Help: "Number of units that published peer data",
		},
	)

	ClientRelations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "karapace_operator_client_relations",
			Help: "Number of active client relations",
		},
	)

	ComponentHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "karapace_operator_component_healthy",
			Help: "Last reported health of a component (workload, kafka, registry)",
		},
		[]string{"component"},
	)

	// Reconciler metrics
	EventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karapace_operator_events_total",
			Help: "Total number of handled events by type and result",
		},
		[]string{"type", "result"},
	)

	ReconcileDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "karapace_operator_reconcile_duration_seconds",
			Help:    "Event handler duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	RestartsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "karapace_operator_restarts_total",
			Help: "Total number of workload restarts",
		},
	)

	RestartLockWaits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "karapace_operator_restart_lock_waits_total",
			Help: "Restarts postponed because another replica held the restart lock",
		},
	)

	DependencyChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karapace_operator_dependency_checks_total",
			Help: "Kafka reachability checks by result",
		},
		[]string{"result"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "karapace_operator_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "karapace_operator_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(Status)
	prometheus.MustRegister(IsLeader)
	prometheus.MustRegister(WorkloadUp)
	prometheus.MustRegister(PeerUnits)
	prometheus.MustRegister(ClientRelations)
	prometheus.MustRegister(ComponentHealthy)
	prometheus.MustRegister(EventsTotal)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(RestartsTotal)
	prometheus.MustRegister(RestartLockWaits)
	prometheus.MustRegister(DependencyChecks)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// SetStatus marks name as the only current status
func SetStatus(name, severity string) {
	Status.Reset()
	Status.WithLabelValues(name, severity).Set(1)
}

// SetBool sets a 0/1 gauge
func SetBool(g prometheus.Gauge, v bool) {
	if v {
		g.Set(1)
		return
	}
	g.Set(0)
}

// Timer measures the duration of an operation
type Timer struct {
	start time.Time
}

// NewTimer starts a timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the elapsed time on a histogram
func (t *Timer) ObserveDuration(h prometheus.Observer) {
	h.Observe(t.Duration().Seconds())
}

// ObserveDurationVec records the elapsed time on a histogram vec
func (t *Timer) ObserveDurationVec(h *prometheus.HistogramVec, labels ...string) {
	h.WithLabelValues(labels...).Observe(t.Duration().Seconds())
}
