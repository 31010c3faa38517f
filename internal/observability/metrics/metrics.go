package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quarry"

// Registry holds every collector exposed on /metrics.
var Registry = prometheus.NewRegistry()

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests processed.",
		},
		[]string{"route", "method", "code"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"route", "method"},
	)
	swarmsCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "created_total",
			Help:      "Swarms created since start.",
		},
	)
	swarmsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "swarm",
			Name:      "active",
			Help:      "Swarms currently held in memory.",
		},
	)
	shaftOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shaft",
			Name:      "outcomes_total",
			Help:      "Shaft queue outcomes by result (claimed, exhausted, completed, not_found).",
		},
		[]string{"result"},
	)
	travelDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "travel",
			Name:      "decisions_total",
			Help:      "Travel reservation decisions by result (admitted, rejected, released, noop).",
		},
		[]string{"result"},
	)
	persistenceFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flushes_total",
			Help:      "Snapshot flushes by result (ok, error).",
		},
		[]string{"driver", "result"},
	)
	persistenceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "flush_duration_seconds",
			Help:      "Snapshot flush duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"driver"},
	)
	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "Swarm events by result (ok, error, dropped).",
		},
		[]string{"result"},
	)
)

// RegisterMetrics registers all collectors once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			httpRequests, httpDuration,
			swarmsCreated, swarmsActive,
			shaftOutcomes, travelDecisions,
			persistenceFlushes, persistenceDuration,
			eventsPublished,
		)
	})
}

// Handler exposes the registry in Prometheus text exposition format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func ObserveHTTPRequest(route, method string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(route, method).Observe(duration.Seconds())
}

// SwarmCreated counts a new swarm and updates the active gauge.
func SwarmCreated(active int) {
	RegisterMetrics()
	swarmsCreated.Inc()
	swarmsActive.Set(float64(active))
}

// SetActiveSwarms sets the active swarm gauge, used after loading state.
func SetActiveSwarms(active int) {
	RegisterMetrics()
	swarmsActive.Set(float64(active))
}

// ShaftOutcome counts a shaft queue result.
func ShaftOutcome(result string) {
	RegisterMetrics()
	shaftOutcomes.WithLabelValues(result).Inc()
}

// TravelDecision counts a travel admission result.
func TravelDecision(result string) {
	RegisterMetrics()
	travelDecisions.WithLabelValues(result).Inc()
}

// PersistenceFlush records one snapshot flush.
func PersistenceFlush(driver string, err error, duration time.Duration) {
	RegisterMetrics()
	result := "ok"
	if err != nil {
		result = "error"
	}
	persistenceFlushes.WithLabelValues(driver, result).Inc()
	persistenceDuration.WithLabelValues(driver).Observe(duration.Seconds())
}

// EventPublished counts an event publish result.
func EventPublished(result string) {
	RegisterMetrics()
	eventsPublished.WithLabelValues(result).Inc()
}
