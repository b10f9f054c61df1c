// Package metrics exposes the Prometheus collectors for the NeoGuard
// server: HTTP traffic plus the recovery lifecycle counters. Domain
// counters are fed from the event stream so services stay metrics-free.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/R3E-Network/neoguard/internal/events"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "neoguard",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "neoguard",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	recoveryInitiations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "recovery",
			Name:      "initiations_total",
			Help:      "Total number of recovery requests initiated.",
		},
	)

	recoveryExecutions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "recovery",
			Name:      "executions_total",
			Help:      "Total number of completed ownership recoveries.",
		},
	)

	recoveryCancellations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "recovery",
			Name:      "cancellations_total",
			Help:      "Total number of canceled recovery requests.",
		},
	)

	emergencyWithdrawals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "recovery",
			Name:      "emergency_withdrawals_total",
			Help:      "Total number of emergency withdrawals by authorization mode.",
		},
		[]string{"mode"},
	)

	vaultDeployments = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "registry",
			Name:      "deployments_total",
			Help:      "Total number of vault deployments.",
		},
	)

	ownerSyncs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "neoguard",
			Subsystem: "registry",
			Name:      "owner_syncs_total",
			Help:      "Total number of owner index updates applied.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		recoveryInitiations,
		recoveryExecutions,
		recoveryCancellations,
		emergencyWithdrawals,
		vaultDeployments,
		ownerSyncs,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// ObserveEvent translates a domain event into its counter. Wire it as an
// event subscriber.
func ObserveEvent(e events.Event) {
	switch e.Type {
	case events.EventRecoveryInitiated:
		recoveryInitiations.Inc()
	case events.EventRecoveryExecuted:
		recoveryExecutions.Inc()
	case events.EventRecoveryCanceled:
		recoveryCancellations.Inc()
	case events.EventEmergencyWithdrawal:
		mode := e.Metadata["mode"]
		if mode == "" {
			mode = "unknown"
		}
		emergencyWithdrawals.WithLabelValues(mode).Inc()
	case events.EventVaultDeployed:
		vaultDeployments.Inc()
	case events.EventVaultOwnerChanged:
		ownerSyncs.Inc()
	}
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses addresses out of paths so label cardinality
// stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	switch parts[0] {
	case "vaults":
		switch len(parts) {
		case 1:
			return "/vaults"
		case 2:
			return "/vaults/:vault"
		default:
			return "/vaults/:vault/" + parts[2]
		}
	case "registry":
		if len(parts) == 1 {
			return "/registry"
		}
		if len(parts) >= 3 {
			return "/registry/" + parts[1] + "/:address"
		}
		return "/registry/" + parts[1]
	default:
		return "/" + parts[0]
	}
}
