package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics records lending module activity: operation totals segmented
// by outcome, failure reasons, latency distributions, and treasury flows.
type LendingMetrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	treasury   *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *LendingMetrics
)

// Lending returns the lazily-initialised lending metrics registry.
func Lending() *LendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credlend",
				Subsystem: "lending",
				Name:      "operations_total",
				Help:      "Total lending operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credlend",
				Subsystem: "lending",
				Name:      "failures_total",
				Help:      "Total failed lending operations segmented by operation and reason.",
			}, []string{"operation", "reason"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "credlend",
				Subsystem: "lending",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for lending operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			treasury: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "credlend",
				Subsystem: "treasury",
				Name:      "flow_total",
				Help:      "Units moved through the treasury segmented by direction and token.",
			}, []string{"direction", "token"}),
		}
		prometheus.MustRegister(
			lendingRegistry.operations,
			lendingRegistry.failures,
			lendingRegistry.latency,
			lendingRegistry.treasury,
		)
	})
	return lendingRegistry
}

// Observe records a completed operation with its outcome and duration.
func (m *LendingMetrics) Observe(operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.failures.WithLabelValues(operation, reason(err)).Inc()
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// TreasuryFlow records units moved into ("deposit") or out of ("withdraw",
// "disburse", "seize") the treasury.
func (m *LendingMetrics) TreasuryFlow(direction, token string, units float64) {
	if m == nil {
		return
	}
	m.treasury.WithLabelValues(direction, token).Add(units)
}

func reason(err error) string {
	for unwrapped := err; unwrapped != nil; unwrapped = errors.Unwrap(unwrapped) {
		err = unwrapped
	}
	return err.Error()
}
