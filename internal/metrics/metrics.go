// Package metrics exposes Prometheus collectors for scans and provider calls.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "strangle_scanner"

// Metrics holds every collector the scanner reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	ScansTotal      prometheus.Counter
	ActiveScans     prometheus.Gauge
	ScanDuration    prometheus.Histogram
	CandidatesTotal prometheus.Counter
	SymbolsSkipped  *prometheus.CounterVec
	SymbolErrors    *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	OrdersTotal     *prometheus.CounterVec
}

// New builds the collectors and registers them with reg when reg is non-nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scans_total",
			Help:      "Total number of scans started",
		}),
		ActiveScans: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_scans",
			Help:      "Number of scans currently running",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock duration of a full scan",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		CandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Total number of strangle candidates returned",
		}),
		SymbolsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbols_skipped_total",
			Help:      "Symbols skipped before pairing, by reason",
		}, []string{"reason"}),
		SymbolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "symbol_errors_total",
			Help:      "Symbols dropped from a scan because processing failed, by error type",
		}, []string{"error_type"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of market-data provider calls",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"op", "result"}),
		OrdersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Strangle order submissions, by mode and status",
		}, []string{"mode", "status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.ScansTotal,
			m.ActiveScans,
			m.ScanDuration,
			m.CandidatesTotal,
			m.SymbolsSkipped,
			m.SymbolErrors,
			m.FetchDuration,
			m.OrdersTotal,
		)
	}
	return m
}

// ScanStarted records a new scan and returns the func that closes it out.
func (m *Metrics) ScanStarted() func(candidates int) {
	if m == nil {
		return func(int) {}
	}
	start := time.Now()
	m.ScansTotal.Inc()
	m.ActiveScans.Inc()
	return func(candidates int) {
		m.ActiveScans.Dec()
		m.ScanDuration.Observe(time.Since(start).Seconds())
		m.CandidatesTotal.Add(float64(candidates))
	}
}

// SymbolSkipped counts a symbol that produced no candidates by design.
func (m *Metrics) SymbolSkipped(reason string) {
	if m == nil {
		return
	}
	m.SymbolsSkipped.WithLabelValues(reason).Inc()
}

// SymbolFailed counts a symbol dropped because of an error.
func (m *Metrics) SymbolFailed(errorType string) {
	if m == nil {
		return
	}
	m.SymbolErrors.WithLabelValues(errorType).Inc()
}

// ObserveFetch records the latency and outcome of one provider call.
func (m *Metrics) ObserveFetch(op string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.FetchDuration.WithLabelValues(op, result).Observe(d.Seconds())
}

// OrderSubmitted counts an order submission.
func (m *Metrics) OrderSubmitted(mode, status string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(mode, status).Inc()
}
