package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the facilitator.
type Metrics struct {
	// Verify/settle metrics
	VerifyTotal    *prometheus.CounterVec
	VerifyDuration *prometheus.HistogramVec
	SettleTotal    *prometheus.CounterVec
	SettleDuration *prometheus.HistogramVec

	// RPC call metrics, one series per chain family/network
	RPCCallsTotal   *prometheus.CounterVec
	RPCCallDuration *prometheus.HistogramVec
	RPCErrorsTotal  *prometheus.CounterVec

	// Compliance screening metrics
	ScreeningTotal    *prometheus.CounterVec
	ScreeningDuration *prometheus.HistogramVec
	ScreeningHitTotal *prometheus.CounterVec

	// Discovery registry metrics
	DiscoveryResourcesTotal prometheus.Gauge
	DiscoveryBulkImports    *prometheus.CounterVec
	DiscoveryAggregations   *prometheus.CounterVec
	DiscoveryCrawls         *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerStateChanges *prometheus.CounterVec

	// Rate limiting metrics
	RateLimitHitsTotal *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		VerifyTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_verify_total",
				Help: "Total number of /verify requests",
			},
			[]string{"network", "scheme", "valid"},
		),
		VerifyDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_verify_duration_seconds",
				Help:    "Time taken to verify a payment payload (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"network", "scheme"},
		),
		SettleTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_settle_total",
				Help: "Total number of /settle requests",
			},
			[]string{"network", "scheme", "success"},
		),
		SettleDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_settle_duration_seconds",
				Help:    "Time from settle request to on-chain submission result",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"network", "scheme"},
		),

		RPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_calls_total",
				Help: "Total number of RPC calls made to chain providers",
			},
			[]string{"family", "network", "method"},
		),
		RPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_rpc_call_duration_seconds",
				Help:    "Duration of RPC calls to chain providers (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"family", "network", "method"},
		),
		RPCErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rpc_errors_total",
				Help: "Total number of RPC call errors, categorized by error type",
			},
			[]string{"family", "network", "method", "error_type"},
		),

		ScreeningTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_compliance_screenings_total",
				Help: "Total number of address compliance screenings performed",
			},
			[]string{"list", "result"},
		),
		ScreeningDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "x402_compliance_screening_duration_seconds",
				Help:    "Time taken to screen an address against the active lists",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"list"},
		),
		ScreeningHitTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_compliance_hits_total",
				Help: "Total number of screenings that matched a blocked address",
			},
			[]string{"list"},
		),

		DiscoveryResourcesTotal: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "x402_discovery_resources",
				Help: "Current number of resources held in the discovery registry",
			},
		),
		DiscoveryBulkImports: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_discovery_bulk_imports_total",
				Help: "Total number of resources imported via bulk import, by outcome",
			},
			[]string{"outcome"},
		),
		DiscoveryAggregations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_discovery_aggregation_runs_total",
				Help: "Total number of peer aggregation runs, by outcome",
			},
			[]string{"peer", "outcome"},
		),
		DiscoveryCrawls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_discovery_crawl_runs_total",
				Help: "Total number of well-known endpoint crawls, by outcome",
			},
			[]string{"host", "outcome"},
		),

		BreakerStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_circuit_breaker_state_changes_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "x402_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type", "identifier"},
		),
	}
}

// ObserveVerify records a /verify request outcome.
func (m *Metrics) ObserveVerify(network, scheme string, valid bool, duration time.Duration) {
	m.VerifyTotal.WithLabelValues(network, scheme, boolLabel(valid)).Inc()
	m.VerifyDuration.WithLabelValues(network, scheme).Observe(duration.Seconds())
}

// ObserveSettle records a /settle request outcome.
func (m *Metrics) ObserveSettle(network, scheme string, success bool, duration time.Duration) {
	m.SettleTotal.WithLabelValues(network, scheme, boolLabel(success)).Inc()
	m.SettleDuration.WithLabelValues(network, scheme).Observe(duration.Seconds())
}

// ObserveRPCCall records an RPC call made against a chain provider.
func (m *Metrics) ObserveRPCCall(family, network, method string, duration time.Duration, err error) {
	m.RPCCallsTotal.WithLabelValues(family, network, method).Inc()
	m.RPCCallDuration.WithLabelValues(family, network, method).Observe(duration.Seconds())

	if err != nil {
		m.RPCErrorsTotal.WithLabelValues(family, network, method, categorizeError(err.Error())).Inc()
	}
}

// ObserveScreening records a compliance screening check.
func (m *Metrics) ObserveScreening(list string, blocked bool, duration time.Duration) {
	m.ScreeningTotal.WithLabelValues(list, boolLabel(blocked)).Inc()
	m.ScreeningDuration.WithLabelValues(list).Observe(duration.Seconds())
	if blocked {
		m.ScreeningHitTotal.WithLabelValues(list).Inc()
	}
}

// SetDiscoveryResourceCount updates the current resource count gauge.
func (m *Metrics) SetDiscoveryResourceCount(count int) {
	m.DiscoveryResourcesTotal.Set(float64(count))
}

// ObserveDiscoveryBulkImport records a bulk import outcome.
func (m *Metrics) ObserveDiscoveryBulkImport(imported, skipped int) {
	m.DiscoveryBulkImports.WithLabelValues("imported").Add(float64(imported))
	m.DiscoveryBulkImports.WithLabelValues("skipped").Add(float64(skipped))
}

// ObserveDiscoveryAggregation records one peer aggregation attempt.
func (m *Metrics) ObserveDiscoveryAggregation(peer string, err error) {
	m.DiscoveryAggregations.WithLabelValues(peer, outcomeLabel(err)).Inc()
}

// ObserveDiscoveryCrawl records one seed host crawl attempt.
func (m *Metrics) ObserveDiscoveryCrawl(host string, err error) {
	m.DiscoveryCrawls.WithLabelValues(host, outcomeLabel(err)).Inc()
}

// ObserveBreakerStateChange records a circuit breaker transition.
func (m *Metrics) ObserveBreakerStateChange(breaker, from, to string) {
	m.BreakerStateChanges.WithLabelValues(breaker, from, to).Inc()
}

// ObserveRateLimit records a rate limit hit.
func (m *Metrics) ObserveRateLimit(limitType, identifier string) {
	m.RateLimitHitsTotal.WithLabelValues(limitType, identifier).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

func outcomeLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func categorizeError(errStr string) string {
	switch {
	case strings.Contains(errStr, "timeout"):
		return "timeout"
	case strings.Contains(errStr, "rate limit"):
		return "rate_limit"
	case strings.Contains(errStr, "connection"):
		return "connection"
	case strings.Contains(errStr, "not found"):
		return "not_found"
	default:
		return "other"
	}
}
