package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsInitialization(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	if m == nil {
		t.Fatal("metrics collector should not be nil")
	}

	if m.VerifyTotal == nil {
		t.Error("VerifyTotal should be initialized")
	}
	if m.SettleTotal == nil {
		t.Error("SettleTotal should be initialized")
	}
	if m.RPCCallsTotal == nil {
		t.Error("RPCCallsTotal should be initialized")
	}
	if m.ScreeningTotal == nil {
		t.Error("ScreeningTotal should be initialized")
	}
	if m.DiscoveryResourcesTotal == nil {
		t.Error("DiscoveryResourcesTotal should be initialized")
	}
}

func TestObserveVerify(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveVerify("eip155:8453", "exact", true, 10*time.Millisecond)

	count := promtest.ToFloat64(m.VerifyTotal.WithLabelValues("eip155:8453", "exact", "true"))
	if count != 1 {
		t.Errorf("expected 1 verify, got %.0f", count)
	}
}

func TestObserveSettle(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveSettle("solana:mainnet", "exact", true, 2*time.Second)

	count := promtest.ToFloat64(m.SettleTotal.WithLabelValues("solana:mainnet", "exact", "true"))
	if count != 1 {
		t.Errorf("expected 1 settle, got %.0f", count)
	}
}

func TestObserveRPCCall(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantErrors float64
	}{
		{name: "successful RPC call", err: nil, wantErrors: 0},
		{name: "failed RPC call with connection error", err: &testError{msg: "connection reset"}, wantErrors: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := prometheus.NewRegistry()
			m := New(registry)

			m.ObserveRPCCall("evm", "eip155:8453", "eth_getTransactionReceipt", 100*time.Millisecond, tt.err)

			calls := promtest.ToFloat64(m.RPCCallsTotal.WithLabelValues("evm", "eip155:8453", "eth_getTransactionReceipt"))
			if calls != 1 {
				t.Errorf("expected 1 RPC call, got %.0f", calls)
			}

			if tt.err != nil {
				errors := promtest.ToFloat64(m.RPCErrorsTotal.WithLabelValues("evm", "eip155:8453", "eth_getTransactionReceipt", "connection"))
				if errors != tt.wantErrors {
					t.Errorf("expected %.0f RPC errors, got %.0f", tt.wantErrors, errors)
				}
			}
		})
	}
}

func TestObserveScreening(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveScreening("ofac", true, 1*time.Millisecond)

	hits := promtest.ToFloat64(m.ScreeningHitTotal.WithLabelValues("ofac"))
	if hits != 1 {
		t.Errorf("expected 1 screening hit, got %.0f", hits)
	}
}

func TestDiscoveryMetrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.SetDiscoveryResourceCount(7)
	if got := promtest.ToFloat64(m.DiscoveryResourcesTotal); got != 7 {
		t.Errorf("expected 7 resources, got %.0f", got)
	}

	m.ObserveDiscoveryBulkImport(3, 1)
	imported := promtest.ToFloat64(m.DiscoveryBulkImports.WithLabelValues("imported"))
	if imported != 3 {
		t.Errorf("expected 3 imported, got %.0f", imported)
	}

	m.ObserveDiscoveryAggregation("peer-a", nil)
	ok := promtest.ToFloat64(m.DiscoveryAggregations.WithLabelValues("peer-a", "success"))
	if ok != 1 {
		t.Errorf("expected 1 successful aggregation, got %.0f", ok)
	}
}

func TestObserveBreakerStateChange(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveBreakerStateChange("evm_rpc", "closed", "open")

	count := promtest.ToFloat64(m.BreakerStateChanges.WithLabelValues("evm_rpc", "closed", "open"))
	if count != 1 {
		t.Errorf("expected 1 state change, got %.0f", count)
	}
}

func TestObserveRateLimit(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := New(registry)

	m.ObserveRateLimit("per_wallet", "wallet123")

	hits := promtest.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("per_wallet", "wallet123"))
	if hits != 1 {
		t.Errorf("expected 1 rate limit hit, got %.0f", hits)
	}
}

// testError is a simple error type for testing.
type testError struct {
	msg string
}

func (e *testError) Error() string {
	return e.msg
}
