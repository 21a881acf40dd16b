package monitoring

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// plainProvider implements provider.Provider only, with no RelayerBalance
// method, so it should be silently excluded from monitoring.
type plainProvider struct{}

func (p *plainProvider) SignerAddress() types.MixedAddress {
	return types.MixedAddress{Family: types.AddressEVM, Text: "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"}
}
func (p *plainProvider) Network() caip2.NetworkID { return caip2.Eip155ID(2) }
func (p *plainProvider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	return types.VerifyResponse{}, nil
}
func (p *plainProvider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	return types.SettleResponse{}, nil
}
func (p *plainProvider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{}
}

// fakeReportingProvider satisfies both provider.Provider and
// provider.BalanceReporter so it can be watched by the monitor.
type fakeReportingProvider struct {
	balance float64
	unit    string
	err     error
}

func (p *fakeReportingProvider) SignerAddress() types.MixedAddress {
	return types.MixedAddress{Family: types.AddressEVM, Text: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}
}
func (p *fakeReportingProvider) Network() caip2.NetworkID { return caip2.Eip155ID(1) }
func (p *fakeReportingProvider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	return types.VerifyResponse{}, nil
}
func (p *fakeReportingProvider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	return types.SettleResponse{}, nil
}
func (p *fakeReportingProvider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{}
}
func (p *fakeReportingProvider) RelayerBalance(ctx context.Context) (float64, string, error) {
	return p.balance, p.unit, p.err
}

func TestNewBalanceMonitor_SkipsProvidersWithoutBalanceReporter(t *testing.T) {
	reporting := &fakeReportingProvider{balance: 5, unit: "ETH"}
	plain := &plainProvider{}
	m := NewBalanceMonitor(config.MonitoringConfig{}, map[string]provider.Provider{
		"eip155:1": reporting,
		"eip155:2": plain,
	}, zerolog.Nop())
	if len(m.relayers) != 1 {
		t.Fatalf("expected 1 watched relayer, got %d", len(m.relayers))
	}
	if m.relayers[0].network != "eip155:1" {
		t.Fatalf("expected the reporting provider's network to be watched, got %q", m.relayers[0].network)
	}
}

func TestBalanceMonitor_SendsAlertBelowThreshold(t *testing.T) {
	var calls int32
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporting := &fakeReportingProvider{balance: 0.01, unit: "ETH"}
	cfg := config.MonitoringConfig{
		LowBalanceAlertURL:  srv.URL,
		LowBalanceThreshold: 0.1,
		CheckInterval:       config.Duration{Duration: time.Hour},
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}

	m := newTestMonitor(cfg, reporting)
	m.checkBalances(context.Background())

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected 1 alert call, got %d", calls)
	}
	if gotBody["content"] == nil {
		t.Fatalf("expected default discord-style body, got %+v", gotBody)
	}
}

func TestBalanceMonitor_NoAlertAboveThreshold(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporting := &fakeReportingProvider{balance: 5, unit: "ETH"}
	cfg := config.MonitoringConfig{
		LowBalanceAlertURL:  srv.URL,
		LowBalanceThreshold: 0.1,
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}

	m := newTestMonitor(cfg, reporting)
	m.checkBalances(context.Background())

	if atomic.LoadInt32(&calls) != 0 {
		t.Fatalf("expected no alert call, got %d", calls)
	}
}

func TestBalanceMonitor_DedupesAlertsWithin24Hours(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporting := &fakeReportingProvider{balance: 0.01, unit: "ETH"}
	cfg := config.MonitoringConfig{
		LowBalanceAlertURL:  srv.URL,
		LowBalanceThreshold: 0.1,
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}

	m := newTestMonitor(cfg, reporting)
	m.checkBalances(context.Background())
	m.checkBalances(context.Background())

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected exactly 1 alert call across two checks, got %d", calls)
	}
}

func TestBalanceMonitor_CustomBodyTemplate(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 256)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reporting := &fakeReportingProvider{balance: 0.01, unit: "ETH"}
	cfg := config.MonitoringConfig{
		LowBalanceAlertURL:  srv.URL,
		LowBalanceThreshold: 0.1,
		BodyTemplate:        `{"text":"{{.Network}} low: {{.Balance}} {{.Unit}}"}`,
		Timeout:             config.Duration{Duration: 5 * time.Second},
	}

	m := newTestMonitor(cfg, reporting)
	m.checkBalances(context.Background())

	if gotBody == "" {
		t.Fatalf("expected custom template body to be sent")
	}
}

// newTestMonitor builds a BalanceMonitor directly (bypassing NewBalanceMonitor's
// type assertion) around a single provider known to implement BalanceReporter.
func newTestMonitor(cfg config.MonitoringConfig, reporting *fakeReportingProvider) *BalanceMonitor {
	return &BalanceMonitor{
		cfg:         cfg,
		relayers:    []watchedRelayer{{network: "eip155:1", address: reporting.SignerAddress().Text, balance: reporting}},
		httpClient:  http.DefaultClient,
		alertedKeys: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		log:         zerolog.Nop(),
	}
}
