// Package monitoring periodically checks facilitator relayer balances and
// sends webhook alerts when any of them run low.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"text/template"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/ultravioletadao/x402-facilitator/internal/httputil"
	"github.com/ultravioletadao/x402-facilitator/internal/logger"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
)

// watchedRelayer pairs one monitored provider with the network name used in
// alerts and logs.
type watchedRelayer struct {
	network string
	address string
	balance provider.BalanceReporter
}

// BalanceMonitor periodically checks every relayer balance that implements
// provider.BalanceReporter and sends alerts when a balance is low. Providers
// that don't implement the interface are silently excluded, not errored on.
type BalanceMonitor struct {
	cfg        config.MonitoringConfig
	relayers   []watchedRelayer
	httpClient *http.Client
	log        zerolog.Logger

	mu          sync.Mutex
	alertedKeys map[string]time.Time // network -> last alert time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// BalanceAlert contains information about a relayer with a low balance.
type BalanceAlert struct {
	Network   string    `json:"network"`
	Wallet    string    `json:"wallet"`
	Balance   float64   `json:"balance"`
	Unit      string    `json:"unit"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// NewBalanceMonitor builds a monitor over every configured provider that
// implements provider.BalanceReporter.
func NewBalanceMonitor(cfg config.MonitoringConfig, providers map[string]provider.Provider, log zerolog.Logger) *BalanceMonitor {
	relayers := make([]watchedRelayer, 0, len(providers))
	for network, p := range providers {
		reporter, ok := p.(provider.BalanceReporter)
		if !ok {
			continue
		}
		relayers = append(relayers, watchedRelayer{
			network: network,
			address: p.SignerAddress().Text,
			balance: reporter,
		})
	}

	return &BalanceMonitor{
		cfg:         cfg,
		relayers:    relayers,
		httpClient:  httputil.NewClient(cfg.Timeout.Duration),
		alertedKeys: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		log:         log.With().Str("component", "balance_monitor").Logger(),
	}
}

// Start begins the balance monitoring loop. A no-op if no alert URL is
// configured or no provider in the set reports a balance.
func (m *BalanceMonitor) Start(ctx context.Context) {
	if m.cfg.LowBalanceAlertURL == "" {
		m.log.Info().Msg("disabled, no alert url configured")
		return
	}
	if len(m.relayers) == 0 {
		m.log.Info().Msg("no balance-reporting providers configured")
		return
	}

	m.log.Info().
		Int("relayer_count", len(m.relayers)).
		Dur("check_interval", m.cfg.CheckInterval.Duration).
		Float64("threshold", m.cfg.LowBalanceThreshold).
		Msg("started")

	m.wg.Add(1)
	go m.monitorLoop(ctx)
}

// Stop gracefully stops the balance monitoring loop.
func (m *BalanceMonitor) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.log.Info().Msg("stopped")
}

func (m *BalanceMonitor) monitorLoop(ctx context.Context) {
	defer m.wg.Done()

	interval := m.cfg.CheckInterval.Duration
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.checkBalances(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkBalances(ctx)
		}
	}
}

func (m *BalanceMonitor) checkBalances(ctx context.Context) {
	for _, relayer := range m.relayers {
		balance, unit, err := relayer.balance.RelayerBalance(ctx)
		if err != nil {
			m.log.Error().
				Err(err).
				Str("network", relayer.network).
				Str("wallet", logger.TruncateAddress(relayer.address)).
				Msg("balance fetch failed")
			continue
		}

		m.log.Debug().
			Str("network", relayer.network).
			Str("wallet", logger.TruncateAddress(relayer.address)).
			Float64("balance", balance).
			Str("unit", unit).
			Msg("balance checked")

		if balance < m.cfg.LowBalanceThreshold {
			if m.shouldAlert(relayer.network) {
				m.sendAlert(ctx, relayer, balance, unit)
			}
		} else {
			m.clearAlert(relayer.network)
		}
	}
}

// shouldAlert returns true if we should send an alert for this relayer. We
// only alert once per 24 hours per network to avoid spam.
func (m *BalanceMonitor) shouldAlert(network string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	lastAlert, exists := m.alertedKeys[network]
	if !exists {
		return true
	}
	return time.Since(lastAlert) > 24*time.Hour
}

func (m *BalanceMonitor) clearAlert(network string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.alertedKeys, network)
}

func (m *BalanceMonitor) sendAlert(ctx context.Context, relayer watchedRelayer, balance float64, unit string) {
	alert := BalanceAlert{
		Network:   relayer.network,
		Wallet:    relayer.address,
		Balance:   balance,
		Unit:      unit,
		Threshold: m.cfg.LowBalanceThreshold,
		Timestamp: time.Now(),
	}

	var body []byte
	var err error

	if m.cfg.BodyTemplate != "" {
		body, err = m.renderTemplate(alert)
		if err != nil {
			m.log.Error().Err(err).Str("network", relayer.network).Msg("alert template error")
			return
		}
	} else {
		body, err = json.Marshal(map[string]any{
			"content": fmt.Sprintf(
				"⚠️ **Low Relayer Balance**\n\n"+
					"Network: `%s`\n"+
					"Wallet: `%s`\n"+
					"Balance: **%.6f %s**\n"+
					"Threshold: %.6f %s\n\n"+
					"The relayer for this network is running low and may start failing settlements.",
				alert.Network, alert.Wallet, balance, unit, m.cfg.LowBalanceThreshold, unit,
			),
		})
		if err != nil {
			m.log.Error().Err(err).Str("network", relayer.network).Msg("alert marshal error")
			return
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LowBalanceAlertURL, bytes.NewReader(body))
	if err != nil {
		m.log.Error().Err(err).Str("network", relayer.network).Msg("alert request build error")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range m.cfg.Headers {
		req.Header.Set(key, value)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.log.Error().Err(err).Str("network", relayer.network).Msg("alert send error")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		m.log.Info().
			Str("network", relayer.network).
			Float64("balance", balance).
			Int("status_code", resp.StatusCode).
			Msg("alert sent")
		m.mu.Lock()
		m.alertedKeys[relayer.network] = time.Now()
		m.mu.Unlock()
	} else {
		m.log.Warn().
			Str("network", relayer.network).
			Int("status_code", resp.StatusCode).
			Msg("alert delivery failed")
	}
}

func (m *BalanceMonitor) renderTemplate(alert BalanceAlert) ([]byte, error) {
	tmpl, err := template.New("alert").Parse(m.cfg.BodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, alert); err != nil {
		return nil, fmt.Errorf("execute template: %w", err)
	}
	return buf.Bytes(), nil
}
