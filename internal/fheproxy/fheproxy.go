// Package fheproxy forwards x402 requests whose scheme is "fhe-transfer" to
// an external confidential-payment backend (spec.md §4.6): this facilitator
// runs no local provider for FHE-settled assets, it just relays the request
// body and response verbatim.
package fheproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// Config configures where FHE-scheme requests are forwarded.
type Config struct {
	Endpoint string        // base URL of the confidential-payment backend
	Timeout  time.Duration // FHE decryption via a relayer runs long; default accounts for cold starts
	Breaker  *circuitbreaker.Manager
}

// DefaultConfig reads FHE_FACILITATOR_URL, falling back to the operator's
// own hosted Zama FHE facilitator, with a 90s timeout — the Lambda backend
// has a 60s timeout of its own; the extra 30s buffers cold starts.
func DefaultConfig() Config {
	endpoint := os.Getenv("FHE_FACILITATOR_URL")
	if endpoint == "" {
		endpoint = "https://zama-facilitator.ultravioletadao.xyz"
	}
	return Config{Endpoint: endpoint, Timeout: 90 * time.Second}
}

// Error is a typed proxy failure, distinguishing a non-2xx backend response
// (FacilitatorError, with the backend's body attached) from a transport or
// decode failure.
type Error struct {
	Kind string // "http", "facilitator", "invalid_response", "unavailable"
	Body string
	Err  error
}

func (e *Error) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("fheproxy: %s: %s", e.Kind, e.Body)
	}
	return fmt.Sprintf("fheproxy: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func (p *Proxy) breaker() *circuitbreaker.Manager { return p.cfg.Breaker }

// Proxy forwards verify/settle requests to the configured backend.
type Proxy struct {
	client *http.Client
	cfg    Config
	log    zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Proxy {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}
	return &Proxy{
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		log:    log.With().Str("component", "fhe_proxy").Logger(),
	}
}

// HealthCheck reports whether the backend's /health endpoint is reachable
// and returns a success status.
func (p *Proxy) HealthCheck(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false, &Error{Kind: "http", Err: err}
	}
	result, err := p.breaker().Execute(circuitbreaker.ServiceFHEProxy, func() (interface{}, error) {
		return p.client.Do(req)
	})
	if err != nil {
		return false, &Error{Kind: "unavailable", Err: err}
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.log.Warn().Int("status", resp.StatusCode).Msg("FHE facilitator health check failed")
		return false, nil
	}
	return true, nil
}

// Verify forwards a verify request body verbatim and decodes the backend's
// response into the facilitator's own VerifyResponse shape.
func (p *Proxy) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	var resp types.VerifyResponse
	if err := p.forward(ctx, "/verify", req, &resp); err != nil {
		return types.VerifyResponse{}, err
	}
	return resp, nil
}

// Settle forwards a settle request body verbatim and decodes the backend's
// response into the facilitator's own SettleResponse shape.
func (p *Proxy) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	var resp types.SettleResponse
	if err := p.forward(ctx, "/settle", req, &resp); err != nil {
		return types.SettleResponse{}, err
	}
	return resp, nil
}

func (p *Proxy) forward(ctx context.Context, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: "invalid_response", Err: fmt.Errorf("marshal request: %w", err)}
	}

	url := p.cfg.Endpoint + path
	p.log.Info().Str("url", url).Msg("forwarding request to FHE facilitator")

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return &Error{Kind: "http", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	result, err := p.breaker().Execute(circuitbreaker.ServiceFHEProxy, func() (interface{}, error) {
		resp, err := p.client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		return resp, nil
	})
	if err != nil {
		return &Error{Kind: "unavailable", Err: err}
	}
	httpResp := result.(*http.Response)
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return &Error{Kind: "http", Err: err}
	}

	p.log.Debug().Int("status", httpResp.StatusCode).Int("body_len", len(respBody)).Msg("received response from FHE facilitator")

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		p.log.Error().Int("status", httpResp.StatusCode).Str("body", string(respBody)).Msg("FHE facilitator request failed")
		return &Error{Kind: "facilitator", Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &Error{Kind: "invalid_response", Err: fmt.Errorf("decode response: %w (body: %s)", err, respBody)}
	}
	return nil
}
