package svm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

// newTestProvider builds a Provider directly rather than through New, since
// New dials a websocket connection this test has no need to stand up.
func newTestProvider(t *testing.T, rpcURL string) *Provider {
	t.Helper()
	signer := solana.NewWallet().PrivateKey
	return &Provider{
		cfg:     Config{Network: caip2.NetworkID("solana:devnet"), Commitment: rpc.CommitmentConfirmed},
		network: caip2.NetworkID("solana:devnet"),
		rpc:     rpc.New(rpcURL),
		signer:  signer,
		breaker: circuitbreaker.NewManager(circuitbreaker.Config{}, zerolog.Nop()),
		log:     zerolog.Nop(),
	}
}

func TestRelayerBalance_ConvertsLamports(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Method != "getBalance" {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result": map[string]any{
				"context": map[string]any{"slot": 1},
				"value":   2_500_000_000,
			},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	balance, unit, err := p.RelayerBalance(context.Background())
	if err != nil {
		t.Fatalf("RelayerBalance: %v", err)
	}
	if unit != "SOL" {
		t.Fatalf("expected unit SOL, got %q", unit)
	}
	if balance != 2.5 {
		t.Fatalf("expected balance 2.5, got %v", balance)
	}
}

func TestRelayerBalance_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID json.RawMessage `json:"id"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]any{"code": -32602, "message": "invalid param"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error for an RPC-level failure")
	}
}

func TestDeriveWebsocketURL(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"http://localhost:8899", "ws://localhost:8899"},
		{"https://api.mainnet-beta.solana.com", "wss://api.mainnet-beta.solana.com"},
	}
	for _, c := range cases {
		got, err := deriveWebsocketURL(c.in)
		if err != nil {
			t.Fatalf("deriveWebsocketURL(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("deriveWebsocketURL(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestIsAlreadyProcessedError(t *testing.T) {
	if isAlreadyProcessedError(nil) {
		t.Fatal("nil error should not be already-processed")
	}
}
