package near

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

func newTestProvider(t *testing.T, rpcURL string) *Provider {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := New(Config{
		Network:       caip2.NetworkID("near:testnet"),
		RPCURL:        rpcURL,
		RelayerSeed:   priv,
		RelayerAcctID: "relayer.testnet",
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRelayerBalance_ParsesYoctoNear(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "x402",
			"result":  map[string]any{"amount": "2500000000000000000000000"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	balance, unit, err := p.RelayerBalance(context.Background())
	if err != nil {
		t.Fatalf("RelayerBalance: %v", err)
	}
	if unit != "NEAR" {
		t.Fatalf("expected unit NEAR, got %q", unit)
	}
	if balance != 2.5 {
		t.Fatalf("expected balance 2.5, got %v", balance)
	}
}

func TestRelayerBalance_RPCError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "x402",
			"error":   map[string]any{"message": "account not found"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error for an RPC-level failure")
	}
}

func TestRelayerBalance_UnparseableAmount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      "x402",
			"result":  map[string]any{"amount": "not-a-number"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error for an unparseable balance")
	}
}

func TestBase58Decode(t *testing.T) {
	// "11111111111111111111111111111111" is the all-zero 32-byte hash NEAR
	// uses as a placeholder; decoding it should yield 32 zero bytes.
	out, err := base58Decode("11111111111111111111111111111111")
	if err != nil {
		t.Fatalf("base58Decode: %v", err)
	}
	if len(out) != 32 {
		t.Fatalf("expected 32 bytes, got %d", len(out))
	}
	for i, b := range out {
		if b != 0 {
			t.Fatalf("expected zero byte at %d, got %d", i, b)
		}
	}
}
