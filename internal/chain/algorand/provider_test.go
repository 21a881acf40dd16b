package algorand

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

func newTestProvider(t *testing.T, algodURL string) *Provider {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := New(Config{
		Network:     caip2.NetworkID("algorand:testnet"),
		AlgodURL:    algodURL,
		AlgodToken:  "test-token",
		RelayerSeed: priv,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRelayerBalance_ConvertsMicroAlgos(t *testing.T) {
	var gotToken string
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-Algo-API-Token")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"amount": uint64(7_250_000)})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	balance, unit, err := p.RelayerBalance(context.Background())
	if err != nil {
		t.Fatalf("RelayerBalance: %v", err)
	}
	if unit != "ALGO" {
		t.Fatalf("expected unit ALGO, got %q", unit)
	}
	if balance != 7.25 {
		t.Fatalf("expected balance 7.25, got %v", balance)
	}
	if gotToken != "test-token" {
		t.Fatalf("expected api token to be forwarded, got %q", gotToken)
	}
	if gotPath != "/v2/accounts/"+p.SignerAddress().Text {
		t.Fatalf("expected path /v2/accounts/%s, got %q", p.SignerAddress().Text, gotPath)
	}
}

func TestRelayerBalance_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("account does not exist"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error for a 404 response")
	}
}

func TestSubmitRaw_ParsesTxID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/x-binary" {
			t.Errorf("expected content type application/x-binary, got %q", r.Header.Get("Content-Type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"txId": "ABC123"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	txID, err := p.submitRaw(context.Background(), []byte{0x82})
	if err != nil {
		t.Fatalf("submitRaw: %v", err)
	}
	if txID != "ABC123" {
		t.Fatalf("expected txID ABC123, got %q", txID)
	}
}

func TestSubmitRaw_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("TransactionPool.Remember: transaction already in ledger"))
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, err := p.submitRaw(context.Background(), []byte{0x82}); err == nil {
		t.Fatal("expected an error for a 400 response")
	}
}
