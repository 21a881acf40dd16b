package stellar

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

func newTestProvider(t *testing.T, horizonURL string) *Provider {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	var relayerRaw [32]byte
	copy(relayerRaw[:], priv.Public().(ed25519.PublicKey))
	p, err := New(Config{
		Network:           caip2.NetworkID("stellar:testnet"),
		HorizonURL:        horizonURL,
		NetworkPassphrase: "Test SDF Network ; September 2015",
		RelayerSeed:       priv,
		RelayerAcctID:     accountStrkey(relayerRaw),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRelayerBalance_ReturnsNativeBalance(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balances": []map[string]any{
				{"asset_type": "credit_alphanum4", "balance": "500.0000000"},
				{"asset_type": "native", "balance": "123.4500000"},
			},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	balance, unit, err := p.RelayerBalance(context.Background())
	if err != nil {
		t.Fatalf("RelayerBalance: %v", err)
	}
	if unit != "XLM" {
		t.Fatalf("expected unit XLM, got %q", unit)
	}
	if balance != 123.45 {
		t.Fatalf("expected balance 123.45, got %v", balance)
	}
	if gotPath != "/accounts/"+p.cfg.RelayerAcctID {
		t.Fatalf("expected path /accounts/%s, got %q", p.cfg.RelayerAcctID, gotPath)
	}
}

func TestRelayerBalance_NoNativeEntry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"balances": []map[string]any{
				{"asset_type": "credit_alphanum4", "balance": "500.0000000"},
			},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error when no native balance entry is present")
	}
}

func TestAccountSequence_ParsesSequenceNumber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"sequence": "4294967296"})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	seq, err := p.accountSequence(context.Background(), p.cfg.RelayerAcctID)
	if err != nil {
		t.Fatalf("accountSequence: %v", err)
	}
	if seq != 4294967296 {
		t.Fatalf("expected sequence 4294967296, got %d", seq)
	}
}

func TestStrkeyRoundTrip(t *testing.T) {
	var raw [32]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	encoded := accountStrkey(raw)
	addr, err := types.NewStellarAddress(encoded)
	if err != nil {
		t.Fatalf("NewStellarAddress: %v", err)
	}
	if addr.Text != encoded {
		t.Fatalf("expected round-tripped address %q, got %q", encoded, addr.Text)
	}
}
