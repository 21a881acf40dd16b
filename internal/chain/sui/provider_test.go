package sui

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
		Network:      caip2.NetworkID("sui:testnet"),
		RPCURL:       rpcURL,
		USDCCoinType: "0xusdc::usdc::USDC",
		RelayerSeed:  priv,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestRelayerBalance_ParsesMist(t *testing.T) {
	var gotMethod string
	var gotCoinType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string `json:"method"`
			Params []any  `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotMethod = req.Method
		if len(req.Params) == 2 {
			gotCoinType, _ = req.Params[1].(string)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"totalBalance": "3500000000"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	balance, unit, err := p.RelayerBalance(context.Background())
	if err != nil {
		t.Fatalf("RelayerBalance: %v", err)
	}
	if gotMethod != "suix_getBalance" {
		t.Fatalf("expected suix_getBalance, got %q", gotMethod)
	}
	if gotCoinType != nativeSuiCoinType {
		t.Fatalf("expected native coin type %q, got %q", nativeSuiCoinType, gotCoinType)
	}
	if unit != "SUI" {
		t.Fatalf("expected unit SUI, got %q", unit)
	}
	if balance != 3.5 {
		t.Fatalf("expected balance 3.5, got %v", balance)
	}
}

func TestRelayerBalance_InvalidTotalBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      1,
			"result":  map[string]any{"totalBalance": "nope"},
		})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	if _, _, err := p.RelayerBalance(context.Background()); err == nil {
		t.Fatal("expected an error for an unparseable totalBalance")
	}
}

func TestDeriveAddress_MatchesSignerAddress(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := New(Config{Network: caip2.NetworkID("sui:testnet"), RelayerSeed: priv}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	want := deriveAddress(signatureSchemeEd25519, pub)
	if hexAddress(want) != p.SignerAddress().Text {
		t.Fatalf("expected signer address %q, got %q", hexAddress(want), p.SignerAddress().Text)
	}
}

func TestDecodeEncodeSuiSignature_RoundTrip(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub := priv.Public().(ed25519.PublicKey)
	sig := ed25519.Sign(priv, []byte("hello"))
	raw := encodeSuiSignature(decodedSignature{scheme: signatureSchemeEd25519, sig: sig, pubkey: pub})

	decoded, err := decodeSuiSignature(raw)
	if err != nil {
		t.Fatalf("decodeSuiSignature: %v", err)
	}
	if !ed25519.Verify(decoded.pubkey, []byte("hello"), decoded.sig) {
		t.Fatal("round-tripped signature does not verify")
	}
}

func TestDecodeSuiSignature_RejectsWrongLength(t *testing.T) {
	if _, err := decodeSuiSignature([]byte{0x00, 0x01, 0x02}); err == nil {
		t.Fatal("expected an error for a too-short signature")
	}
}
