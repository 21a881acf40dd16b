package evm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

// jsonRPCStub answers a fixed set of eth_* methods with canned results,
// mimicking just enough of a node's JSON-RPC surface for sendTransaction.
func jsonRPCStub(t *testing.T, responses map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode rpc request: %v", err)
		}
		result, ok := responses[req.Method]
		if !ok {
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func newTestProvider(t *testing.T, rpcURL string) *Provider {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	p, err := New(context.Background(), Config{
		Network:      caip2.NetworkID("eip155:84532"),
		ChainID:      84532,
		RPCURL:       rpcURL,
		SignerHexKey: common.Bytes2Hex(crypto.FromECDSA(key)),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func TestSendTransaction_Success(t *testing.T) {
	srv := jsonRPCStub(t, map[string]any{
		"eth_chainId":              "0x14a34",
		"eth_getTransactionCount":  "0x5",
		"eth_gasPrice":             "0x3b9aca00",
		"eth_estimateGas":          "0x5208",
		"eth_sendRawTransaction":   "0x" + common.Bytes2Hex(make([]byte, 32)),
	})
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	hash, err := p.sendTransaction(context.Background(), to, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("sendTransaction: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatal("expected a non-zero transaction hash")
	}
}

func TestSendTransaction_EstimateGasFailureFallsBackToDefaultLimit(t *testing.T) {
	var gotParams []any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []any           `json:"params"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "eth_getTransactionCount":
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0x1"})
		case "eth_gasPrice":
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0x3b9aca00"})
		case "eth_estimateGas":
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": "execution reverted"}})
		case "eth_sendRawTransaction":
			gotParams = req.Params
			_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": "0x" + common.Bytes2Hex(make([]byte, 32))})
		default:
			t.Fatalf("unexpected rpc method %q", req.Method)
		}
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	if _, err := p.sendTransaction(context.Background(), to, []byte{0x01}); err != nil {
		t.Fatalf("sendTransaction: %v", err)
	}
	if len(gotParams) == 0 {
		t.Fatal("expected the raw transaction to still be submitted despite the gas estimate failure")
	}
}

func TestSendTransaction_NonceFetchFailurePropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"jsonrpc": "2.0", "id": req.ID, "error": map[string]any{"code": -32000, "message": "rpc unavailable"}})
	}))
	defer srv.Close()

	p := newTestProvider(t, srv.URL)
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	if _, err := p.sendTransaction(context.Background(), to, []byte{0x01}); err == nil {
		t.Fatal("expected an error when fetching the pending nonce fails")
	}
}
