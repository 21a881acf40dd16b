package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/config"
	"github.com/ultravioletadao/x402-facilitator/internal/metrics"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/compliance"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/dispatcher"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// fakeProvider is a minimal provider.Provider for handler tests.
type fakeProvider struct {
	network   caip2.NetworkID
	verifyOut types.VerifyResponse
	settleOut types.SettleResponse
}

func (p *fakeProvider) SignerAddress() types.MixedAddress { return types.MixedAddress{} }
func (p *fakeProvider) Network() caip2.NetworkID          { return p.network }
func (p *fakeProvider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	return p.verifyOut, nil
}
func (p *fakeProvider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	return p.settleOut, nil
}
func (p *fakeProvider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: []types.SupportedKind{
		{X402Version: 1, Scheme: types.SchemeExact, Network: p.network},
	}}
}

type fakeChecker struct{ decision compliance.Decision }

func (c *fakeChecker) ScreenPayment(ctx context.Context, payer, payee string, txCtx compliance.TransactionContext) (compliance.ScreeningResult, error) {
	return compliance.ScreeningResult{Decision: c.decision}, nil
}
func (c *fakeChecker) ScreenAddress(ctx context.Context, address string) (compliance.Decision, error) {
	return c.decision, nil
}
func (c *fakeChecker) ListMetadata() map[string]compliance.ListMetadata { return nil }
func (c *fakeChecker) ReloadLists(ctx context.Context) error            { return nil }

// validVerifyBody builds a well-formed EVM verify/settle request body:
// PaymentPayload.UnmarshalJSON rejects a null/missing chain-specific
// payload, so every handler test needs a real (if otherwise unchecked, for
// a fakeProvider that never inspects it) EVMExactPayload.
func validVerifyBody(t *testing.T, network caip2.NetworkID) []byte {
	t.Helper()
	req := types.VerifyRequest{
		X402Version: 1,
		PaymentPayload: types.PaymentPayload{
			X402Version: 1,
			Network:     network,
			Scheme:      types.SchemeExact,
			Payload: types.EVMExactPayload{
				Signature: "0xdeadbeef",
				Authorization: types.EVMAuthorization{
					From:        types.MixedAddress{Family: types.AddressEVM, Text: "0x1111111111111111111111111111111111111111"},
					To:          types.MixedAddress{Family: types.AddressEVM, Text: "0x2222222222222222222222222222222222222222"},
					Value:       types.AmountFromUint64(100),
					ValidAfter:  0,
					ValidBefore: 9999999999,
					Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000000",
				},
			},
		},
		PaymentRequirements: types.PaymentRequirements{
			Scheme:            types.SchemeExact,
			Network:           network,
			MaxAmountRequired: types.AmountFromUint64(100),
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal verify request: %v", err)
	}
	return body
}

// v1VerifyBody builds a well-formed v1-style verify/settle request body: a
// short network name ("base" rather than "eip155:8453") and the resource
// info carried at the envelope's top level rather than nested inside
// paymentRequirements, per spec §4.1.
func v1VerifyBody(t *testing.T, shortNetwork string) []byte {
	t.Helper()
	body := fmt.Sprintf(`{
		"x402Version": 1,
		"paymentPayload": {
			"x402Version": 1,
			"network": %q,
			"scheme": "exact",
			"payload": {
				"signature": "0xdeadbeef",
				"authorization": {
					"from": "0x1111111111111111111111111111111111111111",
					"to": "0x2222222222222222222222222222222222222222",
					"value": "100",
					"validAfter": 0,
					"validBefore": 9999999999,
					"nonce": "0x0000000000000000000000000000000000000000000000000000000000000000"
				}
			}
		},
		"paymentRequirements": {
			"scheme": "exact",
			"network": %q,
			"maxAmountRequired": "100"
		},
		"resource": {"url": "https://example.test/resource"}
	}`, shortNetwork, shortNetwork)
	return []byte(body)
}

func testHandlers(t *testing.T) handlers {
	t.Helper()
	eth := caip2.Eip155ID(8453)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x1111111111111111111111111111111111111111"}
	p := &fakeProvider{
		network:   eth,
		verifyOut: types.Valid(payer),
		settleOut: types.SettleResponse{Success: true, Payer: &payer, Network: eth},
	}
	disp := dispatcher.New(
		map[caip2.NetworkID]provider.Provider{eth: p},
		&fakeChecker{decision: compliance.Clear()},
		compliance.FailMode{},
		nil,
		zerolog.Nop(),
	)
	return handlers{
		cfg:        &config.Config{Logging: config.LoggingConfig{Environment: "test"}, Server: config.ServerConfig{FacilitatorURL: "https://facilitator.test"}},
		dispatcher: disp,
		metrics:    metrics.New(prometheus.NewRegistry()),
		logger:     zerolog.Nop(),
	}
}

func TestHealth(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.health(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Fatalf("expected status ok, got %q", resp.Status)
	}
}

func TestVersion(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/version", nil)
	rec := httptest.NewRecorder()
	h.version(rec, req)
	var resp versionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Environment != "test" {
		t.Fatalf("expected environment test, got %q", resp.Environment)
	}
}

func TestWellKnown(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/.well-known/x402", nil)
	rec := httptest.NewRecorder()
	h.wellKnown(rec, req)
	var resp wellKnownResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.FacilitatorURL != "https://facilitator.test" {
		t.Fatalf("expected facilitator url, got %q", resp.FacilitatorURL)
	}
}

func TestSupported(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/supported", nil)
	rec := httptest.NewRecorder()
	h.supported(rec, req)
	var resp types.SupportedPaymentKindsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Kinds) != 1 {
		t.Fatalf("expected 1 supported kind, got %d", len(resp.Kinds))
	}
}

func TestBlacklist(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodGet, "/blacklist", nil)
	rec := httptest.NewRecorder()
	h.blacklist(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestVerify_ValidPayment(t *testing.T) {
	h := testHandlers(t)
	body := validVerifyBody(t, caip2.Eip155ID(8453))
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid response, got %+v", resp)
	}
}

func TestVerify_V1ShortNetworkName(t *testing.T) {
	h := testHandlers(t)
	body := v1VerifyBody(t, "base") // eip155:8453, the network testHandlers wires up
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.VerifyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid response for a normalized v1 request, got %+v", resp)
	}
}

func TestVerify_V1UnknownNetworkName(t *testing.T) {
	h := testHandlers(t)
	body := v1VerifyBody(t, "not-a-real-network")
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for an unresolvable v1 network name, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestVerify_MalformedBody(t *testing.T) {
	h := testHandlers(t)
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestVerify_UnsupportedNetwork(t *testing.T) {
	h := testHandlers(t)
	body := validVerifyBody(t, caip2.Eip155ID(1))
	req := httptest.NewRequest(http.MethodPost, "/verify", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.verify(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported network, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSettle_SuccessfulSettlement(t *testing.T) {
	h := testHandlers(t)
	body := validVerifyBody(t, caip2.Eip155ID(8453))
	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.settle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected successful settlement, got %+v", resp)
	}
}

func TestSettle_V1ShortNetworkName(t *testing.T) {
	h := testHandlers(t)
	body := v1VerifyBody(t, "base")
	req := httptest.NewRequest(http.MethodPost, "/settle", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.settle(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp types.SettleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected successful settlement for a normalized v1 request, got %+v", resp)
	}
}
