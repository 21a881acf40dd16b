package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/compliance"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// fakeProvider is a minimal provider.Provider for routing tests; it never
// touches a chain.
type fakeProvider struct {
	network   caip2.NetworkID
	verifyOut types.VerifyResponse
	verifyErr error
	settleOut types.SettleResponse
	settleErr error
	kinds     []types.SupportedKind
}

func (p *fakeProvider) SignerAddress() types.MixedAddress { return types.MixedAddress{} }
func (p *fakeProvider) Network() caip2.NetworkID          { return p.network }
func (p *fakeProvider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	return p.verifyOut, p.verifyErr
}
func (p *fakeProvider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	return p.settleOut, p.settleErr
}
func (p *fakeProvider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: p.kinds}
}

// fakeChecker is a minimal compliance.Checker that never blocks unless told to.
type fakeChecker struct {
	decision compliance.Decision
	err      error
}

func (c *fakeChecker) ScreenPayment(ctx context.Context, payer, payee string, txCtx compliance.TransactionContext) (compliance.ScreeningResult, error) {
	if c.err != nil {
		return compliance.ScreeningResult{}, c.err
	}
	return compliance.ScreeningResult{Decision: c.decision, PayerAddress: payer, PayeeAddress: payee}, nil
}
func (c *fakeChecker) ScreenAddress(ctx context.Context, address string) (compliance.Decision, error) {
	return c.decision, c.err
}
func (c *fakeChecker) ListMetadata() map[string]compliance.ListMetadata { return nil }
func (c *fakeChecker) ReloadLists(ctx context.Context) error            { return nil }

func ethNetwork(t *testing.T) caip2.NetworkID {
	t.Helper()
	return caip2.Eip155ID(8453)
}

func solNetwork(t *testing.T) caip2.NetworkID {
	t.Helper()
	id, err := caip2.SolanaID("4uhcVJyU9pJkvQyS88uRDiswHXSCkY3zQawwpjk2NsNY")
	if err != nil {
		t.Fatalf("SolanaID: %v", err)
	}
	return id
}

func TestDispatcher_SupportedConcatenatesAllProviders(t *testing.T) {
	eth := ethNetwork(t)
	sol := solNetwork(t)

	evm := &fakeProvider{network: eth, kinds: []types.SupportedKind{{X402Version: 1, Scheme: types.SchemeExact, Network: eth}}}
	svm := &fakeProvider{network: sol, kinds: []types.SupportedKind{{X402Version: 1, Scheme: types.SchemeExact, Network: sol}}}

	d := New(
		map[caip2.NetworkID]provider.Provider{eth: evm, sol: svm},
		&fakeChecker{decision: compliance.Clear()},
		compliance.FailMode{},
		nil,
		zerolog.Nop(),
	)

	got := d.Supported()
	if len(got.Kinds) != 2 {
		t.Fatalf("expected 2 supported kinds, got %d", len(got.Kinds))
	}
}

func TestDispatcher_VerifyUnsupportedNetwork(t *testing.T) {
	eth := ethNetwork(t)
	d := New(map[caip2.NetworkID]provider.Provider{}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	_, err := d.Verify(context.Background(), req)
	if !errors.Is(err, ErrUnsupportedNetwork) {
		t.Fatalf("expected ErrUnsupportedNetwork, got %v", err)
	}
}

func TestDispatcher_VerifyScreensClearedPayer(t *testing.T) {
	eth := ethNetwork(t)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x1111111111111111111111111111111111111111"}
	evm := &fakeProvider{network: eth, verifyOut: types.Valid(payer)}

	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected valid response, got %+v", resp)
	}
}

func TestDispatcher_VerifyBlocksScreenedPayer(t *testing.T) {
	eth := ethNetwork(t)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x2222222222222222222222222222222222222222"}
	evm := &fakeProvider{network: eth, verifyOut: types.Valid(payer)}

	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, &fakeChecker{decision: compliance.Block("sanctioned")}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if resp.IsValid {
		t.Fatalf("expected blocked response, got %+v", resp)
	}
	if resp.Reason != types.ReasonBlockedAddress {
		t.Fatalf("expected ReasonBlockedAddress, got %q", resp.Reason)
	}
}

func TestDispatcher_VerifyFailOpenOnScreeningError(t *testing.T) {
	eth := ethNetwork(t)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x3333333333333333333333333333333333333333"}
	evm := &fakeProvider{network: eth, verifyOut: types.Valid(payer)}

	checker := &fakeChecker{err: errors.New("list backend unavailable")}
	failMode := compliance.FailMode{OnScreeningError: compliance.FailOpen}
	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, checker, failMode, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !resp.IsValid {
		t.Fatalf("expected fail-open to clear, got %+v", resp)
	}
}

func TestDispatcher_VerifyFailClosedOnScreeningError(t *testing.T) {
	eth := ethNetwork(t)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x4444444444444444444444444444444444444444"}
	evm := &fakeProvider{network: eth, verifyOut: types.Valid(payer)}

	checker := &fakeChecker{err: errors.New("list backend unavailable")}
	failMode := compliance.FailMode{OnScreeningError: compliance.FailClosed}
	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, checker, failMode, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if resp.IsValid {
		t.Fatalf("expected fail-closed to block, got %+v", resp)
	}
}

func TestDispatcher_SettleRejectsInvalidPreCheck(t *testing.T) {
	eth := ethNetwork(t)
	evm := &fakeProvider{network: eth, verifyOut: types.Invalid(types.ReasonInsufficientFunds, nil)}

	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.SettleRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if resp.Success {
		t.Fatalf("expected settle to fail on invalid pre-check, got %+v", resp)
	}
	if resp.ErrorReason != types.ReasonInsufficientFunds {
		t.Fatalf("expected ReasonInsufficientFunds, got %q", resp.ErrorReason)
	}
}

func TestDispatcher_SettleDelegatesOnClearScreen(t *testing.T) {
	eth := ethNetwork(t)
	payer := types.MixedAddress{Family: types.AddressEVM, Text: "0x5555555555555555555555555555555555555555"}
	evm := &fakeProvider{
		network:   eth,
		verifyOut: types.Valid(payer),
		settleOut: types.SettleResponse{Success: true, Payer: &payer, Network: eth},
	}

	d := New(map[caip2.NetworkID]provider.Provider{eth: evm}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.SettleRequest{PaymentRequirements: types.PaymentRequirements{Network: eth}}
	resp, err := d.Settle(context.Background(), req)
	if err != nil {
		t.Fatalf("Settle: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected settle success, got %+v", resp)
	}
}

func TestDispatcher_VerifyFHEWithoutProxyIsInvalidScheme(t *testing.T) {
	d := New(map[caip2.NetworkID]provider.Provider{}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	req := types.VerifyRequest{PaymentRequirements: types.PaymentRequirements{Scheme: types.SchemeFHETransfer}}
	resp, err := d.Verify(context.Background(), req)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if resp.IsValid || resp.Reason != types.ReasonInvalidScheme {
		t.Fatalf("expected invalid-scheme response, got %+v", resp)
	}
}

func TestDispatcher_BlacklistInfoWithoutMultiListChecker(t *testing.T) {
	d := New(map[caip2.NetworkID]provider.Provider{}, &fakeChecker{decision: compliance.Clear()}, compliance.FailMode{}, nil, zerolog.Nop())

	info := d.BlacklistInfo()
	if _, ok := info["blacklist_total"]; ok {
		t.Fatalf("expected no blacklist_total for a non-MultiListChecker, got %+v", info)
	}
	if _, ok := info["lists"]; !ok {
		t.Fatalf("expected lists key, got %+v", info)
	}
}
