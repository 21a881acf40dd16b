// Package dispatcher implements the facilitator's routing layer: compliance
// screening and provider lookup around every verify/settle call (spec.md
// §4.4). Provider errors are returned to the caller unchanged; they are not
// converted into types.FacilitatorError.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/fheproxy"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/compliance"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// ErrUnsupportedNetwork is returned when no provider is registered for the
// requested network; the HTTP layer maps this to ErrCodeUnsupportedNetwork.
var ErrUnsupportedNetwork = errors.New("dispatcher: unsupported network")

// Dispatcher routes verify/settle requests to the right chain provider,
// screening both parties against the compliance checker before any Valid
// or settled result is returned.
//
// Five of the six chain payload formats (everything but EVM) reveal the
// payer only by decoding an opaque signed blob, which is exactly what
// Provider.Verify already does as its structural check — there is no
// cheaper way to learn the payer than to run it. So unlike the single
// EVM-only extractor this is grounded on, screening here runs immediately
// after the provider's Verify call resolves a payer, rather than before the
// provider is invoked at all: the spec's intent (no unscreened payment ever
// reaches a Valid/settled response) is preserved, even though the literal
// step order (screen, then verify) is adapted to this module's multi-chain
// shape. See DESIGN.md.
type Dispatcher struct {
	providers map[caip2.NetworkID]provider.Provider
	checker   compliance.Checker
	failMode  compliance.FailMode
	fhe       *fheproxy.Proxy // nil disables fhe-transfer routing entirely
	log       zerolog.Logger
}

func New(providers map[caip2.NetworkID]provider.Provider, checker compliance.Checker, failMode compliance.FailMode, fhe *fheproxy.Proxy, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{providers: providers, checker: checker, failMode: failMode, fhe: fhe, log: log.With().Str("component", "dispatcher").Logger()}
}

func (d *Dispatcher) providerFor(network caip2.NetworkID) (provider.Provider, error) {
	p, ok := d.providers[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	return p, nil
}

// screen runs compliance screening for one already-Valid verify result. On
// a screening error, behavior follows d.failMode.OnScreeningError: FailOpen
// treats the attempt as Clear; FailClosed blocks. Either way the error is
// logged through the dispatcher's logger; no compliance audit event is
// emitted for it.
func (d *Dispatcher) screen(ctx context.Context, req types.VerifyRequest, payer types.MixedAddress) (types.InvalidReason, bool) {
	txCtx := compliance.TransactionContext{
		Amount:   req.PaymentRequirements.MaxAmountRequired.String(),
		Currency: req.PaymentRequirements.Asset.String(),
		Network:  req.PaymentRequirements.Network.String(),
	}
	result, err := d.checker.ScreenPayment(ctx, payer.String(), req.PaymentRequirements.PayTo.String(), txCtx)
	if err != nil {
		d.log.Error().Err(err).Msg("screening error")
		if d.failMode.OnScreeningError == compliance.FailOpen {
			return "", true
		}
		return types.ReasonBlockedAddress, false
	}
	if result.Decision.BlocksSettlement() {
		d.log.Warn().Str("reason", result.Decision.Reason).Msg("payment blocked by compliance screen")
		return types.ReasonBlockedAddress, false
	}
	return "", true
}

// Verify looks up the provider, runs its structural/signature/balance
// check, and — for an otherwise-Valid result — screens both parties before
// returning Valid to the caller. A fhe-transfer request never reaches a
// local provider; it is relayed to the FHE proxy instead (spec.md §4.6).
func (d *Dispatcher) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	if req.PaymentRequirements.Scheme == types.SchemeFHETransfer {
		return d.verifyFHE(ctx, req)
	}

	p, err := d.providerFor(req.PaymentRequirements.Network)
	if err != nil {
		return types.VerifyResponse{}, err
	}

	resp, err := p.Verify(ctx, req)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	if !resp.IsValid || resp.Payer == nil {
		return resp, nil
	}

	if reason, ok := d.screen(ctx, req, *resp.Payer); !ok {
		return types.Invalid(reason, resp.Payer), nil
	}
	return resp, nil
}

func (d *Dispatcher) verifyFHE(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	if d.fhe == nil {
		return types.Invalid(types.ReasonInvalidScheme, nil), nil
	}
	resp, err := d.fhe.Verify(ctx, req)
	if err != nil {
		return types.VerifyResponse{}, err
	}
	if !resp.IsValid || resp.Payer == nil {
		return resp, nil
	}
	if reason, ok := d.screen(ctx, req, *resp.Payer); !ok {
		return types.Invalid(reason, resp.Payer), nil
	}
	return resp, nil
}

// Settle runs the same screen as Verify, then — only if it clears —
// delegates to the provider's Settle, which re-verifies on its own before
// submitting on-chain. A fhe-transfer request is relayed to the FHE proxy
// instead of any local provider.
func (d *Dispatcher) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	if req.PaymentRequirements.Scheme == types.SchemeFHETransfer {
		return d.settleFHE(ctx, req)
	}

	p, err := d.providerFor(req.PaymentRequirements.Network)
	if err != nil {
		return types.SettleResponse{}, err
	}

	preCheck, err := p.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !preCheck.IsValid {
		return types.SettleResponse{Success: false, Payer: preCheck.Payer, Network: req.PaymentRequirements.Network, ErrorReason: preCheck.Reason}, nil
	}
	if reason, ok := d.screen(ctx, req, *preCheck.Payer); !ok {
		return types.SettleResponse{Success: false, Payer: preCheck.Payer, Network: req.PaymentRequirements.Network, ErrorReason: reason}, nil
	}

	return p.Settle(ctx, req)
}

func (d *Dispatcher) settleFHE(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	if d.fhe == nil {
		return types.SettleResponse{Success: false, Network: req.PaymentRequirements.Network, ErrorReason: types.ReasonInvalidScheme}, nil
	}
	preCheck, err := d.fhe.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !preCheck.IsValid {
		return types.SettleResponse{Success: false, Payer: preCheck.Payer, Network: req.PaymentRequirements.Network, ErrorReason: preCheck.Reason}, nil
	}
	if reason, ok := d.screen(ctx, req, *preCheck.Payer); !ok {
		return types.SettleResponse{Success: false, Payer: preCheck.Payer, Network: req.PaymentRequirements.Network, ErrorReason: reason}, nil
	}
	return d.fhe.Settle(ctx, req)
}

// Supported concatenates every registered provider's supported kinds.
func (d *Dispatcher) Supported() types.SupportedPaymentKindsResponse {
	var kinds []types.SupportedKind
	for _, p := range d.providers {
		kinds = append(kinds, p.Supported().Kinds...)
	}
	return types.SupportedPaymentKindsResponse{Kinds: kinds}
}

// BlacklistInfo reports blacklist counts and source metadata for operators.
func (d *Dispatcher) BlacklistInfo() map[string]any {
	info := map[string]any{
		"lists": d.checker.ListMetadata(),
	}
	if mlc, ok := d.checker.(*compliance.MultiListChecker); ok && mlc.Blacklist() != nil {
		bl := mlc.Blacklist()
		info["blacklist_total"] = bl.TotalBlocked()
		info["blacklist_entries"] = bl.Entries()
	}
	return info
}
