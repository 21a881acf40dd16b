// Package provider defines the uniform contract every chain-family
// implementation satisfies, plus the common precondition checks each
// provider runs before its chain-specific logic.
package provider

import (
	"context"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// Provider is implemented once per chain family (EVM, SVM, NEAR, Stellar,
// Algorand, Sui). A provider instance owns exactly one signer and is safe
// for concurrent use.
type Provider interface {
	// SignerAddress is the facilitator's own address on this chain — the fee
	// payer / relayer / gas sponsor, depending on family.
	SignerAddress() types.MixedAddress

	// Network is the CAIP-2 id this provider instance serves.
	Network() caip2.NetworkID

	// Verify performs structural, signature, and balance checks. It makes no
	// state change and issues read-only RPC calls only.
	Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error)

	// Settle re-verifies, then submits the authorized transfer on-chain and
	// waits for confirmation.
	Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error)

	// Supported lists the (x402Version, scheme, network) kinds this provider accepts.
	Supported() types.SupportedPaymentKindsResponse
}

// BalanceReporter is implemented by providers that can report their own
// relayer/fee-payer native-currency balance, so operators can be alerted
// before a chain's relayer runs dry and starts failing Settle calls. The
// balance monitor treats a provider that doesn't implement it as simply
// unmonitored, never as an error.
type BalanceReporter interface {
	// RelayerBalance returns the signer's native balance in the chain's
	// smallest display unit (e.g. SOL, ETH — not lamports/wei) plus the unit
	// symbol for alert formatting.
	RelayerBalance(ctx context.Context) (balance float64, unit string, err error)
}

// CheckPreconditions runs the network, scheme and payload-family checks of
// the five checks common to every provider (spec §4.3); CheckReceiver and
// CheckMinimumAmount are the other two. A provider calls this first in both
// Verify and Settle; a non-nil reason means the caller should return
// Invalid{reason} (or the settle equivalent) immediately.
func CheckPreconditions(req types.VerifyRequest, providerNetwork caip2.NetworkID, payloadFamily types.AddressFamily) (types.InvalidReason, bool) {
	if req.PaymentPayload.Network != providerNetwork {
		return types.ReasonInvalidNetwork, false
	}
	if req.PaymentPayload.Scheme != req.PaymentRequirements.Scheme {
		return types.ReasonInvalidScheme, false
	}
	if declared := types.FamilyFor(req.PaymentPayload.Network); declared != payloadFamily {
		return types.ReasonInvalidScheme, false
	}
	return "", true
}

// CheckReceiver compares the authorization's recipient against the
// requirements' payTo, applying the family's case sensitivity.
func CheckReceiver(authorizedTo, requiredPayTo types.MixedAddress) (types.InvalidReason, bool) {
	if !authorizedTo.Equal(requiredPayTo) {
		return types.ReasonReceiverMismatch, false
	}
	return "", true
}

// CheckMinimumAmount enforces the minimum-payment rule: the authorized value
// must be at least the required amount. The facilitator always settles
// exactly the authorized value, never more and never less.
func CheckMinimumAmount(authorized, required types.Amount) (types.InvalidReason, bool) {
	if !authorized.GTE(required) {
		return types.ReasonInsufficientFunds, false
	}
	return "", true
}
