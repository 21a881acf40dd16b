package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

// Scheme names a settlement mechanism within a network. "exact" is the
// primary scheme specified here; "fhe-transfer" is routed to an external
// confidential-payment backend; extensions may introduce more.
type Scheme string

const (
	SchemeExact       Scheme = "exact"
	SchemeFHETransfer Scheme = "fhe-transfer"
)

// ChainPayload is implemented by exactly one struct per chain family. It
// exists only to make the tagged union's closed set explicit at compile
// time; callers type-switch on the concrete type they expect for a given
// network's namespace.
type ChainPayload interface {
	chainPayload()
}

// EVMExactPayload carries an EIP-712 TransferWithAuthorization (ERC-3009) and its signature.
type EVMExactPayload struct {
	Signature     string       `json:"signature"`
	Authorization EVMAuthorization `json:"authorization"`
}

func (EVMExactPayload) chainPayload() {}

// EVMAuthorization mirrors the ERC-3009 TransferWithAuthorization struct fields.
type EVMAuthorization struct {
	From        MixedAddress `json:"from"`
	To          MixedAddress `json:"to"`
	Value       Amount       `json:"value"`
	ValidAfter  int64        `json:"validAfter"`
	ValidBefore int64        `json:"validBefore"`
	Nonce       string       `json:"nonce"` // 32-byte hex
}

// SVMExactPayload carries a base64 partially-signed Solana/SVM transaction (user-signed, facilitator co-signs as fee payer).
type SVMExactPayload struct {
	Transaction string `json:"transaction"`
}

func (SVMExactPayload) chainPayload() {}

// NearExactPayload carries a base64 borsh-encoded NEP-366 SignedDelegateAction.
type NearExactPayload struct {
	SignedDelegateAction string `json:"signedDelegateAction"`
}

func (NearExactPayload) chainPayload() {}

// StellarExactPayload carries an XDR-encoded Soroban authorization entry.
type StellarExactPayload struct {
	AuthorizationEntry string `json:"authorizationEntry"`
}

func (StellarExactPayload) chainPayload() {}

// AlgorandExactPayload carries a base64 signed ASA transfer, to be joined into
// a facilitator-funded atomic group.
type AlgorandExactPayload struct {
	SignedTransaction string `json:"signedTransaction"`
}

func (AlgorandExactPayload) chainPayload() {}

// SuiExactPayload carries a base64 BCS TransactionData plus the sender's signature (facilitator co-signs as gas sponsor).
type SuiExactPayload struct {
	TransactionData string `json:"transactionData"`
	SenderSignature string `json:"senderSignature"`
}

func (SuiExactPayload) chainPayload() {}

// PaymentPayload is the versioned, chain-agnostic envelope carrying a signed
// payment authorization.
type PaymentPayload struct {
	X402Version int             `json:"x402Version"`
	Network     caip2.NetworkID `json:"network"`
	Scheme      Scheme          `json:"scheme"`
	Payload     ChainPayload    `json:"-"`
}

// FamilyFor returns the address family that corresponds to a network's CAIP-2 namespace.
func FamilyFor(n caip2.NetworkID) AddressFamily {
	switch n.Namespace() {
	case caip2.Eip155:
		return AddressEVM
	case caip2.Solana, caip2.Fogo:
		return AddressSolana
	case caip2.Near:
		return AddressNear
	case caip2.Stellar:
		return AddressStellar
	case caip2.Algorand:
		return AddressAlgo
	case caip2.Sui:
		return AddressSui
	default:
		return ""
	}
}

// envelopeWire is the raw JSON shape before the payload variant is resolved
// against the network's chain family.
type envelopeWire struct {
	X402Version int             `json:"x402Version"`
	Network     caip2.NetworkID `json:"network"`
	Scheme      Scheme          `json:"scheme"`
	Payload     json.RawMessage `json:"payload"`
}

// UnmarshalJSON decodes the envelope, then decodes Payload into the concrete
// ChainPayload type that matches Network's family. A payload shape that
// doesn't match the declared network's family is a decoding error, not a
// silent zero value — the dispatcher's precondition checks rely on this.
func (p *PaymentPayload) UnmarshalJSON(data []byte) error {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("types: decode payment payload envelope: %w", err)
	}
	p.X402Version = wire.X402Version
	p.Network = wire.Network
	p.Scheme = wire.Scheme

	if len(wire.Payload) == 0 || string(wire.Payload) == "null" {
		return fmt.Errorf("types: payment payload missing chain-specific payload")
	}

	// Fields the family's payload type does not declare are rejected, so a
	// payload shaped for another family fails here. fhe-transfer payloads are
	// not checked this way.
	decode := func(v any) error {
		dec := json.NewDecoder(bytes.NewReader(wire.Payload))
		if wire.Scheme != SchemeFHETransfer {
			dec.DisallowUnknownFields()
		}
		return dec.Decode(v)
	}

	switch wire.Network.Namespace() {
	case caip2.Eip155:
		var v EVMExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode evm payload: %w", err)
		}
		p.Payload = v
	case caip2.Solana, caip2.Fogo:
		var v SVMExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode svm payload: %w", err)
		}
		p.Payload = v
	case caip2.Near:
		var v NearExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode near payload: %w", err)
		}
		p.Payload = v
	case caip2.Stellar:
		var v StellarExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode stellar payload: %w", err)
		}
		p.Payload = v
	case caip2.Algorand:
		var v AlgorandExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode algorand payload: %w", err)
		}
		p.Payload = v
	case caip2.Sui:
		var v SuiExactPayload
		if err := decode(&v); err != nil {
			return fmt.Errorf("types: decode sui payload: %w", err)
		}
		p.Payload = v
	default:
		return fmt.Errorf("types: unrecognized network namespace %q", wire.Network.Namespace())
	}
	return nil
}

func (p PaymentPayload) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(p.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeWire{
		X402Version: p.X402Version,
		Network:     p.Network,
		Scheme:      p.Scheme,
		Payload:     raw,
	})
}

// ResourceInfo describes the resource being paid for, separated from
// PaymentRequirements so one resource can expose multiple requirements.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
	Type        string `json:"type,omitempty"`
}

// PaymentRequirements is what the merchant will accept for a resource.
type PaymentRequirements struct {
	Scheme            Scheme          `json:"scheme"`
	Network           caip2.NetworkID `json:"network"`
	Asset             MixedAddress    `json:"asset"`
	PayTo             MixedAddress    `json:"payTo"`
	MaxAmountRequired Amount          `json:"maxAmountRequired"`
	MaxTimeoutSeconds int64           `json:"maxTimeoutSeconds"`
	Extensions        map[string]json.RawMessage `json:"extensions,omitempty"`
	Resource          *ResourceInfo   `json:"resource,omitempty"`
}

// VerifyRequest is the body of POST /verify and POST /settle.
type VerifyRequest struct {
	X402Version         int                 `json:"x402Version"`
	PaymentPayload      PaymentPayload      `json:"paymentPayload"`
	PaymentRequirements PaymentRequirements `json:"paymentRequirements"`
}

// SettleRequest has the same shape as VerifyRequest; settlement re-verifies
// before submitting.
type SettleRequest = VerifyRequest

// VerifyResponse reports whether a payload is a sound, fundable authorization.
type VerifyResponse struct {
	IsValid bool          `json:"isValid"`
	Reason  InvalidReason `json:"invalidReason,omitempty"`
	Payer   *MixedAddress `json:"payer,omitempty"`
}

// Valid builds a successful VerifyResponse.
func Valid(payer MixedAddress) VerifyResponse {
	return VerifyResponse{IsValid: true, Payer: &payer}
}

// Invalid builds a failed VerifyResponse. payer may be nil if it could not be determined.
func Invalid(reason InvalidReason, payer *MixedAddress) VerifyResponse {
	return VerifyResponse{IsValid: false, Reason: reason, Payer: payer}
}

// TransactionHash is a chain-family-tagged transaction identifier.
type TransactionHash struct {
	Family AddressFamily `json:"-"`
	Value  string        `json:"value"`
}

func (h TransactionHash) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Value)
}

// SettleResponse reports the outcome of an on-chain settlement attempt.
type SettleResponse struct {
	Success     bool            `json:"success"`
	Payer       *MixedAddress   `json:"payer,omitempty"`
	Transaction *TransactionHash `json:"transaction,omitempty"`
	Network     caip2.NetworkID `json:"network"`
	ErrorReason InvalidReason   `json:"errorReason,omitempty"`
}

// SupportedKind is one entry of the supported (x402Version, scheme, network) cartesian product.
type SupportedKind struct {
	X402Version int             `json:"x402Version"`
	Scheme      Scheme          `json:"scheme"`
	Network     caip2.NetworkID `json:"network"`
	Extra       map[string]any  `json:"extra,omitempty"`
}

// SupportedPaymentKindsResponse lists every (version, scheme, network) triple this facilitator accepts.
type SupportedPaymentKindsResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// mustBigInt is a small helper kept for callers that still need a *big.Int
// (e.g. ABI encoding in the EVM provider) from an Amount.
func mustBigInt(a Amount) *big.Int {
	v, _ := new(big.Int).SetString(a.String(), 10)
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

// BigInt exposes the underlying *big.Int for ABI/ RPC encoding call sites outside this package.
func (a Amount) BigInt() *big.Int { return new(big.Int).Set(mustBigInt(a)) }
