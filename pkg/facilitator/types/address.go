package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// AddressFamily tags which chain family a MixedAddress belongs to.
type AddressFamily string

const (
	AddressEVM     AddressFamily = "evm"
	AddressSolana  AddressFamily = "solana"
	AddressNear    AddressFamily = "near"
	AddressStellar AddressFamily = "stellar"
	AddressAlgo    AddressFamily = "algorand"
	AddressSui     AddressFamily = "sui"
)

// MixedAddress is a tagged union over every address format the facilitator's
// chain providers understand. Display renders the canonical textual form for
// the address's own family; equality is family-aware and case-insensitive
// for families whose underlying chain treats case as cosmetic (EVM, Stellar
// pubkey strkey, NEAR account id, Algorand base32).
type MixedAddress struct {
	Family AddressFamily
	Text   string // canonical textual form, as supplied by the chain-specific parser
}

// NewEVMAddress validates and wraps a 20-byte hex EVM address ("0x" + 40 hex chars).
func NewEVMAddress(s string) (MixedAddress, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) != 40 {
		return MixedAddress{}, fmt.Errorf("address: evm address must be 20 bytes hex: %q", s)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != 20 {
		return MixedAddress{}, fmt.Errorf("address: evm address must be 20 bytes hex: %q", s)
	}
	return MixedAddress{Family: AddressEVM, Text: "0x" + strings.ToLower(trimmed)}, nil
}

// NewSolanaAddress wraps a base58 Solana public key without decoding it (the
// SVM provider validates length/curve membership when it actually needs the
// raw bytes).
func NewSolanaAddress(base58 string) (MixedAddress, error) {
	if base58 == "" {
		return MixedAddress{}, fmt.Errorf("address: empty solana address")
	}
	return MixedAddress{Family: AddressSolana, Text: base58}, nil
}

// NewNearAddress wraps a NEAR account id (e.g. "alice.near" or a 64-char hex implicit account).
func NewNearAddress(accountID string) (MixedAddress, error) {
	if accountID == "" {
		return MixedAddress{}, fmt.Errorf("address: empty near account id")
	}
	return MixedAddress{Family: AddressNear, Text: accountID}, nil
}

// NewStellarAddress wraps a Stellar strkey (Ed25519 "G..." or contract "C...").
func NewStellarAddress(strkey string) (MixedAddress, error) {
	if len(strkey) == 0 {
		return MixedAddress{}, fmt.Errorf("address: empty stellar address")
	}
	return MixedAddress{Family: AddressStellar, Text: strkey}, nil
}

// NewAlgorandAddress wraps a 58-char base32 Algorand address.
func NewAlgorandAddress(addr string) (MixedAddress, error) {
	if len(addr) != 58 {
		return MixedAddress{}, fmt.Errorf("address: algorand address must be 58 base32 chars: %q", addr)
	}
	return MixedAddress{Family: AddressAlgo, Text: addr}, nil
}

// NewSuiAddress wraps a 32-byte hex Sui address ("0x" + 64 hex chars).
func NewSuiAddress(s string) (MixedAddress, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if len(trimmed) != 64 {
		return MixedAddress{}, fmt.Errorf("address: sui address must be 32 bytes hex: %q", s)
	}
	if _, err := hex.DecodeString(trimmed); err != nil {
		return MixedAddress{}, fmt.Errorf("address: sui address must be 32 bytes hex: %q", s)
	}
	return MixedAddress{Family: AddressSui, Text: "0x" + strings.ToLower(trimmed)}, nil
}

// String renders the canonical textual form.
func (a MixedAddress) String() string { return a.Text }

// caseInsensitive reports whether equality for this family ignores case.
func (f AddressFamily) caseInsensitive() bool {
	switch f {
	case AddressEVM, AddressStellar, AddressNear, AddressAlgo:
		return true
	default:
		return false
	}
}

// Equal compares two addresses, applying per-family case sensitivity.
func (a MixedAddress) Equal(b MixedAddress) bool {
	if a.Family != b.Family {
		return false
	}
	if a.Family.caseInsensitive() {
		return strings.EqualFold(a.Text, b.Text)
	}
	return a.Text == b.Text
}

func (a MixedAddress) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Text)
}

func (a *MixedAddress) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	a.Text = s
	a.Family = guessFamily(s)
	return nil
}

// guessFamily infers a family from surface syntax alone, used only when
// decoding a bare address string whose family isn't otherwise known from
// context (e.g. compliance screening input). Providers that need a
// family-asserted address should construct it with the New*Address
// constructor for their own family instead of relying on this guess.
func guessFamily(s string) AddressFamily {
	switch {
	case strings.HasPrefix(s, "0x") && len(s) == 42:
		return AddressEVM
	case strings.HasPrefix(s, "0x") && len(s) == 66:
		return AddressSui
	case len(s) == 58:
		return AddressAlgo
	case strings.HasPrefix(s, "G") || strings.HasPrefix(s, "C"):
		return AddressStellar
	case strings.Contains(s, "."):
		return AddressNear
	default:
		return AddressSolana
	}
}
