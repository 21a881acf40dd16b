// Package caip2 implements Chain Agnostic Improvement Proposal 2 network
// identifiers: the "namespace:reference" scheme used throughout the x402
// protocol to name a blockchain network independent of any one SDK.
//
// algorand and sui are not part of upstream CAIP-2 namespace registrations;
// they're modeled here the same way fogo is so every provider, including the
// atomic-group and sponsored-transaction chains, can be addressed through one
// NetworkID type.
//
// Reference: https://github.com/ChainAgnostic/CAIPs/blob/main/CAIPs/caip-2.md
package caip2

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespace identifies a family of chains that share an address/signature format.
type Namespace string

const (
	Eip155   Namespace = "eip155"
	Solana   Namespace = "solana"
	Near     Namespace = "near"
	Stellar  Namespace = "stellar"
	Fogo     Namespace = "fogo"
	Algorand Namespace = "algorand"
	Sui      Namespace = "sui"
)

// ParseError reports why a CAIP-2 string failed to parse.
type ParseError struct {
	Kind      string
	Namespace string
	Reference string
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case "format":
		return fmt.Sprintf("invalid CAIP-2 format (expected 'namespace:reference'): %s", e.Reference)
	case "namespace":
		return fmt.Sprintf("unknown CAIP-2 namespace: %s", e.Namespace)
	case "chain_id":
		return fmt.Sprintf("invalid EVM chain ID (must be positive integer): %s", e.Reference)
	case "genesis_hash":
		return fmt.Sprintf("invalid Solana genesis hash (must be base58): %s", e.Reference)
	case "network_name":
		return fmt.Sprintf("invalid %s network name: %s", e.Namespace, e.Reference)
	default:
		return fmt.Sprintf("invalid CAIP-2 identifier: %s:%s", e.Namespace, e.Reference)
	}
}

// NetworkID is a validated CAIP-2 identifier.
type NetworkID struct {
	namespace Namespace
	reference string
}

// New validates reference against namespace's syntax rules and builds a NetworkID.
func New(namespace Namespace, reference string) (NetworkID, error) {
	switch namespace {
	case Eip155:
		if _, err := strconv.ParseUint(reference, 10, 64); err != nil {
			return NetworkID{}, &ParseError{Kind: "chain_id", Reference: reference}
		}
	case Solana:
		if !validGenesisHash(reference) {
			return NetworkID{}, &ParseError{Kind: "genesis_hash", Reference: reference}
		}
	case Near:
		if reference != "mainnet" && reference != "testnet" {
			return NetworkID{}, &ParseError{Kind: "network_name", Namespace: "near", Reference: reference}
		}
	case Stellar:
		if reference != "pubnet" && reference != "testnet" {
			return NetworkID{}, &ParseError{Kind: "network_name", Namespace: "stellar", Reference: reference}
		}
	case Fogo:
		if reference != "mainnet" && reference != "testnet" {
			return NetworkID{}, &ParseError{Kind: "network_name", Namespace: "fogo", Reference: reference}
		}
	case Algorand:
		if reference != "mainnet" && reference != "testnet" {
			return NetworkID{}, &ParseError{Kind: "network_name", Namespace: "algorand", Reference: reference}
		}
	case Sui:
		if reference != "mainnet" && reference != "testnet" {
			return NetworkID{}, &ParseError{Kind: "network_name", Namespace: "sui", Reference: reference}
		}
	default:
		return NetworkID{}, &ParseError{Kind: "namespace", Namespace: string(namespace)}
	}
	return NetworkID{namespace: namespace, reference: reference}, nil
}

func validGenesisHash(reference string) bool {
	if reference == "" || len(reference) > 50 {
		return false
	}
	for _, c := range reference {
		if c == '0' || c == 'O' || c == 'I' || c == 'l' {
			return false
		}
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum {
			return false
		}
	}
	return true
}

// Eip155ID builds a CAIP-2 id for an EIP-155 chain from its numeric chain id.
func Eip155ID(chainID uint64) NetworkID {
	return NetworkID{namespace: Eip155, reference: strconv.FormatUint(chainID, 10)}
}

// SolanaID builds a CAIP-2 id for Solana/SVM chains from a genesis hash.
func SolanaID(genesisHash string) (NetworkID, error) {
	return New(Solana, genesisHash)
}

var (
	NearMainnet    = NetworkID{namespace: Near, reference: "mainnet"}
	NearTestnet    = NetworkID{namespace: Near, reference: "testnet"}
	StellarPubnet  = NetworkID{namespace: Stellar, reference: "pubnet"}
	StellarTestnet = NetworkID{namespace: Stellar, reference: "testnet"}
	FogoMainnet    = NetworkID{namespace: Fogo, reference: "mainnet"}
	FogoTestnet    = NetworkID{namespace: Fogo, reference: "testnet"}
	AlgorandMainnet = NetworkID{namespace: Algorand, reference: "mainnet"}
	AlgorandTestnet = NetworkID{namespace: Algorand, reference: "testnet"}
	SuiMainnet      = NetworkID{namespace: Sui, reference: "mainnet"}
	SuiTestnet      = NetworkID{namespace: Sui, reference: "testnet"}
)

// Namespace returns the network's chain family.
func (n NetworkID) Namespace() Namespace { return n.namespace }

// Reference returns the namespace-specific reference string.
func (n NetworkID) Reference() string { return n.reference }

// ChainID returns the numeric EVM chain id, or (0, false) for non-eip155 networks.
func (n NetworkID) ChainID() (uint64, bool) {
	if n.namespace != Eip155 {
		return 0, false
	}
	id, err := strconv.ParseUint(n.reference, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// IsZero reports whether n is the zero value (never produced by New/Parse).
func (n NetworkID) IsZero() bool { return n.namespace == "" && n.reference == "" }

// String renders the canonical "namespace:reference" form.
func (n NetworkID) String() string {
	return string(n.namespace) + ":" + n.reference
}

// Parse parses a CAIP-2 string of the form "namespace:reference".
func Parse(s string) (NetworkID, error) {
	namespaceStr, reference, ok := strings.Cut(s, ":")
	if !ok {
		return NetworkID{}, &ParseError{Kind: "format", Reference: s}
	}
	return New(Namespace(namespaceStr), reference)
}

// MarshalJSON renders the network id as its canonical string.
func (n NetworkID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + n.String() + `"`), nil
}

// UnmarshalJSON parses the canonical string form, rejecting malformed or unknown ids.
func (n *NetworkID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
