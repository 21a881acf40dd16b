// Package escrow implements the x402r refund extension: deterministic CREATE3
// proxy addresses per merchant, routing settlement through those proxies into
// a shared escrow contract instead of paying the merchant directly.
//
// Only the address-computation and extension-parsing pieces live here — the
// actual on-chain call is still the ERC-3009 transferWithAuthorization the
// evm provider already sends; the proxy participates only as the `to`
// address once Verify has confirmed it is the merchant's real proxy.
package escrow

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
)

// proxyInitCodeHash is keccak256 of the minimal 16-byte CREATE3 proxy
// creation code (`67363d3d37363d34f03d5260086017f3`), the same constant used
// by Solady/0xSequence-style CREATE3 libraries: a proxy whose only job is to
// CREATE the real contract, so the final address depends on the deployer and
// salt and not on the deployed contract's own bytecode.
var proxyInitCodeHash = common.HexToHash("0x21c35dbe1b344a2488cf3321d6ce542f8e9f305544ff09e4993a62319a497c1f")

// ComputeProxyAddress is the pure CREATE3 address function: the salt is
// keccak256(merchant), the CREATE2-deployed proxy's address follows from
// (factory, salt, proxyInitCodeHash), and the real per-merchant contract is
// whatever that proxy deploys first (nonce 1).
func ComputeProxyAddress(factory, merchant common.Address) common.Address {
	salt := crypto.Keccak256Hash(merchant.Bytes())
	proxy := crypto.CreateAddress2(factory, salt, proxyInitCodeHash.Bytes())
	return crypto.CreateAddress(proxy, 1)
}

// knownFactory/knownEscrow hold the x402r deployments this facilitator
// recognizes; networks without an entry never have escrow routing available.
var knownFactory = map[string]common.Address{
	"eip155:8453":  common.HexToAddress("0x41Cc4D337FEC5E91ddcf4C363700FC6dB5f3A814"), // Base mainnet
	"eip155:84532": common.HexToAddress("0xf981D813842eE78d18ef8ac825eef8e2C8A8BaC2"), // Base Sepolia
}

var knownEscrow = map[string]common.Address{
	"eip155:8453":  common.HexToAddress("0xC409e6da89E54253fbA86C1CE3E553d24E03f6bC"),
	"eip155:84532": common.HexToAddress("0xF7F2Bc463d79Bd3E5Cb693944B422c39114De058"),
}

func FactoryForNetwork(network caip2.NetworkID) (common.Address, bool) {
	addr, ok := knownFactory[network.String()]
	return addr, ok
}

func EscrowForNetwork(network caip2.NetworkID) (common.Address, bool) {
	addr, ok := knownEscrow[network.String()]
	return addr, ok
}

// IsEscrowEnabled reports whether the x402r extension is active, gated by
// ENABLE_ESCROW the same way the rest of the facilitator's ambient feature
// flags read boolean environment variables.
func IsEscrowEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("ENABLE_ESCROW")))
	return v == "true" || v == "1"
}

// RefundExtensionInfo is the `refund` extension's declared payload: the
// factory that deployed every proxy, and which merchant each proxy pays out
// to once the escrow releases funds.
type RefundExtensionInfo struct {
	FactoryAddress  common.Address            `json:"factoryAddress"`
	MerchantPayouts map[common.Address]common.Address `json:"merchantPayouts"`
}

type RefundExtension struct {
	Info RefundExtensionInfo `json:"info"`
}

// ParseRefundExtension decodes the raw `extensions["refund"]` value carried
// on PaymentRequirements.
func ParseRefundExtension(raw json.RawMessage) (RefundExtension, error) {
	var ext RefundExtension
	if err := json.Unmarshal(raw, &ext); err != nil {
		return RefundExtension{}, fmt.Errorf("escrow: decode refund extension: %w", err)
	}
	return ext, nil
}

// VerifyProxy confirms declaredProxy is the deterministic CREATE3 address
// the extension's factory would deploy for merchant, and that the extension
// actually declares a payout for it. Both must hold for settlement to be
// allowed to route funds through declaredProxy instead of paying merchant
// directly.
func VerifyProxy(ext RefundExtension, declaredProxy common.Address) (merchant common.Address, ok bool) {
	merchant, present := ext.Info.MerchantPayouts[declaredProxy]
	if !present {
		return common.Address{}, false
	}
	computed := ComputeProxyAddress(ext.Info.FactoryAddress, merchant)
	if computed != declaredProxy {
		return common.Address{}, false
	}
	return merchant, true
}
