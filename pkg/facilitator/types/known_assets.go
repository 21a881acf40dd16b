package types

import "github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"

// EIP712Domain carries the token contract's EIP-712 domain name/version,
// needed to reconstruct the TransferWithAuthorization typed-data hash. Tokens
// whose domain can't be assumed statically (e.g. XRPL EVM's bridged USDC)
// leave this nil; the EVM provider resolves it from the contract at runtime
// instead.
type EIP712Domain struct {
	Name    string
	Version string
}

// USDCDeployment is a statically known USDC contract/mint on one network.
type USDCDeployment struct {
	Network  caip2.NetworkID
	Asset    MixedAddress
	Decimals uint8
	EIP712   *EIP712Domain
}

func evmUSDC(network caip2.NetworkID, addr, name string) USDCDeployment {
	a, err := NewEVMAddress(addr)
	if err != nil {
		panic(err) // only called with the hard-coded addresses below
	}
	return USDCDeployment{Network: network, Asset: a, Decimals: 6, EIP712: &EIP712Domain{Name: name, Version: "2"}}
}

func solanaUSDC(network caip2.NetworkID, mint string) USDCDeployment {
	a, _ := NewSolanaAddress(mint)
	return USDCDeployment{Network: network, Asset: a, Decimals: 6}
}

func nearUSDC(network caip2.NetworkID, contract string) USDCDeployment {
	a, _ := NewNearAddress(contract)
	return USDCDeployment{Network: network, Asset: a, Decimals: 6}
}

// knownUSDCDeployments is the statically known USDC address per network,
// used to populate SupportedPaymentKindsResponse and to validate that a
// PaymentRequirements.Asset matches the network's canonical USDC deployment
// when an operator hasn't configured a custom asset allowlist.
var knownUSDCDeployments = map[caip2.NetworkID]USDCDeployment{
	caip2.Eip155ID(84532):   evmUSDC(caip2.Eip155ID(84532), "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "USDC"),
	caip2.Eip155ID(8453):    evmUSDC(caip2.Eip155ID(8453), "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", "USD Coin"),
	caip2.Eip155ID(50):      evmUSDC(caip2.Eip155ID(50), "0x2A8E898b6242355c290E1f4Fc966b8788729A4D4", "Bridged USDC(XDC)"),
	caip2.Eip155ID(43113):   evmUSDC(caip2.Eip155ID(43113), "0x5425890298aed601595a70AB815c96711a31Bc65", "USD Coin"),
	caip2.Eip155ID(43114):   evmUSDC(caip2.Eip155ID(43114), "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", "USD Coin"),
	caip2.Eip155ID(80002):   evmUSDC(caip2.Eip155ID(80002), "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", "USDC"),
	caip2.Eip155ID(137):     evmUSDC(caip2.Eip155ID(137), "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", "USDC"),
	caip2.Eip155ID(10):      evmUSDC(caip2.Eip155ID(10), "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85", "USD Coin"),
	caip2.Eip155ID(11155420): evmUSDC(caip2.Eip155ID(11155420), "0x5fd84259d66Cd46123540766Be93DFE6D43130D7", "USDC"),
	caip2.Eip155ID(42220):   evmUSDC(caip2.Eip155ID(42220), "0xcebA9300f2b948710d2653dD7B07f33A8B32118C", "USD Coin"),
	caip2.Eip155ID(44787):   evmUSDC(caip2.Eip155ID(44787), "0x01C5C0122039549AD1493B8220cABEdD739BC44E", "USD Coin"),
	caip2.Eip155ID(999):     evmUSDC(caip2.Eip155ID(999), "0xb88339cb7199b77e23db6e890353e22632ba630f", "USDC"),
	caip2.Eip155ID(333):     evmUSDC(caip2.Eip155ID(333), "0x2B3370eE501B4a559b57D449569354196457D8Ab", "USD Coin"),
	caip2.Eip155ID(1329):    evmUSDC(caip2.Eip155ID(1329), "0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392", "USDC"),
	caip2.Eip155ID(1328):    evmUSDC(caip2.Eip155ID(1328), "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", "USDC"),
	caip2.Eip155ID(1):       evmUSDC(caip2.Eip155ID(1), "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "USD Coin"),
	caip2.Eip155ID(11155111): evmUSDC(caip2.Eip155ID(11155111), "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238", "USDC"),
	caip2.Eip155ID(42161):   evmUSDC(caip2.Eip155ID(42161), "0xaf88d065e77c8cC2239327C5EDb3A432268e5831", "USD Coin"),
	caip2.Eip155ID(421614):  evmUSDC(caip2.Eip155ID(421614), "0x75faf114eafb1BDbe2F0316DF893fd58CE46AA4d", "USDC"),
	caip2.Eip155ID(130):     evmUSDC(caip2.Eip155ID(130), "0x078D782b760474a361dDA0AF3839290b0EF57AD6", "USDC"),
	caip2.Eip155ID(1301):    evmUSDC(caip2.Eip155ID(1301), "0x31d0220469e10c4E71834a79b1f276d740d3768F", "USDC"),
	caip2.Eip155ID(143):     evmUSDC(caip2.Eip155ID(143), "0x754704bc059f8c67012fed69bc8a327a5aafb603", "USDC"),

	caip2.NearMainnet: nearUSDC(caip2.NearMainnet, "17208628f84f5d6ad33f0da3bbbeb27ffcb398eac501a31bd6ad2011e36133a1"),
	caip2.NearTestnet: nearUSDC(caip2.NearTestnet, "3e2210e1184b45b64c8a434c0a7e7b23cc04ea7eb7a6c3c32520d03d4afcb8af"),
}

// RegisterKnownUSDC lets a provider publish the USDC deployment for a
// network it resolved at startup (Solana/Fogo network ids are genesis-hash
// keyed and aren't known at compile time). Safe to call only during
// provider construction, before any request is served.
func RegisterKnownUSDC(d USDCDeployment) {
	knownUSDCDeployments[d.Network] = d
}

// NewSolanaUSDCDeployment builds a USDCDeployment for an SVM-family network
// (solana or fogo) from its runtime-resolved genesis-hash network id and
// mint address, for use with RegisterKnownUSDC.
func NewSolanaUSDCDeployment(network caip2.NetworkID, mint string) USDCDeployment {
	return solanaUSDC(network, mint)
}

// KnownUSDC returns the statically known USDC deployment for a network, if any.
func KnownUSDC(network caip2.NetworkID) (USDCDeployment, bool) {
	d, ok := knownUSDCDeployments[network]
	return d, ok
}
