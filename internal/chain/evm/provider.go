// Package evm implements the chain provider contract (pkg/facilitator/provider)
// for eip155 networks using ERC-3009 transferWithAuthorization.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/internal/escrow"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// clockSkew is the tolerance applied to both sides of the validAfter/validBefore
// window (spec §9 open question, decided at 5s).
const clockSkew = 5 * time.Second

const erc3009ABI = `[
  {"constant":false,"inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"validAfter","type":"uint256"},{"name":"validBefore","type":"uint256"},{"name":"nonce","type":"bytes32"},{"name":"v","type":"uint8"},{"name":"r","type":"bytes32"},{"name":"s","type":"bytes32"}],"name":"transferWithAuthorization","outputs":[],"type":"function"},
  {"constant":true,"inputs":[{"name":"authorizer","type":"address"},{"name":"nonce","type":"bytes32"}],"name":"authorizationState","outputs":[{"name":"","type":"bool"}],"type":"function"},
  {"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"name","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"version","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// Config configures one EVM provider instance. One instance serves exactly
// one CAIP-2 network (the provider map holds one per configured chain).
type Config struct {
	Network         caip2.NetworkID
	ChainID         uint64
	RPCURL          string
	SignerHexKey    string // facilitator EOA private key, hex, with or without 0x
	Confirmations   uint64
	SettleTimeout   time.Duration
	Breaker         *circuitbreaker.Manager
}

// Provider implements pkg/facilitator/provider.Provider for one EVM network.
type Provider struct {
	cfg        Config
	network    caip2.NetworkID
	chainID    *big.Int
	client     *ethclient.Client
	signerAddr common.Address
	signerKey  *ecdsaKey
	abi        abi.ABI
	breaker    *circuitbreaker.Manager
	log        zerolog.Logger

	mu          sync.Mutex
	domainCache map[common.Address]types.EIP712Domain
}

// ecdsaKey narrows the import surface callers need to see (crypto.PrivateKey
// alias would pull in crypto/ecdsa at every call site otherwise).
type ecdsaKey = privateKeyType

// New dials the RPC endpoint, parses the signer key, and confirms the
// configured chain id matches what the RPC actually reports.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Provider, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("evm(%s): dial rpc: %w", cfg.Network, err)
	}
	key, err := parsePrivateKey(cfg.SignerHexKey)
	if err != nil {
		return nil, fmt.Errorf("evm(%s): parse signer key: %w", cfg.Network, err)
	}
	parsedABI, err := abi.JSON(strings.NewReader(erc3009ABI))
	if err != nil {
		return nil, fmt.Errorf("evm(%s): parse abi: %w", cfg.Network, err)
	}

	if cfg.Confirmations == 0 {
		cfg.Confirmations = 1
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}

	return &Provider{
		cfg:         cfg,
		network:     cfg.Network,
		chainID:     new(big.Int).SetUint64(cfg.ChainID),
		client:      client,
		signerAddr:  publicAddress(key),
		signerKey:   key,
		abi:         parsedABI,
		breaker:     cfg.Breaker,
		log:         log.With().Str("chain", cfg.Network.String()).Logger(),
		domainCache: make(map[common.Address]types.EIP712Domain),
	}, nil
}

func (p *Provider) SignerAddress() types.MixedAddress {
	addr, _ := types.NewEVMAddress(p.signerAddr.Hex())
	return addr
}

func (p *Provider) Network() caip2.NetworkID { return p.network }

func (p *Provider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: []types.SupportedKind{
		{X402Version: 2, Scheme: types.SchemeExact, Network: p.network},
	}}
}

// Verify performs the structural/signature/balance checks of spec §4.3.1.
// It issues read-only RPC calls only.
func (p *Provider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	payload, ok := req.PaymentPayload.Payload.(types.EVMExactPayload)
	if !ok {
		return types.Invalid(types.ReasonInvalidScheme, nil), nil
	}
	payer := payload.Authorization.From

	if reason, ok := provider.CheckPreconditions(req, p.network, types.AddressEVM); !ok {
		return types.Invalid(reason, &payer), nil
	}
	if reason, ok := provider.CheckReceiver(payload.Authorization.To, req.PaymentRequirements.PayTo); !ok {
		return types.Invalid(reason, &payer), nil
	}
	if reason, ok := p.checkRefundExtension(req.PaymentRequirements); !ok {
		return types.Invalid(reason, &payer), nil
	}
	if reason, ok := provider.CheckMinimumAmount(payload.Authorization.Value, req.PaymentRequirements.MaxAmountRequired); !ok {
		return types.Invalid(reason, &payer), nil
	}

	now := time.Now().Unix()
	if now < payload.Authorization.ValidAfter-int64(clockSkew.Seconds()) || now > payload.Authorization.ValidBefore+int64(clockSkew.Seconds()) {
		return types.Invalid(types.ReasonInvalidTiming, &payer), nil
	}

	assetAddr := common.HexToAddress(req.PaymentRequirements.Asset.String())
	domain, err := p.domainFor(ctx, assetAddr)
	if err != nil {
		return types.Invalid(types.ReasonUnsupportedAsset, &payer), nil
	}

	sig, err := decodeSignature(payload.Signature)
	if err != nil {
		return types.Invalid(types.ReasonInvalidSignature, &payer), nil
	}
	recovered, err := recoverSigner(payload.Authorization, p.chainID, assetAddr, domain, sig)
	if err != nil || !strings.EqualFold(recovered.Hex(), payer.String()) {
		return types.Invalid(types.ReasonInvalidSignature, &payer), nil
	}

	nonce, err := decodeNonce(payload.Authorization.Nonce)
	if err != nil {
		return types.Invalid(types.ReasonInvalidNonce, &payer), nil
	}
	used, err := p.authorizationState(ctx, common.HexToAddress(payer.String()), nonce, assetAddr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("evm(%s): authorizationState: %w", p.network, err)
	}
	if used {
		return types.Invalid(types.ReasonInvalidNonce, &payer), nil
	}

	balance, err := p.balanceOf(ctx, common.HexToAddress(payer.String()), assetAddr)
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("evm(%s): balanceOf: %w", p.network, err)
	}
	if balance.Cmp(payload.Authorization.Value.BigInt()) < 0 {
		return types.Invalid(types.ReasonInsufficientFunds, &payer), nil
	}

	return types.Valid(payer), nil
}

// Settle re-verifies, then submits transferWithAuthorization as the facilitator EOA.
func (p *Provider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	verifyResp, err := p.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: verifyResp.Reason}, nil
	}

	payload := req.PaymentPayload.Payload.(types.EVMExactPayload)
	assetAddr := common.HexToAddress(req.PaymentRequirements.Asset.String())
	sig, _ := decodeSignature(payload.Signature)
	nonce, _ := decodeNonce(payload.Authorization.Nonce)

	v := sig[64]
	if v < 27 {
		v += 27
	}
	var r, s [32]byte
	copy(r[:], sig[0:32])
	copy(s[:], sig[32:64])

	data, err := p.abi.Pack("transferWithAuthorization",
		common.HexToAddress(payload.Authorization.From.String()),
		common.HexToAddress(payload.Authorization.To.String()),
		payload.Authorization.Value.BigInt(),
		big.NewInt(payload.Authorization.ValidAfter),
		big.NewInt(payload.Authorization.ValidBefore),
		nonce, v, r, s,
	)
	if err != nil {
		return types.SettleResponse{}, fmt.Errorf("evm(%s): pack transferWithAuthorization: %w", p.network, err)
	}

	ctxSettle, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()

	txHash, err := p.sendTransaction(ctxSettle, assetAddr, data)
	if err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	receipt, err := p.waitForReceipt(ctxSettle, txHash)
	if err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: mapRevertReason(err)}, nil
	}
	if receipt.Status != gethtypes.ReceiptStatusSuccessful {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	return types.SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: &types.TransactionHash{Family: types.AddressEVM, Value: txHash.Hex()},
		Network:     p.network,
	}, nil
}

// checkRefundExtension enforces spec §4.3.7's x402r routing: when
// requirements carry a `refund` extension, payTo must be the deterministic
// CREATE3 proxy for the extension's (factory, merchant) pair, not the
// merchant address itself. Requirements without the extension are untouched.
func (p *Provider) checkRefundExtension(req types.PaymentRequirements) (types.InvalidReason, bool) {
	raw, present := req.Extensions["refund"]
	if !present {
		return "", true
	}
	if !escrow.IsEscrowEnabled() {
		return types.ReasonReceiverMismatch, false
	}
	ext, err := escrow.ParseRefundExtension(raw)
	if err != nil {
		return types.ReasonReceiverMismatch, false
	}
	declaredProxy := common.HexToAddress(req.PayTo.String())
	if _, ok := escrow.VerifyProxy(ext, declaredProxy); !ok {
		return types.ReasonReceiverMismatch, false
	}
	return "", true
}

// domainFor resolves the EIP-712 domain (name, version) for an asset: from
// the statically known table if present, otherwise by calling name()/version()
// on the contract once and caching the result for the provider's lifetime.
func (p *Provider) domainFor(ctx context.Context, asset common.Address) (types.EIP712Domain, error) {
	p.mu.Lock()
	if d, ok := p.domainCache[asset]; ok {
		p.mu.Unlock()
		return d, nil
	}
	p.mu.Unlock()

	if dep, ok := types.KnownUSDC(p.network); ok && dep.EIP712 != nil && strings.EqualFold(dep.Asset.String(), asset.Hex()) {
		p.mu.Lock()
		p.domainCache[asset] = *dep.EIP712
		p.mu.Unlock()
		return *dep.EIP712, nil
	}

	name, err := p.readString(ctx, asset, "name")
	if err != nil {
		return types.EIP712Domain{}, err
	}
	version, err := p.readString(ctx, asset, "version")
	if err != nil {
		version = "1"
	}
	d := types.EIP712Domain{Name: name, Version: version}
	p.mu.Lock()
	p.domainCache[asset] = d
	p.mu.Unlock()
	return d, nil
}

func (p *Provider) readString(ctx context.Context, contract common.Address, method string) (string, error) {
	data, err := p.abi.Pack(method)
	if err != nil {
		return "", err
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return "", err
	}
	vals, err := p.abi.Methods[method].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return "", fmt.Errorf("evm: unpack %s: %w", method, err)
	}
	s, _ := vals[0].(string)
	return s, nil
}

func (p *Provider) authorizationState(ctx context.Context, authorizer common.Address, nonce [32]byte, asset common.Address) (bool, error) {
	data, err := p.abi.Pack("authorizationState", authorizer, nonce)
	if err != nil {
		return false, err
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return false, err
	}
	if len(out) == 0 {
		return false, nil
	}
	vals, err := p.abi.Methods["authorizationState"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return false, err
	}
	used, _ := vals[0].(bool)
	return used, nil
}

func (p *Provider) balanceOf(ctx context.Context, account, asset common.Address) (*big.Int, error) {
	data, err := p.abi.Pack("balanceOf", account)
	if err != nil {
		return nil, err
	}
	out, err := p.client.CallContract(ctx, ethereum.CallMsg{To: &asset, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return big.NewInt(0), nil
	}
	vals, err := p.abi.Methods["balanceOf"].Outputs.Unpack(out)
	if err != nil || len(vals) == 0 {
		return big.NewInt(0), err
	}
	bal, _ := vals[0].(*big.Int)
	return bal, nil
}

// RelayerBalance implements provider.BalanceReporter: the fee payer's native
// gas balance, converted from wei to ether for alert readability.
func (p *Provider) RelayerBalance(ctx context.Context) (float64, string, error) {
	wei, err := p.client.BalanceAt(ctx, p.signerAddr, nil)
	if err != nil {
		return 0, "", fmt.Errorf("evm(%s): balance at: %w", p.network, err)
	}
	ether := new(big.Float).Quo(new(big.Float).SetInt(wei), big.NewFloat(1e18))
	value, _ := ether.Float64()
	return value, "ETH", nil
}

func (p *Provider) sendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	result, err := p.breaker.Execute(circuitbreaker.ServiceEVMRPC, func() (interface{}, error) {
		nonce, err := p.client.PendingNonceAt(ctx, p.signerAddr)
		if err != nil {
			return nil, fmt.Errorf("pending nonce: %w", err)
		}
		gasPrice, err := p.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, fmt.Errorf("gas price: %w", err)
		}
		gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{From: p.signerAddr, To: &to, Data: data})
		if err != nil {
			gasLimit = 200000
		}
		tx := gethtypes.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, data)
		signedTx, err := gethtypes.SignTx(tx, gethtypes.LatestSignerForChainID(p.chainID), rawKey(p.signerKey))
		if err != nil {
			return nil, fmt.Errorf("sign tx: %w", err)
		}
		if err := p.client.SendTransaction(ctx, signedTx); err != nil {
			return nil, fmt.Errorf("send tx: %w", err)
		}
		return signedTx.Hash(), nil
	})
	if err != nil {
		return common.Hash{}, err
	}
	return result.(common.Hash), nil
}

func (p *Provider) waitForReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := p.client.TransactionReceipt(ctx, hash)
			if err == nil && receipt != nil {
				return receipt, nil
			}
		}
	}
}

// mapRevertReason maps known ERC-3009 revert substrings to typed reasons
// (spec §7); anything unrecognized falls through as UnexpectedSettleError.
func mapRevertReason(err error) types.InvalidReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "authorization is used") || strings.Contains(msg, "nonce") && strings.Contains(msg, "used"):
		return types.ReasonInvalidNonce
	case strings.Contains(msg, "expired") || strings.Contains(msg, "not yet valid"):
		return types.ReasonInvalidTiming
	case strings.Contains(msg, "insufficient"):
		return types.ReasonInsufficientFunds
	case strings.Contains(msg, "invalid signature") || strings.Contains(msg, "signature invalid"):
		return types.ReasonInvalidSignature
	default:
		return types.ReasonUnexpectedSettleError
	}
}

func decodeSignature(hexSig string) ([]byte, error) {
	sig := common.FromHex(hexSig)
	if len(sig) != 65 {
		return nil, fmt.Errorf("evm: signature must be 65 bytes, got %d", len(sig))
	}
	return sig, nil
}

func decodeNonce(hexNonce string) ([32]byte, error) {
	var n [32]byte
	raw := common.FromHex(hexNonce)
	if len(raw) != 32 {
		return n, fmt.Errorf("evm: nonce must be 32 bytes, got %d", len(raw))
	}
	copy(n[:], raw)
	return n, nil
}

// recoverSigner reconstructs the EIP-712 TransferWithAuthorization digest and
// recovers the signing address from the (r,s,v) signature.
func recoverSigner(auth types.EVMAuthorization, chainID *big.Int, verifyingContract common.Address, domain types.EIP712Domain, sig []byte) (common.Address, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: verifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.String(),
			"to":          auth.To.String(),
			"value":       (*math.HexOrDecimal256)(auth.Value.BigInt()),
			"validAfter":  (*math.HexOrDecimal256)(big.NewInt(auth.ValidAfter)),
			"validBefore": (*math.HexOrDecimal256)(big.NewInt(auth.ValidBefore)),
			"nonce":       common.BytesToHash(common.FromHex(auth.Nonce)).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return common.Address{}, err
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return common.Address{}, err
	}
	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	digest := crypto.Keccak256(rawData)

	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	normalized := make([]byte, 65)
	copy(normalized, sig)
	normalized[64] = v

	pub, err := crypto.SigToPub(digest, normalized)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}
