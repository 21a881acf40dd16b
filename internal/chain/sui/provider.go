// Package sui implements the chain provider contract for Sui networks
// using protocol-level sponsored transactions: the client builds and signs
// a programmable transaction whose declared gas owner is the facilitator,
// the facilitator adds its own signature as gas sponsor, and both
// signatures are submitted together so the network requires neither to pay
// for the other's half of the transaction.
//
// No Sui SDK exists anywhere in the retrieved reference pack (see
// DESIGN.md), so this package decodes and builds the BCS wire shapes it
// needs directly (bcs.go) rather than depending on one.
package sui

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// intentBytes is Sui's fixed 3-byte IntentMessage prefix for a
// TransactionData payload: scope=TransactionData(0), version=V0(0), app_id=Sui(0).
var intentBytes = [3]byte{0, 0, 0}

// signatureSchemeEd25519 is Sui's one-byte signature scheme flag for ed25519.
const signatureSchemeEd25519 = 0x00

// Config configures one Sui provider instance, one per CAIP-2 network (sui:mainnet or sui:testnet).
type Config struct {
	Network       caip2.NetworkID
	RPCURL        string // JSON-RPC endpoint, e.g. https://fullnode.mainnet.sui.io:443
	USDCCoinType  string // fully-qualified coin type, e.g. "0x...::usdc::USDC"
	RelayerSeed   ed25519.PrivateKey
	SettleTimeout time.Duration
	Breaker       *circuitbreaker.Manager
}

// Provider implements pkg/facilitator/provider.Provider for one Sui network.
type Provider struct {
	cfg        Config
	network    caip2.NetworkID
	signerAddr address
	client     *http.Client
	breaker    *circuitbreaker.Manager
	log        zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	if len(cfg.RelayerSeed) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("sui(%s): relayer key must be a 64-byte ed25519 private key", cfg.Network)
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}
	pub := cfg.RelayerSeed.Public().(ed25519.PublicKey)
	signerAddr := deriveAddress(signatureSchemeEd25519, pub)
	return &Provider{
		cfg:        cfg,
		network:    cfg.Network,
		signerAddr: signerAddr,
		client:     &http.Client{Timeout: cfg.SettleTimeout},
		breaker:    cfg.Breaker,
		log:        log.With().Str("chain", cfg.Network.String()).Logger(),
	}, nil
}

func (p *Provider) SignerAddress() types.MixedAddress {
	addr, _ := types.NewSuiAddress(hexAddress(p.signerAddr))
	return addr
}

func (p *Provider) Network() caip2.NetworkID { return p.network }

func (p *Provider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: []types.SupportedKind{
		{X402Version: 2, Scheme: types.SchemeExact, Network: p.network},
	}}
}

// deriveAddress computes a Sui address from a signature scheme flag and raw
// public key: blake2b_256(flag || pubkey).
func deriveAddress(scheme byte, pubkey []byte) address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte{scheme})
	h.Write(pubkey)
	sum := h.Sum(nil)
	var a address
	copy(a[:], sum)
	return a
}

func hexAddress(a address) string { return "0x" + hex.EncodeToString(a[:]) }

// decodedSignature is a parsed Sui "flag || sig || pubkey" signature blob.
type decodedSignature struct {
	scheme byte
	sig    []byte
	pubkey []byte
}

func decodeSuiSignature(raw []byte) (decodedSignature, error) {
	if len(raw) != 1+ed25519.SignatureSize+ed25519.PublicKeySize {
		return decodedSignature{}, fmt.Errorf("sui: signature must be %d bytes (flag+sig+pubkey), got %d", 1+ed25519.SignatureSize+ed25519.PublicKeySize, len(raw))
	}
	if raw[0] != signatureSchemeEd25519 {
		return decodedSignature{}, fmt.Errorf("sui: only the ed25519 signature scheme is supported, got flag 0x%x", raw[0])
	}
	return decodedSignature{
		scheme: raw[0],
		sig:    raw[1 : 1+ed25519.SignatureSize],
		pubkey: raw[1+ed25519.SignatureSize:],
	}, nil
}

func encodeSuiSignature(sig decodedSignature) []byte {
	out := make([]byte, 0, 1+len(sig.sig)+len(sig.pubkey))
	out = append(out, sig.scheme)
	out = append(out, sig.sig...)
	out = append(out, sig.pubkey...)
	return out
}

// findTransferRecipientAndAmount walks a decoded ProgrammableTransaction
// looking for the canonical `transferObjects([splitCoins(coin, [amount])],
// recipient)` shape every major Sui SDK emits for a simple coin transfer,
// resolving each Argument back to its originating Pure input.
func findTransferRecipientAndAmount(ptb programmableTransaction) (recipient address, amount uint64, coinInput int, err error) {
	coinInput = -1
	var splitAmountInput = -1

	for _, c := range ptb.commands {
		if c.kind == 2 { // SplitCoins
			if c.splitCoinArg.kind == 1 { // Input(idx)
				coinInput = int(c.splitCoinArg.index)
			}
			if len(c.splitAmountArgs) > 0 && c.splitAmountArgs[0].kind == 1 {
				splitAmountInput = int(c.splitAmountArgs[0].index)
			}
		}
	}
	for _, c := range ptb.commands {
		if c.kind != 1 { // TransferObjects
			continue
		}
		if c.transferTo.kind != 1 {
			continue
		}
		recipientInput := int(c.transferTo.index)
		if recipientInput < 0 || recipientInput >= len(ptb.inputs) || !ptb.inputs[recipientInput].isPure {
			continue
		}
		recipBytes := ptb.inputs[recipientInput].pure
		if len(recipBytes) != 32 {
			continue
		}
		copy(recipient[:], recipBytes)

		if splitAmountInput < 0 || splitAmountInput >= len(ptb.inputs) || !ptb.inputs[splitAmountInput].isPure {
			return recipient, 0, coinInput, fmt.Errorf("sui: could not resolve transfer amount input")
		}
		amtBytes := ptb.inputs[splitAmountInput].pure
		if len(amtBytes) != 8 {
			return recipient, 0, coinInput, fmt.Errorf("sui: amount input is not a u64")
		}
		amount = uint64(amtBytes[0]) | uint64(amtBytes[1])<<8 | uint64(amtBytes[2])<<16 | uint64(amtBytes[3])<<24 |
			uint64(amtBytes[4])<<32 | uint64(amtBytes[5])<<40 | uint64(amtBytes[6])<<48 | uint64(amtBytes[7])<<56
		return recipient, amount, coinInput, nil
	}
	return recipient, 0, coinInput, fmt.Errorf("sui: no transferObjects(splitCoins(...), recipient) pattern found")
}

// Verify decodes the BCS transaction data, confirms the sender signature's
// derived address matches both the transaction's declared sender and its
// declared gas owner is this facilitator, resolves the transfer's
// recipient/amount out of the programmable transaction block, and confirms
// the payer's on-chain USDC balance covers it.
func (p *Provider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	payload, ok := req.PaymentPayload.Payload.(types.SuiExactPayload)
	if !ok {
		return types.Invalid(types.ReasonInvalidScheme, nil), nil
	}

	if reason, ok := provider.CheckPreconditions(req, p.network, types.AddressSui); !ok {
		return types.Invalid(reason, nil), nil
	}

	txRaw, err := base64.StdEncoding.DecodeString(payload.TransactionData)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	sigRaw, err := base64.StdEncoding.DecodeString(payload.SenderSignature)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	sig, err := decodeSuiSignature(sigRaw)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	txData, err := decodeTransactionData(txRaw)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	payer, err := types.NewSuiAddress(hexAddress(txData.sender))
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	derivedSigner := deriveAddress(sig.scheme, sig.pubkey)
	if derivedSigner != txData.sender {
		return types.Invalid(types.ReasonInvalidSignature, &payer), nil
	}

	signingMessage := append(append([]byte{}, intentBytes[:]...), txRaw...)
	if !ed25519.Verify(sig.pubkey, signingMessage, sig.sig) {
		return types.Invalid(types.ReasonInvalidSignature, &payer), nil
	}

	if txData.gas.owner != p.signerAddr {
		return types.Invalid(types.ReasonOther, &payer), nil
	}

	recipient, amount, coinInput, err := findTransferRecipientAndAmount(txData.ptb)
	if err != nil {
		return types.Invalid(types.ReasonOther, &payer), nil
	}
	recipientAddr, err := types.NewSuiAddress(hexAddress(recipient))
	if err != nil {
		return types.Invalid(types.ReasonOther, &payer), nil
	}
	if reason, ok := provider.CheckReceiver(recipientAddr, req.PaymentRequirements.PayTo); !ok {
		return types.Invalid(reason, &payer), nil
	}

	authorizedAmount := types.AmountFromUint64(amount)
	if reason, ok := provider.CheckMinimumAmount(authorizedAmount, req.PaymentRequirements.MaxAmountRequired); !ok {
		return types.Invalid(reason, &payer), nil
	}

	requiredCoinType := req.PaymentRequirements.Asset.String()
	if requiredCoinType != p.cfg.USDCCoinType {
		return types.Invalid(types.ReasonUnsupportedAsset, &payer), nil
	}
	if coinInput < 0 || coinInput >= len(txData.ptb.inputs) {
		return types.Invalid(types.ReasonOther, &payer), nil
	}

	balance, err := p.getBalance(ctx, hexAddress(txData.sender))
	if err != nil {
		return types.VerifyResponse{}, fmt.Errorf("sui: check balance: %w", err)
	}
	if balance.Cmp(new(big.Int).SetUint64(amount)) < 0 {
		return types.Invalid(types.ReasonInsufficientFunds, &payer), nil
	}

	return types.Valid(payer), nil
}

// Settle re-verifies, signs the identical transaction bytes as gas sponsor,
// and submits both signatures (sender first, sponsor second) via
// sui_executeTransactionBlock.
func (p *Provider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	verifyResp, err := p.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: verifyResp.Reason}, nil
	}

	payload := req.PaymentPayload.Payload.(types.SuiExactPayload)
	txRaw, _ := base64.StdEncoding.DecodeString(payload.TransactionData)
	senderSigRaw, _ := base64.StdEncoding.DecodeString(payload.SenderSignature)
	senderSig, err := decodeSuiSignature(senderSigRaw)
	if err != nil {
		return types.SettleResponse{}, fmt.Errorf("sui: settle: re-decode signature: %w", err)
	}

	ctxSettle, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()

	signingMessage := append(append([]byte{}, intentBytes[:]...), txRaw...)
	sponsorRaw := ed25519.Sign(p.cfg.RelayerSeed, signingMessage)
	sponsorPub := p.cfg.RelayerSeed.Public().(ed25519.PublicKey)
	sponsorSig := decodedSignature{scheme: signatureSchemeEd25519, sig: sponsorRaw, pubkey: sponsorPub}

	sigs := []string{
		base64.StdEncoding.EncodeToString(encodeSuiSignature(senderSig)),
		base64.StdEncoding.EncodeToString(encodeSuiSignature(sponsorSig)),
	}

	digest, effectsOK, err := p.executeTransactionBlock(ctxSettle, txRaw, sigs)
	if err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}
	if !effectsOK {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	return types.SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: &types.TransactionHash{Family: types.AddressSui, Value: digest},
		Network:     p.network,
	}, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

func (p *Provider) rpcCall(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RPCURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	result, err := p.breaker.Execute(circuitbreaker.ServiceSuiRPC, func() (interface{}, error) {
		return p.client.Do(httpReq)
	})
	if err != nil {
		return err
	}
	resp := result.(*http.Response)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("sui: rpc %s: decode response: %w", method, err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("sui: rpc %s: %s", method, envelope.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(envelope.Result, out)
	}
	return nil
}

func (p *Provider) getBalance(ctx context.Context, owner string) (*big.Int, error) {
	var out struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := p.rpcCall(ctx, "suix_getBalance", []any{owner, p.cfg.USDCCoinType}, &out); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(out.TotalBalance, 10)
	if !ok {
		return nil, fmt.Errorf("sui: invalid totalBalance %q", out.TotalBalance)
	}
	return balance, nil
}

// nativeSuiCoinType is the coin type of SUI itself, distinct from the USDC
// coin type this provider settles payments in.
const nativeSuiCoinType = "0x2::sui::SUI"

// RelayerBalance implements provider.BalanceReporter: the relayer's native
// SUI gas balance, converted from MIST (1e9 per SUI).
func (p *Provider) RelayerBalance(ctx context.Context) (float64, string, error) {
	var out struct {
		TotalBalance string `json:"totalBalance"`
	}
	if err := p.rpcCall(ctx, "suix_getBalance", []any{hexAddress(p.signerAddr), nativeSuiCoinType}, &out); err != nil {
		return 0, "", fmt.Errorf("sui(%s): get balance: %w", p.network, err)
	}
	mist, ok := new(big.Int).SetString(out.TotalBalance, 10)
	if !ok {
		return 0, "", fmt.Errorf("sui(%s): invalid totalBalance %q", p.network, out.TotalBalance)
	}
	sui := new(big.Float).Quo(new(big.Float).SetInt(mist), big.NewFloat(1e9))
	value, _ := sui.Float64()
	return value, "SUI", nil
}

func (p *Provider) executeTransactionBlock(ctx context.Context, txRaw []byte, sigs []string) (digest string, effectsOK bool, err error) {
	var out struct {
		Digest  string `json:"digest"`
		Effects struct {
			Status struct {
				Status string `json:"status"`
			} `json:"status"`
		} `json:"effects"`
	}
	params := []any{
		base64.StdEncoding.EncodeToString(txRaw),
		sigs,
		map[string]bool{"showEffects": true, "showEvents": true, "showInput": true},
		"WaitForLocalExecution",
	}
	if err := p.rpcCall(ctx, "sui_executeTransactionBlock", params, &out); err != nil {
		return "", false, err
	}
	return out.Digest, strings.EqualFold(out.Effects.Status.Status, "success"), nil
}
