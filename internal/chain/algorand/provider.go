// Package algorand implements the chain provider contract for Algorand
// networks using atomic transaction groups: the client builds a two-
// transaction group `[fee_tx, asa_transfer]`, signs only the ASA transfer,
// and the facilitator signs the empty fee transaction and broadcasts the
// whole group — Algorand's fee-pooling rule lets txn[0] pay for both, so
// the user never needs Algos to pay gas.
//
// No Algorand SDK exists anywhere in the retrieved reference pack (see
// DESIGN.md), so this package decodes and builds the MessagePack wire
// shapes it needs directly (msgpack.go, address.go) rather than depending
// on one.
package algorand

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// minTxnFee is Algorand's network-wide minimum transaction fee in microAlgos.
const minTxnFee = 1000

// Config configures one Algorand provider instance, one per CAIP-2 network (algorand:mainnet or algorand:testnet).
type Config struct {
	Network       caip2.NetworkID
	AlgodURL      string // e.g. https://mainnet-api.algonode.cloud
	AlgodToken    string
	GenesisHash   [32]byte // network's "gh" field, rejects cross-network replay
	RelayerSeed   ed25519.PrivateKey
	SettleTimeout time.Duration
	Breaker       *circuitbreaker.Manager
}

// Provider implements pkg/facilitator/provider.Provider for one Algorand network.
type Provider struct {
	cfg     Config
	network caip2.NetworkID
	client  *http.Client
	breaker *circuitbreaker.Manager
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) (*Provider, error) {
	if len(cfg.RelayerSeed) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("algorand(%s): relayer key must be a 64-byte ed25519 private key", cfg.Network)
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 30 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}
	return &Provider{
		cfg:     cfg,
		network: cfg.Network,
		client:  &http.Client{Timeout: cfg.SettleTimeout},
		breaker: cfg.Breaker,
		log:     log.With().Str("chain", cfg.Network.String()).Logger(),
	}, nil
}

func (p *Provider) SignerAddress() types.MixedAddress {
	pub := p.cfg.RelayerSeed.Public().(ed25519.PublicKey)
	var raw [32]byte
	copy(raw[:], pub)
	addr, _ := types.NewAlgorandAddress(encodeAddress(raw))
	return addr
}

func (p *Provider) Network() caip2.NetworkID { return p.network }

func (p *Provider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: []types.SupportedKind{
		{X402Version: 2, Scheme: types.SchemeExact, Network: p.network},
	}}
}

// decodedGroup is the two transactions of an atomic group this provider cares about.
type decodedGroup struct {
	feeTxn     map[string]any // txn[0]: unsigned, empty payment — the facilitator signs this at Settle
	assetSig   []byte         // txn[1].sig — the user's signature over "TX"||txnRaw
	assetTxn   map[string]any // txn[1].txn
	assetTxnRaw []byte        // raw MessagePack bytes of txn[1].txn, for signature verification
}

// decodeGroup parses two back-to-back MessagePack values from raw: a bare
// Transaction map (the fee transaction, not yet signed) followed by a
// SignedTxn map (the ASA transfer, already signed by the payer).
func decodeGroup(raw []byte) (decodedGroup, error) {
	r := newMsgpackReader(raw)

	feeVal, err := r.value()
	if err != nil {
		return decodedGroup{}, fmt.Errorf("algorand: decode fee txn: %w", err)
	}
	feeTxn, ok := feeVal.(map[string]any)
	if !ok {
		return decodedGroup{}, fmt.Errorf("algorand: fee txn is not a map")
	}

	signedVal, err := r.value()
	if err != nil {
		return decodedGroup{}, fmt.Errorf("algorand: decode signed asa transfer: %w", err)
	}
	signedMap, ok := signedVal.(map[string]any)
	if !ok {
		return decodedGroup{}, fmt.Errorf("algorand: signed asa transfer is not a map")
	}
	sig := mapBytes(signedMap, "sig")
	if len(sig) != ed25519.SignatureSize {
		return decodedGroup{}, fmt.Errorf("algorand: asa transfer signature must be %d bytes", ed25519.SignatureSize)
	}

	// Re-decode the outer SignedTxn map a second time, this time tracking
	// the byte range its "txn" value spans, so the signing check hashes the
	// exact bytes the wallet signed rather than a reconstruction of them —
	// the same technique this module's NEAR and Stellar providers use.
	outer := newMsgpackReader(raw)
	if _, err := outer.value(); err != nil { // re-skip the fee txn
		return decodedGroup{}, err
	}
	txnRaw, assetTxn, err := decodeSignedTxnTrackingTxnSpan(outer)
	if err != nil {
		return decodedGroup{}, fmt.Errorf("algorand: re-decode signed asa transfer: %w", err)
	}

	return decodedGroup{
		feeTxn:      feeTxn,
		assetSig:    sig,
		assetTxn:    assetTxn,
		assetTxnRaw: txnRaw,
	}, nil
}

// decodeSignedTxnTrackingTxnSpan decodes a {sig, txn} map field by field
// (rather than via the generic value() path) so it can record the raw byte
// offsets of the "txn" sub-value.
func decodeSignedTxnTrackingTxnSpan(r *msgpackReader) (txnRaw []byte, txn map[string]any, err error) {
	lead, err := r.byte()
	if err != nil {
		return nil, nil, err
	}
	n, err := r.mapLen(lead)
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < n; i++ {
		keyLead, err := r.byte()
		if err != nil {
			return nil, nil, err
		}
		key, err := r.str(keyLead)
		if err != nil {
			return nil, nil, err
		}
		if key == "txn" {
			start := r.pos
			v, err := r.value()
			if err != nil {
				return nil, nil, err
			}
			txn, _ = v.(map[string]any)
			txnRaw = r.buf[start:r.pos]
			continue
		}
		if _, err := r.value(); err != nil {
			return nil, nil, err
		}
	}
	if txn == nil {
		return nil, nil, fmt.Errorf("algorand: signed txn missing \"txn\" field")
	}
	return txnRaw, txn, nil
}

// Verify decodes the atomic group, checks fee pooling and group linkage
// between the two transactions, verifies the user's signature on the ASA
// transfer, and confirms it targets the required asset/recipient/amount.
func (p *Provider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	payload, ok := req.PaymentPayload.Payload.(types.AlgorandExactPayload)
	if !ok {
		return types.Invalid(types.ReasonInvalidScheme, nil), nil
	}

	if reason, ok := provider.CheckPreconditions(req, p.network, types.AddressAlgo); !ok {
		return types.Invalid(reason, nil), nil
	}

	raw, err := base64.StdEncoding.DecodeString(payload.SignedTransaction)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	group, err := decodeGroup(raw)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	if mapString(group.feeTxn, "type") != "pay" {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	if mapString(group.assetTxn, "type") != "axfer" {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	feeGrp := mapBytes(group.feeTxn, "grp")
	assetGrp := mapBytes(group.assetTxn, "grp")
	if len(feeGrp) != 32 || len(assetGrp) != 32 || !bytes.Equal(feeGrp, assetGrp) {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	if !bytes.Equal(mapBytes(group.feeTxn, "gh"), p.cfg.GenesisHash[:]) || !bytes.Equal(mapBytes(group.assetTxn, "gh"), p.cfg.GenesisHash[:]) {
		return types.Invalid(types.ReasonInvalidNetwork, nil), nil
	}

	// Fee pooling: the pooled fee of both transactions must cover at least
	// two minimum fees, since the asa transfer is expected to carry fee=0.
	totalFee := mapUint64(group.feeTxn, "fee") + mapUint64(group.assetTxn, "fee")
	if totalFee < 2*minTxnFee {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	senderRaw := mapBytes(group.assetTxn, "snd")
	senderKey, err := pubkeyFromRaw(senderRaw)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	payer, err := types.NewAlgorandAddress(encodeAddress(senderKey))
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	signingMsg := append([]byte("TX"), group.assetTxnRaw...)
	if !ed25519.Verify(senderKey[:], signingMsg, group.assetSig) {
		return types.Invalid(types.ReasonInvalidSignature, &payer), nil
	}

	assetID := mapUint64(group.assetTxn, "xaid")
	requiredAssetID, err := strconv.ParseUint(req.PaymentRequirements.Asset.String(), 10, 64)
	if err != nil || assetID != requiredAssetID {
		return types.Invalid(types.ReasonUnsupportedAsset, &payer), nil
	}

	receiverRaw := mapBytes(group.assetTxn, "arcv")
	receiverKey, err := pubkeyFromRaw(receiverRaw)
	if err != nil {
		return types.Invalid(types.ReasonOther, &payer), nil
	}
	receiverAddr, err := types.NewAlgorandAddress(encodeAddress(receiverKey))
	if err != nil {
		return types.Invalid(types.ReasonOther, &payer), nil
	}
	if reason, ok := provider.CheckReceiver(receiverAddr, req.PaymentRequirements.PayTo); !ok {
		return types.Invalid(reason, &payer), nil
	}

	authorizedAmount := types.AmountFromUint64(mapUint64(group.assetTxn, "aamt"))
	if reason, ok := provider.CheckMinimumAmount(authorizedAmount, req.PaymentRequirements.MaxAmountRequired); !ok {
		return types.Invalid(reason, &payer), nil
	}

	return types.Valid(payer), nil
}

// Settle re-verifies, builds and signs the matching fee transaction (same
// group id, sender/receiver the relayer itself, fee covering the pool,
// amount zero), assembles the complete two-transaction group, and submits
// it to algod as a single raw MessagePack blob.
func (p *Provider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	verifyResp, err := p.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: verifyResp.Reason}, nil
	}

	payload := req.PaymentPayload.Payload.(types.AlgorandExactPayload)
	raw, _ := base64.StdEncoding.DecodeString(payload.SignedTransaction)
	group, err := decodeGroup(raw)
	if err != nil {
		return types.SettleResponse{}, fmt.Errorf("algorand: settle: re-decode: %w", err)
	}

	ctxSettle, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()

	relayerPub := p.cfg.RelayerSeed.Public().(ed25519.PublicKey)
	var relayerRaw [32]byte
	copy(relayerRaw[:], relayerPub)

	var feeBody msgpackWriter
	feeBody.writeTxnMap([]txnField{
		strField("type", "pay"),
		bytesField("snd", relayerRaw[:]),
		bytesField("rcv", relayerRaw[:]),
		uintField("fee", mapUint64(group.feeTxn, "fee")),
		uintField("fv", mapUint64(group.feeTxn, "fv")),
		uintField("lv", mapUint64(group.feeTxn, "lv")),
		bytesField("gh", p.cfg.GenesisHash[:]),
		bytesField("grp", mapBytes(group.feeTxn, "grp")),
	})
	feeSig := ed25519.Sign(p.cfg.RelayerSeed, append([]byte("TX"), feeBody.buf...))

	var signedFee msgpackWriter
	signedFee.buf = append(signedFee.buf, 0x82) // fixmap, 2 entries: sig, txn
	signedFee.writeStr("sig")
	signedFee.writeBin(feeSig)
	signedFee.writeStr("txn")
	signedFee.buf = append(signedFee.buf, feeBody.buf...)

	// algod accepts a group submission as the concatenation of each
	// transaction's own MessagePack encoding, in group order.
	assembled := append(append([]byte{}, signedFee.buf...), extractSignedAssetBytes(raw)...)

	result, err := p.submitRaw(ctxSettle, assembled)
	if err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	return types.SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: &types.TransactionHash{Family: types.AddressAlgo, Value: result},
		Network:     p.network,
	}, nil
}

// extractSignedAssetBytes re-slices the original raw group to return only
// its second MessagePack value (the already-signed ASA transfer), by
// decoding the first value purely to find where it ends.
func extractSignedAssetBytes(raw []byte) []byte {
	r := newMsgpackReader(raw)
	if _, err := r.value(); err != nil {
		return nil
	}
	start := r.pos
	if _, err := r.value(); err != nil {
		return nil
	}
	return raw[start:r.pos]
}

// doAlgod executes an HTTP request against algod through this provider's
// circuit breaker, isolating algod outages from other chains.
func (p *Provider) doAlgod(httpReq *http.Request) (*http.Response, error) {
	result, err := p.breaker.Execute(circuitbreaker.ServiceAlgorandRPC, func() (interface{}, error) {
		return p.client.Do(httpReq)
	})
	if err != nil {
		return nil, err
	}
	return result.(*http.Response), nil
}

// RelayerBalance implements provider.BalanceReporter: the relayer account's
// native Algo balance, converted from microAlgos.
func (p *Provider) RelayerBalance(ctx context.Context) (float64, string, error) {
	addr := p.SignerAddress().Text
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.cfg.AlgodURL, "/")+"/v2/accounts/"+addr, nil)
	if err != nil {
		return 0, "", err
	}
	if p.cfg.AlgodToken != "" {
		httpReq.Header.Set("X-Algo-API-Token", p.cfg.AlgodToken)
	}

	resp, err := p.doAlgod(httpReq)
	if err != nil {
		return 0, "", fmt.Errorf("algorand(%s): fetch account: %w", p.network, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", err
	}
	if resp.StatusCode >= 400 {
		return 0, "", fmt.Errorf("algorand(%s): fetch account failed: status %d: %s", p.network, resp.StatusCode, string(body))
	}
	var out struct {
		Amount uint64 `json:"amount"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return 0, "", fmt.Errorf("algorand(%s): decode account response: %w", p.network, err)
	}
	return float64(out.Amount) / 1_000_000, "ALGO", nil
}

func (p *Provider) submitRaw(ctx context.Context, groupBytes []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.cfg.AlgodURL, "/")+"/v2/transactions", bytes.NewReader(groupBytes))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/x-binary")
	if p.cfg.AlgodToken != "" {
		httpReq.Header.Set("X-Algo-API-Token", p.cfg.AlgodToken)
	}

	resp, err := p.doAlgod(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("algorand: submit group failed: status %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		TxID string `json:"txId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("algorand: decode submit response: %w", err)
	}
	return out.TxID, nil
}
