// Package svm implements the chain provider contract for solana and fogo
// networks: a single SPL-Token(-2022) transfer instruction, co-signed by the
// facilitator as fee payer, submitted and confirmed on-chain.
package svm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"
	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/internal/rpcutil"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/provider"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// pollInterval and blockhashValidityWindow bound the RPC-polling confirmation
// fallback the way the teacher's Solana verifier does.
const (
	pollInterval            = 500 * time.Millisecond
	blockhashValidityWindow = 90 * time.Second
)

// Config configures one SVM provider instance, one per CAIP-2 network
// (solana or fogo, mainnet or testnet/devnet).
type Config struct {
	Network       caip2.NetworkID
	RPCURL        string
	WSURL         string // derived from RPCURL if empty
	SignerBase58  string // facilitator fee-payer keypair, base58
	Commitment    rpc.CommitmentType
	SettleTimeout time.Duration
	// ExtraInstructionsAllowlist holds base58 program ids permitted to appear
	// alongside the transfer instruction. Empty means reject any transaction
	// with more than the one expected transfer instruction (spec §9 decision).
	ExtraInstructionsAllowlist []string
	Breaker                    *circuitbreaker.Manager
}

// Provider implements pkg/facilitator/provider.Provider for one SVM network.
type Provider struct {
	cfg     Config
	network caip2.NetworkID
	rpc     *rpc.Client
	ws      *ws.Client
	signer  solana.PrivateKey
	breaker *circuitbreaker.Manager
	log     zerolog.Logger
}

// New dials RPC (and WebSocket, deriving its URL from RPCURL if unset) and
// parses the facilitator's fee-payer keypair.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*Provider, error) {
	signer, err := parsePrivateKey(cfg.SignerBase58)
	if err != nil {
		return nil, fmt.Errorf("svm(%s): parse signer key: %w", cfg.Network, err)
	}

	wsURL := cfg.WSURL
	if wsURL == "" {
		derived, err := deriveWebsocketURL(cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("svm(%s): derive websocket url: %w", cfg.Network, err)
		}
		wsURL = derived
	}
	wsClient, err := ws.Connect(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("svm(%s): connect websocket: %w", cfg.Network, err)
	}

	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.SettleTimeout == 0 {
		cfg.SettleTimeout = 60 * time.Second
	}
	if cfg.Breaker == nil {
		cfg.Breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}

	return &Provider{
		cfg:     cfg,
		network: cfg.Network,
		rpc:     rpc.New(cfg.RPCURL),
		ws:      wsClient,
		signer:  signer,
		breaker: cfg.Breaker,
		log:     log.With().Str("chain", cfg.Network.String()).Logger(),
	}, nil
}

func (p *Provider) SignerAddress() types.MixedAddress {
	addr, _ := types.NewSolanaAddress(p.signer.PublicKey().String())
	return addr
}

func (p *Provider) Network() caip2.NetworkID { return p.network }

// RelayerBalance implements provider.BalanceReporter: the fee payer's
// native SOL balance, converted from lamports.
func (p *Provider) RelayerBalance(ctx context.Context) (float64, string, error) {
	result, err := p.rpc.GetBalance(ctx, p.signer.PublicKey(), p.cfg.Commitment)
	if err != nil {
		return 0, "", fmt.Errorf("svm(%s): get balance: %w", p.network, err)
	}
	return float64(result.Value) / 1e9, "SOL", nil
}

func (p *Provider) Supported() types.SupportedPaymentKindsResponse {
	return types.SupportedPaymentKindsResponse{Kinds: []types.SupportedKind{
		{X402Version: 2, Scheme: types.SchemeExact, Network: p.network},
	}}
}

// decodedTransfer is what Verify extracts from the partially-signed transaction.
type decodedTransfer struct {
	tx     *solana.Transaction
	owner  solana.PublicKey
	amount types.Amount
}

// Verify decodes the base64 transaction, checks that its only token-program
// instruction is a single Transfer/TransferChecked to the required account,
// that the facilitator is the declared fee payer, and that the transferred
// amount meets the requirement. It issues no RPC calls of its own beyond what
// decoding requires.
func (p *Provider) Verify(ctx context.Context, req types.VerifyRequest) (types.VerifyResponse, error) {
	payload, ok := req.PaymentPayload.Payload.(types.SVMExactPayload)
	if !ok {
		return types.Invalid(types.ReasonInvalidScheme, nil), nil
	}

	if reason, ok := provider.CheckPreconditions(req, p.network, types.AddressSolana); !ok {
		return types.Invalid(reason, nil), nil
	}

	tx, err := solana.TransactionFromBase64(payload.Transaction)
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	if len(tx.Message.AccountKeys) == 0 {
		return types.Invalid(types.ReasonOther, nil), nil
	}
	feePayer := tx.Message.AccountKeys[0]
	if !feePayer.Equals(p.signer.PublicKey()) {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	decoded, reason := p.decodeTransfer(tx, req.PaymentRequirements)
	if reason != "" {
		return types.Invalid(reason, nil), nil
	}
	payer, err := types.NewSolanaAddress(decoded.owner.String())
	if err != nil {
		return types.Invalid(types.ReasonOther, nil), nil
	}

	// Receiver is checked implicitly: decodeTransfer only returns a match when
	// the transfer's destination is the associated token account derived
	// from PaymentRequirements.PayTo, so a separate CheckReceiver call here
	// would only ever compare PayTo against itself.
	if reason, ok := provider.CheckMinimumAmount(decoded.amount, req.PaymentRequirements.MaxAmountRequired); !ok {
		return types.Invalid(reason, &payer), nil
	}

	return types.Valid(payer), nil
}

// decodeTransfer walks the transaction's SPL-Token-program instructions,
// rejecting anything beyond one Transfer/TransferChecked to the required
// destination unless the extra instruction's program id is allowlisted.
func (p *Provider) decodeTransfer(tx *solana.Transaction, reqs types.PaymentRequirements) (decodedTransfer, types.InvalidReason) {
	destination, err := resolveDestinationATA(reqs)
	if err != nil {
		return decodedTransfer{}, types.ReasonUnsupportedAsset
	}
	mint := solana.MustPublicKeyFromBase58(reqs.Asset.String())

	var found *decodedTransfer
	for _, inst := range tx.Message.Instructions {
		if int(inst.ProgramIDIndex) >= len(tx.Message.AccountKeys) {
			continue
		}
		programID := tx.Message.AccountKeys[inst.ProgramIDIndex]
		if !programID.Equals(solana.TokenProgramID) {
			if !p.instructionAllowed(programID) {
				return decodedTransfer{}, types.ReasonOther
			}
			continue
		}
		if found != nil {
			return decodedTransfer{}, types.ReasonOther // more than one token-program instruction
		}

		accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
		if err != nil {
			return decodedTransfer{}, types.ReasonOther
		}
		decodedInst, err := token.DecodeInstruction(accounts, []byte(inst.Data))
		if err != nil {
			return decodedTransfer{}, types.ReasonOther
		}

		switch ins := decodedInst.Impl.(type) {
		case *token.Transfer:
			if !ins.GetDestinationAccount().PublicKey.Equals(destination) {
				return decodedTransfer{}, types.ReasonReceiverMismatch
			}
			if ins.Amount == nil {
				return decodedTransfer{}, types.ReasonOther
			}
			found = &decodedTransfer{tx: tx, owner: ins.GetOwnerAccount().PublicKey, amount: types.AmountFromUint64(*ins.Amount)}
		case *token.TransferChecked:
			if !ins.GetDestinationAccount().PublicKey.Equals(destination) {
				return decodedTransfer{}, types.ReasonReceiverMismatch
			}
			if !ins.GetMintAccount().PublicKey.Equals(mint) {
				return decodedTransfer{}, types.ReasonUnsupportedAsset
			}
			if ins.Amount == nil {
				return decodedTransfer{}, types.ReasonOther
			}
			found = &decodedTransfer{tx: tx, owner: ins.GetOwnerAccount().PublicKey, amount: types.AmountFromUint64(*ins.Amount)}
		default:
			return decodedTransfer{}, types.ReasonOther
		}
	}

	if found == nil {
		return decodedTransfer{}, types.ReasonOther
	}
	return *found, ""
}

func (p *Provider) instructionAllowed(programID solana.PublicKey) bool {
	for _, allowed := range p.cfg.ExtraInstructionsAllowlist {
		pk, err := solana.PublicKeyFromBase58(allowed)
		if err == nil && pk.Equals(programID) {
			return true
		}
	}
	return false
}

func resolveDestinationATA(reqs types.PaymentRequirements) (solana.PublicKey, error) {
	owner := solana.MustPublicKeyFromBase58(reqs.PayTo.String())
	mint := solana.MustPublicKeyFromBase58(reqs.Asset.String())
	account, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	return account, err
}

// parsePrivateKey accepts the facilitator's fee-payer key as either base58
// (the standard solana-keygen form) or a JSON byte array (the form wallet
// exports like Phantom produce), so operators aren't forced to convert.
func parsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return solana.PrivateKey{}, fmt.Errorf("signer key not configured")
	}
	if !strings.HasPrefix(raw, "[") {
		return solana.PrivateKeyFromBase58(raw)
	}

	content := strings.TrimSuffix(strings.TrimPrefix(raw, "["), "]")
	parts := strings.Split(content, ",")
	if len(parts) != 64 {
		return solana.PrivateKey{}, fmt.Errorf("key array must have 64 bytes, got %d", len(parts))
	}
	var keyBytes [64]byte
	for i, part := range parts {
		val, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || val < 0 || val > 255 {
			return solana.PrivateKey{}, fmt.Errorf("invalid byte at position %d: %q", i, part)
		}
		keyBytes[i] = byte(val)
	}
	return solana.PrivateKey(keyBytes[:]), nil
}

// ensureDestinationATA creates the payee's associated token account as a
// separate, facilitator-paid transaction when it doesn't exist yet. The
// payer's signed transfer transaction can't be amended to add this
// instruction without invalidating their signature, so it must land first.
func (p *Provider) ensureDestinationATA(ctx context.Context, owner, mint solana.PublicKey) error {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return fmt.Errorf("derive ata: %w", err)
	}

	if _, err := rpcutil.WithRetry(ctx, func() (*rpc.GetAccountInfoResult, error) {
		return p.rpc.GetAccountInfo(ctx, ata)
	}); err == nil {
		return nil // already exists
	}

	blockhash, err := rpcutil.WithRetry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return p.rpc.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	})
	if err != nil {
		return fmt.Errorf("get latest blockhash: %w", err)
	}

	createInst := associatedtokenaccount.NewCreateInstruction(p.signer.PublicKey(), owner, mint).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{createInst}, blockhash.Value.Blockhash, solana.TransactionPayer(p.signer.PublicKey()))
	if err != nil {
		return fmt.Errorf("build create-ata transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.signer.PublicKey()) {
			return &p.signer
		}
		return nil
	}); err != nil {
		return fmt.Errorf("sign create-ata transaction: %w", err)
	}

	sig, err := p.rpc.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{PreflightCommitment: p.cfg.Commitment})
	if err != nil {
		return fmt.Errorf("send create-ata transaction: %w", err)
	}
	if err := p.awaitConfirmation(ctx, sig); err != nil {
		return fmt.Errorf("confirm create-ata transaction: %w", err)
	}
	p.log.Info().Str("ata", ata.String()).Str("owner", owner.String()).Msg("created destination associated token account")
	return nil
}

// Settle re-verifies, co-signs the transaction as fee payer, submits it, and
// awaits confirmation to the configured commitment level.
func (p *Provider) Settle(ctx context.Context, req types.SettleRequest) (types.SettleResponse, error) {
	verifyResp, err := p.Verify(ctx, req)
	if err != nil {
		return types.SettleResponse{}, err
	}
	if !verifyResp.IsValid {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: verifyResp.Reason}, nil
	}

	payload := req.PaymentPayload.Payload.(types.SVMExactPayload)
	tx, err := solana.TransactionFromBase64(payload.Transaction)
	if err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonOther}, nil
	}

	owner := solana.MustPublicKeyFromBase58(req.PaymentRequirements.PayTo.String())
	mint := solana.MustPublicKeyFromBase58(req.PaymentRequirements.Asset.String())
	if err := p.ensureDestinationATA(ctx, owner, mint); err != nil {
		p.log.Error().Err(err).Msg("ensure destination ata failed")
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(p.signer.PublicKey()) {
			return &p.signer
		}
		return nil
	}); err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	ctxSettle, cancel := context.WithTimeout(ctx, p.cfg.SettleTimeout)
	defer cancel()

	sigResult, sendErr := p.breaker.Execute(circuitbreaker.ServiceSVMRPC, func() (interface{}, error) {
		return p.rpc.SendTransactionWithOpts(ctxSettle, tx, rpc.TransactionOpts{PreflightCommitment: p.cfg.Commitment})
	})
	sig, _ := sigResult.(solana.Signature)
	if sendErr != nil && !isAlreadyProcessedError(sendErr) {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: mapSendError(sendErr)}, nil
	}

	if err := p.awaitConfirmation(ctxSettle, sig); err != nil {
		return types.SettleResponse{Success: false, Payer: verifyResp.Payer, Network: p.network, ErrorReason: types.ReasonUnexpectedSettleError}, nil
	}

	return types.SettleResponse{
		Success:     true,
		Payer:       verifyResp.Payer,
		Transaction: &types.TransactionHash{Family: types.AddressSolana, Value: sig.String()},
		Network:     p.network,
	}, nil
}

func (p *Provider) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	if err := p.awaitConfirmationViaWebSocket(ctx, sig); err == nil {
		return nil
	}
	return p.awaitConfirmationViaRPC(ctx, sig)
}

func (p *Provider) awaitConfirmationViaWebSocket(ctx context.Context, sig solana.Signature) error {
	sub, err := p.ws.SignatureSubscribe(sig, p.cfg.Commitment)
	if err != nil {
		return fmt.Errorf("svm: subscribe signature: %w", err)
	}
	defer sub.Unsubscribe()

	res, err := sub.Recv(ctx)
	if err != nil {
		return fmt.Errorf("svm: wait confirmation: %w", err)
	}
	if res == nil {
		return errors.New("svm: empty confirmation result")
	}
	if res.Value.Err != nil {
		return fmt.Errorf("svm: transaction error: %v", res.Value.Err)
	}
	return nil
}

func (p *Provider) awaitConfirmationViaRPC(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	deadline := time.Now().Add(blockhashValidityWindow)
	for {
		select {
		case <-ctx.Done():
			return p.checkTransactionStatus(ctx, sig)
		case <-ticker.C:
			err := p.checkTransactionStatus(ctx, sig)
			if err == nil {
				return nil
			}
			if time.Now().After(deadline) {
				return fmt.Errorf("svm: transaction not seen within blockhash validity window: %w", err)
			}
			if isTransactionNotFoundError(err) {
				continue
			}
			return err
		}
	}
}

func (p *Provider) checkTransactionStatus(ctx context.Context, sig solana.Signature) error {
	result, err := p.rpc.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return fmt.Errorf("svm: get signature status: %w", err)
	}
	if result == nil || len(result.Value) == 0 || result.Value[0] == nil {
		return errors.New("svm: transaction not found")
	}
	status := result.Value[0]
	if status.ConfirmationStatus == "" {
		return errors.New("svm: transaction not confirmed yet")
	}
	if status.Err != nil {
		return fmt.Errorf("svm: transaction error: %v", status.Err)
	}
	return nil
}

func isTransactionNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "not found") || strings.Contains(msg, "not confirmed yet")
}

func isAlreadyProcessedError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already been processed") || strings.Contains(msg, "Transaction already processed")
}

func mapSendError(err error) types.InvalidReason {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "custom program error: 0x1"):
		return types.ReasonInsufficientFunds
	case strings.Contains(msg, "insufficient lamports"):
		return types.ReasonInsufficientFunds
	case strings.Contains(msg, "account not found") || strings.Contains(msg, "invalid account data"):
		return types.ReasonUnsupportedAsset
	default:
		return types.ReasonUnexpectedSettleError
	}
}

func deriveWebsocketURL(raw string) (string, error) {
	trimmed := raw
	switch {
	case strings.HasPrefix(trimmed, "https://"):
		return "wss://" + strings.TrimPrefix(trimmed, "https://"), nil
	case strings.HasPrefix(trimmed, "http://"):
		return "ws://" + strings.TrimPrefix(trimmed, "http://"), nil
	case strings.HasPrefix(trimmed, "ws://") || strings.HasPrefix(trimmed, "wss://"):
		return trimmed, nil
	default:
		return "", fmt.Errorf("svm: cannot derive websocket url from %q", raw)
	}
}

