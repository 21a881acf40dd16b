package errors

// ErrorCode is the facilitator's closed error taxonomy (spec.md §7), used for
// the transport-level failures the HTTP layer answers with a 4xx/5xx status
// rather than an embedded VerifyResponse/SettleResponse reason — routing
// failures, malformed request bodies, and submission faults that never
// reached a typed on-chain rejection.
type ErrorCode string

const (
	ErrCodeUnsupportedNetwork    ErrorCode = "unsupported_network"
	ErrCodeSchemeMismatch        ErrorCode = "scheme_mismatch"
	ErrCodeNetworkMismatch       ErrorCode = "network_mismatch"
	ErrCodeReceiverMismatch      ErrorCode = "receiver_mismatch"
	ErrCodeInvalidSignature      ErrorCode = "invalid_signature"
	ErrCodeInvalidTiming         ErrorCode = "invalid_timing"
	ErrCodeInvalidNonce          ErrorCode = "invalid_nonce"
	ErrCodeInsufficientFunds     ErrorCode = "insufficient_funds"
	ErrCodeUnsupportedAsset      ErrorCode = "unsupported_asset"
	ErrCodeBlockedAddress        ErrorCode = "blocked_address"
	ErrCodeInvalidAddress        ErrorCode = "invalid_address"
	ErrCodeDecodingError         ErrorCode = "decoding_error"
	ErrCodeContractCall          ErrorCode = "contract_call"
	ErrCodeUnexpectedSettleError ErrorCode = "unexpected_settle_error"
	ErrCodeOther                 ErrorCode = "other"

	// Request validation errors that never reach the dispatcher at all.
	ErrCodeMissingField ErrorCode = "missing_field"
	ErrCodeInvalidField ErrorCode = "invalid_field"
	ErrCodeInternalError ErrorCode = "internal_error"
)

// IsRetryable returns whether a client encountering this error code should
// retry the request unmodified. Transport/RPC faults are retryable;
// validation and compliance failures are permanent for the given request.
func (e ErrorCode) IsRetryable() bool {
	switch e {
	case ErrCodeContractCall, ErrCodeUnexpectedSettleError, ErrCodeInternalError:
		return true
	default:
		return false
	}
}

// HTTPStatus returns the HTTP status code for a transport-level error
// response. Business-level verify/settle outcomes never go through this
// path — they return 200 OK with an embedded reason, per spec.md §7's
// propagation policy.
func (e ErrorCode) HTTPStatus() int {
	switch e {
	case ErrCodeUnsupportedNetwork,
		ErrCodeSchemeMismatch,
		ErrCodeNetworkMismatch,
		ErrCodeInvalidAddress,
		ErrCodeDecodingError,
		ErrCodeMissingField,
		ErrCodeInvalidField:
		return 400

	case ErrCodeContractCall, ErrCodeUnexpectedSettleError:
		return 502

	default:
		return 500
	}
}
