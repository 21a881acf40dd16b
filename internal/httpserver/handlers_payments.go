package httpserver

import (
	"errors"
	"net/http"
	"time"

	apierrors "github.com/ultravioletadao/x402-facilitator/internal/errors"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/dispatcher"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// verify handles POST /verify: a structural/signature/balance/compliance
// check with no state change. A routing failure (unsupported network,
// malformed body) is a 4xx/5xx transport error; every other outcome is a
// 200 OK with an embedded VerifyResponse, per spec.md §7's propagation
// policy — an Invalid verdict is not itself an HTTP error.
func (h handlers) verify(w http.ResponseWriter, r *http.Request) {
	var req types.VerifyRequest
	if err := decodePaymentRequest(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "malformed verify request body", "error", err.Error())
		return
	}

	start := time.Now()
	resp, err := h.dispatcher.Verify(r.Context(), req)
	if err != nil {
		h.writeDispatchError(w, r, "verify", req.PaymentRequirements.Network.String(), string(req.PaymentRequirements.Scheme), err)
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveVerify(req.PaymentRequirements.Network.String(), string(req.PaymentRequirements.Scheme), resp.IsValid, time.Since(start))
	}
	writeJSON(w, http.StatusOK, resp)
}

// settle handles POST /settle: re-verifies, then submits the authorized
// transfer on-chain (or relays to the FHE proxy for a fhe-transfer scheme).
func (h handlers) settle(w http.ResponseWriter, r *http.Request) {
	var req types.SettleRequest
	if err := decodePaymentRequest(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "malformed settle request body", "error", err.Error())
		return
	}

	start := time.Now()
	resp, err := h.dispatcher.Settle(r.Context(), req)
	if err != nil {
		h.writeDispatchError(w, r, "settle", req.PaymentRequirements.Network.String(), string(req.PaymentRequirements.Scheme), err)
		return
	}

	if h.metrics != nil {
		h.metrics.ObserveSettle(req.PaymentRequirements.Network.String(), string(req.PaymentRequirements.Scheme), resp.Success, time.Since(start))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeDispatchError maps a dispatcher-level error to a transport response.
// ErrUnsupportedNetwork is the one routing fault the HTTP layer distinguishes
// by name; anything else is an unexpected internal fault.
func (h handlers) writeDispatchError(w http.ResponseWriter, r *http.Request, op, network, scheme string, err error) {
	h.logger.Error().Err(err).Str("op", op).Str("network", network).Msg("dispatch error")
	if errors.Is(err, dispatcher.ErrUnsupportedNetwork) {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeUnsupportedNetwork, err.Error(), "network", network)
		return
	}
	apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "internal error processing request")
}

// supported handles GET /supported: the cartesian product of every
// registered provider's (x402Version, scheme, network) kinds.
func (h handlers) supported(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.Supported())
}

// blacklist handles GET /blacklist: operator-facing compliance list metadata
// and aggregate blocked-address counts (not the raw address list itself).
func (h handlers) blacklist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.dispatcher.BlacklistInfo())
}
