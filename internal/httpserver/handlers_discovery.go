package httpserver

import (
	"net/http"
	"strconv"

	apierrors "github.com/ultravioletadao/x402-facilitator/internal/errors"
	"github.com/ultravioletadao/x402-facilitator/internal/discovery"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

const defaultResourcePageSize = 50

// listResources handles GET /discovery/resources: the Bazaar catalog,
// optionally narrowed by type/network/scheme/asset/source/tag query params.
func (h handlers) listResources(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var filters discovery.Filters
	filters.Type = discovery.ResourceType(q.Get("type"))
	filters.Scheme = types.Scheme(q.Get("scheme"))
	filters.Source = discovery.Source(q.Get("source"))
	if tag := q.Get("tag"); tag != "" {
		filters.Tags = []string{tag}
	}
	if net := q.Get("network"); net != "" {
		parsed, err := caip2.Parse(net)
		if err != nil {
			apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "invalid network filter", "network", net)
			return
		}
		filters.Network = parsed
	}
	if asset := q.Get("asset"); asset != "" {
		filters.Asset = types.MixedAddress{Text: asset}
	}

	limit := defaultResourcePageSize
	if raw := q.Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			limit = v
		}
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v >= 0 {
			offset = v
		}
	}

	page := h.discovery.List(limit, offset, filters)
	writeJSON(w, http.StatusOK, page)
}

// registerResourceRequest is the body of POST /discovery/register.
type registerResourceRequest struct {
	URL         string              `json:"url"`
	Type        discovery.ResourceType `json:"type"`
	Network     caip2.NetworkID     `json:"network"`
	Scheme      types.Scheme        `json:"scheme"`
	Asset       types.MixedAddress  `json:"asset"`
	Description string              `json:"description,omitempty"`
	Tags        []string            `json:"tags,omitempty"`
}

// registerResource handles POST /discovery/register: direct self-registration
// of a discoverable paid endpoint, as distinct from aggregation or crawling.
func (h handlers) registerResource(w http.ResponseWriter, r *http.Request) {
	var req registerResourceRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		apierrors.WriteErrorWithDetail(w, apierrors.ErrCodeInvalidField, "malformed registration request body", "error", err.Error())
		return
	}
	if req.URL == "" {
		apierrors.WriteSimpleError(w, apierrors.ErrCodeMissingField, "url is required")
		return
	}

	res, err := h.discovery.Register(r.Context(), discovery.Resource{
		URL:         req.URL,
		Type:        req.Type,
		Network:     req.Network,
		Scheme:      req.Scheme,
		Asset:       req.Asset,
		Description: req.Description,
		Tags:        req.Tags,
		Source:      discovery.SourceRegistered,
	})
	if err != nil {
		h.logger.Error().Err(err).Msg("discovery registration failed")
		apierrors.WriteSimpleError(w, apierrors.ErrCodeInternalError, "failed to register resource")
		return
	}

	if h.metrics != nil {
		h.metrics.SetDiscoveryResourceCount(h.discovery.List(1, 0, discovery.Filters{}).Total)
	}
	writeJSON(w, http.StatusCreated, res)
}
