package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/internal/circuitbreaker"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// PeerConfig names one external facilitator to poll for its discovery
// catalog, enabling a "Meta-Bazaar" that re-serves resources indexed by
// other x402 facilitators under source=aggregated.
type PeerConfig struct {
	Name string
	URL  string // base URL; GET {URL}/discovery/resources is fetched
}

// peerResource is the wire shape returned by a peer's /discovery/resources
// endpoint — the same list response this facilitator itself serves.
type peerResource struct {
	URL         string   `json:"url"`
	Type        string   `json:"type"`
	Network     string   `json:"network"`
	Scheme      string   `json:"scheme"`
	Asset       string   `json:"asset"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type peerListResponse struct {
	Resources []peerResource `json:"resources"`
}

// Aggregator periodically polls a configured set of peer facilitators and
// bulk-imports whatever they report into the local registry.
type Aggregator struct {
	registry *Registry
	peers    []PeerConfig
	client   *http.Client
	breaker  *circuitbreaker.Manager
	log      zerolog.Logger
}

func NewAggregator(registry *Registry, peers []PeerConfig, client *http.Client, breaker *circuitbreaker.Manager, log zerolog.Logger) *Aggregator {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if breaker == nil {
		breaker = circuitbreaker.NewManager(circuitbreaker.Config{}, log)
	}
	return &Aggregator{registry: registry, peers: peers, client: client, breaker: breaker, log: log.With().Str("component", "discovery_aggregator").Logger()}
}

// Run polls every peer once, converting each reported resource into the
// canonical Resource shape and bulk-importing with overwrite=true — peer
// catalogs are authoritative for their own entries.
func (a *Aggregator) Run(ctx context.Context) {
	for _, peer := range a.peers {
		resources, err := a.fetch(ctx, peer)
		if err != nil {
			a.log.Warn().Err(err).Str("peer", peer.Name).Msg("aggregation fetch failed")
			continue
		}
		imported, skipped, err := a.registry.BulkImport(ctx, resources, true)
		if err != nil {
			a.log.Error().Err(err).Str("peer", peer.Name).Msg("aggregation import failed")
			continue
		}
		a.log.Info().Str("peer", peer.Name).Int("imported", imported).Int("skipped", skipped).Msg("aggregated peer catalog")
	}
}

// RunPeriodic polls every peer on the given interval until ctx is done.
func (a *Aggregator) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	a.Run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.Run(ctx)
		}
	}
}

func (a *Aggregator) fetch(ctx context.Context, peer PeerConfig) ([]Resource, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, peer.URL+"/discovery/resources", nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build peer request: %w", err)
	}
	result, err := a.breaker.Execute(circuitbreaker.ServiceDiscoveryPeers, func() (interface{}, error) {
		return a.client.Do(req)
	})
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch peer catalog: %w", err)
	}
	httpResp := result.(*http.Response)
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: peer %s returned status %d", peer.Name, httpResp.StatusCode)
	}

	var listResp peerListResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&listResp); err != nil {
		return nil, fmt.Errorf("discovery: decode peer catalog: %w", err)
	}

	out := make([]Resource, 0, len(listResp.Resources))
	for _, pr := range listResp.Resources {
		network, err := caip2.Parse(pr.Network)
		if err != nil {
			a.log.Warn().Err(err).Str("peer", peer.Name).Str("url", pr.URL).Msg("skipping resource with unparseable network")
			continue
		}
		out = append(out, Resource{
			URL:         pr.URL,
			Type:        ResourceType(pr.Type),
			Network:     network,
			Scheme:      types.Scheme(pr.Scheme),
			Asset:       types.MixedAddress{Text: pr.Asset},
			Description: pr.Description,
			Tags:        append(append([]string{}, pr.Tags...), "source=Aggregated", "peer="+peer.Name),
			Source:      SourceAggregated,
		})
	}
	return out, nil
}
