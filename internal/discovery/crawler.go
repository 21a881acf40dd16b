package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// wellKnownAccept mirrors one entry of a /.well-known/x402 response's
// "accepts" array — the same shape a 402 response's PaymentRequirements
// takes, reduced to the fields discovery cares about.
type wellKnownAccept struct {
	Scheme  string `json:"scheme"`
	Network string `json:"network"`
	Asset   string `json:"asset"`
}

type wellKnownResource struct {
	URL         string            `json:"url"`
	Type        string            `json:"type"`
	Description string            `json:"description,omitempty"`
	Accepts     []wellKnownAccept `json:"accepts"`
}

type wellKnownResponse struct {
	X402Version int                 `json:"x402Version"`
	Resources   []wellKnownResource `json:"resources"`
}

// Crawler fetches /.well-known/x402 from a seed list of hosts and
// registers whatever it finds with source=crawled. Each host gets exactly
// one request within requestTimeout.
type Crawler struct {
	registry       *Registry
	client         *http.Client
	requestTimeout time.Duration
	log            zerolog.Logger
}

func NewCrawler(registry *Registry, client *http.Client, requestTimeout time.Duration, log zerolog.Logger) *Crawler {
	if client == nil {
		client = &http.Client{}
	}
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}
	return &Crawler{registry: registry, client: client, requestTimeout: requestTimeout, log: log.With().Str("component", "discovery_crawler").Logger()}
}

// Crawl fetches each seed host's /.well-known/x402 and bulk-imports the
// resources it advertises. overwrite is passed through to BulkImport so a
// re-crawl can refresh previously crawled entries.
func (c *Crawler) Crawl(ctx context.Context, seedHosts []string, overwrite bool) {
	var all []Resource
	for _, host := range seedHosts {
		resources, err := c.crawlHost(ctx, host)
		if err != nil {
			c.log.Warn().Err(err).Str("host", host).Msg("crawl failed")
			continue
		}
		all = append(all, resources...)
	}
	if len(all) == 0 {
		return
	}
	imported, skipped, err := c.registry.BulkImport(ctx, all, overwrite)
	if err != nil {
		c.log.Error().Err(err).Msg("crawl import failed")
		return
	}
	c.log.Info().Int("hosts", len(seedHosts)).Int("imported", imported).Int("skipped", skipped).Msg("crawl complete")
}

func (c *Crawler) crawlHost(ctx context.Context, host string) ([]Resource, error) {
	url := "https://" + strings.TrimSuffix(strings.TrimPrefix(host, "https://"), "/") + "/.well-known/x402"

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: build crawl request: %w", err)
	}
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: fetch %s: %w", url, err)
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: %s returned status %d", url, httpResp.StatusCode)
	}

	var wk wellKnownResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wk); err != nil {
		return nil, fmt.Errorf("discovery: decode %s: %w", url, err)
	}

	var out []Resource
	for _, res := range wk.Resources {
		if len(res.Accepts) == 0 {
			out = append(out, Resource{
				URL: res.URL, Type: ResourceType(res.Type), Description: res.Description,
				Tags: []string{"source=Crawled"}, Source: SourceCrawled,
			})
			continue
		}
		for _, accept := range res.Accepts {
			network, parseErr := caip2.Parse(accept.Network)
			if parseErr != nil {
				c.log.Warn().Err(parseErr).Str("url", res.URL).Msg("skipping accept with unparseable network")
				continue
			}
			out = append(out, Resource{
				URL:         res.URL,
				Type:        ResourceType(res.Type),
				Network:     network,
				Scheme:      types.Scheme(accept.Scheme),
				Asset:       types.MixedAddress{Text: accept.Asset},
				Description: res.Description,
				Tags:        []string{"source=Crawled"},
				Source:      SourceCrawled,
			})
		}
	}
	return out, nil
}
