// Package discovery implements the Bazaar discovery registry: a catalog of
// discoverable paid endpoints (resources) that clients and peer
// facilitators can query, populated by direct registration, a periodic
// peer-aggregation job, and a seeded crawler.
package discovery

import (
	"time"

	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/caip2"
	"github.com/ultravioletadao/x402-facilitator/pkg/facilitator/types"
)

// ResourceType names the protocol a discoverable endpoint speaks.
type ResourceType string

const (
	ResourceHTTP        ResourceType = "http"
	ResourceMCP         ResourceType = "mcp"
	ResourceA2A         ResourceType = "a2a"
	ResourceFacilitator ResourceType = "facilitator"
)

// Source records how a resource entered the registry.
type Source string

const (
	SourceRegistered Source = "registered"
	SourceAggregated Source = "aggregated"
	SourceCrawled    Source = "crawled"
)

// Resource is one catalog entry: a discoverable endpoint plus the payment
// terms it accepts.
type Resource struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Type        ResourceType    `json:"type"`
	Network     caip2.NetworkID `json:"network"`
	Scheme      types.Scheme    `json:"scheme"`
	Asset       types.MixedAddress `json:"asset"`
	Description string          `json:"description,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	Source      Source          `json:"source"`
	LastUpdated time.Time       `json:"lastUpdated"`
}

// key identifies the logical resource a (url, type) pair names, per spec:
// re-registering the same pair updates in place rather than duplicating.
func (r Resource) key() string { return r.URL + "|" + string(r.Type) }

// Filters narrows a list() call; zero-valued fields are not applied. Order
// of application is fixed: type, network, scheme, asset, source, tags.
type Filters struct {
	Type    ResourceType
	Network caip2.NetworkID
	Scheme  types.Scheme
	Asset   types.MixedAddress
	Source  Source
	Tags    []string
}

func (f Filters) matches(r Resource) bool {
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if !f.Network.IsZero() && r.Network != f.Network {
		return false
	}
	if f.Scheme != "" && r.Scheme != f.Scheme {
		return false
	}
	if f.Asset.Text != "" && r.Asset.Text != f.Asset.Text {
		return false
	}
	if f.Source != "" && r.Source != f.Source {
		return false
	}
	for _, tag := range f.Tags {
		if !containsTag(r.Tags, tag) {
			return false
		}
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Page is one list() result: the page of matching resources, the total
// match count, and a cursor for the next page (empty when exhausted).
type Page struct {
	Resources  []Resource `json:"resources"`
	Total      int        `json:"total"`
	NextCursor string     `json:"nextCursor,omitempty"`
}

// notFoundError is returned by Update/Unregister for an unknown id.
type notFoundError struct{ id string }

func (e *notFoundError) Error() string { return "discovery: resource not found: " + e.id }

func newNotFoundError(id string) error { return &notFoundError{id: id} }
