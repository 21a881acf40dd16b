// Package compliance implements sanctions-list and blacklist screening: the
// facilitator dispatcher screens both parties of every payment before
// trusting a provider's verify/settle result, and emits an audit event for
// every hit (and, unless suppressed, every clean transaction too).
package compliance

import (
	"context"
	"strings"
	"time"
)

// DecisionKind is the closed set of outcomes a screen can reach.
type DecisionKind string

const (
	DecisionBlock  DecisionKind = "Block"
	DecisionReview DecisionKind = "Review"
	DecisionClear  DecisionKind = "Clear"
)

// Decision is a screening outcome: a kind plus, for Block/Review, why.
type Decision struct {
	Kind   DecisionKind
	Reason string
}

func Clear() Decision                    { return Decision{Kind: DecisionClear} }
func Block(reason string) Decision       { return Decision{Kind: DecisionBlock, Reason: reason} }
func Review(reason string) Decision      { return Decision{Kind: DecisionReview, Reason: reason} }
func (d Decision) IsClear() bool         { return d.Kind == DecisionClear }
func (d Decision) BlocksSettlement() bool { return d.Kind == DecisionBlock || d.Kind == DecisionReview }

// AddressType distinguishes which side of a payment an address screened as.
type AddressType string

const (
	AddressTypePayer AddressType = "payer"
	AddressTypePayee AddressType = "payee"
)

// TransactionContext carries the payment details an audit event records
// alongside the screening decision.
type TransactionContext struct {
	Amount        string
	Currency      string
	Network       string
	TransactionID string
}

// MatchedEntity describes one address that hit a list during screening.
type MatchedEntity struct {
	Address     string
	AddressType AddressType
	ListSource  string
	EntityName  string
	EntityID    string
	Program     string
}

// ScreeningResult is screen_payment's full contract return: not just the
// decision but which entities matched and which list versions were in
// effect, so callers can audit without re-querying the lists.
type ScreeningResult struct {
	Decision       Decision
	PayerAddress   string
	PayeeAddress   string
	MatchedEntities []MatchedEntity
	ListVersions    map[string]string
}

// ListMetadata reports one loaded list's identity and provenance.
type ListMetadata struct {
	Name        string
	Enabled     bool
	RecordCount int
	LastUpdated time.Time
	Checksum    string
	SourceURL   string
}

// SanctionsList is one screenable address set (OFAC SDN, and in principle
// UN/UK/EU — only OFAC ships a loader here, see DESIGN.md).
type SanctionsList interface {
	IsSanctioned(address string) bool
	Metadata() ListMetadata
}

// Checker is the compliance screening contract every dispatcher call runs
// through before trusting a provider's result.
type Checker interface {
	ScreenPayment(ctx context.Context, payer, payee string, txCtx TransactionContext) (ScreeningResult, error)
	ScreenAddress(ctx context.Context, address string) (Decision, error)
	ListMetadata() map[string]ListMetadata
	ReloadLists(ctx context.Context) error
}

// normalizeAddress applies the spec's lowercase+trim normalization before
// any set lookup.
func normalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
