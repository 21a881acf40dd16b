package compliance

import (
	"time"

	"github.com/rs/zerolog"
)

// EventType names the kind of compliance event being recorded.
type EventType string

const (
	EventSanctionsHit     EventType = "sanctions_hit"
	EventBlacklistHit     EventType = "blacklist_hit"
	EventCleanTransaction EventType = "clean_transaction"
	EventScreeningError   EventType = "screening_error"
)

// ComplianceEvent is one audit record: a screening decision plus the
// transaction and matched-entity context that produced it.
type ComplianceEvent struct {
	Timestamp          time.Time
	EventType          EventType
	Decision           DecisionKind
	TransactionContext TransactionContext
	MatchedAddress     string
	AddressType        AddressType
	ListSource         string
	EntityName         string
}

// AuditLoggingConfig controls AuditLogger's behavior — whether logging runs
// at all, and whether clean (non-hit) transactions get an event too.
type AuditLoggingConfig struct {
	Enabled                 bool
	IncludeClearTransactions bool
}

// AuditLogger records every compliance hit (and, if configured, every clean
// screening) as a structured log event via zerolog — the same logger stack
// every other component in this facilitator uses.
type AuditLogger struct {
	cfg AuditLoggingConfig
	log zerolog.Logger
}

func NewAuditLogger(cfg AuditLoggingConfig, log zerolog.Logger) *AuditLogger {
	return &AuditLogger{cfg: cfg, log: log.With().Str("component", "compliance_audit").Logger()}
}

func (a *AuditLogger) LogEvent(event ComplianceEvent) {
	if !a.cfg.Enabled {
		return
	}
	if event.Decision == DecisionClear && !a.cfg.IncludeClearTransactions {
		return
	}

	entry := a.log.With().
		Time("timestamp", event.Timestamp).
		Str("event_type", string(event.EventType)).
		Str("decision", string(event.Decision)).
		Str("matched_address", event.MatchedAddress).
		Str("address_type", string(event.AddressType)).
		Str("list_source", event.ListSource).
		Str("entity_name", event.EntityName).
		Str("network", event.TransactionContext.Network).
		Str("amount", event.TransactionContext.Amount).
		Str("currency", event.TransactionContext.Currency).
		Str("transaction_id", event.TransactionContext.TransactionID).
		Logger()

	switch event.Decision {
	case DecisionBlock:
		entry.Error().Msg("compliance decision: block")
	case DecisionReview:
		entry.Warn().Msg("compliance decision: review")
	default:
		entry.Info().Msg("compliance decision: clear")
	}
}
