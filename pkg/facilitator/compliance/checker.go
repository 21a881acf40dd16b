package compliance

import (
	"context"
	"fmt"
	"time"
)

// FailBehavior is one side of the compliance FailMode: how to react when a
// list fails to load, or when a runtime screen itself errors.
type FailBehavior string

const (
	FailOpen   FailBehavior = "open"
	FailClosed FailBehavior = "closed"
)

// FailMode configures both failure surfaces spec.md §4.2 distinguishes:
// a list that won't load at startup, and a screen that errors at runtime.
type FailMode struct {
	OnListLoadError  FailBehavior
	OnScreeningError FailBehavior
}

// Config builds a MultiListChecker: which lists to load and from where, the
// blacklist file, the audit logger's behavior, and the two fail behaviors.
type Config struct {
	OFACPath          string // empty disables OFAC
	BlacklistPath     string // empty disables the blacklist
	FailMode          FailMode
	AuditLogging      AuditLoggingConfig
}

// MultiListChecker is the Checker implementation that screens against a
// blacklist first, then every loaded sanctions list in order.
type MultiListChecker struct {
	lists     []SanctionsList
	blacklist *Blacklist
	audit     *AuditLogger
	failMode  FailMode
}

// NewMultiListChecker loads the configured lists. A list load failure is
// fatal unless cfg.FailMode.OnListLoadError is FailOpen, in which case the
// failing list is skipped and the checker starts with whatever did load.
func NewMultiListChecker(cfg Config, audit *AuditLogger) (*MultiListChecker, error) {
	c := &MultiListChecker{audit: audit, failMode: cfg.FailMode, blacklist: NewEmptyBlacklist()}

	if cfg.OFACPath != "" {
		ofac, err := LoadOFACFile(cfg.OFACPath)
		switch {
		case err == nil:
			c.lists = append(c.lists, ofac)
		case cfg.FailMode.OnListLoadError != FailOpen:
			return nil, fmt.Errorf("compliance: load OFAC list: %w", err)
		}
	}

	if cfg.BlacklistPath != "" {
		bl, err := LoadBlacklistFile(cfg.BlacklistPath)
		if err != nil {
			if cfg.FailMode.OnListLoadError != FailOpen {
				return nil, fmt.Errorf("compliance: load blacklist: %w", err)
			}
		} else {
			c.blacklist = bl
		}
	}

	return c, nil
}

func (c *MultiListChecker) Blacklist() *Blacklist { return c.blacklist }

func (c *MultiListChecker) screenOne(address string, addrType AddressType, txCtx TransactionContext, result *ScreeningResult) (Decision, bool) {
	if c.blacklist != nil && c.blacklist.IsBlacklisted(address) {
		result.MatchedEntities = append(result.MatchedEntities, MatchedEntity{
			Address: address, AddressType: addrType, ListSource: "blacklist",
		})
		c.audit.LogEvent(ComplianceEvent{
			Timestamp: time.Now(), EventType: EventBlacklistHit, Decision: DecisionBlock,
			TransactionContext: txCtx, MatchedAddress: address, AddressType: addrType, ListSource: "blacklist",
		})
		return Block(fmt.Sprintf("address is blacklisted (%s)", addrType)), true
	}

	for _, list := range c.lists {
		if list.IsSanctioned(address) {
			meta := list.Metadata()
			result.ListVersions[meta.Name] = meta.Checksum
			result.MatchedEntities = append(result.MatchedEntities, MatchedEntity{
				Address: address, AddressType: addrType, ListSource: meta.Name,
			})
			c.audit.LogEvent(ComplianceEvent{
				Timestamp: time.Now(), EventType: EventSanctionsHit, Decision: DecisionBlock,
				TransactionContext: txCtx, MatchedAddress: address, AddressType: addrType, ListSource: meta.Name,
			})
			return Block(fmt.Sprintf("address is on %s sanctions list (%s)", meta.Name, addrType)), true
		}
	}
	return Decision{}, false
}

// ScreenPayment checks the blacklist, then every sanctions list in order,
// for payer then payee; the first hit short-circuits and determines the
// result. A clean screen emits one Clear audit event.
func (c *MultiListChecker) ScreenPayment(ctx context.Context, payer, payee string, txCtx TransactionContext) (ScreeningResult, error) {
	result := ScreeningResult{PayerAddress: payer, PayeeAddress: payee, ListVersions: make(map[string]string)}

	for _, pair := range []struct {
		address string
		kind    AddressType
	}{{payer, AddressTypePayer}, {payee, AddressTypePayee}} {
		if decision, hit := c.screenOne(pair.address, pair.kind, txCtx, &result); hit {
			result.Decision = decision
			return result, nil
		}
	}

	result.Decision = Clear()
	c.audit.LogEvent(ComplianceEvent{
		Timestamp: time.Now(), EventType: EventCleanTransaction, Decision: DecisionClear,
		TransactionContext: txCtx,
	})
	return result, nil
}

func (c *MultiListChecker) ScreenAddress(ctx context.Context, address string) (Decision, error) {
	if c.blacklist != nil && c.blacklist.IsBlacklisted(address) {
		return Block("address is blacklisted"), nil
	}
	for _, list := range c.lists {
		if list.IsSanctioned(address) {
			return Block(fmt.Sprintf("address is on %s sanctions list", list.Metadata().Name)), nil
		}
	}
	return Clear(), nil
}

func (c *MultiListChecker) ListMetadata() map[string]ListMetadata {
	out := make(map[string]ListMetadata, len(c.lists))
	for _, list := range c.lists {
		meta := list.Metadata()
		out[meta.Name] = meta
	}
	return out
}

// ReloadLists is a no-op placeholder: spec.md §4.2 requires the contract
// method to exist and be atomic from a reader's perspective, but reloading
// from disk mid-run is not otherwise exercised by this facilitator yet.
func (c *MultiListChecker) ReloadLists(ctx context.Context) error {
	return nil
}
