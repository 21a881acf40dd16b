package compliance

import (
	"encoding/json"
	"fmt"
	"os"
)

// BlacklistEntry is one manually-curated blocked address, grounded on the
// `{account_type, wallet, reason}` shape the original blacklist.json carries.
type BlacklistEntry struct {
	AccountType string `json:"account_type"`
	Wallet      string `json:"wallet"`
	Reason      string `json:"reason"`
}

// Blacklist is a manual block-list, checked before any sanctions list.
type Blacklist struct {
	addresses map[string]struct{}
	entries   []BlacklistEntry
}

func NewEmptyBlacklist() *Blacklist {
	return &Blacklist{addresses: make(map[string]struct{})}
}

func LoadBlacklistFile(path string) (*Blacklist, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance: read blacklist file: %w", err)
	}
	return ParseBlacklist(content)
}

func ParseBlacklist(content []byte) (*Blacklist, error) {
	var entries []BlacklistEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		return nil, fmt.Errorf("compliance: parse blacklist JSON: %w", err)
	}
	addresses := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		normalized := normalizeAddress(e.Wallet)
		if normalized != "" {
			addresses[normalized] = struct{}{}
		}
	}
	return &Blacklist{addresses: addresses, entries: entries}, nil
}

func (b *Blacklist) IsBlacklisted(address string) bool {
	_, ok := b.addresses[normalizeAddress(address)]
	return ok
}

func (b *Blacklist) TotalBlocked() int { return len(b.addresses) }

func (b *Blacklist) Entries() []BlacklistEntry { return b.entries }

// CountByType returns the number of blacklisted entries whose account_type
// equals accountType (e.g. "evm", "solana").
func (b *Blacklist) CountByType(accountType string) int {
	count := 0
	for _, e := range b.entries {
		if e.AccountType == accountType {
			count++
		}
	}
	return count
}
