package compliance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// OFACAddress is one sanctioned address entry from the SDN-derived address feed.
type OFACAddress struct {
	Address    string `json:"address"`
	Blockchain string `json:"blockchain"`
	EntityName string `json:"entity_name"`
	EntityID   string `json:"entity_id"`
	Reason     string `json:"reason"`
}

// OFACData is the root shape of the OFAC addresses JSON file this facilitator loads.
type OFACData struct {
	Metadata struct {
		Source         string   `json:"source"`
		SourceURL      string   `json:"source_url"`
		GeneratedAt    string   `json:"generated_at"`
		TotalAddresses int      `json:"total_addresses"`
		Currencies     []string `json:"currencies"`
	} `json:"metadata"`
	Addresses []OFACAddress `json:"addresses"`
}

// OFACList is the primary SanctionsList: the OFAC Specially Designated
// Nationals list, converted to a flat address feed ahead of time (this
// facilitator does not itself parse OFAC's XML/CSV publication — it loads
// the same pre-processed JSON shape the original checker consumes).
type OFACList struct {
	sanctioned map[string]OFACAddress
	sourceURL  string
	checksum   string
	loadedAt   time.Time
}

func LoadOFACFile(path string) (*OFACList, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compliance: read OFAC list: %w", err)
	}
	return ParseOFAC(content)
}

func ParseOFAC(content []byte) (*OFACList, error) {
	var data OFACData
	if err := json.Unmarshal(content, &data); err != nil {
		return nil, fmt.Errorf("compliance: parse OFAC JSON: %w", err)
	}
	sum := sha256.Sum256(content)
	sanctioned := make(map[string]OFACAddress, len(data.Addresses))
	for _, a := range data.Addresses {
		sanctioned[normalizeAddress(a.Address)] = a
	}
	return &OFACList{
		sanctioned: sanctioned,
		sourceURL:  data.Metadata.SourceURL,
		checksum:   hex.EncodeToString(sum[:]),
		loadedAt:   time.Now(),
	}, nil
}

func (o *OFACList) IsSanctioned(address string) bool {
	_, ok := o.sanctioned[normalizeAddress(address)]
	return ok
}

func (o *OFACList) EntityFor(address string) (OFACAddress, bool) {
	e, ok := o.sanctioned[normalizeAddress(address)]
	return e, ok
}

func (o *OFACList) Metadata() ListMetadata {
	return ListMetadata{
		Name:        "ofac",
		Enabled:     true,
		RecordCount: len(o.sanctioned),
		LastUpdated: o.loadedAt,
		Checksum:    o.checksum,
		SourceURL:   o.sourceURL,
	}
}
