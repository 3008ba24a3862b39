package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Protocol identifies a tracked blockchain ecosystem.
type Protocol string

const (
	ProtocolEthereum Protocol = "ethereum"
	ProtocolBitcoin  Protocol = "bitcoin"
	ProtocolTron     Protocol = "tron"
	ProtocolBNB      Protocol = "binance_smart_chain"
)

type protocolInfo struct {
	name        string
	prefix      string
	listingFile string
}

var protocols = map[Protocol]protocolInfo{
	ProtocolEthereum: {name: "Ethereum", prefix: "EIP", listingFile: "eips.json"},
	ProtocolBitcoin:  {name: "Bitcoin", prefix: "BIP", listingFile: "bips.json"},
	ProtocolTron:     {name: "Tron", prefix: "TIP", listingFile: "tips.json"},
	ProtocolBNB:      {name: "BNB Chain", prefix: "BEP", listingFile: "beps.json"},
}

// Protocols returns every known protocol in a stable order.
func Protocols() []Protocol {
	return []Protocol{ProtocolEthereum, ProtocolBitcoin, ProtocolTron, ProtocolBNB}
}

// ParseProtocol accepts protocol ids and a few common aliases.
func ParseProtocol(value string) (Protocol, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	switch v {
	case "eth", "eip", "eips":
		v = string(ProtocolEthereum)
	case "btc", "bip", "bips":
		v = string(ProtocolBitcoin)
	case "trx", "tip", "tips":
		v = string(ProtocolTron)
	case "bnb", "bsc", "bep", "beps":
		v = string(ProtocolBNB)
	}
	p := Protocol(v)
	if !p.Known() {
		return "", &UnknownProtocolError{Protocol: value}
	}
	return p, nil
}

// Known reports whether p belongs to the enumerated protocol set.
func (p Protocol) Known() bool {
	_, ok := protocols[p]
	return ok
}

// DisplayName is the human readable chain name.
func (p Protocol) DisplayName() string {
	if info, ok := protocols[p]; ok {
		return info.name
	}
	return string(p)
}

// Prefix is the proposal family prefix (EIP, BIP, ...).
func (p Protocol) Prefix() string {
	if info, ok := protocols[p]; ok {
		return info.prefix
	}
	return strings.ToUpper(string(p))
}

// ListingFile is the file name of the protocol's full listing.
func (p Protocol) ListingFile() string {
	if info, ok := protocols[p]; ok {
		return info.listingFile
	}
	return string(p) + ".json"
}

// Status is the lifecycle stage of a proposal.
type Status string

const (
	StatusDraft     Status = "Draft"
	StatusReview    Status = "Review"
	StatusLastCall  Status = "Last Call"
	StatusFinal     Status = "Final"
	StatusWithdrawn Status = "Withdrawn"
	StatusStagnant  Status = "Stagnant"
)

// NormalizeStatus maps the many spellings used by proposal repositories onto
// the six lifecycle stages. Unrecognized values become Draft.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "review", "proposed", "in review":
		return StatusReview
	case "last call", "lastcall", "last-call":
		return StatusLastCall
	case "final", "accepted", "active", "living", "enabled", "deployed", "implemented":
		return StatusFinal
	case "withdrawn", "rejected", "obsolete", "replaced", "closed":
		return StatusWithdrawn
	case "stagnant", "deferred", "dormant":
		return StatusStagnant
	default:
		return StatusDraft
	}
}

// Proposal is one numbered improvement proposal as listed by its source.
type Proposal struct {
	Protocol    Protocol `json:"protocol_id"`
	Number      int      `json:"number"`
	Title       string   `json:"title"`
	Status      Status   `json:"status"`
	Author      string   `json:"author"`
	Type        string   `json:"type"`
	CreatedDate string   `json:"created_date"`
	URL         string   `json:"url"`
	Summary     string   `json:"summary"`
}

// ID renders the conventional identifier, e.g. "EIP-4844".
func (p Proposal) ID() string {
	return fmt.Sprintf("%s-%d", p.Protocol.Prefix(), p.Number)
}

// Listing is the full current set of proposals for one protocol.
type Listing struct {
	GeneratedAt time.Time  `json:"-"`
	Generated   string     `json:"generated_at_iso"`
	Count       int        `json:"count"`
	Protocol    Protocol   `json:"protocol"`
	Source      string     `json:"source"`
	Items       []Proposal `json:"items"`
}

// NewListing stamps items with protocol and generation time.
func NewListing(protocol Protocol, source string, items []Proposal, at time.Time) Listing {
	for i := range items {
		items[i].Protocol = protocol
	}
	at = at.UTC()
	return Listing{
		GeneratedAt: at,
		Generated:   at.Format(time.RFC3339),
		Count:       len(items),
		Protocol:    protocol,
		Source:      source,
		Items:       items,
	}
}

// Numbers returns the sorted, de-duplicated proposal numbers of the listing.
func (l Listing) Numbers() []int {
	return SortedNumbers(l.Items)
}

// SortedNumbers extracts unique numbers from proposals in ascending order.
func SortedNumbers(items []Proposal) []int {
	seen := make(map[int]struct{}, len(items))
	out := make([]int, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Number]; ok {
			continue
		}
		seen[item.Number] = struct{}{}
		out = append(out, item.Number)
	}
	sort.Ints(out)
	return out
}
