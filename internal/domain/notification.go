package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Channel names a notification transport.
type Channel string

const (
	ChannelDesktop Channel = "desktop"
	ChannelEmail   Channel = "email"
	ChannelSlack   Channel = "slack"
)

// Channels lists all transports in dispatch order.
func Channels() []Channel {
	return []Channel{ChannelDesktop, ChannelEmail, ChannelSlack}
}

// Batch is one notification cycle worth of classified new proposals.
type Batch struct {
	GeneratedAt time.Time
	Items       []Assessed
}

// NewBatch orders items by protocol then ascending proposal number.
func NewBatch(items []Assessed, at time.Time) Batch {
	sorted := make([]Assessed, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i].Proposal, sorted[j].Proposal
		if a.Protocol != b.Protocol {
			return a.Protocol < b.Protocol
		}
		return a.Number < b.Number
	})
	return Batch{GeneratedAt: at, Items: sorted}
}

// CountByProtocol returns per-protocol item counts.
func (b Batch) CountByProtocol() map[Protocol]int {
	out := make(map[Protocol]int)
	for _, item := range b.Items {
		out[item.Proposal.Protocol]++
	}
	return out
}

// Headline reads "1 new blockchain proposal" or "N new blockchain proposals".
func (b Batch) Headline() string {
	if len(b.Items) == 1 {
		return "1 new blockchain proposal"
	}
	return fmt.Sprintf("%d new blockchain proposals", len(b.Items))
}

// Breakdown reads like "Ethereum: 2 new | Tron: 1 new" in protocol order.
func (b Batch) Breakdown() string {
	counts := b.CountByProtocol()
	parts := make([]string, 0, len(counts))
	for _, p := range Protocols() {
		if n := counts[p]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s: %d new", p.DisplayName(), n))
		}
	}
	return strings.Join(parts, " | ")
}

// CountByImpact returns per-level item counts.
func (b Batch) CountByImpact() map[ImpactLevel]int {
	out := make(map[ImpactLevel]int)
	for _, item := range b.Items {
		out[item.Assessment.ImpactLevel]++
	}
	return out
}

// DispatchResult reports per-channel delivery success.
type DispatchResult map[Channel]bool

// NewDispatchResult starts with every channel marked as not delivered.
func NewDispatchResult() DispatchResult {
	out := make(DispatchResult, 3)
	for _, ch := range Channels() {
		out[ch] = false
	}
	return out
}
