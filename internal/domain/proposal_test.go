package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	t.Parallel()

	cases := map[string]Protocol{
		"ethereum":            ProtocolEthereum,
		"EIPs":                ProtocolEthereum,
		"btc":                 ProtocolBitcoin,
		" tron ":              ProtocolTron,
		"bsc":                 ProtocolBNB,
		"binance_smart_chain": ProtocolBNB,
	}
	for input, want := range cases {
		got, err := ParseProtocol(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}

	_, err := ParseProtocol("solana")
	var unknown *UnknownProtocolError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "solana", unknown.Protocol)
}

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]Status{
		"Last Call": StatusLastCall,
		"Proposed":  StatusReview,
		"Accepted":  StatusFinal,
		"Living":    StatusFinal,
		"Rejected":  StatusWithdrawn,
		"Deferred":  StatusStagnant,
		"Idea":      StatusDraft,
		"":          StatusDraft,
		"whatever":  StatusDraft,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
}

func TestNewListingStampsItems(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, time.May, 1, 10, 0, 0, 0, time.UTC)
	items := []Proposal{{Number: 3}, {Number: 1}, {Number: 3}}
	listing := NewListing(ProtocolTron, "https://github.com/tronprotocol/tips", items, at)

	assert.Equal(t, 3, listing.Count)
	assert.Equal(t, "2025-05-01T10:00:00Z", listing.Generated)
	assert.Equal(t, []int{1, 3}, listing.Numbers())
	for _, item := range listing.Items {
		assert.Equal(t, ProtocolTron, item.Protocol)
	}
	assert.Equal(t, "TIP-3", listing.Items[0].ID())
}

func TestNewBatchOrdersByProtocolAndNumber(t *testing.T) {
	t.Parallel()

	items := []Assessed{
		{Proposal: Proposal{Protocol: ProtocolTron, Number: 542}},
		{Proposal: Proposal{Protocol: ProtocolBitcoin, Number: 9}},
		{Proposal: Proposal{Protocol: ProtocolTron, Number: 541}},
	}
	batch := NewBatch(items, time.Now())

	require.Len(t, batch.Items, 3)
	assert.Equal(t, ProtocolBitcoin, batch.Items[0].Proposal.Protocol)
	assert.Equal(t, 541, batch.Items[1].Proposal.Number)
	assert.Equal(t, 542, batch.Items[2].Proposal.Number)
	assert.Equal(t, map[Protocol]int{ProtocolTron: 2, ProtocolBitcoin: 1}, batch.CountByProtocol())
}

func TestBatchHeadlineAndBreakdown(t *testing.T) {
	t.Parallel()

	batch := NewBatch([]Assessed{
		{Proposal: Proposal{Protocol: ProtocolTron, Number: 542}},
		{Proposal: Proposal{Protocol: ProtocolEthereum, Number: 7702}},
		{Proposal: Proposal{Protocol: ProtocolEthereum, Number: 7703}},
	}, time.Now())

	assert.Equal(t, "3 new blockchain proposals", batch.Headline())
	assert.Equal(t, "Ethereum: 2 new | Tron: 1 new", batch.Breakdown())

	single := NewBatch(batch.Items[:1], time.Now())
	assert.Equal(t, "1 new blockchain proposal", single.Headline())
}
