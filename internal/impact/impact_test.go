package impact

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
)

var fixedNow = time.Date(2025, time.June, 1, 9, 0, 0, 0, time.UTC)

func rules() *RuleBased {
	r := NewRuleBased()
	r.now = func() time.Time { return fixedNow }
	return r
}

func assertComplete(t *testing.T, a domain.Assessment) {
	t.Helper()
	assert.Contains(t, domain.ImpactLevels(), a.ImpactLevel)
	assert.Contains(t, []domain.Confidence{domain.ConfidenceLow, domain.ConfidenceMedium, domain.ConfidenceHigh}, a.Confidence)
	assert.NotNil(t, a.AffectedAreas)
	assert.NotEmpty(t, a.RequiredActions)
	assert.NotEmpty(t, a.ImpactReasons)
	assert.NotEmpty(t, a.Activation)
	assert.NotEmpty(t, a.TLDR)
	assert.NotEmpty(t, a.Compatibility)
	assert.NotEmpty(t, a.Migration)
	assert.NotEmpty(t, a.UserEffect)
	assert.NotEmpty(t, a.Effort)
	assert.NotEmpty(t, a.Strategy)
	assert.False(t, a.CheckedAt.IsZero())
}

func TestRuleBasedGasFeeReductionIsMedium(t *testing.T) {
	t.Parallel()

	a := rules().Classify(context.Background(), domain.Proposal{Protocol: domain.ProtocolTron, Number: 542, Title: "Gas fee reduction"})

	assertComplete(t, a)
	assert.Equal(t, domain.ImpactMedium, a.ImpactLevel)
	assert.Equal(t, domain.ConfidenceLow, a.Confidence)
	assert.Equal(t, 30, a.Score)
	assert.True(t, a.HasArea(domain.AreaFees))
	assert.Equal(t, "Lower transaction fees", a.UserEffect)
	assert.False(t, a.BreakingChanges)
	assert.Equal(t, StrategyRules, a.Strategy)
}

func TestRuleBasedEmptyInputIsComplete(t *testing.T) {
	t.Parallel()

	a := rules().Classify(context.Background(), domain.Proposal{})

	assertComplete(t, a)
	assert.Equal(t, domain.ImpactLow, a.ImpactLevel)
	assert.Equal(t, domain.ConfidenceLow, a.Confidence)
	assert.Equal(t, domain.ActivationTBD, a.Activation)
	assert.Empty(t, a.AffectedAreas)
}

func TestRuleBasedCriticalBreakingConsensus(t *testing.T) {
	t.Parallel()

	p := domain.Proposal{
		Title:   "Breaking hard fork for validator security",
		Summary: "Fixes a consensus vulnerability; activation at block #19426587.",
	}
	a := rules().Classify(context.Background(), p)

	assertComplete(t, a)
	// breaking 40 + migration 20 + consensus 30 + security 25
	assert.Equal(t, 115, a.Score)
	assert.Equal(t, domain.ImpactCritical, a.ImpactLevel)
	assert.Equal(t, domain.ConfidenceMedium, a.Confidence)
	assert.True(t, a.BreakingChanges)
	assert.Equal(t, domain.ComplexityHigh, a.Migration)
	assert.Equal(t, domain.EffortLarge, a.Effort)
	assert.Equal(t, "Block #19426587", a.Activation)
	assert.True(t, a.HasArea(domain.AreaConsensus))
}

func TestRuleBasedConfidenceScalesWithFamilies(t *testing.T) {
	t.Parallel()

	p := domain.Proposal{Title: "Consensus change to fee market", Summary: "Wallet RPC update addressing a security issue"}
	a := rules().Classify(context.Background(), p)

	assert.Equal(t, domain.ConfidenceHigh, a.Confidence)
	assert.Equal(t, domain.ImpactCritical, a.ImpactLevel)
}

func TestRuleBasedWordBoundaries(t *testing.T) {
	t.Parallel()

	// "gasket" and "feedback" must not read as fee language.
	a := rules().Classify(context.Background(), domain.Proposal{Title: "Gasket feedback collection"})
	assert.Equal(t, domain.ImpactLow, a.ImpactLevel)
	assert.Zero(t, a.Score)
}

func TestRuleBasedIsDeterministic(t *testing.T) {
	t.Parallel()

	p := domain.Proposal{Title: "Increase gas limit", Summary: "Mainnet upgrade scheduled 2025-11-04."}
	first := rules().Classify(context.Background(), p)
	second := rules().Classify(context.Background(), p)

	assert.Equal(t, first, second)
	assert.Equal(t, "2025-11-04", first.Activation)
	assert.Equal(t, "Higher transaction fees", first.UserEffect)
}

type stubChat struct {
	reply string
	err   error
	calls int
}

func (s *stubChat) Complete(ctx context.Context, system, user string) (string, error) {
	s.calls++
	return s.reply, s.err
}

func aiWith(chat *stubChat) *AIAssisted {
	a := NewAIAssisted(chat, rules(), time.Second, "", nil)
	a.now = func() time.Time { return fixedNow }
	return a
}

func TestAIAssistedUsesModelFacets(t *testing.T) {
	t.Parallel()

	chat := &stubChat{reply: "Here you go:\n```json\n" + `{"type":"Core","tl_dr":"Adds blob transactions","impact_reasons":["New transaction type"],
"breaking_changes":false,"compatibility":"Partial","migration_complexity":"Medium","affected_areas":["fees","consensus","TBD"],
"user_facing_effects":"Cheaper L2 data","required_actions":["Upgrade clients"],"deadline_or_activation":"2024-03-13",
"estimated_effort":"M","confidence":"High"}` + "\n```\nTrailing {noise}"}

	a := aiWith(chat).Classify(context.Background(), domain.Proposal{Protocol: domain.ProtocolEthereum, Number: 4844, Title: "Shard Blob Transactions"})

	assertComplete(t, a)
	assert.Equal(t, 1, chat.calls)
	assert.Equal(t, StrategyAI, a.Strategy)
	assert.Equal(t, "Adds blob transactions", a.TLDR)
	assert.Equal(t, []domain.Area{domain.AreaFees, domain.AreaConsensus}, a.AffectedAreas)
	// migration medium 10 + consensus 30 + fees 30
	assert.Equal(t, 70, a.Score)
	assert.Equal(t, domain.ImpactHigh, a.ImpactLevel)
	assert.Equal(t, "2024-03-13", a.Activation)
}

func TestAIAssistedFallsBackOnFailures(t *testing.T) {
	t.Parallel()

	cases := map[string]*stubChat{
		"call error":       {err: errors.New("timeout")},
		"no json":          {reply: "I cannot help with that."},
		"malformed json":   {reply: `{"tl_dr": "x", `},
		"invalid enum":     {reply: `{"tl_dr":"x","compatibility":"Maybe","migration_complexity":"Low","confidence":"High","estimated_effort":"S"}`},
		"unknown area":     {reply: `{"tl_dr":"x","compatibility":"Full","migration_complexity":"Low","confidence":"High","estimated_effort":"S","affected_areas":["mempool"]}`},
		"missing tl_dr":    {reply: `{"compatibility":"Full","migration_complexity":"Low","confidence":"High","estimated_effort":"S"}`},
		"empty confidence": {reply: `{"tl_dr":"x","compatibility":"Full","migration_complexity":"Low","estimated_effort":"S"}`},
	}

	p := domain.Proposal{Protocol: domain.ProtocolTron, Number: 542, Title: "Gas fee reduction"}
	want := rules().Classify(context.Background(), p)

	for name, chat := range cases {
		got := aiWith(chat).Classify(context.Background(), p)
		assert.Equal(t, want, got, name)
	}
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	_, isRules := New(config.ClassifierConfig{Strategy: "ai"}, nil, nil).(*RuleBased)
	assert.True(t, isRules, "ai without client falls back to rules")

	_, isAI := New(config.ClassifierConfig{Strategy: "AI"}, &stubChat{}, nil).(*AIAssisted)
	assert.True(t, isAI)
}

func TestClassifyAllPreservesOrder(t *testing.T) {
	t.Parallel()

	out := ClassifyAll(context.Background(), rules(), []domain.Proposal{{Number: 2}, {Number: 1}})
	require.Len(t, out, 2)
	assert.Equal(t, 2, out[0].Proposal.Number)
}

func TestUserPromptClipsSummaryOnRuneBoundary(t *testing.T) {
	t.Parallel()

	p := domain.Proposal{Protocol: domain.ProtocolTron, Number: 7, Title: "Fees", Summary: strings.Repeat("é", maxPromptSummary+50)}

	prompt := userPrompt(p)

	assert.True(t, utf8.ValidString(prompt))
	assert.NotContains(t, prompt, "\uFFFD")
	assert.Contains(t, prompt, "...")
}
