package impact

import (
	"context"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// Severity weights shared by both strategies.
const (
	weightBreaking      = 40
	weightMigrationHigh = 20
	weightMigrationMed  = 10
	weightConsensus     = 30
	weightSecurity      = 25
	weightFees          = 30
	weightCompatibility = 15

	thresholdCritical = 75
	thresholdHigh     = 50
	thresholdMedium   = 30

	maxTLDR = 220
)

type family int

const (
	familyBreaking family = iota
	familyConsensus
	familySecurity
	familyFees
	familyCompatibility
)

func words(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + expr + `)\b`)
}

var families = []struct {
	id     family
	expr   *regexp.Regexp
	weight int
	reason string
	action string
}{
	{familyBreaking, words(`breaking|incompatib\w*|backwards?[- ]incompatible|deprecat\w*|non[- ]backwards?`), weightBreaking,
		"Introduces breaking changes", "Plan client and integration upgrades before activation"},
	{familyConsensus, words(`consensus|hard[- ]?forks?|soft[- ]?forks?|validators?|mining|miners?|block rewards?|finality|proof[- ]of[- ](?:stake|work)`), weightConsensus,
		"Modifies consensus rules", "Track the activation fork and upgrade node software"},
	{familySecurity, words(`security|vulnerab\w*|exploits?|attacks?|replay protection|dos|denial[- ]of[- ]service`), weightSecurity,
		"Security-relevant change", "Review security implications for deployed components"},
	{familyFees, words(`gas|fees?|base[- ]fee|pricing|energy price|bandwidth cost`), weightFees,
		"Changes fee or gas economics", "Review fee estimation and gas limits"},
	{familyCompatibility, words(`wallets?|json[- ]rpc|rpc|apis?|signing|signatures?|abi|interface`), weightCompatibility,
		"Affects wallet or API compatibility", "Test wallet and API integrations"},
}

var areaExprs = []struct {
	area domain.Area
	expr *regexp.Regexp
}{
	{domain.AreaFees, words(`gas|fees?|base[- ]fee|pricing|energy price|bandwidth cost`)},
	{domain.AreaOpcodes, words(`opcodes?|instructions?|evm|tvm|precompiles?`)},
	{domain.AreaConsensus, words(`consensus|hard[- ]?forks?|soft[- ]?forks?|validators?|mining|miners?|finality`)},
	{domain.AreaRPC, words(`json[- ]rpc|rpc|apis?|endpoints?|abi|interface`)},
	{domain.AreaWallets, words(`wallets?|signing|signatures?|accounts?`)},
	{domain.AreaBridges, words(`bridges?|cross[- ]chain|layer[- ]?2|l2s?|rollups?`)},
}

var (
	feeDownExpr    = words(`reduc\w*|lower\w*|decreas\w*|cheaper|cut`)
	feeUpExpr      = words(`increas\w*|rais\w*|higher|expensive`)
	fasterExpr     = words(`faster|shorter block times?|reduced latency`)
	slowerExpr     = words(`slower|longer block times?|delay\w*`)
	blockExpr      = regexp.MustCompile(`(?i)\bblock\s*(?:height\s*)?#?\s*(\d{4,})`)
	activationExpr = regexp.MustCompile(`(?i)(?:activat\w*|mainnet|fork|upgrade)[^.]*?(\d{4}-\d{2}-\d{2})`)
)

// RuleBased scores weighted keyword families found in title and summary.
// Its output depends only on the proposal text and the clock.
type RuleBased struct {
	now func() time.Time
}

var _ ports.Classifier = (*RuleBased)(nil)

// NewRuleBased returns the deterministic keyword classifier.
func NewRuleBased() *RuleBased {
	return &RuleBased{now: time.Now}
}

// Classify never fails; empty text yields a Low assessment with Low confidence.
func (r *RuleBased) Classify(_ context.Context, p domain.Proposal) domain.Assessment {
	text := strings.TrimSpace(p.Title + " " + p.Summary)

	matched := map[family]bool{}
	score := 0
	var reasons, actions []string
	for _, f := range families {
		if !f.expr.MatchString(text) {
			continue
		}
		matched[f.id] = true
		score += f.weight
		reasons = append(reasons, f.reason)
		actions = append(actions, f.action)
	}

	breaking := matched[familyBreaking]
	migration := domain.ComplexityLow
	if breaking {
		migration = domain.ComplexityHigh
		score += weightMigrationHigh
	}

	if len(reasons) == 0 {
		reasons = []string{"No high-impact keywords detected"}
		actions = []string{"Review proposal details"}
	}
	actions = append(actions, "Monitor the proposal for status changes")

	compat := domain.CompatTBD
	switch {
	case breaking:
		compat = domain.CompatPartial
	case len(matched) > 0:
		compat = domain.CompatFull
	}

	return domain.Assessment{
		ImpactLevel:     levelFor(score),
		BreakingChanges: breaking,
		AffectedAreas:   detectAreas(text, matched),
		RequiredActions: actions,
		Confidence:      confidenceFor(len(matched)),
		Activation:      detectActivation(text),
		TLDR:            tldr(p),
		ImpactReasons:   reasons,
		Compatibility:   compat,
		Migration:       migration,
		UserEffect:      userEffect(text, matched),
		Effort:          effortFor(matched),
		Score:           score,
		Strategy:        StrategyRules,
		CheckedAt:       r.now().UTC(),
	}
}

func levelFor(score int) domain.ImpactLevel {
	switch {
	case score >= thresholdCritical:
		return domain.ImpactCritical
	case score >= thresholdHigh:
		return domain.ImpactHigh
	case score >= thresholdMedium:
		return domain.ImpactMedium
	default:
		return domain.ImpactLow
	}
}

func confidenceFor(families int) domain.Confidence {
	switch {
	case families >= 4:
		return domain.ConfidenceHigh
	case families >= 2:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

func detectAreas(text string, matched map[family]bool) []domain.Area {
	areas := make([]domain.Area, 0, len(areaExprs))
	for _, a := range areaExprs {
		if a.expr.MatchString(text) {
			areas = append(areas, a.area)
		}
	}
	// A matched compatibility family always surfaces at least one of rpc/wallets.
	if matched[familyCompatibility] && !containsArea(areas, domain.AreaRPC) && !containsArea(areas, domain.AreaWallets) {
		areas = append(areas, domain.AreaRPC)
	}
	return areas
}

func containsArea(areas []domain.Area, area domain.Area) bool {
	for _, a := range areas {
		if a == area {
			return true
		}
	}
	return false
}

func detectActivation(text string) string {
	if m := blockExpr.FindStringSubmatch(text); m != nil {
		return "Block #" + m[1]
	}
	if m := activationExpr.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return domain.ActivationTBD
}

func userEffect(text string, matched map[family]bool) string {
	var effects []string
	if matched[familyFees] {
		switch {
		case feeDownExpr.MatchString(text):
			effects = append(effects, "Lower transaction fees")
		case feeUpExpr.MatchString(text):
			effects = append(effects, "Higher transaction fees")
		default:
			effects = append(effects, "Transaction fee changes")
		}
	}
	switch {
	case fasterExpr.MatchString(text):
		effects = append(effects, "Faster confirmations")
	case slowerExpr.MatchString(text):
		effects = append(effects, "Slower confirmations")
	}
	if matched[familyBreaking] {
		effects = append(effects, "Users may need to upgrade wallets or clients")
	}
	if len(effects) == 0 {
		return "No direct user-facing change expected"
	}
	return strings.Join(effects, "; ")
}

func effortFor(matched map[family]bool) domain.Effort {
	switch {
	case matched[familyBreaking] || matched[familyConsensus]:
		return domain.EffortLarge
	case len(matched) > 0:
		return domain.EffortMedium
	default:
		return domain.EffortSmall
	}
}

func tldr(p domain.Proposal) string {
	text := strings.TrimSpace(p.Title)
	if text == "" {
		text = strings.TrimSpace(p.Summary)
	}
	if text == "" {
		if p.Number > 0 {
			return p.ID() + " (no description available)"
		}
		return "No description available"
	}
	return clip(text, maxTLDR)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}
