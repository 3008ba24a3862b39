package impact

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// Strategy names recorded on assessments.
const (
	StrategyRules = "rules"
	StrategyAI    = "ai"
)

const (
	defaultAITimeout = 20 * time.Second
	maxPromptSummary = 2000
)

const defaultSystemPrompt = `You assess blockchain improvement proposals for release managers.
Reply with one JSON object with keys: type, tl_dr, impact_reasons, breaking_changes,
compatibility (Full|Partial|None|TBD), migration_complexity (Low|Medium|High|TBD),
affected_areas (subset of fees, opcodes, consensus, rpc, wallets, bridges),
user_facing_effects, required_actions, deadline_or_activation (YYYY-MM-DD, Block #N or TBD),
estimated_effort (S|M|L|TBD), confidence (High|Medium|Low).`

// AIAssisted asks an LLM for the assessment facets and falls back to the
// wrapped rule-based strategy on any call or validation failure.
type AIAssisted struct {
	client       ports.ChatClient
	fallback     ports.Classifier
	timeout      time.Duration
	systemPrompt string
	now          func() time.Time
	logger       *slog.Logger
}

var _ ports.Classifier = (*AIAssisted)(nil)

// NewAIAssisted wraps fallback; a zero timeout uses 20s.
func NewAIAssisted(client ports.ChatClient, fallback ports.Classifier, timeout time.Duration, systemPrompt string, logger *slog.Logger) *AIAssisted {
	if timeout <= 0 {
		timeout = defaultAITimeout
	}
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = defaultSystemPrompt
	}
	if fallback == nil {
		fallback = NewRuleBased()
	}
	return &AIAssisted{
		client:       client,
		fallback:     fallback,
		timeout:      timeout,
		systemPrompt: systemPrompt,
		now:          time.Now,
		logger:       logger,
	}
}

// Classify returns the AI assessment or, on ClassificationError, the fallback's.
func (a *AIAssisted) Classify(ctx context.Context, p domain.Proposal) domain.Assessment {
	assessment, err := a.classify(ctx, p)
	if err != nil {
		if a.logger != nil {
			a.logger.Warn("ai classification failed, using rules", "proposal", p.ID(), "error", err)
		}
		return a.fallback.Classify(ctx, p)
	}
	return assessment
}

func (a *AIAssisted) classify(ctx context.Context, p domain.Proposal) (domain.Assessment, error) {
	if a.client == nil {
		return domain.Assessment{}, &domain.ClassificationError{ProposalID: p.ID(), Err: fmt.Errorf("no chat client configured")}
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply, err := a.client.Complete(callCtx, a.systemPrompt, userPrompt(p))
	if err != nil {
		return domain.Assessment{}, &domain.ClassificationError{ProposalID: p.ID(), Err: err}
	}

	facets, err := extractFacets(reply)
	if err != nil {
		return domain.Assessment{}, &domain.ClassificationError{ProposalID: p.ID(), Err: err}
	}

	assessment, err := facets.assessment(p)
	if err != nil {
		return domain.Assessment{}, &domain.ClassificationError{ProposalID: p.ID(), Err: err}
	}
	assessment.CheckedAt = a.now().UTC()
	return assessment, nil
}

func userPrompt(p domain.Proposal) string {
	summary := clip(p.Summary, maxPromptSummary)
	return fmt.Sprintf("Proposal ID: %s\nTitle: %s\nStatus: %s\nURL: %s\nDescription: %s\n\nReturn only valid JSON.",
		p.ID(), p.Title, p.Status, p.URL, summary)
}

// aiFacets is the reply contract of the chat model.
type aiFacets struct {
	Type            string   `json:"type"`
	TLDR            string   `json:"tl_dr"`
	ImpactReasons   []string `json:"impact_reasons"`
	BreakingChanges bool     `json:"breaking_changes"`
	Compatibility   string   `json:"compatibility"`
	Migration       string   `json:"migration_complexity"`
	AffectedAreas   []string `json:"affected_areas"`
	UserEffect      string   `json:"user_facing_effects"`
	RequiredActions []string `json:"required_actions"`
	Activation      string   `json:"deadline_or_activation"`
	Effort          string   `json:"estimated_effort"`
	Confidence      string   `json:"confidence"`
}

// extractFacets decodes the first JSON object embedded in reply.
func extractFacets(reply string) (aiFacets, error) {
	start := strings.IndexByte(reply, '{')
	if start < 0 {
		return aiFacets{}, fmt.Errorf("reply contains no JSON object")
	}
	var facets aiFacets
	dec := json.NewDecoder(strings.NewReader(reply[start:]))
	if err := dec.Decode(&facets); err != nil {
		return aiFacets{}, fmt.Errorf("decode reply: %w", err)
	}
	return facets, nil
}

func (f aiFacets) assessment(p domain.Proposal) (domain.Assessment, error) {
	tldr := strings.TrimSpace(f.TLDR)
	if tldr == "" {
		return domain.Assessment{}, fmt.Errorf("missing tl_dr")
	}

	compat, ok := parseCompatibility(f.Compatibility)
	if !ok {
		return domain.Assessment{}, fmt.Errorf("invalid compatibility %q", f.Compatibility)
	}
	migration, ok := parseComplexity(f.Migration)
	if !ok {
		return domain.Assessment{}, fmt.Errorf("invalid migration_complexity %q", f.Migration)
	}
	confidence, err := domain.ParseConfidence(f.Confidence)
	if err != nil {
		return domain.Assessment{}, err
	}
	effort, ok := parseEffort(f.Effort)
	if !ok {
		return domain.Assessment{}, fmt.Errorf("invalid estimated_effort %q", f.Effort)
	}

	areas := make([]domain.Area, 0, len(f.AffectedAreas))
	for _, raw := range f.AffectedAreas {
		if strings.EqualFold(strings.TrimSpace(raw), "TBD") {
			continue
		}
		area, ok := domain.ParseArea(raw)
		if !ok {
			return domain.Assessment{}, fmt.Errorf("invalid affected area %q", raw)
		}
		if !containsArea(areas, area) {
			areas = append(areas, area)
		}
	}

	reasons := nonEmpty(f.ImpactReasons)
	if len(reasons) == 0 {
		reasons = []string{"No impact reasons provided"}
	}
	actions := nonEmpty(f.RequiredActions)
	if len(actions) == 0 {
		actions = []string{"Review proposal details"}
	}
	activation := strings.TrimSpace(f.Activation)
	if activation == "" {
		activation = domain.ActivationTBD
	}
	effect := strings.TrimSpace(f.UserEffect)
	if effect == "" {
		effect = "No direct user-facing change expected"
	}

	breaking := f.BreakingChanges || compat == domain.CompatNone
	score := scoreFacets(breaking, migration, areas, f.Type, reasons)

	return domain.Assessment{
		ImpactLevel:     levelFor(score),
		BreakingChanges: breaking,
		AffectedAreas:   areas,
		RequiredActions: actions,
		Confidence:      confidence,
		Activation:      activation,
		TLDR:            clip(tldr, maxTLDR),
		ImpactReasons:   reasons,
		Compatibility:   compat,
		Migration:       migration,
		UserEffect:      effect,
		Effort:          effort,
		Score:           score,
		Strategy:        StrategyAI,
	}, nil
}

// scoreFacets applies the rule weights to model-provided facets.
func scoreFacets(breaking bool, migration domain.Complexity, areas []domain.Area, kind string, reasons []string) int {
	score := 0
	if breaking {
		score += weightBreaking
	}
	switch migration {
	case domain.ComplexityHigh:
		score += weightMigrationHigh
	case domain.ComplexityMedium:
		score += weightMigrationMed
	}
	kind = strings.ToLower(kind)
	if containsArea(areas, domain.AreaConsensus) || kind == "core" || kind == "consensus" {
		score += weightConsensus
	}
	for _, fam := range families {
		if fam.id == familySecurity && fam.expr.MatchString(strings.Join(reasons, " ")) {
			score += weightSecurity
			break
		}
	}
	if containsArea(areas, domain.AreaFees) {
		score += weightFees
	}
	if containsArea(areas, domain.AreaRPC) || containsArea(areas, domain.AreaWallets) {
		score += weightCompatibility
	}
	return score
}

func parseCompatibility(raw string) (domain.Compatibility, bool) {
	for _, c := range []domain.Compatibility{domain.CompatFull, domain.CompatPartial, domain.CompatNone, domain.CompatTBD} {
		if strings.EqualFold(strings.TrimSpace(raw), string(c)) {
			return c, true
		}
	}
	return "", false
}

func parseComplexity(raw string) (domain.Complexity, bool) {
	for _, c := range []domain.Complexity{domain.ComplexityLow, domain.ComplexityMedium, domain.ComplexityHigh, domain.ComplexityTBD} {
		if strings.EqualFold(strings.TrimSpace(raw), string(c)) {
			return c, true
		}
	}
	return "", false
}

func parseEffort(raw string) (domain.Effort, bool) {
	for _, e := range []domain.Effort{domain.EffortSmall, domain.EffortMedium, domain.EffortLarge, domain.EffortTBD} {
		if strings.EqualFold(strings.TrimSpace(raw), string(e)) {
			return e, true
		}
	}
	return "", false
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
