package impact

import (
	"context"
	"log/slog"
	"strings"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
)

// New selects the configured strategy. "ai" needs a chat client; without
// one the rule-based strategy is used.
func New(cfg config.ClassifierConfig, client ports.ChatClient, logger *slog.Logger) ports.Classifier {
	rules := NewRuleBased()
	if strings.EqualFold(cfg.Strategy, StrategyAI) && client != nil {
		return NewAIAssisted(client, rules, cfg.Timeout.Std(), cfg.SystemPrompt, logger)
	}
	return rules
}

// ClassifyAll pairs every proposal with its assessment, preserving order.
func ClassifyAll(ctx context.Context, c ports.Classifier, proposals []domain.Proposal) []domain.Assessed {
	out := make([]domain.Assessed, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, domain.Assessed{Proposal: p, Assessment: c.Classify(ctx, p)})
	}
	return out
}
