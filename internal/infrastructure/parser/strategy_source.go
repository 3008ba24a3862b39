package parser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ProposalTracker/internal/config"
	"ProposalTracker/internal/domain"
	"ProposalTracker/internal/ports"
	"ProposalTracker/internal/scanner"
)

// StrategySource implements ProposalSource via registered scanner strategies.
type StrategySource struct {
	registry    *scanner.Registry
	protocols   map[domain.Protocol]config.ProtocolConfig
	detailLimit int
	now         func() time.Time
	logger      *slog.Logger
}

var _ ports.ProposalSource = (*StrategySource)(nil)

// NewStrategySource wires scanner registry with config-defined protocol bindings.
// Bindings for unknown protocol ids are skipped with a warning.
func NewStrategySource(reg *scanner.Registry, bindings []config.ProtocolConfig, detailLimit int, log *slog.Logger) *StrategySource {
	s := &StrategySource{
		registry:    reg,
		protocols:   make(map[domain.Protocol]config.ProtocolConfig, len(bindings)),
		detailLimit: detailLimit,
		now:         time.Now,
		logger:      log,
	}
	for _, b := range bindings {
		p, err := domain.ParseProtocol(b.ID)
		if err != nil {
			if log != nil {
				log.Warn("skip protocol binding", "id", b.ID, "error", err)
			}
			continue
		}
		s.protocols[p] = b
	}
	return s
}

// FetchListing runs the protocol's scanner and stamps the result as a listing.
func (s *StrategySource) FetchListing(ctx context.Context, protocol domain.Protocol) (domain.Listing, error) {
	if s.registry == nil {
		return domain.Listing{}, fmt.Errorf("scanner registry is not configured")
	}

	binding, ok := s.protocols[protocol]
	if !ok {
		return domain.Listing{}, &domain.UnknownProtocolError{Protocol: string(protocol)}
	}

	s.debug("fetch listing", "protocol", protocol, "scanner", binding.Scanner)
	strategy, err := s.registry.Resolve(binding.Scanner)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("protocol %s: %w", protocol, err)
	}

	req := scanner.Request{
		Protocol:    protocol,
		URL:         binding.URL,
		Options:     binding.Options,
		DetailLimit: s.detailLimit,
	}

	items, err := strategy.Scan(ctx, req)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("scan %s: %w", protocol, err)
	}

	s.debug("scanner produced proposals", "protocol", protocol, "count", len(items))
	return domain.NewListing(protocol, binding.URL, items, s.now()), nil
}

func (s *StrategySource) debug(msg string, args ...interface{}) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
