package scanner

import (
	"context"
	"fmt"
	"sort"

	"ProposalTracker/internal/domain"
)

// Request carries all parameters required to list one protocol's proposals.
type Request struct {
	Protocol domain.Protocol
	URL      string
	Options  map[string]string
	// DetailLimit bounds how many of the newest entries get per-proposal metadata.
	DetailLimit int
}

// Option returns a request option or fallback when unset.
func (r Request) Option(key, fallback string) string {
	if v, ok := r.Options[key]; ok && v != "" {
		return v
	}
	return fallback
}

// Scanner captures a single listing strategy (EIP site tables, GitHub repositories, etc.).
type Scanner interface {
	Name() string
	Scan(ctx context.Context, req Request) ([]domain.Proposal, error)
}

// Registry keeps a mapping from scanner names to their implementations.
type Registry struct {
	scanners map[string]Scanner
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{scanners: map[string]Scanner{}}
}

// Register adds or replaces a scanner implementation.
func (r *Registry) Register(scanner Scanner) {
	if r.scanners == nil {
		r.scanners = map[string]Scanner{}
	}
	r.scanners[scanner.Name()] = scanner
}

// Resolve returns a scanner by name or an error if it is absent.
func (r *Registry) Resolve(name string) (Scanner, error) {
	if scanner, ok := r.scanners[name]; ok {
		return scanner, nil
	}
	return nil, fmt.Errorf("scanner %s is not registered", name)
}

// Names lists registered scanners alphabetically.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.scanners))
	for name := range r.scanners {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
