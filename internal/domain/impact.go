package domain

import (
	"fmt"
	"strings"
	"time"
)

// ImpactLevel grades how disruptive a proposal is.
type ImpactLevel string

const (
	ImpactLow      ImpactLevel = "Low"
	ImpactMedium   ImpactLevel = "Medium"
	ImpactHigh     ImpactLevel = "High"
	ImpactCritical ImpactLevel = "Critical"
)

// ImpactLevels lists levels from most to least severe.
func ImpactLevels() []ImpactLevel {
	return []ImpactLevel{ImpactCritical, ImpactHigh, ImpactMedium, ImpactLow}
}

// Rank orders levels; higher is more severe.
func (l ImpactLevel) Rank() int {
	switch l {
	case ImpactCritical:
		return 3
	case ImpactHigh:
		return 2
	case ImpactMedium:
		return 1
	default:
		return 0
	}
}

// Confidence expresses how much signal backed an assessment.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// ParseConfidence is case-insensitive and rejects anything outside the enum.
func ParseConfidence(raw string) (Confidence, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "low":
		return ConfidenceLow, nil
	case "medium":
		return ConfidenceMedium, nil
	case "high":
		return ConfidenceHigh, nil
	}
	return "", fmt.Errorf("invalid confidence %q", raw)
}

// Area is a subsystem a proposal touches.
type Area string

const (
	AreaFees      Area = "fees"
	AreaConsensus Area = "consensus"
	AreaRPC       Area = "rpc"
	AreaWallets   Area = "wallets"
	AreaBridges   Area = "bridges"
	AreaOpcodes   Area = "opcodes"
)

// Areas returns the affected-area vocabulary in canonical order.
func Areas() []Area {
	return []Area{AreaFees, AreaConsensus, AreaRPC, AreaWallets, AreaBridges, AreaOpcodes}
}

// ParseArea validates a single area name.
func ParseArea(raw string) (Area, bool) {
	a := Area(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Areas() {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// Compatibility with existing clients and integrations.
type Compatibility string

const (
	CompatFull    Compatibility = "Full"
	CompatPartial Compatibility = "Partial"
	CompatNone    Compatibility = "None"
	CompatTBD     Compatibility = "TBD"
)

// Complexity grades migration effort for integrators.
type Complexity string

const (
	ComplexityLow    Complexity = "Low"
	ComplexityMedium Complexity = "Medium"
	ComplexityHigh   Complexity = "High"
	ComplexityTBD    Complexity = "TBD"
)

// Effort is a T-shirt size estimate.
type Effort string

const (
	EffortSmall  Effort = "S"
	EffortMedium Effort = "M"
	EffortLarge  Effort = "L"
	EffortTBD    Effort = "TBD"
)

// Description renders the effort as a time range.
func (e Effort) Description() string {
	switch e {
	case EffortSmall:
		return "1-2 days"
	case EffortMedium:
		return "1-2 weeks"
	case EffortLarge:
		return "1+ months"
	default:
		return "TBD"
	}
}

// ActivationTBD marks an assessment without a known activation point.
const ActivationTBD = "TBD"

// Assessment is the structured impact classification of one proposal.
// Every field is populated by both classification strategies.
type Assessment struct {
	ImpactLevel     ImpactLevel   `json:"impact_level"`
	BreakingChanges bool          `json:"breaking_changes"`
	AffectedAreas   []Area        `json:"affected_areas"`
	RequiredActions []string      `json:"required_actions"`
	Confidence      Confidence    `json:"confidence"`
	Activation      string        `json:"activation"`
	TLDR            string        `json:"tl_dr"`
	ImpactReasons   []string      `json:"impact_reasons"`
	Compatibility   Compatibility `json:"compatibility"`
	Migration       Complexity    `json:"migration_complexity"`
	UserEffect      string        `json:"user_facing_effects"`
	Effort          Effort        `json:"estimated_effort"`
	Score           int           `json:"score"`
	Strategy        string        `json:"strategy"`
	CheckedAt       time.Time     `json:"checked_at"`
}

// HasArea reports whether a is among the affected areas.
func (a Assessment) HasArea(area Area) bool {
	for _, x := range a.AffectedAreas {
		if x == area {
			return true
		}
	}
	return false
}

// Assessed pairs a new proposal with its classification.
type Assessed struct {
	Proposal   Proposal   `json:"proposal"`
	Assessment Assessment `json:"assessment"`
}
