package core

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ProviderID identifies one interchangeable backend. The declared order is ascending cost.
type ProviderID string

const (
	FreePrimary    ProviderID = "free_primary"
	FreeSecondary  ProviderID = "free_secondary"
	PaidAggregator ProviderID = "paid_aggregator"
	PaidDirect     ProviderID = "paid_direct"
)

var providerOrder = []ProviderID{FreePrimary, FreeSecondary, PaidAggregator, PaidDirect}

// Providers returns every ProviderID in ascending-cost order.
func Providers() []ProviderID {
	return slices.Clone(providerOrder)
}

// Rank returns the position of p in the cost order, or -1 for an unknown ID.
func (p ProviderID) Rank() int {
	return slices.Index(providerOrder, p)
}

// Valid reports whether p is a known ProviderID.
func (p ProviderID) Valid() bool {
	return p.Rank() >= 0
}

// IsFree reports whether p is a free-tier provider.
func (p ProviderID) IsFree() bool {
	return p == FreePrimary || p == FreeSecondary
}

// ParseProviderID validates s as a ProviderID.
func ParseProviderID(s string) (ProviderID, error) {
	p := ProviderID(strings.TrimSpace(strings.ToLower(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown provider %q", s)
	}
	return p, nil
}

// Feature tags the calling use case. Health is tracked per (ProviderID, Feature).
type Feature string

const (
	FeatureChat           Feature = "chat"
	FeatureClassification Feature = "classification"
	FeatureOCR            Feature = "ocr"
	FeatureEnrichment     Feature = "enrichment"
	FeatureBotIntegration Feature = "bot_integration"
)

var features = []Feature{FeatureChat, FeatureClassification, FeatureOCR, FeatureEnrichment, FeatureBotIntegration}

// Features returns every known Feature.
func Features() []Feature {
	return slices.Clone(features)
}

// Valid reports whether f is a known Feature.
func (f Feature) Valid() bool {
	return slices.Contains(features, f)
}

// ParseFeature validates s as a Feature. An empty string means chat.
func ParseFeature(s string) (Feature, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return FeatureChat, nil
	}
	f := Feature(s)
	if !f.Valid() {
		return "", fmt.Errorf("unknown feature %q", s)
	}
	return f, nil
}

// StrategyDecision is the Selector's answer for the next attempt. Reason is informational.
type StrategyDecision struct {
	Provider ProviderID
	Reason   string
	// Degraded is set when the pick ignores health or budget because nothing better remains.
	Degraded bool
	// Exhausted is set when no unexcluded provider is eligible; Provider is then the
	// lowest-cost provider and should not be attempted again within the same request.
	Exhausted bool
}

// Prompt is the normalized payload handed to every provider client.
type Prompt struct {
	SystemPrompt    string
	UserMessage     string
	ContextMessage  string
	MaxOutputTokens int

	// ReasoningEffort is forwarded to models that accept it; empty sends nothing.
	ReasoningEffort ReasoningEffort
}

// Completion is a provider client's successful answer.
type Completion struct {
	Content   string
	Model     string
	TokensIn  int
	TokensOut int
	// TokensUsed is nil when the provider did not report usage.
	TokensUsed *int
}

// ExclusionSet records providers already attempted within one logical request.
type ExclusionSet map[ProviderID]struct{}

// Add marks p as attempted.
func (s ExclusionSet) Add(p ProviderID) {
	s[p] = struct{}{}
}

// Has reports whether p was already attempted.
func (s ExclusionSet) Has(p ProviderID) bool {
	_, ok := s[p]
	return ok
}

// FeatureLimits bounds one provider call for a Feature.
type FeatureLimits struct {
	MaxOutputTokens int
	Timeout         time.Duration
}

// ReasoningEffort selects how long a model may think: "1x", "3x" or "auto".
type ReasoningEffort string

const (
	EffortStandard ReasoningEffort = "1x"
	EffortExtended ReasoningEffort = "3x"
	EffortAuto     ReasoningEffort = "auto"
)

// Valid reports whether e is a known effort.
func (e ReasoningEffort) Valid() bool {
	switch e {
	case EffortStandard, EffortExtended, EffortAuto:
		return true
	}
	return false
}

// Extended effort raises each call to at least these bounds.
const (
	ExtendedMaxOutputTokens = 16000
	ExtendedTimeout         = 60 * time.Second
)

// ForEffort returns l raised to the extended bounds when e is EffortExtended.
func (l FeatureLimits) ForEffort(e ReasoningEffort) FeatureLimits {
	if e != EffortExtended {
		return l
	}
	l.MaxOutputTokens = max(l.MaxOutputTokens, ExtendedMaxOutputTokens)
	l.Timeout = max(l.Timeout, ExtendedTimeout)
	return l
}

var defaultFeatureLimits = map[Feature]FeatureLimits{
	FeatureChat:           {MaxOutputTokens: 2000, Timeout: 30 * time.Second},
	FeatureClassification: {MaxOutputTokens: 800, Timeout: 30 * time.Second},
	FeatureOCR:            {MaxOutputTokens: 2000, Timeout: 60 * time.Second},
	FeatureEnrichment:     {MaxOutputTokens: 3000, Timeout: 45 * time.Second},
	FeatureBotIntegration: {MaxOutputTokens: 1200, Timeout: 30 * time.Second},
}

// DefaultFeatureLimits returns the built-in per-feature call bounds.
func DefaultFeatureLimits() map[Feature]FeatureLimits {
	out := make(map[Feature]FeatureLimits, len(defaultFeatureLimits))
	for f, l := range defaultFeatureLimits {
		out[f] = l
	}
	return out
}
