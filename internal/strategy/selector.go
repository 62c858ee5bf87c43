package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"aigateway/internal/core"
	"aigateway/internal/health"
)

// Reasons reported in StrategyDecision.Reason.
const (
	ReasonFreeTier        = "next free-tier provider"
	ReasonPaidFallback    = "paid fallback: free tier exhausted"
	ReasonDegradedHealth  = "degraded health ignored, no alternative"
	ReasonAllAttempted    = "all providers attempted"
	ReasonBudgetExhausted = "every remaining provider is over budget"
)

// Selector picks the next provider for one attempt.
type Selector struct {
	budget        BudgetChecker
	health        health.Tracker
	skipThreshold int
}

// NewSelector creates a Selector. Providers whose streak for the feature reaches
// skipThreshold are tried only when nothing healthier remains.
func NewSelector(budget BudgetChecker, tracker health.Tracker, skipThreshold int) *Selector {
	return &Selector{
		budget:        budget,
		health:        tracker,
		skipThreshold: max(skipThreshold, 1),
	}
}

type candidate struct {
	provider core.ProviderID
	streak   int
}

// SelectNextProvider never returns an excluded provider unless every provider is excluded
// or over budget. In that case Exhausted is set and Provider is the lowest-cost provider.
func (s *Selector) SelectNextProvider(ctx context.Context, feature core.Feature, excluded core.ExclusionSet) core.StrategyDecision {
	var healthy, unhealthy []candidate
	var skipped []string

	for _, p := range core.Providers() {
		if excluded.Has(p) {
			continue
		}
		// Budget and health are both evaluated so the skip reason is complete.
		budget := s.budget.Status(ctx, p)
		streak := s.health.State(ctx, p, feature).ConsecutiveFailures
		unhealthyPair := streak >= s.skipThreshold

		if !budget.Available() {
			skipped = append(skipped, fmt.Sprintf("%s over budget", p))
			slog.Debug("provider skipped",
				"provider", p,
				"feature", feature,
				"over_daily", budget.OverDaily,
				"over_monthly", budget.OverMonthly,
				"consecutive_failures", streak,
			)
			continue
		}

		c := candidate{provider: p, streak: streak}
		if unhealthyPair {
			skipped = append(skipped, fmt.Sprintf("%s unhealthy (%d failures)", p, streak))
			unhealthy = append(unhealthy, c)
			continue
		}
		healthy = append(healthy, c)
	}

	switch {
	case len(healthy) > 0:
		p := healthy[0].provider
		reason := ReasonFreeTier
		if !p.IsFree() {
			reason = ReasonPaidFallback
		}
		return core.StrategyDecision{
			Provider: p,
			Reason:   withSkipped(reason, skipped),
			Degraded: !p.IsFree(),
		}

	case len(unhealthy) > 0:
		p := unhealthy[0].provider
		reason := ReasonDegradedHealth
		if !p.IsFree() {
			reason = "paid fallback: " + ReasonDegradedHealth
		}
		return core.StrategyDecision{
			Provider: p,
			Reason:   withSkipped(reason, skipped),
			Degraded: true,
		}
	}

	reason := ReasonAllAttempted
	if len(skipped) > 0 {
		reason = withSkipped(ReasonBudgetExhausted, skipped)
	}
	return core.StrategyDecision{
		Provider:  core.Providers()[0],
		Reason:    reason,
		Degraded:  true,
		Exhausted: true,
	}
}

func withSkipped(reason string, skipped []string) string {
	if len(skipped) == 0 {
		return reason
	}
	return reason + " (" + strings.Join(skipped, ", ") + ")"
}
