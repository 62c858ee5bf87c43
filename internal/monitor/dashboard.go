package monitor

import (
	"context"

	"github.com/shopspring/decimal"

	"aigateway/internal/core"
	"aigateway/internal/health"
)

// ProviderStatus is one row of the usage dashboard.
type ProviderStatus struct {
	Provider            core.ProviderID      `json:"provider"`
	Configured          bool                 `json:"configured"`
	Available           bool                 `json:"available"`
	CostToday           decimal.Decimal      `json:"cost_today"`
	CostMonth           decimal.Decimal      `json:"cost_month"`
	DailyCap            decimal.Decimal      `json:"daily_cap"`
	MonthlyBudget       decimal.Decimal      `json:"monthly_budget"`
	PercentOfMonth      float64              `json:"percent_of_month"`
	ConsecutiveFailures map[core.Feature]int `json:"consecutive_failures"`
}

// Dashboard reports spend, budget and health per provider in cost order.
func (m *Monitor) Dashboard(ctx context.Context) []ProviderStatus {
	states := health.Snapshot(ctx, m.tracker)
	failures := make(map[core.ProviderID]map[core.Feature]int, len(core.Providers()))
	for _, st := range states {
		if failures[st.Provider] == nil {
			failures[st.Provider] = make(map[core.Feature]int, len(core.Features()))
		}
		failures[st.Provider][st.Feature] = st.ConsecutiveFailures
	}

	budgets := m.budgets.Statuses(ctx)
	out := make([]ProviderStatus, 0, len(budgets))
	for _, b := range budgets {
		out = append(out, ProviderStatus{
			Provider:            b.Provider,
			Configured:          m.providers.Configured(b.Provider),
			Available:           b.Available(),
			CostToday:           b.SpentToday,
			CostMonth:           b.SpentMonth,
			DailyCap:            b.Limits.DailyCap,
			MonthlyBudget:       b.Limits.MonthlyBudget,
			PercentOfMonth:      b.PercentOfMonth(),
			ConsecutiveFailures: failures[b.Provider],
		})
	}
	return out
}
