package engine

import "engineroom/internal/types"

// Metrics is a usage-weighted portfolio rollup: revenue = price x usage,
// profit = (price - cost) x usage, margin = total profit / total revenue.
type Metrics struct {
	Revenue   float64 `json:"revenue"`
	Profit    float64 `json:"profit"`
	MarginPct float64 `json:"margin_pct"`
	ItemCount int     `json:"item_count"`
}

// Impact is the portfolio-level delta between current and proposed pricing.
// Percentage deltas divide by the current metric and are 0 when it is 0.
// MarginDeltaPts is an absolute percentage-point difference, not a relative
// change.
type Impact struct {
	RevenueDelta    float64 `json:"revenue_delta"`
	RevenueDeltaPct float64 `json:"revenue_delta_pct"`
	ProfitDelta     float64 `json:"profit_delta"`
	ProfitDeltaPct  float64 `json:"profit_delta_pct"`
	MarginDeltaPts  float64 `json:"margin_delta_pts"`
}

// GroupImpact is the same comparison scoped to one usage-rank group.
type GroupImpact struct {
	Group    types.UsageGroup `json:"group"`
	Current  Metrics          `json:"current"`
	Proposed Metrics          `json:"proposed"`
	Impact   Impact           `json:"impact"`
}

// PortfolioMetrics rolls up the item set. With proposed=true the proposed
// price drives revenue/profit; otherwise the current price does. Items with a
// non-positive driving price or zero usage contribute nothing, matching how
// the dashboard treats dead rows.
func PortfolioMetrics(items []types.PricedItem, proposed bool) Metrics {
	var m Metrics
	for _, item := range items {
		price := item.CurrentPrice
		if proposed {
			price = item.ProposedPrice
		}
		if price <= 0 || item.Usage <= 0 {
			continue
		}
		m.Revenue += price * item.Usage
		m.Profit += (price - item.AvgCost) * item.Usage
		m.ItemCount++
	}
	if m.Revenue > 0 {
		m.MarginPct = m.Profit / m.Revenue * 100
	}
	return m
}

// ComputeImpact derives the deltas between two metric sets.
func ComputeImpact(current, proposed Metrics) Impact {
	imp := Impact{
		RevenueDelta:   proposed.Revenue - current.Revenue,
		ProfitDelta:    proposed.Profit - current.Profit,
		MarginDeltaPts: proposed.MarginPct - current.MarginPct,
	}
	if current.Revenue != 0 {
		imp.RevenueDeltaPct = imp.RevenueDelta / current.Revenue * 100
	}
	if current.Profit != 0 {
		imp.ProfitDeltaPct = imp.ProfitDelta / current.Profit * 100
	}
	return imp
}

// GroupImpacts computes the current-vs-proposed comparison per usage group,
// in rank order.
func GroupImpacts(items []types.PricedItem) []GroupImpact {
	byGroup := make(map[types.UsageGroup][]types.PricedItem, 3)
	for _, item := range items {
		byGroup[item.Group] = append(byGroup[item.Group], item)
	}
	out := make([]GroupImpact, 0, 3)
	for _, g := range types.Groups() {
		members := byGroup[g]
		cur := PortfolioMetrics(members, false)
		prop := PortfolioMetrics(members, true)
		out = append(out, GroupImpact{
			Group:    g,
			Current:  cur,
			Proposed: prop,
			Impact:   ComputeImpact(cur, prop),
		})
	}
	return out
}
