package engine

import "engineroom/internal/types"

// IsCostRisk flags an item whose cost already exceeds the cheapest competitor
// while its market trend is falling. Such an item is at risk of becoming
// unsellable at a profitable price; the flag is a forward-looking warning, not
// a profitability measure.
//
// No competitor prices means no risk signal.
func IsCostRisk(item types.Item, trend types.TrendDirection) bool {
	minComp, ok := item.MinCompetitorPrice()
	if !ok || minComp <= 0 {
		return false
	}
	return item.AvgCost > minComp && trend == types.TrendDown
}
