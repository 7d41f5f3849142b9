package engine

import "engineroom/internal/types"

// DefaultTrendThresholdPct is the percentage move required before a series is
// classified as trending. Applies symmetrically in both directions.
const DefaultTrendThresholdPct = 2.0

// ClassifyTrend compares a current snapshot against a prior snapshot and
// returns the trend direction. A missing value on either side, or a zero
// previous value, yields TrendNone: no trend can be established, which is a
// defined outcome rather than an error.
//
// The boundary is inclusive: a change of exactly the threshold classifies as
// up (or down), not none.
func ClassifyTrend(current, previous *float64, thresholdPct float64) types.TrendDirection {
	if current == nil || previous == nil || *previous == 0 {
		return types.TrendNone
	}
	if thresholdPct <= 0 {
		thresholdPct = DefaultTrendThresholdPct
	}
	changePct := (*current - *previous) / *previous * 100
	switch {
	case changePct >= thresholdPct:
		return types.TrendUp
	case changePct <= -thresholdPct:
		return types.TrendDown
	default:
		return types.TrendNone
	}
}

// classifyCompetitorTrends applies the same classifier to every named
// competitor quote. One function over a name->quote map, so every competitor
// gets identical threshold and formula treatment.
func classifyCompetitorTrends(quotes map[string]types.CompetitorQuote, thresholdPct float64) map[string]types.TrendDirection {
	if len(quotes) == 0 {
		return nil
	}
	out := make(map[string]types.TrendDirection, len(quotes))
	for name, q := range quotes {
		out[name] = ClassifyTrend(q.Current, q.Previous, thresholdPct)
	}
	return out
}
