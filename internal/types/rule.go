package types

// TrendMargins holds the two target margins for one usage group, keyed by the
// trend bucket the item falls into. Values are decimal fractions (0.12 = 12%).
type TrendMargins struct {
	TrendDown   float64 `json:"trend_down" yaml:"trend_down" mapstructure:"trend_down"`
	TrendFlatUp float64 `json:"trend_flat_up" yaml:"trend_flat_up" mapstructure:"trend_flat_up"`
}

// ForTrend selects the margin parameter for a trend direction. Anything that
// is not an established downward trend uses the flat/up bucket.
func (t TrendMargins) ForTrend(trend TrendDirection) float64 {
	if trend == TrendDown {
		return t.TrendDown
	}
	return t.TrendFlatUp
}

// RuleParams maps usage groups to their margin parameters for one rule family.
type RuleParams map[UsageGroup]TrendMargins

// CombinedPolicy picks the winner when both rule families are evaluated.
type CombinedPolicy string

const (
	// CombinedLowest takes the lower of the two candidate prices, the
	// customer-favorable choice. Default.
	CombinedLowest CombinedPolicy = "lowest"
	// CombinedHighest takes the higher of the two candidate prices.
	CombinedHighest CombinedPolicy = "highest"
	// CombinedRule2Wins always takes the rule 2 price.
	CombinedRule2Wins CombinedPolicy = "rule2_wins"
)

// Valid reports whether the policy is a supported combiner.
func (p CombinedPolicy) Valid() bool {
	switch p {
	case CombinedLowest, CombinedHighest, CombinedRule2Wins:
		return true
	}
	return false
}

// RuleConfig carries the full parameter set for one evaluation pass. It is
// treated as immutable for the duration of the pass; changing parameters means
// building a new config (and bumping Version), never editing one in flight.
type RuleConfig struct {
	Version           string         `json:"version" yaml:"version" mapstructure:"version"`
	Rule1             RuleParams     `json:"rule1" yaml:"rule1" mapstructure:"rule1"`
	Rule2             RuleParams     `json:"rule2" yaml:"rule2" mapstructure:"rule2"`
	TrendThresholdPct float64        `json:"trend_threshold_pct" yaml:"trend_threshold_pct" mapstructure:"trend_threshold_pct"`
	CombinedPolicy    CombinedPolicy `json:"combined_policy" yaml:"combined_policy" mapstructure:"combined_policy"`
}

// Clone returns a deep copy so a caller can derive a new version without
// touching a config that may be shared across concurrent evaluations.
func (c RuleConfig) Clone() RuleConfig {
	out := c
	out.Rule1 = make(RuleParams, len(c.Rule1))
	for g, m := range c.Rule1 {
		out.Rule1[g] = m
	}
	out.Rule2 = make(RuleParams, len(c.Rule2))
	for g, m := range c.Rule2 {
		out.Rule2[g] = m
	}
	return out
}

// DefaultRuleConfig returns the stock parameter set used when no override is
// supplied: market-based margins widen with usage rank, cost-based margins sit
// at a flat markup-equivalent per group.
func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		Version: "default",
		Rule1: RuleParams{
			Group1_2: {TrendDown: 0.10, TrendFlatUp: 0.15},
			Group3_4: {TrendDown: 0.11, TrendFlatUp: 0.16},
			Group5_6: {TrendDown: 0.12, TrendFlatUp: 0.17},
		},
		Rule2: RuleParams{
			Group1_2: {TrendDown: 0.12, TrendFlatUp: 0.12},
			Group3_4: {TrendDown: 0.13, TrendFlatUp: 0.13},
			Group5_6: {TrendDown: 0.14, TrendFlatUp: 0.14},
		},
		TrendThresholdPct: 2,
		CombinedPolicy:    CombinedLowest,
	}
}
