package types

// TrendDirection classifies a price series movement against a percentage threshold.
type TrendDirection string

const (
	TrendUp   TrendDirection = "up"
	TrendDown TrendDirection = "down"
	TrendNone TrendDirection = "none"
)

// RuleMode selects which rule family's output is active for an evaluation.
type RuleMode string

const (
	RuleModeCurrent  RuleMode = "current"
	RuleModeRule1    RuleMode = "rule1"
	RuleModeRule2    RuleMode = "rule2"
	RuleModeCombined RuleMode = "combined"
)

// Valid reports whether the mode is one of the four supported selector states.
func (m RuleMode) Valid() bool {
	switch m {
	case RuleModeCurrent, RuleModeRule1, RuleModeRule2, RuleModeCombined:
		return true
	}
	return false
}

// UsageGroup buckets usage ranks into the rule-parameter groups.
type UsageGroup string

const (
	Group1_2 UsageGroup = "group1_2"
	Group3_4 UsageGroup = "group3_4"
	Group5_6 UsageGroup = "group5_6"
)

// Groups lists every usage group in rank order.
func Groups() []UsageGroup {
	return []UsageGroup{Group1_2, Group3_4, Group5_6}
}

// GroupForRank maps a usage rank onto its group. Ranks are clamped into [1,6]
// so that out-of-range input still lands in a defined bucket.
func GroupForRank(rank int) UsageGroup {
	if rank < 1 {
		rank = 1
	}
	if rank > 6 {
		rank = 6
	}
	switch {
	case rank <= 2:
		return Group1_2
	case rank <= 4:
		return Group3_4
	default:
		return Group5_6
	}
}

// CompetitorQuote carries one named competitor's current and prior price.
// Nil means the snapshot did not include a value for that side.
type CompetitorQuote struct {
	Current  *float64 `json:"current"`
	Previous *float64 `json:"previous"`
}

// Item is one stock-keeping unit snapshot as supplied by the ingestion boundary.
// Pointer fields are genuinely optional; everything else is required input.
type Item struct {
	ID          string  `json:"id"`
	Description string  `json:"description"`
	UsageRank   int     `json:"usage_rank"`
	Usage       float64 `json:"usage"`
	AvgCost     float64 `json:"avg_cost"`

	CurrentPrice  float64  `json:"current_price"`
	CurrentMargin *float64 `json:"current_margin,omitempty"`

	MarketLow     *float64                   `json:"market_low,omitempty"`
	PrevMarketLow *float64                   `json:"prev_market_low,omitempty"`
	Competitors   map[string]CompetitorQuote `json:"competitors,omitempty"`
}

// MinCompetitorPrice returns the lowest valid competitor current price,
// or false when no competitor carries a usable price.
func (it Item) MinCompetitorPrice() (float64, bool) {
	found := false
	min := 0.0
	for _, q := range it.Competitors {
		if q.Current == nil || *q.Current <= 0 {
			continue
		}
		if !found || *q.Current < min {
			min = *q.Current
			found = true
		}
	}
	return min, found
}

// PricedItem is the engine's enriched output for one item. The embedded Item
// is a copy: the engine never mutates caller-owned records.
type PricedItem struct {
	Item

	Group            UsageGroup                `json:"group"`
	Trend            TrendDirection            `json:"trend"`
	CompetitorTrends map[string]TrendDirection `json:"competitor_trends,omitempty"`

	CostRisk       bool     `json:"cost_risk"`
	ProposedPrice  float64  `json:"proposed_price"`
	ProposedMargin *float64 `json:"proposed_margin,omitempty"`
	AppliedRule    string   `json:"applied_rule"`
	Flags          []string `json:"flags,omitempty"`
	Modified       bool     `json:"modified"`
}

// HasFlag reports whether the item carries the named review flag.
func (p PricedItem) HasFlag(flag string) bool {
	for _, f := range p.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// Review flags attached to priced items. They mark rows for attention;
// a flagged item always stays in the result set.
const (
	FlagZeroCost         = "ZERO_COST"
	FlagNoCompetitorData = "NO_COMPETITOR_DATA"
	FlagMissingSnapshot  = "MISSING_SNAPSHOT"
	FlagHighPrice        = "HIGH_PRICE"
	FlagLowMargin        = "LOW_MARGIN"
	FlagPriceBelowCost   = "PRICE_BELOW_COST"
)
