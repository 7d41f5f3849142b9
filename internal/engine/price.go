package engine

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"engineroom/internal/types"
)

// Rule2MarginFloor is the hard lower bound on rule 2 target margins.
// Configured values below it are clamped up; this is an invariant of the rule
// family, not a default.
const Rule2MarginFloor = 0.05

var decOne = decimal.NewFromInt(1)

// RuleQuote is the outcome of pricing one item under one rule family.
type RuleQuote struct {
	Price       float64  `json:"price"`
	Margin      *float64 `json:"margin,omitempty"`
	AppliedRule string   `json:"applied_rule"`
}

// BelowCost reports whether the quoted price undercuts the item's own cost.
// The calculator never clamps this away; callers decide how to surface it.
func (q RuleQuote) BelowCost(cost float64) bool {
	return cost > 0 && q.Price > 0 && q.Price < cost
}

// marginPrice derives the price that achieves a target margin over cost:
// price = cost / (1 - margin). Decimal arithmetic keeps the division exact
// enough that round-tripping the margin back out of the price is stable.
func marginPrice(cost, targetMargin float64) float64 {
	if cost <= 0 {
		return 0
	}
	c := decimal.NewFromFloat(cost)
	m := decimal.NewFromFloat(targetMargin)
	denom := decOne.Sub(m)
	if denom.Sign() <= 0 {
		return 0
	}
	price, _ := c.DivRound(denom, 6).Float64()
	return price
}

// marginAt computes (price-cost)/price, or nil when the price is zero and the
// margin is undefined.
func marginAt(price, cost float64) *float64 {
	if price <= 0 {
		return nil
	}
	m := (price - cost) / price
	if math.IsNaN(m) || math.IsInf(m, 0) {
		return nil
	}
	return &m
}

// computeRule1 prices an item under the market-based rule family: the target
// margin comes straight from the group/trend lookup.
func computeRule1(cost float64, group types.UsageGroup, trend types.TrendDirection, params types.RuleParams) RuleQuote {
	margins := params[group]
	target := margins.ForTrend(trend)
	price := marginPrice(cost, target)
	return RuleQuote{
		Price:       price,
		Margin:      marginAt(price, cost),
		AppliedRule: ruleLabel("rule1", group, trend, target),
	}
}

// computeRule2 prices an item under the margin-based rule family. The target
// margin is clamped to the 5% floor regardless of configuration.
func computeRule2(cost float64, group types.UsageGroup, trend types.TrendDirection, params types.RuleParams) RuleQuote {
	margins := params[group]
	target := margins.ForTrend(trend)
	if target < Rule2MarginFloor {
		target = Rule2MarginFloor
	}
	price := marginPrice(cost, target)
	return RuleQuote{
		Price:       price,
		Margin:      marginAt(price, cost),
		AppliedRule: ruleLabel("rule2", group, trend, target),
	}
}

// combineQuotes resolves the combined rule from the two independent quotes.
// A zero-priced quote (zero-cost item) never wins over a priced one except
// when both are zero.
func combineQuotes(r1, r2 RuleQuote, policy types.CombinedPolicy) RuleQuote {
	pick := func(q RuleQuote) RuleQuote {
		q.AppliedRule = "combined:" + q.AppliedRule
		return q
	}
	switch {
	case r1.Price <= 0 && r2.Price <= 0:
		return RuleQuote{AppliedRule: "combined:undefined"}
	case r1.Price <= 0:
		return pick(r2)
	case r2.Price <= 0:
		return pick(r1)
	}
	switch policy {
	case types.CombinedHighest:
		if r1.Price >= r2.Price {
			return pick(r1)
		}
		return pick(r2)
	case types.CombinedRule2Wins:
		return pick(r2)
	default: // CombinedLowest
		if r1.Price <= r2.Price {
			return pick(r1)
		}
		return pick(r2)
	}
}

func ruleLabel(family string, group types.UsageGroup, trend types.TrendDirection, target float64) string {
	bucket := "flat_up"
	if trend == types.TrendDown {
		bucket = "down"
	}
	return fmt.Sprintf("%s:%s:%s:%.0f%%", family, group, bucket, target*100)
}
