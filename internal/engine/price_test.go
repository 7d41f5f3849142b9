package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"engineroom/internal/types"
)

func testRule1Params() types.RuleParams {
	return types.RuleParams{
		types.Group1_2: {TrendDown: 0.10, TrendFlatUp: 0.15},
		types.Group3_4: {TrendDown: 0.11, TrendFlatUp: 0.16},
		types.Group5_6: {TrendDown: 0.12, TrendFlatUp: 0.17},
	}
}

func TestMarginPrice(t *testing.T) {
	// price = cost / (1 - margin)
	assert.InDelta(t, 11.111111, marginPrice(10, 0.10), 1e-6)
	assert.InDelta(t, 12.5, marginPrice(10, 0.20), 1e-6)
	assert.InDelta(t, 10, marginPrice(10, 0), 1e-6)

	assert.Zero(t, marginPrice(0, 0.10))
	assert.Zero(t, marginPrice(-5, 0.10))
	assert.Zero(t, marginPrice(10, 1))
}

func TestMarginPrice_RoundTrip(t *testing.T) {
	// The margin backed out of the derived price must match the target.
	for _, target := range []float64{0.05, 0.10, 0.12, 0.17, 0.5} {
		price := marginPrice(37.42, target)
		m := marginAt(price, 37.42)
		if assert.NotNil(t, m) {
			assert.InDelta(t, target, *m, 1e-4)
		}
	}
}

func TestMarginAt(t *testing.T) {
	m := marginAt(12.5, 10)
	if assert.NotNil(t, m) {
		assert.InDelta(t, 0.20, *m, 1e-9)
	}
	assert.Nil(t, marginAt(0, 10))
	assert.Nil(t, marginAt(-1, 10))
}

func TestComputeRule1(t *testing.T) {
	q := computeRule1(10, types.Group1_2, types.TrendDown, testRule1Params())
	assert.InDelta(t, 11.111111, q.Price, 1e-6)
	assert.Equal(t, "rule1:group1_2:down:10%", q.AppliedRule)

	q = computeRule1(10, types.Group5_6, types.TrendUp, testRule1Params())
	assert.InDelta(t, 10/(1-0.17), q.Price, 1e-6)
	assert.Equal(t, "rule1:group5_6:flat_up:17%", q.AppliedRule)

	// No established trend uses the flat/up bucket.
	q = computeRule1(10, types.Group3_4, types.TrendNone, testRule1Params())
	assert.InDelta(t, 10/(1-0.16), q.Price, 1e-6)
}

func TestComputeRule2_FloorClamp(t *testing.T) {
	params := types.RuleParams{
		types.Group1_2: {TrendDown: 0.01, TrendFlatUp: 0.12},
		types.Group3_4: {TrendDown: 0.13, TrendFlatUp: 0.13},
		types.Group5_6: {TrendDown: 0.14, TrendFlatUp: 0.14},
	}
	// 1% configured, clamped up to the 5% floor.
	q := computeRule2(10, types.Group1_2, types.TrendDown, params)
	assert.InDelta(t, 10/(1-0.05), q.Price, 1e-6)
	assert.Equal(t, "rule2:group1_2:down:5%", q.AppliedRule)
	if assert.NotNil(t, q.Margin) {
		assert.GreaterOrEqual(t, *q.Margin, Rule2MarginFloor-1e-9)
	}

	// Above the floor passes through untouched.
	q = computeRule2(10, types.Group1_2, types.TrendUp, params)
	assert.InDelta(t, 10/(1-0.12), q.Price, 1e-6)
}

func TestCombineQuotes(t *testing.T) {
	r1 := RuleQuote{Price: 11.11, AppliedRule: "rule1:group1_2:down:10%"}
	r2 := RuleQuote{Price: 11.36, AppliedRule: "rule2:group1_2:down:12%"}

	t.Run("lowest wins by default", func(t *testing.T) {
		q := combineQuotes(r1, r2, types.CombinedLowest)
		assert.InDelta(t, 11.11, q.Price, 1e-9)
		assert.Equal(t, "combined:rule1:group1_2:down:10%", q.AppliedRule)
	})

	t.Run("highest policy", func(t *testing.T) {
		q := combineQuotes(r1, r2, types.CombinedHighest)
		assert.InDelta(t, 11.36, q.Price, 1e-9)
	})

	t.Run("rule2 wins policy", func(t *testing.T) {
		q := combineQuotes(r1, r2, types.CombinedRule2Wins)
		assert.Equal(t, "combined:rule2:group1_2:down:12%", q.AppliedRule)
	})

	t.Run("zero priced quote never wins", func(t *testing.T) {
		q := combineQuotes(RuleQuote{AppliedRule: "rule1:x"}, r2, types.CombinedLowest)
		assert.InDelta(t, 11.36, q.Price, 1e-9)
	})

	t.Run("both zero is undefined", func(t *testing.T) {
		q := combineQuotes(RuleQuote{}, RuleQuote{}, types.CombinedLowest)
		assert.Zero(t, q.Price)
		assert.Equal(t, "combined:undefined", q.AppliedRule)
	})
}

func TestRuleQuote_BelowCost(t *testing.T) {
	assert.True(t, RuleQuote{Price: 9}.BelowCost(10))
	assert.False(t, RuleQuote{Price: 11}.BelowCost(10))
	assert.False(t, RuleQuote{Price: 0}.BelowCost(10))
	assert.False(t, RuleQuote{Price: 9}.BelowCost(0))
}
