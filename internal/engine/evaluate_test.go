package engine

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engineroom/internal/types"
)

func testItems() []types.Item {
	return []types.Item{
		{
			ID: "A-001", Description: "widget", UsageRank: 1, Usage: 100,
			AvgCost: 10, CurrentPrice: 11.5,
			MarketLow: fp(100), PrevMarketLow: fp(105),
			Competitors: map[string]types.CompetitorQuote{
				"acme": {Current: fp(11.2), Previous: fp(11.8)},
			},
		},
		{
			ID: "B-002", Description: "gadget", UsageRank: 4, Usage: 40,
			AvgCost: 20, CurrentPrice: 25,
			MarketLow: fp(100), PrevMarketLow: fp(100),
		},
		{
			ID: "C-003", Description: "sprocket", UsageRank: 6, Usage: 5,
			AvgCost: 0, CurrentPrice: 3,
		},
	}
}

func TestEvaluate_Rule1(t *testing.T) {
	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), testItems(), types.DefaultRuleConfig(), types.RuleModeRule1)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)
	assert.Empty(t, res.Failures)

	// Item A: rank 1, market low fell 105 -> 100, a -4.76% move, an
	// established down trend, so the down margin applies.
	a := res.Items[0]
	assert.Equal(t, types.TrendDown, a.Trend)
	assert.InDelta(t, 10/(1-0.10), a.ProposedPrice, 1e-6)
	assert.Equal(t, "rule1:group1_2:down:10%", a.AppliedRule)
	assert.True(t, a.Modified)

	// Item B: flat market, group3_4 flat/up margin.
	b := res.Items[1]
	assert.Equal(t, types.TrendNone, b.Trend)
	assert.InDelta(t, 20/(1-0.16), b.ProposedPrice, 1e-6)

	// Item C: zero cost cannot be priced, flagged instead of erroring.
	c := res.Items[2]
	assert.Zero(t, c.ProposedPrice)
	assert.True(t, c.HasFlag(types.FlagZeroCost))
	assert.False(t, c.Modified)
}

func TestEvaluate_Rule2Floor(t *testing.T) {
	cfg := types.DefaultRuleConfig()
	cfg.Rule2[types.Group1_2] = types.TrendMargins{TrendDown: 0.01, TrendFlatUp: 0.01}

	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), testItems()[:1], cfg, types.RuleModeRule2)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	got := res.Items[0]
	assert.InDelta(t, 10/(1-0.05), got.ProposedPrice, 1e-6)
	if assert.NotNil(t, got.ProposedMargin) {
		assert.GreaterOrEqual(t, *got.ProposedMargin, Rule2MarginFloor-1e-9)
	}
}

func TestEvaluate_CombinedTakesLowest(t *testing.T) {
	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), testItems()[:1], types.DefaultRuleConfig(), types.RuleModeCombined)
	require.NoError(t, err)

	// rule1 down 10% -> 11.11, rule2 down 12% -> 11.36; lowest wins.
	got := res.Items[0]
	assert.InDelta(t, 10/(1-0.10), got.ProposedPrice, 1e-6)
	assert.Equal(t, "combined:rule1:group1_2:down:10%", got.AppliedRule)
}

func TestEvaluate_CurrentModeZeroImpact(t *testing.T) {
	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), testItems(), types.DefaultRuleConfig(), types.RuleModeCurrent)
	require.NoError(t, err)

	assert.Equal(t, res.Current, res.Proposed)
	assert.Zero(t, res.Impact)
	for _, it := range res.Items {
		assert.Equal(t, it.CurrentPrice, it.ProposedPrice)
		assert.False(t, it.Modified)
	}
}

func TestEvaluate_PreservesOrderAcrossWorkers(t *testing.T) {
	items := make([]types.Item, 200)
	for i := range items {
		items[i] = types.Item{
			ID: fmt.Sprintf("SKU-%03d", i), UsageRank: i%6 + 1,
			Usage: 10, AvgCost: 10, CurrentPrice: 12,
		}
	}
	ev := NewEvaluator(Options{Workers: 8})
	res, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleModeRule1)
	require.NoError(t, err)
	require.Len(t, res.Items, 200)
	for i, it := range res.Items {
		assert.Equal(t, fmt.Sprintf("SKU-%03d", i), it.ID)
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	ev := NewEvaluator(Options{})
	cfg := types.DefaultRuleConfig()
	first, err := ev.Evaluate(context.Background(), testItems(), cfg, types.RuleModeCombined)
	require.NoError(t, err)
	second, err := ev.Evaluate(context.Background(), testItems(), cfg, types.RuleModeCombined)
	require.NoError(t, err)

	assert.Equal(t, first.Items, second.Items)
	assert.Equal(t, first.Impact, second.Impact)
	assert.Equal(t, first.Bands, second.Bands)
}

func TestEvaluate_DoesNotMutateInput(t *testing.T) {
	items := testItems()
	original := items[0]
	ev := NewEvaluator(Options{})
	_, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleModeCombined)
	require.NoError(t, err)
	assert.Equal(t, original, items[0])
}

func TestEvaluate_PartialFailures(t *testing.T) {
	items := testItems()
	items[1].CurrentPrice = math.NaN()

	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleModeRule1)
	require.NoError(t, err)

	assert.Len(t, res.Items, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.Equal(t, "B-002", res.Failures[0].ItemID)
	assert.Equal(t, "current_price", res.Failures[0].Field)

	// Survivors keep their positions relative to each other.
	assert.Equal(t, "A-001", res.Items[0].ID)
	assert.Equal(t, "C-003", res.Items[1].ID)
}

func TestEvaluate_ConfigErrors(t *testing.T) {
	ev := NewEvaluator(Options{})
	items := testItems()

	t.Run("missing group", func(t *testing.T) {
		cfg := types.DefaultRuleConfig()
		delete(cfg.Rule1, types.Group3_4)
		_, err := ev.Evaluate(context.Background(), items, cfg, types.RuleModeRule1)
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, "rule1.group3_4", cerr.Field)
	})

	t.Run("margin out of range", func(t *testing.T) {
		cfg := types.DefaultRuleConfig()
		cfg.Rule2[types.Group5_6] = types.TrendMargins{TrendDown: 1.2, TrendFlatUp: 0.14}
		_, err := ev.Evaluate(context.Background(), items, cfg, types.RuleModeRule2)
		var cerr *ConfigError
		require.ErrorAs(t, err, &cerr)
	})

	t.Run("bad mode", func(t *testing.T) {
		_, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleMode("bogus"))
		require.Error(t, err)
	})

	t.Run("bad policy", func(t *testing.T) {
		cfg := types.DefaultRuleConfig()
		cfg.CombinedPolicy = types.CombinedPolicy("middle")
		_, err := ev.Evaluate(context.Background(), items, cfg, types.RuleModeCombined)
		require.Error(t, err)
	})
}

func TestEvaluate_Flags(t *testing.T) {
	items := []types.Item{
		{
			// Priced at 115 against a cheapest competitor of 100.
			ID: "HP-1", UsageRank: 1, Usage: 1, AvgCost: 50, CurrentPrice: 115,
			Competitors: map[string]types.CompetitorQuote{
				"acme":   {Current: fp(100)},
				"globex": {Current: fp(140)},
			},
			PrevMarketLow: fp(100),
		},
		{
			// 2% current margin.
			ID: "LM-1", UsageRank: 1, Usage: 1, AvgCost: 9.8, CurrentPrice: 10,
			MarketLow: fp(10), PrevMarketLow: fp(10),
		},
		{
			// No market data at all.
			ID: "ND-1", UsageRank: 1, Usage: 1, AvgCost: 5, CurrentPrice: 6,
		},
	}

	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleModeCurrent)
	require.NoError(t, err)
	require.Len(t, res.Items, 3)

	assert.True(t, res.Items[0].HasFlag(types.FlagHighPrice))
	assert.True(t, res.Items[1].HasFlag(types.FlagLowMargin))
	nd := res.Items[2]
	assert.True(t, nd.HasFlag(types.FlagNoCompetitorData))
	assert.True(t, nd.HasFlag(types.FlagMissingSnapshot))
}

func TestEvaluate_FlagsJudgeProposedPrice(t *testing.T) {
	// Cost 10 against a cheapest competitor of 10, currently priced 10.5.
	item := types.Item{
		ID: "PP-1", UsageRank: 1, Usage: 1, AvgCost: 10, CurrentPrice: 10.5,
		Competitors: map[string]types.CompetitorQuote{
			"acme": {Current: fp(10)},
		},
	}
	ev := NewEvaluator(Options{})

	t.Run("high price fires on the proposed side", func(t *testing.T) {
		// Flat trend, 15% flat/up margin: proposed 10/(1-0.15) = 11.76,
		// above 110% of the competitor even though the current 10.5 is not.
		res, err := ev.Evaluate(context.Background(), []types.Item{item}, types.DefaultRuleConfig(), types.RuleModeRule1)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		got := res.Items[0]
		assert.InDelta(t, 10/(1-0.15), got.ProposedPrice, 1e-6)
		assert.True(t, got.HasFlag(types.FlagHighPrice))
		// The 4.76% current margin is superseded by the 15% proposed one.
		assert.False(t, got.HasFlag(types.FlagLowMargin))
	})

	t.Run("low margin fires on the proposed side", func(t *testing.T) {
		cfg := types.DefaultRuleConfig()
		cfg.Rule1[types.Group1_2] = types.TrendMargins{TrendDown: 0.02, TrendFlatUp: 0.02}
		res, err := ev.Evaluate(context.Background(), []types.Item{item}, cfg, types.RuleModeRule1)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		got := res.Items[0]
		require.NotNil(t, got.ProposedMargin)
		assert.InDelta(t, 0.02, *got.ProposedMargin, 1e-6)
		assert.True(t, got.HasFlag(types.FlagLowMargin))
		assert.False(t, got.HasFlag(types.FlagHighPrice))
	})

	t.Run("unpriceable item falls back to the current side", func(t *testing.T) {
		free := types.Item{
			ID: "PP-2", UsageRank: 1, Usage: 1, AvgCost: 0, CurrentPrice: 12,
			Competitors: map[string]types.CompetitorQuote{
				"acme": {Current: fp(10)},
			},
		}
		res, err := ev.Evaluate(context.Background(), []types.Item{free}, types.DefaultRuleConfig(), types.RuleModeRule1)
		require.NoError(t, err)
		require.Len(t, res.Items, 1)
		got := res.Items[0]
		assert.Zero(t, got.ProposedPrice)
		assert.True(t, got.HasFlag(types.FlagZeroCost))
		// No quote exists, so the current 12 vs competitor 10 is judged.
		assert.True(t, got.HasFlag(types.FlagHighPrice))
	})
}

func TestEvaluate_RejectsNegativeCost(t *testing.T) {
	items := testItems()
	items[0].AvgCost = -1

	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), items, types.DefaultRuleConfig(), types.RuleModeRule1)
	require.NoError(t, err)

	assert.Len(t, res.Items, 2)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, 0, res.Failures[0].Index)
	assert.Equal(t, "A-001", res.Failures[0].ItemID)
	assert.Equal(t, "avg_cost", res.Failures[0].Field)
}

func TestEvaluate_CostRiskPropagates(t *testing.T) {
	item := types.Item{
		ID: "CR-1", UsageRank: 2, Usage: 10, AvgCost: 12, CurrentPrice: 13,
		MarketLow: fp(95), PrevMarketLow: fp(100),
		Competitors: map[string]types.CompetitorQuote{
			"acme": {Current: fp(11.5), Previous: fp(12.5)},
		},
	}
	ev := NewEvaluator(Options{})
	res, err := ev.Evaluate(context.Background(), []types.Item{item}, types.DefaultRuleConfig(), types.RuleModeRule1)
	require.NoError(t, err)
	require.Len(t, res.Items, 1)

	got := res.Items[0]
	assert.Equal(t, types.TrendDown, got.Trend)
	assert.True(t, got.CostRisk)
	assert.Equal(t, types.TrendDown, got.CompetitorTrends["acme"])
}
