package engine

import (
	"context"
	"math"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"engineroom/internal/logger"
	"engineroom/internal/types"
)

// HighPriceRatio marks an item priced at or above this multiple of the lowest
// competitor price.
const HighPriceRatio = 1.10

// LowMarginThreshold marks an item whose effective margin sits below 5%.
const LowMarginThreshold = 0.05

// Options tunes an Evaluator. Zero values fall back to sensible defaults.
type Options struct {
	// Workers bounds the per-item fan-out. <=0 means GOMAXPROCS.
	Workers int
	// Bands overrides the margin distribution layout.
	Bands []Band
}

// Evaluator runs the full pricing pass: per-item enrichment in parallel,
// then portfolio aggregations over the complete set.
type Evaluator struct {
	workers int
	bands   []Band
}

func NewEvaluator(opts Options) *Evaluator {
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	bands := opts.Bands
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	return &Evaluator{workers: workers, bands: bands}
}

// Result is the complete output of one evaluation pass. Items preserve the
// input order; failed items are absent from Items and reported in Failures
// instead.
type Result struct {
	Mode          types.RuleMode     `json:"mode"`
	ConfigVersion string             `json:"config_version"`
	EvaluatedAt   time.Time          `json:"evaluated_at"`
	Items         []types.PricedItem `json:"items"`
	Failures      []*ItemError       `json:"failures,omitempty"`
	Bands         BandSummary        `json:"bands"`
	Current       Metrics            `json:"current"`
	Proposed      Metrics            `json:"proposed"`
	Impact        Impact             `json:"impact"`
	GroupImpacts  []GroupImpact      `json:"group_impacts"`
}

// ValidateConfig checks a rule configuration before any item is touched.
// A bad configuration affects every row the same way, so it fails the whole
// pass up front instead of producing a per-item error storm.
func ValidateConfig(cfg types.RuleConfig) error {
	for _, g := range types.Groups() {
		for family, params := range map[string]types.RuleParams{"rule1": cfg.Rule1, "rule2": cfg.Rule2} {
			margins, ok := params[g]
			if !ok {
				return &ConfigError{Field: family + "." + string(g), Reason: "missing group parameters"}
			}
			if err := checkMargin(family+"."+string(g)+".trend_down", margins.TrendDown); err != nil {
				return err
			}
			if err := checkMargin(family+"."+string(g)+".trend_flat_up", margins.TrendFlatUp); err != nil {
				return err
			}
		}
	}
	if cfg.TrendThresholdPct < 0 || math.IsNaN(cfg.TrendThresholdPct) || math.IsInf(cfg.TrendThresholdPct, 0) {
		return &ConfigError{Field: "trend_threshold_pct", Reason: "must be a non-negative number"}
	}
	if cfg.CombinedPolicy != "" && !cfg.CombinedPolicy.Valid() {
		return &ConfigError{Field: "combined_policy", Reason: "unknown policy " + string(cfg.CombinedPolicy)}
	}
	return nil
}

func checkMargin(field string, m float64) error {
	if math.IsNaN(m) || m < 0 || m >= 1 {
		return &ConfigError{Field: field, Reason: "margin must be in [0,1)"}
	}
	return nil
}

// Evaluate prices every item under the selected rule mode and aggregates the
// portfolio view. The config is copied up front and never read from the caller
// again, so mutating it mid-flight cannot skew later rows.
func (e *Evaluator) Evaluate(ctx context.Context, items []types.Item, cfg types.RuleConfig, mode types.RuleMode) (*Result, error) {
	if !mode.Valid() {
		return nil, &ConfigError{Field: "mode", Reason: "unknown rule mode " + string(mode)}
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()
	if cfg.TrendThresholdPct == 0 {
		cfg.TrendThresholdPct = DefaultTrendThresholdPct
	}
	if cfg.CombinedPolicy == "" {
		cfg.CombinedPolicy = types.CombinedLowest
	}

	start := time.Now()
	priced := make([]*types.PricedItem, len(items))
	itemErrs := make([]*ItemError, len(items))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for i := range items {
		idx := i
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			p, ierr := enrichItem(items[idx], cfg, mode)
			if ierr != nil {
				ierr.Index = idx
				itemErrs[idx] = ierr
				return nil
			}
			priced[idx] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	res := &Result{
		Mode:          mode,
		ConfigVersion: cfg.Version,
		EvaluatedAt:   time.Now().UTC(),
		Items:         make([]types.PricedItem, 0, len(items)),
	}
	for i := range items {
		if itemErrs[i] != nil {
			res.Failures = append(res.Failures, itemErrs[i])
			continue
		}
		res.Items = append(res.Items, *priced[i])
	}

	res.Bands = AggregateMarginBands(res.Items, e.bands)
	res.Current = PortfolioMetrics(res.Items, false)
	if mode == types.RuleModeCurrent {
		// Current mode is a pure passthrough: the proposed view is the
		// current view and the impact is zero by definition, not by
		// arithmetic.
		res.Proposed = res.Current
	} else {
		res.Proposed = PortfolioMetrics(res.Items, true)
		res.Impact = ComputeImpact(res.Current, res.Proposed)
	}
	res.GroupImpacts = GroupImpacts(res.Items)

	logger.Debugf("evaluated %d items (mode=%s version=%s failures=%d) in %s",
		len(items), mode, cfg.Version, len(res.Failures), time.Since(start))
	return res, nil
}

// enrichItem prices one item. All classification and rule math lives here so
// the fan-out loop stays free of business logic.
func enrichItem(item types.Item, cfg types.RuleConfig, mode types.RuleMode) (*types.PricedItem, *ItemError) {
	if err := checkItem(item); err != nil {
		err.ItemID = item.ID
		return nil, err
	}

	p := &types.PricedItem{
		Item:             item,
		Group:            types.GroupForRank(item.UsageRank),
		CompetitorTrends: classifyCompetitorTrends(item.Competitors, cfg.TrendThresholdPct),
	}

	minComp, hasComp := item.MinCompetitorPrice()

	// The market trend prefers the explicit market-low series; without one
	// the cheapest competitor stands in for the current side.
	marketLow := item.MarketLow
	if marketLow == nil && hasComp {
		marketLow = &minComp
	}
	p.Trend = ClassifyTrend(marketLow, item.PrevMarketLow, cfg.TrendThresholdPct)
	p.CostRisk = IsCostRisk(item, p.Trend)

	if p.CurrentMargin == nil {
		p.CurrentMargin = marginAt(item.CurrentPrice, item.AvgCost)
	}

	switch mode {
	case types.RuleModeRule1:
		applyQuote(p, computeRule1(item.AvgCost, p.Group, p.Trend, cfg.Rule1))
	case types.RuleModeRule2:
		applyQuote(p, computeRule2(item.AvgCost, p.Group, p.Trend, cfg.Rule2))
	case types.RuleModeCombined:
		r1 := computeRule1(item.AvgCost, p.Group, p.Trend, cfg.Rule1)
		r2 := computeRule2(item.AvgCost, p.Group, p.Trend, cfg.Rule2)
		applyQuote(p, combineQuotes(r1, r2, cfg.CombinedPolicy))
	default: // RuleModeCurrent
		p.ProposedPrice = item.CurrentPrice
		p.ProposedMargin = p.CurrentMargin
		p.AppliedRule = string(types.RuleModeCurrent)
	}

	assignFlags(p, minComp, hasComp)
	return p, nil
}

func applyQuote(p *types.PricedItem, q RuleQuote) {
	p.ProposedPrice = q.Price
	p.ProposedMargin = q.Margin
	p.AppliedRule = q.AppliedRule
	p.Modified = q.Price > 0 && math.Abs(q.Price-p.CurrentPrice) > 1e-9
}

func checkItem(item types.Item) *ItemError {
	switch {
	case !finite(item.AvgCost) || item.AvgCost < 0:
		return &ItemError{Field: "avg_cost", Reason: "must be a finite non-negative number"}
	case !finite(item.CurrentPrice) || item.CurrentPrice < 0:
		return &ItemError{Field: "current_price", Reason: "must be a finite non-negative number"}
	case !finite(item.Usage) || item.Usage < 0:
		return &ItemError{Field: "usage", Reason: "must be a finite non-negative number"}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// assignFlags attaches the review flags. Flags never remove an item from the
// result; they only mark it for attention.
func assignFlags(p *types.PricedItem, minComp float64, hasComp bool) {
	// Price-quality flags judge the price that would go live: the proposed
	// one, or the current one when no rule could produce a quote.
	price := p.ProposedPrice
	margin := p.ProposedMargin
	if price <= 0 {
		price = p.CurrentPrice
		margin = p.CurrentMargin
	}
	if p.AvgCost <= 0 {
		p.Flags = append(p.Flags, types.FlagZeroCost)
	}
	if !hasComp && p.MarketLow == nil {
		p.Flags = append(p.Flags, types.FlagNoCompetitorData)
	}
	if p.PrevMarketLow == nil {
		p.Flags = append(p.Flags, types.FlagMissingSnapshot)
	}
	if hasComp && price >= HighPriceRatio*minComp {
		p.Flags = append(p.Flags, types.FlagHighPrice)
	}
	if margin != nil && *margin < LowMarginThreshold {
		p.Flags = append(p.Flags, types.FlagLowMargin)
	}
	if p.AvgCost > 0 && p.ProposedPrice > 0 && p.ProposedPrice < p.AvgCost {
		p.Flags = append(p.Flags, types.FlagPriceBelowCost)
	}
}
