package engine

import (
	"math"

	"engineroom/internal/types"
)

// Band is one margin bucket: [Lower, Upper) on the margin fraction.
// Boundaries are configuration, not business meaning; DefaultBands mirrors the
// dashboard's stock layout.
type Band struct {
	Name  string  `json:"name"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// DefaultBands returns the standard ordered band set.
func DefaultBands() []Band {
	return []Band{
		{Name: "negative", Lower: math.Inf(-1), Upper: 0},
		{Name: "0-5%", Lower: 0, Upper: 0.05},
		{Name: "5-10%", Lower: 0.05, Upper: 0.10},
		{Name: "10-15%", Lower: 0.10, Upper: 0.15},
		{Name: "15%+", Lower: 0.15, Upper: math.Inf(1)},
	}
}

// BandBucket is the aggregate for one band.
type BandBucket struct {
	Name        string  `json:"name"`
	ItemCount   int     `json:"item_count"`
	TotalProfit float64 `json:"total_profit"`
	ProfitShare float64 `json:"profit_share"`
}

// BandSummary is the portfolio margin distribution. Items without a defined
// margin are counted separately, never silently dropped.
type BandSummary struct {
	Bands          []BandBucket `json:"bands"`
	UndefinedCount int          `json:"undefined_count"`
	TotalProfit    float64      `json:"total_profit"`
}

// AggregateMarginBands buckets items by current margin and computes
// usage-weighted profit per band. Profit share divides by the portfolio total
// and is defined as 0 whenever that total is not positive.
//
// This is a barrier aggregation: it assumes the full item set is present,
// because profit shares are meaningless over a partial set.
func AggregateMarginBands(items []types.PricedItem, bands []Band) BandSummary {
	if len(bands) == 0 {
		bands = DefaultBands()
	}
	summary := BandSummary{Bands: make([]BandBucket, len(bands))}
	for i, b := range bands {
		summary.Bands[i] = BandBucket{Name: b.Name}
	}
	for _, item := range items {
		margin := item.CurrentMargin
		if margin == nil {
			summary.UndefinedCount++
			continue
		}
		profit := (item.CurrentPrice - item.AvgCost) * item.Usage
		for i, b := range bands {
			if *margin >= b.Lower && *margin < b.Upper {
				summary.Bands[i].ItemCount++
				summary.Bands[i].TotalProfit += profit
				summary.TotalProfit += profit
				break
			}
		}
	}
	if summary.TotalProfit > 0 {
		for i := range summary.Bands {
			summary.Bands[i].ProfitShare = summary.Bands[i].TotalProfit / summary.TotalProfit
		}
	}
	return summary
}
