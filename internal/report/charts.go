package report

import (
	"fmt"
	"io"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	chartypes "github.com/go-echarts/go-echarts/v2/types"

	"engineroom/internal/engine"
)

const (
	colorBackground  = "#0b1220"
	colorTextPrimary = "#eceff4"
	colorTextMuted   = "#9ca3af"
	colorCurrent     = "#3b82f6"
	colorProposed    = "#34d399"
	colorProfit      = "#fbbf24"
	colorLoss        = "#f87171"

	chartWidthPx  = 1100
	chartHeightPx = 420
)

// RunInput carries everything the run report needs.
type RunInput struct {
	Title  string
	Result *engine.Result
}

// RenderRunReport writes the run's dashboard page as standalone HTML: the
// margin-band distribution plus the per-group current vs proposed comparison.
func RenderRunReport(w io.Writer, input RunInput) error {
	if input.Result == nil {
		return fmt.Errorf("run report requires a result")
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildBandChart(input.Title, input.Result.Bands),
		buildGroupImpactChart(input.Result.GroupImpacts),
	)
	return page.Render(w)
}

func chartInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           chartypes.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildBandChart(title string, bands engine.BandSummary) *charts.Bar {
	bar := charts.NewBar()
	subtitle := fmt.Sprintf("total profit %.2f", bands.TotalProfit)
	if bands.UndefinedCount > 0 {
		subtitle += fmt.Sprintf(" | %d items without a defined margin", bands.UndefinedCount)
	}
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:         titleOr(title, "Margin distribution"),
			Subtitle:      subtitle,
			Left:          "left",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextMuted},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextMuted}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextMuted}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)

	names := make([]string, 0, len(bands.Bands))
	counts := make([]opts.BarData, 0, len(bands.Bands))
	profits := make([]opts.BarData, 0, len(bands.Bands))
	for _, b := range bands.Bands {
		names = append(names, b.Name)
		counts = append(counts, opts.BarData{Value: b.ItemCount})
		color := colorProfit
		if b.TotalProfit < 0 {
			color = colorLoss
		}
		profits = append(profits, opts.BarData{
			Value:     round2(b.TotalProfit),
			ItemStyle: &opts.ItemStyle{Color: color, Opacity: opts.Float(0.8)},
		})
	}
	bar.SetXAxis(names)
	bar.AddSeries("Items", counts, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCurrent, Opacity: opts.Float(0.8)}))
	bar.AddSeries("Profit", profits)
	return bar
}

func buildGroupImpactChart(groups []engine.GroupImpact) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(chartHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title:      "Revenue by usage group",
			Subtitle:   "current vs proposed, usage weighted",
			Left:       "left",
			TitleStyle: &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{
				Color: colorTextMuted,
			},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), TextStyle: &opts.TextStyle{Color: colorTextMuted}}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Color: colorTextMuted}}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Color: colorTextMuted},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextMuted, Opacity: opts.Float(0.15)}},
		}),
	)

	names := make([]string, 0, len(groups))
	current := make([]opts.BarData, 0, len(groups))
	proposed := make([]opts.BarData, 0, len(groups))
	for _, g := range groups {
		names = append(names, string(g.Group))
		current = append(current, opts.BarData{Value: round2(g.Current.Revenue)})
		proposed = append(proposed, opts.BarData{Value: round2(g.Proposed.Revenue)})
	}
	bar.SetXAxis(names)
	bar.AddSeries("Current", current, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorCurrent, Opacity: opts.Float(0.8)}))
	bar.AddSeries("Proposed", proposed, charts.WithItemStyleOpts(opts.ItemStyle{Color: colorProposed, Opacity: opts.Float(0.8)}))
	return bar
}

func titleOr(title, fallback string) string {
	if title == "" {
		return fallback
	}
	return title
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
