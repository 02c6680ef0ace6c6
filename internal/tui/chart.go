package tui

import (
	"fmt"
	"strings"

	"github.com/NimbleMarkets/ntcharts/barchart"
	"github.com/charmbracelet/lipgloss"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// displayValues turns stored points into what the chart shows: per-second
// rates for event counters, raw values for gauges.
func displayValues(points []model.SeriesPoint, event bool) []float64 {
	if !event {
		out := make([]float64, len(points))
		for i, p := range points {
			out[i] = p.Value
		}
		return out
	}
	if len(points) < 2 {
		return nil
	}
	out := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		dt := points[i].Time - points[i-1].Time
		dv := points[i].Value - points[i-1].Value
		if dt <= 0 || dv < 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, dv/dt)
	}
	return out
}

// bucket averages values into at most n buckets of near-equal length.
func bucket(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return values
	}
	out := make([]float64, n)
	for b := 0; b < n; b++ {
		lo := b * len(values) / n
		hi := (b + 1) * len(values) / n
		var sum float64
		for _, v := range values[lo:hi] {
			sum += v
		}
		out[b] = sum / float64(hi-lo)
	}
	return out
}

// renderSeriesChart draws values as a bar chart of the given size.
func renderSeriesChart(values []float64, width, height int) string {
	if width < 10 {
		width = 10
	}
	if height < 3 {
		height = 3
	}
	if len(values) == 0 {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			dimStyle.Render("no data points"))
	}

	maxBars := width / 2
	bars := bucket(values, maxBars)

	bc := barchart.New(width, height,
		barchart.WithBarGap(1),
		barchart.WithBarWidth(1),
		barchart.WithNoAxis(),
	)
	for _, v := range bars {
		bc.Push(barchart.BarData{
			Values: []barchart.BarValue{{Name: "value", Value: v, Style: barStyle}},
		})
	}
	bc.Draw()
	return bc.View()
}

// chartLegend summarizes values for the line under the chart.
func chartLegend(values []float64, unit string, event bool) string {
	if len(values) == 0 {
		return ""
	}
	lo, hi, sum := values[0], values[0], 0.0
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
		sum += v
	}
	if event {
		unit = strings.TrimSpace(unit + "/s")
	}
	return fmt.Sprintf("min %s  mean %s  max %s %s",
		humanize(lo), humanize(sum/float64(len(values))), humanize(hi), unit)
}

func humanize(v float64) string {
	switch {
	case v >= 1e12:
		return fmt.Sprintf("%.1fT", v/1e12)
	case v >= 1e9:
		return fmt.Sprintf("%.1fG", v/1e9)
	case v >= 1e6:
		return fmt.Sprintf("%.1fM", v/1e6)
	case v >= 1e3:
		return fmt.Sprintf("%.1fk", v/1e3)
	default:
		return fmt.Sprintf("%.2f", v)
	}
}
