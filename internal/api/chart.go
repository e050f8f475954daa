package api

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// handleFuelChart renders the monthly fuel overview as a self-contained
// ECharts page: fuel cost and liters as bars, track distance as a line on
// a secondary axis. Months come out of storage newest first, so reverse
// them for a left-to-right timeline.
func (s *Server) handleFuelChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats, err := s.db.MonthlyFuelStats()
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load fuel stats: %v", err), http.StatusInternalServerError)
		return
	}

	months := make([]string, 0, len(stats))
	cost := make([]opts.BarData, 0, len(stats))
	liters := make([]opts.BarData, 0, len(stats))
	dist := make([]opts.LineData, 0, len(stats))
	for i := len(stats) - 1; i >= 0; i-- {
		st := stats[i]
		months = append(months, st.Month)
		cost = append(cost, opts.BarData{Value: floatOrZero(st.Cost)})
		liters = append(liters, opts.BarData{Value: floatOrZero(st.Liters)})
		dist = append(dist, opts.LineData{Value: floatOrZero(st.DistM) / 1000.0})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Fuel by Month", Width: "100%", Height: "640px"}),
		charts.WithTitleOpts(opts.Title{Title: "Fuel by Month", Subtitle: fmt.Sprintf("last %d months", len(stats))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.ExtendYAxis(opts.YAxis{Name: "km", Type: "value"})
	bar.SetXAxis(months).
		AddSeries("cost (EUR)", cost).
		AddSeries("liters", liters)

	line := charts.NewLine()
	line.SetXAxis(months).
		AddSeries("distance (km)", dist,
			charts.WithLineChartOpts(opts.LineChart{YAxisIndex: 1, Smooth: opts.Bool(true)}),
		)
	bar.Overlap(line)

	page := components.NewPage()
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		http.Error(w, fmt.Sprintf("render error: %v", err), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func floatOrZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
