package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showOccupancyChart renders a quick line chart (HTML) of the recent
// occupancy samples using go-echarts. This is a debugging-only endpoint
// (no auth) for eyeballing the counter behaviour without the dashboard.
// Query params:
//   - limit (optional; default 500) sample count
func (s *Server) showOccupancyChart(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "Event store not configured")
		return
	}

	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 10000 {
			limit = parsed
		}
	}

	samples, err := s.db.RecentSamples(limit)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get samples: %v", err))
		return
	}
	if len(samples) == 0 {
		s.writeJSONError(w, http.StatusNotFound, "no occupancy samples available")
		return
	}

	x := make([]string, 0, len(samples))
	occupancy := make([]opts.LineData, 0, len(samples))
	entries := make([]opts.LineData, 0, len(samples))
	exits := make([]opts.LineData, 0, len(samples))
	for _, sample := range samples {
		x = append(x, sample.Timestamp.Format("15:04:05"))
		occupancy = append(occupancy, opts.LineData{Value: sample.Occupancy})
		entries = append(entries, opts.LineData{Value: sample.Entries})
		exits = append(exits, opts.LineData{Value: sample.Exits})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Occupancy Over Time",
			Subtitle: fmt.Sprintf("samples=%d latest=%s", len(samples), samples[len(samples)-1].Timestamp.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)

	line.SetXAxis(x).
		AddSeries("occupancy", occupancy).
		AddSeries("entries", entries).
		AddSeries("exits", exits).
		SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
