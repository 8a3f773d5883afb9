package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/people.counter/internal/httputil"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// occupancyChart renders the current-count series of a session as an HTML
// step chart using go-echarts.
func (s *Server) occupancyChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := httputil.QueryInt(r, "limit", 5000, 1)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	series, err := s.db.CountSeries(id, limit)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve count series: "+err.Error())
		return
	}
	summary, err := s.db.DurationSummary(id)
	if err != nil {
		httputil.InternalServerError(w, "Failed to retrieve durations: "+err.Error())
		return
	}

	x := make([]string, 0, len(series))
	y := make([]opts.LineData, 0, len(series))
	for _, p := range series {
		x = append(x, strconv.FormatFloat(p.Timestamp, 'f', 2, 64))
		y = append(y, opts.LineData{Value: p.Count})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Occupancy", Width: "100%", Height: "600px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "People in view",
			Subtitle: fmt.Sprintf("session=%s samples=%d visits=%d mean dwell=%.1fs", id, len(series), summary.Count, summary.Mean),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "t (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count", Min: 0}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(x).AddSeries("count", y, charts.WithLineChartOpts(opts.LineChart{Step: "end"}))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
