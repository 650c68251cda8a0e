package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/Sumatoshi-tech/streamvit/pkg/session"
)

const (
	chartWidth  = "100%"
	chartHeight = "520px"

	colorNodes   = "#5470c6"
	colorColumns = "#91cc75"
	colorPending = "#fac858"
)

// WriteChart renders forest nodes, trellis columns and pending steps per
// update as an HTML line chart. Convergence points are marked on the
// columns series.
func WriteChart(w io.Writer, title string, trace []session.StepTrace) error {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: chartWidth, Height: chartHeight}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("%d updates", len(trace)),
			Left:     "center",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(
			opts.DataZoom{Type: "slider", Start: 0, End: 100},
			opts.DataZoom{Type: "inside"},
		),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "count"}),
	)

	labels := make([]string, len(trace))
	nodes := make([]opts.LineData, len(trace))
	columns := make([]opts.LineData, len(trace))
	pending := make([]opts.LineData, len(trace))

	for i, s := range trace {
		labels[i] = strconv.Itoa(s.Time)
		nodes[i] = opts.LineData{Value: s.Nodes}
		columns[i] = opts.LineData{Value: s.Columns}
		pending[i] = opts.LineData{Value: s.Pending}

		if s.Converged {
			columns[i].Symbol = "diamond"
			columns[i].SymbolSize = 8
		}
	}

	line.SetXAxis(labels).
		AddSeries("forest nodes", nodes,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorNodes}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 2})).
		AddSeries("trellis columns", columns,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorColumns}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 2})).
		AddSeries("pending steps", pending,
			charts.WithItemStyleOpts(opts.ItemStyle{Color: colorPending}),
			charts.WithLineStyleOpts(opts.LineStyle{Width: 1, Type: "dashed"}))

	err := line.Render(w)
	if err != nil {
		return fmt.Errorf("render chart: %w", err)
	}

	return nil
}
