package report

import (
	"io"
	"math"
	"os"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/herclab/quakecast/pkg/train"
)

const lineWidth = 2

// RenderHTML writes an interactive page with the RMSE and R2 curves of res.
func RenderHTML(w io.Writer, title string, res *train.Results) error {
	page := components.NewPage()
	page.PageTitle = title
	page.AddCharts(
		curveChart("RMSE", res.TrainRMSE, res.EvalRMSE, res.EvalSplit),
		curveChart("R2", res.TrainR2, res.EvalR2, res.EvalSplit),
	)
	return page.Render(w)
}

// WriteHTML writes metrics.html into the run directory.
func (r *Run) WriteHTML(title string, res *train.Results) error {
	f, err := os.Create(r.Path(HTMLFile))
	if err != nil {
		return err
	}
	if err := RenderHTML(f, title, res); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func curveChart(metric string, trainValues, evalValues []float64, evalName string) *charts.Line {
	labels := make([]string, len(trainValues))
	for i := range labels {
		labels[i] = strconv.Itoa(i + 1)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: metric + " per epoch"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Epoch"}),
		charts.WithYAxisOpts(opts.YAxis{Name: metric}),
	)
	line.SetXAxis(labels)
	line.AddSeries("train", lineData(trainValues),
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}))
	line.AddSeries(evalName, lineData(evalValues),
		charts.WithLineStyleOpts(opts.LineStyle{Width: lineWidth}))
	return line
}

// lineData marks non-finite values as gaps; they cannot be encoded as JSON.
func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: v}
	}
	return out
}
