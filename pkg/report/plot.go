package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/herclab/quakecast/pkg/series"
)

// PlotOptions are the labels shared by every plot of a run.
type PlotOptions struct {
	Title  string
	XLabel string
	YLabel string
}

// Forecast ties test predictions back to the series the windows were cut
// from.
type Forecast struct {
	Series *series.Series

	// Targets[i] is the index in Series of the first forecast step of
	// window i.
	Targets []int

	// Pred[i] is the flattened [step][channel] forecast of window i in
	// physical units.
	Pred [][]float64
}

// Samples returns the forecast curve of channel c: the first step of every
// window, then the remaining horizon of the last window.
func (f Forecast) Samples(c int) series.SampleList {
	channels := f.Series.NumChannels()
	var out series.SampleList
	for i, start := range f.Targets {
		steps := len(f.Pred[i]) / channels
		last := 1
		if i == len(f.Targets)-1 {
			last = steps
		}
		for k := 0; k < last && start+k < f.Series.Size(); k++ {
			out = append(out, series.Sample{T: f.Series.T[start+k], S: f.Pred[i][k*channels+c]})
		}
	}
	return out
}

// PlotAll draws channel c of the whole series with the test forecast on top.
func PlotAll(path string, po PlotOptions, f Forecast, c int) error {
	return plotSeries(path, po, f.Series.Samples(c), f.Samples(c), f.Series.Name(c))
}

// PlotZoom is PlotAll restricted to the time range [from, to].
func PlotZoom(path string, po PlotOptions, f Forecast, c int, from, to float64) error {
	if to <= from {
		return fmt.Errorf("empty zoom range [%g, %g]", from, to)
	}
	lo := f.Series.NearestIndex(from, true)
	hi := f.Series.NearestIndex(to, false)
	if hi < lo {
		return fmt.Errorf("zoom range [%g, %g] holds no samples", from, to)
	}
	truth := f.Series.Slice(lo, hi+1).Samples(c)

	var pred series.SampleList
	for _, s := range f.Samples(c) {
		if s.T >= from && s.T <= to {
			pred = append(pred, s)
		}
	}
	po.Title = fmt.Sprintf("%s [%g, %g]", po.Title, from, to)
	return plotSeries(path, po, truth, pred, f.Series.Name(c))
}

func plotSeries(path string, po PlotOptions, truth, pred series.SampleList, name string) error {
	p := plot.New()
	p.Title.Text = po.Title
	p.X.Label.Text = po.XLabel
	p.Y.Label.Text = po.YLabel
	p.Add(plotter.NewGrid())

	data, err := plotter.NewLine(truth)
	if err != nil {
		return err
	}
	data.Color = color.RGBA{R: 120, G: 120, B: 120, A: 255}
	p.Add(data)
	p.Legend.Add(name, data)

	if len(pred) > 0 {
		line, err := plotter.NewLine(pred)
		if err != nil {
			return err
		}
		line.Color = color.RGBA{R: 200, G: 30, B: 30, A: 255}
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add("prediction", line)
	}
	p.Legend.Top = true

	return p.Save(10*vg.Inch, 6*vg.Inch, path)
}

// PlotCurves draws per-epoch train and eval values of one metric.
func PlotCurves(path, metric string, train, eval []float64, evalName string) error {
	p := plot.New()
	p.Title.Text = metric + " per epoch"
	p.X.Label.Text = "Epoch"
	p.Y.Label.Text = metric

	err := plotutil.AddLinePoints(p,
		"train", epochs(train),
		evalName, epochs(eval))
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}

// epochs skips non-finite values, which plotter rejects.
func epochs(values []float64) plotter.XYs {
	xys := make(plotter.XYs, 0, len(values))
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		xys = append(xys, plotter.XY{X: float64(i + 1), Y: v})
	}
	return xys
}
