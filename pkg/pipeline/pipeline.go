// Package pipeline runs one experiment end to end: load, smooth, gate,
// window, split, normalize, train and report.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/herclab/quakecast/internal/config"
	"github.com/herclab/quakecast/pkg/dataset"
	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/preprocess"
	"github.com/herclab/quakecast/pkg/report"
	"github.com/herclab/quakecast/pkg/series"
	"github.com/herclab/quakecast/pkg/train"
)

// ErrStatisticalMismatch is returned when the smoothed series no longer
// follows the distribution of the raw one. It aborts the run before any
// model is built.
var ErrStatisticalMismatch = errors.New("smoothed series is statistically incompatible with the original")

// Metadata is written next to the model weights.
type Metadata struct {
	RunID      string                `yaml:"run_id"`
	Created    time.Time             `yaml:"created"`
	Model      model.Kind            `yaml:"model"`
	Shape      model.Shape           `yaml:"shape"`
	RawSamples int                   `yaml:"raw_samples"`
	Samples    int                   `yaml:"samples"`
	Windows    int                   `yaml:"windows"`
	Train      preprocess.Range      `yaml:"train"`
	Validation preprocess.Range      `yaml:"validation"`
	Test       preprocess.Range      `yaml:"test"`
	Gap        int                   `yaml:"gap"`
	ScalerX    *preprocess.Scaler    `yaml:"scaler_x"`
	ScalerY    *preprocess.Scaler    `yaml:"scaler_y"`
	Comparison preprocess.Comparison `yaml:"comparison"`
	Config     config.Config         `yaml:"config"`
}

// Runner executes experiments.
type Runner struct {
	Logger *zap.SugaredLogger

	// Out receives the summary table; nothing is printed when nil.
	Out io.Writer

	// Hook is told about every finished run.
	Hook TrialHook

	// Now stamps run directories, time.Now when nil.
	Now func() time.Time
}

// Run executes the experiment described by cfg.
func (r *Runner) Run(ctx context.Context, cfg config.Config) (*TrialResult, error) {
	log := r.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	kind, err := cfg.ModelKind()
	if err != nil {
		return nil, err
	}
	if cfg.TrialID >= 0 {
		// search trials only report back through the hook
		cfg.Record = false
		cfg.Plot = false
	}
	log = log.With("exp", cfg.Exp, "model", kind)
	if cfg.TrialID >= 0 {
		log = log.With("trial", cfg.TrialID)
	}

	rng := rand.New(rand.NewSource(cfg.Seed))

	raw, err := dataset.Load(cfg.Exp, dataset.Options{DataDir: cfg.DataDir, Rand: rng})
	if err != nil {
		return nil, err
	}
	log.Infow("dataset loaded", "samples", raw.Size(), "channels", raw.NumChannels())

	smoothed, err := preprocess.Smooth(raw, cfg.SmoothingWindow, cfg.DownsamplingFactor)
	if err != nil {
		return nil, err
	}

	cmp, err := preprocess.CompareStatistics(raw, smoothed, cfg.SignificanceLevel)
	if err != nil {
		return nil, err
	}
	for _, ch := range cmp.Channels {
		log.Debugw("ks test", "channel", ch.Channel, "statistic", ch.Statistic, "p", ch.PValue)
	}
	if !cmp.Compatible {
		return nil, fmt.Errorf("%w: %s", ErrStatisticalMismatch, describeMismatch(cmp))
	}
	log.Infow("series smoothed", "samples", smoothed.Size(),
		"window", cfg.SmoothingWindow, "factor", cfg.DownsamplingFactor)

	x, y, err := preprocess.MakeWindows(smoothed, cfg.Lookback, cfg.Forecast, cfg.Stride)
	if err != nil {
		return nil, err
	}

	opts := preprocess.SplitOptions{
		Forecast:   cfg.Forecast,
		Test:       cfg.NForecastWindows,
		Validation: cfg.NValidationWindows,
	}
	if cfg.Purge {
		opts.Gap = preprocess.PurgeGap(cfg.Lookback, cfg.Forecast, cfg.Stride)
	}
	split, err := preprocess.SplitWindows(x, y, opts)
	if err != nil {
		return nil, err
	}
	log.Infow("windows split",
		"windows", x.Windows,
		"train", split.Train.Len(),
		"validation", split.Val.Len(),
		"test", split.Test.Len(),
		"gap", split.Gap)

	ds, err := preprocess.Normalize(split)
	if err != nil {
		return nil, err
	}

	shape := model.Shape{Lookback: cfg.Lookback, Forecast: cfg.Forecast, Channels: smoothed.NumChannels()}
	m, err := model.New(kind, shape, cfg.ModelParams(), rng)
	if err != nil {
		return nil, err
	}

	loop := &train.Loop{
		Epochs:       cfg.Epochs,
		LearningRate: cfg.LearningRate,
		Rand:         rng,
		Logger:       log,
		Progress:     cfg.Progress,
	}
	res, err := loop.Run(ctx, m, ds)
	if err != nil {
		return nil, err
	}

	truth := ds.ScalerY.Inverse(ds.YTest)
	rec, err := report.RecordMetrics(train.SplitTest, rowsTensor(res.TestPred, cfg.Forecast, shape.Channels), truth, smoothed.Names)
	if err != nil {
		return nil, err
	}

	trial := &TrialResult{
		TrialID:    cfg.TrialID,
		Config:     cfg,
		Results:    res,
		Metrics:    rec,
		Comparison: cmp,
		Model:      m,
	}

	if cfg.Record || cfg.Plot {
		now := time.Now
		if r.Now != nil {
			now = r.Now
		}
		run, err := report.NewRun(cfg.OutputDir, kind.String(), cfg.Exp, now())
		if err != nil {
			return nil, err
		}
		trial.RunDir = run.Dir

		if cfg.Record {
			meta := Metadata{
				RunID:      run.ID,
				Created:    run.Created,
				Model:      kind,
				Shape:      shape,
				RawSamples: raw.Size(),
				Samples:    smoothed.Size(),
				Windows:    x.Windows,
				Train:      split.Train,
				Validation: split.Val,
				Test:       split.Test,
				Gap:        split.Gap,
				ScalerX:    ds.ScalerX,
				ScalerY:    ds.ScalerY,
				Comparison: cmp,
				Config:     cfg,
			}
			if err := record(run, m, meta, smoothed, res, rec); err != nil {
				return nil, err
			}
		}
		if cfg.Plot {
			fc := report.Forecast{
				Series:  smoothed,
				Targets: targets(split.Test, cfg.Stride, cfg.Lookback),
				Pred:    res.TestPred,
			}
			if err := plot(run, cfg, fc, res, log); err != nil {
				return nil, err
			}
		}
		log.Infow("artifacts written", "dir", run.Dir)
	}

	if r.Out != nil {
		title := fmt.Sprintf("%v on %s", kind, cfg.Exp)
		fmt.Fprintln(r.Out, report.Summary(title, res, rec))
	}

	if r.Hook != nil {
		if err := r.Hook.OnTrialEnd(ctx, trial); err != nil {
			return nil, fmt.Errorf("trial hook: %w", err)
		}
	}
	return trial, nil
}

func record(run *report.Run, m model.Model, meta Metadata, s *series.Series, res *train.Results, rec report.MetricsRecord) error {
	if err := run.SaveModel(m, meta); err != nil {
		return err
	}
	if err := run.SaveSeries(s); err != nil {
		return err
	}
	if err := run.SaveResults(res); err != nil {
		return err
	}
	return run.RecordMetrics(rec)
}

func plot(run *report.Run, cfg config.Config, fc report.Forecast, res *train.Results, log *zap.SugaredLogger) error {
	po := report.PlotOptions{Title: cfg.PlotTitle, XLabel: cfg.PlotXLabel, YLabel: cfg.PlotYLabel}
	channels := fc.Series.NumChannels()
	for c := 0; c < channels; c++ {
		if err := report.PlotAll(run.Path(channelFile(report.AllDataPlot, fc.Series, c)), po, fc, c); err != nil {
			return err
		}
		if cfg.ZoomMax > cfg.ZoomMin {
			err := report.PlotZoom(run.Path(channelFile(report.ZoomPlot, fc.Series, c)), po, fc, c, cfg.ZoomMin, cfg.ZoomMax)
			if err != nil {
				log.Warnw("zoom plot skipped", "error", err)
			}
		}
	}
	if err := report.PlotCurves(run.Path(report.RMSEPlot), "RMSE", res.TrainRMSE, res.EvalRMSE, res.EvalSplit); err != nil {
		return err
	}
	if err := report.PlotCurves(run.Path(report.R2Plot), "R2", res.TrainR2, res.EvalR2, res.EvalSplit); err != nil {
		return err
	}
	return run.WriteHTML(fmt.Sprintf("%s %s", cfg.Model, cfg.Exp), res)
}

// channelFile inserts the channel name into base for multi-channel series.
func channelFile(base string, s *series.Series, c int) string {
	if s.NumChannels() == 1 {
		return base
	}
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + "_" + s.Name(c) + ext
}

// targets maps every window of r to the series index of its first forecast
// step.
func targets(r preprocess.Range, stride, lookback int) []int {
	out := make([]int, 0, r.Len())
	for w := r.From; w < r.To; w++ {
		out = append(out, w*stride+lookback)
	}
	return out
}

func rowsTensor(rows [][]float64, steps, channels int) *preprocess.Tensor {
	t := preprocess.NewTensor(len(rows), steps, channels)
	for i, row := range rows {
		copy(t.Window(i), row)
	}
	return t
}

func describeMismatch(cmp preprocess.Comparison) string {
	var failed []string
	for _, ch := range cmp.Channels {
		if ch.PValue <= cmp.Alpha {
			failed = append(failed, fmt.Sprintf("%s (D=%.3g, p=%.3g)", ch.Channel, ch.Statistic, ch.PValue))
		}
	}
	return fmt.Sprintf("KS test rejected at alpha=%g for %s; use a smaller smoothing_window or downsampling_factor",
		cmp.Alpha, strings.Join(failed, ", "))
}
