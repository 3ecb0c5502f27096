package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/cheggaaa/pb/v3"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"

	"github.com/herclab/quakecast/internal/config"
	"github.com/herclab/quakecast/pkg/dataset"
	"github.com/herclab/quakecast/pkg/pipeline"
	"github.com/herclab/quakecast/pkg/preprocess"
)

// Space bounds the sampled hyperparameters.
type Space struct {
	HiddenSizes []int
	Layers      []int

	// LearningRate is sampled log-uniformly in [MinLearningRate, MaxLearningRate].
	MinLearningRate float64
	MaxLearningRate float64
}

// DefaultSpace is the search space used by the CLI.
func DefaultSpace() Space {
	return Space{
		HiddenSizes:     []int{16, 32, 50, 64, 128},
		Layers:          []int{1, 2},
		MinLearningRate: 1e-4,
		MaxLearningRate: 1e-1,
	}
}

func (s Space) validate() error {
	if len(s.HiddenSizes) == 0 || len(s.Layers) == 0 {
		return fmt.Errorf("search space needs at least one hidden size and layer count")
	}
	if s.MinLearningRate <= 0 || s.MaxLearningRate < s.MinLearningRate {
		return fmt.Errorf("bad learning rate range [%g, %g]", s.MinLearningRate, s.MaxLearningRate)
	}
	return nil
}

func (s Space) sample(rng *rand.Rand, cfg *config.Config) {
	cfg.HiddenSize = s.HiddenSizes[rng.Intn(len(s.HiddenSizes))]
	cfg.NLayers = s.Layers[rng.Intn(len(s.Layers))]
	lo, hi := math.Log(s.MinLearningRate), math.Log(s.MaxLearningRate)
	cfg.LearningRate = math.Exp(lo + rng.Float64()*(hi-lo))
}

// Trial summarizes one sampled configuration.
type Trial struct {
	ID           int
	HiddenSize   int
	Layers       int
	LearningRate float64

	// Objective is the lowest per-epoch eval RMSE; +Inf for failed
	// trials.
	Objective float64
	Err       error
}

// Outcome is the result of a study.
type Outcome struct {
	StudyID string
	Trials  []Trial

	// BundleDir holds the per-trial result files when they were kept.
	BundleDir string

	// Best indexes Trials, -1 when every trial failed.
	Best int
}

// BestTrial returns the winning trial.
func (o *Outcome) BestTrial() (Trial, bool) {
	if o.Best < 0 {
		return Trial{}, false
	}
	return o.Trials[o.Best], true
}

// Study runs Trials pipeline runs with sampled hyperparameters on top of
// Base and keeps the one with the lowest eval RMSE at any epoch.
type Study struct {
	Base   config.Config
	Space  Space
	Trials int

	// Rand samples the hyperparameters; every trial trains with Base.Seed.
	Rand   *rand.Rand
	Logger *zap.SugaredLogger

	// Progress draws a trial progress bar on ProgressOutput, stderr when
	// nil.
	Progress       bool
	ProgressOutput io.Writer

	// KeepBundles leaves the per-trial result files on disk.
	KeepBundles bool
}

// Run executes the study.
func (s *Study) Run(ctx context.Context) (*Outcome, error) {
	if s.Trials < 1 {
		return nil, fmt.Errorf("a study needs at least one trial, got %d", s.Trials)
	}
	if err := s.Space.validate(); err != nil {
		return nil, err
	}
	rng := s.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(s.Base.Seed))
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	hook, err := NewFileHook()
	if err != nil {
		return nil, err
	}
	if !s.KeepBundles {
		defer hook.Cleanup()
	}

	out := &Outcome{StudyID: uuid.New().String(), Best: -1}
	if s.KeepBundles {
		out.BundleDir = hook.Dir
	}
	log = log.With("study", out.StudyID)
	log.Infow("study started", "trials", s.Trials, "bundles", hook.Dir)

	var bar *pb.ProgressBar
	if s.Progress {
		w := s.ProgressOutput
		if w == nil {
			w = os.Stderr
		}
		bar = pb.New(s.Trials).SetWriter(w)
		bar.Set("prefix", "trials ")
		bar.Start()
		defer bar.Finish()
	}

	runner := &pipeline.Runner{Logger: log, Hook: hook}
	for i := 0; i < s.Trials; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		cfg := s.Base
		cfg.TrialID = i
		cfg.Progress = false
		s.Space.sample(rng, &cfg)
		trial := Trial{
			ID:           i,
			HiddenSize:   cfg.HiddenSize,
			Layers:       cfg.NLayers,
			LearningRate: cfg.LearningRate,
			Objective:    math.Inf(1),
		}

		if _, err := runner.Run(ctx, cfg); err != nil {
			if fatal(err) {
				return nil, err
			}
			log.Warnw("trial failed", "trial", i, "error", err)
			trial.Err = err
		} else if bundle, err := ReadTrial(hook.Path(i)); err != nil {
			trial.Err = err
		} else {
			trial.Objective = bundle.Results.BestEvalRMSE()
		}

		out.Trials = append(out.Trials, trial)
		if trial.Err == nil && (out.Best < 0 || trial.Objective < out.Trials[out.Best].Objective) {
			out.Best = len(out.Trials) - 1
		}
		if bar != nil {
			bar.Increment()
		}
	}

	if best, ok := out.BestTrial(); ok {
		log.Infow("study finished",
			"best_trial", best.ID,
			"objective", best.Objective,
			"hidden_size", best.HiddenSize,
			"n_layers", best.Layers,
			"learning_rate", best.LearningRate)
	} else {
		log.Warnw("study finished without a successful trial")
	}
	return out, nil
}

// fatal reports errors that depend only on the data and the base
// configuration, so every other trial would fail the same way.
func fatal(err error) bool {
	return errors.Is(err, pipeline.ErrStatisticalMismatch) ||
		errors.Is(err, dataset.ErrInvalidData) ||
		errors.Is(err, preprocess.ErrInsufficientData) ||
		errors.Is(err, preprocess.ErrDegenerateScale) ||
		errors.Is(err, preprocess.ErrNonFinite) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Table renders the trials of o, the best one marked with a star.
func (o *Outcome) Table() string {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("study " + o.StudyID[:8])
	tbl.AppendHeader(table.Row{"trial", "hidden", "layers", "lr", "eval RMSE", ""})
	for i, t := range o.Trials {
		mark := ""
		if i == o.Best {
			mark = "*"
		}
		objective := fmt.Sprintf("%.4g", t.Objective)
		if t.Err != nil {
			objective = "failed"
		}
		tbl.AppendRow(table.Row{t.ID, t.HiddenSize, t.Layers, fmt.Sprintf("%.3g", t.LearningRate), objective, mark})
	}
	return tbl.Render()
}
