package pipeline

import (
	"context"

	"github.com/herclab/quakecast/internal/config"
	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/preprocess"
	"github.com/herclab/quakecast/pkg/report"
	"github.com/herclab/quakecast/pkg/train"
)

// TrialResult is everything a finished run produced.
type TrialResult struct {
	TrialID    int                   `yaml:"trial_id"`
	Config     config.Config         `yaml:"config"`
	Results    *train.Results        `yaml:"results"`
	Metrics    report.MetricsRecord  `yaml:"metrics"`
	Comparison preprocess.Comparison `yaml:"comparison"`

	// RunDir is empty when neither recording nor plotting was enabled.
	RunDir string `yaml:"run_dir,omitempty"`

	Model model.Model `yaml:"-"`
}

// TrialHook is called at the end of every successful run. A search driver
// uses it to collect results and release memory between trials.
type TrialHook interface {
	OnTrialEnd(ctx context.Context, trial *TrialResult) error
}

// HookFunc adapts a function to TrialHook.
type HookFunc func(ctx context.Context, trial *TrialResult) error

// OnTrialEnd implements TrialHook.
func (f HookFunc) OnTrialEnd(ctx context.Context, trial *TrialResult) error {
	return f(ctx, trial)
}
