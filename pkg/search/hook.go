// Package search drives random hyperparameter search over the pipeline.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"

	"github.com/herclab/quakecast/pkg/pipeline"
	"github.com/herclab/quakecast/pkg/report"
)

// FileHook serializes every finished trial to results_<trial>.yaml and
// releases the memory the trial held.
type FileHook struct {
	Dir string
}

// NewFileHook creates a hook writing into a fresh temporary directory.
func NewFileHook() (*FileHook, error) {
	dir, err := os.MkdirTemp("", "quakecast-search-")
	if err != nil {
		return nil, err
	}
	return &FileHook{Dir: dir}, nil
}

// Path returns the bundle path of a trial.
func (h *FileHook) Path(trialID int) string {
	return filepath.Join(h.Dir, fmt.Sprintf("results_%d.yaml", trialID))
}

// OnTrialEnd implements pipeline.TrialHook.
func (h *FileHook) OnTrialEnd(_ context.Context, trial *pipeline.TrialResult) error {
	if err := report.WriteYAML(h.Path(trial.TrialID), trial); err != nil {
		return err
	}
	trial.Model = nil
	runtime.GC()
	debug.FreeOSMemory()
	return nil
}

// Cleanup removes the bundle directory.
func (h *FileHook) Cleanup() error {
	return os.RemoveAll(h.Dir)
}

// ReadTrial loads a bundle written by FileHook.
func ReadTrial(path string) (*pipeline.TrialResult, error) {
	trial := &pipeline.TrialResult{}
	if err := report.ReadYAML(path, trial); err != nil {
		return nil, err
	}
	if trial.Results == nil {
		return nil, fmt.Errorf("%s: bundle has no results", path)
	}
	return trial, nil
}
