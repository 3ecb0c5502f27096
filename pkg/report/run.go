// Package report persists the artifacts of a run: model weights, metadata,
// metrics and plots.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/series"
	"github.com/herclab/quakecast/pkg/train"
)

// Artifact file names inside a run directory.
const (
	ModelFile    = "model.json"
	MetadataFile = "metadata.yaml"
	ResultsFile  = "results.yaml"
	MetricsFile  = "metrics.yaml"
	HTMLFile     = "metrics.html"
	SeriesFile   = "smoothed.csv"

	AllDataPlot = "all_data.png"
	ZoomPlot    = "zoom.png"
	RMSEPlot    = "rmse.png"
	R2Plot      = "r2.png"
)

const timestampLayout = "20060102-150405"

// Run is one output directory.
type Run struct {
	ID      string
	Dir     string
	Created time.Time
}

// NewRun creates <outputDir>/<modelName>_<dataset>_<timestamp>_<shortid>.
func NewRun(outputDir, modelName, dataset string, now time.Time) (*Run, error) {
	id := uuid.New().String()
	dir := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%s_%s",
		modelName, sanitize(dataset), now.Format(timestampLayout), id[:8]))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Run{ID: id, Dir: dir, Created: now}, nil
}

// Path returns the path of the named artifact.
func (r *Run) Path(name string) string {
	return filepath.Join(r.Dir, name)
}

// SaveModel writes the model weights and the run metadata.
func (r *Run) SaveModel(m model.Model, metadata any) error {
	f, err := os.Create(r.Path(ModelFile))
	if err != nil {
		return err
	}
	if err := model.Save(f, m); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return r.WriteYAML(MetadataFile, metadata)
}

// SaveResults writes the training curves and test predictions.
func (r *Run) SaveResults(res *train.Results) error {
	return r.WriteYAML(ResultsFile, res)
}

// SaveSeries writes the series the model was trained on. The file loads
// back as the dataset csv:<path>.
func (r *Run) SaveSeries(s *series.Series) error {
	f, err := os.Create(r.Path(SeriesFile))
	if err != nil {
		return err
	}
	if err := series.WriteCSV(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteYAML encodes v into the named artifact.
func (r *Run) WriteYAML(name string, v any) error {
	return WriteYAML(r.Path(name), v)
}

// WriteYAML encodes v into path.
func WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadYAML decodes path into v.
func ReadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// sanitize keeps dataset ids such as csv:/tmp/x.csv usable in a path.
func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '_'
		}
	}
	return string(out)
}
