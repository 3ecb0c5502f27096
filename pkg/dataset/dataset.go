// Package dataset resolves experiment identifiers into raw time series.
package dataset

import (
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"

	"github.com/herclab/quakecast/pkg/series"
	"github.com/herclab/quakecast/pkg/wavegen"
)

// CascadiaScale converts cascadia displacement potency to the units the
// experiments are run in.
const CascadiaScale = 1e-8

// Options configures how identifiers are resolved.
type Options struct {
	// DataDir holds the exported experiment CSV files.
	DataDir string

	// Rand seeds synthetic datasets.
	Rand *rand.Rand
}

// LoaderFunc produces the series for one dataset.
type LoaderFunc func(opts Options) (*series.Series, error)

var registry = map[string]LoaderFunc{
	"p4581":              loadLab("p4581"),
	"b698":               loadLab("b698"),
	"cascadia_1to6_seg":  loadCascadia(1, 6),
	"synthetic":          loadSynthetic(1),
	"synthetic_segments": loadSynthetic(6),
}

// Register adds or replaces a named dataset.
func Register(name string, fn LoaderFunc) {
	registry[name] = fn
}

// Names lists the registered dataset identifiers.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ErrInvalidData is returned when a dataset is malformed or holds NaN or Inf
// values.
var ErrInvalidData = errors.New("invalid dataset")

// Load resolves id. Besides the registered names, "csv:<path>" loads every
// column of a CSV file except a "t" or "time" column, which becomes the time
// index, and "json:<path>" reads a series with series.ReadJSON.
func Load(id string, opts Options) (*series.Series, error) {
	s, err := resolve(id, opts)
	if err != nil {
		return nil, fmt.Errorf("loading dataset %s: %w", id, err)
	}
	if s == nil {
		return nil, fmt.Errorf("loading dataset %s: %w: no series", id, ErrInvalidData)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("loading dataset %s: %w: %v", id, ErrInvalidData, err)
	}
	if s.HasNaN() {
		return nil, fmt.Errorf("loading dataset %s: %w: contains NaN or Inf values", id, ErrInvalidData)
	}
	return s, nil
}

func resolve(id string, opts Options) (*series.Series, error) {
	if path, ok := strings.CutPrefix(id, "csv:"); ok {
		return loadGenericCSV(path)
	}
	if path, ok := strings.CutPrefix(id, "json:"); ok {
		return series.ReadJSON(path)
	}
	fn, ok := registry[id]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (known: %s, csv:<path> or json:<path>)", id, strings.Join(Names(), ", "))
	}
	return fn(opts)
}

// loadLab reads a biaxial lab experiment export: a time column and the
// observed shear stress.
func loadLab(name string) LoaderFunc {
	return func(opts Options) (*series.Series, error) {
		return series.LoadCSV(filepath.Join(opts.DataDir, name+".csv"), series.CSVOptions{
			TimeColumn:   "time",
			ValueColumns: []string{"obs_shear_stress"},
		})
	}
}

// loadCascadia merges the per-segment GPS inversions cascadia_<i>_seg.csv
// (columns t and X) into one channel per segment.
func loadCascadia(first, last int) LoaderFunc {
	return func(opts Options) (*series.Series, error) {
		out := &series.Series{}
		for i := first; i <= last; i++ {
			path := filepath.Join(opts.DataDir, fmt.Sprintf("cascadia_%d_seg.csv", i))
			seg, err := series.LoadCSV(path, series.CSVOptions{
				TimeColumn:   "t",
				ValueColumns: []string{"X"},
			})
			if err != nil {
				return nil, err
			}
			if out.T == nil {
				out.T = seg.T
			} else if err := sameIndex(out.T, seg.T); err != nil {
				return nil, fmt.Errorf("segment %d: %w", i, err)
			}
			out.Channels = append(out.Channels, seg.Channels[0])
			out.Names = append(out.Names, fmt.Sprintf("seg_%d_avg", i))
		}
		out.Scale(CascadiaScale)
		return out, out.Validate()
	}
}

func sameIndex(a, b []float64) error {
	if len(a) != len(b) {
		return fmt.Errorf("time index has %d samples, expected %d", len(b), len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			return fmt.Errorf("time index differs at sample %d", i)
		}
	}
	return nil
}

func loadSynthetic(channels int) LoaderFunc {
	return func(opts Options) (*series.Series, error) {
		rng := opts.Rand
		if rng == nil {
			rng = rand.New(rand.NewSource(1))
		}
		w := wavegen.DefaultParameters()
		w.Channels = channels
		return w.GenerateSyntheticData(rng)
	}
}

func loadGenericCSV(path string) (*series.Series, error) {
	for _, col := range []string{"time", "t"} {
		s, err := series.LoadCSV(path, series.CSVOptions{TimeColumn: col})
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, series.ErrColumnNotFound) {
			return nil, err
		}
	}
	return series.LoadCSV(path, series.CSVOptions{})
}
