// Package config holds the experiment configuration: dataset and
// preprocessing parameters, model hyperparameters, and output options.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/herclab/quakecast/pkg/model"
)

// Config is the full set of knobs for one experiment run.
type Config struct {
	// General

	// Seed drives every random choice of a run: weight initialisation,
	// shuffling, synthetic data noise.
	Seed int64 `yaml:"seed"`
	// Device selects where training runs. Only "cpu" is supported.
	Device    string `yaml:"device"`
	Exp       string `yaml:"exp"`
	DataDir   string `yaml:"data_dir"`
	OutputDir string `yaml:"output_dir"`
	Record    bool   `yaml:"record"`
	Plot      bool   `yaml:"plot"`
	Progress  bool   `yaml:"progress"`
	LogLevel  string `yaml:"log_level"`

	// Preprocessing

	SmoothingWindow    int     `yaml:"smoothing_window"`
	DownsamplingFactor int     `yaml:"downsampling_factor"`
	SignificanceLevel  float64 `yaml:"significance_level"`
	Lookback           int     `yaml:"lookback"`
	Forecast           int     `yaml:"forecast"`
	Stride             int     `yaml:"stride"`
	NForecastWindows   int     `yaml:"n_forecast_windows"`
	NValidationWindows int     `yaml:"n_validation_windows"`
	// Purge drops ceil((lookback+forecast)/stride)-1 windows at every
	// partition boundary so no raw sample is shared between partitions.
	Purge bool `yaml:"purge"`

	// Model

	Model        string  `yaml:"model"`
	HiddenSize   int     `yaml:"hidden_size"`
	NLayers      int     `yaml:"n_layers"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`
	ClipNorm     float64 `yaml:"clip_norm"`
	KernelSize   int     `yaml:"kernel_size"`

	// Plotting

	PlotTitle  string  `yaml:"plot_title"`
	PlotXLabel string  `yaml:"plot_xlabel"`
	PlotYLabel string  `yaml:"plot_ylabel"`
	ZoomMin    float64 `yaml:"zoom_min"`
	ZoomMax    float64 `yaml:"zoom_max"`

	// Search

	// TrialID identifies the run within a hyperparameter search; -1 when
	// the run is standalone.
	TrialID int `yaml:"trial_id"`
}

// Default returns the configuration of the lab p4581 shear stress
// experiment.
func Default() Config {
	return Config{
		Seed:      17,
		Device:    "cpu",
		Exp:       "p4581",
		DataDir:   "data",
		OutputDir: "results",
		Record:    true,
		Plot:      true,
		Progress:  true,
		LogLevel:  "info",

		SmoothingWindow:    100,
		DownsamplingFactor: 10,
		SignificanceLevel:  0.05,
		Lookback:           20,
		Forecast:           5,
		Stride:             1,
		NForecastWindows:   50,

		Model:        "LSTM",
		HiddenSize:   50,
		NLayers:      1,
		Epochs:       50,
		LearningRate: 0.01,
		ClipNorm:     5,
		KernelSize:   2,

		PlotTitle:  "Original Time Series and Model Predictions of Segment 1 sum",
		PlotXLabel: "Time (days)",
		PlotYLabel: "Shear stress (MPa)",
		ZoomMin:    1800,
		ZoomMax:    2000,

		TrialID: -1,
	}
}

// Cascadia returns the configuration of the six segment Cascadia
// displacement potency experiment.
func Cascadia() Config {
	c := Default()
	c.Exp = "cascadia_1to6_seg"
	c.SmoothingWindow = 10
	c.DownsamplingFactor = 1
	c.Lookback = 300
	c.Forecast = 30
	c.NForecastWindows = 5
	c.NValidationWindows = 5
	c.HiddenSize = 50
	c.Epochs = 75
	c.PlotTitle = "Original Time Series and Model Predictions"
	c.PlotYLabel = "Displacement potency (m^3)"
	c.ZoomMin = 3200
	c.ZoomMax = 4000
	return c
}

// Preset returns the named preset.
func Preset(name string) (Config, error) {
	switch name {
	case "", "p4581":
		return Default(), nil
	case "cascadia":
		return Cascadia(), nil
	default:
		return Config{}, fmt.Errorf("unknown preset %q (expected p4581 or cascadia)", name)
	}
}

// Load overlays the YAML file at path onto base.
func Load(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	c := base
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Write stores c as YAML at path.
func Write(path string, c Config) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ModelKind parses the configured model name.
func (c Config) ModelKind() (model.Kind, error) {
	return model.ParseKind(c.Model)
}

// ModelParams returns the architecture hyperparameters for model.New.
func (c Config) ModelParams() model.Params {
	return model.Params{
		HiddenSize: c.HiddenSize,
		Layers:     c.NLayers,
		ClipNorm:   c.ClipNorm,
		KernelSize: c.KernelSize,
	}
}

// Validate checks values that have no meaningful interpretation. Whether
// the data is long enough is checked later by the pipeline itself.
func (c Config) Validate() error {
	if c.Device != "cpu" {
		return fmt.Errorf("device %q is not supported (only cpu)", c.Device)
	}
	if c.Exp == "" {
		return fmt.Errorf("exp must name a dataset")
	}
	if _, err := c.ModelKind(); err != nil {
		return err
	}
	checks := []struct {
		name  string
		value int
		min   int
	}{
		{"smoothing_window", c.SmoothingWindow, 1},
		{"downsampling_factor", c.DownsamplingFactor, 1},
		{"lookback", c.Lookback, 1},
		{"forecast", c.Forecast, 1},
		{"stride", c.Stride, 1},
		{"n_forecast_windows", c.NForecastWindows, 1},
		{"n_validation_windows", c.NValidationWindows, 0},
		{"epochs", c.Epochs, 1},
		{"kernel_size", c.KernelSize, 1},
	}
	for _, chk := range checks {
		if chk.value < chk.min {
			return fmt.Errorf("%s must be >= %d, got %d", chk.name, chk.min, chk.value)
		}
	}
	if c.SignificanceLevel <= 0 || c.SignificanceLevel >= 1 {
		return fmt.Errorf("significance_level must be in (0, 1), got %v", c.SignificanceLevel)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be positive, got %v", c.LearningRate)
	}
	if c.ZoomMax < c.ZoomMin {
		return fmt.Errorf("zoom_max %v is before zoom_min %v", c.ZoomMax, c.ZoomMin)
	}
	return nil
}
