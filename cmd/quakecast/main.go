package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"

	"github.com/akamensky/argparse"
	"go.uber.org/zap"

	"github.com/herclab/quakecast/internal/config"
	"github.com/herclab/quakecast/internal/logging"
	"github.com/herclab/quakecast/pkg/dataset"
	"github.com/herclab/quakecast/pkg/pipeline"
	"github.com/herclab/quakecast/pkg/search"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitMismatch = 2
)

// flags are the options shared by every command. Zero or negative values
// mean "keep the configured value".
type flags struct {
	preset     *string
	configFile *string
	dumpConfig *string
	exp        *string
	dataDir    *string
	outputDir  *string
	model      *string
	seed       *int
	lookback   *int
	forecast   *int
	stride     *int
	nTest      *int
	nVal       *int
	smoothing  *int
	factor     *int
	hidden     *int
	layers     *int
	epochs     *int
	lr         *float64
	alpha      *float64
	purge      *bool
	noRecord   *bool
	noPlot     *bool
	quiet      *bool
	logLevel   *string
	logJSON    *bool
}

func addFlags(cmd *argparse.Command) *flags {
	return &flags{
		preset:     cmd.Selector("p", "preset", []string{"p4581", "cascadia"}, &argparse.Options{Default: "p4581", Help: "Experiment preset to start from."}),
		configFile: cmd.String("c", "config", &argparse.Options{Help: "YAML file overlaid on the preset."}),
		dumpConfig: cmd.String("", "dump-config", &argparse.Options{Help: "Write the effective configuration to this file."}),
		exp:        cmd.String("e", "exp", &argparse.Options{Help: fmt.Sprintf("Dataset id (%v, csv:<path> or json:<path>).", dataset.Names())}),
		dataDir:    cmd.String("d", "data-dir", &argparse.Options{Help: "Directory holding the experiment CSV files."}),
		outputDir:  cmd.String("o", "output-dir", &argparse.Options{Help: "Directory receiving run directories."}),
		model:      cmd.Selector("m", "model", []string{"LSTM", "TCN", "MLP", "Linear", "Persistence"}, &argparse.Options{Help: "Model kind."}),
		seed:       cmd.Int("s", "seed", &argparse.Options{Default: -1, Help: "Random seed."}),
		lookback:   cmd.Int("", "lookback", &argparse.Options{Help: "Input window length."}),
		forecast:   cmd.Int("", "forecast", &argparse.Options{Help: "Forecast horizon."}),
		stride:     cmd.Int("", "stride", &argparse.Options{Help: "Samples between consecutive windows."}),
		nTest:      cmd.Int("", "n-forecast-windows", &argparse.Options{Help: "Windows in the test partition."}),
		nVal:       cmd.Int("", "n-validation-windows", &argparse.Options{Default: -1, Help: "Windows in the validation partition."}),
		smoothing:  cmd.Int("", "smoothing-window", &argparse.Options{Help: "Moving average window in raw samples."}),
		factor:     cmd.Int("", "downsampling-factor", &argparse.Options{Help: "Keep every n-th smoothed sample."}),
		hidden:     cmd.Int("", "hidden-size", &argparse.Options{Help: "Hidden units per layer."}),
		layers:     cmd.Int("", "n-layers", &argparse.Options{Help: "Number of hidden layers."}),
		epochs:     cmd.Int("", "epochs", &argparse.Options{Help: "Training epochs."}),
		lr:         cmd.Float("", "learning-rate", &argparse.Options{Help: "SGD step size."}),
		alpha:      cmd.Float("", "significance-level", &argparse.Options{Help: "KS test significance level."}),
		purge:      cmd.Flag("", "purge", &argparse.Options{Help: "Drop windows at partition boundaries so no raw sample is shared."}),
		noRecord:   cmd.Flag("", "no-record", &argparse.Options{Help: "Do not save the model and metrics."}),
		noPlot:     cmd.Flag("", "no-plot", &argparse.Options{Help: "Do not render plots."}),
		quiet:      cmd.Flag("q", "quiet", &argparse.Options{Help: "Hide progress bars."}),
		logLevel:   cmd.Selector("", "log-level", []string{"debug", "info", "warn", "error"}, &argparse.Options{Help: "Log level."}),
		logJSON:    cmd.Flag("", "log-json", &argparse.Options{Help: "Log as JSON."}),
	}
}

// resolve builds the effective configuration: preset, then config file,
// then command line.
func (f *flags) resolve() (config.Config, error) {
	cfg, err := config.Preset(*f.preset)
	if err != nil {
		return cfg, err
	}
	if *f.configFile != "" {
		if cfg, err = config.Load(*f.configFile, cfg); err != nil {
			return cfg, err
		}
	}

	setString(&cfg.Exp, *f.exp)
	setString(&cfg.DataDir, *f.dataDir)
	setString(&cfg.OutputDir, *f.outputDir)
	setString(&cfg.Model, *f.model)
	setString(&cfg.LogLevel, *f.logLevel)
	if *f.seed >= 0 {
		cfg.Seed = int64(*f.seed)
	}
	setInt(&cfg.Lookback, *f.lookback)
	setInt(&cfg.Forecast, *f.forecast)
	setInt(&cfg.Stride, *f.stride)
	setInt(&cfg.NForecastWindows, *f.nTest)
	if *f.nVal >= 0 {
		cfg.NValidationWindows = *f.nVal
	}
	setInt(&cfg.SmoothingWindow, *f.smoothing)
	setInt(&cfg.DownsamplingFactor, *f.factor)
	setInt(&cfg.HiddenSize, *f.hidden)
	setInt(&cfg.NLayers, *f.layers)
	setInt(&cfg.Epochs, *f.epochs)
	if *f.lr > 0 {
		cfg.LearningRate = *f.lr
	}
	if *f.alpha > 0 {
		cfg.SignificanceLevel = *f.alpha
	}
	if *f.purge {
		cfg.Purge = true
	}
	if *f.noRecord {
		cfg.Record = false
	}
	if *f.noPlot {
		cfg.Plot = false
	}
	if *f.quiet {
		cfg.Progress = false
	}

	if *f.dumpConfig != "" {
		if err := config.Write(*f.dumpConfig, cfg); err != nil {
			return cfg, err
		}
	}
	return cfg, cfg.Validate()
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	parser := argparse.NewParser("quakecast", "slow earthquake forecasting experiments")

	trainCmd := parser.NewCommand("train", "Run one experiment and save its artifacts.")
	trainFlags := addFlags(trainCmd)

	searchCmd := parser.NewCommand("search", "Random hyperparameter search over hidden size, layers and learning rate.")
	searchFlags := addFlags(searchCmd)
	trials := searchCmd.Int("n", "trials", &argparse.Options{Default: 20, Help: "Number of trials."})
	keep := searchCmd.Flag("", "keep-bundles", &argparse.Options{Help: "Keep the per-trial result files."})
	refit := searchCmd.Flag("", "refit", &argparse.Options{Help: "Retrain the best configuration with artifacts."})

	if err := parser.Parse(args); err != nil {
		fmt.Print(parser.Usage(err))
		return exitError
	}

	f := trainFlags
	if searchCmd.Happened() {
		f = searchFlags
	}
	cfg, err := f.resolve()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration:", err)
		return exitError
	}

	log, err := logging.New(cfg.LogLevel, *f.logJSON)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if searchCmd.Happened() {
		err = runSearch(ctx, cfg, log, *trials, *keep, *refit)
	} else {
		err = runTrain(ctx, cfg, log)
	}

	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, pipeline.ErrStatisticalMismatch):
		log.Warnw("run aborted by the statistical gate", "error", err)
		return exitMismatch
	case errors.Is(err, context.Canceled):
		log.Warnw("interrupted")
		return exitError
	default:
		log.Errorw("run failed", "error", err)
		return exitError
	}
}

func runTrain(ctx context.Context, cfg config.Config, log *zap.SugaredLogger) error {
	runner := &pipeline.Runner{Logger: log, Out: os.Stdout}
	_, err := runner.Run(ctx, cfg)
	return err
}

func runSearch(ctx context.Context, cfg config.Config, log *zap.SugaredLogger, trials int, keep, refit bool) error {
	study := &search.Study{
		Base:        cfg,
		Space:       search.DefaultSpace(),
		Trials:      trials,
		Rand:        rand.New(rand.NewSource(cfg.Seed)),
		Logger:      log,
		Progress:    cfg.Progress,
		KeepBundles: keep,
	}
	out, err := study.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Println(out.Table())
	if out.BundleDir != "" {
		log.Infow("trial bundles kept", "dir", out.BundleDir)
	}

	best, ok := out.BestTrial()
	if !ok {
		return errors.New("every trial failed")
	}
	if !refit {
		return nil
	}
	cfg.HiddenSize = best.HiddenSize
	cfg.NLayers = best.Layers
	cfg.LearningRate = best.LearningRate
	cfg.TrialID = -1
	log.Infow("refitting best trial", "trial", best.ID)
	return runTrain(ctx, cfg, log)
}
