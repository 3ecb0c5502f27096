package report

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/preprocess"
	"github.com/herclab/quakecast/pkg/series"
	"github.com/herclab/quakecast/pkg/train"
)

func sampleResults() *train.Results {
	return &train.Results{
		Epochs:    3,
		TrainLoss: []float64{1, 0.5, 0.25},
		TrainRMSE: []float64{2, 1, 0.5},
		TrainR2:   []float64{0.1, 0.5, 0.9},
		EvalSplit: train.SplitValidation,
		EvalRMSE:  []float64{2.5, 1.5, 1},
		EvalR2:    []float64{math.Inf(-1), 0.2, 0.7},
		TestPred:  [][]float64{{1, 2}, {3, 4}},
	}
}

func TestNewRun(t *testing.T) {
	out := t.TempDir()
	now := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	run, err := NewRun(out, "LSTM", "csv:/tmp/x.csv", now)
	require.NoError(t, err)

	base := filepath.Base(run.Dir)
	assert.True(t, strings.HasPrefix(base, "LSTM_csv__tmp_x.csv_20240301-123000_"), base)
	assert.Equal(t, run.ID[:8], base[len(base)-8:])
	info, err := os.Stat(run.Dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSaveModelAndResults(t *testing.T) {
	run, err := NewRun(t.TempDir(), "Persistence", "p4581", time.Now())
	require.NoError(t, err)

	m := model.NewPersistence(model.Shape{Lookback: 3, Forecast: 2, Channels: 1})
	meta := map[string]any{"exp": "p4581", "seed": 17}
	require.NoError(t, run.SaveModel(m, meta))
	require.NoError(t, run.SaveResults(sampleResults()))

	f, err := os.Open(run.Path(ModelFile))
	require.NoError(t, err)
	defer f.Close()
	loaded, err := model.Load(f)
	require.NoError(t, err)
	assert.Equal(t, model.KindPersistence, loaded.Kind())

	var gotMeta map[string]any
	require.NoError(t, ReadYAML(run.Path(MetadataFile), &gotMeta))
	assert.Equal(t, "p4581", gotMeta["exp"])

	var got train.Results
	require.NoError(t, ReadYAML(run.Path(ResultsFile), &got))
	assert.Equal(t, 3, got.Epochs)
	assert.Equal(t, []float64{2, 1, 0.5}, got.TrainRMSE)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, got.TestPred)
}

func TestSaveSeries(t *testing.T) {
	run, err := NewRun(t.TempDir(), "TCN", "cascadia_1to6_seg", time.Now())
	require.NoError(t, err)

	s, err := series.New([]float64{0, 0.5, 1}, []float64{1, 2, 3}, []float64{4, 5, 6})
	require.NoError(t, err)
	s.Names = []string{"seg_1_avg", "seg_2_avg"}
	require.NoError(t, run.SaveSeries(s))

	back, err := series.LoadCSV(run.Path(SeriesFile), series.CSVOptions{TimeColumn: "t"})
	require.NoError(t, err)
	assert.Equal(t, s.T, back.T)
	assert.Equal(t, s.Channels, back.Channels)
	assert.Equal(t, s.Names, back.Names)
}

func TestRecordMetrics(t *testing.T) {
	truth := &preprocess.Tensor{Windows: 2, Steps: 1, Channels: 2, Data: []float64{1, 10, 2, 20}}
	pred := &preprocess.Tensor{Windows: 2, Steps: 1, Channels: 2, Data: []float64{1, 11, 2, 21}}

	rec, err := RecordMetrics("test", pred, truth, []string{"seg_1_avg"})
	require.NoError(t, err)
	require.Len(t, rec.PerChannel, 2)
	assert.Equal(t, "seg_1_avg", rec.PerChannel[0].Channel)
	assert.Equal(t, "ch1", rec.PerChannel[1].Channel)
	assert.InDelta(t, 0, rec.PerChannel[0].RMSE, 1e-12)
	assert.InDelta(t, 1, rec.PerChannel[1].RMSE, 1e-12)
	assert.InDelta(t, math.Sqrt(0.5), rec.Overall.RMSE, 1e-12)

	run, err := NewRun(t.TempDir(), "MLP", "p4581", time.Now())
	require.NoError(t, err)
	require.NoError(t, run.RecordMetrics(rec))
	var got MetricsRecord
	require.NoError(t, ReadYAML(run.Path(MetricsFile), &got))
	assert.Equal(t, rec.PerChannel[1].Channel, got.PerChannel[1].Channel)
	assert.InDelta(t, 1, got.PerChannel[1].RMSE, 1e-12)

	_, err = RecordMetrics("test", pred, &preprocess.Tensor{Windows: 1, Steps: 1, Channels: 2, Data: []float64{1, 2}}, nil)
	assert.Error(t, err)
}

func testForecast() Forecast {
	t := make([]float64, 20)
	v := make([]float64, 20)
	for i := range t {
		t[i] = float64(i) * 0.5
		v[i] = float64(i)
	}
	s, _ := series.New(t, v)
	return Forecast{
		Series:  s,
		Targets: []int{15, 16, 17},
		// forecast 3 steps, 1 channel
		Pred: [][]float64{{15, 16, 17}, {16, 17, 18}, {17, 18, 19.5}},
	}
}

func TestForecastSamples(t *testing.T) {
	got := testForecast().Samples(0)
	want := series.SampleList{
		{T: 7.5, S: 15},
		{T: 8, S: 16},
		{T: 8.5, S: 17},
		{T: 9, S: 18},
		{T: 9.5, S: 19.5},
	}
	assert.Equal(t, want, got)
}

func TestPlots(t *testing.T) {
	dir := t.TempDir()
	f := testForecast()
	po := PlotOptions{Title: "test", XLabel: "t", YLabel: "v"}

	require.NoError(t, PlotAll(filepath.Join(dir, AllDataPlot), po, f, 0))
	require.NoError(t, PlotZoom(filepath.Join(dir, ZoomPlot), po, f, 0, 6, 9))
	res := sampleResults()
	require.NoError(t, PlotCurves(filepath.Join(dir, RMSEPlot), "RMSE", res.TrainRMSE, res.EvalRMSE, res.EvalSplit))
	require.NoError(t, PlotCurves(filepath.Join(dir, R2Plot), "R2", res.TrainR2, res.EvalR2, res.EvalSplit))

	for _, name := range []string{AllDataPlot, ZoomPlot, RMSEPlot, R2Plot} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.Positive(t, info.Size(), name)
	}

	assert.Error(t, PlotZoom(filepath.Join(dir, "bad.png"), po, f, 0, 5, 5))
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, RenderHTML(&buf, "run", sampleResults()))
	html := buf.String()
	assert.Contains(t, html, "RMSE per epoch")
	assert.Contains(t, html, "R2 per epoch")
	assert.Contains(t, html, "validation")
}

func TestSummary(t *testing.T) {
	rec := MetricsRecord{
		Split:      "test",
		PerChannel: []ChannelMetrics{{Channel: "seg_1_avg"}},
	}
	out := Summary("LSTM on p4581", sampleResults(), rec)
	assert.Contains(t, out, "LSTM on p4581")
	assert.Contains(t, out, "test seg_1_avg")
	assert.Contains(t, out, "validation (last epoch)")
	// go-pretty upper-cases footers
	assert.Contains(t, strings.ToLower(out), "3 epochs")
}
