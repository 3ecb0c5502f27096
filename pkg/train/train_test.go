package train

import (
	"context"
	"io"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/herclab/quakecast/pkg/model"
	"github.com/herclab/quakecast/pkg/preprocess"
	"github.com/herclab/quakecast/pkg/series"
)

func sineDataset(t *testing.T, n, lookback, forecast, test, val int) *preprocess.Dataset {
	t.Helper()
	values := make([]float64, n)
	for i := range values {
		values[i] = 3 + 2*math.Sin(float64(i)*0.2)
	}
	x, y, err := preprocess.MakeWindows(series.FromValues("s", values), lookback, forecast, 1)
	require.NoError(t, err)
	split, err := preprocess.SplitWindows(x, y, preprocess.SplitOptions{
		Forecast:   forecast,
		Test:       test,
		Validation: val,
	})
	require.NoError(t, err)
	ds, err := preprocess.Normalize(split)
	require.NoError(t, err)
	return ds
}

func TestRunRecordsEveryEpoch(t *testing.T) {
	ds := sineDataset(t, 120, 8, 2, 10, 0)
	m, err := model.New(model.KindMLP, model.Shape{Lookback: 8, Forecast: 2, Channels: 1},
		model.Params{HiddenSize: 6, Layers: 1}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	loop := &Loop{Epochs: 4, LearningRate: 0.01, Rand: rand.New(rand.NewSource(2)), Logger: zap.NewNop().Sugar()}
	res, err := loop.Run(context.Background(), m, ds)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Epochs)
	for _, curve := range [][]float64{res.TrainLoss, res.TrainRMSE, res.TrainR2, res.EvalRMSE, res.EvalR2} {
		assert.Len(t, curve, 4)
	}
	assert.Equal(t, SplitTest, res.EvalSplit)
	require.Len(t, res.TestPred, 10)
	assert.Len(t, res.TestPred[0], 2)
	// without validation the last eval point is the final test score
	assert.InDelta(t, res.Test.RMSE, res.EvalRMSE[3], 1e-12)
	assert.Equal(t, res.BestEvalRMSE(), minOf(res.EvalRMSE))
}

func TestRunUsesValidation(t *testing.T) {
	ds := sineDataset(t, 120, 8, 2, 10, 6)
	m, err := model.New(model.KindPersistence, model.Shape{Lookback: 8, Forecast: 2, Channels: 1},
		model.Params{}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	loop := &Loop{Epochs: 2, LearningRate: 0.01, Rand: rand.New(rand.NewSource(2)), Progress: true, ProgressOutput: io.Discard}
	res, err := loop.Run(context.Background(), m, ds)
	require.NoError(t, err)
	assert.Equal(t, SplitValidation, res.EvalSplit)
	assert.Len(t, res.TestPred, 10)
	// persistence never changes, so the eval curve is flat
	assert.Equal(t, res.EvalRMSE[0], res.EvalRMSE[1])
}

func TestRunPredictionsInPhysicalUnits(t *testing.T) {
	ds := sineDataset(t, 200, 10, 1, 20, 0)
	m, err := model.New(model.KindLinear, model.Shape{Lookback: 10, Forecast: 1, Channels: 1},
		model.Params{}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	loop := &Loop{Epochs: 1, LearningRate: 1e-4, Rand: rand.New(rand.NewSource(2))}
	res, err := loop.Run(context.Background(), m, ds)
	require.NoError(t, err)

	truth := ds.ScalerY.Inverse(ds.YTest)
	for i, p := range res.TestPred {
		assert.InDelta(t, truth.Window(i)[0], p[0], 0.05, "window %d", i)
	}
	assert.Less(t, res.Test.RMSE, 0.05)
	assert.Greater(t, res.Test.R2, 0.99)
}

func TestRunCancelled(t *testing.T) {
	ds := sineDataset(t, 80, 4, 1, 5, 0)
	m, err := model.New(model.KindLinear, model.Shape{Lookback: 4, Forecast: 1, Channels: 1},
		model.Params{}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	loop := &Loop{Epochs: 3, LearningRate: 0.01, Rand: rand.New(rand.NewSource(2))}
	_, err = loop.Run(ctx, m, ds)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunBadLoop(t *testing.T) {
	ds := sineDataset(t, 80, 4, 1, 5, 0)
	m, err := model.New(model.KindPersistence, model.Shape{Lookback: 4, Forecast: 1, Channels: 1},
		model.Params{}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	tests := []struct {
		name string
		loop Loop
	}{
		{"no epochs", Loop{Epochs: 0, Rand: rand.New(rand.NewSource(1))}},
		{"no rng", Loop{Epochs: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.loop.Run(context.Background(), m, ds)
			assert.Error(t, err)
		})
	}
}

func minOf(v []float64) float64 {
	m := math.Inf(1)
	for _, x := range v {
		m = math.Min(m, x)
	}
	return m
}
