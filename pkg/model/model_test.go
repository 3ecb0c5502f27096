package model

import (
	"bytes"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func halfSSE(t *testing.T, m Model, x, y []float64) float64 {
	t.Helper()
	pred, err := m.Predict(x)
	require.NoError(t, err)
	sum := 0.0
	for i := range pred {
		d := pred[i] - y[i]
		sum += d * d
	}
	return sum / 2
}

func randomVector(rng *rand.Rand, n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

// checkGradientStep verifies that one Train step moves every parameter by
// -lr times the finite-difference gradient of 0.5*||pred-y||^2.
func checkGradientStep(t *testing.T, m Model, params [][]float64) {
	t.Helper()
	rng := rand.New(rand.NewSource(99))
	shape := m.Shape()
	x := randomVector(rng, shape.InputSize())
	y := randomVector(rng, shape.OutputSize())

	const eps = 1e-6
	numeric := make([][]float64, len(params))
	before := make([][]float64, len(params))
	for i, p := range params {
		before[i] = append([]float64(nil), p...)
		numeric[i] = make([]float64, len(p))
		for j := range p {
			orig := p[j]
			p[j] = orig + eps
			plus := halfSSE(t, m, x, y)
			p[j] = orig - eps
			minus := halfSSE(t, m, x, y)
			p[j] = orig
			numeric[i][j] = (plus - minus) / (2 * eps)
		}
	}

	const lr = 1e-3
	_, err := m.Train(x, y, lr)
	require.NoError(t, err)

	for i, p := range params {
		for j := range p {
			analytic := -(p[j] - before[i][j]) / lr
			tol := 1e-5 + 1e-4*math.Abs(numeric[i][j])
			if math.Abs(analytic-numeric[i][j]) > tol {
				t.Errorf("param block %d index %d: analytic gradient %g, numeric %g",
					i, j, analytic, numeric[i][j])
			}
		}
	}
}

func TestMLPGradient(t *testing.T) {
	shape := Shape{Lookback: 4, Forecast: 2, Channels: 2}
	nn, err := NewMLP(shape, Params{HiddenSize: 5, Layers: 2, Activation: "tanh"}, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	var params [][]float64
	for _, l := range nn.Layer[1:] {
		params = append(params, l.Weight, l.Bias)
	}
	checkGradientStep(t, nn, params)
}

func TestLSTMGradient(t *testing.T) {
	shape := Shape{Lookback: 5, Forecast: 3, Channels: 2}
	m, err := NewLSTM(shape, Params{HiddenSize: 4, Layers: 2}, rand.New(rand.NewSource(2)))
	require.NoError(t, err)

	params, _ := m.paramsAndGrads()
	checkGradientStep(t, m, params)
}

func TestTCNGradient(t *testing.T) {
	shape := Shape{Lookback: 6, Forecast: 2, Channels: 2}
	m, err := NewTCN(shape, Params{HiddenSize: 3, Layers: 3, Activation: "tanh"}, rand.New(rand.NewSource(11)))
	require.NoError(t, err)

	params, _ := m.paramsAndGrads()
	checkGradientStep(t, m, params)
}

func TestTCNIsCausal(t *testing.T) {
	shape := Shape{Lookback: 8, Forecast: 2, Channels: 1}
	m, err := NewTCN(shape, Params{HiddenSize: 4, Layers: 2, KernelSize: 2, Activation: "tanh"}, rand.New(rand.NewSource(12)))
	require.NoError(t, err)
	require.Equal(t, 4, m.ReceptiveField())

	x := randomVector(rand.New(rand.NewSource(13)), shape.InputSize())
	want, err := m.Predict(x)
	require.NoError(t, err)

	// steps older than the receptive field do not reach the head
	x[0], x[3] = 100, -100
	got, err := m.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	x[4] += 1
	got, err = m.Predict(x)
	require.NoError(t, err)
	assert.NotEqual(t, want, got)
}

func TestLinearGradient(t *testing.T) {
	m := NewLinear(Shape{Lookback: 3, Forecast: 2, Channels: 1}, rand.New(rand.NewSource(3)))
	checkGradientStep(t, m, [][]float64{m.W, m.B})
}

func TestLSTMClipping(t *testing.T) {
	shape := Shape{Lookback: 3, Forecast: 1, Channels: 1}
	m, err := NewLSTM(shape, Params{HiddenSize: 3, Layers: 1, ClipNorm: 1e-3}, rand.New(rand.NewSource(4)))
	require.NoError(t, err)

	params, _ := m.paramsAndGrads()
	before := make([][]float64, len(params))
	for i, p := range params {
		before[i] = append([]float64(nil), p...)
	}

	_, err = m.Train([]float64{1, 2, 3}, []float64{100}, 1)
	require.NoError(t, err)

	moved := 0.0
	for i, p := range params {
		for j := range p {
			d := p[j] - before[i][j]
			moved += d * d
		}
	}
	assert.InDelta(t, 1e-3, math.Sqrt(moved), 1e-9, "a clipped step of lr=1 moves exactly ClipNorm")
}

func TestTrainingReducesLoss(t *testing.T) {
	shape := Shape{Lookback: 6, Forecast: 2, Channels: 1}
	rng := rand.New(rand.NewSource(5))

	for _, kind := range []Kind{KindMLP, KindLSTM, KindTCN, KindLinear} {
		m, err := New(kind, shape, Params{HiddenSize: 8, Layers: 1}, rand.New(rand.NewSource(6)))
		require.NoError(t, err)

		x := randomVector(rng, shape.InputSize())
		y := []float64{0.5, -0.25}

		first, err := m.Train(x, y, 0.01)
		require.NoError(t, err)
		last := first
		for i := 0; i < 200; i++ {
			last, err = m.Train(x, y, 0.01)
			require.NoError(t, err)
		}
		assert.Less(t, last, first, "%v did not learn a single pair", kind)
	}
}

func TestLinearFit(t *testing.T) {
	shape := Shape{Lookback: 3, Forecast: 1, Channels: 1}
	m := NewLinear(shape, rand.New(rand.NewSource(7)))

	rng := rand.New(rand.NewSource(8))
	var xs, ys [][]float64
	for i := 0; i < 50; i++ {
		x := randomVector(rng, 3)
		xs = append(xs, x)
		ys = append(ys, []float64{2*x[0] - x[1] + 0.5*x[2] + 3})
	}
	require.NoError(t, m.Fit(xs, ys))

	assert.InDeltaSlice(t, []float64{2, -1, 0.5}, m.W, 1e-3)
	assert.InDelta(t, 3, m.B[0], 1e-3)

	assert.Error(t, m.Fit(xs, ys[:10]))
}

func TestPersistence(t *testing.T) {
	m := NewPersistence(Shape{Lookback: 3, Forecast: 2, Channels: 2})
	pred, err := m.Predict([]float64{1, 10, 2, 20, 3, 30})
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 30, 3, 30}, pred)

	loss, err := m.Train([]float64{1, 10, 2, 20, 3, 30}, []float64{3, 30, 5, 30}, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, loss, 1e-12)
}

func TestSaveLoad(t *testing.T) {
	shape := Shape{Lookback: 4, Forecast: 2, Channels: 2}
	x := randomVector(rand.New(rand.NewSource(9)), shape.InputSize())

	for _, kind := range []Kind{KindMLP, KindLSTM, KindTCN, KindLinear, KindPersistence} {
		m, err := New(kind, shape, Params{HiddenSize: 3, Layers: 2}, rand.New(rand.NewSource(10)))
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, Save(&buf, m))

		back, err := Load(&buf)
		require.NoError(t, err, "%v", kind)
		assert.Equal(t, kind, back.Kind())
		assert.Equal(t, shape, back.Shape())

		want, err := m.Predict(x)
		require.NoError(t, err)
		got, err := back.Predict(x)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-12, "%v", kind)

		// a restored model can keep training
		_, err = back.Train(x, make([]float64, shape.OutputSize()), 0.01)
		assert.NoError(t, err)
	}
}

func TestLoadRejectsCorruptState(t *testing.T) {
	shape := Shape{Lookback: 4, Forecast: 2, Channels: 2}
	rng := rand.New(rand.NewSource(14))

	tests := []struct {
		name  string
		build func() Model
	}{
		{"lstm layer chain", func() Model {
			m, err := NewLSTM(shape, Params{HiddenSize: 4, Layers: 2}, rng)
			require.NoError(t, err)
			m.Layers[1] = newLSTMLayer(3, 4, rng)
			return m
		}},
		{"lstm first layer", func() Model {
			m, err := NewLSTM(shape, Params{HiddenSize: 4, Layers: 1}, rng)
			require.NoError(t, err)
			m.Layers[0] = newLSTMLayer(5, 4, rng)
			return m
		}},
		{"lstm lookback", func() Model {
			m, err := NewLSTM(shape, Params{HiddenSize: 4, Layers: 1}, rng)
			require.NoError(t, err)
			m.ModelShape.Lookback = 0
			return m
		}},
		{"tcn layer chain", func() Model {
			m, err := NewTCN(shape, Params{HiddenSize: 4, Layers: 2}, rng)
			require.NoError(t, err)
			m.Layers[1] = newConvLayer(3, 4, 2, 2, rng)
			return m
		}},
		{"tcn dilation", func() Model {
			m, err := NewTCN(shape, Params{HiddenSize: 4, Layers: 1}, rng)
			require.NoError(t, err)
			m.Layers[0].Dilation = 0
			return m
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, Save(&buf, tt.build()))
			_, err := Load(&buf)
			assert.Error(t, err)
		})
	}
}

func TestParseKind(t *testing.T) {
	cases := []struct {
		name   string
		expect Kind
	}{
		{"LSTM", KindLSTM},
		{"lstm", KindLSTM},
		{"MLP", KindMLP},
		{"linear", KindLinear},
		{"Persistence", KindPersistence},
		{"tcn", KindTCN},
	}
	for _, c := range cases {
		k, err := ParseKind(c.name)
		require.NoError(t, err)
		assert.Equal(t, c.expect, k)
		assert.Equal(t, c.expect.String(), kindNames[k])
	}

	_, err := ParseKind("Conv2DLSTM")
	assert.Error(t, err)
}

func TestSizeChecks(t *testing.T) {
	shape := Shape{Lookback: 2, Forecast: 1, Channels: 1}
	for _, kind := range []Kind{KindMLP, KindLSTM, KindTCN, KindLinear, KindPersistence} {
		m, err := New(kind, shape, Params{HiddenSize: 2, Layers: 1}, rand.New(rand.NewSource(1)))
		require.NoError(t, err)

		_, err = m.Predict([]float64{1, 2, 3})
		assert.Error(t, err, "%v predict", kind)
		_, err = m.Train([]float64{1, 2}, []float64{1, 2}, 0.1)
		assert.Error(t, err, "%v train", kind)
	}

	_, err := New(KindMLP, shape, Params{}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
	_, err = New(KindLSTM, Shape{}, Params{HiddenSize: 1, Layers: 1}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}
