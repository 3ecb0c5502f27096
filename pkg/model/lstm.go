package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// gate order within LSTMLayer.W and LSTMLayer.B
const (
	gateForget = iota
	gateInput
	gateCell
	gateOutput
	numGates
)

// LSTMLayer is one recurrent layer. Each gate k computes
// act(W[k] · [x_t, h_t-1] + B[k]) with W[k] stored row-major as
// Hidden x (In+Hidden).
type LSTMLayer struct {
	In     int                 `json:"in"`
	Hidden int                 `json:"hidden"`
	W      [numGates][]float64 `json:"w"`
	B      [numGates][]float64 `json:"b"`

	gW [numGates][]float64
	gB [numGates][]float64

	// per time step caches from the last forward pass
	zs    [][]float64
	cs    [][]float64
	hs    [][]float64
	gates [][numGates][]float64
}

func newLSTMLayer(in, hidden int, rng *rand.Rand) *LSTMLayer {
	l := &LSTMLayer{In: in, Hidden: hidden}
	limit := fanInLimit(hidden)
	for k := 0; k < numGates; k++ {
		l.W[k] = make([]float64, hidden*(in+hidden))
		l.B[k] = make([]float64, hidden)
		uniform(rng, l.W[k], limit)
	}
	// start by remembering
	for j := range l.B[gateForget] {
		l.B[gateForget][j] = 1
	}
	l.allocate()
	return l
}

func (l *LSTMLayer) allocate() {
	for k := 0; k < numGates; k++ {
		l.gW[k] = make([]float64, len(l.W[k]))
		l.gB[k] = make([]float64, len(l.B[k]))
	}
}

func (l *LSTMLayer) width() int {
	return l.In + l.Hidden
}

// forward runs the layer over xs from a zero state and returns the hidden
// state at every step.
func (l *LSTMLayer) forward(xs [][]float64) [][]float64 {
	steps := len(xs)
	z := l.width()
	l.zs = make([][]float64, steps)
	l.cs = make([][]float64, steps)
	l.hs = make([][]float64, steps)
	l.gates = make([][numGates][]float64, steps)

	hPrev := make([]float64, l.Hidden)
	cPrev := make([]float64, l.Hidden)
	for t, x := range xs {
		zt := make([]float64, z)
		copy(zt, x)
		copy(zt[l.In:], hPrev)

		var g [numGates][]float64
		for k := 0; k < numGates; k++ {
			g[k] = make([]float64, l.Hidden)
			for j := 0; j < l.Hidden; j++ {
				sum := l.B[k][j] + floats.Dot(l.W[k][j*z:(j+1)*z], zt)
				if k == gateCell {
					g[k][j] = math.Tanh(sum)
				} else {
					g[k][j] = Sigmoid(sum)
				}
			}
		}

		c := make([]float64, l.Hidden)
		h := make([]float64, l.Hidden)
		for j := range c {
			c[j] = g[gateForget][j]*cPrev[j] + g[gateInput][j]*g[gateCell][j]
			h[j] = g[gateOutput][j] * math.Tanh(c[j])
		}

		l.zs[t], l.cs[t], l.hs[t], l.gates[t] = zt, c, h, g
		hPrev, cPrev = h, c
	}
	return l.hs
}

// backward accumulates parameter gradients given dL/dh at every step and
// returns dL/dx at every step.
func (l *LSTMLayer) backward(dhs [][]float64) [][]float64 {
	steps := len(dhs)
	z := l.width()
	dxs := make([][]float64, steps)
	dhNext := make([]float64, l.Hidden)
	dcNext := make([]float64, l.Hidden)
	zero := make([]float64, l.Hidden)

	var da [numGates][]float64
	for k := range da {
		da[k] = make([]float64, l.Hidden)
	}

	for t := steps - 1; t >= 0; t-- {
		g := l.gates[t]
		cPrev := zero
		if t > 0 {
			cPrev = l.cs[t-1]
		}

		for j := 0; j < l.Hidden; j++ {
			dh := dhs[t][j] + dhNext[j]
			tc := math.Tanh(l.cs[t][j])
			f, i, gc, o := g[gateForget][j], g[gateInput][j], g[gateCell][j], g[gateOutput][j]

			dc := dh*o*(1-tc*tc) + dcNext[j]
			da[gateOutput][j] = dh * tc * o * (1 - o)
			da[gateForget][j] = dc * cPrev[j] * f * (1 - f)
			da[gateInput][j] = dc * gc * i * (1 - i)
			da[gateCell][j] = dc * i * (1 - gc*gc)
			dcNext[j] = dc * f
		}

		dz := make([]float64, z)
		zt := l.zs[t]
		for k := 0; k < numGates; k++ {
			for j := 0; j < l.Hidden; j++ {
				a := da[k][j]
				if a == 0 {
					continue
				}
				floats.AddScaled(l.gW[k][j*z:(j+1)*z], a, zt)
				floats.AddScaled(dz, a, l.W[k][j*z:(j+1)*z])
				l.gB[k][j] += a
			}
		}

		dxs[t] = dz[:l.In]
		copy(dhNext, dz[l.In:])
	}
	return dxs
}

func (l *LSTMLayer) params() [][]float64 {
	out := make([][]float64, 0, 2*numGates)
	for k := 0; k < numGates; k++ {
		out = append(out, l.W[k], l.B[k])
	}
	return out
}

func (l *LSTMLayer) grads() [][]float64 {
	out := make([][]float64, 0, 2*numGates)
	for k := 0; k < numGates; k++ {
		out = append(out, l.gW[k], l.gB[k])
	}
	return out
}

// LSTM is a stack of LSTM layers read out by a dense layer on the last
// hidden state, predicting every forecast step at once.
type LSTM struct {
	ModelShape  Shape        `json:"shape"`
	ModelParams Params       `json:"params"`
	Layers      []*LSTMLayer `json:"layers"`
	HeadW       []float64    `json:"head_w"`
	HeadB       []float64    `json:"head_b"`

	gHeadW []float64
	gHeadB []float64
}

// NewLSTM builds an LSTM forecaster with params.Layers layers of
// params.HiddenSize units.
func NewLSTM(shape Shape, params Params, rng *rand.Rand) (*LSTM, error) {
	if params.HiddenSize < 1 || params.Layers < 1 {
		return nil, fmt.Errorf("LSTM needs hidden size and layers >= 1, got %d and %d",
			params.HiddenSize, params.Layers)
	}

	m := &LSTM{ModelShape: shape, ModelParams: params}
	in := shape.Channels
	for i := 0; i < params.Layers; i++ {
		m.Layers = append(m.Layers, newLSTMLayer(in, params.HiddenSize, rng))
		in = params.HiddenSize
	}
	m.HeadW = make([]float64, shape.OutputSize()*params.HiddenSize)
	m.HeadB = make([]float64, shape.OutputSize())
	uniform(rng, m.HeadW, fanInLimit(params.HiddenSize))
	m.allocate()
	return m, nil
}

func (m *LSTM) allocate() {
	m.gHeadW = make([]float64, len(m.HeadW))
	m.gHeadB = make([]float64, len(m.HeadB))
}

func (m *LSTM) restore() error {
	if err := m.ModelShape.validate(); err != nil {
		return err
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("LSTM state has no layers")
	}
	in := m.ModelShape.Channels
	for i, l := range m.Layers {
		if l == nil || l.Hidden < 1 || l.In != in {
			return fmt.Errorf("LSTM layer %d does not take %d inputs", i, in)
		}
		in = l.Hidden
		for k := 0; k < numGates; k++ {
			if len(l.W[k]) != l.Hidden*l.width() || len(l.B[k]) != l.Hidden {
				return fmt.Errorf("LSTM layer %d gate %d has the wrong size", i, k)
			}
		}
		l.allocate()
	}
	hidden := m.Layers[len(m.Layers)-1].Hidden
	if len(m.HeadW) != m.ModelShape.OutputSize()*hidden || len(m.HeadB) != m.ModelShape.OutputSize() {
		return fmt.Errorf("LSTM head has %d weights and %d biases", len(m.HeadW), len(m.HeadB))
	}
	m.allocate()
	return nil
}

// Kind implements Model
func (m *LSTM) Kind() Kind {
	return KindLSTM
}

// Shape implements Model
func (m *LSTM) Shape() Shape {
	return m.ModelShape
}

func (m *LSTM) forward(x []float64) []float64 {
	c := m.ModelShape.Channels
	seq := make([][]float64, m.ModelShape.Lookback)
	for t := range seq {
		seq[t] = x[t*c : (t+1)*c]
	}
	for _, l := range m.Layers {
		seq = l.forward(seq)
	}

	h := seq[len(seq)-1]
	hidden := len(h)
	out := make([]float64, len(m.HeadB))
	for j := range out {
		out[j] = m.HeadB[j] + floats.Dot(m.HeadW[j*hidden:(j+1)*hidden], h)
	}
	return out
}

// backward accumulates gradients of 0.5*||pred-y||^2 for the last forward
// pass.
func (m *LSTM) backward(pred, y []float64) {
	top := m.Layers[len(m.Layers)-1]
	steps := len(top.hs)
	hidden := top.Hidden
	h := top.hs[steps-1]

	dh := make([]float64, hidden)
	for j := range pred {
		d := pred[j] - y[j]
		m.gHeadB[j] += d
		floats.AddScaled(m.gHeadW[j*hidden:(j+1)*hidden], d, h)
		floats.AddScaled(dh, d, m.HeadW[j*hidden:(j+1)*hidden])
	}

	dhs := make([][]float64, steps)
	for t := range dhs {
		dhs[t] = make([]float64, hidden)
	}
	copy(dhs[steps-1], dh)

	for i := len(m.Layers) - 1; i >= 0; i-- {
		dhs = m.Layers[i].backward(dhs)
	}
}

func (m *LSTM) paramsAndGrads() (params, grads [][]float64) {
	for _, l := range m.Layers {
		params = append(params, l.params()...)
		grads = append(grads, l.grads()...)
	}
	params = append(params, m.HeadW, m.HeadB)
	grads = append(grads, m.gHeadW, m.gHeadB)
	return params, grads
}

// Predict implements Model
func (m *LSTM) Predict(x []float64) ([]float64, error) {
	if err := checkSizes(m.ModelShape, x, nil); err != nil {
		return nil, err
	}
	return m.forward(x), nil
}

// Train implements Model. Gradients are clipped to ModelParams.ClipNorm in
// global L2 norm before the step.
func (m *LSTM) Train(x, y []float64, lr float64) (float64, error) {
	if err := checkSizes(m.ModelShape, x, y); err != nil {
		return 0, err
	}

	pred := m.forward(x)
	loss := mse(pred, y)
	m.backward(pred, y)

	params, grads := m.paramsAndGrads()
	sgdStep(params, grads, lr, m.ModelParams.ClipNorm)
	return loss, nil
}
