package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// defaultKernel is the TCN kernel width when Params.KernelSize is unset.
const defaultKernel = 2

// ConvLayer is a causal dilated 1-D convolution followed by the model
// activation. Output o at step t is
// act(B[o] + W[o] · [x_t, x_t-d, ..., x_t-(K-1)d]), where inputs before the
// start of the window are zero. W is row-major Out x (Kernel*In), the input
// taps ordered from the most recent step backwards.
type ConvLayer struct {
	In       int       `json:"in"`
	Out      int       `json:"out"`
	Kernel   int       `json:"kernel"`
	Dilation int       `json:"dilation"`
	W        []float64 `json:"w"`
	B        []float64 `json:"b"`

	gW []float64
	gB []float64

	// per step caches from the last forward pass
	taps [][]float64
	pre  [][]float64
	outs [][]float64
}

func newConvLayer(in, out, kernel, dilation int, rng *rand.Rand) *ConvLayer {
	l := &ConvLayer{In: in, Out: out, Kernel: kernel, Dilation: dilation}
	l.W = make([]float64, out*kernel*in)
	l.B = make([]float64, out)
	uniform(rng, l.W, fanInLimit(kernel*in))
	l.allocate()
	return l
}

func (l *ConvLayer) allocate() {
	l.gW = make([]float64, len(l.W))
	l.gB = make([]float64, len(l.B))
}

func (l *ConvLayer) width() int {
	return l.Kernel * l.In
}

func (l *ConvLayer) forward(xs [][]float64, act func(float64) float64) [][]float64 {
	steps := len(xs)
	n := l.width()
	l.taps = make([][]float64, steps)
	l.pre = make([][]float64, steps)
	l.outs = make([][]float64, steps)

	for t := range xs {
		u := make([]float64, n)
		for k := 0; k < l.Kernel; k++ {
			if src := t - k*l.Dilation; src >= 0 {
				copy(u[k*l.In:(k+1)*l.In], xs[src])
			}
		}
		pre := make([]float64, l.Out)
		out := make([]float64, l.Out)
		for o := range pre {
			pre[o] = l.B[o] + floats.Dot(l.W[o*n:(o+1)*n], u)
			out[o] = act(pre[o])
		}
		l.taps[t], l.pre[t], l.outs[t] = u, pre, out
	}
	return l.outs
}

// backward accumulates parameter gradients given dL/dout at every step and
// returns dL/dx at every step.
func (l *ConvLayer) backward(douts [][]float64, deriv func(float64) float64) [][]float64 {
	steps := len(douts)
	n := l.width()
	dxs := make([][]float64, steps)
	for t := range dxs {
		dxs[t] = make([]float64, l.In)
	}

	du := make([]float64, n)
	for t := steps - 1; t >= 0; t-- {
		floats.Scale(0, du)
		for o := 0; o < l.Out; o++ {
			a := douts[t][o] * deriv(l.pre[t][o])
			if a == 0 {
				continue
			}
			floats.AddScaled(l.gW[o*n:(o+1)*n], a, l.taps[t])
			floats.AddScaled(du, a, l.W[o*n:(o+1)*n])
			l.gB[o] += a
		}
		for k := 0; k < l.Kernel; k++ {
			if src := t - k*l.Dilation; src >= 0 {
				floats.Add(dxs[src], du[k*l.In:(k+1)*l.In])
			}
		}
	}
	return dxs
}

// TCN is a temporal convolutional network: a stack of causal convolutions
// with dilations 1, 2, 4... read out by a dense layer on the last step,
// predicting every forecast step at once.
type TCN struct {
	ModelShape  Shape        `json:"shape"`
	ModelParams Params       `json:"params"`
	Layers      []*ConvLayer `json:"layers"`
	HeadW       []float64    `json:"head_w"`
	HeadB       []float64    `json:"head_b"`

	gHeadW []float64
	gHeadB []float64

	act   func(float64) float64
	deriv func(float64) float64
}

// NewTCN builds a TCN with params.Layers convolutions of params.HiddenSize
// filters each.
func NewTCN(shape Shape, params Params, rng *rand.Rand) (*TCN, error) {
	if params.HiddenSize < 1 || params.Layers < 1 {
		return nil, fmt.Errorf("TCN needs hidden size and layers >= 1, got %d and %d",
			params.HiddenSize, params.Layers)
	}
	if params.KernelSize == 0 {
		params.KernelSize = defaultKernel
	}
	if params.KernelSize < 1 {
		return nil, fmt.Errorf("TCN kernel size must be >= 1, got %d", params.KernelSize)
	}
	if params.Activation == "" {
		params.Activation = "relu"
	}

	m := &TCN{ModelShape: shape, ModelParams: params}
	if err := m.setActivation(); err != nil {
		return nil, err
	}
	in, dilation := shape.Channels, 1
	for i := 0; i < params.Layers; i++ {
		m.Layers = append(m.Layers, newConvLayer(in, params.HiddenSize, params.KernelSize, dilation, rng))
		in = params.HiddenSize
		dilation *= 2
	}
	m.HeadW = make([]float64, shape.OutputSize()*params.HiddenSize)
	m.HeadB = make([]float64, shape.OutputSize())
	uniform(rng, m.HeadW, fanInLimit(params.HiddenSize))
	m.allocate()
	return m, nil
}

func (m *TCN) setActivation() error {
	switch m.ModelParams.Activation {
	case "relu":
		m.act, m.deriv = ReLU, ReLUDeriv
	case "tanh":
		m.act, m.deriv = math.Tanh, TanhDeriv
	default:
		return fmt.Errorf("unknown activation %q", m.ModelParams.Activation)
	}
	return nil
}

func (m *TCN) allocate() {
	m.gHeadW = make([]float64, len(m.HeadW))
	m.gHeadB = make([]float64, len(m.HeadB))
}

func (m *TCN) restore() error {
	if err := m.ModelShape.validate(); err != nil {
		return err
	}
	if err := m.setActivation(); err != nil {
		return err
	}
	if len(m.Layers) == 0 {
		return fmt.Errorf("TCN state has no layers")
	}
	in := m.ModelShape.Channels
	for i, l := range m.Layers {
		if l == nil || l.In != in || l.Out < 1 || l.Kernel < 1 || l.Dilation < 1 {
			return fmt.Errorf("TCN layer %d does not take %d inputs", i, in)
		}
		if len(l.W) != l.Out*l.width() || len(l.B) != l.Out {
			return fmt.Errorf("TCN layer %d has the wrong size", i)
		}
		l.allocate()
		in = l.Out
	}
	if len(m.HeadW) != m.ModelShape.OutputSize()*in || len(m.HeadB) != m.ModelShape.OutputSize() {
		return fmt.Errorf("TCN head has %d weights and %d biases", len(m.HeadW), len(m.HeadB))
	}
	m.allocate()
	return nil
}

// Kind implements Model
func (m *TCN) Kind() Kind {
	return KindTCN
}

// Shape implements Model
func (m *TCN) Shape() Shape {
	return m.ModelShape
}

// ReceptiveField is the number of most recent input steps that influence a
// prediction.
func (m *TCN) ReceptiveField() int {
	field := 1
	for _, l := range m.Layers {
		field += (l.Kernel - 1) * l.Dilation
	}
	return field
}

func (m *TCN) forward(x []float64) []float64 {
	c := m.ModelShape.Channels
	seq := make([][]float64, m.ModelShape.Lookback)
	for t := range seq {
		seq[t] = x[t*c : (t+1)*c]
	}
	for _, l := range m.Layers {
		seq = l.forward(seq, m.act)
	}

	h := seq[len(seq)-1]
	hidden := len(h)
	out := make([]float64, len(m.HeadB))
	for j := range out {
		out[j] = m.HeadB[j] + floats.Dot(m.HeadW[j*hidden:(j+1)*hidden], h)
	}
	return out
}

func (m *TCN) backward(pred, y []float64) {
	top := m.Layers[len(m.Layers)-1]
	steps := len(top.outs)
	hidden := top.Out
	h := top.outs[steps-1]

	douts := make([][]float64, steps)
	for t := range douts {
		douts[t] = make([]float64, hidden)
	}
	for j := range pred {
		d := pred[j] - y[j]
		m.gHeadB[j] += d
		floats.AddScaled(m.gHeadW[j*hidden:(j+1)*hidden], d, h)
		floats.AddScaled(douts[steps-1], d, m.HeadW[j*hidden:(j+1)*hidden])
	}

	for i := len(m.Layers) - 1; i >= 0; i-- {
		douts = m.Layers[i].backward(douts, m.deriv)
	}
}

func (m *TCN) paramsAndGrads() (params, grads [][]float64) {
	for _, l := range m.Layers {
		params = append(params, l.W, l.B)
		grads = append(grads, l.gW, l.gB)
	}
	params = append(params, m.HeadW, m.HeadB)
	grads = append(grads, m.gHeadW, m.gHeadB)
	return params, grads
}

// Predict implements Model
func (m *TCN) Predict(x []float64) ([]float64, error) {
	if err := checkSizes(m.ModelShape, x, nil); err != nil {
		return nil, err
	}
	return m.forward(x), nil
}

// Train implements Model. Gradients are clipped like the LSTM's.
func (m *TCN) Train(x, y []float64, lr float64) (float64, error) {
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
