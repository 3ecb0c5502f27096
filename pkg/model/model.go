// Package model holds the forecasting networks quakecast can train. Every
// model maps a flattened (lookback x channels) input window to a flattened
// (forecast x channels) prediction and learns by plain stochastic gradient
// descent, one window at a time.
package model

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Kind identifies a model architecture.
type Kind int

const (
	// KindLSTM is a stacked LSTM with a dense one-shot multistep head.
	KindLSTM Kind = iota
	// KindMLP is a fully connected feed-forward network.
	KindMLP
	// KindLinear is a direct multi-output linear map.
	KindLinear
	// KindPersistence repeats the last observed step. It has no parameters.
	KindPersistence
	// KindTCN is a stack of dilated causal convolutions with a dense
	// multistep head.
	KindTCN
)

var kindNames = map[Kind]string{
	KindLSTM:        "LSTM",
	KindMLP:         "MLP",
	KindLinear:      "Linear",
	KindPersistence: "Persistence",
	KindTCN:         "TCN",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a case-insensitive model name.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown model %q (expected one of LSTM, TCN, MLP, Linear, Persistence)", name)
}

// MarshalText implements encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Shape describes the windows a model consumes and produces.
type Shape struct {
	Lookback int `json:"lookback"`
	Forecast int `json:"forecast"`
	Channels int `json:"channels"`
}

// InputSize is the length of a flattened input window.
func (s Shape) InputSize() int {
	return s.Lookback * s.Channels
}

// OutputSize is the length of a flattened prediction.
func (s Shape) OutputSize() int {
	return s.Forecast * s.Channels
}

func (s Shape) validate() error {
	if s.Lookback < 1 || s.Forecast < 1 || s.Channels < 1 {
		return fmt.Errorf("invalid model shape %+v", s)
	}
	return nil
}

// Params holds the architecture hyperparameters. Fields that do not apply
// to a Kind are ignored.
type Params struct {
	HiddenSize int `json:"hidden_size"`
	Layers     int `json:"layers"`

	// Activation is the hidden activation of the MLP, "relu" or "tanh".
	Activation string `json:"activation,omitempty"`

	// ClipNorm bounds the global gradient norm of the LSTM and TCN; 0
	// disables clipping.
	ClipNorm float64 `json:"clip_norm,omitempty"`

	// KernelSize is the TCN convolution width, 2 when zero.
	KernelSize int `json:"kernel_size,omitempty"`
}

// Model is a trainable sequence forecaster.
type Model interface {
	Kind() Kind
	Shape() Shape

	// Predict maps one flattened input window to a flattened forecast.
	Predict(x []float64) ([]float64, error)

	// Train performs a single gradient step of size lr on one window pair
	// and returns the mean squared error measured before the step.
	Train(x, y []float64, lr float64) (float64, error)
}

// Fitter is implemented by models with a closed-form initial fit, which the
// training loop runs once on the training partition before the first epoch.
type Fitter interface {
	Fit(xs, ys [][]float64) error
}

// New builds a freshly initialised model of the given kind. rng is used for
// weight initialisation only.
func New(kind Kind, shape Shape, params Params, rng *rand.Rand) (Model, error) {
	if err := shape.validate(); err != nil {
		return nil, err
	}
	switch kind {
	case KindLSTM:
		return NewLSTM(shape, params, rng)
	case KindTCN:
		return NewTCN(shape, params, rng)
	case KindMLP:
		return NewMLP(shape, params, rng)
	case KindLinear:
		return NewLinear(shape, rng), nil
	case KindPersistence:
		return NewPersistence(shape), nil
	default:
		return nil, fmt.Errorf("unsupported model kind %v", kind)
	}
}

type envelope struct {
	Kind  Kind            `json:"kind"`
	State json.RawMessage `json:"state"`
}

// Save writes m to w as JSON.
func Save(w io.Writer, m Model) error {
	state, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding %v model: %w", m.Kind(), err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(envelope{Kind: m.Kind(), State: state})
}

// Load reads a model written by Save.
func Load(r io.Reader) (Model, error) {
	var env envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, err
	}

	var m interface {
		Model
		restore() error
	}
	switch env.Kind {
	case KindLSTM:
		m = &LSTM{}
	case KindTCN:
		m = &TCN{}
	case KindMLP:
		m = &MLP{}
	case KindLinear:
		m = &Linear{}
	case KindPersistence:
		m = &Persistence{}
	default:
		return nil, fmt.Errorf("unsupported model kind %v", env.Kind)
	}
	if err := json.Unmarshal(env.State, m); err != nil {
		return nil, fmt.Errorf("decoding %v model: %w", env.Kind, err)
	}
	if err := m.restore(); err != nil {
		return nil, err
	}
	return m, nil
}

func checkSizes(s Shape, x, y []float64) error {
	if len(x) != s.InputSize() {
		return fmt.Errorf("input vector size %d =/= model input size %d", len(x), s.InputSize())
	}
	if y != nil && len(y) != s.OutputSize() {
		return fmt.Errorf("output vector size %d =/= model output size %d", len(y), s.OutputSize())
	}
	return nil
}

func mse(pred, y []float64) float64 {
	sum := 0.0
	for i := range pred {
		d := pred[i] - y[i]
		sum += d * d
	}
	return sum / float64(len(pred))
}

// sgdStep applies params -= lr*grads, with the gradients rescaled to a
// global L2 norm of at most clip when clip > 0, and zeroes grads.
func sgdStep(params, grads [][]float64, lr, clip float64) {
	scale := 1.0
	if clip > 0 {
		norm := 0.0
		for _, g := range grads {
			n := floats.Norm(g, 2)
			norm += n * n
		}
		norm = math.Sqrt(norm)
		if norm > clip {
			scale = clip / norm
		}
	}
	for i, p := range params {
		floats.AddScaled(p, -lr*scale, grads[i])
		floats.Scale(0, grads[i])
	}
}

// uniform fills w with values drawn from U(-limit, limit).
func uniform(rng *rand.Rand, w []float64, limit float64) {
	for i := range w {
		w[i] = (2*rng.Float64() - 1) * limit
	}
}

func fanInLimit(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}
