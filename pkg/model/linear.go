package model

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ridge is the L2 penalty of the closed-form fit, keeping it well posed when
// there are fewer training windows than inputs.
const ridge = 1e-3

// Linear predicts every forecast value as an affine function of the whole
// input window.
type Linear struct {
	ModelShape Shape `json:"shape"`

	// W is row-major OutputSize x InputSize
	W []float64 `json:"w"`
	B []float64 `json:"b"`
}

// NewLinear builds a linear model with small random weights.
func NewLinear(shape Shape, rng *rand.Rand) *Linear {
	m := &Linear{
		ModelShape: shape,
		W:          make([]float64, shape.OutputSize()*shape.InputSize()),
		B:          make([]float64, shape.OutputSize()),
	}
	uniform(rng, m.W, 0.1*fanInLimit(shape.InputSize()))
	return m
}

func (m *Linear) restore() error {
	if len(m.W) != m.ModelShape.OutputSize()*m.ModelShape.InputSize() || len(m.B) != m.ModelShape.OutputSize() {
		return fmt.Errorf("linear model state does not match shape %+v", m.ModelShape)
	}
	return nil
}

// Kind implements Model
func (m *Linear) Kind() Kind {
	return KindLinear
}

// Shape implements Model
func (m *Linear) Shape() Shape {
	return m.ModelShape
}

// Predict implements Model
func (m *Linear) Predict(x []float64) ([]float64, error) {
	if err := checkSizes(m.ModelShape, x, nil); err != nil {
		return nil, err
	}
	n := len(x)
	out := make([]float64, len(m.B))
	for j := range out {
		out[j] = floats.Dot(m.W[j*n:(j+1)*n], x) + m.B[j]
	}
	return out, nil
}

// Train implements Model
func (m *Linear) Train(x, y []float64, lr float64) (float64, error) {
	pred, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	if len(y) != len(pred) {
		return 0, fmt.Errorf("output vector size %d =/= model output size %d", len(y), len(pred))
	}
	loss := mse(pred, y)

	n := len(x)
	for j := range pred {
		d := y[j] - pred[j]
		floats.AddScaled(m.W[j*n:(j+1)*n], lr*d, x)
		m.B[j] += lr * d
	}
	return loss, nil
}

// Fit implements Fitter with a ridge-regularised least squares solve.
func (m *Linear) Fit(xs, ys [][]float64) error {
	rows := len(xs)
	if rows == 0 || rows != len(ys) {
		return fmt.Errorf("linear fit needs matching non-empty inputs, got %d and %d", len(xs), len(ys))
	}
	in, out := m.ModelShape.InputSize(), m.ModelShape.OutputSize()
	cols := in + 1

	// the ridge rows are appended below the data so the system is always
	// overdetermined with full column rank
	a := mat.NewDense(rows+cols, cols, nil)
	b := mat.NewDense(rows+cols, out, nil)
	for r := 0; r < rows; r++ {
		if len(xs[r]) != in || len(ys[r]) != out {
			return fmt.Errorf("window %d has sizes %d/%d, expected %d/%d", r, len(xs[r]), len(ys[r]), in, out)
		}
		a.SetRow(r, append(append(make([]float64, 0, cols), xs[r]...), 1))
		b.SetRow(r, ys[r])
	}
	penalty := math.Sqrt(ridge)
	for c := 0; c < cols; c++ {
		a.Set(rows+c, c, penalty)
	}

	var sol mat.Dense
	if err := sol.Solve(a, b); err != nil {
		return fmt.Errorf("linear fit: %w", err)
	}

	// sol is cols x out
	for j := 0; j < out; j++ {
		for i := 0; i < in; i++ {
			m.W[j*in+i] = sol.At(i, j)
		}
		m.B[j] = sol.At(in, j)
	}
	return nil
}
