// Package preprocess turns a raw time series into leakage-free, normalized
// supervised windows: causal smoothing and downsampling, a statistical gate,
// windowing, chronological splitting and train-only normalization.
package preprocess

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInsufficientData is returned when the requested smoothing window,
	// lookback, forecast or partition sizes need more samples than exist.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrDegenerateScale is returned when a channel has (near) zero variance
	// in the training partition.
	ErrDegenerateScale = errors.New("degenerate scale")

	// ErrNonFinite is returned when a tensor holds NaN or Inf values.
	ErrNonFinite = errors.New("non-finite values")
)

// Tensor is a dense block of windows laid out as [window][step][channel].
type Tensor struct {
	Windows  int
	Steps    int
	Channels int

	// Data[(w*Steps+s)*Channels+c]
	Data []float64
}

// checkFinite returns ErrNonFinite naming the first NaN or Inf in t.
func (t *Tensor) checkFinite() error {
	for i, v := range t.Data {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			step := i / t.Channels
			return fmt.Errorf("%w: %v in window %d step %d channel %d",
				ErrNonFinite, v, step/t.Steps, step%t.Steps, i%t.Channels)
		}
	}
	return nil
}

// NewTensor allocates a zeroed tensor.
func NewTensor(windows, steps, channels int) *Tensor {
	return &Tensor{
		Windows:  windows,
		Steps:    steps,
		Channels: channels,
		Data:     make([]float64, windows*steps*channels),
	}
}

// WindowSize is the number of values in a single window.
func (t *Tensor) WindowSize() int {
	return t.Steps * t.Channels
}

// Window returns the flat values of window w. The slice aliases t.Data.
func (t *Tensor) Window(w int) []float64 {
	n := t.WindowSize()
	return t.Data[w*n : (w+1)*n]
}

// At returns the value of channel c at step s of window w.
func (t *Tensor) At(w, s, c int) float64 {
	return t.Data[(w*t.Steps+s)*t.Channels+c]
}

// Set stores v at channel c, step s of window w.
func (t *Tensor) Set(w, s, c int, v float64) {
	t.Data[(w*t.Steps+s)*t.Channels+c] = v
}

// Slice returns windows [from, to) as a tensor sharing storage with t.
func (t *Tensor) Slice(from, to int) *Tensor {
	if from < 0 || to > t.Windows || from > to {
		panic(fmt.Sprintf("tensor slice [%d:%d] out of range for %d windows", from, to, t.Windows))
	}
	n := t.WindowSize()
	return &Tensor{
		Windows:  to - from,
		Steps:    t.Steps,
		Channels: t.Channels,
		Data:     t.Data[from*n : to*n],
	}
}

// Clone returns a deep copy of t.
func (t *Tensor) Clone() *Tensor {
	out := *t
	out.Data = append([]float64(nil), t.Data...)
	return &out
}

// Channel gathers every value of channel c across all windows and steps.
func (t *Tensor) Channel(c int) []float64 {
	out := make([]float64, 0, t.Windows*t.Steps)
	for i := c; i < len(t.Data); i += t.Channels {
		out = append(out, t.Data[i])
	}
	return out
}
