package preprocess

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// MinStd is the smallest per-channel standard deviation Normalize accepts.
const MinStd = 1e-12

// Scaler is a per-channel z-score transform.
type Scaler struct {
	Mean []float64 `json:"mean" yaml:"mean"`
	Std  []float64 `json:"std" yaml:"std"`
}

// FitScaler computes per-channel mean and population standard deviation over
// every window and step of t.
func FitScaler(t *Tensor) (*Scaler, error) {
	if t.Windows == 0 || t.Steps == 0 {
		return nil, fmt.Errorf("%w: cannot fit a scaler on an empty tensor", ErrInsufficientData)
	}
	if err := t.checkFinite(); err != nil {
		return nil, err
	}
	s := &Scaler{
		Mean: make([]float64, t.Channels),
		Std:  make([]float64, t.Channels),
	}
	for c := 0; c < t.Channels; c++ {
		values := t.Channel(c)
		mean, variance := stat.PopMeanVariance(values, nil)
		std := math.Sqrt(variance)
		if !(std >= MinStd) {
			return nil, fmt.Errorf("%w: channel %d has std %g in the training data", ErrDegenerateScale, c, std)
		}
		s.Mean[c] = mean
		s.Std[c] = std
	}
	return s, nil
}

// Transform returns a normalized copy of t.
func (s *Scaler) Transform(t *Tensor) *Tensor {
	out := t.Clone()
	for i, v := range out.Data {
		c := i % t.Channels
		out.Data[i] = (v - s.Mean[c]) / s.Std[c]
	}
	return out
}

// Inverse returns a copy of t mapped back to physical units.
func (s *Scaler) Inverse(t *Tensor) *Tensor {
	out := t.Clone()
	s.InverseInPlace(out.Data, t.Channels)
	return out
}

// InverseInPlace de-normalizes a flat [step][channel] buffer.
func (s *Scaler) InverseInPlace(data []float64, channels int) {
	for i, v := range data {
		c := i % channels
		data[i] = v*s.Std[c] + s.Mean[c]
	}
}

// Dataset is the normalized bundle handed to the training loop. Validation
// tensors are nil when no validation partition was requested.
type Dataset struct {
	XTrain, YTrain *Tensor
	XVal, YVal     *Tensor
	XTest, YTest   *Tensor

	ScalerX *Scaler
	ScalerY *Scaler
}

// HasValidation reports whether the bundle carries a validation partition.
func (d *Dataset) HasValidation() bool {
	return d.XVal != nil
}

// Normalize fits one scaler on the train inputs and one on the train
// targets, then applies them unchanged to every partition in p. Every
// partition must be free of NaN and Inf.
func Normalize(p *Split) (*Dataset, error) {
	partitions := []struct {
		name string
		t    *Tensor
	}{
		{"train inputs", p.XTrain}, {"train targets", p.YTrain},
		{"validation inputs", p.XVal}, {"validation targets", p.YVal},
		{"test inputs", p.XTest}, {"test targets", p.YTest},
	}
	for _, part := range partitions {
		if part.t == nil {
			continue
		}
		if err := part.t.checkFinite(); err != nil {
			return nil, fmt.Errorf("%s: %w", part.name, err)
		}
	}

	sx, err := FitScaler(p.XTrain)
	if err != nil {
		return nil, fmt.Errorf("fitting input scaler: %w", err)
	}
	sy, err := FitScaler(p.YTrain)
	if err != nil {
		return nil, fmt.Errorf("fitting target scaler: %w", err)
	}

	d := &Dataset{
		XTrain:  sx.Transform(p.XTrain),
		YTrain:  sy.Transform(p.YTrain),
		XTest:   sx.Transform(p.XTest),
		YTest:   sy.Transform(p.YTest),
		ScalerX: sx,
		ScalerY: sy,
	}
	if p.HasValidation() {
		d.XVal = sx.Transform(p.XVal)
		d.YVal = sy.Transform(p.YVal)
	}
	return d, nil
}
