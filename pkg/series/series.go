// Package series holds the multi-channel time series used throughout
// quakecast, along with helpers for reading and writing them.
package series

import (
	"fmt"
	"math"
)

// Series represents a multi-channel time series sharing a single time index.
//
// When building or modifying a Series, you must guarantee that T is strictly
// increasing and that every channel has exactly len(T) values.
type Series struct {
	// T is the time index, one entry per sample
	T []float64

	// Channels[c][i] is the value of channel c at time T[i]
	Channels [][]float64

	// Names labels each channel, may be shorter than Channels
	Names []string
}

// Sample represents a single sample from one channel of a Series
type Sample struct {

	// The time component of the sample
	T float64

	// The value component of the sample
	S float64
}

// New creates a series from a time index and one or more channels.
func New(t []float64, channels ...[]float64) (*Series, error) {
	s := &Series{T: t, Channels: channels}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// FromValues creates a single channel series with the time index 0, 1, 2...
func FromValues(name string, values []float64) *Series {
	t := make([]float64, len(values))
	for i := range t {
		t[i] = float64(i)
	}
	return &Series{T: t, Channels: [][]float64{values}, Names: []string{name}}
}

// Size returns the number of samples in the series.
func (s *Series) Size() int {
	return len(s.T)
}

// NumChannels returns the number of channels in the series.
func (s *Series) NumChannels() int {
	return len(s.Channels)
}

// Name returns the label of channel c, or a generated one if unnamed.
func (s *Series) Name(c int) string {
	if c < len(s.Names) && s.Names[c] != "" {
		return s.Names[c]
	}
	return fmt.Sprintf("ch%d", c)
}

// Validate checks the time index ordering and the channel lengths.
func (s *Series) Validate() error {
	if len(s.Channels) == 0 {
		return fmt.Errorf("series has no channels")
	}
	for c, ch := range s.Channels {
		if len(ch) != len(s.T) {
			return fmt.Errorf("channel %d has %d values but time index has %d",
				c, len(ch), len(s.T))
		}
	}
	for i := 1; i < len(s.T); i++ {
		if !(s.T[i] > s.T[i-1]) {
			return fmt.Errorf("time index not strictly increasing at %d (%v <= %v)",
				i, s.T[i], s.T[i-1])
		}
	}
	return nil
}

// NearestIndex will return the index within a series which has a time value
// as close as possible to the specified time argument. It will return an
// index with a greater or equal value if overshoot is true, and a lesser or
// equal value if overshoot is false. It returns 0 if time is before the
// beginning of the series, and Size()-1 if time is after its end.
func (s *Series) NearestIndex(time float64, overshoot bool) int {
	if len(s.T) == 0 || time <= s.T[0] {
		return 0
	}
	last := len(s.T) - 1
	if time >= s.T[last] {
		return last
	}

	// binary search for the first index with T >= time
	lo, hi := 0, last
	for lo < hi {
		mid := (lo + hi) / 2
		if s.T[mid] < time {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if s.T[lo] == time || overshoot {
		return lo
	}
	return lo - 1
}

// Slice returns the samples in [from, to) as a new series sharing storage.
func (s *Series) Slice(from, to int) *Series {
	out := &Series{T: s.T[from:to], Names: s.Names}
	out.Channels = make([][]float64, len(s.Channels))
	for c, ch := range s.Channels {
		out.Channels[c] = ch[from:to]
	}
	return out
}

// Scale multiplies every value in place by k.
func (s *Series) Scale(k float64) {
	for _, ch := range s.Channels {
		for i := range ch {
			ch[i] *= k
		}
	}
}

// HasNaN reports whether any channel contains NaN or Inf.
func (s *Series) HasNaN() bool {
	for _, ch := range s.Channels {
		for _, v := range ch {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return true
			}
		}
	}
	return false
}

// SampleList adapts a slice of Samples to the plotter.XYer interface.
type SampleList []Sample

// Len implements plotter.XYer
func (l SampleList) Len() int {
	return len(l)
}

// XY implements plotter.XYer
func (l SampleList) XY(i int) (float64, float64) {
	return l[i].T, l[i].S
}

// Samples returns channel c as a SampleList.
func (s *Series) Samples(c int) SampleList {
	out := make(SampleList, len(s.T))
	for i, t := range s.T {
		out[i] = Sample{T: t, S: s.Channels[c][i]}
	}
	return out
}
