package preprocess

import (
	"fmt"

	"github.com/herclab/quakecast/pkg/series"
)

// SmoothedLength returns the number of samples Smooth produces for a series
// of n samples, or 0 if n < window.
func SmoothedLength(n, window, factor int) int {
	if n < window || window < 1 || factor < 1 {
		return 0
	}
	kept := n - window + 1
	return (kept + factor - 1) / factor
}

// Smooth applies a causal moving average of the given window to every
// channel of s, then keeps every factor-th smoothed sample.
//
// Smoothed sample k is the mean of raw samples [k, k+window), stamped with
// the time of raw sample k+window-1, so only past and current samples
// contribute. The first window-1 raw samples have an incomplete history and
// are dropped. Downsampling keeps smoothed samples 0, factor, 2*factor, ...
// so the output has ceil((N-window+1)/factor) samples.
func Smooth(s *series.Series, window, factor int) (*series.Series, error) {
	if window < 1 {
		return nil, fmt.Errorf("smoothing window must be >= 1, got %d", window)
	}
	if factor < 1 {
		return nil, fmt.Errorf("downsampling factor must be >= 1, got %d", factor)
	}
	n := s.Size()
	if n < window {
		return nil, fmt.Errorf("%w: %d samples cannot fill a smoothing window of %d",
			ErrInsufficientData, n, window)
	}

	size := SmoothedLength(n, window, factor)
	out := &series.Series{
		T:        make([]float64, size),
		Channels: make([][]float64, s.NumChannels()),
		Names:    s.Names,
	}
	for k := 0; k < size; k++ {
		out.T[k] = s.T[k*factor+window-1]
	}

	w := float64(window)
	for c, raw := range s.Channels {
		smoothed := make([]float64, size)

		// running sum over raw[i-window+1 : i+1]
		sum := 0.0
		for i := 0; i < window-1; i++ {
			sum += raw[i]
		}
		for i := window - 1; i < n; i++ {
			sum += raw[i]
			k := i - window + 1
			if k%factor == 0 {
				smoothed[k/factor] = sum / w
			}
			sum -= raw[k]
		}
		out.Channels[c] = smoothed
	}

	return out, nil
}
