package preprocess

import (
	"fmt"

	"github.com/herclab/quakecast/pkg/series"
)

// NumWindows returns how many (lookback, forecast) pairs fit in n samples
// at the given stride, or 0 if none do.
func NumWindows(n, lookback, forecast, stride int) int {
	if lookback < 1 || forecast < 1 || stride < 1 || n < lookback+forecast {
		return 0
	}
	return (n-lookback-forecast)/stride + 1
}

// MakeWindows slices s into supervised pairs. Input window i holds samples
// [i*stride, i*stride+lookback) and target window i holds the forecast
// samples that immediately follow it, for every channel.
func MakeWindows(s *series.Series, lookback, forecast, stride int) (x, y *Tensor, err error) {
	if lookback < 1 || forecast < 1 {
		return nil, nil, fmt.Errorf("lookback and forecast must be >= 1, got %d and %d", lookback, forecast)
	}
	if stride < 1 {
		return nil, nil, fmt.Errorf("stride must be >= 1, got %d", stride)
	}
	n := s.Size()
	if n < lookback+forecast {
		return nil, nil, fmt.Errorf("%w: %d samples cannot hold lookback %d + forecast %d",
			ErrInsufficientData, n, lookback, forecast)
	}

	windows := NumWindows(n, lookback, forecast, stride)
	channels := s.NumChannels()
	x = NewTensor(windows, lookback, channels)
	y = NewTensor(windows, forecast, channels)

	for w := 0; w < windows; w++ {
		start := w * stride
		for c, ch := range s.Channels {
			for step := 0; step < lookback; step++ {
				x.Set(w, step, c, ch[start+step])
			}
			for step := 0; step < forecast; step++ {
				y.Set(w, step, c, ch[start+lookback+step])
			}
		}
	}

	return x, y, nil
}
