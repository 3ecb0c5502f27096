// Package eval computes forecast error metrics.
package eval

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// RMSE returns the root mean squared error between pred and truth.
func RMSE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	return floats.Distance(pred, truth, 2) / math.Sqrt(float64(len(pred)))
}

// MAE returns the mean absolute error between pred and truth.
func MAE(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	return floats.Distance(pred, truth, 1) / float64(len(pred))
}

// R2 returns the coefficient of determination of pred against truth.
func R2(pred, truth []float64) float64 {
	if len(pred) == 0 {
		return math.NaN()
	}
	return stat.RSquaredFrom(pred, truth, nil)
}

// Metrics bundles the scores of one prediction set.
type Metrics struct {
	RMSE float64 `yaml:"rmse" json:"rmse"`
	MAE  float64 `yaml:"mae" json:"mae"`
	R2   float64 `yaml:"r2" json:"r2"`
}

// Score computes all metrics at once.
func Score(pred, truth []float64) Metrics {
	return Metrics{
		RMSE: RMSE(pred, truth),
		MAE:  MAE(pred, truth),
		R2:   R2(pred, truth),
	}
}

// ScoreChannels scores each channel of interleaved [step][channel] data
// separately.
func ScoreChannels(pred, truth []float64, channels int) []Metrics {
	out := make([]Metrics, channels)
	for c := 0; c < channels; c++ {
		var p, y []float64
		for i := c; i < len(pred); i += channels {
			p = append(p, pred[i])
			y = append(y, truth[i])
		}
		out[c] = Score(p, y)
	}
	return out
}
