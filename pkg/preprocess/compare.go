package preprocess

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/herclab/quakecast/pkg/series"
)

// ChannelComparison is the two-sample Kolmogorov-Smirnov result for one
// channel.
type ChannelComparison struct {
	Channel   string
	Statistic float64
	PValue    float64
}

// Comparison reports whether a processed series kept the statistical
// character of the original.
type Comparison struct {
	Alpha      float64
	Channels   []ChannelComparison
	Compatible bool
}

// CompareStatistics runs a two-sample KS test per channel between orig and
// processed. The series are compatible when no channel rejects the null
// hypothesis of a common distribution at significance level alpha. The
// verdict is left to the caller to act on.
func CompareStatistics(orig, processed *series.Series, alpha float64) (Comparison, error) {
	if alpha <= 0 || alpha >= 1 {
		return Comparison{}, fmt.Errorf("significance level must be in (0, 1), got %v", alpha)
	}
	if orig.NumChannels() != processed.NumChannels() {
		return Comparison{}, fmt.Errorf("channel count mismatch: %d vs %d",
			orig.NumChannels(), processed.NumChannels())
	}
	if orig.Size() == 0 || processed.Size() == 0 {
		return Comparison{}, fmt.Errorf("%w: cannot compare empty series", ErrInsufficientData)
	}

	res := Comparison{Alpha: alpha, Compatible: true}
	for c := range orig.Channels {
		d, p := KSTest(orig.Channels[c], processed.Channels[c])
		res.Channels = append(res.Channels, ChannelComparison{
			Channel:   orig.Name(c),
			Statistic: d,
			PValue:    p,
		})
		if p <= alpha {
			res.Compatible = false
		}
	}
	return res, nil
}

// KSTest returns the two-sample Kolmogorov-Smirnov statistic of a and b and
// its asymptotic p-value. Neither input is modified.
func KSTest(a, b []float64) (d, p float64) {
	x := append([]float64(nil), a...)
	y := append([]float64(nil), b...)
	sort.Float64s(x)
	sort.Float64s(y)

	d = stat.KolmogorovSmirnov(x, nil, y, nil)

	n, m := float64(len(x)), float64(len(y))
	en := math.Sqrt(n * m / (n + m))
	return d, kolmogorovQ((en + 0.12 + 0.11/en) * d)
}

// kolmogorovQ is the complementary CDF of the Kolmogorov distribution.
func kolmogorovQ(lambda float64) float64 {
	if lambda < 0.2 {
		return 1
	}
	sum := 0.0
	sign := 1.0
	for j := 1; j <= 100; j++ {
		term := sign * math.Exp(-2*float64(j*j)*lambda*lambda)
		sum += term
		if math.Abs(term) < 1e-12 {
			break
		}
		sign = -sign
	}
	q := 2 * sum
	return math.Max(0, math.Min(1, q))
}
