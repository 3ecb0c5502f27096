// package wavegen is used for generating synthetic slow-earthquake like
// signals, for demos and for exercising the pipeline without lab data.
package wavegen

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/herclab/quakecast/pkg/series"
)

// WaveParameters is used to store the parameters that generate a particular
// wave. See GenerateSyntheticData().
type WaveParameters struct {
	// SampleRate is the sample rate at which the wave should be generated,
	// in Hz
	SampleRate float64

	// Offset is the time at which samples should begin being collected, in
	// seconds
	Offset float64

	// Duration is the length of the generated signal, in seconds
	Duration float64

	// Frequencies is the list of frequencies of Sin wave that should be
	// generated
	Frequencies []float64

	// Phases is the list of phases of the Sin waves that should be
	// generated
	Phases []float64

	// Amplitudes is the list of amplitudes of Sin that should be generated
	Amplitudes []float64

	// SlipPeriod is the recurrence interval of stick-slip events in
	// seconds. Zero disables the sawtooth component.
	SlipPeriod float64

	// SlipDrop is the stress drop of each stick-slip event; the loading
	// ramp rises by the same amount over SlipPeriod.
	SlipDrop float64

	// Channels is the number of segments to generate. Every extra segment
	// is the same process delayed by SegmentLag seconds.
	Channels int

	// SegmentLag delays each successive segment, in seconds
	SegmentLag float64

	// Noise accepts these values:
	//
	// * "normal" (rand.NormFloat64)
	// * "" (no noise)
	Noise string

	// NoiseMagnitude is the coefficient applied to the noise function. If
	// zero, it is assumed to be 1.0.
	NoiseMagnitude float64
}

// DefaultParameters returns a lab-like shear stress signal: slow loading
// cycles with small oscillations and a little measurement noise.
func DefaultParameters() WaveParameters {
	return WaveParameters{
		SampleRate:     10,
		Duration:       400,
		Frequencies:    []float64{0.05},
		Phases:         []float64{0},
		Amplitudes:     []float64{0.05},
		SlipPeriod:     40,
		SlipDrop:       1,
		Channels:       1,
		SegmentLag:     3,
		Noise:          "normal",
		NoiseMagnitude: 0.01,
	}
}

// GenerateSyntheticData generates a signal which is a composition of a
// stick-slip sawtooth and several Sin functions of the given frequencies,
// phases, and amplitudes, with noise optionally applied. rng is only used
// for noise.
func (w *WaveParameters) GenerateSyntheticData(rng *rand.Rand) (*series.Series, error) {
	if (len(w.Frequencies) != len(w.Phases)) || (len(w.Frequencies) != len(w.Amplitudes)) {
		return nil, fmt.Errorf("frequencies, phases, amplitudes must be the same length")
	}
	if w.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %v", w.SampleRate)
	}

	noise, err := w.noiseFunc(rng)
	if err != nil {
		return nil, err
	}

	// number of points to generate
	points := int(math.Ceil(w.SampleRate * w.Duration))
	samplePeriod := 1.0 / w.SampleRate

	channels := w.Channels
	if channels < 1 {
		channels = 1
	}

	s := &series.Series{
		T:        make([]float64, points),
		Channels: make([][]float64, channels),
		Names:    make([]string, channels),
	}
	for c := range s.Channels {
		s.Channels[c] = make([]float64, points)
		s.Names[c] = fmt.Sprintf("seg_%d", c+1)
	}

	for i := 0; i < points; i++ {
		s.T[i] = w.Offset + samplePeriod*float64(i)
		for c := range s.Channels {
			t := s.T[i] - float64(c)*w.SegmentLag
			s.Channels[c][i] = w.value(t) + noise()
		}
	}

	return s, nil
}

func (w *WaveParameters) value(t float64) float64 {
	v := 0.0
	if w.SlipPeriod > 0 {
		phase := math.Mod(t, w.SlipPeriod)
		if phase < 0 {
			phase += w.SlipPeriod
		}
		v += w.SlipDrop * phase / w.SlipPeriod
	}
	for j, freq := range w.Frequencies {
		v += w.Amplitudes[j] * math.Sin(2*math.Pi*freq*t+w.Phases[j])
	}
	return v
}

func (w *WaveParameters) noiseFunc(rng *rand.Rand) (func() float64, error) {
	mag := w.NoiseMagnitude
	if mag == 0 {
		mag = 1.0
	}
	switch w.Noise {
	case "":
		return func() float64 { return 0 }, nil
	case "normal":
		if rng == nil {
			return nil, fmt.Errorf("normal noise requires a random source")
		}
		return func() float64 { return mag * rng.NormFloat64() }, nil
	default:
		return nil, fmt.Errorf("unknown noise function %q", w.Noise)
	}
}
