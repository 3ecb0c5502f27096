package wavegen

import (
	"math"
	"math/rand"
	"testing"
)

func TestGenerateSyntheticData(t *testing.T) {
	w := WaveParameters{
		SampleRate:  4,
		Duration:    2,
		Frequencies: []float64{1},
		Phases:      []float64{0},
		Amplitudes:  []float64{2},
	}

	s, err := w.GenerateSyntheticData(nil)
	if err != nil {
		t.Fatalf("GenerateSyntheticData() errored: %v", err)
	}

	if s.Size() != 8 {
		t.Errorf("expected 8 samples, got %d", s.Size())
	}

	eta := 0.0000001
	expect := []float64{0, 2, 0, -2, 0, 2, 0, -2}
	for i, e := range expect {
		if math.Abs(s.Channels[0][i]-e) > eta {
			t.Errorf("sample %d = %f, expected %f", i, s.Channels[0][i], e)
		}
		if math.Abs(s.T[i]-float64(i)*0.25) > eta {
			t.Errorf("time %d = %f, expected %f", i, s.T[i], float64(i)*0.25)
		}
	}
}

func TestSawtooth(t *testing.T) {
	w := WaveParameters{
		SampleRate: 1,
		Duration:   10,
		SlipPeriod: 5,
		SlipDrop:   1,
		Channels:   2,
		SegmentLag: 1,
	}

	s, err := w.GenerateSyntheticData(nil)
	if err != nil {
		t.Fatalf("GenerateSyntheticData() errored: %v", err)
	}

	cases := []struct {
		channel, index int
		expect         float64
	}{
		{0, 0, 0},
		{0, 1, 0.2},
		{0, 4, 0.8},
		{0, 5, 0},
		{1, 0, 0.8},
		{1, 1, 0},
		{1, 2, 0.2},
	}

	for i, c := range cases {
		got := s.Channels[c.channel][c.index]
		if math.Abs(got-c.expect) > 1e-9 {
			t.Errorf("Test case %d: channel %d index %d = %f, expected %f",
				i, c.channel, c.index, got, c.expect)
		}
	}

	if s.Name(1) != "seg_2" {
		t.Errorf("unexpected channel name %q", s.Name(1))
	}
}

func TestNoiseIsSeeded(t *testing.T) {
	w := DefaultParameters()

	a, err := w.GenerateSyntheticData(rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.GenerateSyntheticData(rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}

	for i := range a.Channels[0] {
		if a.Channels[0][i] != b.Channels[0][i] {
			t.Fatalf("same seed produced different noise at %d", i)
		}
	}
}

func TestBadParameters(t *testing.T) {
	w := WaveParameters{SampleRate: 1, Duration: 1, Frequencies: []float64{1}}
	if _, err := w.GenerateSyntheticData(nil); err == nil {
		t.Errorf("mismatched frequencies/phases should have errored")
	}

	w = WaveParameters{SampleRate: 1, Duration: 1, Noise: "normal"}
	if _, err := w.GenerateSyntheticData(nil); err == nil {
		t.Errorf("normal noise without a random source should have errored")
	}

	w = WaveParameters{SampleRate: 1, Duration: 1, Noise: "pink"}
	if _, err := w.GenerateSyntheticData(rand.New(rand.NewSource(1))); err == nil {
		t.Errorf("unknown noise should have errored")
	}
}
