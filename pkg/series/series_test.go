package series

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	s := &Series{
		T:        []float64{1, 2, 3},
		Channels: [][]float64{{1, 2, 3}},
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() should NOT have errored but did: %v", err)
	}

	s.Channels[0] = append(s.Channels[0], 4)
	if err := s.Validate(); err == nil {
		t.Errorf("Validate failed to detect corrupted channel length")
	}

	s = &Series{
		T:        []float64{1, 2, 2},
		Channels: [][]float64{{1, 2, 3}},
	}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate failed to detect repeated timestamp")
	}

	s = &Series{T: []float64{1}}
	if err := s.Validate(); err == nil {
		t.Errorf("Validate failed to detect missing channels")
	}
}

func TestNearestIndex(t *testing.T) {
	s := &Series{
		T:        []float64{1, 2, 3},
		Channels: [][]float64{{1, 2, 3}},
	}

	cases := []struct {
		time      float64
		overshoot bool
		expect    int
	}{
		{0, true, 0},
		{0, false, 0},
		{0.5, true, 0},
		{0.5, false, 0},
		{1, true, 0},
		{1, false, 0},
		{1.5, true, 1},
		{1.5, false, 0},
		{2.5, true, 2},
		{2.5, false, 1},
		{3, false, 2},
		{3, true, 2},
		{3.5, false, 2},
		{3.5, true, 2},
		{4.5, false, 2},
		{4.5, true, 2},
	}

	for i, c := range cases {
		res := s.NearestIndex(c.time, c.overshoot)
		if res != c.expect {
			t.Errorf("Test case %d failed: NearestIndex(%f, %v)=%d, but expected %d",
				i, c.time, c.overshoot, res, c.expect)
		}
	}

	s = &Series{}
	if s.NearestIndex(0, true) != 0 || s.NearestIndex(0, false) != 0 {
		t.Errorf("NearestIndex does not correctly handle zero-length case.")
	}
}

func TestSliceAndScale(t *testing.T) {
	s, err := New([]float64{0, 1, 2, 3}, []float64{1, 2, 3, 4}, []float64{10, 20, 30, 40})
	require.NoError(t, err)

	sub := s.Slice(1, 3)
	assert.Equal(t, []float64{1, 2}, sub.T)
	assert.Equal(t, []float64{2, 3}, sub.Channels[0])
	assert.Equal(t, []float64{20, 30}, sub.Channels[1])

	s.Scale(0.5)
	assert.Equal(t, []float64{0.5, 1, 1.5, 2}, s.Channels[0])
	assert.False(t, s.HasNaN())
	assert.Equal(t, "ch1", s.Name(1))
}

func TestReadCSV(t *testing.T) {
	in := "time,obs_shear_stress,obs_normal_stress\n" +
		"0.0,1.5,7\n" +
		"0.1,1.6,7\n" +
		"0.2,1.4,8\n"

	s, err := ReadCSV(strings.NewReader(in), CSVOptions{
		TimeColumn:   "time",
		ValueColumns: []string{"obs_shear_stress"},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 1, s.NumChannels())
	assert.Equal(t, "obs_shear_stress", s.Name(0))
	assert.Equal(t, []float64{1.5, 1.6, 1.4}, s.Channels[0])
	assert.InDelta(t, 0.2, s.T[2], 1e-12)

	all, err := ReadCSV(strings.NewReader(in), CSVOptions{TimeColumn: "time"})
	require.NoError(t, err)
	assert.Equal(t, 2, all.NumChannels())

	_, err = ReadCSV(strings.NewReader(in), CSVOptions{ValueColumns: []string{"missing"}})
	assert.Error(t, err)

	_, err = ReadCSV(strings.NewReader("t,v\n0,1\n0,2\n"), CSVOptions{TimeColumn: "t"})
	assert.Error(t, err, "duplicate timestamps must be rejected")
}

func TestCSVRoundTrip(t *testing.T) {
	s, err := New([]float64{0, 0.5, 1}, []float64{3, 2, 1})
	require.NoError(t, err)
	s.Names = []string{"seg_1_avg"}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, s))

	back, err := ReadCSV(&buf, CSVOptions{TimeColumn: "t"})
	require.NoError(t, err)
	assert.Equal(t, s.T, back.T)
	assert.Equal(t, s.Channels, back.Channels)
	assert.Equal(t, s.Names, back.Names)
}

func TestReadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "series.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"T": [0, 1, 2], "Channels": [[3, 2, 1]], "Names": ["seg_1_avg"]}`), 0o644))

	s, err := ReadJSON(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, s.T)
	assert.Equal(t, [][]float64{{3, 2, 1}}, s.Channels)
	assert.Equal(t, "seg_1_avg", s.Name(0))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"T": [0, 1], "Channels": [[1]]}`), 0o644))
	_, err = ReadJSON(bad)
	assert.Error(t, err)
}

func TestSamples(t *testing.T) {
	s := FromValues("x", []float64{5, 6})
	l := s.Samples(0)
	require.Equal(t, 2, l.Len())
	x, y := l.XY(1)
	assert.Equal(t, 1.0, x)
	assert.Equal(t, 6.0, y)
}
