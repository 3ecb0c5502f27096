package preprocess

import "fmt"

// Range is a half-open range [From, To) of window indices.
type Range struct {
	From int
	To   int
}

// Len returns the number of windows in r.
func (r Range) Len() int {
	return r.To - r.From
}

// RawSpan returns the half-open range of raw sample indices touched by the
// windows in r, where each window covers span = lookback+forecast samples
// and successive windows start stride samples apart.
func (r Range) RawSpan(stride, span int) (from, to int) {
	if r.Len() <= 0 {
		return r.From * stride, r.From * stride
	}
	return r.From * stride, (r.To-1)*stride + span
}

// SplitOptions configures SplitWindows.
type SplitOptions struct {
	// Forecast is the expected target window length, checked against y
	// when non-zero.
	Forecast int

	// Test is the number of most recent windows held out for testing.
	Test int

	// Validation is the number of windows immediately preceding the test
	// partition held out for validation. Zero disables validation.
	Validation int

	// Gap is the number of windows discarded between adjacent partitions.
	Gap int
}

// PurgeGap returns the smallest gap, in windows, that keeps a train window
// from sharing any raw sample with a later partition when windows start
// stride samples apart: ceil((lookback+forecast)/stride)-1.
func PurgeGap(lookback, forecast, stride int) int {
	if stride < 1 {
		stride = 1
	}
	span := lookback + forecast
	return (span+stride-1)/stride - 1
}

// Split holds the chronologically ordered partitions of a window sequence.
// Every tensor shares storage with the tensors passed to SplitWindows.
type Split struct {
	XTrain, YTrain *Tensor
	XVal, YVal     *Tensor
	XTest, YTest   *Tensor

	Train, Val, Test Range
	Gap              int
}

// HasValidation reports whether a validation partition was requested.
func (p *Split) HasValidation() bool {
	return p.Val.Len() > 0
}

// SplitWindows partitions the windows from the end: the last opts.Test
// windows become the test partition, the opts.Validation windows before
// them the validation partition, and everything earlier the train
// partition, with opts.Gap windows dropped at every boundary.
//
// With a zero gap, windows on either side of a boundary overlap in raw
// samples (the last train targets are inputs of the first test windows).
// This matches how the lab experiments were originally evaluated; pass
// PurgeGap(lookback, forecast, stride) to remove the overlap entirely.
func SplitWindows(x, y *Tensor, opts SplitOptions) (*Split, error) {
	if x.Windows != y.Windows {
		return nil, fmt.Errorf("input and target window counts differ: %d vs %d", x.Windows, y.Windows)
	}
	if opts.Forecast != 0 && y.Steps != opts.Forecast {
		return nil, fmt.Errorf("target windows have %d steps, expected forecast %d", y.Steps, opts.Forecast)
	}
	if opts.Test < 1 {
		return nil, fmt.Errorf("test partition needs at least 1 window, got %d", opts.Test)
	}
	if opts.Validation < 0 || opts.Gap < 0 {
		return nil, fmt.Errorf("validation windows and gap must be >= 0, got %d and %d",
			opts.Validation, opts.Gap)
	}

	total := x.Windows
	held := opts.Test + opts.Gap
	if opts.Validation > 0 {
		held += opts.Validation + opts.Gap
	}
	if held >= total {
		return nil, fmt.Errorf("%w: %d test + %d validation windows (gap %d) leave no training windows out of %d",
			ErrInsufficientData, opts.Test, opts.Validation, opts.Gap, total)
	}

	p := &Split{Gap: opts.Gap}
	p.Test = Range{From: total - opts.Test, To: total}
	trainEnd := p.Test.From - opts.Gap
	if opts.Validation > 0 {
		p.Val = Range{From: trainEnd - opts.Validation, To: trainEnd}
		trainEnd = p.Val.From - opts.Gap
	} else {
		p.Val = Range{From: trainEnd, To: trainEnd}
	}
	p.Train = Range{From: 0, To: trainEnd}

	p.XTrain, p.YTrain = x.Slice(p.Train.From, p.Train.To), y.Slice(p.Train.From, p.Train.To)
	if p.HasValidation() {
		p.XVal, p.YVal = x.Slice(p.Val.From, p.Val.To), y.Slice(p.Val.From, p.Val.To)
	}
	p.XTest, p.YTest = x.Slice(p.Test.From, p.Test.To), y.Slice(p.Test.From, p.Test.To)

	return p, nil
}
