package model

// Persistence forecasts that every channel stays at its last observed value.
// It is the baseline the learned models have to beat.
type Persistence struct {
	ModelShape Shape `json:"shape"`
}

// NewPersistence builds a persistence baseline.
func NewPersistence(shape Shape) *Persistence {
	return &Persistence{ModelShape: shape}
}

func (m *Persistence) restore() error {
	return m.ModelShape.validate()
}

// Kind implements Model
func (m *Persistence) Kind() Kind {
	return KindPersistence
}

// Shape implements Model
func (m *Persistence) Shape() Shape {
	return m.ModelShape
}

// Predict implements Model
func (m *Persistence) Predict(x []float64) ([]float64, error) {
	if err := checkSizes(m.ModelShape, x, nil); err != nil {
		return nil, err
	}
	c := m.ModelShape.Channels
	last := x[len(x)-c:]
	out := make([]float64, m.ModelShape.OutputSize())
	for step := 0; step < m.ModelShape.Forecast; step++ {
		copy(out[step*c:(step+1)*c], last)
	}
	return out, nil
}

// Train implements Model. There is nothing to learn; the loss is reported
// so the baseline shows up in the training curves.
func (m *Persistence) Train(x, y []float64, lr float64) (float64, error) {
	if err := checkSizes(m.ModelShape, x, y); err != nil {
		return 0, err
	}
	pred, err := m.Predict(x)
	if err != nil {
		return 0, err
	}
	return mse(pred, y), nil
}
