package model

import (
	"fmt"
	"math"
	"math/rand"
)

// Layer is one fully connected layer of an MLP.
type Layer struct {

	// Previous layer, nil for input layer
	Prev *Layer `json:"-"`

	// Next layer, nil for output layer
	Next *Layer `json:"-"`

	// Weight[j * Prev.TotalNeurons() + i] = weight for neuron j in THIS
	// layer coming in from the output of neuron i in the PREVIOUS layer.
	Weight []float64 `json:"weight"`

	Bias []float64 `json:"bias"`

	// Outputs for this layer before activation (in_j)
	Output []float64 `json:"-"`

	// The output after activation (a_j)
	Activation []float64 `json:"-"`

	Delta []float64 `json:"-"`
}

// TotalNeurons returns the width of the layer.
func (l *Layer) TotalNeurons() int {
	return len(l.Bias)
}

// GetWeight retrieves the weight associated with the link from prevNeuron
// in the previous layer, to thisNeuron in this layer.
func (l *Layer) GetWeight(thisNeuron, prevNeuron int) float64 {
	// input layer
	if l.Prev == nil {
		return 1.0
	}
	return l.Weight[thisNeuron*l.Prev.TotalNeurons()+prevNeuron]
}

// SetWeight overwrites the weight of the link from prevNeuron to thisNeuron.
func (l *Layer) SetWeight(thisNeuron, prevNeuron int, newWeight float64) {
	if l.Prev == nil {
		return
	}
	l.Weight[thisNeuron*l.Prev.TotalNeurons()+prevNeuron] = newWeight
}

// NewLayer allocates a layer of the given size linked back to prev. Weights
// are drawn from rng, scaled by the fan-in; biases start at zero.
func NewLayer(size int, prev *Layer, rng *rand.Rand) *Layer {
	l := &Layer{
		Prev: prev,
		Bias: make([]float64, size),
	}
	l.allocate()

	if prev != nil {
		l.Weight = make([]float64, size*prev.TotalNeurons())
		uniform(rng, l.Weight, fanInLimit(prev.TotalNeurons()))
	} else {
		// This is the inputlayer, so there are no weights
		l.Weight = nil
	}

	return l
}

func (l *Layer) allocate() {
	size := len(l.Bias)
	l.Delta = make([]float64, size)
	l.Output = make([]float64, size)
	l.Activation = make([]float64, size)
}

// MLP is a multilayer perceptron trained by backpropagation.
type MLP struct {
	ModelShape  Shape    `json:"shape"`
	ModelParams Params   `json:"params"`
	Layer       []*Layer `json:"layers"`

	ActivationFunction      func(float64) float64 `json:"-"`
	DerivActivationFunction func(float64) float64 `json:"-"`
}

// NewMLP builds an MLP with params.Layers hidden layers of params.HiddenSize
// neurons between the input window and the forecast.
func NewMLP(shape Shape, params Params, rng *rand.Rand) (*MLP, error) {
	if params.HiddenSize < 1 || params.Layers < 1 {
		return nil, fmt.Errorf("MLP needs hidden size and layers >= 1, got %d and %d",
			params.HiddenSize, params.Layers)
	}
	if params.Activation == "" {
		params.Activation = "relu"
	}

	nn := &MLP{ModelShape: shape, ModelParams: params}
	if err := nn.setActivation(); err != nil {
		return nil, err
	}

	layerSizes := []int{shape.InputSize()}
	for i := 0; i < params.Layers; i++ {
		layerSizes = append(layerSizes, params.HiddenSize)
	}
	layerSizes = append(layerSizes, shape.OutputSize())

	// generate the layers and their links back to the previous layers
	nn.Layer = make([]*Layer, len(layerSizes))
	for i, v := range layerSizes {
		if i == 0 {
			nn.Layer[i] = NewLayer(v, nil, rng)
		} else {
			nn.Layer[i] = NewLayer(v, nn.Layer[i-1], rng)
		}
	}
	nn.link()

	return nn, nil
}

func (nn *MLP) setActivation() error {
	switch nn.ModelParams.Activation {
	case "relu":
		nn.ActivationFunction, nn.DerivActivationFunction = ReLU, ReLUDeriv
	case "tanh":
		nn.ActivationFunction, nn.DerivActivationFunction = math.Tanh, TanhDeriv
	default:
		return fmt.Errorf("unknown activation %q", nn.ModelParams.Activation)
	}
	return nil
}

// link generates the Prev/Next pointers between consecutive layers.
func (nn *MLP) link() {
	for i, layer := range nn.Layer {
		layer.Prev, layer.Next = nil, nil
		if i > 0 {
			layer.Prev = nn.Layer[i-1]
		}
		if i < len(nn.Layer)-1 {
			layer.Next = nn.Layer[i+1]
		}
	}
}

func (nn *MLP) restore() error {
	if len(nn.Layer) < 2 {
		return fmt.Errorf("MLP state has %d layers", len(nn.Layer))
	}
	if err := nn.setActivation(); err != nil {
		return err
	}
	nn.link()
	for i, layer := range nn.Layer {
		layer.allocate()
		if i > 0 && len(layer.Weight) != layer.TotalNeurons()*layer.Prev.TotalNeurons() {
			return fmt.Errorf("MLP layer %d has %d weights", i, len(layer.Weight))
		}
	}
	return nil
}

// Kind implements Model
func (nn *MLP) Kind() Kind {
	return KindMLP
}

// Shape implements Model
func (nn *MLP) Shape() Shape {
	return nn.ModelShape
}

// InputLayer returns the first layer.
func (nn *MLP) InputLayer() *Layer {
	return nn.Layer[0]
}

// OutputLayer returns the last layer.
func (nn *MLP) OutputLayer() *Layer {
	return nn.Layer[len(nn.Layer)-1]
}

// ReLU is the rectified linear activation.
func ReLU(x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

// ReLUDeriv is the derivative of ReLU.
func ReLUDeriv(x float64) float64 {
	if x > 0 {
		return 1
	}
	return 0
}

// TanhDeriv is the derivative of math.Tanh.
func TanhDeriv(x float64) float64 {
	t := math.Tanh(x)
	return 1 - t*t
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-1.0*x))
}

// ForwardPass propagates input through the network. The output layer is
// linear; hidden layers use ActivationFunction.
func (nn *MLP) ForwardPass(input []float64) error {
	// The input must be the same size as the input layer, for obvious
	// reasons.
	if len(input) != nn.InputLayer().TotalNeurons() {
		return fmt.Errorf("input vector size %d =/= input layer size %d",
			len(input), nn.InputLayer().TotalNeurons())
	}

	// copy input data into input layer outputs
	for i := 0; i < nn.InputLayer().TotalNeurons(); i++ {
		nn.InputLayer().Activation[i] = input[i]

		// in_j is not used for the input layer
		nn.InputLayer().Output[i] = 0
	}

	// consider remaining layers
	for l := 1; l < len(nn.Layer); l++ {
		layer := nn.Layer[l]
		isOutput := layer.Next == nil
		for j := 0; j < layer.TotalNeurons(); j++ {
			// in_j ← ∑i w_i,j ai + b_j
			sum := layer.Bias[j]
			for i := 0; i < layer.Prev.TotalNeurons(); i++ {
				sum += layer.Prev.Activation[i] * layer.GetWeight(j, i)
			}

			// We save in_j because we need it later for computing
			// the Δ values
			layer.Output[j] = sum

			if isOutput {
				layer.Activation[j] = sum
			} else {
				layer.Activation[j] = nn.ActivationFunction(sum)
			}
		}
	}

	return nil
}

// BackwardPass computes the Δ values for every layer given the expected
// output of the last forward pass.
func (nn *MLP) BackwardPass(output []float64) error {
	if len(output) != nn.OutputLayer().TotalNeurons() {
		return fmt.Errorf("output vector size %d =/= output layer size %d",
			len(output), nn.OutputLayer().TotalNeurons())
	}

	// the output layer is linear, so g'(in_j) = 1 and Δ[j] = y_j - a_j
	out := nn.OutputLayer()
	for j := 0; j < out.TotalNeurons(); j++ {
		out.Delta[j] = output[j] - out.Activation[j]
	}

	// and for the hidden layers; the input layer needs no Δ
	for l := len(nn.Layer) - 2; l >= 1; l-- {
		layer := nn.Layer[l]
		for i := 0; i < layer.TotalNeurons(); i++ {
			// Δ[i] ← g'(in_i) ∑j w_i,j Δ[j]
			//
			//    The indices appear reversed because of how
			//    GetWeight() is written, j is the destination
			//    neuron on layer.Next, i is the neuron in this
			//    current layer.
			layer.Delta[i] = 0
			for j := 0; j < layer.Next.TotalNeurons(); j++ {
				layer.Delta[i] += layer.Next.GetWeight(j, i) * layer.Next.Delta[j]
			}
			layer.Delta[i] *= nn.DerivActivationFunction(layer.Output[i])
		}
	}

	return nil
}

// UpdateWeights applies w_j,i ← w_j,i + α × a_i × Δ[j] using the Δ values
// of the last backward pass.
func (nn *MLP) UpdateWeights(alpha float64) {
	for l := 1; l < len(nn.Layer); l++ {
		layer := nn.Layer[l]
		for j := 0; j < layer.TotalNeurons(); j++ {
			for i := 0; i < layer.Prev.TotalNeurons(); i++ {
				layer.SetWeight(j, i,
					layer.GetWeight(j, i)+alpha*layer.Prev.Activation[i]*layer.Delta[j])
			}

			// the a_i for the bias is implied to be 1
			layer.Bias[j] += alpha * layer.Delta[j]
		}
	}
}

// Train implements Model
func (nn *MLP) Train(input, output []float64, lr float64) (float64, error) {
	if err := checkSizes(nn.ModelShape, input, output); err != nil {
		return 0, err
	}
	if err := nn.ForwardPass(input); err != nil {
		return 0, err
	}
	loss := mse(nn.OutputLayer().Activation, output)

	if err := nn.BackwardPass(output); err != nil {
		return 0, err
	}

	nn.UpdateWeights(lr)

	return loss, nil
}

// Predict implements Model
func (nn *MLP) Predict(input []float64) ([]float64, error) {
	if err := nn.ForwardPass(input); err != nil {
		return nil, err
	}

	return append([]float64(nil), nn.OutputLayer().Activation...), nil
}
