// Package nn implements the two-layer feed-forward network used as the
// agent's Q-function.
package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Parameters is a detached copy of the network weights and biases.
// Weights1 is input×hidden and Weights2 is hidden×output, row-major.
type Parameters struct {
	Weights1 [][]float64 `json:"weights1"`
	Weights2 [][]float64 `json:"weights2"`
	Bias1    []float64   `json:"bias1"`
	Bias2    []float64   `json:"bias2"`
}

// Network is a single-hidden-layer network with a sigmoid hidden layer and
// a linear output layer, trained by one-sample SGD.
type Network struct {
	inputSize    int
	hiddenSize   int
	outputSize   int
	learningRate float64

	w1 *mat.Dense // input × hidden
	w2 *mat.Dense // hidden × output
	b1 *mat.VecDense
	b2 *mat.VecDense

	// scratch space for Train
	in, hidden, out, target, outErr, hiddenErr *mat.VecDense
}

// New constructs a Network with weights drawn uniformly from [-1, 1] and
// zero biases.
func New(inputSize, hiddenSize, outputSize int, learningRate float64, rng *rand.Rand) *Network {
	n := &Network{
		inputSize:    inputSize,
		hiddenSize:   hiddenSize,
		outputSize:   outputSize,
		learningRate: learningRate,
		w1:           randomDense(inputSize, hiddenSize, rng),
		w2:           randomDense(hiddenSize, outputSize, rng),
		b1:           mat.NewVecDense(hiddenSize, nil),
		b2:           mat.NewVecDense(outputSize, nil),
		in:           mat.NewVecDense(inputSize, nil),
		hidden:       mat.NewVecDense(hiddenSize, nil),
		out:          mat.NewVecDense(outputSize, nil),
		target:       mat.NewVecDense(outputSize, nil),
		outErr:       mat.NewVecDense(outputSize, nil),
		hiddenErr:    mat.NewVecDense(hiddenSize, nil),
	}
	return n
}

func randomDense(rows, cols int, rng *rand.Rand) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = rng.Float64()*2 - 1
	}
	return mat.NewDense(rows, cols, data)
}

// InputSize returns the configured input dimensionality.
func (n *Network) InputSize() int { return n.inputSize }

// HiddenSize returns the number of hidden units.
func (n *Network) HiddenSize() int { return n.hiddenSize }

// OutputSize returns the number of outputs.
func (n *Network) OutputSize() int { return n.outputSize }

// LearningRate returns the SGD step size.
func (n *Network) LearningRate() float64 { return n.learningRate }

// Predict evaluates the network on input. It does not touch any network
// state and returns a new slice of length OutputSize.
func (n *Network) Predict(input []float64) []float64 {
	x := mat.NewVecDense(len(input), append([]float64(nil), input...))
	hidden := mat.NewVecDense(n.hiddenSize, nil)
	out := mat.NewVecDense(n.outputSize, nil)
	n.forward(x, hidden, out)
	return out.RawVector().Data
}

// forward writes the hidden activations and the linear output for x.
func (n *Network) forward(x, hidden, out *mat.VecDense) {
	hidden.MulVec(n.w1.T(), x)
	hidden.AddVec(hidden, n.b1)
	h := hidden.RawVector().Data
	for i := range h {
		h[i] = sigmoid(h[i])
	}
	out.MulVec(n.w2.T(), hidden)
	out.AddVec(out, n.b2)
}

// Train performs a single forward pass and one gradient-descent step on the
// squared error between the output and target.
func (n *Network) Train(input, target []float64) {
	copy(n.in.RawVector().Data, input)
	copy(n.target.RawVector().Data, target)
	n.forward(n.in, n.hidden, n.out)

	n.outErr.SubVec(n.out, n.target)

	// hidden error uses W2 before it is updated
	n.hiddenErr.MulVec(n.w2, n.outErr)
	he := n.hiddenErr.RawVector().Data
	h := n.hidden.RawVector().Data
	for i := range he {
		he[i] *= h[i] * (1 - h[i])
	}

	lr := n.learningRate
	n.w2.RankOne(n.w2, -lr, n.hidden, n.outErr)
	n.b2.AddScaledVec(n.b2, -lr, n.outErr)
	n.w1.RankOne(n.w1, -lr, n.in, n.hiddenErr)
	n.b1.AddScaledVec(n.b1, -lr, n.hiddenErr)
}

// Parameters returns a deep copy of the weights and biases.
func (n *Network) Parameters() Parameters {
	return Parameters{
		Weights1: denseRows(n.w1),
		Weights2: denseRows(n.w2),
		Bias1:    append([]float64(nil), n.b1.RawVector().Data...),
		Bias2:    append([]float64(nil), n.b2.RawVector().Data...),
	}
}

// SetParameters copies p into the network. Nil fields are left unchanged.
// A field whose shape does not match the network is rejected and nothing
// is modified.
func (n *Network) SetParameters(p Parameters) error {
	if p.Weights1 != nil {
		if err := checkRows("weights1", p.Weights1, n.inputSize, n.hiddenSize); err != nil {
			return err
		}
	}
	if p.Weights2 != nil {
		if err := checkRows("weights2", p.Weights2, n.hiddenSize, n.outputSize); err != nil {
			return err
		}
	}
	if p.Bias1 != nil && len(p.Bias1) != n.hiddenSize {
		return fmt.Errorf("bias1: expected length %d, got %d", n.hiddenSize, len(p.Bias1))
	}
	if p.Bias2 != nil && len(p.Bias2) != n.outputSize {
		return fmt.Errorf("bias2: expected length %d, got %d", n.outputSize, len(p.Bias2))
	}

	if p.Weights1 != nil {
		setRows(n.w1, p.Weights1)
	}
	if p.Weights2 != nil {
		setRows(n.w2, p.Weights2)
	}
	if p.Bias1 != nil {
		copy(n.b1.RawVector().Data, p.Bias1)
	}
	if p.Bias2 != nil {
		copy(n.b2.RawVector().Data, p.Bias2)
	}
	return nil
}

func denseRows(m *mat.Dense) [][]float64 {
	r, _ := m.Dims()
	rows := make([][]float64, r)
	for i := range rows {
		rows[i] = mat.Row(nil, i, m)
	}
	return rows
}

func setRows(m *mat.Dense, rows [][]float64) {
	for i, row := range rows {
		m.SetRow(i, row)
	}
}

func checkRows(name string, rows [][]float64, r, c int) error {
	if len(rows) != r {
		return fmt.Errorf("%s: expected %d rows, got %d", name, r, len(rows))
	}
	for i, row := range rows {
		if len(row) != c {
			return fmt.Errorf("%s: row %d expected %d columns, got %d", name, i, c, len(row))
		}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
