package nn

import (
	"fmt"

	"github.com/openfluke/clicknet/gpu"
	"gonum.org/v1/gonum/floats"
)

// SoftmaxCostLayer is the terminal layer. Its Calculate normalises the
// wrapped FC layer's outputs into class probabilities, flags rows whose
// argmax matches the label and writes probability - indicator straight into
// the FC layer's Gradients. BackPropagate therefore has nothing to do.
type SoftmaxCostLayer struct {
	layerBase
	fc     *FullyConnectedLayer
	labels *DataLayer
}

func newSoftmaxCostLayer(n *Network, fc *FullyConnectedLayer, labels *DataLayer, id string) (*SoftmaxCostLayer, error) {
	base, err := newLayerBase(n, fc, 0, id)
	if err != nil {
		return nil, err
	}
	base.size = fc.Size()
	l := &SoftmaxCostLayer{layerBase: base, fc: fc, labels: labels}
	if err := l.alloc(Outputs, n.minibatch, l.size); err != nil {
		return nil, err
	}
	if err := l.alloc(CorrectlyPredictedLabels, n.minibatch, 1); err != nil {
		l.Free()
		return nil, err
	}
	return l, nil
}

func (l *SoftmaxCostLayer) TypeDescription() string { return "SMAX" }

// Array resolves Gradients, Weights and BiasWeights to the wrapped FC layer.
func (l *SoftmaxCostLayer) Array(kind ArrayKind) *gpu.Array {
	switch kind {
	case Gradients, Weights, BiasWeights:
		return l.fc.Array(kind)
	}
	return l.layerBase.Array(kind)
}

// Weights of the wrapped FC layer.
func (l *SoftmaxCostLayer) Weights() *gpu.Array { return l.fc.Array(Weights) }

// BiasWeights of the wrapped FC layer.
func (l *SoftmaxCostLayer) BiasWeights() *gpu.Array { return l.fc.Array(BiasWeights) }

// FullyConnected returns the wrapped FC layer.
func (l *SoftmaxCostLayer) FullyConnected() *FullyConnectedLayer { return l.fc }

// CorrectlyPredictedLabels holds 1 for every row whose argmax equals its label.
func (l *SoftmaxCostLayer) CorrectlyPredictedLabels() *gpu.Array {
	return l.arrays[CorrectlyPredictedLabels]
}

func (l *SoftmaxCostLayer) Calculate(bool) error {
	labels := l.labels.Array(Outputs)
	if labels == nil || labels.Cols() != 1 {
		return fmt.Errorf("%w: softmax %s needs a one-column label layer", ErrConfiguration, l.id)
	}
	return l.dev.SoftmaxCost(
		l.fc.Array(Outputs).Buffer(),
		l.arrays[Outputs].Buffer(),
		labels.Buffer(),
		l.arrays[CorrectlyPredictedLabels].Buffer(),
		l.fc.Array(Gradients).Buffer(),
		l.minibatch, l.size)
}

func (l *SoftmaxCostLayer) BackPropagate() error { return nil }

// PredictedLabels copies the probabilities to the host and returns the
// argmax class of every row.
func (l *SoftmaxCostLayer) PredictedLabels() ([]float32, error) {
	out := l.arrays[Outputs]
	if err := out.CopyToHost(); err != nil {
		return nil, err
	}
	res := make([]float32, l.minibatch)
	for row := 0; row < l.minibatch; row++ {
		best := 0
		for c := 1; c < l.size; c++ {
			if out.At(row, c) > out.At(row, best) {
				best = c
			}
		}
		res[row] = float32(best)
	}
	return res, nil
}

// CorrectCount copies the correctness flags to the host and sums them.
func (l *SoftmaxCostLayer) CorrectCount() (int, error) {
	correct := l.arrays[CorrectlyPredictedLabels]
	if err := correct.CopyToHost(); err != nil {
		return 0, err
	}
	flags := make([]float64, correct.Len())
	for i, v := range correct.Host() {
		flags[i] = float64(v)
	}
	return int(floats.Sum(flags)), nil
}
