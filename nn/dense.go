package nn

import (
	"fmt"

	"github.com/openfluke/clicknet/gpu"
)

// initWeightRange is the default uniform init half-width for new FC weights.
const initWeightRange = 0.1

// FullyConnectedLayer computes Outputs = Inputs x Weights + BiasWeights.
type FullyConnectedLayer struct {
	layerBase
}

func newFullyConnectedLayer(n *Network, prev Layer, size int, id string) (*FullyConnectedLayer, error) {
	base, err := newLayerBase(n, prev, size, id)
	if err != nil {
		return nil, err
	}
	l := &FullyConnectedLayer{layerBase: base}
	in := prev.Size()
	for _, a := range []struct {
		kind       ArrayKind
		rows, cols int
	}{
		{Weights, in, size},
		{WeightUpdates, in, size},
		{LastWeightUpdates, in, size},
		{BiasWeights, 1, size},
		{BiasWeightUpdates, 1, size},
		{LastBiasWeightUpdates, 1, size},
		{BiasMultiplier, n.minibatch, 1},
	} {
		if err := l.alloc(a.kind, a.rows, a.cols); err != nil {
			l.Free()
			return nil, err
		}
	}
	l.arrays[BiasMultiplier].FillHost(1)
	l.arrays[Weights].InitUniform(n.rng, initWeightRange)
	return l, nil
}

func (l *FullyConnectedLayer) TypeDescription() string { return "FC" }

func (l *FullyConnectedLayer) Calculate(bool) error {
	weights := l.arrays[Weights]
	outputs := l.arrays[Outputs]
	sparse, isSparse, err := l.sparseInputs()
	if err != nil {
		return err
	}
	if isSparse {
		if err := sparse.Multiply(weights, outputs, false); err != nil {
			return err
		}
	} else if err := gpu.GemmRowMajor(l.inputs(), weights, outputs, 0, false, false); err != nil {
		return err
	}
	// Broadcast the bias over every row: ones[mb x 1] x bias[1 x size].
	return gpu.GemmRowMajor(l.arrays[BiasMultiplier], l.arrays[BiasWeights], outputs, 1, false, false)
}

func (l *FullyConnectedLayer) BackPropagate() error {
	grads := l.arrays[Gradients]
	updates := l.arrays[WeightUpdates]
	sparse, isSparse, err := l.sparseInputs()
	if err != nil {
		return err
	}
	if isSparse {
		if err := sparse.Multiply(grads, updates, true); err != nil {
			return err
		}
	} else if err := gpu.GemmRowMajor(l.inputs(), grads, updates, 0, true, false); err != nil {
		return err
	}

	if err := gpu.GemmRowMajor(grads, l.arrays[BiasMultiplier], l.arrays[BiasWeightUpdates], 0, true, false); err != nil {
		return err
	}

	if inGrads := l.inputGradients(); inGrads != nil {
		return gpu.GemmRowMajor(grads, l.arrays[Weights], inGrads, 0, false, true)
	}
	return nil
}

func (l *FullyConnectedLayer) sparseInputs() (*gpu.SparseMatrix, bool, error) {
	d, ok := l.prev.(*DataLayer)
	if !ok || !d.IsSparse() {
		return nil, false, nil
	}
	if d.SparseMatrix() == nil {
		return nil, true, fmt.Errorf("%w: layer %s holds no sparse batch", ErrState, d.ID())
	}
	return d.SparseMatrix(), true, nil
}
