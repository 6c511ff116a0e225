package nn

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/clicknet/gpu"
)

// Layer is one link of a Network's chain. The set of implementations is
// closed: DataLayer, FullyConnectedLayer, ActivationLayer, MaxoutLayer,
// DropoutLayer and SoftmaxCostLayer.
type Layer interface {
	ID() string
	Size() int
	MinibatchSize() int
	TypeDescription() string
	SizeDescription() string

	// Array returns the buffer of the given kind, or nil if the layer has none.
	Array(kind ArrayKind) *gpu.Array
	HasWeights() bool
	Previous() Layer

	Calculate(train bool) error
	BackPropagate() error
	ApplyWeightUpdates(learnRate, momentum float32) error

	CopyToDevice() error
	CopyToHost() error
	Free()

	base() *layerBase
}

// layerBase holds the state shared by every layer type.
type layerBase struct {
	id        string
	size      int
	minibatch int
	dev       gpu.Device
	rng       *rand.Rand
	prev      Layer
	arrays    [arrayKindCount]*gpu.Array

	// BiasLearnRate replaces the learn rate for bias weights when set.
	BiasLearnRate    *float32
	L2Regularization float32
	// RegularizationRatio folds L2 decay, scaled by the ratio, into every
	// RegularizationRatio-th update.
	RegularizationRatio int
	WeightUpdateCount   int
}

// newLayerBase allocates Outputs for a sized layer and Gradients when the
// layer also has a predecessor.
func newLayerBase(n *Network, prev Layer, size int, id string) (layerBase, error) {
	b := layerBase{
		id:                  id,
		size:                size,
		minibatch:           n.minibatch,
		dev:                 n.dev,
		rng:                 n.rng,
		prev:                prev,
		RegularizationRatio: 1,
	}
	if size > 0 {
		if err := b.alloc(Outputs, n.minibatch, size); err != nil {
			return b, err
		}
		if prev != nil {
			if err := b.alloc(Gradients, n.minibatch, size); err != nil {
				return b, err
			}
		}
	}
	return b, nil
}

func (b *layerBase) alloc(kind ArrayKind, rows, cols int) error {
	a, err := gpu.NewArray(b.dev, rows, cols)
	if err != nil {
		return fmt.Errorf("layer %s: %s: %w", b.id, kind, err)
	}
	b.arrays[kind] = a
	return nil
}

func (b *layerBase) base() *layerBase { return b }

func (b *layerBase) ID() string         { return b.id }
func (b *layerBase) Size() int          { return b.size }
func (b *layerBase) MinibatchSize() int { return b.minibatch }
func (b *layerBase) Previous() Layer    { return b.prev }

func (b *layerBase) SizeDescription() string {
	return fmt.Sprintf("%d x %d", b.minibatch, b.size)
}

func (b *layerBase) Array(kind ArrayKind) *gpu.Array {
	if kind < 0 || kind >= arrayKindCount {
		return nil
	}
	return b.arrays[kind]
}

func (b *layerBase) HasWeights() bool { return b.arrays[Weights] != nil }

func (b *layerBase) inputs() *gpu.Array {
	if b.prev == nil {
		return nil
	}
	return b.prev.Array(Outputs)
}

// inputGradients is nil when the previous layer takes no gradient.
func (b *layerBase) inputGradients() *gpu.Array {
	if b.prev == nil {
		return nil
	}
	return b.prev.Array(Gradients)
}

func (b *layerBase) CopyToDevice() error {
	for kind, a := range b.arrays {
		if a == nil {
			continue
		}
		if err := a.CopyToDevice(); err != nil {
			return fmt.Errorf("layer %s: %s: %w", b.id, ArrayKind(kind), err)
		}
	}
	return nil
}

func (b *layerBase) CopyToHost() error {
	for kind, a := range b.arrays {
		if a == nil {
			continue
		}
		if err := a.CopyToHost(); err != nil {
			return fmt.Errorf("layer %s: %s: %w", b.id, ArrayKind(kind), err)
		}
	}
	return nil
}

func (b *layerBase) Free() {
	for i, a := range b.arrays {
		if a != nil {
			a.Free()
			b.arrays[i] = nil
		}
	}
}

// ApplyWeightUpdates descends along the accumulated updates:
//
//	U += momentum*U_last
//	U += l2*ratio*W             (every RegularizationRatio-th call)
//	W -= learnRate/minibatch*U
//
// then swaps the current and last update buffers. Layers without weights
// do nothing.
func (b *layerBase) ApplyWeightUpdates(learnRate, momentum float32) error {
	weights := b.arrays[Weights]
	if weights == nil {
		return nil
	}
	updates := b.arrays[WeightUpdates]
	lastUpdates := b.arrays[LastWeightUpdates]
	bias := b.arrays[BiasWeights]
	biasUpdates := b.arrays[BiasWeightUpdates]
	lastBiasUpdates := b.arrays[LastBiasWeightUpdates]
	if updates == nil || biasUpdates == nil || bias == nil {
		return fmt.Errorf("layer %s: weight update buffers missing", b.id)
	}
	if weights.Len() != updates.Len() || bias.Len() != biasUpdates.Len() {
		return fmt.Errorf("%w: layer %s weights %d/%d, updates %d/%d", gpu.ErrSizeMismatch,
			b.id, weights.Len(), bias.Len(), updates.Len(), biasUpdates.Len())
	}

	mb := float32(b.minibatch)
	biasLearnRate := learnRate
	if b.BiasLearnRate != nil {
		biasLearnRate = *b.BiasLearnRate
	}

	// Sparse gradients make momentum unstable.
	if isSparseData(b.prev) {
		momentum = 0
	}
	if momentum != 0 {
		if err := b.dev.Axpy(updates.Len(), momentum, lastUpdates.Buffer(), updates.Buffer()); err != nil {
			return err
		}
		if err := b.dev.Axpy(biasUpdates.Len(), momentum, lastBiasUpdates.Buffer(), biasUpdates.Buffer()); err != nil {
			return err
		}
	}

	b.WeightUpdateCount++
	ratio := b.RegularizationRatio
	if ratio <= 0 {
		ratio = 1
	}
	if b.L2Regularization != 0 && b.WeightUpdateCount%ratio == 0 {
		decay := b.L2Regularization * float32(ratio)
		if err := b.dev.Axpy(weights.Len(), decay, weights.Buffer(), updates.Buffer()); err != nil {
			return err
		}
	}

	if err := b.dev.Axpy(weights.Len(), -learnRate/mb, updates.Buffer(), weights.Buffer()); err != nil {
		return err
	}
	if err := b.dev.Axpy(bias.Len(), -biasLearnRate/mb, biasUpdates.Buffer(), bias.Buffer()); err != nil {
		return err
	}

	b.arrays[WeightUpdates], b.arrays[LastWeightUpdates] = lastUpdates, updates
	b.arrays[BiasWeightUpdates], b.arrays[LastBiasWeightUpdates] = lastBiasUpdates, biasUpdates
	return nil
}

func isSparseData(l Layer) bool {
	d, ok := l.(*DataLayer)
	return ok && d.IsSparse()
}
