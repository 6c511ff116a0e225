package nn

// DropoutThreshold is the mask draw a unit must exceed to be kept.
const DropoutThreshold = 0.5

// DropoutLayer zeroes units whose fresh uniform draw is at or below
// Threshold while training, and scales by (1 - Threshold) at inference.
type DropoutLayer struct {
	layerBase
	Threshold float32
}

func newDropoutLayer(n *Network, prev Layer, id string) (*DropoutLayer, error) {
	base, err := newLayerBase(n, prev, prev.Size(), id)
	if err != nil {
		return nil, err
	}
	l := &DropoutLayer{layerBase: base, Threshold: DropoutThreshold}
	if err := l.alloc(DropoutMask, n.minibatch, prev.Size()); err != nil {
		l.Free()
		return nil, err
	}
	return l, nil
}

func (l *DropoutLayer) TypeDescription() string { return "DROP" }

func (l *DropoutLayer) Calculate(train bool) error {
	mask := l.arrays[DropoutMask]
	if train {
		mask.InitUnit(l.rng)
		if err := mask.CopyToDevice(); err != nil {
			return err
		}
	}
	out := l.arrays[Outputs]
	return l.dev.Dropout(l.inputs().Buffer(), out.Buffer(), mask.Buffer(), out.Len(), l.Threshold, train)
}

func (l *DropoutLayer) BackPropagate() error {
	inGrads := l.inputGradients()
	if inGrads == nil {
		return nil
	}
	grads := l.arrays[Gradients]
	return l.dev.DropoutBackward(inGrads.Buffer(), grads.Buffer(), l.arrays[DropoutMask].Buffer(), grads.Len(), l.Threshold)
}
