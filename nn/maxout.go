package nn

import (
	"fmt"

	"github.com/openfluke/clicknet/gpu"
)

// MaxoutLayer keeps the maximum of each group of GroupSize consecutive
// inputs and remembers which input won.
type MaxoutLayer struct {
	layerBase
	GroupSize int

	winners *gpu.IntArray
}

func newMaxoutLayer(n *Network, prev Layer, groupSize int, id string) (*MaxoutLayer, error) {
	if groupSize <= 0 || prev.Size()%groupSize != 0 {
		return nil, fmt.Errorf("%w: maxout group size %d does not divide input width %d",
			ErrConfiguration, groupSize, prev.Size())
	}
	size := prev.Size() / groupSize
	base, err := newLayerBase(n, prev, size, id)
	if err != nil {
		return nil, err
	}
	winners, err := gpu.NewIntArray(n.dev, n.minibatch, size)
	if err != nil {
		base.Free()
		return nil, err
	}
	return &MaxoutLayer{layerBase: base, GroupSize: groupSize, winners: winners}, nil
}

func (l *MaxoutLayer) TypeDescription() string { return "MAXOUT" }

// Winners holds the flat input index selected for every output.
func (l *MaxoutLayer) Winners() *gpu.IntArray { return l.winners }

func (l *MaxoutLayer) Calculate(bool) error {
	in := l.inputs()
	return l.dev.Maxout(in.Buffer(), l.arrays[Outputs].Buffer(), l.winners.Buffer(), in.Len(), l.GroupSize)
}

// BackPropagate clears the previous layer's gradients and routes each
// output gradient to its winner.
func (l *MaxoutLayer) BackPropagate() error {
	inGrads := l.inputGradients()
	if inGrads == nil {
		return nil
	}
	if err := inGrads.FillDevice(0); err != nil {
		return err
	}
	grads := l.arrays[Gradients]
	return l.dev.MaxoutBackward(inGrads.Buffer(), grads.Buffer(), l.winners.Buffer(), grads.Len())
}

func (l *MaxoutLayer) CopyToDevice() error {
	if err := l.layerBase.CopyToDevice(); err != nil {
		return err
	}
	return l.winners.CopyToDevice()
}

func (l *MaxoutLayer) CopyToHost() error {
	if err := l.layerBase.CopyToHost(); err != nil {
		return err
	}
	return l.winners.CopyToHost()
}

func (l *MaxoutLayer) Free() {
	if l.winners != nil {
		l.winners.Free()
		l.winners = nil
	}
	l.layerBase.Free()
}
