package nn

import "fmt"

// Activation selects the elementwise transform of an ActivationLayer.
type Activation int

const (
	ActivationRelu Activation = iota
	ActivationTanh
)

func (a Activation) String() string {
	switch a {
	case ActivationRelu:
		return "RELU"
	case ActivationTanh:
		return "TANH"
	}
	return fmt.Sprintf("Activation(%d)", int(a))
}

// ActivationLayer applies Relu or Tanh elementwise. It owns no weights.
type ActivationLayer struct {
	layerBase
	Kind Activation
}

func newActivationLayer(n *Network, prev Layer, kind Activation, id string) (*ActivationLayer, error) {
	base, err := newLayerBase(n, prev, prev.Size(), id)
	if err != nil {
		return nil, err
	}
	return &ActivationLayer{layerBase: base, Kind: kind}, nil
}

func (l *ActivationLayer) TypeDescription() string { return l.Kind.String() }

func (l *ActivationLayer) Calculate(bool) error {
	in, out := l.inputs(), l.arrays[Outputs]
	switch l.Kind {
	case ActivationTanh:
		return l.dev.Tanh(in.Buffer(), out.Buffer(), out.Len())
	default:
		return l.dev.Relu(in.Buffer(), out.Buffer(), out.Len())
	}
}

func (l *ActivationLayer) BackPropagate() error {
	inGrads := l.inputGradients()
	if inGrads == nil {
		return nil
	}
	grads, out := l.arrays[Gradients], l.arrays[Outputs]
	switch l.Kind {
	case ActivationTanh:
		return l.dev.TanhBackward(inGrads.Buffer(), grads.Buffer(), out.Buffer(), out.Len())
	default:
		return l.dev.ReluBackward(inGrads.Buffer(), grads.Buffer(), out.Buffer(), out.Len())
	}
}
