package nn

import "errors"

var (
	// ErrConfiguration reports an invalid layer graph, raised while building.
	ErrConfiguration = errors.New("invalid network configuration")
	// ErrMissingWeights reports a checkpoint without weights for a weighted layer.
	ErrMissingWeights = errors.New("checkpoint missing weights")
	// ErrState reports an operation the network's lifecycle state does not allow.
	ErrState = errors.New("invalid network state")
)
