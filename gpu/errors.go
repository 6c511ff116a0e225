package gpu

import "errors"

// Single canonical errors used across CPU/GPU builds.
var (
	ErrNoGPU            = errors.New("gpu unavailable (build with -tags=gpu to enable)")
	ErrSizeMismatch     = errors.New("size mismatch")
	ErrCapacityExceeded = errors.New("sparse capacity exceeded")
)
