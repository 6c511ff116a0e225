//go:build !gpu

package gpu

// OpenWebGPU is unavailable without the gpu build tag.
func OpenWebGPU() (Device, error) { return nil, ErrNoGPU }

// Probe is unavailable without the gpu build tag.
func Probe() (*Report, error) { return nil, ErrNoGPU }
