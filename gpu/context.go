//go:build gpu

package gpu

import (
	"fmt"
	"strings"
	"sync"

	"github.com/openfluke/webgpu/wgpu"
)

// Context holds the single WebGPU context for the process.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue
	Limits   wgpu.SupportedLimits
	once     sync.Once
	err      error
}

var ctx Context

// GetContext returns the singleton GPU context, initializing it if necessary.
func GetContext() (*Context, error) {
	ctx.once.Do(func() {
		ctx.err = ctx.init()
	})
	if ctx.err != nil {
		return nil, ctx.err
	}
	if ctx.Device == nil || ctx.Queue == nil {
		return nil, fmt.Errorf("%w: webgpu device or queue not initialized", ErrNoGPU)
	}
	return &ctx, nil
}

func (c *Context) init() error {
	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return fmt.Errorf("%w: failed to create webgpu instance", ErrNoGPU)
	}

	// Prefer a discrete NVIDIA part when several adapters are present.
	for _, a := range c.Instance.EnumerateAdapters(nil) {
		info := a.GetInfo()
		Log("adapter: %s (vendor %s, device 0x%X, type %d)", info.Name, info.VendorName, info.DeviceId, info.AdapterType)
		if strings.Contains(strings.ToLower(info.Name), "nvidia") ||
			strings.Contains(strings.ToLower(info.VendorName), "nvidia") {
			c.Adapter = a
			break
		}
	}

	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		if c.Adapter != nil {
			break
		}
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err != nil {
			Log("adapter request failed: %v", err)
		}
	}
	if c.Adapter == nil {
		return fmt.Errorf("%w: all adapter attempts failed: %v", ErrNoGPU, err)
	}

	info := c.Adapter.GetInfo()
	Log("using adapter %s (vendor %s)", info.Name, info.VendorName)
	c.Limits = c.Adapter.GetLimits()

	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		return fmt.Errorf("request device: %w", err)
	}
	c.Queue = c.Device.GetQueue()
	return nil
}
