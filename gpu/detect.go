//go:build gpu

package gpu

import (
	"fmt"
	"strings"

	"github.com/openfluke/webgpu/wgpu"
)

// Probe describes the adapter the shared Context selected.
func Probe() (*Report, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	info := c.Adapter.GetInfo()
	l := c.Limits.Limits
	return &Report{
		Backend:                    info.BackendType.String(),
		AdapterType:                info.AdapterType.String(),
		VendorID:                   fmt.Sprintf("0x%04x", info.VendorId),
		DeviceID:                   fmt.Sprintf("0x%04x", info.DeviceId),
		Name:                       strings.TrimSpace(info.Name),
		Driver:                     strings.TrimSpace(info.DriverDescription),
		MaxInvocationsPerWorkgroup: l.MaxComputeInvocationsPerWorkgroup,
		MaxWorkgroupSizeX:          l.MaxComputeWorkgroupSizeX,
		MaxWorkgroupsPerDimension:  l.MaxComputeWorkgroupsPerDimension,
		MaxStorageBufferBinding:    l.MaxStorageBufferBindingSize,
		Workgroup:                  chooseWorkgroup(c.Limits),
	}, nil
}

// chooseWorkgroup picks the largest conservative 1D workgroup the adapter allows.
func chooseWorkgroup(l wgpu.SupportedLimits) uint32 {
	maxX := l.Limits.MaxComputeWorkgroupSizeX
	maxTot := l.Limits.MaxComputeInvocationsPerWorkgroup
	for _, c := range []uint32{256, 128, 64, 32, 16, 8, 4, 1} {
		if c <= maxX && c <= maxTot {
			return c
		}
	}
	return 1
}

// maxGroups caps a 1D dispatch; kernels stride over anything beyond it.
func maxGroups(l wgpu.SupportedLimits) uint32 {
	if m := l.Limits.MaxComputeWorkgroupsPerDimension; m > 0 {
		return m
	}
	return 65535
}
