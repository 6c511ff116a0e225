//go:build gpu

package gpu

import (
	"fmt"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

const readTimeout = 5 * time.Second

// wgpuBuffer is device memory for WebGPUDevice.
type wgpuBuffer struct {
	buf *wgpu.Buffer
	n   int
}

func (b *wgpuBuffer) Len() int { return b.n }

func (b *wgpuBuffer) Release() {
	if b.buf != nil {
		b.buf.Destroy()
		b.buf = nil
	}
}

// WebGPU rejects zero-sized bindings, so empty arrays still get one word.
func (b *wgpuBuffer) size() uint64 {
	if b.n == 0 {
		return 4
	}
	return uint64(b.n) * 4
}

func newStorageBuffer(c *Context, label string, n int) (*wgpuBuffer, error) {
	b := &wgpuBuffer{n: n}
	buf, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: label,
		Size:  b.size(),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %s: %w", label, err)
	}
	b.buf = buf
	return b, nil
}

// readBuffer copies len(dst) bytes of src into dst through a staging buffer.
func readBuffer(c *Context, src *wgpu.Buffer, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}
	sizeBytes := uint64(len(dst))
	staging, err := c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "ReadStaging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("create staging buffer: %w", err)
	}
	defer staging.Destroy()

	enc, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	enc.CopyBufferToBuffer(src, 0, staging, 0, sizeBytes)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish command: %w", err)
	}
	c.Queue.Submit(cmd)

	done := make(chan struct{})
	var mapErr error
	err = staging.MapAsync(wgpu.MapModeRead, 0, sizeBytes, func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map failed: %v", status)
		}
		close(done)
	})
	if err != nil {
		return fmt.Errorf("map async: %w", err)
	}

	timeout := time.After(readTimeout)
Loop:
	for {
		c.Device.Poll(false, nil)
		select {
		case <-done:
			break Loop
		case <-timeout:
			return fmt.Errorf("read buffer timed out after %v", readTimeout)
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if mapErr != nil {
		return mapErr
	}

	data := staging.GetMappedRange(0, uint(sizeBytes))
	if data == nil {
		return fmt.Errorf("failed to get mapped range")
	}
	copy(dst, data)
	staging.Unmap()
	return nil
}
