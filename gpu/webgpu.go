//go:build gpu

package gpu

import (
	"fmt"
	"math"

	"github.com/openfluke/webgpu/wgpu"
)

// WebGPUDevice runs the kernel set as WGSL compute pipelines. Each launch is
// its own queue submission, so launches execute in call order.
type WebGPUDevice struct {
	ctx       *Context
	workgroup uint32
	maxGroups uint32

	pipelines [kernelCount]*wgpu.ComputePipeline
	layouts   [kernelCount]*wgpu.BindGroupLayout
}

// OpenWebGPU compiles every kernel on the shared context.
func OpenWebGPU() (Device, error) {
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	d := &WebGPUDevice{
		ctx:       c,
		workgroup: chooseWorkgroup(c.Limits),
		maxGroups: maxGroups(c.Limits),
	}
	if err := d.compile(); err != nil {
		d.Release()
		return nil, err
	}
	return d, nil
}

func (d *WebGPUDevice) compile() error {
	for i, k := range kernelSources {
		if Debug {
			Log("compiling kernel %s (workgroup %d)", k.name, d.workgroup)
		}
		module, err := d.ctx.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
			Label:          k.name + "_Shader",
			WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: k.code(d.workgroup)},
		})
		if err != nil {
			return fmt.Errorf("shader compile %s: %w", k.name, err)
		}
		pipeline, err := d.ctx.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
			Label: k.name + "_Pipe",
			Compute: wgpu.ProgrammableStageDescriptor{
				Module:     module,
				EntryPoint: "main",
			},
		})
		module.Release()
		if err != nil {
			return fmt.Errorf("pipeline create %s: %w", k.name, err)
		}
		d.pipelines[i] = pipeline
		d.layouts[i] = pipeline.GetBindGroupLayout(0)
	}
	return nil
}

func (d *WebGPUDevice) Name() string {
	info := d.ctx.Adapter.GetInfo()
	return "webgpu " + info.Name
}

func (d *WebGPUDevice) Alloc(n int) (Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("alloc: negative length %d", n)
	}
	return newStorageBuffer(d.ctx, fmt.Sprintf("Array%d", n), n)
}

func (d *WebGPUDevice) Upload(dst Buffer, data []byte) error {
	b, err := d.buffer(dst)
	if err != nil {
		return err
	}
	if len(data) > 4*b.n {
		return fmt.Errorf("%w: upload of %d bytes into %d", ErrSizeMismatch, len(data), 4*b.n)
	}
	if len(data) == 0 {
		return nil
	}
	return d.ctx.Queue.WriteBuffer(b.buf, 0, data)
}

func (d *WebGPUDevice) Download(src Buffer, data []byte) error {
	b, err := d.buffer(src)
	if err != nil {
		return err
	}
	if len(data) > 4*b.n {
		return fmt.Errorf("%w: download of %d bytes from %d", ErrSizeMismatch, len(data), 4*b.n)
	}
	return readBuffer(d.ctx, b.buf, data)
}

func (d *WebGPUDevice) Copy(dst Buffer, dstOffset int, src Buffer, srcOffset int, n int) error {
	db, err := d.buffer(dst)
	if err != nil {
		return err
	}
	sb, err := d.buffer(src)
	if err != nil {
		return err
	}
	if dstOffset < 0 || srcOffset < 0 || dstOffset+n > db.n || srcOffset+n > sb.n {
		return fmt.Errorf("%w: copy %d words (%d->%d) between buffers of %d and %d",
			ErrSizeMismatch, n, srcOffset, dstOffset, sb.n, db.n)
	}
	if n == 0 {
		return nil
	}
	enc, err := d.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	enc.CopyBufferToBuffer(sb.buf, uint64(srcOffset)*4, db.buf, uint64(dstOffset)*4, uint64(n)*4)
	cmd, err := enc.Finish(nil)
	if err != nil {
		return err
	}
	d.ctx.Queue.Submit(cmd)
	return nil
}

// Sync blocks until the queue drains.
func (d *WebGPUDevice) Sync() error {
	d.ctx.Device.Poll(true, nil)
	return nil
}

func (d *WebGPUDevice) Release() {
	for i, p := range d.pipelines {
		if p != nil {
			p.Release()
			d.pipelines[i] = nil
		}
	}
}

func (d *WebGPUDevice) buffer(b Buffer) (*wgpuBuffer, error) {
	wb, ok := b.(*wgpuBuffer)
	if !ok || wb == nil || wb.buf == nil {
		return nil, fmt.Errorf("buffer %T does not belong to the webgpu device", b)
	}
	return wb, nil
}

func (d *WebGPUDevice) groups(n int) uint32 {
	g := (uint32(n) + d.workgroup - 1) / d.workgroup
	if g > d.maxGroups {
		g = d.maxGroups
	}
	return g
}

// launch binds bufs in order followed by the params buffer and dispatches
// enough lanes to cover n work items.
func (d *WebGPUDevice) launch(kernel int, n int, params []uint32, bufs ...Buffer) error {
	if n <= 0 {
		return nil
	}
	k := kernelSources[kernel]
	if len(bufs) != k.bindings {
		return fmt.Errorf("kernel %s takes %d buffers, got %d", k.name, k.bindings, len(bufs))
	}

	pbuf, err := d.ctx.Device.CreateBufferInit(&wgpu.BufferInitDescriptor{
		Label:    k.name + "_Params",
		Contents: wgpu.ToBytes(params),
		Usage:    wgpu.BufferUsageStorage,
	})
	if err != nil {
		return fmt.Errorf("params buffer %s: %w", k.name, err)
	}
	defer pbuf.Release()

	entries := make([]wgpu.BindGroupEntry, 0, len(bufs)+1)
	for i, b := range bufs {
		wb, err := d.buffer(b)
		if err != nil {
			return err
		}
		entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(i), Buffer: wb.buf, Size: wb.size()})
	}
	entries = append(entries, wgpu.BindGroupEntry{Binding: uint32(len(bufs)), Buffer: pbuf, Size: pbuf.GetSize()})

	bind, err := d.ctx.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:   k.name + "_Bind",
		Layout:  d.layouts[kernel],
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("bind group %s: %w", k.name, err)
	}
	defer bind.Release()

	enc, err := d.ctx.Device.CreateCommandEncoder(nil)
	if err != nil {
		return err
	}
	groups := d.groups(n)
	if Debug {
		Log("dispatch %s: %d items in %d workgroups", k.name, n, groups)
	}
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(d.pipelines[kernel])
	pass.SetBindGroup(0, bind, nil)
	pass.DispatchWorkgroups(groups, 1, 1)
	pass.End()
	cmd, err := enc.Finish(nil)
	if err != nil {
		return err
	}
	d.ctx.Queue.Submit(cmd)
	return nil
}

func u32(n int) uint32     { return uint32(n) }
func f32(v float32) uint32 { return math.Float32bits(v) }
func flag(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (d *WebGPUDevice) Fill(buf Buffer, n int, value float32) error {
	return d.launch(kFill, n, []uint32{u32(n), f32(value)}, buf)
}

func (d *WebGPUDevice) FillInt(buf Buffer, n int, value int32) error {
	return d.launch(kFill, n, []uint32{u32(n), uint32(value)}, buf)
}

func (d *WebGPUDevice) Axpy(n int, alpha float32, x, y Buffer) error {
	return d.launch(kAxpy, n, []uint32{u32(n), f32(alpha)}, x, y)
}

func (d *WebGPUDevice) Scale(n int, alpha float32, x Buffer) error {
	return d.launch(kScale, n, []uint32{u32(n), f32(alpha)}, x)
}

func (d *WebGPUDevice) RowScale(vector, matrix Buffer, rows, cols int) error {
	return d.launch(kRowScale, rows*cols, []uint32{u32(rows * cols), u32(cols)}, vector, matrix)
}

func (d *WebGPUDevice) Relu(in, out Buffer, n int) error {
	return d.launch(kRelu, n, []uint32{u32(n)}, in, out)
}

func (d *WebGPUDevice) ReluBackward(inGrad, grad, out Buffer, n int) error {
	return d.launch(kReluBackward, n, []uint32{u32(n)}, inGrad, grad, out)
}

func (d *WebGPUDevice) Tanh(in, out Buffer, n int) error {
	return d.launch(kTanh, n, []uint32{u32(n)}, in, out)
}

func (d *WebGPUDevice) TanhBackward(inGrad, grad, out Buffer, n int) error {
	return d.launch(kTanhBackward, n, []uint32{u32(n)}, inGrad, grad, out)
}

func (d *WebGPUDevice) Maxout(in, out, winners Buffer, n, groupSize int) error {
	if groupSize <= 0 || n%groupSize != 0 {
		return fmt.Errorf("%w: maxout group %d does not divide %d", ErrSizeMismatch, groupSize, n)
	}
	groups := n / groupSize
	return d.launch(kMaxout, groups, []uint32{u32(groups), u32(groupSize)}, in, out, winners)
}

func (d *WebGPUDevice) MaxoutBackward(inGrad, grad, winners Buffer, n int) error {
	return d.launch(kMaxoutBackward, n, []uint32{u32(n)}, inGrad, grad, winners)
}

func (d *WebGPUDevice) Dropout(in, out, mask Buffer, n int, threshold float32, train bool) error {
	return d.launch(kDropout, n, []uint32{u32(n), f32(threshold), flag(train)}, in, out, mask)
}

func (d *WebGPUDevice) DropoutBackward(inGrad, grad, mask Buffer, n int, threshold float32) error {
	return d.launch(kDropoutBackward, n, []uint32{u32(n), f32(threshold)}, inGrad, grad, mask)
}

func (d *WebGPUDevice) SoftmaxCost(in, out, labels, correct, grad Buffer, rows, size int) error {
	return d.launch(kSoftmaxCost, rows, []uint32{u32(rows), u32(size)}, in, out, labels, correct, grad)
}

func (d *WebGPUDevice) Sgemm(transA, transB bool, m, n, k int, alpha float32, a Buffer, lda int, b Buffer, ldb int, beta float32, c Buffer, ldc int) error {
	params := []uint32{
		u32(m), u32(n), u32(k),
		u32(lda), u32(ldb), u32(ldc),
		flag(transA), flag(transB),
		f32(alpha), f32(beta),
	}
	return d.launch(kSgemm, m*n, params, a, b, c)
}

func (d *WebGPUDevice) SparseMultiply(indices, values Buffer, nnz, colCountA int, b Buffer, colCountB int, c Buffer, cLen int, transposeA bool) error {
	if err := d.Fill(c, cLen, 0); err != nil {
		return err
	}
	params := []uint32{u32(nnz), u32(colCountA), u32(colCountB), flag(transposeA)}
	return d.launch(kSparseMultiply, nnz*colCountB, params, indices, values, b, c)
}

var _ Device = (*WebGPUDevice)(nil)
