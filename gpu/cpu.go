package gpu

import (
	"fmt"
	"unsafe"

	"gonum.org/v1/gonum/blas"
)

// hostBuffer is device memory for CPUDevice. The float32 and int32 views
// share the same backing words.
type hostBuffer struct {
	f []float32
	i []int32
}

func newHostBuffer(n int) *hostBuffer {
	f := make([]float32, n)
	var i []int32
	if n > 0 {
		i = unsafe.Slice((*int32)(unsafe.Pointer(&f[0])), n)
	}
	return &hostBuffer{f: f, i: i}
}

func (b *hostBuffer) Len() int { return len(b.f) }

func (b *hostBuffer) Release() {
	b.f = nil
	b.i = nil
}

func (b *hostBuffer) bytes() []byte {
	if len(b.f) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.f[0])), len(b.f)*4)
}

// CPUDevice runs every kernel on goroutine lanes over host memory.
type CPUDevice struct {
	grid Grid
	blas blas.Float32
}

// NewCPUDevice returns a device with the given lane count (0 = NumCPU).
func NewCPUDevice(lanes int) *CPUDevice {
	return &CPUDevice{grid: NewGrid(lanes), blas: defaultBLAS()}
}

func (d *CPUDevice) Name() string { return fmt.Sprintf("cpu (%d lanes)", d.grid.Lanes) }

func (d *CPUDevice) Alloc(n int) (Buffer, error) {
	if n < 0 {
		return nil, fmt.Errorf("alloc: negative length %d", n)
	}
	return newHostBuffer(n), nil
}

func (d *CPUDevice) Upload(dst Buffer, data []byte) error {
	b, err := d.buffer(dst)
	if err != nil {
		return err
	}
	raw := b.bytes()
	if len(data) > len(raw) {
		return fmt.Errorf("%w: upload of %d bytes into %d", ErrSizeMismatch, len(data), len(raw))
	}
	copy(raw, data)
	return nil
}

func (d *CPUDevice) Download(src Buffer, data []byte) error {
	b, err := d.buffer(src)
	if err != nil {
		return err
	}
	raw := b.bytes()
	if len(data) > len(raw) {
		return fmt.Errorf("%w: download of %d bytes from %d", ErrSizeMismatch, len(data), len(raw))
	}
	copy(data, raw)
	return nil
}

func (d *CPUDevice) Copy(dst Buffer, dstOffset int, src Buffer, srcOffset int, n int) error {
	db, err := d.buffer(dst)
	if err != nil {
		return err
	}
	sb, err := d.buffer(src)
	if err != nil {
		return err
	}
	if dstOffset < 0 || srcOffset < 0 || dstOffset+n > len(db.f) || srcOffset+n > len(sb.f) {
		return fmt.Errorf("%w: copy %d words (%d->%d) between buffers of %d and %d",
			ErrSizeMismatch, n, srcOffset, dstOffset, len(sb.f), len(db.f))
	}
	copy(db.f[dstOffset:dstOffset+n], sb.f[srcOffset:srcOffset+n])
	return nil
}

// Sync is a no-op: every CPU launch joins its lanes before returning.
func (d *CPUDevice) Sync() error { return nil }

func (d *CPUDevice) Release() {}

func (d *CPUDevice) buffer(b Buffer) (*hostBuffer, error) {
	hb, ok := b.(*hostBuffer)
	if !ok || hb == nil {
		return nil, fmt.Errorf("buffer %T does not belong to the cpu device", b)
	}
	return hb, nil
}

func (d *CPUDevice) floats(b Buffer, n int) ([]float32, error) {
	hb, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(hb.f) {
		return nil, fmt.Errorf("%w: kernel wants %d elements, buffer holds %d", ErrSizeMismatch, n, len(hb.f))
	}
	return hb.f[:n], nil
}

func (d *CPUDevice) ints(b Buffer, n int) ([]int32, error) {
	hb, err := d.buffer(b)
	if err != nil {
		return nil, err
	}
	if n < 0 || n > len(hb.i) {
		return nil, fmt.Errorf("%w: kernel wants %d elements, buffer holds %d", ErrSizeMismatch, n, len(hb.i))
	}
	return hb.i[:n], nil
}

// floatsN resolves several buffers of the same length.
func (d *CPUDevice) floatsN(n int, bufs ...Buffer) ([][]float32, error) {
	out := make([][]float32, len(bufs))
	for i, b := range bufs {
		s, err := d.floats(b, n)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func (d *CPUDevice) Fill(buf Buffer, n int, value float32) error {
	s, err := d.floats(buf, n)
	if err != nil {
		return err
	}
	FillKernel(d.grid, s, value)
	return nil
}

func (d *CPUDevice) FillInt(buf Buffer, n int, value int32) error {
	s, err := d.ints(buf, n)
	if err != nil {
		return err
	}
	FillIntKernel(d.grid, s, value)
	return nil
}

func (d *CPUDevice) Axpy(n int, alpha float32, x, y Buffer) error {
	s, err := d.floatsN(n, x, y)
	if err != nil {
		return err
	}
	if n > 0 {
		d.blas.Saxpy(n, alpha, s[0], 1, s[1], 1)
	}
	return nil
}

func (d *CPUDevice) Scale(n int, alpha float32, x Buffer) error {
	s, err := d.floats(x, n)
	if err != nil {
		return err
	}
	if n > 0 {
		d.blas.Sscal(n, alpha, s, 1)
	}
	return nil
}

func (d *CPUDevice) RowScale(vector, matrix Buffer, rows, cols int) error {
	v, err := d.floats(vector, rows)
	if err != nil {
		return err
	}
	m, err := d.floats(matrix, rows*cols)
	if err != nil {
		return err
	}
	RowScaleKernel(d.grid, v, m, cols)
	return nil
}

func (d *CPUDevice) Relu(in, out Buffer, n int) error {
	s, err := d.floatsN(n, in, out)
	if err != nil {
		return err
	}
	ReluKernel(d.grid, s[0], s[1])
	return nil
}

func (d *CPUDevice) ReluBackward(inGrad, grad, out Buffer, n int) error {
	s, err := d.floatsN(n, inGrad, grad, out)
	if err != nil {
		return err
	}
	ReluBackwardKernel(d.grid, s[0], s[1], s[2])
	return nil
}

func (d *CPUDevice) Tanh(in, out Buffer, n int) error {
	s, err := d.floatsN(n, in, out)
	if err != nil {
		return err
	}
	TanhKernel(d.grid, s[0], s[1])
	return nil
}

func (d *CPUDevice) TanhBackward(inGrad, grad, out Buffer, n int) error {
	s, err := d.floatsN(n, inGrad, grad, out)
	if err != nil {
		return err
	}
	TanhBackwardKernel(d.grid, s[0], s[1], s[2])
	return nil
}

func (d *CPUDevice) Maxout(in, out, winners Buffer, n, groupSize int) error {
	if groupSize <= 0 || n%groupSize != 0 {
		return fmt.Errorf("%w: maxout group %d does not divide %d", ErrSizeMismatch, groupSize, n)
	}
	x, err := d.floats(in, n)
	if err != nil {
		return err
	}
	y, err := d.floats(out, n/groupSize)
	if err != nil {
		return err
	}
	w, err := d.ints(winners, n/groupSize)
	if err != nil {
		return err
	}
	MaxoutKernel(d.grid, x, y, w, groupSize)
	return nil
}

func (d *CPUDevice) MaxoutBackward(inGrad, grad, winners Buffer, n int) error {
	g, err := d.floats(grad, n)
	if err != nil {
		return err
	}
	w, err := d.ints(winners, n)
	if err != nil {
		return err
	}
	hb, err := d.buffer(inGrad)
	if err != nil {
		return err
	}
	for _, idx := range w {
		if idx < 0 || int(idx) >= len(hb.f) {
			return fmt.Errorf("%w: maxout winner %d outside %d inputs", ErrSizeMismatch, idx, len(hb.f))
		}
	}
	MaxoutBackwardKernel(d.grid, hb.f, g, w)
	return nil
}

func (d *CPUDevice) Dropout(in, out, mask Buffer, n int, threshold float32, train bool) error {
	s, err := d.floatsN(n, in, out, mask)
	if err != nil {
		return err
	}
	DropoutKernel(d.grid, s[0], s[1], s[2], threshold, train)
	return nil
}

func (d *CPUDevice) DropoutBackward(inGrad, grad, mask Buffer, n int, threshold float32) error {
	s, err := d.floatsN(n, inGrad, grad, mask)
	if err != nil {
		return err
	}
	DropoutBackwardKernel(d.grid, s[0], s[1], s[2], threshold)
	return nil
}

func (d *CPUDevice) SoftmaxCost(in, out, labels, correct, grad Buffer, rows, size int) error {
	s, err := d.floatsN(rows*size, in, out, grad)
	if err != nil {
		return err
	}
	r, err := d.floatsN(rows, labels, correct)
	if err != nil {
		return err
	}
	SoftmaxCostKernel(d.grid, s[0], s[1], r[0], r[1], s[2], size)
	return nil
}

func (d *CPUDevice) Sgemm(transA, transB bool, m, n, k int, alpha float32, a Buffer, lda int, b Buffer, ldb int, beta float32, c Buffer, ldc int) error {
	ab, err := d.buffer(a)
	if err != nil {
		return err
	}
	bb, err := d.buffer(b)
	if err != nil {
		return err
	}
	cb, err := d.buffer(c)
	if err != nil {
		return err
	}
	if m == 0 || n == 0 {
		return nil
	}
	sgemmColMajor(d.blas, transA, transB, m, n, k, alpha, ab.f, lda, bb.f, ldb, beta, cb.f, ldc)
	return nil
}

func (d *CPUDevice) SparseMultiply(indices, values Buffer, nnz, colCountA int, b Buffer, colCountB int, c Buffer, cLen int, transposeA bool) error {
	idx, err := d.ints(indices, nnz)
	if err != nil {
		return err
	}
	val, err := d.floats(values, nnz)
	if err != nil {
		return err
	}
	bb, err := d.buffer(b)
	if err != nil {
		return err
	}
	out, err := d.floats(c, cLen)
	if err != nil {
		return err
	}
	FillKernel(d.grid, out, 0)
	SparseMultiplyKernel(d.grid, idx, val, colCountA, bb.f, colCountB, out, transposeA)
	return nil
}

var _ Device = (*CPUDevice)(nil)
