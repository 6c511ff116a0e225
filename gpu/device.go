package gpu

// Buffer is an opaque device allocation of 4-byte elements.
type Buffer interface {
	Len() int
	Release()
}

// Kernels is the stateless numeric kernel set every device provides.
// All lengths are element counts. Every launch is complete by the time
// a later call on the same device reads its output.
type Kernels interface {
	Fill(buf Buffer, n int, value float32) error
	FillInt(buf Buffer, n int, value int32) error

	// Axpy computes y += alpha * x.
	Axpy(n int, alpha float32, x, y Buffer) error
	// Scale computes x *= alpha.
	Scale(n int, alpha float32, x Buffer) error
	// RowScale computes matrix[r,c] *= vector[r].
	RowScale(vector, matrix Buffer, rows, cols int) error

	Relu(in, out Buffer, n int) error
	ReluBackward(inGrad, grad, out Buffer, n int) error
	Tanh(in, out Buffer, n int) error
	TanhBackward(inGrad, grad, out Buffer, n int) error

	// Maxout reduces consecutive groups of groupSize inputs to one output
	// and records the flat input index of each winner.
	Maxout(in, out, winners Buffer, n, groupSize int) error
	// MaxoutBackward scatters grad[g] to inGrad[winners[g]]. The caller
	// zeroes inGrad first.
	MaxoutBackward(inGrad, grad, winners Buffer, n int) error

	Dropout(in, out, mask Buffer, n int, threshold float32, train bool) error
	DropoutBackward(inGrad, grad, mask Buffer, n int, threshold float32) error

	// SoftmaxCost normalises each of rows rows of size logits, marks whether
	// the argmax equals labels[row] and writes probability - indicator to grad.
	SoftmaxCost(in, out, labels, correct, grad Buffer, rows, size int) error

	// Sgemm is a column-major C = alpha*op(A)*op(B) + beta*C.
	Sgemm(transA, transB bool, m, n, k int, alpha float32, a Buffer, lda int, b Buffer, ldb int, beta float32, c Buffer, ldc int) error

	// SparseMultiply zeroes C then accumulates C[row,j] += value*B[col,j]
	// for every non-zero of A (row and col swapped when transposeA).
	SparseMultiply(indices, values Buffer, nnz, colCountA int, b Buffer, colCountB int, c Buffer, cLen int, transposeA bool) error
}

// Device owns device memory and launches kernels on it.
type Device interface {
	Kernels

	Name() string
	// Alloc returns a zeroed buffer of n elements.
	Alloc(n int) (Buffer, error)
	Upload(dst Buffer, src []byte) error
	Download(src Buffer, dst []byte) error
	// Copy moves n elements between device buffers.
	Copy(dst Buffer, dstOffset int, src Buffer, srcOffset int, n int) error
	// Sync blocks until every launched kernel has completed.
	Sync() error
	Release()
}

// Open returns a WebGPU device when preferGPU is set and one is available,
// otherwise a CPU lane device sized to the machine.
func Open(preferGPU bool) Device {
	if preferGPU {
		dev, err := OpenWebGPU()
		if err == nil {
			return dev
		}
		Log("webgpu unavailable, falling back to cpu: %v", err)
	}
	return NewCPUDevice(0)
}
