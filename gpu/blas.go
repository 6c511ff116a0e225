package gpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// sgemmColMajor runs a column-major SGEMM on top of gonum's row-major
// implementation. A column-major matrix with leading dimension ld is the
// row-major transpose of the same memory, so C^T = op(B)^T op(A)^T is issued
// with the operands and their dimensions exchanged.
func sgemmColMajor(impl blas.Float32Level3, transA, transB bool, m, n, k int, alpha float32, a []float32, lda int, b []float32, ldb int, beta float32, c []float32, ldc int) {
	impl.Sgemm(transpose(transB), transpose(transA), n, m, k, alpha, b, ldb, a, lda, beta, c, ldc)
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

func defaultBLAS() blas.Float32 {
	return blas32.Implementation()
}

// GemmRowMajor computes C = op(A)*op(B) + cMultiplier*C for row-major arrays
// on a column-major SGEMM. Column-major code sees each row-major buffer as
// its transpose, so the call is issued as op(B)^T*op(A)^T = C^T: B takes the
// first operand slot, A the second, and the m/n roles swap with them.
func GemmRowMajor(a, b, c *Array, cMultiplier float32, transA, transB bool) error {
	blasA, blasB := b, a

	m := blasA.Cols() // columns of op(B) and C
	n := blasB.Rows() // rows of op(A) and C
	k := blasB.Cols()

	lda := blasA.Cols()
	ldb := blasB.Cols()
	ldc := blasA.Cols()

	if transA {
		n = blasB.Cols()
		k = blasB.Rows()
	}
	if transB {
		m = blasA.Rows()
		ldc = blasA.Rows()
	}

	kB := blasA.Rows()
	if transB {
		kB = blasA.Cols()
	}
	if kB != k {
		return fmt.Errorf("%w: gemm inner dimensions %d and %d", ErrSizeMismatch, k, kB)
	}
	if c.Len() != m*n {
		return fmt.Errorf("%w: gemm output holds %d elements, product needs %dx%d", ErrSizeMismatch, c.Len(), n, m)
	}

	return a.Device().Sgemm(transB, transA, m, n, k, 1, blasA.Buffer(), lda, blasB.Buffer(), ldb, cMultiplier, c.Buffer(), ldc)
}
