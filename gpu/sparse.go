package gpu

import "fmt"

// SparseMatrix is a row-major list of non-zeros with flattened
// row*cols+col indices, mirrored on the device.
type SparseMatrix struct {
	dataSize int
	rows     int
	cols     int
	nnz      int

	Indices *IntArray
	Values  *Array
}

// NewSparseMatrix preallocates dataSize non-zero slots for a rows x cols matrix.
func NewSparseMatrix(dev Device, dataSize, rows, cols int) (*SparseMatrix, error) {
	idx, err := NewIntArray(dev, 1, dataSize)
	if err != nil {
		return nil, err
	}
	vals, err := NewArray(dev, 1, dataSize)
	if err != nil {
		idx.Free()
		return nil, err
	}
	return &SparseMatrix{dataSize: dataSize, rows: rows, cols: cols, Indices: idx, Values: vals}, nil
}

func (s *SparseMatrix) DataSize() int     { return s.dataSize }
func (s *SparseMatrix) Rows() int         { return s.rows }
func (s *SparseMatrix) Cols() int         { return s.cols }
func (s *SparseMatrix) NonZeroCount() int { return s.nnz }

// BuildFromRows replaces the contents with one row per entry of values.
// indices[i] holds column offsets within row i; they are stored as absolute
// i*cols+index positions in encounter order.
func (s *SparseMatrix) BuildFromRows(values [][]float32, indices [][]int32, cols int) error {
	if len(values) != len(indices) {
		return fmt.Errorf("%w: %d value rows, %d index rows", ErrSizeMismatch, len(values), len(indices))
	}
	total := 0
	for i := range values {
		if len(values[i]) != len(indices[i]) {
			return fmt.Errorf("%w: row %d has %d values, %d indices", ErrSizeMismatch, i, len(values[i]), len(indices[i]))
		}
		for _, col := range indices[i] {
			if col < 0 || int(col) >= cols {
				return fmt.Errorf("%w: row %d column %d outside %d columns", ErrSizeMismatch, i, col, cols)
			}
		}
		total += len(values[i])
	}
	if total > s.dataSize {
		return fmt.Errorf("%w: %d non-zeros, capacity %d", ErrCapacityExceeded, total, s.dataSize)
	}

	idx := s.Indices.Host()
	vals := s.Values.Host()
	n := 0
	for i, row := range values {
		for j, v := range row {
			idx[n] = int32(i*cols) + indices[i][j]
			vals[n] = v
			n++
		}
	}
	s.rows = len(values)
	s.cols = cols
	s.nnz = n
	return nil
}

// Lookup returns the value at (row, col), or zero. It scans in index order
// and stops at the first index past the target.
func (s *SparseMatrix) Lookup(row, col int) float32 {
	target := int32(row*s.cols + col)
	idx := s.Indices.Host()
	for i := 0; i < s.nnz; i++ {
		if idx[i] == target {
			return s.Values.Host()[i]
		}
		if idx[i] > target {
			break
		}
	}
	return 0
}

// Dense expands the host copy into a rows x cols slice.
func (s *SparseMatrix) Dense() []float32 {
	out := make([]float32, s.rows*s.cols)
	idx := s.Indices.Host()
	vals := s.Values.Host()
	for i := 0; i < s.nnz; i++ {
		out[idx[i]] += vals[i]
	}
	return out
}

func (s *SparseMatrix) CopyToDevice() error {
	if err := s.Indices.CopyToDevice(); err != nil {
		return err
	}
	return s.Values.CopyToDevice()
}

// Multiply computes c = A*b, or A^T*b when transposeA, where A is this matrix.
func (s *SparseMatrix) Multiply(b, c *Array, transposeA bool) error {
	inner := s.cols
	outRows := s.rows
	if transposeA {
		inner, outRows = s.rows, s.cols
	}
	if b.Rows() != inner || c.Rows() != outRows || c.Cols() != b.Cols() {
		return fmt.Errorf("%w: sparse %dx%d (transpose=%v) times %dx%d into %dx%d",
			ErrSizeMismatch, s.rows, s.cols, transposeA, b.Rows(), b.Cols(), c.Rows(), c.Cols())
	}
	return b.Device().SparseMultiply(s.Indices.Buffer(), s.Values.Buffer(), s.nnz, s.cols,
		b.Buffer(), b.Cols(), c.Buffer(), c.Len(), transposeA)
}

func (s *SparseMatrix) Free() {
	s.Indices.Free()
	s.Values.Free()
}
