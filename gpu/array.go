package gpu

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"unsafe"
)

// Element is the set of 4-byte element types a DualArray can hold.
type Element interface {
	float32 | int32
}

// DualArray is a row-major matrix mirrored in host and device memory.
// The two copies are only synchronised by CopyToDevice and CopyToHost.
type DualArray[T Element] struct {
	dev  Device
	host []T
	buf  Buffer
	rows int
	cols int
}

// Array is a float32 DualArray.
type Array = DualArray[float32]

// IntArray is an int32 DualArray.
type IntArray = DualArray[int32]

// NewDualArray allocates a zeroed rows x cols array on dev and the host.
func NewDualArray[T Element](dev Device, rows, cols int) (*DualArray[T], error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("array: invalid shape %dx%d", rows, cols)
	}
	buf, err := dev.Alloc(rows * cols)
	if err != nil {
		return nil, fmt.Errorf("array: alloc %dx%d: %w", rows, cols, err)
	}
	Log("alloc %dx%d on %s", rows, cols, dev.Name())
	return &DualArray[T]{
		dev:  dev,
		host: make([]T, rows*cols),
		buf:  buf,
		rows: rows,
		cols: cols,
	}, nil
}

// NewArray allocates a float32 array.
func NewArray(dev Device, rows, cols int) (*Array, error) {
	return NewDualArray[float32](dev, rows, cols)
}

// NewIntArray allocates an int32 array.
func NewIntArray(dev Device, rows, cols int) (*IntArray, error) {
	return NewDualArray[int32](dev, rows, cols)
}

func (a *DualArray[T]) Rows() int      { return a.rows }
func (a *DualArray[T]) Cols() int      { return a.cols }
func (a *DualArray[T]) Len() int       { return a.rows * a.cols }
func (a *DualArray[T]) Host() []T      { return a.host }
func (a *DualArray[T]) Buffer() Buffer { return a.buf }
func (a *DualArray[T]) Device() Device { return a.dev }

func (a *DualArray[T]) At(row, col int) T {
	return a.host[row*a.cols+col]
}

func (a *DualArray[T]) Set(row, col int, v T) {
	a.host[row*a.cols+col] = v
}

// View returns the host elements of rows [from, to).
func (a *DualArray[T]) View(from, to int) []T {
	return a.host[from*a.cols : to*a.cols]
}

// SetHost replaces the host contents. The length must match exactly.
func (a *DualArray[T]) SetHost(data []T) error {
	if len(data) != len(a.host) {
		return fmt.Errorf("%w: %d values for a %dx%d array", ErrSizeMismatch, len(data), a.rows, a.cols)
	}
	copy(a.host, data)
	return nil
}

// FillHost sets every host element to v.
func (a *DualArray[T]) FillHost(v T) {
	for i := range a.host {
		a.host[i] = v
	}
}

// FillDevice sets every device element to v without touching the host.
func (a *DualArray[T]) FillDevice(v T) error {
	switch x := any(v).(type) {
	case float32:
		return a.dev.Fill(a.buf, a.Len(), x)
	case int32:
		return a.dev.FillInt(a.buf, a.Len(), x)
	}
	return nil
}

// InitUniform fills the host buffer with independent draws from [-max, max].
func (a *DualArray[T]) InitUniform(rng *rand.Rand, max float32) {
	for i := range a.host {
		a.host[i] = T(Uniform(rng, float64(max)))
	}
}

// InitGaussian fills the host buffer with independent N(mean, std^2) draws.
func (a *DualArray[T]) InitGaussian(rng *rand.Rand, mean, std float32) {
	for i := range a.host {
		a.host[i] = T(Gaussian(rng, float64(mean), float64(std)))
	}
}

// InitUnit fills the host buffer with independent draws from [0, 1).
func (a *DualArray[T]) InitUnit(rng *rand.Rand) {
	for i := range a.host {
		a.host[i] = T(rng.Float32())
	}
}

func (a *DualArray[T]) CopyToDevice() error {
	return a.dev.Upload(a.buf, hostBytes(a.host))
}

func (a *DualArray[T]) CopyToHost() error {
	return a.dev.Download(a.buf, hostBytes(a.host))
}

// CopyFrom copies n device elements of src starting at srcOffset into the
// start of this array's device buffer.
func (a *DualArray[T]) CopyFrom(src *DualArray[T], srcOffset, n int) error {
	return a.dev.Copy(a.buf, 0, src.buf, srcOffset, n)
}

// SaveBinary writes the host buffer as little-endian 4-byte elements.
func (a *DualArray[T]) SaveBinary(path string) error {
	data := make([]byte, 4*len(a.host))
	for i, v := range a.host {
		binary.LittleEndian.PutUint32(data[4*i:], bits(v))
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// LoadBinary reads a file written by SaveBinary into the host buffer.
func (a *DualArray[T]) LoadBinary(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if len(data) != 4*len(a.host) {
		return fmt.Errorf("%w: %s holds %d bytes, array needs %d", ErrSizeMismatch, path, len(data), 4*len(a.host))
	}
	for i := range a.host {
		a.host[i] = fromBits[T](binary.LittleEndian.Uint32(data[4*i:]))
	}
	return nil
}

// Text renders one "row\tcol\tvalue" line per element.
func (a *DualArray[T]) Text() string {
	var sb strings.Builder
	for r := 0; r < a.rows; r++ {
		for c := 0; c < a.cols; c++ {
			sb.WriteString(strconv.Itoa(r))
			sb.WriteByte('\t')
			sb.WriteString(strconv.Itoa(c))
			sb.WriteByte('\t')
			sb.WriteString(formatElement(a.host[r*a.cols+c]))
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// Free releases the device buffer and drops the host copy.
func (a *DualArray[T]) Free() {
	if a.buf != nil {
		a.buf.Release()
		a.buf = nil
	}
	a.host = nil
}

func hostBytes[T Element](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*4)
}

func bits[T Element](v T) uint32 {
	switch x := any(v).(type) {
	case float32:
		return math.Float32bits(x)
	case int32:
		return uint32(x)
	}
	return 0
}

func fromBits[T Element](u uint32) T {
	var zero T
	switch any(zero).(type) {
	case float32:
		return any(math.Float32frombits(u)).(T)
	case int32:
		return any(int32(u)).(T)
	}
	return zero
}

func formatElement[T Element](v T) string {
	switch x := any(v).(type) {
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	}
	return ""
}
