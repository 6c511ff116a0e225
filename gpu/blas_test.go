package gpu

import (
	"errors"
	"testing"
)

func newFilled(t *testing.T, dev Device, rows, cols int, data []float32) *Array {
	t.Helper()
	a, err := NewArray(dev, rows, cols)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetHost(data); err != nil {
		t.Fatal(err)
	}
	if err := a.CopyToDevice(); err != nil {
		t.Fatal(err)
	}
	return a
}

func expectHost(t *testing.T, name string, a *Array, want []float32) {
	t.Helper()
	if err := a.CopyToHost(); err != nil {
		t.Fatal(err)
	}
	for i := range want {
		if a.Host()[i] != want[i] {
			t.Errorf("%s = %v, want %v", name, a.Host(), want)
			return
		}
	}
}

// A = [1 2 3; 4 5 6], B = [7 8; 9 10; 11 12], A*B = [58 64; 139 154].
func TestGemmRowMajorHandComputed(t *testing.T) {
	dev := NewCPUDevice(2)
	product := []float32{58, 64, 139, 154}

	a := newFilled(t, dev, 2, 3, []float32{1, 2, 3, 4, 5, 6})
	b := newFilled(t, dev, 3, 2, []float32{7, 8, 9, 10, 11, 12})
	aT := newFilled(t, dev, 3, 2, []float32{1, 4, 2, 5, 3, 6})
	bT := newFilled(t, dev, 2, 3, []float32{7, 9, 11, 8, 10, 12})

	cases := []struct {
		name           string
		a, b           *Array
		transA, transB bool
	}{
		{"A*B", a, b, false, false},
		{"(A^T)^T*B", aT, b, true, false},
		{"A*(B^T)^T", a, bT, false, true},
		{"both transposed", aT, bT, true, true},
	}
	for _, tc := range cases {
		c, _ := NewArray(dev, 2, 2)
		if err := GemmRowMajor(tc.a, tc.b, c, 0, tc.transA, tc.transB); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		expectHost(t, tc.name, c, product)
	}
}

func TestGemmRowMajorAccumulatesBias(t *testing.T) {
	dev := NewCPUDevice(1)
	a := newFilled(t, dev, 2, 3, []float32{1, 2, 3, 4, 5, 6})
	b := newFilled(t, dev, 3, 2, []float32{7, 8, 9, 10, 11, 12})
	c := newFilled(t, dev, 2, 2, []float32{1, 1, 1, 1})

	if err := GemmRowMajor(a, b, c, 1, false, false); err != nil {
		t.Fatal(err)
	}
	expectHost(t, "C + A*B", c, []float32{59, 65, 140, 155})

	// Bias broadcast: ones[2x1] * bias[1x2] added to every row.
	ones := newFilled(t, dev, 2, 1, []float32{1, 1})
	bias := newFilled(t, dev, 1, 2, []float32{0.5, -1})
	if err := GemmRowMajor(ones, bias, c, 1, false, false); err != nil {
		t.Fatal(err)
	}
	expectHost(t, "C + bias", c, []float32{59.5, 64, 140.5, 154})

	// Column sums: C^T * ones[2x1].
	sums, _ := NewArray(dev, 2, 1)
	if err := GemmRowMajor(c, ones, sums, 0, true, false); err != nil {
		t.Fatal(err)
	}
	expectHost(t, "C^T * ones", sums, []float32{200, 218})
}

func TestGemmRowMajorRejectsMismatch(t *testing.T) {
	dev := NewCPUDevice(1)
	a, _ := NewArray(dev, 2, 3)
	b, _ := NewArray(dev, 2, 2)
	c, _ := NewArray(dev, 2, 2)
	if err := GemmRowMajor(a, b, c, 0, false, false); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("inner mismatch: got %v", err)
	}
	b3, _ := NewArray(dev, 3, 2)
	c3, _ := NewArray(dev, 3, 3)
	if err := GemmRowMajor(a, b3, c3, 0, false, false); !errors.Is(err, ErrSizeMismatch) {
		t.Errorf("output mismatch: got %v", err)
	}
}

func TestAxpyScale(t *testing.T) {
	dev := NewCPUDevice(1)
	x := newFilled(t, dev, 1, 3, []float32{1, 2, 3})
	y := newFilled(t, dev, 1, 3, []float32{10, 20, 30})
	if err := dev.Axpy(3, -2, x.Buffer(), y.Buffer()); err != nil {
		t.Fatal(err)
	}
	if err := dev.Scale(3, 0.5, y.Buffer()); err != nil {
		t.Fatal(err)
	}
	expectHost(t, "y", y, []float32{4, 8, 12})
}
