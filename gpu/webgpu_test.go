//go:build gpu

package gpu

import (
	"math"
	"testing"
)

func openOrSkip(t *testing.T) Device {
	t.Helper()
	dev, err := OpenWebGPU()
	if err != nil {
		t.Skipf("no webgpu adapter: %v", err)
	}
	return dev
}

// Every WGSL kernel must agree with the CPU lane device on the same inputs.
func TestWebGPUMatchesCPU(t *testing.T) {
	gpuDev := openOrSkip(t)
	defer gpuDev.Release()
	cpuDev := NewCPUDevice(0)

	const rows, cols = 16, 12
	rng := NewRand(11)
	input := make([]float32, rows*cols)
	for i := range input {
		input[i] = float32(Gaussian(rng, 0, 2))
	}
	labels := make([]float32, rows)
	for i := range labels {
		labels[i] = float32(rng.Intn(cols))
	}

	run := func(dev Device) []float32 {
		in := newFilled(t, dev, rows, cols, input)
		act, _ := NewArray(dev, rows, cols)
		if err := dev.Tanh(in.Buffer(), act.Buffer(), rows*cols); err != nil {
			t.Fatal(err)
		}
		w := newFilled(t, dev, cols, cols, input[:cols*cols])
		z, _ := NewArray(dev, rows, cols)
		if err := GemmRowMajor(act, w, z, 0, false, true); err != nil {
			t.Fatal(err)
		}
		lab := newFilled(t, dev, rows, 1, labels)
		prob, _ := NewArray(dev, rows, cols)
		grad, _ := NewArray(dev, rows, cols)
		correct, _ := NewArray(dev, rows, 1)
		if err := dev.SoftmaxCost(z.Buffer(), prob.Buffer(), lab.Buffer(), correct.Buffer(), grad.Buffer(), rows, cols); err != nil {
			t.Fatal(err)
		}
		if err := dev.Sync(); err != nil {
			t.Fatal(err)
		}
		_ = grad.CopyToHost()
		return append([]float32(nil), grad.Host()...)
	}

	want := run(cpuDev)
	got := run(gpuDev)
	for i := range want {
		if math.Abs(float64(want[i]-got[i])) > 1e-4 {
			t.Fatalf("element %d: webgpu %v, cpu %v", i, got[i], want[i])
		}
	}
}

func TestWebGPUSparseAtomics(t *testing.T) {
	dev := openOrSkip(t)
	defer dev.Release()

	s, err := NewSparseMatrix(dev, 64, 4, 8)
	if err != nil {
		t.Fatal(err)
	}
	// Every row hits the same columns, so the transposed product collides.
	vals := make([][]float32, 4)
	idx := make([][]int32, 4)
	for r := range vals {
		vals[r] = []float32{1, 1}
		idx[r] = []int32{2, 5}
	}
	if err := s.BuildFromRows(vals, idx, 8); err != nil {
		t.Fatal(err)
	}
	_ = s.CopyToDevice()
	ones := newFilled(t, dev, 4, 1, []float32{1, 1, 1, 1})
	c, _ := NewArray(dev, 8, 1)
	if err := s.Multiply(ones, c, true); err != nil {
		t.Fatal(err)
	}
	expectHost(t, "column counts", c, []float32{0, 0, 4, 0, 0, 4, 0, 0})
}
