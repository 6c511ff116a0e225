package gpu

import "github.com/chewxy/math32"

// The functions below are the reference kernel library. Each one is written
// as the body of a single lane (one output element, row or non-zero) and
// launched over a Grid, so they stay correct for any lane count.

// FillKernel sets every element of dst to value.
func FillKernel(g Grid, dst []float32, value float32) {
	g.Launch(len(dst), func(i int) { dst[i] = value })
}

// FillIntKernel sets every element of dst to value.
func FillIntKernel(g Grid, dst []int32, value int32) {
	g.Launch(len(dst), func(i int) { dst[i] = value })
}

// ReluKernel computes out = max(in, 0).
func ReluKernel(g Grid, in, out []float32) {
	g.Launch(len(out), func(i int) {
		out[i] = math32.Max(in[i], 0)
	})
}

// ReluBackwardKernel passes grad through where the forward output was positive.
func ReluBackwardKernel(g Grid, inGrad, grad, out []float32) {
	g.Launch(len(inGrad), func(i int) {
		v := grad[i]
		if out[i] <= 0 {
			v = 0
		}
		inGrad[i] = v
	})
}

// TanhKernel computes out = tanh(in).
func TanhKernel(g Grid, in, out []float32) {
	g.Launch(len(out), func(i int) {
		out[i] = math32.Tanh(in[i])
	})
}

// TanhBackwardKernel computes inGrad = grad * (1 - out^2).
func TanhBackwardKernel(g Grid, inGrad, grad, out []float32) {
	g.Launch(len(inGrad), func(i int) {
		o := out[i]
		inGrad[i] = grad[i] * (1 - o*o)
	})
}

// MaxoutKernel writes the maximum of each group of groupSize consecutive
// inputs to out and its flat input index to winners. Ties keep the first.
func MaxoutKernel(g Grid, in, out []float32, winners []int32, groupSize int) {
	g.Launch(len(out), func(i int) {
		start := i * groupSize
		best := in[start]
		winner := start
		for j := start + 1; j < start+groupSize; j++ {
			if in[j] > best {
				best = in[j]
				winner = j
			}
		}
		out[i] = best
		winners[i] = int32(winner)
	})
}

// MaxoutBackwardKernel routes grad[i] to the recorded winner.
func MaxoutBackwardKernel(g Grid, inGrad, grad []float32, winners []int32) {
	g.Launch(len(grad), func(i int) {
		inGrad[winners[i]] = grad[i]
	})
}

// DropoutKernel keeps inputs whose mask draw is above threshold while
// training, and scales by (1 - threshold) otherwise.
func DropoutKernel(g Grid, in, out, mask []float32, threshold float32, train bool) {
	g.Launch(len(out), func(i int) {
		var v float32
		if train {
			if mask[i] > threshold {
				v = in[i]
			}
		} else {
			v = in[i] * (1 - threshold)
		}
		out[i] = v
	})
}

// DropoutBackwardKernel passes grad only where the mask kept the unit.
func DropoutBackwardKernel(g Grid, inGrad, grad, mask []float32, threshold float32) {
	g.Launch(len(inGrad), func(i int) {
		var v float32
		if mask[i] > threshold {
			v = grad[i]
		}
		inGrad[i] = v
	})
}

// SoftmaxCostKernel runs one lane per row: a stable softmax into out, a 1/0
// correctness flag for argmax == label, and probability - indicator into grad.
func SoftmaxCostKernel(g Grid, in, out, labels, correct, grad []float32, size int) {
	g.Launch(len(labels), func(row int) {
		base := row * size
		x := in[base : base+size]
		y := out[base : base+size]
		dy := grad[base : base+size]

		maxVal := x[0]
		maxIdx := 0
		for j := 1; j < size; j++ {
			if x[j] > maxVal {
				maxVal = x[j]
				maxIdx = j
			}
		}

		var total float32
		for j := 0; j < size; j++ {
			e := math32.Exp(x[j] - maxVal)
			y[j] = e
			total += e
		}

		label := labels[row]
		correct[row] = 0
		if label == float32(maxIdx) {
			correct[row] = 1
		}

		for j := 0; j < size; j++ {
			p := y[j] / total
			y[j] = p
			if label == float32(j) {
				p -= 1
			}
			dy[j] = p
		}
	})
}

// RowScaleKernel computes matrix[r,c] *= vector[r].
func RowScaleKernel(g Grid, vector, matrix []float32, cols int) {
	g.Launch(len(matrix), func(i int) {
		matrix[i] *= vector[i/cols]
	})
}

// SparseMultiplyKernel accumulates C += A*B (or A^T*B) where A is given as
// flat row-major non-zero indices over colCountA columns. One lane per
// (non-zero, column of B) pair; accumulation into C is atomic.
func SparseMultiplyKernel(g Grid, indices []int32, values []float32, colCountA int, b []float32, colCountB int, c []float32, transposeA bool) {
	g.Launch(len(values)*colCountB, func(i int) {
		colB := i % colCountB
		nz := i / colCountB
		flat := int(indices[nz])
		rowA := flat / colCountA
		colA := flat % colCountA
		if transposeA {
			rowA, colA = colA, rowA
		}
		atomicAddFloat32(&c[rowA*colCountB+colB], values[nz]*b[colA*colCountB+colB])
	})
}
