//go:build gpu

package gpu

import (
	"strconv"
	"strings"
)

// Every kernel runs a grid-stride loop so any dispatch size covers the data.
// "WG" is replaced with the workgroup size chosen for the adapter. Scalar
// arguments arrive in the trailing p buffer; floats are passed as bits.
const wgslEntry = `
@compute @workgroup_size(WG)
fn main(@builtin(global_invocation_id) gid : vec3<u32>, @builtin(num_workgroups) nwg : vec3<u32>) {
	let stride = nwg.x * WGu;
`

type kernelSource struct {
	name     string
	bindings int // data buffers, the params buffer follows them
	decl     string
	body     string
}

func (k kernelSource) code(workgroup uint32) string {
	src := k.decl + wgslEntry + k.body + "}\n"
	return strings.ReplaceAll(src, "WG", strconv.FormatUint(uint64(workgroup), 10))
}

const (
	kFill = iota
	kAxpy
	kScale
	kRowScale
	kRelu
	kReluBackward
	kTanh
	kTanhBackward
	kMaxout
	kMaxoutBackward
	kDropout
	kDropoutBackward
	kSoftmaxCost
	kSgemm
	kSparseMultiply
	kernelCount
)

var kernelSources = [kernelCount]kernelSource{
	kFill: {name: "fill", bindings: 1, decl: `
@group(0) @binding(0) var<storage, read_write> dst : array<u32>;
@group(0) @binding(1) var<storage, read> p : array<u32>;
`, body: `
	for (var i = gid.x; i < p[0]; i += stride) {
		dst[i] = p[1];
	}
`},
	kAxpy: {name: "axpy", bindings: 2, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read> p : array<u32>;
`, body: `
	let alpha = bitcast<f32>(p[1]);
	for (var i = gid.x; i < p[0]; i += stride) {
		y[i] = y[i] + alpha * x[i];
	}
`},
	kScale: {name: "scale", bindings: 1, decl: `
@group(0) @binding(0) var<storage, read_write> x : array<f32>;
@group(0) @binding(1) var<storage, read> p : array<u32>;
`, body: `
	let alpha = bitcast<f32>(p[1]);
	for (var i = gid.x; i < p[0]; i += stride) {
		x[i] = x[i] * alpha;
	}
`},
	kRowScale: {name: "row_scale", bindings: 2, decl: `
@group(0) @binding(0) var<storage, read> scales : array<f32>;
@group(0) @binding(1) var<storage, read_write> cells : array<f32>;
@group(0) @binding(2) var<storage, read> p : array<u32>;
`, body: `
	let cols = p[1];
	for (var i = gid.x; i < p[0]; i += stride) {
		cells[i] = cells[i] * scales[i / cols];
	}
`},
	kRelu: {name: "relu", bindings: 2, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read> p : array<u32>;
`, body: `
	for (var i = gid.x; i < p[0]; i += stride) {
		y[i] = max(x[i], 0.0);
	}
`},
	kReluBackward: {name: "relu_backward", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read_write> dx : array<f32>;
@group(0) @binding(1) var<storage, read> dy : array<f32>;
@group(0) @binding(2) var<storage, read> y : array<f32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	for (var i = gid.x; i < p[0]; i += stride) {
		dx[i] = select(dy[i], 0.0, y[i] <= 0.0);
	}
`},
	kTanh: {name: "tanh", bindings: 2, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read> p : array<u32>;
`, body: `
	for (var i = gid.x; i < p[0]; i += stride) {
		y[i] = tanh(x[i]);
	}
`},
	kTanhBackward: {name: "tanh_backward", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read_write> dx : array<f32>;
@group(0) @binding(1) var<storage, read> dy : array<f32>;
@group(0) @binding(2) var<storage, read> y : array<f32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	for (var i = gid.x; i < p[0]; i += stride) {
		dx[i] = dy[i] * (1.0 - y[i] * y[i]);
	}
`},
	kMaxout: {name: "maxout", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read_write> winners : array<i32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	let groupSize = p[1];
	for (var g = gid.x; g < p[0]; g += stride) {
		let start = g * groupSize;
		var best = x[start];
		var winner = start;
		for (var j = start + 1u; j < start + groupSize; j++) {
			if (x[j] > best) {
				best = x[j];
				winner = j;
			}
		}
		y[g] = best;
		winners[g] = i32(winner);
	}
`},
	kMaxoutBackward: {name: "maxout_backward", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read_write> dx : array<f32>;
@group(0) @binding(1) var<storage, read> dy : array<f32>;
@group(0) @binding(2) var<storage, read> winners : array<i32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	for (var g = gid.x; g < p[0]; g += stride) {
		dx[u32(winners[g])] = dy[g];
	}
`},
	kDropout: {name: "dropout", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read> mask : array<f32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	let threshold = bitcast<f32>(p[1]);
	let train = p[2] == 1u;
	for (var i = gid.x; i < p[0]; i += stride) {
		if (train) {
			y[i] = select(0.0, x[i], mask[i] > threshold);
		} else {
			y[i] = x[i] * (1.0 - threshold);
		}
	}
`},
	kDropoutBackward: {name: "dropout_backward", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read_write> dx : array<f32>;
@group(0) @binding(1) var<storage, read> dy : array<f32>;
@group(0) @binding(2) var<storage, read> mask : array<f32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	let threshold = bitcast<f32>(p[1]);
	for (var i = gid.x; i < p[0]; i += stride) {
		dx[i] = select(0.0, dy[i], mask[i] > threshold);
	}
`},
	kSoftmaxCost: {name: "softmax_cost", bindings: 5, decl: `
@group(0) @binding(0) var<storage, read> x : array<f32>;
@group(0) @binding(1) var<storage, read_write> y : array<f32>;
@group(0) @binding(2) var<storage, read> labels : array<f32>;
@group(0) @binding(3) var<storage, read_write> correct : array<f32>;
@group(0) @binding(4) var<storage, read_write> dy : array<f32>;
@group(0) @binding(5) var<storage, read> p : array<u32>;
`, body: `
	let size = p[1];
	for (var row = gid.x; row < p[0]; row += stride) {
		let base = row * size;
		var maxVal = x[base];
		var maxIdx = 0u;
		for (var j = 1u; j < size; j++) {
			if (x[base + j] > maxVal) {
				maxVal = x[base + j];
				maxIdx = j;
			}
		}
		var total = 0.0;
		for (var j = 0u; j < size; j++) {
			let e = exp(x[base + j] - maxVal);
			y[base + j] = e;
			total += e;
		}
		let label = labels[row];
		correct[row] = select(0.0, 1.0, label == f32(maxIdx));
		for (var j = 0u; j < size; j++) {
			let prob = y[base + j] / total;
			y[base + j] = prob;
			dy[base + j] = prob - select(0.0, 1.0, label == f32(j));
		}
	}
`},
	// Column-major C = alpha*op(A)*op(B) + beta*C, one lane per element of C.
	kSgemm: {name: "sgemm", bindings: 3, decl: `
@group(0) @binding(0) var<storage, read> a : array<f32>;
@group(0) @binding(1) var<storage, read> b : array<f32>;
@group(0) @binding(2) var<storage, read_write> c : array<f32>;
@group(0) @binding(3) var<storage, read> p : array<u32>;
`, body: `
	let m = p[0];
	let n = p[1];
	let k = p[2];
	let lda = p[3];
	let ldb = p[4];
	let ldc = p[5];
	let transA = p[6] == 1u;
	let transB = p[7] == 1u;
	let alpha = bitcast<f32>(p[8]);
	let beta = bitcast<f32>(p[9]);
	for (var idx = gid.x; idx < m * n; idx += stride) {
		let i = idx % m;
		let j = idx / m;
		var sum = 0.0;
		for (var l = 0u; l < k; l++) {
			let av = select(a[i + l * lda], a[l + i * lda], transA);
			let bv = select(b[l + j * ldb], b[j + l * ldb], transB);
			sum += av * bv;
		}
		let ci = i + j * ldc;
		if (beta == 0.0) {
			c[ci] = alpha * sum;
		} else {
			c[ci] = alpha * sum + beta * c[ci];
		}
	}
`},
	// Float accumulation through a CAS loop on the raw bits.
	kSparseMultiply: {name: "sparse_multiply", bindings: 4, decl: `
@group(0) @binding(0) var<storage, read> indices : array<i32>;
@group(0) @binding(1) var<storage, read> values : array<f32>;
@group(0) @binding(2) var<storage, read> b : array<f32>;
@group(0) @binding(3) var<storage, read_write> c : array<atomic<u32>>;
@group(0) @binding(4) var<storage, read> p : array<u32>;
`, body: `
	let nnz = p[0];
	let colsA = p[1];
	let colsB = p[2];
	let swapRC = p[3] == 1u;
	for (var idx = gid.x; idx < nnz * colsB; idx += stride) {
		let colB = idx % colsB;
		let nz = idx / colsB;
		let flat = u32(indices[nz]);
		var rowA = flat / colsA;
		var colA = flat % colsA;
		if (swapRC) {
			let t = rowA;
			rowA = colA;
			colA = t;
		}
		let add = values[nz] * b[colA * colsB + colB];
		let cell = rowA * colsB + colB;
		var old_val: u32 = atomicLoad(&c[cell]);
		loop {
			let new_val = bitcast<u32>(bitcast<f32>(old_val) + add);
			let result = atomicCompareExchangeWeak(&c[cell], old_val, new_val);
			if (result.exchanged) { break; }
			old_val = result.old_value;
		}
	}
`},
}
