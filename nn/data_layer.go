package nn

import (
	"fmt"

	"github.com/openfluke/clicknet/gpu"
)

// DataLayer holds a minibatch of raw inputs or labels. A sparse DataLayer
// keeps its records in a SparseMatrix instead of Outputs.
type DataLayer struct {
	layerBase

	// BatchesPerLoad is the number of minibatches a preloaded device block
	// holds; CurrentBatchNo selects the window SetDeviceData copies.
	BatchesPerLoad int
	CurrentBatchNo int

	sparseDataSize int
	sparse         *gpu.SparseMatrix
}

func newDataLayer(n *Network, size, batchesPerLoad, sparseDataSize int, id string) (*DataLayer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: data layer size %d", ErrConfiguration, size)
	}
	if batchesPerLoad <= 0 {
		batchesPerLoad = 1
	}
	outSize := size
	if sparseDataSize > 0 {
		outSize = 0
	}
	base, err := newLayerBase(n, nil, outSize, id)
	if err != nil {
		return nil, err
	}
	base.size = size
	return &DataLayer{
		layerBase:      base,
		BatchesPerLoad: batchesPerLoad,
		sparseDataSize: sparseDataSize,
	}, nil
}

func (d *DataLayer) TypeDescription() string { return "DATA" }

func (d *DataLayer) IsSparse() bool { return d.sparseDataSize > 0 }

// SparseMatrix is nil until the first SetSparseData.
func (d *DataLayer) SparseMatrix() *gpu.SparseMatrix { return d.sparse }

// SetData uploads one dense minibatch. A non-zero noiseStd adds Gaussian
// noise on the device copy only.
func (d *DataLayer) SetData(data []float32, noiseMean, noiseStd float32) error {
	out := d.arrays[Outputs]
	if out == nil {
		return fmt.Errorf("%w: layer %s is sparse", ErrState, d.id)
	}
	if err := out.SetHost(data); err != nil {
		return fmt.Errorf("layer %s: %w", d.id, err)
	}
	if err := out.CopyToDevice(); err != nil {
		return err
	}
	if noiseStd == 0 {
		return nil
	}

	if d.arrays[Noise] == nil {
		if err := d.alloc(Noise, out.Rows(), out.Cols()); err != nil {
			return err
		}
	}
	noise := d.arrays[Noise]
	noise.InitGaussian(d.rng, noiseMean, noiseStd)
	if err := noise.CopyToDevice(); err != nil {
		return err
	}
	return d.dev.Axpy(out.Len(), 1, noise.Buffer(), out.Buffer())
}

// SetSparseData rebuilds the sparse matrix from per-record (value, column)
// lists and uploads it.
func (d *DataLayer) SetSparseData(values [][]float32, indices [][]int32) error {
	if !d.IsSparse() {
		return fmt.Errorf("%w: layer %s is dense", ErrState, d.id)
	}
	if d.sparse == nil {
		s, err := gpu.NewSparseMatrix(d.dev, d.sparseDataSize, d.minibatch, d.size)
		if err != nil {
			return err
		}
		d.sparse = s
	}
	if err := d.sparse.BuildFromRows(values, indices, d.size); err != nil {
		return fmt.Errorf("layer %s: %w", d.id, err)
	}
	return d.sparse.CopyToDevice()
}

// SetDeviceData copies the CurrentBatchNo-th minibatch window of a
// device-resident block into Outputs without a host round trip.
func (d *DataLayer) SetDeviceData(block *gpu.Array) error {
	out := d.arrays[Outputs]
	if out == nil {
		return fmt.Errorf("%w: layer %s is sparse", ErrState, d.id)
	}
	offset := d.CurrentBatchNo * out.Len()
	if block.Len() < offset+out.Len() {
		return fmt.Errorf("%w: block of %d values has no window %d of %d",
			gpu.ErrSizeMismatch, block.Len(), d.CurrentBatchNo, out.Len())
	}
	return out.CopyFrom(block, offset, out.Len())
}

// IncBatchNo advances the preloaded window, wrapping at BatchesPerLoad.
func (d *DataLayer) IncBatchNo() {
	d.CurrentBatchNo++
	if d.CurrentBatchNo >= d.BatchesPerLoad {
		d.CurrentBatchNo = 0
	}
}

func (d *DataLayer) Calculate(bool) error { return nil }
func (d *DataLayer) BackPropagate() error { return nil }

func (d *DataLayer) Free() {
	if d.sparse != nil {
		d.sparse.Free()
		d.sparse = nil
	}
	d.layerBase.Free()
}
