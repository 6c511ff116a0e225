package nn

import (
	"fmt"
	"math/rand"

	"github.com/openfluke/clicknet/gpu"
)

// DataBatch is one minibatch as produced by a Provider. Exactly one of
// Inputs, SparseValues/SparseIndices or DeviceInputs carries the features.
type DataBatch struct {
	MinibatchSize int
	InputSize     int
	LabelSize     int

	Inputs        []float32
	SparseValues  [][]float32
	SparseIndices [][]int32
	Labels        []float32

	// DeviceInputs and DeviceLabels are preloaded blocks holding several
	// minibatches; Window selects this batch's slice.
	DeviceInputs *gpu.Array
	DeviceLabels *gpu.Array
	Window       int

	// SourceBatch, when set, owns the predicted labels of this batch.
	SourceBatch *DataBatch
	predicted   []int

	EpochNo int
	BatchNo int
}

func (b *DataBatch) IsSparse() bool     { return b.SparseValues != nil }
func (b *DataBatch) IsDeviceData() bool { return b.DeviceInputs != nil }

// PredictedLabels is nil until predictions are recorded.
func (b *DataBatch) PredictedLabels() []int {
	if b.SourceBatch != nil {
		return b.SourceBatch.PredictedLabels()
	}
	return b.predicted
}

func (b *DataBatch) SetPredictedLabels(labels []int) {
	if b.SourceBatch != nil {
		b.SourceBatch.SetPredictedLabels(labels)
		return
	}
	b.predicted = labels
}

// CorrectCount compares recorded predictions with the first label column.
func (b *DataBatch) CorrectCount() (correct, total int) {
	predicted := b.PredictedLabels()
	if predicted == nil {
		return 0, 0
	}
	stride := b.LabelSize
	if stride <= 0 {
		stride = 1
	}
	for i, p := range predicted {
		if i*stride >= len(b.Labels) {
			break
		}
		total++
		if int(b.Labels[i*stride]) == p {
			correct++
		}
	}
	return correct, total
}

// Provider hands out minibatches in order. Epoch advances as soon as the
// last batch of an epoch has been returned.
type Provider interface {
	NextBatch() (*DataBatch, error)
	Epoch() int
	BatchCount() int
}

// SliceProvider cycles over an in-memory list of batches.
type SliceProvider struct {
	batches []*DataBatch
	order   []int
	rng     *rand.Rand
	pos     int
	epoch   int
}

// NewSliceProvider serves batches in order, reshuffled at the start of every
// epoch when shuffle is set.
func NewSliceProvider(batches []*DataBatch, shuffle bool, seed int64) *SliceProvider {
	p := &SliceProvider{batches: batches, order: make([]int, len(batches))}
	for i := range p.order {
		p.order[i] = i
	}
	if shuffle {
		p.rng = gpu.NewRand(seed)
	}
	return p
}

func (p *SliceProvider) NextBatch() (*DataBatch, error) {
	if len(p.batches) == 0 {
		return nil, fmt.Errorf("%w: provider has no batches", ErrState)
	}
	if p.pos == 0 && p.rng != nil {
		p.rng.Shuffle(len(p.order), func(i, j int) { p.order[i], p.order[j] = p.order[j], p.order[i] })
	}
	b := p.batches[p.order[p.pos]]
	b.EpochNo = p.epoch
	b.BatchNo = p.pos
	p.pos++
	if p.pos == len(p.batches) {
		p.pos = 0
		p.epoch++
	}
	return b, nil
}

func (p *SliceProvider) Epoch() int      { return p.epoch }
func (p *SliceProvider) BatchCount() int { return len(p.batches) }

// Batches returns the underlying batches in their original order.
func (p *SliceProvider) Batches() []*DataBatch { return p.batches }

// CorrectLabelPercentage is the share of correct predictions, in percent,
// over every batch that has recorded predictions.
func (p *SliceProvider) CorrectLabelPercentage() float64 {
	var correct, total int
	for _, b := range p.batches {
		c, t := b.CorrectCount()
		correct += c
		total += t
	}
	if total == 0 {
		return 0
	}
	return 100 * float64(correct) / float64(total)
}

// NewDenseBatches splits row-major inputs and labels into minibatches of
// size mb. A trailing partial minibatch is dropped.
func NewDenseBatches(inputs, labels []float32, inputSize, labelSize, mb int) ([]*DataBatch, error) {
	if inputSize <= 0 || labelSize <= 0 || mb <= 0 {
		return nil, fmt.Errorf("%w: batch shape %d/%d/%d", ErrConfiguration, inputSize, labelSize, mb)
	}
	records := len(inputs) / inputSize
	if records*inputSize != len(inputs) || records*labelSize != len(labels) {
		return nil, fmt.Errorf("%w: %d inputs and %d labels for %d records",
			gpu.ErrSizeMismatch, len(inputs), len(labels), records)
	}
	var batches []*DataBatch
	for r := 0; r+mb <= records; r += mb {
		batches = append(batches, &DataBatch{
			MinibatchSize: mb,
			InputSize:     inputSize,
			LabelSize:     labelSize,
			Inputs:        inputs[r*inputSize : (r+mb)*inputSize],
			Labels:        labels[r*labelSize : (r+mb)*labelSize],
		})
	}
	return batches, nil
}

// PreloadBatches uploads dense batches to the device in blocks of perLoad
// minibatches. The returned batches share their block's device arrays and
// keep host labels for accuracy bookkeeping. Free the blocks with
// FreePreloaded.
func PreloadBatches(dev gpu.Device, batches []*DataBatch, perLoad int) ([]*DataBatch, error) {
	if perLoad <= 0 {
		return nil, fmt.Errorf("%w: batches per load %d", ErrConfiguration, perLoad)
	}
	out := make([]*DataBatch, 0, len(batches))
	for start := 0; start < len(batches); start += perLoad {
		group, err := preloadGroup(dev, batches[start:min(start+perLoad, len(batches))], start, perLoad)
		if err != nil {
			FreePreloaded(out)
			return nil, err
		}
		out = append(out, group...)
		gpu.Log("preloaded %d batches into block %d", len(group), start/perLoad)
	}
	return out, nil
}

// preloadGroup packs one block of up to perLoad batches. On error nothing
// stays allocated.
func preloadGroup(dev gpu.Device, group []*DataBatch, start, perLoad int) (_ []*DataBatch, err error) {
	first := group[0]
	inputs, err := gpu.NewArray(dev, perLoad*first.MinibatchSize, first.InputSize)
	if err != nil {
		return nil, err
	}
	labels, err := gpu.NewArray(dev, perLoad*first.MinibatchSize, first.LabelSize)
	if err != nil {
		inputs.Free()
		return nil, err
	}
	defer func() {
		if err != nil {
			inputs.Free()
			labels.Free()
		}
	}()

	out := make([]*DataBatch, 0, len(group))
	host, labelHost := inputs.Host(), labels.Host()
	for w, b := range group {
		if b.IsSparse() || b.IsDeviceData() ||
			b.MinibatchSize != first.MinibatchSize || b.InputSize != first.InputSize || b.LabelSize != first.LabelSize {
			return nil, fmt.Errorf("%w: batch %d cannot join a preloaded block", ErrConfiguration, start+w)
		}
		copy(host[w*len(b.Inputs):], b.Inputs)
		copy(labelHost[w*len(b.Labels):], b.Labels)
		out = append(out, &DataBatch{
			MinibatchSize: b.MinibatchSize,
			InputSize:     b.InputSize,
			LabelSize:     b.LabelSize,
			Labels:        b.Labels,
			DeviceInputs:  inputs,
			DeviceLabels:  labels,
			Window:        w,
			SourceBatch:   b,
		})
	}
	if err := inputs.CopyToDevice(); err != nil {
		return nil, err
	}
	if err := labels.CopyToDevice(); err != nil {
		return nil, err
	}
	return out, nil
}

// FreePreloaded releases the device blocks behind batches built by
// PreloadBatches.
func FreePreloaded(batches []*DataBatch) {
	seen := map[*gpu.Array]bool{}
	for _, b := range batches {
		for _, a := range []*gpu.Array{b.DeviceInputs, b.DeviceLabels} {
			if a != nil && !seen[a] {
				seen[a] = true
				a.Free()
			}
		}
	}
}
