package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/openfluke/clicknet/gpu"
	"gonum.org/v1/gonum/floats"
)

// State is the lifecycle stage of a Network.
type State int

const (
	StateEmpty State = iota
	StateBuilding
	StateReady
	StateFreed
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateBuilding:
		return "building"
	case StateReady:
		return "ready"
	case StateFreed:
		return "freed"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Network is an ordered chain of layers with distinguished input, label
// and cost layers.
type Network struct {
	dev       gpu.Device
	rng       *rand.Rand
	minibatch int
	nextID    int
	state     State

	Layers     []Layer
	InputLayer *DataLayer
	LabelLayer *DataLayer
	CostLayer  *SoftmaxCostLayer
	layersByID map[string]Layer

	TrainProvider Provider
	TestProvider  Provider

	// Gaussian noise added to dense training inputs.
	InputNoiseMean float32
	InputNoiseStd  float32

	SamplesPerMovingAverage int
	// BestCheckpointPath, when set, receives a checkpoint every time a
	// track's moving average reaches a new minimum. "XX" in the path is
	// replaced with the track name and round(loss*1000).
	BestCheckpointPath string
	Verbose            bool

	TrainLosses []float64
	TestLosses  []float64
	trainWindow []float64
	testWindow  []float64

	trainRecords int
	started      time.Time
}

// NewNetwork creates an empty network. seed drives weight init, dropout
// masks and input noise.
func NewNetwork(dev gpu.Device, minibatchSize int, seed int64) *Network {
	return &Network{
		dev:                     dev,
		rng:                     gpu.NewRand(seed),
		minibatch:               minibatchSize,
		layersByID:              map[string]Layer{},
		SamplesPerMovingAverage: 1,
		started:                 time.Now(),
	}
}

func (n *Network) Device() gpu.Device { return n.dev }
func (n *Network) MinibatchSize() int { return n.minibatch }
func (n *Network) State() State       { return n.state }

// layerID returns id, or the next generated "IDnn" handle when id is empty.
func (n *Network) layerID(id string) (string, error) {
	if id == "" {
		for {
			n.nextID++
			id = fmt.Sprintf("ID%02d", n.nextID)
			if _, taken := n.layersByID[id]; !taken {
				break
			}
		}
	}
	if _, taken := n.layersByID[id]; taken {
		return "", fmt.Errorf("%w: duplicate layer id %q", ErrConfiguration, id)
	}
	return id, nil
}

func (n *Network) register(l Layer) {
	n.layersByID[l.ID()] = l
	if n.Verbose {
		fmt.Printf("%-6s layer %-8s %s\n", l.TypeDescription(), l.ID(), l.SizeDescription())
	}
}

// AddInputLayer adds the feature layer. It must be the first layer. A
// non-zero sparseDataSize makes it sparse with that many non-zero slots.
func (n *Network) AddInputLayer(size, batchesPerLoad, sparseDataSize int) (*DataLayer, error) {
	if err := n.requireBuildable(); err != nil {
		return nil, err
	}
	if len(n.Layers) != 0 {
		return nil, fmt.Errorf("%w: input layer must be added first", ErrConfiguration)
	}
	id, err := n.layerID("")
	if err != nil {
		return nil, err
	}
	l, err := newDataLayer(n, size, batchesPerLoad, sparseDataSize, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.InputLayer = l
	n.state = StateBuilding
	n.register(l)
	return l, nil
}

// AddLabelLayer adds the ground-truth layer at the head of the chain. It
// must follow the input layer and precede every content layer.
func (n *Network) AddLabelLayer(size, batchesPerLoad int) (*DataLayer, error) {
	if err := n.requireBuildable(); err != nil {
		return nil, err
	}
	if n.InputLayer == nil {
		return nil, fmt.Errorf("%w: label layer needs an input layer first", ErrConfiguration)
	}
	if n.LabelLayer != nil || len(n.Layers) != 1 {
		return nil, fmt.Errorf("%w: label layer must be added once, before content layers", ErrConfiguration)
	}
	id, err := n.layerID("")
	if err != nil {
		return nil, err
	}
	l, err := newDataLayer(n, size, batchesPerLoad, 0, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append([]Layer{l}, n.Layers...)
	n.LabelLayer = l
	n.register(l)
	return l, nil
}

// requireBuildable rejects layer additions once the network is on the
// device or freed.
func (n *Network) requireBuildable() error {
	if n.state == StateReady || n.state == StateFreed {
		return fmt.Errorf("%w: cannot add layers to a %s network", ErrState, n.state)
	}
	return nil
}

// contentTail checks that a content layer may be appended and returns the
// layer it will follow.
func (n *Network) contentTail(needsOutputs bool) (Layer, error) {
	if err := n.requireBuildable(); err != nil {
		return nil, err
	}
	if n.InputLayer == nil || n.LabelLayer == nil {
		return nil, fmt.Errorf("%w: input and label layers must be added before content layers", ErrConfiguration)
	}
	if n.CostLayer != nil {
		return nil, fmt.Errorf("%w: no layers may follow the cost layer", ErrConfiguration)
	}
	last := n.Layers[len(n.Layers)-1]
	if needsOutputs && last.Array(Outputs) == nil {
		return nil, fmt.Errorf("%w: layer after sparse input %s must be fully connected", ErrConfiguration, last.ID())
	}
	return last, nil
}

func (n *Network) AddFullyConnectedLayer(size int, id string) (*FullyConnectedLayer, error) {
	prev, err := n.contentTail(false)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: fully connected size %d", ErrConfiguration, size)
	}
	if id, err = n.layerID(id); err != nil {
		return nil, err
	}
	l, err := newFullyConnectedLayer(n, prev, size, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.register(l)
	return l, nil
}

func (n *Network) AddReluLayer(id string) (*ActivationLayer, error) {
	return n.addActivation(ActivationRelu, id)
}

func (n *Network) AddTanhLayer(id string) (*ActivationLayer, error) {
	return n.addActivation(ActivationTanh, id)
}

func (n *Network) addActivation(kind Activation, id string) (*ActivationLayer, error) {
	prev, err := n.contentTail(true)
	if err != nil {
		return nil, err
	}
	if id, err = n.layerID(id); err != nil {
		return nil, err
	}
	l, err := newActivationLayer(n, prev, kind, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.register(l)
	return l, nil
}

func (n *Network) AddMaxoutLayer(id string, groupSize int) (*MaxoutLayer, error) {
	prev, err := n.contentTail(true)
	if err != nil {
		return nil, err
	}
	if id, err = n.layerID(id); err != nil {
		return nil, err
	}
	l, err := newMaxoutLayer(n, prev, groupSize, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.register(l)
	return l, nil
}

func (n *Network) AddDropoutLayer(id string) (*DropoutLayer, error) {
	prev, err := n.contentTail(true)
	if err != nil {
		return nil, err
	}
	if id, err = n.layerID(id); err != nil {
		return nil, err
	}
	l, err := newDropoutLayer(n, prev, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.register(l)
	return l, nil
}

// AddSoftmaxLayer appends an FC layer of size classes, id+"_fc", and the
// softmax cost layer id on top of it. Only one cost layer is allowed.
func (n *Network) AddSoftmaxLayer(size int, id string) (*SoftmaxCostLayer, error) {
	if n.CostLayer != nil {
		return nil, fmt.Errorf("%w: network already has a cost layer", ErrConfiguration)
	}
	if _, err := n.contentTail(false); err != nil {
		return nil, err
	}
	if n.LabelLayer.Size() != 1 {
		return nil, fmt.Errorf("%w: softmax needs a label layer of size 1, got %d", ErrConfiguration, n.LabelLayer.Size())
	}
	id, err := n.layerID(id)
	if err != nil {
		return nil, err
	}
	fc, err := n.AddFullyConnectedLayer(size, id+"_fc")
	if err != nil {
		return nil, err
	}
	l, err := newSoftmaxCostLayer(n, fc, n.LabelLayer, id)
	if err != nil {
		return nil, err
	}
	n.Layers = append(n.Layers, l)
	n.CostLayer = l
	n.register(l)
	return l, nil
}

// GetLayerByID returns the layer with the given id, or nil.
func (n *Network) GetLayerByID(id string) Layer {
	return n.layersByID[id]
}

// CopyToDevice uploads every layer's host buffers and marks the network
// ready to train.
func (n *Network) CopyToDevice() error {
	switch n.state {
	case StateBuilding, StateReady:
	default:
		return fmt.Errorf("%w: cannot copy a %s network to the device", ErrState, n.state)
	}
	if n.CostLayer == nil {
		return fmt.Errorf("%w: network has no cost layer", ErrConfiguration)
	}
	for _, l := range n.Layers {
		if err := l.CopyToDevice(); err != nil {
			return err
		}
	}
	if n.state != StateReady {
		n.started = time.Now()
	}
	n.state = StateReady
	return nil
}

// CopyToHost downloads every layer's device buffers.
func (n *Network) CopyToHost() error {
	if err := n.requireReady(); err != nil {
		return err
	}
	if err := n.dev.Sync(); err != nil {
		return err
	}
	for _, l := range n.Layers {
		if err := l.CopyToHost(); err != nil {
			return err
		}
	}
	return nil
}

// Free releases all device memory. The network cannot be used afterwards.
func (n *Network) Free() {
	if n.state == StateFreed {
		return
	}
	for _, l := range n.Layers {
		l.Free()
	}
	n.state = StateFreed
}

func (n *Network) requireReady() error {
	if n.state != StateReady {
		return fmt.Errorf("%w: network is %s, want %s", ErrState, n.state, StateReady)
	}
	return nil
}

// Calculate pulls the next batch from the train or test provider, injects
// it and runs the forward pass. Without a provider it runs the forward pass
// over whatever the data layers already hold.
func (n *Network) Calculate(train bool) error {
	provider := n.TestProvider
	if train {
		provider = n.TrainProvider
	}
	if provider == nil {
		if err := n.requireReady(); err != nil {
			return err
		}
		return n.forward(train)
	}
	batch, err := provider.NextBatch()
	if err != nil {
		return err
	}
	return n.CalculateBatch(batch, train)
}

// CalculateBatch injects batch into the input and label layers and runs the
// forward pass.
func (n *Network) CalculateBatch(batch *DataBatch, train bool) error {
	if err := n.requireReady(); err != nil {
		return err
	}
	if err := n.inject(batch, train); err != nil {
		return err
	}
	return n.forward(train)
}

func (n *Network) inject(batch *DataBatch, train bool) error {
	if batch == nil {
		return fmt.Errorf("%w: nil batch", ErrState)
	}
	if batch.IsDeviceData() {
		n.InputLayer.CurrentBatchNo = batch.Window
		n.LabelLayer.CurrentBatchNo = batch.Window
		if err := n.InputLayer.SetDeviceData(batch.DeviceInputs); err != nil {
			return err
		}
		return n.LabelLayer.SetDeviceData(batch.DeviceLabels)
	}

	if n.InputLayer.IsSparse() {
		if err := n.InputLayer.SetSparseData(batch.SparseValues, batch.SparseIndices); err != nil {
			return err
		}
	} else {
		var mean, std float32
		if train {
			mean, std = n.InputNoiseMean, n.InputNoiseStd
		}
		if err := n.InputLayer.SetData(batch.Inputs, mean, std); err != nil {
			return err
		}
	}
	return n.LabelLayer.SetData(batch.Labels, 0, 0)
}

func (n *Network) forward(train bool) error {
	for _, l := range n.Layers {
		if err := l.Calculate(train); err != nil {
			return fmt.Errorf("calculate %s %s: %w", l.TypeDescription(), l.ID(), err)
		}
	}
	n.InputLayer.IncBatchNo()
	n.LabelLayer.IncBatchNo()
	if train {
		n.trainRecords += n.minibatch
	}
	return nil
}

// BackPropagate runs every layer's backward pass in reverse order.
func (n *Network) BackPropagate() error {
	if err := n.requireReady(); err != nil {
		return err
	}
	for i := len(n.Layers) - 1; i >= 0; i-- {
		l := n.Layers[i]
		if err := l.BackPropagate(); err != nil {
			return fmt.Errorf("backpropagate %s %s: %w", l.TypeDescription(), l.ID(), err)
		}
	}
	return nil
}

// ApplyWeightUpdates applies every layer's accumulated updates in reverse order.
func (n *Network) ApplyWeightUpdates(learnRate, momentum float32) error {
	if err := n.requireReady(); err != nil {
		return err
	}
	for i := len(n.Layers) - 1; i >= 0; i-- {
		l := n.Layers[i]
		if err := l.ApplyWeightUpdates(learnRate, momentum); err != nil {
			return fmt.Errorf("apply updates %s %s: %w", l.TypeDescription(), l.ID(), err)
		}
	}
	return nil
}

// RegisterLoss adds one observation to the train or test moving-average
// window. When the window fills, its mean is appended to the track's
// history and, if it is the track's best so far and BestCheckpointPath is
// set, a checkpoint is written.
func (n *Network) RegisterLoss(loss float64, train bool) error {
	window, history, track := &n.testWindow, &n.TestLosses, "test"
	if train {
		window, history, track = &n.trainWindow, &n.TrainLosses, "train"
	}
	*window = append(*window, loss)
	size := n.SamplesPerMovingAverage
	if size <= 0 {
		size = 1
	}
	if len(*window) < size {
		return nil
	}

	avg := floats.Sum(*window) / float64(len(*window))
	*window = (*window)[:0]
	*history = append(*history, avg)

	if n.BestCheckpointPath == "" || avg > floats.Min(*history) {
		return nil
	}
	tag := track + "-" + strconv.Itoa(int(math.Round(avg*1000)))
	path := strings.ReplaceAll(n.BestCheckpointPath, "XX", tag)
	if n.Verbose {
		fmt.Printf("New best %s loss %.5f, saving %s\n", track, avg, path)
	}
	return n.SaveCheckpoint(path)
}

// TrainRecordsCount is the number of records seen by training passes.
func (n *Network) TrainRecordsCount() int { return n.trainRecords }

// TrainRecordsPerSecond measures training throughput since CopyToDevice.
func (n *Network) TrainRecordsPerSecond() float64 {
	elapsed := time.Since(n.started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(n.trainRecords) / elapsed
}
