package nn

import (
	"errors"
	"testing"

	"github.com/openfluke/clicknet/gpu"
)

func trainConfig(epochs int) TrainConfig {
	return TrainConfig{
		LearnRate:               0.5,
		Momentum:                0.5,
		Epochs:                  epochs,
		EvaluateEvery:           5,
		SamplesPerMovingAverage: 1,
	}
}

func TestTrainerLearnsSeparableClasses(t *testing.T) {
	tests := []struct {
		name   string
		build  func(n *Network) error
		epochs int
	}{
		{"softmax only", nil, 30},
		{"tanh hidden layer", func(n *Network) error {
			if _, err := n.AddFullyConnectedLayer(8, ""); err != nil {
				return err
			}
			_, err := n.AddTanhLayer("")
			return err
		}, 40},
		{"relu hidden layer", func(n *Network) error {
			if _, err := n.AddFullyConnectedLayer(8, ""); err != nil {
				return err
			}
			_, err := n.AddReluLayer("")
			return err
		}, 40},
		{"maxout hidden layer", func(n *Network) error {
			if _, err := n.AddFullyConnectedLayer(8, ""); err != nil {
				return err
			}
			_, err := n.AddMaxoutLayer("", 2)
			return err
		}, 40},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newClassifier(t, 10, 7, tt.build)
			defer net.Free()
			train := NewSliceProvider(separableBatches(t, 300, 10, 11), true, 3)
			test := NewSliceProvider(separableBatches(t, 90, 10, 12), false, 0)

			trainer, err := NewTrainer(net, train, test, trainConfig(tt.epochs))
			if err != nil {
				t.Fatal(err)
			}
			result, err := trainer.Run()
			if err != nil {
				t.Fatal(err)
			}
			if result.Accuracy < 0.95 {
				t.Errorf("accuracy = %.3f, want >= 0.95", result.Accuracy)
			}
			if pct := test.CorrectLabelPercentage(); pct < 95 {
				t.Errorf("CorrectLabelPercentage = %.1f", pct)
			}
			if n := len(result.TestLosses); n != tt.epochs/5+1 {
				t.Fatalf("got %d test losses, want %d", n, tt.epochs/5+1)
			}
			if first, last := result.TestLosses[0], result.TestLosses[len(result.TestLosses)-1]; last >= first {
				t.Errorf("test loss did not drop: %v -> %v", first, last)
			}
			if len(result.TrainLosses) != tt.epochs*30 {
				t.Errorf("got %d train losses, want %d", len(result.TrainLosses), tt.epochs*30)
			}
			if got := net.TrainRecordsCount(); got != tt.epochs*300 {
				t.Errorf("TrainRecordsCount = %d", got)
			}
			if train.Epoch() != tt.epochs {
				t.Errorf("train provider epoch = %d", train.Epoch())
			}
		})
	}
}

// FC(4->3) and softmax, minibatch 10, 50 epochs at learn rate 0.05 without
// momentum, scored on the training set by the correctness flags.
func TestTrainerPlainSGDReachesTrainAccuracy(t *testing.T) {
	net := newClassifier(t, 10, 7, nil)
	defer net.Free()
	if len(net.Layers) != 4 || net.GetLayerByID("SM_fc").Array(Weights).Rows() != testFeatures {
		t.Fatalf("unexpected layout: %d layers", len(net.Layers))
	}
	batches := separableBatches(t, 300, 10, 11)
	cfg := TrainConfig{LearnRate: 0.05, Momentum: 0, Epochs: 50, SamplesPerMovingAverage: 1}
	trainer, err := NewTrainer(net, NewSliceProvider(batches, false, 0), nil, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trainer.Run(); err != nil {
		t.Fatal(err)
	}

	correct := 0
	for _, b := range batches {
		if err := net.CalculateBatch(b, false); err != nil {
			t.Fatal(err)
		}
		c, err := net.CostLayer.CorrectCount()
		if err != nil {
			t.Fatal(err)
		}
		correct += c
	}
	if acc := float64(correct) / 300; acc < 0.95 {
		t.Errorf("train accuracy = %.3f (%d/300), want >= 0.95", acc, correct)
	}
}

// Each record of class c sets columns 3c..3c+2 of a 30-wide sparse row.
func sparseBatches(records, mb int) []*DataBatch {
	var batches []*DataBatch
	for start := 0; start+mb <= records; start += mb {
		b := &DataBatch{MinibatchSize: mb, InputSize: 30, LabelSize: 1}
		for i := start; i < start+mb; i++ {
			c := i % 3
			b.SparseValues = append(b.SparseValues, []float32{1, 1, 1})
			b.SparseIndices = append(b.SparseIndices, []int32{int32(3 * c), int32(3*c + 1), int32(3*c + 2)})
			b.Labels = append(b.Labels, float32(c))
		}
		batches = append(batches, b)
	}
	return batches
}

func TestTrainerSparseInput(t *testing.T) {
	net := NewNetwork(gpu.NewCPUDevice(4), 6, 5)
	defer net.Free()
	if _, err := net.AddInputLayer(30, 1, 6*3); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddLabelLayer(1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddFullyConnectedLayer(6, "H"); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddTanhLayer(""); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddSoftmaxLayer(3, "SM"); err != nil {
		t.Fatal(err)
	}
	if err := net.CopyToDevice(); err != nil {
		t.Fatal(err)
	}

	train := NewSliceProvider(sparseBatches(60, 6), true, 1)
	test := NewSliceProvider(sparseBatches(30, 6), false, 0)
	trainer, err := NewTrainer(net, train, test, trainConfig(30))
	if err != nil {
		t.Fatal(err)
	}
	result, err := trainer.Run()
	if err != nil {
		t.Fatal(err)
	}
	if result.Accuracy < 0.95 {
		t.Errorf("accuracy = %.3f, want >= 0.95", result.Accuracy)
	}
	if s := net.InputLayer.SparseMatrix(); s == nil || s.NonZeroCount() != 18 {
		t.Errorf("sparse batch not loaded: %+v", s)
	}
}

func TestTrainerPreloadedBatches(t *testing.T) {
	dev := gpu.NewCPUDevice(4)
	net := NewNetwork(dev, 10, 7)
	defer net.Free()
	if _, err := net.AddInputLayer(testFeatures, 3, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddLabelLayer(1, 3); err != nil {
		t.Fatal(err)
	}
	if _, err := net.AddSoftmaxLayer(3, "SM"); err != nil {
		t.Fatal(err)
	}
	if err := net.CopyToDevice(); err != nil {
		t.Fatal(err)
	}

	source := separableBatches(t, 300, 10, 11)
	preloaded, err := PreloadBatches(dev, source, 3)
	if err != nil {
		t.Fatal(err)
	}
	defer FreePreloaded(preloaded)
	if len(preloaded) != len(source) || preloaded[4].Window != 1 || preloaded[4].DeviceInputs != preloaded[3].DeviceInputs {
		t.Fatalf("unexpected block layout: %d batches, window %d", len(preloaded), preloaded[4].Window)
	}

	if err := net.CalculateBatch(preloaded[4], false); err != nil {
		t.Fatal(err)
	}
	inputs := net.InputLayer.Array(Outputs)
	if err := inputs.CopyToHost(); err != nil {
		t.Fatal(err)
	}
	for i, v := range inputs.Host() {
		if v != source[4].Inputs[i] {
			t.Fatalf("window copy differs at %d: %v vs %v", i, v, source[4].Inputs[i])
		}
	}

	test := NewSliceProvider(preloaded[:9], false, 0)
	trainer, err := NewTrainer(net, NewSliceProvider(preloaded, false, 0), test, trainConfig(20))
	if err != nil {
		t.Fatal(err)
	}
	result, err := trainer.Run()
	if err != nil {
		t.Fatal(err)
	}
	if result.Accuracy < 0.95 {
		t.Errorf("accuracy = %.3f, want >= 0.95", result.Accuracy)
	}
	if source[0].PredictedLabels() == nil {
		t.Error("predictions were not recorded on the source batch")
	}
}

func TestEvaluateRegistersOnTrack(t *testing.T) {
	net := newClassifier(t, 10, 1, nil)
	defer net.Free()
	batches := separableBatches(t, 30, 10, 2)
	trainer, err := NewTrainer(net, NewSliceProvider(batches, false, 0), nil, trainConfig(1))
	if err != nil {
		t.Fatal(err)
	}
	loss, acc, err := trainer.Evaluate(trainer.Train, true)
	if err != nil {
		t.Fatal(err)
	}
	if loss <= 0 || acc < 0 || acc > 1 {
		t.Errorf("loss %v accuracy %v", loss, acc)
	}
	if len(net.TrainLosses) != 1 || net.TrainLosses[0] != loss || len(net.TestLosses) != 0 {
		t.Errorf("train %v test %v, want train [%v]", net.TrainLosses, net.TestLosses, loss)
	}
	if net.TrainRecordsCount() != 0 {
		t.Error("evaluation counted as training records")
	}
}

func TestNewTrainerRejectsInvalidConfig(t *testing.T) {
	net := newClassifier(t, 10, 1, nil)
	defer net.Free()
	train := NewSliceProvider(separableBatches(t, 10, 10, 2), false, 0)
	cfg := trainConfig(1)
	cfg.LearnRate = 0
	if _, err := NewTrainer(net, train, nil, cfg); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
	if _, err := NewTrainer(net, nil, nil, trainConfig(1)); !errors.Is(err, ErrConfiguration) {
		t.Errorf("err = %v, want ErrConfiguration", err)
	}
}
