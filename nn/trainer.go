package nn

import (
	"fmt"
	"time"

	"github.com/chewxy/math32"
)

// logLossEpsilon clips probabilities before the log in the loss.
const logLossEpsilon = 1e-15

// Trainer drives a Network through epochs of minibatches from a training
// provider, evaluating on the test provider every EvaluateEvery epochs.
type Trainer struct {
	Net    *Network
	Train  Provider
	Test   Provider
	Config TrainConfig
}

// TrainResult summarises a finished run.
type TrainResult struct {
	Epochs           int
	TrainLosses      []float64 // moving averages, one per full window
	TestLosses       []float64
	FinalTestLoss    float64
	Accuracy         float64 // fraction of test records predicted correctly
	RecordsPerSecond float64
	TotalTime        time.Duration
}

// NewTrainer validates cfg and copies its network-level settings onto net.
// test may be nil.
func NewTrainer(net *Network, train, test Provider, cfg TrainConfig) (*Trainer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if net == nil || train == nil {
		return nil, fmt.Errorf("%w: trainer needs a network and a training provider", ErrConfiguration)
	}
	net.TrainProvider = train
	net.TestProvider = test
	net.InputNoiseMean = cfg.InputNoiseMean
	net.InputNoiseStd = cfg.InputNoiseStd
	net.SamplesPerMovingAverage = cfg.SamplesPerMovingAverage
	net.BestCheckpointPath = cfg.BestCheckpointPath
	net.Verbose = net.Verbose || cfg.Verbose
	return &Trainer{Net: net, Train: train, Test: test, Config: cfg}, nil
}

// Run trains for Config.Epochs epochs. Each epoch starts with an evaluation
// pass when due, then runs forward, backward and update for every batch.
func (t *Trainer) Run() (*TrainResult, error) {
	net, cfg := t.Net, t.Config
	if err := net.requireReady(); err != nil {
		return nil, err
	}
	start := time.Now()
	records := net.TrainRecordsCount()

	if cfg.Verbose {
		fmt.Printf("\n=== Training Configuration ===\n")
		fmt.Printf("Epochs: %d\n", cfg.Epochs)
		fmt.Printf("Learn Rate: %.6f  Momentum: %.3f\n", cfg.LearnRate, cfg.Momentum)
		fmt.Printf("Batches per Epoch: %d\n", t.Train.BatchCount())
		fmt.Printf("Device: %s\n\n", net.Device().Name())
	}

	result := &TrainResult{Epochs: cfg.Epochs}
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if t.Test != nil && cfg.EvaluateEvery > 0 && epoch%cfg.EvaluateEvery == 0 {
			loss, acc, err := t.Evaluate(t.Test, false)
			if err != nil {
				return nil, err
			}
			if cfg.Verbose {
				fmt.Printf("  Epoch %d/%d - test loss %.4f, accuracy %.2f%%\n", epoch+1, cfg.Epochs, loss, 100*acc)
			}
		}

		var epochLoss float64
		batches := t.Train.BatchCount()
		for b := 0; b < batches; b++ {
			batch, err := t.Train.NextBatch()
			if err != nil {
				return nil, err
			}
			if err := net.CalculateBatch(batch, true); err != nil {
				return nil, err
			}
			loss, _, err := t.batchLoss(batch)
			if err != nil {
				return nil, err
			}
			epochLoss += loss
			if err := net.RegisterLoss(loss, true); err != nil {
				return nil, err
			}
			if err := net.BackPropagate(); err != nil {
				return nil, err
			}
			if err := net.ApplyWeightUpdates(cfg.LearnRate, cfg.Momentum); err != nil {
				return nil, err
			}
		}
		if cfg.Verbose && batches > 0 {
			fmt.Printf("  Epoch %d/%d - train loss %.4f (%.0f records/s)\n",
				epoch+1, cfg.Epochs, epochLoss/float64(batches), net.TrainRecordsPerSecond())
		}
	}

	if t.Test != nil {
		loss, acc, err := t.Evaluate(t.Test, false)
		if err != nil {
			return nil, err
		}
		result.FinalTestLoss = loss
		result.Accuracy = acc
	}

	result.TotalTime = time.Since(start)
	if secs := result.TotalTime.Seconds(); secs > 0 {
		result.RecordsPerSecond = float64(net.TrainRecordsCount()-records) / secs
	}
	result.TrainLosses = append([]float64(nil), net.TrainLosses...)
	result.TestLosses = append([]float64(nil), net.TestLosses...)
	if cfg.Verbose {
		fmt.Printf("\nTraining done in %v: accuracy %.2f%%, %.0f records/s\n",
			result.TotalTime, 100*result.Accuracy, result.RecordsPerSecond)
	}
	return result, nil
}

// Evaluate runs one inference pass over every batch of p, records the
// predictions on each batch and registers the mean loss on the train or
// test track. It returns the mean loss and the fraction of correct
// predictions.
func (t *Trainer) Evaluate(p Provider, train bool) (loss, accuracy float64, err error) {
	net := t.Net
	batches := p.BatchCount()
	if batches == 0 {
		return 0, 0, fmt.Errorf("%w: provider has no batches", ErrState)
	}
	var correct, total int
	for b := 0; b < batches; b++ {
		batch, err := p.NextBatch()
		if err != nil {
			return 0, 0, err
		}
		if err := net.CalculateBatch(batch, false); err != nil {
			return 0, 0, err
		}
		l, c, err := t.batchLoss(batch)
		if err != nil {
			return 0, 0, err
		}
		loss += l
		correct += c
		total += net.MinibatchSize()
	}
	loss /= float64(batches)
	accuracy = float64(correct) / float64(total)
	return loss, accuracy, net.RegisterLoss(loss, train)
}

// batchLoss reads the softmax probabilities and the labels back from the
// device, records the argmax predictions on batch and returns the mean
// clipped log-loss and the number of correct predictions.
func (t *Trainer) batchLoss(batch *DataBatch) (float64, int, error) {
	net := t.Net
	cost := net.CostLayer
	probs := cost.Array(Outputs)
	labels := net.LabelLayer.Array(Outputs)
	if err := net.Device().Sync(); err != nil {
		return 0, 0, err
	}
	if err := probs.CopyToHost(); err != nil {
		return 0, 0, err
	}
	if err := labels.CopyToHost(); err != nil {
		return 0, 0, err
	}

	size := cost.Size()
	rows := net.MinibatchSize()
	host, truth := probs.Host(), labels.Host()
	predicted := make([]int, rows)
	var sum float32
	correct := 0
	for r := 0; r < rows; r++ {
		row := host[r*size : (r+1)*size]
		best := 0
		for c := 1; c < size; c++ {
			if row[c] > row[best] {
				best = c
			}
		}
		predicted[r] = best
		label := int(truth[r])
		if label == best {
			correct++
		}
		p := float32(logLossEpsilon)
		if label >= 0 && label < size {
			p = math32.Max(logLossEpsilon, math32.Min(1-logLossEpsilon, row[label]))
		}
		sum -= math32.Log(p)
	}
	batch.SetPredictedLabels(predicted)
	return float64(sum) / float64(rows), correct, nil
}
