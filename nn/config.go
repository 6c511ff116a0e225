package nn

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TrainConfig captures the knobs of a training run.
type TrainConfig struct {
	LearnRate               float32 `yaml:"learn_rate"`
	Momentum                float32 `yaml:"momentum"`
	Epochs                  int     `yaml:"epochs"`
	EvaluateEvery           int     `yaml:"evaluate_every"` // epochs; 0 disables
	SamplesPerMovingAverage int     `yaml:"samples_per_moving_average"`
	BestCheckpointPath      string  `yaml:"best_checkpoint_path"`
	InputNoiseMean          float32 `yaml:"input_noise_mean"`
	InputNoiseStd           float32 `yaml:"input_noise_std"`
	Verbose                 bool    `yaml:"verbose"`
}

// TrainOverrides captures CLI supplied values. Momentum is a pointer so an
// override can set it to zero.
type TrainOverrides struct {
	LearnRate          float32
	Momentum           *float32
	Epochs             int
	BestCheckpointPath string
	Verbose            bool
}

// DefaultTrainConfig returns the settings used when no config file is given.
func DefaultTrainConfig() *TrainConfig {
	return &TrainConfig{
		LearnRate:               0.05,
		Momentum:                0.9,
		Epochs:                  10,
		EvaluateEvery:           1,
		SamplesPerMovingAverage: 1,
	}
}

// LoadTrainConfig reads and validates a TrainConfig from YAML. Keys missing
// from the file keep their DefaultTrainConfig values.
func LoadTrainConfig(path string) (*TrainConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	cfg := DefaultTrainConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates c using any non-zero override.
func (c *TrainConfig) ApplyOverrides(o TrainOverrides) {
	if o.LearnRate > 0 {
		c.LearnRate = o.LearnRate
	}
	if o.Momentum != nil {
		c.Momentum = *o.Momentum
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BestCheckpointPath != "" {
		c.BestCheckpointPath = o.BestCheckpointPath
	}
	if o.Verbose {
		c.Verbose = true
	}
}

// Validate verifies the config is runnable.
func (c *TrainConfig) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.LearnRate <= 0 {
		return fmt.Errorf("learn_rate must be > 0 (got %g)", c.LearnRate)
	}
	if c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("momentum must be in [0, 1) (got %g)", c.Momentum)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.EvaluateEvery < 0 {
		return fmt.Errorf("evaluate_every must be >= 0 (got %d)", c.EvaluateEvery)
	}
	if c.InputNoiseStd < 0 {
		return fmt.Errorf("input_noise_std must be >= 0 (got %g)", c.InputNoiseStd)
	}
	if c.SamplesPerMovingAverage <= 0 {
		c.SamplesPerMovingAverage = 1
	}
	return nil
}
