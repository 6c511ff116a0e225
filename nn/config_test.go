package nn

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadTrainConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	body := `learn_rate: 0.01
momentum: 0.8
epochs: 25
evaluate_every: 5
best_checkpoint_path: out/best_XX.xml
input_noise_std: 0.05
verbose: true
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadTrainConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.LearnRate != 0.01 || cfg.Momentum != 0.8 || cfg.Epochs != 25 || cfg.EvaluateEvery != 5 {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.BestCheckpointPath != "out/best_XX.xml" || cfg.InputNoiseStd != 0.05 || !cfg.Verbose {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.SamplesPerMovingAverage != DefaultTrainConfig().SamplesPerMovingAverage {
		t.Errorf("missing key lost its default: %d", cfg.SamplesPerMovingAverage)
	}

	cfg.ApplyOverrides(TrainOverrides{Epochs: 3, LearnRate: 0.2})
	if cfg.Epochs != 3 || cfg.LearnRate != 0.2 || cfg.Momentum != 0.8 {
		t.Errorf("overrides not applied: %+v", cfg)
	}

	zero := float32(0)
	cfg.ApplyOverrides(TrainOverrides{Momentum: &zero})
	if cfg.Momentum != 0 {
		t.Errorf("momentum override to 0 ignored: %v", cfg.Momentum)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero momentum rejected: %v", err)
	}
}

func TestTrainConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TrainConfig)
	}{
		{"zero learn rate", func(c *TrainConfig) { c.LearnRate = 0 }},
		{"momentum of one", func(c *TrainConfig) { c.Momentum = 1 }},
		{"no epochs", func(c *TrainConfig) { c.Epochs = 0 }},
		{"negative evaluate_every", func(c *TrainConfig) { c.EvaluateEvery = -1 }},
		{"negative noise", func(c *TrainConfig) { c.InputNoiseStd = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultTrainConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}

	cfg := DefaultTrainConfig()
	cfg.SamplesPerMovingAverage = 0
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.SamplesPerMovingAverage != 1 {
		t.Errorf("SamplesPerMovingAverage = %d, want 1", cfg.SamplesPerMovingAverage)
	}
}

func TestLoadTrainConfigErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := LoadTrainConfig(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("epochs: [1, 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTrainConfig(bad); err == nil {
		t.Error("expected a parse error")
	}
}
