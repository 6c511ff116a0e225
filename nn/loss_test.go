package nn

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRegisterLossMovingAverage(t *testing.T) {
	net := newClassifier(t, 2, 1, nil)
	defer net.Free()
	net.SamplesPerMovingAverage = 3

	for _, l := range []float64{1, 2} {
		if err := net.RegisterLoss(l, true); err != nil {
			t.Fatal(err)
		}
	}
	if len(net.TrainLosses) != 0 {
		t.Fatalf("history filled before the window: %v", net.TrainLosses)
	}
	for _, l := range []float64{3, 4, 4, 4} {
		if err := net.RegisterLoss(l, true); err != nil {
			t.Fatal(err)
		}
	}
	if len(net.TrainLosses) != 2 || net.TrainLosses[0] != 2 || net.TrainLosses[1] != 4 {
		t.Errorf("TrainLosses = %v, want [2 4]", net.TrainLosses)
	}
	if len(net.TestLosses) != 0 {
		t.Errorf("TestLosses = %v, want empty", net.TestLosses)
	}
}

func TestRegisterLossSavesBest(t *testing.T) {
	dir := t.TempDir()
	net := newClassifier(t, 2, 1, nil)
	defer net.Free()
	net.BestCheckpointPath = filepath.Join(dir, "best_XX.xml")

	steps := []struct {
		loss  float64
		train bool
		saved string
	}{
		{0.5, false, "best_test-500.xml"},
		{0.75, false, ""},
		{0.25, false, "best_test-250.xml"},
		{0.9, true, "best_train-900.xml"},
		{0.2, true, "best_train-200.xml"},
		{0.3, true, ""},
	}
	for _, s := range steps {
		entries, _ := os.ReadDir(dir)
		before := len(entries)
		if err := net.RegisterLoss(s.loss, s.train); err != nil {
			t.Fatal(err)
		}
		entries, _ = os.ReadDir(dir)
		if s.saved == "" {
			if len(entries) != before {
				t.Errorf("loss %v wrote a checkpoint", s.loss)
			}
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, s.saved)); err != nil {
			t.Errorf("loss %v: %v", s.loss, err)
		}
	}
}
