package nn

import (
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openfluke/clicknet/gpu"
)

func hiddenLayer(n *Network) error {
	_, err := n.AddFullyConnectedLayer(5, "H")
	return err
}

func TestCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := newClassifier(t, 10, 1, hiddenLayer)
	defer src.Free()
	dst := newClassifier(t, 10, 2, hiddenLayer)
	defer dst.Free()

	if err := src.SaveCheckpointDir(filepath.Join(dir, "nested"), "model"); err != nil {
		t.Fatal(err)
	}
	if err := dst.LoadCheckpointDir(filepath.Join(dir, "nested"), "model"); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"H", "SM_fc"} {
		for _, kind := range []ArrayKind{Weights, BiasWeights} {
			want := hostCopy(t, src.GetLayerByID(id).Array(kind))
			got := hostCopy(t, dst.GetLayerByID(id).Array(kind))
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("%s %s[%d] = %v, want %v", id, kind, i, got[i], want[i])
				}
			}
		}
	}

	batch := separableBatches(t, 10, 10, 3)[0]
	for _, net := range []*Network{src, dst} {
		if err := net.CalculateBatch(batch, false); err != nil {
			t.Fatal(err)
		}
	}
	a := hostCopy(t, src.CostLayer.Array(Outputs))
	b := hostCopy(t, dst.CostLayer.Array(Outputs))
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("restored network predicts %v, want %v", b[i], a[i])
		}
	}
}

func TestCheckpointFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.xml")
	net := newClassifier(t, 2, 1, nil)
	defer net.Free()
	if err := net.SaveCheckpoint(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	text := string(data)
	for _, want := range []string{"<Network>", "<Layers>", "<Id>SM_fc</Id>", "<Size>3</Size>", "<Weights>", "<BiasWeights>"} {
		if !strings.Contains(text, want) {
			t.Errorf("checkpoint lacks %s:\n%s", want, text)
		}
	}
	if got := strings.Count(text, "<Layer>"); got != len(net.Layers) {
		t.Errorf("wrote %d layer entries for %d layers", got, len(net.Layers))
	}
	if got := strings.Count(text, "<Weights>"); got != 1 {
		t.Errorf("wrote %d weight blocks, want 1", got)
	}
}

func TestCheckpointListsEveryLayer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "net.xml")
	net := newClassifier(t, 2, 1, func(n *Network) error {
		if _, err := n.AddFullyConnectedLayer(5, "H"); err != nil {
			return err
		}
		_, err := n.AddReluLayer("R")
		return err
	})
	defer net.Free()
	if err := net.SaveCheckpoint(path); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var file checkpointFile
	if err := xml.Unmarshal(data, &file); err != nil {
		t.Fatal(err)
	}
	if len(file.Layers) != len(net.Layers) {
		t.Fatalf("got %d entries, want %d", len(file.Layers), len(net.Layers))
	}
	for i, entry := range file.Layers {
		l := net.Layers[i]
		if entry.ID != l.ID() || entry.Size != l.Size() {
			t.Errorf("entry %d = %s/%d, want %s/%d", i, entry.ID, entry.Size, l.ID(), l.Size())
		}
		hasWeights := entry.Weights != nil && entry.BiasWeights != nil
		if hasWeights != l.HasWeights() {
			t.Errorf("entry %s carries weights = %v, layer has weights = %v", entry.ID, hasWeights, l.HasWeights())
		}
	}

	// Entries without weights for unweighted layers load cleanly.
	if err := net.LoadCheckpoint(path); err != nil {
		t.Fatal(err)
	}
}

func writeCheckpoint(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ckpt.xml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestCheckpointErrors(t *testing.T) {
	weights := strings.TrimSpace(strings.Repeat("0.5\n", testFeatures*3))
	tests := []struct {
		name string
		body string
		want error
	}{
		{"missing weights", `<Network><Layers><Layer><Id>SM_fc</Id><Size>3</Size><BiasWeights>0
0
0</BiasWeights></Layer></Layers></Network>`, ErrMissingWeights},
		{"missing bias", `<Network><Layers><Layer><Id>SM_fc</Id><Size>3</Size><Weights>` + weights +
			`</Weights></Layer></Layers></Network>`, ErrMissingWeights},
		{"short weights", `<Network><Layers><Layer><Id>SM_fc</Id><Size>3</Size><Weights>1
2</Weights><BiasWeights>0
0
0</BiasWeights></Layer></Layers></Network>`, gpu.ErrSizeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := newClassifier(t, 2, 1, nil)
			defer net.Free()
			err := net.LoadCheckpoint(writeCheckpoint(t, tt.body))
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCheckpointSkipsUnknownLayers(t *testing.T) {
	net := newClassifier(t, 2, 1, nil)
	defer net.Free()
	before := hostCopy(t, net.GetLayerByID("SM_fc").Array(Weights))
	path := writeCheckpoint(t, `<Network><Layers><Layer><Id>OTHER</Id><Size>7</Size><Weights>1</Weights></Layer></Layers></Network>`)
	if err := net.LoadCheckpoint(path); err != nil {
		t.Fatal(err)
	}
	after := hostCopy(t, net.GetLayerByID("SM_fc").Array(Weights))
	for i := range before {
		if before[i] != after[i] {
			t.Fatal("weights changed by an unrelated checkpoint entry")
		}
	}
}

func TestLoadCheckpointBeforeReady(t *testing.T) {
	dir := t.TempDir()
	src := newClassifier(t, 2, 1, nil)
	defer src.Free()
	if err := src.SaveCheckpointDir(dir, "m"); err != nil {
		t.Fatal(err)
	}

	dst := NewNetwork(gpu.NewCPUDevice(1), 2, 99)
	defer dst.Free()
	if _, err := dst.AddInputLayer(testFeatures, 1, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.AddLabelLayer(1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.AddSoftmaxLayer(3, "SM"); err != nil {
		t.Fatal(err)
	}
	if err := dst.LoadCheckpointDir(dir, "m"); err != nil {
		t.Fatal(err)
	}
	if err := dst.CopyToDevice(); err != nil {
		t.Fatal(err)
	}
	want := src.CostLayer.Weights().Host()
	got := hostCopy(t, dst.CostLayer.Weights())
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("weights[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}
