package nn

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/openfluke/clicknet/gpu"
)

// checkpointFile is the on-disk XML layout:
//
//	<Network><Layers><Layer><Id/><Size/><Weights/><BiasWeights/></Layer>...</Layers></Network>
//
// Weight values are newline separated, in host buffer order.
type checkpointFile struct {
	XMLName xml.Name          `xml:"Network"`
	Layers  []checkpointLayer `xml:"Layers>Layer"`
}

type checkpointLayer struct {
	ID          string  `xml:"Id"`
	Size        int     `xml:"Size"`
	Weights     *string `xml:"Weights,omitempty"`
	BiasWeights *string `xml:"BiasWeights,omitempty"`
}

// SaveCheckpoint writes one entry per layer to path, with weights and bias
// weights for the layers that own them. A ready network copies its device buffers to the host first.
func (n *Network) SaveCheckpoint(path string) error {
	switch n.state {
	case StateReady:
		if err := n.CopyToHost(); err != nil {
			return err
		}
	case StateFreed:
		return fmt.Errorf("%w: network is %s", ErrState, n.state)
	}
	var file checkpointFile
	for _, l := range n.Layers {
		entry := checkpointLayer{ID: l.ID(), Size: l.Size()}
		if l.HasWeights() {
			weights := formatValues(l.Array(Weights).Host())
			bias := formatValues(l.Array(BiasWeights).Host())
			entry.Weights, entry.BiasWeights = &weights, &bias
		}
		file.Layers = append(file.Layers, entry)
	}

	data, err := xml.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := os.WriteFile(path, append([]byte(xml.Header), data...), 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	gpu.Log("saved checkpoint %s (%d layers)", path, len(file.Layers))
	return nil
}

// LoadCheckpoint restores weights from path into the layers with matching
// ids and, on a ready network, uploads them. Entries for unknown ids are
// skipped. A weighted layer without an entry is left untouched.
func (n *Network) LoadCheckpoint(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	var file checkpointFile
	if err := xml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode checkpoint %s: %w", path, err)
	}

	for _, entry := range file.Layers {
		l := n.GetLayerByID(entry.ID)
		if l == nil || !l.HasWeights() {
			continue
		}
		if entry.Weights == nil || entry.BiasWeights == nil {
			return fmt.Errorf("%w: layer %s", ErrMissingWeights, entry.ID)
		}
		if err := loadValues(l.Array(Weights), *entry.Weights); err != nil {
			return fmt.Errorf("layer %s weights: %w", entry.ID, err)
		}
		if err := loadValues(l.Array(BiasWeights), *entry.BiasWeights); err != nil {
			return fmt.Errorf("layer %s bias weights: %w", entry.ID, err)
		}
		if n.state != StateReady {
			continue
		}
		if err := l.Array(Weights).CopyToDevice(); err != nil {
			return err
		}
		if err := l.Array(BiasWeights).CopyToDevice(); err != nil {
			return err
		}
	}
	return nil
}

// SaveCheckpointDir writes dir/name.xml, creating dir when needed.
func (n *Network) SaveCheckpointDir(dir, name string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return n.SaveCheckpoint(filepath.Join(dir, name+".xml"))
}

// LoadCheckpointDir reads dir/name.xml.
func (n *Network) LoadCheckpointDir(dir, name string) error {
	return n.LoadCheckpoint(filepath.Join(dir, name+".xml"))
}

func formatValues(values []float32) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	return sb.String()
}

func loadValues(a *gpu.Array, text string) error {
	fields := strings.Fields(text)
	if len(fields) != a.Len() {
		return fmt.Errorf("%w: %d values for %d slots", gpu.ErrSizeMismatch, len(fields), a.Len())
	}
	host := a.Host()
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 32)
		if err != nil {
			return err
		}
		host[i] = float32(v)
	}
	return nil
}
