package nn

import (
	"fmt"
	"os"
	"path/filepath"
)

// DumpText writes every host buffer of every layer as row/col/value text to
// dir/asciidata/<layer id>_<array kind>.txt, plus <id>_Winners.txt for
// maxout layers. Device buffers are copied to
// the host first when the network is ready.
func (n *Network) DumpText(dir string) error {
	if n.state == StateReady {
		if err := n.CopyToHost(); err != nil {
			return err
		}
	}
	out := filepath.Join(dir, "asciidata")
	if err := os.MkdirAll(out, 0o755); err != nil {
		return err
	}
	for _, l := range n.Layers {
		for kind := ArrayKind(0); kind < arrayKindCount; kind++ {
			a := l.base().arrays[kind]
			if a == nil {
				continue
			}
			if err := writeDump(out, l.ID(), kind.String(), a.Text()); err != nil {
				return err
			}
		}
		if m, ok := l.(*MaxoutLayer); ok && m.winners != nil {
			if err := writeDump(out, l.ID(), "Winners", m.winners.Text()); err != nil {
				return err
			}
		}
	}
	return nil
}

func writeDump(dir, id, name, text string) error {
	return os.WriteFile(filepath.Join(dir, fmt.Sprintf("%s_%s.txt", id, name)), []byte(text), 0o644)
}
