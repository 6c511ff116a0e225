package gpu

import (
	"fmt"
	"os"
)

// Debug enables allocation / compile / dispatch trace lines.
var Debug = os.Getenv("CLICKNET_GPU_DEBUG") != ""

// Log prints a trace line when Debug is set.
func Log(format string, args ...any) {
	if !Debug {
		return
	}
	fmt.Printf("[gpu] "+format+"\n", args...)
}
