package gpu

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"
)

// serialLimit is the work size below which a launch runs on the calling
// goroutine.
const serialLimit = 2048

// Grid runs kernels as one logical unit of work per index, spread across a
// fixed number of lanes with grid-stride loops.
type Grid struct {
	Lanes int
}

// NewGrid sizes a grid to lanes, or to the CPU count when lanes <= 0.
func NewGrid(lanes int) Grid {
	if lanes <= 0 {
		lanes = runtime.NumCPU()
	}
	return Grid{Lanes: lanes}
}

// Launch calls kernel(i) for every i in [0, n) and returns once all lanes
// have finished.
func (g Grid) Launch(n int, kernel func(i int)) {
	if n <= 0 {
		return
	}
	lanes := g.Lanes
	if lanes > n {
		lanes = n
	}
	if lanes <= 1 || n < serialLimit {
		for i := 0; i < n; i++ {
			kernel(i)
		}
		return
	}

	var wg sync.WaitGroup
	wg.Add(lanes)
	for lane := 0; lane < lanes; lane++ {
		go func(lane int) {
			defer wg.Done()
			for i := lane; i < n; i += lanes {
				kernel(i)
			}
		}(lane)
	}
	wg.Wait()
}

// atomicAddFloat32 adds v to *p with a compare-and-swap loop on the bits.
func atomicAddFloat32(p *float32, v float32) {
	addr := (*uint32)(unsafe.Pointer(p))
	for {
		old := atomic.LoadUint32(addr)
		next := math.Float32bits(math.Float32frombits(old) + v)
		if atomic.CompareAndSwapUint32(addr, old, next) {
			return
		}
	}
}
