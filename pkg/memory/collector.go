package memory

import (
	"time"

	"siod_go/pkg/ast"
)

// Collector is a garbage collection algorithm bound to a Heap
type Collector interface {
	// Allocate returns a free cell, collecting or growing as needed.
	// Exhaustion goes to the heap's fatal hook.
	Allocate() ast.Ref
	// Collect runs a full collection
	Collect()
	// Grow adds a segment; false when every segment is in use
	Grow() (bool, error)
	// FreeCells returns the number of cells available without collecting
	FreeCells() int
	// Contains reports whether r is inside the in-use area
	Contains(r ast.Ref) bool
}

// gcStart and gcEnd wrap every collection with timing, tracing and stats
func (h *Heap) gcStart() time.Time {
	h.tracef(4, "[starting GC]")
	return time.Now()
}

func (h *Heap) gcEnd(start time.Time, collected int) {
	took := time.Since(start)
	h.stats.Collections++
	h.stats.CellsCollected = collected
	h.stats.GCTime += took
	h.stats.TotalGCTime += took
	h.tracef(4, "[GC took %g cpu seconds, %d cells collected]", took.Seconds(), collected)
}
