package memory

import (
	"siod_go/pkg/ast"
)

// Copying - two-space Cheney collector
//
// Both semispaces are allocated up front. Allocation bumps an index in the
// current space. A collection flips spaces, relocates every root, then scans
// the new space left to right relocating the Refs it holds until the scan
// pointer meets the allocation pointer.
//
// A relocated cell keeps Mark set and its new Ref in Car, so relocating the
// same cell twice returns the first copy.

// Copying is the stop-and-copy collector
type Copying struct {
	h          *Heap
	space      int
	next       int
	collecting bool
}

func newCopying(h *Heap) *Copying {
	for i := 0; i < 2; i++ {
		h.segments[i] = make([]ast.Cell, h.cfg.SegmentSize)
	}
	return &Copying{h: h}
}

func (c *Copying) Allocate() ast.Ref {
	if c.next >= c.h.cfg.SegmentSize {
		if c.collecting {
			c.h.fatalError("ran out of storage")
		}
		c.Collect()
		if c.next >= c.h.cfg.SegmentSize {
			c.h.fatalError("ran out of storage")
		}
	}
	r := c.h.refAt(c.space, c.next)
	c.next++
	return r
}

func (c *Copying) Grow() (bool, error) {
	return false, ErrCopyingMode.New("cannot perform operation with stop-and-copy GC mode. Use -g mark-sweep")
}

func (c *Copying) FreeCells() int {
	return c.h.cfg.SegmentSize - c.next
}

func (c *Copying) Contains(r ast.Ref) bool {
	seg, off := c.h.segmentOf(r)
	return seg == c.space && off < c.next
}

// copyCell moves r to the end of to-space
func (c *Copying) copyCell(r ast.Ref) ast.Ref {
	if c.next >= c.h.cfg.SegmentSize {
		c.h.fatalError("ran out of storage")
	}
	nw := c.h.refAt(c.space, c.next)
	c.next++
	c.h.segments[c.space][c.next-1] = *c.h.Cell(r)
	return nw
}

// relocate returns the to-space copy of r, copying it on first sight
func (c *Copying) relocate(r ast.Ref) ast.Ref {
	if r == ast.Nil {
		return r
	}
	if seg, _ := c.h.segmentOf(r); seg == c.space {
		return r
	}
	old := c.h.Cell(r)
	if old.Mark {
		return old.Car
	}
	var nw ast.Ref
	if ast.IsBuiltin(old.Tag) {
		nw = c.copyCell(r)
	} else {
		nw = c.h.types.Get(old.Tag).Relocate(c.h, r)
	}
	old.Mark = true
	old.Car = nw
	return nw
}

func (c *Copying) Collect() {
	h := c.h
	start := h.gcStart()
	c.collecting = true

	oldSpace, oldEnd := c.space, c.next
	c.space = 1 - oldSpace
	c.next = 0

	h.visitRoots(func(p *ast.Ref) {
		*p = c.relocate(*p)
	})

	seg := h.segments[c.space]
	for i := 0; i < c.next; i++ {
		cell := &seg[i]
		switch {
		case cell.Tag == ast.TCons || cell.Tag == ast.TClosure:
			cell.Car = c.relocate(cell.Car)
			cell.Cdr = c.relocate(cell.Cdr)
		case cell.Tag == ast.TSymbol:
			cell.Car = c.relocate(cell.Car)
		case ast.IsBuiltin(cell.Tag):
		default:
			h.types.Get(cell.Tag).Scan(h, h.refAt(c.space, i))
		}
	}

	old := h.segments[oldSpace]
	for i := 0; i < oldEnd; i++ {
		cell := &old[i]
		if !cell.Mark && !ast.IsBuiltin(cell.Tag) && cell.Tag != ast.TNil {
			h.types.Get(cell.Tag).Free(h, h.refAt(oldSpace, i))
		}
	}
	for i := range old {
		old[i] = ast.Cell{Tag: ast.TFreeCell}
	}

	c.collecting = false
	h.gcEnd(start, oldEnd-c.next)
}
