package memory

import (
	"siod_go/pkg/ast"
)

// MarkSweep - mark-and-sweep collector over up to MaxSegments segments
//
// Segments are allocated lazily. Free cells are tagged TFreeCell and linked
// through Cdr. When the free list runs dry the collector marks from the
// roots, sweeps every segment, and then looks at how much came back:
//   - nothing: grow by a segment or give up (fatal)
//   - fewer than 100 cells: grow by a segment if one is left
//   - at least 100 cells: run the after-gc callback

// freeThreshold is the reclaim level under which the heap grows
const freeThreshold = 100

// MarkSweep is the mark-and-sweep collector
type MarkSweep struct {
	h          *Heap
	freelist   ast.Ref
	nfree      int
	collecting bool
}

func newMarkSweep(h *Heap) *MarkSweep {
	m := &MarkSweep{h: h}
	m.Grow()
	return m
}

func (m *MarkSweep) Allocate() ast.Ref {
	if m.freelist == ast.Nil {
		m.gcForNewCell()
	}
	r := m.freelist
	m.freelist = m.h.Cell(r).Cdr
	m.nfree--
	return r
}

func (m *MarkSweep) gcForNewCell() {
	if m.collecting {
		m.h.fatalError("ran out of storage")
	}
	m.Collect()
	n := m.nfree
	switch {
	case n == 0:
		if ok, _ := m.Grow(); !ok {
			m.h.fatalError("ran out of storage")
		}
	case n < freeThreshold:
		m.Grow()
	case m.h.afterGC != nil:
		m.h.afterGC()
	}
	if m.freelist == ast.Nil {
		m.h.fatalError("ran out of storage")
	}
}

func (m *MarkSweep) Grow() (bool, error) {
	h := m.h
	for j, s := range h.segments {
		if s != nil {
			continue
		}
		h.tracef(4, "[allocating heap %d]", j)
		s = make([]ast.Cell, h.cfg.SegmentSize)
		for off := range s {
			s[off].Tag = ast.TFreeCell
			if off+1 < len(s) {
				s[off].Cdr = h.refAt(j, off+1)
			} else {
				s[off].Cdr = m.freelist
			}
		}
		h.segments[j] = s
		m.freelist = h.refAt(j, 0)
		m.nfree += len(s)
		return true, nil
	}
	return false, nil
}

func (m *MarkSweep) FreeCells() int {
	return m.nfree
}

func (m *MarkSweep) Contains(r ast.Ref) bool {
	return true
}

func (m *MarkSweep) Collect() {
	h := m.h
	start := h.gcStart()
	m.collecting = true
	h.visitRoots(func(p *ast.Ref) {
		m.mark(*p)
	})
	collected := m.sweep()
	m.collecting = false
	h.gcEnd(start, collected)
}

// mark sets the mark bit on everything reachable from r
func (m *MarkSweep) mark(r ast.Ref) {
	h := m.h
	for r != ast.Nil {
		c := h.Cell(r)
		if c.Mark || c.Tag == ast.TFreeCell {
			return
		}
		c.Mark = true
		switch {
		case c.Tag == ast.TCons || c.Tag == ast.TClosure:
			m.mark(c.Car)
			r = c.Cdr
		case c.Tag == ast.TSymbol:
			r = c.Car
		case ast.IsBuiltin(c.Tag):
			return
		default:
			r = h.types.Get(c.Tag).Mark(h, r)
		}
	}
}

// sweep frees unmarked cells and rebuilds the free list
func (m *MarkSweep) sweep() int {
	h := m.h
	freelist := ast.Nil
	nfree, collected := 0, 0
	for j, s := range h.segments {
		if s == nil {
			continue
		}
		for off := range s {
			c := &s[off]
			if c.Mark {
				c.Mark = false
				continue
			}
			if c.Tag != ast.TFreeCell {
				if !ast.IsBuiltin(c.Tag) {
					h.types.Get(c.Tag).Free(h, h.refAt(j, off))
				}
				collected++
			}
			*c = ast.Cell{Tag: ast.TFreeCell, Cdr: freelist}
			freelist = h.refAt(j, off)
			nfree++
		}
	}
	m.freelist = freelist
	m.nfree = nfree
	return collected
}
