package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/npillmayer/schuko/tracing"
	"github.com/npillmayer/schuko/tracing/gologadapter"

	"siod_go/pkg/ast"
)

// Heap - segmented cell arena shared by both collectors
//
// Every value is a Ref into a list of fixed-size segments. Ref r lives in
// segment (r-1)/SegmentSize at offset (r-1)%SegmentSize; Ref 0 is () and
// is never backed by a cell.
//
// Rules for code that holds Refs:
//   - a Ref stored outside the heap across an allocation must be reachable
//     from a root (GCProtect, Protect or a root function)
//   - a *ast.Cell must never be held across an allocation, the copying
//     collector moves cells and mark-sweep may recycle them

// Kind selects the collection algorithm
type Kind int

const (
	// KindMarkSweep marks from the roots and sweeps every segment into a free list
	KindMarkSweep Kind = iota
	// KindCopying is a two-space Cheney collector
	KindCopying
)

func (k Kind) String() string {
	switch k {
	case KindCopying:
		return "stop and copy"
	case KindMarkSweep:
		return "mark and sweep"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// InumCount is the number of preallocated small integers
const InumCount = 256

// Config describes the heap layout
type Config struct {
	Kind        Kind
	SegmentSize int // cells per segment
	MaxSegments int // mark-sweep only; copying always uses two
	Tracer      tracing.Trace
	Verbose     int
}

// DefaultConfig returns the stock SIOD heap: two mark-sweep segments of 5000 cells
func DefaultConfig() Config {
	return Config{
		Kind:        KindMarkSweep,
		SegmentSize: 5000,
		MaxSegments: 2,
		Verbose:     1,
	}
}

// Stats holds collector counters
type Stats struct {
	Collections    int
	CellsCollected int           // during the last collection
	CellsAllocated int           // since the last ResetCounters
	GCTime         time.Duration // since the last ResetCounters
	TotalGCTime    time.Duration
	ActiveSegments int
	MaxSegments    int
	SegmentSize    int
	Free           int
}

// Heap owns segments, roots, the type registry and the active collector
type Heap struct {
	cfg      Config
	segments [][]ast.Cell
	coll     Collector
	types    *Registry
	tracer   tracing.Trace

	registered []*ast.Ref
	slices     [][]ast.Ref
	stack      []*ast.Ref
	rootFuncs  []func(visit func(*ast.Ref))

	inums []ast.Ref

	fatal   func(msg string)
	afterGC func()
	verbose bool // gc-status flag

	stats Stats
}

// New creates a heap with its first segment(s) allocated
func New(cfg Config) *Heap {
	def := DefaultConfig()
	if cfg.SegmentSize <= 0 {
		cfg.SegmentSize = def.SegmentSize
	}
	if cfg.MaxSegments <= 0 {
		cfg.MaxSegments = def.MaxSegments
	}
	if cfg.Kind == KindCopying {
		cfg.MaxSegments = 2
	}
	if cfg.Tracer == nil {
		cfg.Tracer = gologadapter.New()
		cfg.Tracer.SetTraceLevel(tracing.LevelInfo)
	}
	h := &Heap{
		cfg:      cfg,
		segments: make([][]ast.Cell, cfg.MaxSegments),
		types:    NewRegistry(),
		tracer:   cfg.Tracer,
		verbose:  true,
	}
	h.fatal = func(msg string) {
		h.tracer.Errorf("FATAL: %s", msg)
		os.Exit(1)
	}
	switch cfg.Kind {
	case KindCopying:
		h.coll = newCopying(h)
	default:
		h.coll = newMarkSweep(h)
	}
	h.stats.MaxSegments = cfg.MaxSegments
	h.stats.SegmentSize = cfg.SegmentSize

	h.inums = make([]ast.Ref, InumCount)
	h.GCProtectSlice(h.inums)
	for i := range h.inums {
		r := h.Alloc(ast.TFlonum)
		h.Cell(r).Num = float64(i)
		h.inums[i] = r
	}
	return h
}

// Kind returns the collector kind
func (h *Heap) Kind() Kind { return h.cfg.Kind }

// Config returns the effective configuration
func (h *Heap) Config() Config { return h.cfg }

// Types returns the type-hook registry
func (h *Heap) Types() *Registry { return h.types }

// Tracer returns the tracer receiving GC messages
func (h *Heap) Tracer() tracing.Trace { return h.tracer }

// Verbose reports the gc-status flag
func (h *Heap) Verbose() bool { return h.verbose }

// SetVerbose sets the gc-status flag
func (h *Heap) SetVerbose(on bool) { h.verbose = on }

// SetLogLevel sets the verbose level gating collector messages
func (h *Heap) SetLogLevel(level int) { h.cfg.Verbose = level }

// SetFatalHook replaces the out-of-storage handler. The hook is expected
// not to return; if it does, Alloc panics.
func (h *Heap) SetFatalHook(fn func(msg string)) { h.fatal = fn }

// SetAfterGC installs the callback run when a mark-sweep collection freed
// plenty of cells
func (h *Heap) SetAfterGC(fn func()) { h.afterGC = fn }

func (h *Heap) fatalError(msg string) {
	h.fatal(msg)
	panic("siod: " + msg)
}

func (h *Heap) tracef(level int, format string, args ...interface{}) {
	if h.verbose && h.cfg.Verbose >= level {
		h.tracer.Infof(format, args...)
	}
}

// segmentOf splits a Ref into segment and offset
func (h *Heap) segmentOf(r ast.Ref) (int, int) {
	i := int(r) - 1
	return i / h.cfg.SegmentSize, i % h.cfg.SegmentSize
}

func (h *Heap) refAt(seg, off int) ast.Ref {
	return ast.Ref(seg*h.cfg.SegmentSize + off + 1)
}

// Cell returns the cell behind r. The pointer is only valid until the next
// allocation.
func (h *Heap) Cell(r ast.Ref) *ast.Cell {
	seg, off := h.segmentOf(r)
	return &h.segments[seg][off]
}

// Tag returns the tag of r; () is TNil
func (h *Heap) Tag(r ast.Ref) ast.Tag {
	if r == ast.Nil {
		return ast.TNil
	}
	return h.Cell(r).Tag
}

// Valid reports whether r names a live cell: inside an allocated segment,
// inside the in-use part of the copying space, and not on the free list
func (h *Heap) Valid(r ast.Ref) bool {
	if r == ast.Nil {
		return false
	}
	seg, _ := h.segmentOf(r)
	if seg < 0 || seg >= len(h.segments) || h.segments[seg] == nil {
		return false
	}
	if !h.coll.Contains(r) {
		return false
	}
	return h.Cell(r).Tag != ast.TFreeCell
}

// Alloc returns a zeroed cell with the given tag, collecting if needed
func (h *Heap) Alloc(tag ast.Tag) ast.Ref {
	r := h.coll.Allocate()
	h.Cell(r).Reset(tag)
	h.stats.CellsAllocated++
	return r
}

// Cons allocates a pair
func (h *Heap) Cons(car, cdr ast.Ref) ast.Ref {
	release := h.Protect(&car, &cdr)
	r := h.Alloc(ast.TCons)
	release()
	c := h.Cell(r)
	c.Car = car
	c.Cdr = cdr
	return r
}

// Flonum returns a number cell; small non-negative integers are shared
func (h *Heap) Flonum(x float64) ast.Ref {
	if x >= 0 && x < InumCount && x == float64(int(x)) && h.inums != nil && h.inums[int(x)] != ast.Nil {
		return h.inums[int(x)]
	}
	r := h.Alloc(ast.TFlonum)
	h.Cell(r).Num = x
	return r
}

// CopyCell copies r into the copying collector's to-space. Only valid
// inside a Relocate hook.
func (h *Heap) CopyCell(r ast.Ref) ast.Ref {
	cp, ok := h.coll.(*Copying)
	if !ok {
		return r
	}
	return cp.copyCell(r)
}

// Relocate forwards r during a copying collection; used by Scan hooks
func (h *Heap) Relocate(r ast.Ref) ast.Ref {
	cp, ok := h.coll.(*Copying)
	if !ok {
		return r
	}
	return cp.relocate(r)
}

// Mark marks r during a mark-sweep collection; used by Mark hooks
func (h *Heap) Mark(r ast.Ref) {
	if ms, ok := h.coll.(*MarkSweep); ok {
		ms.mark(r)
	}
}

// Collect runs a full collection now
func (h *Heap) Collect() {
	h.coll.Collect()
}

// Grow adds a segment. Copying heaps cannot grow.
func (h *Heap) Grow() (bool, error) {
	return h.coll.Grow()
}

// Stats returns a snapshot of the collector counters
func (h *Heap) Stats() Stats {
	s := h.stats
	s.ActiveSegments = h.activeSegments()
	s.Free = h.coll.FreeCells()
	return s
}

// ResetCounters zeroes the per-evaluation counters
func (h *Heap) ResetCounters() {
	h.stats.CellsAllocated = 0
	h.stats.GCTime = 0
}

// Status renders the gc-status report
func (h *Heap) Status() string {
	s := h.Stats()
	var flag string
	if h.cfg.Kind == KindCopying {
		if h.verbose {
			flag = "garbage collection is on\n"
		} else {
			flag = "garbage collection is off\n"
		}
		used := s.SegmentSize - s.Free
		return flag + fmt.Sprintf("%d allocated %d free\n", used, s.Free)
	}
	if h.verbose {
		flag = "garbage collection verbose\n"
	} else {
		flag = "garbage collection silent\n"
	}
	return flag + fmt.Sprintf("%d/%d heaps, %d allocated %d free\n",
		s.ActiveSegments, s.MaxSegments, s.ActiveSegments*s.SegmentSize-s.Free, s.Free)
}

func (h *Heap) activeSegments() int {
	n := 0
	for _, s := range h.segments {
		if s != nil {
			n++
		}
	}
	return n
}

// Walk calls visit for every live cell
func (h *Heap) Walk(visit func(r ast.Ref, c *ast.Cell)) {
	for seg, s := range h.segments {
		if s == nil {
			continue
		}
		for off := range s {
			r := h.refAt(seg, off)
			if h.Valid(r) {
				visit(r, &s[off])
			}
		}
	}
}
