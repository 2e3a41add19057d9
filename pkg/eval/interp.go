package eval

import (
	"bufio"
	"io"
	"math/rand"
	"os"
	"sync/atomic"
	"time"

	"github.com/npillmayer/schuko/tracing"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

// Interp - one SIOD interpreter instance
//
// An Interp owns everything the language needs: the heap with its roots
// and type registry, the oblist, the well-known symbols, the catch stack
// and the output/input streams. Nothing is process global, so several
// instances can live side by side. An Interp is not safe for concurrent
// use; only Interrupt may be called from another goroutine.

// Config describes an interpreter
type Config struct {
	Heap       memory.Config
	StackLimit int // maximum nesting of Eval calls
	Verbose    int // SIOD verbose level
	Output     io.Writer
	Input      io.Reader
	Tracer     tracing.Trace // GC and diagnostic messages
	LibDir     string        // directory searched by load and require
}

// DefaultConfig returns the configuration used by New without options
func DefaultConfig() Config {
	return Config{
		Heap:       memory.DefaultConfig(),
		StackLimit: 10000,
		Verbose:    1,
		Output:     os.Stdout,
		Input:      os.Stdin,
	}
}

// Option adjusts a Config
type Option func(*Config)

// WithHeap sets the heap layout and collector
func WithHeap(h memory.Config) Option { return func(c *Config) { c.Heap = h } }

// WithOutput sets the writer used by print, puts and error reports
func WithOutput(w io.Writer) Option { return func(c *Config) { c.Output = w } }

// WithInput sets the reader used by read and getc on the standard stream
func WithInput(r io.Reader) Option { return func(c *Config) { c.Input = r } }

// WithVerbose sets the verbose level
func WithVerbose(level int) Option { return func(c *Config) { c.Verbose = level } }

// WithStackLimit sets the evaluation depth limit
func WithStackLimit(n int) Option { return func(c *Config) { c.StackLimit = n } }

// WithTracer sets the tracer for heap and diagnostic messages
func WithTracer(t tracing.Trace) Option { return func(c *Config) { c.Tracer = t } }

// WithLibDir sets the library directory for load and require
func WithLibDir(dir string) Option { return func(c *Config) { c.LibDir = dir } }

// well-known symbols
const (
	symT = iota
	symErrobj
	symAll
	symBegin
	symLambda
	symQuote
	symQuasiquote
	symUnquote
	symUnquoteSplicing
	symDot
	symAfterGC
	symEvalHistory
	symLet
	symLetStar
	symLetInternal
	symSet
	symDouble
	symLong
	symStringKind
	symByte
	symLisp
	numSyms
)

var symNames = [numSyms]string{
	symT:               "t",
	symErrobj:          "errobj",
	symAll:             "all",
	symBegin:           "begin",
	symLambda:          "lambda",
	symQuote:           "quote",
	symQuasiquote:      "quasiquote",
	symUnquote:         "unquote",
	symUnquoteSplicing: "unquote-splicing",
	symDot:             ".",
	symAfterGC:         "*after-gc*",
	symEvalHistory:     "*eval-history-ptr*",
	symLet:             "let",
	symLetStar:         "let*",
	symLetInternal:     "let-internal",
	symSet:             "set!",
	symDouble:          "double",
	symLong:            "long",
	symStringKind:      "string",
	symByte:            "byte",
	symLisp:            "lisp",
}

// obarraySize is the number of oblist buckets
const obarraySize = 100

// Interp is an interpreter instance
type Interp struct {
	cfg     Config
	h       *memory.Heap
	out     io.Writer
	input   *bufio.Reader
	verbose int

	obarray []ast.Ref
	syms    [numSyms]ast.Ref
	unbound ast.Ref
	eof     ast.Ref

	catches    []catchFrame
	depth      int
	stackLimit int

	pending     atomic.Bool
	noInterrupt int

	// fast-format readers in progress; their id tables are roots
	fastReaders []*FastReader

	rng       *rand.Rand
	gensym    int
	inAfterGC bool
	started   time.Time
	closed    bool
}

// New creates an interpreter with the built-in types and procedures
// installed
func New(opts ...Option) *Interp {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	if cfg.Input == nil {
		cfg.Input = eofReader{}
	}
	if cfg.StackLimit <= 0 {
		cfg.StackLimit = DefaultConfig().StackLimit
	}
	hc := cfg.Heap
	if cfg.Tracer != nil {
		hc.Tracer = cfg.Tracer
	}
	hc.Verbose = cfg.Verbose

	in := &Interp{
		cfg:        cfg,
		h:          memory.New(hc),
		out:        cfg.Output,
		input:      bufio.NewReader(cfg.Input),
		verbose:    cfg.Verbose,
		stackLimit: cfg.StackLimit,
		rng:        rand.New(rand.NewSource(1)),
		started:    time.Now(),
	}
	in.initStorage()
	in.initSubrs()
	in.h.SetAfterGC(in.afterGC)
	return in
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// initStorage builds the oblist, the well-known symbols and the roots
func (in *Interp) initStorage() {
	h := in.h
	in.obarray = make([]ast.Ref, obarraySize)
	h.GCProtectSlice(in.obarray)
	h.GCProtectSlice(in.syms[:])
	h.GCProtect(&in.unbound)
	h.GCProtect(&in.eof)
	h.AddRoots(in.visitCatches)
	h.AddRoots(in.visitFastTables)

	marker := in.Intern("**unbound-marker**")
	in.unbound = h.Cons(marker, ast.Nil)
	eof := in.Intern("eof")
	in.eof = h.Cons(eof, ast.Nil)

	in.registerBuiltinTypes()

	for i, name := range symNames {
		in.syms[i] = in.Intern(name)
	}
	in.setGlobal(in.syms[symT], in.syms[symT])
	in.setGlobal(in.Intern("nil"), ast.Nil)
	in.setGlobal(in.syms[symErrobj], ast.Nil)
	in.setGlobal(in.syms[symAfterGC], ast.Nil)
	in.setGlobal(in.syms[symEvalHistory], ast.Nil)
}

func (in *Interp) visitCatches(visit func(*ast.Ref)) {
	for i := range in.catches {
		visit(&in.catches[i].tag)
		visit(&in.catches[i].value)
	}
}

func (in *Interp) visitFastTables(visit func(*ast.Ref)) {
	for _, fr := range in.fastReaders {
		for i := range fr.ids {
			visit(&fr.ids[i])
		}
	}
}

// afterGC evaluates the value of *after-gc* after a productive collection
func (in *Interp) afterGC() {
	if in.inAfterGC {
		return
	}
	form := in.h.Cell(in.syms[symAfterGC]).Car
	if form == ast.Nil || form == in.unbound {
		return
	}
	in.inAfterGC = true
	defer func() { in.inAfterGC = false }()
	if _, err := in.Eval(form, ast.Nil); err != nil {
		in.Tracer().Errorf("*after-gc*: %v", err)
	}
}

// Close runs the free hooks of every live cell, closing open files.
// The interpreter must not be used afterwards.
func (in *Interp) Close() error {
	if in.closed {
		return nil
	}
	in.closed = true
	in.h.Walk(func(r ast.Ref, c *ast.Cell) {
		if !ast.IsBuiltin(c.Tag) {
			in.h.Types().Get(c.Tag).Free(in.h, r)
		}
	})
	return nil
}

// Heap returns the interpreter heap
func (in *Interp) Heap() *memory.Heap { return in.h }

// Output returns the writer used for printing
func (in *Interp) Output() io.Writer { return in.out }

// SetOutput redirects printing
func (in *Interp) SetOutput(w io.Writer) { in.out = w }

// Tracer returns the tracer shared with the heap
func (in *Interp) Tracer() tracing.Trace { return in.h.Tracer() }

// tracef reports a progress message when the verbose level reaches level
func (in *Interp) tracef(level int, format string, args ...interface{}) {
	if in.verbose >= level {
		in.Tracer().Infof(format, args...)
	}
}

// Verbose returns the verbose level
func (in *Interp) Verbose() int { return in.verbose }

// SetVerbose sets the verbose level and returns the previous one
func (in *Interp) SetVerbose(level int) int {
	old := in.verbose
	in.verbose = level
	in.h.SetLogLevel(level)
	return old
}

// Unbound returns the marker stored in the value cell of unbound symbols
func (in *Interp) Unbound() ast.Ref { return in.unbound }

// EOF returns the end-of-file object returned by read
func (in *Interp) EOF() ast.Ref { return in.eof }

// T returns the symbol t
func (in *Interp) T() ast.Ref { return in.syms[symT] }

// Truth returns t or ()
func (in *Interp) Truth(b bool) ast.Ref {
	if b {
		return in.syms[symT]
	}
	return ast.Nil
}

// Protect pushes locations on the heap root stack
func (in *Interp) Protect(locs ...*ast.Ref) func() { return in.h.Protect(locs...) }

// Interrupt requests a control-c interrupt. Safe to call from any goroutine.
func (in *Interp) Interrupt() { in.pending.Store(true) }

// NoInterrupt enters a critical section and returns the function that
// leaves it. Leaving the outermost section delivers a deferred interrupt.
func (in *Interp) NoInterrupt() func() error {
	in.noInterrupt++
	return func() error {
		in.noInterrupt--
		if in.noInterrupt == 0 && in.pending.Load() {
			return in.poll()
		}
		return nil
	}
}

// poll delivers a pending interrupt outside critical sections
func (in *Interp) poll() error {
	if in.noInterrupt > 0 || !in.pending.Load() {
		return nil
	}
	in.pending.Store(false)
	return in.raise(ErrInterrupted, ast.Nil, "control-c interrupt")
}
