package eval

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
	"siod_go/pkg/parser"
)

// readBuilder lets the parser allocate in the interpreter heap
type readBuilder struct{ *Interp }

func (b readBuilder) SetCdr(pair, cdr ast.Ref) { b.setCdr(pair, cdr) }

func (b readBuilder) Bytes(data []byte) ast.Ref { return b.NewCell(ast.TByteArray, data) }

func (b readBuilder) Vector(list ast.Ref) ast.Ref {
	in := b.Interp
	release := in.h.Protect(&list)
	defer release()
	r := in.NewCell(ast.TLispArray, []ast.Ref{})
	if items := in.ListSlice(list); items != nil {
		in.h.Cell(r).Payload = items
	}
	return r
}

func (b readBuilder) Eval(form ast.Ref) (ast.Ref, error) { return b.Interp.Eval(form, ast.Nil) }

// ReadString reads the first form of src
func (in *Interp) ReadString(src string) (ast.Ref, error) {
	return parser.ParseString(src, readBuilder{in})
}

// ReadAll reads every form of src into a list
func (in *Interp) ReadAll(src string) (ast.Ref, error) {
	return parser.ParseAllString(src, readBuilder{in})
}

// EvalString reads and evaluates every form of src in the global
// environment and returns the last value
func (in *Interp) EvalString(src string) (ast.Ref, error) {
	p := parser.New(strings.NewReader(src), readBuilder{in})
	var form, val ast.Ref
	release := in.h.Protect(&form, &val)
	defer release()
	for {
		var err error
		if form, err = p.Parse(); err != nil {
			return ast.Nil, err
		}
		if form == in.eof {
			return val, nil
		}
		if val, err = in.Eval(form, ast.Nil); err != nil {
			return ast.Nil, err
		}
	}
}

// ReplHooks replaces parts of the read-eval-print loop. Nil fields use
// the defaults: read from the interpreter input, evaluate in the global
// environment and print at verbose level 2 and above.
type ReplHooks struct {
	Puts  func(s string)
	Read  func() (ast.Ref, error)
	Eval  func(form ast.Ref) (ast.Ref, error)
	Print func(x ast.Ref) error
}

// Repl runs the read-eval-print loop until end of input or quit. Errors
// are reported on the output and the loop goes on.
func (in *Interp) Repl(hooks ReplHooks) error {
	puts := hooks.Puts
	if puts == nil {
		puts = func(s string) { io.WriteString(in.out, s) }
	}
	read := hooks.Read
	if read == nil {
		p := parser.New(in.input, readBuilder{in})
		read = p.Parse
	}
	evalf := hooks.Eval
	if evalf == nil {
		evalf = func(form ast.Ref) (ast.Ref, error) { return in.Eval(form, ast.Nil) }
	}
	printf := hooks.Print
	if printf == nil {
		printf = func(x ast.Ref) error {
			if in.verbose >= 2 {
				return in.Print(in.out, x)
			}
			return nil
		}
	}

	base := in.h.StackDepth()
	for {
		in.catches = in.catches[:0]
		in.h.TruncateStack(base)
		done, err := in.replStep(puts, read, evalf, printf)
		if done {
			return nil
		}
		if err == nil {
			continue
		}
		if errorx.IsOfType(err, ErrQuit) {
			return nil
		}
		if in.verbose >= 1 {
			puts(in.ErrorReport(err) + "\n")
		}
		if errorx.IsOfType(err, parser.ErrEOF) {
			return nil
		}
	}
}

// replStep reads, evaluates and prints one form
func (in *Interp) replStep(puts func(string), read func() (ast.Ref, error),
	evalf func(ast.Ref) (ast.Ref, error), printf func(ast.Ref) error) (bool, error) {
	h := in.h
	if h.Kind() == memory.KindCopying && h.Verbose() {
		start := time.Now()
		before := h.Stats()
		h.Collect()
		after := h.Stats()
		if in.verbose >= 2 {
			puts(fmt.Sprintf("GC took %g seconds, %d compressed to %d, %d free\n",
				time.Since(start).Seconds(), before.SegmentSize-before.Free,
				after.SegmentSize-after.Free, after.Free))
		}
	}
	if in.verbose >= 2 {
		puts("> ")
	}
	var x ast.Ref
	release := h.Protect(&x)
	defer release()
	var err error
	if x, err = read(); err != nil {
		return false, err
	}
	if x == in.eof {
		return true, nil
	}
	h.ResetCounters()
	gcBefore := h.Stats().GCTime
	start := time.Now()
	if x, err = evalf(x); err != nil {
		return false, err
	}
	if in.verbose >= 3 {
		s := h.Stats()
		elapsed := time.Since(start).Seconds()
		puts(fmt.Sprintf("Evaluation took %g seconds (%g in gc) %d cons work, %g real.\n",
			elapsed, (s.GCTime - gcBefore).Seconds(), s.CellsAllocated, elapsed))
	}
	return false, printf(x)
}

// Load reads the forms of a file and evaluates them in the global
// environment, or with collect returns them as a list. With search a
// relative name not found as given is looked up in the library directory.
// Leading lines starting with # or ; are skipped.
func (in *Interp) Load(path string, collect, search bool) (ast.Ref, error) {
	if search {
		path = in.findLibrary(path)
	}
	in.tracef(3, "loading %s", path)
	f, err := os.Open(path)
	if err != nil {
		return ast.Nil, in.raise(ErrIO, in.String(err.Error()), "could not open %s", path)
	}
	defer f.Close()
	r := bufio.NewReader(f)
	if err := skipHeaderLines(r); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "load %s", path)
	}

	p := parser.New(r, readBuilder{in})
	b := in.newListBuilder()
	defer b.release()
	var form ast.Ref
	release := in.h.Protect(&form)
	defer release()
	for {
		if form, err = p.Parse(); err != nil {
			return ast.Nil, errorx.Decorate(err, "%s:%d", path, p.Line())
		}
		if form == in.eof {
			break
		}
		if in.verbose >= 5 {
			in.Print(in.out, form)
		}
		if collect {
			b.add(form)
		} else if _, err := in.Eval(form, ast.Nil); err != nil {
			return ast.Nil, err
		}
	}
	in.tracef(3, "done.")
	return b.head, nil
}

// findLibrary returns name itself if it exists, else its path in the
// library directory when that exists
func (in *Interp) findLibrary(name string) string {
	if _, err := os.Stat(name); err == nil || filepath.IsAbs(name) || in.cfg.LibDir == "" {
		return name
	}
	lib := filepath.Join(in.cfg.LibDir, name)
	if _, err := os.Stat(lib); err == nil {
		return lib
	}
	return name
}

func skipHeaderLines(r *bufio.Reader) error {
	for {
		c, err := r.Peek(1)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if c[0] != '#' && c[0] != ';' {
			return nil
		}
		if _, err := r.ReadString('\n'); err != nil && err != io.EOF {
			return err
		}
	}
}

// Require loads a library once, recording it in *NAME-loaded*
func (in *Interp) Require(name string) (ast.Ref, error) {
	sym := in.Intern("*" + name + "-loaded*")
	release := in.h.Protect(&sym)
	defer release()
	if v, ok := in.Global(sym); ok && v != ast.Nil {
		return sym, nil
	}
	if _, err := in.Load(name, false, true); err != nil {
		return ast.Nil, err
	}
	in.setGlobal(sym, in.syms[symT])
	return sym, nil
}

func (in *Interp) initIOSubrs() {
	in.defineOpt("read", 0, in.read)
	in.defineOpt("print", 1, in.print)
	in.defineOpt("prin1", 1, in.prin1)
	in.defineOpt("display", 1, in.display)
	in.DefineLsubr("writes", in.writes)
	in.DefineSubr0("eof-val", func() (ast.Ref, error) { return in.eof, nil })
	in.defineOpt("load", 1, in.load)
	in.DefineSubr1("require", in.require)
	in.DefineSubr1("parse-number", in.parseNumber)
	in.defineOpt("save-forms", 2, in.saveForms)
}

func (in *Interp) read(file ast.Ref) (ast.Ref, error) {
	r, err := in.readerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	return in.ReadForm(r)
}

func (in *Interp) print(x, file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	return ast.Nil, in.Print(w, x)
}

func (in *Interp) prin1(x, file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	return ast.Nil, in.Prin1(w, x)
}

func (in *Interp) display(x, file ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(file)
	if err != nil {
		return ast.Nil, err
	}
	return ast.Nil, in.Display(w, x)
}

// writes prints its arguments after the first, the stream, with strings
// and symbols written raw and lists flattened
func (in *Interp) writes(args ast.Ref) (ast.Ref, error) {
	w, err := in.writerOf(in.Car(args))
	if err != nil {
		return ast.Nil, err
	}
	p := in.NewPrinter(true)
	if err := in.writesTo(p, in.Cdr(args)); err != nil {
		return ast.Nil, err
	}
	_, err = p.WriteTo(w)
	return ast.Nil, err
}

func (in *Interp) writesTo(p *Printer, l ast.Ref) error {
	for ; in.consp(l); l = in.Cdr(l) {
		if err := in.writesTo(p, in.Car(l)); err != nil {
			return err
		}
	}
	switch in.h.Tag(l) {
	case ast.TNil:
		return nil
	case ast.TSymbol:
		p.WriteString(in.h.Cell(l).Name)
		return nil
	}
	return p.Print(l)
}

func (in *Interp) load(fname, cflag, rflag ast.Ref) (ast.Ref, error) {
	path, err := in.getString(fname)
	if err != nil {
		return ast.Nil, err
	}
	return in.Load(path, cflag != ast.Nil, rflag != ast.Nil)
}

func (in *Interp) require(fname ast.Ref) (ast.Ref, error) {
	name, err := in.getString(fname)
	if err != nil {
		return ast.Nil, err
	}
	return in.Require(name)
}

// parseNumber converts the leading number of a string, 0 when there is none
func (in *Interp) parseNumber(x ast.Ref) (ast.Ref, error) {
	s, err := in.getString(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(atof(s)), nil
}

// saveForms writes forms as text, one per line; how is () to create the
// file or a to append
func (in *Interp) saveForms(fname, forms, how ast.Ref) (ast.Ref, error) {
	path, err := in.getString(fname)
	if err != nil {
		return ast.Nil, err
	}
	release := in.h.Protect(&forms, &how)
	defer release()
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	verb := "saving"
	switch {
	case how == ast.Nil:
	case how == in.Intern("a"):
		flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		verb = "appending"
	default:
		return ast.Nil, in.raise(ErrWrongType, how, "bad argument to save-forms")
	}
	in.tracef(3, "%s forms to %s", verb, path)
	p := in.NewPrinter(false)
	for l := forms; in.consp(l); l = in.Cdr(l) {
		if err := p.Print(in.Car(l)); err != nil {
			return ast.Nil, err
		}
		p.WriteString("\n")
	}
	f, err := os.OpenFile(path, flags, 0o666)
	if err != nil {
		return ast.Nil, in.raise(ErrIO, in.String(err.Error()), "could not open %s", path)
	}
	if _, err := p.WriteTo(f); err != nil {
		f.Close()
		return ast.Nil, err
	}
	if err := f.Close(); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "save-forms %s", path)
	}
	in.tracef(3, "done.")
	return in.syms[symT], nil
}
