package eval

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"strconv"

	"siod_go/pkg/ast"
)

// Printer renders values as text. Output is buffered so that an error in
// the middle of a structure writes nothing.
type Printer struct {
	in    *Interp
	buf   bytes.Buffer
	raw   bool
	depth int
}

// NewPrinter returns a printer; raw printers write strings without quotes
func (in *Interp) NewPrinter(raw bool) *Printer {
	return &Printer{in: in, raw: raw}
}

// Interp returns the interpreter the printer belongs to
func (p *Printer) Interp() *Interp { return p.in }

// Raw reports whether strings are printed without quotes
func (p *Printer) Raw() bool { return p.raw }

// WriteString appends s
func (p *Printer) WriteString(s string) { p.buf.WriteString(s) }

// WriteByte appends c
func (p *Printer) WriteByte(c byte) error { return p.buf.WriteByte(c) }

// Printf appends formatted text
func (p *Printer) Printf(format string, args ...interface{}) {
	fmt.Fprintf(&p.buf, format, args...)
}

// String returns everything printed so far
func (p *Printer) String() string { return p.buf.String() }

// WriteTo flushes the buffered text to w
func (p *Printer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(p.buf.Bytes())
	p.buf.Reset()
	if err != nil {
		return int64(n), ErrIO.Wrap(err, "print")
	}
	return int64(n), nil
}

// Print appends the printed representation of x
func (p *Printer) Print(x ast.Ref) error {
	in := p.in
	h := in.h
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > in.stackLimit {
		return in.raise(ErrStackOverflow, ast.Nil, "the currently assigned stack limit has been exceeded")
	}
	if err := in.poll(); err != nil {
		return err
	}
	tag := h.Tag(x)
	switch tag {
	case ast.TNil:
		p.WriteString("()")
	case ast.TCons:
		p.WriteString("(")
		if err := p.Print(h.Cell(x).Car); err != nil {
			return err
		}
		tmp := h.Cell(x).Cdr
		for ; in.consp(tmp); tmp = h.Cell(tmp).Cdr {
			p.WriteString(" ")
			if err := p.Print(h.Cell(tmp).Car); err != nil {
				return err
			}
		}
		if tmp != ast.Nil {
			p.WriteString(" . ")
			if err := p.Print(tmp); err != nil {
				return err
			}
		}
		p.WriteString(")")
	case ast.TFlonum:
		p.WriteString(FormatNumber(h.Cell(x).Num))
	case ast.TSymbol:
		p.WriteString(h.Cell(x).Name)
	case ast.TClosure:
		p.WriteString("#<CLOSURE ")
		code := h.Cell(x).Car
		if in.consp(code) {
			if err := p.Print(h.Cell(code).Car); err != nil {
				return err
			}
			p.WriteString(" ")
			if err := p.Print(h.Cell(code).Cdr); err != nil {
				return err
			}
		} else if err := p.Print(code); err != nil {
			return err
		}
		p.WriteString(">")
	default:
		if ast.IsSubr(tag) {
			p.Printf("#<%s %s>", ast.SubrKindName(tag), h.Cell(x).Subr.Name)
			return nil
		}
		return in.hooks(tag).Print(p, x)
	}
	return nil
}

// FormatNumber prints integral values without a fraction and everything
// else in the shortest form that reads back to the same value
func FormatNumber(x float64) string {
	if x == math.Trunc(x) && math.Abs(x) < 1<<63 {
		return strconv.FormatInt(int64(x), 10)
	}
	return strconv.FormatFloat(x, 'g', -1, 64)
}

// Sprint returns the printed representation of x
func (in *Interp) Sprint(x ast.Ref) (string, error) {
	p := in.NewPrinter(false)
	if err := p.Print(x); err != nil {
		return "", err
	}
	return p.String(), nil
}

// MustSprint is Sprint for diagnostics, returning the error text on failure
func (in *Interp) MustSprint(x ast.Ref) string {
	s, err := in.Sprint(x)
	if err != nil {
		return "#<" + ErrorMessage(err) + ">"
	}
	return s
}

// Prin1 writes the printed representation of x to w
func (in *Interp) Prin1(w io.Writer, x ast.Ref) error {
	p := in.NewPrinter(false)
	if err := p.Print(x); err != nil {
		return err
	}
	_, err := p.WriteTo(w)
	return err
}

// Print writes x followed by a newline when the verbose level is above 0
func (in *Interp) Print(w io.Writer, x ast.Ref) error {
	p := in.NewPrinter(false)
	if err := p.Print(x); err != nil {
		return err
	}
	if in.verbose > 0 {
		p.WriteString("\n")
	}
	_, err := p.WriteTo(w)
	return err
}

// Display writes x with strings unquoted
func (in *Interp) Display(w io.Writer, x ast.Ref) error {
	p := in.NewPrinter(true)
	if err := p.Print(x); err != nil {
		return err
	}
	_, err := p.WriteTo(w)
	return err
}
