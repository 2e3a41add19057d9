package eval

import (
	"siod_go/pkg/ast"
)

// Cell constructors and accessors shared by the evaluator and primitives.
// Anything returning a fresh Ref may collect; callers protect what they
// hold across it.

// Cons allocates a pair
func (in *Interp) Cons(car, cdr ast.Ref) ast.Ref { return in.h.Cons(car, cdr) }

// Number returns a flonum
func (in *Interp) Number(x float64) ast.Ref { return in.h.Flonum(x) }

// String allocates a string
func (in *Interp) String(s string) ast.Ref {
	r := in.h.Alloc(ast.TString)
	in.h.Cell(r).Payload = []byte(s)
	return r
}

// Bytes allocates a string holding a copy of b
func (in *Interp) Bytes(b []byte) ast.Ref {
	r := in.h.Alloc(ast.TString)
	in.h.Cell(r).Payload = append([]byte(nil), b...)
	return r
}

// List builds a proper list of items
func (in *Interp) List(items ...ast.Ref) ast.Ref {
	locs := make([]*ast.Ref, len(items)+1)
	for i := range items {
		locs[i] = &items[i]
	}
	l := ast.Nil
	locs[len(items)] = &l
	release := in.h.Protect(locs...)
	defer release()
	for i := len(items) - 1; i >= 0; i-- {
		l = in.h.Cons(items[i], l)
	}
	return l
}

// Tag returns the tag of x
func (in *Interp) Tag(x ast.Ref) ast.Tag { return in.h.Tag(x) }

// Car returns the car of a pair, or () for anything else
func (in *Interp) Car(x ast.Ref) ast.Ref {
	if in.h.Tag(x) != ast.TCons {
		return ast.Nil
	}
	return in.h.Cell(x).Car
}

// Cdr returns the cdr of a pair, or () for anything else
func (in *Interp) Cdr(x ast.Ref) ast.Ref {
	if in.h.Tag(x) != ast.TCons {
		return ast.Nil
	}
	return in.h.Cell(x).Cdr
}

func (in *Interp) cadr(x ast.Ref) ast.Ref  { return in.Car(in.Cdr(x)) }
func (in *Interp) cddr(x ast.Ref) ast.Ref  { return in.Cdr(in.Cdr(x)) }
func (in *Interp) caddr(x ast.Ref) ast.Ref { return in.Car(in.cddr(x)) }

func (in *Interp) setCar(x, v ast.Ref) { in.h.Cell(x).Car = v }
func (in *Interp) setCdr(x, v ast.Ref) { in.h.Cell(x).Cdr = v }

func (in *Interp) consp(x ast.Ref) bool { return in.h.Tag(x) == ast.TCons }

// Num returns the value of a flonum
func (in *Interp) Num(x ast.Ref) float64 { return in.h.Cell(x).Num }

// Str returns the contents of a string
func (in *Interp) Str(x ast.Ref) string { return string(in.h.Cell(x).Payload.([]byte)) }

// listLen counts the pairs of x; an improper tail is ignored
func (in *Interp) listLen(x ast.Ref) int {
	n := 0
	for ; in.consp(x); x = in.h.Cell(x).Cdr {
		n++
	}
	return n
}

// ListSlice copies the elements of a list. The Refs are only valid until
// the next allocation unless protected.
func (in *Interp) ListSlice(x ast.Ref) []ast.Ref {
	var out []ast.Ref
	for ; in.consp(x); x = in.h.Cell(x).Cdr {
		out = append(out, in.h.Cell(x).Car)
	}
	return out
}

// listBuilder appends to a list in order. Callers defer release and
// read head when finished.
type listBuilder struct {
	in         *Interp
	head, tail ast.Ref
	release    func()
}

func (in *Interp) newListBuilder() *listBuilder {
	b := &listBuilder{in: in}
	b.release = in.h.Protect(&b.head, &b.tail)
	return b
}

func (b *listBuilder) add(x ast.Ref) {
	c := b.in.h.Cons(x, ast.Nil)
	if b.head == ast.Nil {
		b.head = c
	} else {
		b.in.setCdr(b.tail, c)
	}
	b.tail = c
}

// getNumber returns the value of a flonum argument
func (in *Interp) getNumber(x ast.Ref) (float64, error) {
	if in.h.Tag(x) != ast.TFlonum {
		return 0, in.raise(ErrWrongType, x, "not a number")
	}
	return in.h.Cell(x).Num, nil
}

// getLong returns a flonum argument truncated to an integer
func (in *Interp) getLong(x ast.Ref) (int64, error) {
	v, err := in.getNumber(x)
	return int64(v), err
}

// getString returns the text of a string, byte array or symbol argument
func (in *Interp) getString(x ast.Ref) (string, error) {
	switch in.h.Tag(x) {
	case ast.TSymbol:
		return in.h.Cell(x).Name, nil
	case ast.TString, ast.TByteArray:
		return string(in.h.Cell(x).Payload.([]byte)), nil
	}
	return "", in.raise(ErrWrongType, x, "not a symbol or string")
}

// getBytes returns the storage of a string or byte array without copying
func (in *Interp) getBytes(x ast.Ref) ([]byte, error) {
	switch in.h.Tag(x) {
	case ast.TString, ast.TByteArray:
		return in.h.Cell(x).Payload.([]byte), nil
	case ast.TSymbol:
		return []byte(in.h.Cell(x).Name), nil
	}
	return nil, in.raise(ErrWrongType, x, "not a symbol or string")
}
