package ast

import (
	"fmt"
)

// Tag represents the type of a Cell
type Tag uint8

// Tag numbers follow the SIOD type codes so that fast-save files keep the
// same opcode bytes.
const (
	TNil Tag = iota
	TCons
	TFlonum
	TSymbol
	TSubr0
	TSubr1
	TSubr2
	TSubr3
	TLsubr
	TFsubr
	TMsubr
	TClosure
	TFreeCell
	TString
	TDoubleArray
	TLongArray
	TLispArray
	TFile
	TByteArray
	TSubr4
	TSubr5
	TSubr2n
)

const (
	// TUserMin is the first tag handed out to host-registered types
	TUserMin Tag = 50
	// TUserMax is the last usable user tag
	TUserMax Tag = 99
	// TableSize is the capacity of the type-hook table
	TableSize = 100
)

// Ref is the index of a cell in the heap arena. The zero Ref is (), which
// is never stored in a cell.
type Ref uint32

// Nil is the empty list
const Nil Ref = 0

// Subr handler signatures, one per calling convention.
type (
	Subr0Fn func() (Ref, error)
	Subr1Fn func(a Ref) (Ref, error)
	Subr2Fn func(a, b Ref) (Ref, error)
	Subr3Fn func(a, b, c Ref) (Ref, error)
	Subr4Fn func(a, b, c, d Ref) (Ref, error)
	Subr5Fn func(a, b, c, d, e Ref) (Ref, error)
	// LsubrFn receives its evaluated arguments as a list
	LsubrFn func(args Ref) (Ref, error)
	// FsubrFn receives the unevaluated argument forms and the environment
	FsubrFn func(args, env Ref) (Ref, error)
	// MsubrFn may rewrite the form and environment in place. When it
	// returns true the evaluator continues with *form in *env, otherwise
	// *form is the result.
	MsubrFn func(form, env *Ref) (bool, error)
)

// Subr describes a native procedure. Exactly one handler matching the
// owning cell's tag is set.
type Subr struct {
	Name string
	// Required is the number of leading arguments that must be supplied.
	// Fixed-arity subrs registered by the host have Required == arity.
	Required int

	F0 Subr0Fn
	F1 Subr1Fn
	F2 Subr2Fn
	F3 Subr3Fn
	F4 Subr4Fn
	F5 Subr5Fn
	FL LsubrFn
	FF FsubrFn
	FM MsubrFn
}

// Cell is the single tagged union for all heap values
type Cell struct {
	Tag Tag

	// Mark is the mark bit under mark-and-sweep and the forwarding flag
	// under the copying collector (Car then holds the new location).
	Mark bool

	// TCons: Car/Cdr
	// TClosure: Car = code (formals . body), Cdr = environment
	// TSymbol: Car = global value cell
	// TFreeCell: Cdr = next free cell
	Car Ref
	Cdr Ref

	// TFlonum
	Num float64

	// TSymbol
	Name string

	// TSubr*
	Subr *Subr

	// Extensible types ([]byte, []float64, []int64, []Ref, files, ...)
	Payload any
}

// Reset zeroes a cell and assigns it a tag
func (c *Cell) Reset(tag Tag) {
	*c = Cell{Tag: tag}
}

// IsSubr reports whether the tag is one of the native procedure kinds
func IsSubr(t Tag) bool {
	switch t {
	case TSubr0, TSubr1, TSubr2, TSubr3, TSubr4, TSubr5, TSubr2n,
		TLsubr, TFsubr, TMsubr:
		return true
	}
	return false
}

// IsBuiltin reports whether the collector handles the tag without hooks
func IsBuiltin(t Tag) bool {
	switch t {
	case TCons, TFlonum, TSymbol, TClosure, TFreeCell:
		return true
	}
	return IsSubr(t)
}

// Arity returns the fixed argument count of a subr kind, or -1 for
// variadic and special kinds.
func Arity(t Tag) int {
	switch t {
	case TSubr0:
		return 0
	case TSubr1:
		return 1
	case TSubr2:
		return 2
	case TSubr3:
		return 3
	case TSubr4:
		return 4
	case TSubr5:
		return 5
	default:
		return -1
	}
}

// SubrKindName returns the printed kind of a subr tag
func SubrKindName(t Tag) string {
	switch t {
	case TSubr0:
		return "subr_0"
	case TSubr1:
		return "subr_1"
	case TSubr2:
		return "subr_2"
	case TSubr2n:
		return "subr_2n"
	case TSubr3:
		return "subr_3"
	case TSubr4:
		return "subr_4"
	case TSubr5:
		return "subr_5"
	case TLsubr:
		return "lsubr"
	case TFsubr:
		return "fsubr"
	case TMsubr:
		return "msubr"
	default:
		return "???"
	}
}

// TagName returns the name of a tag
func TagName(t Tag) string {
	switch t {
	case TNil:
		return "NIL"
	case TCons:
		return "CONS"
	case TFlonum:
		return "FLONUM"
	case TSymbol:
		return "SYMBOL"
	case TClosure:
		return "CLOSURE"
	case TFreeCell:
		return "FREE"
	case TString:
		return "STRING"
	case TDoubleArray:
		return "DOUBLE-ARRAY"
	case TLongArray:
		return "LONG-ARRAY"
	case TLispArray:
		return "LISP-ARRAY"
	case TFile:
		return "FILE"
	case TByteArray:
		return "BYTE-ARRAY"
	}
	if IsSubr(t) {
		return "SUBR"
	}
	return fmt.Sprintf("UNKNOWN(%d)", t)
}
