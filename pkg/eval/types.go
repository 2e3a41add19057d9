package eval

import (
	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

// Extensible types
//
// memory.TypeHooks covers what the collectors need. The interpreter adds
// printing, hashing, equality, the fast binary format and a type name.
// Types that may appear in function position also implement EvalHook.
// Strings, the four array kinds and files are registered through the same
// mechanism a host uses for its own types.

// TypeHooks is the full hook set of an extensible type
type TypeHooks interface {
	memory.TypeHooks
	// Name is the typeof symbol, such as "tc_string". Types without a name
	// report their tag number.
	Name() string
	Print(p *Printer, r ast.Ref) error
	// Hash returns a value in [0, n)
	Hash(in *Interp, r ast.Ref, n uint64) uint64
	// Equal compares two values of this type that are not eq
	Equal(in *Interp, a, b ast.Ref) bool
	// FastPrint writes r to the binary format; it must not allocate
	FastPrint(fw *FastWriter, r ast.Ref) error
	// FastRead reads a value whose opcode (the type tag) was just consumed
	FastRead(fr *FastReader, code byte) (ast.Ref, error)
}

// EvalHook lets values of a type be called. It has msubr semantics: a
// true result continues evaluation with *form in *env.
type EvalHook interface {
	Eval(in *Interp, fn ast.Ref, form, env *ast.Ref) (bool, error)
}

// DefaultHooks gives every hook its default: copied by the collector, no
// references, printed as #<UNKNOWN ...>, hash 0, never equal, not
// fast-printable
type DefaultHooks struct {
	memory.DefaultHooks
}

func (DefaultHooks) Name() string { return "" }

func (DefaultHooks) Print(p *Printer, r ast.Ref) error {
	p.Printf("#<UNKNOWN %d %d>", p.in.h.Tag(r), r)
	return nil
}

func (DefaultHooks) Hash(in *Interp, r ast.Ref, n uint64) uint64 { return 0 }

func (DefaultHooks) Equal(in *Interp, a, b ast.Ref) bool { return false }

func (DefaultHooks) FastPrint(fw *FastWriter, r ast.Ref) error {
	return fw.in.raise(ErrWrongType, r, "cannot fast-print")
}

func (DefaultHooks) FastRead(fr *FastReader, code byte) (ast.Ref, error) {
	return ast.Nil, fr.in.raise(ErrIO, ast.Nil, "unknown fast-read opcode %d", code)
}

// hooks returns the interpreter hooks of tag
func (in *Interp) hooks(tag ast.Tag) TypeHooks {
	if th, ok := in.h.Types().Lookup(tag).(TypeHooks); ok {
		return th
	}
	return DefaultHooks{}
}

// RegisterType reserves a new tag and installs its hooks
func (in *Interp) RegisterType(hooks TypeHooks) (ast.Tag, error) {
	tag, err := in.h.Types().Allocate()
	if err != nil {
		return 0, err
	}
	if err := in.h.Types().Set(tag, hooks); err != nil {
		return 0, err
	}
	return tag, nil
}

// SetTypeHooks replaces the hooks of an existing tag
func (in *Interp) SetTypeHooks(tag ast.Tag, hooks TypeHooks) error {
	return in.h.Types().Set(tag, hooks)
}

// NewCell allocates a cell of a registered type holding payload
func (in *Interp) NewCell(tag ast.Tag, payload any) ast.Ref {
	r := in.h.Alloc(tag)
	in.h.Cell(r).Payload = payload
	return r
}

// Payload returns the payload of a cell
func (in *Interp) Payload(r ast.Ref) any { return in.h.Cell(r).Payload }

func (in *Interp) registerBuiltinTypes() {
	types := in.h.Types()
	types.Set(ast.TString, stringHooks{})
	types.Set(ast.TByteArray, byteArrayHooks{})
	types.Set(ast.TDoubleArray, doubleArrayHooks{})
	types.Set(ast.TLongArray, longArrayHooks{})
	types.Set(ast.TLispArray, lispArrayHooks{})
	types.Set(ast.TFile, fileHooks{})
}

// builtinTypeName is the typeof symbol of the tags the collector handles
func builtinTypeName(tag ast.Tag) string {
	switch tag {
	case ast.TNil:
		return "tc_nil"
	case ast.TCons:
		return "tc_cons"
	case ast.TFlonum:
		return "tc_flonum"
	case ast.TSymbol:
		return "tc_symbol"
	case ast.TSubr0:
		return "tc_subr_0"
	case ast.TSubr1:
		return "tc_subr_1"
	case ast.TSubr2:
		return "tc_subr_2"
	case ast.TSubr2n:
		return "tc_subr_2n"
	case ast.TSubr3:
		return "tc_subr_3"
	case ast.TSubr4:
		return "tc_subr_4"
	case ast.TSubr5:
		return "tc_subr_5"
	case ast.TLsubr:
		return "tc_lsubr"
	case ast.TFsubr:
		return "tc_fsubr"
	case ast.TMsubr:
		return "tc_msubr"
	case ast.TClosure:
		return "tc_closure"
	case ast.TFreeCell:
		return "tc_free_cell"
	}
	return ""
}

// typeName returns the typeof symbol name of x
func (in *Interp) typeName(x ast.Ref) string {
	tag := in.h.Tag(x)
	if name := builtinTypeName(tag); name != "" {
		return name
	}
	return in.hooks(tag).Name()
}

// hashCombine mixes h2 into h1 modulo n
func hashCombine(h1, h2, n uint64) uint64 {
	return ((h1*17 + 1) ^ h2) % n
}

// Sxhash hashes x into [0, n). Values that are equal hash alike.
func (in *Interp) Sxhash(x ast.Ref, n uint64) uint64 {
	if n == 0 {
		n = 1
	}
	h := in.h
	switch h.Tag(x) {
	case ast.TNil:
		return 0
	case ast.TCons:
		hash := in.Sxhash(h.Cell(x).Car, n)
		tmp := h.Cell(x).Cdr
		for ; in.consp(tmp); tmp = h.Cell(tmp).Cdr {
			hash = hashCombine(hash, in.Sxhash(h.Cell(tmp).Car, n), n)
		}
		return hashCombine(hash, in.Sxhash(tmp, n), n)
	case ast.TSymbol:
		return hashBytes(h.Cell(x).Name, n)
	case ast.TFlonum:
		return uint64(h.Cell(x).Num) % n
	case ast.TClosure:
		return 0
	}
	if ast.IsSubr(h.Tag(x)) {
		return hashBytes(h.Cell(x).Subr.Name, n)
	}
	return in.hooks(h.Tag(x)).Hash(in, x, n)
}

func hashBytes(s string, n uint64) uint64 {
	var hash uint64
	for i := 0; i < len(s); i++ {
		hash = hashCombine(hash, uint64(s[i]), n)
	}
	return hash
}

// Equal is structural equality: eq objects, numbers of equal value, and
// conses or arrays with equal elements
func (in *Interp) Equal(a, b ast.Ref) bool {
	h := in.h
	for {
		if a == b {
			return true
		}
		tag := h.Tag(a)
		if tag != h.Tag(b) {
			return false
		}
		switch tag {
		case ast.TCons:
			if !in.Equal(h.Cell(a).Car, h.Cell(b).Car) {
				return false
			}
			a, b = h.Cell(a).Cdr, h.Cell(b).Cdr
		case ast.TFlonum:
			return h.Cell(a).Num == h.Cell(b).Num
		case ast.TSymbol, ast.TClosure, ast.TNil:
			return false
		default:
			if ast.IsSubr(tag) {
				return false
			}
			return in.hooks(tag).Equal(in, a, b)
		}
	}
}
