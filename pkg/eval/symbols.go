package eval

import (
	"sort"
	"strconv"
	"strings"

	"siod_go/pkg/ast"
)

// hashName is the oblist bucket of a print name
func hashName(name string) int {
	h := 0
	for i := 0; i < len(name); i++ {
		h = ((h * 17) ^ int(name[i])) % obarraySize
	}
	return h
}

// Intern returns the unique symbol with the given name, creating it
// unbound when needed
func (in *Interp) Intern(name string) ast.Ref {
	n := hashName(name)
	for l := in.obarray[n]; l != ast.Nil; l = in.h.Cell(l).Cdr {
		sym := in.h.Cell(l).Car
		if in.h.Cell(sym).Name == name {
			return sym
		}
	}
	sym := in.h.Alloc(ast.TSymbol)
	c := in.h.Cell(sym)
	c.Name = name
	c.Car = in.unbound
	release := in.h.Protect(&sym)
	defer release()
	in.obarray[n] = in.h.Cons(sym, in.obarray[n])
	return sym
}

// Lookup returns the symbol with the given name if it was interned
func (in *Interp) Lookup(name string) (ast.Ref, bool) {
	for l := in.obarray[hashName(name)]; l != ast.Nil; l = in.h.Cell(l).Cdr {
		sym := in.h.Cell(l).Car
		if in.h.Cell(sym).Name == name {
			return sym, true
		}
	}
	return ast.Nil, false
}

// SymbolNames returns the names of all interned symbols, sorted
func (in *Interp) SymbolNames() []string {
	var names []string
	for _, bucket := range in.obarray {
		for l := bucket; l != ast.Nil; l = in.h.Cell(l).Cdr {
			names = append(names, in.h.Cell(in.h.Cell(l).Car).Name)
		}
	}
	sort.Strings(names)
	return names
}

// Gensym returns a fresh symbol not yet in the oblist
func (in *Interp) Gensym(prefix string) ast.Ref {
	if prefix == "" {
		prefix = "g"
	}
	for {
		in.gensym++
		name := prefix + strconv.Itoa(in.gensym)
		if _, ok := in.Lookup(name); !ok {
			return in.Intern(name)
		}
	}
}

// SymbolName returns the print name of a symbol
func (in *Interp) SymbolName(sym ast.Ref) string {
	return in.h.Cell(sym).Name
}

// Global returns the global value of sym and whether it is bound
func (in *Interp) Global(sym ast.Ref) (ast.Ref, bool) {
	v := in.h.Cell(sym).Car
	return v, v != in.unbound
}

// SetGlobal binds a symbol in the global environment
func (in *Interp) SetGlobal(name string, v ast.Ref) {
	release := in.h.Protect(&v)
	defer release()
	sym := in.Intern(name)
	in.setGlobal(sym, v)
}

func (in *Interp) setGlobal(sym, v ast.Ref) {
	in.h.Cell(sym).Car = v
}

// apropos returns the symbols whose names contain every given substring
func (in *Interp) apropos(parts []string) []string {
	var out []string
	for _, name := range in.SymbolNames() {
		match := true
		for _, p := range parts {
			if !strings.Contains(name, p) {
				match = false
				break
			}
		}
		if match {
			out = append(out, name)
		}
	}
	return out
}

func (in *Interp) initSymbolSubrs() {
	in.DefineSubr1("symbol?", func(x ast.Ref) (ast.Ref, error) { return in.Truth(in.h.Tag(x) == ast.TSymbol), nil })
	in.DefineSubr1("intern", in.internSubr)
	in.DefineLsubr("symbolconc", in.symbolconc)
	in.defineOpt("symbol-bound?", 1, in.symbolBound)
	in.defineOpt("symbol-value", 1, in.symbolValue)
	in.defineOpt("set-symbol-value!", 2, in.setVar)
	in.defineOpt("gensym", 0, in.gensymSubr)
	in.DefineLsubr("apropos", in.aproposSubr)
	in.DefineSubr2("env-lookup", in.envLookup)
	in.DefineSubr2("%%closure", in.closureSubr)
	in.DefineSubr1("%%closure-code", in.closureCode)
	in.DefineSubr1("%%closure-env", in.closureEnv)
}

func (in *Interp) internSubr(name ast.Ref) (ast.Ref, error) {
	s, err := in.getString(name)
	if err != nil {
		return ast.Nil, err
	}
	return in.Intern(s), nil
}

func (in *Interp) symbolconc(args ast.Ref) (ast.Ref, error) {
	var sb strings.Builder
	for l := args; l != ast.Nil; l = in.Cdr(l) {
		s := in.Car(l)
		if in.h.Tag(s) != ast.TSymbol {
			return ast.Nil, in.raise(ErrWrongType, s, "wta(non-symbol) to symbolconc")
		}
		sb.WriteString(in.h.Cell(s).Name)
	}
	return in.Intern(sb.String()), nil
}

func (in *Interp) symbolBound(x, env ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TSymbol {
		return ast.Nil, in.raise(ErrWrongType, x, "not a symbol")
	}
	if _, _, ok := in.binding(x, env); ok {
		return in.syms[symT], nil
	}
	_, bound := in.Global(x)
	return in.Truth(bound), nil
}

func (in *Interp) symbolValue(x, env ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TSymbol {
		return ast.Nil, in.raise(ErrWrongType, x, "not a symbol")
	}
	return in.lookupValue(x, env)
}

func (in *Interp) gensymSubr(prefix ast.Ref) (ast.Ref, error) {
	p := ""
	if prefix != ast.Nil {
		var err error
		if p, err = in.getString(prefix); err != nil {
			return ast.Nil, err
		}
	}
	return in.Gensym(p), nil
}

// aproposSubr lists the symbols whose names contain every argument
func (in *Interp) aproposSubr(args ast.Ref) (ast.Ref, error) {
	var parts []string
	for l := args; l != ast.Nil; l = in.Cdr(l) {
		s, err := in.getString(in.Car(l))
		if err != nil {
			return ast.Nil, err
		}
		parts = append(parts, s)
	}
	var syms []ast.Ref
	for _, name := range in.apropos(parts) {
		if sym, ok := in.Lookup(name); ok {
			syms = append(syms, sym)
		}
	}
	return in.List(syms...), nil
}

// envLookup returns the cell whose car holds the binding of sym in env,
// or () when sym is bound only globally
func (in *Interp) envLookup(sym, env ast.Ref) (ast.Ref, error) {
	cell, inCdr, ok := in.binding(sym, env)
	switch {
	case !ok:
		return ast.Nil, nil
	case inCdr:
		return in.h.Cons(in.h.Cell(cell).Cdr, ast.Nil), nil
	}
	return cell, nil
}

func (in *Interp) closureSubr(env, code ast.Ref) (ast.Ref, error) {
	return in.closure(env, code), nil
}

func (in *Interp) closureCode(x ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TClosure {
		return ast.Nil, in.raise(ErrWrongType, x, "not a closure")
	}
	return in.h.Cell(x).Car, nil
}

func (in *Interp) closureEnv(x ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TClosure {
		return ast.Nil, in.raise(ErrWrongType, x, "not a closure")
	}
	return in.h.Cell(x).Cdr, nil
}
