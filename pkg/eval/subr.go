package eval

import (
	"fmt"

	"siod_go/pkg/ast"
)

// Native procedure registration
//
// Each Define* call allocates a subr cell and makes it the global value of
// the named symbol. Fixed-arity subrs receive exactly the declared number
// of arguments; defineOpt registers one whose trailing arguments may be
// omitted and arrive as ().

func (in *Interp) defineSubr(name string, tag ast.Tag, s *ast.Subr) ast.Ref {
	s.Name = name
	sym := in.Intern(name)
	release := in.h.Protect(&sym)
	defer release()
	r := in.h.Alloc(tag)
	in.h.Cell(r).Subr = s
	in.setGlobal(sym, r)
	return r
}

// DefineSubr0 registers a procedure of no arguments
func (in *Interp) DefineSubr0(name string, fn ast.Subr0Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr0, &ast.Subr{F0: fn})
}

// DefineSubr1 registers a procedure of one argument
func (in *Interp) DefineSubr1(name string, fn ast.Subr1Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr1, &ast.Subr{Required: 1, F1: fn})
}

// DefineSubr2 registers a procedure of two arguments
func (in *Interp) DefineSubr2(name string, fn ast.Subr2Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr2, &ast.Subr{Required: 2, F2: fn})
}

// DefineSubr3 registers a procedure of three arguments
func (in *Interp) DefineSubr3(name string, fn ast.Subr3Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr3, &ast.Subr{Required: 3, F3: fn})
}

// DefineSubr4 registers a procedure of four arguments
func (in *Interp) DefineSubr4(name string, fn ast.Subr4Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr4, &ast.Subr{Required: 4, F4: fn})
}

// DefineSubr5 registers a procedure of five arguments
func (in *Interp) DefineSubr5(name string, fn ast.Subr5Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr5, &ast.Subr{Required: 5, F5: fn})
}

// DefineSubr2n registers a binary operator folded left over any number of
// arguments. (op) calls fn((), ()) and (op x) calls fn(x, ()).
func (in *Interp) DefineSubr2n(name string, fn ast.Subr2Fn) ast.Ref {
	return in.defineSubr(name, ast.TSubr2n, &ast.Subr{F2: fn})
}

// DefineLsubr registers a procedure receiving its evaluated arguments as a
// list
func (in *Interp) DefineLsubr(name string, fn ast.LsubrFn) ast.Ref {
	return in.defineSubr(name, ast.TLsubr, &ast.Subr{FL: fn})
}

// DefineFsubr registers a special form receiving unevaluated arguments and
// the environment
func (in *Interp) DefineFsubr(name string, fn ast.FsubrFn) ast.Ref {
	return in.defineSubr(name, ast.TFsubr, &ast.Subr{FF: fn})
}

// DefineMsubr registers a special form that may continue evaluation with a
// rewritten form
func (in *Interp) DefineMsubr(name string, fn ast.MsubrFn) ast.Ref {
	return in.defineSubr(name, ast.TMsubr, &ast.Subr{FM: fn})
}

// defineOpt registers a fixed-arity subr whose arguments after the first
// required may be omitted
func (in *Interp) defineOpt(name string, required int, fn interface{}) ast.Ref {
	s := &ast.Subr{Required: required}
	var tag ast.Tag
	switch f := fn.(type) {
	case func(ast.Ref) (ast.Ref, error):
		s.F1, tag = f, ast.TSubr1
	case func(ast.Ref, ast.Ref) (ast.Ref, error):
		s.F2, tag = f, ast.TSubr2
	case func(ast.Ref, ast.Ref, ast.Ref) (ast.Ref, error):
		s.F3, tag = f, ast.TSubr3
	case func(ast.Ref, ast.Ref, ast.Ref, ast.Ref) (ast.Ref, error):
		s.F4, tag = f, ast.TSubr4
	case func(ast.Ref, ast.Ref, ast.Ref, ast.Ref, ast.Ref) (ast.Ref, error):
		s.F5, tag = f, ast.TSubr5
	default:
		panic(fmt.Sprintf("defineOpt %s: unsupported handler %T", name, fn))
	}
	return in.defineSubr(name, tag, s)
}

// initSubrs installs the built-in procedures and special forms
func (in *Interp) initSubrs() {
	in.initSpecialForms()
	in.initControl()
	in.initListSubrs()
	in.initNumberSubrs()
	in.initSymbolSubrs()
	in.initArraySubrs()
	in.initStringSubrs()
	in.initIOSubrs()
	in.initFileSubrs()
	in.initFastSubrs()
	in.initSystemSubrs()
}
