package eval

import (
	"siod_go/pkg/ast"
)

// Evaluator
//
// Eval is a trampoline: special forms implemented as msubrs, closure
// bodies and macro expansions replace the current form and environment and
// loop instead of recursing, so sequencing, conditionals and tail calls run
// in constant Go stack. Argument evaluation recurses and counts against the
// depth limit.
//
// An environment is a list of frames. A frame is a pair
// (formals . actuals); formals may end in a symbol that binds the remaining
// actuals. The global environment is the value cell of each symbol.
//
// Every Ref the loop keeps across an allocation lives in a protected local.

// Eval evaluates x in env
func (in *Interp) Eval(x, env ast.Ref) (ast.Ref, error) {
	in.depth++
	defer func() { in.depth-- }()
	if in.depth > in.stackLimit {
		return ast.Nil, in.raise(ErrStackOverflow, ast.Nil, "the currently assigned stack limit has been exceeded")
	}

	var fn, args ast.Ref
	var a [5]ast.Ref
	release := in.h.Protect(&x, &env, &fn, &args, &a[0], &a[1], &a[2], &a[3], &a[4])
	defer release()

	h := in.h
	for {
		if err := in.poll(); err != nil {
			return ast.Nil, err
		}
		switch h.Tag(x) {
		case ast.TSymbol:
			return in.lookupValue(x, env)
		case ast.TCons:
		default:
			return x, nil
		}
		in.recordHistory(x)

		var err error
		head := h.Cell(x).Car
		switch h.Tag(head) {
		case ast.TSymbol:
			fn, err = in.lookupValue(head, env)
		case ast.TCons:
			fn, err = in.Eval(head, env)
		default:
			fn = head
		}
		if err != nil {
			return ast.Nil, err
		}

		tag := h.Tag(fn)
		switch tag {
		case ast.TSubr0, ast.TSubr1, ast.TSubr2, ast.TSubr3, ast.TSubr4, ast.TSubr5:
			s := h.Cell(fn).Subr
			args = h.Cell(x).Cdr
			if err := in.checkArity(fn, s, ast.Arity(tag), in.listLen(args)); err != nil {
				return ast.Nil, err
			}
			a = [5]ast.Ref{}
			for i := 0; in.consp(args); i++ {
				if a[i], err = in.Eval(h.Cell(args).Car, env); err != nil {
					return ast.Nil, err
				}
				args = h.Cell(args).Cdr
			}
			return callSubr(s, tag, &a)

		case ast.TSubr2n:
			s := h.Cell(fn).Subr
			args = h.Cell(x).Cdr
			if !in.consp(args) {
				return s.F2(ast.Nil, ast.Nil)
			}
			if a[0], err = in.Eval(h.Cell(args).Car, env); err != nil {
				return ast.Nil, err
			}
			args = h.Cell(args).Cdr
			if !in.consp(args) {
				return s.F2(a[0], ast.Nil)
			}
			for in.consp(args) {
				if a[1], err = in.Eval(h.Cell(args).Car, env); err != nil {
					return ast.Nil, err
				}
				if a[0], err = s.F2(a[0], a[1]); err != nil {
					return ast.Nil, err
				}
				args = h.Cell(args).Cdr
			}
			return a[0], nil

		case ast.TLsubr:
			if args, err = in.evalArgs(h.Cell(x).Cdr, env); err != nil {
				return ast.Nil, err
			}
			return h.Cell(fn).Subr.FL(args)

		case ast.TFsubr:
			return h.Cell(fn).Subr.FF(h.Cell(x).Cdr, env)

		case ast.TMsubr:
			cont, err := h.Cell(fn).Subr.FM(&x, &env)
			if err != nil {
				return ast.Nil, err
			}
			if !cont {
				return x, nil
			}

		case ast.TClosure:
			if args, err = in.evalArgs(h.Cell(x).Cdr, env); err != nil {
				return ast.Nil, err
			}
			code := h.Cell(fn).Car
			if !in.consp(code) {
				return in.applyClosureSubr(fn, args)
			}
			if env, err = in.extendEnv(args, h.Cell(code).Car, h.Cell(fn).Cdr); err != nil {
				return ast.Nil, err
			}
			x = h.Cell(h.Cell(fn).Car).Cdr

		case ast.TSymbol:
			// a symbol in function position names a macro: (fn 'form)
			// returns the replacement form
			quoted := in.List(in.syms[symQuote], x)
			call := in.List(fn, quoted)
			if x, err = in.Eval(call, ast.Nil); err != nil {
				return ast.Nil, err
			}

		default:
			hooks, ok := in.hooks(tag).(EvalHook)
			if !ok {
				return ast.Nil, in.raise(ErrWrongType, fn, "bad function")
			}
			cont, err := hooks.Eval(in, fn, &x, &env)
			if err != nil {
				return ast.Nil, err
			}
			if !cont {
				return x, nil
			}
		}
	}
}

// Apply calls fn with an argument list
func (in *Interp) Apply(fn, args ast.Ref) (ast.Ref, error) {
	in.depth++
	defer func() { in.depth-- }()
	if in.depth > in.stackLimit {
		return ast.Nil, in.raise(ErrStackOverflow, ast.Nil, "the currently assigned stack limit has been exceeded")
	}
	var acc ast.Ref
	release := in.h.Protect(&fn, &args, &acc)
	defer release()

	h := in.h
	tag := h.Tag(fn)
	switch tag {
	case ast.TSubr0, ast.TSubr1, ast.TSubr2, ast.TSubr3, ast.TSubr4, ast.TSubr5:
		s := h.Cell(fn).Subr
		if err := in.checkArity(fn, s, ast.Arity(tag), in.listLen(args)); err != nil {
			return ast.Nil, err
		}
		var a [5]ast.Ref
		for i, l := 0, args; in.consp(l); i, l = i+1, h.Cell(l).Cdr {
			a[i] = h.Cell(l).Car
		}
		return callSubr(s, tag, &a)

	case ast.TSubr2n:
		s := h.Cell(fn).Subr
		switch in.listLen(args) {
		case 0:
			return s.F2(ast.Nil, ast.Nil)
		case 1:
			return s.F2(h.Cell(args).Car, ast.Nil)
		}
		acc = h.Cell(args).Car
		var err error
		for args = h.Cell(args).Cdr; in.consp(args); args = h.Cell(args).Cdr {
			if acc, err = s.F2(acc, h.Cell(args).Car); err != nil {
				return ast.Nil, err
			}
		}
		return acc, nil

	case ast.TLsubr:
		return h.Cell(fn).Subr.FL(args)

	case ast.TFsubr, ast.TMsubr, ast.TSymbol:
		return ast.Nil, in.raise(ErrWrongType, fn, "cannot be applied")

	case ast.TClosure:
		code := h.Cell(fn).Car
		if !in.consp(code) {
			return in.applyClosureSubr(fn, args)
		}
		env, err := in.extendEnv(args, h.Cell(code).Car, h.Cell(fn).Cdr)
		if err != nil {
			return ast.Nil, err
		}
		return in.Eval(h.Cell(h.Cell(fn).Car).Cdr, env)
	}
	if _, ok := in.hooks(tag).(EvalHook); ok {
		return ast.Nil, in.raise(ErrWrongType, fn, "have eval, dont know apply")
	}
	return ast.Nil, in.raise(ErrWrongType, fn, "cannot be applied")
}

// applyClosureSubr calls a closure whose code is a subr; the closure
// environment is passed as the first argument
func (in *Interp) applyClosureSubr(fn, args ast.Ref) (ast.Ref, error) {
	c := in.h.Cell(fn)
	code, env := c.Car, c.Cdr
	if !ast.IsSubr(in.h.Tag(code)) {
		return ast.Nil, in.raise(ErrWrongType, fn, "closure code type not valid")
	}
	release := in.h.Protect(&code)
	defer release()
	full := in.h.Cons(env, args)
	return in.Apply(code, full)
}

// checkArity enforces the argument count of a fixed-arity subr
func (in *Interp) checkArity(fn ast.Ref, s *ast.Subr, arity, n int) error {
	if n < s.Required || n > arity {
		return in.raise(ErrWrongArity, fn, "wrong number of arguments to %s", s.Name)
	}
	return nil
}

func callSubr(s *ast.Subr, tag ast.Tag, a *[5]ast.Ref) (ast.Ref, error) {
	switch tag {
	case ast.TSubr0:
		return s.F0()
	case ast.TSubr1:
		return s.F1(a[0])
	case ast.TSubr2:
		return s.F2(a[0], a[1])
	case ast.TSubr3:
		return s.F3(a[0], a[1], a[2])
	case ast.TSubr4:
		return s.F4(a[0], a[1], a[2], a[3])
	default:
		return s.F5(a[0], a[1], a[2], a[3], a[4])
	}
}

// evalArgs evaluates a list of forms left to right into a fresh list
func (in *Interp) evalArgs(forms, env ast.Ref) (ast.Ref, error) {
	if forms == ast.Nil {
		return ast.Nil, nil
	}
	release := in.h.Protect(&forms, &env)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for in.consp(forms) {
		v, err := in.Eval(in.h.Cell(forms).Car, env)
		if err != nil {
			return ast.Nil, err
		}
		b.add(v)
		forms = in.h.Cell(forms).Cdr
	}
	if forms != ast.Nil {
		return ast.Nil, in.raise(ErrBadSyntax, forms, "bad syntax argument list")
	}
	return b.head, nil
}

// extendEnv pushes a frame binding formals to actuals. The number of
// actuals must match the formals exactly unless the formals end in a rest
// symbol.
func (in *Interp) extendEnv(actuals, formals, env ast.Ref) (ast.Ref, error) {
	f, a := formals, actuals
	for in.consp(f) {
		if !in.consp(a) {
			return ast.Nil, in.raise(ErrWrongArity, formals, "too few arguments")
		}
		f, a = in.h.Cell(f).Cdr, in.h.Cell(a).Cdr
	}
	if f == ast.Nil && a != ast.Nil {
		return ast.Nil, in.raise(ErrWrongArity, formals, "too many arguments")
	}
	release := in.h.Protect(&env)
	defer release()
	frame := in.h.Cons(formals, actuals)
	return in.h.Cons(frame, env), nil
}

// binding locates sym in the frames of env. It returns the cell holding the
// value, in its car for a positional formal or in its cdr for a rest
// formal.
func (in *Interp) binding(sym, env ast.Ref) (cell ast.Ref, inCdr, found bool) {
	h := in.h
	for frame := env; in.consp(frame); frame = h.Cell(frame).Cdr {
		f := h.Cell(frame).Car
		if !in.consp(f) {
			continue
		}
		holder := f
		fl, al := h.Cell(f).Car, h.Cell(f).Cdr
		for in.consp(fl) && in.consp(al) {
			if h.Cell(fl).Car == sym {
				return al, false, true
			}
			holder = al
			fl, al = h.Cell(fl).Cdr, h.Cell(al).Cdr
		}
		if fl == sym && fl != ast.Nil {
			return holder, true, true
		}
	}
	return ast.Nil, false, false
}

// lookupValue returns the value of sym in env or the global environment
func (in *Interp) lookupValue(sym, env ast.Ref) (ast.Ref, error) {
	if cell, inCdr, ok := in.binding(sym, env); ok {
		if inCdr {
			return in.h.Cell(cell).Cdr, nil
		}
		return in.h.Cell(cell).Car, nil
	}
	v := in.h.Cell(sym).Car
	if v == in.unbound {
		return ast.Nil, in.raise(ErrUnboundVariable, sym, "unbound variable")
	}
	return v, nil
}

// setVar assigns the innermost binding of sym, or its global value
func (in *Interp) setVar(sym, val, env ast.Ref) (ast.Ref, error) {
	if in.h.Tag(sym) != ast.TSymbol {
		return ast.Nil, in.raise(ErrWrongType, sym, "wta(non-symbol) to setvar")
	}
	if cell, inCdr, ok := in.binding(sym, env); ok {
		if inCdr {
			in.setCdr(cell, val)
		} else {
			in.setCar(cell, val)
		}
		return val, nil
	}
	in.setGlobal(sym, val)
	return val, nil
}

// closure allocates a closure over env
func (in *Interp) closure(env, code ast.Ref) ast.Ref {
	release := in.h.Protect(&env, &code)
	defer release()
	r := in.h.Alloc(ast.TClosure)
	c := in.h.Cell(r)
	c.Car = code
	c.Cdr = env
	return r
}

// recordHistory stores x in the eval history ring, if one is set
func (in *Interp) recordHistory(x ast.Ref) {
	sym := in.syms[symEvalHistory]
	ptr := in.h.Cell(sym).Car
	if in.consp(ptr) {
		in.setCar(ptr, x)
		in.setGlobal(sym, in.h.Cell(ptr).Cdr)
	}
}
