package eval

import (
	"siod_go/pkg/ast"
)

// Special forms. Fsubrs get their argument forms unevaluated; msubrs
// rewrite the form in place and let the evaluator continue with it, which
// keeps tail positions inside the trampoline.

func (in *Interp) initSpecialForms() {
	in.DefineFsubr("quote", in.quoteForm)
	in.DefineFsubr("define", in.defineForm)
	in.DefineFsubr("lambda", in.lambdaForm)
	in.DefineFsubr("set!", in.setForm)
	in.DefineFsubr("while", in.whileForm)
	in.DefineFsubr("prog1", in.prog1Form)
	in.DefineFsubr("the-environment", in.environmentForm)
	in.DefineFsubr("quasiquote", in.quasiquoteForm)
	in.DefineMsubr("if", in.ifForm)
	in.DefineMsubr("begin", in.beginForm)
	in.DefineMsubr("and", in.andForm)
	in.DefineMsubr("or", in.orForm)
	in.DefineMsubr("cond", in.condForm)
	in.DefineMsubr("let-internal", in.letInternalForm)

	in.DefineSubr1("let-internal-macro", in.letMacro)
	in.DefineSubr1("let*-macro", in.letStarMacro)
	in.DefineSubr1("letrec-macro", in.letrecMacro)
	in.setGlobal(in.syms[symLet], in.Intern("let-internal-macro"))
	in.setGlobal(in.syms[symLetStar], in.Intern("let*-macro"))
	in.SetGlobal("letrec", in.Intern("letrec-macro"))
}

func (in *Interp) quoteForm(args, env ast.Ref) (ast.Ref, error) {
	return in.Car(args), nil
}

// syntaxDefine turns (define (f . formals) body...) into
// (define f (lambda formals body...))
func (in *Interp) syntaxDefine(args ast.Ref) ast.Ref {
	release := in.h.Protect(&args)
	defer release()
	for in.consp(in.Car(args)) {
		tail := in.h.Cons(in.Cdr(in.Car(args)), in.Cdr(args))
		lambda := in.h.Cons(in.syms[symLambda], tail)
		args = in.List(in.Car(in.Car(args)), lambda)
	}
	return args
}

func (in *Interp) defineForm(args, env ast.Ref) (ast.Ref, error) {
	var sym, val ast.Ref
	release := in.h.Protect(&args, &env, &sym, &val)
	defer release()
	args = in.syntaxDefine(args)
	sym = in.Car(args)
	if in.h.Tag(sym) != ast.TSymbol {
		return ast.Nil, in.raise(ErrBadSyntax, sym, "wta(non-symbol) to define")
	}
	var err error
	if val, err = in.Eval(in.cadr(args), env); err != nil {
		return ast.Nil, err
	}
	if cell, inCdr, ok := in.binding(sym, env); ok {
		if inCdr {
			in.setCdr(cell, val)
		} else {
			in.setCar(cell, val)
		}
		return val, nil
	}
	if env == ast.Nil {
		in.setGlobal(sym, val)
		return val, nil
	}
	// add the binding to the innermost frame
	formals := in.h.Cons(sym, in.Car(in.Car(env)))
	in.setCar(in.Car(env), formals)
	actuals := in.h.Cons(val, in.Cdr(in.Car(env)))
	in.setCdr(in.Car(env), actuals)
	return val, nil
}

func (in *Interp) lambdaForm(args, env ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&args, &env)
	defer release()
	var body ast.Ref
	if in.cddr(args) == ast.Nil {
		body = in.cadr(args)
	} else {
		body = in.h.Cons(in.syms[symBegin], in.Cdr(args))
	}
	code := in.h.Cons(in.Car(args), body)
	return in.closure(env, code), nil
}

func (in *Interp) setForm(args, env ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&args, &env)
	defer release()
	val, err := in.Eval(in.cadr(args), env)
	if err != nil {
		return ast.Nil, err
	}
	return in.setVar(in.Car(args), val, env)
}

func (in *Interp) whileForm(args, env ast.Ref) (ast.Ref, error) {
	var l ast.Ref
	release := in.h.Protect(&args, &env, &l)
	defer release()
	for {
		test, err := in.Eval(in.Car(args), env)
		if err != nil {
			return ast.Nil, err
		}
		if test == ast.Nil {
			return ast.Nil, nil
		}
		for l = in.Cdr(args); l != ast.Nil; l = in.Cdr(l) {
			if _, err := in.Eval(in.Car(l), env); err != nil {
				return ast.Nil, err
			}
		}
	}
}

func (in *Interp) prog1Form(args, env ast.Ref) (ast.Ref, error) {
	var ret, l ast.Ref
	release := in.h.Protect(&args, &env, &ret, &l)
	defer release()
	var err error
	if ret, err = in.Eval(in.Car(args), env); err != nil {
		return ast.Nil, err
	}
	for l = in.Cdr(args); l != ast.Nil; l = in.Cdr(l) {
		if _, err := in.Eval(in.Car(l), env); err != nil {
			return ast.Nil, err
		}
	}
	return ret, nil
}

func (in *Interp) environmentForm(args, env ast.Ref) (ast.Ref, error) {
	return env, nil
}

func (in *Interp) ifForm(form, env *ast.Ref) (bool, error) {
	args := in.Cdr(*form)
	test, err := in.Eval(in.Car(args), *env)
	if err != nil {
		return false, err
	}
	args = in.Cdr(*form)
	if test != ast.Nil {
		*form = in.cadr(args)
	} else {
		*form = in.caddr(args)
	}
	return true, nil
}

func (in *Interp) beginForm(form, env *ast.Ref) (bool, error) {
	l := in.Cdr(*form)
	release := in.h.Protect(&l)
	defer release()
	for in.Cdr(l) != ast.Nil {
		if _, err := in.Eval(in.Car(l), *env); err != nil {
			return false, err
		}
		l = in.Cdr(l)
	}
	*form = in.Car(l)
	return true, nil
}

func (in *Interp) orForm(form, env *ast.Ref) (bool, error) {
	l := in.Cdr(*form)
	release := in.h.Protect(&l)
	defer release()
	for in.Cdr(l) != ast.Nil {
		val, err := in.Eval(in.Car(l), *env)
		if err != nil {
			return false, err
		}
		if val != ast.Nil {
			*form = val
			return false, nil
		}
		l = in.Cdr(l)
	}
	*form = in.Car(l)
	return true, nil
}

func (in *Interp) andForm(form, env *ast.Ref) (bool, error) {
	l := in.Cdr(*form)
	if l == ast.Nil {
		*form = in.syms[symT]
		return false, nil
	}
	release := in.h.Protect(&l)
	defer release()
	for in.Cdr(l) != ast.Nil {
		val, err := in.Eval(in.Car(l), *env)
		if err != nil {
			return false, err
		}
		if val == ast.Nil {
			*form = ast.Nil
			return false, nil
		}
		l = in.Cdr(l)
	}
	*form = in.Car(l)
	return true, nil
}

// condForm evaluates clause tests in order. A clause without a body
// yields its test value; the body of the chosen clause is a begin.
func (in *Interp) condForm(form, env *ast.Ref) (bool, error) {
	args := in.Cdr(*form)
	if args == ast.Nil {
		*form = ast.Nil
		return false, nil
	}
	var clause ast.Ref
	release := in.h.Protect(&args, &clause)
	defer release()
	for {
		clause = in.Car(args)
		last := in.Cdr(args) == ast.Nil
		if last && in.Cdr(clause) == ast.Nil {
			*form = in.Car(clause)
			return true, nil
		}
		value, err := in.Eval(in.Car(clause), *env)
		if err != nil {
			return false, err
		}
		if value != ast.Nil {
			clause = in.Cdr(clause)
			if clause == ast.Nil {
				*form = value
				return false, nil
			}
			for in.Cdr(clause) != ast.Nil {
				if _, err := in.Eval(in.Car(clause), *env); err != nil {
					return false, err
				}
				clause = in.Cdr(clause)
			}
			*form = in.Car(clause)
			return true, nil
		}
		if last {
			*form = ast.Nil
			return false, nil
		}
		args = in.Cdr(args)
	}
}

// letInternalForm evaluates (let-internal formals actuals body)
func (in *Interp) letInternalForm(form, env *ast.Ref) (bool, error) {
	l := in.Cdr(*form)
	release := in.h.Protect(&l)
	defer release()
	actuals, err := in.evalArgs(in.cadr(l), *env)
	if err != nil {
		return false, err
	}
	newEnv, err := in.extendEnv(actuals, in.Car(l), *env)
	if err != nil {
		return false, err
	}
	*env = newEnv
	*form = in.caddr(l)
	return true, nil
}

// letMacro rewrites (let ((v e)...) body...) into
// (let-internal (v...) (e...) body) in place
func (in *Interp) letMacro(form ast.Ref) (ast.Ref, error) {
	var fl, al, p, body ast.Ref
	release := in.h.Protect(&form, &fl, &al, &p, &body)
	defer release()
	for p = in.cadr(form); p != ast.Nil; p = in.Cdr(p) {
		b := in.Car(p)
		if in.h.Tag(b) == ast.TSymbol {
			fl = in.h.Cons(b, fl)
			al = in.h.Cons(ast.Nil, al)
		} else {
			fl = in.h.Cons(in.Car(in.Car(p)), fl)
			al = in.h.Cons(in.cadr(in.Car(p)), al)
		}
	}
	body = in.cddr(form)
	if in.Cdr(body) == ast.Nil {
		body = in.Car(body)
	} else {
		body = in.h.Cons(in.syms[symBegin], body)
	}
	fl = in.reverse(fl)
	al = in.reverse(al)
	rest := in.List(fl, al, body)
	in.setCdr(form, rest)
	in.setCar(form, in.syms[symLetInternal])
	return form, nil
}

// letStarMacro nests one let per binding
func (in *Interp) letStarMacro(form ast.Ref) (ast.Ref, error) {
	var bindings, inner ast.Ref
	release := in.h.Protect(&form, &bindings, &inner)
	defer release()
	bindings = in.cadr(form)
	if bindings != ast.Nil && in.Cdr(bindings) != ast.Nil {
		inner = in.h.Cons(in.Cdr(bindings), in.cddr(form))
		inner = in.h.Cons(in.syms[symLetStar], inner)
		inner = in.h.Cons(inner, ast.Nil)
		first := in.h.Cons(in.Car(bindings), ast.Nil)
		rest := in.h.Cons(first, inner)
		in.setCdr(form, rest)
	}
	in.setCar(form, in.syms[symLet])
	return form, nil
}

// letrecMacro binds every name to () and then assigns them with set!
func (in *Interp) letrecMacro(form ast.Ref) (ast.Ref, error) {
	var letb, setb, l ast.Ref
	release := in.h.Protect(&form, &letb, &setb, &l)
	defer release()
	setb = in.cddr(form)
	for l = in.cadr(form); l != ast.Nil; l = in.Cdr(l) {
		name := in.Car(in.Car(l))
		b := in.h.Cons(name, ast.Nil)
		letb = in.h.Cons(b, letb)
		set := in.List(in.syms[symSet], in.Car(in.Car(l)), in.cadr(in.Car(l)))
		setb = in.h.Cons(set, setb)
	}
	rest := in.h.Cons(letb, setb)
	in.setCdr(form, rest)
	in.setCar(form, in.syms[symLet])
	return form, nil
}

// quasiquoteForm expands `x with ,y and ,@z
func (in *Interp) quasiquoteForm(args, env ast.Ref) (ast.Ref, error) {
	return in.quasi(in.Car(args), env)
}

func (in *Interp) quasi(x, env ast.Ref) (ast.Ref, error) {
	if !in.consp(x) {
		return x, nil
	}
	release := in.h.Protect(&x, &env)
	defer release()
	if in.Car(x) == in.syms[symUnquote] {
		return in.Eval(in.cadr(x), env)
	}
	b := in.newListBuilder()
	defer b.release()
	for in.consp(x) {
		if in.Car(x) == in.syms[symUnquote] {
			// `(a . ,b)
			tail, err := in.Eval(in.cadr(x), env)
			if err != nil {
				return ast.Nil, err
			}
			return in.appendTail(b, tail), nil
		}
		elem := in.Car(x)
		if in.consp(elem) && in.Car(elem) == in.syms[symUnquoteSplicing] {
			spliced, err := in.Eval(in.cadr(elem), env)
			if err != nil {
				return ast.Nil, err
			}
			release := in.h.Protect(&spliced)
			for ; in.consp(spliced); spliced = in.Cdr(spliced) {
				b.add(in.Car(spliced))
			}
			release()
		} else {
			v, err := in.quasi(elem, env)
			if err != nil {
				return ast.Nil, err
			}
			b.add(v)
		}
		x = in.Cdr(x)
	}
	return in.appendTail(b, x), nil
}

func (in *Interp) appendTail(b *listBuilder, tail ast.Ref) ast.Ref {
	if b.head == ast.Nil {
		return tail
	}
	in.setCdr(b.tail, tail)
	return b.head
}
