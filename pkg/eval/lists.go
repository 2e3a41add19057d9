package eval

import (
	"strings"

	"siod_go/pkg/ast"
)

func (in *Interp) initListSubrs() {
	in.DefineSubr2("cons", func(a, b ast.Ref) (ast.Ref, error) { return in.h.Cons(a, b), nil })
	in.DefineSubr1("car", in.car)
	in.DefineSubr1("cdr", in.cdr)
	in.DefineSubr2("set-car!", in.setCarSubr)
	in.DefineSubr2("set-cdr!", in.setCdrSubr)
	in.DefineLsubr("list", func(args ast.Ref) (ast.Ref, error) { return args, nil })
	in.DefineSubr1("length", in.length)
	in.DefineLsubr("append", in.append)
	in.DefineSubr2("append2", in.append2)
	in.DefineSubr1("reverse", func(l ast.Ref) (ast.Ref, error) { return in.reverse(l), nil })
	in.DefineSubr1("nreverse", func(l ast.Ref) (ast.Ref, error) { return in.nreverse(l), nil })
	in.DefineSubr2("nconc", in.nconc)
	in.DefineSubr1("last", in.last)
	in.DefineSubr1("butlast", in.butlast)
	in.DefineSubr2("nth", in.nth)
	in.DefineSubr2("memq", in.memq)
	in.DefineSubr2("memv", in.memv)
	in.DefineSubr2("member", in.member)
	in.DefineSubr2("assq", in.assq)
	in.DefineSubr2("assv", in.assv)
	in.DefineSubr2("assoc", in.assoc)
	in.DefineSubr3("ass", in.ass)
	in.DefineSubr2("delq", in.delq)
	in.DefineSubr1("copy-list", in.copyList)
	in.defineOpt("make-list", 1, in.makeList)
	in.DefineLsubr("mapcar", in.mapcar)
	in.DefineSubr2("mapcar1", in.mapcar1)
	in.DefineSubr3("mapcar2", in.mapcar2)
	in.DefineSubr2("subset", in.subset)
	in.defineOpt("qsort", 2, in.qsort)
	in.DefineSubr2("apply", in.Apply)
	in.defineOpt("eval", 1, in.Eval)
	in.DefineSubr2("get", in.getprop)
	in.DefineSubr3("putprop", in.putprop)
	in.DefineSubr3("lref-default", in.lrefDefault)
	in.DefineSubr3("larg-default", in.largDefault)
	in.DefineSubr3("lkey-default", in.lkeyDefault)

	in.DefineSubr2("eq?", func(a, b ast.Ref) (ast.Ref, error) { return in.Truth(a == b), nil })
	in.DefineSubr1("null?", func(x ast.Ref) (ast.Ref, error) { return in.Truth(x == ast.Nil), nil })
	in.DefineSubr1("not", func(x ast.Ref) (ast.Ref, error) { return in.Truth(x == ast.Nil), nil })
	in.DefineSubr1("pair?", func(x ast.Ref) (ast.Ref, error) { return in.Truth(in.consp(x)), nil })

	for _, path := range []string{
		"caar", "cadr", "cdar", "cddr",
		"caaar", "caadr", "cadar", "caddr", "cdaar", "cdadr", "cddar", "cdddr",
	} {
		ops := path[1 : len(path)-1]
		name := path
		in.DefineSubr1(name, func(x ast.Ref) (ast.Ref, error) { return in.cxr(name, ops, x) })
	}
}

// car of anything but a pair, () included, is a wrong type error
func (in *Interp) car(x ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TCons {
		return ast.Nil, in.raise(ErrWrongType, x, "wta to car")
	}
	return in.h.Cell(x).Car, nil
}

// cdr of anything but a pair, () included, is a wrong type error
func (in *Interp) cdr(x ast.Ref) (ast.Ref, error) {
	if in.h.Tag(x) != ast.TCons {
		return ast.Nil, in.raise(ErrWrongType, x, "wta to cdr")
	}
	return in.h.Cell(x).Cdr, nil
}

// cxr applies the a/d path of a c[ad]+r name from right to left
func (in *Interp) cxr(name, ops string, x ast.Ref) (ast.Ref, error) {
	for i := len(ops) - 1; i >= 0; i-- {
		if !in.consp(x) {
			return ast.Nil, in.raise(ErrWrongType, x, "wta to %s", name)
		}
		if ops[i] == 'a' {
			x = in.h.Cell(x).Car
		} else {
			x = in.h.Cell(x).Cdr
		}
	}
	return x, nil
}

func (in *Interp) setCarSubr(cell, value ast.Ref) (ast.Ref, error) {
	if !in.consp(cell) {
		return ast.Nil, in.raise(ErrWrongType, cell, "wta to setcar")
	}
	in.setCar(cell, value)
	return value, nil
}

func (in *Interp) setCdrSubr(cell, value ast.Ref) (ast.Ref, error) {
	if !in.consp(cell) {
		return ast.Nil, in.raise(ErrWrongType, cell, "wta to setcdr")
	}
	in.setCdr(cell, value)
	return value, nil
}

// Length returns the length of a list, string or array
func (in *Interp) Length(x ast.Ref) (int, error) {
	switch in.h.Tag(x) {
	case ast.TNil:
		return 0, nil
	case ast.TCons:
		n, l := 0, x
		for ; in.consp(l); l = in.h.Cell(l).Cdr {
			n++
		}
		if l != ast.Nil {
			return 0, in.raise(ErrWrongType, x, "improper list to length")
		}
		return n, nil
	}
	if n, ok := in.arrayLen(x); ok {
		return n, nil
	}
	return 0, in.raise(ErrWrongType, x, "wta to length")
}

func (in *Interp) length(x ast.Ref) (ast.Ref, error) {
	n, err := in.Length(x)
	if err != nil {
		return ast.Nil, err
	}
	return in.Number(float64(n)), nil
}

// append2 copies l1 onto a copy of l2
func (in *Interp) append2(l1, l2 ast.Ref) (ast.Ref, error) {
	var p ast.Ref
	release := in.h.Protect(&l1, &l2, &p)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for _, l := range []*ast.Ref{&l1, &l2} {
		for p = *l; p != ast.Nil; p = in.h.Cell(p).Cdr {
			if !in.consp(p) {
				return ast.Nil, in.raise(ErrWrongType, *l, "improper list to append")
			}
			b.add(in.h.Cell(p).Car)
		}
	}
	return b.head, nil
}

// append copies every argument but the last, which becomes the tail
func (in *Interp) append(args ast.Ref) (ast.Ref, error) {
	switch {
	case args == ast.Nil:
		return ast.Nil, nil
	case in.Cdr(args) == ast.Nil:
		return in.Car(args), nil
	}
	l, p := args, ast.Nil
	release := in.h.Protect(&l, &p)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(in.Cdr(l)); l = in.Cdr(l) {
		for p = in.Car(l); p != ast.Nil; p = in.h.Cell(p).Cdr {
			if !in.consp(p) {
				return ast.Nil, in.raise(ErrWrongType, in.Car(l), "improper list to append")
			}
			b.add(in.h.Cell(p).Car)
		}
	}
	if b.head == ast.Nil {
		return in.Car(l), nil
	}
	in.setCdr(b.tail, in.Car(l))
	return b.head, nil
}

func (in *Interp) reverse(l ast.Ref) ast.Ref {
	var n ast.Ref
	release := in.h.Protect(&l, &n)
	defer release()
	for ; in.consp(l); l = in.h.Cell(l).Cdr {
		n = in.h.Cons(in.h.Cell(l).Car, n)
	}
	return n
}

func (in *Interp) nreverse(l ast.Ref) ast.Ref {
	n := ast.Nil
	for in.consp(l) {
		next := in.h.Cell(l).Cdr
		in.setCdr(l, n)
		n, l = l, next
	}
	return n
}

func (in *Interp) last(l ast.Ref) (ast.Ref, error) {
	if !in.consp(l) {
		return ast.Nil, in.raise(ErrWrongType, l, "bad arg to last")
	}
	for in.consp(in.h.Cell(l).Cdr) {
		l = in.h.Cell(l).Cdr
	}
	return l, nil
}

func (in *Interp) nconc(a, b ast.Ref) (ast.Ref, error) {
	if a == ast.Nil {
		return b, nil
	}
	tail, err := in.last(a)
	if err != nil {
		return ast.Nil, err
	}
	in.setCdr(tail, b)
	return a, nil
}

func (in *Interp) butlast(l ast.Ref) (ast.Ref, error) {
	if l == ast.Nil {
		return ast.Nil, in.raise(ErrWrongType, l, "list is empty")
	}
	if !in.consp(l) {
		return ast.Nil, in.raise(ErrWrongType, l, "not a list")
	}
	release := in.h.Protect(&l)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(in.h.Cell(l).Cdr); l = in.h.Cell(l).Cdr {
		b.add(in.h.Cell(l).Car)
	}
	return b.head, nil
}

func (in *Interp) nth(x, l ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(x)
	if err != nil {
		return ast.Nil, err
	}
	for j := int64(0); j < n && in.consp(l); j++ {
		l = in.h.Cell(l).Cdr
	}
	if !in.consp(l) {
		return ast.Nil, in.raise(ErrWrongType, x, "bad arg to nth")
	}
	return in.h.Cell(l).Car, nil
}

// Eqv is eq? extended to numbers of equal value
func (in *Interp) Eqv(a, b ast.Ref) bool {
	if a == b {
		return true
	}
	return in.h.Tag(a) == ast.TFlonum && in.h.Tag(b) == ast.TFlonum && in.Num(a) == in.Num(b)
}

// mem returns the first tail of l whose car satisfies same
func (in *Interp) mem(name string, x, l ast.Ref, same func(a, b ast.Ref) bool) (ast.Ref, error) {
	p := l
	for ; in.consp(p); p = in.h.Cell(p).Cdr {
		if same(x, in.h.Cell(p).Car) {
			return p, nil
		}
		if err := in.poll(); err != nil {
			return ast.Nil, err
		}
	}
	if p != ast.Nil {
		return ast.Nil, in.raise(ErrWrongType, l, "improper list to %s", name)
	}
	return ast.Nil, nil
}

func (in *Interp) memq(x, l ast.Ref) (ast.Ref, error) {
	return in.mem("memq", x, l, func(a, b ast.Ref) bool { return a == b })
}

func (in *Interp) memv(x, l ast.Ref) (ast.Ref, error) { return in.mem("memv", x, l, in.Eqv) }

func (in *Interp) member(x, l ast.Ref) (ast.Ref, error) { return in.mem("member", x, l, in.Equal) }

// ass1 returns the first pair of alist whose car satisfies same
func (in *Interp) ass1(name string, x, alist ast.Ref, same func(a, b ast.Ref) bool) (ast.Ref, error) {
	l := alist
	for ; in.consp(l); l = in.h.Cell(l).Cdr {
		entry := in.h.Cell(l).Car
		if in.consp(entry) && same(in.h.Cell(entry).Car, x) {
			return entry, nil
		}
		if err := in.poll(); err != nil {
			return ast.Nil, err
		}
	}
	if l != ast.Nil {
		return ast.Nil, in.raise(ErrWrongType, alist, "improper list to %s", name)
	}
	return ast.Nil, nil
}

func (in *Interp) assq(x, alist ast.Ref) (ast.Ref, error) {
	return in.ass1("assq", x, alist, func(a, b ast.Ref) bool { return a == b })
}

func (in *Interp) assv(x, alist ast.Ref) (ast.Ref, error) {
	return in.ass1("assv", x, alist, in.Eqv)
}

func (in *Interp) assoc(x, alist ast.Ref) (ast.Ref, error) {
	return in.ass1("assoc", x, alist, in.Equal)
}

// ass searches alist with a user predicate called as (fn key x)
func (in *Interp) ass(x, alist, fn ast.Ref) (ast.Ref, error) {
	l := alist
	release := in.h.Protect(&x, &alist, &fn, &l)
	defer release()
	for ; in.consp(l); l = in.h.Cell(l).Cdr {
		entry := in.h.Cell(l).Car
		if !in.consp(entry) {
			continue
		}
		ok, err := in.call2(fn, in.h.Cell(entry).Car, x)
		if err != nil {
			return ast.Nil, err
		}
		if ok != ast.Nil {
			return in.h.Cell(l).Car, nil
		}
	}
	if l != ast.Nil {
		return ast.Nil, in.raise(ErrWrongType, alist, "improper list to ass")
	}
	return ast.Nil, nil
}

// delq destructively removes every element eq? to elem
func (in *Interp) delq(elem, l ast.Ref) (ast.Ref, error) {
	for in.consp(l) && in.h.Cell(l).Car == elem {
		l = in.h.Cell(l).Cdr
	}
	if !in.consp(l) {
		return l, nil
	}
	prev := l
	for p := in.h.Cell(l).Cdr; in.consp(p); p = in.h.Cell(p).Cdr {
		if in.h.Cell(p).Car == elem {
			in.setCdr(prev, in.h.Cell(p).Cdr)
		} else {
			prev = p
		}
	}
	return l, nil
}

func (in *Interp) copyList(x ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&x)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(x); x = in.h.Cell(x).Cdr {
		b.add(in.h.Cell(x).Car)
	}
	if b.head == ast.Nil {
		return x, nil
	}
	in.setCdr(b.tail, x)
	return b.head, nil
}

func (in *Interp) makeList(x, v ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(x)
	if err != nil {
		return ast.Nil, err
	}
	var l ast.Ref
	release := in.h.Protect(&v, &l)
	defer release()
	for ; n > 0; n-- {
		l = in.h.Cons(v, l)
	}
	return l, nil
}

// call1 applies fn to one argument
func (in *Interp) call1(fn, a ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&fn)
	defer release()
	return in.Apply(fn, in.h.Cons(a, ast.Nil))
}

// call2 applies fn to two arguments
func (in *Interp) call2(fn, a, b ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&fn, &a)
	defer release()
	args := in.h.Cons(b, ast.Nil)
	args = in.h.Cons(a, args)
	return in.Apply(fn, args)
}

func (in *Interp) mapcar(args ast.Ref) (ast.Ref, error) {
	switch in.listLen(args) {
	case 2:
		return in.mapcar1(in.Car(args), in.cadr(args))
	case 3:
		return in.mapcar2(in.Car(args), in.cadr(args), in.caddr(args))
	}
	return ast.Nil, in.raise(ErrWrongArity, args, "mapcar case not handled")
}

func (in *Interp) mapcar1(fn, l ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&fn, &l)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(l); l = in.h.Cell(l).Cdr {
		v, err := in.call1(fn, in.h.Cell(l).Car)
		if err != nil {
			return ast.Nil, err
		}
		b.add(v)
	}
	return b.head, nil
}

func (in *Interp) mapcar2(fn, l1, l2 ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&fn, &l1, &l2)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(l1) && in.consp(l2); l1, l2 = in.h.Cell(l1).Cdr, in.h.Cell(l2).Cdr {
		v, err := in.call2(fn, in.h.Cell(l1).Car, in.h.Cell(l2).Car)
		if err != nil {
			return ast.Nil, err
		}
		b.add(v)
	}
	return b.head, nil
}

// subset keeps the elements of l for which fn returns non-()
func (in *Interp) subset(fn, l ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&fn, &l)
	defer release()
	b := in.newListBuilder()
	defer b.release()
	for ; in.consp(l); l = in.h.Cell(l).Cdr {
		ok, err := in.call1(fn, in.h.Cell(l).Car)
		if err != nil {
			return ast.Nil, err
		}
		if ok != ast.Nil {
			b.add(in.h.Cell(l).Car)
		}
	}
	return b.head, nil
}

// qsort sorts l with the predicate less, comparing (key x) when key is
// given. The pivot is chosen at random.
func (in *Interp) qsort(l, less, key ast.Ref) (ast.Ref, error) {
	n := 0
	v := l
	for ; in.consp(v); v = in.h.Cell(v).Cdr {
		n++
	}
	if v != ast.Nil {
		return ast.Nil, in.raise(ErrWrongType, l, "bad list to qsort")
	}
	if n == 0 {
		return ast.Nil, nil
	}
	if err := in.poll(); err != nil {
		return ast.Nil, err
	}
	j := in.rng.Intn(n)
	v = l
	for i := 0; i < j; i++ {
		v = in.h.Cell(v).Cdr
	}
	mark := in.h.Cell(v).Car

	var lo, hi, markKey, x, xk ast.Ref
	release := in.h.Protect(&l, &less, &key, &mark, &lo, &hi, &markKey, &x, &xk, &v)
	defer release()
	markKey = mark
	if key != ast.Nil {
		var err error
		if markKey, err = in.call1(key, mark); err != nil {
			return ast.Nil, err
		}
	}
	i := 0
	for v = l; v != ast.Nil; v, i = in.h.Cell(v).Cdr, i+1 {
		if i == j {
			continue
		}
		x = in.h.Cell(v).Car
		xk = x
		var err error
		if key != ast.Nil {
			if xk, err = in.call1(key, x); err != nil {
				return ast.Nil, err
			}
		}
		ok, err := in.call2(less, xk, markKey)
		if err != nil {
			return ast.Nil, err
		}
		if ok != ast.Nil {
			lo = in.h.Cons(x, lo)
		} else {
			hi = in.h.Cons(x, hi)
		}
	}
	var err error
	if lo, err = in.qsort(lo, less, key); err != nil {
		return ast.Nil, err
	}
	if hi, err = in.qsort(hi, less, key); err != nil {
		return ast.Nil, err
	}
	hi = in.h.Cons(mark, hi)
	return in.nconc(lo, hi)
}

// getprop looks key up in a property list (name k1 v1 k2 v2 ...)
func (in *Interp) getprop(plist, key ast.Ref) (ast.Ref, error) {
	for l := in.Cdr(plist); in.consp(l); l = in.cddr(l) {
		if in.h.Cell(l).Car == key {
			return in.cadr(l), nil
		}
	}
	return ast.Nil, nil
}

// putprop sets key in a property list, adding it after the name when
// missing
func (in *Interp) putprop(plist, value, key ast.Ref) (ast.Ref, error) {
	if !in.consp(plist) {
		return ast.Nil, in.raise(ErrWrongType, plist, "not a property list")
	}
	for l := in.Cdr(plist); in.consp(l); l = in.cddr(l) {
		if in.h.Cell(l).Car == key && in.consp(in.h.Cell(l).Cdr) {
			in.setCar(in.h.Cell(l).Cdr, value)
			return value, nil
		}
	}
	release := in.h.Protect(&plist, &value, &key)
	defer release()
	rest := in.h.Cons(value, in.Cdr(plist))
	rest = in.h.Cons(key, rest)
	in.setCdr(plist, rest)
	return value, nil
}

// lrefDefault returns element x of li, or the result of calling fcn with
// no arguments when li is too short
func (in *Interp) lrefDefault(li, x, fcn ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(x)
	if err != nil {
		return ast.Nil, err
	}
	l := li
	for j := int64(0); j < n && in.consp(l); j++ {
		l = in.h.Cell(l).Cdr
	}
	switch {
	case in.consp(l):
		return in.h.Cell(l).Car, nil
	case fcn != ast.Nil:
		return in.Apply(fcn, ast.Nil)
	}
	return ast.Nil, nil
}

// largDefault returns positional argument x of li, skipping strings that
// start with - or :
func (in *Interp) largDefault(li, x, dval ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(x)
	if err != nil {
		return ast.Nil, err
	}
	j := int64(0)
	for l := li; l != ast.Nil; l = in.Cdr(l) {
		elem := in.Car(l)
		if in.h.Tag(elem) == ast.TString {
			if s := in.Str(elem); s != "" && strings.IndexByte("-:", s[0]) >= 0 {
				continue
			}
		}
		if j == n {
			return elem, nil
		}
		j++
	}
	return dval, nil
}

// lkeyDefault returns the value of the first ":key=value" string of li
func (in *Interp) lkeyDefault(li, key, dval ast.Ref) (ast.Ref, error) {
	k, err := in.getString(key)
	if err != nil {
		return ast.Nil, err
	}
	prefix := ":" + k + "="
	for l := li; l != ast.Nil; l = in.Cdr(l) {
		elem := in.Car(l)
		if in.h.Tag(elem) != ast.TString {
			continue
		}
		if s := in.Str(elem); strings.HasPrefix(s, prefix) {
			return in.String(s[len(prefix):]), nil
		}
	}
	return dval, nil
}
