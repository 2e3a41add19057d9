package eval

import (
	"errors"
	"fmt"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
)

// Control layer
//
// A catch frame is pushed by *catch and popped when its body returns.
// *throw picks the target frame at throw time and unwinds to it by
// returning a *Throw through every Go frame in between; each deferred
// Protect release runs on the way, so the root stack stays balanced.
// Errors raised while an errobj or all frame is active become throws to
// that frame carrying ("message" . errobj).

// ErrQuit ends the read-eval-print loop; catch frames ignore it
var ErrQuit = Errors.NewType("quit")

func (in *Interp) initControl() {
	in.DefineFsubr("*catch", in.catchForm)
	in.DefineFsubr("catch", in.catchForm)
	in.DefineSubr2("*throw", in.throw)
	in.DefineSubr2("throw", in.throw)
	in.defineOpt("error", 1, func(msg, obj ast.Ref) (ast.Ref, error) { return ast.Nil, in.userError(msg, obj) })
	in.DefineSubr0("quit", func() (ast.Ref, error) { return ast.Nil, ErrQuit.New("quit") })
	in.DefineSubr0("errobj", func() (ast.Ref, error) { return in.h.Cell(in.syms[symErrobj]).Car, nil })
}

// Catch evaluates body with a catch frame for tag. A throw to the frame
// returns the thrown value.
func (in *Interp) Catch(tag ast.Ref, body func() (ast.Ref, error)) (ast.Ref, error) {
	idx := len(in.catches)
	in.catches = append(in.catches, catchFrame{tag: tag})
	defer func() { in.catches = in.catches[:idx] }()

	val, err := body()
	if err == nil {
		return val, nil
	}
	var t *Throw
	if errors.As(err, &t) {
		if t.frame == idx {
			return in.catches[idx].value, nil
		}
		return ast.Nil, err
	}
	if errorx.IsOfType(err, ErrQuit) {
		return ast.Nil, err
	}
	// errors that did not go through raise, reader errors for instance
	if ft := in.catches[idx].tag; ft == in.syms[symErrobj] || ft == in.syms[symAll] {
		in.setGlobal(in.syms[symErrobj], ast.Nil)
		msg := in.String(ErrorMessage(err))
		return in.h.Cons(msg, ast.Nil), nil
	}
	return ast.Nil, err
}

func (in *Interp) catchForm(args, env ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&args, &env)
	defer release()
	tag, err := in.Eval(in.Car(args), env)
	if err != nil {
		return ast.Nil, err
	}
	return in.Catch(tag, func() (ast.Ref, error) {
		var val, l ast.Ref
		release := in.h.Protect(&val, &l)
		defer release()
		for l = in.Cdr(args); l != ast.Nil; l = in.Cdr(l) {
			if val, err = in.Eval(in.Car(l), env); err != nil {
				return ast.Nil, err
			}
		}
		return val, nil
	})
}

// throw transfers value to the innermost catch frame for tag or all
func (in *Interp) throw(tag, value ast.Ref) (ast.Ref, error) {
	idx := in.findCatch(tag)
	if idx < 0 {
		return ast.Nil, in.raise(ErrUncaughtThrow, tag, "no *catch found with this tag")
	}
	in.catches[idx].value = value
	return ast.Nil, &Throw{frame: idx}
}

// userError implements (error message [obj]). A message of the form
// ("text" . obj) is itself the value delivered to the catching frame.
func (in *Interp) userError(message, obj ast.Ref) error {
	if in.consp(message) && in.h.Tag(in.Car(message)) == ast.TString {
		text := in.Str(in.Car(message))
		nx := in.Cdr(message)
		in.setGlobal(in.syms[symErrobj], nx)
		err := ErrUser.New("%s", text).WithProperty(PropertyErrobj, nx)
		idx := in.findCatch(in.syms[symErrobj])
		if idx < 0 {
			return err
		}
		in.catches[idx].value = message
		return &Throw{frame: idx, cause: err}
	}
	text, ok := in.stringOf(message)
	if !ok {
		return in.raise(ErrWrongType, message, "not a symbol or string")
	}
	return in.raise(ErrUser, obj, "%s", text)
}

// stringOf returns the text of a string or the name of a symbol
func (in *Interp) stringOf(x ast.Ref) (string, bool) {
	switch in.h.Tag(x) {
	case ast.TSymbol:
		return in.h.Cell(x).Name, true
	case ast.TString:
		return in.Str(x), true
	}
	return "", false
}

// ErrorReport formats err the way the top level prints it:
// "ERROR: message", followed by the errobj when there is one
func (in *Interp) ErrorReport(err error) string {
	msg := ErrorMessage(err)
	if _, ok := Errobj(err); !ok {
		return "ERROR: " + msg
	}
	obj := in.h.Cell(in.syms[symErrobj]).Car
	if obj == ast.Nil {
		return "ERROR: " + msg
	}
	if s, ok := in.stringOf(obj); ok && len(s) < 30 {
		return fmt.Sprintf("ERROR: %s (errobj %s)", msg, s)
	}
	return fmt.Sprintf("ERROR: %s (see errobj)", msg)
}
