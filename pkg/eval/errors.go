package eval

import (
	"errors"
	"fmt"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
)

var (
	// Errors is the namespace of evaluation errors
	Errors = errorx.NewNamespace("siod")

	ErrWrongType       = Errors.NewType("wrong_type")
	ErrUnboundVariable = Errors.NewType("unbound_variable")
	ErrWrongArity      = Errors.NewType("wrong_arity")
	ErrBadSyntax       = Errors.NewType("bad_syntax")
	ErrStackOverflow   = Errors.NewType("stack_overflow")
	ErrUser            = Errors.NewType("user_error")
	ErrInterrupted     = Errors.NewType("interrupted")
	ErrIO              = Errors.NewType("io")
	// ErrUncaughtThrow is a throw that left the outermost catch
	ErrUncaughtThrow = Errors.NewType("uncaught_throw")

	// PropertyErrobj carries the offending object of an error
	PropertyErrobj = errorx.RegisterProperty("errobj")
)

// Throw is a non-local transfer to a catch frame travelling up the Go
// return path. It is not a failure; use errors.As to tell them apart.
type Throw struct {
	frame int
	cause error
}

func (t *Throw) Error() string {
	if t.cause != nil {
		return t.cause.Error()
	}
	return fmt.Sprintf("throw to catch frame %d", t.frame)
}

func (t *Throw) Unwrap() error { return t.cause }

// catchFrame is one dynamic-extent guard. value holds the thrown value
// while the Throw unwinds.
type catchFrame struct {
	tag   ast.Ref
	value ast.Ref
}

// raise records obj as errobj and builds the error for kind. A frame
// tagged errobj or all turns the error into a throw carrying
// ("message" . obj).
func (in *Interp) raise(kind *errorx.Type, obj ast.Ref, format string, args ...interface{}) error {
	msg := fmt.Sprintf(format, args...)
	in.setGlobal(in.syms[symErrobj], obj)
	err := kind.New("%s", msg).WithProperty(PropertyErrobj, obj)
	return in.errorToFrame(err, msg, obj)
}

// errorToFrame delivers err to the innermost error-catching frame, if any
func (in *Interp) errorToFrame(err error, msg string, obj ast.Ref) error {
	idx := in.findCatch(in.syms[symErrobj])
	if idx < 0 {
		return err
	}
	release := in.h.Protect(&obj)
	s := in.String(msg)
	release()
	v := in.h.Cons(s, obj)
	in.catches[idx].value = v
	return &Throw{frame: idx, cause: err}
}

// findCatch returns the innermost frame whose tag is tag or all
func (in *Interp) findCatch(tag ast.Ref) int {
	all := in.syms[symAll]
	for i := len(in.catches) - 1; i >= 0; i-- {
		if t := in.catches[i].tag; t == tag || t == all {
			return i
		}
	}
	return -1
}

// Errobj returns the object attached to an evaluation error
func Errobj(err error) (ast.Ref, bool) {
	var t *Throw
	if errors.As(err, &t) && t.cause != nil {
		err = t.cause
	}
	v, ok := errorx.ExtractProperty(err, PropertyErrobj)
	if !ok {
		return ast.Nil, false
	}
	r, ok := v.(ast.Ref)
	return r, ok
}

// ErrorMessage returns the message of err without namespace decoration
func ErrorMessage(err error) string {
	var ex *errorx.Error
	if errors.As(err, &ex) {
		return ex.Message()
	}
	return err.Error()
}

// IsThrow reports whether err is a catch/throw transfer
func IsThrow(err error) bool {
	var t *Throw
	return errors.As(err, &t)
}
