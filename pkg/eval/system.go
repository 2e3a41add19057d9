package eval

import (
	"fmt"
	"io"
	"time"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

func (in *Interp) initSystemSubrs() {
	in.DefineLsubr("gc", in.userGC)
	in.DefineLsubr("gc-status", in.gcStatus)
	in.DefineSubr1("gc-info", in.gcInfo)
	in.DefineSubr0("allocate-heap", in.allocateHeap)
	in.DefineSubr0("runtime", in.runtime)
	in.DefineSubr0("realtime", func() (ast.Ref, error) {
		return in.Number(float64(time.Now().UnixNano()) / 1e9), nil
	})
	in.DefineLsubr("verbose", in.verboseSubr)
	in.defineOpt("%%stack-limit", 0, in.stackLimitSubr)
	in.defineOpt("set-eval-history", 1, in.setEvalHistory)
}

// gcKindCheck rejects operations that need the mark-and-sweep collector
func (in *Interp) gcKindCheck() error {
	if in.h.Kind() == memory.KindCopying {
		return in.raise(memory.ErrCopyingMode, ast.Nil, "cannot perform operation with stop-and-copy GC mode. Use -g mark-sweep")
	}
	return nil
}

// userGC runs a full collection, verbose for its duration when the
// optional argument is non-()
func (in *Interp) userGC(args ast.Ref) (ast.Ref, error) {
	if err := in.gcKindCheck(); err != nil {
		return ast.Nil, err
	}
	leave := in.NoInterrupt()
	old := in.h.Verbose()
	if args != ast.Nil {
		in.h.SetVerbose(in.Car(args) != ast.Nil)
	}
	in.h.Collect()
	in.h.SetVerbose(old)
	return ast.Nil, leave()
}

func (in *Interp) gcStatus(args ast.Ref) (ast.Ref, error) {
	if args != ast.Nil {
		in.h.SetVerbose(in.Car(args) != ast.Nil)
	}
	if _, err := io.WriteString(in.out, in.h.Status()); err != nil {
		return ast.Nil, ErrIO.Wrap(err, "gc-status")
	}
	return ast.Nil, nil
}

func (in *Interp) gcInfo(arg ast.Ref) (ast.Ref, error) {
	n, err := in.getLong(arg)
	if err != nil {
		return ast.Nil, err
	}
	s := in.h.Stats()
	switch n {
	case 0:
		return in.Truth(in.h.Kind() == memory.KindCopying), nil
	case 1:
		return in.Number(float64(s.ActiveSegments)), nil
	case 2:
		return in.Number(float64(s.MaxSegments)), nil
	case 3:
		return in.Number(float64(s.SegmentSize)), nil
	case 4:
		return in.Number(float64(s.Free)), nil
	}
	return ast.Nil, nil
}

func (in *Interp) allocateHeap() (ast.Ref, error) {
	if err := in.gcKindCheck(); err != nil {
		return ast.Nil, err
	}
	leave := in.NoInterrupt()
	ok, err := in.h.Grow()
	if lerr := leave(); err == nil {
		err = lerr
	}
	if err != nil {
		return ast.Nil, err
	}
	return in.Truth(ok), nil
}

// runtime returns (seconds-running seconds-in-gc)
func (in *Interp) runtime() (ast.Ref, error) {
	gc := in.Number(in.h.Stats().TotalGCTime.Seconds())
	release := in.h.Protect(&gc)
	defer release()
	total := in.Number(time.Since(in.started).Seconds())
	return in.List(total, gc), nil
}

// verboseSubr sets the verbose level from its optional argument and
// returns the level in effect
func (in *Interp) verboseSubr(args ast.Ref) (ast.Ref, error) {
	if args != ast.Nil {
		level, err := in.getLong(in.Car(args))
		if err != nil {
			return ast.Nil, err
		}
		in.SetVerbose(int(level))
	}
	return in.Number(float64(in.verbose)), nil
}

// stackLimitSubr sets the evaluation depth limit. Unless silent it prints
// the limit and returns (), else it returns the limit.
func (in *Interp) stackLimitSubr(amount, silent ast.Ref) (ast.Ref, error) {
	if amount != ast.Nil {
		n, err := in.getLong(amount)
		if err != nil {
			return ast.Nil, err
		}
		if n <= 0 {
			return ast.Nil, in.raise(ErrWrongType, amount, "bad stack limit")
		}
		in.stackLimit = int(n)
	}
	if silent == ast.Nil {
		fmt.Fprintf(in.out, "Stack_size = %d nested evaluations\n", in.stackLimit)
		return ast.Nil, nil
	}
	return in.Number(float64(in.stackLimit)), nil
}

// setEvalHistory installs a list of len slots that Eval fills with the
// forms it evaluates, circular when circ is non-()
func (in *Interp) setEvalHistory(length, circ ast.Ref) (ast.Ref, error) {
	release := in.h.Protect(&length)
	defer release()
	data := ast.Nil
	if length != ast.Nil {
		var err error
		if data, err = in.makeList(length, ast.Nil); err != nil {
			return ast.Nil, err
		}
	}
	if circ != ast.Nil && data != ast.Nil {
		tail, _ := in.last(data)
		in.setCdr(tail, data)
	}
	in.setGlobal(in.syms[symEvalHistory], data)
	in.SetGlobal("*eval-history*", data)
	return length, nil
}
