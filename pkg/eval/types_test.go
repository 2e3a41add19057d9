package eval

import (
	"testing"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
	"siod_go/pkg/memory"
)

// ============ Extensible Type Tests ============

// box is a host type holding one value
type box struct{ val ast.Ref }

type boxHooks struct {
	DefaultHooks
	freed *int
}

func (boxHooks) Name() string { return "box" }

func (boxHooks) Scan(h *memory.Heap, r ast.Ref) {
	b := h.Cell(r).Payload.(*box)
	b.val = h.Relocate(b.val)
}

func (boxHooks) Mark(h *memory.Heap, r ast.Ref) ast.Ref {
	return h.Cell(r).Payload.(*box).val
}

func (k boxHooks) Free(h *memory.Heap, r ast.Ref) {
	if k.freed != nil {
		*k.freed++
	}
}

func (boxHooks) Print(p *Printer, r ast.Ref) error {
	p.WriteString("#<box ")
	if err := p.Print(p.Interp().Payload(r).(*box).val); err != nil {
		return err
	}
	p.WriteString(">")
	return nil
}

func (boxHooks) Equal(in *Interp, a, b ast.Ref) bool {
	return in.Equal(in.Payload(a).(*box).val, in.Payload(b).(*box).val)
}

// Eval makes a box callable: (b) returns its contents
func (boxHooks) Eval(in *Interp, fn ast.Ref, form, env *ast.Ref) (bool, error) {
	*form = in.Payload(fn).(*box).val
	return false, nil
}

func registerBox(t *testing.T, in *Interp, freed *int) ast.Tag {
	t.Helper()
	tag, err := in.RegisterType(boxHooks{freed: freed})
	if err != nil {
		t.Fatalf("RegisterType: %v", err)
	}
	in.DefineSubr1("box", func(v ast.Ref) (ast.Ref, error) {
		release := in.Protect(&v)
		defer release()
		return in.NewCell(tag, &box{val: v}), nil
	})
	in.DefineSubr1("unbox", func(b ast.Ref) (ast.Ref, error) {
		if in.Tag(b) != tag {
			return ast.Nil, in.raise(ErrWrongType, b, "not a box")
		}
		return in.Payload(b).(*box).val, nil
	})
	return tag
}

func TestUserType(t *testing.T) {
	in, _ := newTestInterp()
	tag := registerBox(t, in, nil)
	if tag < ast.TUserMin || tag > ast.TUserMax {
		t.Fatalf("tag %d outside the user range", tag)
	}

	tests := []evalCase{
		{"(box 1)", "#<box 1>"},
		{"(box '(a b))", "#<box (a b)>"},
		{"(unbox (box 'x))", "x"},
		{"(typeof (box 1))", "box"},
		{"(equal? (box '(1)) (box '(1)))", "t"},
		{"(equal? (box 1) (box 2))", "()"},
		{"(define b (box 42)) (b)", "42"},
	}
	for _, tt := range tests {
		result, err := evalIn(in, tt.input)
		if err != nil {
			t.Errorf("evalIn(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("evalIn(%q) = %s, want %s", tt.input, result, tt.expected)
		}
	}

	_, err := in.EvalString("(apply (box 1) ())")
	if err == nil || ErrorMessage(err) != "have eval, dont know apply" {
		t.Errorf("apply of a box = %v", err)
	}
}

func TestUserTypeSurvivesGC(t *testing.T) {
	for name, hc := range gcConfigs() {
		t.Run(name, func(t *testing.T) {
			in, _ := newTestInterp(WithHeap(hc))
			registerBox(t, in, nil)
			src := `
(define kept (box (list 1 2 3)))
(define i 0)
(while (< i 300) (box (make-list 30 i)) (set! i (+ i 1)))
(unbox kept)`
			result, err := evalIn(in, src)
			if err != nil {
				t.Fatal(err)
			}
			if result != "(1 2 3)" {
				t.Errorf("kept = %s", result)
			}
		})
	}
}

func TestUserTypeFreed(t *testing.T) {
	freed := 0
	in, _ := newTestInterp(WithHeap(memory.Config{Kind: memory.KindMarkSweep, SegmentSize: 2000, MaxSegments: 4}))
	registerBox(t, in, &freed)
	if _, err := in.EvalString("(define i 0) (while (< i 100) (box i) (set! i (+ i 1)))"); err != nil {
		t.Fatal(err)
	}
	if _, err := in.EvalString("(gc ())"); err != nil {
		t.Fatal(err)
	}
	if freed == 0 {
		t.Error("unreachable boxes were not freed")
	}
}

func TestUserTypeDefaults(t *testing.T) {
	in, _ := newTestInterp()
	tag, err := in.RegisterType(DefaultHooks{})
	if err != nil {
		t.Fatal(err)
	}
	x := in.NewCell(tag, nil)
	got := in.MustSprint(x)
	if len(got) < len("#<UNKNOWN ") || got[:len("#<UNKNOWN ")] != "#<UNKNOWN " {
		t.Errorf("default print = %s", got)
	}
	if name := in.typeName(x); name != "" {
		t.Errorf("default name = %q", name)
	}
	if in.Sxhash(x, 10) != 0 {
		t.Error("default hash is not 0")
	}
}

func TestTooManyTypes(t *testing.T) {
	in, _ := newTestInterp()
	var err error
	for i := 0; i <= int(ast.TUserMax-ast.TUserMin)+1 && err == nil; i++ {
		_, err = in.RegisterType(DefaultHooks{})
	}
	if !errorx.IsOfType(err, memory.ErrTooManyTypes) {
		t.Errorf("error = %v, want too many types", err)
	}
}
