package memory

import (
	"testing"

	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
)

// vectorHooks is a minimal extensible type holding Refs in its payload
type vectorHooks struct {
	DefaultHooks
	freed *int
}

func (vectorHooks) Scan(h *Heap, r ast.Ref) {
	v := h.Cell(r).Payload.([]ast.Ref)
	for i := range v {
		v[i] = h.Relocate(v[i])
	}
}

func (vectorHooks) Mark(h *Heap, r ast.Ref) ast.Ref {
	for _, e := range h.Cell(r).Payload.([]ast.Ref) {
		h.Mark(e)
	}
	return ast.Nil
}

func (v vectorHooks) Free(h *Heap, r ast.Ref) {
	*v.freed++
}

func TestRegistryAllocate(t *testing.T) {
	r := NewRegistry()
	first, err := r.Allocate()
	if err != nil {
		t.Fatal(err)
	}
	if first != ast.TUserMin {
		t.Errorf("expected %d, got %d", ast.TUserMin, first)
	}
	n := 1
	for {
		if _, err = r.Allocate(); err != nil {
			break
		}
		n++
	}
	if n != int(ast.TUserMax-ast.TUserMin)+1 {
		t.Errorf("expected %d user tags, got %d", int(ast.TUserMax-ast.TUserMin)+1, n)
	}
	if !errorx.IsOfType(err, ErrTooManyTypes) {
		t.Errorf("expected ErrTooManyTypes, got %v", err)
	}
}

func TestRegistrySetRejectsBuiltins(t *testing.T) {
	r := NewRegistry()
	for _, tag := range []ast.Tag{ast.TNil, ast.TCons, ast.TSymbol, ast.TSubr2, ast.TableSize} {
		if err := r.Set(tag, DefaultHooks{}); !errorx.IsOfType(err, ErrBadTag) {
			t.Errorf("tag %d: expected ErrBadTag, got %v", tag, err)
		}
	}
	if err := r.Set(ast.TString, DefaultHooks{}); err != nil {
		t.Errorf("string tag: %v", err)
	}
}

func TestRegistryDefaults(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get(ast.TUserMin).(DefaultHooks); !ok {
		t.Error("unset tag should get DefaultHooks")
	}
	if r.Lookup(ast.TUserMin) != nil {
		t.Error("Lookup should return nil for unset tag")
	}
}

func TestUserTypeTracedAndFreed(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			h := newTestHeap(k.kind, 1000)
			tag, err := h.Types().Allocate()
			if err != nil {
				t.Fatal(err)
			}
			freed := 0
			if err := h.Types().Set(tag, vectorHooks{freed: &freed}); err != nil {
				t.Fatal(err)
			}

			elem := list(h, 4)
			release := h.Protect(&elem)
			vec := h.Alloc(tag)
			h.Cell(vec).Payload = []ast.Ref{elem, elem}
			release()
			h.GCProtect(&vec)

			dead := h.Alloc(tag)
			h.Cell(dead).Payload = []ast.Ref{}

			h.Collect()
			if freed != 1 {
				t.Errorf("expected 1 free hook call, got %d", freed)
			}
			v := h.Cell(vec).Payload.([]ast.Ref)
			if v[0] != v[1] {
				t.Error("vector elements should still be shared")
			}
			checkList(t, h, v[0], 4)
		})
	}
}
