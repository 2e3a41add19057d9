package memory

import (
	"github.com/joomcode/errorx"

	"siod_go/pkg/ast"
)

// Type-hook registry
//
// Tags outside the built-in set (cons, flonum, symbol, closure, subrs) are
// opaque to the collectors. Each such tag has a TypeHooks value telling the
// collectors how to move, scan, mark and release it. Higher layers extend
// the interface with printing and evaluation hooks and recover them with a
// type assertion.

var (
	// Errors is the namespace of heap errors
	Errors = errorx.NewNamespace("memory")

	// ErrTooManyTypes is returned when the user tag range is exhausted
	ErrTooManyTypes = Errors.NewType("too_many_types")
	// ErrBadTag is returned for a tag outside the hook table
	ErrBadTag = Errors.NewType("bad_tag")
	// ErrCopyingMode is returned by operations the copying collector cannot perform
	ErrCopyingMode = Errors.NewType("copying_mode")
)

// TypeHooks is the collector side of an extensible type
type TypeHooks interface {
	// Relocate copies r into to-space and returns the copy
	Relocate(h *Heap, r ast.Ref) ast.Ref
	// Scan relocates the Refs held by the to-space copy r
	Scan(h *Heap, r ast.Ref)
	// Mark marks the Refs held by r and returns one more Ref to mark
	// iteratively, or ast.Nil
	Mark(h *Heap, r ast.Ref) ast.Ref
	// Free releases resources of an unreachable r
	Free(h *Heap, r ast.Ref)
}

// DefaultHooks copies the cell and holds no Refs
type DefaultHooks struct{}

func (DefaultHooks) Relocate(h *Heap, r ast.Ref) ast.Ref { return h.CopyCell(r) }
func (DefaultHooks) Scan(h *Heap, r ast.Ref)             {}
func (DefaultHooks) Mark(h *Heap, r ast.Ref) ast.Ref     { return ast.Nil }
func (DefaultHooks) Free(h *Heap, r ast.Ref)             {}

// Registry maps tags to hooks
type Registry struct {
	hooks [ast.TableSize]TypeHooks
	next  ast.Tag
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{next: ast.TUserMin}
}

// Allocate reserves the next free user tag
func (r *Registry) Allocate() (ast.Tag, error) {
	if r.next > ast.TUserMax {
		return 0, ErrTooManyTypes.New("too many user types (max %d)", int(ast.TUserMax-ast.TUserMin)+1)
	}
	t := r.next
	r.next++
	return t, nil
}

// Set installs hooks for a tag
func (r *Registry) Set(tag ast.Tag, hooks TypeHooks) error {
	if int(tag) >= ast.TableSize || ast.IsBuiltin(tag) || tag == ast.TNil {
		return ErrBadTag.New("cannot set hooks for tag %d", tag)
	}
	r.hooks[tag] = hooks
	return nil
}

// Get returns the hooks for a tag, DefaultHooks when none are set
func (r *Registry) Get(tag ast.Tag) TypeHooks {
	if int(tag) < ast.TableSize && r.hooks[tag] != nil {
		return r.hooks[tag]
	}
	return DefaultHooks{}
}

// Lookup returns the hooks installed for a tag, nil when none are set
func (r *Registry) Lookup(tag ast.Tag) TypeHooks {
	if int(tag) < ast.TableSize {
		return r.hooks[tag]
	}
	return nil
}
