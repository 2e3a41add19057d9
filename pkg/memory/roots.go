package memory

import (
	"siod_go/pkg/ast"
)

// Root set
//
// Three kinds of roots, all precise:
//   - registered locations (GCProtect / GCProtectSlice), for globals that live
//     as long as the heap
//   - the root stack (Protect), for temporaries held by the evaluator and
//     native procedures across allocations; released in LIFO order
//   - root functions (AddRoots), for owners whose set of Refs changes shape,
//     such as a catch stack
//
// Collectors see every root as a *ast.Ref so the copying collector can
// rewrite it in place.

// GCProtect registers a long-lived location as a root
func (h *Heap) GCProtect(loc *ast.Ref) {
	h.registered = append(h.registered, loc)
}

// GCUnprotect removes a location registered with GCProtect
func (h *Heap) GCUnprotect(loc *ast.Ref) {
	for i, p := range h.registered {
		if p == loc {
			h.registered = append(h.registered[:i], h.registered[i+1:]...)
			return
		}
	}
}

// GCProtectSlice registers every element of s as a root. The slice must
// not be resized afterwards.
func (h *Heap) GCProtectSlice(s []ast.Ref) {
	h.slices = append(h.slices, s)
}

// AddRoots registers a function enumerating a dynamic set of roots
func (h *Heap) AddRoots(fn func(visit func(*ast.Ref))) {
	h.rootFuncs = append(h.rootFuncs, fn)
}

// Protect pushes locations on the root stack and returns the function that
// pops them. Calls must nest.
func (h *Heap) Protect(locs ...*ast.Ref) func() {
	mark := len(h.stack)
	h.stack = append(h.stack, locs...)
	return func() {
		h.stack = h.stack[:mark]
	}
}

// StackDepth returns the size of the root stack
func (h *Heap) StackDepth() int { return len(h.stack) }

// TruncateStack drops root stack entries above depth. Used when unwinding
// abandons frames that never released their roots.
func (h *Heap) TruncateStack(depth int) {
	if depth < len(h.stack) {
		h.stack = h.stack[:depth]
	}
}

// visitRoots calls visit on every root location
func (h *Heap) visitRoots(visit func(*ast.Ref)) {
	for _, p := range h.registered {
		visit(p)
	}
	for _, s := range h.slices {
		for i := range s {
			visit(&s[i])
		}
	}
	for _, p := range h.stack {
		visit(p)
	}
	for _, fn := range h.rootFuncs {
		fn(visit)
	}
}
