// Package scope turns the flat variable lists the engine sends for a stack
// frame into trees of variables addressed by integer handles.
//
// A Set owns every scope of one debug session and the handle allocator they
// share, so a handle alone identifies either a scope or a variable. Handles
// are stable per qualified path: the same variable keeps its handle when a
// later snapshot of the same scope is ingested.
package scope

import (
	"strconv"

	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Kind is the category of a scope.
type Kind int

const (
	Locals Kind = iota
	Members
	Globals
)

// Kinds lists every kind in the order the engine sends them.
var Kinds = []Kind{Locals, Members, Globals}

func (k Kind) String() string {
	switch k {
	case Locals:
		return "Locals"
	case Members:
		return "Members"
	case Globals:
		return "Globals"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// Frame identifies the stack frame a scope belongs to.
type Frame struct {
	Level int
	File  string
}

// View is the read-only form of a variable returned to callers.
type View struct {
	Handle      int
	Name        string
	Path        string
	Value       string
	Type        string
	HasChildren bool
}

// ref tracks an object that was sent as a bare id.
type ref struct {
	id       uint64
	class    string
	resolved bool
	// cycle is set when the object already appears among the entry's
	// ancestors; its properties are not expanded again.
	cycle bool
}

type entry struct {
	handle   int
	parent   int
	name     string
	path     string
	value    variant.Value
	ref      *ref
	children []int
}

// VariableScope is the snapshot of one kind of variable for one frame.
type VariableScope struct {
	set    *Set
	kind   Kind
	frame  Frame
	handle int
	loaded bool

	byPath  map[string]int
	entries map[int]*entry
	top     []int
}

func (s *VariableScope) Handle() int  { return s.handle }
func (s *VariableScope) Kind() Kind   { return s.kind }
func (s *VariableScope) Frame() Frame { return s.frame }

// Loaded reports whether a snapshot has been ingested since the last reset.
func (s *VariableScope) Loaded() bool { return s.loaded }

// Ingest replaces the scope's contents with a flat [name, value]* list. A
// trailing name without a value is ignored.
func (s *VariableScope) Ingest(pairs []variant.Value) {
	s.entries = make(map[int]*entry)
	s.top = s.top[:0]
	s.loaded = true

	for i := 0; i+1 < len(pairs); i += 2 {
		name, ok := variant.AsString(pairs[i])
		if !ok {
			name = variant.Render(pairs[i])
		}
		h := s.store(0, name, name, pairs[i+1], make(map[uint64]bool))
		s.top = append(s.top, h)
	}

	for _, h := range s.top {
		s.requestIfUnresolved(s.entries[h])
	}
}

// ListTopLevel returns the scope's variables in ingest order.
func (s *VariableScope) ListTopLevel() []View {
	out := make([]View, 0, len(s.top))
	for _, h := range s.top {
		out = append(out, s.view(s.entries[h]))
	}
	return out
}

// ListChildren returns the direct children of a variable of this scope.
func (s *VariableScope) ListChildren(handle int) ([]View, bool) {
	e, ok := s.entries[handle]
	if !ok {
		return nil, false
	}
	out := make([]View, 0, len(e.children))
	for _, h := range e.children {
		out = append(out, s.view(s.entries[h]))
	}
	return out, true
}

// Lookup returns a single variable of this scope.
func (s *VariableScope) Lookup(handle int) (View, bool) {
	e, ok := s.entries[handle]
	if !ok {
		return View{}, false
	}
	return s.view(e), true
}

// Value returns the stored value of a variable. Object references that have
// been resolved return the materialized Object.
func (s *VariableScope) Value(handle int) (variant.Value, bool) {
	e, ok := s.entries[handle]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (s *VariableScope) handleFor(path string) int {
	if h, ok := s.byPath[path]; ok {
		return h
	}
	h := s.set.alloc(s)
	s.byPath[path] = h
	return h
}

func (s *VariableScope) store(parent int, name, path string, v variant.Value, onPath map[uint64]bool) int {
	e := &entry{
		handle: s.handleFor(path),
		parent: parent,
		name:   name,
		path:   path,
		value:  v,
	}
	s.entries[e.handle] = e
	s.expand(e, onPath)
	return e.handle
}

// expand registers e's children, recursing into composite values. A bare
// object id is expanded only once its inspect result is known.
func (s *VariableScope) expand(e *entry, onPath map[uint64]bool) {
	e.children = nil
	v := e.value

	if id, ok := v.(variant.ObjectID); ok {
		e.ref = &ref{id: uint64(id)}
		obj, ok := s.set.objects[uint64(id)]
		if !ok {
			return
		}
		e.ref.class = obj.Class
		e.ref.resolved = true
		e.value = obj
		if onPath[uint64(id)] {
			e.ref.cycle = true
			return
		}
		onPath[uint64(id)] = true
		defer delete(onPath, uint64(id))
		v = obj
	}

	for _, f := range variant.Fields(v) {
		h := s.store(e.handle, f.Name, e.path+f.Path, f.Value, onPath)
		e.children = append(e.children, h)
	}
}

// rematerialize expands every unresolved reference to id now that its
// inspect result has arrived. References are visited in tree order so new
// handles are assigned the same way every time.
func (s *VariableScope) rematerialize(id uint64) {
	var refs []*entry
	var walk func(hs []int)
	walk = func(hs []int) {
		for _, h := range hs {
			e := s.entries[h]
			if e == nil {
				continue
			}
			if e.ref != nil && !e.ref.resolved && e.ref.id == id {
				refs = append(refs, e)
				continue
			}
			walk(e.children)
		}
	}
	walk(s.top)

	for _, e := range refs {
		e.value = variant.ObjectID(id)
		s.expand(e, s.ancestorIDs(e))
	}
}

func (s *VariableScope) ancestorIDs(e *entry) map[uint64]bool {
	ids := make(map[uint64]bool)
	for p := s.entries[e.parent]; p != nil; p = s.entries[p.parent] {
		if p.ref != nil {
			ids[p.ref.id] = true
		}
	}
	return ids
}

func (s *VariableScope) requestIfUnresolved(e *entry) {
	if e != nil && e.ref != nil && !e.ref.resolved {
		s.set.request(e.ref.id)
	}
}

func (s *VariableScope) reset() {
	s.entries = make(map[int]*entry)
	s.top = s.top[:0]
	s.loaded = false
}

// view renders e. An object whose inspect could not be sent has no
// children to offer.
func (s *VariableScope) view(e *entry) View {
	v := View{
		Handle:      e.handle,
		Name:        e.name,
		Path:        e.path,
		Value:       variant.Render(e.value),
		Type:        e.value.Type().String(),
		HasChildren: len(e.children) > 0,
	}
	if e.ref != nil {
		id := strconv.FormatUint(e.ref.id, 10)
		if e.ref.resolved {
			v.Value = e.ref.class + "<" + id + ">"
			v.Type = e.ref.class
		} else {
			v.Value = "Object<" + id + ">"
			v.HasChildren = !s.set.failed[e.ref.id]
		}
	}
	return v
}
