package scope

import (
	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// InspectFunc asks the engine for the class and properties of an object. The
// answer must be delivered with Set.ResolveObject, or abandoned with
// Set.Expire. An error means the request was not sent.
type InspectFunc func(id uint64) error

type scopeKey struct {
	frame Frame
	kind  Kind
}

// Set holds the scopes of one session together with the object inspect
// state they share. It is not safe for concurrent use.
type Set struct {
	inspect InspectFunc

	next    int
	scopes  map[scopeKey]*VariableScope
	order   []*VariableScope // creation order
	handles map[int]*VariableScope

	objects  map[uint64]variant.Object
	inflight map[uint64]bool
	failed   map[uint64]bool
	waiters  []func()
	closed   bool
}

// NewSet creates an empty set. inspect may be nil, in which case bare object
// ids are never resolved.
func NewSet(inspect InspectFunc) *Set {
	return &Set{
		inspect:  inspect,
		scopes:   make(map[scopeKey]*VariableScope),
		handles:  make(map[int]*VariableScope),
		objects:  make(map[uint64]variant.Object),
		inflight: make(map[uint64]bool),
		failed:   make(map[uint64]bool),
	}
}

func (s *Set) alloc(owner *VariableScope) int {
	s.next++
	s.handles[s.next] = owner
	return s.next
}

// Scope returns the scope for frame and kind, creating it on first use.
func (s *Set) Scope(frame Frame, kind Kind) *VariableScope {
	key := scopeKey{frame: frame, kind: kind}
	if sc, ok := s.scopes[key]; ok {
		return sc
	}
	sc := &VariableScope{
		set:     s,
		kind:    kind,
		frame:   frame,
		byPath:  make(map[string]int),
		entries: make(map[int]*entry),
	}
	sc.handle = s.alloc(sc)
	s.scopes[key] = sc
	s.order = append(s.order, sc)
	return sc
}

// Find returns an existing scope without creating one.
func (s *Set) Find(frame Frame, kind Kind) (*VariableScope, bool) {
	sc, ok := s.scopes[scopeKey{frame: frame, kind: kind}]
	return sc, ok
}

// Resolve lists what a handle refers to: the top-level variables of a scope
// handle, or the direct children of a variable handle.
func (s *Set) Resolve(handle int) ([]View, bool) {
	sc, ok := s.handles[handle]
	if !ok {
		return nil, false
	}
	if sc.handle == handle {
		if !sc.loaded {
			return nil, false
		}
		return sc.ListTopLevel(), true
	}
	return sc.ListChildren(handle)
}

// Lookup returns the variable behind a handle.
func (s *Set) Lookup(handle int) (View, bool) {
	sc, ok := s.handles[handle]
	if !ok {
		return View{}, false
	}
	return sc.Lookup(handle)
}

// Owner returns the scope a handle belongs to.
func (s *Set) Owner(handle int) (*VariableScope, bool) {
	sc, ok := s.handles[handle]
	return sc, ok
}

// Prepare requests inspects needed to render what Resolve(handle) returns:
// the variable itself when it is an unresolved object, and any unresolved
// object among the listed variables. It reports whether inspects are
// outstanding.
func (s *Set) Prepare(handle int) bool {
	sc, ok := s.handles[handle]
	if !ok {
		return s.Pending() > 0
	}
	var listed []int
	if sc.handle == handle {
		listed = sc.top
	} else if e, ok := sc.entries[handle]; ok {
		sc.requestIfUnresolved(e)
		listed = e.children
	}
	for _, h := range listed {
		sc.requestIfUnresolved(sc.entries[h])
	}
	return s.Pending() > 0
}

// Settle calls fn once Resolve(handle) can be answered without unresolved
// objects. Resolving an object exposes its properties, which may themselves
// be unresolved, so preparation runs twice.
func (s *Set) Settle(handle int, fn func()) {
	s.Prepare(handle)
	s.Await(func() {
		s.Prepare(handle)
		s.Await(fn)
	})
}

func (s *Set) request(id uint64) {
	if s.closed || s.inspect == nil || s.inflight[id] {
		return
	}
	if _, ok := s.objects[id]; ok {
		return
	}
	if s.failed[id] {
		return
	}
	if err := s.inspect(id); err != nil {
		s.failed[id] = true
		return
	}
	s.inflight[id] = true
}

// Pending returns the number of inspects awaiting an answer.
func (s *Set) Pending() int {
	return len(s.inflight)
}

// Await runs fn now if no inspect is outstanding, otherwise once the last one
// is answered or expired. After Close, fn is dropped.
func (s *Set) Await(fn func()) {
	if s.closed {
		return
	}
	if len(s.inflight) == 0 {
		fn()
		return
	}
	s.waiters = append(s.waiters, fn)
}

// ResolveObject records the inspect result for id and expands every variable
// that referenced it. The decoded values already stored are not modified;
// each reference gets a newly materialized Object.
func (s *Set) ResolveObject(id uint64, obj variant.Object) {
	if s.closed {
		return
	}
	s.objects[id] = obj
	delete(s.inflight, id)
	for _, sc := range s.order {
		sc.rematerialize(id)
	}
	s.flush()
}

// Expire abandons the inspect for id. References to it stay unresolved.
func (s *Set) Expire(id uint64) {
	if s.closed || !s.inflight[id] {
		return
	}
	delete(s.inflight, id)
	s.flush()
}

func (s *Set) flush() {
	for len(s.inflight) == 0 && len(s.waiters) > 0 {
		waiters := s.waiters
		s.waiters = nil
		for _, fn := range waiters {
			fn()
		}
	}
}

// Reset invalidates every snapshot, typically because execution resumed.
// Scopes and their handle assignments are kept, so variables that reappear
// in the next snapshot get the same handles. Outstanding waiters still run
// once their inspects finish.
func (s *Set) Reset() {
	for _, sc := range s.order {
		sc.reset()
	}
	s.objects = make(map[uint64]variant.Object)
	s.failed = make(map[uint64]bool)
}

// Close drops all state. Queued callbacks are discarded without being called.
func (s *Set) Close() {
	s.closed = true
	s.waiters = nil
	s.inflight = make(map[uint64]bool)
	s.scopes = make(map[scopeKey]*VariableScope)
	s.order = nil
	s.handles = make(map[int]*VariableScope)
	s.objects = make(map[uint64]variant.Object)
}
