package capture

import (
	"reflect"

	"go.starlark.net/starlark"
)

// Snapshot records which names a namespace held before an execution, along with
// the identity of reference values so a rebinding can be told apart from a no-op.
type Snapshot struct {
	names map[string]uintptr
}

// Take snapshots the names of ns.
func Take(ns Namespace) Snapshot {
	s := Snapshot{names: make(map[string]uintptr)}
	if !present(ns) {
		return s
	}
	for _, name := range ns.Names() {
		v, _ := ns.Lookup(name)
		s.names[name] = identity(v)
	}
	return s
}

// Has reports whether name was bound when the snapshot was taken.
func (s Snapshot) Has(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Len returns the number of names in the snapshot.
func (s Snapshot) Len() int {
	return len(s.names)
}

// Delta returns the names of ns that are new since the snapshot, plus names now
// bound to a different reference value. Names come back in sorted order.
func (s Snapshot) Delta(ns Namespace) []string {
	if !present(ns) {
		return nil
	}
	var delta []string
	for _, name := range ns.Names() {
		before, had := s.names[name]
		if !had {
			delta = append(delta, name)
			continue
		}
		v, _ := ns.Lookup(name)
		if after := identity(v); after != 0 && after != before {
			delta = append(delta, name)
		}
	}
	return delta
}

// identity is the address of a reference value, or 0 for values without one.
func identity(v starlark.Value) uintptr {
	if v == nil {
		return 0
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return 0
	}
	return rv.Pointer()
}
