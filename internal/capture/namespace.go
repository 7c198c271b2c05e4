package capture

import (
	"sort"

	"go.starlark.net/starlark"
)

// Namespace is a mutable name-to-value mapping used as the environment of an
// execution. It is borrowed from the caller for the duration of one call.
type Namespace interface {
	Names() []string
	Lookup(name string) (starlark.Value, bool)
	Bind(name string, v starlark.Value) error
}

// StringDict adapts a starlark.StringDict. The map is shared, not copied.
type StringDict starlark.StringDict

// Names returns the bound names in sorted order.
func (d StringDict) Names() []string {
	return starlark.StringDict(d).Keys()
}

// Lookup returns the value bound to name.
func (d StringDict) Lookup(name string) (starlark.Value, bool) {
	v, ok := d[name]
	return v, ok
}

// Bind sets name to v.
func (d StringDict) Bind(name string, v starlark.Value) error {
	d[name] = v
	return nil
}

// Dict adapts a *starlark.Dict whose keys are strings. Non-string keys are not names.
type Dict struct {
	*starlark.Dict
}

// Names returns the string keys of the dict in sorted order.
func (d Dict) Names() []string {
	keys := d.Keys()
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		if s, ok := k.(starlark.String); ok {
			names = append(names, string(s))
		}
	}
	sort.Strings(names)
	return names
}

// Lookup returns the value bound to name.
func (d Dict) Lookup(name string) (starlark.Value, bool) {
	v, found, err := d.Get(starlark.String(name))
	if err != nil || !found {
		return nil, false
	}
	return v, true
}

// Bind sets name to v. It fails if the dict is frozen or being iterated.
func (d Dict) Bind(name string, v starlark.Value) error {
	return d.SetKey(starlark.String(name), v)
}

// present reports whether ns refers to an actual mapping.
func present(ns Namespace) bool {
	switch n := ns.(type) {
	case nil:
		return false
	case StringDict:
		return n != nil
	case Dict:
		return n.Dict != nil
	case *Dict:
		return n != nil && n.Dict != nil
	}
	return true
}

// predeclared flattens namespaces into one environment. Later namespaces win.
func predeclared(namespaces ...Namespace) starlark.StringDict {
	env := make(starlark.StringDict)
	for _, ns := range namespaces {
		if !present(ns) {
			continue
		}
		for _, name := range ns.Names() {
			if v, ok := ns.Lookup(name); ok {
				env[name] = v
			}
		}
	}
	return env
}
