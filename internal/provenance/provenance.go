// Package provenance attaches the source text that produced a Starlark value to that value.
//
// Values that accept fields (starlark.HasSetField) carry the tag directly under Attr.
// Reference values that cannot carry fields are tracked in a process-wide side table keyed
// by weak pointers, so a tag never keeps its value alive. Everything else is rejected with
// ErrNotTaggable.
package provenance

import (
	"errors"
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"
)

// Attr is the reserved attribute name a serializer looks up on a candidate value.
const Attr = "__codepickle_src__"

// ErrNotTaggable is returned for values whose type cannot carry a provenance tag.
var ErrNotTaggable = errors.New("value cannot carry provenance")

var tags = newTable()

// Attach records src as the provenance of v, replacing any previous tag.
func Attach(v starlark.Value, src string) error {
	if v == nil {
		return ErrNotTaggable
	}

	if f, ok := v.(starlark.HasSetField); ok {
		if err := f.SetField(Attr, starlark.String(src)); err != nil {
			return fmt.Errorf("set %s on %s: %w", Attr, v.Type(), err)
		}
		return nil
	}

	switch x := v.(type) {
	case *starlark.Function:
		attach(tags, x, src)
	case *starlark.Builtin:
		attach(tags, x, src)
	case *starlark.Dict:
		attach(tags, x, src)
	case *starlark.List:
		attach(tags, x, src)
	case *starlark.Set:
		attach(tags, x, src)
	case *starlarkstruct.Struct:
		attach(tags, x, src)
	case *starlarkstruct.Module:
		attach(tags, x, src)
	default:
		return fmt.Errorf("%w: %s", ErrNotTaggable, v.Type())
	}
	return nil
}

// Lookup returns the provenance recorded for v, if any.
func Lookup(v starlark.Value) (string, bool) {
	if v == nil {
		return "", false
	}

	if a, ok := v.(starlark.HasAttrs); ok {
		if attr, err := a.Attr(Attr); err == nil && attr != nil {
			if s, ok := starlark.AsString(attr); ok {
				return s, true
			}
		}
	}

	switch x := v.(type) {
	case *starlark.Function:
		return lookup(tags, x)
	case *starlark.Builtin:
		return lookup(tags, x)
	case *starlark.Dict:
		return lookup(tags, x)
	case *starlark.List:
		return lookup(tags, x)
	case *starlark.Set:
		return lookup(tags, x)
	case *starlarkstruct.Struct:
		return lookup(tags, x)
	case *starlarkstruct.Module:
		return lookup(tags, x)
	}
	return "", false
}

// Forget drops the side-table entry for v. Field-carried tags are left alone.
func Forget(v starlark.Value) {
	switch x := v.(type) {
	case *starlark.Function:
		forget(tags, x)
	case *starlark.Builtin:
		forget(tags, x)
	case *starlark.Dict:
		forget(tags, x)
	case *starlark.List:
		forget(tags, x)
	case *starlark.Set:
		forget(tags, x)
	case *starlarkstruct.Struct:
		forget(tags, x)
	case *starlarkstruct.Module:
		forget(tags, x)
	}
}

// Len returns the number of live side-table entries.
func Len() int {
	return tags.len()
}
