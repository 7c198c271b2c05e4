package capture

import (
	"fmt"

	"go.starlark.net/starlark"

	"github.com/leapstack-labs/execsrc/internal/provenance"
)

// execBuiltin implements exec(source, globals=None, locals=None).
// Arguments may be positional or keyword; None means absent. Always returns None.
func execBuiltin(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var source, globals, locals starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs,
		"source", &source,
		"globals?", &globals,
		"locals?", &locals,
	); err != nil {
		return nil, err
	}

	var text string
	switch s := source.(type) {
	case starlark.String:
		text = string(s)
	case starlark.Bytes:
		text = string(s)
	default:
		return nil, fmt.Errorf("%s: source must be a string, not %s", b.Name(), source.Type())
	}

	g, err := namespaceArg(b.Name(), "globals", globals)
	if err != nil {
		return nil, err
	}
	l, err := namespaceArg(b.Name(), "locals", locals)
	if err != nil {
		return nil, err
	}

	if err := Exec(thread, Request{Source: text, Globals: g, Locals: l}); err != nil {
		return nil, err
	}
	return starlark.None, nil
}

// provenanceBuiltin implements provenance(value), returning its source or None.
func provenanceBuiltin(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &v); err != nil {
		return nil, err
	}
	if src, ok := provenance.Lookup(v); ok {
		return starlark.String(src), nil
	}
	return starlark.None, nil
}

func namespaceArg(fn, param string, v starlark.Value) (Namespace, error) {
	switch d := v.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case *starlark.Dict:
		return Dict{d}, nil
	}
	return nil, fmt.Errorf("%s: %s must be a dict, not %s", fn, param, v.Type())
}
