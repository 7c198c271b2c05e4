package capture

import (
	"fmt"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// DefaultFilename names executions that do not carry a filename.
const DefaultFilename = "<exec>"

const ambientKey = "execsrc.ambient"

// fileOptions enables the dialect extensions dynamically generated source tends to use.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
}

// SetAmbient makes ns the namespace that executions on thread write into when they
// are given neither globals nor locals. A nil ns clears it.
func SetAmbient(thread *starlark.Thread, ns Namespace) {
	thread.SetLocal(ambientKey, ns)
}

// Ambient returns the ambient namespace of thread, or nil.
func Ambient(thread *starlark.Thread) Namespace {
	if thread == nil {
		return nil
	}
	ns, _ := thread.Local(ambientKey).(Namespace)
	return ns
}

// execBase is the uninstrumented primitive. Bindings go to Locals if present,
// otherwise Globals, otherwise the thread's ambient namespace, otherwise nowhere.
// Bindings made before a failure are still written, and the failure is returned as is.
func execBase(thread *starlark.Thread, req Request) error {
	if thread == nil {
		thread = &starlark.Thread{Name: "exec"}
	}
	filename := req.Filename
	if filename == "" {
		filename = DefaultFilename
	}

	var target Namespace
	var env starlark.StringDict
	switch {
	case present(req.Locals):
		target = req.Locals
		env = predeclared(req.Globals, req.Locals)
	case present(req.Globals):
		target = req.Globals
		env = predeclared(req.Globals)
	default:
		target = Ambient(thread)
		env = predeclared(target)
	}

	prog, err := compile(filename, req.Source, env)
	if err != nil {
		return err
	}

	bindings, err := prog.Init(thread, env)
	if bindErr := bind(target, bindings); err == nil {
		err = bindErr
	}
	return err
}

func compile(filename string, src any, env starlark.StringDict) (*starlark.Program, error) {
	switch s := src.(type) {
	case *starlark.Program:
		return s, nil
	case *syntax.File:
		return starlark.FileProgram(s, env.Has)
	case nil:
		return nil, fmt.Errorf("exec: source is required")
	}
	_, prog, err := starlark.SourceProgramOptions(fileOptions, filename, src, env.Has)
	return prog, err
}

func bind(target Namespace, bindings starlark.StringDict) error {
	if !present(target) {
		return nil
	}
	for _, name := range bindings.Keys() {
		if err := target.Bind(name, bindings[name]); err != nil {
			return fmt.Errorf("exec: bind %s: %w", name, err)
		}
	}
	return nil
}
