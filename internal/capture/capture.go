// Package capture intercepts the process-wide Starlark execution entry point and
// tags every binding an execution introduces with the source text that produced it.
//
// Call Install once during startup. From then on every call to Exec, including the
// exec builtin available to scripts, snapshots the target namespace, forwards to the
// underlying primitive, and attaches the source to each new binding via the
// provenance package. Tagging is best-effort: it never changes a binding, never
// returns an error, and never runs when execution failed.
package capture

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/leapstack-labs/execsrc/internal/provenance"
)

// ExecFunc runs req on thread. An execution produces no value; only an error.
type ExecFunc func(thread *starlark.Thread, req Request) error

// Request is a single execution: the source plus the namespaces it runs against.
type Request struct {
	// Filename is used in error positions. Defaults to "<exec>".
	Filename string

	// Source is a string, []byte, io.Reader, *syntax.File or *starlark.Program.
	Source any

	// Globals is read by the execution and, when Locals is absent, receives its bindings.
	Globals Namespace

	// Locals, when present, receives the bindings and shadows Globals for lookups.
	Locals Namespace
}

// Convention is the calling convention a request resolves to.
type Convention int

const (
	// Passthrough forwards the request untouched: precompiled source or ambient scope.
	Passthrough Convention = iota
	// GlobalsOnly writes new bindings into Globals.
	GlobalsOnly
	// WithLocals writes new bindings into Locals.
	WithLocals
)

func (c Convention) String() string {
	switch c {
	case Passthrough:
		return "passthrough"
	case GlobalsOnly:
		return "globals"
	case WithLocals:
		return "locals"
	}
	return fmt.Sprintf("Convention(%d)", int(c))
}

// Classify resolves the calling convention of req.
func Classify(req Request) Convention {
	switch req.Source.(type) {
	case *starlark.Program, *syntax.File:
		return Passthrough
	}
	switch {
	case present(req.Locals):
		return WithLocals
	case present(req.Globals):
		return GlobalsOnly
	}
	return Passthrough
}

var (
	installOnce sync.Once
	entry       ExecFunc = execBase
	installed   bool
)

// Install replaces the execution entry point with the intercepting wrapper and
// registers the exec and provenance builtins in starlark.Universe. It is meant to be
// called once during startup, before any thread runs; later calls do nothing.
func Install() {
	installOnce.Do(func() {
		entry = Intercept(entry)
		starlark.Universe["exec"] = starlark.NewBuiltin("exec", execBuiltin)
		starlark.Universe["provenance"] = starlark.NewBuiltin("provenance", provenanceBuiltin)
		installed = true
	})
}

// Installed reports whether Install has run.
func Installed() bool {
	return installed
}

// Exec runs req through the process-wide entry point.
func Exec(thread *starlark.Thread, req Request) error {
	return entry(thread, req)
}

// Intercept wraps next so that each successful execution tags the bindings it introduced.
func Intercept(next ExecFunc) ExecFunc {
	return func(thread *starlark.Thread, req Request) error {
		var target Namespace
		switch Classify(req) {
		case Passthrough:
			return next(thread, req)
		case GlobalsOnly:
			target = req.Globals
		case WithLocals:
			target = req.Locals
		}

		text, ok, err := sourceText(req.Source)
		if err != nil {
			return err
		}
		if !ok {
			return next(thread, req)
		}
		req.Source = text

		before := Take(target)
		if err := next(thread, req); err != nil {
			return err
		}
		for _, name := range before.Delta(target) {
			tag(target, name, text)
		}
		return nil
	}
}

// tag attaches src to the value bound to name, swallowing every failure.
func tag(ns Namespace, name, src string) {
	defer func() { _ = recover() }()

	if v, ok := ns.Lookup(name); ok {
		_ = provenance.Attach(v, src)
	}
}

// sourceText returns the text of a textual source, draining readers. It reports
// false for sources that have no text, which are left for the primitive to reject.
func sourceText(src any) (string, bool, error) {
	switch s := src.(type) {
	case string:
		return s, true, nil
	case []byte:
		return string(s), true, nil
	case io.Reader:
		var buf bytes.Buffer
		if _, err := buf.ReadFrom(s); err != nil {
			return "", false, fmt.Errorf("read source: %w", err)
		}
		return buf.String(), true, nil
	}
	return "", false, nil
}
