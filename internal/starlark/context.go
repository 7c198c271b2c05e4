package starlark

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/execsrc/internal/capture"
	"go.starlark.net/starlark"
)

// ExecutionContext provides the predeclared globals and thread setup for script execution.
// Every execution goes through capture.Exec, so bindings it introduces carry provenance.
type ExecutionContext struct {
	// Vars is the frozen dict exposed to scripts as the "vars" global.
	Vars starlark.Value

	// Env is the current environment name, exposed as "env".
	Env string

	logger *slog.Logger

	// extra holds globals added with AddGlobals
	extra starlark.StringDict

	mu sync.RWMutex
}

// reserved names that AddGlobals refuses to shadow.
var reserved = map[string]bool{
	"vars": true,
	"env":  true,
}

// ContextOption is a functional option for configuring ExecutionContext.
type ContextOption func(*ExecutionContext)

// WithLogger routes script print output to logger.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(ctx *ExecutionContext) {
		if logger != nil {
			ctx.logger = logger
		}
	}
}

// NewExecutionContext creates an execution context. vars is converted with GoToStarlark.
func NewExecutionContext(vars map[string]any, env string, opts ...ContextOption) (*ExecutionContext, error) {
	v, err := VarsToStarlark(vars)
	if err != nil {
		return nil, fmt.Errorf("vars: %w", err)
	}
	v.Freeze()

	ctx := &ExecutionContext{
		Vars:   v,
		Env:    env,
		logger: slog.New(slog.DiscardHandler),
		extra:  make(starlark.StringDict),
	}
	for _, opt := range opts {
		opt(ctx)
	}
	return ctx, nil
}

// VarsToStarlark converts the configured vars map to a Starlark dict.
func VarsToStarlark(vars map[string]any) (starlark.Value, error) {
	if vars == nil {
		return starlark.NewDict(0), nil
	}
	return GoToStarlark(vars)
}

// AddGlobals adds extra predeclared globals. Returns error if a name conflicts with a builtin.
func (ctx *ExecutionContext) AddGlobals(globals starlark.StringDict) error {
	for name := range globals {
		if reserved[name] {
			return fmt.Errorf("global %q conflicts with builtin", name)
		}
	}

	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	for name, v := range globals {
		v.Freeze()
		ctx.extra[name] = v
	}
	return nil
}

// Globals returns a fresh globals namespace. Callers own the returned map.
func (ctx *ExecutionContext) Globals() starlark.StringDict {
	ctx.mu.RLock()
	defer ctx.mu.RUnlock()

	globals := make(starlark.StringDict, len(ctx.extra)+2)
	for name, v := range ctx.extra {
		globals[name] = v
	}
	globals["vars"] = ctx.Vars
	globals["env"] = starlark.String(ctx.Env)
	return globals
}

// NewThread creates a thread whose print output goes to the context logger.
func (ctx *ExecutionContext) NewThread(name string) *starlark.Thread {
	logger := ctx.logger
	return &starlark.Thread{
		Name: name,
		Print: func(thread *starlark.Thread, msg string) {
			logger.Info(msg, "thread", thread.Name)
		},
	}
}

// Logger returns the logger used for script output.
func (ctx *ExecutionContext) Logger() *slog.Logger {
	return ctx.logger
}

// ExecFile executes src as filename against a fresh globals namespace and returns it.
func (ctx *ExecutionContext) ExecFile(filename string, src any) (starlark.StringDict, error) {
	thread := ctx.NewThread(filename)
	globals := ctx.Globals()

	err := capture.Exec(thread, capture.Request{
		Filename: filename,
		Source:   src,
		Globals:  capture.StringDict(globals),
	})
	if err != nil {
		return globals, &ExecError{File: filename, Err: err}
	}
	return globals, nil
}

// ExecError represents an error during Starlark execution.
type ExecError struct {
	File string
	Err  error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("%s: %v", e.File, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}
