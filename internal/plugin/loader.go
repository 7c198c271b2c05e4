// Package plugin loads Starlark plugin files through the provenance-capturing
// execution entry point. Each plugin is namespaced by its filename, and every
// exported binding reports the source that introduced it.
package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/leapstack-labs/execsrc/internal/provenance"
	starctx "github.com/leapstack-labs/execsrc/internal/starlark"
	"go.starlark.net/starlark"
)

// Ext is the plugin file extension.
const Ext = ".star"

// Loader scans a directory for plugin files and executes them.
type Loader struct {
	dir     string
	ctx     *starctx.ExecutionContext
	workers int
}

// NewLoader creates a loader for dir. workers bounds parallel execution.
func NewLoader(dir string, ctx *starctx.ExecutionContext, workers int) *Loader {
	return &Loader{dir: dir, ctx: ctx, workers: workers}
}

// LoadedPlugin represents an executed plugin file.
type LoadedPlugin struct {
	// Namespace is derived from filename (e.g., "codegen" from "codegen.star")
	Namespace string

	// Path is the path to the plugin file
	Path string

	// Exports contains all exported values (names not starting with _)
	Exports starlark.StringDict

	// Bindings describes each export and its provenance, sorted by name
	Bindings []Binding
}

// Binding is one exported name together with the source that produced its value.
type Binding struct {
	Name   string
	Type   string
	Source string
	Tagged bool
}

// Discover returns the plugin files in the loader directory in lexical order.
// A missing directory yields no files and no error.
func (l *Loader) Discover() ([]string, error) {
	info, err := os.Stat(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to access plugins directory: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("plugins path is not a directory: %s", l.dir)
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*"+Ext))
	if err != nil {
		return nil, fmt.Errorf("failed to scan plugins directory: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

// Load discovers and executes every plugin in the loader directory.
func (l *Loader) Load(ctx context.Context) ([]*LoadedPlugin, error) {
	files, err := l.Discover()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, nil
	}
	return l.LoadFiles(ctx, files)
}

// LoadFiles executes the given plugin files. The first failing file, in input order,
// is returned as a *LoadError.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) ([]*LoadedPlugin, error) {
	tasks := make([]starctx.ExecTask, len(paths))
	namespaces := make([]string, len(paths))

	for i, path := range paths {
		namespace := strings.TrimSuffix(filepath.Base(path), Ext)
		if err := validateNamespace(namespace); err != nil {
			return nil, &LoadError{File: path, Message: err.Error()}
		}

		content, err := os.ReadFile(path) //nolint:gosec // G304: plugin paths come from the plugins directory or the command line
		if err != nil {
			return nil, &LoadError{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}
		}

		namespaces[i] = namespace
		tasks[i] = starctx.ExecTask{Name: path, Source: content}
	}

	results := starctx.NewParallelExecutor(l.workers, l.ctx).Execute(ctx, tasks)

	plugins := make([]*LoadedPlugin, 0, len(results))
	for i, res := range results {
		if res.Error != nil {
			return nil, &LoadError{
				File:    res.Name,
				Message: fmt.Sprintf("Starlark execution error: %v", unwrapExec(res.Error)),
				Err:     res.Error,
			}
		}
		plugins = append(plugins, newLoadedPlugin(namespaces[i], res.Name, res.Globals, l.ctx.Globals()))
	}
	return plugins, nil
}

func newLoadedPlugin(namespace, path string, globals, predeclared starlark.StringDict) *LoadedPlugin {
	exports := make(starlark.StringDict)
	for name, value := range globals {
		if strings.HasPrefix(name, "_") {
			continue
		}
		// seeded globals are part of the environment, not the plugin
		if seed, ok := predeclared[name]; ok && sameValue(seed, value) {
			continue
		}
		exports[name] = value
	}

	bindings := make([]Binding, 0, len(exports))
	for _, name := range exports.Keys() {
		v := exports[name]
		src, tagged := provenance.Lookup(v)
		bindings = append(bindings, Binding{
			Name:   name,
			Type:   v.Type(),
			Source: src,
			Tagged: tagged,
		})
	}

	return &LoadedPlugin{
		Namespace: namespace,
		Path:      path,
		Exports:   exports,
		Bindings:  bindings,
	}
}

// sameValue compares values without panicking on uncomparable types.
func sameValue(a, b starlark.Value) bool {
	ta, tb := reflect.TypeOf(a), reflect.TypeOf(b)
	if ta == nil || ta != tb || !ta.Comparable() {
		return false
	}
	return a == b
}

func unwrapExec(err error) error {
	if e, ok := err.(*starctx.ExecError); ok {
		return e.Err
	}
	return err
}

// validateNamespace checks if a namespace name is valid.
func validateNamespace(name string) error {
	if name == "" {
		return fmt.Errorf("namespace cannot be empty")
	}

	for i, r := range name {
		if i == 0 {
			if !isLetter(r) && r != '_' {
				return fmt.Errorf("namespace must start with letter or underscore: %s", name)
			}
		} else if !isLetter(r) && !isDigit(r) && r != '_' {
			return fmt.Errorf("namespace contains invalid character: %s", name)
		}
	}

	return nil
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func isDigit(r rune) bool {
	return r >= '0' && r <= '9'
}

// LoadError represents an error loading a plugin file.
type LoadError struct {
	File    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("plugins/%s: %s", filepath.Base(e.File), e.Message)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
