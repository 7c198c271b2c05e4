package capture

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"

	"github.com/leapstack-labs/execsrc/internal/provenance"
)

func TestMain(m *testing.M) {
	Install()
	os.Exit(m.Run())
}

func newThread() *starlark.Thread {
	return &starlark.Thread{Name: "test", Print: func(_ *starlark.Thread, _ string) {}}
}

func sourceOf(t *testing.T, v starlark.Value) string {
	t.Helper()
	src, ok := provenance.Lookup(v)
	require.True(t, ok, "%s should carry provenance", v.Type())
	return src
}

func TestInstall(t *testing.T) {
	Install() // second call is a no-op

	assert.True(t, Installed())
	for _, name := range []string{"exec", "provenance"} {
		b, ok := starlark.Universe[name].(*starlark.Builtin)
		require.True(t, ok, "%s should be a universal builtin", name)
		assert.Equal(t, name, b.Name())
	}
}

func TestClassify(t *testing.T) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, "p.star", "x = 1", func(string) bool { return false })
	require.NoError(t, err)

	g := StringDict{}
	l := StringDict{}

	tests := []struct {
		name string
		req  Request
		want Convention
	}{
		{name: "no namespaces", req: Request{Source: "x = 1"}, want: Passthrough},
		{name: "nil maps", req: Request{Source: "x = 1", Globals: StringDict(nil), Locals: StringDict(nil)}, want: Passthrough},
		{name: "nil dict", req: Request{Source: "x = 1", Globals: Dict{}}, want: Passthrough},
		{name: "precompiled with globals", req: Request{Source: prog, Globals: g}, want: Passthrough},
		{name: "globals only", req: Request{Source: "x = 1", Globals: g}, want: GlobalsOnly},
		{name: "locals only", req: Request{Source: "x = 1", Locals: l}, want: WithLocals},
		{name: "globals and locals", req: Request{Source: "x = 1", Globals: g, Locals: l}, want: WithLocals},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.req))
		})
	}
}

func TestExec_GlobalsOnly(t *testing.T) {
	const src = "def f(): pass"
	g := StringDict{}

	err := Exec(newThread(), Request{Source: src, Globals: g})
	require.NoError(t, err)

	require.Contains(t, g, "f")
	assert.Equal(t, src, sourceOf(t, g["f"]))
}

func TestExec_WithLocals(t *testing.T) {
	const src = "def g():\n    return base\n"
	globals := StringDict{"base": starlark.MakeInt(7)}
	helper := starlark.NewList(nil)
	globals["helper"] = helper
	locals := StringDict{}

	err := Exec(newThread(), Request{Source: src, Globals: globals, Locals: locals})
	require.NoError(t, err)

	require.Contains(t, locals, "g")
	assert.Equal(t, src, sourceOf(t, locals["g"]))

	assert.Len(t, globals, 2, "globals must not gain bindings")
	assert.NotContains(t, globals, "g")
	_, tagged := provenance.Lookup(helper)
	assert.False(t, tagged, "existing globals must not be tagged")

	v, err := starlark.Call(newThread(), locals["g"], nil, nil)
	require.NoError(t, err)
	assert.Equal(t, starlark.MakeInt(7), v, "locals execution should read globals")
}

func TestExec_Redefinition(t *testing.T) {
	const first = "def f():\n    return 1\n"
	const second = "def f():\n    return 2\n"
	g := StringDict{}

	require.NoError(t, Exec(newThread(), Request{Source: first, Globals: g}))
	old := g["f"]

	require.NoError(t, Exec(newThread(), Request{Source: second, Globals: g}))

	assert.NotSame(t, old, g["f"])
	assert.Equal(t, second, sourceOf(t, g["f"]))
	assert.Equal(t, first, sourceOf(t, old), "the old function keeps its own tag")
}

func TestExec_UnchangedBindingNotRetagged(t *testing.T) {
	g := StringDict{}
	require.NoError(t, Exec(newThread(), Request{Source: "items = []", Globals: g}))
	require.NoError(t, Exec(newThread(), Request{Source: "other = 1", Globals: g}))

	assert.Equal(t, "items = []", sourceOf(t, g["items"]))
}

func TestExec_Ambient(t *testing.T) {
	t.Run("no ambient namespace", func(t *testing.T) {
		err := Exec(newThread(), Request{Source: "x = [1, 2]"})
		assert.NoError(t, err)
	})

	t.Run("ambient namespace receives untagged bindings", func(t *testing.T) {
		thread := newThread()
		ambient := StringDict{}
		SetAmbient(thread, ambient)

		err := Exec(thread, Request{Source: "x = [1, 2]"})
		require.NoError(t, err)

		require.Contains(t, ambient, "x")
		_, tagged := provenance.Lookup(ambient["x"])
		assert.False(t, tagged)
	})
}

func TestExec_UntaggableValues(t *testing.T) {
	const src = "n = 1\ns = 'text'\nt = (1, 2)\nl = []\n"
	g := StringDict{}

	err := Exec(newThread(), Request{Source: src, Globals: g})
	require.NoError(t, err)

	for _, name := range []string{"n", "s", "t"} {
		_, tagged := provenance.Lookup(g[name])
		assert.False(t, tagged, "%s should stay untagged", name)
	}
	assert.Equal(t, src, sourceOf(t, g["l"]))
	assert.Equal(t, starlark.MakeInt(1), g["n"], "tagging must not alter bindings")
}

func TestExec_ErrorPropagates(t *testing.T) {
	sentinel := errors.New("boom")
	g := StringDict{}

	wrapped := Intercept(func(_ *starlark.Thread, req Request) error {
		_ = req.Globals.Bind("partial", starlark.NewList(nil))
		return sentinel
	})

	err := wrapped(newThread(), Request{Source: "partial = []", Globals: g})
	assert.Same(t, sentinel, err)

	require.Contains(t, g, "partial")
	_, tagged := provenance.Lookup(g["partial"])
	assert.False(t, tagged, "failed executions must not tag")
}

func TestExec_ScriptErrorMatchesPrimitive(t *testing.T) {
	const src = "a = []\nfail('broken')\n"

	direct := execBase(newThread(), Request{Source: src, Globals: StringDict{}})
	require.Error(t, direct)

	g := StringDict{}
	err := Exec(newThread(), Request{Source: src, Globals: g})
	require.Error(t, err)
	assert.Equal(t, direct.Error(), err.Error())

	var evalErr *starlark.EvalError
	assert.ErrorAs(t, err, &evalErr)

	require.Contains(t, g, "a", "bindings made before the failure remain")
	_, tagged := provenance.Lookup(g["a"])
	assert.False(t, tagged)
}

func TestExec_SyntaxError(t *testing.T) {
	g := StringDict{}
	err := Exec(newThread(), Request{Source: "def (:", Globals: g})
	require.Error(t, err)
	assert.Empty(t, g)
}

func TestExec_ReturnMatchesPrimitive(t *testing.T) {
	direct := execBase(newThread(), Request{Source: "x = {}", Globals: StringDict{}})
	wrapped := Exec(newThread(), Request{Source: "x = {}", Globals: StringDict{}})
	assert.NoError(t, direct)
	assert.NoError(t, wrapped)
}

func TestExec_Precompiled(t *testing.T) {
	_, prog, err := starlark.SourceProgramOptions(fileOptions, "p.star", "d = {}", func(string) bool { return false })
	require.NoError(t, err)

	g := StringDict{}
	require.NoError(t, Exec(newThread(), Request{Source: prog, Globals: g}))

	require.Contains(t, g, "d")
	_, tagged := provenance.Lookup(g["d"])
	assert.False(t, tagged, "precompiled code has no source to attach")
}

func TestExec_ReaderSource(t *testing.T) {
	const src = "def r(): pass"
	g := StringDict{}

	require.NoError(t, Exec(newThread(), Request{Source: strings.NewReader(src), Globals: g}))
	assert.Equal(t, src, sourceOf(t, g["r"]))
}

func TestExec_UnsupportedSource(t *testing.T) {
	err := Exec(newThread(), Request{Source: 42, Globals: StringDict{}})
	assert.Error(t, err)
}

// armedNamespace panics on lookups of name once armed, after execution.
type armedNamespace struct {
	StringDict
	name  string
	armed bool
}

func (n *armedNamespace) Lookup(name string) (starlark.Value, bool) {
	if n.armed && name == n.name {
		panic("lookup exploded")
	}
	return n.StringDict.Lookup(name)
}

func TestIntercept_TaggingPanicIsContained(t *testing.T) {
	ns := &armedNamespace{StringDict: StringDict{}, name: "boom"}

	wrapped := Intercept(func(_ *starlark.Thread, _ Request) error {
		ns.StringDict["boom"] = starlark.NewList(nil)
		ns.StringDict["zzz"] = starlark.NewList(nil)
		ns.armed = true
		return nil
	})

	var err error
	assert.NotPanics(t, func() {
		err = wrapped(newThread(), Request{Source: "boom = []\nzzz = []", Globals: ns})
	})
	require.NoError(t, err)
	assert.Equal(t, "boom = []\nzzz = []", sourceOf(t, ns.StringDict["zzz"]), "later names are still tagged")
}

func TestExecBuiltin(t *testing.T) {
	tests := []struct {
		name   string
		script string
		check  func(t *testing.T, g StringDict)
	}{
		{
			name:   "positional globals",
			script: "g = {}\nr = exec('def f(): pass', g)\nsrc = provenance(g['f'])\n",
			check: func(t *testing.T, g StringDict) {
				assert.Equal(t, starlark.None, g["r"])
				assert.Equal(t, starlark.String("def f(): pass"), g["src"])
			},
		},
		{
			name:   "keyword locals",
			script: "g = {'k': 2}\nl = {}\nexec('v = [k]', locals=l, globals=g)\nsrc = provenance(l['v'])\nkeys = sorted(g.keys())\n",
			check: func(t *testing.T, g StringDict) {
				assert.Equal(t, starlark.String("v = [k]"), g["src"])
				assert.Equal(t, "[\"k\"]", g["keys"].String())
			},
		},
		{
			name:   "none namespaces",
			script: "exec('x = 1', None, None)\nok = True\n",
			check: func(t *testing.T, g StringDict) {
				assert.Equal(t, starlark.True, g["ok"])
				assert.NotContains(t, g, "x")
			},
		},
		{
			name:   "untagged value",
			script: "g = {}\nexec('n = 3', g)\nsrc = provenance(g['n'])\n",
			check: func(t *testing.T, g StringDict) {
				assert.Equal(t, starlark.None, g["src"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := StringDict{}
			require.NoError(t, Exec(newThread(), Request{Filename: "script.star", Source: tt.script, Globals: g}))
			tt.check(t, g)
		})
	}
}

func TestExecBuiltin_Errors(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		wantErr string
	}{
		{name: "executed source fails", script: "exec(\"fail('inner')\", {})", wantErr: "inner"},
		{name: "bad globals", script: "exec('x = 1', [])", wantErr: "globals must be a dict"},
		{name: "bad locals", script: "exec('x = 1', {}, 3)", wantErr: "locals must be a dict"},
		{name: "bad source", script: "exec(1, {})", wantErr: "source must be a string"},
		{name: "missing source", script: "exec()", wantErr: "missing argument"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Exec(newThread(), Request{Source: tt.script, Globals: StringDict{}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConventionString(t *testing.T) {
	assert.Equal(t, "passthrough", Passthrough.String())
	assert.Equal(t, "globals", GlobalsOnly.String())
	assert.Equal(t, "locals", WithLocals.String())
	assert.Equal(t, "Convention(9)", Convention(9).String())
}
