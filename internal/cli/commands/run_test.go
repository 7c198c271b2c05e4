package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/leapstack-labs/execsrc/internal/cli/config"
	clitest "github.com/leapstack-labs/execsrc/internal/cli/testutil"
	"github.com/leapstack-labs/execsrc/internal/plugin"
	"github.com/leapstack-labs/execsrc/internal/state"
	"github.com/leapstack-labs/execsrc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeRun(t *testing.T, out string) RunResult {
	t.Helper()
	var result RunResult
	require.NoError(t, json.Unmarshal([]byte(out), &result), "output: %s", out)
	return result
}

func TestRun_RecordsTaggedBindings(t *testing.T) {
	root := clitest.SetupTestProject(t)
	cfg := testConfig(root)

	out, _, err := execute(t, NewRunCommand(), cfg)
	require.NoError(t, err)

	result := decodeRun(t, out)
	assert.Equal(t, 2, result.Plugins)
	assert.NotEmpty(t, result.RunID)

	type key struct{ ns, name string }
	got := map[key]BindingView{}
	for _, b := range result.Bindings {
		got[key{b.Namespace, b.Name}] = b
	}
	require.Len(t, got, 4, "vars, env and _private are not exports")

	build := got[key{"codegen", "build"}]
	assert.True(t, build.Tagged)
	assert.Equal(t, "function", build.Type)
	assert.Equal(t, clitest.CodegenPlugin, build.Source)

	assert.True(t, got[key{"codegen", "TABLES"}].Tagged)
	assert.False(t, got[key{"codegen", "count"}].Tagged, "ints cannot carry provenance")
	assert.Equal(t, clitest.HelpersPlugin, got[key{"helpers", "region"}].Source)

	store := state.NewSQLiteStore()
	require.NoError(t, store.Open(cfg.StatePath))
	defer store.Close()

	records, err := store.ListRecords(state.RecordFilter{RunID: result.RunID})
	require.NoError(t, err)
	assert.Len(t, records, 3)
}

func TestRun_NoRecord(t *testing.T) {
	root := clitest.SetupTestProject(t)
	cfg := testConfig(root)

	out, _, err := execute(t, NewRunCommand(), cfg, "--no-record")
	require.NoError(t, err)

	result := decodeRun(t, out)
	assert.Empty(t, result.RunID)
	_, statErr := os.Stat(cfg.StatePath)
	assert.True(t, os.IsNotExist(statErr), "state database should not be created")
}

func TestRun_Files(t *testing.T) {
	root := clitest.SetupTestProject(t)
	cfg := testConfig(root)

	out, _, err := execute(t, NewRunCommand(), cfg, "--no-record", "-j", "1",
		filepath.Join(root, "plugins", "helpers.star"))
	require.NoError(t, err)

	result := decodeRun(t, out)
	assert.Equal(t, 1, result.Plugins)
	require.Len(t, result.Bindings, 1)
	assert.Equal(t, "region", result.Bindings[0].Name)
}

func TestRun_TextOutput(t *testing.T) {
	root := clitest.SetupTestProject(t)
	cfg := testConfig(root)
	cfg.OutputFormat = config.OutputText

	out, _, err := execute(t, NewRunCommand(), cfg)
	require.NoError(t, err)

	assert.Contains(t, out, "NAMESPACE")
	assert.Contains(t, out, "def build(name):")
	assert.Contains(t, out, "Recorded 3 bindings")
	clitest.AssertNoANSI(t, out)
}

func TestRun_EmptyPluginsDir(t *testing.T) {
	cfg := testConfig(t.TempDir())

	out, _, err := execute(t, NewRunCommand(), cfg)
	require.NoError(t, err)

	result := decodeRun(t, out)
	assert.Zero(t, result.Plugins)
	assert.Empty(t, result.Bindings)
	assert.Empty(t, result.RunID, "nothing to record")
}

func TestRun_PluginError(t *testing.T) {
	root := clitest.SetupTestProject(t)
	clitest.WriteFile(t, filepath.Join(root, "plugins", "broken.star"), "x = undefined_name\n")
	cfg := testConfig(root)

	_, _, err := execute(t, NewRunCommand(), cfg)
	require.Error(t, err)

	var loadErr *plugin.LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "plugins/broken.star")

	_, statErr := os.Stat(cfg.StatePath)
	assert.True(t, os.IsNotExist(statErr), "failed runs record nothing")
}

func TestRun_LogsScriptOutput(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plugins", "noisy.star")
	clitest.WriteFile(t, path, "print(\"hello\", env)\nlines = []\n")

	logger, rec := testutil.NewRecorder()
	_, _, err := executeWithLogger(t, logger, NewRunCommand(), testConfig(root), "--no-record")
	require.NoError(t, err)

	var printed []testutil.Entry
	for _, e := range rec.Entries() {
		if e.Message == "hello dev" {
			printed = append(printed, e)
		}
	}
	require.Len(t, printed, 1)
	assert.Equal(t, path, printed[0].Attrs["thread"])
}
