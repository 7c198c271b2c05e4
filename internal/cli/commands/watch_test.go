package commands

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/leapstack-labs/execsrc/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startWatch runs watch in the background and returns a channel of changes and a stop func.
func startWatch(t *testing.T, targets []string) (<-chan string, func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	changes := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, targets, 10*time.Millisecond, testutil.NewTestLogger(t), func(changed string) {
			changes <- changed
		})
	}()

	return changes, func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("watch did not stop")
		}
	}
}

// touchUntil rewrites path until want is reported, which also covers the window
// before the watcher is registered.
func touchUntil(t *testing.T, changes <-chan string, path, want string) {
	t.Helper()
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("x = []\n"), 0o600); err != nil {
			return false
		}
		select {
		case got := <-changes:
			return got == want
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatch_Directory(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "codegen.star")

	changes, stop := startWatch(t, []string{dir})
	defer stop()

	touchUntil(t, changes, path, path)
}

func TestWatch_SingleFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "only.star")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	changes, stop := startWatch(t, []string{path})
	defer stop()

	touchUntil(t, changes, path, path)
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	plugin := filepath.Join(dir, "a.star")

	changes, stop := startWatch(t, []string{dir})
	defer stop()

	touchUntil(t, changes, plugin, plugin)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0o600))
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case got := <-changes:
			// late events from the plugin writes above are fine
			assert.Equal(t, plugin, got)
		case <-deadline:
			return
		}
	}
}

func TestWatch_MissingTarget(t *testing.T) {
	err := watch(context.Background(), []string{filepath.Join(t.TempDir(), "missing")},
		time.Millisecond, testutil.NewTestLogger(t), func(string) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to watch")
}
