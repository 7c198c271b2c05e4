package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/leapstack-labs/execsrc/internal/plugin"
)

// watch calls onChange after targets change, until ctx is done. A target is a plugin
// directory, where any plugin file counts, or a single file. Bursts of events within
// debounce are coalesced into one call.
func watch(ctx context.Context, targets []string, debounce time.Duration, logger *slog.Logger, onChange func(changed string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dirs := map[string]bool{}  // watched directories, any plugin file matches
	files := map[string]bool{} // watched single files
	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return fmt.Errorf("failed to watch %s: %w", target, err)
		}
		dir := abs
		if info.IsDir() {
			dirs[abs] = true
		} else {
			files[abs] = true
			dir = filepath.Dir(abs)
		}
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	matches := func(name string) bool {
		if files[name] {
			return true
		}
		return dirs[filepath.Dir(name)] && filepath.Ext(name) == plugin.Ext
	}

	var pending <-chan time.Time
	var changed string
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			name, err := filepath.Abs(event.Name)
			if err != nil || !matches(name) {
				continue
			}
			changed = name
			pending = time.After(debounce)

		case <-pending:
			pending = nil
			onChange(changed)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		}
	}
}
