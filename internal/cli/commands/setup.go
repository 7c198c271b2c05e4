// Package commands implements the execsrc subcommands.
package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/execsrc/internal/cli/config"
	"github.com/leapstack-labs/execsrc/internal/cli/output"
	starctx "github.com/leapstack-labs/execsrc/internal/starlark"
	"github.com/leapstack-labs/execsrc/internal/state"
	"github.com/spf13/cobra"
)

// newRenderer builds the renderer for cmd from the configured output mode.
func newRenderer(cmd *cobra.Command, cfg *config.Config) *output.Renderer {
	return output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))
}

// newExecutionContext builds the script environment from cfg.
func newExecutionContext(cmd *cobra.Command, cfg *config.Config) (*starctx.ExecutionContext, error) {
	return starctx.NewExecutionContext(cfg.Vars, cfg.Environment,
		starctx.WithLogger(config.GetLogger(cmd.Context())))
}

// openStore opens and migrates the state database, creating its directory if needed.
func openStore(path string) (*state.SQLiteStore, error) {
	if path != ":memory:" {
		stateDir := filepath.Dir(path)
		if stateDir != "." && stateDir != "" {
			if err := os.MkdirAll(stateDir, 0750); err != nil {
				return nil, fmt.Errorf("failed to create state directory: %w", err)
			}
		}
	}

	store := state.NewSQLiteStore()
	if err := store.Open(path); err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// openExistingStore is openStore for read-only commands. A missing database is reported
// instead of created.
func openExistingStore(path string) (*state.SQLiteStore, error) {
	if path != ":memory:" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("no state database at %s\nHint: run 'execsrc run' first or use --state", path)
		}
	}
	return openStore(path)
}

// summarize returns the first non-blank line of src, shortened to width runes.
func summarize(src string, width int) string {
	line := ""
	for _, l := range strings.Split(src, "\n") {
		if strings.TrimSpace(l) != "" {
			line = strings.TrimSpace(l)
			break
		}
	}
	if r := []rune(line); len(r) > width {
		return string(r[:width-1]) + "…"
	}
	return line
}
