package commands

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/execsrc/internal/cli/config"
	"github.com/leapstack-labs/execsrc/internal/cli/output"
	"github.com/leapstack-labs/execsrc/internal/plugin"
	"github.com/leapstack-labs/execsrc/internal/state"
	"github.com/spf13/cobra"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	NoRecord bool
	Watch    bool
	Jobs     int
}

// BindingView is the serialized form of one exported binding.
type BindingView struct {
	Namespace string `json:"namespace" yaml:"namespace"`
	Name      string `json:"name" yaml:"name"`
	Type      string `json:"type" yaml:"type"`
	Tagged    bool   `json:"tagged" yaml:"tagged"`
	Source    string `json:"source,omitempty" yaml:"source,omitempty"`
	Path      string `json:"path" yaml:"path"`
}

// RunResult is the serialized result of one run.
type RunResult struct {
	RunID    string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	Plugins  int           `json:"plugins" yaml:"plugins"`
	Bindings []BindingView `json:"bindings" yaml:"bindings"`
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run [files...]",
		Short: "Execute plugin scripts and report binding provenance",
		Long: `Execute Starlark plugin scripts through the provenance-capturing exec.

Without arguments, every *.star file in the plugins directory is run. Each exported
binding is listed together with the source text that produced it, and tagged
bindings are recorded in the state database.`,
		Example: `  # Run all plugins
  execsrc run

  # Run specific files as JSON
  execsrc run -o json plugins/codegen.star

  # Re-run whenever a plugin changes
  execsrc run --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoRecord, "no-record", false, "Do not save provenance to the state database")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run when plugin files change")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 0, "Number of plugins executed in parallel (default from config)")

	return cmd
}

func runRun(cmd *cobra.Command, files []string, opts *RunOptions) error {
	ctx := cmd.Context()
	cfg := config.FromContext(ctx)
	logger := config.GetLogger(ctx)
	r := newRenderer(cmd, cfg)

	jobs := cfg.Jobs
	if opts.Jobs > 0 {
		jobs = opts.Jobs
	}

	once := func(ctx context.Context) error {
		execCtx, err := newExecutionContext(cmd, cfg)
		if err != nil {
			return err
		}
		loader := plugin.NewLoader(cfg.PluginsDir, execCtx, jobs)
		return runOnce(ctx, loader, files, cfg, opts, r, logger)
	}

	if !opts.Watch {
		return once(ctx)
	}

	if err := once(ctx); err != nil {
		_, _ = fmt.Fprintf(r.ErrOut(), "Error: %v\n", err)
	}

	targets := files
	if len(targets) == 0 {
		targets = []string{cfg.PluginsDir}
	}
	r.Println("Watching for changes. Press Ctrl+C to stop.")
	return watch(ctx, targets, 100*time.Millisecond, logger, func(changed string) {
		logger.Info("change detected", "file", changed)
		if err := once(ctx); err != nil {
			_, _ = fmt.Fprintf(r.ErrOut(), "Error: %v\n", err)
		}
	})
}

// runOnce loads the plugins, renders their bindings and records the tagged ones.
func runOnce(ctx context.Context, loader *plugin.Loader, files []string, cfg *config.Config,
	opts *RunOptions, r *output.Renderer, logger *slog.Logger) error {
	start := time.Now()

	var plugins []*plugin.LoadedPlugin
	var err error
	if len(files) > 0 {
		plugins, err = loader.LoadFiles(ctx, files)
	} else {
		plugins, err = loader.Load(ctx)
	}
	if err != nil {
		return err
	}

	registry := plugin.NewRegistry()
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return err
		}
	}

	result := RunResult{Plugins: len(plugins), Bindings: []BindingView{}}
	var records []state.Record
	for _, ns := range registry.Namespaces() {
		p, _ := registry.Get(ns)
		for _, b := range p.Bindings {
			result.Bindings = append(result.Bindings, BindingView{
				Namespace: p.Namespace,
				Name:      b.Name,
				Type:      b.Type,
				Tagged:    b.Tagged,
				Source:    b.Source,
				Path:      p.Path,
			})
			if b.Tagged {
				records = append(records, state.Record{
					Script:    p.Path,
					Namespace: p.Namespace,
					Name:      b.Name,
					ValueType: b.Type,
					Source:    b.Source,
				})
			}
		}
	}
	logger.Debug("plugins executed", "plugins", len(plugins), "bindings", len(result.Bindings),
		"duration", time.Since(start))

	if !opts.NoRecord && len(records) > 0 {
		runID, err := record(cfg, records)
		if err != nil {
			return err
		}
		result.RunID = runID
		logger.Debug("provenance recorded", "run", runID, "records", len(records))
	}

	if err := r.Render(result, bindingTable(result.Bindings)); err != nil {
		return err
	}
	if result.RunID != "" {
		r.Println(fmt.Sprintf("Recorded %d bindings (run %s)", len(records), result.RunID))
	}
	return nil
}

func record(cfg *config.Config, records []state.Record) (string, error) {
	store, err := openStore(cfg.StatePath)
	if err != nil {
		return "", err
	}
	defer func() { _ = store.Close() }()

	run, err := store.CreateRun(cfg.Environment)
	if err != nil {
		return "", err
	}
	if err := store.SaveRecords(run.ID, records); err != nil {
		return "", err
	}
	return run.ID, nil
}

func bindingTable(bindings []BindingView) output.Table {
	t := output.Table{
		Header: []string{"NAMESPACE", "NAME", "TYPE", "SOURCE"},
		Empty:  "(no bindings)",
	}
	for _, b := range bindings {
		src := "-"
		if b.Tagged {
			src = summarize(b.Source, 48)
		}
		t.Rows = append(t.Rows, []any{b.Namespace, b.Name, b.Type, src})
	}
	return t
}
