package commands

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/execsrc/internal/cli/config"
	"github.com/leapstack-labs/execsrc/internal/cli/output"
	"github.com/leapstack-labs/execsrc/internal/state"
	"github.com/spf13/cobra"
)

// InspectOptions holds options for the inspect command.
type InspectOptions struct {
	Source bool
	RunID  string
	Limit  int
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand() *cobra.Command {
	opts := &InspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect [name]",
		Short: "Show recorded provenance",
		Long: `List provenance records saved by previous runs, newest first.

With a name, only records for that binding are shown. --source prints the most
recently recorded source text for the name and nothing else.`,
		Example: `  # List everything recorded
  execsrc inspect

  # Print the source that last defined build
  execsrc inspect build --source`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 1 {
				name = args[0]
			}
			return runInspect(cmd, name, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Source, "source", false, "Print only the latest source for name")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "Only show records from this run")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 50, "Maximum number of records (0 for all)")

	return cmd
}

func runInspect(cmd *cobra.Command, name string, opts *InspectOptions) error {
	cfg := config.FromContext(cmd.Context())
	if opts.Source && name == "" {
		return fmt.Errorf("--source requires a name")
	}

	store, err := openExistingStore(cfg.StatePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	if opts.Source {
		src, ok, err := store.LatestSource(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no provenance recorded for %q", name)
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), src)
		if !strings.HasSuffix(src, "\n") {
			_, _ = fmt.Fprintln(cmd.OutOrStdout())
		}
		return nil
	}

	records, err := store.ListRecords(state.RecordFilter{Name: name, RunID: opts.RunID, Limit: opts.Limit})
	if err != nil {
		return err
	}
	if records == nil {
		records = []state.Record{}
	}

	return newRenderer(cmd, cfg).Render(records, recordTable(records))
}

func recordTable(records []state.Record) output.Table {
	t := output.Table{
		Header: []string{"NAME", "NAMESPACE", "TYPE", "HASH", "SOURCE", "RECORDED"},
		Empty:  "(no records)",
	}
	for _, r := range records {
		hash := r.SourceHash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		t.Rows = append(t.Rows, []any{
			r.Name, r.Namespace, r.ValueType, hash, summarize(r.Source, 40),
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
		})
	}
	return t
}
