package commands

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"

	"github.com/chzyer/readline"
	"github.com/leapstack-labs/execsrc/internal/capture"
	"github.com/leapstack-labs/execsrc/internal/cli/config"
	"github.com/leapstack-labs/execsrc/internal/cli/output"
	"github.com/leapstack-labs/execsrc/internal/plugin"
	"github.com/leapstack-labs/execsrc/internal/provenance"
	starctx "github.com/leapstack-labs/execsrc/internal/starlark"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const (
	replPrompt     = "execsrc> "
	replContPrompt = "     ...> "
)

// REPLOptions holds options for the repl command.
type REPLOptions struct {
	NoPlugins bool
}

// NewREPLCommand creates the repl command.
func NewREPLCommand() *cobra.Command {
	opts := &REPLOptions{}

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive Starlark session with provenance tracking",
		Long: `Start an interactive session. Every cell is executed with exec into one
session namespace, so each definition remembers the cell that produced it.

Loaded plugins are available as modules named after their files.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runREPL(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoPlugins, "no-plugins", false, "Do not load plugins into the session")

	return cmd
}

func runREPL(cmd *cobra.Command, opts *REPLOptions) error {
	cfg := config.FromContext(cmd.Context())

	execCtx, err := newExecutionContext(cmd, cfg)
	if err != nil {
		return err
	}

	modules := starlark.StringDict{}
	if !opts.NoPlugins {
		plugins, err := plugin.NewLoader(cfg.PluginsDir, execCtx, cfg.Jobs).Load(cmd.Context())
		if err != nil {
			return err
		}
		registry := plugin.NewRegistry()
		for _, p := range plugins {
			if err := registry.Register(p); err != nil {
				return err
			}
		}
		modules = registry.ToStarlarkDict()
	}

	s := newSession(execCtx, modules, cmd.OutOrStdout())

	// Setup history file next to the state database
	historyFile := ""
	if cfg.StatePath != ":memory:" {
		dir := filepath.Dir(cfg.StatePath)
		if err := os.MkdirAll(dir, 0750); err == nil {
			historyFile = filepath.Join(dir, "repl_history")
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          replPrompt,
		HistoryFile:     historyFile,
		AutoComplete:    newSessionCompleter(s),
		InterruptPrompt: "^C",
		EOFPrompt:       ".quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize REPL: %w", err)
	}
	defer func() { _ = rl.Close() }()

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "execsrc REPL (env: %s, modules: %d)\n", cfg.Environment, len(modules))
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Type .help for commands, .quit to exit")
	_, _ = fmt.Fprintln(cmd.OutOrStdout())

	return replLoop(rl, s, cmd.OutOrStdout(), cmd.ErrOrStderr())
}

// lineReader is the subset of *readline.Instance used by the loop.
type lineReader interface {
	Readline() (string, error)
	SetPrompt(prompt string)
}

// replLoop reads cells until EOF or .quit. A line ending in ':' opens a block that
// runs when a blank line is entered.
func replLoop(rl lineReader, s *session, out, errOut io.Writer) error {
	var block strings.Builder

	run := func(src string) {
		if err := s.run(src, out); err != nil {
			_, _ = fmt.Fprintf(errOut, "Error: %v\n", err)
		}
	}

	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			block.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		trimmed := strings.TrimSpace(line)

		if block.Len() > 0 {
			if trimmed != "" {
				block.WriteString(line)
				block.WriteString("\n")
				continue
			}
			run(block.String())
			block.Reset()
			rl.SetPrompt(replPrompt)
			continue
		}

		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "."):
			if quit := s.handleDotCommand(trimmed, out, errOut); quit {
				return nil
			}
		case strings.HasSuffix(trimmed, ":"):
			block.WriteString(trimmed)
			block.WriteString("\n")
			rl.SetPrompt(replContPrompt)
		default:
			run(trimmed)
		}
	}

	if block.Len() > 0 {
		run(block.String())
	}
	return nil
}

// session is the namespace shared by every cell of a REPL.
type session struct {
	thread  *starlark.Thread
	globals starlark.StringDict
	seeded  starlark.StringDict
	cells   int
}

func newSession(execCtx *starctx.ExecutionContext, modules starlark.StringDict, out io.Writer) *session {
	globals := execCtx.Globals()
	maps.Copy(globals, modules)

	thread := execCtx.NewThread("repl")
	thread.Print = func(_ *starlark.Thread, msg string) {
		_, _ = fmt.Fprintln(out, msg)
	}
	return &session{
		thread:  thread,
		globals: globals,
		seeded:  maps.Clone(globals),
	}
}

var exprOptions = &syntax.FileOptions{}

// run executes one cell. An expression is evaluated and its value printed; anything
// else goes through exec into the session namespace.
func (s *session) run(src string, out io.Writer) error {
	s.cells++
	filename := fmt.Sprintf("<cell %d>", s.cells)

	if _, err := exprOptions.ParseExpr(filename, src, 0); err == nil {
		v, err := starlark.EvalOptions(exprOptions, s.thread, filename, src, s.globals)
		if err != nil {
			return err
		}
		if v != starlark.None {
			_, _ = fmt.Fprintln(out, v.String())
		}
		return nil
	}

	return capture.Exec(s.thread, capture.Request{
		Filename: filename,
		Source:   src,
		Globals:  capture.StringDict(s.globals),
	})
}

// names returns the bindings made by the session, excluding the seeded environment.
func (s *session) names() []string {
	var names []string
	for name, v := range s.globals {
		if seed, ok := s.seeded[name]; ok && sameValue(seed, v) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sameValue(a, b starlark.Value) bool {
	t := reflect.TypeOf(a)
	return t != nil && t == reflect.TypeOf(b) && t.Comparable() && a == b
}

func (s *session) handleDotCommand(line string, out, errOut io.Writer) bool {
	parts := strings.Fields(line)
	command := strings.ToLower(parts[0])

	switch command {
	case ".quit", ".exit":
		return true

	case ".help":
		printREPLHelp(out)

	case ".names":
		t := output.Table{Header: []string{"NAME", "TYPE", "TAGGED"}, Empty: "(no bindings)"}
		for _, name := range s.names() {
			v := s.globals[name]
			_, tagged := provenance.Lookup(v)
			t.Rows = append(t.Rows, []any{name, v.Type(), tagged})
		}
		output.NewRendererWithTTY(out, errOut, true, output.ModeText).Table(t)

	case ".source":
		if len(parts) < 2 {
			_, _ = fmt.Fprintln(errOut, "Usage: .source <name>")
			return false
		}
		v, ok := s.globals[parts[1]]
		if !ok {
			_, _ = fmt.Fprintf(errOut, "Error: %s is not defined\n", parts[1])
			return false
		}
		src, ok := provenance.Lookup(v)
		if !ok {
			_, _ = fmt.Fprintf(out, "%s has no recorded source\n", parts[1])
			return false
		}
		_, _ = fmt.Fprintln(out, strings.TrimRight(src, "\n"))

	default:
		_, _ = fmt.Fprintf(errOut, "Unknown command: %s (type .help for commands)\n", command)
	}
	return false
}

func printREPLHelp(w io.Writer) {
	help := `
Commands:
  .help           Show this help message
  .names          List session bindings and whether they carry source
  .source <name>  Print the cell that produced a binding
  .quit / .exit   Exit the REPL

Tips:
  - A line ending in ':' starts a block; finish it with an empty line
  - Expressions are evaluated and printed
  - Use arrow keys to navigate history
`
	_, _ = fmt.Fprintln(w, help)
}

// newSessionCompleter completes dot-commands and session names for .source.
func newSessionCompleter(s *session) *readline.PrefixCompleter {
	return readline.NewPrefixCompleter(
		readline.PcItem(".help"),
		readline.PcItem(".names"),
		readline.PcItem(".source", readline.PcItemDynamic(func(string) []string {
			return s.names()
		})),
		readline.PcItem(".quit"),
		readline.PcItem(".exit"),
	)
}
