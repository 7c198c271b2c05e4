// Package testutil provides test utilities for CLI testing.
package testutil

import (
	"os"
	"path/filepath"
	"regexp"
	"testing"
)

// CodegenPlugin defines a function, a dict and an int.
const CodegenPlugin = `def build(name):
    return "gen_" + name

TABLES = {"users": 1}
count = 3
`

// HelpersPlugin reads the configured vars.
const HelpersPlugin = `def region():
    return vars["region"]

_private = 1
`

// SetupTestProject creates a temporary project with an execsrc.yaml, a plugins
// directory holding codegen.star and helpers.star, and returns its root.
func SetupTestProject(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()

	config := `plugins_dir: plugins
state_path: .execsrc/state.db
vars:
  region: eu
`
	WriteFile(t, filepath.Join(tmpDir, "execsrc.yaml"), config)
	WriteFile(t, filepath.Join(tmpDir, "plugins", "codegen.star"), CodegenPlugin)
	WriteFile(t, filepath.Join(tmpDir, "plugins", "helpers.star"), HelpersPlugin)

	return tmpDir
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

// ansiPattern matches ANSI escape codes.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// AssertNoANSI checks that a string contains no ANSI escape codes.
func AssertNoANSI(t *testing.T, s string) {
	t.Helper()
	if ansiPattern.MatchString(s) {
		t.Errorf("string contains ANSI escape codes: %q", s)
	}
}
