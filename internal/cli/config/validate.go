package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.PluginsDir == "" {
		return fmt.Errorf("plugins_dir is required")
	}
	if !slices.Contains(OutputModes, c.OutputFormat) {
		return fmt.Errorf("invalid output mode %q (expected one of %s)", c.OutputFormat, strings.Join(OutputModes, ", "))
	}
	if c.Jobs < 1 {
		return fmt.Errorf("jobs must be positive, got %d", c.Jobs)
	}
	return nil
}

// ValidateDirectories checks if the plugins directory exists.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.PluginsDir); os.IsNotExist(err) {
		return fmt.Errorf("plugins directory does not exist: %s\nHint: Create the directory or use --plugins-dir to specify a different path", c.PluginsDir)
	}
	return nil
}
