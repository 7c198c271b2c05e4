// Package config holds the project-level configuration defaults and config file
// discovery shared by the CLI and tests.
package config

// Default configuration values.
const (
	DefaultPluginsDir = "plugins"
	DefaultStateFile  = ".execsrc/state.db"
	DefaultEnv        = "dev"
	DefaultOutput     = "auto" // TTY=text, otherwise json
	DefaultJobs       = 4
)

// Defaults returns the default configuration as a flat koanf map.
func Defaults() map[string]any {
	return map[string]any{
		"plugins_dir": DefaultPluginsDir,
		"state_path":  DefaultStateFile,
		"environment": DefaultEnv,
		"verbose":     false,
		"output":      DefaultOutput,
		"jobs":        DefaultJobs,
	}
}
