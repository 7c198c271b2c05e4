// Package config loads the execsrc CLI configuration.
//
// Values are layered with koanf: defaults, then execsrc.yaml, then EXECSRC_*
// environment variables, then explicitly set flags.
package config

// Config holds all CLI configuration options.
type Config struct {
	PluginsDir   string               `koanf:"plugins_dir"`
	StatePath    string               `koanf:"state_path"`
	Environment  string               `koanf:"environment"`
	Verbose      bool                 `koanf:"verbose"`
	OutputFormat string               `koanf:"output"`
	Jobs         int                  `koanf:"jobs"`
	Vars         map[string]any       `koanf:"vars"`
	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// EnvConfig holds environment-specific configuration overrides.
type EnvConfig struct {
	PluginsDir string         `koanf:"plugins_dir"`
	Vars       map[string]any `koanf:"vars"`
}

// Output modes accepted by the output setting.
const (
	OutputAuto = "auto"
	OutputText = "text"
	OutputJSON = "json"
	OutputYAML = "yaml"
)

// OutputModes lists the accepted output modes.
var OutputModes = []string{OutputAuto, OutputText, OutputJSON, OutputYAML}
