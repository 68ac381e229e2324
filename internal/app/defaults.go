package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
)

// Defaults are the paths portab uses when the command line does not name
// them. Each can be overridden from the environment:
//   - PORTAB_CONFIG_PATH: config file (default ~/.config/portab.toml)
//   - PORTAB_HOME: data directory (default ~/.local/share/portab)
type Defaults struct {
	ConfigPath string `envconfig:"CONFIG_PATH"`
	BaseDir    string `envconfig:"HOME"`
	LogDir     string `ignored:"true"`
}

// GetDefaults resolves Defaults from the environment, falling back to
// locations under the user's home directory.
func GetDefaults() (*Defaults, error) {
	var d Defaults
	if err := envconfig.Process("portab", &d); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if d.ConfigPath == "" || d.BaseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if d.ConfigPath == "" {
			d.ConfigPath = filepath.Join(homeDir, ".config", "portab.toml")
		}
		if d.BaseDir == "" {
			d.BaseDir = filepath.Join(homeDir, ".local", "share", "portab")
		}
	}
	d.LogDir = filepath.Join(d.BaseDir, "log")
	return &d, nil
}
