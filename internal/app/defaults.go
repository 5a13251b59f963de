package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

// envDefaults holds the environment overrides for application paths.
type envDefaults struct {
	ConfigPath string `env:"STORIES_CONFIG_PATH"`
	Home       string `env:"STORIES_HOME"`
}

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - STORIES_CONFIG_PATH: config file location (default: ~/.config/stories.toml)
//   - STORIES_HOME: base directory for stories data (default: ~/.local/share/stories)
func GetDefaults() (map[string]string, error) {
	var e envDefaults
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	configPath, baseDir := e.ConfigPath, e.Home
	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "stories.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "stories")
		}
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}
