package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - NASSYNC_CONFIG_PATH: config file location (default: ~/.config/nassync.toml)
//   - NASSYNC_HOME: base directory for nassync data (default: ~/.local/share/nassync)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking NASSYNC_CONFIG_PATH env
// var first, then falling back to the default ~/.config/nassync.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("NASSYNC_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "nassync.toml"), nil
}

// getBaseDir returns the base directory for nassync data, checking NASSYNC_HOME
// env var first, then falling back to the XDG default ~/.local/share/nassync.
func getBaseDir() (string, error) {
	if path := os.Getenv("NASSYNC_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "nassync"), nil
}
