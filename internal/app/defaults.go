package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - LOFT_CONFIG_PATH: config file location (default: ~/.config/loft.toml)
//   - LOFT_HOME: base directory for loft data (default: ~/.local/share/loft)
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
		"state_path":  filepath.Join(baseDir, "state.toml"),
	}, nil
}

// getConfigPath returns the config file path, checking LOFT_CONFIG_PATH first,
// then falling back to ~/.config/loft.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("LOFT_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "loft.toml"), nil
}

// getBaseDir returns the base directory for loft data, checking LOFT_HOME first,
// then falling back to the XDG default ~/.local/share/loft.
func getBaseDir() (string, error) {
	if path := os.Getenv("LOFT_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "loft"), nil
}
