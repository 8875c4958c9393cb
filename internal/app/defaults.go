package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment
// variables first, then XDG base directories, then the traditional
// dotfile locations.
//
// Resolution order:
//   - ASSETSTORE_CONFIG_PATH / ASSETSTORE_HOME, if set, win outright.
//   - Otherwise XDG_CONFIG_HOME and XDG_DATA_HOME are honored when set,
//     since a package manager or container image may point those
//     elsewhere without assetstore-specific configuration.
//   - Failing both, paths fall back to ~/.config/assetstore.toml and
//     ~/.local/share/assetstore.
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

func getConfigPath() (string, error) {
	if path := os.Getenv("ASSETSTORE_CONFIG_PATH"); path != "" {
		return path, nil
	}
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "assetstore", "assetstore.toml"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "assetstore.toml"), nil
}

func getBaseDir() (string, error) {
	if path := os.Getenv("ASSETSTORE_HOME"); path != "" {
		return path, nil
	}
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "assetstore"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "assetstore"), nil
}
