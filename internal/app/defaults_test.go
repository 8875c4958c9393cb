package app

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetDefaults(t *testing.T) {
	t.Run("explicit env vars win over everything", func(t *testing.T) {
		t.Setenv("ASSETSTORE_CONFIG_PATH", "/custom/config.toml")
		t.Setenv("ASSETSTORE_HOME", "/custom/assetstore")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		if defaults["config_path"] != "/custom/config.toml" {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], "/custom/config.toml")
		}
		if defaults["base_dir"] != "/custom/assetstore" {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], "/custom/assetstore")
		}
		if defaults["log_dir"] != "/custom/assetstore/log" {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], "/custom/assetstore/log")
		}
	})

	t.Run("falls back to XDG base directories", func(t *testing.T) {
		t.Setenv("ASSETSTORE_CONFIG_PATH", "")
		t.Setenv("ASSETSTORE_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
		t.Setenv("XDG_DATA_HOME", "/xdg/data")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		wantConfig := filepath.Join("/xdg/config", "assetstore", "assetstore.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join("/xdg/data", "assetstore")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}
	})

	t.Run("falls back to dotfile defaults when nothing is set", func(t *testing.T) {
		t.Setenv("ASSETSTORE_CONFIG_PATH", "")
		t.Setenv("ASSETSTORE_HOME", "")
		t.Setenv("XDG_CONFIG_HOME", "")
		t.Setenv("XDG_DATA_HOME", "")

		defaults, err := GetDefaults()
		if err != nil {
			t.Fatalf("GetDefaults() error = %v", err)
		}

		homeDir, _ := os.UserHomeDir()

		wantConfig := filepath.Join(homeDir, ".config", "assetstore.toml")
		if defaults["config_path"] != wantConfig {
			t.Errorf("config_path = %q, want %q", defaults["config_path"], wantConfig)
		}

		wantBase := filepath.Join(homeDir, ".local", "share", "assetstore")
		if defaults["base_dir"] != wantBase {
			t.Errorf("base_dir = %q, want %q", defaults["base_dir"], wantBase)
		}

		wantLog := filepath.Join(wantBase, "log")
		if defaults["log_dir"] != wantLog {
			t.Errorf("log_dir = %q, want %q", defaults["log_dir"], wantLog)
		}
	})
}
