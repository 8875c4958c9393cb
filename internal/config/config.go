// Package config loads the asset library's TOML configuration.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the asset library's process configuration.
type Config struct {
	BaseDir   string          `toml:"base_dir"`
	LogDir    string          `toml:"log_dir"`
	LogLevel  string          `toml:"log_level"` // "debug", "info", "warn", or "error"
	Blobstore BlobstoreConfig `toml:"blobstore"`
	Database  DatabaseConfig  `toml:"database"`
	GC        GCConfig        `toml:"gc"`
}

// LogLevelEnvVar overrides Config.LogLevel when set, without touching
// the config file on disk — useful for turning on debug logging for a
// single invocation.
const LogLevelEnvVar = "ASSETSTORE_LOG_LEVEL"

// EffectiveLogLevel resolves the slog level to log at: LogLevelEnvVar if
// set, else cfg.LogLevel, else info. An unrecognized value falls back to
// info rather than failing the caller.
func EffectiveLogLevel(cfg *Config) slog.Level {
	raw := cfg.LogLevel
	if env := os.Getenv(LogLevelEnvVar); env != "" {
		raw = env
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// BlobstoreConfig holds the content-addressed blob store's on-disk root.
type BlobstoreConfig struct {
	Root string `toml:"root"`
}

// DatabaseConfig holds the embedded SQLite database's location.
type DatabaseConfig struct {
	Path string `toml:"path"` // file path, or ":memory:" (tests only)
}

// GCConfig controls the File Store's orphan-sweep behavior.
type GCConfig struct {
	// Interval is how often an unattended process should run Cleanup.
	// Zero disables scheduled sweeps; the CLI's "gc" subcommand always
	// runs one regardless of this setting.
	Interval time.Duration `toml:"interval"`
}

const defaultLogLevel = "info"

// NewConfig creates a new Config with default paths rooted at baseDir.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:  baseDir,
		LogDir:   filepath.Join(baseDir, "log"),
		LogLevel: defaultLogLevel,
		Blobstore: BlobstoreConfig{
			Root: filepath.Join(baseDir, "files"),
		},
		Database: DatabaseConfig{
			Path: filepath.Join(baseDir, "assetstore.db"),
		},
		GC: GCConfig{
			Interval: 24 * time.Hour,
		},
	}
}

// Exists reports whether a config file is already present at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader. A config file written
// before LogLevel existed decodes with an empty LogLevel; Read fills it
// in with defaultLogLevel so older config files keep working without a
// manual edit.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if Exists(path) {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
