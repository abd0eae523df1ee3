package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the settings of the library CLI.
type Config struct {
	DatabasePath     string        `yaml:"database"`
	ExportFile       string        `yaml:"export_file"`
	AutoSaveFile     string        `yaml:"autosave_file"`
	AutoSaveInterval time.Duration `yaml:"autosave_interval"`
	LogLevel         string        `yaml:"log_level"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DatabasePath:     "library.db",
		ExportFile:       "books.json",
		AutoSaveFile:     "books_autosave.json",
		AutoSaveInterval: 10 * time.Second,
		LogLevel:         "info",
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), a .env file in the working directory if present, and
// LIBRARY_* environment variables, later sources winning.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(filepath.Clean(path))
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	// .env is optional; variables already set in the environment take precedence.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	cfg.DatabasePath = getenv("LIBRARY_DB", cfg.DatabasePath)
	cfg.ExportFile = getenv("LIBRARY_EXPORT_FILE", cfg.ExportFile)
	cfg.AutoSaveFile = getenv("LIBRARY_AUTOSAVE_FILE", cfg.AutoSaveFile)
	cfg.LogLevel = getenv("LIBRARY_LOG_LEVEL", cfg.LogLevel)
	if v := os.Getenv("LIBRARY_AUTOSAVE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("LIBRARY_AUTOSAVE_INTERVAL: %w", err)
		}
		cfg.AutoSaveInterval = d
	}

	return cfg, cfg.Validate()
}

// Validate reports settings the CLI cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("database path must not be empty")
	}
	if c.AutoSaveInterval <= 0 {
		return fmt.Errorf("autosave interval must be positive, got %s", c.AutoSaveInterval)
	}
	if filepath.Clean(c.AutoSaveFile) == filepath.Clean(c.ExportFile) {
		return fmt.Errorf("autosave file %q must differ from export file", c.AutoSaveFile)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (c Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return l, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
