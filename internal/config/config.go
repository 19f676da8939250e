package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override. Keys follow the field
// path: VSSH_PROMPT, VSSH_HISTORY_FILE, VSSH_LOG_LEVEL, VSSH_AUDIT_PATH.
const EnvPrefix = "VSSH"

// Config holds the global vssh configuration.
type Config struct {
	Prompt      string        `yaml:"prompt" validate:"required"`
	HistoryFile string        `yaml:"history_file" split_words:"true"`
	Color       bool          `yaml:"color"`
	Log         LogConfig     `yaml:"log"`
	Audit       AuditConfig   `yaml:"audit"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Policy      PolicyConfig  `yaml:"policy"`
}

// LogConfig controls the diagnostic logger.
type LogConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
	// Path receives log output instead of stderr when set.
	Path string `yaml:"path"`
}

// AuditConfig controls the run audit log.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	// Textfile is rewritten after every run when set.
	Textfile string `yaml:"textfile"`
}

// PolicyConfig selects what vets each stage before it is spawned. With
// neither field set every non-empty stage runs.
type PolicyConfig struct {
	// Builtin enables the built-in deny rules.
	Builtin bool   `yaml:"builtin"`
	Script  string `yaml:"script"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	share := filepath.Join(home, ".local", "share", "vssh")
	return &Config{
		Prompt:      "vssh> ",
		HistoryFile: filepath.Join(share, "history"),
		Color:       true,
		Log: LogConfig{
			Level: "warn",
		},
		Audit: AuditConfig{
			Path: filepath.Join(share, "audit.jsonl"),
		},
	}
}

// ConfigPath returns the standard config file path.
func ConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "vssh", "config.yaml")
}

// Load reads the config from the standard location
// (~/.config/vssh/config.yaml).
func Load() (*Config, error) {
	return LoadFrom(afero.NewOsFs(), ConfigPath())
}

// LoadFrom reads the config at path on fsys, applies VSSH_* environment
// overrides and validates the result. A missing file yields the defaults
// plus overrides.
func LoadFrom(fsys afero.Fs, path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := afero.ReadFile(fsys, path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.HistoryFile = expandHome(cfg.HistoryFile)
	cfg.Log.Path = expandHome(cfg.Log.Path)
	cfg.Audit.Path = expandHome(cfg.Audit.Path)
	cfg.Metrics.Textfile = expandHome(cfg.Metrics.Textfile)
	cfg.Policy.Script = expandHome(cfg.Policy.Script)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate the configuration for basic semantic errors.
func (c *Config) Validate() error {
	validate := validator.New()
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		return strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
	})
	return validate.Struct(c)
}

func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, path[1:])
}
