// Package config handles haconf configuration loading.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"time"

	"github.com/subosito/gotenv"
	"gopkg.in/yaml.v3"

	"github.com/nugget/haconf/internal/configset"
	"github.com/nugget/haconf/internal/homeassistant"
	"github.com/nugget/haconf/internal/official"
)

// FileName is the config file name looked for in each search directory.
const FileName = "haconf.yaml"

// ErrNotFound is returned by FindConfig when no search path holds a
// config file. Callers fall back to Default.
var ErrNotFound = errors.New("no config file found")

// DefaultSearchPaths returns the config file search order.
// An explicit path (from --config) is checked first.
// Then: ./haconf.yaml, ~/.config/haconf/haconf.yaml, /etc/haconf/haconf.yaml.
func DefaultSearchPaths() []string {
	paths := []string{FileName}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "haconf", FileName))
	}

	paths = append(paths, filepath.Join("/etc", "haconf", FileName))
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists,
// or an error wrapping ErrNotFound.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("%w (searched: %v)", ErrNotFound, DefaultSearchPaths())
}

// Official check modes.
const (
	ModeCommand = "command"
	ModeAPI     = "api"
	ModeNone    = "none"
)

// Config holds all haconf configuration.
type Config struct {
	// Root is the Home Assistant configuration directory.
	Root string `yaml:"root"`

	// SnapshotDir holds the registry snapshot. Default <root>/.storage.
	SnapshotDir string `yaml:"snapshot_dir"`

	SecretsFile string `yaml:"secrets_file"`

	// Ignore lists doublestar patterns, relative to root, excluded from
	// validation. Replaces the built-in list when set.
	Ignore []string `yaml:"ignore"`

	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Official      OfficialConfig      `yaml:"official"`
	Validation    ValidationConfig    `yaml:"validation"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // text or json
}

// HomeAssistantConfig locates the live instance.
type HomeAssistantConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`

	// InsecureSkipVerify accepts self-signed certificates on https URLs.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// OfficialConfig selects how the platform's own check is run.
type OfficialConfig struct {
	Mode    string        `yaml:"mode"`    // command, api or none
	Command string        `yaml:"command"` // {root} is replaced with the root
	Timeout time.Duration `yaml:"timeout"`
}

// ValidationConfig tunes the local validators.
type ValidationConfig struct {
	Workers                         int      `yaml:"workers"`
	StrictUnparameterizedBlueprints bool     `yaml:"strict_unparameterized_blueprints"`
	BlueprintDirs                   []string `yaml:"blueprint_dirs"`
}

// Load reads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	// A relative root is relative to the config file, not the CWD.
	if cfg.Root != "" && !filepath.IsAbs(cfg.Root) {
		cfg.Root = filepath.Join(filepath.Dir(path), cfg.Root)
	}
	if cfg.SnapshotDir != "" && !filepath.IsAbs(cfg.SnapshotDir) {
		cfg.SnapshotDir = filepath.Join(filepath.Dir(path), cfg.SnapshotDir)
	}

	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills every unset field. HA_URL and HA_TOKEN from the
// environment are used when the file names no instance.
func (c *Config) applyDefaults() {
	if c.Root == "" {
		c.Root = "."
	}
	if c.SecretsFile == "" {
		c.SecretsFile = "secrets.yaml"
	}
	if c.Ignore == nil {
		c.Ignore = configset.DefaultIgnore()
	}

	if c.HomeAssistant.URL == "" {
		c.HomeAssistant.URL = os.Getenv("HA_URL")
	}
	if c.HomeAssistant.URL == "" {
		c.HomeAssistant.URL = homeassistant.DefaultURL
	}
	if c.HomeAssistant.Token == "" {
		c.HomeAssistant.Token = os.Getenv("HA_TOKEN")
	}

	if c.Official.Mode == "" {
		c.Official.Mode = ModeCommand
	}
	if c.Official.Command == "" {
		c.Official.Command = official.DefaultCommand
	}
	if c.Official.Timeout == 0 {
		c.Official.Timeout = official.DefaultTimeout
	}

	if c.Validation.Workers == 0 {
		c.Validation.Workers = runtime.NumCPU()
	}
	if c.Validation.BlueprintDirs == nil {
		c.Validation.BlueprintDirs = configset.DefaultBlueprintDirs()
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Snapshot returns the registry snapshot directory.
func (c *Config) Snapshot() string {
	if c.SnapshotDir != "" {
		return c.SnapshotDir
	}
	return filepath.Join(c.Root, ".storage")
}

// Validate rejects values that would make a run meaningless.
func (c *Config) Validate() error {
	if !slices.Contains([]string{ModeCommand, ModeAPI, ModeNone}, c.Official.Mode) {
		return fmt.Errorf("official.mode %q invalid (valid: command, api, none)", c.Official.Mode)
	}
	if c.Official.Timeout < 0 {
		return fmt.Errorf("official.timeout %s must be positive", c.Official.Timeout)
	}
	if c.Official.Mode == ModeAPI && c.HomeAssistant.Token == "" {
		return fmt.Errorf("official.mode api requires homeassistant.token or HA_TOKEN")
	}
	if c.Validation.Workers < 0 {
		return fmt.Errorf("validation.workers %d must not be negative", c.Validation.Workers)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("log_format %q invalid (valid: text, json)", c.LogFormat)
	}
	return nil
}

// LoadEnvFile loads KEY=value pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	err := gotenv.Load(path)
	if err != nil && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
