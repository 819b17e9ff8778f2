// Package config loads correl8 configuration from YAML files and the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/correl8/correl8/pkg/store"
	"github.com/correl8/correl8/pkg/timestamp"
)

const (
	// ProjectFileName is the project configuration file looked up in the working directory.
	ProjectFileName = ".correl8.yaml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "CORREL8_"
)

// Config is the merged correl8 configuration.
type Config struct {
	Version   int             `yaml:"version"`
	Index     IndexConfig     `yaml:"index"`
	Store     StoreConfig     `yaml:"store"`
	Timestamp TimestampConfig `yaml:"timestamp"`
	Bulk      BulkConfig      `yaml:"bulk"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// IndexConfig names the indexes a handle works on.
type IndexConfig struct {
	BaseName string `yaml:"base_name"`
	DocType  string `yaml:"doc_type"`
	ConfigID string `yaml:"config_id"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Backend    string   `yaml:"backend"`
	Hosts      []string `yaml:"hosts"`
	Username   string   `yaml:"username"`
	Password   string   `yaml:"password"`
	APIKey     string   `yaml:"api_key,omitempty"`
	DataDir    string   `yaml:"data_dir,omitempty"`
	MaxRetries int      `yaml:"max_retries"`
}

// TimestampConfig bounds the numeric timestamp window.
type TimestampConfig struct {
	PastWindow   string `yaml:"past_window"`
	FutureWindow string `yaml:"future_window"`
}

// BulkConfig configures bulk requests.
type BulkConfig struct {
	RequestTimeout string `yaml:"request_timeout"`
}

// LoggingConfig configures the log level.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NewConfig returns a Config with default values.
func NewConfig() *Config {
	conn := store.DefaultConnection()
	return &Config{
		Version: 1,
		Index: IndexConfig{
			BaseName: "correl8-elastic",
			ConfigID: "settings",
		},
		Store: StoreConfig{
			Backend:    conn.Backend,
			Hosts:      conn.Hosts,
			Username:   conn.Username,
			Password:   conn.Password,
			MaxRetries: conn.MaxRetries,
		},
		Timestamp: TimestampConfig{
			PastWindow:   "10y",
			FutureWindow: "24h",
		},
		Bulk: BulkConfig{
			RequestTimeout: "5m",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// GetUserConfigPath returns the user configuration file:
//   - $XDG_CONFIG_HOME/correl8/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/correl8/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "correl8", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "correl8", "config.yaml")
	}
	return filepath.Join(home, ".config", "correl8", "config.yaml")
}

// GetUserConfigDir returns the directory containing the user configuration.
func GetUserConfigDir() string {
	return filepath.Dir(GetUserConfigPath())
}

// UserConfigExists reports whether the user configuration file exists.
func UserConfigExists() bool {
	return fileExists(GetUserConfigPath())
}

// GetProjectConfigPath returns the project configuration file inside dir.
func GetProjectConfigPath(dir string) string {
	return filepath.Join(dir, ProjectFileName)
}

// Load loads configuration for the project in dir.
// Precedence, lowest first:
//  1. Defaults
//  2. User config (~/.config/correl8/config.yaml)
//  3. Project config (.correl8.yaml in dir)
//  4. Environment variables (CORREL8_*)
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, fmt.Errorf("failed to load user config: %w", err)
		}
	}

	if path := GetProjectConfigPath(dir); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadFile reads a single YAML file on top of the defaults, without the
// environment. Used by `config show --source`.
func LoadFile(path string) (*Config, error) {
	cfg := NewConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith copies the non-zero values of other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	setString(&c.Index.BaseName, other.Index.BaseName)
	setString(&c.Index.DocType, other.Index.DocType)
	setString(&c.Index.ConfigID, other.Index.ConfigID)

	setString(&c.Store.Backend, other.Store.Backend)
	if len(other.Store.Hosts) > 0 {
		c.Store.Hosts = other.Store.Hosts
	}
	setString(&c.Store.Username, other.Store.Username)
	setString(&c.Store.Password, other.Store.Password)
	setString(&c.Store.APIKey, other.Store.APIKey)
	setString(&c.Store.DataDir, other.Store.DataDir)
	if other.Store.MaxRetries != 0 {
		c.Store.MaxRetries = other.Store.MaxRetries
	}

	setString(&c.Timestamp.PastWindow, other.Timestamp.PastWindow)
	setString(&c.Timestamp.FutureWindow, other.Timestamp.FutureWindow)
	setString(&c.Bulk.RequestTimeout, other.Bulk.RequestTimeout)
	setString(&c.Logging.Level, other.Logging.Level)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// applyEnvOverrides applies CORREL8_* environment variables.
func (c *Config) applyEnvOverrides() {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	setString(&c.Index.BaseName, env("BASE_NAME"))
	setString(&c.Index.DocType, env("DOC_TYPE"))
	setString(&c.Index.ConfigID, env("CONFIG_ID"))

	setString(&c.Store.Backend, env("BACKEND"))
	if v := env("HOSTS"); v != "" {
		var hosts []string
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
		c.Store.Hosts = hosts
	}
	setString(&c.Store.Username, env("USERNAME"))
	setString(&c.Store.Password, env("PASSWORD"))
	setString(&c.Store.APIKey, env("API_KEY"))
	setString(&c.Store.DataDir, env("DATA_DIR"))
	if v := env("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Store.MaxRetries = n
		}
	}

	setString(&c.Timestamp.PastWindow, env("PAST_WINDOW"))
	setString(&c.Timestamp.FutureWindow, env("FUTURE_WINDOW"))
	setString(&c.Bulk.RequestTimeout, env("BULK_TIMEOUT"))
	setString(&c.Logging.Level, env("LOG_LEVEL"))
}

// Validate returns an error describing the first invalid value.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Index.BaseName) == "" {
		return fmt.Errorf("index.base_name must not be empty")
	}
	if strings.ContainsAny(c.Index.BaseName+c.Index.DocType, ` "*\,/<>?|#`) {
		return fmt.Errorf("index.base_name and index.doc_type must not contain spaces or any of \"*\\,/<>?|#")
	}

	switch strings.ToLower(c.Store.Backend) {
	case store.BackendElastic:
		if len(c.Store.Hosts) == 0 {
			return fmt.Errorf("store.hosts must list at least one host for the elastic backend")
		}
	case store.BackendLocal:
	default:
		return fmt.Errorf("store.backend must be 'elastic' or 'local', got %s", c.Store.Backend)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store.max_retries must be non-negative, got %d", c.Store.MaxRetries)
	}

	past, err := ParseDuration(c.Timestamp.PastWindow)
	if err != nil {
		return fmt.Errorf("timestamp.past_window: %w", err)
	}
	future, err := ParseDuration(c.Timestamp.FutureWindow)
	if err != nil {
		return fmt.Errorf("timestamp.future_window: %w", err)
	}
	if past <= future {
		return fmt.Errorf("timestamp.past_window (%s) must be larger than timestamp.future_window (%s)",
			c.Timestamp.PastWindow, c.Timestamp.FutureWindow)
	}
	if d, err := ParseDuration(c.Bulk.RequestTimeout); err != nil || d <= 0 {
		return fmt.Errorf("bulk.request_timeout must be a positive duration, got %q", c.Bulk.RequestTimeout)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}
	return nil
}

// Connection returns the store connection options.
func (c *Config) Connection() store.Connection {
	return store.Connection{
		Backend:    strings.ToLower(c.Store.Backend),
		Hosts:      append([]string(nil), c.Store.Hosts...),
		Username:   c.Store.Username,
		Password:   c.Store.Password,
		APIKey:     c.Store.APIKey,
		MaxRetries: c.Store.MaxRetries,
		DataDir:    expandHome(c.Store.DataDir),
	}
}

// Window returns the timestamp normalizer for the configured horizons.
// Call after Validate.
func (c *Config) Window() *timestamp.Window {
	past, _ := ParseDuration(c.Timestamp.PastWindow)
	future, _ := ParseDuration(c.Timestamp.FutureWindow)
	return timestamp.NewWindow(past, future)
}

// BulkTimeout returns the bulk request ceiling. Call after Validate.
func (c *Config) BulkTimeout() time.Duration {
	d, _ := ParseDuration(c.Bulk.RequestTimeout)
	return d
}

// ParseDuration extends time.ParseDuration with the d (day) and
// y (365.25 days) units, which may not be combined with others.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	unit := time.Duration(0)
	switch {
	case strings.HasSuffix(s, "d"):
		unit = 24 * time.Hour
	case strings.HasSuffix(s, "y"):
		unit = time.Duration(365.25 * 24 * float64(time.Hour))
	}
	if unit == 0 {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return d, nil
	}

	n, err := strconv.ParseFloat(s[:len(s)-1], 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(n * float64(unit)), nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	cp := *c
	cp.Store.Hosts = append([]string(nil), c.Store.Hosts...)
	if cp.Store.Password != "" {
		cp.Store.Password = "********"
	}
	if cp.Store.APIKey != "" {
		cp.Store.APIKey = "********"
	}
	return &cp
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
