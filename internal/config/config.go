package config

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config represents the classifier service configuration
type Config struct {
	Port        int            `json:"port"`
	Workers     int            `json:"workers,omitempty"`
	SecretsFile string         `json:"secrets_file,omitempty"`
	Database    DatabaseConfig `json:"database"`
	Cache       CacheConfig    `json:"cache,omitempty"`
	Embedder    EmbedderConfig `json:"embedder,omitempty"`
	Mirror      MirrorConfig   `json:"mirror,omitempty"`
}

// DatabaseConfig contains durable store settings.
type DatabaseConfig struct {
	// Driver selects the store backend: "sqlite" (default) or "postgres".
	Driver string `json:"driver,omitempty"`
	// DSN is the sqlite file path or the postgres connection string.
	// Supports ${ENV_VAR} expansion.
	DSN string `json:"dsn"`
}

// CacheConfig bounds the per-process model cache.
type CacheConfig struct {
	MaxEntries int `json:"max_entries,omitempty"` // default 5
	MaxSize    int `json:"max_size,omitempty"`    // default 6, unit weight per entry
	TTLSeconds int `json:"ttl_seconds,omitempty"` // default 3600
}

// EmbedderConfig selects the embedding provider.
type EmbedderConfig struct {
	// Provider is "histogram" (local, default) or "http".
	Provider string `json:"provider,omitempty"`
	// Endpoint is the inference URL for the http provider.
	Endpoint string `json:"endpoint,omitempty"`
	// Dims is the embedding dimensionality (0 = provider default).
	Dims int `json:"dims,omitempty"`
}

// MirrorConfig configures the remote manifest-and-blob mirror.
type MirrorConfig struct {
	// ManifestURL is the well-known manifest document URL used by pull.
	ManifestURL string `json:"manifest_url,omitempty"`
	// RemoteRoot is the contents-API directory URL used by push.
	RemoteRoot string `json:"remote_root,omitempty"`
	// AuthToken authorizes pushes. Supports ${ENV_VAR} expansion.
	// Push is disabled when empty.
	AuthToken string `json:"auth_token,omitempty"`
	// PullSchedule / PushSchedule are optional cron expressions for
	// periodic syncs.
	PullSchedule string `json:"pull_schedule,omitempty"`
	PushSchedule string `json:"push_schedule,omitempty"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Port:    8080,
		Workers: 1,
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "retina.db",
		},
		Cache: CacheConfig{
			MaxEntries: 5,
			MaxSize:    6,
			TTLSeconds: 3600,
		},
		Embedder: EmbedderConfig{
			Provider: "histogram",
		},
		Mirror: MirrorConfig{
			AuthToken: "${MIRROR_AUTH_TOKEN}",
		},
	}
}

// Load loads configuration from a file, creating a default file when
// none exists.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.applyEnvOverrides()
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to save default config: %w", err)
		}
		fmt.Printf("Created default configuration at %s\n", path)
		cfg.expandEnvVars()
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Expand tilde in path fields first so the secrets file can live
	// under ~/...
	cfg.expandTilde()

	// Load secrets file (KEY=VALUE) into the environment before
	// expanding ${ENV_VAR} placeholders in the config.
	if err := cfg.loadSecretsFile(); err != nil {
		return nil, fmt.Errorf("failed to load secrets file: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.expandEnvVars()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Save saves the configuration to a file
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvOverrides honors the PORT and WEB_CONCURRENCY environment
// variables when the config leaves them unset.
func (c *Config) applyEnvOverrides() {
	if c.Port == 0 {
		if p, err := strconv.Atoi(os.Getenv("PORT")); err == nil && p > 0 {
			c.Port = p
		} else {
			c.Port = 8080
		}
	}
	if c.Workers == 0 {
		if w, err := strconv.Atoi(os.Getenv("WEB_CONCURRENCY")); err == nil && w > 0 {
			c.Workers = w
		} else {
			c.Workers = 1
		}
	}
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() {
	c.SecretsFile = os.ExpandEnv(c.SecretsFile)
	c.Database.DSN = os.ExpandEnv(c.Database.DSN)
	c.Embedder.Endpoint = os.ExpandEnv(c.Embedder.Endpoint)
	c.Mirror.ManifestURL = os.ExpandEnv(c.Mirror.ManifestURL)
	c.Mirror.RemoteRoot = os.ExpandEnv(c.Mirror.RemoteRoot)
	c.Mirror.AuthToken = os.ExpandEnv(c.Mirror.AuthToken)
}

// Validate validates the entire configuration
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Embedder.Provider == "http" && c.Embedder.Endpoint == "" {
		return fmt.Errorf("http embedder requires an endpoint")
	}
	if c.Cache.MaxEntries < 0 || c.Cache.MaxSize < 0 || c.Cache.TTLSeconds < 0 {
		return fmt.Errorf("cache bounds must not be negative")
	}
	if c.Mirror.PushSchedule != "" && c.Mirror.RemoteRoot == "" {
		return fmt.Errorf("mirror push schedule requires remote_root")
	}
	if c.Mirror.PullSchedule != "" && c.Mirror.ManifestURL == "" {
		return fmt.Errorf("mirror pull schedule requires manifest_url")
	}
	return nil
}

// expandTilde replaces a leading "~/" with the user's home directory in
// path-valued config fields. Called before env-var expansion so that
// both "~/foo" and "${SOME_PATH}" work.
func (c *Config) expandTilde() {
	home, err := os.UserHomeDir()
	if err != nil {
		return // can't expand, leave as-is
	}
	expand := func(p string) string {
		if p == "~" {
			return home
		}
		if strings.HasPrefix(p, "~/") {
			return filepath.Join(home, p[2:])
		}
		return p
	}

	c.SecretsFile = expand(c.SecretsFile)
	if c.Database.Driver == "" || c.Database.Driver == "sqlite" {
		c.Database.DSN = expand(c.Database.DSN)
	}
}

// loadSecretsFile reads a KEY=VALUE file into the process environment.
// Blank lines and lines starting with '#' are ignored.
// Existing environment variables are NOT overridden (shell/systemd wins).
// If SecretsFile is empty or the file doesn't exist, this is a no-op.
func (c *Config) loadSecretsFile() error {
	if c.SecretsFile == "" {
		return nil
	}

	f, err := os.Open(c.SecretsFile)
	if os.IsNotExist(err) {
		return nil // missing file is fine
	}
	if err != nil {
		return fmt.Errorf("cannot open secrets file %s: %w", c.SecretsFile, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Strip optional surrounding quotes from value
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		// Don't override existing env vars
		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}
	return scanner.Err()
}
