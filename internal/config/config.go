package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for loft.
type Config struct {
	BaseDir    string `toml:"base_dir"`
	LogDir     string `toml:"log_dir"`
	StatePath  string `toml:"state_path"`            // where the active workspace pointer is kept
	AppVersion string `toml:"app_version,omitempty"` // overrides the version stamped into workspace.json

	Log        LogConfig        `toml:"log"`
	Gateway    GatewayConfig    `toml:"gateway"`
	Open       OpenConfig       `toml:"open"`
	Cloud      CloudConfig      `toml:"cloud"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Level      string `toml:"level"` // "debug", "info", "warn" or "error"
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

// GatewayConfig selects where workspaces are stored.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type GatewayConfig struct {
	Type string `toml:"type"` // "filesystem" (default) or "memory"
}

// OpenConfig holds the open protocol tunables, in milliseconds.
// Zero values mean the built-in defaults.
type OpenConfig struct {
	MaterializationTimeoutMS int `toml:"materialization_timeout_ms"`
	PollIntervalMS           int `toml:"poll_interval_ms"`
	MaxOpenAttempts          int `toml:"max_open_attempts"`
	RetryBaseDelayMS         int `toml:"retry_base_delay_ms"`
}

// CloudConfig lists extra path fragments that mark a cloud-synced folder.
type CloudConfig struct {
	Markers []string `toml:"markers"`
}

// EncryptionConfig holds paths to the age key pair used for offsite copies.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// VaultConfig represents configuration for the offsite backup vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
// An empty Type disables offsite copies.
type VaultConfig struct {
	Type string `toml:"type"` // "", "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket       string `toml:"s3_bucket,omitempty"`
	S3Prefix       string `toml:"s3_prefix,omitempty"`
	S3Region       string `toml:"s3_region,omitempty"`
	S3Endpoint     string `toml:"s3_endpoint,omitempty"`
	S3UsePathStyle bool   `toml:"s3_use_path_style,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// Enabled reports whether offsite copies are configured.
func (v VaultConfig) Enabled() bool { return v.Type != "" }

// NewConfig creates a new Config rooted at baseDir with default paths and settings.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:   baseDir,
		LogDir:    filepath.Join(baseDir, "log"),
		StatePath: filepath.Join(baseDir, "state.toml"),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Gateway: GatewayConfig{Type: "filesystem"},
		Open: OpenConfig{
			MaterializationTimeoutMS: 30000,
			PollIntervalMS:           500,
			MaxOpenAttempts:          3,
			RetryBaseDelayMS:         500,
		},
		Encryption: EncryptionConfig{
			Type:           "age",
			PublicKeyPath:  filepath.Join(baseDir, "keys", "loft.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "loft.key"),
		},
	}
}

// Validate checks the tagged unions and numeric ranges.
func (c *Config) Validate() error {
	switch c.Gateway.Type {
	case "", "filesystem", "memory":
	default:
		return fmt.Errorf("unknown gateway type: %s", c.Gateway.Type)
	}

	switch c.Vault.Type {
	case "", "memory":
	case "filesystem":
		if c.Vault.FSVaultRoot == "" {
			return fmt.Errorf("filesystem vault requires fs_vault_root to be set")
		}
	case "s3":
		if c.Vault.S3Bucket == "" {
			return fmt.Errorf("s3 vault requires s3_bucket to be set")
		}
	default:
		return fmt.Errorf("unknown vault type: %s", c.Vault.Type)
	}

	switch c.Encryption.Type {
	case "", "age", "test":
	default:
		return fmt.Errorf("unknown encryption type: %s", c.Encryption.Type)
	}

	o := c.Open
	if o.MaterializationTimeoutMS < 0 || o.PollIntervalMS < 0 || o.MaxOpenAttempts < 0 || o.RetryBaseDelayMS < 0 {
		return fmt.Errorf("open settings must not be negative")
	}
	return nil
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
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

// ReadFromFile reads and validates a Config from the specified file path.
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
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
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
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
