package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for drift.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level"` // "debug", "info" (default), "warn" or "error"
	Database   DatabaseConfig   `toml:"database"`
	Ingest     IngestConfig     `toml:"ingest"`
	RateLimit  RateLimitConfig  `toml:"rate_limit"`
	Worker     WorkerConfig     `toml:"worker"`
	Vault      VaultConfig      `toml:"vault"`
	Encryption EncryptionConfig `toml:"encryption"`
	HTTP       HTTPConfig       `toml:"http"`
}

// DatabaseConfig represents configuration for the snapshot database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// IngestConfig bounds what the ingestion pipeline accepts.
type IngestConfig struct {
	MaxPayloadBytes int      `toml:"max_payload_bytes"`
	DedupInterval   Duration `toml:"dedup_interval"`
}

// RateLimitConfig maps tenant tiers to requests per hour.
type RateLimitConfig struct {
	Store       string           `toml:"store"` // "sqlite" (default) or "memory"
	DefaultTier string           `toml:"default_tier"`
	Tiers       map[string]int64 `toml:"tiers"`
}

// WorkerConfig tunes the delta worker and its queue.
type WorkerConfig struct {
	Concurrency         int      `toml:"concurrency"`
	RatePerSecond       float64  `toml:"rate_per_second"`
	BatchSize           int      `toml:"batch_size"`
	MaxAttempts         int      `toml:"max_attempts"`
	BaseBackoff         Duration `toml:"base_backoff"`
	Visibility          Duration `toml:"visibility"`
	PollInterval        Duration `toml:"poll_interval"`
	DeadLetterRetention Duration `toml:"dead_letter_retention"`
}

// VaultConfig represents configuration for the archive vault.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type VaultConfig struct {
	Type string `toml:"type"` // "memory", "s3", or "filesystem"
	Name string `toml:"name"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`   // for S3-compatible stores
	S3PathStyle bool   `toml:"s3_path_style,omitempty"` // required by most S3-compatible stores

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSVaultRoot string `toml:"fs_vault_root,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for archive encryption.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// HTTPConfig configures the HTTP adapter.
type HTTPConfig struct {
	Addr            string   `toml:"addr"`
	ReadTimeout     Duration `toml:"read_timeout"`
	WriteTimeout    Duration `toml:"write_timeout"`
	ShutdownTimeout Duration `toml:"shutdown_timeout"`
}

// Duration is a time.Duration written as text ("90s", "1h") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

// NewConfig creates a Config rooted at baseDir with every default filled in.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir: baseDir,
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Vault: VaultConfig{
			Type:        "filesystem",
			Name:        "local",
			FSVaultRoot: filepath.Join(baseDir, "archive"),
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills every zero-valued setting with its default. Settings
// already present are left alone.
func (c *Config) ApplyDefaults() {
	if c.LogDir == "" && c.BaseDir != "" {
		c.LogDir = filepath.Join(c.BaseDir, "log")
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}

	if c.Ingest.MaxPayloadBytes <= 0 {
		c.Ingest.MaxPayloadBytes = 1 << 20
	}
	setDuration(&c.Ingest.DedupInterval, time.Hour)

	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "sqlite"
	}
	if len(c.RateLimit.Tiers) == 0 {
		c.RateLimit.Tiers = map[string]int64{
			"free":       100,
			"pro":        1000,
			"enterprise": 10000,
		}
	}
	if c.RateLimit.DefaultTier == "" {
		c.RateLimit.DefaultTier = "free"
	}

	if c.Worker.Concurrency <= 0 {
		c.Worker.Concurrency = 5
	}
	if c.Worker.RatePerSecond <= 0 {
		c.Worker.RatePerSecond = 100
	}
	if c.Worker.BatchSize <= 0 {
		c.Worker.BatchSize = 10
	}
	if c.Worker.MaxAttempts <= 0 {
		c.Worker.MaxAttempts = 3
	}
	setDuration(&c.Worker.BaseBackoff, time.Second)
	setDuration(&c.Worker.Visibility, 30*time.Second)
	setDuration(&c.Worker.PollInterval, time.Second)
	setDuration(&c.Worker.DeadLetterRetention, 7*24*time.Hour)

	if c.Vault.Type == "" {
		c.Vault.Type = "memory"
	}
	if c.Encryption.Type == "" {
		c.Encryption.Type = "age"
	}
	if c.Encryption.PublicKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PublicKeyPath = filepath.Join(c.BaseDir, "keys", "drift.pub")
	}
	if c.Encryption.PrivateKeyPath == "" && c.BaseDir != "" {
		c.Encryption.PrivateKeyPath = filepath.Join(c.BaseDir, "keys", "drift.key")
	}

	if c.HTTP.Addr == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
	setDuration(&c.HTTP.ReadTimeout, 15*time.Second)
	setDuration(&c.HTTP.WriteTimeout, 30*time.Second)
	setDuration(&c.HTTP.ShutdownTimeout, 10*time.Second)
}

// Validate reports settings that defaults cannot repair.
func (c *Config) Validate() error {
	if _, ok := c.RateLimit.Tiers[c.RateLimit.DefaultTier]; !ok {
		return fmt.Errorf("rate_limit.default_tier %q is not one of the configured tiers", c.RateLimit.DefaultTier)
	}
	for tier, limit := range c.RateLimit.Tiers {
		if limit < 0 {
			return fmt.Errorf("rate_limit.tiers.%s must not be negative", tier)
		}
	}
	return nil
}

func setDuration(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader and fills in defaults.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
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

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

// Init writes cfg to a new config file at path. An existing file is never overwritten.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
