package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents runtime configuration for the client.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" toml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" toml:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases" toml:"databases"`
	Redis       RedisConfig               `json:"redis" toml:"redis"`
}

// ProviderConfig overrides endpoint and credential per completion provider.
// An empty APIKey falls back to the key entered at onboarding.
type ProviderConfig struct {
	BaseURL string `json:"base_url" toml:"base_url"`
	APIKey  string `json:"api_key" toml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" toml:"server_address"`
	// StoreBackend selects the document store: sqlite3, sqlite, mysql or redis.
	StoreBackend            string `json:"store_backend" toml:"store_backend"`
	AttachmentDir           string `json:"attachment_dir" toml:"attachment_dir"`
	AttachmentTTL           int    `json:"attachment_ttl" toml:"attachment_ttl"`                       // minutes
	AttachmentCleanInterval int    `json:"attachment_clean_interval" toml:"attachment_clean_interval"` // minutes
	MaxAttachmentBytes      int64  `json:"max_attachment_bytes" toml:"max_attachment_bytes"`
	DefaultModel            string `json:"default_model" toml:"default_model"`
	ThrottleMillis          int    `json:"throttle_ms" toml:"throttle_ms"`
	CredentialPrefix        string `json:"credential_prefix" toml:"credential_prefix"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" toml:"dsn"`
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DBName   string `json:"db_name" toml:"db_name"`
	Params   string `json:"params" toml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" toml:"host"`
	Port     int    `json:"port" toml:"port"`
	Username string `json:"username" toml:"username"`
	Password string `json:"password" toml:"password"`
	DB       int    `json:"db" toml:"db"`
	Prefix   string `json:"prefix" toml:"prefix"`
}

const (
	DefaultConfigPath = "config.json"
	DefaultThrottle   = 50 * time.Millisecond
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults("")
	return cfg
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; an explicitly named one is.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if _, err := os.Stat(absPath); err != nil {
		if errors.Is(err, os.ErrNotExist) && !explicit {
			return Default(), nil
		}
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(absPath)) {
	case ".toml":
		if _, err := toml.DecodeFile(absPath, &cfg); err != nil {
			return nil, fmt.Errorf("decode toml config: %w", err)
		}
	default:
		file, err := os.Open(absPath)
		if err != nil {
			return nil, fmt.Errorf("open config %s: %w", absPath, err)
		}
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyDefaults(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the store backend has what it needs.
func (c *Config) Validate() error {
	switch c.BasicConfig.StoreBackend {
	case "sqlite3", "sqlite":
		if c.Databases[c.BasicConfig.StoreBackend].DSN == "" {
			return fmt.Errorf("databases.%s.dsn must be configured", c.BasicConfig.StoreBackend)
		}
	case "mysql":
		db := c.Databases["mysql"]
		if db.DSN == "" && (db.Host == "" || db.DBName == "") {
			return errors.New("databases.mysql needs a dsn or host and db_name")
		}
	case "redis":
	default:
		return fmt.Errorf("unsupported store_backend: %s", c.BasicConfig.StoreBackend)
	}
	if c.BasicConfig.AttachmentTTL < 0 || c.BasicConfig.ThrottleMillis < 0 {
		return errors.New("durations cannot be negative")
	}
	return nil
}

// Throttle is the minimum gap between visible stream updates.
func (c *Config) Throttle() time.Duration {
	if c.BasicConfig.ThrottleMillis <= 0 {
		return DefaultThrottle
	}
	return time.Duration(c.BasicConfig.ThrottleMillis) * time.Millisecond
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = "127.0.0.1:8090"
	}
	if b.StoreBackend == "" {
		b.StoreBackend = "sqlite3"
	}
	if b.AttachmentDir == "" {
		b.AttachmentDir = "./data/attachments"
	}
	if b.AttachmentTTL == 0 {
		b.AttachmentTTL = 24 * 60
	}
	if b.AttachmentCleanInterval <= 0 {
		b.AttachmentCleanInterval = 60
	}
	if b.MaxAttachmentBytes <= 0 {
		b.MaxAttachmentBytes = 20 << 20
	}
	if b.CredentialPrefix == "" {
		b.CredentialPrefix = "AIza"
	}
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	for _, driver := range []string{"sqlite3", "sqlite"} {
		db := c.Databases[driver]
		if db.DSN == "" {
			db.DSN = "./data/gemchat.db"
		}
		if baseDir != "" && db.DSN != ":memory:" && !filepath.IsAbs(db.DSN) && !strings.HasPrefix(db.DSN, "file:") {
			db.DSN = filepath.Join(baseDir, db.DSN)
		}
		c.Databases[driver] = db
	}
	if baseDir != "" && !filepath.IsAbs(b.AttachmentDir) {
		b.AttachmentDir = filepath.Join(baseDir, b.AttachmentDir)
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "gemchat:"
	}
}
