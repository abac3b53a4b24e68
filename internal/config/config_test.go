package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadJSONResolvesRelativePaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"basic_config": {"server_address": ":9000", "store_backend": "sqlite3", "throttle_ms": 80},
		"databases": {"sqlite3": {"dsn": "chat.db"}},
		"providers": {"openai": {"base_url": "https://example.test/v1"}}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Fatalf("unexpected address %q", cfg.BasicConfig.ServerAddress)
	}
	if got := cfg.Databases["sqlite3"].DSN; got != filepath.Join(dir, "chat.db") {
		t.Fatalf("dsn not resolved against config dir: %s", got)
	}
	if cfg.Throttle() != 80*time.Millisecond {
		t.Fatalf("unexpected throttle %v", cfg.Throttle())
	}
	if cfg.Providers["openai"].BaseURL == "" {
		t.Fatalf("provider config lost")
	}
	if cfg.BasicConfig.CredentialPrefix != "AIza" {
		t.Fatalf("credential prefix default missing")
	}
}

func TestLoadTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gemchat.toml")
	body := `
[basic_config]
store_backend = "redis"
default_model = "gemini-2.5-flash"

[redis]
host = "10.0.0.2"
port = 6380
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.BasicConfig.StoreBackend != "redis" || cfg.Redis.Port != 6380 {
		t.Fatalf("toml not decoded: %+v", cfg)
	}
	if cfg.Redis.Prefix != "gemchat:" {
		t.Fatalf("redis prefix default missing")
	}
}

func TestLoadMissingFile(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer os.Chdir(wd)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("missing default config should fall back to defaults: %v", err)
	}
	if cfg.BasicConfig.StoreBackend != "sqlite3" {
		t.Fatalf("unexpected default backend %q", cfg.BasicConfig.StoreBackend)
	}
	if _, err := Load(filepath.Join(dir, "nope.json")); err == nil {
		t.Fatalf("expected error for explicit missing file")
	}
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.BasicConfig.StoreBackend = "etcd"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unsupported backend error")
	}
}
