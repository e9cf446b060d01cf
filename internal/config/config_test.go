package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, "http:\n  port: 9000\n")
	t.Setenv("OMNIDEX_CONFIG", path)

	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTP.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.HTTP.Port)
	}
	if cfg.Store.Driver != "badger" {
		t.Errorf("expected default badger driver, got %q", cfg.Store.Driver)
	}
	if cfg.Search.MaxPerPage != 250 {
		t.Errorf("expected default max_per_page 250, got %d", cfg.Search.MaxPerPage)
	}
	if cfg.Analytics.FlushIntervalSec != 3600 {
		t.Errorf("expected default flush interval, got %d", cfg.Analytics.FlushIntervalSec)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_STORE_PATH", "/tmp/omnidex-data")
	path := writeConfig(t, "store:\n  driver: badger\n  path: ${TEST_STORE_PATH}\n")
	t.Setenv("OMNIDEX_CONFIG", path)

	cfg, err := Load("local")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Path != "/tmp/omnidex-data" {
		t.Errorf("expected expanded path, got %q", cfg.Store.Path)
	}
}

func TestLoad_InvalidDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: cassandra\n")
	t.Setenv("OMNIDEX_CONFIG", path)

	if _, err := Load("local"); err == nil {
		t.Fatal("expected an error for an unknown store driver")
	}
}

func TestLoad_RedisRequiresAddrs(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: redis\n")
	t.Setenv("OMNIDEX_CONFIG", path)

	if _, err := Load("local"); err == nil {
		t.Fatal("expected an error for redis without addrs")
	}
}
