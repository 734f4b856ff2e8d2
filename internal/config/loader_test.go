package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.jsonc")

	content := `{
  // gateway settings
  "gateway": { "host": "0.0.0.0", "port": 9000 },
  "models": {
    "default": "main",
    "providers": {
      "main": {
        "driver": "openai",
        "model": "gpt-4o-mini",
        "api_key": "${{ .Env.TEST_FACTOTUM_KEY }}",
        "timeout": "30s"
      }
    }
  },
  "store": { "driver": "file" }
}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("TEST_FACTOTUM_KEY", "sk-test-123")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Gateway.Host != "0.0.0.0" || cfg.Gateway.Port != 9000 {
		t.Errorf("gateway: got %s:%d", cfg.Gateway.Host, cfg.Gateway.Port)
	}

	p, ok := cfg.Models.Providers["main"]
	if !ok {
		t.Fatal("missing provider 'main'")
	}
	if p.APIKey != "sk-test-123" {
		t.Errorf("api_key: got %q, want %q", p.APIKey, "sk-test-123")
	}
	if p.Timeout.Duration() != 30*time.Second {
		t.Errorf("timeout: got %v, want 30s", p.Timeout.Duration())
	}

	// Defaults applied
	if cfg.Orchestrator.MaxRetries != 3 {
		t.Errorf("max_retries default: got %d, want 3", cfg.Orchestrator.MaxRetries)
	}
	if cfg.Store.Driver != "file" {
		t.Errorf("store driver: got %q, want %q", cfg.Store.Driver, "file")
	}
	if cfg.Scheduler.SweepCron != "* * * * *" {
		t.Errorf("sweep_cron default: got %q", cfg.Scheduler.SweepCron)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.jsonc")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Gateway.Port == 0 {
		t.Error("expected default gateway port")
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store driver: got %q, want sqlite", cfg.Store.Driver)
	}
}

func TestLoadDotenv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	content := "# comment\nFACTOTUM_TEST_A=plain\nFACTOTUM_TEST_B=\"quoted\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	t.Setenv("FACTOTUM_TEST_B", "already-set")

	if err := LoadDotenv(path); err != nil {
		t.Fatalf("LoadDotenv: %v", err)
	}
	defer os.Unsetenv("FACTOTUM_TEST_A")

	if got := os.Getenv("FACTOTUM_TEST_A"); got != "plain" {
		t.Errorf("FACTOTUM_TEST_A: got %q, want %q", got, "plain")
	}
	// Existing vars are never overridden.
	if got := os.Getenv("FACTOTUM_TEST_B"); got != "already-set" {
		t.Errorf("FACTOTUM_TEST_B: got %q, want %q", got, "already-set")
	}
}

func TestLoadDotenvMissing(t *testing.T) {
	if err := LoadDotenv(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Fatalf("missing .env should be ignored, got %v", err)
	}
}
