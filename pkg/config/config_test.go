package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
environment: test
providers:
  - name: yahoo
    priority: 0
    rate_limit: 60
    enabled: true
  - name: stooq
    priority: 1
    rate_limit: 10
    enabled: true
`

func TestLoadMinimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.Composite.FreshFor != 15*time.Second || cfg.Cache.Composite.StaleFor != 60*time.Second {
		t.Fatalf("unexpected composite tier %+v", cfg.Cache.Composite)
	}
	if cfg.Cache.LastResort != 5*time.Minute {
		t.Fatalf("unexpected last resort %v", cfg.Cache.LastResort)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
}

func TestLoadRejectsEmptyProviders(t *testing.T) {
	_, err := Load(writeConfig(t, "environment: test\nproviders: []\n"))
	if err == nil {
		t.Fatal("expected error for empty providers")
	}
}

func TestLoadRejectsInvertedTier(t *testing.T) {
	body := minimalConfig + `
cache:
  quote:
    fresh_for: 30s
    stale_for: 5s
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("expected error for stale_for < fresh_for")
	}
}

func TestLoadRejectsDuplicateProvider(t *testing.T) {
	body := `
environment: test
providers:
  - name: yahoo
    priority: 0
    rate_limit: 60
    enabled: true
  - name: yahoo
    priority: 1
    rate_limit: 10
    enabled: true
`
	_, err := Load(writeConfig(t, body))
	if err == nil {
		t.Fatal("expected error for duplicate provider name")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("DISABLED_PROVIDERS", "stooq")

	cfg, err := LoadWithEnv(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Fatalf("expected port override 9999, got %d", cfg.Server.Port)
	}
	for _, p := range cfg.Providers {
		if p.Name == "stooq" && p.Enabled {
			t.Fatal("expected stooq to be disabled via env")
		}
	}
}
