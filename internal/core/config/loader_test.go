package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoad_EnvSubstitution(t *testing.T) {
	os.Setenv("TEST_CRM_KEY", "sk-live-abc123")
	defer os.Unsetenv("TEST_CRM_KEY")

	path := writeConfig(t, `
database:
  path: /var/lib/leadrelay/relay.db
tenants:
  - name: acme
    api_base: https://crm.acme.test
    api_key: ${TEST_CRM_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Database.Path != "/var/lib/leadrelay/relay.db" {
		t.Errorf("Expected path /var/lib/leadrelay/relay.db, got %s", cfg.Database.Path)
	}
	if cfg.Tenants[0].APIKey != "sk-live-abc123" {
		t.Errorf("Expected api_key from environment, got %s", cfg.Tenants[0].APIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `{}`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Pipeline.PollInterval != 5*time.Minute {
		t.Errorf("Expected default poll interval 5m, got %s", cfg.Pipeline.PollInterval)
	}
	if cfg.Pipeline.Retry.MaxAttempts != 3 {
		t.Errorf("Expected default max attempts 3, got %d", cfg.Pipeline.Retry.MaxAttempts)
	}
	if cfg.Retention.Sent != 90*24*time.Hour {
		t.Errorf("Expected default sent retention 90d, got %s", cfg.Retention.Sent)
	}
}

func TestLoad_LocationValidation(t *testing.T) {
	path := writeConfig(t, `
tenants:
  - name: acme
    api_base: https://crm.acme.test
    api_key: key
locations:
  - source_id: sheet-1
    tab_name: Leads
    tenant: globex
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for location referencing unknown tenant")
	}
}

func TestLoad_DuplicateTenant(t *testing.T) {
	path := writeConfig(t, `
tenants:
  - name: acme
    api_base: https://a.test
    api_key: k1
  - name: acme
    api_base: https://b.test
    api_key: k2
`)

	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for duplicate tenant name")
	}
}
