package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithEnvironment(t *testing.T) {
	t.Setenv("SUPPORT_WHATSAPP_VERIFY_TOKEN", "verify-me")
	t.Setenv("DB_URL", "postgres://support@localhost:5432/support")
	t.Setenv("SUPPORT_LOG_LEVEL", "debug")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.WhatsApp.VerifyToken != "verify-me" {
		t.Errorf("VerifyToken = %q, want verify-me", cfg.WhatsApp.VerifyToken)
	}
	if cfg.Database.URL != "postgres://support@localhost:5432/support" {
		t.Errorf("Database.URL = %q, want legacy DB_URL value", cfg.Database.URL)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want debug", cfg.Log.Level)
	}
	if !cfg.Webhook.RequireMessages {
		t.Error("Webhook.RequireMessages should default to true")
	}
	if cfg.Webhook.FirstChangeOnly {
		t.Error("Webhook.FirstChangeOnly should default to false")
	}
	if cfg.Redis.ConversationTTL != 30*time.Minute {
		t.Errorf("Redis.ConversationTTL = %v, want 30m", cfg.Redis.ConversationTTL)
	}
	if cfg.HTTP.RequestTimeout != 10*time.Second {
		t.Errorf("HTTP.RequestTimeout = %v, want 10s", cfg.HTTP.RequestTimeout)
	}
	if cfg.WhatsApp.MaxUploadBytes != 16<<20 {
		t.Errorf("WhatsApp.MaxUploadBytes = %d, want 16MiB", cfg.WhatsApp.MaxUploadBytes)
	}
}

func TestLoadPrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("SUPPORT_WHATSAPP_VERIFY_TOKEN", "verify-me")
	t.Setenv("SUPPORT_DATABASE_URL", "postgres://primary/support")
	t.Setenv("DB_URL", "postgres://legacy/support")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.URL != "postgres://primary/support" {
		t.Errorf("Database.URL = %q, want prefixed value", cfg.Database.URL)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
database:
  driver: memory
webhook:
  require_messages: false
  first_change_only: true
whatsapp:
  verify_token: from-file
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "memory" {
		t.Errorf("Database.Driver = %q, want memory", cfg.Database.Driver)
	}
	if cfg.Webhook.RequireMessages || !cfg.Webhook.FirstChangeOnly {
		t.Errorf("webhook options not read from file: %+v", cfg.Webhook)
	}
	if cfg.WhatsApp.VerifyToken != "from-file" {
		t.Errorf("VerifyToken = %q, want from-file", cfg.WhatsApp.VerifyToken)
	}
}

func TestLoadValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing verify token",
			env:  map[string]string{"SUPPORT_DATABASE_DRIVER": "memory"},
		},
		{
			name: "postgres without url",
			env:  map[string]string{"SUPPORT_WHATSAPP_VERIFY_TOKEN": "x"},
		},
		{
			name: "unknown driver",
			env: map[string]string{
				"SUPPORT_WHATSAPP_VERIFY_TOKEN": "x",
				"SUPPORT_DATABASE_DRIVER":       "sqlite",
			},
		},
		{
			name: "bad log level",
			env: map[string]string{
				"SUPPORT_WHATSAPP_VERIFY_TOKEN": "x",
				"SUPPORT_DATABASE_DRIVER":       "memory",
				"SUPPORT_LOG_LEVEL":             "verbose",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(t.TempDir())
			if !errors.Is(err, ErrConfiguration) {
				t.Fatalf("Load() error = %v, want ErrConfiguration", err)
			}
		})
	}
}
