package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestMergeEnvOverridesDefaults(t *testing.T) {
	cfg := Default()
	err := cfg.mergeEnv(envFrom(map[string]string{
		"PORT":                 "9000",
		"DB_HOST":              "db.internal",
		"REDIS_DB":             "2",
		"S3_USE_SSL":           "true",
		"REBUILD_DEBOUNCE":     "150ms",
		"MAX_ATTACHMENT_BYTES": "1048576",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "9000" || cfg.Database.Host != "db.internal" || cfg.Redis.DB != 2 || !cfg.Storage.UseSSL {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Sync.RebuildDebounce != 150*time.Millisecond {
		t.Errorf("rebuild debounce = %v", cfg.Sync.RebuildDebounce)
	}
	if cfg.Sync.PresenceDebounce != 300*time.Millisecond {
		t.Errorf("untouched default changed: %v", cfg.Sync.PresenceDebounce)
	}
	if cfg.Limits.MaxAttachmentBytes != 1<<20 {
		t.Errorf("max attachment bytes = %d", cfg.Limits.MaxAttachmentBytes)
	}
}

func TestMergeEnvReportsEveryBadValue(t *testing.T) {
	cfg := Default()
	err := cfg.mergeEnv(envFrom(map[string]string{
		"REDIS_DB":         "two",
		"TYPING_EXPIRY":    "soon",
		"S3_USE_SSL":       "maybe",
		"REBUILD_DEBOUNCE": "1s",
	}))
	if err == nil {
		t.Fatal("expected an error")
	}
	for _, key := range []string{"REDIS_DB", "TYPING_EXPIRY", "S3_USE_SSL"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
	if cfg.Sync.RebuildDebounce != time.Second {
		t.Error("valid values should still be applied")
	}
}

func TestFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.yaml")
	body := []byte(`
port: "7000"
jwt_secret: from-file
database:
  host: file-db
sync:
  typing_expiry: 6s
limits:
  max_attachments: 3
`)
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		t.Fatal(err)
	}
	if err := cfg.mergeEnv(envFrom(map[string]string{"PORT": "7100"})); err != nil {
		t.Fatal(err)
	}
	if cfg.Port != "7100" {
		t.Errorf("env should win over file, port = %s", cfg.Port)
	}
	if cfg.Database.Host != "file-db" || cfg.Database.Port != "5432" {
		t.Errorf("database = %+v", cfg.Database)
	}
	if cfg.Sync.TypingExpiry != 6*time.Second || cfg.Limits.MaxAttachments != 3 {
		t.Errorf("sync = %+v limits = %+v", cfg.Sync, cfg.Limits)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"ok", func(c *Config) { c.JWTSecret = "s" }, false},
		{"missing secret", func(c *Config) {}, true},
		{"zero limit", func(c *Config) { c.JWTSecret = "s"; c.Limits.MaxMessageLength = 0 }, true},
		{"csrf off", func(c *Config) { c.JWTSecret = "s"; c.CSRFMode = "OFF" }, false},
		{"unknown csrf mode", func(c *Config) { c.JWTSecret = "s"; c.CSRFMode = "strict" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOrigins(t *testing.T) {
	cfg := Config{AllowedOrigins: " https://a.example , ,https://b.example"}
	got := cfg.Origins()
	if len(got) != 2 || got[0] != "https://a.example" || got[1] != "https://b.example" {
		t.Errorf("Origins() = %v", got)
	}
}
