package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoadFromAppliesDefaultsAndPlaceholders(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("APP_ENV", "test")
	t.Setenv("LATEXBOT_TEST_LIMIT", "100")
	t.Setenv("EMAIL_USER", "bot@example.com")

	writeConfig(t, dir, "config.yaml", `
quota:
  daily_limit: ${LATEXBOT_TEST_LIMIT:150}
  timezone: ${LATEXBOT_TEST_TZ:Etc/UTC}
mail:
  username: ${EMAIL_USER:}
  operator_address: ${LATEXBOT_TEST_OPERATOR:}
`)
	writeConfig(t, dir, "config.test.yaml", `
conversion:
  display_math: false
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.Quota.DailyLimit != 100 {
		t.Errorf("daily limit = %d, want 100", cfg.Quota.DailyLimit)
	}
	if cfg.Quota.Timezone != "Etc/UTC" {
		t.Errorf("timezone = %q, want default from placeholder", cfg.Quota.Timezone)
	}
	if cfg.Quota.RetentionDays != 7 {
		t.Errorf("retention days = %d, want 7", cfg.Quota.RetentionDays)
	}
	if cfg.Quota.Backend != BackendMemory || cfg.Quota.Mode != ModeReserve {
		t.Errorf("backend/mode = %s/%s", cfg.Quota.Backend, cfg.Quota.Mode)
	}
	if cfg.Conversion.DisplayMath {
		t.Error("environment file should override display_math")
	}
	if cfg.Conversion.Compiler != "pdflatex" {
		t.Errorf("compiler = %q", cfg.Conversion.Compiler)
	}
	if cfg.Mail.Username != "bot@example.com" || cfg.Mail.OperatorAddress != "" {
		t.Errorf("mail = %+v", cfg.Mail)
	}
	if cfg.Mail.Subject != "Your PDF is here!" || cfg.Mail.AttachmentName != "output.pdf" {
		t.Errorf("mail defaults = %q %q", cfg.Mail.Subject, cfg.Mail.AttachmentName)
	}
	if cfg.Server.HTTP.Path != "/latexbot" {
		t.Errorf("path = %q", cfg.Server.HTTP.Path)
	}
	if cfg.Mail.Timeout != 30*time.Second {
		t.Errorf("mail timeout = %v", cfg.Mail.Timeout)
	}
}

func TestLoadFromMissingBaseFile(t *testing.T) {
	if _, err := LoadFrom(t.TempDir()); err == nil {
		t.Fatal("expected error for missing config.yaml")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:     ServerConfig{HTTP: HTTPServerConfig{Path: "/latexbot"}},
			Quota:      QuotaConfig{Backend: BackendRedis, Mode: ModeOptimistic, DailyLimit: 150, RetentionDays: 7, Timezone: "UTC"},
			Conversion: ConversionConfig{BaseURL: "https://latex.example"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "unknown backend", mutate: func(c *Config) { c.Quota.Backend = "sheets" }, wantErr: "quota.backend"},
		{name: "unknown mode", mutate: func(c *Config) { c.Quota.Mode = "strict" }, wantErr: "quota.mode"},
		{name: "zero limit", mutate: func(c *Config) { c.Quota.DailyLimit = 0 }, wantErr: "quota.daily_limit"},
		{name: "bad timezone", mutate: func(c *Config) { c.Quota.Timezone = "Mars/Base" }, wantErr: "quota.timezone"},
		{name: "bad operator", mutate: func(c *Config) { c.Mail.OperatorAddress = "not an address" }, wantErr: "mail.operator_address"},
		{name: "relative path", mutate: func(c *Config) { c.Server.HTTP.Path = "latexbot" }, wantErr: "server.http.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestUsesBackends(t *testing.T) {
	cfg := Config{Quota: QuotaConfig{Backend: BackendPostgres}}
	if cfg.UsesRedis() || !cfg.UsesPostgres() {
		t.Fatal("postgres backend should not need redis")
	}
	cfg.Messaging.RedisStream.Enabled = true
	if !cfg.UsesRedis() {
		t.Fatal("stream publishing needs redis")
	}
}
