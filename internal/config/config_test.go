package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" || cfg.StoreBackend != StoreMemory {
		t.Fatalf("unexpected defaults: port=%s store=%s", cfg.Port, cfg.StoreBackend)
	}
	if cfg.MaxFiles != 20 || cfg.MaxPages != 2000 || cfg.MaxFileSize != 100<<20 {
		t.Fatalf("unexpected limits: %+v", cfg)
	}
	if cfg.AuthEnabled() {
		t.Fatal("auth should be disabled without APP_USERNAME")
	}
	if cfg.JobExpiry() != time.Hour {
		t.Fatalf("JobExpiry = %v", cfg.JobExpiry())
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", dir)
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("MAX_FILES", "3")
	t.Setenv("JOB_EXPIRE_MINUTES", "0")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.example.com , ,https://b.example.com")
	t.Setenv("S3_PRESIGN_MINUTES", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" || cfg.MaxFiles != 3 {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.StoreBackend != StoreSQLite || !strings.HasPrefix(cfg.StoreSQLitePath, dir) {
		t.Fatalf("sqlite path = %q", cfg.StoreSQLitePath)
	}
	if cfg.JobExpiry() != 0 {
		t.Fatalf("JobExpiry = %v, want 0", cfg.JobExpiry())
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example.com" {
		t.Fatalf("origins = %v", origins)
	}
	if cfg.PresignExpiry() != 5*time.Minute {
		t.Fatalf("PresignExpiry = %v", cfg.PresignExpiry())
	}
}

func TestRedisStoreFallsBackToQueueURL(t *testing.T) {
	t.Setenv("DATA_DIR", t.TempDir())
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreRedisURL != "redis://127.0.0.1:6379/1" {
		t.Fatalf("StoreRedisURL = %q", cfg.StoreRedisURL)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			StoreBackend: StoreMemory,
			DataDir:      "/tmp/docforge",
			MaxFileSize:  1,
			MaxFiles:     1,
			MaxPages:     1,
			RenderDPI:    150,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"unknown store", func(c *Config) { c.StoreBackend = "postgres" }, "STORE_BACKEND"},
		{"redis without url", func(c *Config) { c.StoreBackend = StoreRedis }, "STORE_REDIS_URL"},
		{"no data dir", func(c *Config) { c.DataDir = "" }, "DATA_DIR"},
		{"zero limit", func(c *Config) { c.MaxPages = 0 }, "MAX_PAGES"},
		{"dpi", func(c *Config) { c.RenderDPI = 1200 }, "RENDER_DPI"},
		{"user without hash", func(c *Config) { c.AppUsername = "admin" }, "APP_PASSWORD_HASH"},
		{"release without auth", func(c *Config) { c.GinMode = "release" }, "APP_USERNAME"},
		{"release without queue", func(c *Config) {
			c.GinMode = "release"
			c.AppUsername = "admin"
			c.AppPasswordHash = "hash"
			c.SessionSecret = "secret"
		}, "QUEUE_REDIS_URL"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tc.wantErr)
			}
		})
	}
}
