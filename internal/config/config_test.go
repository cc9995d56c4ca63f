package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "8081" {
		t.Errorf("HTTPPort = %q, want %q", cfg.HTTPPort, "8081")
	}
	if cfg.StoreBackend != "memory" {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, "memory")
	}
	if cfg.StoreTimeout != 5*time.Second {
		t.Errorf("StoreTimeout = %s, want 5s", cfg.StoreTimeout)
	}
	if cfg.StudentTokenTTL != 720*time.Hour {
		t.Errorf("StudentTokenTTL = %s, want 720h", cfg.StudentTokenTTL)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v, want UTC", cfg.Location())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("REPORT_TIMEZONE", "Asia/Kolkata")
	t.Setenv("STORE_TIMEOUT", "250ms")
	t.Setenv("RATE_LIMIT_PER_MIN", "30")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreBackend != "redis" {
		t.Errorf("StoreBackend = %q, want %q", cfg.StoreBackend, "redis")
	}
	if cfg.StoreTimeout != 250*time.Millisecond {
		t.Errorf("StoreTimeout = %s, want 250ms", cfg.StoreTimeout)
	}
	if cfg.RateLimitPerMin != 30 {
		t.Errorf("RateLimitPerMin = %d, want 30", cfg.RateLimitPerMin)
	}
	if got := cfg.Location().String(); got != "Asia/Kolkata" {
		t.Errorf("Location = %q, want Asia/Kolkata", got)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown store", map[string]string{"STORE_BACKEND": "firestore"}},
		{"unknown queue", map[string]string{"QUEUE_BACKEND": "kafka"}},
		{"unknown timezone", map[string]string{"REPORT_TIMEZONE": "Mars/Olympus"}},
		{"bad duration", map[string]string{"STORE_TIMEOUT": "soon"}},
		{"default key in production", map[string]string{"APP_ENV": "production"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}
