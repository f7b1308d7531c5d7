package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerURL != "http://localhost:8080" {
		t.Errorf("unexpected default server url %q", cfg.ServerURL)
	}
	if cfg.HealthInterval != 30*time.Second {
		t.Errorf("unexpected default health interval %v", cfg.HealthInterval)
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("LIVECHAT_SERVER_URL", "https://console.example.test")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LIVECHAT_HEALTH_INTERVAL", "5s")

	cfg := Load()
	if cfg.ServerURL != "https://console.example.test" {
		t.Errorf("unexpected server url %q", cfg.ServerURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("unexpected log level %q", cfg.LogLevel)
	}
	if cfg.HealthInterval != 5*time.Second {
		t.Errorf("unexpected health interval %v", cfg.HealthInterval)
	}
}

func TestEnvDuration_BareSeconds(t *testing.T) {
	t.Setenv("LIVECHAT_HEALTH_INTERVAL", "45")
	if cfg := Load(); cfg.HealthInterval != 45*time.Second {
		t.Errorf("expected bare integer to mean seconds, got %v", cfg.HealthInterval)
	}
}

func TestEnvDuration_Invalid(t *testing.T) {
	t.Setenv("LIVECHAT_REQUEST_TIMEOUT", "soon")
	if cfg := Load(); cfg.RequestTimeout != 30*time.Second {
		t.Errorf("expected fallback to default, got %v", cfg.RequestTimeout)
	}
}
