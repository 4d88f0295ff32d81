package config

import (
	"log/slog"
	"os"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	// Clear any env vars that might interfere.
	for _, env := range []string{
		"DIALFLOW_DATA_DIR", "DIALFLOW_HTTP_PORT", "DIALFLOW_LOG_LEVEL",
		"DIALFLOW_PUBLIC_URL", "DIALFLOW_SESSION_TIMEOUT",
		"DIALFLOW_TWILIO_ACCOUNT_SID", "DIALFLOW_TWILIO_AUTH_TOKEN",
	} {
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	os.Args = []string{"dialflow"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DataDir != defaultDataDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, defaultDataDir)
	}
	if cfg.HTTPPort != defaultHTTPPort {
		t.Errorf("HTTPPort = %d, want %d", cfg.HTTPPort, defaultHTTPPort)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, defaultLogLevel)
	}
	if cfg.PublicURL != defaultPublicURL {
		t.Errorf("PublicURL = %q, want %q", cfg.PublicURL, defaultPublicURL)
	}
	if cfg.SessionTimeout != defaultSessionTimeout {
		t.Errorf("SessionTimeout = %s, want %s", cfg.SessionTimeout, defaultSessionTimeout)
	}
	if cfg.MaxInvalidAttempts != 0 {
		t.Errorf("MaxInvalidAttempts = %d, want 0", cfg.MaxInvalidAttempts)
	}
	if cfg.TwilioConfigured() {
		t.Error("TwilioConfigured() = true with no credentials")
	}
}

func TestEnvVarOverride(t *testing.T) {
	os.Args = []string{"dialflow"}
	t.Setenv("DIALFLOW_HTTP_PORT", "9090")
	t.Setenv("DIALFLOW_DATA_DIR", "/tmp/dialflow-test")
	t.Setenv("DIALFLOW_LOG_LEVEL", "debug")
	t.Setenv("DIALFLOW_SESSION_TIMEOUT", "5m")
	t.Setenv("DIALFLOW_TWILIO_ACCOUNT_SID", "AC123")
	t.Setenv("DIALFLOW_TWILIO_AUTH_TOKEN", "secret")
	t.Setenv("DIALFLOW_TWILIO_FROM_NUMBER", "+14155550100")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("HTTPPort = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.DataDir != "/tmp/dialflow-test" {
		t.Errorf("DataDir = %q, want /tmp/dialflow-test", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.SessionTimeout != 5*time.Minute {
		t.Errorf("SessionTimeout = %s, want 5m", cfg.SessionTimeout)
	}
	if !cfg.TwilioConfigured() {
		t.Error("TwilioConfigured() = false with full credentials")
	}
}

func TestCLIFlagsPrecedence(t *testing.T) {
	// CLI flags should override env vars.
	os.Args = []string{"dialflow", "--http-port", "3000", "--log-level", "warn"}
	t.Setenv("DIALFLOW_HTTP_PORT", "9090")
	t.Setenv("DIALFLOW_LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.HTTPPort != 3000 {
		t.Errorf("HTTPPort = %d, want 3000 (CLI should override env)", cfg.HTTPPort)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn (CLI should override env)", cfg.LogLevel)
	}
}

func TestValidateInvalidPort(t *testing.T) {
	os.Args = []string{"dialflow", "--http-port", "99999"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid port, got nil")
	}
}

func TestValidateInvalidLogLevel(t *testing.T) {
	os.Args = []string{"dialflow", "--log-level", "verbose"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
}

func TestValidateInvalidPublicURL(t *testing.T) {
	os.Args = []string{"dialflow", "--public-url", "not a url"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid public url, got nil")
	}
}

func TestValidatePublicURLTrailingSlash(t *testing.T) {
	os.Args = []string{"dialflow", "--public-url", "https://ivr.example.com/"}
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PublicURL != "https://ivr.example.com" {
		t.Errorf("PublicURL = %q, want trailing slash stripped", cfg.PublicURL)
	}
}

func TestValidateInvalidDurations(t *testing.T) {
	os.Args = []string{"dialflow", "--session-timeout", "-1m"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for negative session timeout, got nil")
	}

	os.Args = []string{"dialflow", "--watchdog-interval", "0s"}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for zero watchdog interval, got nil")
	}
}

func TestSlogLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.level}
			if got := cfg.SlogLevel(); got != tt.want {
				t.Errorf("SlogLevel() = %v, want %v", got, tt.want)
			}
		})
	}
}
