package config

import (
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for the DialFlow server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir   string
	HTTPPort  int
	LogLevel  string
	LogFormat string // log output format: "text" or "json"

	// PublicURL is the externally reachable base URL the telephony provider
	// uses to fetch voice documents and deliver status callbacks.
	PublicURL string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	// MenuFile is the path to a JSON IVR menu definition. Empty means the
	// built-in default menu.
	MenuFile string

	// MaxInvalidAttempts bounds consecutive unmapped digits before the call is
	// wound down. Zero means unlimited.
	MaxInvalidAttempts int

	SessionTimeout   time.Duration // inactivity before the watchdog fails a session
	WatchdogInterval time.Duration // how often the watchdog sweeps

	CORSOrigins string

	RateLimitPerSecond float64 // per-client request rate for the public API
	RateLimitBurst     int
}

// defaults
const (
	defaultDataDir            = "./data"
	defaultHTTPPort           = 8080
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultPublicURL          = "http://localhost:8080"
	defaultSessionTimeout     = 10 * time.Minute
	defaultWatchdogInterval   = 30 * time.Second
	defaultRateLimitPerSecond = 10.0
	defaultRateLimitBurst     = 20
)

// envPrefix is the prefix for all DialFlow environment variables.
const envPrefix = "DIALFLOW_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("dialflow", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the session database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.PublicURL, "public-url", defaultPublicURL, "externally reachable base URL for provider webhooks")
	fs.StringVar(&cfg.TwilioAccountSID, "twilio-account-sid", "", "Twilio account SID")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "Twilio auth token")
	fs.StringVar(&cfg.TwilioFromNumber, "twilio-from-number", "", "caller ID for outbound calls (E.164)")
	fs.StringVar(&cfg.MenuFile, "menu-file", "", "path to a JSON IVR menu definition (empty for the built-in menu)")
	fs.IntVar(&cfg.MaxInvalidAttempts, "max-invalid-attempts", 0, "consecutive invalid digits before the call ends (0 for unlimited)")
	fs.DurationVar(&cfg.SessionTimeout, "session-timeout", defaultSessionTimeout, "inactivity before a session is failed by the watchdog")
	fs.DurationVar(&cfg.WatchdogInterval, "watchdog-interval", defaultWatchdogInterval, "how often the watchdog sweeps for stale sessions")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")
	fs.Float64Var(&cfg.RateLimitPerSecond, "rate-limit-per-second", defaultRateLimitPerSecond, "per-client request rate for the public API")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", defaultRateLimitBurst, "per-client request burst for the public API")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command line.
	// CLI flags take precedence over env vars.
	applyEnvOverrides(fs, cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. This preserves the precedence:
// CLI flags > env vars > defaults.
func applyEnvOverrides(fs *flag.FlagSet, cfg *Config) {
	// Track which flags were explicitly set via CLI.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	// Map of flag name to env var name.
	envMap := map[string]string{
		"data-dir":              envPrefix + "DATA_DIR",
		"http-port":             envPrefix + "HTTP_PORT",
		"log-level":             envPrefix + "LOG_LEVEL",
		"log-format":            envPrefix + "LOG_FORMAT",
		"public-url":            envPrefix + "PUBLIC_URL",
		"twilio-account-sid":    envPrefix + "TWILIO_ACCOUNT_SID",
		"twilio-auth-token":     envPrefix + "TWILIO_AUTH_TOKEN",
		"twilio-from-number":    envPrefix + "TWILIO_FROM_NUMBER",
		"menu-file":             envPrefix + "MENU_FILE",
		"max-invalid-attempts":  envPrefix + "MAX_INVALID_ATTEMPTS",
		"session-timeout":       envPrefix + "SESSION_TIMEOUT",
		"watchdog-interval":     envPrefix + "WATCHDOG_INTERVAL",
		"cors-origins":          envPrefix + "CORS_ORIGINS",
		"rate-limit-per-second": envPrefix + "RATE_LIMIT_PER_SECOND",
		"rate-limit-burst":      envPrefix + "RATE_LIMIT_BURST",
	}

	for flagName, envVar := range envMap {
		if set[flagName] {
			continue
		}
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			continue
		}
		switch flagName {
		case "data-dir":
			cfg.DataDir = val
		case "http-port":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.HTTPPort = v
			}
		case "log-level":
			cfg.LogLevel = val
		case "log-format":
			cfg.LogFormat = val
		case "public-url":
			cfg.PublicURL = val
		case "twilio-account-sid":
			cfg.TwilioAccountSID = val
		case "twilio-auth-token":
			cfg.TwilioAuthToken = val
		case "twilio-from-number":
			cfg.TwilioFromNumber = val
		case "menu-file":
			cfg.MenuFile = val
		case "max-invalid-attempts":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.MaxInvalidAttempts = v
			}
		case "session-timeout":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.SessionTimeout = v
			}
		case "watchdog-interval":
			if v, err := time.ParseDuration(val); err == nil {
				cfg.WatchdogInterval = v
			}
		case "cors-origins":
			cfg.CORSOrigins = val
		case "rate-limit-per-second":
			if v, err := strconv.ParseFloat(val, 64); err == nil {
				cfg.RateLimitPerSecond = v
			}
		case "rate-limit-burst":
			if v, err := strconv.Atoi(val); err == nil {
				cfg.RateLimitBurst = v
			}
		}
	}
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	u, err := url.Parse(c.PublicURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("public-url must be an absolute URL, got %q", c.PublicURL)
	}
	c.PublicURL = strings.TrimRight(c.PublicURL, "/")

	if c.MaxInvalidAttempts < 0 {
		return fmt.Errorf("max-invalid-attempts must be >= 0, got %d", c.MaxInvalidAttempts)
	}
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session-timeout must be positive, got %s", c.SessionTimeout)
	}
	if c.WatchdogInterval <= 0 {
		return fmt.Errorf("watchdog-interval must be positive, got %s", c.WatchdogInterval)
	}
	if c.RateLimitPerSecond <= 0 {
		return fmt.Errorf("rate-limit-per-second must be positive, got %g", c.RateLimitPerSecond)
	}
	if c.RateLimitBurst < 1 {
		return fmt.Errorf("rate-limit-burst must be >= 1, got %d", c.RateLimitBurst)
	}

	return nil
}

// TwilioConfigured reports whether outbound calling credentials are present.
// Without them the server still serves callbacks and the read API, but call
// initiation is rejected.
func (c *Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
