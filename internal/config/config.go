// Package config provides application configuration loaded from environment
// variables with defaults and validation. An optional YAML file (CONFIG_FILE)
// can supply the admission and cache options; environment variables always
// win over values from the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-media-gate")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// AdmissionConfig holds the dual-window limiter and ban settings.
type AdmissionConfig struct {
	BurstLimit      int           // BURST_LIMIT / burst_limit
	BurstWindow     time.Duration // BURST_WINDOW_SECONDS / burst_window_seconds
	SustainedLimit  int           // SUSTAINED_LIMIT / sustained_limit
	SustainedWindow time.Duration // SUSTAINED_WINDOW_SECONDS / sustained_window_seconds
	BanDuration     time.Duration // BAN_DURATION_HOURS / ban_duration_hours (0 = permanent)
}

// ReasonConfig controls the external ban-reason generator.
type ReasonConfig struct {
	Enabled bool          // REASON_GENERATOR_ENABLED / reason_generator_enabled
	APIKey  string        // GEMINI_API_KEY
	Model   string        // GEMINI_MODEL
	Timeout time.Duration // REASON_TIMEOUT
}

// CacheConfig controls the extraction cache.
type CacheConfig struct {
	TTL     time.Duration // CACHE_TTL_SECONDS / cache_ttl_seconds
	Backend string        // CACHE_BACKEND: leveldb|snapshot
	Path    string        // CACHE_PATH
}

// AdminConfig controls the admin API credentials.
type AdminConfig struct {
	Username  string        // ADMIN_USERNAME
	Password  string        // ADMIN_PASSWORD
	JWTSecret string        // ADMIN_JWT_SECRET (empty refuses admin requests)
	TokenTTL  time.Duration // ADMIN_TOKEN_TTL

	// AuthDisabled opens the admin routes without a token while no secret is
	// configured. ADMIN_AUTH_DISABLED, off by default.
	AuthDisabled bool
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath       string // SQLite path
	StoreWorkers int    // bounded pool size for blocking storage I/O

	// Edge rate limiting (HTTP, per client)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	Admission AdmissionConfig
	Reason    ReasonConfig
	Cache     CacheConfig
	Admin     AdminConfig

	// Web protection
	CORS CORSConfig

	// Observability
	OTEL OTELConfig
}

// fileConfig mirrors the recognized option names of the YAML overlay.
type fileConfig struct {
	BurstLimit             *int  `yaml:"burst_limit"`
	BurstWindowSeconds     *int  `yaml:"burst_window_seconds"`
	SustainedLimit         *int  `yaml:"sustained_limit"`
	SustainedWindowSeconds *int  `yaml:"sustained_window_seconds"`
	BanDurationHours       *int  `yaml:"ban_duration_hours"`
	CacheTTLSeconds        *int  `yaml:"cache_ttl_seconds"`
	ReasonGeneratorEnabled *bool `yaml:"reason_generator_enabled"`
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the optional CONFIG_FILE and environment
// variables, applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	fc, err := loadFile(getenv("CONFIG_FILE", ""))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath:       getenv("DB_PATH", "data/gate.db"),
		StoreWorkers: getint("STORE_WORKERS", 8),

		// Edge rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		Admission: AdmissionConfig{
			BurstLimit:      getint("BURST_LIMIT", or(fc.BurstLimit, 5)),
			BurstWindow:     seconds(getint("BURST_WINDOW_SECONDS", or(fc.BurstWindowSeconds, 10))),
			SustainedLimit:  getint("SUSTAINED_LIMIT", or(fc.SustainedLimit, 80)),
			SustainedWindow: seconds(getint("SUSTAINED_WINDOW_SECONDS", or(fc.SustainedWindowSeconds, 60))),
			BanDuration:     time.Duration(getint("BAN_DURATION_HOURS", or(fc.BanDurationHours, 24))) * time.Hour,
		},
		Reason: ReasonConfig{
			Enabled: getbool("REASON_GENERATOR_ENABLED", or(fc.ReasonGeneratorEnabled, true)),
			APIKey:  strings.TrimSpace(getenv("GEMINI_API_KEY", "")),
			Model:   getenv("GEMINI_MODEL", "gemini-2.5-flash"),
			Timeout: getdur("REASON_TIMEOUT", 5*time.Second),
		},
		Cache: CacheConfig{
			TTL:     seconds(getint("CACHE_TTL_SECONDS", or(fc.CacheTTLSeconds, 3600))),
			Backend: strings.ToLower(getenv("CACHE_BACKEND", "leveldb")),
			Path:    getenv("CACHE_PATH", "data/extraction-cache"),
		},
		Admin: AdminConfig{
			Username:  getenv("ADMIN_USERNAME", "admin"),
			Password:  getenv("ADMIN_PASSWORD", ""),
			JWTSecret: getenv("ADMIN_JWT_SECRET", ""),
			TokenTTL:  getdur("ADMIN_TOKEN_TTL", 12*time.Hour),

			AuthDisabled: getbool("ADMIN_AUTH_DISABLED", false),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-media-gate"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	// A generator without credentials can never succeed; decide once, here.
	if cfg.Reason.APIKey == "" {
		cfg.Reason.Enabled = false
	}

	return cfg, cfg.Validate()
}

// Validate checks the invariants the rest of the application relies on.
func (cfg Config) Validate() error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return errors.New("DB_PATH must not be empty")
	}
	if cfg.StoreWorkers < 1 {
		return errors.New("STORE_WORKERS must be >= 1")
	}
	if cfg.RateRPS < 0 {
		return errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return errors.New("RATE_BURST must be >= 1")
	}

	a := cfg.Admission
	if a.BurstLimit < 1 || a.SustainedLimit < 1 {
		return errors.New("BURST_LIMIT and SUSTAINED_LIMIT must be >= 1")
	}
	if a.BurstWindow <= 0 || a.SustainedWindow <= 0 {
		return errors.New("BURST_WINDOW_SECONDS and SUSTAINED_WINDOW_SECONDS must be > 0")
	}
	if a.BanDuration < 0 {
		return errors.New("BAN_DURATION_HOURS must be >= 0 (0 = permanent)")
	}
	if cfg.Reason.Timeout <= 0 {
		return errors.New("REASON_TIMEOUT must be > 0")
	}

	if cfg.Cache.TTL <= 0 {
		return errors.New("CACHE_TTL_SECONDS must be > 0")
	}
	switch cfg.Cache.Backend {
	case "leveldb", "snapshot":
	default:
		return errors.New("CACHE_BACKEND must be one of: leveldb, snapshot")
	}
	if strings.TrimSpace(cfg.Cache.Path) == "" {
		return errors.New("CACHE_PATH must not be empty")
	}

	if cfg.Admin.JWTSecret != "" && cfg.Admin.Password == "" {
		return errors.New("ADMIN_PASSWORD must be set when ADMIN_JWT_SECRET is set")
	}
	if cfg.Admin.TokenTTL <= 0 {
		return errors.New("ADMIN_TOKEN_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return nil
}

// loadFile parses the YAML overlay. An empty path yields an empty overlay.
func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if strings.TrimSpace(path) == "" {
		return fc, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("CONFIG_FILE: %w", err)
	}
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return fc, fmt.Errorf("CONFIG_FILE %s: %w", path, err)
	}
	return fc, nil
}

// ---- helpers ----

func or[T any](p *T, def T) T {
	if p != nil {
		return *p
	}
	return def
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
