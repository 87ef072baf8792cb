package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose")
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MustLoad should not panic on valid defaults, got: %v", r)
		}
	}()
	cfg := MustLoad()
	if cfg.APIBasePath == "" {
		t.Fatalf("unexpected empty config from MustLoad")
	}
}

// --- defaults ---

func TestLoad_Defaults_Admission(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	a := cfg.Admission
	if a.BurstLimit != 5 || a.BurstWindow != 10*time.Second ||
		a.SustainedLimit != 80 || a.SustainedWindow != 60*time.Second ||
		a.BanDuration != 24*time.Hour {
		t.Fatalf("admission defaults unexpected: %+v", a)
	}
	if cfg.Cache.TTL != time.Hour || cfg.Cache.Backend != "leveldb" {
		t.Fatalf("cache defaults unexpected: %+v", cfg.Cache)
	}
	if cfg.StoreWorkers != 8 {
		t.Fatalf("store workers default unexpected: %d", cfg.StoreWorkers)
	}
	if cfg.Admin.TokenTTL != 12*time.Hour {
		t.Fatalf("admin token ttl default unexpected: %v", cfg.Admin.TokenTTL)
	}
}

func TestLoad_ReasonDisabledWithoutKey(t *testing.T) {
	t.Setenv("REASON_GENERATOR_ENABLED", "true")
	t.Setenv("GEMINI_API_KEY", "   ")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Reason.Enabled {
		t.Fatalf("reason generator must be disabled without credentials")
	}

	t.Setenv("GEMINI_API_KEY", "k")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Reason.Enabled || cfg.Reason.APIKey != "k" || cfg.Reason.Model != "gemini-2.5-flash" {
		t.Fatalf("reason config unexpected: %+v", cfg.Reason)
	}
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/")

	t.Setenv("DB_PATH", "db.sqlite")
	t.Setenv("STORE_WORKERS", "3")

	t.Setenv("RATE_RPS", "x")      // -> default 20
	t.Setenv("RATE_BURST", "nope") // -> default 40

	t.Setenv("BURST_LIMIT", "7")
	t.Setenv("BURST_WINDOW_SECONDS", "30")
	t.Setenv("SUSTAINED_LIMIT", "100")
	t.Setenv("SUSTAINED_WINDOW_SECONDS", "120")
	t.Setenv("BAN_DURATION_HOURS", "0")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("CACHE_BACKEND", "SNAPSHOT")
	t.Setenv("CACHE_PATH", "cache.json")

	t.Setenv("ADMIN_JWT_SECRET", "s3cret")
	t.Setenv("ADMIN_PASSWORD", "pw")

	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")

	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}
	if cfg.DBPath != "db.sqlite" || cfg.StoreWorkers != 3 {
		t.Fatalf("storage fields unexpected: %+v", cfg)
	}
	if cfg.RateRPS != 20.0 || cfg.RateBurst != 40 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}
	a := cfg.Admission
	if a.BurstLimit != 7 || a.BurstWindow != 30*time.Second ||
		a.SustainedLimit != 100 || a.SustainedWindow != 2*time.Minute ||
		a.BanDuration != 0 {
		t.Fatalf("admission unexpected: %+v", a)
	}
	if cfg.Cache.TTL != time.Minute || cfg.Cache.Backend != "snapshot" || cfg.Cache.Path != "cache.json" {
		t.Fatalf("cache unexpected: %+v", cfg.Cache)
	}
	if cfg.Admin.JWTSecret != "s3cret" || cfg.Admin.Password != "pw" || cfg.Admin.Username != "admin" || cfg.Admin.AuthDisabled {
		t.Fatalf("admin unexpected: %+v", cfg.Admin)
	}
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

func TestLoad_AdminAuthDisabledIsOptIn(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Admin.AuthDisabled || cfg.Admin.JWTSecret != "" {
		t.Fatalf("admin routes must be closed by default: %+v", cfg.Admin)
	}

	t.Setenv("ADMIN_AUTH_DISABLED", "true")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !cfg.Admin.AuthDisabled {
		t.Fatalf("ADMIN_AUTH_DISABLED not honored: %+v", cfg.Admin)
	}
}

// --- YAML overlay ---

func TestLoad_ConfigFileOverlay_EnvWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gate.yaml")
	body := `
burst_limit: 3
burst_window_seconds: 5
sustained_limit: 50
sustained_window_seconds: 300
ban_duration_hours: 48
cache_ttl_seconds: 120
reason_generator_enabled: false
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("SUSTAINED_LIMIT", "90")
	t.Setenv("GEMINI_API_KEY", "k")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	a := cfg.Admission
	if a.BurstLimit != 3 || a.BurstWindow != 5*time.Second || a.SustainedWindow != 5*time.Minute || a.BanDuration != 48*time.Hour {
		t.Fatalf("file values not applied: %+v", a)
	}
	if a.SustainedLimit != 90 {
		t.Fatalf("env must win over file, got %d", a.SustainedLimit)
	}
	if cfg.Cache.TTL != 2*time.Minute {
		t.Fatalf("cache ttl from file unexpected: %v", cfg.Cache.TTL)
	}
	if cfg.Reason.Enabled {
		t.Fatalf("reason_generator_enabled=false from file must disable the generator")
	}
}

func TestLoad_ConfigFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
		if _, err := Load(); err == nil || !containsErr(err, "CONFIG_FILE") {
			t.Fatalf("expected CONFIG_FILE error, got: %v", err)
		}
	})
	t.Run("malformed yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		_ = os.WriteFile(path, []byte("burst_limit: [1,2"), 0o600)
		t.Setenv("CONFIG_FILE", path)
		if _, err := Load(); err == nil || !containsErr(err, "CONFIG_FILE") {
			t.Fatalf("expected yaml error, got: %v", err)
		}
	})
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name, key, val, want string
	}{
		{"invalid LOG_LEVEL", "LOG_LEVEL", "verbose", "LOG_LEVEL"},
		{"empty PORT via spaces", "PORT", "   ", "PORT must not be empty"},
		{"non-positive timeouts", "READ_TIMEOUT", "0s", "timeouts must be positive"},
		{"max header bytes <= 0", "MAX_HEADER_BYTES", "0", "MAX_HEADER_BYTES"},
		{"empty DB_PATH", "DB_PATH", "   ", "DB_PATH must not be empty"},
		{"store workers < 1", "STORE_WORKERS", "0", "STORE_WORKERS"},
		{"rate rps negative", "RATE_RPS", "-1", "RATE_RPS"},
		{"rate burst < 1", "RATE_BURST", "0", "RATE_BURST"},
		{"burst limit < 1", "BURST_LIMIT", "0", "BURST_LIMIT"},
		{"window <= 0", "SUSTAINED_WINDOW_SECONDS", "0", "WINDOW_SECONDS"},
		{"ban duration negative", "BAN_DURATION_HOURS", "-1", "BAN_DURATION_HOURS"},
		{"reason timeout", "REASON_TIMEOUT", "-1s", "REASON_TIMEOUT"},
		{"cache ttl", "CACHE_TTL_SECONDS", "0", "CACHE_TTL_SECONDS"},
		{"cache backend", "CACHE_BACKEND", "redis", "CACHE_BACKEND"},
		{"empty cache path", "CACHE_PATH", "  ", "CACHE_PATH"},
		{"token ttl", "ADMIN_TOKEN_TTL", "0s", "ADMIN_TOKEN_TTL"},
		{"otel sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "1.5", "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil || !containsErr(err, tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}

	t.Run("jwt secret without password", func(t *testing.T) {
		t.Setenv("ADMIN_JWT_SECRET", "s")
		if _, err := Load(); err == nil || !containsErr(err, "ADMIN_PASSWORD") {
			t.Fatalf("expected ADMIN_PASSWORD validation error, got: %v", err)
		}
	})
}

// --- helpers ---

func TestHelpers_getenv(t *testing.T) {
	t.Setenv("X_EMPTY", "")
	if getenv("X_EMPTY", "d") != "d" {
		t.Fatalf("getenv should fall back to default on empty var")
	}
	t.Setenv("X_SET", "val")
	if getenv("X_SET", "d") != "val" {
		t.Fatalf("getenv should read set value")
	}
}

func TestHelpers_getfloat_getint_getdur(t *testing.T) {
	t.Setenv("F_VALID", "3.14")
	if getfloat("F_VALID", 0) != 3.14 {
		t.Fatalf("getfloat parse failed")
	}
	t.Setenv("F_BAD", "nope")
	if getfloat("F_BAD", 1.23) != 1.23 {
		t.Fatalf("getfloat default on bad parse failed")
	}

	t.Setenv("I_VALID", " 42 ")
	if getint("I_VALID", 0) != 42 {
		t.Fatalf("getint parse failed")
	}
	t.Setenv("I_BAD", "x")
	if getint("I_BAD", 7) != 7 {
		t.Fatalf("getint default on bad parse failed")
	}

	t.Setenv("D_VALID", "150ms")
	if getdur("D_VALID", time.Second) != 150*time.Millisecond {
		t.Fatalf("getdur parse failed")
	}
	t.Setenv("D_BAD", "zzz")
	if getdur("D_BAD", 2*time.Second) != 2*time.Second {
		t.Fatalf("getdur default on bad parse failed")
	}
}

func TestHelpers_getbool(t *testing.T) {
	for i, v := range []string{"1", "true", "TRUE", " yes ", "Y", "on", "On"} {
		k := "B_T_" + string(rune('a'+i))
		t.Setenv(k, v)
		if !getbool(k, false) {
			t.Fatalf("getbool(%q) = false; want true", v)
		}
	}
	for i, v := range []string{"0", "false", "FALSE", " no ", "N", "off", "Off"} {
		k := "B_F_" + string(rune('a'+i))
		t.Setenv(k, v)
		if getbool(k, true) {
			t.Fatalf("getbool(%q) = true; want false", v)
		}
	}
	t.Setenv("B_EMPTY", "")
	if !getbool("B_EMPTY", true) || getbool("B_EMPTY", false) {
		t.Fatalf("getbool default behavior unexpected")
	}
}

func TestHelpers_or(t *testing.T) {
	n := 3
	if or(&n, 9) != 3 || or[int](nil, 9) != 9 {
		t.Fatalf("or helper unexpected")
	}
}

func TestHelpers_splitCSV_and_normalizeBasePath(t *testing.T) {
	if out := splitCSV(""); out != nil {
		t.Fatalf("splitCSV empty should return nil")
	}
	if got := splitCSV(" a, ,b ,  c  ,"); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
		t.Fatalf("splitCSV mismatch: got %#v", got)
	}

	if normalizeBasePath("") != "/" {
		t.Fatalf("normalizeBasePath empty -> '/' failed")
	}
	if normalizeBasePath("v1") != "/v1" {
		t.Fatalf("normalizeBasePath missing leading slash failed")
	}
	if normalizeBasePath("/v1/") != "/v1" {
		t.Fatalf("normalizeBasePath trailing slash trim failed")
	}
	if normalizeBasePath(" / ") != "/" {
		t.Fatalf("normalizeBasePath whitespace failed")
	}
}

// Ensure tests don't leak env to others.
func TestMain(m *testing.M) {
	for _, k := range []string{"PORT", "CONFIG_FILE", "GEMINI_API_KEY", "ADMIN_JWT_SECRET", "ADMIN_AUTH_DISABLED"} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}

// containsErr reports whether err's message contains the given substring.
func containsErr(err error, want string) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), want)
}
