package config

import (
	"reflect"
	"testing"
	"time"
)

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

// --- Load success + normalization + parsing ---

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// App
	t.Setenv("DB_PATH", "db.sqlite")

	// Rate limiting (invalid -> fall back to defaults)
	t.Setenv("RATE_LIMIT_PER_MINUTE", "x")
	t.Setenv("RATE_LIMIT_PER_HOUR", "nope")

	// Generation backends
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-flash")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("AI_GENERATE_TIMEOUT", "45s")
	t.Setenv("AI_TRANSCRIBE_TIMEOUT", "20s")

	// Storage / push / ws
	t.Setenv("STORAGE_PUBLIC_BASE_URL", "https://media.example.com/")
	t.Setenv("STORAGE_SIGNING_SECRET", "sig-secret")
	t.Setenv("STORAGE_URL_TTL", "30m")
	t.Setenv("PUSH_BASE_URL", "https://push.example.com")
	t.Setenv("PUSH_AUTH_TOKEN", "push-token")
	t.Setenv("PUSH_TIMEOUT", "5s")
	t.Setenv("WS_TOKEN_SECRET", "ws-secret")
	t.Setenv("WS_SEND_BUFFER", "32")

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// OTEL
	t.Setenv("OTEL_ENABLED", "1")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel:4317")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "0")
	t.Setenv("OTEL_SERVICE_NAME", "svc")
	t.Setenv("OTEL_TRACES_SAMPLER_ARG", "0.75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Server
	if cfg.Port != "8088" ||
		cfg.ReadTimeout != 2*time.Second ||
		cfg.ReadHeaderTimeout != 1*time.Second ||
		cfg.WriteTimeout != 3*time.Second ||
		cfg.IdleTimeout != 4*time.Second ||
		cfg.MaxHeaderBytes != 8192 ||
		cfg.GinMode != "release" {
		t.Fatalf("server fields unexpected: %+v", cfg)
	}

	// Logging
	if cfg.LogLevel != "warn" || !cfg.LogPretty || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging fields unexpected: %+v", cfg)
	}

	// Rate limiting falls back to defaults on parse failure
	if cfg.RateLimit.PerMinute != 60 || cfg.RateLimit.PerHour != 600 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}

	// Backends
	if cfg.AI.GeminiAPIKey != "g-key" || cfg.AI.GenerateTimeout != 45*time.Second || cfg.AI.TranscribeTimeout != 20*time.Second {
		t.Fatalf("ai = %+v", cfg.AI)
	}

	// Storage / push / ws
	if cfg.Storage.SigningSecret != "sig-secret" || cfg.Storage.URLTTL != 30*time.Minute {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if cfg.Push.BaseURL != "https://push.example.com" || cfg.Push.Timeout != 5*time.Second {
		t.Fatalf("push = %+v", cfg.Push)
	}
	if cfg.WS.TokenSecret != "ws-secret" || cfg.WS.SendBuffer != 32 {
		t.Fatalf("ws = %+v", cfg.WS)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors = %+v", cfg.CORS)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security = %+v", cfg.Security)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Insecure || cfg.OTEL.Endpoint != "otel:4317" ||
		cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel = %+v", cfg.OTEL)
	}
}

// --- validation failures ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		k, v string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"empty port", "PORT", "   "},
		{"empty db path", "DB_PATH", "  "},
		{"negative sample ratio", "OTEL_TRACES_SAMPLER_ARG", "-0.1"},
		{"sample ratio above one", "OTEL_TRACES_SAMPLER_ARG", "1.5"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.k, tc.v)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.k, tc.v)
			}
		})
	}
}

func TestLoad_HourMustCoverMinute(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "100")
	t.Setenv("RATE_LIMIT_PER_HOUR", "50")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error when hourly budget is below per-minute")
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":        "/",
		"/":       "/",
		"api/v1/": "/api/v1",
		"/api/v2": "/api/v2",
		" /x ":    "/x",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Fatalf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
