// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, rate limiting, generation
// backends, storage signing, push delivery, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-companion-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// RateLimitConfig defines the dual-window request budget applied per caller.
type RateLimitConfig struct {
	PerMinute int // RATE_LIMIT_PER_MINUTE: minute-window capacity
	PerHour   int // RATE_LIMIT_PER_HOUR: hour-window capacity
}

// AIConfig defines the generation backends. Gemini is the default; OpenRouter
// serves NSFW-flagged influencers when an API key is configured.
type AIConfig struct {
	GeminiAPIKey      string        // GEMINI_API_KEY
	GeminiModel       string        // GEMINI_MODEL
	OpenRouterAPIKey  string        // OPENROUTER_API_KEY ("" disables the alternate backend)
	OpenRouterModel   string        // OPENROUTER_MODEL
	GenerateTimeout   time.Duration // AI_GENERATE_TIMEOUT
	TranscribeTimeout time.Duration // AI_TRANSCRIBE_TIMEOUT
}

// StorageConfig defines the object-reference resolver that turns storage keys
// into temporary signed URLs.
type StorageConfig struct {
	PublicBaseURL string        // STORAGE_PUBLIC_BASE_URL (e.g. https://media.example.com)
	SigningSecret string        // STORAGE_SIGNING_SECRET
	URLTTL        time.Duration // STORAGE_URL_TTL
}

// PushConfig defines the external push-notification delivery service.
type PushConfig struct {
	BaseURL   string        // PUSH_BASE_URL ("" disables push delivery)
	AuthToken string        // PUSH_AUTH_TOKEN
	Timeout   time.Duration // PUSH_TIMEOUT
}

// WSConfig defines the real-time inbox channel settings.
type WSConfig struct {
	TokenSecret string // WS_TOKEN_SECRET: HMAC secret for session tokens
	SendBuffer  int    // WS_SEND_BUFFER: per-connection outbound queue size
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

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath string // SQLite path

	// Rate limiting
	RateLimit RateLimitConfig

	// Generation backends
	AI AIConfig

	// Storage signing
	Storage StorageConfig

	// Push delivery
	Push PushConfig

	// Real-time channel
	WS WSConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath: getenv("DB_PATH", "app.db"),

		// Rate limiting
		RateLimit: RateLimitConfig{
			PerMinute: getint("RATE_LIMIT_PER_MINUTE", 60),
			PerHour:   getint("RATE_LIMIT_PER_HOUR", 600),
		},

		// Generation backends
		AI: AIConfig{
			GeminiAPIKey:      getenv("GEMINI_API_KEY", ""),
			GeminiModel:       getenv("GEMINI_MODEL", "gemini-2.0-flash"),
			OpenRouterAPIKey:  getenv("OPENROUTER_API_KEY", ""),
			OpenRouterModel:   getenv("OPENROUTER_MODEL", "gryphe/mythomax-l2-13b"),
			GenerateTimeout:   getdur("AI_GENERATE_TIMEOUT", 60*time.Second),
			TranscribeTimeout: getdur("AI_TRANSCRIBE_TIMEOUT", 30*time.Second),
		},

		// Storage signing
		Storage: StorageConfig{
			PublicBaseURL: getenv("STORAGE_PUBLIC_BASE_URL", "http://localhost:9000/media"),
			SigningSecret: getenv("STORAGE_SIGNING_SECRET", "dev-storage-secret"),
			URLTTL:        getdur("STORAGE_URL_TTL", time.Hour),
		},

		// Push delivery
		Push: PushConfig{
			BaseURL:   getenv("PUSH_BASE_URL", ""),
			AuthToken: getenv("PUSH_AUTH_TOKEN", ""),
			Timeout:   getdur("PUSH_TIMEOUT", 10*time.Second),
		},

		// Real-time channel
		WS: WSConfig{
			TokenSecret: getenv("WS_TOKEN_SECRET", "dev-ws-secret"),
			SendBuffer:  getint("WS_SEND_BUFFER", 64),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-companion-backend"),
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

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateLimit.PerMinute < 1 {
		return cfg, errors.New("RATE_LIMIT_PER_MINUTE must be >= 1")
	}
	if cfg.RateLimit.PerHour < cfg.RateLimit.PerMinute {
		return cfg, errors.New("RATE_LIMIT_PER_HOUR must be >= RATE_LIMIT_PER_MINUTE")
	}
	if cfg.AI.GenerateTimeout <= 0 || cfg.AI.TranscribeTimeout <= 0 {
		return cfg, errors.New("AI timeouts must be positive durations")
	}
	if strings.TrimSpace(cfg.Storage.PublicBaseURL) == "" {
		return cfg, errors.New("STORAGE_PUBLIC_BASE_URL must not be empty")
	}
	if cfg.Storage.URLTTL <= 0 {
		return cfg, errors.New("STORAGE_URL_TTL must be > 0")
	}
	if cfg.Push.Timeout <= 0 {
		return cfg, errors.New("PUSH_TIMEOUT must be > 0")
	}
	if cfg.WS.SendBuffer < 1 {
		return cfg, errors.New("WS_SEND_BUFFER must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

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
		if i, err := strconv.Atoi(v); err == nil {
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
