// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, the room store backend, the results memo, identity, the LLM
// collaborator, matchmaking knobs, and the bot handicap.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/tbourn/go-fluency-battle/internal/scoring"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
	DriverMemory = "memory"
)

// Auth modes.
const (
	AuthJWT    = "jwt"    // HS256 bearer tokens
	AuthHeader = "header" // trusted bearer value, development only
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "fluency-battle")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// StoreConfig selects the room store backend.
type StoreConfig struct {
	Driver        string // STORE_DRIVER: sqlite|mongo|memory
	DBPath        string // DB_PATH (sqlite)
	MongoURI      string // MONGO_URI
	MongoDatabase string // MONGO_DATABASE
}

// CacheConfig configures the analysis results memo. An empty RedisAddr
// disables it.
type CacheConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ResultsTTL    time.Duration
}

// AuthConfig configures request identity.
type AuthConfig struct {
	Mode      string // AUTH_MODE: jwt|header
	JWTSecret string
	JWTIssuer string
}

// LLMConfig configures the Gemini collaborator. An empty APIKey makes every
// call fall back to its conservative default.
type LLMConfig struct {
	GeminiAPIKey  string
	GeminiBaseURL string
	GeminiModel   string
	Timeout       time.Duration
}

// MatchConfig holds matchmaking and session knobs.
type MatchConfig struct {
	CandidateLimit        int
	StaleAfter            time.Duration
	Attempts              int
	RetryBackoff          time.Duration
	DefaultSessionSeconds int
	MaxMessageRunes       int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s; must cover LLM calls
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // console logs; defaults to true when stdout is a terminal
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Backends and collaborators
	Store       StoreConfig
	Cache       CacheConfig
	Auth        AuthConfig
	LLM         LLMConfig
	CatalogPath string // optional TOML catalog; empty uses the built-in one

	// Domain knobs
	Match    MatchConfig
	Handicap scoring.Handicap

	// Observability
	OTEL OTELConfig
}

// stdoutIsTTY decides the LOG_PRETTY default.
var stdoutIsTTY = func() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
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
		WriteTimeout:      getdur("WRITE_TIMEOUT", 60*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", stdoutIsTTY()),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		Store: StoreConfig{
			Driver:        strings.ToLower(getenv("STORE_DRIVER", DriverSQLite)),
			DBPath:        getenv("DB_PATH", "battle.db"),
			MongoURI:      getenv("MONGO_URI", ""),
			MongoDatabase: getenv("MONGO_DATABASE", "fluency_battle"),
		},
		Cache: CacheConfig{
			RedisAddr:     getenv("REDIS_ADDR", ""),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       getint("REDIS_DB", 0),
			ResultsTTL:    getdur("RESULTS_TTL", 24*time.Hour),
		},
		Auth: AuthConfig{
			Mode:      strings.ToLower(getenv("AUTH_MODE", AuthJWT)),
			JWTSecret: getenv("JWT_SECRET", ""),
			JWTIssuer: getenv("JWT_ISSUER", ""),
		},
		LLM: LLMConfig{
			GeminiAPIKey:  getenv("GEMINI_API_KEY", ""),
			GeminiBaseURL: getenv("GEMINI_BASE_URL", ""),
			GeminiModel:   getenv("GEMINI_MODEL", ""),
			Timeout:       getdur("LLM_TIMEOUT", 20*time.Second),
		},
		CatalogPath: getenv("CATALOG_PATH", ""),

		Match: MatchConfig{
			CandidateLimit:        getint("MATCH_CANDIDATE_LIMIT", 10),
			StaleAfter:            getdur("MATCH_STALE_AFTER", 3*time.Minute),
			Attempts:              getint("MATCH_ATTEMPTS", 3),
			RetryBackoff:          getdur("MATCH_RETRY_BACKOFF", 150*time.Millisecond),
			DefaultSessionSeconds: getint("DEFAULT_SESSION_SECONDS", 420),
			MaxMessageRunes:       getint("MAX_MESSAGE_RUNES", 2000),
		},
		Handicap: scoring.Handicap{
			Floor:     getfloat("HANDICAP_FLOOR", scoring.DefaultHandicapFloor),
			MaxJitter: getfloat("HANDICAP_JITTER", scoring.DefaultHandicapJitter),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "fluency-battle"),
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
	tiers, err := scoring.ParseTiers(getenv("HANDICAP_TIERS", scoring.FormatTiers(scoring.DefaultTiers)))
	if err != nil {
		return cfg, fmt.Errorf("HANDICAP_TIERS: %w", err)
	}
	cfg.Handicap.Tiers = tiers

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
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}

	switch cfg.Store.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.Store.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case DriverMongo:
		if strings.TrimSpace(cfg.Store.MongoURI) == "" || strings.TrimSpace(cfg.Store.MongoDatabase) == "" {
			return cfg, errors.New("MONGO_URI and MONGO_DATABASE are required for STORE_DRIVER=mongo")
		}
	case DriverMemory:
	default:
		return cfg, errors.New("STORE_DRIVER must be one of: sqlite, mongo, memory")
	}
	if cfg.Cache.RedisDB < 0 {
		return cfg, errors.New("REDIS_DB must be >= 0")
	}
	if cfg.Cache.ResultsTTL < 0 {
		return cfg, errors.New("RESULTS_TTL must be >= 0")
	}

	switch cfg.Auth.Mode {
	case AuthJWT:
		if len(cfg.Auth.JWTSecret) < 16 {
			return cfg, errors.New("JWT_SECRET must be at least 16 bytes when AUTH_MODE=jwt")
		}
	case AuthHeader:
	default:
		return cfg, errors.New("AUTH_MODE must be one of: jwt, header")
	}

	if cfg.LLM.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT must be > 0")
	}

	if cfg.Match.CandidateLimit < 1 {
		return cfg, errors.New("MATCH_CANDIDATE_LIMIT must be >= 1")
	}
	if cfg.Match.StaleAfter <= 0 {
		return cfg, errors.New("MATCH_STALE_AFTER must be > 0")
	}
	if cfg.Match.Attempts < 1 {
		return cfg, errors.New("MATCH_ATTEMPTS must be >= 1")
	}
	if cfg.Match.RetryBackoff < 0 {
		return cfg, errors.New("MATCH_RETRY_BACKOFF must be >= 0")
	}
	if cfg.Match.DefaultSessionSeconds < 0 {
		return cfg, errors.New("DEFAULT_SESSION_SECONDS must be >= 0")
	}
	if cfg.Match.MaxMessageRunes < 1 {
		return cfg, errors.New("MAX_MESSAGE_RUNES must be >= 1")
	}

	if cfg.Handicap.Floor < 0 || cfg.Handicap.Floor > 1 {
		return cfg, errors.New("HANDICAP_FLOOR must be in [0,1]")
	}
	if cfg.Handicap.MaxJitter < 0 || cfg.Handicap.MaxJitter > 1 {
		return cfg, errors.New("HANDICAP_JITTER must be in [0,1]")
	}

	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

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
