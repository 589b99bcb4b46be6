package config

import (
	"os"
	"reflect"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-fluency-battle/internal/scoring"
)

// Ensure tests don't leak env to others, and that defaults only miss the
// JWT secret.
func TestMain(m *testing.M) {
	os.Unsetenv("PORT")
	os.Unsetenv("JWT_SECRET")
	os.Unsetenv("AUTH_MODE")
	stdoutIsTTY = func() bool { return false }
	os.Exit(m.Run())
}

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
}

// --- MustLoad ---

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	withSecret(t)
	t.Setenv("LOG_LEVEL", "verbose") // invalid -> Load() error
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("MustLoad should panic on invalid config")
		}
	}()
	_ = MustLoad()
}

func TestMustLoad_Success_NoPanic(t *testing.T) {
	withSecret(t)
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

// --- Load success + normalization + parsing ---

func TestLoad_Defaults(t *testing.T) {
	withSecret(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.APIBasePath != "/api/v1" || cfg.LogPretty {
		t.Fatalf("base path / pretty unexpected: %q %v", cfg.APIBasePath, cfg.LogPretty)
	}
	if cfg.Store.Driver != DriverSQLite || cfg.Store.DBPath != "battle.db" || cfg.Auth.Mode != AuthJWT {
		t.Fatalf("store/auth defaults unexpected: %+v %+v", cfg.Store, cfg.Auth)
	}
	want := MatchConfig{
		CandidateLimit:        10,
		StaleAfter:            3 * time.Minute,
		Attempts:              3,
		RetryBackoff:          150 * time.Millisecond,
		DefaultSessionSeconds: 420,
		MaxMessageRunes:       2000,
	}
	if cfg.Match != want {
		t.Fatalf("match defaults = %+v; want %+v", cfg.Match, want)
	}
	if !reflect.DeepEqual(cfg.Handicap, scoring.DefaultHandicap()) {
		t.Fatalf("handicap defaults = %+v", cfg.Handicap)
	}
	if cfg.LLM.Timeout != 20*time.Second || cfg.LLM.GeminiAPIKey != "" {
		t.Fatalf("llm defaults = %+v", cfg.LLM)
	}
	if cfg.Cache.RedisAddr != "" || cfg.Cache.ResultsTTL != 24*time.Hour {
		t.Fatalf("cache defaults = %+v", cfg.Cache)
	}
}

func TestLoad_PrettyFollowsTerminal(t *testing.T) {
	withSecret(t)
	stdoutIsTTY = func() bool { return true }
	defer func() { stdoutIsTTY = func() bool { return false } }()

	cfg, _ := Load()
	if !cfg.LogPretty {
		t.Fatalf("LOG_PRETTY should default to true on a terminal")
	}
	t.Setenv("LOG_PRETTY", "off")
	cfg, _ = Load()
	if cfg.LogPretty {
		t.Fatalf("explicit LOG_PRETTY=off ignored")
	}
}

func TestLoad_Success_DefaultsAndOverrides(t *testing.T) {
	// Server timeouts / sizes (valid)
	t.Setenv("PORT", "8088")
	t.Setenv("READ_TIMEOUT", "2s")
	t.Setenv("READ_HEADER_TIMEOUT", "1s")
	t.Setenv("WRITE_TIMEOUT", "3s")
	t.Setenv("IDLE_TIMEOUT", "4s")
	t.Setenv("MAX_HEADER_BYTES", "8192")
	t.Setenv("GIN_MODE", "weird") // will normalize to "release"

	// Logging / Docs
	t.Setenv("LOG_LEVEL", "warning") // will normalize to "warn"
	t.Setenv("LOG_PRETTY", "yes")
	t.Setenv("SWAGGER_ENABLED", "on")
	t.Setenv("API_BASE_PATH", "api/v1/") // no leading slash + trailing slash -> "/api/v1"

	// Rate limiting (use invalids for parse to fall back to defaults)
	t.Setenv("RATE_RPS", "x")      // -> default 5.0
	t.Setenv("RATE_BURST", "nope") // -> default 10

	// Web protection
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://a.com , , http://b ")
	t.Setenv("ENABLE_HSTS", "TRUE")
	t.Setenv("HSTS_MAX_AGE", "24h")

	// Backends
	t.Setenv("STORE_DRIVER", "MONGO")
	t.Setenv("MONGO_URI", "mongodb://db:27017")
	t.Setenv("MONGO_DATABASE", "battle")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("RESULTS_TTL", "1h")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("GEMINI_MODEL", "gemini-x")
	t.Setenv("LLM_TIMEOUT", "5s")
	t.Setenv("CATALOG_PATH", "catalog.toml")

	// Domain knobs
	t.Setenv("MATCH_CANDIDATE_LIMIT", "4")
	t.Setenv("MATCH_STALE_AFTER", "90s")
	t.Setenv("MATCH_ATTEMPTS", "5")
	t.Setenv("MATCH_RETRY_BACKOFF", "0s")
	t.Setenv("DEFAULT_SESSION_SECONDS", "0")
	t.Setenv("MAX_MESSAGE_RUNES", "500")
	t.Setenv("HANDICAP_TIERS", "50:0.3, 90:0.1")
	t.Setenv("HANDICAP_FLOOR", "0.5")
	t.Setenv("HANDICAP_JITTER", "0")

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

	// Logging / Docs
	if cfg.LogLevel != "warn" || !cfg.LogPretty || !cfg.SwaggerEnabled || cfg.APIBasePath != "/api/v1" {
		t.Fatalf("logging/docs unexpected: %+v", cfg)
	}

	// Rate limiting (parse fallback to defaults)
	if cfg.RateRPS != 5.0 || cfg.RateBurst != 10 {
		t.Fatalf("rate limiting unexpected: %+v", cfg)
	}

	// Web protection
	if !reflect.DeepEqual(cfg.CORS.AllowedOrigins, []string{"https://a.com", "http://b"}) {
		t.Fatalf("cors origins unexpected: %#v", cfg.CORS.AllowedOrigins)
	}
	if !cfg.Security.EnableHSTS || cfg.Security.HSTSMaxAge != 24*time.Hour {
		t.Fatalf("security unexpected: %+v", cfg.Security)
	}

	// Backends
	if cfg.Store != (StoreConfig{Driver: DriverMongo, DBPath: "battle.db", MongoURI: "mongodb://db:27017", MongoDatabase: "battle"}) {
		t.Fatalf("store unexpected: %+v", cfg.Store)
	}
	if cfg.Cache.RedisAddr != "redis:6379" || cfg.Cache.RedisDB != 2 || cfg.Cache.ResultsTTL != time.Hour {
		t.Fatalf("cache unexpected: %+v", cfg.Cache)
	}
	if cfg.Auth.Mode != AuthHeader || cfg.LLM.GeminiModel != "gemini-x" || cfg.LLM.Timeout != 5*time.Second || cfg.CatalogPath != "catalog.toml" {
		t.Fatalf("auth/llm unexpected: %+v %+v", cfg.Auth, cfg.LLM)
	}

	// Domain knobs
	if cfg.Match.CandidateLimit != 4 || cfg.Match.StaleAfter != 90*time.Second || cfg.Match.Attempts != 5 ||
		cfg.Match.RetryBackoff != 0 || cfg.Match.DefaultSessionSeconds != 0 || cfg.Match.MaxMessageRunes != 500 {
		t.Fatalf("match unexpected: %+v", cfg.Match)
	}
	wantTiers := []scoring.Tier{{Min: 90, Fraction: 0.1}, {Min: 50, Fraction: 0.3}}
	if !reflect.DeepEqual(cfg.Handicap.Tiers, wantTiers) || cfg.Handicap.Floor != 0.5 || cfg.Handicap.MaxJitter != 0 {
		t.Fatalf("handicap unexpected: %+v", cfg.Handicap)
	}

	// OTEL
	if !cfg.OTEL.Enabled || cfg.OTEL.Endpoint != "otel:4317" || cfg.OTEL.Insecure || cfg.OTEL.ServiceName != "svc" || cfg.OTEL.SampleRatio != 0.75 {
		t.Fatalf("otel unexpected: %+v", cfg.OTEL)
	}
}

// --- Load validations (each case triggers exactly one validation error) ---

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"invalid LOG_LEVEL", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"empty PORT via spaces", map[string]string{"PORT": "   "}, "PORT must not be empty"},
		{"non-positive timeouts", map[string]string{"READ_TIMEOUT": "0s"}, "timeouts must be positive"},
		{"max header bytes <= 0", map[string]string{"MAX_HEADER_BYTES": "0"}, "MAX_HEADER_BYTES"},
		{"rate rps negative", map[string]string{"RATE_RPS": "-1"}, "RATE_RPS"},
		{"rate burst < 1", map[string]string{"RATE_BURST": "0"}, "RATE_BURST"},
		{"hsts max age negative", map[string]string{"HSTS_MAX_AGE": "-1s"}, "HSTS_MAX_AGE"},
		{"empty DB_PATH", map[string]string{"DB_PATH": "   "}, "DB_PATH must not be empty"},
		{"unknown driver", map[string]string{"STORE_DRIVER": "etcd"}, "STORE_DRIVER"},
		{"mongo without uri", map[string]string{"STORE_DRIVER": "mongo"}, "MONGO_URI"},
		{"negative redis db", map[string]string{"REDIS_DB": "-1"}, "REDIS_DB"},
		{"negative results ttl", map[string]string{"RESULTS_TTL": "-1s"}, "RESULTS_TTL"},
		{"short jwt secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"unknown auth mode", map[string]string{"AUTH_MODE": "oauth"}, "AUTH_MODE"},
		{"llm timeout", map[string]string{"LLM_TIMEOUT": "0s"}, "LLM_TIMEOUT"},
		{"candidate limit", map[string]string{"MATCH_CANDIDATE_LIMIT": "0"}, "MATCH_CANDIDATE_LIMIT"},
		{"stale after", map[string]string{"MATCH_STALE_AFTER": "0s"}, "MATCH_STALE_AFTER"},
		{"attempts", map[string]string{"MATCH_ATTEMPTS": "0"}, "MATCH_ATTEMPTS"},
		{"backoff", map[string]string{"MATCH_RETRY_BACKOFF": "-1ms"}, "MATCH_RETRY_BACKOFF"},
		{"session seconds", map[string]string{"DEFAULT_SESSION_SECONDS": "-5"}, "DEFAULT_SESSION_SECONDS"},
		{"message runes", map[string]string{"MAX_MESSAGE_RUNES": "0"}, "MAX_MESSAGE_RUNES"},
		{"handicap tiers", map[string]string{"HANDICAP_TIERS": "82=0.2"}, "HANDICAP_TIERS"},
		{"handicap floor", map[string]string{"HANDICAP_FLOOR": "1.5"}, "HANDICAP_FLOOR"},
		{"handicap jitter", map[string]string{"HANDICAP_JITTER": "-0.1"}, "HANDICAP_JITTER"},
		{"otel sample ratio out of range", map[string]string{"OTEL_TRACES_SAMPLER_ARG": "1.5"}, "OTEL_TRACES_SAMPLER_ARG"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withSecret(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %s validation error, got: %v", tc.want, err)
			}
		})
	}
}

func TestLoad_HeaderModeNeedsNoSecret(t *testing.T) {
	t.Setenv("AUTH_MODE", "header")
	if _, err := Load(); err != nil {
		t.Fatalf("header mode: %v", err)
	}
}

func TestEnvParsers(t *testing.T) {
	t.Setenv("BATTLE_NAME", "room")
	t.Setenv("BATTLE_BLANK", "")
	t.Setenv("BATTLE_RPS", "2.5")
	t.Setenv("BATTLE_SEATS", "4")
	t.Setenv("BATTLE_WAIT", "90s")
	t.Setenv("BATTLE_JUNK", "seven")

	if got := getenv("BATTLE_NAME", "x"); got != "room" {
		t.Errorf("getenv set = %q", got)
	}
	if got := getenv("BATTLE_BLANK", "x"); got != "x" {
		t.Errorf("getenv blank = %q", got)
	}
	if got := getfloat("BATTLE_RPS", 0); got != 2.5 {
		t.Errorf("getfloat = %v", got)
	}
	if got := getfloat("BATTLE_JUNK", 1.5); got != 1.5 {
		t.Errorf("getfloat fallback = %v", got)
	}
	if got := getint("BATTLE_SEATS", 0); got != 4 {
		t.Errorf("getint = %d", got)
	}
	if got := getint("BATTLE_JUNK", 2); got != 2 {
		t.Errorf("getint fallback = %d", got)
	}
	if got := getdur("BATTLE_WAIT", 0); got != 90*time.Second {
		t.Errorf("getdur = %v", got)
	}
	if got := getdur("BATTLE_JUNK", time.Minute); got != time.Minute {
		t.Errorf("getdur fallback = %v", got)
	}
}

func TestGetbool(t *testing.T) {
	cases := []struct {
		raw  string
		def  bool
		want bool
	}{
		{"1", false, true},
		{" Yes ", false, true},
		{"ON", false, true},
		{"y", false, true},
		{"0", true, false},
		{"False", true, false},
		{" off", true, false},
		{"n", true, false},
		{"", true, true},
		{"", false, false},
		{"maybe", true, true},
	}
	for i, tc := range cases {
		key := "BATTLE_FLAG_" + strconv.Itoa(i)
		t.Setenv(key, tc.raw)
		if got := getbool(key, tc.def); got != tc.want {
			t.Errorf("getbool(%q, %v) = %v; want %v", tc.raw, tc.def, got, tc.want)
		}
	}
}

func TestSplitCSV(t *testing.T) {
	cases := map[string][]string{
		"":                       nil,
		" , ,":                   nil,
		"https://a.example":      {"https://a.example"},
		" http://x , ,http://y ": {"http://x", "http://y"},
	}
	for in, want := range cases {
		got := splitCSV(in)
		if len(got) == 0 && len(want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("splitCSV(%q) = %#v; want %#v", in, got, want)
		}
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := map[string]string{
		"":         "/",
		" / ":      "/",
		"battle":   "/battle",
		"/api/v2/": "/api/v2",
		" api/v1 ": "/api/v1",
	}
	for in, want := range cases {
		if got := normalizeBasePath(in); got != want {
			t.Errorf("normalizeBasePath(%q) = %q; want %q", in, got, want)
		}
	}
}
