package main

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/mattn/go-isatty"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/tbourn/go-fluency-battle/internal/auth"
	"github.com/tbourn/go-fluency-battle/internal/cache"
	"github.com/tbourn/go-fluency-battle/internal/catalog"
	"github.com/tbourn/go-fluency-battle/internal/config"
	"github.com/tbourn/go-fluency-battle/internal/llm"
	"github.com/tbourn/go-fluency-battle/internal/memstore"
	"github.com/tbourn/go-fluency-battle/internal/mongostore"
	"github.com/tbourn/go-fluency-battle/internal/repo"
	"github.com/tbourn/go-fluency-battle/internal/scoring"
	"github.com/tbourn/go-fluency-battle/internal/services"
	"github.com/tbourn/go-fluency-battle/internal/store"
	"github.com/tbourn/go-fluency-battle/internal/sysutil"
)

func noop(context.Context) error { return nil }

// backend is the configured room store plus its lifecycle hooks.
type backend struct {
	driver  string
	store   store.RoomStore
	ping    func(context.Context) error
	migrate func(context.Context) error
	close   func(context.Context) error
}

func openBackend(ctx context.Context, cfg config.Config, lg *zerolog.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverMemory:
		return &backend{driver: cfg.Store.Driver, store: memstore.New(), ping: noop, migrate: noop, close: noop}, nil

	case config.DriverMongo:
		ms, err := mongostore.Connect(ctx, cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		return &backend{driver: cfg.Store.Driver, store: ms, ping: ms.Ping, migrate: ms.EnsureIndexes, close: ms.Close}, nil

	default:
		db, err := repo.OpenSQLite(cfg.Store.DBPath, repo.OpenOptions{Logger: lg})
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.Store.DBPath, err)
		}
		st := repo.NewStore(db)
		return &backend{
			driver:  cfg.Store.Driver,
			store:   st,
			ping:    st.Ping,
			migrate: func(context.Context) error { return repo.AutoMigrate(db) },
			close:   func(context.Context) error { return repo.Close(db) },
		}, nil
	}
}

// setupLogging installs the process logger. Colors are only used when the
// writer is a terminal.
func setupLogging(out io.Writer, cfg config.Config) zerolog.Logger {
	noColor := true
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return sysutil.SetupLogging(out, sysutil.LogOptions{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		NoColor: noColor,
		Service: cfg.OTEL.ServiceName,
		Version: version,
	})
}

func loadCatalog(cfg config.Config) (*catalog.Catalog, error) {
	if cfg.CatalogPath == "" {
		return catalog.Default()
	}
	return catalog.Load(cfg.CatalogPath)
}

func newGenerator(cfg config.Config) llm.Generator {
	return llm.NewGemini(llm.GeminiConfig{
		APIKey:  cfg.LLM.GeminiAPIKey,
		BaseURL: cfg.LLM.GeminiBaseURL,
		Model:   cfg.LLM.GeminiModel,
		Timeout: cfg.LLM.Timeout,
	}, &http.Client{Timeout: cfg.LLM.Timeout})
}

func newVerifier(cfg config.Config) (auth.Verifier, error) {
	if cfg.Auth.Mode == config.AuthHeader {
		return auth.HeaderVerifier{}, nil
	}
	return auth.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
}

// dialResults connects the Redis results memo, or returns a nil client and
// the no-op memo when REDIS_ADDR is empty.
func dialResults(ctx context.Context, cfg config.Config) (*redis.Client, cache.Results, error) {
	if cfg.Cache.RedisAddr == "" {
		return nil, cache.Noop{}, nil
	}
	client, err := cache.Dial(ctx, cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.Cache.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	return client, cache.NewRedisResults(client, cfg.Cache.ResultsTTL), nil
}

// core is the set of services behind the RPC surface.
type core struct {
	match    *services.MatchService
	sessions *services.SessionService
	analysis *services.AnalysisService
	coach    *services.CoachService
}

func newCore(cfg config.Config, st store.RoomStore, cat *catalog.Catalog, gen llm.Generator, memo cache.Results) core {
	m := services.NewMatchService(st, cat)
	m.CandidateLimit = cfg.Match.CandidateLimit
	m.StaleAfter = cfg.Match.StaleAfter
	m.Attempts = cfg.Match.Attempts
	m.RetryBackoff = cfg.Match.RetryBackoff
	m.DefaultSessionSeconds = cfg.Match.DefaultSessionSeconds

	s := services.NewSessionService(st, gen)
	s.MaxMessageRunes = cfg.Match.MaxMessageRunes
	s.LLMTimeout = cfg.LLM.Timeout

	eng := scoring.NewEngine(gen, cfg.LLM.Timeout)
	eng.OnFallback = services.ScoringFallback

	a := services.NewAnalysisService(st, eng)
	a.Handicap = cfg.Handicap
	if memo != nil {
		a.Results = memo
	}

	co := services.NewCoachService(gen)
	co.MaxMessageRunes = cfg.Match.MaxMessageRunes
	co.LLMTimeout = cfg.LLM.Timeout

	return core{match: m, sessions: s, analysis: a, coach: co}
}
