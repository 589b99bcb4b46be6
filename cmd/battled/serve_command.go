package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tbourn/go-fluency-battle/internal/config"
	httpapi "github.com/tbourn/go-fluency-battle/internal/http"
	"github.com/tbourn/go-fluency-battle/internal/http/handlers"
	"github.com/tbourn/go-fluency-battle/internal/observability"
)

const shutdownGrace = 15 * time.Second

func newServeCommand() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			lg := setupLogging(cmd.ErrOrStderr(), cfg)

			ln, err := net.Listen("tcp", ":"+cfg.Port)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, ln, migrate, &lg)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "migrate the schema or ensure indexes before serving")
	return cmd
}

// runServer wires the services and serves on ln until ctx is cancelled,
// then drains in-flight requests. It owns ln.
func runServer(ctx context.Context, cfg config.Config, ln net.Listener, migrate bool, lg *zerolog.Logger) (err error) {
	defer func() {
		if err != nil {
			_ = ln.Close()
		}
	}()

	shutdownOTel, err := observability.Setup(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer flushTraces(shutdownOTel, lg)

	be, err := openBackend(ctx, cfg, lg)
	if err != nil {
		return err
	}
	defer func() { _ = be.close(context.Background()) }()
	if migrate {
		if err := be.migrate(ctx); err != nil {
			return fmt.Errorf("migrate %s: %w", be.driver, err)
		}
	}

	rdb, memo, err := dialResults(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	}

	cat, err := loadCatalog(cfg)
	if err != nil {
		return fmt.Errorf("catalog: %w", err)
	}
	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}
	c := newCore(cfg, be.store, cat, newGenerator(cfg), memo)

	ready := func(ctx context.Context) error {
		if err := be.ping(ctx); err != nil {
			return fmt.Errorf("store: %w", err)
		}
		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
		}
		return nil
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		Match:    c.match,
		Sessions: c.sessions,
		Analyzer: c.analysis,
		Coach:    c.coach,
		Verifier: verifier,
		Ready:    ready,
	}, cfg)

	srv := &http.Server{
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	lg.Info().
		Str("addr", ln.Addr().String()).
		Str("store", be.driver).
		Str("auth", cfg.Auth.Mode).
		Bool("results_memo", rdb != nil).
		Int("personas", len(cat.Personas())).
		Strs("commands", handlers.Commands()).
		Msg("battled listening")

	return serve(ctx, srv, ln, lg)
}

func serve(ctx context.Context, srv *http.Server, ln net.Listener, lg *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	lg.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		lg.Error().Err(err).Msg("forced shutdown")
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	lg.Info().Msg("server exited")
	return nil
}

func flushTraces(shutdown observability.Shutdown, lg *zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		lg.Warn().Err(err).Msg("trace flush failed")
	}
}
