// Package app wires idbuilder's storage backend, core engines, and HTTP
// surface together and runs the process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/idbuilder/worker/internal/config"
	"github.com/idbuilder/worker/internal/httpserver"
	"github.com/idbuilder/worker/internal/platform"
	"github.com/idbuilder/worker/internal/schema"
	"github.com/idbuilder/worker/internal/sequence"
	"github.com/idbuilder/worker/internal/storage"
	"github.com/idbuilder/worker/internal/storage/filestore"
	"github.com/idbuilder/worker/internal/storage/redisstore"
	"github.com/idbuilder/worker/internal/storage/sqlstore"
	"github.com/idbuilder/worker/internal/telemetry"
	"github.com/idbuilder/worker/pkg/formatted"
	"github.com/idbuilder/worker/pkg/idconfig"
	"github.com/idbuilder/worker/pkg/increment"
	"github.com/idbuilder/worker/pkg/snowflake"
	"github.com/idbuilder/worker/pkg/token"
)

// Run sets up logging from the already-loaded cfg, opens the configured
// storage backend, runs the schema/init coordinator, and serves the HTTP API
// until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)

	ownerID := uuid.NewString()
	logger.Info("starting idbuilder", "owner_id", ownerID, "listen", cfg.ListenAddr(), "storage_backend", cfg.Storage.Backend)

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage backend: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("closing storage backend", "error", err)
		}
	}()

	coordinator := schema.New(backend, ownerID, logger)
	if err := coordinator.Run(ctx); err != nil {
		return fmt.Errorf("schema init: %w", err)
	}

	registry := telemetry.NewRegistry(telemetry.All()...)

	seqMgr := sequence.New(backend, sequence.Config{
		DefaultBatchSize:      cfg.Sequence.DefaultBatchSize,
		PrefetchThreshold:     cfg.Sequence.PrefetchThreshold,
		MaxConcurrentPrefetch: cfg.Sequence.MaxConcurrentPrefetch,
	})

	configs := idconfig.New(backend)
	tokens := token.New(backend)
	incrementSvc := increment.New(configs, seqMgr)
	formattedSvc := formatted.New(configs, seqMgr, backend)
	snowflakeSvc := snowflake.New(configs, backend, ownerID, cfg.Snowflake.LeaseTTL)

	configHandler := idconfig.NewHandler(configs)
	tokenHandler := token.NewHandler(tokens, cfg.Auth.TokenAdvisoryTTL)
	incrementHandler := increment.NewHandler(incrementSvc, tokens)
	formattedHandler := formatted.NewHandler(formattedSvc, tokens)
	snowflakeHandler := snowflake.NewHandler(snowflakeSvc, tokens)

	mount := func(admin chi.Router, keyed chi.Router) {
		admin.Get("/auth/verify", tokenHandler.HandleVerify)
		admin.Get("/auth/token", tokenHandler.HandleIssue)
		admin.Get("/auth/tokenreset", tokenHandler.HandleReset)

		admin.Get("/config/list", configHandler.HandleList)
		admin.Get("/config/increment", configHandler.HandleIncrement)
		admin.Post("/config/increment", configHandler.HandleIncrement)
		admin.Get("/config/snowflake", configHandler.HandleSnowflake)
		admin.Post("/config/snowflake", configHandler.HandleSnowflake)
		admin.Get("/config/formatted", configHandler.HandleFormatted)
		admin.Post("/config/formatted", configHandler.HandleFormatted)

		keyed.Get("/id/increment", incrementHandler.Handle)
		keyed.Get("/id/formatted", formattedHandler.Handle)
		keyed.Get("/id/snowflake", snowflakeHandler.Handle)
	}

	srv := httpserver.NewServer(logger, backend, registry, cfg.Auth.AdminToken, mount)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func openBackend(ctx context.Context, cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Backend {
	case "file":
		return filestore.New(cfg.File.BaseDir)
	case "redis":
		client, err := platform.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		return redisstore.New(client), nil
	case "postgres":
		return sqlstore.OpenPostgres(ctx, cfg.Postgres.DSN)
	case "mysql":
		return sqlstore.OpenMySQL(ctx, cfg.MySQL.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
