// Command server runs the media gate HTTP API.
//
//	@title						go-media-gate API
//	@version					1.0
//	@description				Admission control, ban management and result reuse for a media download service.
//	@BasePath					/api/v1
//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Type "Bearer" followed by a space and the admin token.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-media-gate/internal/cache"
	"github.com/tbourn/go-media-gate/internal/config"
	httpapi "github.com/tbourn/go-media-gate/internal/http"
	"github.com/tbourn/go-media-gate/internal/http/handlers"
	"github.com/tbourn/go-media-gate/internal/http/middleware"
	"github.com/tbourn/go-media-gate/internal/observability"
	"github.com/tbourn/go-media-gate/internal/repo"
	"github.com/tbourn/go-media-gate/internal/services"
	"github.com/tbourn/go-media-gate/internal/sysutil"
	"github.com/tbourn/go-media-gate/internal/workers"
)

var version = "dev"

const shutdownGrace = 15 * time.Second

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		return err
	}
	db, err := repo.OpenSQLite(cfg.DBPath)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	pool := workers.New(cfg.StoreWorkers)

	if err := os.MkdirAll(filepath.Dir(cfg.Cache.Path), 0o755); err != nil {
		return err
	}
	store, err := cache.Open(cfg.Cache)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close cache store")
		}
	}()
	extraction := cache.New(store, pool, cfg.Cache.TTL)

	bans := services.NewBanService(db, pool)
	media := services.NewMediaService(db, pool)
	users := services.NewUserService(db, pool)
	limiter := services.NewActivityLimiter(
		services.LimiterConfigFrom(cfg.Admission, cfg.Reason),
		bans,
		services.NewReasonGenerator(ctx, cfg.Reason),
	)
	gate := &services.Gate{Bans: bans, Limiter: limiter, Media: media, Users: users}

	auth := middleware.NewAdminAuth(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL)
	if !auth.Enabled() {
		if cfg.Admin.AuthDisabled {
			auth.Unguarded()
		} else {
			log.Warn().Msg("admin routes refuse all requests: ADMIN_JWT_SECRET is not set")
		}
	}

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, handlers.Deps{
		Gate:               gate,
		Media:              media,
		Bans:               bans,
		Users:              users,
		Cache:              extraction,
		Admin:              handlers.Credentials{Username: cfg.Admin.Username, Password: cfg.Admin.Password},
		DefaultBanDuration: cfg.Admission.BanDuration,
	}, auth, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", version).
			Int("burst_limit", cfg.Admission.BurstLimit).
			Int("sustained_limit", cfg.Admission.SustainedLimit).
			Str("cache_backend", cfg.Cache.Backend).
			Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	// Drain queued ban and dedup writes before the store goes away.
	if err := pool.Close(sctx); err != nil {
		log.Warn().Err(err).Msg("storage pool did not drain")
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	return nil
}
