package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"poscore/backend/internal/cache"
	"poscore/backend/internal/config"
	"poscore/backend/internal/httpapi"
	"poscore/backend/internal/lock"
	"poscore/backend/internal/logging"
	"poscore/backend/internal/metrics"
	"poscore/backend/internal/service"
	"poscore/backend/internal/store"
	"poscore/backend/internal/store/memory"
	pgstore "poscore/backend/internal/store/postgres"
	"poscore/backend/internal/store/seed"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel)
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatalf("apply schema: %v", err)
		}
		if cfg.SeedDemoData {
			fixtures, err := seed.Demo(time.Now().UTC())
			if err == nil {
				err = seed.Apply(ctx, pg, fixtures)
			}
			if err != nil {
				logger.Fatalf("seed demo data: %v", err)
			}
			logger.Info("demo data seeded")
		}
		repo = pg
		closers = append(closers, pg.Close)
		logger.WithField("repository", "postgres").Info("storage ready")
	} else {
		repo = memory.NewSeeded()
		logger.WithField("repository", "memory").Info("storage ready")
	}

	catalogCache := cache.CatalogCache(cache.NoopCatalogCache{})
	locker := lock.Locker(lock.NewLocalLocker())
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop cache and local request locks")
			_ = client.Close()
		} else {
			catalogCache = cache.NewRedisCatalogCache(client)
			locker = lock.NewRedisLocker(client)
			closers = append(closers, client.Close)
			logger.WithField("addr", cfg.RedisAddr).Info("redis ready")
		}
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}

	svc, err := service.New(repo, service.Options{
		DefaultStoreID:   cfg.StoreID,
		BaseCurrency:     cfg.BaseCurrency,
		Cache:            catalogCache,
		CatalogCacheTTL:  cfg.CatalogCacheTTL(),
		Locker:           locker,
		RequestLockTTL:   cfg.RequestLockTTL(),
		Logger:           logger,
		Metrics:          m,
		ReturnCostPolicy: cfg.ReturnCostPolicy,
	})
	if err != nil {
		logger.Fatalf("build service: %v", err)
	}
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, httpapi.Options{AllowedOrigin: cfg.AllowedOrigin, Logger: logger, Metrics: m})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.Address()).Info("poscore listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.TrimSpace(cfg.StoreID) == "" {
		return fmt.Errorf("DEFAULT_STORE_ID must not be empty")
	}
	if len(cfg.BaseCurrency) != 3 {
		return fmt.Errorf("BASE_CURRENCY must be a 3-letter code, got %q", cfg.BaseCurrency)
	}
	if _, err := service.ParseCostPolicy(cfg.ReturnCostPolicy); err != nil {
		return fmt.Errorf("RETURN_COST_POLICY: %w", err)
	}
	return nil
}
