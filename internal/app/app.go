package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/wnt/sparechange/internal/api"
	"github.com/wnt/sparechange/internal/baseline"
	"github.com/wnt/sparechange/internal/config"
	"github.com/wnt/sparechange/internal/database"
	"github.com/wnt/sparechange/internal/ledger"
	"github.com/wnt/sparechange/internal/lock"
	"github.com/wnt/sparechange/internal/pricing"
	"github.com/wnt/sparechange/internal/retrier"
	"github.com/wnt/sparechange/internal/rpc"
	"github.com/wnt/sparechange/internal/solana"
	"github.com/wnt/sparechange/internal/tracker"
	"github.com/wnt/sparechange/internal/utils"
	"gorm.io/gorm"
)

const (
	shutdownTimeout = 10 * time.Second
	// Per page request; the whole walk is bounded by FETCH_TIMEOUT
	feedRequestTimeout = 15 * time.Second
	userAgent          = "sparechange/1.0"
)

// App holds the wired service and the resources it owns
type App struct {
	Config    config.Config
	Tracker   *tracker.Tracker
	Baselines *baseline.Store
	Ledger    *ledger.Ledger
	Pool      *rpc.Pool

	db     *gorm.DB
	redis  *redis.Client
	logger zerolog.Logger
}

// Build connects to the database and the optional lock store and wires the tracker
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	a := &App{
		Config:    cfg,
		Baselines: baseline.NewStore(db),
		Ledger:    ledger.New(db, cfg.InvestmentThreshold),
		db:        db,
		logger:    logger,
	}

	var opts []tracker.Option
	if cfg.RedisURL != "" {
		client, err := lock.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.redis = client
		opts = append(opts, tracker.WithLocker(lock.NewRedisLock(client, cfg.LockTTL, logger)))
	} else {
		logger.Warn().Msg("REDIS_URL not set, per-wallet run lock disabled")
	}

	a.Pool, err = rpc.NewPool(cfg.HeliusEndpoints, cfg.HeliusRateLimit, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	feedLog := logger.With().Str("component", "helius_client").Logger()
	client, err := solana.NewClient(a.Pool, cfg.HeliusAPIKey, logger,
		solana.WithHTTPClient(utils.NewHTTPClient(
			utils.WithTimeout(feedRequestTimeout),
			utils.WithDefaultHeaders(map[string]string{
				"Accept":     "application/json",
				"User-Agent": userAgent,
			}),
			utils.WithRetries(0, 0),
		)),
		solana.WithRetrier(retrier.New(
			retrier.WithMaxRetries(cfg.FetchRetries),
			retrier.WithOnRetry(func(attempt int, delay time.Duration, err error) {
				feedLog.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("Retrying transaction page")
			}),
		)),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	prices := pricing.NewLookup(pricing.NewJupiterSource(cfg.PriceAPIURL), cfg.PriceCacheTTL, cfg.PriceTimeout, logger)

	a.Tracker = tracker.New(client, prices, a.Baselines, a.Ledger, tracker.Config{
		FetchTimeout: cfg.FetchTimeout,
		Concurrency:  cfg.TrackConcurrency,
	}, logger, opts...)

	return a, nil
}

// Serve runs the HTTP API until ctx is cancelled, then shuts it down gracefully
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + a.Config.HTTPPort,
		Handler:           api.NewRouter(a.Tracker, a.logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server forced to shutdown: %w", err)
	}
	a.logger.Info().Msg("HTTP server stopped")
	return nil
}

// Close releases the database and redis connections
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error().Err(err).Msg("Failed to close redis client")
		}
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.logger.Error().Err(err).Msg("Failed to close database")
			}
		}
	}
}
