package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/papertrade/trading-engine/internal/auth"
	"github.com/papertrade/trading-engine/internal/config"
	"github.com/papertrade/trading-engine/internal/ledger"
	"github.com/papertrade/trading-engine/internal/lock"
	"github.com/papertrade/trading-engine/internal/metrics"
	"github.com/papertrade/trading-engine/internal/quote"
	"github.com/papertrade/trading-engine/internal/retry"
	"github.com/papertrade/trading-engine/internal/store"
	"github.com/papertrade/trading-engine/internal/trade"
)

func main() {
	cfg := config.MustLoad()

	logger := setupLogger(cfg.Env)
	slog.SetDefault(logger)

	startingBalance, _ := cfg.Balance() // validated by Load

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional): position cache, quote cache, user lock ---
	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		logger.Info("Redis enabled")
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.Database.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			cancel()
			logger.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			cancel()
			logger.Error("migration failed", "err", err)
			os.Exit(1)
		}
		cancel()
		st = pg
		logger.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
			logger.Info("Redis position cache enabled")
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Per-user lock ---
	var locker lock.Locker = lock.NewKeyedMutex()
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb, cfg.Redis.LockTTL)
	}

	// --- Quote provider ---
	quotes, err := newQuoteProvider(cfg, rdb)
	if err != nil {
		logger.Error("quote provider setup failed", "err", err)
		os.Exit(1)
	}

	// --- Services ---
	// Orders and valuations price at the provider's current quote; only the
	// quote endpoints may answer from the cache.
	led := ledger.New(st, locker, quotes.Fresh(), ledger.WithLogger(logger))
	authSvc := auth.NewService(st, auth.Config{
		Secret:          cfg.Auth.Secret,
		TokenTTL:        cfg.Auth.TokenTTL,
		StartingBalance: startingBalance,
	}, logger)

	wsHub := trade.NewWSHub()
	go wsHub.Run()
	cleanup = append(cleanup, wsHub.Close)

	tradeSvc := trade.NewService(led, quotes, authSvc, wsHub, logger)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(cfg.HTTP.RequestTimeout))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	tradeSvc.Routes(r)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.HTTP.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("trading-engine listening", "port", cfg.HTTP.Port, "env", cfg.Env, "quotes", cfg.Quotes.Provider)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	logger.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}

// newQuoteProvider builds the configured provider wrapped with retries,
// lookup deduplication and, when Redis is available, a shared price cache.
func newQuoteProvider(cfg *config.Config, rdb *redis.Client) (*quote.Resilient, error) {
	var base quote.Provider
	switch cfg.Quotes.Provider {
	case "static":
		prices, err := cfg.StaticPrices()
		if err != nil {
			return nil, err
		}
		base = quote.NewStatic(prices)
	default:
		base = quote.NewAlphaVantage(quote.AlphaVantageConfig{
			BaseURL: cfg.Quotes.BaseURL,
			APIKey:  cfg.Quotes.APIKey,
			Timeout: cfg.Quotes.Timeout,
		})
	}

	policy := retry.DefaultPolicy
	policy.Attempts = cfg.Quotes.Retries

	var cache quote.PriceCache
	if rdb != nil {
		cache = quote.NewRedisPriceCache(rdb, cfg.Quotes.CacheTTL)
	}
	return quote.NewResilient(base, policy, cache), nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case "local":
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case "dev":
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
