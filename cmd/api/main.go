package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/Siddarth2230/url-shortener/internal/clicks"
	"github.com/Siddarth2230/url-shortener/internal/config"
	"github.com/Siddarth2230/url-shortener/internal/handler"
	"github.com/Siddarth2230/url-shortener/internal/logger"
	"github.com/Siddarth2230/url-shortener/internal/repository"
	"github.com/Siddarth2230/url-shortener/internal/service"
	"github.com/Siddarth2230/url-shortener/pkg/cache"
	"github.com/Siddarth2230/url-shortener/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Link store
	if cfg.Postgres.Migrate {
		if err := migrate(cfg.Postgres.DSN, log); err != nil {
			return err
		}
		if cfg.Sessions.DSN != cfg.Postgres.DSN {
			if err := migrate(cfg.Sessions.DSN, log); err != nil {
				return err
			}
		}
	}
	db, err := repository.OpenPostgres(startCtx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	// Identity store
	pool, err := repository.OpenSessionPool(startCtx, cfg.Sessions.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Fast store
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer func() {
		_ = redisClient.Close()
	}()
	// The worker identity needs Redis, so fail fast if it's down.
	if err := redisClient.Ping(startCtx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	// Worker identity and ID generator
	registry := idgen.NewRedisRegistry(redisClient, cfg.IDGen.LeaseTTL, log)
	var lease *idgen.RedisLease
	if cfg.IDGen.WorkerID >= 0 {
		lease, err = registry.Claim(startCtx, cfg.IDGen.WorkerID)
	} else {
		lease, err = registry.ClaimAny(startCtx)
	}
	if err != nil {
		return fmt.Errorf("claim worker id: %w", err)
	}
	defer func() {
		rctx, rcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer rcancel()
		if err := lease.Release(rctx); err != nil {
			log.Warn("worker id release failed", "error", err)
		}
	}()

	snowflake, err := idgen.NewSnowflake(idgen.Options{Lease: lease, Epoch: cfg.IDGen.Epoch})
	if err != nil {
		return err
	}

	// SIGHUP asks a halted generator to resume once the clock is fixed.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for range hup {
			if err := snowflake.Resume(); err != nil {
				log.Error("id generator still halted", "error", err)
				continue
			}
			log.Info("id generator resumed")
		}
	}()

	// Repositories
	byAlias := repository.NewAliasRepository(db)
	byOwner := repository.NewOwnerRepository(db)
	counters := repository.NewClickRepository(db)
	outbox := repository.NewReconcileRepository(db)
	sessionRepo := repository.NewSessionRepository(pool)

	// Click engine
	var shared clicks.SharedBuffer
	if cfg.Clicks.SharedBuffer {
		shared = clicks.NewRedisBuffer(redisClient)
	}
	engine := clicks.NewEngine(counters, shared, clicks.Options{
		FlushInterval: cfg.Clicks.FlushInterval,
		Threshold:     cfg.Clicks.Threshold,
		ApplyTimeout:  cfg.Clicks.ApplyTimeout,
		Parallelism:   cfg.Clicks.Parallelism,
	}, log.With("component", "clicks"))
	engine.Start()

	// Services
	resolver := service.NewResolver(byAlias, engine, service.ResolverOptions{
		LookupTimeout: cfg.Resolver.LookupTimeout,
		HotCacheSize:  cfg.Resolver.HotCacheSize,
		HotCacheTTL:   cfg.Resolver.HotCacheTTL,
	}, log.With("component", "resolver"))

	coord := service.NewCoordinator(byAlias, byOwner, outbox, service.RetryPolicy{
		MaxAttempts:    cfg.Coordinator.MaxAttempts,
		InitialBackoff: cfg.Coordinator.InitialBackoff,
		MaxBackoff:     cfg.Coordinator.MaxBackoff,
	}, resolver, log.With("component", "coordinator"))

	shortener := service.NewShortener(coord, idgen.NewAliasGenerator(snowflake), byOwner, counters,
		service.ShortenerOptions{BaseURL: cfg.Server.BaseURL}, log.With("component", "shortener"))

	sessions := service.NewSessions(sessionRepo, cache.NewRedisCache(redisClient, "session:"),
		service.SessionOptions{
			IdleWindow:   cfg.Sessions.IdleWindow,
			Absolute:     cfg.Sessions.Absolute,
			StoreTimeout: cfg.Sessions.StoreTimeout,
		}, log.With("component", "sessions"))

	reconciler := service.NewReconciler(outbox, byAlias, byOwner, service.ReconcilerOptions{
		Interval:   cfg.Reconciler.Interval,
		BatchSize:  cfg.Reconciler.BatchSize,
		Rate:       cfg.Reconciler.Rate,
		Lease:      cfg.Reconciler.Lease,
		RetryBase:  cfg.Reconciler.RetryBase,
		RetryLimit: cfg.Reconciler.RetryLimit,
	}, log.With("component", "reconciler"))

	bgCtx, bgCancel := context.WithCancel(context.Background())
	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		reconciler.Run(bgCtx)
	}()

	// HTTP
	router := handler.NewRouter(handler.Routes{
		Links:      handler.NewLinkHandler(shortener, log),
		Redirects:  handler.NewRedirectHandler(resolver, log),
		Auth:       handler.NewAuthHandler(sessions, cfg.Sessions.CookieName, log),
		Sessions:   sessions,
		CookieName: cfg.Sessions.CookieName,
		Ready: func(ctx context.Context) error {
			var halted error
			if snowflake.Halted() {
				halted = errors.New("id generator halted by clock skew")
			}
			return errors.Join(db.PingContext(ctx), pool.Ping(ctx), redisClient.Ping(ctx).Err(), lease.Err(), halted)
		},
		Logger: log,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Server.Addr, "worker_id", snowflake.WorkerID())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			log.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	bgCancel()
	bg.Wait()
	if err := engine.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("final click flush: %w", err))
	}
	log.Info("shutdown complete")
	return errors.Join(errs...)
}

func migrate(dsn string, log *slog.Logger) error {
	m, err := repository.NewMigrator(dsn, log)
	if err != nil {
		return err
	}
	defer m.Close()
	return m.Up()
}
