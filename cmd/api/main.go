package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"riskcrash/internal/cache"
	"riskcrash/internal/config"
	"riskcrash/internal/database"
	"riskcrash/internal/events"
	"riskcrash/internal/game"
	"riskcrash/internal/kvstore"
	"riskcrash/internal/ledger"
	"riskcrash/internal/logger"
	"riskcrash/internal/retry"
	"riskcrash/internal/server"
	"riskcrash/internal/stats"
	"riskcrash/internal/treasury"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(&logger.Options{
		Level:      logger.ParseLevel(cfg.LogLevel),
		TimeFormat: time.RFC3339,
		NoColor:    cfg.Env == "production",
	})
	logger.Info("Config loaded", "env", cfg.Env, "store", cfg.Store.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, db, err := openStore(cfg)
	if err != nil {
		logger.Fatal("Open ledger failed", "driver", cfg.Store.Driver, "err", err)
	}
	defer store.Close()
	if db != nil {
		defer db.Close()
	}

	var redisSvc cache.Service
	err = retry.Constant(func() error {
		var err error
		redisSvc, err = cache.New(cfg.Redis)
		return err
	}, time.Second, retry.DefaultMaxAttempts)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache", "err", err)
		redisSvc = nil
	} else {
		defer redisSvc.Close()
	}

	hub := game.NewHub()
	go hub.Run()

	notifiers := game.Notifiers{hub}

	var snapshot *cache.SnapshotPublisher
	if redisSvc != nil {
		snapshot = cache.NewSnapshotPublisher(redisSvc, nil)
		notifiers = append(notifiers, snapshot)
	}

	if cfg.Nats.URL != "" {
		emitter, err := events.NewEmitter(cfg.Nats)
		if err != nil {
			logger.Warn("NATS unavailable, events stay local", "err", err)
		} else {
			defer emitter.Close()
			notifiers = append(notifiers, emitter)
		}
	}

	maxWager, err := cfg.MaxWager()
	if err != nil {
		logger.Fatal("Invalid max wager", "err", err)
	}
	manager := game.NewManager(store, notifiers, game.Settings{
		BettingWindow: cfg.Engine.BettingWindow,
		TickInterval:  cfg.Engine.TickInterval,
		RoundCooldown: cfg.Engine.RoundCooldown,
		GrowthRate:    cfg.Engine.GrowthRate,
		RetryBudget:   cfg.Engine.RetryBudget,
		MaxWager:      maxWager,
	})

	if snapshot != nil {
		snapshot.SetSource(manager)
		go snapshot.Run(ctx)
	}

	if err := manager.Start(ctx); err != nil {
		logger.Fatal("Start round engine failed", "err", err)
	}

	var statsCache stats.Cache
	if redisSvc != nil {
		statsCache = redisSvc
	}

	srv := server.New(server.Deps{
		Manager:     manager,
		Hub:         hub,
		Treasury:    treasury.NewService(store, cfg),
		Stats:       stats.NewAggregator(store, statsCache, cfg.Engine.StatsCacheTTL),
		DB:          db,
		Cache:       redisSvc,
		StoreDriver: cfg.Store.Driver,
		AdminToken:  cfg.Admin.Token,
		RateLimit:   100,
	})

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.Listen(addr); err != nil {
			logger.Error("HTTP server stopped", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown requested")

	if err := srv.Shutdown(); err != nil {
		logger.Error("HTTP shutdown failed", "err", err)
	}

	// Stop lets the current round finish its in-flight persistence.
	manager.Stop()
	select {
	case <-manager.Done():
	case <-time.After(shutdownTimeout):
		logger.Warn("Round engine did not stop in time")
	}
	logger.Info("Server stopped")
}

// openStore picks the ledger backend. The database service is returned so
// the health endpoint can report on it.
func openStore(cfg *config.Config) (ledger.Store, database.Service, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		logger.Warn("Using the in-memory ledger; nothing survives a restart")
		return ledger.NewMemoryStore(), nil, nil

	case config.StoreDriverBadger:
		s, err := kvstore.NewBadgerStore(cfg.Store.BadgerPath)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil

	default:
		db := database.New()
		if err := database.RunMigrations(db.DB(), getEnv("MIGRATIONS_PATH", "./migrations")); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return database.NewStore(db.DB()), db, nil
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
