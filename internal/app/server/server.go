package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"traffic-router/internal/api"
	"traffic-router/internal/config"
	"traffic-router/internal/engine"
	"traffic-router/internal/listener"
	"traffic-router/internal/storage"
)

func Run(cfg config.Config) {
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Target registry
	store, err := storage.New(rootCtx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init target store")
	}
	defer store.Close()

	// Daily accept counters
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	counters := storage.NewCounters(rdb)
	if err := counters.Ping(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("init counter store")
	}

	// Target snapshot, warmed before serving
	cache := storage.NewTargetCache(store.ListAll)
	if err := cache.Refresh(rootCtx); err != nil {
		log.Fatal().Err(err).Msg("initial snapshot load")
	}

	// Engine + HTTP
	eng := engine.New(cache, counters)
	h := api.NewHandler(eng, store)
	h.Refresh = cache.Refresh
	h.Pings = []func(context.Context) error{store.Ping, counters.Ping}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.Router(h),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Snapshot refresher (LISTEN/NOTIFY)
	go listener.ListenAndRefresh(rootCtx, store, cache, cfg.Listener.Channel, cfg.Backoff())

	// Server goroutine
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server crashed")
		}
	}()

	// Wait for signal
	waitForSignal()
	log.Info().Msg("shutdown...")

	// Graceful shutdown
	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	cancel() // stop background goroutines
	_ = srv.Shutdown(shCtx)
}

func waitForSignal() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}
