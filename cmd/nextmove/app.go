package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kalambet/nextmove/internal/capacity"
	"github.com/kalambet/nextmove/internal/config"
	"github.com/kalambet/nextmove/internal/decision"
	"github.com/kalambet/nextmove/internal/freebusy"
	"github.com/kalambet/nextmove/internal/plan"
	"github.com/kalambet/nextmove/internal/storage"
)

const redisPrefix = "nextmove:freebusy"

// app holds the wired engine shared by serve and the local commands.
type app struct {
	store   *storage.Store
	redis   *redis.Client
	fb      *freebusy.Service
	engine  *decision.Engine
	builder *plan.Builder
}

func setupLogging(level string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		l = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a := &app{store: store}

	var cache freebusy.Cache = freebusy.NewMemoryCache()
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Warn("redis unavailable, using in-memory free/busy cache", "addr", cfg.Cache.RedisAddr, "error", err)
			client.Close()
		} else {
			a.redis = client
			cache = freebusy.NewRedisCache(client, redisPrefix)
			slog.Info("free/busy cache on redis", "addr", cfg.Cache.RedisAddr)
		}
	}

	httpClient := &http.Client{Timeout: cfg.Calendar.FetchTimeout}
	providers := freebusy.Registry{
		freebusy.ProviderGoogle:    freebusy.NewGoogleProvider(httpClient),
		freebusy.ProviderMicrosoft: freebusy.NewMicrosoftProvider(httpClient),
	}
	agg := freebusy.NewAggregator(providers, cfg.Calendar.FetchTimeout)
	a.fb = freebusy.NewService(store, agg, cache, freebusy.Defaults{
		Timezone:  cfg.Calendar.Timezone,
		WorkStart: cfg.Calendar.WorkStart,
		WorkEnd:   cfg.Calendar.WorkEnd,
	})

	a.engine = decision.NewEngine(store, store)
	a.builder = plan.NewBuilder(store, a.engine, capacity.NewPlanner(store, a.fb), cfg.Plan.PendingActionCap)
	return a, nil
}

func (a *app) Close() error {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			slog.Warn("closing redis", "error", err)
		}
	}
	return a.store.Close()
}

// openApp loads config and wires the app for a one-shot command.
func openApp(ctx context.Context) (*app, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, cfg, err
	}
	setupLogging(cfg.Log.Level)
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, cfg, err
	}
	return a, cfg, nil
}
