package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	v1 "github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/infrastructure/http/v1/handler"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/repository/cache"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/tile"
	"github.com/jaennil/guide_helper/backend/tilecache/internal/usecase"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/config"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/http_server"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/logger"
	"github.com/jaennil/guide_helper/backend/tilecache/pkg/telemetry"
)

func Run(cfg *config.Config) error {
	l := logger.NewZapLogger(cfg.Logger)
	defer l.Sync()

	l.Info("starting tilecache service", "config", cfg)

	if cfg.Telemetry.Enabled {
		shutdownTelemetry, err := telemetry.InitTracer(telemetry.Config{
			ServiceName:    cfg.Telemetry.ServiceName,
			ServiceVersion: cfg.Telemetry.ServiceVersion,
			Environment:    cfg.Telemetry.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		}, l)
		if err != nil {
			return fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				l.Error("failed to shutdown telemetry", "error", err)
			}
		}()
		l.Info("telemetry initialized", "service", cfg.Telemetry.ServiceName)
	}

	chain, store, err := NewChain(cfg, l)
	if err != nil {
		return err
	}
	defer func() {
		if err := chain.Close(); err != nil {
			l.Error("failed to close tile sources", "error", err)
		}
		l.Info("tile sources closed")
	}()

	validate := validator.New()
	h := handler.NewHandler(validate, chain, store, cfg.MBTiles.Format, cfg.HTTP.Timeout)
	router := v1.NewRouter(h, l, cfg.Telemetry.Enabled)

	ctx := logger.WithLogger(context.Background(), l)
	server := http_server.NewServer(ctx, cfg.HTTP.Server, router)

	serverErr := make(chan error, 1)
	go func() {
		l.Info("starting http server", "port", cfg.HTTP.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		l.Info("shutting down server...")
	case err := <-serverErr:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		l.Error("server forced to shutdown", "error", err)
	}

	l.Info("server stopped")

	return nil
}

// NewChain assembles [redis] -> mbtiles -> network. An MBTiles file that
// cannot be opened leaves its tier disabled instead of failing startup.
// The returned CacheSource wraps the persistent store.
func NewChain(cfg *config.Config, l logger.Logger) (*usecase.Chain, *usecase.CacheSource, error) {
	hasher, err := tile.NewHasher(cfg.MBTiles.Digest)
	if err != nil {
		return nil, nil, err
	}

	var sources []usecase.Source

	if cfg.Redis.Enabled {
		var tier cache.TileCache
		rc, err := cache.NewRedisCache(cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL,
			Prefix:   cfg.MBTiles.Name,
		})
		if err != nil {
			l.Error("failed to connect to redis, hot tier disabled", "addr", cfg.Redis.Addr, "error", err)
		} else {
			tier = rc
		}
		sources = append(sources, usecase.NewCacheSource("redis", tier, l))
	}

	var persistent cache.TileCache
	mb, err := cache.NewMBTiles(cache.MBTilesConfig{
		Path:   cfg.MBTiles.Path,
		Name:   cfg.MBTiles.Name,
		Format: cfg.MBTiles.Format,
		Hasher: hasher,
	}, l)
	if err != nil {
		l.Error("failed to open mbtiles store, persistent tier disabled", "path", cfg.MBTiles.Path, "error", err)
	} else {
		persistent = mb
	}

	store := usecase.NewCacheSource("mbtiles", persistent, l,
		usecase.WithOffline(cfg.MBTiles.Offline),
		usecase.WithRefresh(func(task *tile.Task) {
			l.Info("tile scheduled for reload", "task", task.ID, "tile", task.Address.String())
		}),
	)
	sources = append(sources, store)

	sources = append(sources, usecase.NewNetworkSource(usecase.NetworkConfig{
		URL:       cfg.Upstream.TileServerURL,
		Timeout:   cfg.Upstream.Timeout,
		UserAgent: cfg.Upstream.UserAgent,
		Referer:   cfg.Upstream.Referer,
	}, l))

	return usecase.NewChain(l, sources...), store, nil
}
