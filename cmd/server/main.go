package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/eldtechnologies/promptsync/internal/api"
	"github.com/eldtechnologies/promptsync/internal/api/middleware"
	"github.com/eldtechnologies/promptsync/internal/config"
	"github.com/eldtechnologies/promptsync/internal/crypto"
	"github.com/eldtechnologies/promptsync/internal/fanout"
	"github.com/eldtechnologies/promptsync/internal/registry"
	"github.com/eldtechnologies/promptsync/internal/session"
	"github.com/eldtechnologies/promptsync/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	instanceID := cfg.InstanceID
	if instanceID == "" {
		instanceID = crypto.NewInstanceID()
	}
	logger = logger.With().Str("instance", instanceID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	storeOpts := store.Options{
		TTL:            cfg.RoomTTL,
		SecretBytes:    cfg.SecretBytes,
		SecretHashCost: cfg.SecretHashCost,
		Logger:         logger.With().Str("component", "store").Logger(),
	}

	// Redis is both the room store and the broker. Without it the process
	// still serves rooms, but only to its own connections.
	var (
		rooms       store.RoomStore
		fo          fanout.Fanout
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		client, err := store.Connect(ctx, cfg.RedisURL, cfg.BrokerTimeout)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, running in single-process mode")
		} else {
			redisClient = client
			defer redisClient.Close()
			logger.Info().Msg("connected to Redis")
		}
	}
	if redisClient != nil {
		rooms = store.NewRedisStore(redisClient, storeOpts)
		fo = fanout.NewRedis(redisClient, fanout.RedisOptions{
			InstanceID: instanceID,
			Timeout:    cfg.BrokerTimeout,
			Logger:     logger,
		})
	} else {
		logger.Warn().Msg("no broker configured: rooms will not span processes")
		rooms = store.NewMemoryStore(storeOpts)
		fo = fanout.NewLocal(instanceID)
	}
	defer fo.Close()

	reg := registry.New(logger)
	coord := session.New(rooms, reg, fo, session.Options{
		AuthTimeout: cfg.AuthTimeout,
		Logger:      logger,
	})

	if err := fo.Subscribe(ctx, fanout.AllRooms, coord.HandleRelay); err != nil {
		logger.Warn().Err(err).Msg("relay subscription failed, continuing with local delivery only")
	}

	router := api.NewRouter(api.Deps{
		Logger:      logger,
		Rooms:       rooms,
		Fanout:      fo,
		Coordinator: coord,
		Registry:    reg,
		Redis:       redisClient,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Bool("broker", fo.Available()).
			Msg("starting PromptSync server")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Hijacked WebSocket connections are not tracked by Shutdown.
		reg.Close()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("server stopped with error")
	}

	logger.Info().Msg("server stopped")
}
