// Command hikaku runs the comparison API server: pair batches, vote
// submission, and the public leaderboards.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ashita-ai/hikaku/internal/config"
	"github.com/ashita-ai/hikaku/internal/engine"
	"github.com/ashita-ai/hikaku/internal/gate"
	"github.com/ashita-ai/hikaku/internal/identity"
	"github.com/ashita-ai/hikaku/internal/queue"
	"github.com/ashita-ai/hikaku/internal/ratelimit"
	"github.com/ashita-ai/hikaku/internal/selection"
	"github.com/ashita-ai/hikaku/internal/server"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/telemetry"
	"github.com/ashita-ai/hikaku/internal/token"
	"github.com/ashita-ai/hikaku/internal/vote"
	"github.com/ashita-ai/hikaku/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := slog.LevelInfo
	if os.Getenv("HIKAKU_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("hikaku starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	// Shared-state backends. With Redis, tokens, gates, jobs, and rate
	// limits coordinate across instances and the rating worker consumes the
	// queue. Without it, everything is in-process and this binary runs the
	// rating engine itself; only sound for a single instance.
	var (
		tokens  token.Store
		g       gate.Gate
		jobs    queue.Queue
		limiter ratelimit.Allower
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis: parse url: %w", err)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: ping: %w", err)
		}
		defer func() { _ = client.Close() }()

		tokens = token.NewRedisStore(client)
		g = gate.NewRedisGate(client)
		jobs = queue.NewRedisQueue(client, queue.DefaultKey, logger)
		limiter = ratelimit.New(client, logger)
		logger.Info("redis: enabled")
	} else {
		tokens = token.NewMemoryStore()
		g = gate.NewMemoryGate()
		memQueue := queue.NewMemoryQueue(64, logger)
		jobs = memQueue
		memLimiter := ratelimit.NewMemoryLimiter()
		defer func() { _ = memLimiter.Close() }()
		limiter = memLimiter

		// In-process rating worker for the no-Redis deployment.
		eng := engine.New(db, g, logger)
		eng.SetBatchSize(cfg.RatingBatchSize)
		go func() {
			if err := memQueue.Run(ctx, ratingHandlers(eng)); err != nil {
				logger.Error("rating worker stopped", "error", err)
			}
		}()
		logger.Warn("redis: disabled, using in-process stores (single instance only)")
	}
	defer func() { _ = tokens.Close() }()

	var strategy selection.Strategy
	if cfg.PrioritySelection {
		strategy = selection.NewPriorityStrategy(selection.NewRand())
	} else {
		strategy = selection.NewUniformStrategy(selection.NewRand())
	}
	logger.Info("pair selection", "priority", cfg.PrioritySelection)

	identitySvc := identity.NewService(db, logger)
	selector := selection.NewSelector(db, tokens, strategy, logger)
	trigger := gate.NewTrigger(g, jobs, logger)
	recorder := vote.NewRecorder(db, tokens, identitySvc, trigger, logger)

	srv := server.New(server.ServerConfig{
		DB:                  db,
		Selector:            selector,
		Recorder:            recorder,
		IdentitySvc:         identitySvc,
		Limiter:             limiter,
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		BatchRateLimit:      cfg.BatchRateLimitPerMinute,
		VoteRateLimit:       cfg.VoteRateLimitPerMinute,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	slog.Info("hikaku shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}
	return nil
}

// ratingHandlers maps queue task names to engine runs.
func ratingHandlers(eng *engine.Engine) map[string]queue.Handler {
	handlers := make(map[string]queue.Handler, 2)
	for _, task := range []string{gate.TaskElo, gate.TaskGlicko} {
		system, _ := gate.SystemForTask(task)
		handlers[task] = func(ctx context.Context, _ queue.Job) error {
			return eng.Run(ctx, system)
		}
	}
	return handlers
}
