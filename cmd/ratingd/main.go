// Command ratingd runs the rating worker: it drains the job queue and runs
// the Elo and Glicko-2 engines over pending comparisons.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/hikaku/internal/config"
	"github.com/ashita-ai/hikaku/internal/engine"
	"github.com/ashita-ai/hikaku/internal/gate"
	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/queue"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/telemetry"
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
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// The worker exists to consume the cross-process queue; without Redis
	// the API server runs the engine in-process and this binary is useless.
	if cfg.RedisURL == "" {
		return fmt.Errorf("ratingd requires REDIS_URL")
	}

	slog.Info("ratingd starting", "version", version)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName+"-ratingd", version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close()

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: parse url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	defer func() { _ = client.Close() }()

	eng := engine.New(db, gate.NewRedisGate(client), logger)
	eng.SetBatchSize(cfg.RatingBatchSize)

	handlers := make(map[string]queue.Handler, 2)
	for _, task := range []string{gate.TaskElo, gate.TaskGlicko} {
		system, _ := gate.SystemForTask(task)
		handlers[task] = func(ctx context.Context, _ queue.Job) error {
			return eng.Run(ctx, system)
		}
	}

	jobs := queue.NewRedisQueue(client, queue.DefaultKey, logger)
	trigger := gate.NewTrigger(gate.NewRedisGate(client), jobs, logger)

	logger.Info("rating worker consuming", "key", queue.DefaultKey, "batch_size", cfg.RatingBatchSize)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return jobs.Run(gctx, handlers)
	})
	g.Go(func() error {
		return sweepLoop(gctx, trigger, logger)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}

	slog.Info("ratingd shutting down")
	return nil
}

// sweepInterval paces the catch-up triggers. Comparisons normally ride the
// vote-time trigger; the sweep picks up whatever a dropped job or an expired
// gate left behind.
const sweepInterval = 5 * time.Minute

func sweepLoop(ctx context.Context, trigger *gate.Trigger, logger *slog.Logger) error {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, system := range []model.RatingSystem{model.SystemElo, model.SystemGlicko} {
				if _, err := trigger.Trigger(ctx, system); err != nil {
					logger.Warn("sweep trigger failed", "system", system, "error", err)
				}
			}
		}
	}
}
