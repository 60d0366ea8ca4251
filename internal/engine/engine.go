// Package engine recalculates leaderboard ratings from recorded comparisons.
//
// A run drains unprocessed comparisons in bounded batches inside one
// transaction per batch, under table locks, and is idempotent: each
// comparison is absorbed into a system's leaderboards exactly once, tracked
// by a per-system processed marker committed atomically with the rating
// writes. Crash recovery needs nothing special; an interrupted batch rolls
// back whole, the single-flight gate's TTL expires, and the next trigger
// reprocesses from the same starting state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ashita-ai/hikaku/internal/gate"
	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/rating"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/telemetry"
)

// DefaultBatchSize is how many comparisons one transaction absorbs.
const DefaultBatchSize = 1000

// shutdownMargin is subtracted from the gate TTL to get the wall-clock cap
// of a run, leaving room for the final commit.
const shutdownMargin = 30 * time.Second

// Engine processes comparisons into leaderboard updates.
type Engine struct {
	db        *storage.DB
	gate      gate.Gate
	logger    *slog.Logger
	batchSize int
	skipped   metric.Int64Counter
}

// New wires a rating engine.
func New(db *storage.DB, g gate.Gate, logger *slog.Logger) *Engine {
	skipped, err := telemetry.Meter("github.com/ashita-ai/hikaku/internal/engine").
		Int64Counter("hikaku.rating.skipped_comparisons")
	if err != nil {
		logger.Warn("engine: skipped-comparison counter unavailable", "error", err)
	}
	return &Engine{
		db:        db,
		gate:      g,
		logger:    logger,
		batchSize: DefaultBatchSize,
		skipped:   skipped,
	}
}

// SetBatchSize overrides the batch size; used by tests.
func (e *Engine) SetBatchSize(n int) { e.batchSize = n }

// Run drains all unprocessed comparisons for system, batch by batch, then
// releases the single-flight gate. The gate is released only on normal
// exit; after a failure its TTL is the recovery path.
func (e *Engine) Run(ctx context.Context, system model.RatingSystem) error {
	start := time.Now()
	deadline := start.Add(gate.TTLFor(system) - shutdownMargin)

	var total int
	for {
		fetched, processed, err := e.processBatch(ctx, system)
		if err != nil {
			return fmt.Errorf("engine: %s batch: %w", system, err)
		}
		total += processed
		if fetched < e.batchSize {
			break
		}
		if time.Now().After(deadline) {
			e.logger.Warn("engine: wall-clock cap reached, leaving remainder for next run",
				"system", system, "processed", total)
			break
		}
	}

	if err := e.gate.Release(ctx, system); err != nil {
		e.logger.Warn("engine: gate release failed, TTL will expire it", "system", system, "error", err)
	}

	e.logger.Info("engine: run complete",
		"system", system, "processed", total, "duration", time.Since(start))
	return nil
}

// processBatch handles one locked transaction: select up to batchSize
// unprocessed comparisons, apply their rating updates, insert markers, and
// commit. Returns how many comparisons were fetched and how many were
// marked processed (skipped ones are retried on a later run).
func (e *Engine) processBatch(ctx context.Context, system model.RatingSystem) (int, int, error) {
	tx, err := e.db.BeginRatingRun(ctx, system)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback(ctx)

	comparisons, err := tx.UnprocessedComparisons(ctx, e.batchSize)
	if err != nil {
		return 0, 0, err
	}
	if len(comparisons) == 0 {
		return 0, 0, nil
	}

	cache := newRowCache(tx, system)
	var processedIDs []int64
	for _, cmp := range comparisons {
		if err := e.processComparison(ctx, tx, cache, cmp); err != nil {
			if isRecoverable(err) {
				e.logger.Error("engine: skipping comparison",
					"system", system, "comparison_id", cmp.ID, "error", err)
				e.countSkip(ctx, system)
				continue
			}
			return 0, 0, err
		}
		processedIDs = append(processedIDs, cmp.ID)
	}

	if err := cache.flush(ctx); err != nil {
		return 0, 0, err
	}
	if err := tx.MarkProcessed(ctx, processedIDs); err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, err
	}
	return len(comparisons), len(processedIDs), nil
}

// errComparisonShape flags comparisons whose ranks do not form a pair.
var errComparisonShape = errors.New("engine: comparison is not a two-sample pair")

// isRecoverable reports whether a per-comparison error should skip just
// that comparison. Database failures abort the batch instead: inside an
// aborted transaction nothing further would succeed anyway.
func isRecoverable(err error) bool {
	return errors.Is(err, errComparisonShape) ||
		errors.Is(err, rating.ErrNonConvergent)
}

func (e *Engine) countSkip(ctx context.Context, system model.RatingSystem) {
	if e.skipped != nil {
		e.skipped.Add(ctx, 1, metric.WithAttributes(attribute.String("system", string(system))))
	}
}

// processComparison stages the rating updates of one comparison into the
// cache. All new values are computed from pre-comparison state; nothing is
// written to the cache until every update computed cleanly, so a rating
// error leaves no partial mutation behind.
func (e *Engine) processComparison(ctx context.Context, tx *storage.RatingTx, cache *rowCache, cmp model.Comparison) error {
	ranks, err := tx.ComparisonRanks(ctx, cmp.ID)
	if err != nil {
		return err
	}
	if len(ranks) != 2 {
		return errComparisonShape
	}

	a, b := ranks[0], ranks[1]
	outcomeA := rating.Win
	if a.Rank == b.Rank {
		outcomeA = rating.Tie
	}

	update := comparisonUpdate{
		metricID:  cmp.MetricID,
		testSetID: cmp.TestSetID,
		a:         pairSide{sample: a, outcome: outcomeA},
		b:         pairSide{sample: b, outcome: outcomeA.Opposite()},
	}
	return cache.stage(ctx, update)
}

// pairSide is one half of a comparison: a ranked sample and the outcome it
// earned.
type pairSide struct {
	sample  storage.RankContext
	outcome rating.Outcome
}

// subjectID returns the side's subject id for a leaderboard family.
func (s pairSide) subjectID(family model.Subject) int64 {
	switch family {
	case model.SubjectModel:
		return s.sample.ModelID
	case model.SubjectPrompt:
		return s.sample.PromptID
	default:
		return s.sample.SampleID
	}
}

// comparisonUpdate is the full set of leaderboard touches implied by one
// comparison.
type comparisonUpdate struct {
	metricID  int64
	testSetID int64
	a, b      pairSide
}
