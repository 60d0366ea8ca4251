package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/ashita-ai/hikaku/internal/model"
)

// CreateComparison persists a comparison and its ranks in a single
// transaction and returns the comparison with its assigned id. The insert
// can deadlock against the rating engine's table locks; one retry absorbs
// the transient conflict before it surfaces to the caller.
func (db *DB) CreateComparison(ctx context.Context, cmp model.Comparison, ranks []model.ComparisonRank) (model.Comparison, error) {
	var created model.Comparison
	err := WithRetry(ctx, 1, 50*time.Millisecond, func() error {
		var err error
		created, err = db.createComparison(ctx, cmp, ranks)
		return err
	})
	return created, err
}

func (db *DB) createComparison(ctx context.Context, cmp model.Comparison, ranks []model.ComparisonRank) (model.Comparison, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return model.Comparison{}, fmt.Errorf("storage: begin comparison tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	err = tx.QueryRow(ctx,
		`INSERT INTO scoring.comparison (voter_id, identification_token_id, session_id, metric_id, test_set_id)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, comparison_group_id, created`,
		cmp.UserID, cmp.IdentificationTokenID, cmp.SessionID, cmp.MetricID, cmp.TestSetID,
	).Scan(&cmp.ID, &cmp.ComparisonGroupID, &cmp.Created)
	if err != nil {
		return model.Comparison{}, fmt.Errorf("storage: insert comparison: %w", err)
	}

	for _, rank := range ranks {
		if _, err := tx.Exec(ctx,
			`INSERT INTO scoring.comparison_rank (comparison_id, sample_id, rank)
			 VALUES ($1, $2, $3)`,
			cmp.ID, rank.SampleID, rank.Rank,
		); err != nil {
			return model.Comparison{}, fmt.Errorf("storage: insert comparison rank: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.Comparison{}, fmt.Errorf("storage: commit comparison: %w", err)
	}
	return cmp, nil
}

// CountUnprocessedComparisons returns how many comparisons still lack a
// processed marker for the given rating system.
func (db *DB) CountUnprocessedComparisons(ctx context.Context, system model.RatingSystem) (int, error) {
	var n int
	err := db.pool.QueryRow(ctx,
		`SELECT COUNT(*)
		 FROM scoring.comparison c
		 WHERE NOT EXISTS (
		     SELECT 1 FROM scoring.processed_comparison p
		     WHERE p.comparison_id = c.id AND p.rating_system = $1
		 )`, string(system),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("storage: count unprocessed comparisons: %w", err)
	}
	return n, nil
}
