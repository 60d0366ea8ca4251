package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hikaku/internal/model"
)

// Leaderboard table layout per (system, subject). Table and column names are
// compile-time constants; only values are parameterized.
type leaderboardTable struct {
	name       string
	subjectCol string
	constraint string
}

var eloTables = map[model.Subject]leaderboardTable{
	model.SubjectModel:  {"scoring.model_leaderboard", "model_id", "unique_model_leaderboard_entry"},
	model.SubjectPrompt: {"scoring.prompt_leaderboard", "prompt_id", "unique_prompt_leaderboard_entry"},
	model.SubjectSample: {"scoring.sample_leaderboard", "sample_id", "unique_sample_leaderboard_entry"},
}

var glickoTables = map[model.Subject]leaderboardTable{
	model.SubjectModel:  {"scoring.model_glicko_leaderboard", "model_id", "unique_model_glicko_leaderboard_entry"},
	model.SubjectPrompt: {"scoring.prompt_glicko_leaderboard", "prompt_id", "unique_prompt_glicko_leaderboard_entry"},
	model.SubjectSample: {"scoring.sample_glicko_leaderboard", "sample_id", "unique_sample_glicko_leaderboard_entry"},
}

// RatingTx is the transactional surface of one rating engine run. All reads
// and writes of a run happen inside this transaction, under table locks
// taken at the start.
type RatingTx struct {
	tx     pgx.Tx
	system model.RatingSystem
}

// BeginRatingRun opens the engine transaction and takes share-row-exclusive
// locks on the comparison tables and the system's leaderboard tables. A
// concurrent run of the same system blocks here until the first commits.
func (db *DB) BeginRatingRun(ctx context.Context, system model.RatingSystem) (*RatingTx, error) {
	tables := eloTables
	if system == model.SystemGlicko {
		tables = glickoTables
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: begin rating tx: %w", err)
	}

	locked := []string{
		"scoring.comparison",
		"scoring.comparison_rank",
		"scoring.processed_comparison",
		tables[model.SubjectModel].name,
		tables[model.SubjectPrompt].name,
		tables[model.SubjectSample].name,
	}
	for _, table := range locked {
		if _, err := tx.Exec(ctx, "LOCK TABLE "+table+" IN SHARE ROW EXCLUSIVE MODE"); err != nil {
			_ = tx.Rollback(ctx)
			return nil, fmt.Errorf("storage: lock %s: %w", table, err)
		}
	}

	return &RatingTx{tx: tx, system: system}, nil
}

// Commit commits the run's transaction.
func (t *RatingTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit rating tx: %w", err)
	}
	return nil
}

// Rollback aborts the run's transaction. Safe to call after Commit.
func (t *RatingTx) Rollback(ctx context.Context) {
	_ = t.tx.Rollback(ctx)
}

// UnprocessedComparisons selects up to limit comparisons that this system
// has not absorbed yet, in id order, with row locks.
func (t *RatingTx) UnprocessedComparisons(ctx context.Context, limit int) ([]model.Comparison, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT c.id, c.comparison_group_id, c.voter_id, c.identification_token_id,
		        c.session_id, c.metric_id, c.test_set_id, c.created
		 FROM scoring.comparison c
		 WHERE NOT EXISTS (
		     SELECT 1 FROM scoring.processed_comparison p
		     WHERE p.comparison_id = c.id AND p.rating_system = $1
		 )
		 ORDER BY c.id
		 LIMIT $2
		 FOR UPDATE OF c`,
		string(t.system), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: select unprocessed comparisons: %w", err)
	}
	defer rows.Close()

	var comparisons []model.Comparison
	for rows.Next() {
		var c model.Comparison
		if err := rows.Scan(
			&c.ID, &c.ComparisonGroupID, &c.UserID, &c.IdentificationTokenID,
			&c.SessionID, &c.MetricID, &c.TestSetID, &c.Created,
		); err != nil {
			return nil, fmt.Errorf("storage: scan comparison: %w", err)
		}
		comparisons = append(comparisons, c)
	}
	return comparisons, rows.Err()
}

// RankContext is one ranked sample with the run context the engine needs:
// the owning model, the prompt, and the prompt's scoreable tag ids.
type RankContext struct {
	SampleID int64
	Rank     int
	ModelID  int64
	PromptID int64
	TagIDs   []int64
}

// ComparisonRanks loads the ranks of one comparison with their sample, model,
// prompt, and tag context in a single query.
func (t *RatingTx) ComparisonRanks(ctx context.Context, comparisonID int64) ([]RankContext, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT cr.sample_id, cr.rank, r.model_id, r.prompt_id,
		        COALESCE(array_agg(tg.id) FILTER (WHERE tg.id IS NOT NULL), '{}')
		 FROM scoring.comparison_rank cr
		 JOIN sample.sample s ON s.id = cr.sample_id
		 JOIN specification.run r ON r.id = s.run_id
		 LEFT JOIN specification.prompt_tag pt ON pt.prompt_id = r.prompt_id
		 LEFT JOIN specification.tag tg ON tg.id = pt.tag_id AND tg.calculate_score
		 WHERE cr.comparison_id = $1
		 GROUP BY cr.sample_id, cr.rank, r.model_id, r.prompt_id
		 ORDER BY cr.rank, cr.sample_id`,
		comparisonID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: load comparison ranks: %w", err)
	}
	defer rows.Close()

	var ranks []RankContext
	for rows.Next() {
		var rc RankContext
		if err := rows.Scan(&rc.SampleID, &rc.Rank, &rc.ModelID, &rc.PromptID, &rc.TagIDs); err != nil {
			return nil, fmt.Errorf("storage: scan rank context: %w", err)
		}
		ranks = append(ranks, rc)
	}
	return ranks, rows.Err()
}

// EloRow loads one Elo leaderboard row, or ErrNotFound when the subject has
// no row yet for this key.
func (t *RatingTx) EloRow(ctx context.Context, subject model.Subject, subjectID, metricID, testSetID int64, tagID *int64) (model.LeaderboardRow, error) {
	tbl := eloTables[subject]
	row := model.LeaderboardRow{SubjectID: subjectID, MetricID: metricID, TestSetID: testSetID, TagID: tagID}
	err := t.tx.QueryRow(ctx,
		`SELECT id, elo_score, vote_count, win_count, loss_count, tie_count, last_updated
		 FROM `+tbl.name+`
		 WHERE `+tbl.subjectCol+` = $1 AND metric_id = $2 AND test_set_id = $3
		   AND tag_id IS NOT DISTINCT FROM $4`,
		subjectID, metricID, testSetID, tagID,
	).Scan(&row.ID, &row.Rating, &row.VoteCount, &row.WinCount, &row.LossCount, &row.TieCount, &row.LastUpdated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LeaderboardRow{}, ErrNotFound
		}
		return model.LeaderboardRow{}, fmt.Errorf("storage: load elo row: %w", err)
	}
	return row, nil
}

// UpsertEloRow writes one Elo leaderboard row, creating it on first touch.
func (t *RatingTx) UpsertEloRow(ctx context.Context, subject model.Subject, row model.LeaderboardRow) error {
	tbl := eloTables[subject]
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+tbl.name+` (`+tbl.subjectCol+`, metric_id, test_set_id, tag_id,
		     elo_score, vote_count, win_count, loss_count, tie_count, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		 ON CONFLICT ON CONSTRAINT `+tbl.constraint+` DO UPDATE SET
		     elo_score = EXCLUDED.elo_score,
		     vote_count = EXCLUDED.vote_count,
		     win_count = EXCLUDED.win_count,
		     loss_count = EXCLUDED.loss_count,
		     tie_count = EXCLUDED.tie_count,
		     last_updated = now()`,
		row.SubjectID, row.MetricID, row.TestSetID, row.TagID,
		row.Rating, row.VoteCount, row.WinCount, row.LossCount, row.TieCount,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert elo row: %w", err)
	}
	return nil
}

// GlickoRow loads one Glicko leaderboard row, or ErrNotFound when the
// subject has no row yet for this key.
func (t *RatingTx) GlickoRow(ctx context.Context, subject model.Subject, subjectID, metricID, testSetID int64, tagID *int64) (model.GlickoRow, error) {
	tbl := glickoTables[subject]
	row := model.GlickoRow{SubjectID: subjectID, MetricID: metricID, TestSetID: testSetID, TagID: tagID}
	err := t.tx.QueryRow(ctx,
		`SELECT id, glicko_rating, rating_deviation, volatility,
		        vote_count, win_count, loss_count, tie_count, last_updated
		 FROM `+tbl.name+`
		 WHERE `+tbl.subjectCol+` = $1 AND metric_id = $2 AND test_set_id = $3
		   AND tag_id IS NOT DISTINCT FROM $4`,
		subjectID, metricID, testSetID, tagID,
	).Scan(
		&row.ID, &row.Rating, &row.Deviation, &row.Volatility,
		&row.VoteCount, &row.WinCount, &row.LossCount, &row.TieCount, &row.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GlickoRow{}, ErrNotFound
		}
		return model.GlickoRow{}, fmt.Errorf("storage: load glicko row: %w", err)
	}
	return row, nil
}

// UpsertGlickoRow writes one Glicko leaderboard row, creating it on first touch.
func (t *RatingTx) UpsertGlickoRow(ctx context.Context, subject model.Subject, row model.GlickoRow) error {
	tbl := glickoTables[subject]
	_, err := t.tx.Exec(ctx,
		`INSERT INTO `+tbl.name+` (`+tbl.subjectCol+`, metric_id, test_set_id, tag_id,
		     glicko_rating, rating_deviation, volatility,
		     vote_count, win_count, loss_count, tie_count, last_updated)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, now())
		 ON CONFLICT ON CONSTRAINT `+tbl.constraint+` DO UPDATE SET
		     glicko_rating = EXCLUDED.glicko_rating,
		     rating_deviation = EXCLUDED.rating_deviation,
		     volatility = EXCLUDED.volatility,
		     vote_count = EXCLUDED.vote_count,
		     win_count = EXCLUDED.win_count,
		     loss_count = EXCLUDED.loss_count,
		     tie_count = EXCLUDED.tie_count,
		     last_updated = now()`,
		row.SubjectID, row.MetricID, row.TestSetID, row.TagID,
		row.Rating, row.Deviation, row.Volatility,
		row.VoteCount, row.WinCount, row.LossCount, row.TieCount,
	)
	if err != nil {
		return fmt.Errorf("storage: upsert glicko row: %w", err)
	}
	return nil
}

// MarkProcessed inserts processed markers for the given comparisons. The
// markers commit atomically with the leaderboard writes of the same batch.
func (t *RatingTx) MarkProcessed(ctx context.Context, comparisonIDs []int64) error {
	if len(comparisonIDs) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx,
		`INSERT INTO scoring.processed_comparison (comparison_id, rating_system)
		 SELECT unnest($1::bigint[]), $2
		 ON CONFLICT ON CONSTRAINT unique_processed_comparison DO NOTHING`,
		comparisonIDs, string(t.system),
	)
	if err != nil {
		return fmt.Errorf("storage: mark processed: %w", err)
	}
	return nil
}
