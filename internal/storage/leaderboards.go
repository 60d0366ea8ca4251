package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hikaku/internal/model"
)

// ModelStanding is one public Elo leaderboard row joined to its model and
// optional tag.
type ModelStanding struct {
	Row   model.LeaderboardRow
	Model model.GenModel
	Tag   *model.Tag
}

// GlickoModelStanding is the Glicko flavor of ModelStanding. Row.Rating is
// on the stored 1500-centred scale; the view layer shifts it.
type GlickoModelStanding struct {
	Row   model.GlickoRow
	Model model.GenModel
	Tag   *model.Tag
}

// EloModelLeaderboard returns model leaderboard rows for one metric and test
// set, ordered by rating descending. tagID nil selects the global rows only;
// tagged and tagless rows are never mixed in one result.
func (db *DB) EloModelLeaderboard(ctx context.Context, metricID, testSetID int64, tagID *int64, minVotes, limit int) ([]ModelStanding, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT lb.id, lb.model_id, lb.metric_id, lb.test_set_id, lb.tag_id,
		        lb.elo_score, lb.vote_count, lb.win_count, lb.loss_count, lb.tie_count, lb.last_updated,
		        m.id, m.external_id, m.name, m.slug,
		        tg.id, tg.external_id, tg.name, tg.calculate_score
		 FROM scoring.model_leaderboard lb
		 JOIN specification.model m ON m.id = lb.model_id
		 LEFT JOIN specification.tag tg ON tg.id = lb.tag_id
		 WHERE lb.metric_id = $1 AND lb.test_set_id = $2
		   AND lb.tag_id IS NOT DISTINCT FROM $3
		   AND lb.vote_count >= $4
		 ORDER BY lb.elo_score DESC
		 LIMIT $5`,
		metricID, testSetID, tagID, minVotes, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: elo model leaderboard: %w", err)
	}
	defer rows.Close()

	var standings []ModelStanding
	for rows.Next() {
		var s ModelStanding
		var tagIDv *int64
		var tagXID *uuid.UUID
		var tagName *string
		var tagScore *bool
		if err := rows.Scan(
			&s.Row.ID, &s.Row.SubjectID, &s.Row.MetricID, &s.Row.TestSetID, &s.Row.TagID,
			&s.Row.Rating, &s.Row.VoteCount, &s.Row.WinCount, &s.Row.LossCount, &s.Row.TieCount, &s.Row.LastUpdated,
			&s.Model.ID, &s.Model.ExternalID, &s.Model.Name, &s.Model.Slug,
			&tagIDv, &tagXID, &tagName, &tagScore,
		); err != nil {
			return nil, fmt.Errorf("storage: scan elo standing: %w", err)
		}
		s.Tag = buildTag(tagIDv, tagXID, tagName, tagScore)
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

// GlickoModelLeaderboard returns Glicko model leaderboard rows for one metric
// and test set, ordered by rating descending.
func (db *DB) GlickoModelLeaderboard(ctx context.Context, metricID, testSetID int64, tagID *int64, minVotes, limit int) ([]GlickoModelStanding, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT lb.id, lb.model_id, lb.metric_id, lb.test_set_id, lb.tag_id,
		        lb.glicko_rating, lb.rating_deviation, lb.volatility,
		        lb.vote_count, lb.win_count, lb.loss_count, lb.tie_count, lb.last_updated,
		        m.id, m.external_id, m.name, m.slug,
		        tg.id, tg.external_id, tg.name, tg.calculate_score
		 FROM scoring.model_glicko_leaderboard lb
		 JOIN specification.model m ON m.id = lb.model_id
		 LEFT JOIN specification.tag tg ON tg.id = lb.tag_id
		 WHERE lb.metric_id = $1 AND lb.test_set_id = $2
		   AND lb.tag_id IS NOT DISTINCT FROM $3
		   AND lb.vote_count >= $4
		 ORDER BY lb.glicko_rating DESC
		 LIMIT $5`,
		metricID, testSetID, tagID, minVotes, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: glicko model leaderboard: %w", err)
	}
	defer rows.Close()

	var standings []GlickoModelStanding
	for rows.Next() {
		var s GlickoModelStanding
		var tagIDv *int64
		var tagXID *uuid.UUID
		var tagName *string
		var tagScore *bool
		if err := rows.Scan(
			&s.Row.ID, &s.Row.SubjectID, &s.Row.MetricID, &s.Row.TestSetID, &s.Row.TagID,
			&s.Row.Rating, &s.Row.Deviation, &s.Row.Volatility,
			&s.Row.VoteCount, &s.Row.WinCount, &s.Row.LossCount, &s.Row.TieCount, &s.Row.LastUpdated,
			&s.Model.ID, &s.Model.ExternalID, &s.Model.Name, &s.Model.Slug,
			&tagIDv, &tagXID, &tagName, &tagScore,
		); err != nil {
			return nil, fmt.Errorf("storage: scan glicko standing: %w", err)
		}
		s.Tag = buildTag(tagIDv, tagXID, tagName, tagScore)
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

// SampleStanding is one per-sample leaderboard row for the model samples
// listing.
type SampleStanding struct {
	Row              model.LeaderboardRow
	SampleExternalID uuid.UUID
	PromptName       string
}

// ModelSampleFilter narrows the ModelSampleLeaderboard listing.
type ModelSampleFilter struct {
	ModelID    int64
	MetricID   int64
	TestSetID  int64
	TagID      *int64
	PromptName *string
	MinVotes   int
	Offset     int
	Limit      int
}

// ModelSampleLeaderboard returns the paginated per-sample leaderboard rows
// for one model, with the total row count for paging.
func (db *DB) ModelSampleLeaderboard(ctx context.Context, f ModelSampleFilter) ([]SampleStanding, int, error) {
	const fromWhere = `
		 FROM scoring.sample_leaderboard lb
		 JOIN sample.sample s ON s.id = lb.sample_id
		 JOIN specification.run r ON r.id = s.run_id
		 JOIN specification.prompt p ON p.id = r.prompt_id
		 WHERE r.model_id = $1
		   AND lb.metric_id = $2 AND lb.test_set_id = $3
		   AND lb.tag_id IS NOT DISTINCT FROM $4
		   AND lb.vote_count >= $5
		   AND ($6::text IS NULL OR p.name = $6)`

	var total int
	err := db.pool.QueryRow(ctx, `SELECT COUNT(*)`+fromWhere,
		f.ModelID, f.MetricID, f.TestSetID, f.TagID, f.MinVotes, f.PromptName,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: count model samples: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT lb.id, lb.sample_id, lb.metric_id, lb.test_set_id, lb.tag_id,
		        lb.elo_score, lb.vote_count, lb.win_count, lb.loss_count, lb.tie_count, lb.last_updated,
		        s.external_id, p.name`+fromWhere+`
		 ORDER BY lb.elo_score DESC, lb.id
		 LIMIT $7 OFFSET $8`,
		f.ModelID, f.MetricID, f.TestSetID, f.TagID, f.MinVotes, f.PromptName,
		f.Limit, f.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: model sample leaderboard: %w", err)
	}
	defer rows.Close()

	var standings []SampleStanding
	for rows.Next() {
		var s SampleStanding
		if err := rows.Scan(
			&s.Row.ID, &s.Row.SubjectID, &s.Row.MetricID, &s.Row.TestSetID, &s.Row.TagID,
			&s.Row.Rating, &s.Row.VoteCount, &s.Row.WinCount, &s.Row.LossCount, &s.Row.TieCount, &s.Row.LastUpdated,
			&s.SampleExternalID, &s.PromptName,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan sample standing: %w", err)
		}
		standings = append(standings, s)
	}
	return standings, total, rows.Err()
}

// SampleEloStats returns the global (tagless) Elo leaderboard row of one
// sample for the given metric and test set, or ErrNotFound if the sample has
// never been voted on.
func (db *DB) SampleEloStats(ctx context.Context, sampleID, metricID, testSetID int64) (model.LeaderboardRow, error) {
	var row model.LeaderboardRow
	err := db.pool.QueryRow(ctx,
		`SELECT id, sample_id, metric_id, test_set_id, tag_id,
		        elo_score, vote_count, win_count, loss_count, tie_count, last_updated
		 FROM scoring.sample_leaderboard
		 WHERE sample_id = $1 AND metric_id = $2 AND test_set_id = $3 AND tag_id IS NULL`,
		sampleID, metricID, testSetID,
	).Scan(
		&row.ID, &row.SubjectID, &row.MetricID, &row.TestSetID, &row.TagID,
		&row.Rating, &row.VoteCount, &row.WinCount, &row.LossCount, &row.TieCount, &row.LastUpdated,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.LeaderboardRow{}, ErrNotFound
		}
		return model.LeaderboardRow{}, fmt.Errorf("storage: sample elo stats: %w", err)
	}
	return row, nil
}

func buildTag(id *int64, externalID *uuid.UUID, name *string, calculateScore *bool) *model.Tag {
	if id == nil {
		return nil
	}
	t := &model.Tag{ID: *id, Name: *name, CalculateScore: *calculateScore}
	if externalID != nil {
		t.ExternalID = *externalID
	}
	return t
}
