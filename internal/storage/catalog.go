package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hikaku/internal/model"
)

// GetMetricByExternalID resolves a metric by its public UUID.
func (db *DB) GetMetricByExternalID(ctx context.Context, externalID uuid.UUID) (model.Metric, error) {
	var m model.Metric
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, description
		 FROM scoring.metric WHERE external_id = $1`, externalID,
	).Scan(&m.ID, &m.ExternalID, &m.Name, &m.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Metric{}, ErrNotFound
		}
		return model.Metric{}, fmt.Errorf("storage: get metric: %w", err)
	}
	return m, nil
}

// GetMetricByName resolves a metric by its unique name.
func (db *DB) GetMetricByName(ctx context.Context, name string) (model.Metric, error) {
	var m model.Metric
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, description
		 FROM scoring.metric WHERE name = $1`, name,
	).Scan(&m.ID, &m.ExternalID, &m.Name, &m.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Metric{}, ErrNotFound
		}
		return model.Metric{}, fmt.Errorf("storage: get metric by name: %w", err)
	}
	return m, nil
}

// ListMetrics returns all metrics ordered by name.
func (db *DB) ListMetrics(ctx context.Context) ([]model.Metric, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, external_id, name, description
		 FROM scoring.metric ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list metrics: %w", err)
	}
	defer rows.Close()

	var metrics []model.Metric
	for rows.Next() {
		var m model.Metric
		if err := rows.Scan(&m.ID, &m.ExternalID, &m.Name, &m.Description); err != nil {
			return nil, fmt.Errorf("storage: scan metric: %w", err)
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

// GetTestSetByName resolves a test set by its unique name.
func (db *DB) GetTestSetByName(ctx context.Context, name string) (model.TestSet, error) {
	var ts model.TestSet
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, description
		 FROM sample.test_set WHERE name = $1`, name,
	).Scan(&ts.ID, &ts.ExternalID, &ts.Name, &ts.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TestSet{}, ErrNotFound
		}
		return model.TestSet{}, fmt.Errorf("storage: get test set: %w", err)
	}
	return ts, nil
}

// GetTestSetByID resolves a test set by its internal id.
func (db *DB) GetTestSetByID(ctx context.Context, id int64) (model.TestSet, error) {
	var ts model.TestSet
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, description
		 FROM sample.test_set WHERE id = $1`, id,
	).Scan(&ts.ID, &ts.ExternalID, &ts.Name, &ts.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.TestSet{}, ErrNotFound
		}
		return model.TestSet{}, fmt.Errorf("storage: get test set by id: %w", err)
	}
	return ts, nil
}

// ListLeaderboardTestSets returns the test sets that have at least one model
// leaderboard row, ordered by name.
func (db *DB) ListLeaderboardTestSets(ctx context.Context) ([]model.TestSet, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT ts.id, ts.external_id, ts.name, ts.description
		 FROM sample.test_set ts
		 JOIN scoring.model_leaderboard ml ON ml.test_set_id = ts.id
		 ORDER BY ts.name`)
	if err != nil {
		return nil, fmt.Errorf("storage: list leaderboard test sets: %w", err)
	}
	defer rows.Close()

	var sets []model.TestSet
	for rows.Next() {
		var ts model.TestSet
		if err := rows.Scan(&ts.ID, &ts.ExternalID, &ts.Name, &ts.Description); err != nil {
			return nil, fmt.Errorf("storage: scan test set: %w", err)
		}
		sets = append(sets, ts)
	}
	return sets, rows.Err()
}

// GetTagByName resolves a tag by its unique name.
func (db *DB) GetTagByName(ctx context.Context, name string) (model.Tag, error) {
	var t model.Tag
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, calculate_score
		 FROM specification.tag WHERE name = $1`, name,
	).Scan(&t.ID, &t.ExternalID, &t.Name, &t.CalculateScore)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Tag{}, ErrNotFound
		}
		return model.Tag{}, fmt.Errorf("storage: get tag: %w", err)
	}
	return t, nil
}

// ListLeaderboardTags returns the scoreable tags that appear in the model
// leaderboard for the given metric and test set.
func (db *DB) ListLeaderboardTags(ctx context.Context, metricID, testSetID int64) ([]model.Tag, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT DISTINCT t.id, t.external_id, t.name, t.calculate_score
		 FROM specification.tag t
		 JOIN scoring.model_leaderboard ml ON ml.tag_id = t.id
		 WHERE t.calculate_score AND ml.metric_id = $1 AND ml.test_set_id = $2
		 ORDER BY t.name`, metricID, testSetID)
	if err != nil {
		return nil, fmt.Errorf("storage: list leaderboard tags: %w", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Name, &t.CalculateScore); err != nil {
			return nil, fmt.Errorf("storage: scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// GetModelByExternalID resolves a generative model by its public UUID.
func (db *DB) GetModelByExternalID(ctx context.Context, externalID uuid.UUID) (model.GenModel, error) {
	var m model.GenModel
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, name, slug
		 FROM specification.model WHERE external_id = $1`, externalID,
	).Scan(&m.ID, &m.ExternalID, &m.Name, &m.Slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenModel{}, ErrNotFound
		}
		return model.GenModel{}, fmt.Errorf("storage: get model: %w", err)
	}
	return m, nil
}
