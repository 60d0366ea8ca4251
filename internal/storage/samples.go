package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hikaku/internal/model"
)

// SelectionCandidate is one sample eligible for pairing, with the run
// context the selector needs. A sample is eligible when it is approved,
// bound to the test set, and not deprecated.
type SelectionCandidate struct {
	SampleID           int64
	ComparisonSampleID uuid.UUID
	CorrelationID      uuid.UUID
	ModelID            int64
	BuildSpecification string
}

// ListSelectionCandidates returns every eligible sample in the test set.
// Grouping by correlation id and the two-distinct-models filter happen in
// the selector.
func (db *DB) ListSelectionCandidates(ctx context.Context, testSetID int64) ([]SelectionCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.comparison_sample_id, s.comparison_correlation_id, r.model_id, p.build_specification
		 FROM sample.sample s
		 JOIN specification.run r ON r.id = s.run_id
		 JOIN specification.prompt p ON p.id = r.prompt_id
		 WHERE s.test_set_id = $1
		   AND s.approval_state = $2
		   AND s.experimental_state != $3`,
		testSetID, model.ApprovalApproved, model.ExperimentalDeprecated,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list selection candidates: %w", err)
	}
	defer rows.Close()

	var candidates []SelectionCandidate
	for rows.Next() {
		var c SelectionCandidate
		if err := rows.Scan(&c.SampleID, &c.ComparisonSampleID, &c.CorrelationID, &c.ModelID, &c.BuildSpecification); err != nil {
			return nil, fmt.Errorf("storage: scan selection candidate: %w", err)
		}
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// ModelVoteCounts returns the vote count per model id from the global
// (tagless) model leaderboard for one metric and test set. Models without a
// leaderboard row are absent from the map and count as zero votes.
func (db *DB) ModelVoteCounts(ctx context.Context, metricID, testSetID int64) (map[int64]int, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT model_id, vote_count
		 FROM scoring.model_leaderboard
		 WHERE metric_id = $1 AND test_set_id = $2 AND tag_id IS NULL`,
		metricID, testSetID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: model vote counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var modelID int64
		var votes int
		if err := rows.Scan(&modelID, &votes); err != nil {
			return nil, fmt.Errorf("storage: scan vote count: %w", err)
		}
		counts[modelID] = votes
	}
	return counts, rows.Err()
}

// ArtifactFilesForSamples returns the comparison artifacts for the given
// internal sample ids, keyed by sample id.
func (db *DB) ArtifactFilesForSamples(ctx context.Context, sampleIDs []int64) (map[int64][]model.AssetFile, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT a.sample_id, ak.name, a.bucket, a.key
		 FROM sample.artifact a
		 JOIN sample.artifact_kind ak ON ak.id = a.artifact_kind_id
		 WHERE a.sample_id = ANY($1) AND ak.name = $2`,
		sampleIDs, model.ArtifactKindComparisonGLB,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: artifacts for samples: %w", err)
	}
	defer rows.Close()

	files := make(map[int64][]model.AssetFile)
	for rows.Next() {
		var sampleID int64
		var kind, bucket, key string
		if err := rows.Scan(&sampleID, &kind, &bucket, &key); err != nil {
			return nil, fmt.Errorf("storage: scan artifact: %w", err)
		}
		files[sampleID] = append(files[sampleID], model.AssetFile{Kind: "gltf_scene", Bucket: bucket, Key: key})
	}
	return files, rows.Err()
}

// VoteSample is the view of a sample needed to validate and record a vote.
type VoteSample struct {
	ID                 int64
	ComparisonSampleID uuid.UUID
	TestSetID          *int64
	ModelName          string
}

// GetVoteSamples resolves comparison sample ids to vote views. Missing ids
// are simply absent from the result; the caller checks the count.
func (db *DB) GetVoteSamples(ctx context.Context, comparisonSampleIDs []uuid.UUID) ([]VoteSample, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT s.id, s.comparison_sample_id, s.test_set_id, m.name
		 FROM sample.sample s
		 JOIN specification.run r ON r.id = s.run_id
		 JOIN specification.model m ON m.id = r.model_id
		 WHERE s.comparison_sample_id = ANY($1)`,
		comparisonSampleIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: get vote samples: %w", err)
	}
	defer rows.Close()

	var samples []VoteSample
	for rows.Next() {
		var vs VoteSample
		if err := rows.Scan(&vs.ID, &vs.ComparisonSampleID, &vs.TestSetID, &vs.ModelName); err != nil {
			return nil, fmt.Errorf("storage: scan vote sample: %w", err)
		}
		samples = append(samples, vs)
	}
	return samples, rows.Err()
}

// GetSampleByExternalID returns a sample row by its public UUID.
func (db *DB) GetSampleByExternalID(ctx context.Context, externalID uuid.UUID) (model.Sample, error) {
	var s model.Sample
	err := db.pool.QueryRow(ctx,
		`SELECT id, external_id, comparison_sample_id, comparison_correlation_id,
		        run_id, test_set_id, approval_state, experimental_state, is_complete, is_pending, created
		 FROM sample.sample WHERE external_id = $1`, externalID,
	).Scan(
		&s.ID, &s.ExternalID, &s.ComparisonSampleID, &s.ComparisonCorrelationID,
		&s.RunID, &s.TestSetID, &s.ApprovalState, &s.ExperimentalState, &s.IsComplete, &s.IsPending, &s.Created,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Sample{}, ErrNotFound
		}
		return model.Sample{}, fmt.Errorf("storage: get sample: %w", err)
	}
	return s, nil
}

// GetRunContext returns the model, prompt, and scoreable tags for a run.
func (db *DB) GetRunContext(ctx context.Context, runID int64) (model.GenModel, model.Prompt, []model.Tag, error) {
	var m model.GenModel
	var p model.Prompt
	err := db.pool.QueryRow(ctx,
		`SELECT m.id, m.external_id, m.name, m.slug,
		        p.id, p.external_id, p.name, p.build_specification
		 FROM specification.run r
		 JOIN specification.model m ON m.id = r.model_id
		 JOIN specification.prompt p ON p.id = r.prompt_id
		 WHERE r.id = $1`, runID,
	).Scan(&m.ID, &m.ExternalID, &m.Name, &m.Slug, &p.ID, &p.ExternalID, &p.Name, &p.BuildSpecification)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.GenModel{}, model.Prompt{}, nil, ErrNotFound
		}
		return model.GenModel{}, model.Prompt{}, nil, fmt.Errorf("storage: get run context: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT t.id, t.external_id, t.name, t.calculate_score
		 FROM specification.prompt_tag pt
		 JOIN specification.tag t ON t.id = pt.tag_id
		 WHERE pt.prompt_id = $1 AND t.calculate_score
		 ORDER BY t.name`, p.ID)
	if err != nil {
		return model.GenModel{}, model.Prompt{}, nil, fmt.Errorf("storage: get prompt tags: %w", err)
	}
	defer rows.Close()

	var tags []model.Tag
	for rows.Next() {
		var t model.Tag
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.Name, &t.CalculateScore); err != nil {
			return model.GenModel{}, model.Prompt{}, nil, fmt.Errorf("storage: scan tag: %w", err)
		}
		tags = append(tags, t)
	}
	return m, p, tags, rows.Err()
}
