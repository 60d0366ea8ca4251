package testutil

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/storage"
)

// Fixtures seeds dimension rows for integration tests. Every method fails
// the calling test path by returning an error; tests wrap calls in require.
type Fixtures struct {
	DB *storage.DB
}

// CreateMetric inserts a metric and returns it.
func (f Fixtures) CreateMetric(ctx context.Context, name string) (model.Metric, error) {
	var m model.Metric
	m.Name = name
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO scoring.metric (name) VALUES ($1) RETURNING id, external_id`, name,
	).Scan(&m.ID, &m.ExternalID)
	if err != nil {
		return model.Metric{}, fmt.Errorf("fixtures: create metric: %w", err)
	}
	return m, nil
}

// CreateTestSet inserts a test set and returns it.
func (f Fixtures) CreateTestSet(ctx context.Context, name string) (model.TestSet, error) {
	var ts model.TestSet
	ts.Name = name
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO sample.test_set (name) VALUES ($1) RETURNING id, external_id`, name,
	).Scan(&ts.ID, &ts.ExternalID)
	if err != nil {
		return model.TestSet{}, fmt.Errorf("fixtures: create test set: %w", err)
	}
	return ts, nil
}

// CreateModel inserts a generative model and returns it.
func (f Fixtures) CreateModel(ctx context.Context, name, slug string) (model.GenModel, error) {
	var m model.GenModel
	m.Name = name
	m.Slug = slug
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO specification.model (name, slug) VALUES ($1, $2) RETURNING id, external_id`,
		name, slug,
	).Scan(&m.ID, &m.ExternalID)
	if err != nil {
		return model.GenModel{}, fmt.Errorf("fixtures: create model: %w", err)
	}
	return m, nil
}

// CreateTag inserts a tag and returns it.
func (f Fixtures) CreateTag(ctx context.Context, name string, calculateScore bool) (model.Tag, error) {
	var t model.Tag
	t.Name = name
	t.CalculateScore = calculateScore
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO specification.tag (name, calculate_score) VALUES ($1, $2) RETURNING id, external_id`,
		name, calculateScore,
	).Scan(&t.ID, &t.ExternalID)
	if err != nil {
		return model.Tag{}, fmt.Errorf("fixtures: create tag: %w", err)
	}
	return t, nil
}

// CreatePrompt inserts a prompt bound to the given tags and returns it.
func (f Fixtures) CreatePrompt(ctx context.Context, name, buildSpec string, tagIDs ...int64) (model.Prompt, error) {
	var p model.Prompt
	p.Name = name
	p.BuildSpecification = buildSpec
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO specification.prompt (name, build_specification) VALUES ($1, $2) RETURNING id, external_id`,
		name, buildSpec,
	).Scan(&p.ID, &p.ExternalID)
	if err != nil {
		return model.Prompt{}, fmt.Errorf("fixtures: create prompt: %w", err)
	}
	for _, tagID := range tagIDs {
		if _, err := f.DB.Pool().Exec(ctx,
			`INSERT INTO specification.prompt_tag (prompt_id, tag_id) VALUES ($1, $2)`, p.ID, tagID,
		); err != nil {
			return model.Prompt{}, fmt.Errorf("fixtures: bind prompt tag: %w", err)
		}
	}
	return p, nil
}

// CreateRun inserts a run for a model and prompt and returns its id.
func (f Fixtures) CreateRun(ctx context.Context, modelID, promptID int64) (int64, error) {
	var id int64
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO specification.run (model_id, prompt_id) VALUES ($1, $2) RETURNING id`,
		modelID, promptID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("fixtures: create run: %w", err)
	}
	return id, nil
}

// CreateSample inserts an approved, released sample in the test set and
// returns it.
func (f Fixtures) CreateSample(ctx context.Context, runID, testSetID int64, correlationID uuid.UUID) (model.Sample, error) {
	var s model.Sample
	err := f.DB.Pool().QueryRow(ctx,
		`INSERT INTO sample.sample (comparison_correlation_id, run_id, test_set_id, approval_state, is_complete)
		 VALUES ($1, $2, $3, $4, TRUE)
		 RETURNING id, external_id, comparison_sample_id, comparison_correlation_id, run_id, test_set_id,
		           approval_state, experimental_state, is_complete, is_pending, created`,
		correlationID, runID, testSetID, model.ApprovalApproved,
	).Scan(
		&s.ID, &s.ExternalID, &s.ComparisonSampleID, &s.ComparisonCorrelationID, &s.RunID, &s.TestSetID,
		&s.ApprovalState, &s.ExperimentalState, &s.IsComplete, &s.IsPending, &s.Created,
	)
	if err != nil {
		return model.Sample{}, fmt.Errorf("fixtures: create sample: %w", err)
	}
	return s, nil
}

// CreateArtifact inserts a comparison artifact for a sample.
func (f Fixtures) CreateArtifact(ctx context.Context, sampleID int64, bucket, key string) error {
	_, err := f.DB.Pool().Exec(ctx,
		`INSERT INTO sample.artifact (sample_id, artifact_kind_id, bucket, key)
		 SELECT $1, id, $2, $3 FROM sample.artifact_kind WHERE name = $4`,
		sampleID, bucket, key, model.ArtifactKindComparisonGLB,
	)
	if err != nil {
		return fmt.Errorf("fixtures: create artifact: %w", err)
	}
	return nil
}

// CreateComparison records a vote between two samples through the storage
// layer, under a freshly minted anonymous identity. Tie votes rank both
// samples first.
func (f Fixtures) CreateComparison(ctx context.Context, metricID, testSetID int64, sample1ID, sample2ID int64, tie bool) (model.Comparison, error) {
	tokenID, _, err := f.DB.CreateIdentificationToken(ctx)
	if err != nil {
		return model.Comparison{}, fmt.Errorf("fixtures: mint token: %w", err)
	}

	ranks := []model.ComparisonRank{
		{SampleID: sample1ID, Rank: 1},
		{SampleID: sample2ID, Rank: 2},
	}
	if tie {
		ranks[1].Rank = 1
	}
	cmp := model.Comparison{
		IdentificationTokenID: &tokenID,
		SessionID:             uuid.New(),
		MetricID:              metricID,
		TestSetID:             testSetID,
	}
	created, err := f.DB.CreateComparison(ctx, cmp, ranks)
	if err != nil {
		return model.Comparison{}, fmt.Errorf("fixtures: create comparison: %w", err)
	}
	return created, nil
}
