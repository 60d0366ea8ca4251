// Package selection implements batched pair selection for comparison votes.
//
// A batch request resolves a metric and the voter category's default test
// set, picks pairs of approved samples from distinct models within shared
// correlation ids, issues a one-hour pair token per pair, and returns the
// render assets the client needs. Two interchangeable strategies exist:
// uniform random and priority (biased toward under-voted models); a feature
// flag in config picks one at startup.
package selection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/token"
)

var (
	// ErrInvalidMetric means the requested metric id is unknown.
	ErrInvalidMetric = errors.New("selection: invalid metric")

	// ErrInvalidBatchSize means the requested batch size is below one.
	ErrInvalidBatchSize = errors.New("selection: invalid batch size")

	// ErrBatchSizeTooLarge means the requested batch size exceeds
	// model.MaxBatchSize.
	ErrBatchSizeTooLarge = errors.New("selection: batch size too large")

	// ErrNoDefaultTestSet means the voter category's default test set is
	// missing from the database.
	ErrNoDefaultTestSet = errors.New("selection: no default test set")
)

// Default test set names per voter category.
const (
	AuthenticatedTestSet   = "Authenticated Test Set"
	UnauthenticatedTestSet = "Unauthenticated Test Set"
)

// Store is the storage surface the selector needs.
type Store interface {
	GetMetricByExternalID(ctx context.Context, externalID uuid.UUID) (model.Metric, error)
	GetTestSetByName(ctx context.Context, name string) (model.TestSet, error)
	ListSelectionCandidates(ctx context.Context, testSetID int64) ([]storage.SelectionCandidate, error)
	ModelVoteCounts(ctx context.Context, metricID, testSetID int64) (map[int64]int, error)
	ArtifactFilesForSamples(ctx context.Context, sampleIDs []int64) (map[int64][]model.AssetFile, error)
}

// Selector issues comparison batches.
type Selector struct {
	store    Store
	tokens   token.Store
	strategy Strategy
	logger   *slog.Logger
}

// NewSelector wires the selector.
func NewSelector(store Store, tokens token.Store, strategy Strategy, logger *slog.Logger) *Selector {
	return &Selector{store: store, tokens: tokens, strategy: strategy, logger: logger}
}

// SelectBatch picks up to batchSize pairs for the metric and voter category
// and issues a pair token for each. Fewer pairs than requested are returned
// when the test set cannot support the batch.
func (s *Selector) SelectBatch(ctx context.Context, metricExternalID uuid.UUID, batchSize int, anonymous bool) ([]model.ComparisonToken, error) {
	if batchSize < 1 {
		return nil, ErrInvalidBatchSize
	}
	if batchSize > model.MaxBatchSize {
		return nil, ErrBatchSizeTooLarge
	}

	metric, err := s.store.GetMetricByExternalID(ctx, metricExternalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrInvalidMetric
		}
		return nil, fmt.Errorf("selection: resolve metric: %w", err)
	}

	testSetName := AuthenticatedTestSet
	if anonymous {
		testSetName = UnauthenticatedTestSet
	}
	testSet, err := s.store.GetTestSetByName(ctx, testSetName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoDefaultTestSet
		}
		return nil, fmt.Errorf("selection: resolve test set: %w", err)
	}

	candidates, err := s.store.ListSelectionCandidates(ctx, testSet.ID)
	if err != nil {
		return nil, fmt.Errorf("selection: load candidates: %w", err)
	}

	voteCounts, err := s.store.ModelVoteCounts(ctx, metric.ID, testSet.ID)
	if err != nil {
		return nil, fmt.Errorf("selection: load vote counts: %w", err)
	}

	pairs := s.strategy.SelectPairs(candidates, voteCounts, batchSize)
	if len(pairs) == 0 {
		return []model.ComparisonToken{}, nil
	}

	sampleIDs := make([]int64, 0, len(pairs)*2)
	for _, p := range pairs {
		sampleIDs = append(sampleIDs, p.Sample1.SampleID, p.Sample2.SampleID)
	}
	assets, err := s.store.ArtifactFilesForSamples(ctx, sampleIDs)
	if err != nil {
		return nil, fmt.Errorf("selection: load artifacts: %w", err)
	}

	comparisons := make([]model.ComparisonToken, 0, len(pairs))
	for _, p := range pairs {
		tok := uuid.New()
		payload := model.PairPayload{
			MetricExternalID: metric.ExternalID,
			Sample1ID:        p.Sample1.ComparisonSampleID,
			Sample2ID:        p.Sample2.ComparisonSampleID,
		}
		if err := s.tokens.Put(ctx, tok, payload, token.DefaultTTL); err != nil {
			return nil, fmt.Errorf("selection: store token: %w", err)
		}

		comparisons = append(comparisons, model.ComparisonToken{
			Token:            tok,
			MetricID:         metric.ExternalID,
			Samples:          []uuid.UUID{p.Sample1.ComparisonSampleID, p.Sample2.ComparisonSampleID},
			BuildDescription: p.Sample1.BuildSpecification,
			Assets: []model.SampleAsset{
				{SampleID: p.Sample1.ComparisonSampleID, Files: assets[p.Sample1.SampleID]},
				{SampleID: p.Sample2.ComparisonSampleID, Files: assets[p.Sample2.SampleID]},
			},
		})
	}

	s.logger.Debug("issued comparison batch",
		"metric", metric.Name, "test_set", testSet.Name,
		"requested", batchSize, "issued", len(comparisons))
	return comparisons, nil
}
