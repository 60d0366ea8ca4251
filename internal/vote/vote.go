// Package vote records comparison votes.
//
// A vote arrives as a pair token plus an ordered ranking. The recorder
// consumes the token (single-shot, so a token can never be voted twice),
// validates the ranking against the pair the token was issued for, persists
// the comparison in one transaction, and triggers both rating systems.
package vote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/gate"
	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/token"
)

var (
	// ErrTokenUnknownOrExpired means the token was never issued, expired,
	// or was already consumed.
	ErrTokenUnknownOrExpired = errors.New("vote: token unknown or expired")

	// ErrMalformedToken means the token's stored payload cannot be used.
	ErrMalformedToken = errors.New("vote: malformed token")

	// ErrSamplesNotFound means a sample in the token payload no longer
	// exists.
	ErrSamplesNotFound = errors.New("vote: samples not found")

	// ErrRanksInvalid means the submitted ranking does not cover exactly
	// the two samples of the token.
	ErrRanksInvalid = errors.New("vote: ranks invalid")

	// ErrTestSetMismatch means the two samples no longer share a test set.
	ErrTestSetMismatch = errors.New("vote: test set mismatch")

	// ErrForbidden means the identity lacks the vote permission.
	ErrForbidden = errors.New("vote: forbidden")
)

// Store is the storage surface the recorder needs.
type Store interface {
	GetMetricByExternalID(ctx context.Context, externalID uuid.UUID) (model.Metric, error)
	GetVoteSamples(ctx context.Context, comparisonSampleIDs []uuid.UUID) ([]storage.VoteSample, error)
	CreateComparison(ctx context.Context, cmp model.Comparison, ranks []model.ComparisonRank) (model.Comparison, error)
}

// Permissions answers whether an identity may vote.
type Permissions interface {
	CanVote(ctx context.Context, id model.Identity) (bool, error)
}

// Trigger requests a rating run after a vote lands.
type Trigger interface {
	Trigger(ctx context.Context, system model.RatingSystem) (gate.Result, error)
}

// Recorder validates and persists votes.
type Recorder struct {
	store   Store
	tokens  token.Store
	perms   Permissions
	trigger Trigger
	logger  *slog.Logger
}

// NewRecorder wires the vote recorder.
func NewRecorder(store Store, tokens token.Store, perms Permissions, trigger Trigger, logger *slog.Logger) *Recorder {
	return &Recorder{store: store, tokens: tokens, perms: perms, trigger: trigger, logger: logger}
}

// RecordVote consumes tok, validates ranks against its pair, persists the
// comparison, and triggers both rating systems. Returns the two model names
// in the order of the token's samples. The permission check runs before the
// token is consumed so a forbidden caller does not burn the token.
func (r *Recorder) RecordVote(ctx context.Context, tok uuid.UUID, ranks []model.RankEntry, id model.Identity) (model.ComparisonResultResponse, error) {
	allowed, err := r.perms.CanVote(ctx, id)
	if err != nil {
		return model.ComparisonResultResponse{}, fmt.Errorf("vote: permission check: %w", err)
	}
	if !allowed {
		return model.ComparisonResultResponse{}, ErrForbidden
	}

	payload, err := r.tokens.TakeAndDelete(ctx, tok)
	if err != nil {
		switch {
		case errors.Is(err, token.ErrNotFound):
			return model.ComparisonResultResponse{}, ErrTokenUnknownOrExpired
		case errors.Is(err, token.ErrMalformedPayload):
			return model.ComparisonResultResponse{}, ErrMalformedToken
		}
		return model.ComparisonResultResponse{}, fmt.Errorf("vote: take token: %w", err)
	}

	metric, err := r.store.GetMetricByExternalID(ctx, payload.MetricExternalID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return model.ComparisonResultResponse{}, ErrMalformedToken
		}
		return model.ComparisonResultResponse{}, fmt.Errorf("vote: resolve metric: %w", err)
	}

	samples, err := r.store.GetVoteSamples(ctx, []uuid.UUID{payload.Sample1ID, payload.Sample2ID})
	if err != nil {
		return model.ComparisonResultResponse{}, fmt.Errorf("vote: load samples: %w", err)
	}
	bySampleID := make(map[uuid.UUID]storage.VoteSample, len(samples))
	for _, s := range samples {
		bySampleID[s.ComparisonSampleID] = s
	}
	sample1, ok1 := bySampleID[payload.Sample1ID]
	sample2, ok2 := bySampleID[payload.Sample2ID]
	if !ok1 || !ok2 {
		return model.ComparisonResultResponse{}, ErrSamplesNotFound
	}

	if err := validateRanks(ranks, payload.Sample1ID, payload.Sample2ID); err != nil {
		return model.ComparisonResultResponse{}, err
	}

	if sample1.TestSetID == nil || sample2.TestSetID == nil || *sample1.TestSetID != *sample2.TestSetID {
		return model.ComparisonResultResponse{}, ErrTestSetMismatch
	}

	cmpRanks := buildRanks(ranks, bySampleID)
	cmp := model.Comparison{
		UserID:                id.UserID,
		IdentificationTokenID: id.IdentificationTokenID,
		SessionID:             id.SessionID,
		MetricID:              metric.ID,
		TestSetID:             *sample1.TestSetID,
	}
	if _, err := r.store.CreateComparison(ctx, cmp, cmpRanks); err != nil {
		return model.ComparisonResultResponse{}, fmt.Errorf("vote: persist comparison: %w", err)
	}

	// The vote is durable at this point; trigger failures only delay rating
	// recalculation until the next vote.
	for _, system := range []model.RatingSystem{model.SystemElo, model.SystemGlicko} {
		if _, err := r.trigger.Trigger(ctx, system); err != nil {
			r.logger.Warn("rating trigger failed", "system", system, "error", err)
		}
	}

	return model.ComparisonResultResponse{
		Sample1Model: sample1.ModelName,
		Sample2Model: sample2.ModelName,
	}, nil
}

// validateRanks checks that the flattened ranking is exactly the token's two
// samples: either two positions of one id each, or one tied position with
// both ids.
func validateRanks(ranks []model.RankEntry, sample1, sample2 uuid.UUID) error {
	var flat []uuid.UUID
	for _, entry := range ranks {
		flat = append(flat, entry.SampleIDs...)
	}
	if len(flat) != 2 || flat[0] == flat[1] {
		return ErrRanksInvalid
	}
	want := map[uuid.UUID]bool{sample1: true, sample2: true}
	if !want[flat[0]] || !want[flat[1]] {
		return ErrRanksInvalid
	}
	return nil
}

// buildRanks converts position order (best-first) to rank rows: rank 1 for
// the first position, rank 2 for the second, and {1,1} for a tied position.
func buildRanks(ranks []model.RankEntry, bySampleID map[uuid.UUID]storage.VoteSample) []model.ComparisonRank {
	var rows []model.ComparisonRank
	for pos, entry := range ranks {
		for _, sid := range entry.SampleIDs {
			rows = append(rows, model.ComparisonRank{
				SampleID: bySampleID[sid].ID,
				Rank:     pos + 1,
			})
		}
	}
	return rows
}
