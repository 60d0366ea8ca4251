package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/hikaku/internal/gate"
	"github.com/ashita-ai/hikaku/internal/identity"
	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/queue"
	"github.com/ashita-ai/hikaku/internal/ratelimit"
	"github.com/ashita-ai/hikaku/internal/selection"
	"github.com/ashita-ai/hikaku/internal/server"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/testutil"
	"github.com/ashita-ai/hikaku/internal/token"
	"github.com/ashita-ai/hikaku/internal/vote"
)

var (
	testDB  *storage.DB
	fix     testutil.Fixtures
	metric  model.Metric
	testSet model.TestSet
	modelA  model.GenModel
	modelB  model.GenModel
	sampleA model.Sample
	sampleB model.Sample
)

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	ctx := context.Background()
	db, err := tc.NewTestDB(ctx, testutil.TestLogger())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up test db: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testDB = db
	fix = testutil.Fixtures{DB: db}

	if err := seed(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to seed: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	db.Close()
	tc.Terminate()
	os.Exit(code)
}

// seed builds one voteable world: two models, one shared prompt, two
// approved samples in the same correlation, artifacts for both.
func seed(ctx context.Context) error {
	var err error
	if metric, err = fix.CreateMetric(ctx, "Instruction Following"); err != nil {
		return err
	}
	// Anonymous batch requests resolve this test set by name.
	if testSet, err = fix.CreateTestSet(ctx, selection.UnauthenticatedTestSet); err != nil {
		return err
	}
	if modelA, err = fix.CreateModel(ctx, "Aurora 70B", "aurora-70b"); err != nil {
		return err
	}
	if modelB, err = fix.CreateModel(ctx, "Borealis Mini", "borealis-mini"); err != nil {
		return err
	}
	prompt, err := fix.CreatePrompt(ctx, "a lighthouse", "Build a lighthouse on a rocky shore")
	if err != nil {
		return err
	}

	correlation := uuid.New()
	runA, err := fix.CreateRun(ctx, modelA.ID, prompt.ID)
	if err != nil {
		return err
	}
	runB, err := fix.CreateRun(ctx, modelB.ID, prompt.ID)
	if err != nil {
		return err
	}
	if sampleA, err = fix.CreateSample(ctx, runA, testSet.ID, correlation); err != nil {
		return err
	}
	if sampleB, err = fix.CreateSample(ctx, runB, testSet.ID, correlation); err != nil {
		return err
	}
	if err := fix.CreateArtifact(ctx, sampleA.ID, "renders", "a.glb"); err != nil {
		return err
	}
	return fix.CreateArtifact(ctx, sampleB.ID, "renders", "b.glb")
}

// newTestServer wires a full server against the shared database. A nil
// limiter disables rate limiting.
func newTestServer(t *testing.T, limiter ratelimit.Allower, voteLimit int) http.Handler {
	t.Helper()
	logger := testutil.TestLogger()

	tokens := token.NewMemoryStore()
	t.Cleanup(func() { _ = tokens.Close() })

	identitySvc := identity.NewService(testDB, logger)
	trigger := gate.NewTrigger(gate.NewMemoryGate(), queue.NewMemoryQueue(64, logger), logger)
	selector := selection.NewSelector(testDB, tokens, selection.NewUniformStrategy(selection.NewRand()), logger)
	recorder := vote.NewRecorder(testDB, tokens, identitySvc, trigger, logger)

	srv := server.New(server.ServerConfig{
		DB:                  testDB,
		Selector:            selector,
		Recorder:            recorder,
		IdentitySvc:         identitySvc,
		Limiter:             limiter,
		Logger:              logger,
		Port:                0,
		ReadTimeout:         5 * time.Second,
		WriteTimeout:        5 * time.Second,
		Version:             "test",
		MaxRequestBodyBytes: 1 << 20,
		BatchRateLimit:      voteLimit,
		VoteRateLimit:       voteLimit,
	})
	return srv.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decodeData unmarshals the data field of the standard response envelope.
func decodeData(t *testing.T, rec *httptest.ResponseRecorder, target any) {
	t.Helper()
	var envelope struct {
		Data json.RawMessage    `json:"data"`
		Meta model.ResponseMeta `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope.Meta.RequestID)
	require.NoError(t, json.Unmarshal(envelope.Data, target))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) model.ErrorDetail {
	t.Helper()
	var envelope model.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Error
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp server.HealthResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "connected", resp.Postgres)
	assert.Equal(t, "test", resp.Version)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestComparisonBatchAndVote(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodPost, "/comparison/batch", model.ComparisonBatchRequest{
		MetricID:  metric.ExternalID,
		BatchSize: 1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Anonymous caller gets a session and identification token minted.
	session := rec.Header().Get(identity.SessionHeader)
	idToken := rec.Header().Get(identity.TokenHeader)
	require.NotEmpty(t, session)
	require.NotEmpty(t, idToken)

	var batch model.ComparisonBatchResponse
	decodeData(t, rec, &batch)
	require.Len(t, batch.Comparisons, 1)

	cmp := batch.Comparisons[0]
	assert.Equal(t, metric.ExternalID, cmp.MetricID)
	require.Len(t, cmp.Samples, 2)
	assert.NotEqual(t, cmp.Samples[0], cmp.Samples[1])
	assert.Equal(t, "Build a lighthouse on a rocky shore", cmp.BuildDescription)
	require.Len(t, cmp.Assets, 2)
	require.Len(t, cmp.Assets[0].Files, 1)
	assert.Equal(t, "renders", cmp.Assets[0].Files[0].Bucket)

	// Vote: first sample wins. Presenting the identity headers binds the
	// vote to the same anonymous voter.
	voteHeaders := map[string]string{
		identity.SessionHeader: session,
		identity.TokenHeader:   idToken,
	}
	rec = doJSON(t, h, http.MethodPost, "/comparison/result", model.ComparisonResultRequest{
		ComparisonDetails: model.ComparisonDetails{Token: cmp.Token},
		OrderedSampleIDs: []model.RankEntry{
			{SampleIDs: []uuid.UUID{cmp.Samples[0]}},
			{SampleIDs: []uuid.UUID{cmp.Samples[1]}},
		},
	}, voteHeaders)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, session, rec.Header().Get(identity.SessionHeader))

	var result model.ComparisonResultResponse
	decodeData(t, rec, &result)
	revealed := []string{result.Sample1Model, result.Sample2Model}
	assert.ElementsMatch(t, []string{"Aurora 70B", "Borealis Mini"}, revealed)

	// The token is single-shot.
	rec = doJSON(t, h, http.MethodPost, "/comparison/result", model.ComparisonResultRequest{
		ComparisonDetails: model.ComparisonDetails{Token: cmp.Token},
		OrderedSampleIDs: []model.RankEntry{
			{SampleIDs: []uuid.UUID{cmp.Samples[0]}},
			{SampleIDs: []uuid.UUID{cmp.Samples[1]}},
		},
	}, voteHeaders)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, decodeError(t, rec).Code)
}

func TestComparisonBatchRejectsInvalid(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodPost, "/comparison/batch", model.ComparisonBatchRequest{
		MetricID:  metric.ExternalID,
		BatchSize: 0,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Code)

	// A batch above the cap is not acceptable rather than malformed.
	rec = doJSON(t, h, http.MethodPost, "/comparison/batch", model.ComparisonBatchRequest{
		MetricID:  metric.ExternalID,
		BatchSize: model.MaxBatchSize + 1,
	}, nil)
	require.Equal(t, http.StatusNotAcceptable, rec.Code)
	assert.Equal(t, model.ErrCodeNotAcceptable, decodeError(t, rec).Code)

	rec = doJSON(t, h, http.MethodPost, "/comparison/batch", model.ComparisonBatchRequest{
		MetricID:  uuid.New(),
		BatchSize: 1,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown fields are rejected.
	rec = doJSON(t, h, http.MethodPost, "/comparison/batch", map[string]any{
		"metric_id": metric.ExternalID, "batch_size": 1, "bogus": true,
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestComparisonResultRejectsBadRanks(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodPost, "/comparison/batch", model.ComparisonBatchRequest{
		MetricID:  metric.ExternalID,
		BatchSize: 1,
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var batch model.ComparisonBatchResponse
	decodeData(t, rec, &batch)
	require.Len(t, batch.Comparisons, 1)
	cmp := batch.Comparisons[0]

	// A ranking over a foreign sample id burns the token and is rejected.
	rec = doJSON(t, h, http.MethodPost, "/comparison/result", model.ComparisonResultRequest{
		ComparisonDetails: model.ComparisonDetails{Token: cmp.Token},
		OrderedSampleIDs: []model.RankEntry{
			{SampleIDs: []uuid.UUID{cmp.Samples[0]}},
			{SampleIDs: []uuid.UUID{uuid.New()}},
		},
	}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, model.ErrCodeInvalidInput, decodeError(t, rec).Code)
}

func TestComparisonResultUnknownToken(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodPost, "/comparison/result", model.ComparisonResultRequest{
		ComparisonDetails: model.ComparisonDetails{Token: uuid.New()},
		OrderedSampleIDs: []model.RankEntry{
			{SampleIDs: []uuid.UUID{sampleA.ComparisonSampleID}},
			{SampleIDs: []uuid.UUID{sampleB.ComparisonSampleID}},
		},
	}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsListing(t *testing.T) {
	h := newTestServer(t, nil, 0)

	for _, path := range []string{"/metrics", "/leaderboard/metrics"} {
		rec := doJSON(t, h, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var metrics []model.MetricResponse
		decodeData(t, rec, &metrics)

		found := false
		for _, m := range metrics {
			if m.ID == metric.ExternalID {
				found = true
				assert.Equal(t, "Instruction Following", m.Name)
			}
		}
		assert.True(t, found, "seeded metric missing from %s", path)
	}
}

func TestLeaderboardEndpoint(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO scoring.model_leaderboard
		   (model_id, metric_id, test_set_id, tag_id, elo_score, vote_count, win_count, loss_count, tie_count)
		 VALUES ($1, $2, $3, NULL, 1040, 25, 15, 8, 2),
		        ($4, $2, $3, NULL, 1010, 12, 6, 5, 1)
		 ON CONFLICT ON CONSTRAINT unique_model_leaderboard_entry DO UPDATE
		   SET elo_score = EXCLUDED.elo_score, vote_count = EXCLUDED.vote_count,
		       win_count = EXCLUDED.win_count, loss_count = EXCLUDED.loss_count, tie_count = EXCLUDED.tie_count`,
		modelA.ID, metric.ID, testSet.ID, modelB.ID)
	require.NoError(t, err)

	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet,
		"/leaderboard?metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var board model.LeaderboardResponse
	decodeData(t, rec, &board)
	assert.Equal(t, metric.ExternalID, board.Metric.ID)
	assert.Equal(t, testSet.ExternalID, board.TestSetID)
	require.Len(t, board.Entries, 2)
	assert.Equal(t, "aurora-70b", board.Entries[0].Model.Slug)
	assert.InDelta(t, 1040, board.Entries[0].Rating, 1e-9)
	assert.Equal(t, 25, board.Entries[0].VoteCount)
	assert.Nil(t, board.Entries[0].Tag)
	assert.Equal(t, "borealis-mini", board.Entries[1].Model.Slug)

	// min_votes hides the thinner row.
	rec = doJSON(t, h, http.MethodGet,
		"/leaderboard?metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set&min_votes=20", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &board)
	require.Len(t, board.Entries, 1)
	assert.Equal(t, "aurora-70b", board.Entries[0].Model.Slug)

	// Unknown metric is a 404.
	rec = doJSON(t, h, http.MethodGet, "/leaderboard?metric_name=nope", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Missing metric_name is a 400.
	rec = doJSON(t, h, http.MethodGet, "/leaderboard", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGlickoLeaderboardShiftsScale(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO scoring.model_glicko_leaderboard
		   (model_id, metric_id, test_set_id, tag_id, glicko_rating, rating_deviation, volatility,
		    vote_count, win_count, loss_count, tie_count)
		 VALUES ($1, $2, $3, NULL, 1620, 120, 0.06, 30, 20, 8, 2)
		 ON CONFLICT ON CONSTRAINT unique_model_glicko_leaderboard_entry DO UPDATE
		   SET glicko_rating = EXCLUDED.glicko_rating, rating_deviation = EXCLUDED.rating_deviation,
		       vote_count = EXCLUDED.vote_count`,
		modelA.ID, metric.ID, testSet.ID)
	require.NoError(t, err)

	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet,
		"/leaderboard/glicko?metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var board model.GlickoLeaderboardResponse
	decodeData(t, rec, &board)
	require.Len(t, board.Entries, 1)
	// Stored 1620 on the 1500-centred scale surfaces as 1120.
	assert.InDelta(t, 1120, board.Entries[0].Rating, 1e-9)
	assert.InDelta(t, 120, board.Entries[0].Deviation, 1e-9)
}

func TestLeaderboardTestSetsAndTags(t *testing.T) {
	// Depends on the rows planted by TestLeaderboardEndpoint; plant again so
	// this test stands alone.
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO scoring.model_leaderboard
		   (model_id, metric_id, test_set_id, tag_id, elo_score, vote_count, win_count, loss_count, tie_count)
		 VALUES ($1, $2, $3, NULL, 1040, 25, 15, 8, 2)
		 ON CONFLICT ON CONSTRAINT unique_model_leaderboard_entry DO NOTHING`,
		modelA.ID, metric.ID, testSet.ID)
	require.NoError(t, err)

	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet, "/leaderboard/test-sets", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sets []model.TestSetResponse
	decodeData(t, rec, &sets)
	found := false
	for _, ts := range sets {
		if ts.ID == testSet.ExternalID {
			found = true
		}
	}
	assert.True(t, found)

	// No tagged rows exist, so the tag listing is empty.
	rec = doJSON(t, h, http.MethodGet,
		"/leaderboard/tags?metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tags []model.TagResponse
	decodeData(t, rec, &tags)
	assert.Empty(t, tags)
}

func TestModelSamplesEndpoint(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO scoring.sample_leaderboard
		   (sample_id, metric_id, test_set_id, tag_id, elo_score, vote_count, win_count, loss_count, tie_count)
		 VALUES ($1, $2, $3, NULL, 1024, 12, 7, 4, 1)
		 ON CONFLICT ON CONSTRAINT unique_sample_leaderboard_entry DO UPDATE
		   SET elo_score = EXCLUDED.elo_score, vote_count = EXCLUDED.vote_count,
		       win_count = EXCLUDED.win_count, loss_count = EXCLUDED.loss_count, tie_count = EXCLUDED.tie_count`,
		sampleA.ID, metric.ID, testSet.ID)
	require.NoError(t, err)

	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet,
		"/leaderboard/model/samples?model_id="+modelA.ExternalID.String()+
			"&metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.ModelSamplesResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, "aurora-70b", resp.Model.Slug)
	require.Len(t, resp.Samples, 1)
	entry := resp.Samples[0]
	assert.Equal(t, sampleA.ExternalID, entry.ID)
	assert.InDelta(t, 1024, entry.Rating, 1e-9)
	assert.Equal(t, "a lighthouse", entry.PromptName)
	// 7 wins and 1 tie over 12 votes.
	assert.InDelta(t, 7.5/12.0, entry.WinRate, 1e-9)
	assert.Equal(t, 1, resp.Paging.Page)
	assert.Equal(t, 1, resp.Paging.TotalItems)
	assert.False(t, resp.Paging.HasNext)

	// model_id is required.
	rec = doJSON(t, h, http.MethodGet,
		"/leaderboard/model/samples?metric_name=Instruction+Following", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Unknown model is a 404.
	rec = doJSON(t, h, http.MethodGet,
		"/leaderboard/model/samples?model_id="+uuid.NewString()+
			"&metric_name=Instruction+Following&test_set_name=Unauthenticated+Test+Set", nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSampleDetailEndpoint(t *testing.T) {
	h := newTestServer(t, nil, 0)

	rec := doJSON(t, h, http.MethodGet, "/sample/"+sampleA.ExternalID.String(), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp model.SampleDetailResponse
	decodeData(t, rec, &resp)
	assert.Equal(t, sampleA.ExternalID, resp.ID)
	assert.True(t, resp.IsComplete)
	assert.Equal(t, model.ApprovalApproved, resp.ApprovalState)
	assert.Equal(t, "Aurora 70B", resp.Run.Model.Name)
	assert.Equal(t, "a lighthouse", resp.Run.Prompt.Name)
	require.NotNil(t, resp.TestSetID)
	assert.Equal(t, testSet.ExternalID, *resp.TestSetID)
	require.Len(t, resp.Artifacts, 1)
	assert.Equal(t, "a.glb", resp.Artifacts[0].Key)
	assert.Nil(t, resp.Stats)

	// With a metric the sample's standing is attached (planted by
	// TestModelSamplesEndpoint; plant again so ordering does not matter).
	ctx := context.Background()
	_, err := testDB.Pool().Exec(ctx,
		`INSERT INTO scoring.sample_leaderboard
		   (sample_id, metric_id, test_set_id, tag_id, elo_score, vote_count, win_count, loss_count, tie_count)
		 VALUES ($1, $2, $3, NULL, 1024, 12, 7, 4, 1)
		 ON CONFLICT ON CONSTRAINT unique_sample_leaderboard_entry DO NOTHING`,
		sampleA.ID, metric.ID, testSet.ID)
	require.NoError(t, err)

	rec = doJSON(t, h, http.MethodGet,
		"/sample/"+sampleA.ExternalID.String()+"?metric_name=Instruction+Following", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeData(t, rec, &resp)
	require.NotNil(t, resp.Stats)
	assert.InDelta(t, 1024, resp.Stats.Rating, 1e-9)
	assert.Equal(t, 12, resp.Stats.VoteCount)

	// Unknown and malformed ids.
	rec = doJSON(t, h, http.MethodGet, "/sample/"+uuid.NewString(), nil, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = doJSON(t, h, http.MethodGet, "/sample/not-a-uuid", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitOnVoteEndpoint(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	t.Cleanup(func() { _ = limiter.Close() })
	h := newTestServer(t, limiter, 2)

	body := model.ComparisonResultRequest{
		ComparisonDetails: model.ComparisonDetails{Token: uuid.New()},
		OrderedSampleIDs: []model.RankEntry{
			{SampleIDs: []uuid.UUID{sampleA.ComparisonSampleID}},
			{SampleIDs: []uuid.UUID{sampleB.ComparisonSampleID}},
		},
	}

	// The first two requests reach the handler (404, unknown token); the
	// third is cut off by the per-IP limit.
	for i := 0; i < 2; i++ {
		rec := doJSON(t, h, http.MethodPost, "/comparison/result", body, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, "request %d", i+1)
	}
	rec := doJSON(t, h, http.MethodPost, "/comparison/result", body, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, model.ErrCodeRateLimited, decodeError(t, rec).Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
}
