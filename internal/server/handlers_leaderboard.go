package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/selection"
	"github.com/ashita-ai/hikaku/internal/storage"
)

// Leaderboard query defaults. Rows under DefaultMinVotes are hidden so a
// model's first few votes do not swing the public board.
const (
	DefaultMinVotes    = 10
	DefaultLimit       = 20
	MaxLimit           = 100
	DefaultPageSize    = 20
	MaxPageSize        = 100
	DefaultTestSetName = selection.AuthenticatedTestSet
)

// leaderboardScope is the resolved (metric, test set, tag) triple common to
// all leaderboard reads. Tag nil means the global board.
type leaderboardScope struct {
	metric  model.Metric
	testSet model.TestSet
	tag     *model.Tag
}

func (sc leaderboardScope) tagID() *int64 {
	if sc.tag == nil {
		return nil
	}
	return &sc.tag.ID
}

// resolveScope resolves metric_name, test_set_name, and tag_name query
// params. It writes the error response itself and reports ok=false on
// failure.
func (h *Handlers) resolveScope(w http.ResponseWriter, r *http.Request) (leaderboardScope, bool) {
	var sc leaderboardScope

	metricName := r.URL.Query().Get("metric_name")
	if metricName == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "metric_name is required")
		return sc, false
	}
	metric, err := h.db.GetMetricByName(r.Context(), metricName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown metric")
			return sc, false
		}
		h.writeInternalError(w, r, "failed to resolve metric", err)
		return sc, false
	}
	sc.metric = metric

	testSetName := r.URL.Query().Get("test_set_name")
	if testSetName == "" {
		testSetName = DefaultTestSetName
	}
	testSet, err := h.db.GetTestSetByName(r.Context(), testSetName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown test set")
			return sc, false
		}
		h.writeInternalError(w, r, "failed to resolve test set", err)
		return sc, false
	}
	sc.testSet = testSet

	if tagName := r.URL.Query().Get("tag_name"); tagName != "" {
		tag, err := h.db.GetTagByName(r.Context(), tagName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown tag")
				return sc, false
			}
			h.writeInternalError(w, r, "failed to resolve tag", err)
			return sc, false
		}
		sc.tag = &tag
	}

	return sc, true
}

// queryInt parses an integer query param with a default and an upper cap.
// cap <= 0 means uncapped.
func queryInt(r *http.Request, name string, def, max int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

// HandleListMetrics handles GET /metrics.
func (h *Handlers) HandleListMetrics(w http.ResponseWriter, r *http.Request) {
	metrics, err := h.db.ListMetrics(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list metrics", err)
		return
	}
	out := make([]model.MetricResponse, 0, len(metrics))
	for _, m := range metrics {
		out = append(out, toMetricResponse(m))
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleLeaderboardTestSets handles GET /leaderboard/test-sets: the test
// sets that actually appear in the model leaderboard.
func (h *Handlers) HandleLeaderboardTestSets(w http.ResponseWriter, r *http.Request) {
	testSets, err := h.db.ListLeaderboardTestSets(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list leaderboard test sets", err)
		return
	}
	out := make([]model.TestSetResponse, 0, len(testSets))
	for _, ts := range testSets {
		out = append(out, model.TestSetResponse{ID: ts.ExternalID, Name: ts.Name, Description: ts.Description})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleLeaderboardTags handles GET /leaderboard/tags: the scoreable tags
// present in the model leaderboard for one metric and test set.
func (h *Handlers) HandleLeaderboardTags(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.resolveScope(w, r)
	if !ok {
		return
	}
	tags, err := h.db.ListLeaderboardTags(r.Context(), sc.metric.ID, sc.testSet.ID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list leaderboard tags", err)
		return
	}
	out := make([]model.TagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, model.TagResponse{ID: t.ExternalID, Name: t.Name})
	}
	writeJSON(w, r, http.StatusOK, out)
}

// HandleLeaderboard handles GET /leaderboard: the public Elo model board.
func (h *Handlers) HandleLeaderboard(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.resolveScope(w, r)
	if !ok {
		return
	}
	minVotes := queryInt(r, "min_votes", DefaultMinVotes, 0)
	limit := queryInt(r, "limit", DefaultLimit, MaxLimit)

	standings, err := h.db.EloModelLeaderboard(r.Context(), sc.metric.ID, sc.testSet.ID, sc.tagID(), minVotes, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load leaderboard", err)
		return
	}

	entries := make([]model.LeaderboardEntry, 0, len(standings))
	for _, s := range standings {
		entries = append(entries, model.LeaderboardEntry{
			Rating:      s.Row.Rating,
			VoteCount:   s.Row.VoteCount,
			WinCount:    s.Row.WinCount,
			LossCount:   s.Row.LossCount,
			TieCount:    s.Row.TieCount,
			LastUpdated: s.Row.LastUpdated,
			Model:       toModelResponse(s.Model),
			Tag:         toTagResponse(s.Tag),
		})
	}

	writeJSON(w, r, http.StatusOK, model.LeaderboardResponse{
		Metric:      toMetricResponse(sc.metric),
		TestSetID:   sc.testSet.ExternalID,
		TestSetName: sc.testSet.Name,
		Entries:     entries,
	})
}

// HandleGlickoLeaderboard handles GET /leaderboard/glicko. Stored ratings
// are 1500-centred; the public scale is 1000-centred, so entries are
// shifted down at this boundary.
func (h *Handlers) HandleGlickoLeaderboard(w http.ResponseWriter, r *http.Request) {
	sc, ok := h.resolveScope(w, r)
	if !ok {
		return
	}
	minVotes := queryInt(r, "min_votes", DefaultMinVotes, 0)
	limit := queryInt(r, "limit", DefaultLimit, MaxLimit)

	standings, err := h.db.GlickoModelLeaderboard(r.Context(), sc.metric.ID, sc.testSet.ID, sc.tagID(), minVotes, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load glicko leaderboard", err)
		return
	}

	entries := make([]model.GlickoLeaderboardEntry, 0, len(standings))
	for _, s := range standings {
		entries = append(entries, model.GlickoLeaderboardEntry{
			Rating:      s.Row.Rating - model.GlickoDisplayShift,
			Deviation:   s.Row.Deviation,
			VoteCount:   s.Row.VoteCount,
			WinCount:    s.Row.WinCount,
			LossCount:   s.Row.LossCount,
			TieCount:    s.Row.TieCount,
			LastUpdated: s.Row.LastUpdated,
			Model:       toModelResponse(s.Model),
			Tag:         toTagResponse(s.Tag),
		})
	}

	writeJSON(w, r, http.StatusOK, model.GlickoLeaderboardResponse{
		Metric:      toMetricResponse(sc.metric),
		TestSetID:   sc.testSet.ExternalID,
		TestSetName: sc.testSet.Name,
		Entries:     entries,
	})
}

// HandleModelSamples handles GET /leaderboard/model/samples: the paginated
// per-sample standings of one model.
func (h *Handlers) HandleModelSamples(w http.ResponseWriter, r *http.Request) {
	modelIDRaw := r.URL.Query().Get("model_id")
	if modelIDRaw == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "model_id is required")
		return
	}
	modelXID, err := uuid.Parse(modelIDRaw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "model_id must be a uuid")
		return
	}

	sc, ok := h.resolveScope(w, r)
	if !ok {
		return
	}

	genModel, err := h.db.GetModelByExternalID(r.Context(), modelXID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown model")
			return
		}
		h.writeInternalError(w, r, "failed to resolve model", err)
		return
	}

	page := queryInt(r, "page", 1, 0)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "page_size", DefaultPageSize, MaxPageSize)
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}

	filter := storage.ModelSampleFilter{
		ModelID:   genModel.ID,
		MetricID:  sc.metric.ID,
		TestSetID: sc.testSet.ID,
		TagID:     sc.tagID(),
		MinVotes:  queryInt(r, "min_votes", DefaultMinVotes, 0),
		Offset:    (page - 1) * pageSize,
		Limit:     pageSize,
	}
	if promptName := r.URL.Query().Get("prompt_name"); promptName != "" {
		filter.PromptName = &promptName
	}

	standings, total, err := h.db.ModelSampleLeaderboard(r.Context(), filter)
	if err != nil {
		h.writeInternalError(w, r, "failed to load model samples", err)
		return
	}

	samples := make([]model.ModelSampleEntry, 0, len(standings))
	for _, s := range standings {
		samples = append(samples, model.ModelSampleEntry{
			ID:          s.SampleExternalID,
			Rating:      s.Row.Rating,
			WinRate:     winRate(s.Row.WinCount, s.Row.TieCount, s.Row.VoteCount),
			VoteCount:   s.Row.VoteCount,
			WinCount:    s.Row.WinCount,
			LossCount:   s.Row.LossCount,
			TieCount:    s.Row.TieCount,
			LastUpdated: s.Row.LastUpdated,
			PromptName:  s.PromptName,
		})
	}

	totalPages := (total + pageSize - 1) / pageSize
	writeJSON(w, r, http.StatusOK, model.ModelSamplesResponse{
		Metric:      toMetricResponse(sc.metric),
		TestSetID:   sc.testSet.ExternalID,
		TestSetName: sc.testSet.Name,
		Model:       toModelResponse(genModel),
		Samples:     samples,
		Paging: model.Paging{
			Page:        page,
			PageSize:    pageSize,
			TotalPages:  totalPages,
			TotalItems:  total,
			HasNext:     page < totalPages,
			HasPrevious: page > 1,
		},
	})
}

// HandleSampleDetail handles GET /sample/{id}. Only approved, complete
// samples are visible; anything else reads as not found.
func (h *Handlers) HandleSampleDetail(w http.ResponseWriter, r *http.Request) {
	sampleXID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "sample id must be a uuid")
		return
	}

	sample, err := h.db.GetSampleByExternalID(r.Context(), sampleXID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "sample not found")
			return
		}
		h.writeInternalError(w, r, "failed to load sample", err)
		return
	}
	if sample.IsPending || !sample.IsComplete {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "sample not found")
		return
	}

	genModel, prompt, tags, err := h.db.GetRunContext(r.Context(), sample.RunID)
	if err != nil {
		h.writeInternalError(w, r, "failed to load run context", err)
		return
	}

	artifacts, err := h.db.ArtifactFilesForSamples(r.Context(), []int64{sample.ID})
	if err != nil {
		h.writeInternalError(w, r, "failed to load artifacts", err)
		return
	}

	resp := model.SampleDetailResponse{
		ID:                sample.ExternalID,
		Created:           sample.Created,
		IsComplete:        sample.IsComplete,
		ExperimentalState: sample.ExperimentalState,
		Run: model.RunInfo{
			Model: toModelResponse(genModel),
			Prompt: model.PromptResponse{
				ID:                 prompt.ExternalID,
				Name:               prompt.Name,
				BuildSpecification: prompt.BuildSpecification,
				Tags:               toTagResponses(tags),
			},
		},
		Artifacts: artifacts[sample.ID],
	}
	if sample.ApprovalState != nil {
		resp.ApprovalState = *sample.ApprovalState
	}
	if sample.TestSetID != nil {
		testSet, err := h.db.GetTestSetByID(r.Context(), *sample.TestSetID)
		if err != nil {
			h.writeInternalError(w, r, "failed to resolve sample test set", err)
			return
		}
		resp.TestSetID = &testSet.ExternalID
	}

	// Stats are scoped to a metric; they are included only when the caller
	// names one and the sample belongs to a test set.
	if metricName := r.URL.Query().Get("metric_name"); metricName != "" && sample.TestSetID != nil {
		metric, err := h.db.GetMetricByName(r.Context(), metricName)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "unknown metric")
				return
			}
			h.writeInternalError(w, r, "failed to resolve metric", err)
			return
		}

		row, err := h.db.SampleEloStats(r.Context(), sample.ID, metric.ID, *sample.TestSetID)
		switch {
		case err == nil:
			resp.Stats = &model.SampleStats{
				Rating:      row.Rating,
				VoteCount:   row.VoteCount,
				WinCount:    row.WinCount,
				LossCount:   row.LossCount,
				TieCount:    row.TieCount,
				WinRate:     winRate(row.WinCount, row.TieCount, row.VoteCount),
				LastUpdated: row.LastUpdated,
			}
		case errors.Is(err, storage.ErrNotFound):
			// Never voted on; no stats.
		default:
			h.writeInternalError(w, r, "failed to load sample stats", err)
			return
		}
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// winRate scores ties as half a win.
func winRate(wins, ties, votes int) float64 {
	if votes == 0 {
		return 0
	}
	return (float64(wins) + 0.5*float64(ties)) / float64(votes)
}

func toMetricResponse(m model.Metric) model.MetricResponse {
	return model.MetricResponse{ID: m.ExternalID, Name: m.Name, Description: m.Description}
}

func toModelResponse(m model.GenModel) model.ModelResponse {
	return model.ModelResponse{ID: m.ExternalID, Name: m.Name, Slug: m.Slug}
}

func toTagResponse(t *model.Tag) *model.TagResponse {
	if t == nil {
		return nil
	}
	return &model.TagResponse{ID: t.ExternalID, Name: t.Name}
}

func toTagResponses(tags []model.Tag) []model.TagResponse {
	out := make([]model.TagResponse, 0, len(tags))
	for _, t := range tags {
		out = append(out, model.TagResponse{ID: t.ExternalID, Name: t.Name})
	}
	return out
}
