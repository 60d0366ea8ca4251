package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MaxBatchSize caps how many pairs a single batch request may ask for.
const MaxBatchSize = 10

// ComparisonBatchRequest is the body of POST /comparison/batch.
type ComparisonBatchRequest struct {
	MetricID  uuid.UUID `json:"metric_id"`
	BatchSize int       `json:"batch_size"`
}

// ComparisonBatchResponse lists the issued pair tokens.
type ComparisonBatchResponse struct {
	Comparisons []ComparisonToken `json:"comparisons"`
}

// ComparisonToken is one issued pair: an opaque token, the two comparison
// sample ids in issue order, the prompt's build specification, and the
// rendered artifact per sample.
type ComparisonToken struct {
	Token            uuid.UUID     `json:"token"`
	MetricID         uuid.UUID     `json:"metric_id"`
	Samples          []uuid.UUID   `json:"samples"`
	BuildDescription string        `json:"build_description"`
	Assets           []SampleAsset `json:"assets"`
}

// SampleAsset carries the renderable files for one sample in a pair.
type SampleAsset struct {
	SampleID uuid.UUID   `json:"sample_id"`
	Files    []AssetFile `json:"files"`
}

// AssetFile is a single object-store artifact reference.
type AssetFile struct {
	Kind   string `json:"kind"`
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// ComparisonResultRequest is the body of POST /comparison/result.
// OrderedSampleIDs positions are best-first; each position is either a single
// sample id (strict ordering) or an array of ids (tie).
type ComparisonResultRequest struct {
	ComparisonDetails ComparisonDetails `json:"comparison_details"`
	OrderedSampleIDs  []RankEntry       `json:"ordered_sample_ids"`
}

// ComparisonDetails wraps the pair token being voted on.
type ComparisonDetails struct {
	Token uuid.UUID `json:"token"`
}

// RankEntry is one position in a submitted ranking: one or more sample ids
// sharing the same rank. It accepts both a bare UUID string and an array of
// UUID strings on the wire.
type RankEntry struct {
	SampleIDs []uuid.UUID
}

// UnmarshalJSON accepts either "uuid" or ["uuid", ...].
func (e *RankEntry) UnmarshalJSON(data []byte) error {
	var single uuid.UUID
	if err := json.Unmarshal(data, &single); err == nil {
		e.SampleIDs = []uuid.UUID{single}
		return nil
	}
	var many []uuid.UUID
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("rank entry must be a sample id or an array of sample ids")
	}
	e.SampleIDs = many
	return nil
}

// MarshalJSON mirrors UnmarshalJSON: single ids collapse to a bare string.
func (e RankEntry) MarshalJSON() ([]byte, error) {
	if len(e.SampleIDs) == 1 {
		return json.Marshal(e.SampleIDs[0])
	}
	return json.Marshal(e.SampleIDs)
}

// ComparisonResultResponse reveals the two model names after a vote, in the
// order of the original token's samples.
type ComparisonResultResponse struct {
	Sample1Model string `json:"sample_1_model"`
	Sample2Model string `json:"sample_2_model"`
}

// MetricResponse is the public view of a metric.
type MetricResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// TestSetResponse is the public view of a test set.
type TestSetResponse struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

// TagResponse is the public view of a tag.
type TagResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// ModelResponse is the public view of a generative model.
type ModelResponse struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Slug string    `json:"slug"`
}

// LeaderboardEntry is one row of the public Elo leaderboard.
type LeaderboardEntry struct {
	Rating      float64       `json:"rating"`
	VoteCount   int           `json:"vote_count"`
	WinCount    int           `json:"win_count"`
	LossCount   int           `json:"loss_count"`
	TieCount    int           `json:"tie_count"`
	LastUpdated time.Time     `json:"last_updated"`
	Model       ModelResponse `json:"model"`
	Tag         *TagResponse  `json:"tag,omitempty"`
}

// GlickoLeaderboardEntry adds the rating deviation to the Elo shape.
// Ratings here are already shifted to the display scale.
type GlickoLeaderboardEntry struct {
	Rating      float64       `json:"rating"`
	Deviation   float64       `json:"deviation"`
	VoteCount   int           `json:"vote_count"`
	WinCount    int           `json:"win_count"`
	LossCount   int           `json:"loss_count"`
	TieCount    int           `json:"tie_count"`
	LastUpdated time.Time     `json:"last_updated"`
	Model       ModelResponse `json:"model"`
	Tag         *TagResponse  `json:"tag,omitempty"`
}

// LeaderboardResponse wraps leaderboard entries with their metric/test-set context.
type LeaderboardResponse struct {
	Metric      MetricResponse     `json:"metric"`
	TestSetID   uuid.UUID          `json:"test_set_id"`
	TestSetName string             `json:"test_set_name"`
	Entries     []LeaderboardEntry `json:"entries"`
}

// GlickoLeaderboardResponse is the Glicko-2 flavor of LeaderboardResponse.
type GlickoLeaderboardResponse struct {
	Metric      MetricResponse           `json:"metric"`
	TestSetID   uuid.UUID                `json:"test_set_id"`
	TestSetName string                   `json:"test_set_name"`
	Entries     []GlickoLeaderboardEntry `json:"entries"`
}

// ModelSampleEntry is one per-sample row in the model samples listing.
type ModelSampleEntry struct {
	ID          uuid.UUID `json:"id"`
	Rating      float64   `json:"rating"`
	WinRate     float64   `json:"win_rate"`
	VoteCount   int       `json:"vote_count"`
	WinCount    int       `json:"win_count"`
	LossCount   int       `json:"loss_count"`
	TieCount    int       `json:"tie_count"`
	LastUpdated time.Time `json:"last_updated"`
	PromptName  string    `json:"prompt_name"`
}

// ModelSamplesResponse is the paginated per-sample listing for one model.
type ModelSamplesResponse struct {
	Metric      MetricResponse     `json:"metric"`
	TestSetID   uuid.UUID          `json:"test_set_id"`
	TestSetName string             `json:"test_set_name"`
	Model       ModelResponse      `json:"model"`
	Samples     []ModelSampleEntry `json:"samples"`
	Paging      Paging             `json:"paging"`
}

// Paging is the standard pagination envelope.
type Paging struct {
	Page        int  `json:"page"`
	PageSize    int  `json:"page_size"`
	TotalPages  int  `json:"total_pages"`
	TotalItems  int  `json:"total_items"`
	HasNext     bool `json:"has_next"`
	HasPrevious bool `json:"has_previous"`
}

// SampleDetailResponse is the public view of one sample.
type SampleDetailResponse struct {
	ID                uuid.UUID    `json:"id"`
	Created           time.Time    `json:"created"`
	IsComplete        bool         `json:"is_complete"`
	TestSetID         *uuid.UUID   `json:"test_set_id,omitempty"`
	ApprovalState     string       `json:"approval_state,omitempty"`
	ExperimentalState string       `json:"experimental_state,omitempty"`
	Run               RunInfo      `json:"run"`
	Artifacts         []AssetFile  `json:"artifacts"`
	Stats             *SampleStats `json:"stats,omitempty"`
}

// RunInfo is the model/prompt context of a sample's run.
type RunInfo struct {
	Model  ModelResponse  `json:"model"`
	Prompt PromptResponse `json:"prompt"`
}

// PromptResponse is the public view of a prompt.
type PromptResponse struct {
	ID                 uuid.UUID     `json:"id"`
	Name               string        `json:"name"`
	BuildSpecification string        `json:"build_specification"`
	Tags               []TagResponse `json:"tags"`
}

// SampleStats is the primary-metric leaderboard snapshot for one sample.
type SampleStats struct {
	Rating      float64   `json:"rating"`
	VoteCount   int       `json:"vote_count"`
	WinCount    int       `json:"win_count"`
	LossCount   int       `json:"loss_count"`
	TieCount    int       `json:"tie_count"`
	WinRate     float64   `json:"win_rate"`
	LastUpdated time.Time `json:"last_updated"`
}

// APIResponse is the standard success envelope.
type APIResponse struct {
	Data any          `json:"data"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta carries request correlation info on every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail is the code+message payload inside APIError.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes returned in APIError.Error.Code.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNotAcceptable = "NOT_ACCEPTABLE"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)
