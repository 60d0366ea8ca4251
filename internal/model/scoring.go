// Package model defines the row structs and transport types shared across
// the comparison and rating subsystem.
package model

import (
	"time"

	"github.com/google/uuid"
)

// RatingSystem identifies which rating engine a processed-comparison marker
// belongs to. Each system tracks its own markers so the engines can drain
// the comparison backlog independently.
type RatingSystem string

const (
	SystemElo    RatingSystem = "ELO"
	SystemGlicko RatingSystem = "GLICKO"
)

// Subject identifies which leaderboard family a rating update targets.
type Subject string

const (
	SubjectModel  Subject = "model"
	SubjectPrompt Subject = "prompt"
	SubjectSample Subject = "sample"
)

// Elo constants. KFactor bounds the per-comparison rating swing; the floor
// keeps pathological losing streaks from driving ratings negative.
const (
	EloInitialRating = 1000.0
	EloKFactor       = 32.0
	EloMinRating     = 0.0
)

// Glicko-2 constants, canonical Glickman values. Ratings are stored on the
// 1500-centred scale; the view layer shifts them down by GlickoDisplayShift.
const (
	GlickoInitialRating     = 1500.0
	GlickoInitialDeviation  = 350.0
	GlickoInitialVolatility = 0.06
	GlickoMinDeviation      = 30.0
	GlickoMaxDeviation      = 350.0
	GlickoDisplayShift      = 500.0
)

// Metric is a dimension users vote on (e.g. "Build Quality").
type Metric struct {
	ID          int64
	ExternalID  uuid.UUID
	Name        string
	Description string
}

// TestSet is a curated collection of samples evaluated together.
type TestSet struct {
	ID          int64
	ExternalID  uuid.UUID
	Name        string
	Description string
}

// GenModel is a generative model under evaluation. Named GenModel to avoid
// colliding with the package name at call sites.
type GenModel struct {
	ID         int64
	ExternalID uuid.UUID
	Name       string
	Slug       string
}

// Prompt is a build task given to models. Tags are loaded eagerly where the
// caller needs them; zero tags is common.
type Prompt struct {
	ID                 int64
	ExternalID         uuid.UUID
	Name               string
	BuildSpecification string
}

// Tag is a categorical label on prompts. Only tags with CalculateScore
// participate in tag-scoped leaderboards.
type Tag struct {
	ID             int64
	ExternalID     uuid.UUID
	Name           string
	CalculateScore bool
}

// Sample is one model output bound to a run. ComparisonSampleID is the
// public identifier used in pair tokens and vote submissions; the internal
// id never leaves the database layer.
type Sample struct {
	ID                      int64
	ExternalID              uuid.UUID
	ComparisonSampleID      uuid.UUID
	ComparisonCorrelationID uuid.UUID
	RunID                   int64
	TestSetID               *int64
	ApprovalState           *string
	ExperimentalState       string
	IsComplete              bool
	IsPending               bool
	Created                 time.Time
}

// Sample approval / experimental states.
const (
	ApprovalApproved       = "APPROVED"
	ApprovalRejected       = "REJECTED"
	ExperimentalReleased   = "RELEASED"
	ExperimentalDeprecated = "DEPRECATED"
)

// ArtifactKindComparisonGLB is the artifact kind served in pair batches.
const ArtifactKindComparisonGLB = "RENDERED_MODEL_GLB_COMPARISON_SAMPLE"

// Comparison is one recorded vote. Exactly one of UserID and
// IdentificationTokenID is set.
type Comparison struct {
	ID                    int64
	ComparisonGroupID     uuid.UUID
	UserID                *int64
	IdentificationTokenID *int64
	SessionID             uuid.UUID
	MetricID              int64
	TestSetID             int64
	Created               time.Time
}

// ComparisonRank is one sample's position inside a comparison.
// Rank 1 is best; a two-way tie is two rows at rank 1.
type ComparisonRank struct {
	ComparisonID int64
	SampleID     int64
	Rank         int
}

// LeaderboardRow is one Elo leaderboard entry for any subject kind.
// TagID nil means the global (tagless) row.
type LeaderboardRow struct {
	ID          int64
	SubjectID   int64
	MetricID    int64
	TestSetID   int64
	TagID       *int64
	Rating      float64
	VoteCount   int
	WinCount    int
	LossCount   int
	TieCount    int
	LastUpdated time.Time
}

// GlickoRow is one Glicko-2 leaderboard entry. Rating is stored on the
// canonical 1500-centred scale.
type GlickoRow struct {
	ID          int64
	SubjectID   int64
	MetricID    int64
	TestSetID   int64
	TagID       *int64
	Rating      float64
	Deviation   float64
	Volatility  float64
	VoteCount   int
	WinCount    int
	LossCount   int
	TieCount    int
	LastUpdated time.Time
}

// PairPayload is the token-store payload binding a pair token to the metric
// and the two comparison sample ids it was issued for.
type PairPayload struct {
	MetricExternalID uuid.UUID
	Sample1ID        uuid.UUID
	Sample2ID        uuid.UUID
}

// Identity is the resolved caller of a vote or batch request. Exactly one
// of UserID and IdentificationTokenID is set; SessionID is always set.
type Identity struct {
	UserID                *int64
	IdentificationTokenID *int64
	SessionID             uuid.UUID
}

// Anonymous reports whether the identity is an unauthenticated voter.
func (id Identity) Anonymous() bool { return id.UserID == nil }
