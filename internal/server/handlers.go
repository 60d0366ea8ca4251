package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/hikaku/internal/identity"
	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/selection"
	"github.com/ashita-ai/hikaku/internal/storage"
	"github.com/ashita-ai/hikaku/internal/vote"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                  *storage.DB
	selector            *selection.Selector
	recorder            *vote.Recorder
	identitySvc         *identity.Service
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	maxRequestBodyBytes int64
}

// HandlersDeps holds all dependencies for constructing Handlers.
type HandlersDeps struct {
	DB                  *storage.DB
	Selector            *selection.Selector
	Recorder            *vote.Recorder
	IdentitySvc         *identity.Service
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                  d.DB,
		selector:            d.Selector,
		recorder:            d.Recorder,
		identitySvc:         d.IdentitySvc,
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
	}
}

// HandleComparisonBatch handles POST /comparison/batch.
// Resolves the caller's identity (minting session and identification token
// as needed), then issues up to batch_size pair tokens for the metric.
func (h *Handlers) HandleComparisonBatch(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.identitySvc.Resolve(r.Context(), r)
	if err != nil {
		h.handleIdentityError(w, r, err)
		return
	}
	h.identitySvc.SetResponseHeaders(w, resolved)

	var req model.ComparisonBatchRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	comparisons, err := h.selector.SelectBatch(r.Context(), req.MetricID, req.BatchSize, resolved.Identity.Anonymous())
	if err != nil {
		switch {
		case errors.Is(err, selection.ErrInvalidBatchSize):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "batch_size must be at least 1")
		case errors.Is(err, selection.ErrBatchSizeTooLarge):
			writeError(w, r, http.StatusNotAcceptable, model.ErrCodeNotAcceptable, "batch_size exceeds the maximum")
		case errors.Is(err, selection.ErrInvalidMetric):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown metric")
		default:
			h.writeInternalError(w, r, "failed to select comparison batch", err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, model.ComparisonBatchResponse{Comparisons: comparisons})
}

// HandleComparisonResult handles POST /comparison/result.
// Consumes the pair token, records the vote, and reveals the model names.
func (h *Handlers) HandleComparisonResult(w http.ResponseWriter, r *http.Request) {
	resolved, err := h.identitySvc.Resolve(r.Context(), r)
	if err != nil {
		h.handleIdentityError(w, r, err)
		return
	}
	h.identitySvc.SetResponseHeaders(w, resolved)

	var req model.ComparisonResultRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	resp, err := h.recorder.RecordVote(r.Context(), req.ComparisonDetails.Token, req.OrderedSampleIDs, resolved.Identity)
	if err != nil {
		switch {
		case errors.Is(err, vote.ErrForbidden):
			writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "voting not permitted")
		case errors.Is(err, vote.ErrTokenUnknownOrExpired):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "comparison token unknown or expired")
		case errors.Is(err, vote.ErrMalformedToken):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "malformed comparison token")
		case errors.Is(err, vote.ErrSamplesNotFound):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "comparison samples not found")
		case errors.Is(err, vote.ErrRanksInvalid):
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "ordered_sample_ids must rank exactly the two samples of the token")
		case errors.Is(err, vote.ErrTestSetMismatch):
			writeError(w, r, http.StatusNotAcceptable, model.ErrCodeNotAcceptable, "samples no longer share a test set")
		default:
			h.writeInternalError(w, r, "failed to record vote", err)
		}
		return
	}

	writeJSON(w, r, http.StatusOK, resp)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
	Uptime   int64  `json:"uptime_seconds"`
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, r, httpStatus, HealthResponse{
		Status:   status,
		Version:  h.version,
		Postgres: pgStatus,
		Uptime:   int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *Handlers) handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, identity.ErrUnknownUser) {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "unknown user")
		return
	}
	h.writeInternalError(w, r, "failed to resolve identity", err)
}

func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}
