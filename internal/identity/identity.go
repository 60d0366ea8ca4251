// Package identity resolves a request to a voter identity and session.
//
// Authentication itself happens upstream; this package consumes the headers
// that layer sets. Authenticated voters arrive with a user id header.
// Anonymous voters are tracked by an identification token minted on first
// contact and echoed back on every response, so repeat visits bind to the
// same anonymous identity. Every request gets a session id, minted when the
// client does not present one.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/ashita-ai/hikaku/internal/model"
	"github.com/ashita-ai/hikaku/internal/storage"
)

// Request/response headers.
const (
	SessionHeader = "X-Hikaku-Session"
	TokenHeader   = "X-Hikaku-Identification-Token"
	UserHeader    = "X-Hikaku-User"
)

// PermissionVote gates vote submission for authenticated voters. Anonymous
// voters are always permitted.
const PermissionVote = "voting:vote"

// ErrUnknownUser is returned when the user header names a voter that does
// not exist.
var ErrUnknownUser = errors.New("identity: unknown user")

// Store is the storage surface the identity service needs.
type Store interface {
	GetVoterByExternalID(ctx context.Context, externalID uuid.UUID) (int64, error)
	GetIdentificationToken(ctx context.Context, token uuid.UUID) (int64, error)
	CreateIdentificationToken(ctx context.Context) (int64, uuid.UUID, error)
	VoterHasPermission(ctx context.Context, voterID int64, permission string) (bool, error)
}

// Resolved is the outcome of identity resolution for one request.
type Resolved struct {
	Identity model.Identity

	// IdentificationToken is the anonymous token to echo back, zero for
	// authenticated voters.
	IdentificationToken uuid.UUID
}

// Service resolves identities and answers permission checks.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService wires the identity service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Resolve determines the caller's identity from request headers. An invalid
// or unknown identification token is replaced with a fresh one rather than
// rejected; an unknown user header is an error because it means the
// upstream auth layer and the database disagree.
func (s *Service) Resolve(ctx context.Context, r *http.Request) (Resolved, error) {
	sessionID := uuid.New()
	if raw := r.Header.Get(SessionHeader); raw != "" {
		if parsed, err := uuid.Parse(raw); err == nil {
			sessionID = parsed
		}
	}

	if raw := r.Header.Get(UserHeader); raw != "" {
		userXID, err := uuid.Parse(raw)
		if err != nil {
			return Resolved{}, fmt.Errorf("identity: parse user header: %w", err)
		}
		voterID, err := s.store.GetVoterByExternalID(ctx, userXID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Resolved{}, ErrUnknownUser
			}
			return Resolved{}, fmt.Errorf("identity: resolve user: %w", err)
		}
		return Resolved{
			Identity: model.Identity{UserID: &voterID, SessionID: sessionID},
		}, nil
	}

	// Anonymous path: reuse the presented token when it resolves, mint a
	// fresh one otherwise.
	if raw := r.Header.Get(TokenHeader); raw != "" {
		if tok, err := uuid.Parse(raw); err == nil {
			tokenID, err := s.store.GetIdentificationToken(ctx, tok)
			if err == nil {
				return Resolved{
					Identity:            model.Identity{IdentificationTokenID: &tokenID, SessionID: sessionID},
					IdentificationToken: tok,
				}, nil
			}
			if !errors.Is(err, storage.ErrNotFound) {
				return Resolved{}, fmt.Errorf("identity: resolve token: %w", err)
			}
			s.logger.Debug("unknown identification token, minting a new one")
		}
	}

	tokenID, tok, err := s.store.CreateIdentificationToken(ctx)
	if err != nil {
		return Resolved{}, fmt.Errorf("identity: mint token: %w", err)
	}
	return Resolved{
		Identity:            model.Identity{IdentificationTokenID: &tokenID, SessionID: sessionID},
		IdentificationToken: tok,
	}, nil
}

// SetResponseHeaders echoes the session and (for anonymous voters) the
// identification token so the client can present them on the next request.
func (s *Service) SetResponseHeaders(w http.ResponseWriter, res Resolved) {
	w.Header().Set(SessionHeader, res.Identity.SessionID.String())
	if res.IdentificationToken != uuid.Nil {
		w.Header().Set(TokenHeader, res.IdentificationToken.String())
	}
}

// CanVote reports whether the identity may cast votes. Anonymous identities
// default to permitted; authenticated voters need the voting permission.
func (s *Service) CanVote(ctx context.Context, id model.Identity) (bool, error) {
	if id.Anonymous() {
		return true, nil
	}
	ok, err := s.store.VoterHasPermission(ctx, *id.UserID, PermissionVote)
	if err != nil {
		return false, fmt.Errorf("identity: check vote permission: %w", err)
	}
	return ok, nil
}
