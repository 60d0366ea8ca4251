package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetVoterByExternalID resolves an authenticated voter's internal id.
func (db *DB) GetVoterByExternalID(ctx context.Context, externalID uuid.UUID) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`SELECT id FROM auth.voter WHERE external_id = $1`, externalID,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("storage: get voter: %w", err)
	}
	return id, nil
}

// GetIdentificationToken resolves an anonymous identification token to its
// internal id and marks it used.
func (db *DB) GetIdentificationToken(ctx context.Context, token uuid.UUID) (int64, error) {
	var id int64
	err := db.pool.QueryRow(ctx,
		`UPDATE auth.identification_token SET last_used = now()
		 WHERE token = $1 RETURNING id`, token,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("storage: get identification token: %w", err)
	}
	return id, nil
}

// CreateIdentificationToken mints a fresh anonymous identification token.
func (db *DB) CreateIdentificationToken(ctx context.Context) (int64, uuid.UUID, error) {
	var id int64
	var token uuid.UUID
	err := db.pool.QueryRow(ctx,
		`INSERT INTO auth.identification_token DEFAULT VALUES
		 RETURNING id, token`,
	).Scan(&id, &token)
	if err != nil {
		return 0, uuid.Nil, fmt.Errorf("storage: create identification token: %w", err)
	}
	return id, token, nil
}

// VoterHasPermission reports whether the voter holds the named permission.
func (db *DB) VoterHasPermission(ctx context.Context, voterID int64, permission string) (bool, error) {
	var ok bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (
		     SELECT 1 FROM auth.voter_permission vp
		     JOIN auth.permission p ON p.id = vp.permission_id
		     WHERE vp.voter_id = $1 AND p.name = $2
		 )`, voterID, permission,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("storage: check permission: %w", err)
	}
	return ok, nil
}
