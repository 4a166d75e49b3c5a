package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "user_id, verified, verified_at, expires_at, files_consumed, files_seen, last_seen, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed entitlement repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// GetOrCreate returns the entitlement for userID, inserting a zeroed record on first contact.
func (r *PGRepository) GetOrCreate(ctx context.Context, userID int64) (*Entitlement, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO entitlements (user_id) VALUES ($1)
			 ON CONFLICT (user_id) DO UPDATE SET user_id = entitlements.user_id
			 RETURNING %s`, selectColumns),
		userID,
	)
	ent, err := scanEntitlement(row)
	if err != nil {
		return nil, fmt.Errorf("get or create entitlement: %w", err)
	}
	return ent, nil
}

// Get returns the entitlement for userID, or ErrNotFound if no record exists yet.
func (r *PGRepository) Get(ctx context.Context, userID int64) (*Entitlement, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM entitlements WHERE user_id = $1", selectColumns), userID,
	)
	ent, err := scanEntitlement(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query entitlement: %w", err)
	}
	return ent, nil
}

// RecordDelivery atomically adds postNo to files_seen (no-op if already present), increments files_consumed only when
// the add was new, and stamps last_seen. The CTE captures the pre-update files_seen so "was this a re-access" is
// decided against the same snapshot the update applies to, in one round trip.
func (r *PGRepository) RecordDelivery(ctx context.Context, userID, postNo int64) (bool, error) {
	const query = `
		WITH prior AS (
			SELECT files_seen FROM entitlements WHERE user_id = $1 FOR UPDATE
		)
		UPDATE entitlements e SET
			files_seen = CASE WHEN $2 = ANY(prior.files_seen) THEN prior.files_seen ELSE array_append(prior.files_seen, $2) END,
			files_consumed = e.files_consumed + CASE WHEN $2 = ANY(prior.files_seen) THEN 0 ELSE 1 END,
			last_seen = now(),
			updated_at = now()
		FROM prior
		WHERE e.user_id = $1
		RETURNING NOT ($2 = ANY(prior.files_seen))`

	var wasNew bool
	err := r.db.QueryRow(ctx, query, userID, postNo).Scan(&wasNew)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("record delivery: %w", err)
	}
	return wasNew, nil
}

// ResetVerification atomically marks the user verified, refreshes expiresAt, and clears the quota window.
func (r *PGRepository) ResetVerification(ctx context.Context, userID int64, verifiedAt, expiresAt time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE entitlements SET
			verified = true,
			verified_at = $2,
			expires_at = $3,
			files_consumed = 0,
			files_seen = '{}',
			updated_at = now()
		 WHERE user_id = $1`,
		userID, verifiedAt, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("reset verification: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntitlement(row pgx.Row) (*Entitlement, error) {
	var e Entitlement
	err := row.Scan(
		&e.UserID, &e.Verified, &e.VerifiedAt, &e.ExpiresAt,
		&e.FilesConsumed, &e.FilesSeen, &e.LastSeen, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan entitlement: %w", err)
	}
	return &e, nil
}
