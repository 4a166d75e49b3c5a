package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

const selectColumns = "token_id, user_id, status, created_at, expires_at, advanced_at"

// PGRepository implements Repository using PostgreSQL. Every transition is expressed as a single UPDATE ... WHERE
// status = $expected statement so RowsAffected tells the caller whether this call performed the CAS.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed token repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Insert creates a new MINTED record.
func (r *PGRepository) Insert(ctx context.Context, t Token) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO verification_tokens (token_id, user_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		t.TokenID, t.UserID, string(t.Status), t.CreatedAt, t.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

// GetByID returns the token matching id.
func (r *PGRepository) GetByID(ctx context.Context, tokenID string) (*Token, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM verification_tokens WHERE token_id = $1", selectColumns), tokenID,
	)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apierrors.TokenInvalid(apierrors.TokenReasonNotFound, "token not found")
		}
		return nil, fmt.Errorf("query token: %w", err)
	}
	return t, nil
}

// ExpireNonTerminalForUser forcibly advances every MINTED/IN_FLIGHT token owned by userID to EXPIRED.
func (r *PGRepository) ExpireNonTerminalForUser(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx,
		`UPDATE verification_tokens SET status = 'EXPIRED'
		 WHERE user_id = $1 AND status IN ('MINTED', 'IN_FLIGHT')`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("expire non-terminal tokens for user: %w", err)
	}
	return nil
}

// CASAdvance attempts MINTED -> IN_FLIGHT.
func (r *PGRepository) CASAdvance(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE verification_tokens SET status = 'IN_FLIGHT', advanced_at = $2
		 WHERE token_id = $1 AND status = 'MINTED' AND expires_at >= $2`,
		tokenID, now,
	)
	if err != nil {
		return false, fmt.Errorf("advance token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CASComplete attempts IN_FLIGHT -> COMPLETED.
func (r *PGRepository) CASComplete(ctx context.Context, tokenID string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE verification_tokens SET status = 'COMPLETED'
		 WHERE token_id = $1 AND status = 'IN_FLIGHT' AND expires_at >= $2`,
		tokenID, now,
	)
	if err != nil {
		return false, fmt.Errorf("complete token: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Retire idempotently transitions tokenID to EXPIRED unless it is already terminal.
func (r *PGRepository) Retire(ctx context.Context, tokenID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE verification_tokens SET status = 'EXPIRED'
		 WHERE token_id = $1 AND status NOT IN ('COMPLETED', 'EXPIRED')`,
		tokenID,
	)
	if err != nil {
		return fmt.Errorf("retire token: %w", err)
	}
	return nil
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var status string
	err := row.Scan(&t.TokenID, &t.UserID, &status, &t.CreatedAt, &t.ExpiresAt, &t.AdvancedAt)
	if err != nil {
		return nil, fmt.Errorf("scan token: %w", err)
	}
	t.Status = Status(status)
	return &t, nil
}
