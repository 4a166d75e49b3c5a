// Package oplog implements the operator-actions log: an append-only audit trail of mint/validate/deliver/admin-CRUD
// events, the sixth logical collection named in spec.md §6.
package oplog

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// Entry is one recorded action.
type Entry struct {
	ID        int64
	ActorID   *int64
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Well-known action names.
const (
	ActionTokenMinted        = "token_minted"
	ActionTokenValidated     = "token_validated"
	ActionBypassSuspected    = "bypass_suspected"
	ActionFileDelivered      = "file_delivered"
	ActionDeliveryInconsistent = "delivery_inconsistent"
	ActionFileCreated        = "file_created"
	ActionFileDeleted        = "file_deleted"
	ActionChannelCreated     = "channel_created"
	ActionChannelUpdated     = "channel_updated"
	ActionChannelDeleted     = "channel_deleted"
	ActionSettingChanged     = "setting_changed"
	ActionMembershipUnknown  = "membership_unknown"
	ActionBroadcastSent      = "broadcast_sent"
)

// Logger appends entries and lists recent history for the operator-facing API.
type Logger interface {
	// Record appends a new entry. actorID is nil for system-originated events (e.g. scheduled deletion).
	Record(ctx context.Context, actorID *int64, action, detail string) error

	// Recent returns the most recent entries, newest first, bounded by limit.
	Recent(ctx context.Context, limit int) ([]Entry, error)
}

// PGLogger implements Logger using PostgreSQL.
type PGLogger struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGLogger creates a new PostgreSQL-backed operator-actions logger.
func NewPGLogger(db *pgxpool.Pool, logger zerolog.Logger) *PGLogger {
	return &PGLogger{db: db, log: logger}
}

// Record appends a new entry.
func (l *PGLogger) Record(ctx context.Context, actorID *int64, action, detail string) error {
	_, err := l.db.Exec(ctx,
		"INSERT INTO operator_actions (actor_id, action, detail) VALUES ($1, $2, $3)",
		actorID, action, detail,
	)
	if err != nil {
		l.log.Error().Err(err).Str("action", action).Msg("failed to record operator action")
		return err
	}
	return nil
}

// Recent returns the most recent entries, newest first.
func (l *PGLogger) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := l.db.Query(ctx,
		"SELECT id, actor_id, action, detail, created_at FROM operator_actions ORDER BY created_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
