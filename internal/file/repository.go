package file

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/postgres"
)

const selectColumns = `post_no, title, extra, archive_chat_id, archive_msg_id, public_chat_id, public_msg_id,
	password, downloads, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed file repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new file record.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*File, error) {
	if params.PostNo < 1 {
		return nil, ErrInvalidPostNo
	}

	var publicChatID, publicMsgID *int64
	if params.Public != nil {
		publicChatID, publicMsgID = &params.Public.ChatID, &params.Public.MessageID
	}

	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO files (post_no, title, extra, archive_chat_id, archive_msg_id, public_chat_id, public_msg_id, password)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING %s`, selectColumns),
		params.PostNo, params.Title, params.Extra,
		params.Archive.ChatID, params.Archive.MessageID,
		publicChatID, publicMsgID, params.Password,
	)
	f, err := scanFile(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrPostNoExists
		}
		return nil, fmt.Errorf("insert file: %w", err)
	}
	return f, nil
}

// GetByPostNo returns the file matching post_no.
func (r *PGRepository) GetByPostNo(ctx context.Context, postNo int64) (*File, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM files WHERE post_no = $1", selectColumns), postNo,
	)
	f, err := scanFile(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query file by post_no: %w", err)
	}
	return f, nil
}

// IncrementDownloads atomically increments the downloads counter for postNo.
func (r *PGRepository) IncrementDownloads(ctx context.Context, postNo int64) error {
	tag, err := r.db.Exec(ctx,
		"UPDATE files SET downloads = downloads + 1 WHERE post_no = $1", postNo,
	)
	if err != nil {
		return fmt.Errorf("increment downloads: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the file record for postNo.
func (r *PGRepository) Delete(ctx context.Context, postNo int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM files WHERE post_no = $1", postNo)
	if err != nil {
		return fmt.Errorf("delete file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanFile(row pgx.Row) (*File, error) {
	var f File
	var publicChatID, publicMsgID *int64
	err := row.Scan(
		&f.PostNo, &f.Title, &f.Extra, &f.Archive.ChatID, &f.Archive.MessageID,
		&publicChatID, &publicMsgID, &f.Password, &f.Downloads, &f.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	if publicChatID != nil && publicMsgID != nil {
		f.Public = &Coordinate{ChatID: *publicChatID, MessageID: *publicMsgID}
	}
	return &f, nil
}
