package channelcfg

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/postgres"
)

const selectColumns = "id, handle, public_link, cta_label, display_order, active, created_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed channel entry repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// ListActive returns active entries ordered stably by (display_order, created_at).
func (r *PGRepository) ListActive(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM channel_entries WHERE active ORDER BY display_order, created_at", selectColumns),
	)
	if err != nil {
		return nil, fmt.Errorf("query active channel entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// List returns every entry regardless of Active.
func (r *PGRepository) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM channel_entries ORDER BY display_order, created_at", selectColumns),
	)
	if err != nil {
		return nil, fmt.Errorf("query channel entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetByID returns the entry matching id.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Entry, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM channel_entries WHERE id = $1", selectColumns), id,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel entry by id: %w", err)
	}
	return e, nil
}

// Create inserts a new channel entry.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Entry, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO channel_entries (handle, public_link, cta_label, display_order)
			 VALUES ($1, $2, $3, $4)
			 RETURNING %s`, selectColumns),
		params.Handle, params.PublicLink, params.CTALabel, params.DisplayOrder,
	)
	e, err := scanEntry(row)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrHandleExists
		}
		return nil, fmt.Errorf("insert channel entry: %w", err)
	}
	return e, nil
}

// Update applies the non-nil fields in params to the entry and returns the updated row.
//
// Safety: the query is built dynamically, but every SET clause and named arg key is a hardcoded string literal. No
// caller-supplied value enters the SQL structure; all values flow through pgx named parameter binding.
func (r *PGRepository) Update(ctx context.Context, id int64, params UpdateParams) (*Entry, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{"id": id}

	if params.PublicLink != nil {
		setClauses = append(setClauses, "public_link = @public_link")
		namedArgs["public_link"] = *params.PublicLink
	}
	if params.CTALabel != nil {
		setClauses = append(setClauses, "cta_label = @cta_label")
		namedArgs["cta_label"] = *params.CTALabel
	}
	if params.DisplayOrder != nil {
		setClauses = append(setClauses, "display_order = @display_order")
		namedArgs["display_order"] = *params.DisplayOrder
	}
	if params.Active != nil {
		setClauses = append(setClauses, "active = @active")
		namedArgs["active"] = *params.Active
	}

	if len(setClauses) == 0 {
		return r.GetByID(ctx, id)
	}

	query := "UPDATE channel_entries SET " + strings.Join(setClauses, ", ") +
		" WHERE id = @id RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update channel entry: %w", err)
	}
	return e, nil
}

// Delete removes the entry with the given id.
func (r *PGRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM channel_entries WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete channel entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanEntries(rows pgx.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel entries: %w", err)
	}
	return entries, nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.Handle, &e.PublicLink, &e.CTALabel, &e.DisplayOrder, &e.Active, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan channel entry: %w", err)
	}
	return &e, nil
}
