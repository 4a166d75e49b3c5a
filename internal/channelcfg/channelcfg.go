// Package channelcfg implements the Channel Entry of the state store: the configured set of Telegram channels a user
// must join before the entitlement engine will deliver anything (force-subscription).
package channelcfg

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Sentinel errors for the channelcfg package.
var (
	ErrNotFound        = errors.New("channel entry not found")
	ErrHandleExists     = errors.New("channel handle already registered")
	ErrHandleLength     = errors.New("channel handle must be between 1 and 64 characters")
	ErrCTALabelLength   = errors.New("cta label must be between 1 and 64 characters")
	ErrInvalidOrder     = errors.New("display order must be non-negative")
)

// Entry holds the fields read from the database for one configured force-subscription channel.
type Entry struct {
	ID           int64
	Handle       string
	PublicLink   string
	CTALabel     string
	DisplayOrder int
	Active       bool
	CreatedAt    time.Time
}

// CreateParams groups the inputs for registering a new channel entry.
type CreateParams struct {
	Handle       string
	PublicLink   string
	CTALabel     string
	DisplayOrder int
}

// UpdateParams groups the optional fields for updating a channel entry. A nil pointer means "no change."
type UpdateParams struct {
	PublicLink   *string
	CTALabel     *string
	DisplayOrder *int
	Active       *bool
}

// ValidateHandle trims and validates a channel handle.
func ValidateHandle(handle string) (string, error) {
	trimmed := strings.TrimSpace(handle)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 64 {
		return "", ErrHandleLength
	}
	return trimmed, nil
}

// ValidateCTALabel trims and validates a CTA button label.
func ValidateCTALabel(label string) (string, error) {
	trimmed := strings.TrimSpace(label)
	if utf8.RuneCountInString(trimmed) < 1 || utf8.RuneCountInString(trimmed) > 64 {
		return "", ErrCTALabelLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for channel entry operations.
type Repository interface {
	// ListActive returns active entries ordered stably by (display_order, created_at), matching the entitlement
	// engine's read contract.
	ListActive(ctx context.Context) ([]Entry, error)

	// List returns every entry regardless of Active, for the operator CRUD surface.
	List(ctx context.Context) ([]Entry, error)

	GetByID(ctx context.Context, id int64) (*Entry, error)
	Create(ctx context.Context, params CreateParams) (*Entry, error)
	Update(ctx context.Context, id int64, params UpdateParams) (*Entry, error)
	Delete(ctx context.Context, id int64) error
}
