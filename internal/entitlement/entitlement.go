// Package entitlement implements the User Entitlement record of the state store: verification status, expiry, and
// per-window download quota tracking for a single Telegram user.
package entitlement

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for the entitlement package.
var ErrNotFound = errors.New("entitlement not found")

// Entitlement holds the fields read from the database for one user.
type Entitlement struct {
	UserID        int64
	Verified      bool
	VerifiedAt    *time.Time
	ExpiresAt     *time.Time
	FilesConsumed int
	FilesSeen     []int64
	LastSeen      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsCurrentlyVerified reports whether the entitlement passes the verification gate right now: verified is true and
// the verification window has not elapsed.
func (e *Entitlement) IsCurrentlyVerified(now time.Time) bool {
	return e.Verified && e.ExpiresAt != nil && !now.After(*e.ExpiresAt)
}

// HasSeen reports whether post_no is already recorded as delivered to this user (the re-access condition).
func (e *Entitlement) HasSeen(postNo int64) bool {
	for _, p := range e.FilesSeen {
		if p == postNo {
			return true
		}
	}
	return false
}

// Repository defines the data-access contract for entitlement operations. Every mutating method is a single
// round-trip atomic update; no read-modify-write at the call site.
type Repository interface {
	// GetOrCreate returns the entitlement for userID, inserting a zeroed record on first contact.
	GetOrCreate(ctx context.Context, userID int64) (*Entitlement, error)

	// Get returns the entitlement for userID, or ErrNotFound if no record exists yet.
	Get(ctx context.Context, userID int64) (*Entitlement, error)

	// RecordDelivery atomically adds postNo to files_seen (no-op if already present), increments files_consumed only
	// when the add was new, and stamps last_seen. It returns whether postNo was newly added (i.e. this was not a
	// re-access).
	RecordDelivery(ctx context.Context, userID, postNo int64) (wasNew bool, err error)

	// ResetVerification atomically marks the user verified, refreshes expiresAt, and clears the quota window
	// (files_consumed = 0, files_seen = empty), discarding prior delivery history.
	ResetVerification(ctx context.Context, userID int64, verifiedAt, expiresAt time.Time) error
}
