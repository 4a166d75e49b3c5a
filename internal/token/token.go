// Package token implements the Token Manager (C3): the verification-token state machine (MINTED -> IN_FLIGHT ->
// COMPLETED | EXPIRED) and the anti-bypass dwell-floor checks that make shortlink traversal non-skippable.
package token

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

// Status is one of the four token lifecycle states.
type Status string

const (
	StatusMinted    Status = "MINTED"
	StatusInFlight  Status = "IN_FLIGHT"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
)

// Token holds the fields read from the database for one verification token.
type Token struct {
	TokenID    string
	UserID     int64
	Status     Status
	CreatedAt  time.Time
	ExpiresAt  time.Time
	AdvancedAt *time.Time
}

// effectiveStatus folds the "any read after expires_at is EXPIRED regardless of stored status" rule into Status.
func (t *Token) effectiveStatus(now time.Time) Status {
	if t.Status != StatusCompleted && now.After(t.ExpiresAt) {
		return StatusExpired
	}
	return t.Status
}

// Repository defines the low-level CAS primitives the store must provide. Every transition is a single atomic
// compare-and-swap update so two concurrent callers race safely without in-process locks.
type Repository interface {
	// Insert creates a new MINTED record.
	Insert(ctx context.Context, t Token) error

	// GetByID returns the token matching id, or apierrors.TokenInvalid(NotFound, ...).
	GetByID(ctx context.Context, tokenID string) (*Token, error)

	// ExpireNonTerminalForUser forcibly advances every MINTED/IN_FLIGHT token owned by userID to EXPIRED. Used by
	// Mint to enforce the single-outstanding-token invariant.
	ExpireNonTerminalForUser(ctx context.Context, userID int64) error

	// CASAdvance attempts MINTED -> IN_FLIGHT for tokenID, stamping advanced_at = now. performed reports whether this
	// call made the transition; when false the caller must re-read to classify why.
	CASAdvance(ctx context.Context, tokenID string, now time.Time) (performed bool, err error)

	// CASComplete attempts IN_FLIGHT -> COMPLETED for tokenID. performed reports whether this call made the
	// transition; two concurrent callers racing the same token see exactly one performed=true.
	CASComplete(ctx context.Context, tokenID string, now time.Time) (performed bool, err error)

	// Retire idempotently transitions tokenID to EXPIRED unless it is already terminal.
	Retire(ctx context.Context, tokenID string) error
}

// Service implements mint/advance/validate/retire on top of a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a Service. If now is nil, time.Now is used; tests inject a fixed clock to exercise the dwell-floor
// boundary conditions deterministically.
func NewService(repo Repository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{repo: repo, now: now}
}

// Mint creates a new MINTED token for userID, first forcibly expiring any non-terminal token the user already holds
// (single outstanding token invariant).
func (s *Service) Mint(ctx context.Context, userID int64, ttl time.Duration) (*Token, error) {
	if err := s.repo.ExpireNonTerminalForUser(ctx, userID); err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "expire prior tokens", err)
	}

	now := s.now()
	t := Token{
		TokenID:   uuid.NewString(),
		UserID:    userID,
		Status:    StatusMinted,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := s.repo.Insert(ctx, t); err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "insert token", err)
	}
	return &t, nil
}

// Advance performs the MINTED -> IN_FLIGHT transition C4 calls when the verification web page loads. It is
// idempotent for a token already IN_FLIGHT: the existing record is returned unchanged, advanced_at is not re-stamped.
func (s *Service) Advance(ctx context.Context, tokenID string) (*Token, error) {
	now := s.now()

	performed, err := s.repo.CASAdvance(ctx, tokenID, now)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "advance token", err)
	}

	current, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	if performed {
		return current, nil
	}

	switch current.effectiveStatus(now) {
	case StatusInFlight:
		// Already advanced by a prior call (or a race); idempotent success.
		return current, nil
	case StatusExpired:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonExpired, "token expired before it could be advanced")
	case StatusCompleted:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonBadState, "token already completed")
	default:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonBadState, "token not in an advanceable state")
	}
}

// ValidateResult is returned by Validate on ACCEPT.
type ValidateResult struct {
	Token Token
}

// Validate implements validate(token_id, user_id), called by the bot after the user returns from the web flow. See
// spec §4.3 for the five accept conditions; any failure is classified into the apierrors.TokenReason taxonomy.
func (s *Service) Validate(ctx context.Context, tokenID string, userID int64, minTraversal, minDwell time.Duration) (*ValidateResult, error) {
	now := s.now()

	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonNotFound, "token not found")
	}

	if t.UserID != userID {
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonUserMismatch, "token belongs to a different user")
	}

	switch t.effectiveStatus(now) {
	case StatusMinted:
		// The web flow was never visited: this is the hallmark of a direct deep-link bypass attempt, not a merely
		// invalid token.
		_ = s.repo.Retire(ctx, tokenID)
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonBypassSuspected, "validate observed a MINTED token")
	case StatusExpired:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonExpired, "token expired")
	case StatusCompleted:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonReused, "token already completed")
	case StatusInFlight:
		// fall through to dwell-floor checks below
	default:
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonBadState, "token in an unexpected state")
	}

	if now.Sub(t.CreatedAt) < minTraversal {
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonTooFast, "elapsed time since mint is below the traversal floor")
	}
	if t.AdvancedAt == nil || now.Sub(*t.AdvancedAt) < minDwell {
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonTooFast, "elapsed time since advance is below the dwell floor")
	}

	performed, err := s.repo.CASComplete(ctx, tokenID, now)
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindTransient, "complete token", err)
	}
	if !performed {
		// Lost a race against a concurrent validate of the same token.
		return nil, apierrors.TokenInvalid(apierrors.TokenReasonReused, "token was completed by a concurrent validate")
	}

	t.Status = StatusCompleted
	return &ValidateResult{Token: *t}, nil
}

// Peek returns the token's effective status (folding the expiry rule in) without performing any transition. It backs
// the countdown page's re-check that a token is still IN_FLIGHT before rendering the return-trip deep link.
func (s *Service) Peek(ctx context.Context, tokenID string) (*Token, error) {
	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	t.Status = t.effectiveStatus(s.now())
	return t, nil
}

// Retire idempotently expires tokenID.
func (s *Service) Retire(ctx context.Context, tokenID string) error {
	if err := s.repo.Retire(ctx, tokenID); err != nil {
		return apierrors.Wrap(apierrors.KindTransient, "retire token", err)
	}
	return nil
}
