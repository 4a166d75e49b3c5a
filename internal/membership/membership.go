// Package membership implements the Membership Checker (C2): for a user and a set of configured channels, determine
// which the user has not joined, caching each per-channel result briefly to avoid hammering the chat gateway.
package membership

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/channelcfg"
)

// Status is the gateway's raw per-channel membership classification.
type Status string

const (
	StatusCreator       Status = "creator"
	StatusAdministrator Status = "administrator"
	StatusMember        Status = "member"
	StatusRestricted    Status = "restricted"
	StatusLeft          Status = "left"
	StatusKicked        Status = "kicked"
	StatusUnknown       Status = "unknown"
)

// IsMember reports whether a raw gateway Status counts as MEMBER for the force-subscription gate. Per spec.md §6, the
// first four statuses are MEMBER; the rest are NOT_MEMBER. UNKNOWN is handled separately by the caller (treated as
// NOT_MEMBER, but logged).
func (s Status) IsMember() bool {
	switch s {
	case StatusCreator, StatusAdministrator, StatusMember, StatusRestricted:
		return true
	default:
		return false
	}
}

// Gateway is the subset of the chat-gateway contract the membership checker consumes.
type Gateway interface {
	GetChatMember(ctx context.Context, channelHandle string, userID int64) (Status, error)
}

// Cache provides a short-lived, non-authoritative membership cache. A cache miss or error always falls through to a
// live Gateway query; the cache is purely an optimization, never a source of truth.
type Cache interface {
	Get(ctx context.Context, userID int64, channelHandle string) (Status, bool)
	Set(ctx context.Context, userID int64, channelHandle string, status Status, ttl time.Duration)
}

// Checker composes a Gateway and an optional Cache.
type Checker struct {
	gateway Gateway
	cache   Cache
	ttl     time.Duration
	log     zerolog.Logger
}

// NewChecker builds a Checker. cache may be nil to disable caching.
func NewChecker(gateway Gateway, cache Cache, ttl time.Duration, logger zerolog.Logger) *Checker {
	return &Checker{gateway: gateway, cache: cache, ttl: ttl, log: logger}
}

// Unsubscribed returns the subset of active channel entries userID is NOT a member of, preserving the stored display
// order. Per-channel checks run concurrently; UNKNOWN gateway results are treated as NOT_MEMBER and logged.
func (c *Checker) Unsubscribed(ctx context.Context, userID int64, channels []channelcfg.Entry) ([]channelcfg.Entry, error) {
	if len(channels) == 0 {
		return nil, nil
	}

	results := make([]bool, len(channels)) // true = member
	g, gctx := errgroup.WithContext(ctx)

	for i, ch := range channels {
		i, ch := i, ch
		g.Go(func() error {
			status, member, err := c.check(gctx, userID, ch.Handle)
			if err != nil {
				return err
			}
			if !member && status == StatusUnknown {
				c.log.Warn().Int64("user_id", userID).Str("channel", ch.Handle).Msg("membership check returned unknown status; treating as not member")
			}
			results[i] = member
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	var missing []channelcfg.Entry
	for i, ch := range channels {
		if !results[i] {
			missing = append(missing, ch)
		}
	}
	return missing, nil
}

func (c *Checker) check(ctx context.Context, userID int64, handle string) (Status, bool, error) {
	if c.cache != nil {
		if status, ok := c.cache.Get(ctx, userID, handle); ok {
			return status, status.IsMember(), nil
		}
	}

	status, err := c.gateway.GetChatMember(ctx, handle, userID)
	if err != nil {
		// A gateway error is UNKNOWN, not a propagated failure: the safe default is to require re-subscription.
		if c.cache != nil {
			c.cache.Set(ctx, userID, handle, StatusUnknown, c.ttl)
		}
		return StatusUnknown, false, nil
	}

	if c.cache != nil {
		c.cache.Set(ctx, userID, handle, status, c.ttl)
	}
	return status, status.IsMember(), nil
}
