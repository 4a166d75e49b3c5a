// Package broadcast implements fan-out messaging to the user population over the same chat gateway the entitlement
// pipeline uses. It is infrastructure for an out-of-core-scope operator surface (spec.md §1 names the broadcast
// fan-out UI itself as a Non-goal), but the rate limit and per-recipient error classification it enforces are in
// scope per spec.md §5.
package broadcast

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
	"github.com/tollgate-bot/tollgate/internal/retry"
)

// Sender is the subset of the chat gateway a broadcast needs.
type Sender interface {
	SendText(ctx context.Context, destChatID int64, text string) error
}

// Result tallies the outcome of one Send call across the whole recipient list.
type Result struct {
	Sent    int
	Blocked []int64
	Failed  map[int64]error
}

// Broadcaster rate-limits fan-out to at most one message per tick, where the tick interval is derived from
// ratePerSecond (spec.md §5: at most 20 messages/second per bot token).
type Broadcaster struct {
	sender        Sender
	ratePerSecond int
	log           zerolog.Logger
}

// New builds a Broadcaster. ratePerSecond must be at least 1.
func New(sender Sender, ratePerSecond int, logger zerolog.Logger) *Broadcaster {
	if ratePerSecond < 1 {
		ratePerSecond = 1
	}
	return &Broadcaster{sender: sender, ratePerSecond: ratePerSecond, log: logger}
}

// Send delivers text to every chat id in recipients, rate-limited and classifying each per-recipient failure.
// GatewayBlocked recipients are recorded separately and do not fail the overall broadcast; any other error is
// retried per internal/retry's bounded schedule before being recorded as failed. Send only returns an error if ctx
// is cancelled mid-run; partial results up to that point are still returned.
func (b *Broadcaster) Send(ctx context.Context, recipients []int64, text string) (*Result, error) {
	result := &Result{Failed: make(map[int64]error)}
	interval := time.Second / time.Duration(b.ratePerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for _, chatID := range recipients {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}

		err := retry.Do(ctx, func(ctx context.Context) error {
			return b.sender.SendText(ctx, chatID, text)
		})
		switch {
		case err == nil:
			result.Sent++
		case apierrors.Is(err, apierrors.KindGatewayBlocked):
			result.Blocked = append(result.Blocked, chatID)
			b.log.Info().Int64("chat_id", chatID).Msg("broadcast recipient has blocked the bot")
		default:
			result.Failed[chatID] = err
			b.log.Warn().Err(err).Int64("chat_id", chatID).Msg("broadcast send failed")
		}
	}

	return result, nil
}
