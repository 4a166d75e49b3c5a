// Package retry wraps bounded retry-with-backoff for Transient failures from external collaborators (chat gateway,
// shortlink minter, archive store), per the 50ms -> 250ms -> 1s, max 3 retries schedule.
package retry

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/tollgate-bot/tollgate/internal/apierrors"
)

// Do retries fn up to 3 additional times (4 attempts total) with a 50ms/250ms/1s backoff, but only when fn's error
// classifies as apierrors.KindTransient. Any other error, or the error surviving the final attempt, is returned
// unchanged to the caller.
func Do(ctx context.Context, fn func(ctx context.Context) error) error {
	schedule := retry.WithMaxRetries(3, &constantSchedule{})

	return retry.Do(ctx, schedule, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if apierrors.Is(err, apierrors.KindTransient) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// constantSchedule yields the fixed 50ms, 250ms, 1s sequence the design calls for, then holds at 1s for any attempt
// beyond the third (WithMaxRetries caps the attempt count regardless).
type constantSchedule struct {
	n int
}

func (s *constantSchedule) Next() (time.Duration, bool) {
	delays := [...]time.Duration{50 * time.Millisecond, 250 * time.Millisecond, 1 * time.Second}
	if s.n >= len(delays) {
		return delays[len(delays)-1], false
	}
	d := delays[s.n]
	s.n++
	return d, false
}
