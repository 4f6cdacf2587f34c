// Package clock provides aligned tickers.
// An aligned ticker delivers ticks that are exact multiples of the period
// (12:01:00, 12:02:00, ...) shortly after the wall clock passes them, so
// consumers can treat the tick value as a clean bucket boundary.
package clock

import (
	"context"
	"time"
)

// Aligned returns a lossless aligned ticker. If the receiver falls behind the
// ticker backfills every missed tick in order before sleeping again. The
// channel is closed once ctx is done.
func Aligned(ctx context.Context, period time.Duration) <-chan time.Time {
	return aligned(ctx, period, time.Now, time.Now())
}

func aligned(ctx context.Context, period time.Duration, now func() time.Time, start time.Time) <-chan time.Time {
	c := make(chan time.Time)
	next := Next(start, period)

	go func() {
		defer close(c)

		for {
			// Catch up if the consumer has run behind the real clock.
			for !now().Before(next) {
				select {
				case c <- next:
				case <-ctx.Done():
					return
				}
				next = next.Add(period)
			}

			timer := time.NewTimer(next.Sub(now()))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return
			}
		}
	}()

	return c
}

// Next returns the first multiple of period strictly after t.
func Next(t time.Time, period time.Duration) time.Time {
	return t.Truncate(period).Add(period)
}
