// Package retry implements the fixed-schedule exponential backoff used
// throughout the runtime: the Session Store's atomic write (4 attempts: the
// first try plus 3 retries after 100/200/400ms), the Bus's outbound route
// (likewise 4 attempts, 100/200/400ms), and the Agent Loop's LLM call
// (4 attempts, 1/2/4s).
package retry

import (
	"context"
	"time"
)

// Schedule is a fixed sequence of delays between attempts. len(Schedule)+1
// is the total number of attempts.
type Schedule []time.Duration

// SessionWrite is the Session Store atomic-write retry schedule.
var SessionWrite = Schedule{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// BusOutbound is the Message Bus route_outbound retry schedule.
var BusOutbound = Schedule{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}

// LLMCall is the Agent Loop's LLM call retry schedule.
var LLMCall = Schedule{1 * time.Second, 2 * time.Second, 4 * time.Second}

// Attempts is the number of attempts implied by a schedule.
func (s Schedule) Attempts() int { return len(s) + 1 }

// Do runs fn up to s.Attempts() times, sleeping the schedule's delay
// between attempts. It stops early and returns nil on the first success,
// and stops early (without exhausting the schedule) if ctx is done or if
// fn's error is not retryable per isRetryable. The last error is returned
// if every attempt fails.
func Do(ctx context.Context, s Schedule, isRetryable func(error) bool, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < s.Attempts(); attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt >= len(s) {
			break
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(s[attempt]):
		}
	}
	return lastErr
}
