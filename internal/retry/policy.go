// Package retry holds the pure backoff and retry-eligibility rules shared
// by the delivery engine and the operational surface.
package retry

import (
	"time"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

const (
	baseDelay = 5 * time.Minute
	maxDelay  = 60 * time.Minute
)

// Backoff returns the delay before the next attempt given the retry count
// after the current failure: 5, 10, 20, 40, 60, 60, ... minutes, capped at
// one hour.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	delay := baseDelay << (retryCount - 1)
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// NextAttempt returns when the item becomes eligible again.
func NextAttempt(now time.Time, retryCount int) time.Time {
	return now.Add(Backoff(retryCount))
}

// CanRetry reports whether a settled item is still eligible for another
// attempt. Must agree exactly with MarkFailed's transition logic.
func CanRetry(it *queue.Item, now time.Time) bool {
	return (it.Status == queue.StatusFailed || it.Status == queue.StatusRetry) &&
		it.RetryCount < it.MaxRetries &&
		now.Before(it.ExpiresAt)
}

// MarkFailed records a failed send attempt: appends to the error history,
// consumes a retry, and either schedules the next attempt or settles the
// item as failed.
func MarkFailed(it *queue.Item, msg string, now time.Time) {
	it.AddError(msg, now)
	it.RetryCount++

	if it.RetryCount < it.MaxRetries && now.Before(it.ExpiresAt) {
		it.Status = queue.StatusRetry
		it.ScheduledAt = NextAttempt(now, it.RetryCount)
	} else {
		it.Status = queue.StatusFailed
	}
}

// MarkFailedPermanently settles the item as failed without consuming a
// retry. Used for deterministic failures (missing template inputs) where
// re-running an identical render would fail identically.
func MarkFailedPermanently(it *queue.Item, msg string, now time.Time) {
	it.AddError(msg, now)
	it.Status = queue.StatusFailed
}
