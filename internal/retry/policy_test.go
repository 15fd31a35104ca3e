package retry

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

func TestBackoff_Table(t *testing.T) {
	want := map[int]time.Duration{
		1: 5 * time.Minute,
		2: 10 * time.Minute,
		3: 20 * time.Minute,
		4: 40 * time.Minute,
		5: 60 * time.Minute,
		6: 60 * time.Minute,
		7: 60 * time.Minute,
	}
	for count, expected := range want {
		if got := Backoff(count); got != expected {
			t.Errorf("Backoff(%d) = %v, want %v", count, got, expected)
		}
	}
}

func TestBackoff_CapSurvivesLargeCounts(t *testing.T) {
	// Shift overflow must not produce a negative or zero delay.
	for _, count := range []int{30, 62, 63, 64, 100} {
		if got := Backoff(count); got != 60*time.Minute {
			t.Errorf("Backoff(%d) = %v, want 60m", count, got)
		}
	}
}

// TestCanRetry_Equivalence enumerates every status against every retry-count
// and expiry combination and checks the predicate against its definition:
// status in {failed, retry} AND retry_count < max_retries AND now < expires_at.
func TestCanRetry_Equivalence(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	statuses := []queue.Status{
		queue.StatusPending, queue.StatusRetry, queue.StatusSent,
		queue.StatusFailed, queue.StatusExpired, queue.StatusProcessing,
	}
	expiries := map[string]time.Time{
		"future": now.Add(time.Hour),
		"past":   now.Add(-time.Hour),
		"now":    now,
	}

	for _, status := range statuses {
		for retryCount := 0; retryCount <= 4; retryCount++ {
			for label, expiresAt := range expiries {
				it := &queue.Item{
					Status:     status,
					RetryCount: retryCount,
					MaxRetries: 3,
					ExpiresAt:  expiresAt,
				}

				expected := (status == queue.StatusFailed || status == queue.StatusRetry) &&
					retryCount < 3 &&
					now.Before(expiresAt)

				if got := CanRetry(it, now); got != expected {
					t.Errorf("CanRetry(status=%s retry=%d expiry=%s) = %v, want %v",
						status, retryCount, label, got, expected)
				}
			}
		}
	}
}

func TestMarkFailed_SchedulesRetryWithBackoff(t *testing.T) {
	now := time.Now().UTC()
	it := newItem(now)

	MarkFailed(it, "connection refused", now)

	if it.Status != queue.StatusRetry {
		t.Fatalf("expected retry status, got %s", it.Status)
	}
	if it.RetryCount != 1 {
		t.Fatalf("expected retry_count 1, got %d", it.RetryCount)
	}
	if want := now.Add(5 * time.Minute); !it.ScheduledAt.Equal(want) {
		t.Errorf("scheduled_at = %v, want %v", it.ScheduledAt, want)
	}
	if !CanRetry(it, now) {
		t.Error("item scheduled for retry must satisfy CanRetry")
	}
}

func TestMarkFailed_ExhaustsRetries(t *testing.T) {
	now := time.Now().UTC()
	it := newItem(now)

	for i := 0; i < 3; i++ {
		MarkFailed(it, fmt.Sprintf("attempt %d failed", i+1), now)
	}

	if it.Status != queue.StatusFailed {
		t.Fatalf("expected failed status, got %s", it.Status)
	}
	if it.RetryCount != 3 {
		t.Fatalf("expected retry_count 3, got %d", it.RetryCount)
	}
	if len(it.ErrorHistory) != 3 {
		t.Fatalf("expected 3 error history entries, got %d", len(it.ErrorHistory))
	}
	if CanRetry(it, now) {
		t.Error("exhausted item must not satisfy CanRetry")
	}
	if it.RetryCount > it.MaxRetries {
		t.Errorf("retry_count %d exceeds max_retries %d", it.RetryCount, it.MaxRetries)
	}
}

func TestMarkFailed_NeverExceedsMaxRetries(t *testing.T) {
	now := time.Now().UTC()
	it := newItem(now)
	it.MaxRetries = 2

	for i := 0; i < 5; i++ {
		if it.Status == queue.StatusFailed {
			break
		}
		MarkFailed(it, "boom", now)
		if it.RetryCount > it.MaxRetries {
			t.Fatalf("retry_count %d exceeds max_retries %d after attempt %d",
				it.RetryCount, it.MaxRetries, i+1)
		}
	}
	if it.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", it.Status)
	}
}

func TestMarkFailed_ExpiredWindowGoesToFailed(t *testing.T) {
	now := time.Now().UTC()
	it := newItem(now)
	it.ExpiresAt = now.Add(-time.Minute)

	MarkFailed(it, "late failure", now)

	if it.Status != queue.StatusFailed {
		t.Fatalf("expected failed when past expiry, got %s", it.Status)
	}
	if CanRetry(it, now) {
		t.Error("item past expiry must not satisfy CanRetry")
	}
}

func TestMarkFailedPermanently_DoesNotConsumeRetry(t *testing.T) {
	now := time.Now().UTC()
	it := newItem(now)

	MarkFailedPermanently(it, "missing required inputs", now)

	if it.Status != queue.StatusFailed {
		t.Fatalf("expected failed, got %s", it.Status)
	}
	if it.RetryCount != 0 {
		t.Errorf("permanent failure must not consume a retry, got count %d", it.RetryCount)
	}
	if len(it.ErrorHistory) != 1 {
		t.Errorf("expected 1 error history entry, got %d", len(it.ErrorHistory))
	}
}

func newItem(now time.Time) *queue.Item {
	return &queue.Item{
		ID:          uuid.New(),
		To:          "owner@example.com",
		Subject:     "Your tag was scanned",
		HTMLBody:    "<p>hi</p>",
		Status:      queue.StatusPending,
		Priority:    queue.PriorityNormal,
		MaxRetries:  3,
		CreatedAt:   now,
		ScheduledAt: now,
		ExpiresAt:   now.Add(72 * time.Hour),
	}
}
