package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

// The queue contract lives in SQL, so these tests need a real database.
// Set TEST_DATABASE_URL (e.g. postgres://postgres@localhost:5432/mailroom_test)
// to run them; without it the whole file skips.
func testDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	// Simple protocol so the multi-statement schema file applies in one Exec.
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	ctx := context.Background()
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	schema, err := os.ReadFile("../../migrations/001_init.up.sql")
	if err != nil {
		t.Fatalf("read schema: %v", err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	if _, err := pool.Exec(ctx, "TRUNCATE email_queue"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return &DB{pool: pool, logger: zap.NewNop()}
}

func enqueueAt(t *testing.T, s *QueueStore, createdAt time.Time, priority queue.Priority) *queue.Item {
	t.Helper()
	it := &queue.Item{
		To:        "owner@example.com",
		Subject:   "test",
		HTMLBody:  "<p>test</p>",
		Priority:  priority,
		CreatedAt: createdAt,
	}
	if err := s.Enqueue(context.Background(), it); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return it
}

func setStatus(t *testing.T, s *QueueStore, it *queue.Item, status queue.Status) {
	t.Helper()
	it.Status = status
	if err := s.Update(context.Background(), it); err != nil {
		t.Fatalf("update to %s: %v", status, err)
	}
}

func TestQueueStore_FetchReadyExcludesSettledAndClaimed(t *testing.T) {
	db := testDB(t)
	s := NewQueueStore(db, time.Hour, 3, zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	ready := enqueueAt(t, s, past, queue.PriorityNormal)
	retried := enqueueAt(t, s, past, queue.PriorityNormal)
	setStatus(t, s, retried, queue.StatusRetry)

	for _, status := range []queue.Status{
		queue.StatusSent, queue.StatusFailed, queue.StatusExpired, queue.StatusProcessing,
	} {
		it := enqueueAt(t, s, past, queue.PriorityNormal)
		setStatus(t, s, it, status)
	}

	items, err := s.FetchReady(ctx, 100, now)
	if err != nil {
		t.Fatalf("fetch ready: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("ready = %d items, want only the pending and retry ones", len(items))
	}
	got := map[string]bool{}
	for _, it := range items {
		got[it.ID.String()] = true
	}
	if !got[ready.ID.String()] || !got[retried.ID.String()] {
		t.Fatalf("ready set missing expected items: %v", got)
	}
}

func TestQueueStore_FetchReadyOrdersByPriorityThenAge(t *testing.T) {
	db := testDB(t)
	s := NewQueueStore(db, time.Hour, 3, zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC()
	oldLow := enqueueAt(t, s, now.Add(-3*time.Minute), queue.PriorityLow)
	oldHigh := enqueueAt(t, s, now.Add(-2*time.Minute), queue.PriorityHigh)
	newHigh := enqueueAt(t, s, now.Add(-time.Minute), queue.PriorityHigh)

	items, err := s.FetchReady(ctx, 100, now)
	if err != nil {
		t.Fatalf("fetch ready: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ready = %d items", len(items))
	}
	wantOrder := []string{oldHigh.ID.String(), newHigh.ID.String(), oldLow.ID.String()}
	for i, want := range wantOrder {
		if items[i].ID.String() != want {
			t.Fatalf("position %d = %s, want %s (priority desc, then created_at asc)",
				i, items[i].ID, want)
		}
	}
}

func TestQueueStore_EnqueueStampsConfiguredRetryBudget(t *testing.T) {
	db := testDB(t)
	s := NewQueueStore(db, time.Hour, 5, zap.NewNop())
	ctx := context.Background()

	it := enqueueAt(t, s, time.Now().UTC(), queue.PriorityNormal)
	if it.MaxRetries != 5 {
		t.Fatalf("max_retries = %d, want the store default 5", it.MaxRetries)
	}
	stored, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.MaxRetries != 5 {
		t.Fatalf("persisted max_retries = %d, want 5", stored.MaxRetries)
	}

	explicit := &queue.Item{
		To: "owner@example.com", Subject: "x", HTMLBody: "<p>x</p>", MaxRetries: 2,
	}
	if err := s.Enqueue(ctx, explicit); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if explicit.MaxRetries != 2 {
		t.Fatalf("explicit max_retries = %d, must not be overridden", explicit.MaxRetries)
	}
}

func TestQueueStore_ExpireLapsedSettlesWaitingItems(t *testing.T) {
	db := testDB(t)
	s := NewQueueStore(db, time.Hour, 3, zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC()

	// Enqueued two hours ago with a one hour horizon: lapsed while waiting.
	lapsed := enqueueAt(t, s, now.Add(-2*time.Hour), queue.PriorityNormal)
	setStatus(t, s, lapsed, queue.StatusRetry)
	// Fresh item, still inside its horizon.
	fresh := enqueueAt(t, s, now, queue.PriorityNormal)

	// The lapsed item is invisible to the ready query.
	items, err := s.FetchReady(ctx, 100, now)
	if err != nil {
		t.Fatalf("fetch ready: %v", err)
	}
	if len(items) != 1 || items[0].ID != fresh.ID {
		t.Fatalf("ready set should hold only the fresh item, got %d", len(items))
	}

	expired, err := s.ExpireLapsed(ctx, now)
	if err != nil {
		t.Fatalf("expire lapsed: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != lapsed.ID {
		t.Fatalf("expired = %d items", len(expired))
	}
	if expired[0].Status != queue.StatusExpired {
		t.Fatalf("status = %s", expired[0].Status)
	}

	stored, err := s.Get(ctx, lapsed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != queue.StatusExpired {
		t.Fatalf("persisted status = %s", stored.Status)
	}

	// Now terminal, so retention can reap it once it ages out.
	deleted, err := s.DeleteOlderThan(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatalf("delete older than: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("deleted = %d, want the expired item", deleted)
	}
}

func TestQueueStore_ClaimIsConditional(t *testing.T) {
	db := testDB(t)
	s := NewQueueStore(db, time.Hour, 3, zap.NewNop())
	ctx := context.Background()

	it := enqueueAt(t, s, time.Now().UTC(), queue.PriorityNormal)

	if err := s.Claim(ctx, it.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.Claim(ctx, it.ID); err != ErrNotClaimable {
		t.Fatalf("second claim = %v, want ErrNotClaimable", err)
	}
}
