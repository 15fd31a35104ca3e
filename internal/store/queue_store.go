package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

// ErrNotClaimable is returned when a conditional status transition finds
// the item no longer in the expected state: another worker got there
// first, or the item was settled.
var ErrNotClaimable = errors.New("queue item is not claimable")

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

const queueColumns = `
	id, to_email, from_email, from_name, reply_to, subject, html_body, text_body,
	status, priority, retry_count, max_retries, email_type, template_name,
	metadata, last_error, error_history,
	created_at, scheduled_at, sent_at, expires_at
`

// QueueStore handles database operations for queue items.
type QueueStore struct {
	db         *DB
	ttl        time.Duration
	maxRetries int
	logger     *zap.Logger
}

// NewQueueStore creates a queue repository. ttl is the fixed expiry
// horizon frozen into every item at enqueue time; maxRetries is the
// retry budget stamped on items that do not bring their own.
func NewQueueStore(db *DB, ttl time.Duration, maxRetries int, logger *zap.Logger) *QueueStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &QueueStore{
		db:         db,
		ttl:        ttl,
		maxRetries: maxRetries,
		logger:     logger,
	}
}

// TTL returns the expiry horizon applied at enqueue time.
func (s *QueueStore) TTL() time.Duration {
	return s.ttl
}

// Enqueue persists a new item in pending status. expires_at is computed
// here and never changes afterwards.
func (s *QueueStore) Enqueue(ctx context.Context, it *queue.Item) error {
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	if it.ScheduledAt.IsZero() {
		it.ScheduledAt = it.CreatedAt
	}
	if it.MaxRetries == 0 {
		it.MaxRetries = s.maxRetries
	}
	it.Status = queue.StatusPending
	it.ExpiresAt = it.CreatedAt.Add(s.ttl)

	metadata, history, err := marshalItemJSON(it)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO email_queue (` + queueColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	_, err = s.db.Pool().Exec(ctx, query,
		it.ID, it.To, nullable(it.FromEmail), nullable(it.FromName), nullable(it.ReplyTo),
		it.Subject, it.HTMLBody, nullable(it.TextBody),
		string(it.Status), int(it.Priority), it.RetryCount, it.MaxRetries,
		nullable(it.EmailType), nullable(it.TemplateName),
		metadata, it.LastError, history,
		it.CreatedAt, it.ScheduledAt, it.SentAt, it.ExpiresAt,
	)
	if err != nil {
		s.logger.Error("failed to enqueue email",
			zap.Error(err),
			zap.String("queue_id", it.ID.String()),
		)
		return fmt.Errorf("insert queue item: %w", err)
	}

	s.logger.Info("email enqueued",
		zap.String("queue_id", it.ID.String()),
		zap.String("to", it.To),
		zap.String("priority", it.Priority.String()),
	)
	return nil
}

// Get retrieves a queue item by id.
func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*queue.Item, error) {
	query := `SELECT ` + queueColumns + ` FROM email_queue WHERE id = $1`

	it, err := scanItem(s.db.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("queue item %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query queue item: %w", err)
	}
	return it, nil
}

// FetchReady returns items eligible for delivery at now: pending or retry,
// due, and not expired, ordered by priority (highest first), then
// created_at (oldest first). Ordering is per-fetch only; concurrent
// workers pulling separate batches see no global order. Terminal items
// are never returned.
func (s *QueueStore) FetchReady(ctx context.Context, limit int, now time.Time) ([]*queue.Item, error) {
	query := `
		SELECT ` + queueColumns + `
		FROM email_queue
		WHERE status IN ('pending', 'retry')
		  AND scheduled_at <= $1
		  AND expires_at > $1
		ORDER BY priority DESC, created_at ASC
		LIMIT $2
	`

	rows, err := s.db.Pool().Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("query ready queue items: %w", err)
	}
	defer rows.Close()

	var items []*queue.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return items, nil
}

// ExpireLapsed settles every pending or retry item whose expiry horizon
// has passed and returns the settled items. An item waiting out a backoff
// can lapse without ever re-entering the ready set, so this sweep is the
// only path that moves it to expired.
func (s *QueueStore) ExpireLapsed(ctx context.Context, now time.Time) ([]*queue.Item, error) {
	query := `
		UPDATE email_queue
		SET status = 'expired'
		WHERE status IN ('pending', 'retry') AND expires_at <= $1
		RETURNING ` + queueColumns + `
	`

	rows, err := s.db.Pool().Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("expire lapsed queue items: %w", err)
	}
	defer rows.Close()

	var items []*queue.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if len(items) > 0 {
		s.logger.Info("expired lapsed queue items", zap.Int("count", len(items)))
	}
	return items, nil
}

// Claim atomically moves an item out of the ready set. The transition is
// conditioned on the item still being pending or retry, so of any number
// of concurrent workers exactly one wins; the rest get ErrNotClaimable.
func (s *QueueStore) Claim(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE email_queue
		SET status = 'processing'
		WHERE id = $1 AND status IN ('pending', 'retry')
	`

	result, err := s.db.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("claim queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

// Update persists the item's mutable fields. expires_at and created_at
// are immutable and deliberately not written.
func (s *QueueStore) Update(ctx context.Context, it *queue.Item) error {
	metadata, history, err := marshalItemJSON(it)
	if err != nil {
		return err
	}

	query := `
		UPDATE email_queue
		SET subject = $2, html_body = $3, text_body = $4,
		    status = $5, retry_count = $6,
		    last_error = $7, error_history = $8,
		    scheduled_at = $9, sent_at = $10, metadata = $11
		WHERE id = $1
	`

	result, err := s.db.Pool().Exec(ctx, query,
		it.ID, it.Subject, it.HTMLBody, nullable(it.TextBody),
		string(it.Status), it.RetryCount,
		it.LastError, history,
		it.ScheduledAt, it.SentAt, metadata,
	)
	if err != nil {
		s.logger.Error("failed to update queue item",
			zap.Error(err),
			zap.String("queue_id", it.ID.String()),
		)
		return fmt.Errorf("update queue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s: %w", it.ID, ErrNotFound)
	}
	return nil
}

// Requeue is the operator escape hatch: a failed item goes back to
// pending with its retry budget reset. Conditional on the item actually
// being failed.
func (s *QueueStore) Requeue(ctx context.Context, id uuid.UUID, now time.Time) error {
	query := `
		UPDATE email_queue
		SET status = 'pending', retry_count = 0, scheduled_at = $2
		WHERE id = $1 AND status = 'failed'
	`

	result, err := s.db.Pool().Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("queue item %s is not failed: %w", id, ErrNotClaimable)
	}

	s.logger.Info("queue item re-queued by operator", zap.String("queue_id", id.String()))
	return nil
}

// CountByStatus returns queue depth per status.
func (s *QueueStore) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.Pool().Query(ctx,
		`SELECT status, COUNT(*) FROM email_queue GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

// DeleteOlderThan removes terminal-status items created before cutoff.
// Retention deletion is the only mutation allowed on terminal items.
func (s *QueueStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.Pool().Exec(ctx, `
		DELETE FROM email_queue
		WHERE status IN ('sent', 'failed', 'expired') AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old queue items: %w", err)
	}
	return result.RowsAffected(), nil
}

func marshalItemJSON(it *queue.Item) (metadata, history []byte, err error) {
	if it.Metadata != nil {
		metadata, err = json.Marshal(it.Metadata)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal metadata: %w", err)
		}
	}
	if it.ErrorHistory != nil {
		history, err = json.Marshal(it.ErrorHistory)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal error history: %w", err)
		}
	}
	return metadata, history, nil
}

func scanItem(row pgx.Row) (*queue.Item, error) {
	var (
		it                                           queue.Item
		status                                       string
		priority                                     int
		fromEmail, fromName, replyTo, textBody       *string
		emailType, templateName                      *string
		metadata, history                            []byte
	)

	err := row.Scan(
		&it.ID, &it.To, &fromEmail, &fromName, &replyTo, &it.Subject, &it.HTMLBody, &textBody,
		&status, &priority, &it.RetryCount, &it.MaxRetries, &emailType, &templateName,
		&metadata, &it.LastError, &history,
		&it.CreatedAt, &it.ScheduledAt, &it.SentAt, &it.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	it.Status = queue.Status(status)
	it.Priority = queue.Priority(priority)
	it.FromEmail = deref(fromEmail)
	it.FromName = deref(fromName)
	it.ReplyTo = deref(replyTo)
	it.TextBody = deref(textBody)
	it.EmailType = deref(emailType)
	it.TemplateName = deref(templateName)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &it.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &it.ErrorHistory); err != nil {
			return nil, fmt.Errorf("unmarshal error history: %w", err)
		}
	}
	return &it, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
