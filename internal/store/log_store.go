package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/queue"
)

// LogStore appends immutable delivery facts. Rows are never updated; the
// only deletion is retention cleanup.
type LogStore struct {
	db     *DB
	logger *zap.Logger
}

func NewLogStore(db *DB, logger *zap.Logger) *LogStore {
	return &LogStore{db: db, logger: logger}
}

// Insert appends one log record.
func (s *LogStore) Insert(ctx context.Context, rec *queue.LogRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	var metadata []byte
	if rec.Metadata != nil {
		var err error
		metadata, err = json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("marshal log metadata: %w", err)
		}
	}

	query := `
		INSERT INTO email_logs (
			id, queue_id, to_email, from_email, from_name, subject,
			status, email_type, template_name, metadata, error_message,
			sent_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := s.db.Pool().Exec(ctx, query,
		rec.ID, rec.QueueID, rec.To, nullable(rec.FromEmail), nullable(rec.FromName),
		rec.Subject, string(rec.Status), nullable(rec.EmailType), nullable(rec.TemplateName),
		metadata, rec.ErrorMessage, rec.SentAt, rec.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to insert log record",
			zap.Error(err),
			zap.String("queue_id", rec.QueueID.String()),
		)
		return fmt.Errorf("insert log record: %w", err)
	}
	return nil
}

// ActivityStats summarises the audit trail over a recent window.
type ActivityStats struct {
	ByStatus    map[string]int `json:"by_status"`
	Total       int            `json:"total"`
	FailureRate float64        `json:"failure_rate"`
}

// ActivitySince returns counts-by-status and the failure rate
// (failed / total) for records created after the cutoff.
func (s *LogStore) ActivitySince(ctx context.Context, cutoff time.Time) (*ActivityStats, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT status, COUNT(*)
		FROM email_logs
		WHERE created_at >= $1
		GROUP BY status
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query log activity: %w", err)
	}
	defer rows.Close()

	stats := &ActivityStats{ByStatus: make(map[string]int)}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan activity row: %w", err)
		}
		stats.ByStatus[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	if stats.Total > 0 {
		stats.FailureRate = float64(stats.ByStatus[string(queue.StatusFailed)]) / float64(stats.Total)
	}
	return stats, nil
}

// ListByQueueID returns the audit trail for one queue item, oldest first.
func (s *LogStore) ListByQueueID(ctx context.Context, queueID uuid.UUID) ([]*queue.LogRecord, error) {
	query := `
		SELECT id, queue_id, to_email, from_email, from_name, subject,
		       status, email_type, template_name, metadata, error_message,
		       sent_at, created_at
		FROM email_logs
		WHERE queue_id = $1
		ORDER BY created_at ASC
	`

	rows, err := s.db.Pool().Query(ctx, query, queueID)
	if err != nil {
		return nil, fmt.Errorf("query log records: %w", err)
	}
	defer rows.Close()

	var records []*queue.LogRecord
	for rows.Next() {
		var (
			rec                                  queue.LogRecord
			status                               string
			fromEmail, fromName, emailType, tpl  *string
			metadata                             []byte
		)
		err := rows.Scan(
			&rec.ID, &rec.QueueID, &rec.To, &fromEmail, &fromName, &rec.Subject,
			&status, &emailType, &tpl, &metadata, &rec.ErrorMessage,
			&rec.SentAt, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan log record: %w", err)
		}
		rec.Status = queue.Status(status)
		rec.FromEmail = deref(fromEmail)
		rec.FromName = deref(fromName)
		rec.EmailType = deref(emailType)
		rec.TemplateName = deref(tpl)
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &rec.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal log metadata: %w", err)
			}
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// DeleteOlderThan removes log records created before cutoff.
func (s *LogStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.Pool().Exec(ctx,
		`DELETE FROM email_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old log records: %w", err)
	}
	return result.RowsAffected(), nil
}
