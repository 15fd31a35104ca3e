// Package scheduler runs the two background loops: the poll loop that
// drains due queue items, and the daily retention sweep.
package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/engine"
	"github.com/ltfpqrr/mailroom/internal/metrics"
	"github.com/ltfpqrr/mailroom/internal/queue"
)

// Fetcher pulls the ready set from the queue and settles lapsed items.
type Fetcher interface {
	FetchReady(ctx context.Context, limit int, now time.Time) ([]*queue.Item, error)
	ExpireLapsed(ctx context.Context, now time.Time) ([]*queue.Item, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// AuditLog appends settlement records and sweeps old ones.
type AuditLog interface {
	Insert(ctx context.Context, rec *queue.LogRecord) error
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Processor runs a batch of claimed items to settled statuses.
type Processor interface {
	ProcessBatch(ctx context.Context, items []*queue.Item) engine.Stats
}

// Config holds scheduler tuning.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	RetentionDays int
	CleanupEvery  time.Duration
}

// Scheduler owns the poll and cleanup loops.
type Scheduler struct {
	queues    Fetcher
	logs      AuditLog
	processor Processor
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

func New(queues Fetcher, logs AuditLog, processor Processor, cfg Config, logger *zap.Logger) *Scheduler {
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
	if cfg.CleanupEvery == 0 {
		cfg.CleanupEvery = 24 * time.Hour
	}

	return &Scheduler{
		queues:    queues,
		logs:      logs,
		processor: processor,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// Start blocks until the context is cancelled, polling the queue on each
// tick and sweeping retention once per cleanup interval.
func (s *Scheduler) Start(ctx context.Context) {
	poll := time.NewTicker(s.config.PollInterval)
	defer poll.Stop()
	cleanup := time.NewTicker(s.config.CleanupEvery)
	defer cleanup.Stop()

	s.logger.Info("scheduler started",
		zap.Duration("poll_interval", s.config.PollInterval),
		zap.Int("batch_size", s.config.BatchSize),
		zap.Int("retention_days", s.config.RetentionDays),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping")
			return
		case <-poll.C:
			s.ProcessOnce(ctx)
		case <-cleanup.C:
			s.Cleanup(ctx, s.config.RetentionDays)
		}
	}
}

// ProcessOnce drains one batch of due items. Also callable from the ops
// surface for a manual drain.
func (s *Scheduler) ProcessOnce(ctx context.Context) engine.Stats {
	return s.ProcessLimit(ctx, s.config.BatchSize)
}

// ProcessLimit settles any lapsed items, then drains up to limit due
// items.
func (s *Scheduler) ProcessLimit(ctx context.Context, limit int) engine.Stats {
	now := s.now().UTC()

	expired := s.expireLapsed(ctx, now)

	items, err := s.queues.FetchReady(ctx, limit, now)
	if err != nil {
		s.logger.Error("failed to fetch ready items", zap.Error(err))
		return engine.Stats{Processed: expired, Expired: expired}
	}
	s.refreshDepthGauges(ctx)
	if len(items) == 0 {
		return engine.Stats{Processed: expired, Expired: expired}
	}

	stats := s.processor.ProcessBatch(ctx, items)
	stats.Processed += expired
	stats.Expired += expired
	s.logger.Info("batch processed",
		zap.Int("processed", stats.Processed),
		zap.Int("sent", stats.Sent),
		zap.Int("retried", stats.Retried),
		zap.Int("failed", stats.Failed),
		zap.Int("expired", stats.Expired),
	)
	return stats
}

// expireLapsed settles pending and retry items whose horizon passed while
// they waited out a backoff. Such items never re-enter the ready set, so
// without this sweep they would sit in the queue forever. One log record
// per settled item, matching the engine's settle discipline.
func (s *Scheduler) expireLapsed(ctx context.Context, now time.Time) int {
	items, err := s.queues.ExpireLapsed(ctx, now)
	if err != nil {
		s.logger.Error("failed to expire lapsed items", zap.Error(err))
		return 0
	}

	for _, it := range items {
		rec := &queue.LogRecord{
			QueueID:      it.ID,
			To:           it.To,
			FromEmail:    it.FromEmail,
			FromName:     it.FromName,
			Subject:      it.Subject,
			Status:       it.Status,
			EmailType:    it.EmailType,
			TemplateName: it.TemplateName,
			Metadata:     it.Metadata,
			SentAt:       it.SentAt,
			CreatedAt:    now,
		}
		if err := s.logs.Insert(ctx, rec); err != nil {
			s.logger.Error("failed to append expiry log record",
				zap.Error(err),
				zap.String("queue_id", it.ID.String()),
			)
		}
		metrics.RecordEmailProcessed("expired")
	}
	return len(items)
}

// Cleanup deletes settled queue items and log records older than the
// retention window. Returns rows removed per table.
func (s *Scheduler) Cleanup(ctx context.Context, retentionDays int) (queueDeleted, logsDeleted int64) {
	if retentionDays <= 0 {
		retentionDays = s.config.RetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -retentionDays)

	queueDeleted, err := s.queues.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("queue retention sweep failed", zap.Error(err))
	} else {
		metrics.RecordRetentionDeleted("email_queue", queueDeleted)
	}

	logsDeleted, err = s.logs.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("log retention sweep failed", zap.Error(err))
	} else {
		metrics.RecordRetentionDeleted("email_logs", logsDeleted)
	}

	s.logger.Info("retention sweep finished",
		zap.Time("cutoff", cutoff),
		zap.Int64("queue_deleted", queueDeleted),
		zap.Int64("logs_deleted", logsDeleted),
	)
	return queueDeleted, logsDeleted
}

func (s *Scheduler) refreshDepthGauges(ctx context.Context) {
	counts, err := s.queues.CountByStatus(ctx)
	if err != nil {
		s.logger.Debug("failed to refresh queue depth gauges", zap.Error(err))
		return
	}
	for _, status := range []queue.Status{
		queue.StatusPending, queue.StatusRetry, queue.StatusProcessing,
		queue.StatusSent, queue.StatusFailed, queue.StatusExpired,
	} {
		metrics.SetQueueDepth(string(status), counts[string(status)])
	}
}
