// Package engine drains the email queue: claim, expire, render, send,
// settle, log. One delivery attempt per claimed item per pass.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/mailer"
	"github.com/ltfpqrr/mailroom/internal/metrics"
	"github.com/ltfpqrr/mailroom/internal/queue"
	"github.com/ltfpqrr/mailroom/internal/render"
	"github.com/ltfpqrr/mailroom/internal/retry"
	"github.com/ltfpqrr/mailroom/internal/store"
)

// Outcome of one delivery attempt.
type Outcome string

const (
	OutcomeSent    Outcome = "sent"
	OutcomeRetried Outcome = "retried"
	OutcomeFailed  Outcome = "failed"
	OutcomeExpired Outcome = "expired"

	// OutcomeSkipped means another worker claimed the item first. Not an
	// error and not counted as processed.
	OutcomeSkipped Outcome = "skipped"
)

// Stats aggregates one batch pass.
type Stats struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

// Handler enriches an item before rendering, keyed by EmailType. Handlers
// typically re-resolve live domain state into the item's metadata so the
// send reflects current data, not enqueue-time data. A handler error is a
// transient failure and consumes a retry.
type Handler func(ctx context.Context, it *queue.Item) error

// QueueStore is the slice of the queue repository the engine needs.
type QueueStore interface {
	Claim(ctx context.Context, id uuid.UUID) error
	Update(ctx context.Context, it *queue.Item) error
}

// LogStore appends delivery audit records.
type LogStore interface {
	Insert(ctx context.Context, rec *queue.LogRecord) error
}

// TemplateStore resolves templates by name.
type TemplateStore interface {
	GetByName(ctx context.Context, name string) (*queue.Template, error)
}

// Config holds engine tuning.
type Config struct {
	SendTimeout time.Duration
}

// Engine processes claimed queue items to a settled status.
type Engine struct {
	queues    QueueStore
	logs      LogStore
	templates TemplateStore
	renderer  *render.Renderer
	mailer    mailer.Mailer
	handlers  map[string]Handler
	config    Config
	logger    *zap.Logger
	now       func() time.Time
}

// New builds an engine. The handler map is copied at construction; later
// mutation of the caller's map has no effect.
func New(
	queues QueueStore,
	logs LogStore,
	templates TemplateStore,
	renderer *render.Renderer,
	m mailer.Mailer,
	handlers map[string]Handler,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.SendTimeout == 0 {
		cfg.SendTimeout = 30 * time.Second
	}

	owned := make(map[string]Handler, len(handlers))
	for k, v := range handlers {
		owned[k] = v
	}

	return &Engine{
		queues:    queues,
		logs:      logs,
		templates: templates,
		renderer:  renderer,
		mailer:    m,
		handlers:  owned,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// ProcessBatch runs every item to a settled status. Items are independent;
// one bad item never blocks the rest.
func (e *Engine) ProcessBatch(ctx context.Context, items []*queue.Item) Stats {
	var stats Stats
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}

		outcome, err := e.ProcessItem(ctx, it)
		if err != nil && !errors.Is(err, store.ErrNotClaimable) {
			e.logger.Error("failed to process queue item",
				zap.Error(err),
				zap.String("queue_id", it.ID.String()),
			)
			continue
		}

		switch outcome {
		case OutcomeSent:
			stats.Sent++
		case OutcomeRetried:
			stats.Retried++
		case OutcomeFailed:
			stats.Failed++
		case OutcomeExpired:
			stats.Expired++
		case OutcomeSkipped:
			continue
		}
		stats.Processed++
	}
	return stats
}

// ProcessItem drives one item from claimed to settled. Exactly one log
// record is written per settled attempt. Returns OutcomeSkipped without
// error when another worker holds the claim.
func (e *Engine) ProcessItem(ctx context.Context, it *queue.Item) (Outcome, error) {
	if err := e.queues.Claim(ctx, it.ID); err != nil {
		if errors.Is(err, store.ErrNotClaimable) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, fmt.Errorf("claim: %w", err)
	}

	now := e.now().UTC()

	// Expiry is checked before any delivery work; an expired item never
	// reaches the mailer.
	if it.ShouldExpire(now) {
		it.MarkExpired()
		return e.settle(ctx, it, OutcomeExpired, nil)
	}

	if handler, ok := e.handlers[it.EmailType]; ok {
		if err := handler(ctx, it); err != nil {
			retry.MarkFailed(it, fmt.Sprintf("handler %s: %v", it.EmailType, err), now)
			return e.settleAfterFailure(ctx, it)
		}
	}

	if it.TemplateName != "" {
		if err := e.renderInto(ctx, it); err != nil {
			var missing *render.MissingInputError
			if errors.As(err, &missing) || errors.Is(err, store.ErrNotFound) {
				// Deterministic render failures would fail identically on
				// every retry, so the item settles immediately.
				retry.MarkFailedPermanently(it, err.Error(), now)
			} else {
				retry.MarkFailed(it, err.Error(), now)
			}
			return e.settleAfterFailure(ctx, it)
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.SendTimeout)
	result, err := e.mailer.Send(sendCtx, mailer.Message{
		To:       it.To,
		From:     it.FromEmail,
		FromName: it.FromName,
		ReplyTo:  it.ReplyTo,
		Subject:  it.Subject,
		HTML:     it.HTMLBody,
		Text:     it.TextBody,
	})
	cancel()

	if err != nil {
		retry.MarkFailed(it, err.Error(), now)
		return e.settleAfterFailure(ctx, it)
	}

	it.MarkSent(now)
	e.logger.Info("email sent",
		zap.String("queue_id", it.ID.String()),
		zap.String("to", it.To),
		zap.String("message_id", result.MessageID),
	)
	metrics.RecordDeliveryLatency(it.EmailType, now.Sub(it.CreatedAt))

	return e.settle(ctx, it, OutcomeSent, nil)
}

// renderInto resolves the item's template and replaces subject and bodies
// with rendered content.
func (e *Engine) renderInto(ctx context.Context, it *queue.Item) error {
	tpl, err := e.templates.GetByName(ctx, it.TemplateName)
	if err != nil {
		return fmt.Errorf("resolve template %q: %w", it.TemplateName, err)
	}

	rendered, err := e.renderer.Render(tpl, it.Metadata)
	if err != nil {
		return err
	}

	it.Subject = rendered.Subject
	it.HTMLBody = rendered.HTML
	it.TextBody = rendered.Text
	return nil
}

func (e *Engine) settleAfterFailure(ctx context.Context, it *queue.Item) (Outcome, error) {
	if it.Status == queue.StatusRetry {
		return e.settle(ctx, it, OutcomeRetried, it.LastError)
	}
	return e.settle(ctx, it, OutcomeFailed, it.LastError)
}

// settle persists the item and appends the single log record for this
// attempt.
func (e *Engine) settle(ctx context.Context, it *queue.Item, outcome Outcome, errMsg *string) (Outcome, error) {
	if err := e.queues.Update(ctx, it); err != nil {
		return outcome, fmt.Errorf("update item: %w", err)
	}

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
		ErrorMessage: errMsg,
		SentAt:       it.SentAt,
		CreatedAt:    e.now().UTC(),
	}
	if err := e.logs.Insert(ctx, rec); err != nil {
		// The item is already settled; a lost audit row is logged, not
		// retried, to keep the attempt from double-settling.
		e.logger.Error("failed to append log record",
			zap.Error(err),
			zap.String("queue_id", it.ID.String()),
		)
	}

	metrics.RecordEmailProcessed(string(outcome))
	return outcome, nil
}
