// Package campaign fans a template out to a resolved audience as
// individual queue items. The audience is snapshotted once per run; an
// interrupted run resumes without double-enqueueing thanks to
// per-recipient reservations.
package campaign

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/metrics"
	"github.com/ltfpqrr/mailroom/internal/queue"
)

// ErrNotDraft is returned when Send targets a campaign that already left
// draft. Use Resume for interrupted runs.
var ErrNotDraft = errors.New("campaign is not in draft")

// ErrNotSending is returned when Resume targets a campaign that is not
// mid-run.
var ErrNotSending = errors.New("campaign is not in sending")

// progressFlushEvery bounds how stale the persisted counters can get
// during a large fanout.
const progressFlushEvery = 50

// Recipient is one resolved audience member.
type Recipient struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
}

// AudienceResolver turns a target selector into the concrete recipient
// list.
type AudienceResolver interface {
	Resolve(ctx context.Context, targetType string, criteria map[string]any) ([]Recipient, error)
}

// CampaignStore is the slice of the campaign repository the fanout needs.
type CampaignStore interface {
	Create(ctx context.Context, c *queue.Campaign) error
	Get(ctx context.Context, id uuid.UUID) (*queue.Campaign, error)
	BeginSending(ctx context.Context, id uuid.UUID, totalRecipients int, now time.Time) error
	UpdateProgress(ctx context.Context, id uuid.UUID, sent, failed int) error
	Finish(ctx context.Context, id uuid.UUID, final queue.CampaignStatus, sent, failed int, now time.Time) error
}

// Enqueuer persists one queue item per recipient.
type Enqueuer interface {
	Enqueue(ctx context.Context, it *queue.Item) error
}

// TemplateStore verifies the campaign template exists before any fanout.
type TemplateStore interface {
	GetByName(ctx context.Context, name string) (*queue.Template, error)
}

// Guard reserves per-(campaign, recipient) keys so resumed runs skip
// recipients already enqueued.
type Guard interface {
	Reserve(ctx context.Context, campaignID uuid.UUID, email string) (bool, error)
	Release(ctx context.Context, campaignID uuid.UUID, email string) error
}

// Fanout orchestrates campaign runs.
type Fanout struct {
	campaigns CampaignStore
	queues    Enqueuer
	templates TemplateStore
	audience  AudienceResolver
	guard     Guard
	logger    *zap.Logger
	now       func() time.Time
}

func NewFanout(
	campaigns CampaignStore,
	queues Enqueuer,
	templates TemplateStore,
	audience AudienceResolver,
	guard Guard,
	logger *zap.Logger,
) *Fanout {
	return &Fanout{
		campaigns: campaigns,
		queues:    queues,
		templates: templates,
		audience:  audience,
		guard:     guard,
		logger:    logger,
		now:       time.Now,
	}
}

// Create validates the template reference and persists a draft campaign.
func (f *Fanout) Create(ctx context.Context, c *queue.Campaign) error {
	if c.Name == "" {
		return errors.New("campaign name is required")
	}
	if _, err := f.templates.GetByName(ctx, c.TemplateName); err != nil {
		return fmt.Errorf("campaign template: %w", err)
	}
	return f.campaigns.Create(ctx, c)
}

// Send starts a draft campaign: resolves the audience, snapshots the
// recipient count, and enqueues one item per recipient. A campaign that
// is already sending must go through Resume instead.
func (f *Fanout) Send(ctx context.Context, id uuid.UUID) (*queue.Campaign, error) {
	c, err := f.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != queue.CampaignDraft {
		return nil, fmt.Errorf("campaign %s is %s: %w", id, c.Status, ErrNotDraft)
	}

	recipients, err := f.audience.Resolve(ctx, c.TargetType, c.Criteria)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	now := f.now().UTC()
	if err := f.campaigns.BeginSending(ctx, id, len(recipients), now); err != nil {
		return nil, err
	}
	c.Status = queue.CampaignSending
	c.TotalRecipients = len(recipients)
	c.StartedAt = &now

	return f.run(ctx, c, recipients)
}

// Resume continues an interrupted run. The audience is re-resolved and
// recipients already reserved by the earlier run are skipped, counted as
// sent.
func (f *Fanout) Resume(ctx context.Context, id uuid.UUID) (*queue.Campaign, error) {
	c, err := f.campaigns.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != queue.CampaignSending {
		return nil, fmt.Errorf("campaign %s is %s: %w", id, c.Status, ErrNotSending)
	}

	recipients, err := f.audience.Resolve(ctx, c.TargetType, c.Criteria)
	if err != nil {
		return nil, fmt.Errorf("resolve audience: %w", err)
	}

	f.logger.Info("resuming campaign",
		zap.String("campaign_id", id.String()),
		zap.Int("recipients", len(recipients)),
		zap.Int("already_sent", c.Sent),
	)
	return f.run(ctx, c, recipients)
}

func (f *Fanout) run(ctx context.Context, c *queue.Campaign, recipients []Recipient) (*queue.Campaign, error) {
	sent, failed := 0, 0
	sinceFlush := 0

	for _, r := range recipients {
		if err := ctx.Err(); err != nil {
			// Campaign stays in sending; a later Resume picks it up.
			f.flushProgress(c, sent, failed)
			return c, err
		}

		reserved, err := f.guard.Reserve(ctx, c.ID, r.Email)
		if err != nil {
			failed++
			f.logger.Error("fanout reservation failed",
				zap.Error(err),
				zap.String("campaign_id", c.ID.String()),
				zap.String("email", r.Email),
			)
			continue
		}
		if !reserved {
			// Already enqueued by an earlier run.
			sent++
			metrics.RecordCampaignRecipient("skipped")
			continue
		}

		it := f.buildItem(c, r)
		if err := f.queues.Enqueue(ctx, it); err != nil {
			// Drop the reservation so a Resume can try this recipient again.
			if relErr := f.guard.Release(ctx, c.ID, r.Email); relErr != nil {
				f.logger.Error("failed to release reservation",
					zap.Error(relErr),
					zap.String("email", r.Email),
				)
			}
			failed++
			metrics.RecordCampaignRecipient("failed")
			continue
		}
		sent++
		metrics.RecordCampaignRecipient("enqueued")

		sinceFlush++
		if sinceFlush >= progressFlushEvery {
			f.flushProgress(c, sent, failed)
			sinceFlush = 0
		}
	}

	// Failed only when nothing was ever delivered, across this run and any
	// interrupted run before it. A resumed campaign whose last stragglers
	// fail still completed for the recipients it reached.
	final := queue.CampaignCompleted
	if c.Sent+sent == 0 && failed > 0 {
		final = queue.CampaignFailed
	}

	now := f.now().UTC()
	if err := f.campaigns.Finish(ctx, c.ID, final, c.Sent+sent, c.Failed+failed, now); err != nil {
		return nil, err
	}
	c.Status = final
	c.Sent += sent
	c.Failed += failed
	c.CompletedAt = &now

	f.logger.Info("campaign run finished",
		zap.String("campaign_id", c.ID.String()),
		zap.String("status", string(final)),
		zap.Int("sent", c.Sent),
		zap.Int("failed", c.Failed),
	)
	return c, nil
}

func (f *Fanout) flushProgress(c *queue.Campaign, sent, failed int) {
	// Best-effort; counters are reconstructed by Finish anyway.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.campaigns.UpdateProgress(ctx, c.ID, c.Sent+sent, c.Failed+failed); err != nil {
		f.logger.Error("failed to flush campaign progress",
			zap.Error(err),
			zap.String("campaign_id", c.ID.String()),
		)
	}
}

func (f *Fanout) buildItem(c *queue.Campaign, r Recipient) *queue.Item {
	return &queue.Item{
		To:           r.Email,
		Priority:     queue.PriorityLow,
		EmailType:    "campaign",
		TemplateName: c.TemplateName,
		Metadata: map[string]any{
			"campaign_id": c.ID.String(),
			"user": map[string]any{
				"id":         r.UserID,
				"first_name": r.FirstName,
				"last_name":  r.LastName,
				"email":      r.Email,
			},
		},
	}
}
