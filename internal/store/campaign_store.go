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

// ErrInvalidTransition is returned when a conditional campaign status
// update finds the campaign no longer in the expected state.
var ErrInvalidTransition = errors.New("campaign is not in the expected status")

// CampaignStore handles database operations for bulk campaigns.
type CampaignStore struct {
	db     *DB
	logger *zap.Logger
}

func NewCampaignStore(db *DB, logger *zap.Logger) *CampaignStore {
	return &CampaignStore{db: db, logger: logger}
}

// Create inserts a new campaign in draft status.
func (s *CampaignStore) Create(ctx context.Context, c *queue.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	c.Status = queue.CampaignDraft

	var criteria []byte
	if c.Criteria != nil {
		var err error
		criteria, err = json.Marshal(c.Criteria)
		if err != nil {
			return fmt.Errorf("marshal criteria: %w", err)
		}
	}

	query := `
		INSERT INTO email_campaigns (
			id, name, description, template_name, target_type, criteria,
			status, total_recipients, sent_count, failed_count, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := s.db.Pool().Exec(ctx, query,
		c.ID, c.Name, nullable(c.Description), c.TemplateName, c.TargetType, criteria,
		string(c.Status), c.TotalRecipients, c.Sent, c.Failed, c.CreatedAt,
	)
	if err != nil {
		s.logger.Error("failed to create campaign",
			zap.Error(err),
			zap.String("campaign_id", c.ID.String()),
		)
		return fmt.Errorf("insert campaign: %w", err)
	}

	s.logger.Info("campaign created",
		zap.String("campaign_id", c.ID.String()),
		zap.String("name", c.Name),
		zap.String("target_type", c.TargetType),
	)
	return nil
}

// Get retrieves a campaign by id.
func (s *CampaignStore) Get(ctx context.Context, id uuid.UUID) (*queue.Campaign, error) {
	query := `
		SELECT id, name, description, template_name, target_type, criteria,
		       status, total_recipients, sent_count, failed_count,
		       created_at, started_at, completed_at
		FROM email_campaigns
		WHERE id = $1
	`

	var (
		c        queue.Campaign
		desc     *string
		criteria []byte
		status   string
	)
	err := s.db.Pool().QueryRow(ctx, query, id).Scan(
		&c.ID, &c.Name, &desc, &c.TemplateName, &c.TargetType, &criteria,
		&status, &c.TotalRecipients, &c.Sent, &c.Failed,
		&c.CreatedAt, &c.StartedAt, &c.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query campaign: %w", err)
	}

	c.Status = queue.CampaignStatus(status)
	c.Description = deref(desc)
	if len(criteria) > 0 {
		if err := json.Unmarshal(criteria, &c.Criteria); err != nil {
			return nil, fmt.Errorf("unmarshal criteria: %w", err)
		}
	}
	return &c, nil
}

// List returns campaigns ordered by creation time, newest first.
func (s *CampaignStore) List(ctx context.Context, limit int) ([]*queue.Campaign, error) {
	query := `
		SELECT id, name, description, template_name, target_type, criteria,
		       status, total_recipients, sent_count, failed_count,
		       created_at, started_at, completed_at
		FROM email_campaigns
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := s.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*queue.Campaign
	for rows.Next() {
		var (
			c        queue.Campaign
			desc     *string
			criteria []byte
			status   string
		)
		err := rows.Scan(
			&c.ID, &c.Name, &desc, &c.TemplateName, &c.TargetType, &criteria,
			&status, &c.TotalRecipients, &c.Sent, &c.Failed,
			&c.CreatedAt, &c.StartedAt, &c.CompletedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Status = queue.CampaignStatus(status)
		c.Description = deref(desc)
		if len(criteria) > 0 {
			if err := json.Unmarshal(criteria, &c.Criteria); err != nil {
				return nil, fmt.Errorf("unmarshal criteria: %w", err)
			}
		}
		campaigns = append(campaigns, &c)
	}
	return campaigns, rows.Err()
}

// BeginSending conditionally moves a draft campaign into sending and
// snapshots the recipient count. Of any concurrent send attempts exactly
// one wins; the rest get ErrInvalidTransition.
func (s *CampaignStore) BeginSending(ctx context.Context, id uuid.UUID, totalRecipients int, now time.Time) error {
	query := `
		UPDATE email_campaigns
		SET status = 'sending', total_recipients = $2, started_at = $3
		WHERE id = $1 AND status = 'draft'
	`

	result, err := s.db.Pool().Exec(ctx, query, id, totalRecipients, now)
	if err != nil {
		return fmt.Errorf("begin sending: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

// UpdateProgress persists the running sent/failed counters.
func (s *CampaignStore) UpdateProgress(ctx context.Context, id uuid.UUID, sent, failed int) error {
	query := `
		UPDATE email_campaigns
		SET sent_count = $2, failed_count = $3
		WHERE id = $1
	`

	result, err := s.db.Pool().Exec(ctx, query, id, sent, failed)
	if err != nil {
		return fmt.Errorf("update campaign progress: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrNotFound)
	}
	return nil
}

// Finish moves a sending campaign into a terminal status with its final
// counters. Conditional on the campaign still being in sending.
func (s *CampaignStore) Finish(ctx context.Context, id uuid.UUID, final queue.CampaignStatus, sent, failed int, now time.Time) error {
	if final != queue.CampaignCompleted && final != queue.CampaignFailed {
		return fmt.Errorf("status %q is not terminal: %w", final, ErrInvalidTransition)
	}

	query := `
		UPDATE email_campaigns
		SET status = $2, sent_count = $3, failed_count = $4, completed_at = $5
		WHERE id = $1 AND status = 'sending'
	`

	result, err := s.db.Pool().Exec(ctx, query, id, string(final), sent, failed, now)
	if err != nil {
		return fmt.Errorf("finish campaign: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("campaign %s: %w", id, ErrInvalidTransition)
	}

	s.logger.Info("campaign finished",
		zap.String("campaign_id", id.String()),
		zap.String("status", string(final)),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	return nil
}
