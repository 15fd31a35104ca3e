package queue

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus tracks the fanout lifecycle.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
	CampaignFailed    CampaignStatus = "failed"
)

// Campaign groups a template with an audience selector and aggregate
// counters. The recipient set is computed once at send time and not
// re-evaluated mid-run. Spawned queue items are tracked via a shared
// metadata tag ("campaign_id"), not a hard foreign key.
type Campaign struct {
	ID           uuid.UUID      `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	TemplateName string         `json:"template_name"`
	TargetType   string         `json:"target_type"`
	Criteria     map[string]any `json:"criteria,omitempty"`

	Status          CampaignStatus `json:"status"`
	TotalRecipients int            `json:"total_recipients"`
	Sent            int            `json:"sent"`
	Failed          int            `json:"failed"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
