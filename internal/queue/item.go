package queue

import (
	"time"

	"github.com/google/uuid"
)

// Status of a queue item. Exactly one status at a time.
type Status string

const (
	StatusPending Status = "pending"
	StatusRetry   Status = "retry"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusExpired Status = "expired"

	// StatusProcessing is a transient claim marker: a worker that claims an
	// item moves it here so no other worker can pick it up. It is never
	// returned by the ready-set query and never appears in a settled item.
	StatusProcessing Status = "processing"
)

// Terminal reports whether the status ends the item's lifecycle.
// Failed items are terminal for automatic retry but may still be
// re-queued by an operator.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusExpired
}

// Priority orders draining: higher priorities go first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority maps a priority name to its value, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// ErrorEvent is one entry in an item's append-only error history.
type ErrorEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message"`
	RetryCount int       `json:"retry_count"`
}

// Item is one outbound message awaiting delivery.
type Item struct {
	ID        uuid.UUID `json:"id"`
	To        string    `json:"to"`
	FromEmail string    `json:"from_email,omitempty"`
	FromName  string    `json:"from_name,omitempty"`
	ReplyTo   string    `json:"reply_to,omitempty"`
	Subject   string    `json:"subject"`
	HTMLBody  string    `json:"html_body"`
	TextBody  string    `json:"text_body,omitempty"`

	Status     Status   `json:"status"`
	Priority   Priority `json:"priority"`
	RetryCount int      `json:"retry_count"`
	MaxRetries int      `json:"max_retries"`

	// EmailType selects a per-type handler in the delivery engine
	// (e.g. "pet_search_notification"). Empty means the default path.
	EmailType    string         `json:"email_type,omitempty"`
	TemplateName string         `json:"template_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`

	LastError    *string      `json:"last_error,omitempty"`
	ErrorHistory []ErrorEvent `json:"error_history,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// AddError appends to the error history and updates last_error.
// The history is append-only; entries are never rewritten.
func (it *Item) AddError(msg string, now time.Time) {
	it.ErrorHistory = append(it.ErrorHistory, ErrorEvent{
		Timestamp:  now,
		Message:    msg,
		RetryCount: it.RetryCount,
	})
	it.LastError = &msg
}

// ShouldExpire reports whether the TTL has been reached.
func (it *Item) ShouldExpire(now time.Time) bool {
	return !now.Before(it.ExpiresAt)
}

// MarkSent settles the item as delivered. Terminal.
func (it *Item) MarkSent(now time.Time) {
	it.Status = StatusSent
	it.SentAt = &now
}

// MarkExpired settles the item as expired. Terminal, no send attempted.
func (it *Item) MarkExpired() {
	it.Status = StatusExpired
}
