package queue

import (
	"time"

	"github.com/google/uuid"
)

// LogRecord is one immutable fact: "this queue item reached this status at
// this time". Recipient and subject are denormalized so the audit trail
// survives retention deletion of the queue item. Never updated after insert.
type LogRecord struct {
	ID        uuid.UUID `json:"id"`
	QueueID   uuid.UUID `json:"queue_id"`
	To        string    `json:"to"`
	FromEmail string    `json:"from_email,omitempty"`
	FromName  string    `json:"from_name,omitempty"`
	Subject   string    `json:"subject"`

	Status       Status         `json:"status"`
	EmailType    string         `json:"email_type,omitempty"`
	TemplateName string         `json:"template_name,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ErrorMessage *string        `json:"error_message,omitempty"`

	SentAt    *time.Time `json:"sent_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
