// Package mailer defines the single boundary through which rendered
// messages leave the system, with swappable SMTP and HTTP-API transports.
package mailer

import (
	"context"

	"go.uber.org/zap"
)

// Message is one fully rendered email ready for transmission.
type Message struct {
	To       string
	From     string
	FromName string
	ReplyTo  string
	Subject  string
	HTML     string
	Text     string
}

// Result reports a successful transmission.
type Result struct {
	// MessageID is the provider-assigned id, empty if the transport has none.
	MessageID string
}

// Mailer attempts to transmit one rendered message. A non-nil error means
// the send failed; transient and permanent transport failures look the
// same at this boundary and are classified by the retry policy upstream.
type Mailer interface {
	Send(ctx context.Context, msg Message) (Result, error)
}

// LogMailer records sends without transmitting (development/testing).
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) (Result, error) {
	m.logger.Info("logging email (development mode)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
	)
	return Result{}, nil
}
