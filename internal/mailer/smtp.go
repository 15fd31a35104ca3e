package mailer

import (
	"context"
	"crypto/tls"
	"fmt"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

// SMTPMailer transmits via SMTP with multipart/alternative bodies.
type SMTPMailer struct {
	host    string
	port    int
	from    string
	user    string
	pass    string
	tlsMode string // "auto" | "ssl" | "none"
	logger  *zap.Logger
}

type SMTPConfig struct {
	Host      string
	Port      int
	FromEmail string
	Username  string
	Password  string
	TLSMode   string
}

func NewSMTPMailer(cfg SMTPConfig, logger *zap.Logger) *SMTPMailer {
	tlsMode := cfg.TLSMode
	if tlsMode == "" {
		tlsMode = "auto"
	}
	return &SMTPMailer{
		host:    cfg.Host,
		port:    cfg.Port,
		from:    cfg.FromEmail,
		user:    cfg.Username,
		pass:    cfg.Password,
		tlsMode: tlsMode,
		logger:  logger,
	}
}

// dialer maps the configured TLS mode onto the connection policy:
// "ssl" wraps the whole connection, "none" speaks plaintext and never
// negotiates STARTTLS (local relays, test containers), and the default
// "auto" upgrades via STARTTLS when the server offers it.
func (m *SMTPMailer) dialer() *mail.Dialer {
	d := mail.NewDialer(m.host, m.port, m.user, m.pass)
	d.TLSConfig = &tls.Config{ServerName: m.host}
	switch m.tlsMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}
	return d
}

// Send dials and transmits one message. DialAndSend has no context
// support, so it runs in a goroutine and the context deadline bounds the
// wait; a timed-out dial is abandoned to its own TCP timeouts.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) (Result, error) {
	if msg.To == "" {
		return Result{}, fmt.Errorf("message missing recipient")
	}

	from := msg.From
	if from == "" {
		from = m.from
	}

	message := mail.NewMessage()
	if msg.FromName != "" {
		message.SetAddressHeader("From", from, msg.FromName)
	} else {
		message.SetHeader("From", from)
	}
	message.SetHeader("To", msg.To)
	message.SetHeader("Subject", msg.Subject)
	if msg.ReplyTo != "" {
		message.SetHeader("Reply-To", msg.ReplyTo)
	}

	// multipart/alternative when both bodies are present
	if msg.Text != "" {
		message.SetBody("text/plain", msg.Text)
		if msg.HTML != "" {
			message.AddAlternative("text/html", msg.HTML)
		}
	} else {
		message.SetBody("text/html", msg.HTML)
	}

	dialer := m.dialer()

	done := make(chan error, 1)
	go func() {
		done <- dialer.DialAndSend(message)
	}()

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("smtp send: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			m.logger.Error("smtp send failed",
				zap.String("host", m.host),
				zap.String("to", msg.To),
				zap.Error(err),
			)
			return Result{}, fmt.Errorf("smtp send: %w", err)
		}
	}

	m.logger.Info("email sent via SMTP",
		zap.String("host", m.host),
		zap.String("to", msg.To),
	)
	return Result{}, nil
}
