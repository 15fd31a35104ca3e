package mailer

import (
	"context"
	"testing"
	"time"

	mail "github.com/go-mail/mail"
	"go.uber.org/zap"
)

func TestLogMailer_Send(t *testing.T) {
	m := NewLogMailer(zap.NewNop())
	result, err := m.Send(context.Background(), Message{
		To:      "owner@example.com",
		Subject: "Test",
		HTML:    "<p>hello</p>",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.MessageID != "" {
		t.Errorf("log mailer has no provider id, got %q", result.MessageID)
	}
}

func TestSMTPMailer_ContextDeadline(t *testing.T) {
	// Point at a blackhole address; the context must bound the wait.
	m := NewSMTPMailer(SMTPConfig{
		Host:      "127.0.0.1",
		Port:      1, // nothing listens here
		FromEmail: "noreply@example.com",
	}, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Send(ctx, Message{To: "owner@example.com", Subject: "x", HTML: "<p>x</p>"})
	if err == nil {
		t.Fatal("expected error from unreachable SMTP host")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("send did not respect context deadline, took %v", elapsed)
	}
}

func TestSMTPMailer_TLSModes(t *testing.T) {
	tests := []struct {
		mode        string
		wantSSL     bool
		wantNoStart bool
	}{
		{"auto", false, false},
		{"", false, false},
		{"ssl", true, false},
		{"none", false, true},
	}

	for _, tt := range tests {
		t.Run("mode_"+tt.mode, func(t *testing.T) {
			m := NewSMTPMailer(SMTPConfig{Host: "mail.example.com", Port: 587, TLSMode: tt.mode}, zap.NewNop())
			d := m.dialer()

			if d.SSL != tt.wantSSL {
				t.Errorf("SSL = %v, want %v", d.SSL, tt.wantSSL)
			}
			gotNoStart := d.StartTLSPolicy == mail.NoStartTLS
			if gotNoStart != tt.wantNoStart {
				t.Errorf("StartTLSPolicy = %v, want NoStartTLS=%v", d.StartTLSPolicy, tt.wantNoStart)
			}
			if !tt.wantNoStart && d.TLSConfig.InsecureSkipVerify {
				t.Error("certificate verification must stay on when TLS is in play")
			}
		})
	}
}

func TestSMTPMailer_RejectsEmptyRecipient(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 587}, zap.NewNop())
	if _, err := m.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Fatal("expected error for empty recipient")
	}
}
