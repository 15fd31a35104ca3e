package circuitbreaker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ltfpqrr/mailroom/internal/mailer"
)

// ProtectedMailer wraps a Mailer with a CircuitBreaker. When the provider
// starts failing, the circuit opens and sends return ErrCircuitOpen
// immediately; the retry policy upstream treats that like any other
// transient send failure.
type ProtectedMailer struct {
	mailer  mailer.Mailer
	breaker *CircuitBreaker
	logger  *zap.Logger
}

// NewProtectedMailer wraps a mailer with circuit breaker protection.
func NewProtectedMailer(m mailer.Mailer, breaker *CircuitBreaker, logger *zap.Logger) *ProtectedMailer {
	return &ProtectedMailer{
		mailer:  m,
		breaker: breaker,
		logger:  logger,
	}
}

func (p *ProtectedMailer) Send(ctx context.Context, msg mailer.Message) (mailer.Result, error) {
	if !p.breaker.Allow() {
		p.logger.Warn("circuit breaker rejected send",
			zap.String("breaker", p.breaker.config.Name),
			zap.String("to", msg.To),
			zap.String("state", p.breaker.GetState().String()),
		)
		return mailer.Result{}, fmt.Errorf("%w: %s transport unavailable", ErrCircuitOpen, p.breaker.config.Name)
	}

	result, err := p.mailer.Send(ctx, msg)
	if err != nil {
		p.breaker.RecordFailure()
		return mailer.Result{}, err
	}

	p.breaker.RecordSuccess()
	return result, nil
}

// Breaker exposes the underlying breaker for the status endpoint.
func (p *ProtectedMailer) Breaker() *CircuitBreaker {
	return p.breaker
}
