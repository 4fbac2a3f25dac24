package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	errors "github.com/sunutaxe/payment-service/internal"
)

// RetryPolicy shapes the bounded exponential backoff used by
// InitiateWithRetry.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 3
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = 500 * time.Millisecond
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 10 * time.Second
	}
	return p
}

// InitiateWithRetry wraps InitiatePayment with bounded exponential
// backoff. One idempotency key covers the whole logical initiation, so a
// retry after a lost response makes the provider return the original
// checkout instead of opening a second one. Non-retryable errors stop the
// loop immediately; backoff sleeps block only this caller.
func (s *Service) InitiateWithRetry(ctx context.Context, req *InitiateRequest) (*InitiateResponse, error) {
	policy := s.cfg.Retry.withDefaults()
	idempotencyKey := uuid.NewString()

	delay := policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		resp, err := s.initiate(ctx, req, idempotencyKey)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		appErr, ok := errors.IsAppError(err)
		if !ok || !appErr.Retryable() {
			return nil, err
		}

		if attempt == policy.MaxAttempts {
			break
		}

		s.logger.Warn("payment initiation failed, backing off",
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, errors.NewInternalError("initiation cancelled during backoff", ctx.Err())
		}

		delay = time.Duration(float64(delay) * policy.Multiplier)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}

	return nil, lastErr
}
