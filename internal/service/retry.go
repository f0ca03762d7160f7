package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/esign-workflow/internal/repository"
)

// ErrUnavailable is returned when a storage call kept failing after every
// retry.  The request may be repeated later.
var ErrUnavailable = errors.New("service temporarily unavailable")

// RetryPolicy bounds retries of a failing collaborator call.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	d := p.Base << attempt
	if d <= 0 || d > p.Max {
		return p.Max
	}
	return d
}

// permanent reports errors that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, repository.ErrConflict) ||
		errors.Is(err, repository.ErrNotFound) ||
		errors.Is(err, repository.ErrForbidden) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// do runs fn until it succeeds, fails permanently or runs out of attempts.
func (p RetryPolicy) do(ctx context.Context, log *zap.Logger, op string, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || permanent(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		wait := p.backoff(i)
		log.Warn("storage call failed; retrying",
			zap.String("op", op), zap.Int("attempt", i+1), zap.Duration("backoff", wait), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
