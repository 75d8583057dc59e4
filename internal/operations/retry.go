package operations

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/kebairia/mybak/internal/database"
	"github.com/kebairia/mybak/internal/storage"
)

// permanent errors are never retried.
var permanent = []error{
	database.ErrInvalidInput,
	storage.ErrInvalidName,
	storage.ErrUnknownBackend,
}

func isPermanent(err error) bool {
	for _, p := range permanent {
		if errors.Is(err, p) {
			return true
		}
	}
	return false
}

// retry runs fn up to Retry.MaxAttempts times with exponential backoff.
// Every attempt gets its own timeout derived from ctx.
func (o *Orchestrator) retry(ctx context.Context, op string, timeout time.Duration, fn func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	if o.cfg.Retry.InitialInterval > 0 {
		b.InitialInterval = o.cfg.Retry.InitialInterval
	}
	if o.cfg.Retry.MaxInterval > 0 {
		b.MaxInterval = o.cfg.Retry.MaxInterval
	}
	b.MaxElapsedTime = 0

	retries := o.cfg.Retry.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		actx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		err := fn(actx)
		if err != nil && isPermanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, next time.Duration) {
		o.log.Warn("operation failed, retrying",
			"operation", op,
			"attempt", attempt,
			"next_in", next.String(),
			"error", err.Error(),
		)
	})
}
