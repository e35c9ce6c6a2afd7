package composer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"presence-agent/internal/core/domain"
)

const defaultSendRetries = 3

// retryable is implemented by platform errors that know whether a resend may help.
type retryable interface {
	Retryable() bool
}

// SendQueue lets exactly one platform-mutating call run at a time. Waiters are
// served in arrival order. Retryable failures are retried with backoff while
// the slot is held, so a retry never interleaves with another send.
type SendQueue struct {
	sem        *semaphore.Weighted
	newBackOff func() backoff.BackOff
	retries    uint64
	logger     *slog.Logger
}

func NewSendQueue(logger *slog.Logger) *SendQueue {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &SendQueue{
		sem: semaphore.NewWeighted(1),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = 30 * time.Second
			b.MaxElapsedTime = 2 * time.Minute
			return b
		},
		retries: defaultSendRetries,
		logger:  logger,
	}
}

// WithBackOff replaces the retry policy.
func (q *SendQueue) WithBackOff(retries uint64, newBackOff func() backoff.BackOff) *SendQueue {
	q.retries = retries
	q.newBackOff = newBackOff
	return q
}

// Do runs send once the queue is free.
func (q *SendQueue) Do(ctx context.Context, name string, send func(context.Context) (domain.PlatformResult, error)) (domain.PlatformResult, error) {
	if err := q.sem.Acquire(ctx, 1); err != nil {
		return domain.PlatformResult{}, fmt.Errorf("wait for send slot: %w", err)
	}
	defer q.sem.Release(1)

	var res domain.PlatformResult
	op := func() error {
		r, err := send(ctx)
		if err != nil {
			var rt retryable
			if errors.As(err, &rt) && !rt.Retryable() {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	}
	notify := func(err error, wait time.Duration) {
		q.logger.Warn("send_retry", "name", name, "wait", wait.String(), "error", err)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(q.newBackOff(), q.retries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		return domain.PlatformResult{}, fmt.Errorf("%s: %w", name, err)
	}
	return res, nil
}
