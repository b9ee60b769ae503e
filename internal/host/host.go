// Package host owns the retry and notification policy around pipeline runs.
// Orchestrators never self-loop: on failure the host re-invokes the same run
// later, and the idempotency keys in the store make the re-run safe.
package host

import (
	"context"
	"sync"
	"time"

	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/notifier"
	"github.com/fielddb/fieldsync/internal/transfer"
	"github.com/sethvargo/go-retry"
)

type Host struct {
	notifier    notifier.Notifier
	maxAttempts uint64
	baseDelay   time.Duration

	mu      sync.Mutex
	pending string // last user-facing message still showing
}

func New(n notifier.Notifier, maxAttempts uint64, baseDelay time.Duration) *Host {
	return &Host{
		notifier:    n,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Notify surfaces a message to the user. Error notifications stay pending
// until Clear is called on a later success.
func (h *Host) Notify(ctx context.Context, message string, isError bool) {
	logger := logctx.LoggerFromContext(ctx)

	if isError {
		h.mu.Lock()
		if h.pending == message {
			// The user already saw this one; don't notify per attempt.
			h.mu.Unlock()

			return
		}

		h.pending = message
		h.mu.Unlock()
	}

	if h.notifier == nil {
		return
	}

	if err := h.notifier.Notify(message); err != nil {
		logger.Error("failed to send notification", "err", err)
	}
}

// Clear removes any pending notification. Called on definitive success.
func (h *Host) Clear(ctx context.Context) {
	h.mu.Lock()
	cleared := h.pending != ""
	h.pending = ""
	h.mu.Unlock()

	if cleared {
		logctx.LoggerFromContext(ctx).Debug("cleared pending notification")
	}
}

// Run re-delivers a unit of work with fibonacci backoff until it succeeds or
// attempts are exhausted. All failures are treated as retryable; correctness
// under re-delivery rests on the store's insert-if-absent idempotence.
func (h *Host) Run(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	logger := logctx.LoggerFromContext(ctx).With("run", name)

	backoff := retry.WithMaxRetries(h.maxAttempts, retry.NewFibonacci(h.baseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			logger.Warn("run failed, will re-deliver", "err", err)

			return retry.RetryableError(err)
		}

		return nil
	})
	if err != nil {
		h.Notify(ctx, transfer.UserMessage(err), true)

		return err
	}

	h.Clear(ctx)

	return nil
}
