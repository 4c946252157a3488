package resilience

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy describes a bounded exponential backoff schedule for
// StateStore writes contending on SQLite's single-writer lock.
type RetryPolicy struct {
	Initial    time.Duration
	Multiplier float64
	Cap        time.Duration
	MaxRetries uint64
}

// DefaultStateStoreRetry is the StateStore backoff decorator's default
// schedule: 100ms initial, doubling, capped at 2s, three retries.
var DefaultStateStoreRetry = RetryPolicy{
	Initial:    100 * time.Millisecond,
	Multiplier: 2,
	Cap:        2 * time.Second,
	MaxRetries: 3,
}

// WithRetry runs fn under the given policy, retrying only errors classified
// as transient by IsTransient. Structural errors (constraint violations,
// missing rows, context cancellation) propagate immediately.
func WithRetry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(p.Initial)
	b = retry.WithCappedDuration(p.Cap, b)
	b = retry.WithMaxRetries(p.MaxRetries, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

// IsTransient reports whether err is a SQLite busy/locked condition worth
// retrying rather than a structural failure. It matches on message content
// rather than the driver's error type to avoid a direct build-time
// dependency on the sqlite3 driver package from this package.
func IsTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "busy")
}
