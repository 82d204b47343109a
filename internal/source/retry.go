package source

import (
	"context"
	"errors"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
)

// errTransient marks errors Retry should try again on.
type errTransient struct{ err error }

func (e errTransient) Error() string { return e.err.Error() }
func (e errTransient) Unwrap() error { return e.err }

// Transient wraps err so Retry treats it as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return errTransient{err: err}
}

// Retry calls fn until it succeeds, returns a non-transient error, or
// policy.SourceRetries attempts are used up. Waits between attempts grow
// per policy.Backoff and are cut short by ctx.
func Retry(ctx context.Context, name string, policy core.TimeoutPolicy, fn func() error) error {
	attempts := policy.SourceRetries
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 0; i < attempts; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		var te errTransient
		if !errors.As(err, &te) {
			return err
		}
		last = te.err

		if i == attempts-1 {
			break
		}
		timer := time.NewTimer(policy.Backoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return &UnavailableError{Source: name, Attempts: attempts, Err: last}
}
