package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/1sec-project/1sec-qa/internal/match"
)

// Handle is the eventual result of an operation running in the
// background. Result may be called any number of times; once the
// operation has finished it always returns the same value.
type Handle[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	val    T
	err    error
}

// Go runs fn in a new goroutine and returns a handle to its result. The
// context passed to fn is cancelled by Handle.Cancel.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) *Handle[T] {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle[T]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(h.done)
		defer cancel()
		h.val, h.err = fn(ctx)
	}()
	return h
}

// Start begins a watch in the background. The source offset is fixed by
// the Monitor, so lines written after Start returns are always seen.
func Start[T any](ctx context.Context, m *Monitor, matcher match.Matcher[T], opts Options) *Handle[[]T] {
	return Go(ctx, func(ctx context.Context) ([]T, error) {
		return Watch(ctx, m, matcher, opts)
	})
}

// Done is closed once the operation has finished.
func (h *Handle[T]) Done() <-chan struct{} { return h.done }

// Result waits up to block for the operation to finish. With block <= 0
// it does not wait. ErrNotReady is returned if the operation is still
// running.
func (h *Handle[T]) Result(block time.Duration) (T, error) {
	if block <= 0 {
		select {
		case <-h.done:
			return h.val, h.err
		default:
			var zero T
			return zero, ErrNotReady
		}
	}

	timer := time.NewTimer(block)
	defer timer.Stop()
	select {
	case <-h.done:
		return h.val, h.err
	case <-timer.C:
		var zero T
		return zero, fmt.Errorf("%w after %s", ErrNotReady, block)
	}
}

// Wait blocks until the operation finishes or ctx is done.
func (h *Handle[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-h.done:
		return h.val, h.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops the operation and waits for it to return.
func (h *Handle[T]) Cancel() {
	h.cancel()
	<-h.done
}
