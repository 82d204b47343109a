package watch

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
)

var (
	// ErrMonitorTimeout matches every TimeoutError regardless of its payload type.
	ErrMonitorTimeout = errors.New("monitor timeout")
	// ErrBusy is returned when a second watch starts on a Monitor that is
	// already being watched.
	ErrBusy = errors.New("monitor already has an active watch")
	// ErrInvalidOptions is returned for a negative target count.
	ErrInvalidOptions = errors.New("invalid watch options")
	// ErrNotReady is returned by Handle.Result when the operation has not
	// finished within the caller's block timeout.
	ErrNotReady = errors.New("result not ready")
)

// TimeoutError reports a watch that ran out of time before collecting its
// target count. Partial holds whatever matched, in arrival order.
type TimeoutError[T any] struct {
	Session string
	Source  string
	Message string
	Want    int
	Partial []T
	Elapsed time.Duration
	Recent  []core.LogLine
}

func (e *TimeoutError[T]) Error() string {
	var b strings.Builder
	if e.Message != "" {
		b.WriteString(e.Message)
		b.WriteString(": ")
	}
	fmt.Fprintf(&b, "%d of %d matches on %s after %s", len(e.Partial), e.Want, e.Source, e.Elapsed.Round(time.Millisecond))
	if len(e.Recent) > 0 {
		fmt.Fprintf(&b, "; last %d lines:", len(e.Recent))
		for _, l := range e.Recent {
			b.WriteString("\n  ")
			b.WriteString(l.String())
		}
	}
	return b.String()
}

func (e *TimeoutError[T]) Is(target error) bool { return target == ErrMonitorTimeout }
