// Package source abstracts where new log lines come from: a local file
// tail, a remote host stream on the log bus, a syslog listener, or a
// CloudWatch Logs stream. Every source keeps its own monotonic cursor;
// lines handed out by ReadNewLines are never returned again.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/1sec-project/1sec-qa/internal/core"
)

// Source yields log lines that appeared since the previous call.
type Source interface {
	// Name identifies the source in logs and diagnostics.
	Name() string
	// ReadNewLines returns the lines available now, possibly none. It
	// blocks only while retrying a temporarily absent underlying stream.
	ReadNewLines(ctx context.Context) ([]core.LogLine, error)
	// Close releases the underlying handle. Further reads fail.
	Close() error
}

var (
	// ErrSourceUnavailable matches any UnavailableError.
	ErrSourceUnavailable = errors.New("log source unavailable")
	// ErrClosed is returned when reading from a closed source.
	ErrClosed = errors.New("log source closed")
)

// UnavailableError reports a source that stayed absent through every retry.
type UnavailableError struct {
	Source   string
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s unavailable after %d attempts: %v", e.Source, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

func (e *UnavailableError) Is(target error) bool { return target == ErrSourceUnavailable }
