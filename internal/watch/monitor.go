// Package watch implements the accumulating log monitor: it pulls lines
// from a source, applies a matcher to each, and succeeds once enough
// lines matched or fails with a TimeoutError carrying the partial results.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/match"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const defaultRecentLines = 20

// Monitor owns one source and the lines read from it that no watch has
// looked at yet. Successive watches on the same Monitor resume exactly
// where the previous one stopped, so a line is offered to a matcher at
// most once. Only one watch may run on a Monitor at a time.
type Monitor struct {
	src    source.Source
	policy core.TimeoutPolicy
	logger zerolog.Logger

	// pending is touched only by the watch holding busy.
	pending []core.LogLine
	busy    atomic.Bool

	mu      sync.Mutex
	closed  bool
	stop    context.CancelFunc
	stopped chan struct{}
}

// NewMonitor wraps src. The monitor takes ownership: Close closes src.
func NewMonitor(src source.Source, policy core.TimeoutPolicy, logger zerolog.Logger) *Monitor {
	return &Monitor{
		src:    src,
		policy: policy,
		logger: logger.With().Str("component", "watch").Str("source", src.Name()).Logger(),
	}
}

// Source returns the monitored source.
func (m *Monitor) Source() source.Source { return m.src }

// Close cancels the running watch, if any, waits for it to return and
// then releases the source. Watches started after Close fail with
// source.ErrClosed.
func (m *Monitor) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stop, stopped := m.stop, m.stopped
	m.mu.Unlock()

	if stop != nil {
		stop()
		<-stopped
	}
	return m.src.Close()
}

// begin registers the calling watch so Close can stop it.
func (m *Monitor) begin(ctx context.Context) (context.Context, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, fmt.Errorf("watching %s: %w", m.src.Name(), source.ErrClosed)
	}
	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	m.stop, m.stopped = cancel, stopped
	end := func() {
		m.mu.Lock()
		m.stop, m.stopped = nil, nil
		m.mu.Unlock()
		cancel()
		close(stopped)
	}
	return ctx, end, nil
}

// Options configures one watch.
type Options struct {
	// Count is the number of matches required; zero means one.
	Count int
	// Timeout bounds the whole watch. Zero or negative makes a single
	// non-blocking pass over what is already available.
	Timeout time.Duration
	// Accumulate keeps collecting matches from lines already read after
	// Count is reached instead of stopping at exactly Count.
	Accumulate bool
	// ErrorMessage prefixes the TimeoutError text.
	ErrorMessage string
	// RecentLines is how many observed lines a TimeoutError reports.
	RecentLines int
}

// Watch blocks until matcher has matched opts.Count lines from m's source
// or opts.Timeout elapses, returning the matches in arrival order.
func Watch[T any](ctx context.Context, m *Monitor, matcher match.Matcher[T], opts Options) ([]T, error) {
	s, err := NewSession(m, matcher, opts)
	if err != nil {
		return nil, err
	}
	return s.Run(ctx)
}

// Session is the state of one watch on a Monitor.
type Session[T any] struct {
	ID string

	mon     *Monitor
	matcher match.Matcher[T]
	opts    Options
	recent  *recentLines
	status  atomic.Int32
	results []T
}

// NewSession validates opts and prepares a watch without starting it.
func NewSession[T any](m *Monitor, matcher match.Matcher[T], opts Options) (*Session[T], error) {
	if opts.Count < 0 {
		return nil, fmt.Errorf("%w: count %d", ErrInvalidOptions, opts.Count)
	}
	if opts.Count == 0 {
		opts.Count = 1
	}
	if matcher == nil {
		return nil, fmt.Errorf("%w: nil matcher", ErrInvalidOptions)
	}
	if opts.RecentLines <= 0 {
		opts.RecentLines = defaultRecentLines
	}
	return &Session[T]{
		ID:      uuid.New().String(),
		mon:     m,
		matcher: matcher,
		opts:    opts,
		recent:  newRecentLines(opts.RecentLines),
	}, nil
}

// Status returns the session's current state. Safe to call concurrently
// with Run.
func (s *Session[T]) Status() Status { return Status(s.status.Load()) }

// Run executes the poll loop. A session runs at most once.
func (s *Session[T]) Run(ctx context.Context) ([]T, error) {
	m := s.mon
	if !m.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer m.busy.Store(false)

	if s.Status() != StatusPending {
		return nil, fmt.Errorf("%w: session %s already ran", ErrInvalidOptions, s.ID)
	}
	ctx, end, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer end()

	logger := m.logger.With().Str("session", s.ID).Logger()
	start := time.Now()
	deadline := start
	if s.opts.Timeout > 0 {
		deadline = start.Add(s.opts.Timeout)
	}
	readCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	logger.Debug().
		Int("count", s.opts.Count).
		Dur("timeout", s.opts.Timeout).
		Bool("accumulate", s.opts.Accumulate).
		Int("pending", len(m.pending)).
		Msg("watch started")

	for {
		if s.consume() {
			return s.satisfied(logger, start), nil
		}

		lines, err := m.src.ReadNewLines(readCtx)
		m.pending = append(m.pending, lines...)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return s.cancelled(logger, ctx.Err())
			case readCtx.Err() != nil:
				// Lines can arrive together with the deadline error.
				if s.consume() {
					return s.satisfied(logger, start), nil
				}
				return nil, s.timedOut(logger, start)
			}
			s.status.Store(int32(StatusFailed))
			logger.Error().Err(err).Msg("watch failed reading source")
			return nil, fmt.Errorf("watching %s: %w", m.src.Name(), err)
		}

		if len(lines) > 0 && s.consume() {
			return s.satisfied(logger, start), nil
		}
		if ctx.Err() != nil {
			return s.cancelled(logger, ctx.Err())
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, s.timedOut(logger, start)
		}
		if len(lines) > 0 {
			continue
		}

		wait := m.policy.PollInterval
		if wait <= 0 || wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.cancelled(logger, ctx.Err())
		case <-timer.C:
		}
	}
}

// consume feeds pending lines to the matcher and reports whether the
// target count is reached. Without Accumulate it stops at exactly Count
// matches and leaves the rest pending for the next watch.
func (s *Session[T]) consume() bool {
	m := s.mon
	i := 0
	for ; i < len(m.pending); i++ {
		if !s.opts.Accumulate && len(s.results) >= s.opts.Count {
			break
		}
		line := m.pending[i]
		s.recent.add(line)
		if v, ok := s.matcher(line); ok {
			s.results = append(s.results, v)
		}
	}
	if i == len(m.pending) {
		m.pending = nil
	} else {
		m.pending = append([]core.LogLine(nil), m.pending[i:]...)
	}
	return len(s.results) >= s.opts.Count
}

func (s *Session[T]) satisfied(logger zerolog.Logger, start time.Time) []T {
	s.status.Store(int32(StatusSatisfied))
	logger.Debug().
		Int("matches", len(s.results)).
		Dur("elapsed", time.Since(start)).
		Msg("watch satisfied")
	return s.results
}

func (s *Session[T]) timedOut(logger zerolog.Logger, start time.Time) error {
	s.status.Store(int32(StatusTimedOut))
	err := &TimeoutError[T]{
		Session: s.ID,
		Source:  s.mon.src.Name(),
		Message: s.opts.ErrorMessage,
		Want:    s.opts.Count,
		Partial: s.results,
		Elapsed: time.Since(start),
		Recent:  s.recent.last(s.opts.RecentLines),
	}
	logger.Warn().
		Int("matches", len(s.results)).
		Int("want", s.opts.Count).
		Dur("elapsed", err.Elapsed).
		Str("message", s.opts.ErrorMessage).
		Msg("watch timed out")
	return err
}

func (s *Session[T]) cancelled(logger zerolog.Logger, cause error) ([]T, error) {
	s.status.Store(int32(StatusCancelled))
	logger.Debug().Err(cause).Int("matches", len(s.results)).Msg("watch cancelled")
	if errors.Is(cause, context.DeadlineExceeded) {
		return nil, fmt.Errorf("watch on %s: %w", s.mon.src.Name(), cause)
	}
	return nil, cause
}
