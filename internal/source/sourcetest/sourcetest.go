// Package sourcetest provides an in-memory source.Source for tests.
package sourcetest

import (
	"context"
	"sync"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/source"
)

// Source hands out queued batches, one per ReadNewLines call, and records
// how it was used. It is safe for concurrent use.
type Source struct {
	name string
	host string

	mu      sync.Mutex
	batches [][]core.LogLine
	reads   int
	closed  bool
	err     error
}

// New returns an empty source named name whose lines are tagged with host.
func New(name, host string) *Source {
	return &Source{name: name, host: host}
}

// Lines builds a source whose first read returns texts in one batch.
func Lines(texts ...string) *Source {
	s := New("sourcetest", "localhost")
	s.Push(texts...)
	return s
}

// Push queues texts as one batch.
func (s *Source) Push(texts ...string) {
	batch := make([]core.LogLine, 0, len(texts))
	for _, t := range texts {
		batch = append(batch, core.NewLogLine(s.host, s.name, t))
	}
	s.mu.Lock()
	s.batches = append(s.batches, batch)
	s.mu.Unlock()
}

// PushEach queues every text as its own batch, one line per read.
func (s *Source) PushEach(texts ...string) {
	for _, t := range texts {
		s.Push(t)
	}
}

// FailWith makes subsequent reads return err.
func (s *Source) FailWith(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Source) Name() string { return s.name }

func (s *Source) ReadNewLines(ctx context.Context) ([]core.LogLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, source.ErrClosed
	}
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	if len(s.batches) == 0 {
		return nil, nil
	}
	batch := s.batches[0]
	s.batches = s.batches[1:]
	return batch, nil
}

func (s *Source) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Reads returns how many times ReadNewLines ran on an open source.
func (s *Source) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// Closed reports whether Close was called.
func (s *Source) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending returns the number of batches not yet read.
func (s *Source) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.batches)
}
