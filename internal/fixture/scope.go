// Package fixture provides the setup and teardown plumbing for tests
// against the product: scoped resource release, a per-test environment
// and YAML case tables.
package fixture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// Scope releases acquired resources in reverse order of acquisition.
type Scope struct {
	logger zerolog.Logger

	mu       sync.Mutex
	releases []release
	closed   bool
}

type release struct {
	name string
	fn   func() error
}

// NewScope creates an empty scope.
func NewScope(logger zerolog.Logger) *Scope {
	return &Scope{logger: logger.With().Str("component", "fixture").Logger()}
}

// Defer registers fn to run on Close. Registering on a closed scope runs
// fn immediately.
func (s *Scope) Defer(name string, fn func() error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if err := fn(); err != nil {
			s.logger.Warn().Err(err).Str("resource", name).Msg("release after scope closed failed")
		}
		return
	}
	s.releases = append(s.releases, release{name: name, fn: fn})
	s.mu.Unlock()
}

// Close runs every release function, last registered first, and joins
// their errors. Later calls do nothing.
func (s *Scope) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	releases := s.releases
	s.releases = nil
	s.mu.Unlock()

	var errs []error
	for i := len(releases) - 1; i >= 0; i-- {
		r := releases[i]
		if err := r.fn(); err != nil {
			s.logger.Warn().Err(err).Str("resource", r.name).Msg("release failed")
			errs = append(errs, fmt.Errorf("releasing %s: %w", r.name, err))
			continue
		}
		s.logger.Debug().Str("resource", r.name).Msg("released")
	}
	return errors.Join(errs...)
}

// Acquire runs acquire and, on success, registers the release it returned.
func Acquire[T any](s *Scope, name string, acquire func() (T, func() error, error)) (T, error) {
	v, rel, err := acquire()
	if err != nil {
		var zero T
		return zero, fmt.Errorf("acquiring %s: %w", name, err)
	}
	if rel != nil {
		s.Defer(name, rel)
	}
	return v, nil
}
