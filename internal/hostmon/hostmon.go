// Package hostmon watches several hosts at once. Each host gets its own
// source and works through its expected messages in order; the first host
// to miss a message fails the whole run and stops the others.
package hostmon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/match"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidTimeout is returned by Run for a zero or negative global timeout.
var ErrInvalidTimeout = errors.New("global timeout must be positive")

// SourceFunc opens a fresh source for host's log.
type SourceFunc func(host string) (source.Source, error)

// HostFailure reports the host and expectation that failed a run. Index is
// -1 when the host's source could not be opened.
type HostFailure struct {
	Host  string
	Index int
	Regex string
	Err   error
}

func (e *HostFailure) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("host %s: %v", e.Host, e.Err)
	}
	return fmt.Sprintf("host %s: expectation %d (%s): %v", e.Host, e.Index, e.Regex, e.Err)
}

func (e *HostFailure) Unwrap() error { return e.Err }

// HostResult is what one host produced.
type HostResult struct {
	Host string
	// Matched holds the text each satisfied expectation matched.
	Matched []string
	// Skipped lists indexes of optional expectations that timed out.
	Skipped []int
	Elapsed time.Duration
}

// Report aggregates a successful run.
type Report struct {
	ID      string
	Hosts   map[string]HostResult
	Elapsed time.Duration
}

// Monitor runs plans against sources produced by a SourceFunc.
type Monitor struct {
	open   SourceFunc
	policy core.TimeoutPolicy
	logger zerolog.Logger
}

// New creates a host monitor.
func New(open SourceFunc, policy core.TimeoutPolicy, logger zerolog.Logger) *Monitor {
	return &Monitor{
		open:   open,
		policy: policy,
		logger: logger.With().Str("component", "hostmon").Logger(),
	}
}

// Run watches every host in plan concurrently. No expectation may run past
// globalTimeout. On the first failure the remaining hosts are cancelled and
// Run returns once all of them have released their sources.
func (m *Monitor) Run(ctx context.Context, plan Plan, globalTimeout time.Duration) (*Report, error) {
	if globalTimeout <= 0 {
		return nil, ErrInvalidTimeout
	}
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	report := &Report{ID: uuid.New().String(), Hosts: make(map[string]HostResult, len(plan))}
	logger := m.logger.With().Str("run", report.ID).Logger()
	start := time.Now()
	deadline := start.Add(globalTimeout)

	logger.Info().Int("hosts", len(plan)).Dur("timeout", globalTimeout).Msg("host monitor started")

	results := make(chan HostResult, len(plan))
	g, gctx := errgroup.WithContext(ctx)
	for _, host := range plan.Hosts() {
		host := host
		exps := plan[host]
		g.Go(func() error {
			res, err := m.runHost(gctx, host, exps, deadline, logger)
			if err != nil {
				return err
			}
			results <- res
			return nil
		})
	}

	err := g.Wait()
	close(results)
	report.Elapsed = time.Since(start)
	if err != nil {
		logger.Warn().Err(err).Dur("elapsed", report.Elapsed).Msg("host monitor failed")
		return nil, err
	}

	for res := range results {
		report.Hosts[res.Host] = res
	}
	logger.Info().Dur("elapsed", report.Elapsed).Msg("host monitor passed")
	return report, nil
}

func (m *Monitor) runHost(ctx context.Context, host string, exps []Expectation, deadline time.Time, logger zerolog.Logger) (HostResult, error) {
	res := HostResult{Host: host}
	start := time.Now()
	logger = logger.With().Str("host", host).Logger()

	src, err := m.open(host)
	if err != nil {
		return res, &HostFailure{Host: host, Index: -1, Err: fmt.Errorf("opening source: %w", err)}
	}
	mon := watch.NewMonitor(src, m.policy, logger)
	defer mon.Close()

	for i, exp := range exps {
		matcher, err := match.RegexE(exp.Regex)
		if err != nil {
			return res, &HostFailure{Host: host, Index: i, Regex: exp.Regex, Err: err}
		}

		timeout := exp.Timeout
		if timeout <= 0 {
			timeout = m.policy.DefaultTimeout
		}
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}

		got, err := watch.Watch(ctx, mon, matcher, watch.Options{
			Timeout:      timeout,
			ErrorMessage: fmt.Sprintf("%s did not log %q", host, exp.Regex),
		})
		if err != nil {
			if exp.Optional && errors.Is(err, watch.ErrMonitorTimeout) {
				logger.Debug().Int("index", i).Str("regex", exp.Regex).Msg("optional expectation skipped")
				res.Skipped = append(res.Skipped, i)
				continue
			}
			return res, &HostFailure{Host: host, Index: i, Regex: exp.Regex, Err: err}
		}
		res.Matched = append(res.Matched, got[0][0])
		logger.Debug().Int("index", i).Str("line", got[0][0]).Msg("expectation matched")
	}

	res.Elapsed = time.Since(start)
	return res, nil
}
