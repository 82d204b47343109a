package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/rs/zerolog"
)

// Script drives daemons through a control script invoked as
// "<script> <action> [daemon]". An empty name addresses every daemon.
type Script struct {
	path   string
	policy core.TimeoutPolicy
	logger zerolog.Logger
}

// NewScript creates a controller for the script at path.
func NewScript(path string, policy core.TimeoutPolicy, logger zerolog.Logger) *Script {
	return &Script{
		path:   path,
		policy: policy,
		logger: logger.With().Str("component", "control_script").Str("script", path).Logger(),
	}
}

func (s *Script) Start(ctx context.Context, name string) error {
	if state, err := s.State(ctx, name); err == nil && state == StateActive {
		return fmt.Errorf("%s start %s: %w", s.path, name, ErrAlreadyInState)
	}
	_, err := s.exec(ctx, ActionStart, name)
	return err
}

func (s *Script) Stop(ctx context.Context, name string) error {
	if state, err := s.State(ctx, name); err == nil && state == StateInactive {
		return fmt.Errorf("%s stop %s: %w", s.path, name, ErrAlreadyInState)
	}
	_, err := s.exec(ctx, ActionStop, name)
	return err
}

func (s *Script) Restart(ctx context.Context, name string) error {
	_, err := s.exec(ctx, ActionRestart, name)
	return err
}

// State parses "status" output lines of the form "<daemon> is running..."
// and "<daemon> not running...". With an empty name the result is active
// only when every listed daemon runs.
func (s *Script) State(ctx context.Context, name string) (State, error) {
	out, err := s.exec(ctx, "status", "")
	if err != nil && len(out) == 0 {
		return StateUnknown, err
	}

	seen := false
	running := true
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		daemon, rest, ok := strings.Cut(line, " ")
		if !ok || (name != "" && daemon != name) {
			continue
		}
		switch {
		case strings.HasPrefix(rest, "is running"):
			seen = true
		case strings.HasPrefix(rest, "not running"):
			seen = true
			running = false
		}
	}
	if !seen {
		return StateUnknown, nil
	}
	if running {
		return StateActive, nil
	}
	return StateInactive, nil
}

func (s *Script) exec(ctx context.Context, action, name string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Timeout("service_control"))
	defer cancel()

	args := []string{action}
	if name != "" {
		args = append(args, name)
	}
	out, err := exec.CommandContext(ctx, s.path, args...).CombinedOutput()
	if err != nil {
		s.logger.Debug().Err(err).Str("action", action).Str("daemon", name).Bytes("output", out).Msg("control script failed")
		return out, fmt.Errorf("%s %s: %w: %s", s.path, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	s.logger.Debug().Str("action", action).Str("daemon", name).Msg("control script done")
	return out, nil
}
