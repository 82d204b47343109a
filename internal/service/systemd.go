package service

import (
	"context"
	"fmt"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/coreos/go-systemd/v22/dbus"
	"github.com/rs/zerolog"
)

// unitConn is the subset of *dbus.Conn the controller uses.
type unitConn interface {
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]dbus.UnitStatus, error)
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	RestartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	Close()
}

// Systemd controls units through the system bus. Each call opens its own
// connection.
type Systemd struct {
	policy core.TimeoutPolicy
	logger zerolog.Logger
	dial   func(ctx context.Context) (unitConn, error)
}

// NewSystemd creates a controller for the system instance of systemd.
func NewSystemd(policy core.TimeoutPolicy, logger zerolog.Logger) *Systemd {
	return &Systemd{
		policy: policy,
		logger: logger.With().Str("component", "systemd").Logger(),
		dial: func(ctx context.Context) (unitConn, error) {
			conn, err := dbus.NewWithContext(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

func (s *Systemd) Start(ctx context.Context, name string) error {
	return s.run(ctx, ActionStart, name)
}

func (s *Systemd) Stop(ctx context.Context, name string) error {
	return s.run(ctx, ActionStop, name)
}

func (s *Systemd) Restart(ctx context.Context, name string) error {
	return s.run(ctx, ActionRestart, name)
}

func (s *Systemd) State(ctx context.Context, name string) (State, error) {
	conn, err := s.dial(ctx)
	if err != nil {
		return StateUnknown, fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()
	return unitState(ctx, conn, name)
}

func unitState(ctx context.Context, conn unitConn, name string) (State, error) {
	units, err := conn.ListUnitsByNamesContext(ctx, []string{name})
	if err != nil {
		return StateUnknown, fmt.Errorf("list units: %w", err)
	}
	for _, u := range units {
		if u.Name != name {
			continue
		}
		switch State(u.ActiveState) {
		case StateActive, StateInactive, StateActivating, StateDeactivating, StateFailed:
			return State(u.ActiveState), nil
		}
	}
	return StateUnknown, nil
}

func (s *Systemd) run(ctx context.Context, action, name string) error {
	ctx, cancel := context.WithTimeout(ctx, s.policy.Timeout("service_control"))
	defer cancel()

	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("dbus connect: %w", err)
	}
	defer conn.Close()

	if action != ActionRestart {
		state, err := unitState(ctx, conn, name)
		if err != nil {
			return err
		}
		if (action == ActionStart && state == StateActive) || (action == ActionStop && state == StateInactive) {
			return fmt.Errorf("systemd %s %s: %w (%s)", action, name, ErrAlreadyInState, state)
		}
	}

	ch := make(chan string, 1)
	switch action {
	case ActionStart:
		_, err = conn.StartUnitContext(ctx, name, "replace", ch)
	case ActionStop:
		_, err = conn.StopUnitContext(ctx, name, "replace", ch)
	case ActionRestart:
		_, err = conn.RestartUnitContext(ctx, name, "replace", ch)
	}
	if err != nil {
		return fmt.Errorf("systemd %s %s: %w", action, name, err)
	}

	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("systemd %s %s: job result %q", action, name, result)
		}
	case <-ctx.Done():
		return fmt.Errorf("systemd %s %s: %w", action, name, ctx.Err())
	}

	s.logger.Info().Str("unit", name).Str("action", action).Msg("unit job done")
	return nil
}
