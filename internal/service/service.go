// Package service starts, stops and inspects the product's daemons, either
// as systemd units over D-Bus or through the product's control script.
package service

import (
	"context"
	"errors"
	"fmt"
)

// State is a unit's activity as systemd reports it.
type State string

const (
	StateActive       State = "active"
	StateInactive     State = "inactive"
	StateActivating   State = "activating"
	StateDeactivating State = "deactivating"
	StateFailed       State = "failed"
	StateUnknown      State = "unknown"
)

// Actions accepted by Do.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
)

var (
	// ErrAlreadyInState is returned when starting a running unit or
	// stopping a stopped one.
	ErrAlreadyInState = errors.New("service already in requested state")
	// ErrUnknownAction is returned by Do for anything but start, stop or restart.
	ErrUnknownAction = errors.New("unknown service action")
)

// Controller drives one service manager.
type Controller interface {
	Start(ctx context.Context, name string) error
	Stop(ctx context.Context, name string) error
	Restart(ctx context.Context, name string) error
	State(ctx context.Context, name string) (State, error)
}

// Do dispatches a named action to c.
func Do(ctx context.Context, c Controller, action, name string) error {
	switch action {
	case ActionStart:
		return c.Start(ctx, name)
	case ActionStop:
		return c.Stop(ctx, name)
	case ActionRestart:
		return c.Restart(ctx, name)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
