package fixture

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"testing"

	"github.com/1sec-project/1sec-qa/internal/confstore"
	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/service"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/rs/zerolog"
)

// Env is the state one test works against. Everything it acquires is
// released when the test ends.
type Env struct {
	Config *core.Config
	Logger zerolog.Logger
	Scope  *Scope
	Opener *source.Opener
}

// NewEnv builds an environment whose scope closes in t's cleanup. A nil
// cfg uses the defaults.
func NewEnv(t testing.TB, cfg *core.Config) *Env {
	t.Helper()
	if cfg == nil {
		cfg = core.DefaultConfig()
	}
	logger := zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.InfoLevel)
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel()); err == nil {
		logger = logger.Level(lvl)
	}

	env := &Env{
		Config: cfg,
		Logger: logger,
		Scope:  NewScope(logger),
		Opener: &source.Opener{Policy: cfg.Timeouts, Logger: logger, BusBuffer: cfg.Bus.Buffer},
	}
	t.Cleanup(func() {
		if err := env.Scope.Close(); err != nil {
			t.Errorf("fixture teardown: %v", err)
		}
	})
	return env
}

// Monitor opens target and wraps it in a monitor closed at teardown.
func (e *Env) Monitor(target source.Target) (*watch.Monitor, error) {
	return Acquire(e.Scope, "monitor "+target.Kind+":"+target.Host, func() (*watch.Monitor, func() error, error) {
		src, err := e.Opener.Open(target)
		if err != nil {
			return nil, nil, err
		}
		mon := watch.NewMonitor(src, e.Config.Timeouts, e.Logger)
		return mon, mon.Close, nil
	})
}

// ProductLog monitors the product's own log file.
func (e *Env) ProductLog() (*watch.Monitor, error) {
	return e.Monitor(source.Target{Kind: source.KindFile, Host: "localhost", Path: e.Config.Product.LogFile})
}

// ApplyConfig replaces the file at path with data until teardown.
func (e *Env) ApplyConfig(path string, data []byte) error {
	_, err := Acquire(e.Scope, "config "+path, func() (struct{}, func() error, error) {
		restore, err := confstore.New(path, e.Logger).Apply(data)
		return struct{}{}, restore, err
	})
	return err
}

// SetInternalOptions merges opts into the product's internal options
// file until teardown.
func (e *Env) SetInternalOptions(opts map[string]string) error {
	path := e.Config.Product.InternalOptions
	_, err := Acquire(e.Scope, "internal options", func() (struct{}, func() error, error) {
		restore, err := confstore.New(path, e.Logger).SetInternalOptions(opts)
		return struct{}{}, restore, err
	})
	return err
}

// RunService restarts name now and stops it at teardown.
func (e *Env) RunService(ctx context.Context, ctl service.Controller, name string) error {
	_, err := Acquire(e.Scope, "service "+name, func() (struct{}, func() error, error) {
		if err := ctl.Restart(ctx, name); err != nil {
			return struct{}{}, nil, err
		}
		stop := func() error {
			err := ctl.Stop(context.Background(), name)
			if errors.Is(err, service.ErrAlreadyInState) {
				return nil
			}
			return err
		}
		return struct{}{}, stop, nil
	})
	return err
}

// Truncate empties the file at path, creating it if needed.
func Truncate(path string) error {
	err := os.Truncate(path, 0)
	if errors.Is(err, fs.ErrNotExist) {
		return os.WriteFile(path, nil, 0644)
	}
	if err != nil {
		return fmt.Errorf("truncating %s: %w", path, err)
	}
	return nil
}

// TruncateLogs empties the product log now and again at teardown.
func (e *Env) TruncateLogs() error {
	path := e.Config.Product.LogFile
	if err := Truncate(path); err != nil {
		return err
	}
	e.Scope.Defer("truncate "+path, func() error { return Truncate(path) })
	return nil
}
