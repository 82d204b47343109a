package main

// ---------------------------------------------------------------------------
// helpers.go — TTY detection, color, error helpers, config and transports
// ---------------------------------------------------------------------------

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// TTY / color helpers
// ---------------------------------------------------------------------------

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}

func colorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	if os.Getenv("TERM") == "dumb" {
		return false
	}
	return isTTY(os.Stderr)
}

func ansi(code, s string) string {
	if !colorEnabled() {
		return s
	}
	return code + s + "\033[0m"
}

func red(s string) string    { return ansi("\033[91m", s) }
func yellow(s string) string { return ansi("\033[93m", s) }
func green(s string) string  { return ansi("\033[32m", s) }
func dim(s string) string    { return ansi("\033[90m", s) }
func bold(s string) string   { return ansi("\033[1m", s) }

// ---------------------------------------------------------------------------
// Error / warn helpers (always to stderr)
// ---------------------------------------------------------------------------

func errorf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, red("error: ")+format+"\n", args...)
	os.Exit(1)
}

func warnf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, yellow("warn: ")+format+"\n", args...)
}

// ---------------------------------------------------------------------------
// Config and runtime
//
// Environment variables:
//   ONESEC_QA_CONFIG    — default config file path
//   ONESEC_QA_BUS_URL   — log bus URL (applied by core.LoadConfig)
//   ONESEC_QA_LOG_LEVEL — log level (applied by core.LoadConfig)
// ---------------------------------------------------------------------------

const defaultConfigPath = "configs/default.yaml"

// envConfig returns the config path, preferring flag > env > default.
func envConfig(flagVal string) string {
	if flagVal != "" && flagVal != defaultConfigPath {
		return flagVal
	}
	if e := os.Getenv("ONESEC_QA_CONFIG"); e != "" {
		return e
	}
	return flagVal
}

// loadRuntime loads the config and builds the stderr logger every command
// logs through.
func loadRuntime(configPath, logLevel string) (*core.Config, zerolog.Logger) {
	cfg, err := core.LoadConfig(envConfig(configPath))
	if err != nil {
		errorf("loading config: %v", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, core.NewLogger(cfg.Logging, os.Stderr)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// transports holds the shared connections sources of each kind need.
type transports struct {
	bus    *core.LogBus
	syslog *source.SyslogListener
}

func (t *transports) Close() {
	if t.syslog != nil {
		t.syslog.Stop()
	}
	if t.bus != nil {
		t.bus.Close()
	}
}

// newOpener builds a source opener with only the transports the given
// kinds require.
func newOpener(ctx context.Context, cfg *core.Config, logger zerolog.Logger, kinds ...string) (*source.Opener, *transports, error) {
	opener := &source.Opener{Policy: cfg.Timeouts, Logger: logger, BusBuffer: cfg.Bus.Buffer}
	t := &transports{}
	need := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		need[k] = true
	}

	if need[source.KindBus] {
		bus, err := core.NewLogBus(&cfg.Bus, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to log bus: %w", err)
		}
		t.bus = bus
		opener.Bus = bus
	}
	if need[source.KindSyslog] {
		l := source.NewSyslogListener(&cfg.Syslog, logger)
		if err := l.Start(ctx); err != nil {
			t.Close()
			return nil, nil, err
		}
		t.syslog = l
		opener.Syslog = l
	}
	if need[source.KindCloudWatch] {
		client, err := source.NewCloudWatchClient(cfg.AWS)
		if err != nil {
			t.Close()
			return nil, nil, fmt.Errorf("creating CloudWatch client: %w", err)
		}
		opener.CloudWatch = client
	}
	return opener, t, nil
}

// ---------------------------------------------------------------------------
// Suggest — typo correction for unknown commands
// ---------------------------------------------------------------------------

func suggest(input string) string {
	input = strings.ToLower(input)
	if input == "" {
		return ""
	}
	for _, c := range commands {
		if strings.HasPrefix(c.name, input) || strings.HasPrefix(input, c.name) {
			return c.name
		}
	}
	for _, c := range commands {
		if len(c.name) == len(input) {
			diff := 0
			for i := range c.name {
				if c.name[i] != input[i] {
					diff++
				}
			}
			if diff <= 1 {
				return c.name
			}
		}
	}
	return ""
}
