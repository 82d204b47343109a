package main

// ---------------------------------------------------------------------------
// cmd_forward.go — agent-side shipper: tail a log and publish it to the bus
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/rs/zerolog"
)

func cmdForward(args []string) {
	fs := flag.NewFlagSet("forward", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	file := fs.String("file", "", "Log file to ship")
	host := fs.String("host", "", "Host name the lines are published under (default: hostname)")
	fromStart := fs.Bool("from-start", false, "Ship the existing content too")
	fs.Parse(args)

	if *file == "" {
		errorf("--file is required")
	}
	if *host == "" {
		h, err := os.Hostname()
		if err != nil {
			errorf("--host is required: %v", err)
		}
		*host = h
	}

	cfg, logger := loadRuntime(*configPath, *logLevel)
	bus, err := core.NewLogBus(&cfg.Bus, logger)
	if err != nil {
		errorf("connecting to log bus: %v", err)
	}
	defer bus.Close()

	src, err := source.OpenFile(*file, source.FileOptions{Host: *host, FromStart: *fromStart}, cfg.Timeouts, logger)
	if err != nil {
		errorf("%v", err)
	}
	defer src.Close()

	ctx, stop := signalContext()
	defer stop()

	fmt.Fprintf(os.Stderr, "%s Forwarding %s as %s to %s\n", green("▸"), *file, *host, bus.URL())
	fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))

	n, err := forward(ctx, src, bus, cfg.Timeouts.PollInterval, logger)
	fmt.Fprintf(os.Stderr, "\n%s Forwarded %d lines.\n", green("✓"), n)
	if err != nil && !errors.Is(err, context.Canceled) {
		errorf("%v", err)
	}
}

// forward publishes every new line of src until ctx ends. A missing file
// is waited for rather than treated as fatal.
func forward(ctx context.Context, src source.Source, bus *core.LogBus, poll time.Duration, logger zerolog.Logger) (int, error) {
	sent := 0
	for {
		lines, err := src.ReadNewLines(ctx)
		for _, l := range lines {
			if perr := bus.PublishLine(l); perr != nil {
				logger.Warn().Err(perr).Msg("publish failed")
				continue
			}
			sent++
		}
		switch {
		case ctx.Err() != nil:
			return sent, ctx.Err()
		case errors.Is(err, source.ErrSourceUnavailable):
			logger.Warn().Err(err).Msg("log not available, waiting")
		case err != nil:
			return sent, err
		}
		if len(lines) > 0 {
			continue
		}

		t := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			t.Stop()
			return sent, ctx.Err()
		case <-t.C:
		}
	}
}
