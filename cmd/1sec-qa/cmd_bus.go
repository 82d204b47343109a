package main

// ---------------------------------------------------------------------------
// cmd_bus.go — run the embedded NATS JetStream log bus
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/1sec-project/1sec-qa/internal/core"
)

func cmdBus(args []string) {
	fs := flag.NewFlagSet("bus", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	port := fs.Int("port", 0, "Listen port (default: bus.port)")
	dataDir := fs.String("data-dir", "", "JetStream storage directory (default: bus.data_dir)")
	fs.Parse(args)

	cfg, logger := loadRuntime(*configPath, *logLevel)
	cfg.Bus.Embedded = true
	if *port != 0 {
		cfg.Bus.Port = *port
	}
	if *dataDir != "" {
		cfg.Bus.DataDir = *dataDir
	}

	bus, err := core.NewLogBus(&cfg.Bus, logger)
	if err != nil {
		errorf("starting log bus: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%s Log bus listening on %s\n", green("✓"), bus.URL())
	fmt.Fprintf(os.Stderr, "%s Press Ctrl+C to stop\n", dim("▸"))

	ctx, stop := signalContext()
	defer stop()
	<-ctx.Done()

	fmt.Fprintf(os.Stderr, "\n%s Stopping log bus...\n", dim("▸"))
	m := bus.GetMetrics()
	if err := bus.Close(); err != nil {
		warnf("closing bus: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%s Log bus stopped (%d lines published).\n", green("✓"), m["lines_published"])
}
