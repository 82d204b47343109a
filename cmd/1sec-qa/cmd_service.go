package main

// ---------------------------------------------------------------------------
// cmd_service.go — start, stop, restart or inspect a product service
// ---------------------------------------------------------------------------

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/1sec-project/1sec-qa/internal/service"
)

func cmdService(args []string) {
	if len(args) == 0 {
		cmdHelp("service")
		os.Exit(1)
	}
	action := args[0]

	fs := flag.NewFlagSet("service", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	script := fs.String("script", "", "Use this control script instead of systemd")
	fs.Parse(args[1:])

	cfg, logger := loadRuntime(*configPath, *logLevel)

	var ctl service.Controller
	name := fs.Arg(0)
	if *script != "" {
		ctl = service.NewScript(*script, cfg.Timeouts, logger)
	} else {
		ctl = service.NewSystemd(cfg.Timeouts, logger)
		if name == "" {
			name = cfg.Product.ServiceUnit
		}
	}

	ctx, stop := signalContext()
	defer stop()

	if action == "status" {
		state, err := ctl.State(ctx, name)
		if err != nil {
			errorf("%v", err)
		}
		fmt.Fprintf(os.Stdout, "%s: %s\n", name, state)
		return
	}

	err := service.Do(ctx, ctl, action, name)
	switch {
	case errors.Is(err, service.ErrAlreadyInState):
		warnf("%v", err)
	case err != nil:
		errorf("%v", err)
	default:
		fmt.Fprintf(os.Stderr, "%s %s %s\n", green("✓"), action, name)
	}
}
