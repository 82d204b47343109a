package main

// ---------------------------------------------------------------------------
// cmd_watch.go — wait for matching lines in one log
// ---------------------------------------------------------------------------

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/match"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/1sec-project/1sec-qa/internal/watch"
	"github.com/rs/zerolog"
)

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	file := fs.String("file", "", "Log file to watch")
	host := fs.String("host", "", "Inventory host to watch instead of --file")
	regex := fs.String("regex", "", "Regular expression lines must match")
	count := fs.Int("count", 1, "Number of matches required")
	timeout := fs.String("timeout", "", "Watch budget, e.g. 30s (default: timeouts.default_timeout; 0 checks once)")
	accumulate := fs.Bool("accumulate", false, "Keep matches from lines already read past --count")
	fromStart := fs.Bool("from-start", false, "Read the file from the beginning instead of its end")
	message := fs.String("message", "", "Message prefixed to a timeout error")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	if *regex == "" {
		errorf("--regex is required")
	}
	if (*file == "") == (*host == "") {
		errorf("exactly one of --file or --host is required")
	}
	matcher, err := match.RegexE(*regex)
	if err != nil {
		errorf("invalid --regex: %v", err)
	}

	cfg, logger := loadRuntime(*configPath, *logLevel)

	budget := cfg.Timeouts.DefaultTimeout
	if *timeout != "" {
		if budget, err = time.ParseDuration(*timeout); err != nil {
			errorf("invalid --timeout: %v", err)
		}
	}

	target := source.Target{Kind: source.KindFile, Host: "localhost", Path: *file, FromStart: *fromStart}
	if *host != "" {
		hc, ok := cfg.Hosts[*host]
		if !ok {
			errorf("host %q is not in the inventory", *host)
		}
		target = source.TargetFor(*host, hc)
		target.FromStart = *fromStart
	}

	ctx, stop := signalContext()
	defer stop()

	opts := watch.Options{Count: *count, Timeout: budget, Accumulate: *accumulate, ErrorMessage: *message}
	if err := runWatch(ctx, cfg, logger, target, matcher, opts, os.Stdout, parseFormat(*format)); err != nil {
		errorf("%v", err)
	}
}

// watchResult is the JSON shape of a watch outcome.
type watchResult struct {
	Source    string     `json:"source"`
	Satisfied bool       `json:"satisfied"`
	Want      int        `json:"want"`
	Matches   [][]string `json:"matches"`
	Error     string     `json:"error,omitempty"`
}

func runWatch(ctx context.Context, cfg *core.Config, logger zerolog.Logger, target source.Target, matcher match.Matcher[[]string], opts watch.Options, out io.Writer, format OutputFormat) error {
	opener, t, err := newOpener(ctx, cfg, logger, target.Kind)
	if err != nil {
		return err
	}
	defer t.Close()

	src, err := opener.Open(target)
	if err != nil {
		return err
	}
	mon := watch.NewMonitor(src, cfg.Timeouts, logger)
	defer mon.Close()

	want := opts.Count
	if want == 0 {
		want = 1
	}
	res := watchResult{Source: src.Name(), Want: want}
	matches, werr := watch.Watch(ctx, mon, matcher, opts)

	var te *watch.TimeoutError[[]string]
	switch {
	case werr == nil:
		res.Satisfied = true
		res.Matches = matches
	case errors.As(werr, &te):
		res.Matches = te.Partial
		res.Error = werr.Error()
	default:
		return werr
	}

	if format == FormatJSON {
		if err := writeJSON(out, res); err != nil {
			return err
		}
	} else {
		tbl := NewTable(out, "#", "MATCH")
		for i, m := range res.Matches {
			tbl.AddRow(strconv.Itoa(i+1), m[0])
		}
		tbl.Render()
		if res.Satisfied {
			fmt.Fprintf(out, "%s %d/%d matches on %s\n", green("✓"), len(res.Matches), want, res.Source)
		}
	}
	return werr
}
