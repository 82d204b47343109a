package main

// ---------------------------------------------------------------------------
// cmd_hosts.go — run a multi-host expectation plan against the inventory
// ---------------------------------------------------------------------------

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/1sec-project/1sec-qa/internal/core"
	"github.com/1sec-project/1sec-qa/internal/hostmon"
	"github.com/1sec-project/1sec-qa/internal/source"
	"github.com/rs/zerolog"
)

func cmdHosts(args []string) {
	fs := flag.NewFlagSet("hosts", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	planPath := fs.String("plan", "", "Messages file: host -> expected regexes")
	timeout := fs.Duration("timeout", 5*time.Minute, "Global budget for the whole plan")
	format := fs.String("format", "table", "Output format: table, json")
	fs.Parse(args)

	if *planPath == "" {
		errorf("--plan is required")
	}
	plan, err := hostmon.LoadPlan(*planPath)
	if err != nil {
		errorf("%v", err)
	}

	cfg, logger := loadRuntime(*configPath, *logLevel)
	ctx, stop := signalContext()
	defer stop()

	if err := runHosts(ctx, cfg, logger, plan, *timeout, os.Stdout, parseFormat(*format)); err != nil {
		errorf("%v", err)
	}
}

// inventorySources opens sources for plan hosts from the configured
// inventory. Hosts missing from the inventory fail to open.
func inventorySources(cfg *core.Config, opener *source.Opener) hostmon.SourceFunc {
	return func(host string) (source.Source, error) {
		hc, ok := cfg.Hosts[host]
		if !ok {
			return nil, fmt.Errorf("host %q is not in the inventory", host)
		}
		return opener.Open(source.TargetFor(host, hc))
	}
}

func runHosts(ctx context.Context, cfg *core.Config, logger zerolog.Logger, plan hostmon.Plan, timeout time.Duration, out io.Writer, format OutputFormat) error {
	var kinds []string
	for _, host := range plan.Hosts() {
		if hc, ok := cfg.Hosts[host]; ok {
			kinds = append(kinds, hc.Source)
		}
	}
	opener, t, err := newOpener(ctx, cfg, logger, kinds...)
	if err != nil {
		return err
	}
	defer t.Close()

	report, err := hostmon.New(inventorySources(cfg, opener), cfg.Timeouts, logger).Run(ctx, plan, timeout)
	if err != nil {
		return err
	}

	if format == FormatJSON {
		return writeJSON(out, report)
	}
	tbl := NewTable(out, "HOST", "MATCHED", "SKIPPED", "ELAPSED")
	for _, host := range plan.Hosts() {
		res := report.Hosts[host]
		skipped := make([]string, len(res.Skipped))
		for i, idx := range res.Skipped {
			skipped[i] = strconv.Itoa(idx)
		}
		tbl.AddRow(host, strconv.Itoa(len(res.Matched)), strings.Join(skipped, ","), res.Elapsed.Round(time.Millisecond).String())
	}
	tbl.Render()
	fmt.Fprintf(out, "%s all %d hosts passed in %s\n", green("✓"), len(plan), report.Elapsed.Round(time.Millisecond))
	return nil
}
