package main

// ---------------------------------------------------------------------------
// banner.go — version, usage and per-command help
// ---------------------------------------------------------------------------

import (
	"fmt"
	"io"
	"os"
	goruntime "runtime"
	"runtime/debug"
)

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "1sec-qa v%s", version)
	if commit != "dev" {
		fmt.Fprintf(w, " (%s)", commit[:min(7, len(commit))])
	}
	if buildDate != "unknown" {
		fmt.Fprintf(w, " built %s", buildDate)
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		fmt.Fprintf(w, " %s", bi.GoVersion)
	}
	fmt.Fprintf(w, " %s/%s", goruntime.GOOS, goruntime.GOARCH)
	fmt.Fprintln(w)
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n\n", bold("1sec-qa"), dim("v"+version))
	fmt.Fprintf(w, "  Black-box log watching for product integration tests.\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("USAGE"))
	fmt.Fprintf(w, "  1sec-qa <command> [flags]\n\n")
	fmt.Fprintf(w, "%s\n\n", bold("COMMANDS"))
	for _, c := range commands {
		fmt.Fprintf(w, "  %-14s  %s\n", bold(c.name), c.summary)
	}
	fmt.Fprintf(w, "\n%s\n\n", bold("GLOBAL FLAGS"))
	fmt.Fprintf(w, "  %-22s  %s\n", "--config <path>", "Config file path (default: configs/default.yaml, env: ONESEC_QA_CONFIG)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--log-level <lvl>", "Log level: debug, info, warn, error")
	fmt.Fprintf(w, "  %-22s  %s\n", "--format <fmt>", "Output format: table, json (default: table)")
	fmt.Fprintf(w, "  %-22s  %s\n", "--version, -V", "Print version and exit")
	fmt.Fprintf(w, "\n%s\n\n", bold("ENVIRONMENT VARIABLES"))
	fmt.Fprintf(w, "  %-22s  %s\n", "ONESEC_QA_CONFIG", "Default config file path")
	fmt.Fprintf(w, "  %-22s  %s\n", "ONESEC_QA_BUS_URL", "NATS URL of the log bus")
	fmt.Fprintf(w, "  %-22s  %s\n", "ONESEC_QA_LOG_LEVEL", "Log level override")
	fmt.Fprintf(w, "\n%s\n\n", bold("EXAMPLES"))
	fmt.Fprintf(w, "  %s\n", dim("# Wait for two FIM events in the manager log"))
	fmt.Fprintf(w, "  1sec-qa watch --file /var/ossec/logs/ossec.log --regex 'Sending FIM event' --count 2 --timeout 30s\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Check expected messages on every host of an inventory"))
	fmt.Fprintf(w, "  1sec-qa hosts --plan data/messages.yml --timeout 5m\n\n")
	fmt.Fprintf(w, "  %s\n", dim("# Ship an agent's log to the harness bus"))
	fmt.Fprintf(w, "  1sec-qa forward --file /var/ossec/logs/ossec.log --host wazuh-agent1\n\n")
	fmt.Fprintf(w, "Run %s for detailed help on any command.\n\n", bold("1sec-qa help <command>"))
}

type commandHelp struct {
	name    string
	summary string
	usage   string
}

var commands = []commandHelp{
	{"watch", "Wait for lines matching a regex in one log",
		"1sec-qa watch (--file P | --host H) --regex R [--count N] [--timeout D] [--accumulate] [--from-start] [--format json]"},
	{"hosts", "Run a multi-host expectation plan",
		"1sec-qa hosts --plan P [--timeout D] [--format json]"},
	{"forward", "Publish a tailed log file to the log bus",
		"1sec-qa forward --file P --host H [--from-start]"},
	{"bus", "Run the embedded NATS JetStream log bus",
		"1sec-qa bus [--port N] [--data-dir D]"},
	{"send", "Send a request over a product socket",
		"1sec-qa send --socket P --data MSG [--network unix|tcp] [--framing size|newline] [--async]"},
	{"query", "Inspect a product SQLite database",
		"1sec-qa query --db P (--count TABLE | --sql Q | --tables) [--format json]"},
	{"service", "Start, stop, restart or inspect a product service",
		"1sec-qa service start|stop|restart|status [NAME] [--script S]"},
	{"config", "Show or initialize the harness configuration",
		"1sec-qa config show|init [--config P] [--force]"},
	{"version", "Print version and build info", "1sec-qa version"},
	{"help", "Show help for a command", "1sec-qa help <command>"},
}

func cmdHelp(name string) {
	for _, c := range commands {
		if c.name == name {
			fmt.Fprintf(os.Stdout, "%s\n\n  %s\n\n%s\n\n  %s\n\n", bold(c.name), c.summary, bold("USAGE"), c.usage)
			return
		}
	}
	fmt.Fprintf(os.Stderr, red("error: ")+"no help for unknown command %q\n", name)
	if s := suggest(name); s != "" {
		fmt.Fprintf(os.Stderr, "       Did you mean %s?\n", bold(s))
	}
	os.Exit(1)
}
