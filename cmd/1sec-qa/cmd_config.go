package main

// ---------------------------------------------------------------------------
// cmd_config.go — show or initialize the harness configuration
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/1sec-project/1sec-qa/internal/core"
	"gopkg.in/yaml.v3"
)

func cmdConfig(args []string) {
	sub := "show"
	if len(args) > 0 && (args[0] == "show" || args[0] == "init") {
		sub, args = args[0], args[1:]
	}

	fs := flag.NewFlagSet("config", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	format := fs.String("format", "yaml", "Output format: yaml, json")
	force := fs.Bool("force", false, "Overwrite an existing file (init)")
	fs.Parse(args)

	path := envConfig(*configPath)

	if sub == "init" {
		if _, err := os.Stat(path); err == nil && !*force {
			errorf("%s already exists (use --force to overwrite)", path)
		}
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				errorf("creating %s: %v", dir, err)
			}
		}
		if err := core.SaveConfig(core.DefaultConfig(), path); err != nil {
			errorf("writing config: %v", err)
		}
		fmt.Fprintf(os.Stderr, "%s Wrote default configuration to %s\n", green("✓"), path)
		return
	}

	cfg, err := core.LoadConfig(path)
	if err != nil {
		errorf("loading config: %v", err)
	}
	if parseFormat(*format) == FormatJSON {
		if err := writeJSON(os.Stdout, cfg); err != nil {
			errorf("%v", err)
		}
		return
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		errorf("marshaling config: %v", err)
	}
	os.Stdout.Write(data)
}
