package main

// ---------------------------------------------------------------------------
// cmd_send.go — send one request over a product socket
// ---------------------------------------------------------------------------

import (
	"flag"
	"fmt"
	"os"

	"github.com/1sec-project/1sec-qa/internal/sockchan"
)

func cmdSend(args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file path")
	logLevel := fs.String("log-level", "", "Log level override")
	socket := fs.String("socket", "", "Socket address (default: product.logtest_socket)")
	network := fs.String("network", "unix", "Network: unix, tcp")
	data := fs.String("data", "", "Message to send")
	framing := fs.String("framing", "size", "Framing: size, newline")
	async := fs.Bool("async", false, "Send in the background and poll for the reply")
	fs.Parse(args)

	if *data == "" {
		errorf("--data is required")
	}
	fr, err := sockchan.ParseFraming(*framing)
	if err != nil {
		errorf("%v", err)
	}

	cfg, logger := loadRuntime(*configPath, *logLevel)
	addr := *socket
	if addr == "" {
		addr = cfg.Product.LogtestSocket
	}

	ctx, stop := signalContext()
	defer stop()

	ch, err := sockchan.Dial(ctx, *network, addr, fr, cfg.Timeouts, logger)
	if err != nil {
		errorf("%v", err)
	}
	defer ch.Close()

	var reply []byte
	if *async {
		h := ch.RequestAsync(ctx, []byte(*data))
		reply, err = h.Result(cfg.Timeouts.Timeout("logtest_reply"))
	} else {
		reply, err = ch.Request(ctx, []byte(*data))
	}
	if err != nil {
		errorf("%v", err)
	}
	fmt.Fprintln(os.Stdout, string(reply))
	logger.Debug().Int("bytes", len(reply)).Bool("async", *async).Msg("reply received")
}
