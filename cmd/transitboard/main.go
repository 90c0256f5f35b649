// Command transitboard serves the CTA transit status page.
//
// It exits 0 after a clean interrupt and 1 when the upstream topics are not
// ready or startup fails for any other reason.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/drblury/transitboard"
	_ "github.com/drblury/transitboard/transport/transports"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("transitboard", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a JSON config file (comments and trailing commas allowed)")
	addr := fs.String("addr", "", "status page listen address, overrides the config file")
	logLevel := fs.String("log-level", "", "debug, info or error, overrides the config file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := transitboard.DefaultConfig()
	if *configPath != "" {
		loaded, err := transitboard.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.HTTPAddress = *addr
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger := transitboard.NewSlogServiceLogger(transitboard.NewJSONSlogLogger(stderr, cfg.LogLevel))

	svc, err := transitboard.NewService(cfg, logger, transitboard.ServiceDependencies{})
	if err != nil {
		logger.Error("Failed to create service", err, nil)
		return 1
	}

	if err := svc.Start(ctx); err != nil {
		if errors.Is(err, transitboard.ErrNotReady) {
			var missing *transitboard.MissingTopicError
			if errors.As(err, &missing) && missing.Remedy != "" {
				fmt.Fprintln(stderr, missing.Remedy)
			}
		}
		return 1
	}
	return 0
}
