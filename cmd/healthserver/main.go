// Command healthserver serves a JSON health check to run load tests
// against locally.
//
//	healthserver --addr 127.0.0.1:64240 --latency 5ms --failure-ratio 0.005
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/wesleyorama2/rampcheck/internal/healthserver"
	"github.com/wesleyorama2/rampcheck/internal/logging"
)

func run(args []string) error {
	flags := pflag.NewFlagSet("healthserver", pflag.ContinueOnError)
	addr := flags.String("addr", "127.0.0.1:64240", "Listen address")
	path := flags.String("path", healthserver.DefaultPath, "Health check path")
	latency := flags.Duration("latency", 0, "Delay added to every response")
	jitter := flags.Duration("jitter", 0, "Random extra delay, up to this much")
	failureRatio := flags.Float64("failure-ratio", 0, "Fraction of requests answered with a 500")
	logLevel := flags.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flags.String("log-format", logging.FormatConsole, "Log format: console or json")
	if err := flags.Parse(args); err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{Level: *logLevel, Format: *logFormat})
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	h, err := healthserver.NewHandler(healthserver.Config{
		Addr:         *addr,
		Path:         *path,
		Latency:      *latency,
		Jitter:       *jitter,
		FailureRatio: *failureRatio,
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ready := make(chan net.Addr, 1)
	go func() {
		select {
		case a := <-ready:
			logger.Debug("ready", zap.String("url", "http://"+a.String()+*path))
		case <-ctx.Done():
		}
	}()

	return h.ListenAndServe(ctx, ready)
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
