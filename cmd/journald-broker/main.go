package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/cloudedugcp/journald-broker/internal/config"
	"github.com/cloudedugcp/journald-broker/internal/launcher"
	"github.com/cloudedugcp/journald-broker/internal/logging"
	"github.com/cloudedugcp/journald-broker/internal/monitor"
	"github.com/cloudedugcp/journald-broker/internal/rules"
	"github.com/cloudedugcp/journald-broker/internal/server"
)

// logEnv sets the log level when --log-level is not given.
const logEnv = "JOURNALD_BROKER_LOG"

// drainTimeout bounds how long queued scripts may still run at exit.
const drainTimeout = 30 * time.Second

type options struct {
	configDir  string
	configFile string
	logLevel   string
	check      bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("journald-broker", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&opts.configDir, "config-dir", "C", config.DefaultConfigDir, "directory of *.toml and *.conf configuration files")
	fs.StringVarP(&opts.configFile, "config-file", "c", "", "single configuration file, overrides --config-dir")
	fs.StringVar(&opts.logLevel, "log-level", "info", "trace, debug, info, warn or error (env "+logEnv+")")
	fs.BoolVar(&opts.check, "check", false, "validate the configuration, print it and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if !fs.Changed("log-level") {
		if level, ok := os.LookupEnv(logEnv); ok {
			opts.logLevel = level
		}
	}
	return opts, nil
}

func run(args []string) error {
	opts, err := parseFlags(args, os.Stderr)
	if err != nil {
		return err
	}

	// logger configuration
	logger := logging.New(os.Stderr, logging.ParseLevel(opts.logLevel))

	// configuration load
	cfg, err := config.Load(opts.configFile, opts.configDir)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	events := cfg.Rules()
	ruleSet, err := rules.Compile(events)
	if err != nil {
		return err
	}

	if opts.check {
		data, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	l := launcher.New(launcher.WithLogger(logger))

	mon := monitor.New(monitor.Config{
		Filters: cfg.Global.Filters,
		Rules:   ruleSet,
	}, l, monitor.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := mon.Watch(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("watching journal: %w", err)
	})

	// metrics server, only when an address is configured
	if addr := cfg.Global.MetricsAddress; addr != "" {
		srv := server.New(server.Config{Addr: addr}, logger, events, mon.Ready)
		g.Go(func() error { return srv.Run(gctx) })
	}

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if serr := l.Shutdown(drainCtx); serr != nil {
		logger.Warn("Abandoning queued scripts", "queued", l.Len(), "error", serr)
	}

	logger.Info("Stopped", "events", len(events))
	return err
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
