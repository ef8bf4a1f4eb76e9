// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// The mediabrokerd command runs the media broker: it serves viewers over a
// websocket, deduplicates their resource requests and drives the external
// processing worker.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/gnuflag"

	"github.com/juju/mediabroker/internal/config"
	"github.com/juju/mediabroker/internal/logger"
	"github.com/juju/mediabroker/internal/worker/signalwatcher"
)

const defaultConfigPath = "/etc/mediabroker/mediabroker.yaml"

type options struct {
	configPath    string
	listen        string
	loggingConfig string
}

func main() {
	os.Exit(Main(os.Args, os.Stderr))
}

// Main runs the daemon until it fails or receives SIGINT or SIGTERM, and
// returns the exit code.
func Main(args []string, stderr io.Writer) int {
	opts, err := parseArgs(args, stderr)
	if errors.Is(err, gnuflag.ErrHelp) {
		return 0
	} else if err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 2
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(stderr, "ERROR %v\n", err)
		return 1
	}
	return 0
}

func parseArgs(args []string, stderr io.Writer) (options, error) {
	var opts options
	name := "mediabrokerd"
	if len(args) > 0 {
		name, args = args[0], args[1:]
	}
	flags := gnuflag.NewFlagSet(name, gnuflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.configPath, "config", defaultConfigPath, "path of the configuration file")
	flags.StringVar(&opts.listen, "listen", "", "address to serve on, overriding listen-address")
	flags.StringVar(&opts.loggingConfig, "logging-config", "", "logging configuration, overriding logging-config")
	if err := flags.Parse(true, args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, errors.Errorf("unrecognized arguments: %v", flags.Args())
	}
	return opts, nil
}

// loadConfig reads the configuration file and applies the command line
// overrides.
func loadConfig(opts options) (config.Config, error) {
	cfg, err := config.ReadFile(opts.configPath)
	if err != nil {
		return config.Config{}, errors.Trace(err)
	}
	if opts.listen != "" {
		cfg.ListenAddress = opts.listen
	}
	if opts.loggingConfig != "" {
		cfg.LoggingConfig = opts.loggingConfig
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Annotatef(err, "invalid config %q", opts.configPath)
	}
	return cfg, nil
}

func run(opts options) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return errors.Trace(err)
	}
	if err := logger.Configure(cfg.LoggingConfig, logger.FileConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogFileMaxSizeMB,
		MaxBackups: cfg.LogFileMaxBackups,
	}); err != nil {
		return errors.Trace(err)
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	agent, err := NewAgent(AgentConfig{
		Config:  cfg,
		Clock:   clock.WallClock,
		Signals: signals,
	})
	if err != nil {
		return errors.Annotate(err, "starting agent")
	}
	err = agent.Wait()
	if errors.Is(err, signalwatcher.ErrTerminated) {
		return nil
	}
	return errors.Trace(err)
}
