// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config reads the mediabroker daemon configuration file.
package config

import (
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"

	"github.com/juju/mediabroker/internal/worker/broker"
	"github.com/juju/mediabroker/internal/worker/detector"
	"github.com/juju/mediabroker/internal/worker/workerchannel"
)

const (
	// DefaultListenAddress is where the viewer, status and metrics
	// endpoints are served.
	DefaultListenAddress = "localhost:17080"

	// DefaultLoggingConfig is the loggo configuration used when none is
	// given.
	DefaultLoggingConfig = "<root>=INFO"

	// DefaultSettingsMetadata is sent to the worker in the settings
	// handshake.
	DefaultSettingsMetadata = "mediabroker"

	defaultLogFileMaxSizeMB  = 100
	defaultLogFileMaxBackups = 2
)

// Config is the daemon configuration.
type Config struct {
	ListenAddress     string        `yaml:"listen-address"`
	WorkerCommand     []string      `yaml:"worker-command"`
	HeartbeatInterval time.Duration `yaml:"heartbeat-interval"`
	RescanInterval    time.Duration `yaml:"rescan-interval"`
	SettingsMetadata  string        `yaml:"settings-metadata"`
	OutboundQueueSize int           `yaml:"outbound-queue-size"`
	LoggingConfig     string        `yaml:"logging-config"`
	LogFile           string        `yaml:"log-file"`
	LogFileMaxSizeMB  int           `yaml:"log-file-max-size"`
	LogFileMaxBackups int           `yaml:"log-file-max-backups"`
}

// Default returns the configuration used for every key missing from the
// file. It has no worker command and is therefore not valid on its own.
func Default() Config {
	return Config{
		ListenAddress:     DefaultListenAddress,
		HeartbeatInterval: broker.DefaultHeartbeatInterval,
		RescanInterval:    detector.DefaultRescanInterval,
		SettingsMetadata:  DefaultSettingsMetadata,
		OutboundQueueSize: workerchannel.DefaultQueueSize,
		LoggingConfig:     DefaultLoggingConfig,
		LogFileMaxSizeMB:  defaultLogFileMaxSizeMB,
		LogFileMaxBackups: defaultLogFileMaxBackups,
	}
}

// Validate returns an error if the config cannot be used.
func (c Config) Validate() error {
	if c.ListenAddress == "" {
		return errors.NotValidf("empty listen-address")
	}
	if len(c.WorkerCommand) == 0 || c.WorkerCommand[0] == "" {
		return errors.NotValidf("empty worker-command")
	}
	if c.HeartbeatInterval <= 0 {
		return errors.NotValidf("heartbeat-interval %v", c.HeartbeatInterval)
	}
	if c.RescanInterval <= 0 {
		return errors.NotValidf("rescan-interval %v", c.RescanInterval)
	}
	if c.OutboundQueueSize < 1 {
		return errors.NotValidf("outbound-queue-size %d", c.OutboundQueueSize)
	}
	if c.LogFile != "" && (c.LogFileMaxSizeMB < 1 || c.LogFileMaxBackups < 0) {
		return errors.NotValidf("log file rotation %dMB x %d", c.LogFileMaxSizeMB, c.LogFileMaxBackups)
	}
	return nil
}

// Read decodes a configuration from r on top of the defaults. Unknown keys
// are rejected. The result is not validated.
func Read(r io.Reader) (Config, error) {
	config := Default()
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&config); err != nil && err != io.EOF {
		return Config{}, errors.Annotate(err, "decoding config")
	}
	return config, nil
}

// ReadFile reads the configuration file at path.
func ReadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return Config{}, errors.NotFoundf("config file %q", path)
	} else if err != nil {
		return Config{}, errors.Trace(err)
	}
	defer f.Close()

	config, err := Read(f)
	return config, errors.Annotatef(err, "reading %q", path)
}
