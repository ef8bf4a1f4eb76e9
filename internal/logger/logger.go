// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package logger configures loggo for the mediabroker daemon.
package logger

import (
	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
	"github.com/juju/lumberjack/v2"

	corelogger "github.com/juju/mediabroker/core/logger"
)

// Root is the name of the logger every mediabroker logger descends from.
const Root = "mediabroker"

// GetLogger returns the named child of the mediabroker root logger.
func GetLogger(name string) corelogger.Logger {
	return loggo.GetLogger(Root + "." + name)
}

// FileConfig describes a rotating log file.
type FileConfig struct {
	// Path of the log file. An empty path keeps the default stderr writer.
	Path string

	// MaxSizeMB is the size at which the file is rotated.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept.
	MaxBackups int
}

// Configure applies the logging configuration string (loggo syntax, for
// example "<root>=INFO;mediabroker.broker=DEBUG") and, when a file path is
// given, replaces the default writer with a rotating file writer.
func Configure(loggingConfig string, file FileConfig) error {
	if loggingConfig != "" {
		if err := loggo.ConfigureLoggers(loggingConfig); err != nil {
			return errors.Annotatef(err, "configuring loggers %q", loggingConfig)
		}
	}
	if file.Path == "" {
		return nil
	}
	writer := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		Compress:   true,
	}
	if _, err := loggo.ReplaceDefaultWriter(loggo.NewSimpleWriter(writer, loggo.DefaultFormatter)); err != nil {
		return errors.Annotatef(err, "writing logs to %q", file.Path)
	}
	return nil
}
