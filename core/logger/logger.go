// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package logger

// Logger represents the logging methods used throughout mediabroker.
// It is satisfied by loggo.Logger.
type Logger interface {
	Criticalf(msg string, args ...any)
	Errorf(msg string, args ...any)
	Warningf(msg string, args ...any)
	Infof(msg string, args ...any)
	Debugf(msg string, args ...any)
	Tracef(msg string, args ...any)

	IsTraceEnabled() bool
}
