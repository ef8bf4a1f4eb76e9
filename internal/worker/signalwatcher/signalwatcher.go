// Copyright 2023 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package signalwatcher provides a worker that stops with an error chosen
// by the signal it receives, so a process can shut its workers down
// through the usual worker machinery.
package signalwatcher

import (
	"os"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mediabroker/core/logger"
)

// ErrTerminated is the error used for signals asking the daemon to stop.
const ErrTerminated = errors.ConstError("terminated by signal")

// HandlerFunc returns the error the watcher stops with for a signal.
type HandlerFunc func(os.Signal) error

// Handler returns a HandlerFunc that looks the signal up in signalMap and
// falls back to defaultErr.
func Handler(defaultErr error, signalMap map[os.Signal]error) HandlerFunc {
	return func(sig os.Signal) error {
		if err, ok := signalMap[sig]; ok {
			return err
		}
		return defaultErr
	}
}

// Config holds the dependencies of a SignalWatcher.
type Config struct {
	Signals <-chan os.Signal
	Handler HandlerFunc
	Logger  logger.Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Signals == nil {
		return errors.NotValidf("nil Signals")
	}
	if config.Handler == nil {
		return errors.NotValidf("nil Handler")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// SignalWatcher is a worker that stops when the first signal arrives.
type SignalWatcher struct {
	catacomb catacomb.Catacomb
	config   Config
}

// NewSignalWatcher starts a signal watcher.
func NewSignalWatcher(config Config) (*SignalWatcher, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	s := &SignalWatcher{config: config}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.watch,
	}); err != nil {
		return nil, errors.Annotate(err, "creating catacomb plan")
	}
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *SignalWatcher) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *SignalWatcher) Wait() error {
	return s.catacomb.Wait()
}

func (s *SignalWatcher) watch() error {
	select {
	case sig, ok := <-s.config.Signals:
		if !ok {
			return errors.New("signal channel closed unexpectedly")
		}
		s.config.Logger.Infof("received %v", sig)
		return s.config.Handler(sig)
	case <-s.catacomb.Dying():
		return s.catacomb.ErrDying()
	}
}
