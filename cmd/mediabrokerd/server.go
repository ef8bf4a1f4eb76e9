// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mediabroker/core/logger"
)

// shutdownTimeout bounds how long in-flight requests get when the server
// stops.
const shutdownTimeout = 5 * time.Second

// httpServer is a worker serving HTTP on a listener it owns.
type httpServer struct {
	catacomb catacomb.Catacomb
	listener net.Listener
	server   *http.Server
	logger   logger.Logger
}

func newHTTPServer(listener net.Listener, handler http.Handler, logger logger.Logger) (*httpServer, error) {
	s := &httpServer{
		listener: listener,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: 30 * time.Second,
		},
		logger: logger,
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &s.catacomb,
		Work: s.loop,
	}); err != nil {
		_ = listener.Close()
		return nil, errors.Trace(err)
	}
	return s, nil
}

// Kill is part of the worker.Worker interface.
func (s *httpServer) Kill() {
	s.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (s *httpServer) Wait() error {
	return s.catacomb.Wait()
}

// Addr returns the address the server listens on.
func (s *httpServer) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *httpServer) loop() error {
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- s.server.Serve(s.listener)
	}()
	s.logger.Infof("listening on %s", s.listener.Addr())

	select {
	case <-s.catacomb.Dying():
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warningf("http server shutdown: %v", err)
		}
		<-serveErr
		return s.catacomb.ErrDying()
	case err := <-serveErr:
		return errors.Annotate(err, "serving http")
	}
}
