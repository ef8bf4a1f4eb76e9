// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package main

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/pubsub/v2"
	"github.com/juju/worker/v4"
	"github.com/juju/worker/v4/catacomb"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/juju/mediabroker/core/lifecycle"
	corelogger "github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/internal/config"
	"github.com/juju/mediabroker/internal/logger"
	"github.com/juju/mediabroker/internal/viewer"
	"github.com/juju/mediabroker/internal/worker/broker"
	"github.com/juju/mediabroker/internal/worker/signalwatcher"
	"github.com/juju/mediabroker/internal/worker/workerchannel"
)

// AgentConfig holds what the agent needs to run.
type AgentConfig struct {
	Config config.Config
	Clock  clock.Clock

	// Signals, if set, stops the agent with signalwatcher.ErrTerminated
	// when a signal arrives on it.
	Signals <-chan os.Signal
}

// Validate returns an error if the config cannot be used.
func (c AgentConfig) Validate() error {
	if err := c.Config.Validate(); err != nil {
		return errors.Trace(err)
	}
	if c.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	return nil
}

// Agent runs the worker process, the worker channel, the broker and the
// HTTP endpoints. The broker and the HTTP server are fatal to the agent;
// losing the worker channel is not: commands are dropped from then on and
// the status endpoint reports the channel as dead.
type Agent struct {
	catacomb catacomb.Catacomb
	logger   corelogger.Logger

	registry *prometheus.Registry
	hub      *pubsub.SimpleHub
	router   *viewer.Router
	channel  *workerchannel.Channel
	broker   *broker.Broker
	server   *httpServer

	abort chan struct{}

	mu         sync.Mutex
	channelErr error
}

// NewAgent starts everything the daemon runs.
func NewAgent(agentConfig AgentConfig) (_ *Agent, err error) {
	if err := agentConfig.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	cfg := agentConfig.Config

	a := &Agent{
		logger:   logger.GetLogger("agent"),
		registry: prometheus.NewRegistry(),
		hub:      lifecycle.NewHub(logger.GetLogger("hub")),
		router:   viewer.NewRouter(logger.GetLogger("viewer")),
		abort:    make(chan struct{}),
	}
	var started []worker.Worker
	defer func() {
		if err == nil {
			return
		}
		for _, w := range started {
			_ = worker.Stop(w)
		}
	}()

	process, err := workerchannel.StartProcess(workerchannel.ProcessConfig{
		Command: cfg.WorkerCommand,
		Clock:   agentConfig.Clock,
		Logger:  logger.GetLogger("worker"),
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	a.channel, err = workerchannel.NewChannel(workerchannel.Config{
		Transport: process,
		QueueSize: cfg.OutboundQueueSize,
		Logger:    logger.GetLogger("channel"),
	})
	if err != nil {
		_ = process.Close()
		return nil, errors.Trace(err)
	}
	started = append(started, a.channel)

	brokerMetrics := broker.NewMetricsCollector()
	a.broker, err = broker.NewBroker(broker.Config{
		Channel:           a.channel,
		Deliverer:         a.router,
		Hub:               a.hub,
		Clock:             agentConfig.Clock,
		Logger:            logger.GetLogger("broker"),
		HeartbeatInterval: cfg.HeartbeatInterval,
		SettingsMetadata:  cfg.SettingsMetadata,
		Metrics:           brokerMetrics,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}
	started = append(started, a.broker)

	viewerMetrics := viewer.NewMetricsCollector()
	viewerHandler, err := viewer.NewHandler(viewer.Config{
		Broker:         a.broker,
		Router:         a.router,
		Hub:            a.hub,
		Clock:          agentConfig.Clock,
		Logger:         logger.GetLogger("viewer"),
		RescanInterval: cfg.RescanInterval,
		Abort:          a.abort,
		Metrics:        viewerMetrics,
	})
	if err != nil {
		return nil, errors.Trace(err)
	}

	for _, c := range []prometheus.Collector{
		brokerMetrics,
		viewerMetrics,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := a.registry.Register(c); err != nil {
			return nil, errors.Annotate(err, "registering metrics")
		}
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return nil, errors.Annotatef(err, "listening on %q", cfg.ListenAddress)
	}
	a.server, err = newHTTPServer(listener, a.routes(viewerHandler), logger.GetLogger("http"))
	if err != nil {
		return nil, errors.Trace(err)
	}
	started = append(started, a.server)

	workers := []worker.Worker{a.broker, a.server}
	if agentConfig.Signals != nil {
		watcher, err := signalwatcher.NewSignalWatcher(signalwatcher.Config{
			Signals: agentConfig.Signals,
			Handler: signalwatcher.Handler(signalwatcher.ErrTerminated, nil),
			Logger:  a.logger,
		})
		if err != nil {
			return nil, errors.Trace(err)
		}
		started = append(started, watcher)
		workers = append(workers, watcher)
	}

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &a.catacomb,
		Work: a.loop,
		Init: workers,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return a, nil
}

func (a *Agent) routes(viewerHandler http.Handler) http.Handler {
	router := mux.NewRouter()
	router.Handle("/viewer", viewerHandler)
	router.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	router.HandleFunc("/status", a.serveStatus).Methods(http.MethodGet)
	return router
}

// Kill is part of the worker.Worker interface.
func (a *Agent) Kill() {
	a.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (a *Agent) Wait() error {
	return a.catacomb.Wait()
}

// Addr returns the address the HTTP endpoints are served on.
func (a *Agent) Addr() net.Addr {
	return a.server.Addr()
}

// Report returns the state of the agent's parts.
func (a *Agent) Report() map[string]any {
	channel := a.channel.Report()
	a.mu.Lock()
	if a.channelErr != nil {
		channel["error"] = a.channelErr.Error()
	}
	a.mu.Unlock()
	return map[string]any{
		"broker":  a.broker.Report(),
		"channel": channel,
		"viewers": a.router.Len(),
	}
}

func (a *Agent) loop() error {
	defer func() {
		close(a.abort)
		if err := worker.Stop(a.channel); err != nil && !errors.Is(err, workerchannel.ErrChannelUnavailable) {
			a.logger.Errorf("stopping worker channel: %v", err)
		}
	}()

	channelDead := make(chan error, 1)
	go func() {
		channelDead <- a.channel.Wait()
	}()

	for {
		select {
		case <-a.catacomb.Dying():
			return a.catacomb.ErrDying()
		case err := <-channelDead:
			if err == nil {
				err = workerchannel.ErrChannelUnavailable
			}
			a.logger.Errorf("worker channel stopped, commands will be dropped: %v", err)
			a.mu.Lock()
			a.channelErr = err
			a.mu.Unlock()
		}
	}
}

func (a *Agent) serveStatus(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.Report()); err != nil {
		a.logger.Debugf("writing status: %v", err)
	}
}
