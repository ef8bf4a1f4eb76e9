// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package viewer serves the websocket endpoint viewers connect to. Each
// connection is one viewer context with its own change detector.
package viewer

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4"

	"github.com/juju/mediabroker/core/lifecycle"
	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/core/resource"
	"github.com/juju/mediabroker/internal/document"
	"github.com/juju/mediabroker/internal/mailbox"
	"github.com/juju/mediabroker/internal/worker/detector"
)

const (
	// writeWait is how long a write to the viewer may take.
	writeWait = 10 * time.Second

	// pongDelay is how long the viewer has to answer a ping.
	pongDelay = 90 * time.Second

	// pingPeriod must be less than pongDelay.
	pingPeriod = (pongDelay * 8) / 10
)

var websocketUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrSessionClosed is returned when applying to a viewer that has gone.
const ErrSessionClosed = errors.ConstError("viewer session closed")

// Config holds the dependencies of a Handler.
type Config struct {
	Broker detector.Broker
	Router *Router
	Hub    lifecycle.Hub
	Clock  clock.Clock
	Logger logger.Logger

	// RescanInterval is passed on to each detector.
	RescanInterval time.Duration

	// Abort closes every session when closed.
	Abort <-chan struct{}

	// Metrics is optional.
	Metrics *Collector
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Broker == nil {
		return errors.NotValidf("nil Broker")
	}
	if config.Router == nil {
		return errors.NotValidf("nil Router")
	}
	if config.Hub == nil {
		return errors.NotValidf("nil Hub")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.Abort == nil {
		return errors.NotValidf("nil Abort")
	}
	return nil
}

// Handler is the http.Handler for the viewer endpoint.
type Handler struct {
	config  Config
	metrics *Collector
}

// NewHandler returns a Handler.
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	return &Handler{config: config, metrics: metrics}, nil
}

// ServeHTTP implements the http.Handler interface.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	socket, err := websocketUpgrader.Upgrade(w, req, nil)
	if err != nil {
		h.config.Logger.Errorf("problem initiating websocket: %v", err)
		return
	}
	h.serve(socket)
}

func (h *Handler) serve(socket *websocket.Conn) {
	defer socket.Close()
	logger := h.config.Logger

	handle := resource.NewContextHandle()
	out := &outbox{messages: mailbox.New[ServerMessage]()}
	det, err := detector.NewDetector(detector.Config{
		Context:        handle,
		Document:       document.New(),
		Broker:         h.config.Broker,
		Viewer:         out,
		Clock:          h.config.Clock,
		Logger:         logger,
		RescanInterval: h.config.RescanInterval,
	})
	if err != nil {
		logger.Errorf("cannot start detector: %v", err)
		return
	}
	h.config.Router.Add(handle, det)
	h.metrics.sessions.Inc()
	logger.Debugf("viewer connected as %q", handle)

	defer func() {
		out.closed.Store(true)
		h.config.Router.Remove(handle)
		if err := worker.Stop(det); err != nil {
			logger.Errorf("detector for %q: %v", handle, err)
		}
		lifecycle.PublishContextEnded(h.config.Hub, handle)
		h.metrics.sessions.Dec()
		logger.Debugf("viewer %q disconnected", handle)
	}()

	if err := h.write(socket, sessionMessage(handle)); err != nil {
		logger.Debugf("failed to greet viewer %q: %v", handle, err)
		return
	}

	// The read deadline is pushed back by every pong, so a viewer that
	// goes away without closing is noticed.
	_ = socket.SetReadDeadline(time.Now().Add(pongDelay))
	socket.SetPongHandler(func(string) error {
		return socket.SetReadDeadline(time.Now().Add(pongDelay))
	})
	ping := h.config.Clock.NewTimer(pingPeriod)
	defer ping.Stop()

	done := make(chan struct{})
	defer close(done)
	messageCh := h.receiveMessages(socket, handle, done)

	for {
		select {
		case <-h.config.Abort:
			_ = socket.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
			return

		case <-ping.Chan():
			if err := socket.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				// Expected if the other end goes away.
				logger.Debugf("failed to write ping: %s", err)
				return
			}
			ping.Reset(pingPeriod)

		case m, ok := <-messageCh:
			if !ok {
				return
			}
			h.metrics.messages.WithLabelValues(m.Type).Inc()
			ops, err := m.Operations()
			if err != nil {
				logger.Warningf("viewer %q: ignoring message: %v", handle, err)
				continue
			}
			det.Update(ops...)

		case <-out.messages.Ready():
			for _, msg := range out.messages.Drain() {
				if err := h.write(socket, msg); err != nil {
					logger.Debugf("failed to write to viewer %q: %v", handle, err)
					return
				}
				if msg.Type == MessageApply {
					h.metrics.applied.Inc()
				}
			}
		}
	}
}

// receiveMessages reads viewer messages until the socket fails. The
// returned channel is closed when reading stops.
func (h *Handler) receiveMessages(socket *websocket.Conn, handle resource.ContextHandle, done <-chan struct{}) <-chan ClientMessage {
	messageCh := make(chan ClientMessage)

	go func() {
		defer close(messageCh)
		for {
			// ReadMessage blocks until data arrives but is also unblocked
			// when the handler closes the socket as it finishes.
			_, data, err := socket.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.config.Logger.Debugf("viewer %q receive error: %v", handle, err)
				}
				return
			}
			var m ClientMessage
			if err := json.Unmarshal(data, &m); err != nil {
				h.config.Logger.Warningf("viewer %q: malformed message: %v", handle, err)
				continue
			}
			select {
			case <-done:
				return
			case messageCh <- m:
			}
		}
	}()

	return messageCh
}

func (h *Handler) write(socket *websocket.Conn, msg ServerMessage) error {
	if err := socket.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(socket.WriteJSON(msg))
}

// outbox is the detector.Viewer of one session. Apply never blocks; the
// session writes queued messages from its own goroutine.
type outbox struct {
	messages *mailbox.Mailbox[ServerMessage]
	closed   atomic.Bool
}

// Apply is part of the detector.Viewer interface.
func (o *outbox) Apply(key string, id resource.ID, src string) error {
	if o.closed.Load() {
		return ErrSessionClosed
	}
	o.messages.Post(applyMessage(key, id, src))
	return nil
}
