// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package workerchannel runs the ordered, bidirectional message channel to
// the external processing worker.
package workerchannel

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/internal/wire"
)

const (
	// ErrChannelUnavailable is returned by Send when the command could not
	// be queued, either because the channel is dead or its outbound queue
	// is full. The command is dropped.
	ErrChannelUnavailable = errors.ConstError("worker channel unavailable")

	// DefaultQueueSize is the outbound queue size used when none is
	// configured.
	DefaultQueueSize = 256
)

// Config holds the dependencies of a Channel.
type Config struct {
	// Transport carries the framed messages. It is closed when the
	// channel stops.
	Transport io.ReadWriteCloser

	// QueueSize bounds the number of commands waiting to be written.
	QueueSize int

	Logger logger.Logger
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Transport == nil {
		return errors.NotValidf("nil Transport")
	}
	if config.QueueSize < 0 {
		return errors.NotValidf("negative QueueSize")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	return nil
}

// Channel is a worker that writes commands to, and reads events from, the
// external worker. Commands are written in the order they were sent by a
// single writer goroutine.
type Channel struct {
	catacomb catacomb.Catacomb
	config   Config

	outbound chan wire.Command
	events   chan wire.Event

	alive     atomic.Bool
	sent      atomic.Int64
	dropped   atomic.Int64
	received  atomic.Int64
	malformed atomic.Int64
}

// NewChannel starts a channel over the configured transport.
func NewChannel(config Config) (*Channel, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	size := config.QueueSize
	if size == 0 {
		size = DefaultQueueSize
	}
	ch := &Channel{
		config:   config,
		outbound: make(chan wire.Command, size),
		events:   make(chan wire.Event),
	}
	ch.alive.Store(true)

	if err := catacomb.Invoke(catacomb.Plan{
		Site: &ch.catacomb,
		Work: ch.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return ch, nil
}

// Kill is part of the worker.Worker interface.
func (ch *Channel) Kill() {
	ch.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (ch *Channel) Wait() error {
	return ch.catacomb.Wait()
}

// Send queues a command for the worker without blocking. If the channel is
// dead or its queue is full the command is dropped and
// ErrChannelUnavailable is returned.
func (ch *Channel) Send(cmd wire.Command) error {
	if !ch.alive.Load() || ch.dying() {
		ch.dropped.Add(1)
		return ErrChannelUnavailable
	}
	select {
	case ch.outbound <- cmd:
		return nil
	default:
		ch.dropped.Add(1)
		return errors.Annotate(ErrChannelUnavailable, "outbound queue full")
	}
}

// Events returns the channel on which events from the worker are
// delivered. It is never closed; it simply goes quiet when the channel
// dies.
func (ch *Channel) Events() <-chan wire.Event {
	return ch.events
}

// Alive reports whether the channel is still able to carry commands.
func (ch *Channel) Alive() bool {
	return ch.alive.Load()
}

// Report is used by the status endpoint.
func (ch *Channel) Report() map[string]any {
	return map[string]any{
		"alive":     ch.alive.Load(),
		"queued":    len(ch.outbound),
		"sent":      ch.sent.Load(),
		"dropped":   ch.dropped.Load(),
		"received":  ch.received.Load(),
		"malformed": ch.malformed.Load(),
	}
}

func (ch *Channel) loop() error {
	defer ch.alive.Store(false)

	closeTransport := sync.OnceFunc(func() {
		if err := ch.config.Transport.Close(); err != nil {
			ch.config.Logger.Debugf("closing worker transport: %v", err)
		}
	})
	// A write blocked on a stuck worker is only released by closing the
	// transport, so that happens as soon as the channel starts dying.
	go func() {
		<-ch.catacomb.Dying()
		closeTransport()
	}()

	readErr := make(chan error, 1)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readErr <- ch.readLoop()
	}()
	defer func() {
		closeTransport()
		<-readDone
	}()

	enc := wire.NewEncoder(ch.config.Transport)
	for {
		select {
		case <-ch.catacomb.Dying():
			return ch.catacomb.ErrDying()

		case err := <-readErr:
			if ch.dying() {
				return ch.catacomb.ErrDying()
			}
			if errors.Is(err, io.EOF) {
				ch.config.Logger.Warningf("worker closed its channel")
				return errors.Annotate(ErrChannelUnavailable, "worker closed the channel")
			}
			return errors.Annotate(err, "reading from worker")

		case cmd := <-ch.outbound:
			if ch.config.Logger.IsTraceEnabled() {
				ch.config.Logger.Tracef("sending %s %q", cmd.Type, cmd.ID)
			}
			if err := enc.Encode(cmd); err != nil {
				if ch.dying() {
					return ch.catacomb.ErrDying()
				}
				return errors.Annotatef(err, "writing %s", cmd.Type)
			}
			ch.sent.Add(1)
		}
	}
}

func (ch *Channel) dying() bool {
	select {
	case <-ch.catacomb.Dying():
		return true
	default:
		return false
	}
}

func (ch *Channel) readLoop() error {
	dec := wire.NewDecoder(ch.config.Transport)
	for {
		var ev wire.Event
		err := dec.Decode(&ev)
		if wire.IsMalformed(err) {
			ch.malformed.Add(1)
			ch.config.Logger.Warningf("skipping message from worker: %v", err)
			continue
		} else if err != nil {
			return err
		}
		ch.received.Add(1)

		select {
		case <-ch.catacomb.Dying():
			return ch.catacomb.ErrDying()
		case ch.events <- ev:
		}
	}
}
