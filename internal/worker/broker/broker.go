// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package broker implements the dedup broker: the single owner of the
// interest sets, which makes sure each resource is requested from the
// external worker at most once, fans the result out to every interested
// context, and cancels the request when nobody needs it any more.
package broker

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"

	"github.com/juju/mediabroker/core/lifecycle"
	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/core/resource"
	"github.com/juju/mediabroker/internal/mailbox"
	"github.com/juju/mediabroker/internal/wire"
)

// DefaultHeartbeatInterval is how often the worker is pinged when no
// interval is configured.
const DefaultHeartbeatInterval = 5 * time.Second

// Channel is the broker's view of the worker channel.
type Channel interface {
	// Send queues a command without blocking. An error means the command
	// was dropped.
	Send(wire.Command) error

	// Events delivers the messages sent by the worker.
	Events() <-chan wire.Event
}

// Deliverer hands results to viewer contexts. Deliver is called from the
// broker loop and must not block.
type Deliverer interface {
	Deliver(context resource.ContextHandle, result wire.Result)
}

// Config holds the dependencies of a Broker.
type Config struct {
	Channel   Channel
	Deliverer Deliverer

	// Hub is where context lifecycle notifications are published.
	Hub lifecycle.Hub

	Clock  clock.Clock
	Logger logger.Logger

	// HeartbeatInterval is the period of the liveness ping.
	HeartbeatInterval time.Duration

	// SettingsMetadata is sent to the worker before any other command.
	SettingsMetadata string

	// Metrics is optional.
	Metrics *Collector
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if config.Channel == nil {
		return errors.NotValidf("nil Channel")
	}
	if config.Deliverer == nil {
		return errors.NotValidf("nil Deliverer")
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
	if config.HeartbeatInterval < 0 {
		return errors.NotValidf("negative HeartbeatInterval")
	}
	return nil
}

type eventKind int

const (
	registerEvent eventKind = iota
	withdrawEvent
	teardownEvent
	resultEvent
	reportEvent
)

type event struct {
	kind    eventKind
	context resource.ContextHandle
	id      resource.ID
	url     string
	result  wire.Result
	reply   chan<- map[string]any
}

// Broker is a worker that owns the interest sets. Its exported operations
// may be called from any goroutine: they post an event to the broker and
// return immediately. Events posted by one goroutine are handled in the
// order they were posted.
type Broker struct {
	catacomb catacomb.Catacomb
	config   Config
	metrics  *Collector

	inbox    *mailbox.Mailbox[event]
	interest *interestSets

	lastStatus *wire.Status
}

// NewBroker starts a broker.
func NewBroker(config Config) (*Broker, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.HeartbeatInterval == 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = NewMetricsCollector()
	}
	b := &Broker{
		config:   config,
		metrics:  metrics,
		inbox:    mailbox.New[event](),
		interest: newInterestSets(),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &b.catacomb,
		Work: b.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return b, nil
}

// Kill is part of the worker.Worker interface.
func (b *Broker) Kill() {
	b.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (b *Broker) Wait() error {
	return b.catacomb.Wait()
}

// RegisterInterest records that context wants the resource id found at
// url. The first context to register an id causes it to be enqueued with
// the worker; later ones just join the set.
func (b *Broker) RegisterInterest(context resource.ContextHandle, id resource.ID, url string) {
	b.inbox.Post(event{kind: registerEvent, context: context, id: id, url: url})
}

// WithdrawInterest records that context no longer wants id. When the last
// context withdraws, the id is dequeued from the worker.
func (b *Broker) WithdrawInterest(context resource.ContextHandle, id resource.ID) {
	b.inbox.Post(event{kind: withdrawEvent, context: context, id: id})
}

// TeardownContext withdraws context from every resource it was waiting on.
func (b *Broker) TeardownContext(context resource.ContextHandle) {
	b.inbox.Post(event{kind: teardownEvent, context: context})
}

// OnWorkerResult fans a result out to every context waiting on it. Results
// for ids nobody waits on are ignored.
func (b *Broker) OnWorkerResult(result wire.Result) {
	b.inbox.Post(event{kind: resultEvent, result: result})
}

// Report returns the broker's current state, for the status endpoint.
func (b *Broker) Report() map[string]any {
	reply := make(chan map[string]any, 1)
	b.inbox.Post(event{kind: reportEvent, reply: reply})
	select {
	case report := <-reply:
		return report
	case <-b.catacomb.Dying():
		return map[string]any{"state": "stopped"}
	}
}

func (b *Broker) loop() error {
	unsubscribe := lifecycle.SubscribeContextEnded(b.config.Hub, b.TeardownContext)
	defer unsubscribe()

	// Everything the worker learns about its environment must reach it
	// before steady state traffic.
	b.send(wire.Settings(b.config.SettingsMetadata))

	heartbeat := b.config.Clock.NewTimer(b.config.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-b.catacomb.Dying():
			return b.catacomb.ErrDying()

		case <-b.inbox.Ready():
			for _, ev := range b.inbox.Drain() {
				b.handle(ev)
			}

		case ev := <-b.config.Channel.Events():
			b.handleWorkerEvent(ev)

		case <-heartbeat.Chan():
			b.send(wire.Ping())
			heartbeat.Reset(b.config.HeartbeatInterval)
		}
	}
}

func (b *Broker) handle(ev event) {
	switch ev.kind {
	case registerEvent:
		b.register(ev.context, ev.id, ev.url)
	case withdrawEvent:
		b.withdraw(ev.context, ev.id)
	case teardownEvent:
		b.teardown(ev.context)
	case resultEvent:
		b.fanOut(ev.result)
	case reportEvent:
		ev.reply <- b.report()
	}
	b.updateGauges()
}

func (b *Broker) register(context resource.ContextHandle, id resource.ID, url string) {
	if err := id.Validate(); err != nil {
		b.config.Logger.Warningf("ignoring registration from %q: %v", context, err)
		return
	}
	created, added := b.interest.add(context, id, url)
	switch {
	case created:
		b.config.Logger.Debugf("%q registered new resource %q", context, id)
		b.send(wire.Enqueue(id, url))
	case added:
		b.config.Logger.Tracef("%q joined resource %q", context, id)
	}
}

func (b *Broker) withdraw(context resource.ContextHandle, id resource.ID) {
	removed, emptied := b.interest.remove(context, id)
	if !removed {
		return
	}
	b.config.Logger.Tracef("%q withdrew from resource %q", context, id)
	if emptied {
		b.send(wire.Dequeue(id))
	}
}

func (b *Broker) teardown(context resource.ContextHandle) {
	emptied := b.interest.removeContext(context)
	b.config.Logger.Debugf("context %q ended, dequeuing %d resources", context, len(emptied))
	for _, id := range emptied {
		b.send(wire.Dequeue(id))
	}
}

// fanOut delivers a result to every interested context and drops the set.
// The need is satisfied, so nothing is dequeued.
func (b *Broker) fanOut(result wire.Result) {
	contexts, ok := b.interest.take(result.ID)
	if !ok {
		b.config.Logger.Debugf("dropping result for %q: no interested context", result.ID)
		b.metrics.results.WithLabelValues("stale").Inc()
		return
	}
	outcome := "delivered"
	if result.Failed() {
		outcome = "failed"
		b.config.Logger.Infof("worker failed to process %q, notifying %d contexts", result.ID, len(contexts))
	}
	b.metrics.results.WithLabelValues(outcome).Inc()
	for _, context := range contexts {
		b.config.Deliverer.Deliver(context, result)
	}
}

func (b *Broker) handleWorkerEvent(ev wire.Event) {
	switch ev.Type {
	case wire.EventResult:
		b.fanOut(wire.Result{ID: ev.ID, Payload: ev.Data})
		b.updateGauges()
	case wire.EventStatus:
		status := ev.Status
		b.lastStatus = &status
		alive := 0.0
		if status.Alive() {
			alive = 1
		}
		b.metrics.workerAlive.Set(alive)
		b.metrics.workerQueueLen.Set(float64(status.QueueDepth()))
		b.config.Logger.Tracef("worker status: alive %v, queue %d, tracking %d resources",
			status.Alive(), status.QueueDepth(), b.interest.resourceCount())
		if len(status.Failed) > 0 {
			b.config.Logger.Debugf("worker reports failures: %v", status.Failed)
		}
	case wire.EventDebug:
		b.config.Logger.Debugf("worker: %s", ev.Debug)
	default:
		b.config.Logger.Warningf("ignoring worker message of type %q", ev.Type)
	}
}

// send hands a command to the channel. A dropped command is not retried;
// the interest sets have already been updated and stay consistent.
func (b *Broker) send(cmd wire.Command) {
	name := cmd.Type.String()
	if err := b.config.Channel.Send(cmd); err != nil {
		b.config.Logger.Warningf("dropped %s %q: %v", name, cmd.ID, err)
		b.metrics.droppedCmds.WithLabelValues(name).Inc()
		return
	}
	b.metrics.commands.WithLabelValues(name).Inc()
}

func (b *Broker) updateGauges() {
	b.metrics.resources.Set(float64(b.interest.resourceCount()))
	b.metrics.contexts.Set(float64(b.interest.contextCount()))
}

func (b *Broker) report() map[string]any {
	resources := make(map[string]any, len(b.interest.byID))
	for id := range b.interest.byID {
		members := b.interest.members(id)
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = string(m)
		}
		resources[string(id)] = names
	}
	report := map[string]any{
		"resources": resources,
		"contexts":  b.interest.contextCount(),
	}
	if b.lastStatus != nil {
		report["worker"] = map[string]any{
			"alive":  b.lastStatus.Alive(),
			"queue":  b.lastStatus.QueueDepth(),
			"failed": b.lastStatus.Failed,
		}
	}
	return report
}
