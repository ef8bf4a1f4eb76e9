// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package detector implements the per context change detector. A detector
// owns a copy of its viewer's document, finds the media elements in it,
// registers and withdraws interest in their resources with the broker and
// writes delivered results back into the document and to the viewer.
package detector

import (
	"time"

	"github.com/juju/clock"
	"github.com/juju/collections/set"
	"github.com/juju/errors"
	"github.com/juju/worker/v4/catacomb"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/core/resource"
	"github.com/juju/mediabroker/internal/document"
	"github.com/juju/mediabroker/internal/mailbox"
	"github.com/juju/mediabroker/internal/wire"
)

// DefaultRescanInterval is how often the whole document is rescanned when
// no interval is configured.
const DefaultRescanInterval = time.Second

// Broker is the detector's view of the dedup broker. Both calls must
// return without waiting on the broker.
type Broker interface {
	RegisterInterest(context resource.ContextHandle, id resource.ID, url string)
	WithdrawInterest(context resource.ContextHandle, id resource.ID)
}

// Viewer receives the results applied to the viewer's document.
type Viewer interface {
	// Apply asks the viewer to load src into the element with the given
	// key. The viewer acknowledges with a loaded operation.
	Apply(key string, id resource.ID, src string) error
}

// Config holds the dependencies of a Detector.
type Config struct {
	Context  resource.ContextHandle
	Document *document.Document
	Broker   Broker
	Viewer   Viewer
	Clock    clock.Clock
	Logger   logger.Logger

	// RescanInterval is the period of the full document rescan.
	RescanInterval time.Duration
}

// Validate returns an error if the config cannot be used.
func (config Config) Validate() error {
	if err := config.Context.Validate(); err != nil {
		return errors.Trace(err)
	}
	if config.Document == nil {
		return errors.NotValidf("nil Document")
	}
	if config.Broker == nil {
		return errors.NotValidf("nil Broker")
	}
	if config.Viewer == nil {
		return errors.NotValidf("nil Viewer")
	}
	if config.Clock == nil {
		return errors.NotValidf("nil Clock")
	}
	if config.Logger == nil {
		return errors.NotValidf("nil Logger")
	}
	if config.RescanInterval < 0 {
		return errors.NotValidf("negative RescanInterval")
	}
	return nil
}

type eventKind int

const (
	updateEvent eventKind = iota
	resultEvent
	reportEvent
)

type event struct {
	kind   eventKind
	ops    []Op
	result wire.Result
	reply  chan<- map[string]any
}

// Detector is a worker watching one viewer context.
type Detector struct {
	catacomb catacomb.Catacomb
	config   Config

	inbox   *mailbox.Mailbox[event]
	markers *markerTable
}

// NewDetector starts a detector. The document is scanned as soon as the
// detector starts.
func NewDetector(config Config) (*Detector, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	if config.RescanInterval == 0 {
		config.RescanInterval = DefaultRescanInterval
	}
	d := &Detector{
		config:  config,
		inbox:   mailbox.New[event](),
		markers: newMarkerTable(),
	}
	if err := catacomb.Invoke(catacomb.Plan{
		Site: &d.catacomb,
		Work: d.loop,
	}); err != nil {
		return nil, errors.Trace(err)
	}
	return d, nil
}

// Kill is part of the worker.Worker interface.
func (d *Detector) Kill() {
	d.catacomb.Kill(nil)
}

// Wait is part of the worker.Worker interface.
func (d *Detector) Wait() error {
	return d.catacomb.Wait()
}

// Context returns the handle of the context being watched.
func (d *Detector) Context() resource.ContextHandle {
	return d.config.Context
}

// Update applies a batch of viewer operations. The document changes they
// cause are examined together once the whole batch has been applied.
func (d *Detector) Update(ops ...Op) {
	if len(ops) == 0 {
		return
	}
	d.inbox.Post(event{kind: updateEvent, ops: ops})
}

// Deliver hands a broker result to the detector. It never blocks.
func (d *Detector) Deliver(result wire.Result) {
	d.inbox.Post(event{kind: resultEvent, result: result})
}

// Report returns counts of the elements the detector knows about.
func (d *Detector) Report() map[string]any {
	reply := make(chan map[string]any, 1)
	d.inbox.Post(event{kind: reportEvent, reply: reply})
	select {
	case report := <-reply:
		return report
	case <-d.catacomb.Dying():
		return map[string]any{"state": "stopped"}
	}
}

func (d *Detector) loop() error {
	d.scan(d.config.Document.Root())

	rescan := d.config.Clock.NewTimer(d.config.RescanInterval)
	defer rescan.Stop()

	for {
		select {
		case <-d.catacomb.Dying():
			return d.catacomb.ErrDying()

		case <-d.inbox.Ready():
			for _, ev := range d.inbox.Drain() {
				d.handle(ev)
			}

		case <-rescan.Chan():
			d.scan(d.config.Document.Root())
			rescan.Reset(d.config.RescanInterval)
		}
	}
}

func (d *Detector) handle(ev event) {
	switch ev.kind {
	case updateEvent:
		d.update(ev.ops)
	case resultEvent:
		d.onResult(ev.result)
	case reportEvent:
		ev.reply <- d.report()
	}
}

func (d *Detector) update(ops []Op) {
	doc := d.config.Document
	for _, op := range ops {
		if err := d.applyOp(doc, op); err != nil {
			d.config.Logger.Warningf("context %q: ignoring %s: %v", d.config.Context, op.Kind, err)
		}
	}
	d.onMutation(doc.TakeRecords())
}

func (d *Detector) applyOp(doc *document.Document, op Op) error {
	switch op.Kind {
	case LoadOp:
		return doc.Load(op.HTML)
	case InsertOp:
		return doc.Insert(op.Parent, op.Before, op.HTML)
	case RemoveOp:
		return doc.Remove(op.Key)
	case LoadedOp:
		return d.onLoaded(op.Key)
	default:
		return errors.NotValidf("operation %d", op.Kind)
	}
}

// onMutation handles one batch of mutation records. Added subtrees are
// handled first, so a resource that is still referenced after the batch is
// never withdrawn and enqueued again. Added subtrees that left the document
// again within the batch are skipped: an element that came and went before
// it was ever registered produces no command at all.
func (d *Detector) onMutation(records []document.Record) {
	for _, record := range records {
		if record.Kind == document.Added && d.config.Document.Contains(record.Node) {
			d.scan(record.Node)
		}
	}
	for _, record := range records {
		if record.Kind == document.Removed {
			d.withdraw(record.Node)
		}
	}
}

// scan registers every matching element under root that is not tracked
// yet.
func (d *Detector) scan(root *html.Node) {
	document.Walk(root, func(n *html.Node) bool {
		src, key, ok := matching(n)
		if !ok {
			return true
		}
		m := d.markers.mark(n)
		if m.Tracked {
			return true
		}
		m.Tracked = true
		m.ResourceID = resource.IDFromAddress(src)
		d.config.Logger.Tracef("context %q: tracking %q as %q", d.config.Context, key, m.ResourceID)
		d.config.Broker.RegisterInterest(d.config.Context, m.ResourceID, src)
		return true
	})
}

// withdraw gives up interest in the resources of the unresolved elements
// under root, unless an element left in the document still awaits a result
// for the same resource. Resolved elements need nothing, and neither do
// elements whose result has already been applied.
func (d *Detector) withdraw(root *html.Node) {
	ids := set.NewStrings()
	document.Walk(root, func(n *html.Node) bool {
		if m, ok := d.markers.get(n); ok && m.unresolved() {
			ids.Add(m.ResourceID.String())
		}
		return true
	})
	if ids.IsEmpty() {
		return
	}
	document.Walk(d.config.Document.Root(), func(n *html.Node) bool {
		if m, ok := d.markers.get(n); ok && m.awaiting() {
			ids.Remove(m.ResourceID.String())
		}
		return true
	})
	for _, id := range ids.SortedValues() {
		d.config.Logger.Tracef("context %q: no element waits on %q", d.config.Context, id)
		d.config.Broker.WithdrawInterest(d.config.Context, resource.ID(id))
	}
}

func (d *Detector) onResult(result wire.Result) {
	var waiting []*html.Node
	document.Walk(d.config.Document.Root(), func(n *html.Node) bool {
		if m, ok := d.markers.get(n); ok && m.awaiting() && m.ResourceID == result.ID {
			waiting = append(waiting, n)
		}
		return true
	})
	if len(waiting) == 0 {
		d.config.Logger.Debugf("context %q: dropping result for %q: element gone", d.config.Context, result.ID)
		return
	}

	for _, n := range waiting {
		m, _ := d.markers.get(n)
		if result.Failed() {
			m.Resolved = true
			m.Failed = true
			continue
		}
		src := *result.Payload
		document.SetAttr(n, "src", src)
		document.RemoveAttr(n, "srcset")
		m.Applied = true

		key, _ := document.Attr(n, document.KeyAttr)
		if err := d.config.Viewer.Apply(key, result.ID, src); err != nil {
			d.config.Logger.Warningf("context %q: applying %q to %q: %v", d.config.Context, result.ID, key, err)
		}
	}
}

// onLoaded marks the element resolved once the viewer has loaded the
// content applied to it. Loads of content the detector did not apply are
// ignored.
func (d *Detector) onLoaded(key string) error {
	n, ok := d.config.Document.Lookup(key)
	if !ok {
		return errors.NotFoundf("element %q", key)
	}
	if m, ok := d.markers.get(n); ok && m.Applied {
		m.Resolved = true
	}
	return nil
}

func (d *Detector) report() map[string]any {
	var tracked, pending, applied, resolved, failed int
	document.Walk(d.config.Document.Root(), func(n *html.Node) bool {
		m, ok := d.markers.get(n)
		if !ok || !m.Tracked {
			return true
		}
		tracked++
		switch {
		case m.Failed:
			failed++
		case m.Resolved:
			resolved++
		case m.Applied:
			applied++
		default:
			pending++
		}
		return true
	})
	return map[string]any{
		"context":  d.config.Context.String(),
		"tracked":  tracked,
		"pending":  pending,
		"applied":  applied,
		"resolved": resolved,
		"failed":   failed,
		"markers":  d.markers.len(),
	}
}

// matching returns the source and key of an element the detector is
// interested in.
func matching(n *html.Node) (src, key string, ok bool) {
	if n.Type != html.ElementNode || n.DataAtom != atom.Img {
		return "", "", false
	}
	src, _ = document.Attr(n, "src")
	key, _ = document.Attr(n, document.KeyAttr)
	if src == "" || key == "" {
		return "", "", false
	}
	return src, key, true
}
