// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package wire

import (
	"github.com/juju/mediabroker/core/resource"
)

// CommandType identifies a broker to worker command. The numeric values are
// what the worker expects on the wire.
type CommandType int

const (
	CommandEnqueue  CommandType = 0
	CommandDequeue  CommandType = 1
	CommandPing     CommandType = 2
	CommandSettings CommandType = 3
)

// String implements fmt.Stringer.
func (t CommandType) String() string {
	switch t {
	case CommandEnqueue:
		return "ENQUEUE"
	case CommandDequeue:
		return "DEQUEUE"
	case CommandPing:
		return "PING"
	case CommandSettings:
		return "SETTINGS"
	}
	return "UNKNOWN"
}

// Command is a message sent from the broker to the worker.
type Command struct {
	Type CommandType `json:"type"`

	// ID is set for ENQUEUE and DEQUEUE.
	ID resource.ID `json:"id,omitempty"`

	// URL is set for ENQUEUE.
	URL string `json:"url,omitempty"`

	// Metadata is set for SETTINGS.
	Metadata string `json:"user_agent,omitempty"`
}

// Enqueue asks the worker to process the resource at url.
func Enqueue(id resource.ID, url string) Command {
	return Command{Type: CommandEnqueue, ID: id, URL: url}
}

// Dequeue cancels a previously enqueued resource, best effort.
func Dequeue(id resource.ID) Command {
	return Command{Type: CommandDequeue, ID: id}
}

// Ping is the liveness probe. The worker answers with a status event.
func Ping() Command {
	return Command{Type: CommandPing}
}

// Settings carries environment metadata to the worker.
func Settings(metadata string) Command {
	return Command{Type: CommandSettings, Metadata: metadata}
}

// EventType identifies a worker to broker message.
type EventType string

const (
	EventDebug  EventType = "debug"
	EventStatus EventType = "status"
	EventResult EventType = "result"
)

// Event is a message received from the worker. Which fields are populated
// depends on Type.
type Event struct {
	Type EventType `json:"type"`

	// Debug is the text of a debug event.
	Debug string `json:"debug,omitempty"`

	// ID and Data are set for result events. A nil Data means the
	// worker failed to produce a result.
	ID   resource.ID `json:"id,omitempty"`
	Data *string     `json:"data"`

	Status
}

// Status is the observability report of the worker. Older workers report the
// aggregate Queue and Worker fields, newer ones report per stage.
type Status struct {
	Queue  *int         `json:"queue,omitempty"`
	Worker *bool        `json:"worker,omitempty"`
	Fetch  *StageStatus `json:"fetch,omitempty"`
	Censor *StageStatus `json:"censor,omitempty"`

	// Failed holds the entries the worker reported as failed, as it sent
	// them. Their shape varies between workers.
	Failed []any `json:"failed,omitempty"`
}

// StageStatus reports on one processing stage of the worker.
type StageStatus struct {
	Alive bool `json:"alive"`
	Queue int  `json:"queue"`
}

// Alive reports whether every stage the worker reported on is alive.
func (s Status) Alive() bool {
	if s.Worker != nil && !*s.Worker {
		return false
	}
	for _, stage := range []*StageStatus{s.Fetch, s.Censor} {
		if stage != nil && !stage.Alive {
			return false
		}
	}
	return true
}

// QueueDepth is the total number of items the worker reported as queued.
func (s Status) QueueDepth() int {
	var depth int
	if s.Queue != nil {
		depth += *s.Queue
	}
	for _, stage := range []*StageStatus{s.Fetch, s.Censor} {
		if stage != nil {
			depth += stage.Queue
		}
	}
	return depth
}

// Result is the outcome of processing one resource.
type Result struct {
	ID resource.ID

	// Payload is the processed content, nil if the worker failed.
	Payload *string
}

// Failed reports whether the worker could not produce a payload.
func (r Result) Failed() bool {
	return r.Payload == nil
}
