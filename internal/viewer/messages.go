// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package viewer

import (
	"github.com/juju/errors"

	"github.com/juju/mediabroker/core/resource"
	"github.com/juju/mediabroker/internal/worker/detector"
)

// Message types sent by the viewer.
const (
	MessageLoad   = "load"
	MessageInsert = "insert"
	MessageRemove = "remove"
	MessageLoaded = "loaded"
	MessageBatch  = "batch"
)

// Message types sent to the viewer.
const (
	MessageSession = "session"
	MessageApply   = "apply"
)

// ClientMessage is a message from the viewer describing its document.
type ClientMessage struct {
	Type   string          `json:"type"`
	HTML   string          `json:"html,omitempty"`
	Parent string          `json:"parent,omitempty"`
	Before string          `json:"before,omitempty"`
	Key    string          `json:"key,omitempty"`
	Ops    []ClientMessage `json:"ops,omitempty"`
}

// Operations converts the message into detector operations. A batch may not
// contain another batch.
func (m ClientMessage) Operations() ([]detector.Op, error) {
	if m.Type != MessageBatch {
		op, err := m.op()
		if err != nil {
			return nil, errors.Trace(err)
		}
		return []detector.Op{op}, nil
	}
	ops := make([]detector.Op, 0, len(m.Ops))
	for i, inner := range m.Ops {
		if inner.Type == MessageBatch {
			return nil, errors.NotValidf("nested batch at %d", i)
		}
		op, err := inner.op()
		if err != nil {
			return nil, errors.Annotatef(err, "batch operation %d", i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (m ClientMessage) op() (detector.Op, error) {
	kind, ok := detector.ParseOpKind(m.Type)
	if !ok {
		return detector.Op{}, errors.NotValidf("message type %q", m.Type)
	}
	op := detector.Op{Kind: kind, HTML: m.HTML}
	switch kind {
	case detector.InsertOp:
		if m.Parent == "" {
			return detector.Op{}, errors.NotValidf("insert without parent")
		}
		op.Parent = m.Parent
		op.Before = m.Before
	case detector.RemoveOp, detector.LoadedOp:
		if m.Key == "" {
			return detector.Op{}, errors.NotValidf("%s without key", m.Type)
		}
		op.Key = m.Key
	}
	return op, nil
}

// ServerMessage is a message to the viewer.
type ServerMessage struct {
	Type    string `json:"type"`
	Context string `json:"context,omitempty"`
	Key     string `json:"key,omitempty"`
	ID      string `json:"id,omitempty"`
	Src     string `json:"src,omitempty"`
}

func sessionMessage(handle resource.ContextHandle) ServerMessage {
	return ServerMessage{Type: MessageSession, Context: handle.String()}
}

func applyMessage(key string, id resource.ID, src string) ServerMessage {
	return ServerMessage{Type: MessageApply, Key: key, ID: id.String(), Src: src}
}
