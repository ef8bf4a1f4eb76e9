// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package lifecycle carries viewer context lifecycle notifications over a
// pubsub hub.
package lifecycle

import (
	"github.com/juju/pubsub/v2"

	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/core/resource"
)

// ContextEndedTopic is published when a viewer context goes away.
const ContextEndedTopic = "mediabroker.context.ended"

// ContextEnded is the payload of ContextEndedTopic.
type ContextEnded struct {
	Context resource.ContextHandle
}

// Hub is the subset of *pubsub.SimpleHub used here.
type Hub interface {
	Publish(topic string, data interface{}) func()
	Subscribe(topic string, handler func(string, interface{})) func()
}

// NewHub returns a hub suitable for lifecycle notifications.
func NewHub(logger logger.Logger) *pubsub.SimpleHub {
	return pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
		Logger: logger,
	})
}

// PublishContextEnded announces that the given context has ended. The
// returned func blocks until every subscriber has seen the message.
func PublishContextEnded(hub Hub, handle resource.ContextHandle) func() {
	return hub.Publish(ContextEndedTopic, ContextEnded{Context: handle})
}

// SubscribeContextEnded calls fn for every context that ends. The returned
// func unsubscribes.
func SubscribeContextEnded(hub Hub, fn func(resource.ContextHandle)) func() {
	return hub.Subscribe(ContextEndedTopic, func(_ string, data interface{}) {
		if msg, ok := data.(ContextEnded); ok {
			fn(msg.Context)
		}
	})
}
