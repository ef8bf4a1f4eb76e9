// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package viewer

import (
	"sync"

	"github.com/juju/mediabroker/core/logger"
	"github.com/juju/mediabroker/core/resource"
	"github.com/juju/mediabroker/internal/wire"
)

// Recipient accepts results for one context without blocking.
type Recipient interface {
	Deliver(wire.Result)
}

// Router delivers broker results to the detector of the addressed context.
// It is safe for concurrent use.
type Router struct {
	logger logger.Logger

	mu         sync.Mutex
	recipients map[resource.ContextHandle]Recipient
}

// NewRouter returns an empty router.
func NewRouter(logger logger.Logger) *Router {
	return &Router{
		logger:     logger,
		recipients: make(map[resource.ContextHandle]Recipient),
	}
}

// Add routes results for handle to r.
func (r *Router) Add(handle resource.ContextHandle, recipient Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recipients[handle] = recipient
}

// Remove stops routing results for handle.
func (r *Router) Remove(handle resource.ContextHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recipients, handle)
}

// Len returns the number of routed contexts.
func (r *Router) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recipients)
}

// Deliver is part of the broker.Deliverer interface.
func (r *Router) Deliver(handle resource.ContextHandle, result wire.Result) {
	r.mu.Lock()
	recipient, ok := r.recipients[handle]
	r.mu.Unlock()
	if !ok {
		r.logger.Debugf("dropping result for %q: context %q is gone", result.ID, handle)
		return
	}
	recipient.Deliver(result)
}
