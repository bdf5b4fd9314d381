// Package router implements the Message Router (C4): a table mapping
// message ID to an ordered list of handlers, dispatched to on every inbound
// frame, with bulk deregistration by owner token.
package router

import (
	"sync"

	"mavgateway/log"
	"mavgateway/mavcodec"
)

// Callback is invoked with every inbound frame matching a registered
// message ID, in insertion order.
type Callback func(mavcodec.Frame)

// Owner is an opaque per-subscriber identity used to bulk-remove
// registrations. Any comparable value works; capability facades typically
// use themselves (a *T) as their own owner token.
type Owner any

type registration struct {
	callback Callback
	owner    Owner
}

// Router is exclusively owned by the Session Facade. Dispatch is driven
// single-threaded by the receive pipeline; registrations made by a handler
// during dispatch apply to subsequent dispatches only.
type Router struct {
	mu       sync.Mutex
	handlers map[uint32][]*registration
}

// New creates an empty Router.
func New() *Router {
	return &Router{handlers: make(map[uint32][]*registration)}
}

// Register adds a handler for message ID, scoped to owner.
func (r *Router) Register(messageID uint32, callback Callback, owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[messageID] = append(r.handlers[messageID], &registration{callback: callback, owner: owner})
}

// UnregisterAll removes every registration whose owner token matches,
// across all message IDs.
func (r *Router) UnregisterAll(owner Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, regs := range r.handlers {
		kept := regs[:0:0]
		for _, reg := range regs {
			if reg.owner != owner {
				kept = append(kept, reg)
			}
		}
		if len(kept) == 0 {
			delete(r.handlers, id)
		} else {
			r.handlers[id] = kept
		}
	}
}

// Dispatch invokes every callback registered for frame's message ID, in
// insertion order, over a snapshot taken under lock. A callback that
// mutates the router (registers/unregisters) affects only later dispatches.
// Handler panics are caught and logged; dispatch continues.
func (r *Router) Dispatch(frame mavcodec.Frame) {
	r.mu.Lock()
	regs := r.handlers[frame.ID()]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	r.mu.Unlock()

	for _, reg := range snapshot {
		r.invoke(reg, frame)
	}
}

func (r *Router) invoke(reg *registration, frame mavcodec.Frame) {
	defer func() {
		if p := recover(); p != nil {
			log.With(map[string]interface{}{"messageID": frame.ID(), "status": "handler_panic"}).
				Error(p)
		}
	}()
	reg.callback(frame)
}
