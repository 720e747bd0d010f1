package handler

import (
	"context"

	"github.com/zephyrtronium/switchboard/message"
)

// RouteContext is the information passed to route hooks.
type RouteContext struct {
	Route   *Route
	Message *message.Message
	// Response is nil for validate-route hooks.
	Response *Response
	Robot    Robot
}

// Hooks are functions run around every chat route of every handler.
// Hooks must be registered before the robot runs.
// A nil *Hooks has no hooks.
type Hooks struct {
	validators []func(context.Context, *RouteContext) bool
	triggers   []func(context.Context, *RouteContext)
	posts      []func(context.Context, *RouteContext)
}

// OnValidateRoute adds a hook deciding whether a route applies to a message.
// A route applies only if every such hook returns true.
func (h *Hooks) OnValidateRoute(f func(context.Context, *RouteContext) bool) {
	h.validators = append(h.validators, f)
}

// OnTriggerRoute adds a hook run before a route's callback.
// Hooks may record data in the response's Extensions.
func (h *Hooks) OnTriggerRoute(f func(context.Context, *RouteContext)) {
	h.triggers = append(h.triggers, f)
}

// OnPostRoute adds a hook run after a route's callback succeeds.
func (h *Hooks) OnPostRoute(f func(context.Context, *RouteContext)) {
	h.posts = append(h.posts, f)
}

func (h *Hooks) validate(ctx context.Context, rc *RouteContext) bool {
	if h == nil {
		return true
	}
	for _, f := range h.validators {
		if !f(ctx, rc) {
			return false
		}
	}
	return true
}

func (h *Hooks) trigger(ctx context.Context, rc *RouteContext) {
	if h == nil {
		return
	}
	for _, f := range h.triggers {
		f(ctx, rc)
	}
}

func (h *Hooks) post(ctx context.Context, rc *RouteContext) {
	if h == nil {
		return
	}
	for _, f := range h.posts {
		f(ctx, rc)
	}
}
