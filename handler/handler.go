package handler

import (
	"context"
	"log/slog"
	"regexp"
	"time"

	"github.com/zephyrtronium/switchboard/callback"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/store"
	"github.com/zephyrtronium/switchboard/timer"
)

// Payload is the data passed to event subscribers.
type Payload map[string]any

// Plugin is a handler as seen by the robot.
type Plugin interface {
	// Namespace is the handler's name, also used for its configuration and
	// storage.
	Namespace() string
	// Builder is the handler's configuration declarations.
	Builder() *config.Builder
	// Routes lists the handler's chat routes in declaration order.
	Routes() []*Route
	// HTTPRoutes lists the handler's HTTP routes in declaration order.
	HTTPRoutes() []*HTTPRoute
	// Events lists the normalized names of events the handler subscribes to.
	Events() []string
	// Dispatch runs every route of the handler which applies to msg.
	Dispatch(ctx context.Context, robo Robot, msg *message.Message) (bool, error)
	// Trigger runs every subscriber of the handler to the named event.
	Trigger(ctx context.Context, robo Robot, name string, payload Payload) (bool, error)
}

// Base holds the services available to a handler instance.
type Base struct {
	// Robot is the robot running the handler.
	Robot Robot
	// Config is the handler's configuration.
	Config *config.Config
	// Store is the handler's namespaced storage.
	Store *store.Namespace
	// Log is a logger annotated with the handler's namespace.
	Log *slog.Logger

	namespace string
}

// Namespace returns the namespace of the handler.
func (b *Base) Namespace() string {
	return b.namespace
}

// After runs f once after d.
// Errors and panics from f are passed to the robot's error handler.
func (b *Base) After(ctx context.Context, d time.Duration, f timer.Func) *timer.Timer {
	return timer.After(ctx, d, f, b.report(ctx))
}

// Every runs f every d until the timer is stopped or ctx is done.
// An error or panic from f is passed to the robot's error handler and stops
// the timer.
func (b *Base) Every(ctx context.Context, d time.Duration, f timer.Func) *timer.Timer {
	return timer.Every(ctx, d, f, b.report(ctx))
}

// Cron runs f on a cron schedule until the timer is stopped or ctx is done.
func (b *Base) Cron(ctx context.Context, expr string, f timer.Func) (*timer.Timer, error) {
	return timer.Cron(ctx, expr, f, b.report(ctx))
}

func (b *Base) report(ctx context.Context) func(error) {
	return func(err error) {
		b.Robot.ReportError(ctx, err, map[string]any{"handler": b.namespace, "source": "timer"})
	}
}

// Handler is a handler type H with its routes and event subscriptions.
// A fresh H is constructed for every route invocation and every event
// delivery.
type Handler[H any] struct {
	namespace string
	mk        func(*Base) H
	cfg       *config.Builder
	routes    []*Route
	http      []*HTTPRoute
	events    map[string][]*subscription
	order     []string
}

// New declares a handler. mk constructs an instance of the handler from its
// services.
func New[H any](namespace string, mk func(*Base) H) *Handler[H] {
	return &Handler[H]{
		namespace: namespace,
		mk:        mk,
		cfg:       config.NewBuilder(),
		events:    make(map[string][]*subscription),
	}
}

// Namespace returns the handler's namespace.
func (h *Handler[H]) Namespace() string {
	return h.namespace
}

// Config declares a configuration attribute for the handler.
func (h *Handler[H]) Config(name string, opts ...config.Option) *config.Builder {
	return h.cfg.Config(name, opts...)
}

// Builder returns the handler's configuration declarations.
func (h *Handler[H]) Builder() *config.Builder {
	return h.cfg
}

// Routes returns the handler's chat routes.
func (h *Handler[H]) Routes() []*Route {
	return h.routes
}

// HTTPRoutes returns the handler's HTTP routes.
func (h *Handler[H]) HTTPRoutes() []*HTTPRoute {
	return h.http
}

// Events returns the normalized names of subscribed events in the order of
// first subscription.
func (h *Handler[H]) Events() []string {
	return h.order
}

// Route declares a chat route which calls fn for messages matching pattern.
// Panics if pattern is not a valid regular expression.
func (h *Handler[H]) Route(pattern string, fn callback.Func[H, *Response], opts ...RouteOption) *Route {
	return h.route(pattern, fn, opts)
}

// RouteTo declares a chat route which calls the named method of H.
// Panics if H has no such method with the right signature.
func (h *Handler[H]) RouteTo(pattern, method string, opts ...RouteOption) *Route {
	return h.route(pattern, callback.Method[H, *Response](method), opts)
}

func (h *Handler[H]) route(pattern string, cb callback.Callback[H, *Response], opts []RouteOption) *Route {
	r := &Route{
		pattern: regexp.MustCompile(pattern),
		owner:   h.namespace,
		name:    cb.Name(),
		ext:     make(map[string]any),
	}
	for _, o := range opts {
		o(r)
	}
	r.call = func(ctx context.Context, robo Robot, resp *Response) error {
		return callback.Invoke(ctx, cb, h.instance(robo), resp)
	}
	h.routes = append(h.routes, r)
	return r
}

// On subscribes fn to the named event.
func (h *Handler[H]) On(name string, fn callback.Func[H, Payload]) {
	h.on(name, fn)
}

// OnTo subscribes the named method of H to the named event.
// Panics if H has no such method with the right signature.
func (h *Handler[H]) OnTo(name, method string) {
	h.on(name, callback.Method[H, Payload](method))
}

func (h *Handler[H]) on(name string, cb callback.Callback[H, Payload]) {
	name = NormalizeEvent(name)
	s := &subscription{
		name: cb.Name(),
		call: func(ctx context.Context, robo Robot, p Payload) error {
			return callback.Invoke(ctx, cb, h.instance(robo), p)
		},
	}
	if _, ok := h.events[name]; !ok {
		h.order = append(h.order, name)
	}
	h.events[name] = append(h.events[name], s)
}

// HTTP returns the handler's HTTP route declarations.
func (h *Handler[H]) HTTP() HTTPRoutes[H] {
	return HTTPRoutes[H]{h: h}
}

// Dispatch runs every applicable route in declaration order.
func (h *Handler[H]) Dispatch(ctx context.Context, robo Robot, msg *message.Message) (bool, error) {
	return dispatch(ctx, robo, h.routes, msg)
}

// Trigger calls every subscriber to the named event.
func (h *Handler[H]) Trigger(ctx context.Context, robo Robot, name string, payload Payload) (bool, error) {
	return trigger(ctx, robo, h.namespace, h.events[NormalizeEvent(name)], name, payload)
}

func (h *Handler[H]) instance(robo Robot) H {
	b := &Base{
		Robot:     robo,
		Config:    robo.Config().Sub("handlers." + h.namespace),
		Store:     robo.Store(h.namespace),
		Log:       slog.With(slog.String("handler", h.namespace)),
		namespace: h.namespace,
	}
	return h.mk(b)
}
