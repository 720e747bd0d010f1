package handler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"

	"github.com/zephyrtronium/switchboard/message"
)

// Route is a chat route. Routes are immutable once declared.
type Route struct {
	pattern *regexp.Regexp
	command bool
	groups  []string
	help    []HelpEntry
	ext     map[string]any
	owner   string
	name    string
	call    func(ctx context.Context, robo Robot, resp *Response) error
}

// HelpEntry documents one usage of a route.
type HelpEntry struct {
	Usage       string
	Description string
}

// RouteOption is an option for declaring a route.
type RouteOption func(*Route)

// Command restricts a route to messages addressed to the robot.
func Command() RouteOption {
	return func(r *Route) {
		r.command = true
	}
}

// RestrictTo restricts a route to members of at least one of groups.
func RestrictTo(groups ...string) RouteOption {
	return func(r *Route) {
		for _, g := range groups {
			r.groups = append(r.groups, NormalizeGroup(g))
		}
	}
}

// Help documents a usage of a route.
func Help(usage, description string) RouteOption {
	return func(r *Route) {
		r.help = append(r.help, HelpEntry{Usage: usage, Description: description})
	}
}

// Extension attaches arbitrary metadata to a route for hooks to use.
func Extension(key string, value any) RouteOption {
	return func(r *Route) {
		r.ext[key] = value
	}
}

// Pattern returns the route's pattern.
func (r *Route) Pattern() *regexp.Regexp { return r.pattern }

// IsCommand reports whether the route only matches commands.
func (r *Route) IsCommand() bool { return r.command }

// Groups returns the groups allowed to use the route.
// If it is empty, anyone may use the route.
func (r *Route) Groups() []string { return r.groups }

// Help returns the route's usage documentation.
func (r *Route) Help() []HelpEntry { return r.help }

// Extension returns the route's metadata for a key.
func (r *Route) Extension(key string) any { return r.ext[key] }

// Owner returns the namespace of the handler which declared the route.
func (r *Route) Owner() string { return r.owner }

// Name describes the route's callback.
func (r *Route) Name() string { return r.name }

// Applies reports whether route should fire for msg. The checks are, in order:
// validate-route hooks, command addressing, messages from the robot itself,
// the route's pattern, and group membership.
func Applies(ctx context.Context, robo Robot, route *Route, msg *message.Message) bool {
	if !robo.Hooks().validate(ctx, &RouteContext{Route: route, Message: msg, Robot: robo}) {
		return false
	}
	if route.command && !msg.Command() {
		return false
	}
	u := msg.User()
	if u != nil && u.Name == robo.Name() {
		return false
	}
	if !route.pattern.MatchString(msg.Body()) {
		return false
	}
	if len(route.groups) == 0 {
		return true
	}
	if u == nil {
		return false
	}
	a := robo.Auth()
	if a == nil {
		return false
	}
	for _, g := range route.groups {
		ok, err := a.InGroup(ctx, u.ID, g)
		if err != nil {
			slog.ErrorContext(ctx, "couldn't check group membership",
				slog.String("user", u.ID),
				slog.String("group", g),
				slog.Any("err", err),
			)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func dispatch(ctx context.Context, robo Robot, routes []*Route, msg *message.Message) (bool, error) {
	var (
		matched bool
		first   error
	)
	for _, r := range routes {
		if !Applies(ctx, robo, r, msg) {
			continue
		}
		matched = true
		if robo.Async() {
			robo.Enqueue(ctx, func(ctx context.Context) { fire(ctx, robo, r, msg) })
			continue
		}
		if err := fire(ctx, robo, r, msg); err != nil && first == nil {
			first = err
		}
	}
	if !robo.TestMode() {
		first = nil
	}
	return matched, first
}

// fire runs one applicable route.
func fire(ctx context.Context, robo Robot, r *Route, msg *message.Message) error {
	resp := newResponse(robo, r, msg)
	rc := &RouteContext{Route: r, Message: msg, Response: resp, Robot: robo}
	hooks := robo.Hooks()
	hooks.trigger(ctx, rc)
	if err := r.call(ctx, robo, resp); err != nil {
		meta := map[string]any{
			"handler": r.owner,
			"route":   r.name,
			"message": msg.Body(),
		}
		if u := msg.User(); u != nil {
			meta["user"] = u.ID
		}
		robo.ReportError(ctx, err, meta)
		return fmt.Errorf("route %s of %s failed: %w", r.name, r.owner, err)
	}
	hooks.post(ctx, rc)
	p := Payload{"handler": r.owner, "route": r, "message": msg, "robot": robo}
	return robo.Trigger(ctx, "message_dispatched", p)
}
