package handler

import (
	"context"
	"sync"

	"github.com/zephyrtronium/switchboard/message"
)

// Response is the argument to a chat route's callback.
type Response struct {
	// Message is the message which triggered the route.
	Message *message.Message
	// Route is the route which matched.
	Route *Route
	// Extensions holds data recorded by hooks.
	Extensions map[string]any

	robo Robot

	matchOnce sync.Once
	match     []string
	allOnce   sync.Once
	all       [][]string
}

func newResponse(robo Robot, r *Route, msg *message.Message) *Response {
	return &Response{
		Message:    msg,
		Route:      r,
		Extensions: make(map[string]any),
		robo:       robo,
	}
}

// User returns the sender of the message.
func (r *Response) User() *message.User {
	return r.Message.User()
}

// MatchData returns the leftmost match of the route's pattern in the message
// body along with its submatches.
func (r *Response) MatchData() []string {
	r.matchOnce.Do(func() {
		r.match = r.Route.pattern.FindStringSubmatch(r.Message.Body())
	})
	return r.match
}

// Matches returns every match of the route's pattern in the message body.
func (r *Response) Matches() [][]string {
	r.allOnce.Do(func() {
		r.all = r.Route.pattern.FindAllStringSubmatch(r.Message.Body(), -1)
	})
	return r.all
}

// Match returns the submatch of the route's pattern with the given name, or
// the empty string if there is none.
func (r *Response) Match(name string) string {
	k := r.Route.pattern.SubexpIndex(name)
	m := r.MatchData()
	if k < 0 || k >= len(m) {
		return ""
	}
	return m[k]
}

// Args returns the words of the message after the first.
func (r *Response) Args() []string {
	return r.Message.Args()
}

// Reply sends messages to the source of the message.
func (r *Response) Reply(ctx context.Context, texts ...string) error {
	return r.robo.Send(ctx, r.Message.Source(), texts...)
}

// ReplyPrivately sends messages directly to the sender of the message.
func (r *Response) ReplyPrivately(ctx context.Context, texts ...string) error {
	return r.robo.Send(ctx, r.Message.Source().Privately(), texts...)
}

// ReplyWithMention sends messages to the source of the message, addressed to
// its sender.
func (r *Response) ReplyWithMention(ctx context.Context, texts ...string) error {
	return r.robo.SendWithMention(ctx, r.Message.Source(), texts...)
}
