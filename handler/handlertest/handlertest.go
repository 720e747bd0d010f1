// Package handlertest provides an in-memory robot for testing handlers.
package handlertest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/store"
)

// Sent is a message sent through a Robot.
type Sent struct {
	To      message.Source
	Texts   []string
	Mention bool
}

// Reported is an error passed to a Robot's error handler.
type Reported struct {
	Err  error
	Meta map[string]any
}

// Robot is a handler.Robot which records what handlers do.
type Robot struct {
	name    string
	cfg     *config.Config
	store   *store.Store
	hooks   *handler.Hooks
	plugins []handler.Plugin
	auth    *Groups
	users   *Users
	test    bool
	async   bool
	wg      sync.WaitGroup

	mu     sync.Mutex
	sent   []Sent
	errs   []Reported
	events []string
}

var _ handler.Robot = (*Robot)(nil)

// New creates a robot running the given handlers in test mode.
func New(name string, plugins ...handler.Plugin) *Robot {
	hb := config.NewBuilder()
	for _, p := range plugins {
		hb.Combine(p.Namespace(), p.Builder())
	}
	root := config.NewBuilder()
	root.Combine("handlers", hb)
	return &Robot{
		name:    name,
		cfg:     root.Build(),
		store:   store.New(store.NewMemory()),
		hooks:   new(handler.Hooks),
		plugins: plugins,
		auth:    NewGroups(),
		users:   NewUsers(),
		test:    true,
	}
}

// SetTestMode sets whether the robot returns callback errors.
func (r *Robot) SetTestMode(test bool) { r.test = test }

// SetAsync sets whether routes run on goroutines.
func (r *Robot) SetAsync(async bool) { r.async = async }

// Wait waits for every route started in async mode to finish.
func (r *Robot) Wait() { r.wg.Wait() }

// Receive dispatches a message to every handler and triggers
// unhandled_message if none matched.
func (r *Robot) Receive(ctx context.Context, msg *message.Message) error {
	var (
		matched bool
		errs    []error
	)
	for _, p := range r.plugins {
		ok, err := p.Dispatch(ctx, r, msg)
		matched = matched || ok
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !matched {
		if err := r.Trigger(ctx, "unhandled_message", handler.Payload{"message": msg}); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Message creates a message from a user, addressed to the robot if it begins
// or ends with the robot's name.
func (r *Robot) Message(body string, from *message.User, room string) *message.Message {
	src := message.Source{User: from, Room: room}
	return message.New(body, src, message.AddressedTo("", r.name))
}

// Sent returns the messages sent so far.
func (r *Robot) Sent() []Sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.sent)
}

// Replies returns the text of every message sent so far.
func (r *Robot) Replies() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var s []string
	for _, m := range r.sent {
		s = append(s, m.Texts...)
	}
	return s
}

// Reported returns the errors reported so far.
func (r *Robot) Reported() []Reported {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.errs)
}

// Triggered returns the names of the events triggered so far.
func (r *Robot) Triggered() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

func (r *Robot) Name() string        { return r.name }
func (r *Robot) MentionName() string { return r.name }
func (r *Robot) Alias() string       { return "" }

func (r *Robot) Send(ctx context.Context, to message.Source, texts ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{To: to, Texts: texts})
	return nil
}

func (r *Robot) SendWithMention(ctx context.Context, to message.Source, texts ...string) error {
	if to.User != nil && !to.Private {
		texts = slices.Clone(texts)
		for i, s := range texts {
			texts[i] = "@" + to.User.Mention() + " " + s
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Sent{To: to, Texts: texts, Mention: true})
	return nil
}

func (r *Robot) Trigger(ctx context.Context, name string, payload handler.Payload) error {
	r.mu.Lock()
	r.events = append(r.events, handler.NormalizeEvent(name))
	r.mu.Unlock()
	var first error
	for _, p := range r.plugins {
		if _, err := p.Trigger(ctx, r, name, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (r *Robot) Config() *config.Config                { return r.cfg }
func (r *Robot) Store(namespace string) *store.Namespace { return r.store.Namespace(namespace) }
func (r *Robot) Auth() handler.Authorizer              { return r.auth }
func (r *Robot) Groups() *Groups                       { return r.auth }
func (r *Robot) Users() handler.Directory              { return r.users }
func (r *Robot) Directory() *Users                     { return r.users }
func (r *Robot) Hooks() *handler.Hooks                 { return r.hooks }
func (r *Robot) Plugins() []handler.Plugin             { return r.plugins }
func (r *Robot) TestMode() bool                        { return r.test }
func (r *Robot) Async() bool                           { return r.async }

func (r *Robot) ReportError(ctx context.Context, err error, meta map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, Reported{Err: err, Meta: meta})
}

func (r *Robot) Enqueue(ctx context.Context, f func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		f(ctx)
	}()
}

// Groups is an in-memory handler.Authorizer.
type Groups struct {
	mu     sync.Mutex
	admins []string
	groups map[string][]string
}

// ErrUnauthorized is returned when a non-admin changes a group.
var ErrUnauthorized = errors.New("unauthorized")

func NewGroups(admins ...string) *Groups {
	return &Groups{admins: admins, groups: make(map[string][]string)}
}

// SetAdmins replaces the list of administrators.
func (g *Groups) SetAdmins(admins ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.admins = admins
}

// Join adds a user to a group without authorization.
func (g *Groups) Join(user, group string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group = handler.NormalizeGroup(group)
	if !slices.Contains(g.groups[group], user) {
		g.groups[group] = append(g.groups[group], user)
	}
}

func (g *Groups) InGroup(ctx context.Context, user, group string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	group = handler.NormalizeGroup(group)
	if group == "admins" {
		return slices.Contains(g.admins, user), nil
	}
	return slices.Contains(g.groups[group], user), nil
}

func (g *Groups) IsAdmin(ctx context.Context, user string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Contains(g.admins, user)
}

func (g *Groups) Add(ctx context.Context, requester, user, group string) (bool, error) {
	if !g.IsAdmin(ctx, requester) {
		return false, ErrUnauthorized
	}
	if ok, _ := g.InGroup(ctx, user, group); ok {
		return false, nil
	}
	g.Join(user, group)
	return true, nil
}

func (g *Groups) Remove(ctx context.Context, requester, user, group string) (bool, error) {
	if !g.IsAdmin(ctx, requester) {
		return false, ErrUnauthorized
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	group = handler.NormalizeGroup(group)
	k := slices.Index(g.groups[group], user)
	if k < 0 {
		return false, nil
	}
	g.groups[group] = slices.Delete(g.groups[group], k, k+1)
	return true, nil
}

func (g *Groups) Groups(ctx context.Context) (map[string][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := make(map[string][]string, len(g.groups))
	for k, v := range g.groups {
		if len(v) != 0 {
			r[k] = slices.Clone(v)
		}
	}
	return r, nil
}

func (g *Groups) Members(ctx context.Context, group string) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return slices.Clone(g.groups[handler.NormalizeGroup(group)]), nil
}

// Users is an in-memory handler.Directory.
type Users struct {
	mu    sync.Mutex
	users []*message.User
}

// ErrNotFound is returned when no user matches a lookup.
var ErrNotFound = errors.New("user not found")

func NewUsers() *Users {
	return new(Users)
}

// Add records a user.
func (u *Users) Add(user *message.User) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users = append(u.users, user)
}

func (u *Users) find(f func(*message.User) bool) (*message.User, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	k := slices.IndexFunc(u.users, f)
	if k < 0 {
		return nil, ErrNotFound
	}
	return u.users[k], nil
}

func (u *Users) FindUser(ctx context.Context, id string) (*message.User, error) {
	return u.find(func(x *message.User) bool { return x.ID == id })
}

func (u *Users) FindUserByName(ctx context.Context, name string) (*message.User, error) {
	return u.find(func(x *message.User) bool { return strings.EqualFold(x.Name, name) })
}

func (u *Users) FindUserByMentionName(ctx context.Context, name string) (*message.User, error) {
	return u.find(func(x *message.User) bool { return strings.EqualFold(x.Mention(), name) })
}
