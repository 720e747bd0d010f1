package bot

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/message"
)

// Adapter connects a robot to a chat service.
type Adapter interface {
	// Run connects to the chat service and passes received messages to the
	// robot until ctx is done or the connection ends.
	Run(ctx context.Context) error
	// Send sends messages to a target.
	Send(ctx context.Context, to message.Source, texts ...string) error
}

// Mentioner is an Adapter with a service-specific way to mention users.
type Mentioner interface {
	// Mention returns the text which mentions u.
	Mention(u *message.User) string
}

// Shutdowner is an Adapter which needs to clean up when the robot stops.
type Shutdowner interface {
	// Shutdown is called after the robot begins shutting down.
	Shutdown(ctx context.Context) error
}

// Receiver is the part of a robot which adapters pass messages to.
// *Robot implements it.
type Receiver interface {
	NewMessage(body string, src message.Source, opts ...message.Option) *message.Message
	Receive(ctx context.Context, msg *message.Message) error
	// Trigger is used for connected and disconnected events.
	Trigger(ctx context.Context, name string, payload handler.Payload) error
}

// AdapterPlugin describes an adapter which a robot may use.
type AdapterPlugin struct {
	// Name is the adapter's name, selected with robot.adapter.
	Name string
	// Config declares the adapter's configuration. It may be nil.
	Config func(b *config.Builder)
	// New creates the adapter.
	New func(robo *Robot, cfg *config.Config) (Adapter, error)
}

// ErrorHandler receives errors from handler callbacks.
type ErrorHandler = func(ctx context.Context, err error, meta map[string]any)

// Registry holds the adapters, handlers, and hooks available to a robot.
// A registry must be fully populated before it is used to create a robot.
type Registry struct {
	adapters map[string]AdapterPlugin
	names    []string
	handlers []handler.Plugin
	hooks    handler.Hooks
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]AdapterPlugin)}
}

// RegisterAdapter adds an adapter. Panics if an adapter with the same name is
// already registered.
func (r *Registry) RegisterAdapter(p AdapterPlugin) {
	if _, ok := r.adapters[p.Name]; ok {
		panic(fmt.Errorf("bot: duplicate adapter %q", p.Name))
	}
	r.adapters[p.Name] = p
	r.names = append(r.names, p.Name)
}

// RegisterHandler adds a handler. Handlers receive messages and events in
// registration order. Panics if a handler with the same namespace is already
// registered or if the namespace contains a colon, which is reserved for the
// robot's own store namespaces.
func (r *Registry) RegisterHandler(p handler.Plugin) {
	if strings.Contains(p.Namespace(), ":") {
		panic(fmt.Errorf("bot: handler namespace %q contains a colon", p.Namespace()))
	}
	for _, h := range r.handlers {
		if h.Namespace() == p.Namespace() {
			panic(fmt.Errorf("bot: duplicate handler %q", p.Namespace()))
		}
	}
	r.handlers = append(r.handlers, p)
}

// Hooks returns the hooks applied to every route.
func (r *Registry) Hooks() *handler.Hooks {
	return &r.hooks
}

// Handlers returns the registered handlers.
func (r *Registry) Handlers() []handler.Plugin {
	return r.handlers
}

// Adapters returns the names of registered adapters in registration order.
func (r *Registry) Adapters() []string {
	return slices.Clone(r.names)
}

// Config declares the robot's full configuration, including every adapter's
// and every handler's.
func (r *Registry) Config() *config.Builder {
	root := config.NewBuilder()

	robo := root.Config("robot")
	robo.Config("name", config.Types(config.String), config.Default("Switchboard"))
	robo.Config("mention_name", config.Types(config.String))
	robo.Config("alias", config.Types(config.String))
	robo.Config("adapter", config.Types(config.String), config.Default("shell"), config.Required())
	robo.Config("admins", config.Types(config.Strings))
	robo.Config("error_handler", config.Types(config.TypeOf[ErrorHandler]()))
	robo.Config("async", config.Types(config.Bool), config.Default(false))
	robo.Config("test", config.Types(config.Bool), config.Default(false))
	robo.Config("secret", config.Types(config.String))
	robo.Config("send_rate", config.Types(config.Range(0.01, 1000.0)), config.Default(5.0))
	robo.Config("send_burst", config.Types(config.Range(1, 1000)), config.Default(10))

	http := root.Config("http")
	http.Config("host", config.Types(config.String), config.Default("0.0.0.0"))
	http.Config("port", config.Types(config.Range(0, 65535)), config.Default(8080))

	st := root.Config("store")
	st.Config("backend", config.Types(config.OneOf("memory", "badger", "bolt")), config.Default("memory"))
	st.Config("path", config.Types(config.String))

	db := root.Config("db")
	db.Config("path", config.Types(config.String))

	adapters := root.Config("adapters")
	for _, name := range r.names {
		b := config.NewBuilder()
		if f := r.adapters[name].Config; f != nil {
			f(b)
		}
		adapters.Combine(name, b)
	}

	handlers := root.Config("handlers")
	for _, h := range r.handlers {
		handlers.Combine(h.Namespace(), h.Builder())
	}
	return root
}
