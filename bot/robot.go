// Package bot assembles adapters, handlers, storage, and the HTTP server into
// a running robot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/zephyrtronium/switchboard/auth"
	"github.com/zephyrtronium/switchboard/config"
	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/httproute"
	"github.com/zephyrtronium/switchboard/message"
	"github.com/zephyrtronium/switchboard/metrics"
	"github.com/zephyrtronium/switchboard/store"
	"github.com/zephyrtronium/switchboard/users"
)

// ErrUnknownAdapter is returned when the configured adapter is not
// registered.
var ErrUnknownAdapter = errors.New("unknown adapter")

// Robot is a running robot.
type Robot struct {
	cfg      *config.Config
	reg      *Registry
	adapter  Adapter
	store    *store.Store
	db       *sqlitex.Pool
	auth     *auth.Groups
	users    *users.DB
	metrics  *metrics.Metrics
	mux      *http.ServeMux
	limit    *rate.Limiter
	onError  ErrorHandler
	name     string
	mention  string
	alias    string
	test     bool
	async    bool
	works    chan chan func(context.Context)
	pending  sync.WaitGroup
	ready    chan struct{}
	addr     net.Addr
	close    sync.Once
	closeErr error
}

var _ handler.Robot = (*Robot)(nil)

// New creates a robot from a configuration built from reg.Config.
// The configuration is frozen once the robot is created.
func New(ctx context.Context, reg *Registry, cfg *config.Config) (*Robot, error) {
	name := config.Value[string](cfg, "robot.adapter")
	ap, ok := reg.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAdapter, name)
	}
	if err := config.ValidateRequired("adapter", name, cfg.Sub("adapters."+name)); err != nil {
		return nil, err
	}
	for _, h := range reg.handlers {
		if err := config.ValidateRequired("handler", h.Namespace(), cfg.Sub("handlers."+h.Namespace())); err != nil {
			return nil, err
		}
	}

	robo := &Robot{
		cfg:     cfg,
		reg:     reg,
		metrics: metrics.New("switchboard"),
		mux:     http.NewServeMux(),
		name:    config.Value[string](cfg, "robot.name"),
		mention: config.Value[string](cfg, "robot.mention_name"),
		alias:   config.Value[string](cfg, "robot.alias"),
		test:    config.Value[bool](cfg, "robot.test"),
		async:   config.Value[bool](cfg, "robot.async"),
		works:   make(chan chan func(context.Context)),
		ready:   make(chan struct{}),
	}
	if robo.mention == "" {
		robo.mention = robo.name
	}
	robo.onError, _ = cfg.Get("robot.error_handler").(ErrorHandler)
	robo.limit = rate.NewLimiter(rate.Limit(config.Value[float64](cfg, "robot.send_rate")), config.Value[int](cfg, "robot.send_burst"))

	var err error
	robo.store, err = openStore(config.Value[string](cfg, "store.backend"), config.Value[string](cfg, "store.path"))
	if err != nil {
		return nil, fmt.Errorf("couldn't open store: %w", err)
	}
	robo.db, err = openDB(config.Value[string](cfg, "db.path"))
	if err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}
	if err := auth.Init(ctx, robo.db); err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't initialize authorization groups: %w", err)
	}
	robo.auth, err = auth.Open(ctx, robo.db, config.Value[[]string](cfg, "robot.admins"))
	if err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't open authorization groups: %w", err)
	}
	if err := users.Init(ctx, robo.db); err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't initialize user directory: %w", err)
	}
	robo.users, err = users.Open(ctx, robo.db)
	if err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't open user directory: %w", err)
	}
	if err := httproute.Compile(robo.mux, robo, reg.handlers, robo.metrics.HTTPLatency); err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't compile HTTP routes: %w", err)
	}
	robo.adapter, err = ap.New(robo, cfg.Sub("adapters."+name))
	if err != nil {
		robo.Close()
		return nil, fmt.Errorf("couldn't create %s adapter: %w", name, err)
	}
	cfg.Freeze()
	return robo, nil
}

func openStore(backend, path string) (*store.Store, error) {
	switch backend {
	case "", "memory":
		return store.New(store.NewMemory()), nil
	case "badger":
		b, err := store.OpenBadger(path)
		if err != nil {
			return nil, err
		}
		return store.New(b), nil
	case "bolt":
		if path == "" {
			return nil, errors.New("bolt store requires store.path")
		}
		b, err := store.OpenBolt(path)
		if err != nil {
			return nil, err
		}
		return store.New(b), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}

// openDB opens the SQL database holding authorization groups and users.
// An empty path opens a private in-memory database.
func openDB(path string) (*sqlitex.Pool, error) {
	if path == "" {
		uri := fmt.Sprintf("file:%s.db?mode=memory&cache=shared", uuid.NewString())
		flags := sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI
		return sqlitex.NewPool(uri, sqlitex.PoolOptions{Flags: flags})
	}
	return sqlitex.NewPool(path, sqlitex.PoolOptions{})
}

// Close closes the robot's storage. It is called automatically when Run
// returns, but robots which are never run must be closed explicitly.
func (robo *Robot) Close() error {
	robo.close.Do(func() {
		var errs []error
		if robo.store != nil {
			errs = append(errs, robo.store.Close())
		}
		if robo.db != nil {
			errs = append(errs, robo.db.Close())
		}
		robo.closeErr = errors.Join(errs...)
	})
	return robo.closeErr
}

func (robo *Robot) Name() string        { return robo.name }
func (robo *Robot) MentionName() string { return robo.mention }
func (robo *Robot) Alias() string       { return robo.alias }

func (robo *Robot) Config() *config.Config { return robo.cfg }

func (robo *Robot) Store(namespace string) *store.Namespace { return robo.store.Namespace(namespace) }

func (robo *Robot) Auth() handler.Authorizer { return robo.auth }

func (robo *Robot) Users() handler.Directory { return robo.users }

// Directory returns the user directory with its write operations.
func (robo *Robot) Directory() *users.DB { return robo.users }

func (robo *Robot) Hooks() *handler.Hooks { return robo.reg.Hooks() }

func (robo *Robot) Plugins() []handler.Plugin { return robo.reg.handlers }

func (robo *Robot) TestMode() bool { return robo.test }

func (robo *Robot) Async() bool { return robo.async }

// Adapter returns the robot's adapter.
func (robo *Robot) Adapter() Adapter { return robo.adapter }

// Metrics returns the robot's metrics.
func (robo *Robot) Metrics() *metrics.Metrics { return robo.metrics }

// Mux returns the ServeMux serving the robot's HTTP routes.
func (robo *Robot) Mux() *http.ServeMux { return robo.mux }

// NewMessage creates a message addressed by the robot's names.
// Adapters use it to build the messages they pass to Receive.
func (robo *Robot) NewMessage(body string, src message.Source, opts ...message.Option) *message.Message {
	opts = append(opts, message.AddressedTo(robo.alias, robo.mention, robo.name))
	return message.New(body, src, opts...)
}

// Receive dispatches a message to every handler in registration order.
// If no route of any handler matches, it triggers unhandled_message.
// Errors are returned only in test mode; otherwise they are reported.
func (robo *Robot) Receive(ctx context.Context, msg *message.Message) error {
	start := time.Now()
	robo.metrics.MessagesReceived.Observe(1)
	if u := msg.User(); u != nil && u.ID != "" {
		if err := robo.users.CreateUser(ctx, u); err != nil {
			slog.WarnContext(ctx, "couldn't record user", slog.String("user", u.ID), slog.Any("err", err))
		}
	}
	var errs []error
	handled := false
	for _, p := range robo.reg.handlers {
		ok, err := p.Dispatch(ctx, robo, msg)
		if ok {
			handled = true
			robo.metrics.RoutesTriggered.Observe(1, p.Namespace())
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !handled {
		robo.metrics.UnhandledMessages.Observe(1)
		err := robo.Trigger(ctx, "unhandled_message", handler.Payload{"message": msg, "robot": robo})
		if err != nil {
			errs = append(errs, err)
		}
	}
	robo.metrics.DispatchLatency.Observe(time.Since(start).Seconds())
	return errors.Join(errs...)
}

// Send sends messages through the adapter, waiting on the send rate limit
// for each.
func (robo *Robot) Send(ctx context.Context, to message.Source, texts ...string) error {
	for _, text := range texts {
		if err := robo.limit.Wait(ctx); err != nil {
			return fmt.Errorf("couldn't wait to send: %w", err)
		}
		if err := robo.adapter.Send(ctx, to, text); err != nil {
			return fmt.Errorf("couldn't send message: %w", err)
		}
		robo.metrics.MessagesSent.Observe(1)
	}
	return nil
}

// SendWithMention sends messages prefixed with a mention of the target's
// user. Messages to rooms without a user and private messages are sent as is.
func (robo *Robot) SendWithMention(ctx context.Context, to message.Source, texts ...string) error {
	u := to.User
	if u == nil || to.Private {
		return robo.Send(ctx, to, texts...)
	}
	var prefix string
	if m, ok := robo.adapter.(Mentioner); ok {
		prefix = m.Mention(u)
	} else {
		prefix = u.Mention() + ":"
	}
	s := make([]string, len(texts))
	for i, text := range texts {
		s[i] = prefix + " " + text
	}
	return robo.Send(ctx, to, s...)
}

// Trigger triggers an event on every handler subscribed to it.
// In test mode, the first error from any subscriber is returned after all
// subscribers have run.
func (robo *Robot) Trigger(ctx context.Context, name string, payload handler.Payload) error {
	name = handler.NormalizeEvent(name)
	robo.metrics.EventsTriggered.Observe(1, name)
	var first error
	for _, p := range robo.reg.handlers {
		_, err := p.Trigger(ctx, robo, name, payload)
		if err != nil && first == nil {
			first = err
		}
	}
	if robo.test {
		return first
	}
	return nil
}

// ReportError logs an error from a callback and passes it to the configured
// error handler, if any.
func (robo *Robot) ReportError(ctx context.Context, err error, meta map[string]any) {
	ns, _ := meta["handler"].(string)
	robo.metrics.CallbackErrors.Observe(1, ns)
	attrs := make([]any, 0, len(meta)+1)
	attrs = append(attrs, slog.Any("err", err))
	for k, v := range meta {
		attrs = append(attrs, slog.Any(k, v))
	}
	slog.ErrorContext(ctx, "callback failed", attrs...)
	if robo.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "error handler panicked", slog.Any("panic", r))
		}
	}()
	robo.onError(ctx, err, meta)
}
