// Package httproute compiles the HTTP routes of handlers into a ServeMux.
package httproute

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zephyrtronium/switchboard/handler"
	"github.com/zephyrtronium/switchboard/metrics"
)

// DuplicateError is an error for two routes with the same method, path, and
// constraints.
type DuplicateError struct {
	Method string
	Path   string
	// First and Second are the namespaces of the handlers declaring the
	// routes.
	First, Second string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("duplicate route %s /%s declared by %s and %s", e.Method, e.Path, e.First, e.Second)
}

// ErrBadPath is returned for malformed path templates.
var ErrBadPath = errors.New("bad path template")

// Compile registers the HTTP routes of every plugin on mux.
// Requests are served by invoking routes against robo.
// If latency is not nil, it observes the time spent serving each request.
func Compile(mux *http.ServeMux, robo handler.Robot, plugins []handler.Plugin, latency metrics.Observer) error {
	c := &compiler{
		robo:    robo,
		latency: latency,
		groups:  make(map[string]*group),
	}
	for _, p := range plugins {
		for _, r := range p.HTTPRoutes() {
			if err := c.add(r); err != nil {
				return err
			}
		}
	}
	for _, k := range c.order {
		if err := register(mux, k, c.groups[k]); err != nil {
			return err
		}
	}
	return nil
}

// register adds a pattern to mux, converting registration panics from
// conflicting patterns to errors.
func register(mux *http.ServeMux, pattern string, h http.Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("couldn't register %s: %v", pattern, r)
		}
	}()
	mux.Handle(pattern, h)
	return nil
}

type compiler struct {
	robo    handler.Robot
	latency metrics.Observer
	groups  map[string]*group
	order   []string
}

// group is the routes sharing a method and path shape.
type group struct {
	c       *compiler
	method  string
	nparams int
	entries []*entry
}

type entry struct {
	route *handler.HTTPRoute
	names []string
}

func (c *compiler) add(r *handler.HTTPRoute) error {
	p := Normalize(r.Path())
	pattern, names, err := shape(p)
	if err != nil {
		return fmt.Errorf("%s /%s of %s: %w", r.Method(), p, r.Owner(), err)
	}
	key := r.Method() + " " + pattern
	g := c.groups[key]
	if g == nil {
		g = &group{c: c, method: r.Method(), nparams: len(names)}
		c.groups[key] = g
		c.order = append(c.order, key)
	}
	e := &entry{route: r, names: names}
	for _, o := range g.entries {
		if sameConstraints(o, e) {
			return &DuplicateError{Method: r.Method(), Path: p, First: o.route.Owner(), Second: r.Owner()}
		}
	}
	g.entries = append(g.entries, e)
	// Constrained routes are tried first. The sort is stable, so registration
	// order breaks ties.
	slices.SortStableFunc(g.entries, func(a, b *entry) int {
		ac, bc := len(a.route.Constraints()) > 0, len(b.route.Constraints()) > 0
		switch {
		case ac == bc:
			return 0
		case ac:
			return -1
		default:
			return 1
		}
	})
	return nil
}

// sameConstraints reports whether two entries of a group constrain each
// parameter position identically. Parameter names don't matter.
func sameConstraints(a, b *entry) bool {
	ac, bc := a.route.Constraints(), b.route.Constraints()
	for i := range a.names {
		x, xok := ac[a.names[i]]
		y, yok := bc[b.names[i]]
		if xok != yok || xok && x.String() != y.String() {
			return false
		}
	}
	return true
}

// Normalize strips one leading separator and any trailing separators from a
// path. Everything else, including case, is preserved.
func Normalize(path string) string {
	return strings.TrimRight(strings.TrimPrefix(path, "/"), "/")
}

// shape converts a normalized path template to a ServeMux pattern with
// positional wildcards, returning the template's parameter names in order.
func shape(path string) (string, []string, error) {
	if path == "" {
		return "/{$}", nil, nil
	}
	segs := strings.Split(path, "/")
	var b strings.Builder
	var names []string
	for i, s := range segs {
		b.WriteByte('/')
		switch {
		case strings.HasPrefix(s, ":"), strings.HasPrefix(s, "*"):
			name := s[1:]
			if name == "" {
				return "", nil, fmt.Errorf("%w: unnamed parameter", ErrBadPath)
			}
			if slices.Contains(names, name) {
				return "", nil, fmt.Errorf("%w: repeated parameter %s", ErrBadPath, name)
			}
			glob := s[0] == '*'
			if glob && i != len(segs)-1 {
				return "", nil, fmt.Errorf("%w: glob %s must be last", ErrBadPath, s)
			}
			fmt.Fprintf(&b, "{p%d", len(names))
			if glob {
				b.WriteString("...")
			}
			b.WriteByte('}')
			names = append(names, name)
		case s == "":
			// ServeMux redirects requests with empty segments elsewhere.
			return "", nil, fmt.Errorf("%w: empty segment", ErrBadPath)
		case strings.ContainsAny(s, "{}"):
			return "", nil, fmt.Errorf("%w: braces in segment %q", ErrBadPath, s)
		default:
			b.WriteString(s)
		}
	}
	return b.String(), names, nil
}

func (g *group) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	vals := make([]string, g.nparams)
	for i := range vals {
		vals[i] = r.PathValue(fmt.Sprintf("p%d", i))
	}
	for _, e := range g.entries {
		params := make(map[string]string, len(e.names))
		for i, name := range e.names {
			params[name] = vals[i]
		}
		if !e.route.Accepts(params) {
			continue
		}
		if r.Method == http.MethodHead && g.method == http.MethodGet {
			w.WriteHeader(http.StatusOK)
			return
		}
		g.c.serve(w, r, e.route, params)
		return
	}
	http.NotFound(w, r)
}

func (c *compiler) serve(w http.ResponseWriter, r *http.Request, route *handler.HTTPRoute, params map[string]string) {
	ctx := r.Context()
	start := time.Now()
	trace := uuid.New().String()
	log := slog.With(
		slog.String("trace", trace),
		slog.String("handler", route.Owner()),
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
	)
	log.InfoContext(ctx, "serve", slog.String("remote", r.RemoteAddr))
	sw := &statusWriter{ResponseWriter: w}
	err := route.Call(ctx, c.robo, handler.NewRequest(sw, r, maps.Clone(params)))
	if c.latency != nil {
		c.latency.Observe(time.Since(start).Seconds(), route.Owner())
	}
	if err == nil {
		log.InfoContext(ctx, "done", slog.Duration("duration", time.Since(start)))
		return
	}
	log.ErrorContext(ctx, "route failed", slog.Any("err", err))
	c.robo.ReportError(ctx, err, map[string]any{
		"handler": route.Owner(),
		"route":   route.Name(),
		"method":  r.Method,
		"path":    r.URL.Path,
		"params":  params,
		"trace":   trace,
	})
	if !sw.wrote {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// statusWriter records whether a response has started.
type statusWriter struct {
	http.ResponseWriter
	wrote bool
}

func (w *statusWriter) WriteHeader(code int) {
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wrote = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
