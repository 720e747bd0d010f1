package handler

import (
	"context"
	"maps"
	"net/http"
	"regexp"

	"github.com/zephyrtronium/switchboard/callback"
)

// HTTPRoute is an HTTP route. Routes are immutable once declared.
type HTTPRoute struct {
	method      string
	path        string
	constraints map[string]*regexp.Regexp
	owner       string
	name        string
	call        func(ctx context.Context, robo Robot, req *Request) error
}

// HTTPOption is an option for declaring an HTTP route.
type HTTPOption func(*HTTPRoute)

// Where constrains a path parameter to values fully matching pattern.
// Panics if pattern is not a valid regular expression.
func Where(param, pattern string) HTTPOption {
	re := regexp.MustCompile(`^(?:` + pattern + `)$`)
	return func(r *HTTPRoute) {
		r.constraints[param] = re
	}
}

// Method returns the route's HTTP method.
func (r *HTTPRoute) Method() string { return r.method }

// Path returns the route's path template.
func (r *HTTPRoute) Path() string { return r.path }

// Constraints returns a copy of the route's parameter constraints.
func (r *HTTPRoute) Constraints() map[string]*regexp.Regexp { return maps.Clone(r.constraints) }

// Owner returns the namespace of the handler which declared the route.
func (r *HTTPRoute) Owner() string { return r.owner }

// Name describes the route's callback.
func (r *HTTPRoute) Name() string { return r.name }

// Accepts reports whether params satisfy the route's constraints.
func (r *HTTPRoute) Accepts(params map[string]string) bool {
	for k, re := range r.constraints {
		if !re.MatchString(params[k]) {
			return false
		}
	}
	return true
}

// Call invokes the route's callback with a fresh handler instance.
// Panics in the callback are returned as errors.
func (r *HTTPRoute) Call(ctx context.Context, robo Robot, req *Request) error {
	return r.call(ctx, robo, req)
}

// HTTPRoutes declares HTTP routes for a handler.
type HTTPRoutes[H any] struct {
	h *Handler[H]
}

// Handle declares a route for an arbitrary method.
func (d HTTPRoutes[H]) Handle(method, path string, cb callback.Callback[H, *Request], opts ...HTTPOption) *HTTPRoute {
	r := &HTTPRoute{
		method:      method,
		path:        path,
		constraints: make(map[string]*regexp.Regexp),
		owner:       d.h.namespace,
		name:        cb.Name(),
	}
	for _, o := range opts {
		o(r)
	}
	h := d.h
	r.call = func(ctx context.Context, robo Robot, req *Request) error {
		return callback.Invoke(ctx, cb, h.instance(robo), req)
	}
	h.http = append(h.http, r)
	return r
}

func (d HTTPRoutes[H]) Get(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodGet, path, fn, opts...)
}

func (d HTTPRoutes[H]) Post(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodPost, path, fn, opts...)
}

func (d HTTPRoutes[H]) Put(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodPut, path, fn, opts...)
}

func (d HTTPRoutes[H]) Patch(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodPatch, path, fn, opts...)
}

func (d HTTPRoutes[H]) Delete(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodDelete, path, fn, opts...)
}

func (d HTTPRoutes[H]) Options(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodOptions, path, fn, opts...)
}

func (d HTTPRoutes[H]) Link(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle("LINK", path, fn, opts...)
}

func (d HTTPRoutes[H]) Unlink(path string, fn callback.Func[H, *Request], opts ...HTTPOption) *HTTPRoute {
	return d.Handle("UNLINK", path, fn, opts...)
}

// GetTo declares a GET route calling the named method of H.
func (d HTTPRoutes[H]) GetTo(path, method string, opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodGet, path, callback.Method[H, *Request](method), opts...)
}

// PostTo declares a POST route calling the named method of H.
func (d HTTPRoutes[H]) PostTo(path, method string, opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodPost, path, callback.Method[H, *Request](method), opts...)
}

// PutTo declares a PUT route calling the named method of H.
func (d HTTPRoutes[H]) PutTo(path, method string, opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodPut, path, callback.Method[H, *Request](method), opts...)
}

// DeleteTo declares a DELETE route calling the named method of H.
func (d HTTPRoutes[H]) DeleteTo(path, method string, opts ...HTTPOption) *HTTPRoute {
	return d.Handle(http.MethodDelete, path, callback.Method[H, *Request](method), opts...)
}
