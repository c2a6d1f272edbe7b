package weft

import (
	"errors"
	"fmt"
	"net/http"
)

// errNextRoute is the sentinel error passed to next to mean Express's
// next('route'): skip the rest of this Route's layers and let the owning
// Router try subsequent layers for the same request.
var errNextRoute = errors.New("weft: next route")

// NextRoute is the error handlers pass to their next function to abandon the
// current Route and let the Router continue searching for another matching
// layer, the Go equivalent of Express's next('route').
func NextRoute() error {
	return errNextRoute
}

// routeHandler is one method-scoped handler registered on a Route.
type routeHandler struct {
	method string
	handler HandlerFunc
}

// Route is the exact-match collection of method-specific handlers sharing
// one path.
//
// Grounded on air's route struct (method+path+handler), generalized from a
// single handler per (method, path) pair into an ordered chain of handlers
// per method, since a Route here must run multiple layers in registration
// order until one ends the response or signals next('route').
type Route struct {
	pattern *Pattern
	handlers []routeHandler
	methods map[string]bool
}

// newRoute returns a new Route compiled from path in exact mode.
func newRoute(path string, opts PatternOptions) (*Route, error) {
	opts.End = true

	pattern, err := CompilePattern(path, opts)
	if err != nil {
		return nil, err
	}

	return &Route{pattern: pattern, methods: map[string]bool{}}, nil
}

// handler appends a layer for method (or "all") running h.
func (rt *Route) handler(method string, h HandlerFunc) *Route {
	rt.handlers = append(rt.handlers, routeHandler{method: method, handler: h})
	rt.methods[method] = true
	return rt
}

// Get registers a GET handler.
func (rt *Route) Get(h HandlerFunc) *Route { return rt.handler(http.MethodGet, h) }

// Head registers a HEAD handler.
func (rt *Route) Head(h HandlerFunc) *Route { return rt.handler(http.MethodHead, h) }

// Post registers a POST handler.
func (rt *Route) Post(h HandlerFunc) *Route { return rt.handler(http.MethodPost, h) }

// Put registers a PUT handler.
func (rt *Route) Put(h HandlerFunc) *Route { return rt.handler(http.MethodPut, h) }

// Patch registers a PATCH handler.
func (rt *Route) Patch(h HandlerFunc) *Route { return rt.handler(http.MethodPatch, h) }

// Delete registers a DELETE handler.
func (rt *Route) Delete(h HandlerFunc) *Route { return rt.handler(http.MethodDelete, h) }

// Options registers an OPTIONS handler.
func (rt *Route) Options(h HandlerFunc) *Route { return rt.handler(http.MethodOptions, h) }

// All registers a handler for every method.
func (rt *Route) All(h HandlerFunc) *Route { return rt.handler("all", h) }

// handlesMethod reports whether the Route has at least one layer for
// method: an explicit "all" layer counts, and HEAD falls through to GET
// when there is no explicit HEAD layer.
func (rt *Route) handlesMethod(method string) bool {
	if rt.methods["all"] {
		return true
	}

	if rt.methods[method] {
		return true
	}

	if method == http.MethodHead && rt.methods[http.MethodGet] {
		return true
	}

	return false
}

// allowedMethods returns the methods this Route handles in registration
// order, with HEAD added when GET is present (a fixed list of the common
// methods when an "all" handler exists), for building an Allow header or a
// 405 response.
func (rt *Route) allowedMethods() []string {
	seen := map[string]bool{}
	var out []string
	for _, rh := range rt.handlers {
		m := rh.method
		if m == "all" {
			return []string{
				http.MethodGet, http.MethodHead, http.MethodPost,
				http.MethodPut, http.MethodPatch, http.MethodDelete,
				http.MethodOptions,
			}
		}

		if !seen[m] {
			seen[m] = true
			out = append(out, m)
		}
	}

	if seen[http.MethodGet] && !seen[http.MethodHead] {
		out = append(out, http.MethodHead)
	}

	return out
}

// dispatch walks the Route's layers matching req's method in registration
// order, advancing via a local next closure, and calls done exactly once
// when the chain is exhausted, a handler signals next('route'), or a
// handler signals next(err).
func (rt *Route) dispatch(req *Request, res *Response, done func(error)) {
	method := req.Method
	if method == http.MethodHead && !rt.methods[http.MethodHead] {
		method = http.MethodGet
	}

	i := 0
	var next func(error)
	next = func(err error) {
		if err != nil {
			if errors.Is(err, errNextRoute) {
				done(nil)
				return
			}

			done(err)
			return
		}

		for i < len(rt.handlers) {
			rh := rt.handlers[i]
			i++

			if rh.method != "all" && rh.method != method {
				continue
			}

			dispatchHandler(rh.handler, req, res, next)
			return
		}

		done(nil)
	}

	next(nil)
}

// dispatchHandler invokes h, recovering a panic into next(err) just like
// Layer.dispatch does for middleware.
func dispatchHandler(h HandlerFunc, req *Request, res *Response, next func(error)) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				next(e)
			} else {
				next(ErrInternal(fmt.Errorf("%v", p)))
			}
		}
	}()

	h(req, res, next)
}
