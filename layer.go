package weft

import "fmt"

// HandlerFunc serves one request within the dispatch pipeline. Calling next
// advances to the next layer; calling next with a non-nil error switches the
// pipeline into error mode.
//
// This is the Go-native replacement for Express's dynamic-arity handlers:
// instead of reflecting over function arity to decide whether a handler is
// an error handler, that is tagged explicitly at registration time (see
// Router.Use vs Router.OnError).
type HandlerFunc func(req *Request, res *Response, next func(error))

// ErrorHandlerFunc serves one request once the pipeline is in error mode. It
// receives the error that put the pipeline there.
type ErrorHandlerFunc func(err error, req *Request, res *Response, next func(error))

// Layer binds a path Pattern to a handler plus the metadata the dispatch
// engine needs to decide whether the layer applies to a given request.
//
// Grounded on air's router.node, generalized from a radix-tree node carrying
// a method→Handler map into an ordered-stack element carrying one handler
// plus an explicit method restriction, since this dispatch model is
// Express's ordered layer stack rather than air's tree.
type Layer struct {
	pattern *Pattern

	// method restricts the layer to one HTTP method. Empty means
	// unrestricted (used by middleware and by Route's own wrapping
	// layer, which re-checks methods itself).
	method string

	handler HandlerFunc
	errorHandler ErrorHandlerFunc

	// route is set when this layer wraps a Route (an exact-match layer
	// produced by Router.Route), letting Router.handle skip it cheaply
	// when the Route doesn't handle the request's method.
	route *Route

	// matchedPrefix/matchedParams are scratch fields populated by the most
	// recent successful Match call. They are not safe for concurrent
	// reuse across requests; Router.handle reads them immediately after
	// calling match, before any other layer can run for this request.
	matchedPrefix string
	matchedParams map[string]string
}

// newMiddlewareLayer builds a Layer for a prefix-mode (middleware) handler.
func newMiddlewareLayer(pattern *Pattern, h HandlerFunc) *Layer {
	if h == nil {
		panic(ErrInvalidHandler)
	}

	return &Layer{pattern: pattern, handler: h}
}

// newErrorLayer builds a Layer for a prefix-mode error handler.
func newErrorLayer(pattern *Pattern, h ErrorHandlerFunc) *Layer {
	if h == nil {
		panic(ErrInvalidHandler)
	}

	return &Layer{pattern: pattern, errorHandler: h}
}

// newRouteLayer builds the single exact-mode Layer that fronts a Route.
func newRouteLayer(pattern *Pattern, rt *Route) *Layer {
	return &Layer{pattern: pattern, route: rt}
}

// isErrorHandler reports whether the layer only runs in error mode.
func (l *Layer) isErrorHandler() bool {
	return l.errorHandler != nil
}

// match attempts to match path against the layer's pattern, recording the
// result in matchedPrefix/matchedParams on success.
func (l *Layer) match(path string) bool {
	mr := l.pattern.Match(path)
	if mr == nil {
		return false
	}

	l.matchedPrefix = mr.MatchedPrefix
	l.matchedParams = mr.Params

	return true
}

// dispatch runs the layer:
//
// - err == nil and the layer is a normal handler: call the handler.
// - err != nil and the layer is an error handler: call the handler with
// the error.
// - any other combination: skip, forwarding err unchanged.
//
// A panic raised by the handler is recovered and converted to next(err),
// so a handler's synchronous panic is caught at the dispatch call site
// and fed into the same error-mode path a call to next(err) would take.
func (l *Layer) dispatch(err error, req *Request, res *Response, next func(error)) {
	defer func() {
		if p := recover(); p != nil {
			if e, ok := p.(error); ok {
				next(e)
			} else {
				next(ErrInternal(fmt.Errorf("%v", p)))
			}
		}
	}()

	switch {
	case err == nil && l.route != nil:
		l.route.dispatch(req, res, next)
	case err == nil && !l.isErrorHandler():
		l.handler(req, res, next)
	case err != nil && l.isErrorHandler():
		l.errorHandler(err, req, res, next)
	default:
		next(err)
	}
}
