package weft

import "strings"

// ParamPreprocessor preprocesses one named route parameter before the layer
// handler that captured it runs (registered via Router.Param).
type ParamPreprocessor func(req *Request, res *Response, next func(error), value, name string)

// Router is an ordered stack of Layers implementing an Express-style
// dispatch algorithm. It is a generalization of air's router: air compiles
// every registered path into one shared radix tree keyed by method; Router
// instead keeps Layers in registration order, because the ordering
// guarantee that layers fire in registration order, and mount-path
// stripping, are defined in terms of a linear stack, not a tree.
type Router struct {
	stack []*Layer

	sensitive bool
	strict bool
	mergeParams bool

	paramPreprocessors map[string][]ParamPreprocessor
}

// RouterOptions configures a new Router.
type RouterOptions struct {
	// CaseSensitive makes literal path characters case-sensitive.
	CaseSensitive bool

	// Strict disables tolerance of a trailing slash on exact routes.
	Strict bool

	// MergeParams causes params inherited from a parent router (when
	// this Router is mounted as a sub-router) to be merged underneath
	// this Router's own params.
	MergeParams bool
}

// NewRouter returns a new, empty Router.
func NewRouter(opts RouterOptions) *Router {
	return &Router{
		sensitive: opts.CaseSensitive,
		strict: opts.Strict,
		mergeParams: opts.MergeParams,
		paramPreprocessors: map[string][]ParamPreprocessor{},
	}
}

func (rt *Router) patternOptions(end bool) PatternOptions {
	return PatternOptions{End: end, Strict: rt.strict, Sensitive: rt.sensitive}
}

// Use appends a prefix-mode (middleware) layer at path (default "/"). h may
// be another Router's Handle method, enabling arbitrary nesting.
func (rt *Router) Use(path string, h HandlerFunc) {
	if path == "" {
		path = "/"
	}

	pattern, err := CompilePattern(path, rt.patternOptions(false))
	if err != nil {
		panic(err)
	}

	rt.stack = append(rt.stack, newMiddlewareLayer(pattern, h))
}

// UseRouter mounts sub at path, stripping path from sub's view of the
// request on entry and restoring it on exit.
func (rt *Router) UseRouter(path string, sub *Router) {
	rt.Use(path, sub.Handle)
}

// OnError appends a prefix-mode error-handling layer at path (default "/").
// This is an explicit registration method rather than the arity-based
// four-argument-handler signal Express relies on to detect error handlers,
// since Go has no arity overloading to key off of.
func (rt *Router) OnError(path string, h ErrorHandlerFunc) {
	if path == "" {
		path = "/"
	}

	pattern, err := CompilePattern(path, rt.patternOptions(false))
	if err != nil {
		panic(err)
	}

	rt.stack = append(rt.stack, newErrorLayer(pattern, h))
}

// Route creates a new Route for path, even if one exists, and wraps it in an
// exact-mode Layer appended to the stack.
func (rt *Router) Route(path string) *Route {
	route, err := newRoute(path, rt.patternOptions(true))
	if err != nil {
		panic(err)
	}

	rt.stack = append(rt.stack, newRouteLayer(route.pattern, route))

	return route
}

// method-sugar constructors, all delegating to Route.

// Get registers a GET route at path.
func (rt *Router) Get(path string, h HandlerFunc) { rt.Route(path).Get(h) }

// Head registers a HEAD route at path.
func (rt *Router) Head(path string, h HandlerFunc) { rt.Route(path).Head(h) }

// Post registers a POST route at path.
func (rt *Router) Post(path string, h HandlerFunc) { rt.Route(path).Post(h) }

// Put registers a PUT route at path.
func (rt *Router) Put(path string, h HandlerFunc) { rt.Route(path).Put(h) }

// Patch registers a PATCH route at path.
func (rt *Router) Patch(path string, h HandlerFunc) { rt.Route(path).Patch(h) }

// Delete registers a DELETE route at path.
func (rt *Router) Delete(path string, h HandlerFunc) { rt.Route(path).Delete(h) }

// Options registers an OPTIONS route at path.
func (rt *Router) Options(path string, h HandlerFunc) { rt.Route(path).Options(h) }

// All registers a route at path matching any method.
func (rt *Router) All(path string, h HandlerFunc) { rt.Route(path).All(h) }

// Param registers a preprocessor for route param name. Preprocessors for a
// given name run in registration order.
func (rt *Router) Param(name string, fn ParamPreprocessor) {
	rt.paramPreprocessors[name] = append(rt.paramPreprocessors[name], fn)
}

// Handle is a HandlerFunc view of the Router, letting it be mounted as a
// layer under another Router. Express routers are themselves callable;
// since Go has no callable-struct equivalent, Handle is the explicit
// function view used wherever a Router needs to act as a HandlerFunc.
func (rt *Router) Handle(req *Request, res *Response, next func(error)) {
	rt.handle(nil, req, res, next)
}

// handle is the heart of the dispatch engine.
func (rt *Router) handle(initialErr error, req *Request, res *Response, done func(error)) {
	previousBaseURL := req.BaseURL
	previousPath := req.Path
	previousParams := req.Params

	cursor := 0
	currentErr := initialErr

	var next func(error)
	next = func(err error) {
		// Once the response has ended, further next calls are no-ops
		// (cancellation semantics).
		if res.ended {
			return
		}

		req.BaseURL = previousBaseURL
		req.Path = previousPath

		if err != nil && isRouterSentinel(err) {
			done(nil)
			return
		}

		currentErr = err

		for {
			if cursor >= len(rt.stack) {
				done(currentErr)
				return
			}

			layer := rt.stack[cursor]
			cursor++

			matchPath := req.Path
			if !layer.match(matchPath) {
				continue
			}

			if layer.route != nil && !layer.route.handlesMethod(req.Method) {
				continue
			}

			if currentErr == nil && layer.isErrorHandler() {
				continue
			}

			if currentErr != nil && !layer.isErrorHandler() && layer.route == nil {
				continue
			}

			params := layer.matchedParams
			if rt.mergeParams && len(previousParams) > 0 {
				merged := make(map[string]string, len(previousParams)+len(params))
				for k, v := range previousParams {
					merged[k] = v
				}

				for k, v := range params {
					merged[k] = v
				}

				params = merged
			}

			req.Params = params

			isMiddleware := layer.route == nil
			if isMiddleware {
				req.BaseURL = previousBaseURL + layer.matchedPrefix
				req.Path = remainderOrSlash(matchPath, layer.matchedPrefix)
			}

			if currentErr == nil {
				rt.runParamPreprocessors(params, req, res, func(perr error) {
					if perr != nil {
						next(perr)
						return
					}

					layer.dispatch(nil, req, res, next)
				})
				return
			}

			layer.dispatch(currentErr, req, res, next)
			return
		}
	}

	next(currentErr)
}

// runParamPreprocessors runs every registered preprocessor for the names
// present in params, in registration order, calling done once every
// preprocessor has completed or one has failed. done is the sole
// continuation — whatever a preprocessor's next eventually invokes — so a
// preprocessor that suspends (the same suspension §5 grants any layer)
// resumes dispatch correctly instead of racing against an assumption that
// next fires before the call to fn returns.
func (rt *Router) runParamPreprocessors(params map[string]string, req *Request, res *Response, done func(error)) {
	type preprocessorJob struct {
		fn    ParamPreprocessor
		name  string
		value string
	}

	var jobs []preprocessorJob
	for name, value := range params {
		for _, fn := range rt.paramPreprocessors[name] {
			jobs = append(jobs, preprocessorJob{fn, name, value})
		}
	}

	var run func(i int)
	run = func(i int) {
		if i >= len(jobs) {
			done(nil)
			return
		}

		j := jobs[i]
		j.fn(req, res, func(err error) {
			if err != nil {
				done(err)
				return
			}

			run(i + 1)
		}, j.value, j.name)
	}

	run(0)
}

// remainderOrSlash returns the portion of path after stripping prefix,
// defaulting to "/" when nothing remains (mount-path rules).
func remainderOrSlash(path, prefix string) string {
	remainder := strings.TrimPrefix(path, prefix)
	if remainder == "" {
		return "/"
	}

	if !strings.HasPrefix(remainder, "/") {
		return "/" + remainder
	}

	return remainder
}

// isRouterSentinel reports whether err is the sentinel meaning
// "terminate this router", Express's next('router').
func isRouterSentinel(err error) bool {
	return err == errRouterDone
}

// errRouterDone is returned to next to terminate the current Router,
// calling its done with no error.
var errRouterDone = routerSentinel{}

type routerSentinel struct{}

func (routerSentinel) Error() string { return "weft: router done" }

// NewRouterDone returns the sentinel error meaning "stop processing this
// router and return to its caller without error", the Go equivalent of
// Express's next('router').
func NewRouterDone() error { return errRouterDone }
