package weft

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRequestResponse(method, target string) (*Request, *Response, *httptest.ResponseRecorder) {
	app := New()

	hr := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()

	req := &Request{}
	req.reset(app, hr)

	res := &Response{}
	res.reset(app, rec, req)

	return req, res, rec
}

func TestRouterMiddlewareOrdering(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	var order []string

	rt.Use("/", func(req *Request, res *Response, next func(error)) {
		order = append(order, "first")
		next(nil)
	})

	rt.Use("/", func(req *Request, res *Response, next func(error)) {
		order = append(order, "second")
		next(nil)
	})

	rt.Get("/", func(req *Request, res *Response, next func(error)) {
		order = append(order, "route")
		res.End()
	})

	req, res, _ := newTestRequestResponse(http.MethodGet, "/")

	var finalErr error
	rt.handle(nil, req, res, func(err error) { finalErr = err })

	require.NoError(t, finalErr)
	assert.Equal(t, []string{"first", "second", "route"}, order)
}

func TestRouterMountPathStripping(t *testing.T) {
	rt := NewRouter(RouterOptions{})
	sub := NewRouter(RouterOptions{})

	var seenPath, seenBaseURL string

	sub.Get("/profile", func(req *Request, res *Response, next func(error)) {
		seenPath = req.Path
		seenBaseURL = req.BaseURL
		res.End()
	})

	rt.UseRouter("/users", sub)

	req, res, _ := newTestRequestResponse(http.MethodGet, "/users/profile")

	rt.handle(nil, req, res, func(error) {})

	assert.Equal(t, "/profile", seenPath)
	assert.Equal(t, "/users", seenBaseURL)

	// BaseURL and Path together still spell the full request path after
	// the mounted router has handled it.
	assert.Equal(t, "/users/profile", req.BaseURL+req.Path)
}

func TestRouterErrorLayerSkippedInNormalMode(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	errorLayerRan := false
	rt.OnError("/", func(err error, req *Request, res *Response, next func(error)) {
		errorLayerRan = true
		res.Status(500)
		res.End()
	})

	rt.Get("/", func(req *Request, res *Response, next func(error)) {
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/")
	rt.handle(nil, req, res, func(error) {})

	assert.False(t, errorLayerRan)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterErrorPropagatesToErrorLayer(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	rt.Get("/", func(req *Request, res *Response, next func(error)) {
		next(ErrBadRequest("bad"))
	})

	var caught error
	rt.OnError("/", func(err error, req *Request, res *Response, next func(error)) {
		caught = err
		res.Status(statusCodeOf(err))
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/")
	rt.handle(nil, req, res, func(error) {})

	require.Error(t, caught)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterNextRouteSkipsRemainingRouteLayers(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	rt.Route("/widgets").Get(func(req *Request, res *Response, next func(error)) {
		next(NextRoute())
	})

	fallbackRan := false
	rt.Get("/widgets", func(req *Request, res *Response, next func(error)) {
		fallbackRan = true
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/widgets")
	rt.handle(nil, req, res, func(error) {})

	assert.True(t, fallbackRan)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterMergeParams(t *testing.T) {
	rt := NewRouter(RouterOptions{})
	sub := NewRouter(RouterOptions{MergeParams: true})

	var gotParams map[string]string
	sub.Get("/posts/:postID", func(req *Request, res *Response, next func(error)) {
		gotParams = req.Params
		res.End()
	})

	rt.UseRouter("/users/:userID", sub)

	req, res, _ := newTestRequestResponse(http.MethodGet, "/users/7/posts/9")
	rt.handle(nil, req, res, func(error) {})

	assert.Equal(t, "7", gotParams["userID"])
	assert.Equal(t, "9", gotParams["postID"])
}

func TestRouterParamPreprocessorSyncSuccess(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	var preprocessed string
	rt.Param("id", func(req *Request, res *Response, next func(error), value, name string) {
		preprocessed = value + "!"
		next(nil)
	})

	var handlerParam string
	rt.Get("/widgets/:id", func(req *Request, res *Response, next func(error)) {
		handlerParam = req.Params["id"]
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/widgets/42")
	rt.handle(nil, req, res, func(error) {})

	assert.Equal(t, "42!", preprocessed)
	assert.Equal(t, "42", handlerParam)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterParamPreprocessorSyncError(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	rt.Param("id", func(req *Request, res *Response, next func(error), value, name string) {
		next(ErrBadRequest("bad id"))
	})

	handlerRan := false
	rt.Get("/widgets/:id", func(req *Request, res *Response, next func(error)) {
		handlerRan = true
		res.End()
	})

	var caught error
	rt.OnError("/", func(err error, req *Request, res *Response, next func(error)) {
		caught = err
		res.Status(statusCodeOf(err))
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/widgets/42")
	rt.handle(nil, req, res, func(error) {})

	assert.False(t, handlerRan)
	require.Error(t, caught)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRouterParamPreprocessorAsync(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	resolved := make(chan func(error), 1)
	rt.Param("id", func(req *Request, res *Response, next func(error), value, name string) {
		go func() { resolved <- next }()
	})

	handlerRan := false
	rt.Get("/widgets/:id", func(req *Request, res *Response, next func(error)) {
		handlerRan = true
		res.End()
	})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/widgets/42")
	rt.handle(nil, req, res, func(error) {})

	// The preprocessor hasn't resolved yet, so dispatch must not have
	// reached the route handler.
	assert.False(t, handlerRan)

	// Resolving it off the original call stack resumes dispatch exactly
	// as if it had completed synchronously.
	next := <-resolved
	next(nil)

	assert.True(t, handlerRan)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouteMethodNotAllowedFallsThroughStack(t *testing.T) {
	rt := NewRouter(RouterOptions{})

	rt.Route("/widgets").Get(func(req *Request, res *Response, next func(error)) {
		res.End()
	})

	notFoundRan := false
	rt.Use("/", func(req *Request, res *Response, next func(error)) {
		next(nil)
	})

	req, res, _ := newTestRequestResponse(http.MethodPost, "/widgets")

	var finalErr error
	rt.handle(nil, req, res, func(err error) {
		finalErr = err
		notFoundRan = true
	})

	assert.True(t, notFoundRan)
	assert.NoError(t, finalErr)
	assert.False(t, res.ended)
}
