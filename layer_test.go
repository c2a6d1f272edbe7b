package weft

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayerMiddlewareRunsOnlyInNormalMode(t *testing.T) {
	pattern, err := CompilePattern("/", PatternOptions{End: false})
	require.NoError(t, err)

	ran := false
	l := newMiddlewareLayer(pattern, func(req *Request, res *Response, next func(error)) {
		ran = true
		next(nil)
	})

	req, res, _ := newTestRequestResponse(http.MethodGet, "/")

	var gotErr error
	l.dispatch(nil, req, res, func(err error) { gotErr = err })
	assert.True(t, ran)
	assert.NoError(t, gotErr)

	ran = false
	l.dispatch(ErrBadRequest(""), req, res, func(err error) { gotErr = err })
	assert.False(t, ran)
}

func TestLayerErrorHandlerRunsOnlyInErrorMode(t *testing.T) {
	pattern, err := CompilePattern("/", PatternOptions{End: false})
	require.NoError(t, err)

	var caught error
	l := newErrorLayer(pattern, func(e error, req *Request, res *Response, next func(error)) {
		caught = e
		next(nil)
	})

	req, res, _ := newTestRequestResponse(http.MethodGet, "/")

	l.dispatch(nil, req, res, func(error) {})
	assert.Nil(t, caught)

	l.dispatch(ErrBadRequest("bad"), req, res, func(error) {})
	require.NotNil(t, caught)
	assert.Equal(t, http.StatusBadRequest, statusCodeOf(caught))
}

func TestLayerRecoversPanicIntoNext(t *testing.T) {
	pattern, err := CompilePattern("/", PatternOptions{End: false})
	require.NoError(t, err)

	l := newMiddlewareLayer(pattern, func(req *Request, res *Response, next func(error)) {
		panic(fmt.Errorf("boom"))
	})

	req, res, _ := newTestRequestResponse(http.MethodGet, "/")

	var gotErr error
	l.dispatch(nil, req, res, func(err error) { gotErr = err })

	require.Error(t, gotErr)
	assert.Equal(t, "boom", gotErr.Error())
}

func TestLayerMatchRecordsPrefixAndParams(t *testing.T) {
	pattern, err := CompilePattern("/users/:id", PatternOptions{End: false})
	require.NoError(t, err)

	l := newMiddlewareLayer(pattern, func(req *Request, res *Response, next func(error)) {})

	assert.True(t, l.match("/users/42/posts"))
	assert.Equal(t, "42", l.matchedParams["id"])
}
