package weft

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCORSAllowsConfiguredOrigin(t *testing.T) {
	mw := CORS(CORSOptions{AllowOrigins: []string{"https://example.com"}})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Origin", "https://example.com")

	called := false
	mw(req, res, func(error) { called = true })

	assert.True(t, called)
	assert.Equal(t, "https://example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSRejectsUnlistedOrigin(t *testing.T) {
	mw := CORS(CORSOptions{AllowOrigins: []string{"https://example.com"}})

	req, res, rec := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Origin", "https://evil.example")

	called := false
	mw(req, res, func(error) { called = true })

	assert.True(t, called)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	mw := CORS(CORSOptions{AllowOrigins: []string{"*"}, MaxAge: 600})

	req, res, rec := newTestRequestResponse(http.MethodOptions, "/")
	req.HTTP.Header.Set("Origin", "https://example.com")

	called := false
	mw(req, res, func(error) { called = true })

	assert.False(t, called)
	assert.Equal(t, 204, rec.Code)
	assert.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))
}
