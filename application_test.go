package weft

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplicationServesRegisteredRoute(t *testing.T) {
	app := New()

	app.Get("/hello", func(req *Request, res *Response, next func(error)) {
		_ = res.Send("world")
	})

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodGet, "/hello", nil)

	app.ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "world", rec.Body.String())
	assert.Equal(t, "weft", rec.Header().Get("X-Powered-By"))
}

func TestApplicationNotFoundFallback(t *testing.T) {
	app := New()

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodGet, "/nope", nil)

	app.ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestApplicationErrorHandlerFallback(t *testing.T) {
	app := New()

	app.Get("/boom", func(req *Request, res *Response, next func(error)) {
		next(ErrForbidden("nope"))
	})

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodGet, "/boom", nil)

	app.ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")
}

func TestApplicationPanicRecoveredToErrorHandler(t *testing.T) {
	app := New()

	app.Get("/panics", func(req *Request, res *Response, next func(error)) {
		panic("kaboom")
	})

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodGet, "/panics", nil)

	app.ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestApplicationSettingsGetSet(t *testing.T) {
	app := New()

	app.Set("env", "production")
	v, ok := app.Setting("env")

	require.True(t, ok)
	assert.Equal(t, "production", v)
}

func TestApplicationSignCookieRequiresSecret(t *testing.T) {
	app := New()

	assert.Panics(t, func() {
		app.signCookie("value")
	})
}

func TestApplicationSignCookieWithSecret(t *testing.T) {
	app := New()
	app.SetCookieSecrets("s3cr3t")

	signed := app.signCookie("value")
	assert.Contains(t, signed, "s:value.")
}

func TestApplicationMountedRouterPrefixStripping(t *testing.T) {
	app := New()
	api := NewRouter(RouterOptions{})

	api.Get("/widgets", func(req *Request, res *Response, next func(error)) {
		_ = res.JSON(map[string]string{"path": req.Path, "baseURL": req.BaseURL})
	})

	app.UseRouter("/api", api)

	rec := httptest.NewRecorder()
	hr := httptest.NewRequest(http.MethodGet, "/api/widgets", nil)

	app.ServeHTTP(rec, hr)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"baseURL":"/api"`)
}
