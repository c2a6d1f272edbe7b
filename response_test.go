package weft

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponseSendString(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	err := res.Send("hello")
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestResponseJSON(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	err := res.JSON(map[string]int{"a": 1})
	require.NoError(t, err)

	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"a":1}`, rec.Body.String())
}

func TestResponseJSONSpaces(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")
	res.app.Settings.JSON.Spaces = 2

	err := res.JSON(map[string]int{"a": 1})
	require.NoError(t, err)

	assert.Contains(t, rec.Body.String(), "\n")
}

func TestResponseJSONEscapeDisabledLeavesLiteralCharacters(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	err := res.JSON(map[string]string{"a": "<b>&"})
	require.NoError(t, err)

	assert.Equal(t, `{"a":"<b>&"}`, rec.Body.String())
}

func TestResponseJSONEscapeEnabledEscapesHTMLChars(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")
	res.app.Settings.JSON.Escape = true

	err := res.JSON(map[string]string{"a": "<b>&"})
	require.NoError(t, err)

	body := rec.Body.String()
	assert.Equal(t, "{\"a\":\"\\u003cb\\u003e\\u0026\"}", body)
}

func TestResponseStatusAfterHeaderWrittenPanics(t *testing.T) {
	_, res, _ := newTestRequestResponse(http.MethodGet, "/")

	res.writeHeader()

	assert.PanicsWithValue(t, ErrResponseAlreadyEnded, func() {
		res.Status(201)
	})
}

func TestResponseEndIsIdempotent(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	ran := 0
	res.onEnd(func() { ran++ })

	res.End()
	res.End()

	assert.Equal(t, 1, ran)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResponseJSONP(t *testing.T) {
	req, res, rec := newTestRequestResponse(http.MethodGet, "/?callback=myCb")
	_ = req

	err := res.JSONP(map[string]int{"a": 1})
	require.NoError(t, err)

	assert.Contains(t, rec.Body.String(), "myCb(")
	assert.Equal(t, "text/javascript; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestResponseJSONPRejectsBadCallbackName(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/?callback=not(valid)")

	err := res.JSONP(map[string]int{"a": 1})
	require.NoError(t, err)

	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
}

func TestResponseRedirectBack(t *testing.T) {
	req, res, rec := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Referer", "https://example.com/prior")

	err := res.Redirect("back")
	require.NoError(t, err)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://example.com/prior", rec.Header().Get("Location"))
}

func TestResponseCookieAccumulates(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	res.Cookie("a", "1", CookieOptions{Path: "/"})
	res.Cookie("b", "2", CookieOptions{Path: "/"})

	assert.Len(t, rec.Result().Cookies(), 2)
}

func TestResponseClearCookieExpiresImmediately(t *testing.T) {
	_, res, rec := newTestRequestResponse(http.MethodGet, "/")

	res.ClearCookie("sid", CookieOptions{Path: "/"})

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, -1, cookies[0].MaxAge)
}
