package weft

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestHeaderRefererAlias(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Referer", "https://example.com/")

	assert.Equal(t, "https://example.com/", req.Header("Referer"))
	assert.Equal(t, "https://example.com/", req.Header("Referrer"))
}

func TestRequestQueryParams(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/search?q=go&q=lang&page=2")

	assert.Equal(t, "go", req.QueryParam("q"))
	assert.Equal(t, []string{"go", "lang"}, req.QueryParams("q"))
	assert.Equal(t, "2", req.QueryParam("page"))
}

func TestRequestAccepts(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.1")

	assert.Equal(t, "json", req.Accepts("json", "xml"))
	assert.Equal(t, "html", req.Accepts("html"))
}

func TestRequestAcceptsNoMatch(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Accept", "application/json")

	assert.Equal(t, "", req.Accepts("xml"))
}

func TestRequestIs(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodPost, "/")
	req.HTTP.Header.Set("Content-Type", "application/json; charset=utf-8")

	assert.True(t, req.Is("json"))
	assert.True(t, req.Is("application/json"))
	assert.False(t, req.Is("xml"))
}

func TestRequestIPNoTrustProxy(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.RemoteAddr = "203.0.113.9:54321"

	assert.Equal(t, "203.0.113.9", req.IP())
}

func TestRequestIPTrustProxyHopCount(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.RemoteAddr = "10.0.0.1:1"
	req.HTTP.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	req.app.Settings.TrustProxy = 1

	assert.Equal(t, "10.0.0.2", req.IP())
}

func TestRequestIPTrustProxyCIDRList(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.RemoteAddr = "10.0.0.1:1"
	req.HTTP.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.2")
	req.app.Settings.TrustProxy = []string{"10.0.0.0/8"}

	assert.Equal(t, "203.0.113.9", req.IP())
}

func TestRequestOriginalURL(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/users/1?x=1")
	req.BaseURL = "/api"
	req.Path = "/users/1"

	assert.Equal(t, "/api/users/1?x=1", req.OriginalURL())
}

func TestRequestAcceptsLanguagesPicksBestMatch(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")
	req.HTTP.Header.Set("Accept-Language", "fr-CH, fr;q=0.9, en;q=0.8")

	assert.Equal(t, "fr", req.AcceptsLanguages("en", "fr", "de"))
}

func TestRequestAcceptsLanguagesNoHeaderReturnsFirst(t *testing.T) {
	req, _, _ := newTestRequestResponse(http.MethodGet, "/")

	assert.Equal(t, "en", req.AcceptsLanguages("en", "fr"))
}
