package weft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCookieString(t *testing.T) {
	c := &Cookie{Name: "sid", Value: "abc123", Path: "/", HTTPOnly: true, Secure: true}
	s := c.String()

	assert.Contains(t, s, "sid=abc123")
	assert.Contains(t, s, "Path=/")
	assert.Contains(t, s, "HttpOnly")
	assert.Contains(t, s, "Secure")
}

func TestCookieStringInvalidName(t *testing.T) {
	c := &Cookie{Name: "bad name", Value: "x"}
	assert.Empty(t, c.String())
}

func TestParseCookieHeader(t *testing.T) {
	m := ParseCookieHeader("a=1; b=2; c=")
	assert.Equal(t, "1", m["a"])
	assert.Equal(t, "2", m["b"])
	assert.Equal(t, "", m["c"])
}

func TestCookieSignerRoundTrip(t *testing.T) {
	signer := NewCookieSigner("secret-key")

	signed := signer.Sign("hello")
	assert.Contains(t, signed, "s:hello.")

	value, ok := signer.Unsign(signed)
	require.True(t, ok)
	assert.Equal(t, "hello", value)
}

func TestCookieSignerRejectsTampering(t *testing.T) {
	signer := NewCookieSigner("secret-key")
	signed := signer.Sign("hello")

	tampered := signed[:len(signed)-1] + "x"

	_, ok := signer.Unsign(tampered)
	assert.False(t, ok)
}

func TestCookieSignerKeyRotation(t *testing.T) {
	old := NewCookieSigner("old-key")
	signedUnderOld := old.Sign("hello")

	rotated := NewCookieSigner("new-key", "old-key")

	value, ok := rotated.Unsign(signedUnderOld)
	require.True(t, ok)
	assert.Equal(t, "hello", value)

	assert.Contains(t, rotated.Sign("hello"), "s:hello.")
}

func TestCookieParserDistinguishesTamperedFromAbsent(t *testing.T) {
	signer := NewCookieSigner("secret")
	good := signer.Sign("ok")

	h := CookieParser(signer)

	req, res, _ := newTestRequestResponse("GET", "/")
	req.HTTP.Header.Set("Cookie", "a="+good+"; b=s:broken.sig")

	done := false
	h(req, res, func(error) { done = true })

	assert.True(t, done)
	assert.Equal(t, "ok", req.SignedCookies["a"])
	assert.Equal(t, TamperedCookieValue, req.SignedCookies["b"])

	_, hasC := req.SignedCookies["c"]
	assert.False(t, hasC)
}
