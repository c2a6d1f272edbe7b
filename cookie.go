package weft

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"
)

// Cookie is an HTTP cookie, extended from air's Cookie with SameSite, which
// air's version (pinned to an older RFC 6265bis draft) never added.
type Cookie struct {
	Name     string
	Value    string
	Expires  time.Time
	MaxAge   int
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
}

// String returns the RFC 6265 serialization of c, or "" if its name is
// invalid.
func (c *Cookie) String() string {
	if !validCookieName(c.Name) {
		return ""
	}

	buf := bytes.Buffer{}

	n := strings.NewReplacer("\r", "-", "\n", "-").Replace(c.Name)
	v := sanitize(c.Value, validCookieValueByte)
	if strings.IndexByte(v, ' ') >= 0 || strings.IndexByte(v, ',') >= 0 {
		v = `"` + v + `"`
	}

	buf.WriteString(n)
	buf.WriteByte('=')
	buf.WriteString(v)

	if len(c.Path) > 0 {
		buf.WriteString("; Path=")
		buf.WriteString(sanitize(c.Path, func(b byte) bool {
			return 0x20 <= b && b < 0x7f && b != ';'
		}))
	}

	if validCookieDomain(c.Domain) {
		d := c.Domain
		if d[0] == '.' {
			d = d[1:]
		}

		buf.WriteString("; Domain=")
		buf.WriteString(d)
	}

	if c.Expires.Year() >= 1601 {
		buf.WriteString("; Expires=")
		buf.WriteString(c.Expires.UTC().Format(http.TimeFormat))
	}

	if c.MaxAge > 0 {
		buf.WriteString("; Max-Age=")
		buf.WriteString(strconv.Itoa(c.MaxAge))
	} else if c.MaxAge < 0 {
		buf.WriteString("; Max-Age=0")
	}

	switch c.SameSite {
	case http.SameSiteLaxMode:
		buf.WriteString("; SameSite=Lax")
	case http.SameSiteStrictMode:
		buf.WriteString("; SameSite=Strict")
	case http.SameSiteNoneMode:
		buf.WriteString("; SameSite=None")
	}

	if c.HTTPOnly {
		buf.WriteString("; HttpOnly")
	}

	if c.Secure {
		buf.WriteString("; Secure")
	}

	return buf.String()
}

// validCookieName reports whether n is a valid RFC 6265 cookie-name token.
func validCookieName(n string) bool {
	return n != "" && strings.IndexFunc(n, func(r rune) bool {
		return !strings.ContainsRune(
			"!#$%&'*+-."+
				"0123456789"+
				"ABCDEFGHIJKLMNOPQRSTUWVXYZ"+
				"^_`"+
				"abcdefghijklmnopqrstuvwxyz"+
				"|~",
			r,
		)
	}) < 0
}

func validCookieValueByte(b byte) bool {
	return 0x20 <= b && b < 0x7f && b != '"' && b != ';' && b != '\\'
}

// validCookieDomain reports whether d is a valid cookie Domain attribute.
func validCookieDomain(d string) bool {
	if l := len(d); l == 0 || l > 255 {
		return false
	}

	if net.ParseIP(d) != nil && !strings.Contains(d, ":") {
		return true
	}

	if d[0] == '.' {
		d = d[1:]
	}

	ok := false
	last := byte('.')
	partlen := 0
	for i := 0; i < len(d); i++ {
		c := d[i]
		switch {
		case 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z':
			ok = true
			partlen++
		case '0' <= c && c <= '9':
			partlen++
		case c == '-':
			if last == '.' {
				return false
			}

			partlen++
		case c == '.':
			if last == '.' || last == '-' {
				return false
			}

			if partlen > 63 || partlen == 0 {
				return false
			}

			partlen = 0
		default:
			return false
		}

		last = c
	}

	if last == '-' || partlen > 63 {
		return false
	}

	return ok
}

func sanitize(s string, valid func(byte) bool) string {
	ok := true
	for i := 0; i < len(s); i++ {
		if !valid(s[i]) {
			ok = false
			break
		}
	}

	if ok {
		return s
	}

	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if b := s[i]; valid(b) {
			buf = append(buf, b)
		}
	}

	return string(buf)
}

// ParseCookieHeader parses the Cookie request header into a name→value map.
func ParseCookieHeader(header string) map[string]string {
	out := map[string]string{}
	if header == "" {
		return out
	}

	for _, part := range strings.Split(header, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}

		name, value, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}

		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)

		if decoded, err := url.QueryUnescape(value); err == nil {
			value = decoded
		}

		out[name] = value
	}

	return out
}

// signCookieValue computes sign(value, secret) = "s:" + value + "." +
// base64url(HMAC-SHA256(secret, value)) with no padding.
func signCookieValue(value string, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(value))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return "s:" + value + "." + sig
}

// unsignCookieValue verifies s against any secret in secrets using
// constant-time comparison, returning the original value and true on
// success. Key rotation is supported by trying every secret, newest first.
func unsignCookieValue(s string, secrets [][]byte) (string, bool) {
	if !strings.HasPrefix(s, "s:") {
		return "", false
	}

	body := s[2:]

	dot := strings.LastIndexByte(body, '.')
	if dot < 0 {
		return "", false
	}

	value := body[:dot]
	sigB64 := body[dot+1:]

	sig, err := base64.RawURLEncoding.DecodeString(sigB64)
	if err != nil {
		return "", false
	}

	for _, secret := range secrets {
		mac := hmac.New(sha256.New, secret)
		mac.Write([]byte(value))
		expected := mac.Sum(nil)

		if subtle.ConstantTimeCompare(sig, expected) == 1 {
			return value, true
		}
	}

	return "", false
}

// CookieSigner signs and verifies cookie values with an immutable, ordered
// list of secrets, the newest first, enabling key rotation: new cookies are
// always signed with secrets[0]; unsigning tries every secret so cookies
// signed under a retired key keep verifying until they expire.
type CookieSigner struct {
	secrets [][]byte
}

// NewCookieSigner returns a CookieSigner over secrets (newest first). At
// least one secret is required. Each secret is expanded into a 32-byte HMAC
// key via HKDF-SHA256 rather than used as raw key material directly, so a
// short or low-entropy configured secret does not weaken the HMAC.
func NewCookieSigner(secrets ...string) *CookieSigner {
	bs := make([][]byte, len(secrets))
	for i, s := range secrets {
		bs[i] = deriveCookieKey(s)
	}

	return &CookieSigner{secrets: bs}
}

// deriveCookieKey expands secret into a fixed-size HMAC key via
// HKDF-SHA256, salted with a static, package-private info string so keys
// derived here never collide with HKDF uses elsewhere in an application.
func deriveCookieKey(secret string) []byte {
	key := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("weft-cookie-signing-key"))
	if _, err := io.ReadFull(r, key); err != nil {
		panic(err)
	}

	return key
}

// Sign returns the signed wire value for value.
func (cs *CookieSigner) Sign(value string) string {
	return signCookieValue(value, cs.secrets[0])
}

// Unsign verifies s, returning the original value and true on success.
func (cs *CookieSigner) Unsign(s string) (string, bool) {
	return unsignCookieValue(s, cs.secrets)
}

// CookieParser returns a HandlerFunc that populates req.Cookies and
// req.SignedCookies from the request's Cookie header, verifying signed
// values against signer. A present-but-invalid signed cookie is recorded as
// TamperedCookieValue so application code can distinguish "absent" from
// "present but invalid".
func CookieParser(signer *CookieSigner) HandlerFunc {
	return func(req *Request, res *Response, next func(error)) {
		raw := ParseCookieHeader(req.HTTP.Header.Get("Cookie"))

		plain := map[string]string{}
		signed := map[string]string{}

		for name, value := range raw {
			if strings.HasPrefix(value, "s:") && signer != nil {
				if original, ok := signer.Unsign(value); ok {
					signed[name] = original
				} else {
					signed[name] = TamperedCookieValue
				}

				continue
			}

			plain[name] = value
		}

		req.Cookies = plain
		req.SignedCookies = signed

		next(nil)
	}
}
