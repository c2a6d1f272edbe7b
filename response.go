package weft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/aofei/mimesniffer"
	"github.com/vmihailenco/msgpack/v5"
)

// Response is the decorated view of the HTTP response at dispatch time.
//
// Grounded on air's Response (Status/Header/Body fields, the
// once-headers-are-written invariant enforced through air's Written flag),
// generalized with an ended/ResponseAlreadyEnded contract: headers cannot
// be set after end, and calling response mutators after end is a
// programming error.
type Response struct {
	HTTP http.ResponseWriter

	StatusCode int

	// ended is true once End has been observed; it is the source of
	// ErrResponseAlreadyEnded on further mutation.
	ended bool

	wroteHeader bool

	req *Request
	app *Application

	// deferredFuncs run in LIFO order when End is first called, before End
	// flushes the status line, mirroring air's Response.deferredFuncs (used by the session gas's
	// save-on-end hook).
	deferredFuncs []func()
}

// reset reinitializes res to write to hw in response to req, mirroring
// air's Response.reset pool-reuse pattern.
func (res *Response) reset(app *Application, hw http.ResponseWriter, req *Request) {
	res.HTTP = hw
	res.app = app
	res.req = req
	res.StatusCode = http.StatusOK
	res.ended = false
	res.wroteHeader = false
	res.deferredFuncs = res.deferredFuncs[:0]
}

// Status sets the status code to be written, returning res for chaining.
func (res *Response) Status(code int) *Response {
	if res.wroteHeader {
		panic(ErrResponseAlreadyEnded)
	}

	res.StatusCode = code
	return res
}

// Set sets a response header, case-insensitively.
func (res *Response) Set(name, value string) *Response {
	if res.ended {
		panic(ErrResponseAlreadyEnded)
	}

	res.HTTP.Header().Set(name, value)
	return res
}

// Get returns the value of a previously set response header.
func (res *Response) Get(name string) string {
	return res.HTTP.Header().Get(name)
}

// Type sets the Content-Type header from a shorthand ("json", "html",
// "text") or a full MIME type.
func (res *Response) Type(shorthandOrFull string) *Response {
	t := expandTypeShorthand(shorthandOrFull)
	if isTextualMIME(t) && !strings.Contains(t, "charset") {
		t += "; charset=utf-8"
	}

	return res.Set("Content-Type", t)
}

// writeHeader flushes the status line exactly once.
func (res *Response) writeHeader() {
	if res.wroteHeader {
		return
	}

	res.wroteHeader = true
	res.HTTP.WriteHeader(res.StatusCode)
}

// End terminates the response: headers are frozen and no further bytes may
// be written. Calling End twice is a no-op, which the session gas's
// save-on-end hook depends on.
func (res *Response) End() {
	if res.ended {
		return
	}

	res.ended = true

	for i := len(res.deferredFuncs) - 1; i >= 0; i-- {
		res.deferredFuncs[i]()
	}

	res.writeHeader()
}

// onEnd registers f to run when End is first observed, LIFO, the mechanism
// the session gas uses for its save-on-response-end hook. Headers f adds
// reach the client only if no body bytes were written before End.
func (res *Response) onEnd(f func()) {
	res.deferredFuncs = append(res.deferredFuncs, f)
}

// Write streams raw bytes to the client, writing headers on first use.
func (res *Response) Write(p []byte) (int, error) {
	if res.ended {
		panic(ErrResponseAlreadyEnded)
	}

	res.writeHeader()

	if res.req.Method == http.MethodHead {
		return len(p), nil
	}

	return res.HTTP.Write(p)
}

// Send infers a content type for body and writes it: string → text/html,
// []byte → application/octet-stream (sniffed via mimesniffer when more
// specific), anything else is JSON-encoded.
func (res *Response) Send(body interface{}) error {
	switch v := body.(type) {
	case string:
		return res.sendBytes("text/html; charset=utf-8", []byte(v))
	case []byte:
		ct := mimesniffer.Sniff(v)
		return res.sendBytes(ct, v)
	case nil:
		res.End()
		return nil
	default:
		return res.JSON(v)
	}
}

func (res *Response) sendBytes(contentType string, b []byte) error {
	if res.Get("Content-Type") == "" {
		res.Set("Content-Type", contentType)
	}

	res.Set("Content-Length", strconv.Itoa(len(b)))
	if _, err := res.Write(b); err != nil {
		return err
	}

	res.End()
	return nil
}

// JSONSettings controls JSON serialization, mirroring the json-spaces and
// json-replacer Application settings.
type JSONSettings struct {
	Spaces   int
	Escape   bool
	Replacer func(data []byte) []byte
}

// JSON serializes body as JSON and writes it with Content-Type
// application/json, honoring the Application's json-spaces/json-replacer/
// json-escape settings.
func (res *Response) JSON(body interface{}) error {
	js := res.app.Settings.JSON

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)

	// encoding/json HTML-escapes '<', '>', '&' and the line separators by
	// default; js.Escape's documented contract is the inverse of that, so
	// when it's off the encoder must be told to stop doing so, rather
	// than post-processing output that's already escaped by the time it
	// reaches here.
	enc.SetEscapeHTML(js.Escape)

	if js.Spaces > 0 {
		enc.SetIndent("", strings.Repeat(" ", js.Spaces))
	}

	if err := enc.Encode(body); err != nil {
		return err
	}

	// Encode appends a trailing newline Marshal doesn't; trim it so
	// Content-Length and the wire body match json.Marshal's output shape.
	b := bytes.TrimRight(buf.Bytes(), "\n")

	if js.Replacer != nil {
		b = js.Replacer(b)
	}

	res.Set("Content-Type", "application/json; charset=utf-8")
	res.Set("Content-Length", strconv.Itoa(len(b)))

	if _, err := res.Write(b); err != nil {
		return err
	}

	res.End()
	return nil
}

// WriteMsgpack serializes body with msgpack and writes it with Content-Type
// application/msgpack. It is an additive wire option beyond the plain
// Send/JSON pair, for clients that negotiate application/msgpack (uses
// github.com/vmihailenco/msgpack/v5).
func (res *Response) WriteMsgpack(body interface{}) error {
	b, err := msgpack.Marshal(body)
	if err != nil {
		return err
	}

	res.Set("Content-Type", "application/msgpack")
	res.Set("Content-Length", strconv.Itoa(len(b)))

	if _, err := res.Write(b); err != nil {
		return err
	}

	res.End()
	return nil
}

var jsonpCallbackPattern = regexp.MustCompile(`^[a-zA-Z_$][a-zA-Z0-9_$]*(\[[0-9]+\])*(\.[a-zA-Z_$][a-zA-Z0-9_$]*(\[[0-9]+\])*)*$`)

// JSONP wraps body as a JSONP response if the query parameter named by the
// Application's jsonp-callback-name setting is present and matches a
// conservative identifier pattern; otherwise it behaves like JSON.
func (res *Response) JSONP(body interface{}) error {
	name := res.app.Settings.JSONPCallbackName
	if name == "" {
		name = "callback"
	}

	cb := res.req.QueryParam(name)
	if cb == "" || !jsonpCallbackPattern.MatchString(cb) {
		return res.JSON(body)
	}

	b, err := json.Marshal(body)
	if err != nil {
		return err
	}

	payload := fmt.Sprintf("/**/ typeof %s === 'function' && %s(%s);", cb, cb, b)

	res.Set("Content-Type", "text/javascript; charset=utf-8")
	res.Set("Content-Length", strconv.Itoa(len(payload)))

	if _, err := res.Write([]byte(payload)); err != nil {
		return err
	}

	res.End()
	return nil
}

// Redirect writes a redirect response, defaulting to 302. target == "back"
// resolves to the Referer header or "/".
func (res *Response) Redirect(target string, code ...int) error {
	status := http.StatusFound
	if len(code) > 0 {
		status = code[0]
	}

	if target == "back" {
		if ref := res.req.Header("Referer"); ref != "" {
			target = ref
		} else {
			target = "/"
		}
	}

	res.Set("Location", target)
	res.Status(status)
	res.End()
	return nil
}

// CookieOptions configures Cookie/ClearCookie.
type CookieOptions struct {
	Path     string
	Domain   string
	Expires  time.Time
	MaxAge   int
	Secure   bool
	HTTPOnly bool
	SameSite http.SameSite
	Signed   bool
}

// Cookie appends a Set-Cookie header for name=value. Set-Cookie headers
// accumulate; they are never overwritten.
func (res *Response) Cookie(name, value string, opts CookieOptions) *Response {
	if opts.Signed {
		value = res.app.signCookie(value)
	}

	c := &Cookie{
		Name:     name,
		Value:    value,
		Path:     opts.Path,
		Domain:   opts.Domain,
		Expires:  opts.Expires,
		MaxAge:   opts.MaxAge,
		Secure:   opts.Secure,
		HTTPOnly: opts.HTTPOnly,
		SameSite: opts.SameSite,
	}

	if s := c.String(); s != "" {
		res.HTTP.Header().Add("Set-Cookie", s)
	}

	return res
}

// ClearCookie appends a Set-Cookie header that expires name immediately.
func (res *Response) ClearCookie(name string, opts CookieOptions) *Response {
	opts.Expires = time.Unix(0, 0)
	opts.MaxAge = -1
	return res.Cookie(name, "", opts)
}

// Render renders the named view through the Application's engine registry
// (keyed by its view-engine setting) and writes the result as text/html.
func (res *Response) Render(name string, data interface{}) error {
	engineName := res.app.Settings.ViewEngine
	engine, ok := res.app.engines[engineName]
	if !ok {
		return fmt.Errorf("weft: no view engine registered for %q", engineName)
	}

	res.Set("Content-Type", "text/html; charset=utf-8")

	buf := &bytes.Buffer{}
	if err := engine.Render(buf, name, data); err != nil {
		return err
	}

	return res.sendBytes("text/html; charset=utf-8", buf.Bytes())
}

// SendFile writes the file at path as the response body, applying the same
// conditional-GET and caching semantics as StaticFiles.
func (res *Response) SendFile(path string, opts StaticOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}

	if fi.IsDir() {
		return ErrForbidden("cannot send a directory")
	}

	return serveFileContent(res, path, f, fi, opts)
}

// isTextualMIME reports whether mt is one of the text-ish types that get a
// charset=utf-8 suffix.
func isTextualMIME(mt string) bool {
	mt = strings.SplitN(mt, ";", 2)[0]
	mt = strings.TrimSpace(mt)

	switch mt {
	case "text/html", "text/css", "text/plain", "text/javascript",
		"application/javascript", "application/json", "application/xml",
		"image/svg+xml":
		return true
	}

	return strings.HasPrefix(mt, "text/")
}
