package weft

import (
	"compress/flate"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"
)

// BodyParserOptions configures a body-parsing middleware.
type BodyParserOptions struct {
	// Type selects which requests the parser applies to: a shorthand
	// ("json", "urlencoded", "text", "html", "xml"), a full MIME type, or a
	// pattern ("text/*"). Defaults per parser constructor below.
	Type string

	// Limit caps the request body size in bytes. Zero means the parser's
	// default (1MiB), matching the default payload limit.
	Limit int64

	// Charset is the charset assumed for a request whose Content-Type
	// carries no charset parameter (the defaultCharset fallback). A
	// request that explicitly declares a different, unsupported charset
	// is still rejected; only "utf-8" is supported for decoding.
	// Defaults to "utf-8".
	Charset string

	// ParameterLimit caps the number of keys the urlencoded parser will
	// accept, guarding against parameter-count DoS. Zero means the
	// parser's default (1000).
	ParameterLimit int

	// DisableExtended turns off bracket-notation nesting ("a[b]=1") for
	// URLEncodedBodyParser, reverting to a flat map[string]interface{}
	// keyed by the literal parameter name. Extended parsing is on by
	// default.
	DisableExtended bool

	// Strict, for JSONBodyParser, rejects a body whose top-level decoded
	// value isn't a JSON object or array (so a bare `42` or `"x"` body is
	// a 400 rather than silently accepted). Defaults to off.
	Strict bool

	// Reviver, for JSONBodyParser, is applied bottom-up to every decoded
	// value (object members, array elements, then the whole value), the
	// same shape as JSON.parse's reviver argument.
	Reviver func(key string, value interface{}) interface{}

	// Inflate decompresses a gzip- or deflate-encoded body (per
	// Content-Encoding) before parsing. Defaults to on; set
	// DisableInflate to reject encoded bodies instead.
	DisableInflate bool

	// Verify, if set, is called with the raw body bytes before parsing.
	// Returning an error aborts the parse with that error, letting
	// callers check a signature (e.g. a webhook's HMAC header) against
	// the exact bytes on the wire.
	Verify func(req *Request, raw []byte) error
}

const defaultBodyLimit int64 = 1 << 20
const defaultParameterLimit = 1000

func (o BodyParserOptions) limit() int64 {
	if o.Limit > 0 {
		return o.Limit
	}

	return defaultBodyLimit
}

func (o BodyParserOptions) parameterLimit() int {
	if o.ParameterLimit > 0 {
		return o.ParameterLimit
	}

	return defaultParameterLimit
}

func (o BodyParserOptions) charset() string {
	if o.Charset != "" {
		return o.Charset
	}

	return "utf-8"
}

// bodyMatches reports whether the request's Content-Type satisfies typ, the
// same shorthand/pattern matching Request.Is uses.
func bodyMatches(req *Request, typ string) bool {
	ct := req.HTTP.Header.Get("Content-Type")
	if ct == "" {
		return false
	}

	return req.Is(typ)
}

// checkCharset reports an error if req declares an explicit charset other
// than the one this parser can decode ("utf-8"), falling back to opts'
// default charset when the Content-Type carries no charset parameter at all.
func checkCharset(req *Request, opts BodyParserOptions) error {
	charset := opts.charset()

	if _, params, err := mime.ParseMediaType(req.HTTP.Header.Get("Content-Type")); err == nil {
		if cs := params["charset"]; cs != "" {
			charset = cs
		}
	}

	if !strings.EqualFold(charset, "utf-8") {
		return ErrUnsupportedMediaType(fmt.Sprintf("unsupported charset %q", charset))
	}

	return nil
}

// readBody reads req's body up to limit+1 bytes (inflating it first if
// Content-Encoding names a supported compression and opts allows it),
// returning ErrPayloadTooLarge if the decompressed body exceeds limit, then
// runs opts.Verify against the result.
func readBody(req *Request, opts BodyParserOptions, limit int64) ([]byte, error) {
	if req.HTTP.Body == nil {
		return nil, nil
	}

	r := io.Reader(req.HTTP.Body)

	if enc := req.HTTP.Header.Get("Content-Encoding"); enc != "" && !strings.EqualFold(enc, "identity") {
		if opts.DisableInflate {
			return nil, ErrUnsupportedMediaType(fmt.Sprintf("content-encoding %q not accepted", enc))
		}

		switch strings.ToLower(enc) {
		case "gzip":
			gr, err := gzip.NewReader(r)
			if err != nil {
				return nil, ErrBadRequest(fmt.Sprintf("invalid gzip body: %v", err))
			}
			defer gr.Close()
			r = gr
		case "deflate":
			r = flate.NewReader(r)
		default:
			return nil, ErrUnsupportedMediaType(fmt.Sprintf("unsupported content-encoding %q", enc))
		}
	}

	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, ErrBadRequest(err.Error())
	}

	if int64(len(b)) > limit {
		return nil, ErrPayloadTooLarge(fmt.Sprintf("request body exceeds %d bytes", limit))
	}

	if opts.Verify != nil {
		if err := opts.Verify(req, b); err != nil {
			return nil, err
		}
	}

	return b, nil
}

// applyReviver walks value bottom-up (object members first, then array
// elements, then the value itself), calling reviver on each (key, value)
// pair and replacing it with the result, mirroring JSON.parse's reviver.
func applyReviver(key string, value interface{}, reviver func(string, interface{}) interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		for k, vv := range v {
			v[k] = applyReviver(k, vv, reviver)
		}
	case []interface{}:
		for i, vv := range v {
			v[i] = applyReviver(strconv.Itoa(i), vv, reviver)
		}
	}

	return reviver(key, value)
}

// JSONBodyParser returns a HandlerFunc that decodes a JSON request body into
// req.Body (as map[string]interface{} or []interface{}, mirroring
// encoding/json's default unmarshal-into-interface{} shape), gated on
// Content-Type.
//
// Grounded on air's binder.Bind JSON branch, generalized from bind-into-a-
// caller-supplied-struct to populate the generic Request.Body field the
// dispatch model threads through middleware.
func JSONBodyParser(opts BodyParserOptions) HandlerFunc {
	if opts.Type == "" {
		opts.Type = "application/json"
	}

	limit := opts.limit()

	return func(req *Request, res *Response, next func(error)) {
		if !bodyMatches(req, opts.Type) {
			next(nil)
			return
		}

		if err := checkCharset(req, opts); err != nil {
			next(err)
			return
		}

		b, err := readBody(req, opts, limit)
		if err != nil {
			next(err)
			return
		}

		if len(b) == 0 {
			req.Body = map[string]interface{}{}
			next(nil)
			return
		}

		var v interface{}
		if err := json.Unmarshal(b, &v); err != nil {
			next(ErrBadRequest(fmt.Sprintf("invalid JSON body: %v", err)))
			return
		}

		if opts.Strict {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
			default:
				next(ErrBadRequest("strict JSON parsing requires an object or array body"))
				return
			}
		}

		if opts.Reviver != nil {
			v = applyReviver("", v, opts.Reviver)
		}

		req.Body = v
		next(nil)
	}
}

// URLEncodedBodyParser returns a HandlerFunc that decodes an
// application/x-www-form-urlencoded body into req.Body, gated on
// Content-Type and charset.
//
// Unless opts.DisableExtended is set, keys use qs-style bracket notation
// ("a[b]=1&a[c][d]=2") to build a nested map[string]interface{}; a bare
// repeated key ("a=1&a=2") becomes a []string. With DisableExtended, the
// body is parsed as a single flat level (Express's "simple" mode).
func URLEncodedBodyParser(opts BodyParserOptions) HandlerFunc {
	if opts.Type == "" {
		opts.Type = "application/x-www-form-urlencoded"
	}

	limit := opts.limit()
	paramLimit := opts.parameterLimit()

	return func(req *Request, res *Response, next func(error)) {
		if !bodyMatches(req, opts.Type) {
			next(nil)
			return
		}

		if err := checkCharset(req, opts); err != nil {
			next(err)
			return
		}

		b, err := readBody(req, opts, limit)
		if err != nil {
			next(err)
			return
		}

		raw, err := url.ParseQuery(string(b))
		if err != nil {
			next(ErrBadRequest(fmt.Sprintf("invalid urlencoded body: %v", err)))
			return
		}

		if n := len(raw); n > paramLimit {
			next(ErrBadRequest(fmt.Sprintf("urlencoded body has %d keys, exceeding the limit of %d", n, paramLimit)))
			return
		}

		if opts.DisableExtended {
			req.Body = flatValuesToObject(raw)
		} else {
			req.Body = nestedValuesToObject(raw)
		}

		next(nil)
	}
}

func countValues(values url.Values) int {
	n := 0
	for _, vs := range values {
		n += len(vs)
	}

	return n
}

// flatValuesToObject builds a one-level map[string]interface{} from values,
// collapsing single-value keys to a bare string and preserving repeats as
// []string, the "simple" query-parser mode.
func flatValuesToObject(values url.Values) map[string]interface{} {
	obj := make(map[string]interface{}, len(values))
	for k, vs := range values {
		if len(vs) == 1 {
			obj[k] = vs[0]
		} else {
			obj[k] = vs
		}
	}

	return obj
}

// nestedValuesToObject builds a bracket-notation nested map[string]interface{}
// from values (the "extended" query-parser mode), e.g. "a[b]=1&a[c][d]=2"
// becomes {"a": {"b": "1", "c": {"d": "2"}}}.
func nestedValuesToObject(values url.Values) map[string]interface{} {
	obj := map[string]interface{}{}

	for key, vs := range values {
		segs := splitExtendedKey(key)
		for _, v := range vs {
			assignExtendedParam(obj, segs, v)
		}
	}

	return obj
}

// splitExtendedKey splits a qs-style bracket key ("a[b][c]") into its
// path segments (["a", "b", "c"]). A key with no brackets is a single
// segment.
func splitExtendedKey(key string) []string {
	idx := strings.IndexByte(key, '[')
	if idx < 0 {
		return []string{key}
	}

	segs := []string{key[:idx]}
	rest := key[idx:]

	for len(rest) > 0 && rest[0] == '[' {
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			break
		}

		segs = append(segs, rest[1:end])
		rest = rest[end+1:]
	}

	return segs
}

// assignExtendedParam walks segs into root, creating intermediate
// map[string]interface{} nodes as needed, and assigns value at the leaf.
// A trailing empty segment ("a[]") is array-append notation: the value is
// appended to a []string stored directly at the parent key. A repeated
// non-bracketed key is likewise collected into a []string.
func assignExtendedParam(root map[string]interface{}, segs []string, value string) {
	cur := root

	for i := 0; i < len(segs); i++ {
		seg := segs[i]
		last := i == len(segs)-1

		if seg == "" {
			return
		}

		if last {
			appendScalar(cur, seg, value)
			return
		}

		if segs[i+1] == "" {
			appendArray(cur, seg, value)
			return
		}

		child, ok := cur[seg].(map[string]interface{})
		if !ok {
			child = map[string]interface{}{}
			cur[seg] = child
		}

		cur = child
	}
}

// appendScalar assigns value at cur[key], upgrading an existing scalar to a
// []string on a repeated assignment.
func appendScalar(cur map[string]interface{}, key, value string) {
	switch existing := cur[key].(type) {
	case nil:
		cur[key] = value
	case string:
		cur[key] = []string{existing, value}
	case []string:
		cur[key] = append(existing, value)
	}
}

// appendArray appends value to the []string stored at cur[key] (array-
// bracket notation, "a[]=1&a[]=2").
func appendArray(cur map[string]interface{}, key, value string) {
	existing, _ := cur[key].([]string)
	cur[key] = append(existing, value)
}

// RawBodyParser returns a HandlerFunc that reads the request body verbatim
// into req.Body as []byte, gated on Content-Type.
func RawBodyParser(opts BodyParserOptions) HandlerFunc {
	if opts.Type == "" {
		opts.Type = "application/octet-stream"
	}

	limit := opts.limit()

	return func(req *Request, res *Response, next func(error)) {
		if !bodyMatches(req, opts.Type) {
			next(nil)
			return
		}

		b, err := readBody(req, opts, limit)
		if err != nil {
			next(err)
			return
		}

		req.Body = b
		next(nil)
	}
}

// TextBodyParser returns a HandlerFunc that reads the request body as a
// string into req.Body, gated on Content-Type and charset.
func TextBodyParser(opts BodyParserOptions) HandlerFunc {
	if opts.Type == "" {
		opts.Type = "text/plain"
	}

	limit := opts.limit()

	return func(req *Request, res *Response, next func(error)) {
		if !bodyMatches(req, opts.Type) {
			next(nil)
			return
		}

		if err := checkCharset(req, opts); err != nil {
			next(err)
			return
		}

		b, err := readBody(req, opts, limit)
		if err != nil {
			next(err)
			return
		}

		req.Body = string(b)
		next(nil)
	}
}
