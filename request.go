package weft

import (
	"mime"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/text/language"
)

// Request is the decorated view of one HTTP request inside the dispatch
// pipeline.
//
// Grounded on air's Request (method/URL/headers/body fields), generalized
// with the mutable baseUrl/path pair and the query/params maps a nested-
// router dispatch engine requires, since air's Request has no notion of a
// mount stack (air dispatches through one shared radix tree, never
// stripping a prefix for nested routers).
type Request struct {
	// HTTP carries the underlying net/http request this Request decorates.
	HTTP *http.Request

	Method string

	// Path is the path of the request relative to the innermost Router
	// currently processing it; it is mutated and restored as dispatch
	// descends into and returns from a mounted sub-router.
	Path string

	// BaseURL is the concatenation of mount prefixes consumed so far.
	BaseURL string

	// Query holds the parsed query string: each value is a possibly
	// repeated sequence of strings, in the order they appeared.
	Query url.Values

	// QueryObject is the query string decoded per the Application's
	// query-parser setting: a nested map when QueryParser is "extended"
	// (bracket notation, "a[b]=1"), or a flat one-level map otherwise.
	// Query/QueryParam/QueryParams remain the simple net/url.Values view
	// regardless of this setting.
	QueryObject map[string]interface{}

	// Params holds the route parameters captured by the layer currently
	// handling the request. Empty at entry.
	Params map[string]string

	// Body is set by whichever body parser gas matched the request; its
	// dynamic type depends on the parser.
	Body interface{}

	// Cookies holds the plain (unverified) cookie values parsed by the
	// cookie-parser gas.
	Cookies map[string]string

	// SignedCookies holds cookie values that passed (or failed) HMAC
	// verification; a value of TamperedCookieValue marks a present-but-
	// invalid signed cookie, distinguishing "absent" from "tampered".
	SignedCookies map[string]string

	// Session is set by the session gas when one has been attached to
	// the request.
	Session *Session

	// Locals is arbitrary user-mutable scratch state, analogous to
	// air.Request.Values.
	Locals map[string]interface{}

	app *Application
}

// TamperedCookieValue is the sentinel SignedCookies value recorded for a
// signed cookie whose signature does not verify.
const TamperedCookieValue = "\x00tampered\x00"

// reset reinitializes req to decorate hr as a fresh request arriving at app,
// mirroring air's Request.reset/Response.reset pool-reuse pattern.
func (req *Request) reset(app *Application, hr *http.Request) {
	req.HTTP = hr
	req.app = app
	req.Method = hr.Method
	req.Path = hr.URL.Path
	if req.Path == "" {
		req.Path = "/"
	}
	req.BaseURL = ""
	req.Query = hr.URL.Query()
	req.QueryObject = buildQueryObject(app.Settings.QueryParser, hr.URL.RawQuery)
	req.Params = map[string]string{}
	req.Body = nil
	req.Cookies = nil
	req.SignedCookies = nil
	req.Session = nil
	req.Locals = map[string]interface{}{}
}

// OriginalURL reconstructs baseUrl + path + querystring, which must equal
// hr.URL's path+query at every observation point between layers; exposed
// mainly for tests that assert that invariant holds across mount/unmount.
func (req *Request) OriginalURL() string {
	u := req.BaseURL + req.Path
	if rq := req.HTTP.URL.RawQuery; rq != "" {
		u += "?" + rq
	}

	return u
}

// Header returns the value of the named header, case-insensitively, with
// the referer/referrer alias requires.
func (req *Request) Header(name string) string {
	if strings.EqualFold(name, "Referer") || strings.EqualFold(name, "Referrer") {
		if v := req.HTTP.Header.Get("Referer"); v != "" {
			return v
		}

		return req.HTTP.Header.Get("Referrer")
	}

	return req.HTTP.Header.Get(name)
}

// Param returns the decoded value of the named route parameter, or "" if
// absent.
func (req *Request) Param(name string) string {
	return req.Params[name]
}

// QueryParam returns the first value of the named query parameter.
func (req *Request) QueryParam(name string) string {
	return req.Query.Get(name)
}

// QueryParams returns every value of the named query parameter, preserving
// order.
func (req *Request) QueryParams(name string) []string {
	return req.Query[name]
}

// Accepts performs content negotiation against the Accept header, returning
// the one of types with the highest q-value, then the most specific
// matching range, the earlier of types winning ties; with no Accept header
// it returns the first of types, and "" if none matches.
func (req *Request) Accepts(types ...string) string {
	accept := req.HTTP.Header.Get("Accept")
	if accept == "" {
		if len(types) > 0 {
			return types[0]
		}

		return ""
	}

	ranges := parseAcceptHeader(accept)

	best := ""
	bestQ := -1.0
	bestSpecificity := -1

	for _, t := range types {
		for _, r := range ranges {
			if !acceptRangeMatches(r.value, t) {
				continue
			}

			specificity := acceptSpecificity(r.value)
			if r.q > bestQ || (r.q == bestQ && specificity > bestSpecificity) {
				best = t
				bestQ = r.q
				bestSpecificity = specificity
			}
		}
	}

	if bestQ <= 0 {
		return ""
	}

	return best
}

// AcceptsLanguages negotiates the request's Accept-Language header against
// tags, returning the best-matching tag or "" if none is acceptable. Accepts
// covers content-type negotiation; this extends the same negotiation
// concern to language, grounded on air's i18n.go locale matching but
// delegating the matching algorithm itself to golang.org/x/text/language,
// which implements BCP 47 matching properly instead of air's ad hoc prefix
// comparison.
func (req *Request) AcceptsLanguages(tags ...string) string {
	header := req.HTTP.Header.Get("Accept-Language")
	if header == "" || len(tags) == 0 {
		if len(tags) > 0 {
			return tags[0]
		}

		return ""
	}

	supported := make([]language.Tag, len(tags))
	for i, t := range tags {
		supported[i] = language.Make(t)
	}

	matcher := language.NewMatcher(supported)

	want, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(want) == 0 {
		return ""
	}

	_, index, confidence := matcher.Match(want...)
	if confidence == language.No {
		return ""
	}

	return tags[index]
}

type acceptRange struct {
	value string
	q float64
}

// parseAcceptHeader parses an Accept header into its ranges and q-values.
func parseAcceptHeader(header string) []acceptRange {
	parts := strings.Split(header, ",")
	ranges := make([]acceptRange, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		q := 1.0
		segs := strings.Split(p, ";")
		value := strings.TrimSpace(segs[0])

		for _, seg := range segs[1:] {
			seg = strings.TrimSpace(seg)
			if strings.HasPrefix(seg, "q=") {
				if parsed, err := strconv.ParseFloat(strings.TrimPrefix(seg, "q="), 64); err == nil {
					q = parsed
				}
			}
		}

		ranges = append(ranges, acceptRange{value: value, q: q})
	}

	return ranges
}

// acceptRangeMatches reports whether the client-offered range matches the
// candidate type (which may itself be a shorthand like "html" or "json").
func acceptRangeMatches(rangeValue, candidate string) bool {
	candidate = expandTypeShorthand(candidate)

	rt, rs, ok := strings.Cut(rangeValue, "/")
	if !ok {
		return false
	}

	ct, cs, ok := strings.Cut(candidate, "/")
	if !ok {
		return false
	}

	if rt != "*" && rt != ct {
		return false
	}

	if rs != "*" && rs != cs {
		return false
	}

	return true
}

// acceptSpecificity scores a range by how specific it is, for tie-breaking
// among multiple matching ranges (exact/exact beats */exact beats */*).
func acceptSpecificity(rangeValue string) int {
	t, s, ok := strings.Cut(rangeValue, "/")
	if !ok {
		return 0
	}

	score := 0
	if t != "*" {
		score++
	}

	if s != "*" {
		score++
	}

	return score
}

// expandTypeShorthand maps the shorthands the Is/Accepts use
// ("json", "html", "text", "urlencoded") to a full MIME type.
func expandTypeShorthand(t string) string {
	switch t {
	case "json":
		return "application/json"
	case "html":
		return "text/html"
	case "text":
		return "text/plain"
	case "urlencoded":
		return "application/x-www-form-urlencoded"
	case "xml":
		return "application/xml"
	}

	return t
}

// Is reports whether the request's Content-Type matches typ, which may be a
// shorthand ("json", "urlencoded", "text") or a pattern ("text/*", "*/json").
func (req *Request) Is(typ string) bool {
	ct := req.HTTP.Header.Get("Content-Type")
	if ct == "" {
		return false
	}

	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		mt = ct
	}

	if typ == "*/*" {
		return true
	}

	return acceptRangeMatches(typ, mt) || acceptRangeMatches(expandTypeShorthand(typ), mt)
}

// IP returns the client address, derived from the transport peer or, when
// the Application's trust-proxy setting is configured, from
// X-Forwarded-For.
func (req *Request) IP() string {
	tp := req.app.Settings.TrustProxy
	if tp == nil {
		return remoteIP(req.HTTP.RemoteAddr)
	}

	xff := req.HTTP.Header.Get("X-Forwarded-For")
	if xff == "" {
		return remoteIP(req.HTTP.RemoteAddr)
	}

	hops := strings.Split(xff, ",")
	for i := range hops {
		hops[i] = strings.TrimSpace(hops[i])
	}

	hops = append(hops, remoteIP(req.HTTP.RemoteAddr))

	return resolveTrustedIP(hops, tp)
}

// resolveTrustedIP walks hops (client-to-server order, the transport peer
// appended last) from the end, skipping addresses trusted per tp, and
// returns the first (i.e. rightmost) untrusted one. See SPEC_FULL.md's
// trust-proxy entry for this resolution.
func resolveTrustedIP(hops []string, tp interface{}) string {
	switch v := tp.(type) {
	case int:
		idx := len(hops) - 1 - v
		if idx < 0 {
			idx = 0
		}

		return hops[idx]
	case []string:
		for i := len(hops) - 1; i >= 0; i-- {
			if !ipInAnyCIDR(hops[i], v) {
				return hops[i]
			}
		}

		return hops[0]
	default:
		return hops[len(hops)-1]
	}
}

func ipInAnyCIDR(ipStr string, cidrs []string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}

	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			if c == ipStr {
				return true
			}

			continue
		}

		if network.Contains(ip) {
			return true
		}
	}

	return false
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}

	return host
}

// buildQueryObject decodes rawQuery into the map QueryObject exposes,
// honoring the query-parser setting ("extended" nests bracket notation,
// anything else is flat). A malformed query string yields an empty map.
func buildQueryObject(mode, rawQuery string) map[string]interface{} {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return map[string]interface{}{}
	}

	if mode == "extended" {
		return nestedValuesToObject(values)
	}

	return flatValuesToObject(values)
}
