package weft

import (
	"strconv"
	"strings"
)

// CORSOptions configures CORS, generalizing air's gases.CORSConfig to this
// module's HandlerFunc shape.
type CORSOptions struct {
	// AllowOrigins lists origins allowed to access the resource.
	// Default []string{"*"}.
	AllowOrigins []string

	// AllowHeaders lists request headers permitted in the actual
	// request, echoed back on preflight responses.
	AllowHeaders []string

	// AllowCredentials indicates whether the response may be exposed
	// when the request was made with credentials.
	AllowCredentials bool

	// ExposeHeaders lists response headers browsers are allowed to
	// read from the actual request.
	ExposeHeaders []string

	// MaxAge is how long, in seconds, a preflight response may be
	// cached.
	MaxAge int
}

func (o *CORSOptions) fill() {
	if len(o.AllowOrigins) == 0 {
		o.AllowOrigins = []string{"*"}
	}
}

// CORS returns a middleware implementing Cross-Origin Resource Sharing.
// See: https://developer.mozilla.org/en/docs/Web/HTTP/Access_control_CORS
func CORS(opts CORSOptions) HandlerFunc {
	opts.fill()
	exposeHeaders := strings.Join(opts.ExposeHeaders, ",")
	allowHeaders := strings.Join(opts.AllowHeaders, ",")

	return func(req *Request, res *Response, next func(error)) {
		origin := req.Header("Origin")
		originSet := origin != ""

		res.HTTP.Header().Add("Vary", "Origin")

		if !originSet {
			next(nil)
			return
		}

		allowedOrigin := ""
		for _, o := range opts.AllowOrigins {
			if o == "*" || o == origin {
				allowedOrigin = o
				break
			}
		}

		if allowedOrigin == "" {
			next(nil)
			return
		}

		res.Set("Access-Control-Allow-Origin", allowedOrigin)
		if opts.AllowCredentials {
			res.Set("Access-Control-Allow-Credentials", "true")
		}
		if exposeHeaders != "" {
			res.Set("Access-Control-Expose-Headers", exposeHeaders)
		}

		if req.Method == "OPTIONS" {
			if allowHeaders != "" {
				res.Set("Access-Control-Allow-Headers", allowHeaders)
			}
			if opts.MaxAge > 0 {
				res.Set("Access-Control-Max-Age", strconv.Itoa(opts.MaxAge))
			}

			res.Status(204)
			res.End()
			return
		}

		next(nil)
	}
}
