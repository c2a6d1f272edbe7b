package weft

import "fmt"

// SecureOptions configures Secure, generalizing air's gases.SecureConfig to
// this module's HandlerFunc shape.
type SecureOptions struct {
	// XSSProtection sets the X-XSS-Protection header.
	// Default "1; mode=block".
	XSSProtection string

	// ContentTypeNosniff sets the X-Content-Type-Options header.
	// Default "nosniff".
	ContentTypeNosniff string

	// XFrameOptions sets the X-Frame-Options header.
	// Default "SAMEORIGIN".
	XFrameOptions string

	// HSTSMaxAge sets Strict-Transport-Security's max-age, in seconds,
	// on requests seen as HTTPS. Zero disables the header.
	HSTSMaxAge int

	// HSTSExcludeSubdomains omits includeSubdomains from the
	// Strict-Transport-Security header.
	HSTSExcludeSubdomains bool

	// ContentSecurityPolicy sets the Content-Security-Policy header.
	ContentSecurityPolicy string
}

// DefaultSecureOptions mirrors air's DefaultSecureConfig.
var DefaultSecureOptions = SecureOptions{
	XSSProtection: "1; mode=block",
	ContentTypeNosniff: "nosniff",
	XFrameOptions: "SAMEORIGIN",
}

// Secure returns a middleware setting common hardening headers: protection
// against XSS, content-type sniffing, clickjacking, and optionally HSTS.
func Secure(opts SecureOptions) HandlerFunc {
	return func(req *Request, res *Response, next func(error)) {
		if opts.XSSProtection != "" {
			res.Set("X-XSS-Protection", opts.XSSProtection)
		}
		if opts.ContentTypeNosniff != "" {
			res.Set("X-Content-Type-Options", opts.ContentTypeNosniff)
		}
		if opts.XFrameOptions != "" {
			res.Set("X-Frame-Options", opts.XFrameOptions)
		}

		isHTTPS := req.HTTP.TLS != nil || req.Header("X-Forwarded-Proto") == "https"
		if isHTTPS && opts.HSTSMaxAge != 0 {
			subdomains := ""
			if !opts.HSTSExcludeSubdomains {
				subdomains = "; includeSubdomains"
			}
			res.Set("Strict-Transport-Security", fmt.Sprintf("max-age=%d%s", opts.HSTSMaxAge, subdomains))
		}

		if opts.ContentSecurityPolicy != "" {
			res.Set("Content-Security-Policy", opts.ContentSecurityPolicy)
		}

		next(nil)
	}
}
