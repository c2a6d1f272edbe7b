package weft

import ("fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2")

// StaticOptions configures StaticFiles and Response.SendFile.
type StaticOptions struct {
	// Root is the directory static files are served from. Required.
	Root string

	// Index is the file served for a directory request. Default
	// "index.html", which is also used when Index is "".
	Index string

	// Extensions are tried, in order, appended to a missing file before
	// giving up (e.g. "html" turns "/about" into "/about.html").
	Extensions []string

	// Dotfiles controls how paths with a dot-prefixed segment are
	// handled: "allow" (serve normally), "deny" (403), or "ignore"
	// (fall through as not-found). Default "ignore".
	Dotfiles string

	// MaxAge sets the Cache-Control max-age directive, in seconds.
	MaxAge int

	// Immutable adds the immutable Cache-Control directive.
	Immutable bool

	// ETag selects "weak" or "strong" ETag generation for this mount,
	// overriding the Application's etag setting; "" uses that setting
	// (weak by default), and any other value disables ETags.
	ETag string

	// Fallthrough, when true, calls next(nil) instead of next(err) for a
	// missing file, letting a later layer (e.g. an SPA catch-all)
	// respond instead of surfacing 404 from this gas directly.
	Fallthrough bool

	// DisableRedirect turns off the default 301 redirect from a directory
	// URL missing its trailing slash (e.g. "/docs" -> "/docs/") to the
	// index file at that un-slashed URL. Redirecting is serve-static's
	// default behavior, since index.html's own relative links would
	// otherwise resolve against the wrong base.
	DisableRedirect bool
}

// mimeTable maps a handful of common extensions to MIME types beyond what
// mime.TypeByExtension's OS-dependent table reliably covers, ensuring
// deterministic output across platforms (the "stable built-in MIME
// table").
var mimeTable = map[string]string{
	".html": "text/html; charset=utf-8",
	".htm": "text/html; charset=utf-8",
	".css": "text/css; charset=utf-8",
	".js": "application/javascript; charset=utf-8",
	".mjs": "application/javascript; charset=utf-8",
	".json": "application/json; charset=utf-8",
	".xml": "application/xml; charset=utf-8",
	".svg": "image/svg+xml",
	".png": "image/png",
	".jpg": "image/jpeg",
	".jpeg": "image/jpeg",
	".gif": "image/gif",
	".ico": "image/x-icon",
	".webp": "image/webp",
	".woff": "font/woff",
	".woff2": "font/woff2",
	".txt": "text/plain; charset=utf-8",
	".pdf": "application/pdf",
	".wasm": "application/wasm",
}

// mimeTypeFor returns the MIME type for filename, trying mimeTable before
// falling back to mime.TypeByExtension and finally
// application/octet-stream.
func mimeTypeFor(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if t, ok := mimeTable[ext]; ok {
		return t
	}

	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}

	return "application/octet-stream"
}

// hasDotSegment reports whether any path segment of p (other than "." and
// "..", handled separately as traversal) begins with a dot.
func hasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") && seg != "." && seg != ".." {
			return true
		}
	}

	return false
}

// StaticFiles returns a middleware HandlerFunc serving files under
// opts.Root.
//
// Grounded on air's gases.Static/StaticWithConfig (http.Dir-based lookup,
// directory→index resolution, HTML5 fallthrough), generalized to the
// next(err)-continuation model, with air's ad hoc directory-browse HTML
// dropped and conditional-GET/ETag handling added.
func StaticFiles(opts StaticOptions) HandlerFunc {
	if opts.Index == "" {
		opts.Index = "index.html"
	}

	if opts.Dotfiles == "" {
		opts.Dotfiles = "ignore"
	}

	root := opts.Root

	return func(req *Request, res *Response, next func(error)) {
		if req.Method != http.MethodGet && req.Method != http.MethodHead {
			next(nil)
			return
		}

		rel := path.Clean("/" + req.Path)

		if hasDotSegment(rel) {
			switch opts.Dotfiles {
			case "allow":
			case "deny":
				next(ErrForbidden("access to dotfiles is forbidden"))
				return
			default:
				next(nil)
				return
			}
		}

		fullPath := filepath.Join(root, filepath.FromSlash(rel))
		if !strings.HasPrefix(fullPath, filepath.Clean(root)+string(filepath.Separator)) && fullPath != filepath.Clean(root) {
			next(ErrForbidden("path traversal rejected"))
			return
		}

		if !opts.DisableRedirect && !strings.HasSuffix(req.Path, "/") {
			if dirFi, err := os.Stat(fullPath); err == nil && dirFi.IsDir() {
				location := req.BaseURL + req.Path + "/"
				if q := req.HTTP.URL.RawQuery; q != "" {
					location += "?" + q
				}

				res.Redirect(location, http.StatusMovedPermanently)
				return
			}
		}

		f, fi, err := openServable(fullPath, opts)
		if err != nil {
			if opts.Fallthrough {
				next(nil)
			} else {
				next(ErrNotFound("file not found"))
			}

			return
		}
		defer f.Close()

		if err := serveFileContent(res, fullPath, f, fi, opts); err != nil {
			next(err)
			return
		}
	}
}

// openServable resolves fullPath to a servable regular file, trying
// opts.Index for a directory and opts.Extensions for a missing exact match.
func openServable(fullPath string, opts StaticOptions) (*os.File, os.FileInfo, error) {
	f, err := os.Open(fullPath)
	if err == nil {
		fi, serr := f.Stat()
		if serr != nil {
			f.Close()
			return nil, nil, serr
		}

		if fi.IsDir() {
			f.Close()

			if opts.Index == "" {
				return nil, nil, os.ErrNotExist
			}

			return openServable(filepath.Join(fullPath, opts.Index), StaticOptions{Root: opts.Root})
		}

		return f, fi, nil
	}

	for _, ext := range opts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}

		if f2, err2 := os.Open(fullPath + ext); err2 == nil {
			fi2, serr := f2.Stat()
			if serr == nil && !fi2.IsDir() {
				return f2, fi2, nil
			}

			f2.Close()
		}
	}

	return nil, nil, err
}

// serveFileContent writes f's content to res with conditional-GET support
// (ETag/Last-Modified/If-None-Match/If-Modified-Since) and Cache-Control.
// It is shared by StaticFiles and Response.SendFile.
func serveFileContent(res *Response, name string, f *os.File, fi os.FileInfo, opts StaticOptions) error {
	etagMode := opts.ETag
	if etagMode == "" && res.app != nil {
		etagMode = res.app.Settings.ETagMode
	}

	if etagMode == "weak" || etagMode == "strong" {
		etag, err := computeETag(f, fi, etagMode)
		if err != nil {
			return err
		}

		res.Set("ETag", etag)

		if inm := res.req.Header("If-None-Match"); inm != "" && etagMatches(inm, etag) {
			res.Status(http.StatusNotModified)
			res.End()
			return nil
		}
	}

	modTime := fi.ModTime().UTC()
	res.Set("Last-Modified", modTime.Format(http.TimeFormat))

	if ims := res.req.Header("If-Modified-Since"); ims != "" {
		if t, err := time.Parse(http.TimeFormat, ims); err == nil && !modTime.After(t.Add(time.Second)) {
			res.Status(http.StatusNotModified)
			res.End()
			return nil
		}
	}

	if res.Get("Content-Type") == "" {
		res.Set("Content-Type", mimeTypeFor(name))
	}

	cc := []string{}
	if opts.MaxAge > 0 {
		cc = append(cc, fmt.Sprintf("max-age=%d", opts.MaxAge))
	} else {
		cc = append(cc, "no-cache")
	}

	if opts.Immutable {
		cc = append(cc, "immutable")
	}

	res.Set("Cache-Control", strings.Join(cc, ", "))
	res.Set("Content-Length", strconv.FormatInt(fi.Size(), 10))

	if res.req.Method == http.MethodHead {
		res.End()
		return nil
	}

	if _, err := io.Copy(res, f); err != nil {
		return err
	}

	res.End()
	return nil
}

// computeETag derives a weak tag from fi's mtime and size without touching
// f's content, or a strong tag by hashing the served bytes with
// github.com/cespare/xxhash/v2. Weak mode never reads the file, since its
// whole point is to avoid paying for content hashing on every request.
func computeETag(f *os.File, fi os.FileInfo, mode string) (string, error) {
	if mode == "strong" {
		h := xxhash.New()
		if _, err := io.Copy(h, f); err != nil {
			return "", err
		}

		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return "", err
		}

		return fmt.Sprintf(`"%x"`, h.Sum64()), nil
	}

	return fmt.Sprintf(`W/"%x-%x"`, fi.ModTime().UnixNano(), fi.Size()), nil
}

// etagMatches reports whether header (an If-None-Match value, possibly
// comma-separated or "*") matches etag.
func etagMatches(header, etag string) bool {
	if header == "*" {
		return true
	}

	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		candidate = strings.TrimPrefix(candidate, "W/")

		if strings.TrimPrefix(etag, "W/") == candidate {
			return true
		}
	}

	return false
}
