package weft

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Session is the per-client state attached to a Request by the session
// middleware.
type Session struct {
	ID string
	Values map[string]interface{}

	store SessionStore
	maxAge time.Duration
	dirty bool
	touchRequested bool
	destroyed bool
	regenerated bool
	oldID string
}

// Get returns the value stored under key, and whether it was present.
func (s *Session) Get(key string) (interface{}, bool) {
	v, ok := s.Values[key]
	return v, ok
}

// Set stores value under key, marking the session dirty so it is persisted
// at response end.
func (s *Session) Set(key string, value interface{}) {
	s.Values[key] = value
	s.dirty = true
}

// Delete removes key from the session.
func (s *Session) Delete(key string) {
	delete(s.Values, key)
	s.dirty = true
}

// Destroy marks the session for removal from its store at response end.
func (s *Session) Destroy() {
	s.Values = map[string]interface{}{}
	s.dirty = true
	s.destroyed = true
}

// Regenerate replaces the session's ID with a freshly generated one,
// keeping Values. The old ID's store entry is deleted and the session
// cookie rewritten to the new ID when the response ends; this is the
// standard defense against session fixation across a privilege change
// (e.g. login), since an attacker who fixed the pre-login ID in a victim's
// cookie loses the session the moment it regenerates.
func (s *Session) Regenerate() {
	if !s.regenerated {
		s.oldID = s.ID
	}

	s.ID = newSessionID()
	s.dirty = true
	s.regenerated = true
}

// Reload re-fetches Values from the store, discarding any in-memory changes
// made since the request began. Returns an error if the store lookup fails
// or the session is no longer present there.
func (s *Session) Reload() error {
	values, ok, err := s.store.Load(s.ID)
	if err != nil {
		return err
	}

	if !ok {
		return ErrNotFound("session no longer exists in the store")
	}

	s.Values = values
	s.dirty = false
	return nil
}

// Save immediately persists Values to the store at the session's configured
// max age, rather than waiting for the response-end save hook. Useful
// before a long-running operation that might outlive the request, or
// before handing control to code that could panic before the hook runs.
func (s *Session) Save() error {
	if err := s.store.Save(s.ID, s.Values, s.maxAge); err != nil {
		return err
	}

	s.dirty = false
	return nil
}

// Touch marks the session's TTL for refreshing at response end without
// requiring Values to have changed, mirroring Express session's touch(). The
// SessionStore contract has no separate TTL-only update, so this still
// results in a full Save call at response end; it exists so "the client is
// still active" can be recorded independently of "the data changed".
func (s *Session) Touch() {
	s.touchRequested = true
}

// SessionStore persists Session state between requests; this is the
// pluggable store contract. Implementations must be safe for concurrent
// use.
type SessionStore interface {
	// Load returns the stored values for id, or ok==false if id is
	// unknown or expired.
	Load(id string) (values map[string]interface{}, ok bool, err error)

	// Save persists values for id with the given time-to-live.
	Save(id string, values map[string]interface{}, ttl time.Duration) error

	// Delete removes id's stored state, if any.
	Delete(id string) error
}

// SessionOptions configures the session gas.
type SessionOptions struct {
	Store SessionStore

	// CookieName names the cookie carrying the session ID. Default
	// "sid".
	CookieName string

	// MaxAge is the session's time-to-live, refreshed on every save.
	// Default 24h.
	MaxAge time.Duration

	Secure bool
	HTTPOnly bool

	// Signed signs the session-ID cookie using the Application's
	// configured cookie secrets.
	Signed bool

	// Resave forces a save at response end even for a session whose
	// Values were never touched during the request, needed for stores
	// whose Save also refreshes a separate, external expiry (Express
	// session's resave option). Default false: an untouched, previously
	// existing session is left alone.
	Resave bool

	// SaveUninitialized saves a newly created session even if nothing was
	// ever stored in it, matching Express session's saveUninitialized.
	// Default false: a session nobody wrote to is never persisted, so
	// anonymous visits don't fill the store with empty entries.
	SaveUninitialized bool

	// Rolling resets the cookie's Max-Age (and so its expiry) on every
	// response, not just when the session is created, keeping an active
	// client's cookie from expiring mid-use.
	Rolling bool

	// GenID overrides the default random session-ID generator.
	GenID func() string
}

// SessionMiddleware returns a HandlerFunc that attaches a Session to
// req.Session, loading it from opts.Store by the ID in the request's
// session cookie (generating and setting a new one if absent or unknown),
// and saves it back to the store when the response ends if it was touched.
//
// Grounded on air's deferredFuncs-based Response save hook (see
// Response.onEnd), generalized to the store-backed session contract; no
// single air file implements sessions, so the persistence shape itself is
// grounded on the fastcache-backed SessionStore in session_memory.go.
func SessionMiddleware(opts SessionOptions) HandlerFunc {
	if opts.CookieName == "" {
		opts.CookieName = "sid"
	}

	if opts.MaxAge == 0 {
		opts.MaxAge = 24 * time.Hour
	}

	return func(req *Request, res *Response, next func(error)) {
		id := sessionCookieValue(req, opts)

		values := map[string]interface{}{}
		if id != "" {
			if loaded, ok, err := opts.Store.Load(id); err == nil && ok {
				values = loaded
			} else {
				id = ""
			}
		}

		isNew := id == ""
		if isNew {
			id = genSessionID(opts)
		}

		sess := &Session{ID: id, Values: values, store: opts.Store, maxAge: opts.MaxAge}
		req.Session = sess

		if isNew {
			setSessionCookie(req, res, opts, id)
		} else if opts.Rolling {
			setSessionCookie(req, res, opts, id)
		}

		res.onEnd(func() {
			if sess.destroyed {
				_ = opts.Store.Delete(sess.ID)
				if sess.regenerated {
					_ = opts.Store.Delete(sess.oldID)
				}

				return
			}

			if sess.regenerated {
				_ = opts.Store.Delete(sess.oldID)
				setSessionCookie(req, res, opts, sess.ID)
			}

			shouldSave := sess.dirty ||
				sess.touchRequested ||
				sess.regenerated ||
				(isNew && opts.SaveUninitialized) ||
				(!isNew && opts.Resave)

			if shouldSave {
				_ = opts.Store.Save(sess.ID, sess.Values, opts.MaxAge)
			}
		})

		next(nil)
	}
}

func sessionCookieValue(req *Request, opts SessionOptions) string {
	if opts.Signed {
		v, ok := req.SignedCookies[opts.CookieName]
		if !ok || v == TamperedCookieValue {
			return ""
		}

		return v
	}

	return req.Cookies[opts.CookieName]
}

func setSessionCookie(req *Request, res *Response, opts SessionOptions, id string) {
	res.Cookie(opts.CookieName, id, CookieOptions{
		Path:     "/",
		MaxAge:   int(opts.MaxAge.Seconds()),
		Secure:   opts.Secure,
		HTTPOnly: opts.HTTPOnly,
		Signed:   opts.Signed,
	})
}

func newSessionID() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// genSessionID defers to opts.GenID when the caller supplied one, otherwise
// the default random generator.
func genSessionID(opts SessionOptions) string {
	if opts.GenID != nil {
		return opts.GenID()
	}

	return newSessionID()
}
