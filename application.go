package weft

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

// ErrorHandlerTop is the signature of Application.ErrorHandler, the final
// error-mode handler the dispatch engine falls back to once every
// registered error layer has been exhausted and no layer matched.
type ErrorHandlerTop func(err error, req *Request, res *Response)

// Engine renders a named view with data, writing the result to w. This is
// the Engine/Render registry supplementing the core dispatch contract with
// server-side view rendering.
type Engine interface {
	Render(w interface{ Write([]byte) (int, error) }, name string, data interface{}) error
}

// Application is the top-level object of the framework: the root Router plus
// the process-wide concerns (settings, cookie signing, view engines,
// lifecycle) that attach to "the application" rather than to any one
// Router.
//
// Grounded on air's Air struct: a single top-level struct owning the
// *http.Server, a settings/Config block decoded from an optional config
// file, and sync.Pool-backed Request/Response reuse in ServeHTTP. Air's
// router/binder/renderer/minifier/coffer/i18n sub-objects are generalized
// into Router (the dispatch engine), the Engine registry, and the optional
// Minifier gas; Air's reverse-proxy and ACME/TLS-autocert machinery isn't
// carried over.
type Application struct {
	*Router

	Settings Settings

	// ConfigFile, when set, is loaded by Listen before the server starts,
	// mirroring air.Air.ConfigFile / air.Air.Serve's load-then-decode
	// step.
	ConfigFile string

	// ErrorHandler is the top-level error-mode fallback invoked when no
	// registered error layer handled the error.
	ErrorHandler ErrorHandlerTop

	// NotFoundHandler runs when dispatch reaches the end of the stack
	// with no error and no layer ended the response.
	NotFoundHandler HandlerFunc

	Logger *Logger

	cookieSigner *CookieSigner

	engines map[string]Engine

	server *http.Server

	requestPool *sync.Pool
	responsePool *sync.Pool

	shutdownJobsMu sync.Mutex
	shutdownJobs []func()
}

// New returns a new Application with default settings, mirroring air.New's
// defaulted-struct-literal-plus-pool-construction shape.
func New() *Application {
	app := &Application{
		Router:          NewRouter(RouterOptions{}),
		Settings:        defaultSettings(),
		ErrorHandler:    DefaultErrorHandler,
		NotFoundHandler: DefaultNotFoundHandler,
		Logger:          newLogger(),
		engines:         map[string]Engine{},
		server:          &http.Server{},
	}

	app.Router.sensitive = app.Settings.CaseSensitiveRouting
	app.Router.strict = app.Settings.StrictRouting

	app.requestPool = &sync.Pool{New: func() interface{} { return &Request{} }}
	app.responsePool = &sync.Pool{New: func() interface{} { return &Response{} }}

	return app
}

// SetCookieSecrets installs the ordered (newest-first) secret list used to
// sign and verify signed cookies.
func (app *Application) SetCookieSecrets(secrets ...string) {
	app.cookieSigner = NewCookieSigner(secrets...)
}

// signCookie signs value with the Application's configured cookie secrets.
// It panics if no secrets have been configured, since Response.Cookie's
// Signed option is a programming-time contract, not a runtime one.
func (app *Application) signCookie(value string) string {
	if app.cookieSigner == nil {
		panic(fmt.Errorf("weft: signed cookie requested but no cookie secrets configured"))
	}

	return app.cookieSigner.Sign(value)
}

// Engine registers a view Engine under name (e.g. "html") for use by
// Response.Render.
func (app *Application) Engine(name string, engine Engine) {
	app.engines[name] = engine
}

// Setting returns the named setting, the single-argument app.get form from
// Express. It is named distinctly from the embedded Router.Get, since Go
// has no arity-based overloading to disambiguate "get a setting" from
// "register a GET route" the way Express's app.get does; Get(path,
// ...handlers) always means route registration here.
func (app *Application) Setting(key string) (interface{}, bool) {
	return app.Settings.Get(key)
}

// Set stores value for the named setting (Express's app.set), re-syncing
// the Router's case-sensitive/strict flags when those two settings change.
func (app *Application) Set(key string, value interface{}) *Application {
	app.Settings.Set(key, value)

	switch key {
	case "case_sensitive_routing":
		app.Router.sensitive, _ = value.(bool)
	case "strict_routing":
		app.Router.strict, _ = value.(bool)
	}

	return app
}

// ServeHTTP implements http.Handler: it adapts one net/http request/response
// pair into a Request/Response, runs them through the root Router, and falls
// back to NotFoundHandler or ErrorHandler depending on how dispatch ended.
//
// Grounded on air.Air.ServeHTTP's pool-get/reset/dispatch/pool-put shape,
// generalized from air's single-return-value Handler chain to the
// next(err)-continuation model the root Router.handle implements.
func (app *Application) ServeHTTP(hw http.ResponseWriter, hr *http.Request) {
	req := app.requestPool.Get().(*Request)
	res := app.responsePool.Get().(*Response)

	req.reset(app, hr)
	res.reset(app, hw, req)

	if app.Settings.XPoweredBy {
		res.Set("X-Powered-By", "weft")
	}

	done := make(chan struct{})
	var once sync.Once
	finish := func() { once.Do(func() { close(done) }) }

	// A handler that ends the response without calling next never reaches
	// the dispatch callback, so ending the response also releases the
	// wait. Registered first, this hook runs after every other end hook.
	res.onEnd(func() {
		res.writeHeader()
		finish()
	})

	var finalErr error
	app.Router.handle(nil, req, res, func(err error) {
		finalErr = err
		finish()
	})

	<-done

	if !res.ended {
		if finalErr != nil {
			app.ErrorHandler(finalErr, req, res)
		} else if app.NotFoundHandler != nil {
			app.NotFoundHandler(req, res, func(error) {})
		}

		if !res.ended {
			res.End()
		}
	}

	app.requestPool.Put(req)
	app.responsePool.Put(res)
}

// DefaultNotFoundHandler writes a 404 HTTPError response, the terminal
// fallback that runs when dispatch reaches the end of the stack with no
// layer ending the response.
func DefaultNotFoundHandler(req *Request, res *Response, next func(error)) {
	writeHTTPError(res, ErrNotFound(fmt.Sprintf("cannot %s %s", req.Method, req.Path)))
}

// DefaultErrorHandler writes err as a JSON error body, honoring
// HTTPError.Operational: a non-operational error's message is replaced with
// a generic string unless the Application is in development mode.
func DefaultErrorHandler(err error, req *Request, res *Response) {
	writeHTTPError(res, err)
}

func writeHTTPError(res *Response, err error) {
	if res.ended {
		return
	}

	code := statusCodeOf(err)

	message := err.Error()
	if he, ok := err.(*HTTPError); ok {
		message = he.Message
		if !he.Operational && res.app != nil && res.app.Settings.Env != "development" {
			message = http.StatusText(code)
		}
	} else if res.app == nil || res.app.Settings.Env != "development" {
		message = http.StatusText(code)
	}

	res.Status(code)
	_ = res.JSON(map[string]interface{}{
		"error": map[string]interface{}{
			"status":  code,
			"message": message,
		},
	})
}

// AddShutdownJob registers f to run exactly once, concurrently with the
// others, when Shutdown is called (grounded on air's
// AddShutdownJob/RemoveShutdownJob pair).
func (app *Application) AddShutdownJob(f func()) int {
	app.shutdownJobsMu.Lock()
	defer app.shutdownJobsMu.Unlock()
	app.shutdownJobs = append(app.shutdownJobs, f)
	return len(app.shutdownJobs) - 1
}

// RemoveShutdownJob cancels a shutdown job previously registered by
// AddShutdownJob.
func (app *Application) RemoveShutdownJob(id int) {
	app.shutdownJobsMu.Lock()
	defer app.shutdownJobsMu.Unlock()
	if id >= 0 && id < len(app.shutdownJobs) {
		app.shutdownJobs[id] = nil
	}
}

// ListenOptions configures Listen/Serve.
type ListenOptions struct {
	Address string

	ReadTimeout time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout time.Duration
	IdleTimeout time.Duration

	TLSConfig *tls.Config
	TLSCertFile string
	TLSKeyFile string

	// H2C enables unencrypted HTTP/2 via h2c, for load balancers that
	// terminate TLS upstream (uses golang.org/x/net/http2/h2c).
	H2C bool
}

// Listen starts serving HTTP on opts.Address (default "localhost:8080"),
// loading app.ConfigFile first if set.
//
// Grounded on air.Air.Serve: config-file load, then *http.Server field
// assignment, then listen. Air's ACME/autocert and multi-listener/reverse-
// proxy machinery is dropped; h2c wiring is added to exercise
// golang.org/x/net/http2.
func (app *Application) Listen(opts ListenOptions) error {
	if app.ConfigFile != "" {
		if err := loadConfigFile(app.ConfigFile, &app.Settings); err != nil {
			return err
		}
	}

	addr := opts.Address
	if addr == "" {
		addr = "localhost:8080"
	}

	app.server.Addr = addr
	app.server.ReadTimeout = opts.ReadTimeout
	app.server.ReadHeaderTimeout = opts.ReadHeaderTimeout
	app.server.WriteTimeout = opts.WriteTimeout
	app.server.IdleTimeout = opts.IdleTimeout

	var handler http.Handler = app
	if opts.H2C {
		h2s := &http2.Server{}
		handler = h2c.NewHandler(app, h2s)
	}

	app.server.Handler = handler

	tlsConfig := opts.TLSConfig
	if opts.TLSCertFile != "" && opts.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(opts.TLSCertFile, opts.TLSKeyFile)
		if err != nil {
			return err
		}

		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		}

		tlsConfig.Certificates = append(tlsConfig.Certificates, cert)
	}

	ln, err := net.Listen("tcp", app.server.Addr)
	if err != nil {
		return err
	}

	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	} else if !opts.H2C {
		if err := http2.ConfigureServer(app.server, &http2.Server{}); err != nil {
			app.Logger.Warn(fmt.Sprintf("h2: %v", err))
		}
	}

	app.Logger.Info(fmt.Sprintf("listening on %s", ln.Addr()))

	return app.server.Serve(ln)
}

// Close closes the Application's listener immediately, without waiting for
// active connections to finish.
func (app *Application) Close() error {
	return app.server.Close()
}

// Shutdown gracefully shuts down the server without interrupting active
// connections, then runs every registered shutdown job concurrently and
// waits for them to finish (grounded on air.Air.Shutdown).
func (app *Application) Shutdown(ctx context.Context) error {
	err := app.server.Shutdown(ctx)

	app.shutdownJobsMu.Lock()
	jobs := append([]func(){}, app.shutdownJobs...)
	app.shutdownJobsMu.Unlock()

	// Shutdown jobs run concurrently via errgroup rather than a bare
	// WaitGroup so a job's panic-turned-error (recovered below) doesn't
	// get silently dropped.
	g, _ := errgroup.WithContext(ctx)
	for _, job := range jobs {
		if job == nil {
			continue
		}

		job := job
		g.Go(func() (jobErr error) {
			defer func() {
				if r := recover(); r != nil {
					jobErr = fmt.Errorf("weft: shutdown job panicked: %v", r)
				}
			}()

			job()
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case jobErr := <-done:
		if err == nil {
			err = jobErr
		}
	}

	return err
}
