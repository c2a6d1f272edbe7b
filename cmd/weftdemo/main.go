// Command weftdemo wires every weft middleware and the HTML view engine
// together into one runnable application, the way air ships its own
// example server alongside the framework.
package main

import (
	"fmt"
	"time"

	"github.com/weftkit/weft"
)

func main() {
	app := weft.New()
	app.Set("env", "development")
	app.Set("view_engine", "html")
	app.SetCookieSecrets("change-me-in-production")

	minifier := weft.NewMinifier()
	html := weft.NewHTMLEngine("views", ".html").WithMinifier(minifier).WithLogger(app.Logger)
	if err := html.Load(); err != nil {
		app.Logger.Fatal(err)
	}
	app.Engine("html", html)

	store := weft.NewMemorySessionStore(64*1024*1024, time.Minute)
	app.AddShutdownJob(func() { store.Close() })

	app.Use("/", weft.Secure(weft.DefaultSecureOptions))
	app.Use("/", weft.CORS(weft.CORSOptions{AllowOrigins: []string{"*"}}))
	app.Use("/", weft.CookieParser(nil))
	app.Use("/", weft.SessionMiddleware(weft.SessionOptions{Store: store}))
	app.Use("/", weft.JSONBodyParser(weft.BodyParserOptions{}))
	app.Use("/", weft.URLEncodedBodyParser(weft.BodyParserOptions{}))
	app.Use("/static", weft.StaticFiles(weft.StaticOptions{Root: "public"}))
	app.Use("/", weft.MinifyBody(minifier, "text/html"))

	app.Get("/", func(req *weft.Request, res *weft.Response, next func(error)) {
		views, _ := req.Session.Get("views")
		n, _ := views.(int)
		n++
		req.Session.Set("views", n)

		_ = res.Render("index.html", map[string]interface{}{
			"Views": n,
		})
	})

	api := weft.NewRouter(weft.RouterOptions{})
	api.Get("/widgets/:id", func(req *weft.Request, res *weft.Response, next func(error)) {
		_ = res.JSON(map[string]string{"id": req.Param("id")})
	})
	api.Post("/widgets", func(req *weft.Request, res *weft.Response, next func(error)) {
		res.Status(201)
		_ = res.JSON(req.Body)
	})
	app.UseRouter("/api", api)

	app.ErrorHandler = func(err error, req *weft.Request, res *weft.Response) {
		app.Logger.Error(err)
		weft.DefaultErrorHandler(err, req, res)
	}

	addr := "localhost:8080"
	fmt.Printf("weftdemo listening on %s\n", addr)

	if err := app.Listen(weft.ListenOptions{Address: addr}); err != nil {
		app.Logger.Fatal(err)
	}
}
