package weft

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// HTMLEngine is the reference Engine implementation, parsing a directory
// tree of html/template files under Root.
//
// Grounded on air's renderer: a single *template.Template parsed from every
// file under TemplateRoot matching TemplateExt, with an optional fsnotify
// watcher for reload-on-change during development. Air's TemplateMinified
// option is replaced by explicit Minifier wiring via WithMinifier, since
// minification is this module's own Minifier type rather than a renderer-
// private tdewolff/minify instance.
type HTMLEngine struct {
	Root      string
	Ext       string
	LeftDelim string

	RightDelim string

	FuncMap template.FuncMap

	minifier *Minifier

	template *template.Template
	watcher  *fsnotify.Watcher

	logger *Logger
}

// NewHTMLEngine returns an HTMLEngine rooted at dir, parsing files with
// extension ext (default ".html").
func NewHTMLEngine(dir, ext string) *HTMLEngine {
	if ext == "" {
		ext = ".html"
	}

	return &HTMLEngine{
		Root:       dir,
		Ext:        ext,
		LeftDelim:  "{{",
		RightDelim: "}}",
		FuncMap: template.FuncMap{
			"strlen":  templateStrlen,
			"strcat":  templateStrcat,
			"substr":  templateSubstr,
			"timefmt": templateTimefmt,
		},
	}
}

// WithMinifier enables minifying every rendered template's output as
// text/html through mf.
func (e *HTMLEngine) WithMinifier(mf *Minifier) *HTMLEngine {
	e.minifier = mf
	return e
}

// WithLogger attaches l for watch-mode reload diagnostics.
func (e *HTMLEngine) WithLogger(l *Logger) *HTMLEngine {
	e.logger = l
	return e
}

// Load parses every template under Root matching Ext. It must be called
// before the first Render; call it again to force a manual reparse.
func (e *HTMLEngine) Load() error {
	if _, err := os.Stat(e.Root); err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	dirs, err := walkDirs(e.Root)
	if err != nil {
		return err
	}

	var filenames []string
	for _, dir := range dirs {
		fns, err := filepath.Glob(filepath.Join(dir, "*"+e.Ext))
		if err != nil {
			return err
		}

		filenames = append(filenames, fns...)
	}

	t := template.New("template").Funcs(e.FuncMap).Delims(e.LeftDelim, e.RightDelim)

	root := filepath.Clean(e.Root)
	start := len(root) + 1
	if root == "." {
		start = 0
	}

	for _, filename := range filenames {
		b, err := os.ReadFile(filename)
		if err != nil {
			return err
		}

		name := filepath.ToSlash(filename[start:])
		if _, err := t.New(name).Parse(string(b)); err != nil {
			return err
		}
	}

	e.template = t

	return nil
}

// Watch starts an fsnotify watcher that reparses templates whenever a file
// under Root changes, for development.
func (e *HTMLEngine) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dirs, err := walkDirs(e.Root)
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		if err := w.Add(dir); err != nil {
			return err
		}
	}

	e.watcher = w

	go e.watchLoop()

	return nil
}

// Close stops a watcher started by Watch, if any.
func (e *HTMLEngine) Close() error {
	if e.watcher == nil {
		return nil
	}

	return e.watcher.Close()
}

func (e *HTMLEngine) watchLoop() {
	for {
		select {
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}

			if e.logger != nil {
				e.logger.Info(fmt.Sprintf("template change: %s", event))
			}

			if err := e.Load(); err != nil && e.logger != nil {
				e.logger.Error(err)
			}
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}

			if e.logger != nil {
				e.logger.Error(err)
			}
		}
	}
}

// Render implements Engine.
func (e *HTMLEngine) Render(w interface{ Write([]byte) (int, error) }, name string, data interface{}) error {
	if e.template == nil {
		return fmt.Errorf("weft: template %q not loaded", name)
	}

	if e.minifier == nil {
		return e.template.ExecuteTemplate(w.(io.Writer), name, data)
	}

	buf := &bytes.Buffer{}
	if err := e.template.ExecuteTemplate(buf, name, data); err != nil {
		return err
	}

	minified, err := e.minifier.Minify("text/html", buf.Bytes())
	if err != nil {
		return err
	}

	_, err = w.Write(minified)
	return err
}

// walkDirs returns root and every directory beneath it.
func walkDirs(root string) ([]string, error) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			dirs = append(dirs, path)
		}

		return nil
	})

	return dirs, err
}

func templateStrlen(s string) int {
	return len([]rune(s))
}

func templateStrcat(s string, ss ...string) string {
	var b strings.Builder
	b.WriteString(s)
	for _, x := range ss {
		b.WriteString(x)
	}

	return b.String()
}

func templateSubstr(s string, i, j int) string {
	rs := []rune(s)
	return string(rs[i:j])
}

func templateTimefmt(t time.Time, layout string) string {
	return t.Format(layout)
}
