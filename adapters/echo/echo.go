// Package dwcecho provides Echo framework integration for the dwc dev tools.
//
// Mount the dev tools onto an Echo instance or group:
//
//	e := echo.New()
//	rec := dwcecho.Mount(e, store)
//	defer rec.Stop()
//
// Or mount on a group with middleware:
//
//	g := e.Group("/admin", authMiddleware)
//	rec := dwcecho.MountGroup(g, store, dwcecho.WithPublicPath("/admin/_dwc/"))
package dwcecho

import (
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/labstack/echo/v4"
	"github.com/pthm/dwc"
	"github.com/pthm/dwc/devtools"
)

// Option configures the Mount and MountGroup functions.
type Option func(*options)

type options struct {
	key    []byte
	path   string
	public string
	limit  int
}

// WithKey sets the key trace exports are protected with.
// If not provided, a random key is generated (suitable for development only).
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithPath sets the route prefix for the dev tools, relative to the Echo
// instance or group. Defaults to "/_dwc/".
func WithPath(path string) Option {
	return func(o *options) {
		o.path = path
	}
}

// WithPublicPath sets the prefix browsers reach the dev tools at, used for
// the panel's links. Set it when mounting on a group. Defaults to the
// route prefix.
func WithPublicPath(path string) Option {
	return func(o *options) {
		o.public = path
	}
}

// WithLimit sets how many trace entries the recorder keeps.
func WithLimit(n int) Option {
	return func(o *options) {
		o.limit = n
	}
}

// Mount starts a trace recorder for store and mounts the dev tools handler
// on an Echo instance. Stop the returned recorder when done.
//
//	e := echo.New()
//	rec := dwcecho.Mount(e, store)
//
//	// With options:
//	rec := dwcecho.Mount(e, store, dwcecho.WithKey(key))
func Mount(e *echo.Echo, store *dwc.Store, opts ...Option) *devtools.Recorder {
	m := newMount(store, opts)
	e.Any(m.path+"*", m.handle)
	return m.rec
}

// MountGroup is Mount on an Echo group, so the dev tools share the group's
// middleware (auth, logging, etc.).
//
//	g := e.Group("/admin", authMiddleware)
//	rec := dwcecho.MountGroup(g, store, dwcecho.WithPublicPath("/admin/_dwc/"))
func MountGroup(g *echo.Group, store *dwc.Store, opts ...Option) *devtools.Recorder {
	m := newMount(store, opts)
	g.Any(m.path+"*", m.handle)
	return m.rec
}

type mounted struct {
	path    string
	rec     *devtools.Recorder
	handler http.Handler
}

func newMount(store *dwc.Store, opts []Option) *mounted {
	o := &options{path: devtools.DefaultBasePath}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.HasSuffix(o.path, "/") {
		o.path += "/"
	}

	var recOpts []devtools.RecorderOption
	if o.limit > 0 {
		recOpts = append(recOpts, devtools.WithLimit(o.limit))
	}
	rec := devtools.NewRecorder(store, recOpts...)
	rec.Start()

	handlerOpts := []devtools.Option{devtools.WithBasePath(o.path)}
	if o.public != "" {
		handlerOpts = append(handlerOpts, devtools.WithLinkBase(o.public))
	}
	if o.key != nil {
		handlerOpts = append(handlerOpts, devtools.WithKey(o.key))
	}

	return &mounted{
		path:    o.path,
		rec:     rec,
		handler: devtools.Handler(store, rec, handlerOpts...),
	}
}

// handle rewrites the request path relative to the route so the handler
// sees the same paths whether mounted on the instance or on a group.
func (m *mounted) handle(c echo.Context) error {
	req := c.Request()
	r := req.Clone(req.Context())
	r.URL.Path = m.path + c.Param("*")
	r.URL.RawPath = ""
	m.handler.ServeHTTP(c.Response(), r)
	return nil
}

// Render writes a templ component to the Echo response.
//
//	func handler(c echo.Context) error {
//	    return dwcecho.Render(c, myTemplate())
//	}
func Render(c echo.Context, component templ.Component) error {
	c.Response().Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(c.Request().Context(), c.Response())
}
