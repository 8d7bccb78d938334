package devtools

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/dwc"
	"github.com/pthm/dwc/lib/encoding"
)

// DefaultBasePath is where Handler expects to be mounted.
const DefaultBasePath = "/_dwc/"

// Option configures Handler.
type Option func(*options)

type options struct {
	basePath string
	linkBase string
	key      []byte
	logger   *slog.Logger
}

// WithBasePath sets the path prefix the handler is mounted at. Defaults to
// "/_dwc/".
func WithBasePath(path string) Option {
	return func(o *options) {
		o.basePath = path
	}
}

// WithLinkBase sets the prefix of the panel's own links when it differs
// from the base path, as when a router strips a group prefix before the
// request reaches Handler. Defaults to the base path.
func WithLinkBase(path string) Option {
	return func(o *options) {
		o.linkBase = path
	}
}

// WithKey sets the key exports are signed or sealed with. If not provided,
// a random key is generated, so exports only decode within this process.
func WithKey(key []byte) Option {
	return func(o *options) {
		o.key = key
	}
}

// WithLogger sets the handler's logger. Defaults to the store's.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

type handler struct {
	store  *dwc.Store
	rec    *Recorder
	codec  *encoding.Codec
	base   string
	links  string
	logger *slog.Logger
	mux    *http.ServeMux
}

// Handler serves the dev tools for store:
//
//	GET  {base}            panel, ?id= selects a component
//	GET  {base}history     history pane, ?id= required
//	GET  {base}export      recorded entries, ?mode=signed|sealed
//	POST {base}set         form: id, property, value
//	POST {base}invoke      form: id, method, args (JSON array)
//
// Writes go through the registry gateway as dwc.DevTools. Like any
// mutating route they require the HX-Request header. rec may be nil, in
// which case history and export are empty.
func Handler(store *dwc.Store, rec *Recorder, opts ...Option) http.Handler {
	o := &options{basePath: DefaultBasePath}
	for _, opt := range opts {
		opt(o)
	}
	if !strings.HasSuffix(o.basePath, "/") {
		o.basePath += "/"
	}
	if o.linkBase == "" {
		o.linkBase = o.basePath
	}
	if o.logger == nil {
		o.logger = store.Logger()
	}

	key := o.key
	if key == nil {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("devtools: failed to generate random key: %v", err))
		}
	}
	codec, err := encoding.NewCodec(key)
	if err != nil {
		panic(fmt.Sprintf("devtools: %v", err))
	}
	if rec == nil {
		rec = NewRecorder(store)
	}

	h := &handler{
		store:  store,
		rec:    rec,
		codec:  codec,
		base:   o.basePath,
		links:  o.linkBase,
		logger: o.logger.With("handler", "devtools"),
		mux:    http.NewServeMux(),
	}
	h.mux.HandleFunc("GET "+h.base+"{$}", h.panel)
	h.mux.HandleFunc("GET "+h.base+"history", h.history)
	h.mux.HandleFunc("GET "+h.base+"export", h.export)
	h.mux.HandleFunc("POST "+h.base+"set", h.set)
	h.mux.HandleFunc("POST "+h.base+"invoke", h.invoke)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CSRF protection: mutating methods require HX-Request header
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			if !IsHTMX(r) {
				http.Error(w, "Forbidden: HTMX request required", http.StatusForbidden)
				return
			}
		}
		h.mux.ServeHTTP(w, r)
	})
}

// IsHTMX returns true if the request originated from HTMX.
func IsHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

// Render writes a templ component to the HTTP response.
func Render(w http.ResponseWriter, r *http.Request, component templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	return component.Render(r.Context(), w)
}

func (h *handler) panel(w http.ResponseWriter, r *http.Request) {
	h.renderPanel(w, r, r.URL.Query().Get("id"))
}

func (h *handler) renderPanel(w http.ResponseWriter, r *http.Request, selected string) {
	state := PanelState{Selected: selected, BasePath: h.links}
	if err := Render(w, r, Panel(h.store, h.rec, state)); err != nil {
		h.logger.ErrorContext(r.Context(), "render panel", "error", err)
	}
}

func (h *handler) history(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Bad request: id required", http.StatusBadRequest)
		return
	}
	if err := Render(w, r, History(h.store, h.rec, id)); err != nil {
		h.logger.ErrorContext(r.Context(), "render history", "error", err)
	}
}

func (h *handler) export(w http.ResponseWriter, r *http.Request) {
	mode, err := encoding.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		http.Error(w, "Bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	out, err := h.rec.Export(h.codec, mode)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "export trace log", "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, out)
}

func (h *handler) set(w http.ResponseWriter, r *http.Request) {
	id, property := r.FormValue("id"), r.FormValue("property")
	if id == "" || property == "" {
		http.Error(w, "Bad request: id and property required", http.StatusBadRequest)
		return
	}

	value := ParseValue(r.FormValue("value"))
	if err := h.store.Registry().SetProperty(r.Context(), dwc.DevTools, id, property, value); err != nil {
		h.fail(w, r, err)
		return
	}
	// The panel reads current values, so wait for the change to land.
	if err := dwc.WaitIdle(r.Context(), h.store); err != nil {
		h.logger.DebugContext(r.Context(), "wait for bus", "error", err)
	}
	h.renderPanel(w, r, id)
}

func (h *handler) invoke(w http.ResponseWriter, r *http.Request) {
	id, method := r.FormValue("id"), r.FormValue("method")
	if id == "" || method == "" {
		http.Error(w, "Bad request: id and method required", http.StatusBadRequest)
		return
	}

	var args []any
	if raw := strings.TrimSpace(r.FormValue("args")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			http.Error(w, "Bad request: args must be a JSON array", http.StatusBadRequest)
			return
		}
	}

	result, err := h.store.Registry().InvokeMethod(r.Context(), dwc.DevTools, id, method, args...)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if trigger, err := TriggerHeader("dwc:invoked", map[string]any{"id": id, "method": method, "result": result}); err == nil {
		w.Header().Set("HX-Trigger", trigger)
	}
	if err := dwc.WaitIdle(r.Context(), h.store); err != nil {
		h.logger.DebugContext(r.Context(), "wait for bus", "error", err)
	}
	h.renderPanel(w, r, id)
}

func (h *handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, dwc.ErrInvalidArguments):
		http.Error(w, "Bad request: "+err.Error(), http.StatusBadRequest)
	case dwc.IsUnauthorized(err):
		http.Error(w, "Forbidden", http.StatusForbidden)
	default:
		h.logger.WarnContext(r.Context(), "dev tools call failed", "error", err)
		w.Header().Set("HX-Reswap", "none")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

// ParseValue reads a form value: valid JSON is decoded, anything else is
// taken as a plain string.
func ParseValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		return v
	}
	return raw
}

// TriggerHeader builds an HX-Trigger header value firing event with data
// as the event detail.
func TriggerHeader(event string, data map[string]any) (string, error) {
	if data == nil {
		return event, nil
	}
	out, err := json.Marshal(map[string]any{event: data})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
