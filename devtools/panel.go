package devtools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/pthm/dwc"
)

// PanelID is the id of the panel's root element, the swap target of its
// own forms.
const PanelID = "dwc-devtools"

// PanelState is what a panel render shows.
type PanelState struct {
	// Selected is the identifier of the component whose details and history
	// are shown. Empty selects the first registered component.
	Selected string
	// BasePath prefixes the panel's own links and form actions.
	BasePath string
}

// ComponentView is a registered component as the panel presents it.
type ComponentView struct {
	ID          string
	Name        string
	Description string
	Properties  []PropertyView
	Methods     []dwc.MemberMetadata
}

// PropertyView is an exposed property with its current value.
type PropertyView struct {
	dwc.MemberMetadata
	Value any
}

// Discover lists the registered components in registration order.
func Discover(reg *dwc.Registry) []ComponentView {
	all := reg.All()
	out := make([]ComponentView, 0, len(all))
	for _, desc := range all {
		v := ComponentView{
			ID:          desc.Identifier,
			Name:        desc.Name(),
			Description: desc.Class.Info().Description,
			Methods:     desc.Methods,
		}
		cmp := desc.Component()
		for _, p := range desc.Properties {
			pv := PropertyView{MemberMetadata: p}
			if cmp != nil {
				pv.Value = cmp.Get(p.Name)
			}
			v.Properties = append(v.Properties, pv)
		}
		out = append(out, v)
	}
	return out
}

// SourceName resolves the source of a trace entry for display.
func SourceName(reg *dwc.Registry, sourceID string) string {
	if sourceID == dwc.DevToolsSourceID {
		return "dev tools"
	}
	if desc, ok := reg.Lookup(sourceID); ok {
		return desc.Name()
	}
	return sourceID
}

// Panel renders the discovery list, the selected component's members and
// its history. Every component row carries a dwc-id attribute so pages can
// highlight the matching element.
func Panel(store *dwc.Store, rec *Recorder, state PanelState) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		reg := store.Registry()
		components := Discover(reg)

		selected := state.Selected
		if selected == "" && len(components) > 0 {
			selected = components[0].ID
		}
		base := strings.TrimSuffix(state.BasePath, "/")

		var b strings.Builder
		fmt.Fprintf(&b, `<div id="%s" class="dwc-devtools">`, PanelID)
		b.WriteString(`<ul class="component-list">`)
		for _, c := range components {
			class := "comp-list-item"
			if c.ID == selected {
				class += " selected"
			}
			fmt.Fprintf(&b, `<li class="%s" dwc-id="%s" hx-get="%s/?id=%s" hx-target="#%s" hx-swap="outerHTML">%s</li>`,
				class, esc(c.ID), esc(base), esc(c.ID), PanelID, esc(c.Name))
		}
		b.WriteString(`</ul>`)

		for _, c := range components {
			if c.ID != selected {
				continue
			}
			writeDetails(&b, base, c)
			if rec != nil {
				writeHistory(&b, reg, rec.History(c.ID))
			}
		}
		b.WriteString(`</div>`)

		_, err := io.WriteString(w, b.String())
		return err
	})
}

// History renders the history pane for one component.
func History(store *dwc.Store, rec *Recorder, id string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		writeHistory(&b, store.Registry(), rec.History(id))
		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeDetails(b *strings.Builder, base string, c ComponentView) {
	fmt.Fprintf(b, `<section class="details" dwc-id="%s">`, esc(c.ID))
	fmt.Fprintf(b, `<b>Identifier:</b> %s <b>Name:</b> %s`, esc(c.ID), esc(c.Name))
	if c.Description != "" {
		fmt.Fprintf(b, `<div class="description">%s</div>`, esc(c.Description))
	}

	b.WriteString(`<div class="properties"><strong>Properties:</strong><ul>`)
	for _, p := range c.Properties {
		fmt.Fprintf(b, `<li><form hx-post="%s/set" hx-target="#%s" hx-swap="outerHTML">`, esc(base), PanelID)
		fmt.Fprintf(b, `<input type="hidden" name="id" value="%s"><input type="hidden" name="property" value="%s">`, esc(c.ID), esc(p.Name))
		fmt.Fprintf(b, `<label>%s</label>`, esc(p.Name))
		if p.Type != "" {
			fmt.Fprintf(b, ` <span class="type">%s</span>`, esc(p.Type))
		}
		fmt.Fprintf(b, ` <input name="value" value="%s">`, esc(formatValue(p.Value)))
		b.WriteString(`</form></li>`)
	}
	b.WriteString(`</ul></div>`)

	b.WriteString(`<div class="methods"><strong>Methods:</strong><ul>`)
	for _, m := range c.Methods {
		fmt.Fprintf(b, `<li><form hx-post="%s/invoke" hx-target="#%s" hx-swap="outerHTML">`, esc(base), PanelID)
		fmt.Fprintf(b, `<input type="hidden" name="id" value="%s"><input type="hidden" name="method" value="%s">`, esc(c.ID), esc(m.Name))
		fmt.Fprintf(b, `<button type="submit">%s</button> <input name="args" placeholder="[]">`, esc(m.Name))
		if m.Description != "" {
			fmt.Fprintf(b, ` <span class="description">%s</span>`, esc(m.Description))
		}
		b.WriteString(`</form></li>`)
	}
	b.WriteString(`</ul></div></section>`)
}

func writeHistory(b *strings.Builder, reg *dwc.Registry, entries []dwc.TraceLogEntry) {
	b.WriteString(`<section class="history"><ol>`)
	for _, e := range entries {
		fmt.Fprintf(b, `<li class="trace-log-item"><div class="trace-log-item-date">%s by %s</div>`,
			esc(e.Date.Format(time.DateTime)), esc(SourceName(reg, e.SourceID)))
		switch e.Type {
		case dwc.TraceMethodCall:
			name, result := methodSummary(e.Payload)
			fmt.Fprintf(b, `<div class="trace-log-item-method">%s</div><div class="trace-log-item-output">&rarr; %s</div>`,
				esc(name), esc(result))
		case dwc.TracePropertyChange:
			prop, value := propertySummary(e.Payload)
			fmt.Fprintf(b, `<div class="trace-log-item-property">%s: <span class="trace-log-property-value">%s</span></div>`,
				esc(prop), esc(value))
		}
		b.WriteString(`</li>`)
	}
	b.WriteString(`</ol></section>`)
}

// methodSummary reads a method payload, typed or decoded from an export.
func methodSummary(payload any) (string, string) {
	switch p := payload.(type) {
	case dwc.MethodPayload:
		return p.MethodName, resultText(p.Result)
	case map[string]any:
		name, _ := p["methodName"].(string)
		return name, resultText(p["result"])
	}
	return "", ""
}

func propertySummary(payload any) (string, string) {
	switch p := payload.(type) {
	case dwc.PropertyPayload:
		return p.Property, formatValue(p.Value)
	case map[string]any:
		name, _ := p["property"].(string)
		return name, formatValue(p["value"])
	}
	return "", ""
}

func resultText(v any) string {
	if v == nil {
		return "void"
	}
	return formatValue(v)
}

// formatValue renders v as JSON, falling back to fmt for values JSON cannot
// represent.
func formatValue(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

func esc(s string) string {
	return templ.EscapeString(s)
}
