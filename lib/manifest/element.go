package manifest

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/a-h/templ"
	"github.com/pthm/dwc"
	"github.com/zclconf/go-cty/cty"
)

// Element is the component type behind every manifest-declared class. Its
// state lives entirely in the property bag.
type Element struct {
	*dwc.Component
	label string
}

// NewElement creates an instance of class labeled label. Property defaults
// from block are applied before the element is mounted.
func NewElement(store *dwc.Store, class *dwc.Class, block *ComponentBlock, label string) (*Element, error) {
	e := &Element{label: label}
	e.Component = dwc.New(store, class, e)
	for _, p := range block.Properties {
		v, err := toNative(p.Default)
		if err != nil {
			return nil, fmt.Errorf("component %q: property %q: %w", block.Name, p.Name, err)
		}
		if v != nil {
			e.Set(p.Name, v)
		}
	}
	return e, nil
}

// Label returns the instance label from the manifest.
func (e *Element) Label() string {
	return e.label
}

// Push appends value to the list held by property and returns the new
// length. The list is replaced, never modified in place, so bindings see
// the change.
func (e *Element) Push(property string, value any) int {
	next := append(toList(e.Get(property)), value)
	e.Set(property, next)
	return len(next)
}

// Reset clears property.
func (e *Element) Reset(property string) {
	e.Set(property, nil)
}

// View renders the element's exposed properties in declaration order.
func (e *Element) View(ctx context.Context) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		fmt.Fprintf(&b, `<dwc-element dwc-id="%s" name="%s" label="%s">`,
			templ.EscapeString(e.ID()), templ.EscapeString(e.Name()), templ.EscapeString(e.label))
		for i, p := range e.Class().Properties() {
			if i > 0 {
				b.WriteString("; ")
			}
			fmt.Fprintf(&b, "%s=%s", templ.EscapeString(p.Name), templ.EscapeString(formatValue(e.Get(p.Name))))
		}
		b.WriteString("</dwc-element>\n")
		_, err := io.WriteString(w, b.String())
		return err
	})
}

// DeclareClass builds the class for a component block.
func DeclareClass(block *ComponentBlock) (cls *dwc.Class, err error) {
	defer func() {
		if r := recover(); r != nil {
			declErr, ok := r.(*dwc.DeclarationError)
			if !ok {
				panic(r)
			}
			err = fmt.Errorf("%w: %w", ErrInvalidManifest, declErr)
		}
	}()

	cls = dwc.Declare[*Element](dwc.ClassInfo{
		Name:           block.Name,
		Description:    block.Description,
		SingleInstance: block.SingleInstance,
	})
	for _, p := range block.Properties {
		var opts []dwc.MemberOption
		if p.Description != "" {
			opts = append(opts, dwc.Describe(p.Description))
		}
		if !p.Default.IsNull() {
			opts = append(opts, hintFor(p.Default))
		}
		cls.ExposeProperty(p.Name, opts...)
	}
	for _, b := range block.Binds {
		cls.Bind(b.Target, dwc.Binding{SourceComponentName: b.Source, SourceProperty: b.Property})
	}
	cls.ExposeMethod("Push", dwc.Describe("append a value to a list property")).
		ExposeMethod("Reset", dwc.Describe("clear a property")).
		Renderer("View")
	return cls, nil
}

// hintFor describes the Go type a default decodes to.
func hintFor(v cty.Value) dwc.MemberOption {
	switch native, _ := toNative(v); native.(type) {
	case string:
		return dwc.TypeHint[string]()
	case int:
		return dwc.TypeHint[int]()
	case float64:
		return dwc.TypeHint[float64]()
	case bool:
		return dwc.TypeHint[bool]()
	case []any:
		return dwc.TypeHint[[]any]()
	case map[string]any:
		return dwc.TypeHint[map[string]any]()
	}
	return dwc.TypeHint[any]()
}

func toList(v any) []any {
	if v == nil {
		return nil
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list), len(list)+1)
		copy(out, list)
		return out
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return []any{v}
	}
	out := make([]any, rv.Len(), rv.Len()+1)
	for i := range rv.Len() {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func formatValue(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []any:
		parts := make([]string, len(v))
		for i, elem := range v {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case string:
		return v
	}
	return fmt.Sprint(v)
}
