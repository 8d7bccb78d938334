package dwc

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/a-h/templ"
)

var (
	contextType   = reflect.TypeOf((*context.Context)(nil)).Elem()
	componentType = reflect.TypeOf((*templ.Component)(nil)).Elem()
	errorType     = reflect.TypeOf((*error)(nil)).Elem()
)

// ClassInfo is the human-facing description of a component class.
type ClassInfo struct {
	// Name identifies the class to bindings and tooling. Required.
	Name        string
	Description string
	// SingleInstance rejects mounting a second live instance of the class.
	SingleInstance bool
}

// MemberMetadata describes an exposed property or method.
type MemberMetadata struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Type is a type hint for properties, empty for methods.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// Binding declares that a target property mirrors SourceProperty of another
// component. The source is either an exact instance (InstanceIdentifier) or
// the first registered component whose class is named SourceComponentName.
// InstanceIdentifier wins when both are set.
type Binding struct {
	TargetProperty      string `json:"targetProperty" yaml:"targetProperty"`
	SourceComponentName string `json:"sourceComponentName,omitempty" yaml:"sourceComponentName,omitempty"`
	SourceProperty      string `json:"sourceProperty" yaml:"sourceProperty"`
	InstanceIdentifier  string `json:"instanceIdentifier,omitempty" yaml:"instanceIdentifier,omitempty"`
}

// InstanceBound reports whether the binding targets an exact instance.
func (b Binding) InstanceBound() bool {
	return b.InstanceIdentifier != ""
}

// Class holds the metadata shared by every instance of a component type.
// Declarations are append-only.
type Class struct {
	info ClassInfo
	typ  reflect.Type

	mu         sync.RWMutex
	properties []MemberMetadata
	methods    []MemberMetadata
	binders    []Binding
	renderer   string
}

// Declare creates the class for component type T. T is normally a pointer
// to a struct embedding *dwc.Component.
//
//	var brokerClass = dwc.Declare[*Broker](dwc.ClassInfo{Name: "Broker"}).
//	    ExposeProperty("list", dwc.TypeHint[[]string]()).
//	    ExposeMethod("AddItem", dwc.Describe("append one item")).
//	    Renderer("View")
//
// Declare panics if info.Name is empty.
func Declare[T Discoverable](info ClassInfo) *Class {
	if info.Name == "" {
		declarationPanic("", "", fmt.Errorf("%w: class name is required", ErrInvalidDeclaration))
	}
	return &Class{
		info: info,
		typ:  reflect.TypeOf((*T)(nil)).Elem(),
	}
}

// MemberOption configures an exposed member.
type MemberOption func(*MemberMetadata)

// Describe sets the member description.
func Describe(text string) MemberOption {
	return func(m *MemberMetadata) {
		m.Description = text
	}
}

// TypeHint records T as the property type hint.
func TypeHint[T any]() MemberOption {
	name := reflect.TypeOf((*T)(nil)).Elem().String()
	return func(m *MemberMetadata) {
		m.Type = name
	}
}

// ExposeProperty exposes a property to the gateway and to bindings.
// Panics if name is empty, already exposed, or is a method of the class type.
func (c *Class) ExposeProperty(name string, opts ...MemberOption) *Class {
	if name == "" {
		declarationPanic(c.info.Name, name, fmt.Errorf("%w: empty property name", ErrInvalidDeclaration))
	}
	if _, ok := c.typ.MethodByName(name); ok {
		declarationPanic(c.info.Name, name, fmt.Errorf("%w: %s is a method, not a property", ErrInvalidDeclaration, name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if containsMember(c.properties, name) {
		declarationPanic(c.info.Name, name, fmt.Errorf("%w: property exposed twice", ErrDuplicateDeclaration))
	}
	m := MemberMetadata{Name: name}
	for _, opt := range opts {
		opt(&m)
	}
	c.properties = append(c.properties, m)
	return c
}

// ExposeMethod exposes an exported method of the class type to the gateway.
// Panics if the type has no such method or it is already exposed.
func (c *Class) ExposeMethod(name string, opts ...MemberOption) *Class {
	if _, ok := c.typ.MethodByName(name); !ok {
		declarationPanic(c.info.Name, name, fmt.Errorf("%w: %s has no method %s", ErrInvalidDeclaration, c.typ, name))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if containsMember(c.methods, name) {
		declarationPanic(c.info.Name, name, fmt.Errorf("%w: method exposed twice", ErrDuplicateDeclaration))
	}
	m := MemberMetadata{Name: name}
	for _, opt := range opts {
		opt(&m)
	}
	m.Type = ""
	c.methods = append(c.methods, m)
	return c
}

// Bind declares that target mirrors b.SourceProperty of the source b
// identifies. b.TargetProperty is overwritten with target.
func (c *Class) Bind(target string, b Binding) *Class {
	b.TargetProperty = target
	if err := validateBinding(b); err != nil {
		declarationPanic(c.info.Name, target, err)
	}

	c.mu.Lock()
	c.binders = append(c.binders, b)
	c.mu.Unlock()
	return c
}

// Renderer designates the method called when bound data changes. It must
// have the signature func(context.Context) templ.Component. A class has at
// most one renderer.
func (c *Class) Renderer(method string) *Class {
	m, ok := c.typ.MethodByName(method)
	if !ok {
		declarationPanic(c.info.Name, method, fmt.Errorf("%w: %s has no method %s", ErrInvalidDeclaration, c.typ, method))
	}
	// In(0) is the receiver.
	mt := m.Type
	if mt.NumIn() != 2 || mt.In(1) != contextType || mt.NumOut() != 1 || mt.Out(0) != componentType {
		declarationPanic(c.info.Name, method, fmt.Errorf("%w: renderer must be func(context.Context) templ.Component", ErrInvalidDeclaration))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.renderer != "" {
		declarationPanic(c.info.Name, method, fmt.Errorf("%w: renderer already declared as %s", ErrDuplicateDeclaration, c.renderer))
	}
	c.renderer = method
	return c
}

// Info returns the class description.
func (c *Class) Info() ClassInfo {
	return c.info
}

// Name returns the class name.
func (c *Class) Name() string {
	return c.info.Name
}

// Type returns the Go type the class was declared for.
func (c *Class) Type() reflect.Type {
	return c.typ
}

// Properties returns a copy of the exposed properties in declaration order.
func (c *Class) Properties() []MemberMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.properties)
}

// Methods returns a copy of the exposed methods in declaration order.
func (c *Class) Methods() []MemberMetadata {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.methods)
}

// Binders returns a copy of the class bindings in declaration order.
func (c *Class) Binders() []Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.binders)
}

// RendererName returns the renderer method name, or "" if none is declared.
func (c *Class) RendererName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.renderer
}

func (c *Class) exposesProperty(name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return containsMember(c.properties, name)
}

// AvailableMethods returns the methods cls exposes. It reports false for a
// nil class.
func AvailableMethods(cls *Class) ([]MemberMetadata, bool) {
	if cls == nil {
		return nil, false
	}
	return cls.Methods(), true
}

// AvailableProperties returns the properties cls exposes. It reports false
// for a nil class.
func AvailableProperties(cls *Class) ([]MemberMetadata, bool) {
	if cls == nil {
		return nil, false
	}
	return cls.Properties(), true
}

func validateBinding(b Binding) error {
	switch {
	case b.TargetProperty == "":
		return fmt.Errorf("%w: binding needs a target property", ErrInvalidDeclaration)
	case b.SourceProperty == "":
		return fmt.Errorf("%w: binding needs a source property", ErrInvalidDeclaration)
	case b.SourceComponentName == "" && b.InstanceIdentifier == "":
		return fmt.Errorf("%w: binding needs a source component name or instance identifier", ErrInvalidDeclaration)
	}
	return nil
}

func containsMember(members []MemberMetadata, name string) bool {
	return slices.ContainsFunc(members, func(m MemberMetadata) bool { return m.Name == name })
}
