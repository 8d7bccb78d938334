// Package manifest declares component classes, instances and a scenario in
// HCL, and runs the scenario against a dwc store.
//
//	runtime {
//	  debounce = "50ms"
//	}
//
//	component "Broker" {
//	  single_instance = true
//	  property "list" {
//	    default = []
//	  }
//	}
//
//	component "List" {
//	  property "items" {}
//	  bind "items" {
//	    source   = "Broker"
//	    property = "list"
//	  }
//	}
//
//	instance "broker" { component = "Broker" }
//	instance "list"   { component = "List" }
//
//	step "invoke" {
//	  target = "broker"
//	  method = "Push"
//	  args   = ["list", "milk"]
//	}
//	step "wait" {}
package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// ErrInvalidManifest is wrapped by every validation error.
var ErrInvalidManifest = errors.New("invalid manifest")

// Step kinds.
const (
	StepSet     = "set"
	StepInvoke  = "invoke"
	StepMount   = "mount"
	StepUnmount = "unmount"
	StepWait    = "wait"
)

// Manifest is a decoded manifest file.
type Manifest struct {
	Runtime    *Runtime          `hcl:"runtime,block"`
	Components []*ComponentBlock `hcl:"component,block"`
	Instances  []*InstanceBlock  `hcl:"instance,block"`
	Steps      []*StepBlock      `hcl:"step,block"`

	// Filename is the file the manifest was parsed from.
	Filename string
}

// Runtime holds store settings.
type Runtime struct {
	Debounce string `hcl:"debounce,optional"`
}

// ComponentBlock declares a component class.
type ComponentBlock struct {
	Name           string           `hcl:"name,label"`
	Description    string           `hcl:"description,optional"`
	SingleInstance bool             `hcl:"single_instance,optional"`
	Properties     []*PropertyBlock `hcl:"property,block"`
	Binds          []*BindBlock     `hcl:"bind,block"`
}

// PropertyBlock exposes a property, optionally with a default value.
type PropertyBlock struct {
	Name        string    `hcl:"name,label"`
	Description string    `hcl:"description,optional"`
	Default     cty.Value `hcl:"default,optional"`
}

// BindBlock binds a target property to a property of the first component
// registered under Source.
type BindBlock struct {
	Target   string `hcl:"target,label"`
	Source   string `hcl:"source"`
	Property string `hcl:"property"`
}

// InstanceBlock creates one component of a declared class.
type InstanceBlock struct {
	Label     string               `hcl:"label,label"`
	Component string               `hcl:"component"`
	Deferred  bool                 `hcl:"deferred,optional"`
	Binds     []*InstanceBindBlock `hcl:"bind,block"`
}

// InstanceBindBlock binds a target property to a property of another
// instance of this manifest.
type InstanceBindBlock struct {
	Target   string `hcl:"target,label"`
	Instance string `hcl:"instance"`
	Property string `hcl:"property"`
}

// StepBlock is one scenario step. Which attributes apply depends on Kind.
type StepBlock struct {
	Kind      string    `hcl:"kind,label"`
	Target    string    `hcl:"target,optional"`
	Component string    `hcl:"component,optional"`
	Property  string    `hcl:"property,optional"`
	Value     cty.Value `hcl:"value,optional"`
	Method    string    `hcl:"method,optional"`
	Args      cty.Value `hcl:"args,optional"`
	Duration  string    `hcl:"duration,optional"`
}

// Load parses and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, diags)
	}
	return decode(file.Body, path)
}

// Parse parses and validates manifest source. filename is used in
// diagnostics.
func Parse(src []byte, filename string) (*Manifest, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", filename, diags)
	}
	return decode(file.Body, filename)
}

func decode(body hcl.Body, filename string) (*Manifest, error) {
	var m Manifest
	if diags := gohcl.DecodeBody(body, nil, &m); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode manifest %s: %w", filename, diags)
	}
	m.Filename = filename
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Debounce returns the configured debounce, or zero if unset.
func (m *Manifest) Debounce() (time.Duration, error) {
	if m.Runtime == nil || m.Runtime.Debounce == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(m.Runtime.Debounce)
	if err != nil {
		return 0, fmt.Errorf("%w: runtime.debounce: %v", ErrInvalidManifest, err)
	}
	return d, nil
}

// Component returns the component block named name.
func (m *Manifest) Component(name string) (*ComponentBlock, bool) {
	for _, c := range m.Components {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Instance returns the instance block labeled label.
func (m *Manifest) Instance(label string) (*InstanceBlock, bool) {
	for _, inst := range m.Instances {
		if inst.Label == label {
			return inst, true
		}
	}
	return nil, false
}

// Validate checks cross references between blocks.
func (m *Manifest) Validate() error {
	if _, err := m.Debounce(); err != nil {
		return err
	}

	components := make(map[string]bool, len(m.Components))
	for _, c := range m.Components {
		if components[c.Name] {
			return fmt.Errorf("%w: component %q declared twice", ErrInvalidManifest, c.Name)
		}
		components[c.Name] = true

		props := make(map[string]bool, len(c.Properties))
		for _, p := range c.Properties {
			if props[p.Name] {
				return fmt.Errorf("%w: component %q: property %q declared twice", ErrInvalidManifest, c.Name, p.Name)
			}
			props[p.Name] = true
		}
		for _, b := range c.Binds {
			if b.Source == "" || b.Property == "" {
				return fmt.Errorf("%w: component %q: bind %q needs source and property", ErrInvalidManifest, c.Name, b.Target)
			}
		}
	}

	instances := make(map[string]bool, len(m.Instances))
	for _, inst := range m.Instances {
		if instances[inst.Label] {
			return fmt.Errorf("%w: instance %q declared twice", ErrInvalidManifest, inst.Label)
		}
		instances[inst.Label] = true
		if !components[inst.Component] {
			return fmt.Errorf("%w: instance %q: unknown component %q", ErrInvalidManifest, inst.Label, inst.Component)
		}
	}
	for _, inst := range m.Instances {
		for _, b := range inst.Binds {
			if !instances[b.Instance] {
				return fmt.Errorf("%w: instance %q: bind %q refers to unknown instance %q", ErrInvalidManifest, inst.Label, b.Target, b.Instance)
			}
		}
	}

	for i, s := range m.Steps {
		if err := s.validate(instances); err != nil {
			return fmt.Errorf("%w: step %d (%s): %v", ErrInvalidManifest, i+1, s.Kind, err)
		}
	}
	return nil
}

func (s *StepBlock) validate(instances map[string]bool) error {
	if s.Target != "" && !instances[s.Target] {
		return fmt.Errorf("unknown instance %q", s.Target)
	}

	switch s.Kind {
	case StepSet:
		if s.Property == "" {
			return errors.New("property is required")
		}
		return s.needsTarget(true)
	case StepInvoke:
		if s.Method == "" {
			return errors.New("method is required")
		}
		if !s.Args.IsNull() && !s.Args.Type().IsTupleType() && !s.Args.Type().IsListType() {
			return errors.New("args must be a list")
		}
		return s.needsTarget(true)
	case StepMount, StepUnmount:
		return s.needsTarget(false)
	case StepWait:
		if s.Duration != "" {
			if _, err := time.ParseDuration(s.Duration); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown step kind %q", s.Kind)
}

// needsTarget checks the step addresses a component. Steps that go through
// the gateway may address it by component name instead of instance.
func (s *StepBlock) needsTarget(byName bool) error {
	switch {
	case s.Target != "" && s.Component != "":
		return errors.New("target and component are exclusive")
	case s.Target != "":
		return nil
	case byName && s.Component != "":
		return nil
	case byName:
		return errors.New("target or component is required")
	}
	return errors.New("target is required")
}
