/*
Copyright 2025 The Crossplane Authors.
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at
    http://www.apache.org/licenses/LICENSE-2.0
Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package component

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/crossplane/component-runtime/pkg/registry"
)

// Properties published by the runtime alongside a component's own.
const (
	PropertyComponentName = "component.name"
	PropertyComponentID   = "component.id"
	PropertyFactory       = "component.factory"

	// targetSuffix names the property that overrides a reference's target,
	// e.g. "ink.target".
	targetSuffix = ".target"
)

const (
	errFmtParseCardinality = "unknown cardinality %q"
	errFmtParsePolicy      = "unknown policy %q"
	errFmtParseMode        = "unknown publish mode %q"
	errFmtParseTarget      = "cannot parse target of reference %q"
	errFmtDuplicateRef     = "duplicate reference %q"
	errFmtPropertyType     = "property %q must be a scalar or a homogeneous array of scalars"
)

// Properties are a component's configuration, published with its
// capabilities.
type Properties = registry.Properties

// A Cardinality bounds how many targets a reference binds.
type Cardinality int

// Cardinalities.
const (
	OneToOne Cardinality = iota
	ZeroToOne
	OneToMany
	ZeroToMany
)

var cardinalities = map[Cardinality]string{
	OneToOne:   "1..1",
	ZeroToOne:  "0..1",
	OneToMany:  "1..n",
	ZeroToMany: "0..n",
}

// AllowsZero returns true if the reference is satisfied with no targets.
func (c Cardinality) AllowsZero() bool { return c == ZeroToOne || c == ZeroToMany }

// Multiple returns true if every matching target is bound.
func (c Cardinality) Multiple() bool { return c == OneToMany || c == ZeroToMany }

func (c Cardinality) String() string {
	if s, ok := cardinalities[c]; ok {
		return s
	}
	return fmt.Sprintf("Cardinality(%d)", int(c))
}

// ParseCardinality parses the "1..1", "0..1", "1..n" and "0..n" notation.
func ParseCardinality(s string) (Cardinality, error) {
	for c, n := range cardinalities {
		if strings.EqualFold(s, n) {
			return c, nil
		}
	}
	return 0, errors.Errorf(errFmtParseCardinality, s)
}

// MarshalText implements encoding.TextMarshaler.
func (c Cardinality) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Cardinality) UnmarshalText(b []byte) error {
	p, err := ParseCardinality(string(b))
	if err != nil {
		return err
	}
	*c = p
	return nil
}

// A Policy determines whether a reference may change while its component is
// active.
type Policy int

// Policies.
const (
	// Static references are bound once, at activation. Losing a bound
	// target deactivates the component.
	Static Policy = iota

	// Dynamic references are rebound in place on a live component.
	Dynamic
)

func (p Policy) String() string {
	switch p {
	case Static:
		return "static"
	case Dynamic:
		return "dynamic"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Policy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Policy) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "static", "":
		*p = Static
	case "dynamic":
		*p = Dynamic
	default:
		return errors.Errorf(errFmtParsePolicy, string(b))
	}
	return nil
}

// A PublishMode governs when a component is instantiated relative to the
// publication of its capabilities.
type PublishMode int

// Publish modes.
const (
	// Immediate components are activated as soon as they are satisfied.
	Immediate PublishMode = iota

	// Delayed components publish their capabilities when satisfied and are
	// activated on first use.
	Delayed

	// Factory components publish a ComponentFactory. Instances are created
	// explicitly.
	Factory
)

func (m PublishMode) String() string {
	switch m {
	case Immediate:
		return "immediate"
	case Delayed:
		return "delayed"
	case Factory:
		return "factory"
	default:
		return fmt.Sprintf("PublishMode(%d)", int(m))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m PublishMode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *PublishMode) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "immediate", "":
		*m = Immediate
	case "delayed":
		*m = Delayed
	case "factory":
		*m = Factory
	default:
		return errors.Errorf(errFmtParseMode, string(b))
	}
	return nil
}

// A ReferenceSpec declares a dependency on a capability.
type ReferenceSpec struct {
	// Name of the reference, unique within its component.
	Name string `json:"name"`

	// Capability the reference binds to.
	Capability string `json:"capability"`

	// Target is a label selector matched against capability properties.
	// An empty target matches every capability.
	Target string `json:"target,omitempty"`

	Cardinality Cardinality `json:"cardinality,omitempty"`
	Policy      Policy      `json:"policy,omitempty"`

	// Bind and Unbind name the hooks passed to the implementation's Binder.
	// References without hooks are only reachable through Context.Locate.
	Bind   string `json:"bind,omitempty"`
	Unbind string `json:"unbind,omitempty"`
}

// Mandatory returns true if the reference needs at least one target.
func (r ReferenceSpec) Mandatory() bool { return !r.Cardinality.AllowsZero() }

func (r ReferenceSpec) hooked() bool { return r.Bind != "" || r.Unbind != "" }

// A Spec declares a component.
type Spec struct {
	// Name of the component, unique within its module.
	Name string `json:"name"`

	// Implementation names a type registered with Register.
	Implementation string `json:"implementation"`

	// Factory identifies a Factory mode component. Defaults to Name.
	Factory string `json:"factory,omitempty"`

	// Provides lists the capabilities the component publishes.
	Provides []string `json:"provides,omitempty"`

	References []ReferenceSpec `json:"references,omitempty"`
	Properties Properties      `json:"properties,omitempty"`

	// Disabled components are declared but not enabled when their module
	// starts.
	Disabled bool `json:"disabled,omitempty"`

	Mode PublishMode `json:"mode,omitempty"`

	// PerConsumer components create one instance per consumer of their
	// capabilities.
	PerConsumer bool `json:"perConsumer,omitempty"`
}

// FactoryID returns the identifier the component's factory is known by.
func (s Spec) FactoryID() string {
	if s.Factory != "" {
		return s.Factory
	}
	return s.Name
}

// Validate returns an error if the Spec is malformed.
func (s Spec) Validate() error {
	if s.Name == "" {
		return errors.New("component name is required")
	}
	if s.Implementation == "" {
		return errors.Errorf("component %q: implementation is required", s.Name)
	}
	if s.Factory != "" && s.Mode != Factory {
		return errors.Errorf("component %q: a factory id requires factory mode", s.Name)
	}
	if s.PerConsumer && len(s.Provides) == 0 {
		return errors.Errorf("component %q: per consumer instances require provided capabilities", s.Name)
	}
	if s.PerConsumer && s.Mode == Factory {
		return errors.Errorf("component %q: factory components cannot create per consumer instances", s.Name)
	}

	names := sets.New[string]()
	for _, r := range s.References {
		if r.Name == "" || r.Capability == "" {
			return errors.Errorf("component %q: references require a name and a capability", s.Name)
		}
		if names.Has(r.Name) {
			return errors.Errorf("component %q: "+errFmtDuplicateRef, s.Name, r.Name)
		}
		names.Insert(r.Name)
		if _, err := selectorFor(r, s.Properties); err != nil {
			return errors.Wrapf(err, "component %q", s.Name)
		}
	}

	for k, v := range s.Properties {
		if !validProperty(v) {
			return errors.Errorf("component %q: "+errFmtPropertyType, s.Name, k)
		}
	}
	return nil
}

// selectorFor parses a reference's target, honouring a <ref>.target
// property override.
func selectorFor(r ReferenceSpec, p Properties) (labels.Selector, error) {
	target := r.Target
	if v, ok := p[r.Name+targetSuffix].(string); ok {
		target = v
	}
	sel, err := labels.Parse(target)
	return sel, errors.Wrapf(err, errFmtParseTarget, r.Name)
}

func scalar(k reflect.Kind) bool {
	switch k { //nolint:exhaustive // Everything else is not a scalar.
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func validProperty(v any) bool {
	if v == nil {
		return false
	}
	rv := reflect.ValueOf(v)
	if scalar(rv.Kind()) {
		return true
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return false
	}
	if scalar(rv.Type().Elem().Kind()) {
		return true
	}
	if rv.Type().Elem().Kind() != reflect.Interface {
		return false
	}
	// A []any, as decoded from YAML or JSON, must hold one scalar type.
	var first reflect.Type
	for i := 0; i < rv.Len(); i++ {
		e := rv.Index(i).Elem()
		if !e.IsValid() || !scalar(e.Kind()) {
			return false
		}
		if first == nil {
			first = e.Type()
		}
		if e.Type() != first {
			return false
		}
	}
	return true
}

// A Module owns a set of component declarations.
type Module struct {
	Name    string
	Version string
}

func (m Module) String() string {
	if m.Version == "" {
		return m.Name
	}
	return m.Name + "@" + m.Version
}
