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
	"github.com/pkg/errors"
)

// A ReferenceOption configures a reference added by a SpecBuilder.
type ReferenceOption func(*ReferenceSpec)

// WithTarget sets the reference's target filter.
func WithTarget(selector string) ReferenceOption {
	return func(r *ReferenceSpec) {
		r.Target = selector
	}
}

// WithCardinality sets the reference's cardinality.
func WithCardinality(c Cardinality) ReferenceOption {
	return func(r *ReferenceSpec) {
		r.Cardinality = c
	}
}

// WithPolicy sets the reference's policy.
func WithPolicy(p Policy) ReferenceOption {
	return func(r *ReferenceSpec) {
		r.Policy = p
	}
}

// WithHooks names the hooks the implementation's Binder is called with.
func WithHooks(bind, unbind string) ReferenceOption {
	return func(r *ReferenceSpec) {
		r.Bind = bind
		r.Unbind = unbind
	}
}

// SpecBuilder builds a Spec. It provides a fluent API for declaring
// components in code.
type SpecBuilder struct {
	spec Spec
}

// NewSpecBuilder returns a builder for a component implemented by the named
// type.
func NewSpecBuilder(name, implementation string) *SpecBuilder {
	return &SpecBuilder{spec: Spec{Name: name, Implementation: implementation, Properties: Properties{}}}
}

// Provides adds published capabilities.
func (b *SpecBuilder) Provides(capabilities ...string) *SpecBuilder {
	b.spec.Provides = append(b.spec.Provides, capabilities...)
	return b
}

// References adds a reference to a capability. References default to a
// mandatory, static, single cardinality.
func (b *SpecBuilder) References(name, capability string, o ...ReferenceOption) *SpecBuilder {
	r := ReferenceSpec{Name: name, Capability: capability}
	for _, fn := range o {
		fn(&r)
	}
	b.spec.References = append(b.spec.References, r)
	return b
}

// WithProperty sets a property.
func (b *SpecBuilder) WithProperty(key string, value any) *SpecBuilder {
	b.spec.Properties[key] = value
	return b
}

// Delayed makes the component a Delayed component.
func (b *SpecBuilder) Delayed() *SpecBuilder {
	b.spec.Mode = Delayed
	return b
}

// Factory makes the component a Factory component with the supplied id.
func (b *SpecBuilder) Factory(id string) *SpecBuilder {
	b.spec.Mode = Factory
	b.spec.Factory = id
	return b
}

// PerConsumer gives each consumer of the component its own instance.
func (b *SpecBuilder) PerConsumer() *SpecBuilder {
	b.spec.PerConsumer = true
	return b
}

// Disabled declares the component disabled.
func (b *SpecBuilder) Disabled() *SpecBuilder {
	b.spec.Disabled = true
	return b
}

// Complete validates and returns the Spec.
func (b *SpecBuilder) Complete() (Spec, error) {
	if err := b.spec.Validate(); err != nil {
		return Spec{}, errors.Wrap(err, "invalid component")
	}
	return b.spec, nil
}

// MustComplete is like Complete, but panics if the Spec is invalid.
func (b *SpecBuilder) MustComplete() Spec {
	s, err := b.Complete()
	if err != nil {
		panic(err)
	}
	return s
}
