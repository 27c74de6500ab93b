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
	"github.com/crossplane/component-runtime/pkg/registry"
)

// FactoryCapability is the capability satisfied Factory components publish.
// The published object is a ComponentFactory; its component.factory property
// is the factory id.
const FactoryCapability = "component.ComponentFactory"

// A ComponentFactory creates instances of a Factory component.
type ComponentFactory interface {
	NewInstance(overrides Properties) (*FactoryInstance, error)
}

type componentFactory struct {
	d *Declaration
}

func (f *componentFactory) NewInstance(overrides Properties) (*FactoryInstance, error) {
	return f.d.rt.newFactoryInstance(f.d, overrides)
}

// A delayedProvider activates a Delayed component the first time any
// consumer acquires its capabilities.
type delayedProvider struct {
	d *Declaration
}

func (p *delayedProvider) GetService(_ registry.Consumer, _ *registry.Entry) (any, error) {
	var svc any
	var err error
	if cerr := p.d.exec.call(func() { svc, err = p.d.lazyGet() }); cerr != nil {
		return nil, cerr
	}
	return svc, err
}

func (p *delayedProvider) UngetService(_ registry.Consumer, _ *registry.Entry, _ any) {
	p.d.exec.enqueue(p.d.lazyUnget)
}

// A consumerProvider gives every consumer its own instance.
type consumerProvider struct {
	d *Declaration
}

func (p *consumerProvider) GetService(c registry.Consumer, e *registry.Entry) (any, error) {
	var svc any
	var err error
	if cerr := p.d.exec.call(func() { svc, err = p.d.consumerGet(c, e) }); cerr != nil {
		return nil, cerr
	}
	return svc, err
}

func (p *consumerProvider) UngetService(c registry.Consumer, e *registry.Entry, _ any) {
	p.d.exec.enqueue(func() { p.d.consumerUnget(c, e) })
}
