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
	"reflect"
	"sync"

	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/registry"
)

// An Activator is called once its component's references are bound.
// Returning an error discards the instance.
type Activator interface {
	Activate(ctx *Context) error
}

// A Deactivator is called before its component's references are unbound.
// Errors are logged.
type Deactivator interface {
	Deactivate(ctx *Context) error
}

// A Binder receives the targets of references that declare bind or unbind
// hooks. The hook argument is the hook name the reference declares.
type Binder interface {
	Bind(hook string, t Target) error
	Unbind(hook string, t Target) error
}

// A Target is a capability bound to a reference.
type Target struct {
	Reference string
	Entry     *registry.Entry
	Service   any
}

type implementation struct {
	name        string
	construct   func() (any, error)
	activator   bool
	deactivator bool
	binder      bool

	// deferred implementations are interface types whose hooks can only be
	// known once constructed.
	deferred bool
}

// Types records the implementation types components may be built from.
type Types struct {
	mu    sync.RWMutex
	types map[string]implementation
}

// NewTypes returns an empty Types.
func NewTypes() *Types {
	return &Types{types: make(map[string]implementation)}
}

// Register an implementation type under the supplied name. The hooks T
// implements are recorded now, so that components whose references declare
// hooks on a type that is not a Binder are refused before they activate.
func Register[T any](ts *Types, name string, construct func() (T, error)) error {
	var zero T
	_, a := any(zero).(Activator)
	_, d := any(zero).(Deactivator)
	_, b := any(zero).(Binder)
	impl := implementation{
		name:        name,
		activator:   a,
		deactivator: d,
		binder:      b,
		deferred:    reflect.TypeFor[T]().Kind() == reflect.Interface,
		construct: func() (any, error) {
			return construct()
		},
	}

	ts.mu.Lock()
	defer ts.mu.Unlock()
	if _, ok := ts.types[name]; ok {
		return errors.Wrap(ErrDuplicateType, name)
	}
	ts.types[name] = impl
	return nil
}

// Has returns true if a type is registered under the supplied name.
func (ts *Types) Has(name string) bool {
	_, ok := ts.lookup(name)
	return ok
}

func (ts *Types) lookup(name string) (implementation, bool) {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	i, ok := ts.types[name]
	return i, ok
}

// load resolves and checks the implementation of a Spec.
func (ts *Types) load(s Spec) (implementation, error) {
	impl, ok := ts.lookup(s.Implementation)
	if !ok {
		return impl, &ImplementationLoadError{Component: s.Name, Implementation: s.Implementation, Err: ErrUnknownType}
	}
	if impl.deferred || impl.binder {
		return impl, nil
	}
	for _, r := range s.References {
		if r.hooked() {
			return impl, &ImplementationLoadError{Component: s.Name, Implementation: s.Implementation, Err: errors.Wrapf(ErrMissingBinder, "reference %q", r.Name)}
		}
	}
	return impl, nil
}

// A Context is passed to activation and deactivation hooks.
type Context struct {
	i *Instance
}

// Properties returns the instance's properties.
func (c *Context) Properties() Properties { return c.i.props.Copy() }

// Module returns the module that declared the component.
func (c *Context) Module() Module { return c.i.decl.module }

// Instance returns the instance being activated or deactivated.
func (c *Context) Instance() *Instance { return c.i }

// Locate returns the first target bound to the named reference.
func (c *Context) Locate(reference string) (any, bool) {
	all := c.LocateAll(reference)
	if len(all) == 0 {
		return nil, false
	}
	return all[0], true
}

// LocateAll returns every target bound to the named reference.
func (c *Context) LocateAll(reference string) []any {
	idx := c.i.decl.reference(reference)
	if idx < 0 {
		return nil
	}
	c.i.mu.RLock()
	defer c.i.mu.RUnlock()
	out := make([]any, 0, len(c.i.bound[idx]))
	for _, b := range c.i.bound[idx] {
		out = append(out, b.service)
	}
	return out
}
