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
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

const (
	// DefaultLockTimeout is how long a synchronous call waits for a busy
	// component. Zero waits for as long as the component is busy.
	DefaultLockTimeout time.Duration = 0

	errFmtInvalidSpec = "invalid component in module %q"
	errFmtStopModule  = "cannot stop component %q"
)

// DelayedActivation determines how Delayed components are published.
type DelayedActivation int

// Delayed activation modes.
const (
	// LazyActivation publishes a Delayed component's capabilities as soon as
	// it is satisfied and activates it when they are first acquired.
	LazyActivation DelayedActivation = iota

	// ActivateBeforePublish activates a Delayed component as soon as it is
	// satisfied, like an Immediate component.
	ActivateBeforePublish
)

// An Option configures a Runtime.
type Option func(*Runtime)

// WithLogger specifies how the Runtime should log.
func WithLogger(l logging.Logger) Option {
	return func(r *Runtime) {
		r.log = l
	}
}

// WithMetrics specifies how the Runtime should record metrics.
func WithMetrics(m MetricRecorder) Option {
	return func(r *Runtime) {
		r.metrics = m
	}
}

// WithStateObserver specifies a function that is called whenever an
// instance changes state. It is called while the component is locked and
// must not block.
func WithStateObserver(fn func(StateChange)) Option {
	return func(r *Runtime) {
		r.observer = fn
	}
}

// WithClock specifies the clock used to time state changes and lock waits.
func WithClock(c clock.Clock) Option {
	return func(r *Runtime) {
		r.clock = c
	}
}

// WithLockTimeout bounds how long synchronous calls wait for a busy
// component. Calls that time out fail with ErrLockTimeout. A zero or
// negative timeout waits indefinitely, which is the default.
func WithLockTimeout(d time.Duration) Option {
	return func(r *Runtime) {
		r.lockTimeout = d
	}
}

// WithDelayedActivation specifies how Delayed components are activated.
func WithDelayedActivation(m DelayedActivation) Option {
	return func(r *Runtime) {
		r.delayed = m
	}
}

type module struct {
	Module
	decls []*Declaration
}

// A Runtime manages the components declared by started modules. It is the
// entry point for whatever loads modules.
type Runtime struct {
	registry    registry.Registry
	types       *Types
	log         logging.Logger
	metrics     MetricRecorder
	observer    func(StateChange)
	clock       clock.Clock
	lockTimeout time.Duration
	delayed     DelayedActivation

	nextDeclaration atomic.Int64
	nextInstance    atomic.Int64

	mu      sync.RWMutex
	modules map[string]*module

	cycles sync.Mutex
}

// New returns a Runtime that tracks and publishes capabilities in the
// supplied registry, building components from the supplied types.
func New(reg registry.Registry, types *Types, o ...Option) *Runtime {
	r := &Runtime{
		registry:    reg,
		types:       types,
		log:         logging.NewNopLogger(),
		metrics:     NopMetrics{},
		clock:       clock.RealClock{},
		lockTimeout: DefaultLockTimeout,
		modules:     make(map[string]*module),
	}
	for _, fn := range o {
		fn(r)
	}
	if r.types == nil {
		r.types = NewTypes()
	}
	return r
}

// Types returns the implementation types the runtime builds components
// from.
func (r *Runtime) Types() *Types { return r.types }

func (r *Runtime) observe(sc StateChange) {
	if r.observer != nil {
		r.observer(sc)
	}
}

// OnModuleStarted declares the supplied components. Their references are
// tracked and checked for circular dependencies before any of them may
// activate.
func (r *Runtime) OnModuleStarted(m Module, specs []Spec) error {
	names := make(map[string]bool, len(specs))
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return errors.Wrapf(err, errFmtInvalidSpec, m.Name)
		}
		if names[s.Name] {
			return errors.Wrapf(ErrDuplicateComponent, "component %q", s.Name)
		}
		names[s.Name] = true
	}

	r.mu.Lock()
	if _, ok := r.modules[m.Name]; ok {
		r.mu.Unlock()
		return errors.Wrapf(ErrModuleStarted, "module %q", m.Name)
	}
	mod := &module{Module: m, decls: make([]*Declaration, 0, len(specs))}
	for _, s := range specs {
		d, err := newDeclaration(r, m, s)
		if err != nil {
			r.mu.Unlock()
			return errors.Wrapf(err, errFmtInvalidSpec, m.Name)
		}
		mod.decls = append(mod.decls, d)
	}
	r.modules[m.Name] = mod
	r.mu.Unlock()

	for _, d := range mod.decls {
		if _, err := r.types.load(d.spec); err != nil {
			d.fail(err)
		}
		var err error
		if cerr := d.exec.call(func() { err = d.open() }); cerr != nil {
			err = cerr
		}
		if err != nil {
			_ = r.OnModuleStopped(m.Name)
			return errors.Wrapf(err, "cannot start component %q", d.spec.Name)
		}
	}

	r.checkCycles()
	for _, d := range mod.decls {
		d.exec.enqueue(d.start)
	}
	r.log.Info("Module started", "module", m.String(), "components", len(mod.decls))
	return nil
}

// OnModuleStopped deactivates and discards every component the module
// declared.
func (r *Runtime) OnModuleStopped(name string) error {
	r.mu.Lock()
	mod, ok := r.modules[name]
	delete(r.modules, name)
	r.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrModuleNotStarted, "module %q", name)
	}

	var err error
	for _, d := range slices.Backward(mod.decls) {
		if cerr := d.exec.call(d.close); cerr != nil {
			d.log.Info("Cannot stop component", "error", cerr)
			if err == nil {
				err = errors.Wrapf(cerr, errFmtStopModule, d.spec.Name)
			}
		}
	}
	r.checkCycles()
	r.log.Info("Module stopped", "module", mod.String())
	return err
}

// Enable a component. Enabling an enabled component has no effect.
func (r *Runtime) Enable(module, name string) error {
	d, ok := r.Declaration(module, name)
	if !ok {
		return errors.Wrapf(ErrUnknownComponent, "%s/%s", module, name)
	}
	if d.enabled.Swap(true) {
		return nil
	}
	d.log.Debug("Component enabled")
	r.checkCycles()
	d.exec.enqueue(d.evaluate)
	return nil
}

// Disable a component. Its instances are deactivated and its factory
// instances disposed.
func (r *Runtime) Disable(module, name string) error {
	d, ok := r.Declaration(module, name)
	if !ok {
		return errors.Wrapf(ErrUnknownComponent, "%s/%s", module, name)
	}
	if !d.enabled.Swap(false) {
		return nil
	}
	d.log.Debug("Component disabled")
	d.exec.enqueue(func() {
		d.evaluate()
		d.disposeFactories()
	})
	r.checkCycles()
	return nil
}

// Declarations returns every declared component, ordered by module name and
// then by declaration order.
func (r *Runtime) Declarations() []*Declaration {
	r.mu.RLock()
	mods := make([]*module, 0, len(r.modules))
	for _, m := range r.modules {
		mods = append(mods, m)
	}
	r.mu.RUnlock()

	slices.SortFunc(mods, func(a, b *module) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	out := make([]*Declaration, 0)
	for _, m := range mods {
		out = append(out, m.decls...)
	}
	return out
}

// Declaration returns the named component of the named module.
func (r *Runtime) Declaration(module, name string) (*Declaration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.modules[module]
	if !ok {
		return nil, false
	}
	for _, d := range m.decls {
		if d.spec.Name == name {
			return d, true
		}
	}
	return nil, false
}

// CreateFactoryInstance creates an instance of the Factory component with
// the supplied factory id, or name. The instance activates whenever its
// references are satisfied, until it is disposed.
func (r *Runtime) CreateFactoryInstance(name string, overrides Properties) (*FactoryInstance, error) {
	d, err := r.factory(name)
	if err != nil {
		return nil, err
	}
	return r.newFactoryInstance(d, overrides)
}

func (r *Runtime) factory(name string) (*Declaration, error) {
	var byID, byName []*Declaration
	for _, d := range r.Declarations() {
		if d.spec.Mode == Factory && d.spec.FactoryID() == name {
			byID = append(byID, d)
		}
		if d.spec.Name == name {
			byName = append(byName, d)
		}
	}
	found := byID
	if len(found) == 0 {
		found = byName
	}
	switch len(found) {
	case 0:
		return nil, errors.Wrapf(ErrUnknownComponent, "%q", name)
	case 1:
		return found[0], nil
	default:
		return nil, errors.Wrapf(ErrAmbiguousComponent, "%q", name)
	}
}

func (r *Runtime) newFactoryInstance(d *Declaration, overrides Properties) (*FactoryInstance, error) {
	if d.spec.Mode != Factory {
		return nil, errors.Wrapf(ErrNotFactory, "%q", d.spec.Name)
	}
	var f *FactoryInstance
	var err error
	if cerr := d.exec.call(func() { f, err = d.createFactoryInstance(overrides) }); cerr != nil {
		return nil, cerr
	}
	return f, err
}
