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
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

const (
	errPublish       = "cannot publish capabilities"
	errOpenTracker   = "cannot open reference tracker"
	errFmtBadTargets = "cannot build reference trackers of component %q"
)

// Status summarises a declaration for callers that observe the runtime.
type Status struct {
	Enabled   bool
	Satisfied bool

	// Blocked is set while the component is part of a circular dependency.
	Blocked *CircularDependencyError

	// Instances counts the component's active instances.
	Instances int

	// LastError is the most recent failure recovered by the runtime.
	LastError error
}

// A Declaration is a component declared by a started module. It tracks the
// component's references and creates, activates and deactivates its
// instances as the references are satisfied.
type Declaration struct {
	rt       *Runtime
	id       int64
	module   Module
	spec     Spec
	log      logging.Logger
	exec     *executor
	trackers []*ReferenceTracker

	enabled atomic.Bool
	blocked atomic.Pointer[CircularDependencyError]
	active  atomic.Int32

	// Guarded by exec.
	started bool
	closed  bool
	live    bool
	gen     uint64
	failed  bool
	reg     registry.Registration
	users   int

	mu        sync.Mutex
	instance  *Instance
	consumers map[registry.Consumer]*Instance
	factories map[string]*FactoryInstance
	lastErr   error
}

func newDeclaration(rt *Runtime, m Module, s Spec) (*Declaration, error) {
	d := &Declaration{
		rt:        rt,
		id:        rt.nextDeclaration.Add(1),
		module:    m,
		spec:      s,
		log:       rt.log.WithValues("module", m.Name, "component", s.Name),
		exec:      newExecutor(rt.clock, rt.lockTimeout),
		consumers: make(map[registry.Consumer]*Instance),
		factories: make(map[string]*FactoryInstance),
	}
	d.enabled.Store(!s.Disabled)

	ts, err := d.newTrackers(s.Properties, d.referenceChanged)
	if err != nil {
		return nil, errors.Wrapf(err, errFmtBadTargets, s.Name)
	}
	d.trackers = ts
	return d, nil
}

func (d *Declaration) newTrackers(p Properties, changed func(idx int)) ([]*ReferenceTracker, error) {
	ts := make([]*ReferenceTracker, len(d.spec.References))
	for idx, r := range d.spec.References {
		sel, err := selectorFor(r, p)
		if err != nil {
			return nil, err
		}
		ts[idx] = newTracker(r, sel, d.rt.registry, d.exec, d.log, func() { changed(idx) })
	}
	return ts, nil
}

// ID returns the runtime assigned component id.
func (d *Declaration) ID() int64 { return d.id }

// Name returns the component's name.
func (d *Declaration) Name() string { return d.spec.Name }

// Module returns the module that declared the component.
func (d *Declaration) Module() Module { return d.module }

// Spec returns the component's declaration.
func (d *Declaration) Spec() Spec { return d.spec }

// Trackers returns the component's reference trackers, in declared order.
func (d *Declaration) Trackers() []*ReferenceTracker { return slices.Clone(d.trackers) }

// IsSatisfied returns true if the component is enabled and all of its
// references are satisfied.
func (d *Declaration) IsSatisfied() bool {
	if !d.enabled.Load() {
		return false
	}
	for _, t := range d.trackers {
		if !t.IsSatisfied() {
			return false
		}
	}
	return true
}

// Status returns the component's status.
func (d *Declaration) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Status{
		Enabled:   d.enabled.Load(),
		Satisfied: d.IsSatisfied(),
		Blocked:   d.blocked.Load(),
		Instances: int(d.active.Load()),
		LastError: d.lastErr,
	}
}

// Instance returns the component's current instance, if it is an Immediate
// or Delayed component that has one.
func (d *Declaration) Instance() *Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.instance
}

// ConsumerInstance returns the instance created for a consumer of a per
// consumer component.
func (d *Declaration) ConsumerInstance(c registry.Consumer) *Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumers[c]
}

// FactoryInstances returns the factory instances created from the
// component, ordered by id.
func (d *Declaration) FactoryInstances() []*FactoryInstance {
	d.mu.Lock()
	out := make([]*FactoryInstance, 0, len(d.factories))
	for _, f := range d.factories {
		out = append(out, f)
	}
	d.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *Declaration) reference(name string) int {
	return slices.IndexFunc(d.spec.References, func(r ReferenceSpec) bool { return r.Name == name })
}

func (d *Declaration) recordError(err error) {
	d.mu.Lock()
	d.lastErr = err
	d.mu.Unlock()
}

func (d *Declaration) fail(err error) {
	d.log.Info("Component failed", "error", err)
	d.recordError(err)
}

func (d *Declaration) properties() Properties {
	p := d.spec.Properties.Copy()
	p[PropertyComponentName] = d.spec.Name
	p[PropertyComponentID] = d.id
	return p
}

func (d *Declaration) setInstance(i *Instance) {
	d.mu.Lock()
	d.instance = i
	d.mu.Unlock()
}

func (d *Declaration) ready() bool {
	return d.started && !d.closed && d.blocked.Load() == nil && d.IsSatisfied()
}

func (d *Declaration) open() error {
	for _, t := range d.trackers {
		if err := t.Open(); err != nil {
			return errors.Wrap(err, errOpenTracker)
		}
	}
	return nil
}

func (d *Declaration) start() {
	d.started = true
	d.evaluate()
}

// evaluate reacts to a change in the component's satisfaction. It is edge
// triggered: nothing happens unless readiness differs from the last
// evaluation.
func (d *Declaration) evaluate() {
	ready := d.ready()
	if ready == d.live {
		return
	}
	d.live = ready
	if ready {
		d.log.Debug("Component satisfied")
		d.onSatisfied()
		return
	}
	d.log.Debug("Component unsatisfied")
	d.onUnsatisfied()
}

func (d *Declaration) onSatisfied() {
	d.gen++
	d.failed = false
	props := d.properties()

	switch {
	case d.spec.Mode == Factory:
		props[PropertyFactory] = d.spec.FactoryID()
		d.keep(d.publish([]string{FactoryCapability}, props, &componentFactory{d: d}))
	case d.spec.PerConsumer:
		d.keep(d.publish(d.spec.Provides, props, &consumerProvider{d: d}))
	case d.spec.Mode == Delayed && len(d.spec.Provides) > 0 && d.rt.delayed == LazyActivation:
		d.keep(d.publish(d.spec.Provides, props, &delayedProvider{d: d}))
	default:
		i := newInstance(d, d.trackers, d.properties())
		if err := i.activate(); err != nil {
			d.fail(err)
			// Targets that cannot be acquired count as unmatched, so the
			// next change to the tracked set tries again.
			if errors.Is(err, ErrUnsatisfied) {
				d.live = false
			}
			return
		}
		d.setInstance(i)
		if len(d.spec.Provides) > 0 {
			d.keep(d.publish(d.spec.Provides, props, i.Object()))
		}
	}
}

func (d *Declaration) onUnsatisfied() {
	d.gen++
	if d.reg != nil {
		reg := d.reg
		d.reg = nil
		if err := reg.Unpublish(); err != nil {
			d.log.Debug("Cannot unpublish capabilities", "error", err)
		}
	}

	d.mu.Lock()
	i := d.instance
	d.instance = nil
	consumers := d.consumers
	d.consumers = make(map[registry.Consumer]*Instance)
	d.mu.Unlock()

	if i != nil {
		i.deactivate()
	}
	for _, c := range sortedConsumers(consumers) {
		consumers[c].deactivate()
	}
	d.users = 0
}

// publish registers capabilities without holding the executor, so that
// consumers reacting to the publication can call back into this component.
// It returns nil if the component changed while the publication was in
// flight.
func (d *Declaration) publish(caps []string, props Properties, svc any) registry.Registration {
	gen := d.gen
	return publish(d, caps, props, svc, func() bool { return d.live && d.gen == gen })
}

func (d *Declaration) keep(r registry.Registration) {
	if r != nil {
		d.reg = r
	}
}

func publish(d *Declaration, caps []string, props Properties, svc any, current func() bool) registry.Registration {
	var reg registry.Registration
	var err error
	d.exec.unlocked(func() {
		reg, err = d.rt.registry.Publish(caps, props, svc)
	})
	if err != nil {
		d.fail(errors.Wrap(err, errPublish))
		return nil
	}
	if !current() {
		_ = reg.Unpublish()
		return nil
	}
	return reg
}

// referenceChanged applies a change to reference idx to every live
// instance, replacing them all if any cannot apply it in place.
func (d *Declaration) referenceChanged(idx int) {
	if d.closed {
		return
	}
	if d.live && d.ready() {
		for _, i := range d.liveInstances() {
			if i.update(idx) {
				d.log.Debug("Reference change requires reactivation", "reference", d.spec.References[idx].Name)
				d.onUnsatisfied()
				d.onSatisfied()
				break
			}
		}
	} else {
		d.evaluate()
	}

	t := d.trackers[idx]
	if d.blocked.Load() != nil || (t.spec.Mandatory() && t.Count() == 0) {
		d.rt.checkCycles()
	}
}

func (d *Declaration) liveInstances() []*Instance {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Instance, 0, len(d.consumers)+1)
	if d.instance != nil {
		out = append(out, d.instance)
	}
	for _, c := range sortedConsumers(d.consumers) {
		out = append(out, d.consumers[c])
	}
	return out
}

// lazyGet activates a Delayed component on first use.
func (d *Declaration) lazyGet() (any, error) {
	if !d.live {
		return nil, ErrUnsatisfied
	}
	if i := d.Instance(); i != nil && i.State() == Active {
		d.users++
		return i.Object(), nil
	}
	if d.failed {
		return nil, errors.Wrap(ErrUnsatisfied, "activation failed")
	}
	i := newInstance(d, d.trackers, d.properties())
	if err := i.activate(); err != nil {
		d.failed = !errors.Is(err, ErrUnsatisfied)
		d.fail(err)
		return nil, err
	}
	d.setInstance(i)
	d.users++
	return i.Object(), nil
}

// lazyUnget records a consumer's release of a Delayed component. The
// instance stays active until the component is unsatisfied.
func (d *Declaration) lazyUnget() {
	if d.users > 0 {
		d.users--
	}
}

// consumerGet returns the instance dedicated to the consumer, creating and
// activating it on first use.
func (d *Declaration) consumerGet(c registry.Consumer, e *registry.Entry) (any, error) {
	if !d.live {
		return nil, ErrUnsatisfied
	}
	if i := d.ConsumerInstance(c); i != nil && i.State() == Active {
		return i.Object(), nil
	}
	i := newInstance(d, d.trackers, d.properties())
	i.served = e
	if err := i.activate(); err != nil {
		d.fail(err)
		return nil, err
	}
	d.mu.Lock()
	d.consumers[c] = i
	d.mu.Unlock()
	d.log.Debug("Created instance for consumer", "consumer", string(c), "instance", i.ID())
	return i.Object(), nil
}

// consumerUnget disposes of the instance the consumer acquired through the
// supplied entry.
func (d *Declaration) consumerUnget(c registry.Consumer, e *registry.Entry) {
	d.mu.Lock()
	i, ok := d.consumers[c]
	if !ok || i.served != e {
		d.mu.Unlock()
		return
	}
	delete(d.consumers, c)
	d.mu.Unlock()
	i.deactivate()
}

func (d *Declaration) disposeFactories() {
	for _, f := range d.FactoryInstances() {
		f.dispose()
	}
}

// close deactivates everything and stops tracking. It is called when the
// module stops.
func (d *Declaration) close() {
	if d.closed {
		return
	}
	if d.live {
		d.live = false
		d.onUnsatisfied()
	}
	d.closed = true
	d.disposeFactories()
	for _, t := range d.trackers {
		_ = t.Close()
	}
}

func sortedConsumers(m map[registry.Consumer]*Instance) []registry.Consumer {
	out := make([]registry.Consumer, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}
