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
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

// State is the lifecycle state of an Instance.
type State int

// Instance states.
const (
	Inactive State = iota
	Activating
	Active
	Deactivating
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Activating:
		return "Activating"
	case Active:
		return "Active"
	case Deactivating:
		return "Deactivating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// A StateChange is reported to the runtime's StateObserver whenever an
// instance changes state.
type StateChange struct {
	Module    string
	Component string
	Instance  string
	From      State
	To        State
	Time      time.Time

	// Err is set when an activation failed.
	Err error
}

var errInstanceUsed = errors.New("instance has already been activated")

type binding struct {
	entry   *registry.Entry
	service any
}

// An Instance is one instantiation of a component. Instances are never
// reactivated: once deactivated a fresh instance is created for the next
// activation.
type Instance struct {
	id       string
	decl     *Declaration
	trackers []*ReferenceTracker
	props    Properties
	consumer registry.Consumer
	log      logging.Logger
	used     bool

	// served is the entry a per consumer instance was created for.
	served *registry.Entry

	mu    sync.RWMutex
	state State
	obj   any
	bound [][]binding
}

func newInstance(d *Declaration, trackers []*ReferenceTracker, props Properties) *Instance {
	id := fmt.Sprintf("%s#%d", d.spec.Name, d.rt.nextInstance.Add(1))
	return &Instance{
		id:       id,
		decl:     d,
		trackers: trackers,
		props:    props,
		consumer: registry.Consumer(id),
		log:      d.log.WithValues("instance", id),
		bound:    make([][]binding, len(trackers)),
	}
}

// ID returns the instance's identifier. It is also the consumer identity the
// instance acquires capabilities with.
func (i *Instance) ID() string { return i.id }

// Declaration returns the declaration the instance was created from.
func (i *Instance) Declaration() *Declaration { return i.decl }

// Properties returns the instance's properties.
func (i *Instance) Properties() Properties { return i.props.Copy() }

// State returns the instance's lifecycle state.
func (i *Instance) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

// Object returns the implementation object while the instance is active.
func (i *Instance) Object() any {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.state != Active {
		return nil
	}
	return i.obj
}

// Bound returns the entries bound to the named reference.
func (i *Instance) Bound(reference string) []*registry.Entry {
	idx := i.decl.reference(reference)
	if idx < 0 {
		return nil
	}
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*registry.Entry, 0, len(i.bound[idx]))
	for _, b := range i.bound[idx] {
		out = append(out, b.entry)
	}
	return out
}

func (i *Instance) setState(s State, err error) {
	i.mu.Lock()
	from := i.state
	i.state = s
	i.mu.Unlock()

	switch {
	case s == Active:
		i.decl.active.Add(1)
		i.decl.rt.metrics.AddActive(i.decl.spec.Name, 1)
	case from == Active:
		i.decl.active.Add(-1)
		i.decl.rt.metrics.AddActive(i.decl.spec.Name, -1)
	}
	i.decl.rt.observe(StateChange{
		Module:    i.decl.module.Name,
		Component: i.decl.spec.Name,
		Instance:  i.id,
		From:      from,
		To:        s,
		Time:      i.decl.rt.clock.Now(),
		Err:       err,
	})
}

func (i *Instance) context() *Context { return &Context{i: i} }

// activate constructs the implementation, binds every reference in declared
// order and calls the activation hook. On failure everything bound so far
// is unbound in reverse order and the instance ends Inactive.
func (i *Instance) activate() error {
	if i.used {
		return errInstanceUsed
	}
	i.used = true
	i.setState(Activating, nil)

	err := i.doActivate()
	if err != nil {
		i.unbindAll()
		i.mu.Lock()
		i.obj = nil
		i.mu.Unlock()
		i.setState(Inactive, err)
		i.decl.rt.metrics.RecordActivation(i.decl.spec.Name, err)
		return err
	}

	i.setState(Active, nil)
	i.decl.rt.metrics.RecordActivation(i.decl.spec.Name, nil)
	i.log.Debug("Activated component")
	return nil
}

func (i *Instance) doActivate() error {
	s := i.decl.spec
	impl, err := i.decl.rt.types.load(s)
	if err != nil {
		return err
	}
	obj, err := impl.construct()
	if err != nil {
		return &ImplementationLoadError{Component: s.Name, Implementation: s.Implementation, Err: err}
	}
	if impl.deferred {
		if _, ok := obj.(Binder); !ok {
			for _, r := range s.References {
				if r.hooked() {
					return &ImplementationLoadError{Component: s.Name, Implementation: s.Implementation, Err: errors.Wrapf(ErrMissingBinder, "reference %q", r.Name)}
				}
			}
		}
	}

	i.mu.Lock()
	i.obj = obj
	i.mu.Unlock()

	for idx, t := range i.trackers {
		n := 0
		for _, e := range t.Entries() {
			b, err := i.acquire(idx, e)
			if err != nil {
				i.log.Info("Cannot bind capability", "error", err)
				continue
			}
			if err := i.bind(idx, b); err != nil {
				return err
			}
			n++
			if !t.spec.Cardinality.Multiple() {
				break
			}
		}
		if n == 0 && t.spec.Mandatory() {
			return errors.Wrapf(ErrUnsatisfied, "reference %q has no bindable targets", t.spec.Name)
		}
	}

	if a, ok := obj.(Activator); ok {
		if err := a.Activate(i.context()); err != nil {
			return &ActivationHookError{Component: s.Name, Hook: "activate", Err: err}
		}
	}
	return nil
}

// deactivate calls the deactivation hook, then unbinds every reference in
// reverse declared order.
func (i *Instance) deactivate() {
	if i.State() != Active {
		return
	}
	i.setState(Deactivating, nil)

	if d, ok := i.obj.(Deactivator); ok {
		if err := d.Deactivate(i.context()); err != nil {
			err = &DeactivationHookError{Component: i.decl.spec.Name, Err: err}
			i.log.Info("Deactivation hook failed", "error", err)
			i.decl.recordError(err)
		}
	}
	i.unbindAll()

	i.mu.Lock()
	i.obj = nil
	i.mu.Unlock()
	i.setState(Inactive, nil)
	i.decl.rt.metrics.RecordDeactivation(i.decl.spec.Name)
	i.log.Debug("Deactivated component")
}

func (i *Instance) acquire(idx int, e *registry.Entry) (binding, error) {
	svc, err := i.decl.rt.registry.Acquire(i.consumer, e)
	if err != nil {
		err = &BindMismatchError{Component: i.decl.spec.Name, Reference: i.trackers[idx].spec.Name, Entry: e.String(), Err: err}
		i.decl.recordError(err)
		return binding{}, err
	}
	return binding{entry: e, service: svc}, nil
}

// bind records the binding and calls the bind hook. The binding is kept
// even if the hook fails so that it is released later.
func (i *Instance) bind(idx int, b binding) error {
	r := i.trackers[idx].spec
	i.mu.Lock()
	i.bound[idx] = append(i.bound[idx], b)
	i.mu.Unlock()

	i.decl.rt.metrics.RecordBind(i.decl.spec.Name, r.Name)
	if r.Bind == "" {
		return nil
	}
	if err := i.obj.(Binder).Bind(r.Bind, Target{Reference: r.Name, Entry: b.entry, Service: b.service}); err != nil {
		return &ActivationHookError{Component: i.decl.spec.Name, Hook: r.Bind, Err: err}
	}
	return nil
}

// unbind calls the unbind hook, then forgets and releases the binding.
func (i *Instance) unbind(idx int, b binding) {
	r := i.trackers[idx].spec
	if r.Unbind != "" {
		if err := i.obj.(Binder).Unbind(r.Unbind, Target{Reference: r.Name, Entry: b.entry, Service: b.service}); err != nil {
			i.log.Info("Unbind hook failed", "error", err, "hook", r.Unbind, "entry", b.entry.String())
		}
	}

	i.mu.Lock()
	i.bound[idx] = slices.DeleteFunc(i.bound[idx], func(x binding) bool { return x.entry == b.entry })
	i.mu.Unlock()

	i.decl.rt.registry.Release(i.consumer, b.entry)
	i.decl.rt.metrics.RecordUnbind(i.decl.spec.Name, r.Name)
}

func (i *Instance) unbindAll() {
	for idx := len(i.bound) - 1; idx >= 0; idx-- {
		i.mu.RLock()
		bs := slices.Clone(i.bound[idx])
		i.mu.RUnlock()
		for j := len(bs) - 1; j >= 0; j-- {
			i.unbind(idx, bs[j])
		}
	}
}

// update applies a change in the tracked set of reference idx to a live
// instance. It returns true if the change cannot be applied in place and the
// instance must be replaced.
func (i *Instance) update(idx int) bool {
	if i.State() != Active {
		return false
	}
	t := i.trackers[idx]
	i.mu.RLock()
	cur := slices.Clone(i.bound[idx])
	i.mu.RUnlock()

	if t.spec.Policy == Static {
		for _, b := range cur {
			if !t.tracks(b.entry) {
				i.log.Debug("Static reference lost its target", "reference", t.spec.Name, "entry", b.entry.String())
				return true
			}
		}
		return false
	}

	if !t.IsSatisfied() {
		return true
	}

	if t.spec.Cardinality.Multiple() {
		for j := len(cur) - 1; j >= 0; j-- {
			if !t.tracks(cur[j].entry) {
				i.unbind(idx, cur[j])
			}
		}
		for _, e := range t.Entries() {
			if slices.ContainsFunc(cur, func(b binding) bool { return b.entry == e }) {
				continue
			}
			i.rebind(idx, e)
		}
	} else {
		es := t.Entries()
		if len(cur) == 1 && len(es) > 0 && es[0] == cur[0].entry {
			return false
		}
		if len(cur) == 1 {
			i.unbind(idx, cur[0])
		}
		for _, e := range es {
			if i.rebind(idx, e) {
				break
			}
		}
	}

	i.mu.RLock()
	n := len(i.bound[idx])
	i.mu.RUnlock()
	return n == 0 && t.spec.Mandatory()
}

// rebind binds a target to a live instance. Hook failures are logged; the
// target stays bound.
func (i *Instance) rebind(idx int, e *registry.Entry) bool {
	b, err := i.acquire(idx, e)
	if err != nil {
		i.log.Info("Cannot bind capability", "error", err)
		return false
	}
	if err := i.bind(idx, b); err != nil {
		i.log.Info("Bind hook failed", "error", err)
		i.decl.recordError(err)
	}
	return true
}
