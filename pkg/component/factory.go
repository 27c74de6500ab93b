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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

const (
	errMergeOverrides = "cannot merge factory instance properties"
	errFmtOverride    = "override %q must be a scalar or a homogeneous array of scalars"
)

// A FactoryInstance is an instance of a Factory component created on
// request. It tracks its references independently of the component's other
// instances, and is activated and deactivated as they are satisfied until it
// is disposed.
type FactoryInstance struct {
	id       string
	decl     *Declaration
	props    Properties
	trackers []*ReferenceTracker
	log      logging.Logger
	disposed atomic.Bool

	// Guarded by the declaration's executor.
	gone bool
	live bool
	gen  uint64
	reg  registry.Registration

	mu       sync.Mutex
	instance *Instance
}

// ID returns the factory instance's unique id.
func (f *FactoryInstance) ID() string { return f.id }

// Properties returns the component's properties with the instance's
// overrides applied.
func (f *FactoryInstance) Properties() Properties { return f.props.Copy() }

// Instance returns the current instance, if the factory instance has been
// activated.
func (f *FactoryInstance) Instance() *Instance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.instance
}

// State returns the state of the current instance.
func (f *FactoryInstance) State() State {
	if i := f.Instance(); i != nil {
		return i.State()
	}
	return Inactive
}

// Object returns the implementation object while the instance is active.
func (f *FactoryInstance) Object() any {
	if i := f.Instance(); i != nil {
		return i.Object()
	}
	return nil
}

// Trackers returns the factory instance's own reference trackers.
func (f *FactoryInstance) Trackers() []*ReferenceTracker {
	return append([]*ReferenceTracker(nil), f.trackers...)
}

// Dispose deactivates the instance and stops tracking its references.
// Disposing an instance more than once has no effect.
func (f *FactoryInstance) Dispose() error {
	if f.disposed.Swap(true) {
		return nil
	}
	if err := f.decl.exec.call(f.dispose); err != nil {
		f.disposed.Store(false)
		return err
	}
	return nil
}

func (d *Declaration) createFactoryInstance(overrides Properties) (*FactoryInstance, error) {
	if d.closed || !d.live {
		return nil, ErrUnsatisfied
	}
	for k, v := range overrides {
		if !validProperty(v) {
			return nil, errors.Errorf(errFmtOverride, k)
		}
	}
	props, err := d.properties().Merge(overrides)
	if err != nil {
		return nil, errors.Wrap(err, errMergeOverrides)
	}
	props[PropertyComponentName] = d.spec.Name
	props[PropertyComponentID] = d.id
	props[PropertyFactory] = d.spec.FactoryID()

	id := uuid.NewString()
	f := &FactoryInstance{
		id:    id,
		decl:  d,
		props: props,
		log:   d.log.WithValues("factory-instance", id),
	}
	ts, err := d.newTrackers(props, f.referenceChanged)
	if err != nil {
		return nil, err
	}
	f.trackers = ts
	for _, t := range ts {
		if err := t.Open(); err != nil {
			for _, t := range ts {
				_ = t.Close()
			}
			return nil, errors.Wrap(err, errOpenTracker)
		}
	}

	d.mu.Lock()
	d.factories[id] = f
	d.mu.Unlock()

	f.log.Debug("Created factory instance")
	f.evaluate()
	return f, nil
}

func (f *FactoryInstance) ready() bool {
	if f.gone || !f.decl.enabled.Load() {
		return false
	}
	for _, t := range f.trackers {
		if !t.IsSatisfied() {
			return false
		}
	}
	return true
}

func (f *FactoryInstance) evaluate() {
	ready := f.ready()
	if ready == f.live {
		return
	}
	f.live = ready
	if ready {
		f.activate()
		return
	}
	f.deactivate()
}

func (f *FactoryInstance) activate() {
	f.gen++
	gen := f.gen
	i := newInstance(f.decl, f.trackers, f.props)
	if err := i.activate(); err != nil {
		f.decl.fail(err)
		if errors.Is(err, ErrUnsatisfied) {
			f.live = false
		}
		return
	}
	f.mu.Lock()
	f.instance = i
	f.mu.Unlock()

	if len(f.decl.spec.Provides) == 0 {
		return
	}
	reg := publish(f.decl, f.decl.spec.Provides, f.props, i.Object(), func() bool { return f.live && f.gen == gen })
	if reg != nil {
		f.reg = reg
	}
}

func (f *FactoryInstance) deactivate() {
	f.gen++
	if f.reg != nil {
		reg := f.reg
		f.reg = nil
		_ = reg.Unpublish()
	}
	f.mu.Lock()
	i := f.instance
	f.instance = nil
	f.mu.Unlock()
	if i != nil {
		i.deactivate()
	}
}

func (f *FactoryInstance) referenceChanged(idx int) {
	if f.gone {
		return
	}
	if f.live && f.ready() {
		if i := f.Instance(); i != nil && i.update(idx) {
			f.log.Debug("Reference change requires reactivation", "reference", f.trackers[idx].spec.Name)
			f.deactivate()
			f.activate()
		}
		return
	}
	f.evaluate()
}

// dispose must run on the declaration's executor.
func (f *FactoryInstance) dispose() {
	if f.gone {
		return
	}
	f.gone = true
	f.disposed.Store(true)
	if f.live {
		f.live = false
		f.deactivate()
	}
	for _, t := range f.trackers {
		_ = t.Close()
	}

	d := f.decl
	d.mu.Lock()
	delete(d.factories, f.id)
	d.mu.Unlock()
	f.log.Debug("Disposed factory instance")
}
