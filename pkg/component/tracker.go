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

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/crossplane/component-runtime/pkg/logging"
	"github.com/crossplane/component-runtime/pkg/registry"
)

const errSubscribe = "cannot subscribe to capability"

// A ReferenceTracker tracks the registry entries that match one reference.
// Changes to the tracked set are applied on the owning declaration's
// executor, which then reacts to them.
type ReferenceTracker struct {
	spec     ReferenceSpec
	selector labels.Selector
	registry registry.Registry
	exec     *executor
	changed  func()
	log      logging.Logger

	mu      sync.RWMutex
	entries []*registry.Entry
	sub     registry.Subscription
	open    bool
	closed  bool
}

func newTracker(r ReferenceSpec, sel labels.Selector, reg registry.Registry, exec *executor, log logging.Logger, changed func()) *ReferenceTracker {
	return &ReferenceTracker{
		spec:     r,
		selector: sel,
		registry: reg,
		exec:     exec,
		changed:  changed,
		log:      log.WithValues("reference", r.Name),
	}
}

// Reference returns the reference this tracker serves.
func (t *ReferenceTracker) Reference() ReferenceSpec { return t.spec }

// Selector returns the tracker's target filter.
func (t *ReferenceTracker) Selector() labels.Selector { return t.selector }

// Open starts tracking matching entries. Entries that already exist are
// tracked immediately.
func (t *ReferenceTracker) Open() error {
	t.mu.Lock()
	if t.open || t.closed {
		t.mu.Unlock()
		return nil
	}
	t.open = true
	t.mu.Unlock()

	sub, err := t.registry.Subscribe(t.spec.Capability, t.selector, registry.ListenerFunc(t.onEvent))
	if err != nil {
		return errors.Wrap(err, errSubscribe)
	}

	existing := t.registry.Find(t.spec.Capability, t.selector)
	t.mu.Lock()
	t.sub = sub
	for _, e := range existing {
		t.insert(e)
	}
	t.mu.Unlock()
	return nil
}

// Close stops tracking. Closing a tracker more than once has no effect.
func (t *ReferenceTracker) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	sub := t.sub
	t.sub = nil
	t.entries = nil
	t.mu.Unlock()

	if sub == nil {
		return nil
	}
	return t.registry.Unsubscribe(sub)
}

// IsSatisfied returns true if the tracker tracks enough entries for its
// cardinality.
func (t *ReferenceTracker) IsSatisfied() bool {
	if t.spec.Cardinality.AllowsZero() {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries) > 0
}

// Count returns how many entries are tracked.
func (t *ReferenceTracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Entries returns every tracked entry in preference order.
func (t *ReferenceTracker) Entries() []*registry.Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.entries)
}

// Targets returns the entries that should be bound: the most preferred
// entry for a single cardinality, every entry for a multiple cardinality.
func (t *ReferenceTracker) Targets() []*registry.Entry {
	es := t.Entries()
	if !t.spec.Cardinality.Multiple() && len(es) > 1 {
		return es[:1]
	}
	return es
}

func (t *ReferenceTracker) tracks(e *registry.Entry) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Contains(t.entries, e)
}

// insert must be called with the lock held.
func (t *ReferenceTracker) insert(e *registry.Entry) bool {
	if slices.Contains(t.entries, e) {
		return false
	}
	t.entries = append(t.entries, e)
	registry.Sort(t.entries)
	return true
}

func (t *ReferenceTracker) onEvent(ev registry.Event) {
	t.exec.enqueue(func() {
		if t.apply(ev) {
			t.changed()
		}
	})
}

// apply returns true if the tracked set, or its order, changed.
func (t *ReferenceTracker) apply(ev registry.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	switch ev.Type {
	case registry.Added:
		if !t.insert(ev.Entry) {
			return false
		}
	case registry.Modified:
		if !slices.Contains(t.entries, ev.Entry) {
			return t.insert(ev.Entry)
		}
		registry.Sort(t.entries)
	case registry.Removed:
		i := slices.Index(t.entries, ev.Entry)
		if i < 0 {
			return false
		}
		t.entries = slices.Delete(t.entries, i, i+1)
	}
	t.log.Debug("Tracked capabilities changed", "event", ev.Type.String(), "entry", ev.Entry.String(), "tracked", len(t.entries))
	return true
}
