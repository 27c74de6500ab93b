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

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/crossplane/component-runtime/pkg/graph"
)

func (d *Declaration) key() string { return d.module.Name + "/" + d.spec.Name }

// capabilities returns what the component publishes once satisfied.
func (d *Declaration) capabilities() sets.Set[string] {
	if d.spec.Mode == Factory {
		return sets.New(FactoryCapability)
	}
	return sets.New(d.spec.Provides...)
}

// checkCycles finds enabled components that wait, through mandatory
// references nothing currently satisfies, on each other's publication. The
// members of each cycle are blocked until the cycle is broken, typically by
// a capability published from outside it.
func (r *Runtime) checkCycles() {
	// Re-evaluation may publish capabilities and so check again.
	for _, d := range r.updateCycles() {
		d.exec.enqueue(d.evaluate)
	}
}

// updateCycles returns the components whose blocked state changed.
func (r *Runtime) updateCycles() []*Declaration {
	r.cycles.Lock()
	defer r.cycles.Unlock()

	decls := r.Declarations()
	enabled := slices.DeleteFunc(slices.Clone(decls), func(d *Declaration) bool { return !d.enabled.Load() })

	g := graph.New()
	providers := make(map[string][]*Declaration)
	for _, d := range enabled {
		g.AddNode(d.key())
		for c := range d.capabilities() {
			providers[c] = append(providers[c], d)
		}
	}

	for _, d := range enabled {
		for _, t := range d.trackers {
			if !t.spec.Mandatory() || t.Count() > 0 {
				continue
			}
			for _, p := range providers[t.spec.Capability] {
				if t.selector.Matches(p.properties().Labels()) {
					g.AddEdge(d.key(), p.key())
				}
			}
		}
	}

	cycles := g.Cycles()
	members := make(map[string]*CircularDependencyError)
	for _, c := range cycles {
		err := &CircularDependencyError{Cycle: c}
		for _, k := range c {
			members[k] = err
		}
	}

	changed := make([]*Declaration, 0)
	for _, d := range decls {
		next := members[d.key()]
		prev := d.blocked.Load()
		if sameCycle(prev, next) {
			continue
		}
		d.blocked.Store(next)
		if next != nil {
			d.log.Info("Component is part of a circular dependency", "error", next)
			d.recordError(next)
		} else {
			d.log.Info("Circular dependency resolved")
		}
		changed = append(changed, d)
	}
	r.metrics.SetCircularDependencies(len(cycles))
	return changed
}

func sameCycle(a, b *CircularDependencyError) bool {
	if a == nil || b == nil {
		return a == b
	}
	return slices.Equal(a.Cycle, b.Cycle)
}
