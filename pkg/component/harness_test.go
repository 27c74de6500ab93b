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
	"sync"
	"testing"

	"github.com/crossplane/component-runtime/pkg/registry"
)

// A journal records hook calls in the order they happen.
type journal struct {
	mu    sync.Mutex
	lines []string
}

func (j *journal) record(format string, a ...any) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines = append(j.lines, fmt.Sprintf(format, a...))
}

// take returns and forgets everything recorded so far.
func (j *journal) take() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := j.lines
	j.lines = nil
	if out == nil {
		out = []string{}
	}
	return out
}

// fake is an implementation that implements every hook.
type fake struct {
	name string
	j    *journal

	activateErr   error
	deactivateErr error
	bindErr       error

	// locate names a reference to look up when activated.
	locate string
}

func (f *fake) String() string { return f.name }

func (f *fake) Activate(ctx *Context) error {
	f.j.record("%s activate", f.name)
	if f.locate != "" {
		v, ok := ctx.Locate(f.locate)
		f.j.record("%s located %v %t", f.name, v, ok)
	}
	return f.activateErr
}

func (f *fake) Deactivate(_ *Context) error {
	f.j.record("%s deactivate", f.name)
	return f.deactivateErr
}

func (f *fake) Bind(hook string, t Target) error {
	f.j.record("%s %s %v", f.name, hook, t.Service)
	return f.bindErr
}

func (f *fake) Unbind(hook string, t Target) error {
	f.j.record("%s %s %v", f.name, hook, t.Service)
	return nil
}

// plain implements no hooks at all.
type plain struct{}

type failingFactory struct {
	err error
}

func (f failingFactory) GetService(registry.Consumer, *registry.Entry) (any, error) {
	return nil, f.err
}

func (f failingFactory) UngetService(registry.Consumer, *registry.Entry, any) {}

// harness wires a runtime to an in-memory registry and records hook calls
// and state changes.
type harness struct {
	t     *testing.T
	reg   *registry.Memory
	types *Types
	j     *journal
	rt    *Runtime

	mu      sync.Mutex
	changes []StateChange
}

func newHarness(t *testing.T, o ...Option) *harness {
	t.Helper()
	h := &harness{t: t, reg: registry.NewMemory(), types: NewTypes(), j: &journal{}}
	h.rt = New(h.reg, h.types, append([]Option{WithStateObserver(h.observe)}, o...)...)
	return h
}

func (h *harness) observe(sc StateChange) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, sc)
}

func (h *harness) stateChanges() []StateChange {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]StateChange(nil), h.changes...)
}

// register a fake implementation named after the component it implements.
func (h *harness) register(name string, mut ...func(*fake)) {
	h.t.Helper()
	err := Register(h.types, name, func() (*fake, error) {
		f := &fake{name: name, j: h.j}
		for _, fn := range mut {
			fn(f)
		}
		return f, nil
	})
	if err != nil {
		h.t.Fatalf("Register(%q): %v", name, err)
	}
}

func (h *harness) start(module string, specs ...Spec) {
	h.t.Helper()
	if err := h.rt.OnModuleStarted(Module{Name: module}, specs); err != nil {
		h.t.Fatalf("OnModuleStarted(%q): %v", module, err)
	}
}

func (h *harness) publish(capability string, service any, props registry.Properties) registry.Registration {
	h.t.Helper()
	r, err := h.reg.Publish([]string{capability}, props, service)
	if err != nil {
		h.t.Fatalf("Publish(%q): %v", capability, err)
	}
	return r
}

func (h *harness) unpublish(r registry.Registration) {
	h.t.Helper()
	if err := r.Unpublish(); err != nil {
		h.t.Fatalf("Unpublish(): %v", err)
	}
}

func (h *harness) declaration(module, name string) *Declaration {
	h.t.Helper()
	d, ok := h.rt.Declaration(module, name)
	if !ok {
		h.t.Fatalf("Declaration(%q, %q): not found", module, name)
	}
	return d
}

// active returns the component's current instance, failing the test if it
// is not active.
func (h *harness) active(module, name string) *Instance {
	h.t.Helper()
	i := h.declaration(module, name).Instance()
	if i == nil || i.State() != Active {
		h.t.Fatalf("%s/%s: want an active instance, got %v", module, name, i)
	}
	return i
}

func (h *harness) inactive(module, name string) {
	h.t.Helper()
	if i := h.declaration(module, name).Instance(); i != nil {
		h.t.Fatalf("%s/%s: want no instance, got %s in state %s", module, name, i.ID(), i.State())
	}
}

func entryIDs(es []*registry.Entry) []int64 {
	out := make([]int64, 0, len(es))
	for _, e := range es {
		out = append(out, e.ID())
	}
	return out
}
