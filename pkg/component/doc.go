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

/*
Package component implements a declarative component runtime: components
declare the capabilities they provide and reference, and the runtime
instantiates, wires and tears them down as those capabilities come and go in
a capability registry.

# Architecture

The package is layered, leaves first:

1. ReferenceTracker: tracks the registry entries matching one reference
2. Declaration: a component of a started module, aggregating satisfaction
3. Instance: one instantiation of a component and its state machine
4. Runtime: owns the declarations of every started module

All work for a Declaration, including the hooks of its instances, is
serialized. Independent declarations proceed concurrently. Registry events
are handled on the goroutine that delivers them.

# Publish Modes

* Immediate: activated as soon as satisfied, then published
* Delayed: published when satisfied, activated on first acquisition
* Factory: publishes a ComponentFactory; instances are created on request

Any non factory component may also create one instance per consumer of its
capabilities.

# Usage

	types := component.NewTypes()
	_ = component.Register(types, "printer", NewPrinter)

	spec := component.NewSpecBuilder("printer", "printer").
		References("ink", "Ink",
			component.WithCardinality(component.ZeroToOne),
			component.WithPolicy(component.Dynamic),
			component.WithHooks("setInk", "unsetInk")).
		MustComplete()

	rt := component.New(registry.NewMemory(), types)
	_ = rt.OnModuleStarted(component.Module{Name: "office"}, []component.Spec{spec})
*/
package component
