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

	"github.com/pkg/errors"

	"github.com/crossplane/component-runtime/pkg/graph"
)

// Errors returned across the runtime boundary. Failures of user code are
// recovered locally and reported through logging, metrics and
// Declaration.Status instead.
var (
	ErrUnsatisfied        = errors.New("component is not satisfied")
	ErrDisposed           = errors.New("factory instance has been disposed")
	ErrNotFactory         = errors.New("component is not a factory component")
	ErrUnknownComponent   = errors.New("unknown component")
	ErrAmbiguousComponent = errors.New("component name is ambiguous across modules")
	ErrDuplicateComponent = errors.New("duplicate component name")
	ErrModuleStarted      = errors.New("module has already been started")
	ErrModuleNotStarted   = errors.New("module has not been started")
	ErrLockTimeout        = errors.New("timed out waiting for component lock")
	ErrDuplicateType      = errors.New("implementation type is already registered")
	ErrUnknownType        = errors.New("implementation type is not registered")
	ErrMissingBinder      = errors.New("implementation does not implement Binder")
)

// An ImplementationLoadError indicates a component's implementation could
// not be constructed. The component stays enabled but cannot activate.
type ImplementationLoadError struct {
	Component      string
	Implementation string
	Err            error
}

func (e *ImplementationLoadError) Error() string {
	return fmt.Sprintf("cannot load implementation %q of component %q: %v", e.Implementation, e.Component, e.Err)
}

func (e *ImplementationLoadError) Unwrap() error { return e.Err }

// An ActivationHookError indicates a hook failed while a component was
// activating. The partially activated instance is discarded.
type ActivationHookError struct {
	Component string
	Hook      string
	Err       error
}

func (e *ActivationHookError) Error() string {
	return fmt.Sprintf("%s hook of component %q failed: %v", e.Hook, e.Component, e.Err)
}

func (e *ActivationHookError) Unwrap() error { return e.Err }

// A DeactivationHookError indicates the deactivation hook failed. Teardown
// continues regardless.
type DeactivationHookError struct {
	Component string
	Err       error
}

func (e *DeactivationHookError) Error() string {
	return fmt.Sprintf("deactivate hook of component %q failed: %v", e.Component, e.Err)
}

func (e *DeactivationHookError) Unwrap() error { return e.Err }

// A CircularDependencyError indicates a component waits, through mandatory
// references, on its own publication.
type CircularDependencyError struct {
	Cycle []string
}

func (e *CircularDependencyError) Error() string {
	return (&graph.CycleError{Cycle: e.Cycle}).Error()
}

// A BindMismatchError indicates a matching capability could not be acquired.
// The capability is treated as if it never matched.
type BindMismatchError struct {
	Component string
	Reference string
	Entry     string
	Err       error
}

func (e *BindMismatchError) Error() string {
	return fmt.Sprintf("cannot bind %s to reference %q of component %q: %v", e.Entry, e.Reference, e.Component, e.Err)
}

func (e *BindMismatchError) Unwrap() error { return e.Err }
