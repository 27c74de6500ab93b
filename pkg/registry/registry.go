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

// Package registry defines the capability registry the component runtime
// consumes, and provides an in-memory implementation of it.
//
// A capability is an object published under one or more capability names
// together with a set of properties. Consumers find capabilities by name and
// filter, subscribe to their arrival and departure, and acquire and release
// the published objects. Acquisition is reference counted per consumer.
package registry

import (
	"fmt"
	"slices"
	"sort"
	"sync"
	"sync/atomic"

	"k8s.io/apimachinery/pkg/labels"
)

// Well known property keys.
const (
	// PropertyID is set by the registry to the entry's registration id.
	PropertyID = "service.id"

	// PropertyRanking orders entries that match the same query. Higher
	// rankings are preferred. Entries without a ranking rank zero.
	PropertyRanking = "service.ranking"

	// PropertyCapabilities is set by the registry to the entry's capability
	// names.
	PropertyCapabilities = "capabilities"
)

// A Consumer identifies whoever acquires a capability. Two acquisitions by
// the same consumer share one object and one usage count.
type Consumer string

// EventType is the kind of change an Event describes.
type EventType int

// Event types.
const (
	// Added is delivered when an entry starts matching a subscription.
	Added EventType = iota

	// Modified is delivered when the properties of a matching entry change
	// and it still matches.
	Modified

	// Removed is delivered before an entry stops matching a subscription,
	// either because it is being unpublished or because its properties no
	// longer match. The entry can still be acquired while Removed is being
	// delivered.
	Removed
)

func (t EventType) String() string {
	switch t {
	case Added:
		return "Added"
	case Modified:
		return "Modified"
	case Removed:
		return "Removed"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// An Event describes a change to an entry.
type Event struct {
	Type  EventType
	Entry *Entry
}

// A Listener is notified of events on a subscription. Events are delivered
// synchronously on the goroutine that caused them.
type Listener interface {
	OnEvent(e Event)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(e Event)

// OnEvent calls fn(e).
func (fn ListenerFunc) OnEvent(e Event) { fn(e) }

// A Subscription is returned by Subscribe and passed to Unsubscribe.
type Subscription interface {
	// Capability returns the capability name the subscription matches.
	Capability() string
}

// A ServiceFactory can be published in place of a plain object. The registry
// calls GetService the first time each consumer acquires the entry and
// UngetService when that consumer's usage count drops to zero, or when the
// entry is unpublished while the consumer still holds it.
type ServiceFactory interface {
	GetService(c Consumer, e *Entry) (any, error)
	UngetService(c Consumer, e *Entry, service any)
}

// A Registration is returned by Publish and controls a published entry.
type Registration interface {
	// Entry returns the published entry.
	Entry() *Entry

	// SetProperties replaces the entry's properties and delivers Modified,
	// Added or Removed to subscribers as their filters dictate.
	SetProperties(p Properties) error

	// Patch applies an RFC 7386 JSON merge patch to the entry's properties.
	Patch(mergePatch []byte) error

	// Unpublish withdraws the entry. Subscribers receive Removed before the
	// entry becomes unobtainable.
	Unpublish() error
}

// A Registry publishes and tracks capabilities.
type Registry interface {
	// Find returns the registered entries that publish the capability and
	// match the filter, ordered by ranking.
	Find(capability string, filter labels.Selector) []*Entry

	// Subscribe registers a listener for entries that publish the capability
	// and match the filter.
	Subscribe(capability string, filter labels.Selector, l Listener) (Subscription, error)

	// Unsubscribe removes a subscription.
	Unsubscribe(s Subscription) error

	// Acquire returns the object published by the entry on behalf of the
	// consumer, incrementing the consumer's usage count.
	Acquire(c Consumer, e *Entry) (any, error)

	// Release decrements the consumer's usage count. It returns false if the
	// consumer held no usage of the entry.
	Release(c Consumer, e *Entry) bool

	// Publish registers a capability object, or a ServiceFactory, under the
	// supplied capability names.
	Publish(capabilities []string, props Properties, service any) (Registration, error)
}

type entryState int32

const (
	stateRegistered entryState = iota
	stateUnregistering
	stateUnregistered
)

// An Entry is one published capability.
type Entry struct {
	id           int64
	capabilities []string
	service      any

	state atomic.Int32

	mu    sync.RWMutex
	props Properties
}

// ID returns the registration id. Ids increase monotonically.
func (e *Entry) ID() int64 { return e.id }

// Capabilities returns the capability names the entry is published under.
func (e *Entry) Capabilities() []string { return slices.Clone(e.capabilities) }

// Properties returns a copy of the entry's properties.
func (e *Entry) Properties() Properties {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.props.Copy()
}

// Property returns a single property value.
func (e *Entry) Property(key string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.props[key]
	return v, ok
}

// Ranking returns the entry's service.ranking, or zero.
func (e *Entry) Ranking() int {
	v, _ := e.Property(PropertyRanking)
	return ranking(v)
}

// Obtainable returns true while the entry can still be acquired, which
// includes the time Removed is being delivered for it.
func (e *Entry) Obtainable() bool {
	return entryState(e.state.Load()) != stateUnregistered
}

func (e *Entry) String() string {
	return fmt.Sprintf("%v#%d", e.capabilities, e.id)
}

func (e *Entry) provides(capability string) bool {
	return slices.Contains(e.capabilities, capability)
}

func (e *Entry) matches(capability string, filter labels.Selector) bool {
	if !e.provides(capability) {
		return false
	}
	if filter == nil || filter.Empty() {
		return true
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return filter.Matches(e.props.Labels())
}

func ranking(v any) int {
	switch r := v.(type) {
	case int:
		return r
	case int32:
		return int(r)
	case int64:
		return int(r)
	case float64:
		return int(r)
	case float32:
		return int(r)
	default:
		return 0
	}
}

// Less reports whether a should be preferred over b: higher ranking first,
// then lower registration id.
func Less(a, b *Entry) bool {
	ra, rb := a.Ranking(), b.Ranking()
	if ra != rb {
		return ra > rb
	}
	return a.id < b.id
}

// Sort orders entries by preference.
func Sort(es []*Entry) {
	sort.SliceStable(es, func(i, j int) bool { return Less(es[i], es[j]) })
}
