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

package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/crossplane/component-runtime/pkg/logging"
)

// Errors returned by the in-memory registry.
var (
	ErrNotObtainable       = errors.New("capability is not obtainable")
	ErrUnpublished         = errors.New("capability has already been unpublished")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrNoCapabilities      = errors.New("at least one capability name is required")
	ErrNilService          = errors.New("cannot publish a nil service")
)

const (
	errFmtGetService = "service factory for %s returned an error"
	errFmtNilService = "service factory for %s returned a nil service"
)

var _ Registry = &Memory{}

// A MemoryOption configures a Memory registry.
type MemoryOption func(*Memory)

// WithLogger specifies how the registry should log.
func WithLogger(l logging.Logger) MemoryOption {
	return func(m *Memory) {
		m.log = l
	}
}

type usage struct {
	count   int
	once    sync.Once
	service any
	err     error
}

type subscription struct {
	capability string
	filter     labels.Selector
	listener   Listener
	active     atomic.Bool
}

func (s *subscription) Capability() string { return s.capability }

type delivery struct {
	sub *subscription
	ev  Event
}

// Memory is a Registry that lives entirely in process memory. Events are
// delivered synchronously, outside the registry's lock, so listeners may
// call back into the registry.
type Memory struct {
	log logging.Logger

	mu      sync.Mutex
	nextID  int64
	entries map[int64]*Entry
	subs    map[*subscription]struct{}
	usages  map[*Entry]map[Consumer]*usage
}

// NewMemory returns an empty in-memory registry.
func NewMemory(o ...MemoryOption) *Memory {
	m := &Memory{
		log:     logging.NewNopLogger(),
		entries: make(map[int64]*Entry),
		subs:    make(map[*subscription]struct{}),
		usages:  make(map[*Entry]map[Consumer]*usage),
	}
	for _, fn := range o {
		fn(m)
	}
	return m
}

// Find returns the registered entries that publish the capability and match
// the filter. Entries that are being unpublished are not returned.
func (m *Memory) Find(capability string, filter labels.Selector) []*Entry {
	m.mu.Lock()
	out := make([]*Entry, 0)
	for _, e := range m.entries {
		if entryState(e.state.Load()) != stateRegistered {
			continue
		}
		if e.matches(capability, filter) {
			out = append(out, e)
		}
	}
	m.mu.Unlock()
	Sort(out)
	return out
}

// Subscribe registers a listener for the capability.
func (m *Memory) Subscribe(capability string, filter labels.Selector, l Listener) (Subscription, error) {
	if filter == nil {
		filter = labels.Everything()
	}
	s := &subscription{capability: capability, filter: filter, listener: l}
	s.active.Store(true)

	m.mu.Lock()
	m.subs[s] = struct{}{}
	m.mu.Unlock()
	return s, nil
}

// Unsubscribe removes a subscription. No events are delivered to it once
// Unsubscribe returns, except those already being delivered.
func (m *Memory) Unsubscribe(s Subscription) error {
	ms, ok := s.(*subscription)
	if !ok {
		return ErrUnknownSubscription
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[ms]; !ok {
		return ErrUnknownSubscription
	}
	delete(m.subs, ms)
	ms.active.Store(false)
	return nil
}

// Publish registers a capability.
func (m *Memory) Publish(capabilities []string, props Properties, service any) (Registration, error) {
	if len(capabilities) == 0 {
		return nil, ErrNoCapabilities
	}
	if service == nil {
		return nil, ErrNilService
	}

	m.mu.Lock()
	m.nextID++
	e := &Entry{id: m.nextID, capabilities: append([]string(nil), capabilities...), service: service}
	e.props = m.stamp(e, props)
	m.entries[e.id] = e
	ds := m.deliveries(Added, e)
	m.mu.Unlock()

	m.log.Debug("Published capability", "entry", e.String())
	m.deliver(ds)
	return &registration{m: m, e: e}, nil
}

// Acquire returns the entry's object on behalf of the consumer.
func (m *Memory) Acquire(c Consumer, e *Entry) (any, error) {
	m.mu.Lock()
	if !e.Obtainable() {
		m.mu.Unlock()
		return nil, ErrNotObtainable
	}
	byConsumer, ok := m.usages[e]
	if !ok {
		byConsumer = make(map[Consumer]*usage)
		m.usages[e] = byConsumer
	}
	u, ok := byConsumer[c]
	if !ok {
		u = &usage{}
		byConsumer[c] = u
	}
	u.count++
	m.mu.Unlock()

	u.once.Do(func() {
		f, ok := e.service.(ServiceFactory)
		if !ok {
			u.service = e.service
			return
		}
		svc, err := f.GetService(c, e)
		switch {
		case err != nil:
			u.err = errors.Wrapf(err, errFmtGetService, e)
		case svc == nil:
			u.err = errors.Errorf(errFmtNilService, e)
		default:
			u.service = svc
		}
	})

	if u.err != nil {
		m.mu.Lock()
		m.drop(c, e, u)
		m.mu.Unlock()
		return nil, errors.Wrap(u.err, ErrNotObtainable.Error())
	}
	return u.service, nil
}

// Release decrements the consumer's usage of the entry.
func (m *Memory) Release(c Consumer, e *Entry) bool {
	m.mu.Lock()
	u, ok := m.usages[e][c]
	if !ok {
		m.mu.Unlock()
		return false
	}
	last := m.drop(c, e, u)
	m.mu.Unlock()

	if last && u.err == nil {
		if f, ok := e.service.(ServiceFactory); ok && u.service != nil {
			f.UngetService(c, e, u.service)
		}
	}
	return true
}

// Usages returns how many times the consumer currently holds the entry.
func (m *Memory) Usages(c Consumer, e *Entry) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.usages[e][c]; ok {
		return u.count
	}
	return 0
}

// Consumers returns the consumers currently holding the entry.
func (m *Memory) Consumers(e *Entry) []Consumer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Consumer, 0, len(m.usages[e]))
	for c := range m.usages[e] {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// drop must be called with the lock held. It returns true when the usage
// was the consumer's last.
func (m *Memory) drop(c Consumer, e *Entry, u *usage) bool {
	u.count--
	if u.count > 0 {
		return false
	}
	delete(m.usages[e], c)
	if len(m.usages[e]) == 0 {
		delete(m.usages, e)
	}
	return true
}

func (m *Memory) stamp(e *Entry, p Properties) Properties {
	out := p.Copy()
	out[PropertyID] = e.id
	out[PropertyCapabilities] = append([]string(nil), e.capabilities...)
	return out
}

// deliveries must be called with the lock held.
func (m *Memory) deliveries(t EventType, e *Entry) []delivery {
	ds := make([]delivery, 0)
	for s := range m.subs {
		if e.matches(s.capability, s.filter) {
			ds = append(ds, delivery{sub: s, ev: Event{Type: t, Entry: e}})
		}
	}
	return ds
}

func (m *Memory) deliver(ds []delivery) {
	for _, d := range ds {
		if !d.sub.active.Load() {
			continue
		}
		d.sub.listener.OnEvent(d.ev)
	}
}

func (m *Memory) setProperties(e *Entry, p Properties) error {
	m.mu.Lock()
	if entryState(e.state.Load()) != stateRegistered {
		m.mu.Unlock()
		return ErrUnpublished
	}

	before := make(map[*subscription]bool, len(m.subs))
	for s := range m.subs {
		before[s] = e.matches(s.capability, s.filter)
	}

	e.mu.Lock()
	e.props = m.stamp(e, p)
	e.mu.Unlock()

	ds := make([]delivery, 0)
	for s, was := range before {
		is := e.matches(s.capability, s.filter)
		switch {
		case was && is:
			ds = append(ds, delivery{sub: s, ev: Event{Type: Modified, Entry: e}})
		case !was && is:
			ds = append(ds, delivery{sub: s, ev: Event{Type: Added, Entry: e}})
		case was && !is:
			ds = append(ds, delivery{sub: s, ev: Event{Type: Removed, Entry: e}})
		}
	}
	m.mu.Unlock()

	m.log.Debug("Modified capability properties", "entry", e.String())
	m.deliver(ds)
	return nil
}

func (m *Memory) unpublish(e *Entry) error {
	m.mu.Lock()
	if !e.state.CompareAndSwap(int32(stateRegistered), int32(stateUnregistering)) {
		m.mu.Unlock()
		return ErrUnpublished
	}
	ds := m.deliveries(Removed, e)
	m.mu.Unlock()

	// The entry remains obtainable while listeners react to its removal.
	m.deliver(ds)

	m.mu.Lock()
	e.state.Store(int32(stateUnregistered))
	delete(m.entries, e.id)
	remaining := m.usages[e]
	delete(m.usages, e)
	m.mu.Unlock()

	m.log.Debug("Unpublished capability", "entry", e.String(), "remaining-consumers", len(remaining))

	f, ok := e.service.(ServiceFactory)
	if !ok {
		return nil
	}
	for c, u := range remaining {
		if u.err == nil && u.service != nil {
			f.UngetService(c, e, u.service)
		}
	}
	return nil
}

type registration struct {
	m *Memory
	e *Entry
}

func (r *registration) Entry() *Entry { return r.e }

func (r *registration) SetProperties(p Properties) error {
	return r.m.setProperties(r.e, p)
}

func (r *registration) Patch(mergePatch []byte) error {
	p, err := r.e.Properties().ApplyMergePatch(mergePatch)
	if err != nil {
		return err
	}
	return r.m.setProperties(r.e, p)
}

func (r *registration) Unpublish() error {
	return r.m.unpublish(r.e)
}
