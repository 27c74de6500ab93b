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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/labels"

	"github.com/crossplane/component-runtime/pkg/test"
)

type recorder struct {
	events []string
}

func (r *recorder) OnEvent(e Event) {
	r.events = append(r.events, e.Type.String()+":"+e.Entry.Capabilities()[0])
}

type mockFactory struct {
	MockGetService   func(c Consumer, e *Entry) (any, error)
	MockUngetService func(c Consumer, e *Entry, svc any)
}

func (f *mockFactory) GetService(c Consumer, e *Entry) (any, error) { return f.MockGetService(c, e) }
func (f *mockFactory) UngetService(c Consumer, e *Entry, svc any)   { f.MockUngetService(c, e, svc) }

func mustSelector(t *testing.T, s string) labels.Selector {
	t.Helper()
	sel, err := labels.Parse(s)
	if err != nil {
		t.Fatalf("labels.Parse(%q): %v", s, err)
	}
	return sel
}

func TestFind(t *testing.T) {
	type pub struct {
		caps  []string
		props Properties
	}
	cases := map[string]struct {
		reason     string
		published  []pub
		capability string
		filter     string
		want       []int64
	}{
		"NoneMatch": {
			reason:     "Find should return an empty slice when nothing publishes the capability.",
			published:  []pub{{caps: []string{"Ink"}}},
			capability: "Printer",
			want:       []int64{},
		},
		"OrderedByRankingThenID": {
			reason: "Higher ranking should win, with registration order breaking ties.",
			published: []pub{
				{caps: []string{"Ink"}},
				{caps: []string{"Ink"}, props: Properties{PropertyRanking: 10}},
				{caps: []string{"Ink"}},
			},
			capability: "Ink",
			want:       []int64{2, 1, 3},
		},
		"Filtered": {
			reason: "Only entries whose properties match the filter should be returned.",
			published: []pub{
				{caps: []string{"Ink"}, props: Properties{"color": "black"}},
				{caps: []string{"Ink"}, props: Properties{"color": "cyan"}},
			},
			capability: "Ink",
			filter:     "color=cyan",
			want:       []int64{2},
		},
		"NumericFilter": {
			reason: "Scalar properties of any type should be matchable.",
			published: []pub{
				{caps: []string{"Ink"}, props: Properties{"volume": 5}},
				{caps: []string{"Ink"}, props: Properties{"volume": 6}},
			},
			capability: "Ink",
			filter:     "volume in (5)",
			want:       []int64{1},
		},
		"MultipleCapabilities": {
			reason: "An entry should be found under each capability it publishes.",
			published: []pub{
				{caps: []string{"Ink", "Toner"}},
			},
			capability: "Toner",
			want:       []int64{1},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			m := NewMemory()
			for _, p := range tc.published {
				if _, err := m.Publish(p.caps, p.props, struct{}{}); err != nil {
					t.Fatalf("Publish(...): %v", err)
				}
			}
			got := make([]int64, 0)
			for _, e := range m.Find(tc.capability, mustSelector(t, tc.filter)) {
				got = append(got, e.ID())
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nFind(...): -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestPublish(t *testing.T) {
	cases := map[string]struct {
		reason  string
		caps    []string
		service any
		want    error
	}{
		"NoCapabilities": {
			reason:  "Publishing without a capability name should fail.",
			service: struct{}{},
			want:    ErrNoCapabilities,
		},
		"NilService": {
			reason: "Publishing a nil object should fail.",
			caps:   []string{"Ink"},
			want:   ErrNilService,
		},
		"Success": {
			reason:  "Publishing a capability should succeed.",
			caps:    []string{"Ink"},
			service: struct{}{},
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewMemory().Publish(tc.caps, nil, tc.service)
			if diff := cmp.Diff(tc.want, err, test.EquateErrors()); diff != "" {
				t.Errorf("\n%s\nPublish(...): -want error, +got error:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestPublishStampsProperties(t *testing.T) {
	m := NewMemory()
	r, err := m.Publish([]string{"Ink"}, Properties{"color": "black"}, struct{}{})
	if err != nil {
		t.Fatalf("Publish(...): %v", err)
	}
	want := Properties{
		"color":              "black",
		PropertyID:           int64(1),
		PropertyCapabilities: []string{"Ink"},
	}
	if diff := cmp.Diff(want, r.Entry().Properties()); diff != "" {
		t.Errorf("Properties(): -want, +got:\n%s", diff)
	}
}

func TestSubscriptionEvents(t *testing.T) {
	m := NewMemory()
	rec := &recorder{}
	sub, err := m.Subscribe("Ink", mustSelector(t, "color=black"), rec)
	if err != nil {
		t.Fatalf("Subscribe(...): %v", err)
	}

	r, _ := m.Publish([]string{"Ink"}, Properties{"color": "black"}, struct{}{})
	_, _ = m.Publish([]string{"Ink"}, Properties{"color": "cyan"}, struct{}{})
	_, _ = m.Publish([]string{"Paper"}, Properties{"color": "black"}, struct{}{})

	_ = r.SetProperties(Properties{"color": "black", "volume": 3})
	_ = r.SetProperties(Properties{"color": "cyan"})
	_ = r.Patch([]byte(`{"color":"black"}`))
	_ = r.Unpublish()

	if err := m.Unsubscribe(sub); err != nil {
		t.Errorf("Unsubscribe(...): %v", err)
	}
	_, _ = m.Publish([]string{"Ink"}, Properties{"color": "black"}, struct{}{})

	want := []string{"Added:Ink", "Modified:Ink", "Removed:Ink", "Added:Ink", "Removed:Ink"}
	if diff := cmp.Diff(want, rec.events); diff != "" {
		t.Errorf("events: -want, +got:\n%s", diff)
	}

	if diff := cmp.Diff(ErrUnknownSubscription, m.Unsubscribe(sub), test.EquateErrors()); diff != "" {
		t.Errorf("Unsubscribe(...) twice: -want error, +got error:\n%s", diff)
	}
}

func TestRemovedDeliveredWhileObtainable(t *testing.T) {
	m := NewMemory()
	r, _ := m.Publish([]string{"Ink"}, nil, "black")

	var got any
	var found int
	_, _ = m.Subscribe("Ink", nil, ListenerFunc(func(e Event) {
		if e.Type != Removed {
			return
		}
		found = len(m.Find("Ink", nil))
		got, _ = m.Acquire("printer", e.Entry)
		m.Release("printer", e.Entry)
	}))

	if err := r.Unpublish(); err != nil {
		t.Fatalf("Unpublish(): %v", err)
	}
	if got != "black" {
		t.Errorf("Acquire(...) during Removed: want %q, got %v", "black", got)
	}
	if found != 0 {
		t.Errorf("Find(...) during Removed: want no entries, got %d", found)
	}
	if _, err := m.Acquire("printer", r.Entry()); !errors.Is(err, ErrNotObtainable) {
		t.Errorf("Acquire(...) after Unpublish: want ErrNotObtainable, got %v", err)
	}
	if diff := cmp.Diff(ErrUnpublished, r.Unpublish(), test.EquateErrors()); diff != "" {
		t.Errorf("Unpublish() twice: -want error, +got error:\n%s", diff)
	}
	if diff := cmp.Diff(ErrUnpublished, r.SetProperties(nil), test.EquateErrors()); diff != "" {
		t.Errorf("SetProperties(...) after Unpublish: -want error, +got error:\n%s", diff)
	}
}

func TestAcquireRelease(t *testing.T) {
	gets := map[Consumer]int{}
	ungets := map[Consumer]int{}
	f := &mockFactory{
		MockGetService: func(c Consumer, _ *Entry) (any, error) {
			gets[c]++
			return "svc-" + string(c), nil
		},
		MockUngetService: func(c Consumer, _ *Entry, _ any) {
			ungets[c]++
		},
	}

	m := NewMemory()
	r, _ := m.Publish([]string{"Ink"}, nil, f)
	e := r.Entry()

	a1, _ := m.Acquire("a", e)
	a2, _ := m.Acquire("a", e)
	b1, _ := m.Acquire("b", e)

	if a1 != "svc-a" || a2 != "svc-a" || b1 != "svc-b" {
		t.Errorf("Acquire(...): got %v, %v, %v", a1, a2, b1)
	}
	if diff := cmp.Diff(map[Consumer]int{"a": 1, "b": 1}, gets); diff != "" {
		t.Errorf("GetService calls: -want, +got:\n%s", diff)
	}
	if got := m.Usages("a", e); got != 2 {
		t.Errorf("Usages(a): want 2, got %d", got)
	}

	if !m.Release("a", e) {
		t.Errorf("Release(a): want true")
	}
	if len(ungets) != 0 {
		t.Errorf("UngetService should not be called while a usage remains: %v", ungets)
	}
	m.Release("a", e)
	if m.Release("a", e) {
		t.Errorf("Release(a) without usage: want false")
	}

	_ = r.Unpublish()
	if diff := cmp.Diff(map[Consumer]int{"a": 1, "b": 1}, ungets); diff != "" {
		t.Errorf("UngetService calls: -want, +got:\n%s", diff)
	}
}

func TestAcquireFactoryError(t *testing.T) {
	boom := errors.New("boom")
	f := &mockFactory{
		MockGetService: func(_ Consumer, _ *Entry) (any, error) { return nil, boom },
	}
	m := NewMemory()
	r, _ := m.Publish([]string{"Ink"}, nil, f)

	_, err := m.Acquire("a", r.Entry())
	if !errors.Is(err, boom) {
		t.Errorf("Acquire(...): want %v, got %v", boom, err)
	}
	if got := m.Usages("a", r.Entry()); got != 0 {
		t.Errorf("Usages(...) after failed Acquire: want 0, got %d", got)
	}
}

func TestPropertiesLabels(t *testing.T) {
	p := Properties{
		"name":   "printer",
		"rank":   3,
		"on":     true,
		"colors": []string{"cyan", "black"},
		"nil":    nil,
	}
	want := labels.Set{"name": "printer", "rank": "3", "on": "true"}
	if diff := cmp.Diff(want, p.Labels()); diff != "" {
		t.Errorf("Labels(): -want, +got:\n%s", diff)
	}
}

func TestPropertiesMerge(t *testing.T) {
	cases := map[string]struct {
		reason    string
		base      Properties
		overrides []Properties
		want      Properties
	}{
		"Overlay": {
			reason:    "Overrides should be laid over the base, keeping keys they do not mention.",
			base:      Properties{"a": "1", "b": "2"},
			overrides: []Properties{{"b": "3"}, {"c": "4"}},
			want:      Properties{"a": "1", "b": "3", "c": "4"},
		},
		"TargetOverride": {
			reason:    "Unrelated overrides should not drop a base target property.",
			base:      Properties{"size": "small", "ink.target": "color=black"},
			overrides: []Properties{{"label": "x"}},
			want:      Properties{"size": "small", "ink.target": "color=black", "label": "x"},
		},
		"EmptyValues": {
			reason:    "Explicit zero values should still override.",
			base:      Properties{"enabled": true, "count": 3, "name": "a"},
			overrides: []Properties{{"enabled": false, "count": 0, "name": ""}},
			want:      Properties{"enabled": false, "count": 0, "name": ""},
		},
		"Slices": {
			reason:    "Slices should be replaced, not appended to.",
			base:      Properties{"trays": []string{"a4"}, "dpi": 300},
			overrides: []Properties{{"trays": []string{"letter"}}},
			want:      Properties{"trays": []string{"letter"}, "dpi": 300},
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			before := tc.base.Copy()
			got, err := tc.base.Merge(tc.overrides...)
			if err != nil {
				t.Fatalf("\n%s\nMerge(...): %v", tc.reason, err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("\n%s\nMerge(...): -want, +got:\n%s", tc.reason, diff)
			}
			if diff := cmp.Diff(before, tc.base); diff != "" {
				t.Errorf("\n%s\nMerge(...) modified its receiver: -want, +got:\n%s", tc.reason, diff)
			}
		})
	}
}

func TestApplyMergePatch(t *testing.T) {
	got, err := Properties{"a": "1", "b": "2"}.ApplyMergePatch([]byte(`{"b":null,"c":3}`))
	if err != nil {
		t.Fatalf("ApplyMergePatch(...): %v", err)
	}
	want := Properties{"a": "1", "c": float64(3)}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ApplyMergePatch(...): -want, +got:\n%s", diff)
	}
}
