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
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/crossplane/component-runtime/pkg/registry"
)

func testutilGauge(m *Metrics) float64 {
	return testutil.ToFloat64(m.cycles)
}

func TestMetrics(t *testing.T) {
	m := NewMetrics()
	h := newHarness(t, WithMetrics(m))
	attempts := 0
	h.register("printer", func(f *fake) {
		attempts++
		if attempts == 1 {
			f.activateErr = errors.New("boom")
		}
	})
	h.start("office", printerSpec(ZeroToOne, Dynamic))

	_ = h.rt.Disable("office", "printer")
	_ = h.rt.Enable("office", "printer")
	ink := h.publish("Ink", "ink", nil)
	h.unpublish(ink)

	cases := map[string]struct {
		c    prometheus.Collector
		want float64
	}{
		"ActivationFailures":  {c: m.activations.WithLabelValues("printer", resultFailure), want: 1},
		"ActivationSuccesses": {c: m.activations.WithLabelValues("printer", resultSuccess), want: 1},
		"Deactivations":       {c: m.deactivations.WithLabelValues("printer"), want: 0},
		"Binds":               {c: m.binds.WithLabelValues("printer", "ink"), want: 1},
		"Unbinds":             {c: m.unbinds.WithLabelValues("printer", "ink"), want: 1},
		"Active":              {c: m.active.WithLabelValues("printer"), want: 1},
		"Cycles":              {c: m.cycles, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			if got := testutil.ToFloat64(tc.c); got != tc.want {
				t.Errorf("want %v, got %v", tc.want, got)
			}
		})
	}

	if err := prometheus.NewPedanticRegistry().Register(m); err != nil {
		t.Errorf("Register(...): %v", err)
	}
}

func TestNopMetrics(t *testing.T) {
	h := newHarness(t, WithMetrics(NopMetrics{}))
	h.register("printer")
	_ = h.publish("Ink", "ink", registry.Properties{})
	h.start("office", printerSpec(OneToOne, Static))
	h.active("office", "printer")
}
