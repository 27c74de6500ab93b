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
	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

// A MetricRecorder records what the runtime does.
type MetricRecorder interface {
	RecordActivation(component string, err error)
	RecordDeactivation(component string)
	RecordBind(component, reference string)
	RecordUnbind(component, reference string)
	AddActive(component string, delta float64)
	SetCircularDependencies(n int)
}

// NopMetrics does not record anything.
type NopMetrics struct{}

// RecordActivation does nothing.
func (NopMetrics) RecordActivation(string, error) {}

// RecordDeactivation does nothing.
func (NopMetrics) RecordDeactivation(string) {}

// RecordBind does nothing.
func (NopMetrics) RecordBind(string, string) {}

// RecordUnbind does nothing.
func (NopMetrics) RecordUnbind(string, string) {}

// AddActive does nothing.
func (NopMetrics) AddActive(string, float64) {}

// SetCircularDependencies does nothing.
func (NopMetrics) SetCircularDependencies(int) {}

// Metrics is a prometheus.Collector that records what the runtime does.
type Metrics struct {
	activations   *prometheus.CounterVec
	deactivations *prometheus.CounterVec
	binds         *prometheus.CounterVec
	unbinds       *prometheus.CounterVec
	active        *prometheus.GaugeVec
	cycles        prometheus.Gauge
}

// NewMetrics returns runtime metrics. Register them with a prometheus
// registry to expose them.
func NewMetrics() *Metrics {
	return &Metrics{
		activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "component",
			Name:      "activations_total",
			Help:      "Number of component activations, by result.",
		}, []string{"component", "result"}),
		deactivations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "component",
			Name:      "deactivations_total",
			Help:      "Number of component deactivations.",
		}, []string{"component"}),
		binds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "component",
			Name:      "binds_total",
			Help:      "Number of capabilities bound to component references.",
		}, []string{"component", "reference"}),
		unbinds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "component",
			Name:      "unbinds_total",
			Help:      "Number of capabilities unbound from component references.",
		}, []string{"component", "reference"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Subsystem: "component",
			Name:      "active_instances",
			Help:      "Number of active component instances.",
		}, []string{"component"}),
		cycles: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "component",
			Name:      "circular_dependencies",
			Help:      "Number of circular dependencies blocking components.",
		}),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.activations.Describe(ch)
	m.deactivations.Describe(ch)
	m.binds.Describe(ch)
	m.unbinds.Describe(ch)
	m.active.Describe(ch)
	m.cycles.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.activations.Collect(ch)
	m.deactivations.Collect(ch)
	m.binds.Collect(ch)
	m.unbinds.Collect(ch)
	m.active.Collect(ch)
	m.cycles.Collect(ch)
}

// RecordActivation records an activation attempt.
func (m *Metrics) RecordActivation(component string, err error) {
	r := resultSuccess
	if err != nil {
		r = resultFailure
	}
	m.activations.WithLabelValues(component, r).Inc()
}

// RecordDeactivation records a deactivation.
func (m *Metrics) RecordDeactivation(component string) {
	m.deactivations.WithLabelValues(component).Inc()
}

// RecordBind records a bound capability.
func (m *Metrics) RecordBind(component, reference string) {
	m.binds.WithLabelValues(component, reference).Inc()
}

// RecordUnbind records an unbound capability.
func (m *Metrics) RecordUnbind(component, reference string) {
	m.unbinds.WithLabelValues(component, reference).Inc()
}

// AddActive adjusts the number of active instances.
func (m *Metrics) AddActive(component string, delta float64) {
	m.active.WithLabelValues(component).Add(delta)
}

// SetCircularDependencies records how many circular dependencies exist.
func (m *Metrics) SetCircularDependencies(n int) {
	m.cycles.Set(float64(n))
}
