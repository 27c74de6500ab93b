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

// Package logging provides the structured logger used throughout the
// component runtime.
//
// There are deliberately only two levels. Info is for messages an operator
// running the runtime is likely to care about: a component failed to
// activate, a circular dependency was found. Debug is for everything a
// developer would want while tracing binding behaviour. Errors are logged at
// Info with an "error" key rather than at a separate level.
package logging

import (
	"github.com/go-logr/logr"
)

// A Logger logs messages. Messages may be supplemented by structured data
// supplied as alternating string keys and values of arbitrary type.
type Logger interface {
	// Info logs a message that an operator is likely to be concerned with.
	Info(msg string, keysAndValues ...any)

	// Debug logs a message that is only useful when debugging the runtime.
	Debug(msg string, keysAndValues ...any)

	// WithValues returns a Logger that includes the supplied structured data
	// with every subsequent message.
	WithValues(keysAndValues ...any) Logger
}

// NewNopLogger returns a Logger that does nothing.
func NewNopLogger() Logger { return nopLogger{} }

type nopLogger struct{}

func (l nopLogger) Info(_ string, _ ...any)    {}
func (l nopLogger) Debug(_ string, _ ...any)   {}
func (l nopLogger) WithValues(_ ...any) Logger { return nopLogger{} }

// NewLogrLogger returns a Logger backed by the supplied logr.Logger, which may
// in turn be backed by zap, klog or any other logr implementation. Debug
// messages are logged at V(1).
func NewLogrLogger(l logr.Logger) Logger {
	return logrLogger{log: l}
}

type logrLogger struct {
	log logr.Logger
}

func (l logrLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info(msg, keysAndValues...)
}

func (l logrLogger) Debug(msg string, keysAndValues ...any) {
	l.log.V(1).Info(msg, keysAndValues...)
}

func (l logrLogger) WithValues(keysAndValues ...any) Logger {
	return logrLogger{log: l.log.WithValues(keysAndValues...)}
}
