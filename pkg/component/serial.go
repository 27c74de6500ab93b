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
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// An executor serializes all work for one declaration. Work submitted with
// enqueue never blocks: it runs immediately on the caller's goroutine if the
// executor is idle, and otherwise is run by whichever goroutine currently
// holds it. This lets registry events that a declaration causes itself be
// handled after the work that caused them, rather than deadlocking.
type executor struct {
	sem     chan struct{}
	timeout time.Duration
	clock   clock.Clock

	mu    sync.Mutex
	queue []func()
}

func newExecutor(c clock.Clock, timeout time.Duration) *executor {
	return &executor{sem: make(chan struct{}, 1), clock: c, timeout: timeout}
}

func (e *executor) tryLock() bool {
	select {
	case e.sem <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *executor) lock() {
	e.sem <- struct{}{}
}

func (e *executor) unlock() {
	<-e.sem
}

func (e *executor) push(fn func()) {
	e.mu.Lock()
	e.queue = append(e.queue, fn)
	e.mu.Unlock()
}

func (e *executor) pop() func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.queue) == 0 {
		return nil
	}
	fn := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	return fn
}

func (e *executor) pending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue) > 0
}

func (e *executor) drain() {
	for fn := e.pop(); fn != nil; fn = e.pop() {
		fn()
	}
}

// kick drains the queue if nobody else holds the executor. Work pushed
// while a holder was releasing is picked up by the re-check.
func (e *executor) kick() {
	for e.pending() && e.tryLock() {
		e.drain()
		e.unlock()
	}
}

// enqueue schedules fn.
func (e *executor) enqueue(fn func()) {
	e.push(fn)
	e.kick()
}

// call runs fn synchronously once all previously enqueued work has run. With
// a positive timeout it fails with ErrLockTimeout if the executor cannot be
// acquired in time.
func (e *executor) call(fn func()) error {
	select {
	case e.sem <- struct{}{}:
	default:
		if e.timeout <= 0 {
			e.lock()
			break
		}
		t := e.clock.NewTimer(e.timeout)
		defer t.Stop()
		select {
		case e.sem <- struct{}{}:
		case <-t.C():
			return ErrLockTimeout
		}
	}
	e.drain()
	fn()
	e.drain()
	e.unlock()
	e.kick()
	return nil
}

// unlocked runs fn without holding the executor. It must only be called by
// work running on the executor. Anything fn causes that needs the executor,
// including synchronous calls, may run while fn does.
func (e *executor) unlocked(fn func()) {
	e.unlock()
	e.kick()
	fn()
	e.lock()
}
