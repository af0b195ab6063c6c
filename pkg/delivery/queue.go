/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package delivery holds results waiting to be written to the control
// connection.
package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultLimit = 1024
	DefaultWait  = time.Second
)

// Queue is a bounded FIFO for many producers and a single consumer. Push
// never blocks: once the limit is reached the oldest item is evicted.
// Requeue never evicts, so the queue may hold limit+1 items until the next
// Pop or Push brings it back within the limit.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	limit int

	notify  chan struct{}
	dropped atomic.Uint64
}

func New[T any](limit int) *Queue[T] {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Queue[T]{
		limit:  limit,
		notify: make(chan struct{}, 1),
	}
}

// Push appends item and reports whether older items were evicted to make
// room for it.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()

	evicted := false

	for len(q.items) >= q.limit {
		var zero T

		q.items[0] = zero
		q.items = q.items[1:]
		evicted = true

		q.dropped.Add(1)
	}

	q.items = append(q.items, item)
	q.mu.Unlock()

	q.wake()

	return evicted
}

// Requeue puts item back at the head. It is used for an item that was popped
// but never written. Requeue does not evict.
func (q *Queue[T]) Requeue(item T) {
	q.mu.Lock()
	q.items = append([]T{item}, q.items...)
	q.mu.Unlock()

	q.wake()
}

// Pop waits up to wait for an item. The bool is false when wait elapsed or
// ctx was done first.
func (q *Queue[T]) Pop(ctx context.Context, wait time.Duration) (T, bool) {
	if item, ok := q.TryPop(); ok {
		return item, true
	}

	if wait <= 0 {
		wait = DefaultWait
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-q.notify:
			if item, ok := q.TryPop(); ok {
				return item, true
			}
		case <-timer.C:
			return q.TryPop()
		case <-ctx.Done():
			var zero T

			return zero, false
		}
	}
}

func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T

	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

// Dropped is the number of items evicted by Push since the queue was created.
func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue[T]) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
