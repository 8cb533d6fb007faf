// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue provides an unbounded FIFO that never blocks producers.
package queue

import "sync"

// Queue is an unbounded FIFO. Consumers wait on Notify and then call Drain.
type Queue[T any] struct {
	mutex      sync.Mutex
	items      []T
	closed     bool
	notifyChan chan struct{}
}

func New[T any]() *Queue[T] {
	return &Queue[T]{
		notifyChan: make(chan struct{}, 1),
	}
}

// Push appends an item and wakes the consumer. It returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mutex.Lock()
	if q.closed {
		q.mutex.Unlock()
		return false
	}
	q.items = append(q.items, item)
	q.mutex.Unlock()
	select {
	case q.notifyChan <- struct{}{}:
	default:
	}
	return true
}

// Notify returns a channel that receives a value after items have been pushed
func (q *Queue[T]) Notify() <-chan struct{} {
	return q.notifyChan
}

// Drain removes and returns all queued items in FIFO order
func (q *Queue[T]) Drain() []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	ret := q.items
	q.items = nil
	return ret
}

func (q *Queue[T]) Len() int {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	return len(q.items)
}

// Close rejects further pushes and returns any items still queued
func (q *Queue[T]) Close() []T {
	q.mutex.Lock()
	defer q.mutex.Unlock()
	q.closed = true
	ret := q.items
	q.items = nil
	return ret
}
