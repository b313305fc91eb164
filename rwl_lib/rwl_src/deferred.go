// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Deferred_queue is C6 from spec.md 4.5 stage 3 / 4.8 step 1: a plain FIFO
of writes waiting for resources, retried by the work loop whenever
resources free up. neither slookup_i nor stree defers anything -- both
are called synchronously under one lock with no admission limits -- so
there's no teacher file this adapts; it is new code in the teacher's
idiom, built directly from spec.md's "never re-order, never skip"
requirement (9, Deferred admission). */

package rwl_src

import (
	"sync"
)

// Deferred_queue holds Write_requests whose alloc_resources call failed;
// Pop_front/Push_back never reorder.
type Deferred_queue struct {
	mu    sync.Mutex
	items []*Write_request
}

func New_deferred_queue() *Deferred_queue {
	return &Deferred_queue{}
}

func (this *Deferred_queue) Push_back(wr *Write_request) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.items = append(this.items, wr)
}

// Peek_front returns the head without removing it, so the dispatcher can
// retry alloc_resources before committing to a pop.
func (this *Deferred_queue) Peek_front() *Write_request {
	this.mu.Lock()
	defer this.mu.Unlock()
	if len(this.items) == 0 {
		return nil
	}
	return this.items[0]
}

// Pop_front removes the head. callers must only call this after Peek_front
// returned the same request and it was successfully dispatched, to
// preserve FIFO.
func (this *Deferred_queue) Pop_front() *Write_request {
	this.mu.Lock()
	defer this.mu.Unlock()
	if len(this.items) == 0 {
		return nil
	}
	var wr = this.items[0]
	this.items = this.items[1:]
	return wr
}

func (this *Deferred_queue) Len() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return len(this.items)
}

func (this *Deferred_queue) Empty() bool {
	return this.Len() == 0
}
