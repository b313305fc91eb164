// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Block_guard is C2 from spec.md 4.2: admission control over overlapping
block ranges so two writes to the same blocks never run their pipelines
concurrently. slookup_i/stree have no concept of a concurrent-writer
admission gate -- they're called under a single big interface_lock that
already serializes everything -- so there's no teacher analog to adapt
here; this follows spec.md 4.2/4.3's "a<b iff a.end<b.start" comparator
idiom directly, in the teacher's struct/method idiom, and the lock
ordering from spec.md 5 (block guard is locked before the append mutex,
never after). */

package rwl_src

import (
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
)

type guarded_range struct {
	start_block uint64
	end_block   uint64 // inclusive
	waiters     []chan struct{}
}

func (this *guarded_range) overlaps(start_block uint64, end_block uint64) bool {
	return start_block <= this.end_block && end_block >= this.start_block
}

// Block_guard detains [start_block,end_block] ranges: the first caller
// for a range is admitted immediately, later overlapping callers wait on
// the range that blocks them. when it is released every waiter on it is
// woken at once and rechecks for overlap, so the order in which waiters
// are admitted is not defined (it is not FIFO).
type Block_guard struct {
	log *tools.Nixomosetools_logger

	mu     sync.Mutex
	ranges []*guarded_range // unordered, walked linearly; ranges rarely number more than MAX_CONCURRENT_WRITES
}

func New_block_guard(log *tools.Nixomosetools_logger) *Block_guard {
	var g Block_guard
	g.log = log
	return &g
}

// Detain blocks (cooperatively, via a channel, never holding this.mu
// while waiting) until no other in-flight range overlaps
// [start_block,end_block], then admits this caller and returns.
func (this *Block_guard) Detain(start_block uint64, end_block uint64) {
	for {
		this.mu.Lock()
		var blocking *guarded_range
		for _, r := range this.ranges {
			if r.overlaps(start_block, end_block) {
				blocking = r
				break
			}
		}
		if blocking == nil {
			this.ranges = append(this.ranges, &guarded_range{start_block: start_block, end_block: end_block})
			this.mu.Unlock()
			return
		}
		var wait = make(chan struct{})
		blocking.waiters = append(blocking.waiters, wait)
		this.mu.Unlock()
		<-wait
		// woke up because the blocking range released; loop and recheck,
		// since some other overlapping range may have been admitted meanwhile.
	}
}

// Release removes this caller's detained range and wakes every waiter
// queued on it at once; which of them is admitted first is not defined.
func (this *Block_guard) Release(start_block uint64, end_block uint64) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	for i, r := range this.ranges {
		if r.start_block == start_block && r.end_block == end_block {
			this.ranges = append(this.ranges[:i], this.ranges[i+1:]...)
			for _, w := range r.waiters {
				close(w)
			}
			return nil
		}
	}
	return tools.Error(this.log, "sanity failure, release of a range not currently detained: [",
		start_block, ",", end_block, "]")
}

func (this *Block_guard) Detained_count() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return len(this.ranges)
}
