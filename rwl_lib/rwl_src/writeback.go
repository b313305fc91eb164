// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* writeback.go is C8 from spec.md 4.8: process_writeback_dirty_entries and
retire_entries. grounded on Tlog.Write_block_range's parallel-fanout-then-
join idiom for lower-layer dispatch, and on
Slookup_i.deallocate/physically_delete_one's "advance a cursor,
transactionally commit the free-position move" shape for retire. */

package rwl_src

import (
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// Dirty_queue is the FIFO of LogEntries not yet flushed to the lower
// layer, spec.md 3/4.8's dirty_log_entries.
type Dirty_queue struct {
	mu    sync.Mutex
	items []*rwl_entry.Log_entry
}

func New_dirty_queue() *Dirty_queue {
	return &Dirty_queue{}
}

func (this *Dirty_queue) Push_back(e *rwl_entry.Log_entry) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.items = append(this.items, e)
}

func (this *Dirty_queue) Push_front(e *rwl_entry.Log_entry) {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.items = append([]*rwl_entry.Log_entry{e}, this.items...)
}

func (this *Dirty_queue) Pop_front() *rwl_entry.Log_entry {
	this.mu.Lock()
	defer this.mu.Unlock()
	if len(this.items) == 0 {
		return nil
	}
	var e = this.items[0]
	this.items = this.items[1:]
	return e
}

func (this *Dirty_queue) Peek_front() *rwl_entry.Log_entry {
	this.mu.Lock()
	defer this.mu.Unlock()
	if len(this.items) == 0 {
		return nil
	}
	return this.items[0]
}

func (this *Dirty_queue) Empty() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return len(this.items) == 0
}

func (this *Dirty_queue) Len() int {
	this.mu.Lock()
	defer this.mu.Unlock()
	return len(this.items)
}

// process_writeback_dirty_entries is spec.md 4.8 step 2: while the dirty
// queue is non-empty and its head is flushable (completed, under the
// in-flight write/byte limits), issue its write to the lower layer.
func (this *Rwl) process_writeback_dirty_entries() {
	for {
		this.big_mu.Lock()
		if this.flush_ops_in_flight >= this.config.In_flight_flush_write_limit ||
			this.flush_bytes_in_flight >= this.config.In_flight_flush_bytes_limit {
			this.big_mu.Unlock()
			return
		}
		var head = this.dirty.Peek_front()
		if head == nil {
			this.big_mu.Unlock()
			return
		}
		if !head.Try_start_flushing() {
			this.big_mu.Unlock()
			return
		}
		this.dirty.Pop_front()
		this.flush_ops_in_flight++
		this.flush_bytes_in_flight += head.Persisted.Write_bytes
		this.big_mu.Unlock()

		head.Acquire_reader()
		go this.issue_writeback(head)
	}
}

// issue_writeback runs on its own goroutine, one per entry being written
// back; it calls the lower layer's Write synchronously and then updates the
// in-flight counters itself.
func (this *Rwl) issue_writeback(entry *rwl_entry.Log_entry) {
	defer entry.Release_reader()

	var extents = []rwl_interfaces.Image_extent{{
		Offset: entry.Persisted.Image_offset_bytes,
		Length: entry.Persisted.Write_bytes,
	}}
	var data = entry.Data_buffer
	var ret = this.lower.Write(extents, &data, false)

	this.big_mu.Lock()
	this.flush_ops_in_flight--
	this.flush_bytes_in_flight -= entry.Persisted.Write_bytes
	this.big_mu.Unlock()

	if ret != nil {
		// writeback failure requeues the dirty entry at the head for
		// retry, per spec.md 7: no dead-letter path.
		entry.Finish_flushing_failure()
		this.dirty.Push_front(entry)
		this.log.Error("writeback of log entry index ", entry.Log_entry_index, " failed, requeued: ", ret)
	} else {
		entry.Finish_flushing_success()
	}
	this.wake_up()
}

// retire_entries is spec.md 4.8 step 3: while the head of log_entries
// satisfies I5 and the batch is under MAX_ALLOC_PER_TRANSACTION, advance
// first_valid_entry and free the retiree's data buffer.
func (this *Rwl) retire_entries() tools.Ret {
	var batch []*rwl_entry.Log_entry
	for len(batch) < this.config.Max_alloc_per_transaction {
		this.big_mu.Lock()
		var head = this.peek_head_log_entry_locked()
		if head == nil || !head.Retireable() {
			this.big_mu.Unlock()
			break
		}
		this.pop_head_log_entry_locked()
		this.big_mu.Unlock()
		batch = append(batch, head)
	}
	if len(batch) == 0 {
		return nil
	}

	for _, e := range batch {
		var ret = this.log_map.Remove_references_to(e)
		if ret != nil {
			return tools.Error(this.log, "fatal: retire transaction aborted while clearing log map: ", ret)
		}
	}

	this.append_mu.Lock()
	for _, e := range batch {
		var ret = this.pool.Free_entry(e.Log_entry_index)
		if ret != nil {
			this.append_mu.Unlock()
			return tools.Error(this.log, "fatal: retire transaction aborted freeing entry index ", e.Log_entry_index, ": ", ret)
		}
		this.big_mu.Lock()
		var res = this.buffer_reservations[e.Log_entry_index]
		delete(this.buffer_reservations, e.Log_entry_index)
		this.big_mu.Unlock()
		if res != nil {
			var buffer_ret = this.pool.Release_buffer(res)
			if buffer_ret != nil {
				this.append_mu.Unlock()
				return tools.Error(this.log, "fatal: retire transaction aborted releasing data buffer: ", buffer_ret)
			}
		}
	}
	this.append_mu.Unlock()

	this.big_mu.Lock()
	this.free_log_entries += len(batch)
	this.big_mu.Unlock()
	return nil
}
