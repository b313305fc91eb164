// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* the RAM-side mirror of a Log_entry_slot, spec.md 3's LogEntry. this is
what the log-entry index (C3), the sync-point chain (C4) and the read
path (C7) all actually hold references to; the persisted slot only gets
touched at append and at replay. */

package rwl_entry

import (
	"sync"
	"sync/atomic"

	"github.com/nixomose/nixomosegotools/tools"
)

// Log_entry is the volatile mirror + runtime bookkeeping, spec.md 3.
type Log_entry struct {
	log *tools.Nixomosetools_logger

	Persisted Log_entry_slot // mirrors the persisted slot's fields exactly

	Log_entry_index uint32 // this entry's slot position in the ring
	Pmem_buffer_ref uint64 // not populated by the write or replay paths; Persisted.Data_buffer_ref holds the offset

	referring_map_entries int32 // atomic: how many live MapEntries point at this LogEntry, invariant I3
	reader_count          int32 // atomic: outstanding read-path borrows of Pmem_buffer, invariant I4

	mu        sync.Mutex
	completed bool // invariant: set once, at stage 9 (complete)
	flushing  bool // set while a writeback of this entry is in flight
	flushed   bool // set once the lower layer has durably accepted this entry's write

	// the actual bytes for this entry's write, borrowed from the pmem
	// pool's mapped region for the lifetime of this LogEntry. nil for
	// entries with no data (a bare sync point).
	Data_buffer []byte
}

func New_log_entry(log *tools.Nixomosetools_logger, index uint32) *Log_entry {
	var e Log_entry
	e.log = log
	e.Log_entry_index = index
	return &e
}

func (this *Log_entry) Block_extent(block_size_bytes uint64) (start_block uint64, end_block uint64) {
	return this.Persisted.Block_extent(block_size_bytes)
}

/* * * * * * * * * * referring_map_entries, invariant I3 * * * * * * * * */

func (this *Log_entry) Inc_referring_map_entries() {
	atomic.AddInt32(&this.referring_map_entries, 1)
}

func (this *Log_entry) Dec_referring_map_entries() tools.Ret {
	var v = atomic.AddInt32(&this.referring_map_entries, -1)
	if v < 0 {
		return tools.Error(this.log, "sanity failure, referring_map_entries went negative for log entry index ",
			this.Log_entry_index)
	}
	return nil
}

func (this *Log_entry) Referring_map_entries() int32 {
	return atomic.LoadInt32(&this.referring_map_entries)
}

/* * * * * * * * * * reader_count, invariant I4 * * * * * * * * * * * * */

// Acquire_reader is called when a MapEntry-backed read borrows this
// entry's Data_buffer directly (a hit segment); it must be matched with
// Release_reader when the borrowed bytes have been copied out.
func (this *Log_entry) Acquire_reader() {
	atomic.AddInt32(&this.reader_count, 1)
}

func (this *Log_entry) Release_reader() tools.Ret {
	var v = atomic.AddInt32(&this.reader_count, -1)
	if v < 0 {
		return tools.Error(this.log, "sanity failure, reader_count went negative for log entry index ",
			this.Log_entry_index)
	}
	return nil
}

func (this *Log_entry) Reader_count() int32 {
	return atomic.LoadInt32(&this.reader_count)
}

/* * * * * * * * * * completed / flushing / flushed * * * * * * * * * * */

func (this *Log_entry) Set_completed() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.completed = true
}

func (this *Log_entry) Completed() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.completed
}

// Try_start_flushing sets flushing=true and returns true iff this entry
// was completed, not already flushing, and not already flushed -- the
// caller (writeback.go) must hold this before issuing a lower-layer
// write for the entry, per invariant I6.
func (this *Log_entry) Try_start_flushing() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	if !this.completed || this.flushing || this.flushed {
		return false
	}
	this.flushing = true
	return true
}

func (this *Log_entry) Finish_flushing_success() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.flushing = false
	this.flushed = true
}

func (this *Log_entry) Finish_flushing_failure() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.flushing = false
	// flushed stays false, caller re-enqueues at the head of dirty_log_entries.
}

func (this *Log_entry) Flushed() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.flushed
}

func (this *Log_entry) Flushing() bool {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.flushing
}

// Retireable implements invariant I5: flushed, completed, no readers, no
// referring map entries. it does not check ring-head position; the
// caller (writeback.go's retire_entries) is responsible for that part of
// I5 since only it knows the ring layout.
func (this *Log_entry) Retireable() bool {
	this.mu.Lock()
	var okstate = this.flushed && this.completed
	this.mu.Unlock()
	if !okstate {
		return false
	}
	if this.Reader_count() != 0 {
		return false
	}
	if this.Referring_map_entries() != 0 {
		return false
	}
	return true
}
