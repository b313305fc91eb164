// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Rwl is C9, the top-level cache facade from spec.md 4.9/6: aligned-I/O
entry points, lifecycle, and the work-loop wake-up flag trio. grounded on
Slookup_i.Init/Startup/Shutdown composing m_storage + m_transaction_log_storage
lifecycle in order, generalized here to compose the pmem pool (C1) with
the lower layer. */

package rwl_src

import (
	"sync"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

type Rwl struct {
	log    *tools.Nixomosetools_logger
	config *Config

	pool    *Pmem_pool
	lower   rwl_interfaces.Lower_layer_interface
	guard   *Block_guard
	log_map *Log_map

	sync_points      *Sync_point_chain
	persist_on_flush bool
	sync_point_dirty bool // true if a write has dispatched under the current sync point since it was installed, spec.md 4.4's flush gate

	deferred *Deferred_queue
	dirty    *Dirty_queue

	big_mu               sync.Mutex
	free_lanes           int
	free_log_entries     int
	unpublished_reserves int
	log_entries          []*rwl_entry.Log_entry // ordered, index 0 is the ring head
	buffer_reservations  map[uint32]*Buffer_reservation
	flush_ops_in_flight  int
	flush_bytes_in_flight uint64
	flush_waiters        []func()

	append_mu sync.Mutex

	wake_mu        sync.Mutex
	wake_requested bool
	wake_scheduled bool
	wake_enabled   bool

	read_only bool // true while a snapshot is current, per spec.md 6's EROFS contract
	started   bool // false before Init completes and after Shutdown begins

	instrumentation rwl_interfaces.Instrumentation_sink
}

func New_rwl(log *tools.Nixomosetools_logger, config *Config, lower rwl_interfaces.Lower_layer_interface) *Rwl {
	var r Rwl
	r.log = log
	r.config = config
	r.lower = lower
	r.guard = New_block_guard(log)
	r.log_map = New_log_map(log, config.Block_size_bytes)
	r.sync_points = New_sync_point_chain(log)
	r.persist_on_flush = false
	r.deferred = New_deferred_queue()
	r.dirty = New_dirty_queue()
	r.buffer_reservations = make(map[uint32]*Buffer_reservation)
	r.instrumentation = rwl_interfaces.Noop_instrumentation_sink{}
	return &r
}

func (this *Rwl) Set_instrumentation(sink rwl_interfaces.Instrumentation_sink) {
	this.instrumentation = sink
}

/* * * * * * * * * * * * lifecycle * * * * * * * * * * * * * * * * * * */

// Init composes the pmem pool and the lower layer, bottom-up, per
// spec.md 6: init bottom-up, shutdown top-down after the final flush.
func (this *Rwl) Init(force bool) tools.Ret {
	var ret = this.lower.Init()
	if ret != nil {
		return ret
	}
	ret = this.lower.Startup(force)
	if ret != nil {
		return ret
	}

	this.pool = New_pmem_pool(this.log)
	var ring_capacity = this.config.Ring_capacity()
	var buffer_area = this.config.Buffer_area_bytes()

	if force {
		ret = this.pool.Create(this.config.Path, this.config.Block_size_bytes, ring_capacity, buffer_area, true)
	} else {
		ret = this.pool.Open(this.config.Path, this.config.Block_size_bytes, ring_capacity)
		if ret != nil {
			ret = this.pool.Create(this.config.Path, this.config.Block_size_bytes, ring_capacity, buffer_area, false)
		}
	}
	if ret != nil {
		return tools.Error(this.log, "fatal: unable to open or create rwl pool, refusing to mount: ", ret)
	}

	this.free_lanes = this.config.Max_concurrent_writes
	this.free_log_entries = int(this.pool.Ring_capacity()) - 1
	this.persist_on_flush = !this.config.Persist_on_write_until_flush

	ret = Replay_pool(this)
	if ret != nil {
		return tools.Error(this.log, "fatal: pool replay failed, refusing to mount: ", ret)
	}

	this.wake_mu.Lock()
	this.wake_enabled = true
	this.wake_mu.Unlock()
	this.started = true
	return nil
}

// Shutdown issues a final flush, waits for a running work-loop tick and any
// in-flight writebacks to finish, and closes the pmem pool top-down, per
// spec.md 5's shutdown sequence. writes still being dispatched by callers
// are not tracked.
func (this *Rwl) Shutdown() tools.Ret {
	if !this.started {
		return tools.Error(this.log, "rwl is not started, nothing to shut down")
	}
	this.started = false
	var done = make(chan tools.Ret, 1)
	this.Flush(func(ret tools.Ret) { done <- ret })
	var ret = <-done
	if ret != nil {
		return ret
	}

	this.wake_mu.Lock()
	this.wake_enabled = false
	this.wake_mu.Unlock()

	// neither a work-loop tick nor a writeback may touch the pool once it is unmapped.
	for {
		this.wake_mu.Lock()
		var scheduled = this.wake_scheduled
		this.wake_mu.Unlock()
		this.big_mu.Lock()
		var in_flight = this.flush_ops_in_flight
		this.big_mu.Unlock()
		if !scheduled && in_flight == 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	ret = this.pool.Close()
	if ret != nil {
		return ret
	}
	return this.lower.Shutdown()
}

/* * * * * * * * * * * * facade operations, spec.md 6 * * * * * * * * */

func (this *Rwl) check_aligned(offset uint64, length uint64) tools.Ret {
	var bs = this.config.Block_size_bytes
	if offset%bs != 0 || length%bs != 0 {
		return tools.Error(this.log, "EINVAL: unaligned extent, offset ", offset, " length ", length,
			" block size ", bs)
	}
	return nil
}

func (this *Rwl) Read(extents []rwl_interfaces.Image_extent, fadvise_random bool) (tools.Ret, *[]byte) {
	if !this.started {
		return tools.Error(this.log, "rwl is not started"), nil
	}
	for _, e := range extents {
		var ret = this.check_aligned(e.Offset, e.Length)
		if ret != nil {
			return ret, nil
		}
	}
	return Perform_read(this.log, this.log_map, this.lower, this.config.Block_size_bytes, extents, fadvise_random)
}

// Write is spec.md 6's write(): aligned, rejects with EROFS while
// read-only or a snapshot is current.
func (this *Rwl) Write(extents []rwl_interfaces.Image_extent, data []byte, on_finish func(tools.Ret)) tools.Ret {
	if !this.started {
		return tools.Error(this.log, "rwl is not started")
	}
	if this.read_only {
		return tools.Error(this.log, "EROFS: rwl is read-only (snapshot current)")
	}
	if len(extents) == 0 {
		return tools.Error(this.log, "EINVAL: write requires at least one image extent")
	}
	for _, e := range extents {
		var ret = this.check_aligned(e.Offset, e.Length)
		if ret != nil {
			return ret
		}
	}
	var wr = New_write_request(this.log, extents, data, on_finish)
	return this.submit_write(wr)
}

// Discard detains the full range so no in-flight write straddles it, drops
// the C3 map entries covering it so a later read misses to the lower layer
// instead of the log, then forwards to the lower layer -- spec.md 3's
// discard-as-invalidate-plus-forward feature. this is range map-entry
// removal, the same operation Invalidate does over the whole image; it is
// distinct from the selective invalidation + miss-treatment marker left
// out of scope by spec.md 9/SPEC_FULL.md 4 item 1, which is about avoiding
// the lower-layer round trip entirely, not about correctness of the range.
func (this *Rwl) Discard(offset uint64, length uint64, skip_partial_discard bool) tools.Ret {
	if !this.started {
		return tools.Error(this.log, "rwl is not started")
	}
	if this.read_only {
		return tools.Error(this.log, "EROFS: rwl is read-only (snapshot current)")
	}
	var ret = this.check_aligned(offset, length)
	if ret != nil {
		return ret
	}
	var bs = this.config.Block_size_bytes
	var start_block = offset / bs
	var end_block = (offset + length - 1) / bs
	this.guard.Detain(start_block, end_block)
	defer this.guard.Release(start_block, end_block)

	ret = this.log_map.Remove_range(start_block, end_block)
	if ret != nil {
		return ret
	}

	return this.lower.Discard(offset, length, skip_partial_discard)
}

// Flush is spec.md 4.4/4.8's flush semantics. on_finish fires immediately
// if nothing is dirty and nothing is flushing; otherwise it is queued and
// fired once the loop observes the clean condition.
func (this *Rwl) Flush(on_finish func(tools.Ret)) {
	if !this.persist_on_flush {
		this.big_mu.Lock()
		if this.config.Persist_on_write_until_flush {
			// first user flush: hand off acknowledgement to dispatch time
			// from here on, per spec.md 4.4/4.8's mode switch.
			this.persist_on_flush = true
		}
		var clean = this.flush_ops_in_flight == 0 && this.dirty.Empty()
		if clean {
			this.big_mu.Unlock()
			on_finish(nil)
			return
		}
		this.flush_waiters = append(this.flush_waiters, func() { on_finish(nil) })
		this.big_mu.Unlock()
		this.wake_up()
		return
	}

	// persist-on-flush mode: couple the callback to sync-point persistence,
	// per spec.md 4.4's flush interaction.
	this.big_mu.Lock()
	var current = this.sync_points.Current()
	var earlier = current.Earlier()
	var dirty = this.sync_point_dirty
	this.big_mu.Unlock()

	if dirty {
		current.On_persisted(func() { on_finish(nil) })
		this.big_mu.Lock()
		this.sync_points.New_sync_point()
		this.sync_point_dirty = false
		this.big_mu.Unlock()
		this.wake_up()
		return
	}
	if earlier != nil {
		earlier.On_persisted(func() { on_finish(nil) })
		return
	}
	on_finish(nil)
}

func (this *Rwl) Writesame(offset uint64, length uint64, data []byte, fadvise_random bool) tools.Ret {
	// stub: delegates to the lower layer, per spec.md 6 and SPEC_FULL.md 3.
	return this.lower.Writesame(offset, length, &data, fadvise_random)
}

func (this *Rwl) Compare_and_write(extents []rwl_interfaces.Image_extent, cmp_data []byte, data []byte,
	fadvise_random bool) (tools.Ret, uint64) {
	// stub: delegates to the lower layer, per spec.md 6 and SPEC_FULL.md 3.
	return this.lower.Compare_and_write(extents, &cmp_data, &data, fadvise_random)
}

// Invalidate drops the entire log over the full image range. it drains the
// dirty queue first so nothing still queued for writeback resurrects data
// into the lower layer after Invalidate erases it there, then reclaims
// every ring slot and buffer reservation the same way retire_entries does,
// crediting free_log_entries back so capacity doesn't permanently shrink.
func (this *Rwl) Invalidate() tools.Ret {
	this.guard.Detain(0, ^uint64(0))
	defer this.guard.Release(0, ^uint64(0))

	this.big_mu.Lock()
	this.dirty = New_dirty_queue()
	this.big_mu.Unlock()

	var ret = this.lower.Invalidate()
	if ret != nil {
		return ret
	}

	this.big_mu.Lock()
	var entries = this.log_entries
	this.log_entries = nil
	this.big_mu.Unlock()

	this.append_mu.Lock()
	for _, e := range entries {
		var free_ret = this.pool.Free_entry(e.Log_entry_index)
		if free_ret != nil {
			this.append_mu.Unlock()
			return tools.Error(this.log, "fatal: invalidate aborted freeing entry index ", e.Log_entry_index, ": ", free_ret)
		}
		this.big_mu.Lock()
		var res = this.buffer_reservations[e.Log_entry_index]
		delete(this.buffer_reservations, e.Log_entry_index)
		this.big_mu.Unlock()
		if res != nil {
			var buffer_ret = this.pool.Release_buffer(res)
			if buffer_ret != nil {
				this.append_mu.Unlock()
				return tools.Error(this.log, "fatal: invalidate aborted releasing data buffer: ", buffer_ret)
			}
		}
	}
	this.append_mu.Unlock()

	this.big_mu.Lock()
	this.free_log_entries += len(entries)
	this.big_mu.Unlock()

	this.log_map = New_log_map(this.log, this.config.Block_size_bytes)
	return nil
}

/* * * * * * * * * * * * log_entries head helpers * * * * * * * * * * */

// peek_head_log_entry_locked and pop_head_log_entry_locked are called
// with big_mu already held, from retire_entries.
func (this *Rwl) peek_head_log_entry_locked() *rwl_entry.Log_entry {
	if len(this.log_entries) == 0 {
		return nil
	}
	return this.log_entries[0]
}

func (this *Rwl) pop_head_log_entry_locked() *rwl_entry.Log_entry {
	if len(this.log_entries) == 0 {
		return nil
	}
	var e = this.log_entries[0]
	this.log_entries = this.log_entries[1:]
	return e
}
