// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* the single cooperative work loop of spec.md 5: wired to C6 (deferred
dispatch) and C8 (writeback scheduling, retire) as specified. there is no
teacher analog for a background scheduler -- slookup_i/stree only ever
run synchronously under the caller's goroutine -- so this is new code,
following spec.md 4.8/5 directly in the teacher's idiom. */

package rwl_src

// wake_up schedules a work-loop tick if one isn't already scheduled; it
// owns the {requested, scheduled, enabled} flag trio spec.md 4.9 assigns
// to C9, but the loop itself lives here since C8 is its only driver.
func (this *Rwl) wake_up() {
	this.wake_mu.Lock()
	if !this.wake_enabled {
		this.wake_mu.Unlock()
		return
	}
	this.wake_requested = true
	if this.wake_scheduled {
		this.wake_mu.Unlock()
		return
	}
	this.wake_scheduled = true
	this.wake_mu.Unlock()

	go this.run_work_loop_tick()
}

// run_work_loop_tick is never re-entered concurrently, guarded by
// wake_scheduled; it keeps ticking as long as a wake was requested while
// it ran, so a storm of wake_up calls collapses into one extra tick.
func (this *Rwl) run_work_loop_tick() {
	for {
		this.wake_mu.Lock()
		this.wake_requested = false
		this.wake_mu.Unlock()

		this.dispatch_deferred_writes()
		this.process_writeback_dirty_entries()
		var ret = this.retire_entries()
		if ret != nil {
			this.log.Error("retire_entries returned a fatal error: ", ret)
		}
		this.maybe_complete_flush_waiters()

		this.wake_mu.Lock()
		if !this.wake_requested {
			this.wake_scheduled = false
			this.wake_mu.Unlock()
			return
		}
		this.wake_mu.Unlock()
	}
}

// dispatch_deferred_writes is spec.md 4.8 step 1: retry alloc_resources
// for the head of the deferred queue; stop at the first failure to
// preserve FIFO (B3).
func (this *Rwl) dispatch_deferred_writes() {
	for {
		var wr = this.deferred.Peek_front()
		if wr == nil {
			return
		}
		var ret = this.alloc_resources(wr)
		if ret != nil {
			return
		}
		this.deferred.Pop_front()
		go func() {
			var dispatch_ret = this.dispatch(wr)
			if dispatch_ret != nil {
				this.log.Error("deferred write dispatch failed: ", dispatch_ret)
				if wr.On_finish != nil {
					wr.On_finish(dispatch_ret)
				}
			}
		}()
	}
}

func (this *Rwl) maybe_complete_flush_waiters() {
	this.big_mu.Lock()
	if this.flush_ops_in_flight != 0 || !this.dirty.Empty() {
		this.big_mu.Unlock()
		return
	}
	var waiters = this.flush_waiters
	this.flush_waiters = nil
	this.big_mu.Unlock()
	for _, cb := range waiters {
		cb()
	}
}
