// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* the C5 operation pipeline, spec.md 4.5 stages 2-10 (stage 1, Arrive, is
just New_write_request). grounded on Slookup_i.Write/write_internal/
perform_new_value_write for the lock-then-stage shape
(interface_lock.Lock(); defer Unlock()) and on Tlog.Write_block_range for
the batched, parallel-fanout write-then-wait idiom. */

package rwl_src

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// submit_write runs stages 2-10 of spec.md 4.5 for one Write_request. it
// is called from Rwl.Write (the synchronous submission path); the work
// loop's dispatch_deferred_writes (the retry path) calls alloc_resources
// and dispatch directly, which is why detain/alloc/dispatch are split into
// their own methods below rather than inlined here.
func (this *Rwl) submit_write(wr *Write_request) tools.Ret {
	// stage 2: detain.
	var start_block, end_block = wr.Block_extent(this.config.Block_size_bytes)
	wr.guard_start_block = start_block
	wr.guard_end_block = end_block
	this.guard.Detain(start_block, end_block)
	wr.Detained = true

	// stage 3: alloc-and-dispatch.
	if this.deferred.Empty() {
		var ret = this.alloc_resources(wr)
		if ret == nil {
			return this.dispatch(wr)
		}
	}
	this.deferred.Push_back(wr)
	this.wake_up()
	return nil
}

// alloc_resources is spec.md 4.5 stage 4. all-or-nothing: on any failure
// every reservation made so far is cancelled before returning.
func (this *Rwl) alloc_resources(wr *Write_request) tools.Ret {
	this.big_mu.Lock()
	if this.free_lanes < wr.Num_extents || this.free_log_entries < wr.Num_extents {
		this.big_mu.Unlock()
		return tools.Error(this.log, "insufficient lanes or log entries, deferring")
	}
	this.big_mu.Unlock()

	var reservations = make([]*Buffer_reservation, 0, wr.Num_extents)
	for _, e := range wr.Image_extents {
		var size = e.Length
		if size < Min_write_alloc_size_bytes {
			size = Min_write_alloc_size_bytes
		}
		var ret, res = this.pool.Reserve_buffer(size)
		if ret != nil {
			for _, r := range reservations {
				this.pool.Cancel_buffer(r)
			}
			return ret
		}
		reservations = append(reservations, res)
	}

	this.big_mu.Lock()
	if this.free_lanes < wr.Num_extents || this.free_log_entries < wr.Num_extents {
		this.big_mu.Unlock()
		for _, r := range reservations {
			this.pool.Cancel_buffer(r)
		}
		return tools.Error(this.log, "insufficient lanes or log entries on re-check, deferring")
	}
	this.free_lanes -= wr.Num_extents
	this.free_log_entries -= wr.Num_extents
	this.unpublished_reserves += wr.Num_extents
	this.big_mu.Unlock()

	wr.resources_allocated = true
	wr.reservations = reservations
	return nil
}

// dispatch is spec.md 4.5 stage 5 through the synchronous half of stage 9
// for persist-on-flush mode (the user callback fires here, before pmem
// durability, per 4.5's note on stage 9).
func (this *Rwl) dispatch(wr *Write_request) tools.Ret {
	this.big_mu.Lock()
	var sp = this.sync_points.Current()
	var persist_on_flush = this.persist_on_flush
	var start_block, end_block = wr.guard_start_block, wr.guard_end_block
	var op_set = new_operation_set(sp, start_block, end_block, persist_on_flush)
	this.sync_point_dirty = true

	for i, e := range wr.Image_extents {
		var entry = rwl_entry.New_log_entry(this.log, 0)
		entry.Persisted.Image_offset_bytes = e.Offset
		entry.Persisted.Write_bytes = e.Length
		entry.Persisted.Sync_gen_number = sp.Sync_gen_number
		entry.Persisted.Set_flag(rwl_entry.Flag_has_data, true)
		entry.Persisted.Set_flag(rwl_entry.Flag_sync_point, false)
		entry.Persisted.Set_flag(rwl_entry.Flag_unmap, false)

		if !persist_on_flush {
			entry.Persisted.Write_sequence_number = this.sync_points.Next_write_sequence_number()
			entry.Persisted.Set_flag(rwl_entry.Flag_sequenced, true)
			sp.Add_sub_op()
		}

		var data []byte
		if wr.Data != nil {
			var off = image_extents_total_length(wr.Image_extents[:i])
			data = wr.Data[off : off+e.Length]
		}
		var op = &Operation{Log_entry: entry, Data: data, buffer_reservation: wr.reservations[i]}
		op_set.Ops = append(op_set.Ops, op)
		op_set.remaining++

		var ret = this.log_map.Add(entry)
		if ret != nil {
			this.big_mu.Unlock()
			return ret
		}
	}
	wr.Op_set = op_set
	this.big_mu.Unlock()

	// stage 6: copy to pmem.
	for _, op := range op_set.Ops {
		var ret = this.pool.Write_buffer(op.buffer_reservation, op.Data)
		if ret != nil {
			return ret
		}
		op.Log_entry.Persisted.Data_buffer_ref = op.buffer_reservation.Offset
		op.Log_entry.Data_buffer = this.pool.Read_buffer(op.buffer_reservation)
	}

	// stage 9's persist-on-flush half: the user is acknowledged now,
	// durability is decoupled and will land when the next sync point persists.
	if persist_on_flush {
		if wr.On_finish != nil {
			wr.On_finish(nil)
		}
	}

	return this.append_batch(op_set, wr)
}

func image_extents_total_length(extents []rwl_interfaces.Image_extent) uint64 {
	var total uint64
	for _, e := range extents {
		total += e.Length
	}
	return total
}
