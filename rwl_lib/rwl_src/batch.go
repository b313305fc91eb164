// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* batch.go is spec.md 4.5 stages 7-10 plus the batching policy of 4.6:
flush batch (OPS_FLUSHED_TOGETHER), append batch
(MAX_ALLOC_PER_TRANSACTION), ring-wrap splitting (B4). grounded on
Tlog.Write_block_range/Write_block_list's batched, parallel-fanout
write-then-wait idiom, generalized from fixed 4K blocks to variable-size
data buffers, and on Slookup_i.deallocate/physically_delete_one's
"advance a cursor, transactionally commit the move" shape for the append
transaction itself. */

package rwl_src

import (
	"golang.org/x/sync/errgroup"

	"github.com/nixomose/nixomosegotools/tools"
)

// append_batch runs stages 7 (persist buffers), 8 (append log entries)
// and 9/10 (complete, release) for one OperationSet.
func (this *Rwl) append_batch(op_set *OperationSet, wr *Write_request) tools.Ret {
	// stage 7: persist buffers, OPS_FLUSHED_TOGETHER at a time.
	for start := 0; start < len(op_set.Ops); start += this.config.Ops_flushed_together {
		var end = start + this.config.Ops_flushed_together
		if end > len(op_set.Ops) {
			end = len(op_set.Ops)
		}
		var ret = this.flush_ops_batch(op_set.Ops[start:end])
		if ret != nil {
			return ret
		}
	}

	// stage 8: append log entries, MAX_ALLOC_PER_TRANSACTION at a time,
	// split at the ring wrap point per B4.
	for start := 0; start < len(op_set.Ops); start += this.config.Max_alloc_per_transaction {
		var end = start + this.config.Max_alloc_per_transaction
		if end > len(op_set.Ops) {
			end = len(op_set.Ops)
		}
		var ret = this.append_ops_batch(op_set.Ops[start:end])
		if ret != nil {
			return ret
		}
	}

	// stage 9: complete.
	this.big_mu.Lock()
	this.unpublished_reserves -= len(op_set.Ops)
	this.big_mu.Unlock()

	for _, op := range op_set.Ops {
		op.Log_entry.Set_completed()
		this.dirty.Push_back(op.Log_entry)
		if !op_set.persist_on_flush {
			op_set.Sync_point.Complete_sub_op()
		}
	}

	if !op_set.persist_on_flush {
		if wr.On_finish != nil {
			wr.On_finish(nil)
		}
	}

	// stage 10: release.
	this.big_mu.Lock()
	this.free_lanes += wr.Num_extents
	this.big_mu.Unlock()
	var ret = this.guard.Release(wr.guard_start_block, wr.guard_end_block)
	this.wake_up()
	return ret
}

// flush_ops_batch is spec.md 4.5 stage 7: flush every buffer in the
// sub-batch in parallel, then issue one drain. the parallel fan-out is
// grounded on Tlog.Write_block_range's errgroup.WithContext use.
func (this *Rwl) flush_ops_batch(ops []*Operation) tools.Ret {
	var group errgroup.Group
	for _, op := range ops {
		var op = op
		group.Go(func() error {
			var ret = this.pool.Flush_buffer(op.buffer_reservation)
			if ret != nil {
				return ret
			}
			return nil
		})
	}
	var err = group.Wait()
	if err != nil {
		return tools.Error(this.log, "flush batch failed: ", err)
	}
	return this.pool.Drain()
}

// append_ops_batch appends a sub-batch of log entries, splitting the
// sub-batch at the ring wrap point first (B4). each entry is appended and
// its buffer published on its own; the sub-batch is not committed as one
// atomic unit, so a crash part way through leaves a prefix of it in the ring.
func (this *Rwl) append_ops_batch(ops []*Operation) tools.Ret {
	var cap_ = this.pool.Ring_capacity()
	var first = this.pool.First_free_entry()
	var distance_to_wrap = uint32(len(ops))
	if first+uint32(len(ops)) > cap_ {
		distance_to_wrap = cap_ - first
	}
	if distance_to_wrap < uint32(len(ops)) {
		var ret = this.append_ops_batch(ops[:distance_to_wrap])
		if ret != nil {
			return ret
		}
		return this.append_ops_batch(ops[distance_to_wrap:])
	}

	this.append_mu.Lock()
	defer this.append_mu.Unlock()
	for _, op := range ops {
		var ret, index = this.pool.Append_entry(&op.Log_entry.Persisted)
		if ret != nil {
			// fatal per spec.md 7: an append-transaction abort is a bug or
			// media failure and must not be silently swallowed.
			return tools.Error(this.log, "fatal: append transaction aborted: ", ret)
		}
		op.Log_entry.Log_entry_index = index
		ret = this.pool.Publish_buffer(op.buffer_reservation)
		if ret != nil {
			return tools.Error(this.log, "fatal: publish of buffer reservation failed after append commit: ", ret)
		}

		this.big_mu.Lock()
		this.buffer_reservations[index] = op.buffer_reservation
		this.log_entries = append(this.log_entries, op.Log_entry)
		this.big_mu.Unlock()
	}
	return nil
}
