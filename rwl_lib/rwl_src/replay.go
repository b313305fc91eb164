// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Replay_pool is the supplemented feature from SPEC_FULL.md 3: init
reconstructs the in-memory index from the persisted ring rather than
refusing to mount, per spec.md 9's open question. walks the ring from
first_valid_entry to first_free_entry in log_entry_index order, skipping
slots without entry_valid, and repopulates log_entries/dirty/C3 the same
way a fresh append would have, via Log_map.Add.

note on a real deviation from the idealized algorithm: a persisted
Log_entry_slot carries no "this was already flushed to the lower layer"
flag (spec.md 3 only persists entry_valid/sync_point/sequenced/has_data/
unmap; flushed/flushing are runtime-only fields on the mirror). any entry
still occupying a ring slot at a crash was, by construction, not yet
retired -- retire is what clears entry_valid -- but it may or may not
have already reached the lower layer durably. this implementation
therefore treats every replayed entry as dirty and lets the writeback
engine re-issue its write; that write is idempotent at the lower layer
(last-writer-wins on the same extent), so re-flushing an already-flushed
entry is wasted work, not incorrect. */

package rwl_src

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
)

func Replay_pool(r *Rwl) tools.Ret {
	var header_first_valid = r.pool.First_valid_entry()
	var header_first_free = r.pool.First_free_entry()

	if header_first_valid == header_first_free {
		return nil // empty ring, nothing to replay
	}

	var idx = header_first_valid
	for idx != header_first_free {
		var ret, slot = r.pool.Read_entry_slot(idx)
		if ret != nil {
			return tools.Error(r.log, "replay failed reading ring slot ", idx, ": ", ret)
		}
		if !slot.Is_valid() {
			idx = r.pool.header.Next_slot(idx)
			continue
		}

		var entry = rwl_entry.New_log_entry(r.log, idx)
		entry.Persisted = *slot
		entry.Log_entry_index = idx
		var res = r.pool.allocator.Seed(slot.Data_buffer_ref, entry_buffer_length(slot))
		entry.Data_buffer = r.pool.Read_buffer(res)
		entry.Set_completed()

		if slot.Has_data() {
			ret = r.log_map.Add(entry)
			if ret != nil {
				return tools.Error(r.log, "replay failed repopulating log map for entry ", idx, ": ", ret)
			}
		}

		r.big_mu.Lock()
		r.log_entries = append(r.log_entries, entry)
		r.buffer_reservations[idx] = res
		r.free_log_entries--
		r.big_mu.Unlock()
		r.dirty.Push_back(entry)

		idx = r.pool.header.Next_slot(idx)
	}
	return nil
}

func entry_buffer_length(slot *rwl_entry.Log_entry_slot) uint64 {
	if slot.Write_bytes < Min_write_alloc_size_bytes {
		return Min_write_alloc_size_bytes
	}
	return slot.Write_bytes
}
