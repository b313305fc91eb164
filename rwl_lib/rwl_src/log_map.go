// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Log_map is C3 from spec.md 4.3: the ordered map from block extents to
the live LogEntries covering them. grounded on Slookup_i's reverse-lookup
bookkeeping pattern (reverse_lookup_entry_set/_get), generalized from a
fixed per-block-position array to an ordered, overlap-aware map, since
RWL's log entries cover variable-width extents instead of single fixed
blocks.

kept as a sorted slice rather than a tree: find_map_entries is a linear
scan over the whole slice, and an add rebuilds the slice and re-sorts it
by start offset -- this is the same tradeoff
stree_v_lib's block group list made for "mostly sequential" access, just
without carrying any of that type's shrink/grow machinery, which has no
counterpart here. */

package rwl_src

import (
	"sort"
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
)

// Map_entry is spec.md 3's MapEntry: a contiguous live portion of a
// LogEntry as seen by the read path.
type Map_entry struct {
	Start_block uint64
	End_block   uint64 // inclusive
	Entry       *rwl_entry.Log_entry
}

func (this *Map_entry) overlaps(start_block uint64, end_block uint64) bool {
	return start_block <= this.End_block && end_block >= this.Start_block
}

type Log_map struct {
	log *tools.Nixomosetools_logger

	block_size_bytes uint64

	mu      sync.RWMutex
	entries []*Map_entry // kept sorted by Start_block, invariant I2: none overlap
}

func New_log_map(log *tools.Nixomosetools_logger, block_size_bytes uint64) *Log_map {
	var m Log_map
	m.log = log
	m.block_size_bytes = block_size_bytes
	return &m
}

// Add inserts a map entry covering log_entry's full block extent,
// shrinking, splitting or removing any map entries it occludes, per
// spec.md 4.3 and invariant I2.
func (this *Log_map) Add(log_entry *rwl_entry.Log_entry) tools.Ret {
	var new_start, new_end = log_entry.Block_extent(this.block_size_bytes)

	this.mu.Lock()
	defer this.mu.Unlock()

	var kept = make([]*Map_entry, 0, len(this.entries)+2)
	for _, existing := range this.entries {
		if !existing.overlaps(new_start, new_end) {
			kept = append(kept, existing)
			continue
		}
		if new_start <= existing.Start_block && new_end >= existing.End_block {
			// new entry fully covers existing: drop it outright.
			var ret = existing.Entry.Dec_referring_map_entries()
			if ret != nil {
				return ret
			}
			continue
		}
		if new_start > existing.Start_block && new_end < existing.End_block {
			// new entry is strictly inside existing: split into left+right remainders.
			var left = &Map_entry{Start_block: existing.Start_block, End_block: new_start - 1, Entry: existing.Entry}
			var right = &Map_entry{Start_block: new_end + 1, End_block: existing.End_block, Entry: existing.Entry}
			existing.Entry.Inc_referring_map_entries() // one more map entry now refers to it
			kept = append(kept, left, right)
			continue
		}
		if new_start <= existing.Start_block {
			// new entry occludes the left side of existing: shrink existing from the left.
			existing.Start_block = new_end + 1
			kept = append(kept, existing)
			continue
		}
		// new_end >= existing.End_block: occludes the right side, shrink from the right.
		existing.End_block = new_start - 1
		kept = append(kept, existing)
	}

	kept = append(kept, &Map_entry{Start_block: new_start, End_block: new_end, Entry: log_entry})
	log_entry.Inc_referring_map_entries()

	sort.Slice(kept, func(i int, j int) bool { return kept[i].Start_block < kept[j].Start_block })
	this.entries = kept
	return nil
}

// Find_map_entries returns all map entries overlapping [start_block,end_block], in block order.
func (this *Log_map) Find_map_entries(start_block uint64, end_block uint64) []*Map_entry {
	this.mu.RLock()
	defer this.mu.RUnlock()
	var out []*Map_entry
	for _, e := range this.entries {
		if e.overlaps(start_block, end_block) {
			out = append(out, e)
		}
	}
	return out
}

// Find_log_entries projects Find_map_entries onto the underlying
// LogEntries; may contain duplicates if one LogEntry backs more than one
// surviving map entry in the queried range.
func (this *Log_map) Find_log_entries(start_block uint64, end_block uint64) []*rwl_entry.Log_entry {
	var map_entries = this.Find_map_entries(start_block, end_block)
	var out = make([]*rwl_entry.Log_entry, 0, len(map_entries))
	for _, m := range map_entries {
		out = append(out, m.Entry)
	}
	return out
}

// Remove_references_to drops any map entries still pointing at log_entry
// and decrements its referring_map_entries accordingly. called by
// writeback.go's retire_entries as a defensive cleanup: invariant I5
// already requires referring_map_entries == 0 before an entry is
// retireable, so this should normally find nothing to do.
func (this *Log_map) Remove_references_to(log_entry *rwl_entry.Log_entry) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var kept = make([]*Map_entry, 0, len(this.entries))
	for _, e := range this.entries {
		if e.Entry == log_entry {
			var ret = log_entry.Dec_referring_map_entries()
			if ret != nil {
				return ret
			}
			continue
		}
		kept = append(kept, e)
	}
	this.entries = kept
	return nil
}

// Remove_range drops or shrinks any map entries overlapping
// [start_block,end_block], the same occlusion shapes Add handles but with
// no replacement entry to insert -- used by Discard/Invalidate to make a
// range miss to the lower layer instead of continuing to serve log data.
func (this *Log_map) Remove_range(start_block uint64, end_block uint64) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()

	var kept = make([]*Map_entry, 0, len(this.entries)+1)
	for _, existing := range this.entries {
		if !existing.overlaps(start_block, end_block) {
			kept = append(kept, existing)
			continue
		}
		if start_block <= existing.Start_block && end_block >= existing.End_block {
			// range fully covers existing: drop it outright.
			var ret = existing.Entry.Dec_referring_map_entries()
			if ret != nil {
				return ret
			}
			continue
		}
		if start_block > existing.Start_block && end_block < existing.End_block {
			// range is strictly inside existing: split into left+right remainders.
			var left = &Map_entry{Start_block: existing.Start_block, End_block: start_block - 1, Entry: existing.Entry}
			var right = &Map_entry{Start_block: end_block + 1, End_block: existing.End_block, Entry: existing.Entry}
			existing.Entry.Inc_referring_map_entries() // one more map entry now refers to it
			kept = append(kept, left, right)
			continue
		}
		if start_block <= existing.Start_block {
			// range occludes the left side of existing: shrink from the left.
			existing.Start_block = end_block + 1
			kept = append(kept, existing)
			continue
		}
		// range occludes the right side: shrink from the right.
		existing.End_block = start_block - 1
		kept = append(kept, existing)
	}

	sort.Slice(kept, func(i int, j int) bool { return kept[i].Start_block < kept[j].Start_block })
	this.entries = kept
	return nil
}

func (this *Log_map) Entry_count() int {
	this.mu.RLock()
	defer this.mu.RUnlock()
	return len(this.entries)
}
