// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Perform_read is C7 from spec.md 4.7: split each image extent into hit
segments served from log-entry pmem buffers (refcounted via reader_count)
and miss segments delegated to the lower layer, then splice the two back
together in order. grounded on Slookup_i.Read/read_internal and
Data_block_load's block-list gather shape, adapted from "load one entry's
blocks" to "hit/miss-segment a read across many entries." */

package rwl_src

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

type read_segment struct {
	start_block uint64
	end_block   uint64
	is_hit      bool
	data        []byte // only set for hits, filled during the walk
}

// Perform_read services one aligned read, spec.md 6's read(). fully-hit
// reads skip the lower layer entirely, per P8.
func Perform_read(log *tools.Nixomosetools_logger, log_map *Log_map, lower rwl_interfaces.Lower_layer_interface,
	block_size_bytes uint64, extents []rwl_interfaces.Image_extent, fadvise_random bool) (tools.Ret, *[]byte) {

	var out = make([]byte, 0, total_extent_bytes(extents))
	var miss_extents []rwl_interfaces.Image_extent
	var segment_lists = make([][]*read_segment, len(extents))

	for i, e := range extents {
		var start_block = e.Offset / block_size_bytes
		var end_block = (e.Offset + e.Length - 1) / block_size_bytes
		var segs, acquired = segment_extent(log_map, start_block, end_block, block_size_bytes)
		defer release_segments(acquired)
		segment_lists[i] = segs
		for _, s := range segs {
			if !s.is_hit {
				miss_extents = append(miss_extents, rwl_interfaces.Image_extent{
					Offset: s.start_block * block_size_bytes,
					Length: (s.end_block - s.start_block + 1) * block_size_bytes,
				})
			}
		}
	}

	var miss_data []byte
	if len(miss_extents) > 0 {
		var ret, data = lower.Read(miss_extents, fadvise_random)
		if ret != nil {
			return ret, nil
		}
		miss_data = *data
	}

	var miss_cursor = 0
	for i := range extents {
		for _, s := range segment_lists[i] {
			var seg_len = int((s.end_block - s.start_block + 1) * block_size_bytes)
			if s.is_hit {
				out = append(out, s.data...)
				continue
			}
			if miss_cursor+seg_len > len(miss_data) {
				return tools.Error(log, "sanity failure, lower layer read returned fewer bytes than requested for miss segments"), nil
			}
			out = append(out, miss_data[miss_cursor:miss_cursor+seg_len]...)
			miss_cursor += seg_len
		}
	}
	return nil, &out
}

// segment_extent walks the map entries overlapping [start_block,end_block]
// in block order, producing an ordered list of hit/miss segments that
// exactly covers the extent. it returns the LogEntries it acquired a
// reader ref on, for the caller to release once the copy is done.
func segment_extent(log_map *Log_map, start_block uint64, end_block uint64, block_size_bytes uint64) ([]*read_segment, []acquiredEntry) {
	var map_entries = log_map.Find_map_entries(start_block, end_block)
	var segs []*read_segment
	var acquired []acquiredEntry
	var cursor = start_block

	for _, m := range map_entries {
		var hit_start = m.Start_block
		if hit_start < cursor {
			hit_start = cursor
		}
		var hit_end = m.End_block
		if hit_end > end_block {
			hit_end = end_block
		}
		if hit_start > hit_end {
			continue
		}
		if hit_start > cursor {
			segs = append(segs, &read_segment{start_block: cursor, end_block: hit_start - 1, is_hit: false})
		}

		m.Entry.Acquire_reader()
		acquired = append(acquired, acquiredEntry{entry: m.Entry})

		// m's map-entry extent may have been shrunk by later Log_map.Add
		// calls, but it always falls within the owning LogEntry's original
		// extent, so the byte offset into Data_buffer is still just the
		// block distance from the LogEntry's own start, not m's start.
		var entry_start, _ = m.Entry.Block_extent(block_size_bytes)
		var byte_off = (hit_start - entry_start) * block_size_bytes
		var byte_len = (hit_end - hit_start + 1) * block_size_bytes
		var data []byte
		if int(byte_off+byte_len) <= len(m.Entry.Data_buffer) {
			data = append([]byte{}, m.Entry.Data_buffer[byte_off:byte_off+byte_len]...)
		} else {
			data = make([]byte, byte_len)
		}
		segs = append(segs, &read_segment{start_block: hit_start, end_block: hit_end, is_hit: true, data: data})
		cursor = hit_end + 1
	}
	if cursor <= end_block {
		segs = append(segs, &read_segment{start_block: cursor, end_block: end_block, is_hit: false})
	}
	return segs, acquired
}

type acquiredEntry struct {
	entry interface{ Release_reader() tools.Ret }
}

func release_segments(acquired []acquiredEntry) {
	for _, a := range acquired {
		a.entry.Release_reader()
	}
}

func total_extent_bytes(extents []rwl_interfaces.Image_extent) uint64 {
	var total uint64
	for _, e := range extents {
		total += e.Length
	}
	return total
}
