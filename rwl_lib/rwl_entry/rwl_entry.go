// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* this is the persisted log entry slot, the RWL equivalent of the
teacher's slookup_i_entry.go lookup table entry. slookup_i entries carry
a block_group_list of data block positions; a log entry instead carries
one reference to one variable-size data buffer allocation, because RWL
doesn't split a write across multiple fixed blocks, the pmem pool's
allocator (see rwl_lib/rwl_src/buffer_alloc.go) already gives out
variable-size buffers.

the slot is fixed at 64 bytes on the wire, per spec.md 3, so unlike
slookup_i_entry (whose serialized size depends on block_group_count) this
one never needs a Serialized_size() call before we know how much to read.
that lets the pmem pool lay out the entry ring as a plain fixed-stride
array, the way the teacher lays out the lookup table as fixed-stride
Slookup_i_entry records. */

// Package rwl_entry name must match directory name
package rwl_entry

import (
	"bytes"
	"encoding/binary"

	"github.com/nixomose/nixomosegotools/tools"
)

// Log_entry_slot_size is the fixed on-disk size of a Log_entry_slot, spec.md 3.
const Log_entry_slot_size = 64

// flag bits, spec.md 3: flags{entry_valid, sync_point, sequenced, has_data, unmap}
const (
	Flag_entry_valid uint32 = 1 << iota
	Flag_sync_point
	Flag_sequenced
	Flag_has_data
	Flag_unmap
)

// Log_entry_slot is the persisted, authoritative 64-byte record. this is
// what actually lives in the pmem pool's entry ring; the RAM-side mirror
// (rwl_entry_mirror.go) wraps one of these plus runtime bookkeeping.
type Log_entry_slot struct {
	// must be exported or binary.Write/Read can't see the fields, same
	// requirement the teacher notes on Slookup_i_header.
	Sync_gen_number       uint64
	Write_sequence_number uint64
	Image_offset_bytes    uint64
	Write_bytes           uint64
	Data_buffer_ref       uint64   // offset of the data buffer allocation within the pmem pool's buffer area; 0 is a valid offset
	Flags                 uint32
	Reserved              [20]byte // pad the struct out to Log_entry_slot_size
}

func New_log_entry_slot() *Log_entry_slot {
	var s Log_entry_slot
	return &s
}

func (this *Log_entry_slot) Is_valid() bool     { return this.Flags&Flag_entry_valid != 0 }
func (this *Log_entry_slot) Is_sync_point() bool { return this.Flags&Flag_sync_point != 0 }
func (this *Log_entry_slot) Is_sequenced() bool { return this.Flags&Flag_sequenced != 0 }
func (this *Log_entry_slot) Has_data() bool     { return this.Flags&Flag_has_data != 0 }
func (this *Log_entry_slot) Is_unmap() bool     { return this.Flags&Flag_unmap != 0 }

func (this *Log_entry_slot) Set_flag(flag uint32, on bool) {
	if on {
		this.Flags |= flag
	} else {
		this.Flags &^= flag
	}
}

// Block_extent returns the inclusive [start,end] block range this entry
// covers, given the block size in bytes. mirrors how the teacher derives
// block positions from byte offsets in internal_lookup_entry_blocks_load.
func (this *Log_entry_slot) Block_extent(block_size_bytes uint64) (start_block uint64, end_block uint64) {
	start_block = this.Image_offset_bytes / block_size_bytes
	var last_byte uint64 = this.Image_offset_bytes + this.Write_bytes - 1
	end_block = last_byte / block_size_bytes
	return
}

// Serialize writes this slot out in the fixed 64 byte wire format, same
// encoding/binary + bytes.Buffer idiom as Slookup_i_header.Serialize.
func (this *Log_entry_slot) Serialize(log *tools.Nixomosetools_logger) (tools.Ret, *[]byte) {
	var bb = bytes.NewBuffer(make([]byte, 0, Log_entry_slot_size))
	var err = binary.Write(bb, binary.BigEndian, this)
	if err != nil {
		return tools.Error(log, "unable to serialize log entry slot: ", err), nil
	}
	var bret = bb.Bytes()
	if len(bret) != Log_entry_slot_size {
		return tools.Error(log, "sanity failure, serialized log entry slot is ", len(bret),
			" bytes, expected ", Log_entry_slot_size), nil
	}
	return nil, &bret
}

// Deserialize is the inverse of Serialize.
func (this *Log_entry_slot) Deserialize(log *tools.Nixomosetools_logger, bs *[]byte) tools.Ret {
	if len(*bs) < Log_entry_slot_size {
		return tools.Error(log, "log entry slot data too short: got ", len(*bs), " need ", Log_entry_slot_size)
	}
	var bb = bytes.NewBuffer((*bs)[:Log_entry_slot_size])
	var err = binary.Read(bb, binary.BigEndian, this)
	if err != nil {
		return tools.Error(log, "unable to deserialize log entry slot: ", err)
	}
	return nil
}
