// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Pool_header is the root header, same role as the teacher's
Slookup_i_header but generalized with the ring cursors a log-structured
pool needs and a layout_version so a reopen can tell a mismatched
geometry from a fresh pool, per spec.md 4.1 and the layout_version
supplement in SPEC_FULL.md 2. Check_layout compares the layout version,
block size and ring capacity; the pool_uuid field is carried in the
header but is neither set nor checked. */

package rwl_src

import (
	"bytes"
	"encoding/binary"

	"github.com/nixomose/nixomosegotools/tools"
)

// Pool_layout_version identifies the on-disk layout. bump this if the
// Pool_header or Log_entry_slot wire format ever changes shape.
const Pool_layout_version uint32 = 1

// Pool_header_size is the fixed size of the serialized header, padded so
// the entry ring starts at a page-aligned offset.
const Pool_header_size = 4096

type Pool_header struct {
	Magic          uint64 // sanity check this is actually one of our pool files
	Layout_version uint32
	_              uint32 // pad
	Pool_uuid_hi   uint64
	Pool_uuid_lo   uint64

	Block_size_bytes uint64
	Ring_capacity    uint32 // number of Log_entry_slot slots in the ring, one is always kept empty
	_                uint32 // pad

	First_free_entry  uint32 // next slot to append into
	First_valid_entry uint32 // oldest slot still holding a live entry

	Sync_gen_number       uint64 // highest sync point generation persisted so far
	Write_sequence_number uint64 // highest write sequence number persisted so far

	Buffer_area_offset uint64 // byte offset of the data buffer area within the pool file
	Buffer_area_bytes  uint64
}

const pool_magic uint64 = 0x5257_4c5f_504d_3031 // "RWL_PM01"

func New_pool_header() *Pool_header {
	var h Pool_header
	h.Magic = pool_magic
	h.Layout_version = Pool_layout_version
	return &h
}

func (this *Pool_header) Is_valid_magic() bool {
	return this.Magic == pool_magic
}

// Ring_is_empty and Ring_is_full follow the teacher's convention on
// Slookup_i's free/used bookkeeping: with a ring of N slots only N-1 are
// ever usable, so first_free_entry == first_valid_entry always means empty.
func (this *Pool_header) Ring_is_empty() bool {
	return this.First_free_entry == this.First_valid_entry
}

func (this *Pool_header) Ring_is_full() bool {
	return this.Next_slot(this.First_free_entry) == this.First_valid_entry
}

func (this *Pool_header) Next_slot(idx uint32) uint32 {
	var n = idx + 1
	if n >= this.Ring_capacity {
		n = 0
	}
	return n
}

func (this *Pool_header) Ring_used_count() uint32 {
	if this.First_free_entry >= this.First_valid_entry {
		return this.First_free_entry - this.First_valid_entry
	}
	return this.Ring_capacity - this.First_valid_entry + this.First_free_entry
}

func (this *Pool_header) Serialize(log *tools.Nixomosetools_logger) (tools.Ret, *[]byte) {
	var bb = bytes.NewBuffer(make([]byte, 0, Pool_header_size))
	var err = binary.Write(bb, binary.BigEndian, this)
	if err != nil {
		return tools.Error(log, "unable to serialize pool header: ", err), nil
	}
	var bret = bb.Bytes()
	if len(bret) > Pool_header_size {
		return tools.Error(log, "sanity failure, serialized pool header is ", len(bret),
			" bytes, max is ", Pool_header_size), nil
	}
	var padded = make([]byte, Pool_header_size)
	copy(padded, bret)
	return nil, &padded
}

func (this *Pool_header) Deserialize(log *tools.Nixomosetools_logger, bs *[]byte) tools.Ret {
	if len(*bs) < Pool_header_size {
		return tools.Error(log, "pool header data too short: got ", len(*bs), " need ", Pool_header_size)
	}
	var bb = bytes.NewBuffer((*bs)[:Pool_header_size])
	var err = binary.Read(bb, binary.BigEndian, this)
	if err != nil {
		return tools.Error(log, "unable to deserialize pool header: ", err)
	}
	if !this.Is_valid_magic() {
		return tools.Error(log, "pool header magic mismatch, this does not look like a rwl pool file")
	}
	return nil
}

// Check_layout validates that a reopened pool's geometry matches what the
// caller expects, per the EINVAL-on-mismatch requirement of spec.md 6/7.
func (this *Pool_header) Check_layout(log *tools.Nixomosetools_logger, expect_block_size uint64,
	expect_ring_capacity uint32) tools.Ret {
	if this.Layout_version != Pool_layout_version {
		return tools.Error(log, "pool layout version mismatch, pool has ", this.Layout_version,
			" this binary expects ", Pool_layout_version)
	}
	if this.Block_size_bytes != expect_block_size {
		return tools.Error(log, "pool block size mismatch, pool has ", this.Block_size_bytes,
			" caller expects ", expect_block_size)
	}
	if this.Ring_capacity != expect_ring_capacity {
		return tools.Error(log, "pool ring capacity mismatch, pool has ", this.Ring_capacity,
			" caller expects ", expect_ring_capacity)
	}
	return nil
}
