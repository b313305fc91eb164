// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Pmem_pool is C1 from spec.md 4.1: create/open a persistent-memory-backed
pool, reserve/publish/cancel buffer space, append/free log entries, and
flush/drain on demand. the teacher has no pmem of its own -- the closest
analog is Memory_store's Init/Startup/Shutdown lifecycle idiom, which this
keeps -- so the byte-addressable mapping itself is grounded on
other_examples/IBM-objcache__memory.go's unix.Mmap use and
other_examples/marmos91-dittofs__mmap_shared.go's mmap-backed header+ring
layout, per the Open Question decision recorded in SPEC_FULL.md 4 and
DESIGN.md (libpmemobj is CGO-only and not present anywhere in the
retrieval pack). */

package rwl_src

import (
	"os"

	"golang.org/x/sys/unix"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
)

const entry_ring_offset = uint64(Pool_header_size)

type Pmem_pool struct {
	log *tools.Nixomosetools_logger

	path        string
	file        *os.File
	mapped      []byte // the whole pool file, mmap'd
	header      *Pool_header
	ring_bytes  uint64
	buffer_area uint64 // byte offset of the buffer area within mapped
	allocator   *Buffer_allocator
}

func New_pmem_pool(log *tools.Nixomosetools_logger) *Pmem_pool {
	var p Pmem_pool
	p.log = log
	return &p
}

func pool_total_bytes(ring_capacity uint32, buffer_area_bytes uint64) uint64 {
	var ring_bytes = uint64(ring_capacity) * uint64(rwl_entry.Log_entry_slot_size)
	return entry_ring_offset + ring_bytes + buffer_area_bytes
}

// Create lays out a brand new pool file of the given geometry. force
// truncates and re-creates a file that already exists, matching the
// teacher's force flag on Startup.
func (this *Pmem_pool) Create(path string, block_size_bytes uint64, ring_capacity uint32,
	buffer_area_bytes uint64, force bool) tools.Ret {
	var flags = os.O_RDWR | os.O_CREATE
	if !force {
		flags |= os.O_EXCL
	}
	var f, err = os.OpenFile(path, flags, 0644)
	if err != nil {
		return tools.Error(this.log, "unable to create pool file ", path, ": ", err)
	}
	var total = pool_total_bytes(ring_capacity, buffer_area_bytes)
	err = f.Truncate(int64(total))
	if err != nil {
		f.Close()
		return tools.Error(this.log, "unable to size pool file ", path, " to ", total, " bytes: ", err)
	}

	var ret = this.map_file(f, path, total)
	if ret != nil {
		return ret
	}

	var h = New_pool_header()
	h.Block_size_bytes = block_size_bytes
	h.Ring_capacity = ring_capacity
	h.Buffer_area_offset = entry_ring_offset + uint64(ring_capacity)*uint64(rwl_entry.Log_entry_slot_size)
	h.Buffer_area_bytes = buffer_area_bytes
	this.header = h
	this.ring_bytes = uint64(ring_capacity) * uint64(rwl_entry.Log_entry_slot_size)
	this.buffer_area = h.Buffer_area_offset

	ret = this.persist_header()
	if ret != nil {
		return ret
	}
	this.allocator = New_buffer_allocator(this.log, buffer_area_bytes)
	this.log.Debug("created rwl pool at ", path, " total size ", total, " bytes")
	return nil
}

// Open maps an existing pool file and validates its header.
func (this *Pmem_pool) Open(path string, expect_block_size uint64, expect_ring_capacity uint32) tools.Ret {
	var f, err = os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		return tools.Error(this.log, "unable to open pool file ", path, ": ", err)
	}
	var fi os.FileInfo
	fi, err = f.Stat()
	if err != nil {
		f.Close()
		return tools.Error(this.log, "unable to stat pool file ", path, ": ", err)
	}

	var ret = this.map_file(f, path, uint64(fi.Size()))
	if ret != nil {
		return ret
	}

	var h = New_pool_header()
	var hdr_bytes = this.mapped[0:Pool_header_size]
	ret = h.Deserialize(this.log, &hdr_bytes)
	if ret != nil {
		this.unmap()
		return ret
	}
	ret = h.Check_layout(this.log, expect_block_size, expect_ring_capacity)
	if ret != nil {
		this.unmap()
		return ret
	}
	this.header = h
	this.ring_bytes = uint64(h.Ring_capacity) * uint64(rwl_entry.Log_entry_slot_size)
	this.buffer_area = h.Buffer_area_offset
	this.allocator = New_buffer_allocator(this.log, h.Buffer_area_bytes)
	this.log.Debug("opened rwl pool at ", path, ", ", h.Ring_used_count(), " entries live")
	return nil
}

func (this *Pmem_pool) map_file(f *os.File, path string, total uint64) tools.Ret {
	var mapped, err = unix.Mmap(int(f.Fd()), 0, int(total), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return tools.Error(this.log, "unable to mmap pool file ", path, ": ", err)
	}
	this.path = path
	this.file = f
	this.mapped = mapped
	return nil
}

func (this *Pmem_pool) unmap() {
	if this.mapped != nil {
		unix.Munmap(this.mapped)
		this.mapped = nil
	}
	if this.file != nil {
		this.file.Close()
		this.file = nil
	}
}

// Close unmaps and closes the pool file, spec.md 4.1's shutdown half.
func (this *Pmem_pool) Close() tools.Ret {
	var ret = this.Drain()
	this.unmap()
	return ret
}

/* * * * * * * * * * * * flush / drain * * * * * * * * * * * * * * * * */

// flush_range msyncs [offset,offset+length) asynchronously, standing in
// for pmem_flush: the data is queued for persistence but this call does
// not block on it landing.
func (this *Pmem_pool) flush_range(offset uint64, length uint64) tools.Ret {
	if length == 0 {
		return nil
	}
	var err = unix.Msync(this.mapped[offset:offset+length], unix.MS_ASYNC)
	if err != nil {
		return tools.Error(this.log, "msync (async) failed at offset ", offset, " length ", length, ": ", err)
	}
	return nil
}

// Drain blocks until everything previously flushed is durable, standing
// in for pmem_drain.
func (this *Pmem_pool) Drain() tools.Ret {
	if this.mapped == nil {
		return nil
	}
	var err = unix.Msync(this.mapped, unix.MS_SYNC)
	if err != nil {
		return tools.Error(this.log, "msync (sync) failed: ", err)
	}
	return nil
}

func (this *Pmem_pool) persist_header() tools.Ret {
	var ret, hdr_bytes = this.header.Serialize(this.log)
	if ret != nil {
		return ret
	}
	copy(this.mapped[0:Pool_header_size], *hdr_bytes)
	return this.flush_range(0, Pool_header_size)
}

/* * * * * * * * * * * * buffer area * * * * * * * * * * * * * * * * * */

func (this *Pmem_pool) Reserve_buffer(length_bytes uint64) (tools.Ret, *Buffer_reservation) {
	return this.allocator.Reserve(length_bytes)
}

// Write_buffer copies data into a reserved range, spec.md 4.5 stage 6
// ("copy to pmem"). it does not flush: stage 7 ("persist buffers") flushes
// a whole sub-batch in parallel via Flush_buffer, then drains once.
func (this *Pmem_pool) Write_buffer(res *Buffer_reservation, data []byte) tools.Ret {
	if uint64(len(data)) != res.Length {
		return tools.Error(this.log, "buffer reservation length ", res.Length,
			" does not match data length ", len(data))
	}
	var start = this.buffer_area + res.Offset
	copy(this.mapped[start:start+res.Length], data)
	return nil
}

// Flush_buffer is stage 7's per-buffer flush, meant to be fanned out
// across a sub-batch before one Drain call.
func (this *Pmem_pool) Flush_buffer(res *Buffer_reservation) tools.Ret {
	var start = this.buffer_area + res.Offset
	return this.flush_range(start, res.Length)
}

func (this *Pmem_pool) Read_buffer(res *Buffer_reservation) []byte {
	var start = this.buffer_area + res.Offset
	var out = make([]byte, res.Length)
	copy(out, this.mapped[start:start+res.Length])
	return out
}

func (this *Pmem_pool) Publish_buffer(res *Buffer_reservation) tools.Ret {
	return this.allocator.Publish(res)
}

func (this *Pmem_pool) Cancel_buffer(res *Buffer_reservation) tools.Ret {
	return this.allocator.Cancel(res)
}

func (this *Pmem_pool) Release_buffer(res *Buffer_reservation) tools.Ret {
	return this.allocator.Release(res)
}

/* * * * * * * * * * * * entry ring * * * * * * * * * * * * * * * * * */

func (this *Pmem_pool) entry_offset(index uint32) uint64 {
	return entry_ring_offset + uint64(index)*uint64(rwl_entry.Log_entry_slot_size)
}

func (this *Pmem_pool) Ring_capacity() uint32 { return this.header.Ring_capacity }
func (this *Pmem_pool) First_free_entry() uint32  { return this.header.First_free_entry }
func (this *Pmem_pool) First_valid_entry() uint32 { return this.header.First_valid_entry }
func (this *Pmem_pool) Ring_is_full() bool        { return this.header.Ring_is_full() }
func (this *Pmem_pool) Ring_is_empty() bool       { return this.header.Ring_is_empty() }

// Read_entry_slot reads whatever slot currently occupies index, valid or
// not -- used by replay.go to walk the whole ring at startup.
func (this *Pmem_pool) Read_entry_slot(index uint32) (tools.Ret, *rwl_entry.Log_entry_slot) {
	var off = this.entry_offset(index)
	var raw = this.mapped[off : off+uint64(rwl_entry.Log_entry_slot_size)]
	var slot = rwl_entry.New_log_entry_slot()
	var ret = slot.Deserialize(this.log, &raw)
	if ret != nil {
		return ret, nil
	}
	return nil, slot
}

// Append_entry is spec.md 4.5 stage 8 ("append log entries") and 4.1's
// transactional commit in one call: the entry slot is written and
// flushed first, then first_free_entry is advanced and the header is
// flushed -- so a crash between the two leaves the ring pointer behind
// the data rather than ahead of it, the write-ahead discipline
// TX_BEGIN/TX_END gave the original for free.
func (this *Pmem_pool) Append_entry(slot *rwl_entry.Log_entry_slot) (tools.Ret, uint32) {
	if this.Ring_is_full() {
		return tools.Error(this.log, "rwl pool entry ring is full"), 0
	}
	var index = this.header.First_free_entry
	slot.Set_flag(rwl_entry.Flag_entry_valid, true)
	var ret, slot_bytes = slot.Serialize(this.log)
	if ret != nil {
		return ret, 0
	}
	var off = this.entry_offset(index)
	copy(this.mapped[off:off+uint64(rwl_entry.Log_entry_slot_size)], *slot_bytes)
	ret = this.flush_range(off, uint64(rwl_entry.Log_entry_slot_size))
	if ret != nil {
		return ret, 0
	}

	this.header.First_free_entry = this.header.Next_slot(index)
	if slot.Write_sequence_number > this.header.Write_sequence_number {
		this.header.Write_sequence_number = slot.Write_sequence_number
	}
	if slot.Sync_gen_number > this.header.Sync_gen_number {
		this.header.Sync_gen_number = slot.Sync_gen_number
	}
	ret = this.persist_header()
	if ret != nil {
		return ret, 0
	}
	return nil, index
}

// Free_entry is spec.md 4.8's retire step: mark the slot invalid and, if
// it is exactly the oldest live slot, advance first_valid_entry. entries
// retire in ring order (invariant I5), so the advance never has to skip.
func (this *Pmem_pool) Free_entry(index uint32) tools.Ret {
	var ret, slot = this.Read_entry_slot(index)
	if ret != nil {
		return ret
	}
	slot.Set_flag(rwl_entry.Flag_entry_valid, false)
	var s2, slot_bytes = slot.Serialize(this.log)
	if s2 != nil {
		return s2
	}
	var off = this.entry_offset(index)
	copy(this.mapped[off:off+uint64(rwl_entry.Log_entry_slot_size)], *slot_bytes)
	ret = this.flush_range(off, uint64(rwl_entry.Log_entry_slot_size))
	if ret != nil {
		return ret
	}
	if index == this.header.First_valid_entry {
		this.header.First_valid_entry = this.header.Next_slot(index)
		return this.persist_header()
	}
	return nil
}
