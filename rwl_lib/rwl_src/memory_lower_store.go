// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package rwl_src

import (
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// Memory_lower_store is the in-memory lower layer test double, adapted
// from Memory_store: a byte-addressable image kept in a map keyed by
// block-aligned offset instead of Memory_store's map[uint32][]byte keyed
// by block number, since the lower-layer contract here is byte-extent
// based rather than fixed-4K-block based.
type Memory_lower_store struct {
	log     *tools.Nixomosetools_logger
	started bool

	mu           sync.Mutex
	block_size   uint64
	storage      map[uint64][]byte // key: block-aligned byte offset
	invalidated  bool
}

var _ rwl_interfaces.Lower_layer_interface = &Memory_lower_store{}

func New_memory_lower_store(l *tools.Nixomosetools_logger, block_size_bytes uint64) *Memory_lower_store {
	var store Memory_lower_store
	store.log = l
	store.block_size = block_size_bytes
	return &store
}

func (this *Memory_lower_store) Init() tools.Ret {
	this.started = false
	this.storage = make(map[uint64][]byte)
	return nil
}

func (this *Memory_lower_store) Startup(force bool) tools.Ret {
	if this.started {
		return tools.Error(this.log, "memory lower store has already been started up, not starting again")
	}
	if this.storage == nil {
		this.storage = make(map[uint64][]byte)
	}
	this.started = true
	return nil
}

func (this *Memory_lower_store) Shutdown() tools.Ret {
	if !this.started {
		return tools.Error(this.log, "memory lower store hasn't been started, can't be shut down")
	}
	this.started = false
	return nil
}

func (this *Memory_lower_store) Read(extents []rwl_interfaces.Image_extent, fadvise_random bool) (tools.Ret, *[]byte) {
	this.mu.Lock()
	defer this.mu.Unlock()
	var out []byte
	for _, e := range extents {
		out = append(out, this.read_extent_locked(e.Offset, e.Length)...)
	}
	return nil, &out
}

func (this *Memory_lower_store) read_extent_locked(offset uint64, length uint64) []byte {
	var out = make([]byte, length)
	var block = (offset / this.block_size) * this.block_size
	for block < offset+length {
		var val, ok = this.storage[block]
		if ok {
			this.copy_block_into(out, offset, block, val)
		}
		block += this.block_size
	}
	return out
}

func (this *Memory_lower_store) copy_block_into(out []byte, out_offset uint64, block_offset uint64, block []byte) {
	var src_start uint64
	var dst_start = int64(block_offset) - int64(out_offset)
	if dst_start < 0 {
		src_start = uint64(-dst_start)
		dst_start = 0
	}
	var n = uint64(len(block)) - src_start
	if dst_start+int64(n) > int64(len(out)) {
		n = uint64(len(out)) - uint64(dst_start)
	}
	copy(out[dst_start:uint64(dst_start)+n], block[src_start:src_start+n])
}

func (this *Memory_lower_store) Write(extents []rwl_interfaces.Image_extent, data *[]byte, fadvise_random bool) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var cursor uint64
	for _, e := range extents {
		var payload = (*data)[cursor : cursor+e.Length]
		this.write_extent_locked(e.Offset, payload)
		cursor += e.Length
	}
	return nil
}

func (this *Memory_lower_store) write_extent_locked(offset uint64, data []byte) {
	var block = (offset / this.block_size) * this.block_size
	var end = offset + uint64(len(data))
	for block < end {
		var buf, ok = this.storage[block]
		if !ok {
			buf = make([]byte, this.block_size)
		}
		this.copy_data_into_block(buf, block, offset, data)
		this.storage[block] = buf
		block += this.block_size
	}
}

func (this *Memory_lower_store) copy_data_into_block(block []byte, block_offset uint64, data_offset uint64, data []byte) {
	// block_start: where in the block the data begins; data_start: where in
	// the data this block begins.
	var block_start, data_start uint64
	if data_offset > block_offset {
		block_start = data_offset - block_offset
	} else {
		data_start = block_offset - data_offset
	}
	if block_start >= uint64(len(block)) || data_start >= uint64(len(data)) {
		return
	}
	var n = uint64(len(data)) - data_start
	if block_start+n > uint64(len(block)) {
		n = uint64(len(block)) - block_start
	}
	copy(block[block_start:block_start+n], data[data_start:data_start+n])
}

func (this *Memory_lower_store) Discard(offset uint64, length uint64, skip_partial_discard bool) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var block = (offset / this.block_size) * this.block_size
	for block < offset+length {
		delete(this.storage, block)
		block += this.block_size
	}
	return nil
}

func (this *Memory_lower_store) Flush() tools.Ret {
	return nil
}

func (this *Memory_lower_store) Writesame(offset uint64, length uint64, data *[]byte, fadvise_random bool) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var pattern = *data
	if len(pattern) == 0 {
		return tools.Error(this.log, "writesame requires a non-empty pattern")
	}
	var full = make([]byte, length)
	for i := range full {
		full[i] = pattern[uint64(i)%uint64(len(pattern))]
	}
	this.write_extent_locked(offset, full)
	return nil
}

func (this *Memory_lower_store) Compare_and_write(extents []rwl_interfaces.Image_extent, cmp_data *[]byte,
	data *[]byte, fadvise_random bool) (tools.Ret, uint64) {
	this.mu.Lock()
	defer this.mu.Unlock()
	var cursor uint64
	for _, e := range extents {
		var current = this.read_extent_locked(e.Offset, e.Length)
		var expect = (*cmp_data)[cursor : cursor+e.Length]
		for i := range current {
			if current[i] != expect[i] {
				return tools.Error(this.log, "EILSEQ: compare_and_write mismatch"), cursor + uint64(i)
			}
		}
		cursor += e.Length
	}
	// this.mu is already held, so write through the locked helper rather than Write.
	cursor = 0
	for _, e := range extents {
		this.write_extent_locked(e.Offset, (*data)[cursor:cursor+e.Length])
		cursor += e.Length
	}
	return nil, 0
}

func (this *Memory_lower_store) Invalidate() tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.invalidated = true
	return nil
}

func (this *Memory_lower_store) Is_backing_store_uninitialized() (tools.Ret, bool) {
	this.mu.Lock()
	defer this.mu.Unlock()
	return nil, len(this.storage) == 0
}
