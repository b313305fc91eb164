// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Buffer_allocator hands out variable-size byte ranges within the pmem
pool's buffer area (spec.md 4.1's "allocate"). it is the one piece of
C1 with no teacher analog at all -- slookup_i never allocates anything,
it has a fixed block_group_list per entry -- so the shape here follows
the same cursor-pair idiom the ring header itself uses (first_free /
first_valid) rather than a general purpose heap allocator, since buffers
free up in the same FIFO order their owning log entries retire. */

package rwl_src

import (
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
)

// Buffer_reservation is what Reserve hands back: the byte range, plus
// enough bookkeeping for Publish/Cancel to find it again.
type Buffer_reservation struct {
	Offset uint64 // offset within the buffer area, not the whole pool file
	Length uint64
	seq    uint64
	published bool
}

type buffer_reservation_record struct {
	seq       uint64
	offset    uint64
	length    uint64
	published bool
	freed     bool
}

// Buffer_allocator is a ring allocator over the pool's buffer area bytes.
// Head trails the oldest outstanding reservation; Tail is the next byte
// to hand out. a reservation that would cross the end of the area is
// padded out to wrap to offset 0 instead of being split, same as the
// entry ring refuses to split an entry across the ring boundary.
type Buffer_allocator struct {
	log *tools.Nixomosetools_logger

	mu sync.Mutex

	capacity_bytes uint64
	head           uint64 // oldest byte still in use
	tail           uint64 // next byte available to hand out
	used_bytes     uint64

	next_seq uint64
	pending  []*buffer_reservation_record // in allocation order, oldest first
}

func New_buffer_allocator(log *tools.Nixomosetools_logger, capacity_bytes uint64) *Buffer_allocator {
	var a Buffer_allocator
	a.log = log
	a.capacity_bytes = capacity_bytes
	return &a
}

func (this *Buffer_allocator) Used_bytes() uint64 {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.used_bytes
}

func (this *Buffer_allocator) Capacity_bytes() uint64 {
	return this.capacity_bytes
}

// Reserve allocates length_bytes, returning ENOSPC-equivalent (a non-nil
// Ret, nil reservation) if the area is full -- the caller (pipeline.go's
// stage 4, "alloc resources") turns that into a deferral, per spec.md 4.5.
func (this *Buffer_allocator) Reserve(length_bytes uint64) (tools.Ret, *Buffer_reservation) {
	if length_bytes == 0 {
		return tools.Error(this.log, "cannot reserve a zero length buffer"), nil
	}
	this.mu.Lock()
	defer this.mu.Unlock()

	var start = this.tail
	if start+length_bytes > this.capacity_bytes {
		// would cross the end of the area, wrap instead of splitting.
		start = 0
	}
	var end = start + length_bytes

	// does [start,end) overlap the still-in-use region [head,tail) when wrapped?
	if this.would_overlap_in_use(start, end) {
		return tools.Error(this.log, "buffer area full, cannot reserve ", length_bytes, " bytes"), nil
	}

	this.next_seq++
	var rec = &buffer_reservation_record{seq: this.next_seq, offset: start, length: length_bytes}
	this.pending = append(this.pending, rec)
	this.tail = end
	this.used_bytes += length_bytes

	var res = Buffer_reservation{Offset: start, Length: length_bytes, seq: rec.seq}
	return nil, &res
}

func (this *Buffer_allocator) would_overlap_in_use(start uint64, end uint64) bool {
	if len(this.pending) == 0 {
		return false
	}
	// the in-use region, allowing for wraparound, is [head, tail) when
	// head<=tail, or [head,capacity)+[0,tail) when wrapped. a fresh
	// reservation starts at this.tail (or at 0 when it wraps), so it
	// collides if it grows past head once the in-use region has wrapped,
	// or if the wrap-to-0 case reaches head.
	if start == end {
		return false
	}
	var head = this.head
	if head >= this.tail {
		// in-use region is wrapped (or full): free space is [tail,head).
		return start < this.tail || end > head
	}
	if start < this.tail {
		// new region wrapped to 0: it is [0,end), must not reach head.
		return end > head
	}
	return false
}

// Publish marks a reservation as committed -- its bytes are now durable
// data belonging to a completed log entry, per spec.md 4.5 stage 7/8.
func (this *Buffer_allocator) Publish(res *Buffer_reservation) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var rec = this.find(res.seq)
	if rec == nil {
		return tools.Error(this.log, "sanity failure, publish of unknown buffer reservation seq ", res.seq)
	}
	rec.published = true
	res.published = true
	return nil
}

// Cancel releases a reservation that was never published, e.g. the
// operation it belonged to failed validation before stage 7. tail is never
// moved back; the record is marked freed and its bytes are reclaimed by
// reclaim_head once every older record has been freed too, the same way
// Release below does for completed entries out of order.
func (this *Buffer_allocator) Cancel(res *Buffer_reservation) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var rec = this.find(res.seq)
	if rec == nil {
		return tools.Error(this.log, "sanity failure, cancel of unknown buffer reservation seq ", res.seq)
	}
	if rec.published {
		return tools.Error(this.log, "cannot cancel an already published buffer reservation seq ", res.seq)
	}
	rec.freed = true
	this.reclaim_head()
	return nil
}

// Release is called once the log entry owning this reservation has been
// retired (spec.md 4.8's retire step): its bytes can now be reused.
func (this *Buffer_allocator) Release(res *Buffer_reservation) tools.Ret {
	this.mu.Lock()
	defer this.mu.Unlock()
	var rec = this.find(res.seq)
	if rec == nil {
		return tools.Error(this.log, "sanity failure, release of unknown buffer reservation seq ", res.seq)
	}
	rec.freed = true
	this.reclaim_head()
	return nil
}

// Seed re-registers a reservation recovered by replay.go as already
// outstanding, in the order replay encounters them (ring order, which is
// also allocation order): it must be called before any fresh Reserve
// calls so the allocator's head/tail bracket the still-live bytes rather
// than overlapping them.
func (this *Buffer_allocator) Seed(offset uint64, length uint64) *Buffer_reservation {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.next_seq++
	var rec = &buffer_reservation_record{seq: this.next_seq, offset: offset, length: length, published: true}
	if len(this.pending) == 0 {
		this.head = offset
	}
	this.pending = append(this.pending, rec)
	this.tail = offset + length
	if this.tail >= this.capacity_bytes {
		this.tail = 0
	}
	this.used_bytes += length
	return &Buffer_reservation{Offset: offset, Length: length, seq: rec.seq, published: true}
}

// find and reclaim_head are both called with this.mu already held.
func (this *Buffer_allocator) find(seq uint64) *buffer_reservation_record {
	for _, rec := range this.pending {
		if rec.seq == seq {
			return rec
		}
	}
	return nil
}

// reclaim_head advances head past any run of freed reservations at the
// front of pending, and drops them from the slice -- reservations retire
// in FIFO order because log entries do, so this never has to search.
func (this *Buffer_allocator) reclaim_head() {
	var i = 0
	for i < len(this.pending) && this.pending[i].freed {
		var new_head = this.pending[i].offset + this.pending[i].length
		if new_head >= this.capacity_bytes {
			new_head = 0
		}
		this.head = new_head
		this.used_bytes -= this.pending[i].length
		i++
	}
	if i > 0 {
		this.pending = this.pending[i:]
	}
}
