// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Sync_point is C4 from spec.md 4.4: a linked sequence of barriers, each
gathering the completion of every write tagged with its generation plus
the previous sync point's persistence, before becoming appendable itself.
neither slookup_i nor stree has a multi-writer ordering concept -- they
run everything under one interface_lock, so "ordering" is just mutex
order -- so this is new code, built from spec.md 4.4 directly but kept in
the teacher's struct/method idiom (New_X constructor, Get_X/Set_X-style
accessors where state needs to be inspected from outside the package). */

package rwl_src

import (
	"sync"

	"github.com/nixomose/nixomosegotools/tools"
)

type sync_point_status int

const (
	Sync_point_building sync_point_status = iota
	Sync_point_sealed
	Sync_point_persisted
)

// Sync_point is spec.md 3's SyncPoint.
type Sync_point struct {
	log *tools.Nixomosetools_logger

	mu sync.Mutex

	Sync_gen_number      uint64
	final_op_sequence_num uint64

	status sync_point_status

	sub_op_count    int // outstanding writes tagged with this generation
	earlier_pending bool // true until the earlier sync point's "persisted" sub-op fires

	on_persisted []func()

	earlier *Sync_point
	later   *Sync_point
}

func new_sync_point(log *tools.Nixomosetools_logger, gen uint64) *Sync_point {
	var sp Sync_point
	sp.log = log
	sp.Sync_gen_number = gen
	sp.status = Sync_point_building
	return &sp
}

func (this *Sync_point) Status() sync_point_status {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.status
}

// Add_sub_op registers one write's completion as a gate on this sync
// point's gather, per spec.md 4.4's "each write in persist-on-write mode
// is a sub-op of the current sync point's gather."
func (this *Sync_point) Add_sub_op() {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.sub_op_count++
}

// Complete_sub_op fires one gathered completion; once the count drains
// to zero and the sync point has been sealed with no pending earlier
// link, the gather fires and the on_persisted callbacks run.
func (this *Sync_point) Complete_sub_op() {
	this.mu.Lock()
	this.sub_op_count--
	if this.sub_op_count < 0 {
		this.log.Error("sanity failure, sync point sub op count went negative for generation ", this.Sync_gen_number)
		this.sub_op_count = 0
	}
	var fire = this.maybe_ready_locked()
	this.mu.Unlock()
	if fire {
		this.fire_persisted()
	}
}

// earlier_persisted is the callback wired by new_sync_point onto the new
// sync point's gather, representing "the previous sync point is durable."
func (this *Sync_point) earlier_persisted() {
	this.mu.Lock()
	this.earlier_pending = false
	var fire = this.maybe_ready_locked()
	this.mu.Unlock()
	if fire {
		this.fire_persisted()
	}
}

func (this *Sync_point) maybe_ready_locked() bool {
	if this.status != Sync_point_sealed {
		return false
	}
	if this.earlier_pending {
		return false
	}
	if this.sub_op_count > 0 {
		return false
	}
	return true
}

// fire_persisted runs with this.mu released: it unlinks this sync point
// from later's earlier pointer and runs the on_persisted callbacks, per
// spec.md 4.4's append_sync_point.
func (this *Sync_point) fire_persisted() {
	this.mu.Lock()
	this.status = Sync_point_persisted
	var callbacks = this.on_persisted
	this.on_persisted = nil
	var later = this.later
	this.mu.Unlock()

	if later != nil {
		later.earlier_persisted()
		later.mu.Lock()
		later.earlier = nil
		later.mu.Unlock()
	}
	for _, cb := range callbacks {
		cb()
	}
}

func (this *Sync_point) On_persisted(cb func()) {
	this.mu.Lock()
	if this.status == Sync_point_persisted {
		this.mu.Unlock()
		cb()
		return
	}
	this.on_persisted = append(this.on_persisted, cb)
	this.mu.Unlock()
}

func (this *Sync_point) Earlier() *Sync_point {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.earlier
}

// Sync_point_chain owns the current/earlier pointers and last_op_sequence_num
// counter the operation pipeline reads at dispatch time (spec.md 4.5 stage 5).
type Sync_point_chain struct {
	log *tools.Nixomosetools_logger

	mu                  sync.Mutex
	current             *Sync_point
	current_sync_gen    uint64
	last_op_sequence_num uint64
}

func New_sync_point_chain(log *tools.Nixomosetools_logger) *Sync_point_chain {
	var c Sync_point_chain
	c.log = log
	c.current = new_sync_point(log, 0)
	c.current.status = Sync_point_building
	return &c
}

func (this *Sync_point_chain) Current() *Sync_point {
	this.mu.Lock()
	defer this.mu.Unlock()
	return this.current
}

func (this *Sync_point_chain) Next_write_sequence_number() uint64 {
	this.mu.Lock()
	defer this.mu.Unlock()
	this.last_op_sequence_num++
	return this.last_op_sequence_num
}

// New_sync_point seals the current sync point and installs a fresh one,
// per spec.md 4.4's new_sync_point.
func (this *Sync_point_chain) New_sync_point() *Sync_point {
	this.mu.Lock()
	var old = this.current
	this.current_sync_gen++
	var next = new_sync_point(this.log, this.current_sync_gen)
	next.earlier_pending = true
	next.earlier = old
	this.current = next
	this.mu.Unlock()

	old.mu.Lock()
	old.status = Sync_point_sealed
	old.later = next
	old.mu.Unlock()

	old.On_persisted(func() {})
	var fire = false
	old.mu.Lock()
	fire = old.maybe_ready_locked()
	old.mu.Unlock()
	if fire {
		old.fire_persisted()
	}
	return next
}
