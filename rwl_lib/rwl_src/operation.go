// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* the C5 types: Operation, OperationSet, WriteRequest from spec.md 3.
grounded on Slookup_i.Write/write_internal/perform_new_value_write for the
lock-then-stage shape (interface_lock.Lock(); defer Unlock()) and on
Tlog.Write_block_range/Write_block_list for the batched write-then-wait
idiom -- both generalized here from "N fixed 4K blocks" to "N variable-size
data buffers." */

package rwl_src

import (
	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// Operation is spec.md 3's Operation: one image extent's worth of one
// WriteRequest, bound to one LogEntry.
type Operation struct {
	Log_entry *rwl_entry.Log_entry

	Data []byte // the source bytes for this extent, substringed from the request payload

	buffer_reservation *Buffer_reservation

	On_write_persist func()

	Instrumentation rwl_interfaces.Instrumentation_sink
}

// OperationSet is spec.md 3's OperationSet: a batch of Operations sharing
// one sync point and one block-guard cell.
type OperationSet struct {
	Sync_point *Sync_point
	Ops        []*Operation

	Start_block uint64
	End_block   uint64

	persist_on_flush bool // sampled once at dispatch, per SPEC_FULL.md 4 item 5

	remaining int // gather counter: ops not yet through stage 9
}

func new_operation_set(sp *Sync_point, start_block uint64, end_block uint64, persist_on_flush bool) *OperationSet {
	var os OperationSet
	os.Sync_point = sp
	os.Start_block = start_block
	os.End_block = end_block
	os.persist_on_flush = persist_on_flush
	return &os
}

// Write_request is spec.md 3's WriteRequest.
type Write_request struct {
	log *tools.Nixomosetools_logger

	Image_extents []rwl_interfaces.Image_extent
	Data          []byte

	Num_extents int

	Detained bool

	resources_allocated bool
	reservations         []*Buffer_reservation

	Op_set *OperationSet

	On_finish func(tools.Ret)

	guard_start_block uint64
	guard_end_block   uint64
}

func New_write_request(log *tools.Nixomosetools_logger, extents []rwl_interfaces.Image_extent, data []byte,
	on_finish func(tools.Ret)) *Write_request {
	var wr Write_request
	wr.log = log
	wr.Image_extents = extents
	wr.Data = data
	wr.Num_extents = len(extents)
	wr.On_finish = on_finish
	return &wr
}

func (this *Write_request) Block_extent(block_size_bytes uint64) (uint64, uint64) {
	var min_start, max_end uint64
	var first = true
	for _, e := range this.Image_extents {
		var start_block = e.Offset / block_size_bytes
		var end_block = (e.Offset + e.Length - 1) / block_size_bytes
		if first || start_block < min_start {
			min_start = start_block
		}
		if first || end_block > max_end {
			max_end = end_block
		}
		first = false
	}
	return min_start, max_end
}
