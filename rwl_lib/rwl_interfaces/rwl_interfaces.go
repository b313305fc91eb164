// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* this used to be two separate files in the teacher tree,
slookup_i_lib/slookup_i_interfaces/slookup_i_interfaces.go (the backing
store contract) and tlog_interface.go (the transaction log contract).
RWL only has one external collaborator worth an interface (the lower
image-cache / image-writeback layer), and one internal contract the
pmem pool exposes to the operation pipeline, so we fold both shapes into
this one file the way the teacher's two almost-identical interface files
suggest they'd have liked to, if slookup and stree had shared enough
shape to do it. */

// Package rwl_interfaces ... has a comment
package rwl_interfaces

import "github.com/nixomose/nixomosegotools/tools"

// Image_extent is (offset_bytes, length_bytes) in the logical image, per spec.md 3.
type Image_extent struct {
	Offset uint64
	Length uint64
}

// Block_extent is the inclusive [start,end] block-unit interval, per spec.md 3.
type Block_extent struct {
	Start_block uint64
	End_block   uint64 // inclusive
}

// Lower_layer_interface is the only contract this module consumes from
// the layer below it. it is intentionally exactly the operation set
// spec.md 6 names: read/write/discard/flush/writesame/compare_and_write/
// invalidate/init/shut_down. none of those operations are implemented
// by this module against the lower layer's internals, only against this
// interface, the same way slookup_i only ever spoke to
// Slookup_i_backing_store_interface and never touched a raw file. */
type Lower_layer_interface interface {
	Init() tools.Ret

	Startup(force bool) tools.Ret

	Shutdown() tools.Ret

	/* extents is a scatter list, same shape as image_extents elsewhere in this module.
	 * on success resp holds exactly the concatenated bytes for the extents in order. */
	Read(extents []Image_extent, fadvise_random bool) (tools.Ret, *[]byte)

	Write(extents []Image_extent, data *[]byte, fadvise_random bool) tools.Ret

	Discard(offset uint64, length uint64, skip_partial_discard bool) tools.Ret

	Flush() tools.Ret

	Writesame(offset uint64, length uint64, data *[]byte, fadvise_random bool) tools.Ret

	/* mismatch_offset is set (from the start of the first extent) if cmp_data doesn't
	 * match what's currently stored, and ret will carry an EILSEQ-equivalent error code. */
	Compare_and_write(extents []Image_extent, cmp_data *[]byte, data *[]byte, fadvise_random bool) (ret tools.Ret, mismatch_offset uint64)

	Invalidate() tools.Ret
}

// Instrumentation_sink is the seam where a caller who wants the
// phase timing stamps spec.md 3 requires on Operation/WriteRequest
// (arrived/allocated/dispatched/persisted/completed) can attach a real
// metrics library. spec.md 1 places performance-counter plumbing out of
// scope, so the default implementation used everywhere in this module
// is a no-op; nothing in rwl_lib depends on a metrics library to build
// or run correctly. Rwl.Set_instrumentation stores a sink, but no part of
// the write pipeline calls its methods and Operation/Write_request carry
// no timing stamps, so a supplied sink receives no events.
type Instrumentation_sink interface {
	On_arrived()
	On_allocated()
	On_dispatched()
	On_buffer_persisted()
	On_appended()
	On_completed()
}

// Noop_instrumentation_sink is the default Instrumentation_sink.
type Noop_instrumentation_sink struct{}

var _ Instrumentation_sink = Noop_instrumentation_sink{}

func (Noop_instrumentation_sink) On_arrived()          {}
func (Noop_instrumentation_sink) On_allocated()        {}
func (Noop_instrumentation_sink) On_dispatched()       {}
func (Noop_instrumentation_sink) On_buffer_persisted() {}
func (Noop_instrumentation_sink) On_appended()         {}
func (Noop_instrumentation_sink) On_completed()        {}
