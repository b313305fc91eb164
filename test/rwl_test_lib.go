// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"bytes"
	"math/rand"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_src"
)

type rwl_test_lib struct {
	log *tools.Nixomosetools_logger
}

func New_rwl_test_lib(log *tools.Nixomosetools_logger) rwl_test_lib {
	var lib rwl_test_lib
	lib.log = log
	return lib
}

func binstringstart(start int) []byte {
	var out = make([]byte, 256)
	for i := 0; i < 256; i++ {
		out[i] = byte((i + start) % 256)
	}
	return out
}

func padto(in []byte, length uint32) []byte {
	var out []byte
	for uint32(len(out)) < length {
		out = append(out, in...)
	}
	return out[0:length]
}

// Rwl_basic_tests writes and reads back random blocks a number of times,
// confirming write/read/flush round trip. grounded on the random
// block/data pairing loop in Slookup_4k_tests, adapted from "load an
// entry, set its value, store it" to "write an extent, flush, read it
// back."
func (this *rwl_test_lib) Rwl_basic_tests(r *rwl_src.Rwl, block_size uint32) tools.Ret {
	var num_blocks uint64 = 20

	for i := 0; i < 2000; i++ {
		var k0 = rand.Uint64() % num_blocks
		var d0 = rand.Intn(256)
		var data0 = padto(binstringstart(d0), block_size)

		var extents = []rwl_interfaces.Image_extent{{Offset: k0 * uint64(block_size), Length: uint64(block_size)}}

		this.log.Debug("updating block: ", k0)
		var done = make(chan tools.Ret, 1)
		var ret = r.Write(extents, data0, func(finish_ret tools.Ret) { done <- finish_ret })
		if ret != nil {
			return ret
		}
		if ret = <-done; ret != nil {
			return ret
		}

		this.log.Debug("reading back block: ", k0)
		var dback *[]byte
		ret, dback = r.Read(extents, false)
		if ret != nil {
			return ret
		}
		if res := bytes.Compare(data0, *dback); res != 0 {
			return tools.Error(this.log, "data after write and read doesn't match for block ", k0)
		}
	}

	var data0 = padto(binstringstart(0), block_size)
	var data1 = padto(binstringstart(1), block_size)
	var data2 = padto(binstringstart(2), block_size)

	var k0 uint64 = rand.Uint64() % num_blocks
	var k1 uint64 = rand.Uint64() % num_blocks
	var k2 uint64 = rand.Uint64() % num_blocks

	this.log.Debug("inserting data at block ", k0)
	var ret = this.write_one(r, k0, block_size, data0)
	if ret != nil {
		return ret
	}

	this.log.Debug("inserting data at block ", k1)
	if ret = this.write_one(r, k1, block_size, data1); ret != nil {
		return ret
	}

	this.log.Debug("inserting data at block ", k2)
	if ret = this.write_one(r, k2, block_size, data2); ret != nil {
		return ret
	}

	var done = make(chan tools.Ret, 1)
	r.Flush(func(finish_ret tools.Ret) { done <- finish_ret })
	if ret = <-done; ret != nil {
		return ret
	}

	if ret = r.Discard(k1*uint64(block_size), uint64(block_size), false); ret != nil {
		return ret
	}

	return nil
}

func (this *rwl_test_lib) write_one(r *rwl_src.Rwl, block uint64, block_size uint32, data []byte) tools.Ret {
	var extents = []rwl_interfaces.Image_extent{{Offset: block * uint64(block_size), Length: uint64(block_size)}}
	var done = make(chan tools.Ret, 1)
	var ret = r.Write(extents, data, func(finish_ret tools.Ret) { done <- finish_ret })
	if ret != nil {
		return ret
	}
	return <-done
}

// Rwl_test_writing_zero confirms a zero-length write list is
// rejected with a sane error rather than panicking, grounded on the
// teacher's convention of exercising degenerate-size inputs explicitly
// (see Slookup_test_writing_zero in the original test library).
func (this *rwl_test_lib) Rwl_test_writing_zero(r *rwl_src.Rwl, block_size uint32) tools.Ret {
	var empty []rwl_interfaces.Image_extent
	var ret = r.Write(empty, nil, func(tools.Ret) {})
	if ret == nil {
		return tools.Error(this.log, "expected writing zero extents to be rejected, it was not")
	}
	this.log.Debug("writing zero extents correctly rejected: ", ret.Get_errmsg())
	return nil
}
