// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

package main

import (
	"os"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_src"
)

func make_lower_file_store(log *tools.Nixomosetools_logger, storage_file string, device_directio bool,
	device_alignment uint32, physical_block_size uint32) (tools.Ret, *rwl_src.File_store_aligned) {

	var alignment = device_alignment

	// if directio is set alignment must be % physical_block_size == 0, or reads and writes will fail.
	if device_directio {
		if alignment == 0 {
			alignment = physical_block_size
		}
		if alignment%physical_block_size != 0 {
			return tools.Error(log, "your alignment must fall on a ", physical_block_size, " boundary if directio is on. ",
				"alignment: ", alignment, " % ", physical_block_size, " is ", alignment%physical_block_size), nil
		}
	} else if alignment == 0 {
		alignment = physical_block_size
	}

	var iopath rwl_src.File_store_io_path
	if device_directio {
		iopath = rwl_src.New_file_store_io_path_directio()
	} else {
		iopath = rwl_src.New_file_store_io_path_default()
	}

	var fstore = rwl_src.New_file_store_aligned(log, storage_file, alignment, iopath)
	return nil, fstore
}

func bring_up(pool_path string, backing_file string) (tools.Ret, *rwl_src.Rwl) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)

	var block_size, pool_size = get_init_params()

	var directio bool = false // must be a block device not a file if true, iopath will not create the file for directio
	var device_alignment uint32 = 4096
	var physical_block_size uint32 = 4096

	var ret, lower = make_lower_file_store(log, backing_file, directio, device_alignment, physical_block_size)
	if ret != nil {
		return ret, nil
	}

	var config = rwl_src.Default_config()
	config.Path = pool_path
	config.Size_bytes = pool_size
	config.Block_size_bytes = uint64(block_size)

	var r = rwl_src.New_rwl(log, config, lower)
	ret = r.Init(false)
	if ret != nil {
		return ret, nil
	}
	return nil, r
}

func bring_down(r *rwl_src.Rwl) tools.Ret {
	return r.Shutdown()
}

func make_block_data(val byte, length uint32) *[]byte {
	var value_type = make([]byte, 0, length)
	var dot byte = val
	var n uint32
	for n < length {
		value_type = append(value_type, dot)
		dot++
		n++
	}
	return &value_type
}

func write_and_wait(r *rwl_src.Rwl, extents []rwl_interfaces.Image_extent, data []byte) tools.Ret {
	var done = make(chan tools.Ret, 1)
	var ret = r.Write(extents, data, func(finish_ret tools.Ret) { done <- finish_ret })
	if ret != nil {
		return ret
	}
	return <-done
}

func flush_and_wait(r *rwl_src.Rwl) tools.Ret {
	var done = make(chan tools.Ret, 1)
	r.Flush(func(finish_ret tools.Ret) { done <- finish_ret })
	return <-done
}

func test_two_writes(pool_path string, backing_file string) tools.Ret {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	ret, r := bring_up(pool_path, backing_file)
	if ret != nil {
		return ret
	}

	var block_size, _ = get_init_params()

	var data_a = make_block_data(0x21, block_size) // A
	ret = write_and_wait(r, []rwl_interfaces.Image_extent{{Offset: 0, Length: uint64(block_size)}}, *data_a)
	if ret != nil {
		return ret
	}

	var data_b = make_block_data(0x22, block_size) // B
	ret = write_and_wait(r, []rwl_interfaces.Image_extent{{Offset: uint64(block_size), Length: uint64(block_size)}}, *data_b)
	if ret != nil {
		return ret
	}

	ret = flush_and_wait(r)
	if ret != nil {
		return ret
	}

	ret, readback := r.Read([]rwl_interfaces.Image_extent{{Offset: 0, Length: uint64(block_size)}}, false)
	if ret != nil {
		return ret
	}
	if len(*readback) != int(block_size) {
		return tools.Error(log, "readback of block 0 came back the wrong size, got ", len(*readback))
	}

	ret = r.Discard(0, uint64(block_size), false)
	if ret != nil {
		return ret
	}

	/* now write a two-block extent spanning both addresses. */
	var data_c = make_block_data(0x23, block_size*2) // C
	ret = write_and_wait(r, []rwl_interfaces.Image_extent{{Offset: 0, Length: uint64(block_size) * 2}}, *data_c)
	if ret != nil {
		return ret
	}

	return bring_down(r)
}

func main() {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)

	var block_size, pool_size = get_init_params()
	log.Debug("block_size: ", block_size)
	log.Debug("pool_size: ", pool_size)

	var pool_path = "/tmp/rwl_pool"
	var backing_file = "/tmp/rwl_backing_store"
	os.Remove(pool_path)
	os.Remove(backing_file)

	{ // init the pool and the backing store, make them ready to go, then shut down cleanly.
		var ret, r = bring_up(pool_path, backing_file)
		if ret != nil {
			return
		}
		if ret = bring_down(r); ret != nil {
			return
		}
	}

	os.Remove(pool_path)
	os.Remove(backing_file)
	if ret := test_two_writes(pool_path, backing_file); ret != nil {
		log.Error("test_two_writes failed: ", ret.Get_errmsg())
		return
	}

	{
		// exercise everything again with the in-memory lower layer instead of a file.
		var ret = test_with_memory_lower(log)
		if ret != nil {
			log.Error("test_with_memory_lower failed: ", ret.Get_errmsg())
			return
		}
	}
}

func get_init_params() (block_size uint32, pool_size uint64) {
	block_size = 4096   // bytes per addressable block, the fundamental unit of this cache
	pool_size = 8 << 20 // 8MiB persistent-memory-backed pool, plenty for driver-scale scenarios
	return
}

func test_with_memory_lower(log *tools.Nixomosetools_logger) tools.Ret {
	var block_size, pool_size = get_init_params()

	var lower = rwl_src.New_memory_lower_store(log, uint64(block_size))

	var config = rwl_src.Default_config()
	config.Path = "/tmp/rwl_pool_mem"
	config.Size_bytes = pool_size
	config.Block_size_bytes = uint64(block_size)

	os.Remove(config.Path)
	var r = rwl_src.New_rwl(log, config, lower)
	var ret = r.Init(false)
	if ret != nil {
		return ret
	}

	var lib = New_rwl_test_lib(log)
	if ret = lib.Rwl_basic_tests(r, block_size); ret != nil {
		return ret
	}
	if ret = lib.Rwl_test_writing_zero(r, block_size); ret != nil {
		return ret
	}

	return r.Shutdown()
}
