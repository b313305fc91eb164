// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* File_store_aligned is the example lower layer: a plain file, optionally
opened with O_DIRECT, that the RWL writes back to and reads misses from.
test/driver.go references a slookup_i_src.File_store_aligned built from a
File_store_io_path (New_file_store_io_path_directio / _default) and an
alignment -- that type's source file is absent from the retrieval pack,
so this is reconstructed against that call shape rather than copied,
generalized from "fixed data_block_size blocks" to "byte extents," the
shape the Lower_layer_interface contract actually needs. */

package rwl_src

import (
	"os"

	"github.com/ncw/directio"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// File_store_io_path abstracts how the underlying file descriptor gets
// opened: direct I/O (alignment-sensitive, bypasses the page cache) or
// the default buffered path.
type File_store_io_path interface {
	Open(path string, flag int, perm os.FileMode) (tools.Ret, *os.File)
	Alignment_requirement() uint32
}

type file_store_io_path_directio struct{}

func New_file_store_io_path_directio() File_store_io_path {
	return file_store_io_path_directio{}
}

func (file_store_io_path_directio) Open(path string, flag int, perm os.FileMode) (tools.Ret, *os.File) {
	var f, err = directio.OpenFile(path, flag, perm)
	if err != nil {
		return tools.Error(nil, "unable to open ", path, " with directio: ", err), nil
	}
	return nil, f
}

func (file_store_io_path_directio) Alignment_requirement() uint32 {
	return uint32(directio.AlignSize)
}

type file_store_io_path_default struct{}

func New_file_store_io_path_default() File_store_io_path {
	return file_store_io_path_default{}
}

func (file_store_io_path_default) Open(path string, flag int, perm os.FileMode) (tools.Ret, *os.File) {
	var f, err = os.OpenFile(path, flag, perm)
	if err != nil {
		return tools.Error(nil, "unable to open ", path, ": ", err), nil
	}
	return nil, f
}

func (file_store_io_path_default) Alignment_requirement() uint32 {
	return 1
}

// File_store_aligned is the Lower_layer_interface implementation backed
// by a regular file.
type File_store_aligned struct {
	log *tools.Nixomosetools_logger

	path      string
	alignment uint32
	iopath    File_store_io_path

	started bool
	file    *os.File
}

var _ rwl_interfaces.Lower_layer_interface = &File_store_aligned{}

func New_file_store_aligned(log *tools.Nixomosetools_logger, path string, alignment uint32,
	iopath File_store_io_path) *File_store_aligned {
	var fs File_store_aligned
	fs.log = log
	fs.path = path
	fs.alignment = alignment
	fs.iopath = iopath
	return &fs
}

func (this *File_store_aligned) Init() tools.Ret {
	return nil
}

func (this *File_store_aligned) Startup(force bool) tools.Ret {
	if this.started {
		return tools.Error(this.log, "file store ", this.path, " already started")
	}
	var flags = os.O_RDWR | os.O_CREATE
	var ret, f = this.iopath.Open(this.path, flags, 0644)
	if ret != nil {
		return tools.Error(this.log, "unable to start up file store at ", this.path, ": ", ret)
	}
	this.file = f
	this.started = true
	return nil
}

func (this *File_store_aligned) Shutdown() tools.Ret {
	if !this.started {
		return tools.Error(this.log, "file store ", this.path, " not started")
	}
	var err = this.file.Close()
	this.started = false
	if err != nil {
		return tools.Error(this.log, "error closing file store ", this.path, ": ", err)
	}
	return nil
}

func (this *File_store_aligned) check_alignment(offset uint64, length uint64) tools.Ret {
	if this.alignment <= 1 {
		return nil
	}
	if offset%uint64(this.alignment) != 0 || length%uint64(this.alignment) != 0 {
		return tools.Error(this.log, "EINVAL: offset ", offset, " length ", length,
			" does not satisfy alignment requirement of ", this.alignment, " bytes for file store ", this.path)
	}
	return nil
}

func (this *File_store_aligned) Read(extents []rwl_interfaces.Image_extent, fadvise_random bool) (tools.Ret, *[]byte) {
	var out []byte
	for _, e := range extents {
		var ret = this.check_alignment(e.Offset, e.Length)
		if ret != nil {
			return ret, nil
		}
		var buf = make([]byte, e.Length)
		var n, err = this.file.ReadAt(buf, int64(e.Offset))
		if err != nil && uint64(n) != e.Length {
			return tools.Error(this.log, "read of ", e.Length, " bytes at offset ", e.Offset,
				" from ", this.path, " failed: ", err), nil
		}
		out = append(out, buf...)
	}
	return nil, &out
}

func (this *File_store_aligned) Write(extents []rwl_interfaces.Image_extent, data *[]byte, fadvise_random bool) tools.Ret {
	var cursor uint64
	for _, e := range extents {
		var ret = this.check_alignment(e.Offset, e.Length)
		if ret != nil {
			return ret
		}
		var payload = (*data)[cursor : cursor+e.Length]
		var _, err = this.file.WriteAt(payload, int64(e.Offset))
		if err != nil {
			return tools.Error(this.log, "write of ", e.Length, " bytes at offset ", e.Offset,
				" to ", this.path, " failed: ", err)
		}
		cursor += e.Length
	}
	return nil
}

func (this *File_store_aligned) Discard(offset uint64, length uint64, skip_partial_discard bool) tools.Ret {
	var zeroes = make([]byte, length)
	var _, err = this.file.WriteAt(zeroes, int64(offset))
	if err != nil {
		return tools.Error(this.log, "discard (zero-fill) of ", length, " bytes at offset ", offset,
			" on ", this.path, " failed: ", err)
	}
	return nil
}

func (this *File_store_aligned) Flush() tools.Ret {
	var err = this.file.Sync()
	if err != nil {
		return tools.Error(this.log, "fsync of ", this.path, " failed: ", err)
	}
	return nil
}

func (this *File_store_aligned) Writesame(offset uint64, length uint64, data *[]byte, fadvise_random bool) tools.Ret {
	var pattern = *data
	if len(pattern) == 0 {
		return tools.Error(this.log, "writesame requires a non-empty pattern")
	}
	var full = make([]byte, length)
	for i := range full {
		full[i] = pattern[uint64(i)%uint64(len(pattern))]
	}
	return this.Write([]rwl_interfaces.Image_extent{{Offset: offset, Length: length}}, &full, false)
}

func (this *File_store_aligned) Compare_and_write(extents []rwl_interfaces.Image_extent, cmp_data *[]byte,
	data *[]byte, fadvise_random bool) (tools.Ret, uint64) {
	var ret, current = this.Read(extents, false)
	if ret != nil {
		return ret, 0
	}
	for i := range *current {
		if (*current)[i] != (*cmp_data)[i] {
			return tools.Error(this.log, "EILSEQ: compare_and_write mismatch on ", this.path), uint64(i)
		}
	}
	return this.Write(extents, data, false), 0
}

func (this *File_store_aligned) Invalidate() tools.Ret {
	return nil // a plain file has no separate cache to invalidate.
}
