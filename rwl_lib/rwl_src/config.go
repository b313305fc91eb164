// SPDX-License-Identifier: LGPL-2.1
// Copyright (C) 2021-2022 stu mark

/* Config carries the recognized options from spec.md 6 plus the policy
knobs from spec.md 4.6/4.8. grounded on the constants block in
original_source/ReplicatedWriteLog.h and on the teacher's pattern of
caller-supplied geometry parameters to New_Slookup_i
(addressable_blocks, block_group_count, data_block_size,
total_backing_store_blocks). config *loading* from a file format is out
of scope per spec.md 1; the struct and its validation are ambient. */

package rwl_src

import "github.com/nixomose/nixomosegotools/tools"

const (
	Min_write_alloc_size_bytes      uint64 = 512
	Min_pool_size_bytes             uint64 = 1 << 20 // 1MiB floor, scaled down from the original's 1GiB default for a library default
	Default_pool_size_bytes         uint64 = 1 << 30
	Usable_fraction                 float64 = 0.7
	Block_alloc_overhead_bytes      uint64 = 16
	Max_alloc_per_transaction       int     = 8
	Ops_flushed_together            int     = 4
	Max_concurrent_writes           int     = 256
	In_flight_flush_write_limit     int     = 8
	In_flight_flush_bytes_limit     uint64  = 1 << 20 // 1MiB
)

// Config is spec.md 6's recognized option set.
type Config struct {
	Enabled                   bool
	Path                      string
	Size_bytes                uint64
	Persist_on_write_until_flush bool

	Block_size_bytes uint64

	Ops_flushed_together        int
	Max_alloc_per_transaction   int
	Max_concurrent_writes       int
	In_flight_flush_write_limit int
	In_flight_flush_bytes_limit uint64
}

func Default_config() *Config {
	var c Config
	c.Enabled = true
	c.Size_bytes = Default_pool_size_bytes
	c.Persist_on_write_until_flush = true
	c.Block_size_bytes = Min_write_alloc_size_bytes
	c.Ops_flushed_together = Ops_flushed_together
	c.Max_alloc_per_transaction = Max_alloc_per_transaction
	c.Max_concurrent_writes = Max_concurrent_writes
	c.In_flight_flush_write_limit = In_flight_flush_write_limit
	c.In_flight_flush_bytes_limit = In_flight_flush_bytes_limit
	return &c
}

// Validate sanity-checks the config the way the teacher's check_*_limits
// helpers sanity check geometry before Init proceeds.
func (this *Config) Validate(log *tools.Nixomosetools_logger) tools.Ret {
	if this.Path == "" {
		return tools.Error(log, "rwl config requires a non-empty path")
	}
	if this.Size_bytes < Min_pool_size_bytes {
		this.Size_bytes = Min_pool_size_bytes
	}
	if this.Block_size_bytes == 0 || this.Block_size_bytes%512 != 0 {
		return tools.Error(log, "rwl config block size must be a non-zero multiple of 512, got ", this.Block_size_bytes)
	}
	if this.Max_alloc_per_transaction <= 0 {
		return tools.Error(log, "rwl config max_alloc_per_transaction must be positive")
	}
	if this.Max_concurrent_writes <= 0 {
		return tools.Error(log, "rwl config max_concurrent_writes must be positive")
	}
	return nil
}

// Ring_capacity returns the number of ring slots,
// floor(effective_size / per_entry_cost), never less than 2. one slot is
// always kept empty so the ring is never ambiguous between empty and full
// (I1), which leaves Ring_capacity()-1 usable log entries.
func (this *Config) Ring_capacity() uint32 {
	var effective_size = float64(this.Size_bytes) * Usable_fraction
	var per_entry_cost = Min_write_alloc_size_bytes + Block_alloc_overhead_bytes + 64 // sizeof(Log_entry_slot)
	var n = uint64(effective_size) / per_entry_cost
	if n < 2 {
		n = 2
	}
	return uint32(n)
}

func (this *Config) Buffer_area_bytes() uint64 {
	var n = uint64(this.Ring_capacity())
	return n * Min_write_alloc_size_bytes
}
