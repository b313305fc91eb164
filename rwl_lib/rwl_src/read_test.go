package rwl_src

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

func Test_perform_read_pure_miss_goes_to_lower_layer(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)
	var lower = New_memory_lower_store(log, 4096)
	require.Nil(t, lower.Init())
	require.Nil(t, lower.Startup(false))

	var pattern = make([]byte, 4096)
	for i := range pattern {
		pattern[i] = 0x42
	}
	require.Nil(t, lower.Write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}, &pattern, false))

	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}
	var ret, data = Perform_read(log, m, lower, 4096, extents, false)
	require.Nil(t, ret)
	assert.Equal(t, pattern, *data)
}

func Test_perform_read_pure_hit_skips_lower_layer(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)
	var lower = New_memory_lower_store(log, 4096)
	require.Nil(t, lower.Init())
	require.Nil(t, lower.Startup(false))

	var entry = make_test_entry(log, 0, 4096)
	entry.Data_buffer = make([]byte, 4096)
	for i := range entry.Data_buffer {
		entry.Data_buffer[i] = 0x55
	}
	require.Nil(t, m.Add(entry))

	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}
	var ret, data = Perform_read(log, m, lower, 4096, extents, false)
	require.Nil(t, ret)
	assert.Equal(t, entry.Data_buffer, *data)
	assert.Equal(t, int32(0), entry.Reader_count()) // acquired and released around the copy
}

func Test_perform_read_splices_hit_and_miss_segments(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)
	var lower = New_memory_lower_store(log, 4096)
	require.Nil(t, lower.Init())
	require.Nil(t, lower.Startup(false))

	var lower_pattern = make([]byte, 4096*3)
	for i := range lower_pattern {
		lower_pattern[i] = 0xAA
	}
	require.Nil(t, lower.Write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 4096 * 3}}, &lower_pattern, false))

	// block 1 (the middle block) is a hit, blocks 0 and 2 come from the lower layer.
	var entry = make_test_entry(log, 4096, 4096)
	entry.Data_buffer = make([]byte, 4096)
	for i := range entry.Data_buffer {
		entry.Data_buffer[i] = 0xBB
	}
	require.Nil(t, m.Add(entry))

	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096 * 3}}
	var ret, data = Perform_read(log, m, lower, 4096, extents, false)
	require.Nil(t, ret)
	require.Len(t, *data, 4096*3)
	assert.Equal(t, byte(0xAA), (*data)[0])
	assert.Equal(t, byte(0xBB), (*data)[4096])
	assert.Equal(t, byte(0xAA), (*data)[4096*2])
}

func Test_perform_read_hit_uses_byte_offset_into_shrunk_entry(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)
	var lower = New_memory_lower_store(log, 4096)
	require.Nil(t, lower.Init())
	require.Nil(t, lower.Startup(false))

	// older entry spans blocks 0..1, its Data_buffer is laid out across both.
	var older = make_test_entry(log, 0, 4096*2)
	older.Data_buffer = make([]byte, 4096*2)
	for i := 0; i < 4096; i++ {
		older.Data_buffer[i] = 0x01
	}
	for i := 4096; i < 4096*2; i++ {
		older.Data_buffer[i] = 0x02
	}
	require.Nil(t, m.Add(older))

	// a newer entry over block 0 shrinks older's map entry down to block 1.
	var newer = make_test_entry(log, 0, 4096)
	newer.Data_buffer = make([]byte, 4096)
	require.Nil(t, m.Add(newer))

	// a read over just block 1 must pull bytes [4096:8192) out of older's buffer,
	// not [0:4096), even though the surviving map entry now only covers block 1.
	var extents = []rwl_interfaces.Image_extent{{Offset: 4096, Length: 4096}}
	var ret, data = Perform_read(log, m, lower, 4096, extents, false)
	require.Nil(t, ret)
	for _, b := range *data {
		assert.Equal(t, byte(0x02), b)
	}
}
