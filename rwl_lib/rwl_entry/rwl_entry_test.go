package rwl_entry

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_log_entry_slot_serialize_roundtrip(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)

	var slot = New_log_entry_slot()
	slot.Sync_gen_number = 7
	slot.Write_sequence_number = 99
	slot.Image_offset_bytes = 4096
	slot.Write_bytes = 512
	slot.Data_buffer_ref = 1024
	slot.Set_flag(Flag_entry_valid, true)
	slot.Set_flag(Flag_has_data, true)

	var ret, bs = slot.Serialize(log)
	require.Nil(t, ret)
	require.Equal(t, Log_entry_slot_size, len(*bs))

	var back = New_log_entry_slot()
	ret = back.Deserialize(log, bs)
	require.Nil(t, ret)

	assert.Equal(t, slot.Sync_gen_number, back.Sync_gen_number)
	assert.Equal(t, slot.Write_sequence_number, back.Write_sequence_number)
	assert.Equal(t, slot.Image_offset_bytes, back.Image_offset_bytes)
	assert.Equal(t, slot.Write_bytes, back.Write_bytes)
	assert.Equal(t, slot.Data_buffer_ref, back.Data_buffer_ref)
	assert.True(t, back.Is_valid())
	assert.True(t, back.Has_data())
	assert.False(t, back.Is_sync_point())
	assert.False(t, back.Is_unmap())
}

func Test_log_entry_slot_deserialize_too_short(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var slot = New_log_entry_slot()
	var short = make([]byte, 4)
	var ret = slot.Deserialize(log, &short)
	require.NotNil(t, ret)
}

func Test_log_entry_slot_flags(t *testing.T) {
	var slot = New_log_entry_slot()
	assert.False(t, slot.Is_valid())
	slot.Set_flag(Flag_entry_valid, true)
	assert.True(t, slot.Is_valid())
	slot.Set_flag(Flag_entry_valid, false)
	assert.False(t, slot.Is_valid())
}

func Test_log_entry_slot_block_extent(t *testing.T) {
	var slot = New_log_entry_slot()
	slot.Image_offset_bytes = 8192
	slot.Write_bytes = 4096
	var start, end = slot.Block_extent(4096)
	assert.Equal(t, uint64(2), start)
	assert.Equal(t, uint64(2), end)

	slot.Write_bytes = 8192
	start, end = slot.Block_extent(4096)
	assert.Equal(t, uint64(2), start)
	assert.Equal(t, uint64(3), end)
}

func Test_log_entry_referring_map_entries(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var entry = New_log_entry(log, 3)

	assert.Equal(t, int32(0), entry.Referring_map_entries())
	entry.Inc_referring_map_entries()
	entry.Inc_referring_map_entries()
	assert.Equal(t, int32(2), entry.Referring_map_entries())

	var ret = entry.Dec_referring_map_entries()
	require.Nil(t, ret)
	assert.Equal(t, int32(1), entry.Referring_map_entries())

	ret = entry.Dec_referring_map_entries()
	require.Nil(t, ret)
	ret = entry.Dec_referring_map_entries()
	require.NotNil(t, ret) // went negative
}

func Test_log_entry_reader_count(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var entry = New_log_entry(log, 1)

	entry.Acquire_reader()
	assert.Equal(t, int32(1), entry.Reader_count())
	var ret = entry.Release_reader()
	require.Nil(t, ret)
	assert.Equal(t, int32(0), entry.Reader_count())
}

func Test_log_entry_flushing_state_machine(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var entry = New_log_entry(log, 1)

	assert.False(t, entry.Try_start_flushing()) // not completed yet
	entry.Set_completed()
	assert.True(t, entry.Completed())

	assert.True(t, entry.Try_start_flushing())
	assert.True(t, entry.Flushing())
	assert.False(t, entry.Try_start_flushing()) // already flushing

	entry.Finish_flushing_success()
	assert.False(t, entry.Flushing())
	assert.True(t, entry.Flushed())
	assert.False(t, entry.Try_start_flushing()) // already flushed
}

func Test_log_entry_flushing_failure_retries(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var entry = New_log_entry(log, 1)
	entry.Set_completed()

	require.True(t, entry.Try_start_flushing())
	entry.Finish_flushing_failure()
	assert.False(t, entry.Flushing())
	assert.False(t, entry.Flushed())
	assert.True(t, entry.Try_start_flushing()) // can retry
}

func Test_log_entry_retireable(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var entry = New_log_entry(log, 1)

	assert.False(t, entry.Retireable())
	entry.Set_completed()
	require.True(t, entry.Try_start_flushing())
	entry.Finish_flushing_success()
	assert.True(t, entry.Retireable())

	entry.Inc_referring_map_entries()
	assert.False(t, entry.Retireable())
	var ret = entry.Dec_referring_map_entries()
	require.Nil(t, ret)
	assert.True(t, entry.Retireable())

	entry.Acquire_reader()
	assert.False(t, entry.Retireable())
	ret = entry.Release_reader()
	require.Nil(t, ret)
	assert.True(t, entry.Retireable())
}
