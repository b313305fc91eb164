package rwl_src

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_entry"
)

func make_test_entry(log *tools.Nixomosetools_logger, offset uint64, length uint64) *rwl_entry.Log_entry {
	var e = rwl_entry.New_log_entry(log, 0)
	e.Persisted.Image_offset_bytes = offset
	e.Persisted.Write_bytes = length
	return e
}

func Test_log_map_add_non_overlapping(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var e1 = make_test_entry(log, 0, 4096)
	var e2 = make_test_entry(log, 4096, 4096)
	require.Nil(t, m.Add(e1))
	require.Nil(t, m.Add(e2))

	assert.Equal(t, 2, m.Entry_count())
	assert.Equal(t, int32(1), e1.Referring_map_entries())
	assert.Equal(t, int32(1), e2.Referring_map_entries())
}

func Test_log_map_add_fully_occludes_older(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var older = make_test_entry(log, 0, 4096)
	require.Nil(t, m.Add(older))
	assert.Equal(t, int32(1), older.Referring_map_entries())

	var newer = make_test_entry(log, 0, 4096)
	require.Nil(t, m.Add(newer))

	assert.Equal(t, 1, m.Entry_count())
	assert.Equal(t, int32(0), older.Referring_map_entries()) // fully occluded, dropped
	assert.Equal(t, int32(1), newer.Referring_map_entries())
}

func Test_log_map_add_splits_older_when_strictly_inside(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var older = make_test_entry(log, 0, 4096*4) // blocks 0..3
	require.Nil(t, m.Add(older))

	var newer = make_test_entry(log, 4096, 4096) // block 1, strictly inside older
	require.Nil(t, m.Add(newer))

	assert.Equal(t, 3, m.Entry_count()) // left remainder, newer, right remainder
	assert.Equal(t, int32(2), older.Referring_map_entries())

	var found = m.Find_map_entries(0, 0)
	require.Len(t, found, 1)
	assert.Equal(t, older, found[0].Entry)

	found = m.Find_map_entries(1, 1)
	require.Len(t, found, 1)
	assert.Equal(t, newer, found[0].Entry)

	found = m.Find_map_entries(2, 3)
	require.Len(t, found, 1)
	assert.Equal(t, older, found[0].Entry)
}

func Test_log_map_add_shrinks_from_left_and_right(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var older = make_test_entry(log, 0, 4096*4) // blocks 0..3
	require.Nil(t, m.Add(older))

	var shrink_left = make_test_entry(log, 0, 4096*2) // blocks 0..1, occludes left side
	require.Nil(t, m.Add(shrink_left))

	var found = m.Find_map_entries(2, 3)
	require.Len(t, found, 1)
	assert.Equal(t, older, found[0].Entry)
	assert.Equal(t, uint64(2), found[0].Start_block)
	assert.Equal(t, uint64(3), found[0].End_block)

	var shrink_right = make_test_entry(log, 4096*3, 4096) // block 3, occludes right side
	require.Nil(t, m.Add(shrink_right))

	found = m.Find_map_entries(2, 2)
	require.Len(t, found, 1)
	assert.Equal(t, older, found[0].Entry)
	assert.Equal(t, uint64(2), found[0].End_block)
}

func Test_log_map_remove_references_to(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var e = make_test_entry(log, 0, 4096)
	require.Nil(t, m.Add(e))
	assert.Equal(t, 1, m.Entry_count())

	require.Nil(t, m.Remove_references_to(e))
	assert.Equal(t, 0, m.Entry_count())
	assert.Equal(t, int32(0), e.Referring_map_entries())
}

func Test_log_map_find_log_entries_can_duplicate(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var m = New_log_map(log, 4096)

	var older = make_test_entry(log, 0, 4096*4)
	require.Nil(t, m.Add(older))
	var newer = make_test_entry(log, 4096, 4096)
	require.Nil(t, m.Add(newer))

	var entries = m.Find_log_entries(0, 3)
	require.Len(t, entries, 3) // left remainder, newer, right remainder -- older appears twice
}
