package rwl_src

import (
	"path/filepath"
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

func new_test_file_store(t *testing.T) *File_store_aligned {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var path = filepath.Join(t.TempDir(), "backing.img")
	var fs = New_file_store_aligned(log, path, 1, New_file_store_io_path_default())
	require.Nil(t, fs.Startup(false))
	return fs
}

func Test_file_store_write_then_read_roundtrip(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()

	var data = make([]byte, 4096)
	for i := range data {
		data[i] = byte(i % 256)
	}
	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}
	require.Nil(t, fs.Write(extents, &data, false))

	var ret, back = fs.Read(extents, false)
	require.Nil(t, ret)
	assert.Equal(t, data, *back)
}

func Test_file_store_startup_twice_fails(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()
	assert.NotNil(t, fs.Startup(false))
}

func Test_file_store_shutdown_without_startup_fails(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var path = filepath.Join(t.TempDir(), "backing.img")
	var fs = New_file_store_aligned(log, path, 1, New_file_store_io_path_default())
	assert.NotNil(t, fs.Shutdown())
}

func Test_file_store_discard_zero_fills(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()

	var data = make([]byte, 4096)
	for i := range data {
		data[i] = 0xff
	}
	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}
	require.Nil(t, fs.Write(extents, &data, false))
	require.Nil(t, fs.Discard(0, 4096, false))

	var ret, back = fs.Read(extents, false)
	require.Nil(t, ret)
	for _, b := range *back {
		assert.Equal(t, byte(0), b)
	}
}

func Test_file_store_flush_is_a_plain_fsync(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()
	assert.Nil(t, fs.Flush())
}

func Test_file_store_writesame_repeats_pattern(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()

	var pattern = []byte{0xde, 0xad, 0xbe, 0xef}
	require.Nil(t, fs.Writesame(0, 16, &pattern, false))

	var ret, back = fs.Read([]rwl_interfaces.Image_extent{{Offset: 0, Length: 16}}, false)
	require.Nil(t, ret)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef, 0xde, 0xad, 0xbe, 0xef}, *back)
}

func Test_file_store_compare_and_write_mismatch_is_rejected(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()

	var initial = make([]byte, 8)
	require.Nil(t, fs.Write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 8}}, &initial, false))

	var wrong_cmp = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	var new_data = make([]byte, 8)
	var ret, mismatch_offset = fs.Compare_and_write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 8}},
		&wrong_cmp, &new_data, false)
	assert.NotNil(t, ret)
	assert.Equal(t, uint64(0), mismatch_offset)
}

func Test_file_store_compare_and_write_match_succeeds(t *testing.T) {
	var fs = new_test_file_store(t)
	defer fs.Shutdown()

	var initial = make([]byte, 8)
	require.Nil(t, fs.Write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 8}}, &initial, false))

	var right_cmp = make([]byte, 8)
	var new_data = []byte{9, 9, 9, 9, 9, 9, 9, 9}
	var ret, _ = fs.Compare_and_write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 8}},
		&right_cmp, &new_data, false)
	require.Nil(t, ret)

	var read_ret, back = fs.Read([]rwl_interfaces.Image_extent{{Offset: 0, Length: 8}}, false)
	require.Nil(t, read_ret)
	assert.Equal(t, new_data, *back)
}

func Test_file_store_alignment_rejects_misaligned_extent(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var path = filepath.Join(t.TempDir(), "backing.img")
	var fs = New_file_store_aligned(log, path, 4096, New_file_store_io_path_default())
	require.Nil(t, fs.Startup(false))
	defer fs.Shutdown()

	var data = make([]byte, 100)
	var ret = fs.Write([]rwl_interfaces.Image_extent{{Offset: 0, Length: 100}}, &data, false)
	assert.NotNil(t, ret)
}
