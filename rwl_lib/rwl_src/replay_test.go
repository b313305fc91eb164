package rwl_src

import (
	"path/filepath"
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zendemic-systems/rbd-rwl/rwl_lib/rwl_interfaces"
)

// Test_replay_reconstructs_log_map_after_unclean_shutdown simulates a crash:
// the pool is closed directly (skipping Rwl.Shutdown's flush-and-retire), so
// the written entry is still live in the ring when the pool is reopened.
func Test_replay_reconstructs_log_map_after_unclean_shutdown(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var path = filepath.Join(t.TempDir(), "pool.img")
	var config = Default_config()
	config.Path = path
	config.Block_size_bytes = 4096
	config.Size_bytes = Min_pool_size_bytes
	require.Nil(t, config.Validate(log))

	var extents = []rwl_interfaces.Image_extent{{Offset: 0, Length: 4096}}
	var data = make([]byte, 4096)
	for i := range data {
		data[i] = 0x9c
	}

	{
		var lower = New_memory_lower_store(log, config.Block_size_bytes)
		var r = New_rwl(log, config, lower)
		require.Nil(t, r.Init(true))
		require.Nil(t, wait_on_finish(t, func(cb func(tools.Ret)) {
			require.Nil(t, r.Write(extents, data, cb))
		}))
		// bypass Shutdown's flush/retire path -- an unclean stop leaves the
		// entry live in the ring.
		require.Nil(t, r.pool.Close())
	}

	var lower2 = New_memory_lower_store(log, config.Block_size_bytes)
	var r2 = New_rwl(log, config, lower2)
	require.Nil(t, r2.Init(false))
	defer r2.Shutdown()

	var ret, back = r2.Read(extents, false)
	require.Nil(t, ret)
	assert.Equal(t, data, *back)
}

func Test_replay_of_empty_pool_is_a_noop(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var path = filepath.Join(t.TempDir(), "pool.img")
	var config = Default_config()
	config.Path = path
	config.Block_size_bytes = 4096
	config.Size_bytes = Min_pool_size_bytes
	require.Nil(t, config.Validate(log))

	var lower = New_memory_lower_store(log, config.Block_size_bytes)
	var r = New_rwl(log, config, lower)
	require.Nil(t, r.Init(true))
	defer r.Shutdown()

	assert.Equal(t, 0, r.log_map.Entry_count())
}
