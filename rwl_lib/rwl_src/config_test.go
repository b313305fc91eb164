package rwl_src

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_default_config_is_valid_once_path_is_set(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = Default_config()
	c.Path = "/tmp/whatever"
	require.Nil(t, c.Validate(log))
}

func Test_config_validate_requires_path(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = Default_config()
	require.NotNil(t, c.Validate(log))
}

func Test_config_validate_rejects_bad_block_size(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = Default_config()
	c.Path = "/tmp/whatever"
	c.Block_size_bytes = 500 // not a multiple of 512
	require.NotNil(t, c.Validate(log))
}

func Test_config_validate_floors_tiny_pool_size(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var c = Default_config()
	c.Path = "/tmp/whatever"
	c.Size_bytes = 1
	require.Nil(t, c.Validate(log))
	assert.Equal(t, Min_pool_size_bytes, c.Size_bytes)
}

func Test_config_ring_capacity_scales_with_pool_size(t *testing.T) {
	var small = Default_config()
	small.Size_bytes = Min_pool_size_bytes
	var large = Default_config()
	large.Size_bytes = Min_pool_size_bytes * 10

	assert.Greater(t, large.Ring_capacity(), small.Ring_capacity())
	assert.GreaterOrEqual(t, small.Ring_capacity(), uint32(2)) // never degenerates below 2
}

func Test_config_buffer_area_bytes_tracks_ring_capacity(t *testing.T) {
	var c = Default_config()
	var expect = uint64(c.Ring_capacity()) * Min_write_alloc_size_bytes
	assert.Equal(t, expect, c.Buffer_area_bytes())
}
