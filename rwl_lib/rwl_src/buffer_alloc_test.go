package rwl_src

import (
	"testing"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_buffer_allocator_reserve_publish_release(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)

	var ret, res = a.Reserve(256)
	require.Nil(t, ret)
	assert.Equal(t, uint64(0), res.Offset)
	assert.Equal(t, uint64(256), res.Length)
	assert.Equal(t, uint64(256), a.Used_bytes())

	ret = a.Publish(res)
	require.Nil(t, ret)

	ret = a.Release(res)
	require.Nil(t, ret)
	assert.Equal(t, uint64(0), a.Used_bytes())
}

func Test_buffer_allocator_reserve_zero_length_fails(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)
	var ret, res = a.Reserve(0)
	require.NotNil(t, ret)
	require.Nil(t, res)
}

func Test_buffer_allocator_cancel_unpublished(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)

	var ret, res = a.Reserve(128)
	require.Nil(t, ret)
	ret = a.Cancel(res)
	require.Nil(t, ret)
	assert.Equal(t, uint64(0), a.Used_bytes())
}

func Test_buffer_allocator_cannot_cancel_published(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)

	var ret, res = a.Reserve(128)
	require.Nil(t, ret)
	require.Nil(t, a.Publish(res))
	ret = a.Cancel(res)
	require.NotNil(t, ret)
}

func Test_buffer_allocator_full_when_exhausted(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 256)

	var ret, res1 = a.Reserve(200)
	require.Nil(t, ret)
	require.Nil(t, a.Publish(res1))

	ret, res2 := a.Reserve(100)
	require.NotNil(t, ret) // would overlap the still-outstanding reservation after wrap
	require.Nil(t, res2)

	require.Nil(t, a.Release(res1))
	ret, res3 := a.Reserve(100)
	require.Nil(t, ret)
	require.NotNil(t, res3)
}

func Test_buffer_allocator_fifo_reclaim(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 300)

	var ret, res1 = a.Reserve(100)
	require.Nil(t, ret)
	ret, res2 := a.Reserve(100)
	require.Nil(t, ret)
	ret, res3 := a.Reserve(100)
	require.Nil(t, ret)

	require.Nil(t, a.Publish(res1))
	require.Nil(t, a.Publish(res2))
	require.Nil(t, a.Publish(res3))

	// release out of order: res2 first, nothing should reclaim until res1 is released.
	require.Nil(t, a.Release(res2))
	assert.Equal(t, uint64(300), a.Used_bytes()) // res1 is still head, blocks reclaim

	require.Nil(t, a.Release(res1))
	assert.Equal(t, uint64(100), a.Used_bytes()) // res1 and res2 both reclaimed in one pass

	require.Nil(t, a.Release(res3))
	assert.Equal(t, uint64(0), a.Used_bytes())
}

func Test_buffer_allocator_seed_then_reserve_does_not_overlap(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)

	var seeded = a.Seed(0, 512)
	require.NotNil(t, seeded)
	assert.Equal(t, uint64(512), a.Used_bytes())

	var ret, fresh = a.Reserve(256)
	require.Nil(t, ret)
	assert.Equal(t, uint64(512), fresh.Offset) // starts right after the seeded region
}

func Test_buffer_allocator_unknown_reservation_errors(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var a = New_buffer_allocator(log, 1024)
	var bogus = &Buffer_reservation{Offset: 0, Length: 64}
	require.NotNil(t, a.Publish(bogus))
	require.NotNil(t, a.Cancel(bogus))
	require.NotNil(t, a.Release(bogus))
}
