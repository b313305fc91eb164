package rwl_src

import (
	"sync"
	"testing"
	"time"

	"github.com/nixomose/nixomosegotools/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_block_guard_non_overlapping_ranges_both_admit(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var g = New_block_guard(log)

	g.Detain(0, 3)
	g.Detain(4, 7)
	assert.Equal(t, 2, g.Detained_count())

	require.Nil(t, g.Release(0, 3))
	require.Nil(t, g.Release(4, 7))
	assert.Equal(t, 0, g.Detained_count())
}

func Test_block_guard_overlapping_range_blocks_until_release(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var g = New_block_guard(log)

	g.Detain(0, 9)

	var admitted = make(chan struct{})
	go func() {
		g.Detain(5, 12) // overlaps [0,9]
		close(admitted)
	}()

	select {
	case <-admitted:
		t.Fatal("overlapping detain should not have been admitted yet")
	case <-time.After(50 * time.Millisecond):
	}

	require.Nil(t, g.Release(0, 9))

	select {
	case <-admitted:
	case <-time.After(time.Second):
		t.Fatal("overlapping detain should have been admitted after release")
	}
}

func Test_block_guard_release_of_undetained_range_errors(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var g = New_block_guard(log)
	var ret = g.Release(0, 1)
	require.NotNil(t, ret)
}

func Test_block_guard_many_waiters_all_admitted(t *testing.T) {
	var log = tools.New_Nixomosetools_logger(tools.DEBUG)
	var g = New_block_guard(log)

	g.Detain(0, 0)

	var wg sync.WaitGroup
	var admitted_count int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g.Detain(0, 0)
			admitted_count++
			g.Release(0, 0)
		}()
	}

	time.Sleep(50 * time.Millisecond)
	require.Nil(t, g.Release(0, 0))
	wg.Wait()
	assert.Equal(t, int32(5), admitted_count)
}
