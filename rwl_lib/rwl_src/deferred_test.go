package rwl_src

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_deferred_queue_fifo_order(t *testing.T) {
	var q = New_deferred_queue()
	assert.True(t, q.Empty())

	var a = New_write_request(nil, nil, nil, nil)
	var b = New_write_request(nil, nil, nil, nil)
	q.Push_back(a)
	q.Push_back(b)

	assert.Equal(t, 2, q.Len())
	assert.Same(t, a, q.Peek_front())
	assert.Same(t, a, q.Pop_front())
	assert.Same(t, b, q.Peek_front())
	assert.Equal(t, 1, q.Len())
	assert.Same(t, b, q.Pop_front())
	assert.True(t, q.Empty())
}

func Test_deferred_queue_pop_front_on_empty_returns_nil(t *testing.T) {
	var q = New_deferred_queue()
	assert.Nil(t, q.Pop_front())
	assert.Nil(t, q.Peek_front())
}
