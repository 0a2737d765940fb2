package matchmaker

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitingPoolFIFO(t *testing.T) {
	p := newWaitingPool()
	require.True(t, p.enqueue("a"))
	require.True(t, p.enqueue("b"))
	require.True(t, p.enqueue("c"))

	for _, want := range []string{"a", "b", "c"} {
		got, ok := p.dequeueOldest()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := p.dequeueOldest()
	assert.False(t, ok)
}

func TestWaitingPoolEnqueueIsIdempotent(t *testing.T) {
	p := newWaitingPool()
	require.True(t, p.enqueue("a"))
	assert.False(t, p.enqueue("a"))
	assert.Equal(t, 1, p.size())

	got, ok := p.dequeueOldest()
	require.True(t, ok)
	assert.Equal(t, "a", got)
	_, ok = p.dequeueOldest()
	assert.False(t, ok, "duplicate enqueue must not leave a second entry")
}

func TestWaitingPoolRemove(t *testing.T) {
	p := newWaitingPool()
	p.enqueue("a")
	p.enqueue("b")

	assert.True(t, p.remove("a"))
	assert.False(t, p.remove("a"), "removing an absent id is a no-op")
	assert.False(t, p.contains("a"))
	assert.Equal(t, 1, p.size())

	// The lazily-removed head is skipped on dequeue.
	got, ok := p.dequeueOldest()
	require.True(t, ok)
	assert.Equal(t, "b", got)
	assert.Equal(t, 0, p.size())
}

func TestWaitingPoolReEnqueueAfterRemove(t *testing.T) {
	p := newWaitingPool()
	p.enqueue("a")
	p.enqueue("b")
	p.remove("a")
	require.True(t, p.enqueue("a"), "removed id can re-enter the queue")

	// a re-entered behind b.
	got, _ := p.dequeueOldest()
	assert.Equal(t, "b", got)
	got, _ = p.dequeueOldest()
	assert.Equal(t, "a", got)
}
