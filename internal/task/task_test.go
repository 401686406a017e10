package task

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalEquality(t *testing.T) {
	t.Parallel()

	a, err := New("search", "https://example.org/dictionary/?query=a").Canonical()
	require.NoError(t, err)
	b, err := New("search", "https://example.org/dictionary/?query=a").Canonical()
	require.NoError(t, err)
	require.Equal(t, a, b)

	c, err := New("search", "https://example.org/dictionary/?query=b").Canonical()
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	d, err := New("definition", "https://example.org/dictionary/?query=a").Canonical()
	require.NoError(t, err)
	require.NotEqual(t, a, d)
}

func TestQueueSuppressesCycles(t *testing.T) {
	t.Parallel()

	q := NewQueue()

	// a -> b -> a link cycle must terminate
	pushed, err := q.Push(New("page", "a"))
	require.NoError(t, err)
	require.True(t, pushed)
	pushed, err = q.Push(New("page", "b"))
	require.NoError(t, err)
	require.True(t, pushed)

	got, ok := q.Pop()
	require.True(t, ok)
	require.Equal(t, "a", got.Args[0])

	// re-discovered while crawling b
	pushed, err = q.Push(New("page", "a"))
	require.NoError(t, err)
	require.False(t, pushed)

	_, ok = q.Pop()
	require.True(t, ok)
	_, ok = q.Pop()
	require.False(t, ok)
	require.Zero(t, q.Len())
}

func TestQueueDedupsAgainstHistoryNotBacklog(t *testing.T) {
	t.Parallel()

	q := NewQueue()
	_, err := q.Push(New("page", 1))
	require.NoError(t, err)
	_, ok := q.Pop()
	require.True(t, ok)

	// popped tasks still count as seen
	pushed, err := q.Push(New("page", 1))
	require.NoError(t, err)
	require.False(t, pushed)
}

func TestRootTask(t *testing.T) {
	t.Parallel()

	require.True(t, Task{}.Root())
	require.False(t, New("search", "x").Root())
	require.Equal(t, "(root)", Task{}.String())
}
