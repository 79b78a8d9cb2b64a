package netio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEarlyQueueFIFOAndCapacity(t *testing.T) {
	q := NewEarlyQueue(3)
	require.True(t, q.Push(true, []byte("A")))
	require.True(t, q.Push(false, []byte("B")))
	require.True(t, q.Push(true, []byte("C")))
	require.False(t, q.Push(true, []byte("D")), "4th payload must be dropped past capacity 3")
	require.Equal(t, 3, q.Len())

	drained := q.Drain()
	require.Len(t, drained, 3)
	require.Equal(t, EarlyPayload{Data: []byte("A"), Reliable: true}, drained[0])
	require.Equal(t, EarlyPayload{Data: []byte("B"), Reliable: false}, drained[1])
	require.Equal(t, EarlyPayload{Data: []byte("C"), Reliable: true}, drained[2])
	require.Equal(t, 0, q.Len(), "drain empties the queue")
}

func TestEarlyQueueDrainEmpty(t *testing.T) {
	q := NewEarlyQueue(3)
	require.Nil(t, q.Drain())
}
