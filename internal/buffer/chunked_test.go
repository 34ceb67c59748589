package buffer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkedConsumeRequiresSeek(t *testing.T) {
	var b Chunked
	done := false
	data := make([]byte, 100)
	require.NoError(t, b.Push(func(status CompletionStatus) {
		require.Equal(t, StatusOK, status)
		done = true
	}, data))

	// Consume advances head immediately regardless of Seek: Length drops
	// to zero right away, but the completion is withheld until Seek
	// catches the read cursor up to the same point.
	b.Consume(100)
	require.Equal(t, int64(0), b.Length())
	require.False(t, done)

	// We have to move the read cursor forward for the completion to fire.
	require.Equal(t, 1, b.Seek(1))
	require.True(t, done)

	b.Consume(100)
	require.True(t, done)
	require.Equal(t, int64(0), b.Length())
}

func TestChunkedConsumeCapsAtAvailable(t *testing.T) {
	var b Chunked
	done := false
	data := make([]byte, 100)
	require.NoError(t, b.Push(func(status CompletionStatus) {
		done = true
	}, data))

	b.Seek(1)
	b.Consume(150) // more than buffered
	require.True(t, done)
	require.Equal(t, int64(0), b.Length())
}

func TestChunkedMultipleChunksOneSeek(t *testing.T) {
	var b Chunked
	chunk1 := []byte("abcdefghijklmnopqrstuvwxyz")
	chunk2 := []byte("zyxwvutsrqponmlkjihgfedcba")
	require.NoError(t, b.Push(nil, chunk1, chunk2))

	require.Equal(t, 2, b.Seek(2))
	require.Equal(t, int64(0), b.Remaining())
	require.Equal(t, int64(52), b.Length())

	b.Consume(25)
	require.Equal(t, int64(27), b.Length())
	b.Consume(25)
	require.Equal(t, int64(2), b.Length())
	b.Consume(2)
	require.Equal(t, int64(0), b.Length())
}

func TestChunkedGroupCompletionFiresOnce(t *testing.T) {
	count := 0
	var lastStatus CompletionStatus
	chunk1 := make([]byte, 50)
	chunk2 := make([]byte, 50)
	for i := range chunk1 {
		chunk1[i] = 0
	}
	for i := range chunk2 {
		chunk2[i] = 1
	}

	var b Chunked
	require.NoError(t, b.Push(func(status CompletionStatus) {
		count++
		lastStatus = status
	}, chunk1, chunk2))

	require.Equal(t, 2, b.Seek(2))
	b.Consume(25)
	require.Equal(t, int64(75), b.Length())
	b.Consume(25)
	require.Equal(t, int64(50), b.Length())
	b.Consume(25)
	require.Equal(t, int64(25), b.Length())
	b.Consume(25)
	require.Equal(t, int64(0), b.Length())

	require.Equal(t, 1, count)
	require.Equal(t, StatusOK, lastStatus)
}

func TestChunkedCancelFiresCanceledOnce(t *testing.T) {
	count := 0
	var lastStatus CompletionStatus
	chunk1 := make([]byte, 50)
	chunk2 := make([]byte, 50)

	var b Chunked
	require.NoError(t, b.Push(func(status CompletionStatus) {
		count++
		lastStatus = status
	}, chunk1, chunk2))

	require.Equal(t, 1, b.Seek(1))
	b.Consume(25)
	require.Equal(t, int64(75), b.Length())
	b.Cancel()
	require.Equal(t, int64(0), b.Length())

	require.Equal(t, 1, count)
	require.Equal(t, StatusCanceled, lastStatus)
}

func TestChunkedMoveTransfersBytes(t *testing.T) {
	var a, bb Chunked
	data := make([]byte, 100)
	require.NoError(t, a.Push(nil, data))
	require.Equal(t, int64(100), a.Length())

	bb.Move(&a)
	require.Equal(t, int64(0), a.Length())
	require.Equal(t, int64(100), bb.Length())
}

func TestChunkedPullWithEnd(t *testing.T) {
	var b Chunked
	data := make([]byte, 100)
	for i := range data {
		data[i] = 1
	}
	require.NoError(t, b.PushChunk(data))
	b.End()
	require.Equal(t, int64(100), b.Length())
	require.Equal(t, int64(100), b.Remaining())

	// Pull reveals the pending chunk itself, as a side effect of the
	// call, without requiring a prior Seek.
	var sawVisit bool
	b.Pull(func(status PullStatus, vecs [][]byte, done DoneFunc) {
		sawVisit = true
		require.Equal(t, StatusEnd, status)
		require.Len(t, vecs, 1)
		require.True(t, bytes.Equal(vecs[0], data))
		done(100)
	}, OptSync|OptEnd, 2)
	require.True(t, sawVisit)
	require.Equal(t, int64(0), b.Remaining())

	b.Consume(50)
	require.Equal(t, int64(50), b.Length())
	b.Consume(50)
	require.Equal(t, int64(0), b.Length())
}

func TestChunkedPushAfterEndRejected(t *testing.T) {
	var b Chunked
	b.End()
	require.ErrorIs(t, b.PushChunk([]byte("x")), ErrEnded)
}

func TestChunkedSeekNeverExceedsTail(t *testing.T) {
	var b Chunked
	require.NoError(t, b.PushChunk(make([]byte, 10)))
	require.Equal(t, 1, b.Seek(5))
	require.Equal(t, 0, b.Seek(5))
	require.Equal(t, int64(0), b.Remaining())
}
