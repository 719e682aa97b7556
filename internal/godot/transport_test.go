package godot

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnWriterBackpressure(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	drained := make(chan struct{}, 1)
	w := newConnWriter(local, 8, func() { drained <- struct{}{} })

	more, err := w.Write([]byte("abcd"))
	require.NoError(t, err)
	assert.True(t, more)
	more, err = w.Write([]byte("efgh"))
	require.NoError(t, err)
	assert.False(t, more, "high water reached")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.run(ctx)

	buf := make([]byte, 8)
	_, err = io.ReadFull(remote, buf)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(buf))

	select {
	case <-drained:
	case <-time.After(testWait):
		t.Fatal("drain was not reported")
	}
}

func TestConnWriterError(t *testing.T) {
	local, remote := net.Pipe()
	remote.Close()

	w := newConnWriter(local, 0, nil)
	_, err := w.Write([]byte("x"))
	require.NoError(t, err)

	err = w.run(context.Background())
	assert.Error(t, err)

	_, err = w.Write([]byte("y"))
	assert.Error(t, err, "writes fail after the connection broke")
}
