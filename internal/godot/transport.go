package godot

import (
	"context"
	"fmt"
	"net"
	"sync"
)

// DefaultWriteHighWater is the number of buffered outbound bytes at which
// the writer starts reporting backpressure.
const DefaultWriteHighWater = 64 * 1024

// connWriter is the engine-side transport for command.Sender. Write never
// blocks: buffers are queued and flushed to the connection by run. Once more
// than highWater bytes are queued Write reports backpressure, and onDrain is
// called after the queue has been flushed completely.
type connWriter struct {
	conn      net.Conn
	highWater int
	onDrain   func()

	mu     sync.Mutex
	queue  [][]byte
	queued int
	full   bool
	err    error
	wake   chan struct{}
}

func newConnWriter(conn net.Conn, highWater int, onDrain func()) *connWriter {
	if highWater <= 0 {
		highWater = DefaultWriteHighWater
	}
	return &connWriter{
		conn:      conn,
		highWater: highWater,
		onDrain:   onDrain,
		wake:      make(chan struct{}, 1),
	}
}

// Write implements command.Writer.
func (w *connWriter) Write(p []byte) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.err != nil {
		return false, w.err
	}
	w.queue = append(w.queue, p)
	w.queued += len(p)

	select {
	case w.wake <- struct{}{}:
	default:
	}

	if w.queued >= w.highWater {
		w.full = true
		return false, nil
	}
	return true, nil
}

// run flushes queued buffers until ctx is done or a write fails.
func (w *connWriter) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.wake:
		}

		for {
			w.mu.Lock()
			if len(w.queue) == 0 {
				w.mu.Unlock()
				break
			}
			buf := w.queue[0]
			w.queue[0] = nil
			w.queue = w.queue[1:]
			w.mu.Unlock()

			_, err := w.conn.Write(buf)

			w.mu.Lock()
			w.queued -= len(buf)
			if err != nil {
				w.err = err
				w.mu.Unlock()
				return fmt.Errorf("write to engine: %w", err)
			}
			drained := w.full && w.queued == 0
			if drained {
				w.full = false
			}
			w.mu.Unlock()

			if drained && w.onDrain != nil {
				w.onDrain()
			}
		}
	}
}
