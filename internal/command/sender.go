package command

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Writer is the transport side of a Sender.
//
// Write always takes ownership of p. It returns more=false when the transport
// has buffered past its limit; the owner must then call Sender.Drained once
// the transport has flushed.
type Writer interface {
	Write(p []byte) (more bool, err error)
}

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("command sender closed")

// Sender keeps an ordered queue of encoded commands and writes them while the
// transport accepts data. Buffers are written whole and in submission order.
// Like Dispatcher it is confined to one goroutine.
type Sender struct {
	w        Writer
	queue    [][]byte
	canWrite bool
	closed   bool
	logger   *log.Logger
}

// NewSender creates a sender with no transport. Commands queue until Attach.
func NewSender(logger *log.Logger) *Sender {
	if logger == nil {
		logger = log.Default()
	}
	return &Sender{logger: logger}
}

// Attach sets the transport and flushes anything queued before it.
func (s *Sender) Attach(w Writer) error {
	if s.closed {
		return ErrSenderClosed
	}
	s.w = w
	s.canWrite = true
	return s.drain()
}

// Send encodes a command and queues it.
func (s *Sender) Send(name string, params ...variant.Value) error {
	if s.closed {
		return ErrSenderClosed
	}
	buf, err := EncodeCommand(name, params...)
	if err != nil {
		return err
	}
	s.queue = append(s.queue, buf)
	s.logger.Debug("queued command", "name", name, "bytes", len(buf), "queued", len(s.queue))
	return s.drain()
}

// Drained resumes writing after the transport reported backpressure.
func (s *Sender) Drained() error {
	if s.closed || s.w == nil {
		return nil
	}
	s.canWrite = true
	return s.drain()
}

func (s *Sender) drain() error {
	for s.canWrite && s.w != nil && len(s.queue) > 0 {
		buf := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]

		more, err := s.w.Write(buf)
		if err != nil {
			s.canWrite = false
			return fmt.Errorf("write command: %w", err)
		}
		if !more {
			s.canWrite = false
		}
	}
	return nil
}

// Pending returns the number of commands not yet handed to the transport.
func (s *Sender) Pending() int {
	return len(s.queue)
}

// Close discards queued commands without writing them.
func (s *Sender) Close() {
	if n := len(s.queue); n > 0 {
		s.logger.Debug("discarding queued commands", "count", n)
	}
	s.queue = nil
	s.w = nil
	s.canWrite = false
	s.closed = true
}
