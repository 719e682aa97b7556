package mcp

import (
	"sync"

	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

const maxOutputLines = 200

// outputLog collects what a session's game printed between two tool calls.
// MCP has no push channel, so the events are kept until a snapshot reads
// them.
type outputLog struct {
	mu      sync.Mutex
	lines   []types.OutputLine
	dropped int
	stop    *godot.StoppedEvent
	err     string
}

// watch drains the runtime's events into l until the stream is closed.
func (l *outputLog) watch(events <-chan godot.Event) {
	for ev := range events {
		l.mu.Lock()
		switch ev := ev.(type) {
		case godot.OutputEvent:
			l.lines = append(l.lines, types.OutputLine{Category: ev.Category, Text: ev.Output})
			if over := len(l.lines) - maxOutputLines; over > 0 {
				l.lines = l.lines[over:]
				l.dropped += over
			}
		case godot.StoppedEvent:
			l.stop = &ev
		case godot.ContinuedEvent:
			l.stop = nil
		case godot.TerminatedEvent:
			l.stop = nil
			if ev.Err != nil {
				l.err = ev.Err.Error()
			}
		}
		l.mu.Unlock()
	}
}

// take returns the collected lines and forgets them.
func (l *outputLog) take() (lines []types.OutputLine, dropped int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lines, dropped = l.lines, l.dropped
	l.lines, l.dropped = nil, 0
	return lines, dropped
}

// lastStop returns the description of the current stop, if any.
func (l *outputLog) lastStop() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stop == nil {
		return "", false
	}
	return l.stop.Description, true
}

// failure returns why the engine connection ended, if it ended badly.
func (l *outputLog) failure() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (s *Server) track(sess *godot.Session) {
	l := &outputLog{}
	s.mu.Lock()
	s.outputs[sess.ID] = l
	s.mu.Unlock()
	go l.watch(sess.Runtime.Events())
}

func (s *Server) output(id string) *outputLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[id]
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	delete(s.outputs, id)
	s.mu.Unlock()
}
