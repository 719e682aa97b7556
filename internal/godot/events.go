package godot

import (
	"github.com/ctagard/godot-dap-mcp/internal/scope"
)

// StackFrame is one frame of the engine's call stack. Level 0 is the
// innermost frame.
type StackFrame struct {
	ID       int    `json:"id"`
	Level    int    `json:"level"`
	Function string `json:"function"`
	// File is the engine path (res://...). Path is the same file on disk,
	// empty when the runtime has no project directory.
	File string `json:"file"`
	Path string `json:"path,omitempty"`
	Line int    `json:"line"`
}

// Breakpoint is a line breakpoint known to the runtime. It becomes verified
// once the engine has stopped on it.
type Breakpoint struct {
	ID       int    `json:"id"`
	Path     string `json:"path"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Verified bool   `json:"verified"`
}

// Scope summarizes one variable scope of a stack frame.
type Scope struct {
	Name      string     `json:"name"`
	Kind      scope.Kind `json:"-"`
	Handle    int        `json:"handle"`
	Variables int        `json:"variables"`
}

// Stop reasons reported in StoppedEvent.
const (
	ReasonBreakpoint = "breakpoint"
	ReasonStep       = "step"
	ReasonPause      = "pause"
	ReasonException  = "exception"
)

// Event is delivered on Runtime.Events. The concrete types are listed below.
type Event interface {
	isEvent()
}

// StoppedEvent is sent when the engine has entered the debugger and the
// stack is known.
type StoppedEvent struct {
	Reason      string
	Description string
	// CanContinue is false when the stop was caused by a script error the
	// engine cannot resume from.
	CanContinue bool
	Frames      []StackFrame
}

// ContinuedEvent is sent when the engine leaves the debugger.
type ContinuedEvent struct{}

// OutputEvent carries text printed by the game. Category is "stdout" for
// print output and "stderr" for errors and warnings.
type OutputEvent struct {
	Category string
	Output   string
}

// BreakpointEvent reports a change to a breakpoint, such as verification.
type BreakpointEvent struct {
	Reason     string
	Breakpoint Breakpoint
}

// TerminatedEvent is the last event of a runtime. Err is nil when the engine
// closed the connection normally.
type TerminatedEvent struct {
	Err error
}

func (StoppedEvent) isEvent()    {}
func (ContinuedEvent) isEvent()  {}
func (OutputEvent) isEvent()     {}
func (BreakpointEvent) isEvent() {}
func (TerminatedEvent) isEvent() {}
