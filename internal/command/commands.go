package command

import (
	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Inbound commands sent by the engine.
const (
	DebugEnter     = "debug_enter"
	DebugExit      = "debug_exit"
	StackDump      = "stack_dump"
	StackFrameVars = "stack_frame_vars"
	Output         = "output"
	Error          = "error"
	Performance    = "performance"
	InspectObject  = "message:inspect_object"
)

// Outbound commands understood by the engine's remote debugger.
const (
	CmdBreak              = "break"
	CmdContinue           = "continue"
	CmdNext               = "next"
	CmdStep               = "step"
	CmdBreakpoint         = "breakpoint"
	CmdSetSkipBreakpoints = "set_skip_breakpoints"
	CmdGetStackDump       = "get_stack_dump"
	CmdGetStackFrameVars  = "get_stack_frame_vars"
	CmdInspectObject      = "inspect_object"
)

// EncodeCommand frames an outbound command. The engine reads each packet as
// one Array whose first element is the command name and whose remaining
// elements are the parameters; no count is sent.
func EncodeCommand(name string, params ...variant.Value) ([]byte, error) {
	arr := make(variant.Array, 0, len(params)+1)
	arr = append(arr, variant.String(name))
	arr = append(arr, params...)
	return variant.EncodePacket(arr)
}

// Break pauses the running game.
func (s *Sender) Break() error { return s.Send(CmdBreak) }

// Continue resumes from a stop.
func (s *Sender) Continue() error { return s.Send(CmdContinue) }

// Next steps over.
func (s *Sender) Next() error { return s.Send(CmdNext) }

// Step steps into.
func (s *Sender) Step() error { return s.Send(CmdStep) }

// Breakpoint sets or clears a breakpoint. file is an engine path (res://...).
func (s *Sender) Breakpoint(file string, line int, set bool) error {
	return s.Send(CmdBreakpoint, variant.String(file), variant.Int(line), variant.Bool(set))
}

func (s *Sender) SetSkipBreakpoints(skip bool) error {
	return s.Send(CmdSetSkipBreakpoints, variant.Bool(skip))
}

func (s *Sender) GetStackDump() error { return s.Send(CmdGetStackDump) }

// GetStackFrameVars asks for the variables of one stack level; the engine
// answers with stack_frame_vars.
func (s *Sender) GetStackFrameVars(level int) error {
	return s.Send(CmdGetStackFrameVars, variant.Int(level))
}

// InspectObject asks for the class and properties of an object id; the engine
// answers with message:inspect_object.
func (s *Sender) InspectObject(id uint64) error {
	return s.Send(CmdInspectObject, variant.Int(int64(id)))
}
