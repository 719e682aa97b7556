// Package types defines the data shapes shared by the MCP tools and the
// session layer of the Godot debugger.
//
// This package provides type definitions for:
//   - SessionStatus: debug session states (initializing, running, stopped, terminated)
//   - Request types: LaunchRequest, AttachRequest, SourceBreakpoint
//   - Info types: SessionInfo, StackFrame, Scope, Variable, Breakpoint
//   - DebugSnapshot: the state of a stopped game in one response
package types

// SessionStatus represents the status of a debug session
type SessionStatus string

const (
	SessionStatusInitializing SessionStatus = "initializing"
	SessionStatusWaiting      SessionStatus = "waiting"
	SessionStatusRunning      SessionStatus = "running"
	SessionStatusStopped      SessionStatus = "stopped"
	SessionStatusTerminated   SessionStatus = "terminated"
)

// SessionMode records how the engine was obtained.
type SessionMode string

const (
	SessionModeLaunch SessionMode = "launch"
	SessionModeAttach SessionMode = "attach"
)

// SourceBreakpoint is a line breakpoint requested by a client. File may be a
// path on disk or an engine path (res://...).
type SourceBreakpoint struct {
	File string `json:"file"`
	Line int    `json:"line"`
}

// LaunchRequest represents a request to run a project under the debugger
type LaunchRequest struct {
	Project     string             `json:"project"`
	Scene       string             `json:"scene,omitempty"`
	Args        []string           `json:"args,omitempty"`
	Env         map[string]string  `json:"env,omitempty"`
	Breakpoints []SourceBreakpoint `json:"breakpoints,omitempty"`
}

// AttachRequest represents a request to wait for an already started game
type AttachRequest struct {
	Project     string             `json:"project,omitempty"`
	Address     string             `json:"address,omitempty"`
	Port        int                `json:"port,omitempty"`
	Breakpoints []SourceBreakpoint `json:"breakpoints,omitempty"`
}

// SessionInfo represents information about a debug session
type SessionInfo struct {
	SessionID   string        `json:"sessionId"`
	Mode        SessionMode   `json:"mode"`
	Status      SessionStatus `json:"status"`
	StopReason  string        `json:"stopReason,omitempty"`
	Project     string        `json:"project,omitempty"`
	Address     string        `json:"address,omitempty"`
	PID         int           `json:"pid,omitempty"`
	Breakpoints int           `json:"breakpoints"`
	FPS         float64       `json:"fps,omitempty"`
	Error       string        `json:"error,omitempty"`
}

// StackFrame represents a stack frame
type StackFrame struct {
	Level    int    `json:"level"`
	Function string `json:"function"`
	File     string `json:"file"`
	Path     string `json:"path,omitempty"`
	Line     int    `json:"line"`
}

// Scope represents a variable scope of one frame
type Scope struct {
	Name               string `json:"name"`
	VariablesReference int    `json:"variablesReference"`
	Variables          int    `json:"variables"`
}

// Variable represents a variable. Children are only filled in up to the
// requested depth; VariablesReference can be used to drill further.
type Variable struct {
	Name               string     `json:"name"`
	Path               string     `json:"path,omitempty"`
	Value              string     `json:"value"`
	Type               string     `json:"type,omitempty"`
	VariablesReference int        `json:"variablesReference"`
	Children           []Variable `json:"children,omitempty"`
}

// Breakpoint represents a breakpoint
type Breakpoint struct {
	ID       int    `json:"id"`
	Verified bool   `json:"verified"`
	File     string `json:"file"`
	Path     string `json:"path,omitempty"`
	Line     int    `json:"line"`
}

// OutputLine is one chunk of game output. Category is "stdout" for print()
// and "stderr" for script errors and warnings.
type OutputLine struct {
	Category string `json:"category"`
	Text     string `json:"text"`
}

// DebugSnapshot represents the state of a game. Stack, Scopes and Variables
// are only filled in while it is stopped.
type DebugSnapshot struct {
	SessionID     string                `json:"sessionId"`
	Status        SessionStatus         `json:"status"`
	StopReason    string                `json:"stopReason,omitempty"`
	Description   string                `json:"description,omitempty"`
	Stack         []StackFrame          `json:"stack,omitempty"`
	Frame         int                   `json:"frame"`
	Scopes        []Scope               `json:"scopes,omitempty"`
	Variables     map[string][]Variable `json:"variables,omitempty"` // scope name -> variables
	Output        []OutputLine          `json:"output,omitempty"`
	DroppedOutput int                   `json:"droppedOutput,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// LaunchConfigInfo summarizes one godot configuration from launch.json
type LaunchConfigInfo struct {
	Name    string `json:"name"`
	Request string `json:"request"`
	Project string `json:"project,omitempty"`
	Scene   string `json:"scene,omitempty"`
	Port    int    `json:"port,omitempty"`
}
