// Package errors provides structured error types for the Godot debugger.
// These errors include hints that tell the caller, usually an LLM driving
// the MCP tools, how to get back on track.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a category of error for programmatic handling
type ErrorCode string

const (
	// Session errors
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeSessionLimitReached ErrorCode = "SESSION_LIMIT_REACHED"
	CodeSessionTerminated   ErrorCode = "SESSION_TERMINATED"
	CodeSessionWaiting      ErrorCode = "SESSION_WAITING"

	// Engine errors
	CodeEngineNotFound     ErrorCode = "ENGINE_NOT_FOUND"
	CodeEngineLaunchFailed ErrorCode = "ENGINE_LAUNCH_FAILED"
	CodeEngineNoConnection ErrorCode = "ENGINE_NO_CONNECTION"
	CodeEngineTimeout      ErrorCode = "ENGINE_TIMEOUT"
	CodeProtocolError      ErrorCode = "PROTOCOL_ERROR"

	// Parameter errors
	CodeMissingParameter ErrorCode = "MISSING_PARAMETER"
	CodeInvalidParameter ErrorCode = "INVALID_PARAMETER"
	CodeInvalidJSON      ErrorCode = "INVALID_JSON"

	// Permission errors
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// Configuration errors
	CodeConfigNotFound ErrorCode = "CONFIG_NOT_FOUND"
	CodeConfigInvalid  ErrorCode = "CONFIG_INVALID"

	// Runtime errors
	CodeNotStopped       ErrorCode = "NOT_STOPPED"
	CodeAlreadyStopped   ErrorCode = "ALREADY_STOPPED"
	CodeBreakpointFailed ErrorCode = "BREAKPOINT_FAILED"
	CodeStepFailed       ErrorCode = "STEP_FAILED"
	CodeUnknownFrame     ErrorCode = "UNKNOWN_FRAME"
	CodeUnknownVariable  ErrorCode = "UNKNOWN_VARIABLE"

	CodeUnknown ErrorCode = "UNKNOWN_ERROR"
)

// DebugError is a structured error type that includes helpful information
// for the caller to understand what went wrong and how to fix it.
type DebugError struct {
	// Code is a machine-readable error category
	Code ErrorCode `json:"code"`

	// Message is a human/LLM-readable description of what went wrong
	Message string `json:"message"`

	// Hint provides actionable guidance on how to fix the error
	Hint string `json:"hint,omitempty"`

	// Details contains additional context (e.g., the invalid value, expected format)
	Details map[string]any `json:"details,omitempty"`

	// Cause is the underlying error, if any
	Cause error `json:"-"`
}

// Error implements the error interface
func (e *DebugError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)

	if e.Hint != "" {
		sb.WriteString(" | Hint: ")
		sb.WriteString(e.Hint)
	}

	return sb.String()
}

// Unwrap returns the underlying error for error chaining
func (e *DebugError) Unwrap() error {
	return e.Cause
}

// WithDetails adds details to the error
func (e *DebugError) WithDetails(key string, value any) *DebugError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *DebugError) WithCause(err error) *DebugError {
	e.Cause = err
	return e
}

// --- Session Errors ---

// SessionNotFound creates an error for when a session ID doesn't exist
func SessionNotFound(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionNotFound,
		Message: fmt.Sprintf("session '%s' not found", sessionID),
		Hint:    "Use debug_list_sessions to see active sessions, or use godot_launch to start a new one.",
		Details: map[string]any{
			"sessionId": sessionID,
		},
	}
}

// SessionLimitReached creates an error when max sessions is reached
func SessionLimitReached(maxSessions int) *DebugError {
	return &DebugError{
		Code:    CodeSessionLimitReached,
		Message: fmt.Sprintf("maximum number of sessions (%d) reached", maxSessions),
		Hint:    "Use debug_disconnect to end an existing session before starting a new one.",
		Details: map[string]any{
			"maxSessions": maxSessions,
		},
	}
}

// SessionTerminated creates an error for a session whose engine is gone
func SessionTerminated(sessionID string) *DebugError {
	return &DebugError{
		Code:    CodeSessionTerminated,
		Message: fmt.Sprintf("session '%s' has terminated", sessionID),
		Hint:    "The game exited or closed the debugger connection. Use debug_disconnect to clean up and godot_launch to run it again.",
		Details: map[string]any{
			"sessionId": sessionID,
		},
	}
}

// SessionWaiting creates an error for an attach session no game has
// connected to yet
func SessionWaiting(sessionID, address string) *DebugError {
	return &DebugError{
		Code:    CodeSessionWaiting,
		Message: fmt.Sprintf("session '%s' is still waiting for the game to connect", sessionID),
		Hint:    fmt.Sprintf("Start the game with --remote-debug %s, or enable 'Deploy with Remote Debug' in the editor.", address),
		Details: map[string]any{
			"sessionId": sessionID,
			"address":   address,
		},
	}
}

// --- Engine Errors ---

// EngineNotFound creates an error when the godot executable cannot be run
func EngineNotFound(executable string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineNotFound,
		Message: fmt.Sprintf("could not run the Godot executable '%s': %v", executable, err),
		Hint:    "Install Godot 3.x and put it on PATH, or set engine.path in the configuration (GODOT_DAP_ENGINE_PATH).",
		Cause:   err,
		Details: map[string]any{
			"executable": executable,
		},
	}
}

// EngineLaunchFailed creates an error when the game did not start
func EngineLaunchFailed(project string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineLaunchFailed,
		Message: fmt.Sprintf("failed to launch project %s: %v", project, err),
		Hint:    "Check that the directory contains project.godot and that the project runs from the editor.",
		Cause:   err,
		Details: map[string]any{
			"project": project,
		},
	}
}

// EngineNoConnection creates an error when the game never connected back
func EngineNoConnection(address string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineNoConnection,
		Message: fmt.Sprintf("the game did not connect to the debugger at %s: %v", address, err),
		Hint:    "The game may have crashed on startup or was started without --remote-debug. Increase engine.connectTimeout for slow imports.",
		Cause:   err,
		Details: map[string]any{
			"address": address,
		},
	}
}

// EngineTimeout creates an error for a request the engine did not answer
func EngineTimeout(operation string, err error) *DebugError {
	return &DebugError{
		Code:    CodeEngineTimeout,
		Message: fmt.Sprintf("%s: the engine did not answer in time", operation),
		Hint:    "The game may be busy or frozen. Use debug_list_sessions to check whether it is still connected.",
		Cause:   err,
		Details: map[string]any{
			"operation": operation,
		},
	}
}

// --- Parameter Errors ---

// MissingParameter creates an error for missing required parameters
func MissingParameter(paramName, description string) *DebugError {
	return &DebugError{
		Code:    CodeMissingParameter,
		Message: fmt.Sprintf("required parameter '%s' is missing", paramName),
		Hint:    description,
		Details: map[string]any{
			"parameter": paramName,
		},
	}
}

// InvalidParameter creates an error for invalid parameter values
func InvalidParameter(paramName string, value any, expected string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidParameter,
		Message: fmt.Sprintf("invalid value for parameter '%s': %v", paramName, value),
		Hint:    fmt.Sprintf("Expected: %s", expected),
		Details: map[string]any{
			"parameter": paramName,
			"value":     value,
			"expected":  expected,
		},
	}
}

// InvalidJSON creates an error for JSON parsing failures
func InvalidJSON(paramName string, err error, example string) *DebugError {
	return &DebugError{
		Code:    CodeInvalidJSON,
		Message: fmt.Sprintf("invalid JSON in parameter '%s': %v", paramName, err),
		Hint:    fmt.Sprintf("Provide valid JSON. Example: %s", example),
		Cause:   err,
		Details: map[string]any{
			"parameter": paramName,
			"example":   example,
		},
	}
}

// --- Permission Errors ---

// PermissionDenied creates an error for permission denied
func PermissionDenied(operation, mode string) *DebugError {
	var hint string
	switch operation {
	case "launch":
		hint = "The server is configured to disallow launching games. Ask the administrator to enable 'allowSpawn' in the configuration."
	case "attach":
		hint = "The server is configured to disallow attaching. Ask the administrator to enable 'allowAttach' in the configuration."
	default:
		hint = fmt.Sprintf("This operation is not allowed in '%s' mode.", mode)
	}

	return &DebugError{
		Code:    CodePermissionDenied,
		Message: fmt.Sprintf("%s is not allowed in current server mode", operation),
		Hint:    hint,
		Details: map[string]any{
			"operation": operation,
			"mode":      mode,
		},
	}
}

// --- Configuration Errors ---

// ConfigNotFound creates an error for missing launch.json configurations
func ConfigNotFound(configName string, availableConfigs []string) *DebugError {
	var hint string
	if len(availableConfigs) > 0 {
		hint = fmt.Sprintf("Available configurations: %s", strings.Join(availableConfigs, ", "))
	} else {
		hint = "No godot configurations found in launch.json. Add one with \"type\": \"godot\" first."
	}

	return &DebugError{
		Code:    CodeConfigNotFound,
		Message: fmt.Sprintf("configuration '%s' not found in launch.json", configName),
		Hint:    hint,
		Details: map[string]any{
			"configName":       configName,
			"availableConfigs": availableConfigs,
		},
	}
}

// ConfigInvalid creates an error for invalid configuration
func ConfigInvalid(configName, reason string) *DebugError {
	return &DebugError{
		Code:    CodeConfigInvalid,
		Message: fmt.Sprintf("configuration '%s' is invalid: %s", configName, reason),
		Hint:    "Check the configuration file for syntax errors and ensure all required fields are present.",
		Details: map[string]any{
			"configName": configName,
			"reason":     reason,
		},
	}
}

// --- Runtime Errors ---

// NotStopped creates an error for inspection or stepping while the game runs
func NotStopped(operation string) *DebugError {
	return &DebugError{
		Code:    CodeNotStopped,
		Message: fmt.Sprintf("%s requires the game to be stopped", operation),
		Hint:    "Set a breakpoint with debug_breakpoints or use debug_pause, then wait for the session status to become 'stopped'.",
		Details: map[string]any{
			"operation": operation,
		},
	}
}

// AlreadyStopped creates an error for pausing a game that is stopped
func AlreadyStopped() *DebugError {
	return &DebugError{
		Code:    CodeAlreadyStopped,
		Message: "the game is already stopped",
		Hint:    "Use debug_snapshot to inspect it or debug_continue to resume.",
	}
}

// BreakpointFailed creates an error for breakpoint failures
func BreakpointFailed(path string, line int, err error) *DebugError {
	return &DebugError{
		Code:    CodeBreakpointFailed,
		Message: fmt.Sprintf("could not set breakpoint at %s:%d: %v", path, line, err),
		Hint:    "Use a path inside the project (or res://...) and a line number of 1 or more.",
		Cause:   err,
		Details: map[string]any{
			"path": path,
			"line": line,
		},
	}
}

// StepFailed creates an error for step failures
func StepFailed(stepType string, err error) *DebugError {
	var hint string
	switch stepType {
	case "over":
		hint = "Step over failed. The game may have terminated. Use debug_list_sessions to check its state."
	case "into":
		hint = "Step into failed. The game may have terminated. Use debug_list_sessions to check its state."
	default:
		hint = "The step operation failed. Use debug_snapshot to check the current state."
	}

	return &DebugError{
		Code:    CodeStepFailed,
		Message: fmt.Sprintf("step %s failed: %v", stepType, err),
		Hint:    hint,
		Cause:   err,
		Details: map[string]any{
			"stepType": stepType,
		},
	}
}

// UnknownFrame creates an error for a stack level outside the current stack
func UnknownFrame(level int) *DebugError {
	return &DebugError{
		Code:    CodeUnknownFrame,
		Message: fmt.Sprintf("no stack frame at level %d", level),
		Hint:    "Use debug_snapshot to list the frames of the current stop; level 0 is the innermost.",
		Details: map[string]any{
			"level": level,
		},
	}
}

// UnknownVariable creates an error for a stale or invalid variables reference
func UnknownVariable(ref int) *DebugError {
	return &DebugError{
		Code:    CodeUnknownVariable,
		Message: fmt.Sprintf("variables reference %d is not valid", ref),
		Hint:    "References are only valid while the game is stopped. Take a new debug_snapshot and use the references it returns.",
		Details: map[string]any{
			"variablesReference": ref,
		},
	}
}

// --- Helper for wrapping generic errors ---

// Wrap wraps a generic error with context
func Wrap(code ErrorCode, message string, hint string, err error) *DebugError {
	return &DebugError{
		Code:    code,
		Message: message,
		Hint:    hint,
		Cause:   err,
	}
}

// FromError creates a DebugError from a generic error, preserving any
// existing structure
func FromError(err error) *DebugError {
	var de *DebugError
	if stderrors.As(err, &de) {
		return de
	}
	return &DebugError{
		Code:    CodeUnknown,
		Message: err.Error(),
		Hint:    "An unexpected error occurred. Please check the error message for details.",
		Cause:   err,
	}
}
