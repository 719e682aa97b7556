package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os/exec"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/godot-dap-mcp/internal/errors"
	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/internal/launchconfig"
	"github.com/ctagard/godot-dap-mcp/internal/scope"
	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

// Session Management Handlers

func (s *Server) handleGodotLaunch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanSpawn() {
		return mcp.NewToolResultError(errors.PermissionDenied("launch", string(s.config.Mode)).Error()), nil
	}

	bps, derr := parseBreakpoints(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	var req types.LaunchRequest
	if configName := request.GetString("configName", ""); configName != "" {
		resolved, derr := loadConfiguration(request, configName)
		if derr != nil {
			return mcp.NewToolResultError(derr.Error()), nil
		}
		if resolved.Request != "launch" {
			return mcp.NewToolResultError(errors.ConfigInvalid(configName,
				"it is an attach configuration; use godot_attach").Error()), nil
		}
		req = resolved.LaunchRequest(bps)
	} else {
		project, err := request.RequireString("project")
		if err != nil || project == "" {
			return mcp.NewToolResultError(errors.MissingParameter("project",
				"Specify the directory containing project.godot, or use configName to load from launch.json.").Error()), nil
		}
		req = types.LaunchRequest{
			Project:     project,
			Scene:       request.GetString("scene", ""),
			Breakpoints: bps,
		}
		if raw := request.GetString("args", ""); raw != "" {
			if err := json.Unmarshal([]byte(raw), &req.Args); err != nil {
				return mcp.NewToolResultError(errors.InvalidJSON("args", err, `["--verbose", "--fixed-fps", "60"]`).Error()), nil
			}
		}
	}

	sess, err := s.sessions.Launch(ctx, req)
	if err != nil {
		return mcp.NewToolResultError(s.launchError(req.Project, err).Error()), nil
	}
	s.track(sess)
	s.logger.Info("session launched", "session", sess.ID, "project", req.Project)

	return jsonResult(sess.Info(ctx))
}

func (s *Server) handleGodotAttach(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if !s.config.CanAttach() {
		return mcp.NewToolResultError(errors.PermissionDenied("attach", string(s.config.Mode)).Error()), nil
	}

	bps, derr := parseBreakpoints(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	var req types.AttachRequest
	if configName := request.GetString("configName", ""); configName != "" {
		resolved, derr := loadConfiguration(request, configName)
		if derr != nil {
			return mcp.NewToolResultError(derr.Error()), nil
		}
		req = resolved.AttachRequest(bps)
	} else {
		req = types.AttachRequest{
			Project:     request.GetString("project", ""),
			Address:     request.GetString("address", ""),
			Port:        request.GetInt("port", 0),
			Breakpoints: bps,
		}
	}
	if req.Port < 0 || req.Port > 65535 {
		return mcp.NewToolResultError(errors.InvalidParameter("port", req.Port, "a TCP port between 1 and 65535").Error()), nil
	}
	if req.Port == 0 {
		req.Port = s.config.Engine.Port
	}

	sess, err := s.sessions.Attach(ctx, req)
	if err != nil {
		if stderrors.Is(err, godot.ErrSessionLimitReached) {
			return mcp.NewToolResultError(errors.SessionLimitReached(s.config.MaxSessions).Error()), nil
		}
		return mcp.NewToolResultError(errors.Wrap(errors.CodeEngineNoConnection,
			fmt.Sprintf("cannot listen for the game: %v", err),
			"Another debugger (or the Godot editor) may already use this port. Pick another port and start the game with a matching --remote-debug.",
			err).Error()), nil
	}
	s.track(sess)

	info := sess.Info(ctx)
	return jsonResult(map[string]any{
		"session": info,
		"hint":    fmt.Sprintf("Start the game with: godot --path <project> --remote-debug %s", info.Address),
	})
}

func (s *Server) handleDebugDisconnect(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("sessionId", "Use debug_list_sessions to find it.").Error()), nil
	}

	if err := s.sessions.TerminateSession(sessionID); err != nil {
		return mcp.NewToolResultError(errors.SessionNotFound(sessionID).Error()), nil
	}
	s.untrack(sessionID)

	return jsonResult(map[string]any{
		"status":    "disconnected",
		"sessionId": sessionID,
	})
}

func (s *Server) handleDebugListSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions := s.sessions.ListSessions()
	infos := make([]types.SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info(ctx))
	}
	return jsonResult(map[string]any{
		"sessions": infos,
	})
}

func (s *Server) handleDebugListConfigs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	lj, path, derr := loadLaunchJSON(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	var warnings []string
	for _, cfg := range launchconfig.GodotConfigurations(lj) {
		if err := launchconfig.ValidateConfiguration(&cfg); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", cfg.Name, err))
		}
	}

	result := map[string]any{
		"configPath":     path,
		"configurations": launchconfig.ListConfigurations(lj),
	}
	if len(warnings) > 0 {
		result["validationWarnings"] = warnings
	}
	return jsonResult(result)
}

// Inspection Handlers

func (s *Server) handleDebugSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	maxStackDepth := request.GetInt("maxStackDepth", 10)
	level := request.GetInt("frame", 0)
	expand := request.GetBool("expandVariables", true)
	includeGlobals := request.GetBool("includeGlobals", false)
	depth := request.GetInt("depth", 1)

	info := sess.Info(ctx)
	snap := types.DebugSnapshot{
		SessionID:  sess.ID,
		Status:     info.Status,
		StopReason: info.StopReason,
		Frame:      level,
		Error:      info.Error,
	}
	if out := s.output(sess.ID); out != nil {
		snap.Output, snap.DroppedOutput = out.take()
		if desc, ok := out.lastStop(); ok {
			snap.Description = desc
		}
		if snap.Error == "" {
			snap.Error = out.failure()
		}
	}
	if info.Status != types.SessionStatusStopped {
		return jsonResult(snap)
	}

	frames, err := sess.Runtime.StackFrames(ctx)
	if err != nil {
		return mcp.NewToolResultError(runtimeError(sess.ID, "debug_snapshot", err).Error()), nil
	}
	for i, f := range frames {
		if maxStackDepth > 0 && i >= maxStackDepth {
			break
		}
		snap.Stack = append(snap.Stack, types.StackFrame{
			Level:    f.Level,
			Function: f.Function,
			File:     f.File,
			Path:     f.Path,
			Line:     f.Line,
		})
	}
	if len(frames) == 0 {
		return jsonResult(snap)
	}
	if level < 0 || level >= len(frames) {
		return mcp.NewToolResultError(errors.UnknownFrame(level).Error()), nil
	}

	scopes, err := sess.Runtime.Scopes(ctx, level)
	if err != nil {
		return mcp.NewToolResultError(runtimeError(sess.ID, "debug_snapshot", err).Error()), nil
	}
	for _, sc := range scopes {
		snap.Scopes = append(snap.Scopes, types.Scope{
			Name:               sc.Name,
			VariablesReference: sc.Handle,
			Variables:          sc.Variables,
		})
		if !expand || (sc.Kind == scope.Globals && !includeGlobals) {
			continue
		}
		vars, err := s.variables(ctx, sess.Runtime, sc.Handle, depth)
		if err != nil {
			return mcp.NewToolResultError(runtimeError(sess.ID, "debug_snapshot", err).Error()), nil
		}
		if snap.Variables == nil {
			snap.Variables = make(map[string][]types.Variable)
		}
		snap.Variables[sc.Name] = vars
	}

	return jsonResult(snap)
}

func (s *Server) handleDebugVariables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	ref, err := request.RequireInt("variablesReference")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("variablesReference",
			"Use a variablesReference from debug_snapshot.").Error()), nil
	}
	if ref <= 0 {
		return mcp.NewToolResultError(errors.UnknownVariable(ref).Error()), nil
	}

	vars, err := s.variables(ctx, sess.Runtime, ref, request.GetInt("depth", 0))
	if err != nil {
		return mcp.NewToolResultError(runtimeError(sess.ID, "debug_variables", err).WithDetails("variablesReference", ref).Error()), nil
	}
	return jsonResult(map[string]any{
		"variablesReference": ref,
		"variables":          vars,
	})
}

// variables lists handle and expands children depth levels further.
func (s *Server) variables(ctx context.Context, rt *godot.Runtime, handle, depth int) ([]types.Variable, error) {
	views, err := rt.Variables(ctx, handle)
	if err != nil {
		return nil, err
	}
	out := make([]types.Variable, 0, len(views))
	for _, v := range views {
		tv := toVariable(v)
		if v.HasChildren && depth > 0 {
			tv.Children, err = s.variables(ctx, rt, v.Handle, depth-1)
			if err != nil {
				return nil, err
			}
		}
		out = append(out, tv)
	}
	return out, nil
}

func toVariable(v scope.View) types.Variable {
	tv := types.Variable{
		Name:  v.Name,
		Path:  v.Path,
		Value: v.Value,
		Type:  v.Type,
	}
	if v.HasChildren {
		tv.VariablesReference = v.Handle
	}
	return tv
}

// Control Handlers

func (s *Server) handleDebugBreakpoints(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	path := request.GetString("path", "")
	args := request.GetArguments()
	_, hasSkip := args["skipAll"]
	if path == "" && !hasSkip {
		return mcp.NewToolResultError(errors.MissingParameter("path",
			"Give the script path (res://player.gd) with lines, or skipAll to toggle every breakpoint.").Error()), nil
	}

	result := map[string]any{}
	if hasSkip {
		skip := request.GetBool("skipAll", false)
		if err := sess.Runtime.SetSkipBreakpoints(ctx, skip); err != nil {
			return mcp.NewToolResultError(runtimeError(sess.ID, "debug_breakpoints", err).Error()), nil
		}
		result["skipAll"] = skip
	}

	if path != "" {
		var lines []int
		if raw := request.GetString("lines", "[]"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &lines); err != nil {
				return mcp.NewToolResultError(errors.InvalidJSON("lines", err, "[12, 30]").Error()), nil
			}
		}
		set, err := sess.Runtime.SetBreakpoints(ctx, path, lines)
		if err != nil {
			if stderrors.Is(err, godot.ErrInvalidLine) {
				return mcp.NewToolResultError(errors.InvalidParameter("lines", lines, "line numbers of 1 or more").Error()), nil
			}
			return mcp.NewToolResultError(runtimeError(sess.ID, "debug_breakpoints", err).Error()), nil
		}
		out := make([]types.Breakpoint, 0, len(set))
		for _, bp := range set {
			out = append(out, toBreakpoint(bp))
		}
		result["path"] = path
		result["breakpoints"] = out
	}

	return jsonResult(result)
}

func toBreakpoint(bp godot.Breakpoint) types.Breakpoint {
	return types.Breakpoint{
		ID:       bp.ID,
		Verified: bp.Verified,
		File:     bp.File,
		Path:     bp.Path,
		Line:     bp.Line,
	}
}

func (s *Server) handleDebugContinue(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}
	if err := sess.Runtime.Continue(ctx); err != nil {
		return mcp.NewToolResultError(runtimeError(sess.ID, "debug_continue", err).Error()), nil
	}
	return jsonResult(map[string]any{
		"status": "continued",
	})
}

func (s *Server) handleDebugStep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}

	stepType, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(errors.MissingParameter("type", "Use 'over', 'into' or 'out'.").Error()), nil
	}

	switch stepType {
	case "over", "out":
		err = sess.Runtime.Next(ctx)
	case "into":
		err = sess.Runtime.Step(ctx)
	default:
		return mcp.NewToolResultError(errors.InvalidParameter("type", stepType, "'over', 'into' or 'out'").Error()), nil
	}
	if err != nil {
		if stderrors.Is(err, godot.ErrNotStopped) {
			return mcp.NewToolResultError(errors.NotStopped("debug_step").Error()), nil
		}
		return mcp.NewToolResultError(errors.StepFailed(stepType, err).Error()), nil
	}

	return jsonResult(map[string]any{
		"status": "stepped",
		"type":   stepType,
	})
}

func (s *Server) handleDebugPause(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sess, derr := s.getSession(request)
	if derr != nil {
		return mcp.NewToolResultError(derr.Error()), nil
	}
	if err := sess.Runtime.Break(ctx); err != nil {
		return mcp.NewToolResultError(runtimeError(sess.ID, "debug_pause", err).Error()), nil
	}
	return jsonResult(map[string]any{
		"status": "pausing",
	})
}

// Helpers

func (s *Server) getSession(request mcp.CallToolRequest) (*godot.Session, *errors.DebugError) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return nil, errors.MissingParameter("sessionId", "Use debug_list_sessions to find it, or godot_launch to start a session.")
	}
	sess, err := s.sessions.GetSession(sessionID)
	if err != nil {
		return nil, errors.SessionNotFound(sessionID)
	}
	return sess, nil
}

// runtimeError turns an error from a session's runtime into one that tells
// the caller what to do next.
func runtimeError(sessionID, op string, err error) *errors.DebugError {
	switch {
	case stderrors.Is(err, godot.ErrNotStopped):
		return errors.NotStopped(op).WithCause(err)
	case stderrors.Is(err, godot.ErrRunning):
		return errors.AlreadyStopped().WithCause(err)
	case stderrors.Is(err, godot.ErrTerminated), stderrors.Is(err, godot.ErrClosed):
		return errors.SessionTerminated(sessionID).WithCause(err)
	case stderrors.Is(err, godot.ErrUnknownFrame):
		return errors.Wrap(errors.CodeUnknownFrame, err.Error(),
			"Use debug_snapshot to list the frames of the current stop; level 0 is the innermost.", err)
	case stderrors.Is(err, godot.ErrUnknownHandle):
		return errors.Wrap(errors.CodeUnknownVariable, err.Error(),
			"References are only valid while the game is stopped. Take a new debug_snapshot and use the references it returns.", err)
	case stderrors.Is(err, godot.ErrTimeout):
		return errors.EngineTimeout(op, err)
	}
	return errors.FromError(err)
}

func (s *Server) launchError(project string, err error) *errors.DebugError {
	switch {
	case stderrors.Is(err, godot.ErrSessionLimitReached):
		return errors.SessionLimitReached(s.config.MaxSessions)
	case stderrors.Is(err, exec.ErrNotFound):
		return errors.EngineNotFound(s.config.Engine.Path, err)
	case stderrors.Is(err, godot.ErrEngineExited), stderrors.Is(err, context.DeadlineExceeded):
		return errors.EngineNoConnection(s.config.Engine.Address, err)
	}
	return errors.EngineLaunchFailed(project, err)
}

func parseBreakpoints(request mcp.CallToolRequest) ([]types.SourceBreakpoint, *errors.DebugError) {
	raw := request.GetString("breakpoints", "")
	if raw == "" {
		return nil, nil
	}
	var bps []types.SourceBreakpoint
	if err := json.Unmarshal([]byte(raw), &bps); err != nil {
		return nil, errors.InvalidJSON("breakpoints", err, `[{"file": "res://player.gd", "line": 12}]`)
	}
	for _, bp := range bps {
		if bp.File == "" || bp.Line < 1 {
			return nil, errors.InvalidParameter("breakpoints", bp, "every breakpoint needs a file and a line of 1 or more")
		}
	}
	return bps, nil
}

func loadLaunchJSON(request mcp.CallToolRequest) (*launchconfig.LaunchJSON, string, *errors.DebugError) {
	configPath := request.GetString("configPath", "")
	if configPath != "" {
		lj, err := launchconfig.LoadFromPath(configPath)
		if err != nil {
			return nil, "", errors.Wrap(errors.CodeConfigInvalid, err.Error(), "Check the configPath and the JSON syntax of the file.", err)
		}
		return lj, configPath, nil
	}
	lj, path, err := launchconfig.LoadAndDiscover(request.GetString("workspace", ""))
	if err != nil {
		return nil, "", errors.Wrap(errors.CodeConfigNotFound, err.Error(), "Pass workspace (the folder holding .vscode) or configPath.", err)
	}
	return lj, path, nil
}

func loadConfiguration(request mcp.CallToolRequest, name string) (*launchconfig.ResolvedConfiguration, *errors.DebugError) {
	lj, path, derr := loadLaunchJSON(request)
	if derr != nil {
		return nil, derr
	}
	cfg, err := launchconfig.FindConfiguration(lj, name)
	if err != nil {
		return nil, errors.ConfigNotFound(name, launchconfig.ListConfigurationNames(lj))
	}
	workspace := request.GetString("workspace", "")
	if workspace == "" {
		workspace = launchconfig.GetWorkspaceFolder(path)
	}
	resolved, err := launchconfig.ResolveConfiguration(cfg, &launchconfig.ResolutionContext{WorkspaceFolder: workspace})
	if err != nil {
		return nil, errors.ConfigInvalid(name, err.Error())
	}
	return resolved, nil
}

func jsonResult(data any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
