package dapserver

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/go-dap"

	"github.com/ctagard/godot-dap-mcp/internal/config"
	debugerr "github.com/ctagard/godot-dap-mcp/internal/errors"
	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/internal/scope"
	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

var (
	errNoGame         = errors.New("no game yet: send launch or attach first")
	errAlreadyStarted = errors.New("this session already has a game")
	errUnsupported    = errors.New("unsupported request")
)

func (s *session) onInitialize(req *dap.InitializeRequest) {
	s.logger.Debug("initialize", "client", req.Arguments.ClientID, "adapter", req.Arguments.AdapterID)
	s.send(&dap.InitializeResponse{
		Response: s.newResponse(&req.Request),
		Body: dap.Capabilities{
			SupportsConfigurationDoneRequest: true,
			SupportsTerminateRequest:         true,
			SupportTerminateDebuggee:         true,
		},
	})
}

// onLaunch creates the runtime so breakpoints can be collected, then starts
// the game once the client is done configuring. The launch response is sent
// when the game has connected or failed to.
func (s *session) onLaunch(req *dap.LaunchRequest) {
	if !s.srv.config.CanSpawn() {
		s.sendError(&req.Request, denied("launch", s.srv.config.Mode))
		return
	}
	target, err := resolveTarget("launch", req.Arguments)
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	rt, err := godot.NewRuntime(s.srv.runtimeOptions(target.Project))
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	if err := s.start(types.SessionModeLaunch, rt); err != nil {
		s.sendError(&req.Request, err)
		return
	}
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})

	launcher := s.srv.launcher(target)
	s.g.Go(func() error {
		select {
		case <-s.configured:
		case <-s.ctx.Done():
			return nil
		}
		bps, err := rt.EngineBreakpoints(s.ctx)
		if err != nil {
			s.sendError(&req.Request, err)
			return nil
		}
		eng, err := launcher.Launch(s.ctx, godot.LaunchRequest{
			Project:     target.Project,
			Scene:       target.Scene,
			Breakpoints: bps,
			Args:        target.Args,
			Env:         target.Env,
		})
		if err != nil {
			s.sendError(&req.Request, fmt.Errorf("launch %s: %w", target.Project, err))
			s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
			return nil
		}
		if s.serve(eng) {
			s.send(&dap.LaunchResponse{Response: s.newResponse(&req.Request)})
		}
		return nil
	})
}

// onAttach listens for a game started with --remote-debug. The client is
// told where to point the game; the connection is accepted in the
// background.
func (s *session) onAttach(req *dap.AttachRequest) {
	if !s.srv.config.CanAttach() {
		s.sendError(&req.Request, denied("attach", s.srv.config.Mode))
		return
	}
	target, err := resolveTarget("attach", req.Arguments)
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	if target.Port == 0 {
		target.Port = s.srv.config.Engine.Port
	}
	launcher := s.srv.launcher(target)
	ln, err := launcher.Listen()
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	rt, err := godot.NewRuntime(s.srv.runtimeOptions(target.Project))
	if err != nil {
		ln.Close()
		s.sendError(&req.Request, err)
		return
	}
	if err := s.start(types.SessionModeAttach, rt); err != nil {
		ln.Close()
		s.sendError(&req.Request, err)
		return
	}

	addr := ln.Addr().String()
	s.output("console", fmt.Sprintf("Waiting for the game to connect to %s\n", addr))
	s.send(&dap.AttachResponse{Response: s.newResponse(&req.Request)})
	s.send(&dap.InitializedEvent{Event: s.newEvent("initialized")})

	s.g.Go(func() error {
		eng, err := launcher.Attach(s.ctx, ln)
		if err != nil {
			if s.ctx.Err() == nil {
				s.output("stderr", fmt.Sprintf("No game connected to %s: %v\n", addr, err))
				s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
			}
			return nil
		}
		s.serve(eng)
		return nil
	})
}

func (s *session) onConfigurationDone(req *dap.ConfigurationDoneRequest) {
	s.configuredOnce.Do(func() { close(s.configured) })
	s.send(&dap.ConfigurationDoneResponse{Response: s.newResponse(&req.Request)})
}

// onSetBreakpoints replaces the breakpoints of one source. Before a game
// exists the lines are remembered and reported unverified.
func (s *session) onSetBreakpoints(req *dap.SetBreakpointsRequest) {
	if !s.srv.config.CanUseControlTools() {
		s.sendError(&req.Request, denied("setBreakpoints", s.srv.config.Mode))
		return
	}
	source := req.Arguments.Source
	file := source.Path
	if file == "" {
		s.sendError(&req.Request, errors.New("setBreakpoints needs a source path"))
		return
	}
	lines := make([]int, 0, len(req.Arguments.Breakpoints))
	for _, bp := range req.Arguments.Breakpoints {
		lines = append(lines, bp.Line)
	}
	if len(req.Arguments.Breakpoints) == 0 {
		lines = append(lines, req.Arguments.Lines...)
	}

	out := make([]dap.Breakpoint, 0, len(lines))
	s.mu.Lock()
	rt := s.rt
	if rt == nil {
		if len(lines) == 0 {
			delete(s.pending, file)
		} else {
			s.pending[file] = lines
		}
	}
	s.mu.Unlock()

	if rt == nil {
		for _, line := range lines {
			out = append(out, dap.Breakpoint{Line: line, Source: &source})
		}
	} else {
		bps, err := rt.SetBreakpoints(s.ctx, file, lines)
		if err != nil {
			s.sendError(&req.Request, describe("setBreakpoints", err))
			return
		}
		byLine := make(map[int]godot.Breakpoint, len(bps))
		for _, bp := range bps {
			byLine[bp.Line] = bp
		}
		for _, line := range lines {
			bp := toBreakpoint(byLine[line])
			bp.Source = &source
			out = append(out, bp)
		}
	}

	s.send(&dap.SetBreakpointsResponse{
		Response: s.newResponse(&req.Request),
		Body:     dap.SetBreakpointsResponseBody{Breakpoints: out},
	})
}

func (s *session) onThreads(req *dap.ThreadsRequest) {
	s.send(&dap.ThreadsResponse{
		Response: s.newResponse(&req.Request),
		Body: dap.ThreadsResponseBody{
			Threads: []dap.Thread{{Id: threadID, Name: "Main"}},
		},
	})
}

// Stack frame ids are the frame level plus one, so that no frame has id 0.
func (s *session) onStackTrace(req *dap.StackTraceRequest) {
	rt, err := s.runtime()
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	frames, err := rt.StackFrames(s.ctx)
	if err != nil {
		s.sendError(&req.Request, describe("stackTrace", err))
		return
	}

	start := min(max(req.Arguments.StartFrame, 0), len(frames))
	end := len(frames)
	if req.Arguments.Levels > 0 {
		end = min(start+req.Arguments.Levels, end)
	}
	out := make([]dap.StackFrame, 0, end-start)
	for _, f := range frames[start:end] {
		out = append(out, dap.StackFrame{
			Id:     f.Level + 1,
			Name:   f.Function,
			Source: toSource(f.File, f.Path),
			Line:   f.Line,
		})
	}

	s.send(&dap.StackTraceResponse{
		Response: s.newResponse(&req.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: out, TotalFrames: len(frames)},
	})
}

func (s *session) onScopes(req *dap.ScopesRequest) {
	rt, err := s.runtime()
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	scopes, err := rt.Scopes(s.ctx, req.Arguments.FrameId-1)
	if err != nil {
		s.sendError(&req.Request, describe("scopes", err))
		return
	}

	out := make([]dap.Scope, 0, len(scopes))
	for _, sc := range scopes {
		ds := dap.Scope{
			Name:               sc.Name,
			VariablesReference: sc.Handle,
			NamedVariables:     sc.Variables,
			Expensive:          sc.Kind == scope.Globals,
		}
		if sc.Kind == scope.Locals {
			ds.PresentationHint = "locals"
		}
		out = append(out, ds)
	}

	s.send(&dap.ScopesResponse{
		Response: s.newResponse(&req.Request),
		Body:     dap.ScopesResponseBody{Scopes: out},
	})
}

func (s *session) onVariables(req *dap.VariablesRequest) {
	rt, err := s.runtime()
	if err != nil {
		s.sendError(&req.Request, err)
		return
	}
	views, err := rt.Variables(s.ctx, req.Arguments.VariablesReference)
	if err != nil {
		s.sendError(&req.Request, describe("variables", err))
		return
	}

	start := min(max(req.Arguments.Start, 0), len(views))
	end := len(views)
	if req.Arguments.Count > 0 {
		end = min(start+req.Arguments.Count, end)
	}
	out := make([]dap.Variable, 0, end-start)
	for _, v := range views[start:end] {
		out = append(out, toVariable(v))
	}

	s.send(&dap.VariablesResponse{
		Response: s.newResponse(&req.Request),
		Body:     dap.VariablesResponseBody{Variables: out},
	})
}

// control runs one execution control request on the runtime.
func (s *session) control(req *dap.Request, fn func(*godot.Runtime) error) bool {
	if !s.srv.config.CanUseControlTools() {
		s.sendError(req, denied(req.Command, s.srv.config.Mode))
		return false
	}
	rt, err := s.runtime()
	if err != nil {
		s.sendError(req, err)
		return false
	}
	if err := fn(rt); err != nil {
		s.sendError(req, describe(req.Command, err))
		return false
	}
	return true
}

func (s *session) onContinue(req *dap.ContinueRequest) {
	if s.control(&req.Request, func(rt *godot.Runtime) error { return rt.Continue(s.ctx) }) {
		s.send(&dap.ContinueResponse{
			Response: s.newResponse(&req.Request),
			Body:     dap.ContinueResponseBody{AllThreadsContinued: true},
		})
	}
}

func (s *session) onNext(req *dap.NextRequest) {
	if s.control(&req.Request, func(rt *godot.Runtime) error { return rt.Next(s.ctx) }) {
		s.send(&dap.NextResponse{Response: s.newResponse(&req.Request)})
	}
}

func (s *session) onStepIn(req *dap.StepInRequest) {
	if s.control(&req.Request, func(rt *godot.Runtime) error { return rt.Step(s.ctx) }) {
		s.send(&dap.StepInResponse{Response: s.newResponse(&req.Request)})
	}
}

// GDScript cannot step out of a function; the closest is the next line.
func (s *session) onStepOut(req *dap.StepOutRequest) {
	if s.control(&req.Request, func(rt *godot.Runtime) error { return rt.Next(s.ctx) }) {
		s.send(&dap.StepOutResponse{Response: s.newResponse(&req.Request)})
	}
}

// Pausing a game that is already stopped succeeds without doing anything.
func (s *session) onPause(req *dap.PauseRequest) {
	pause := func(rt *godot.Runtime) error {
		if err := rt.Break(s.ctx); err != nil && !errors.Is(err, godot.ErrRunning) {
			return err
		}
		return nil
	}
	if s.control(&req.Request, pause) {
		s.send(&dap.PauseResponse{Response: s.newResponse(&req.Request)})
	}
}

// onTerminate ends the game but keeps the client connected until it sends
// disconnect.
func (s *session) onTerminate(req *dap.TerminateRequest) {
	s.send(&dap.TerminateResponse{Response: s.newResponse(&req.Request)})
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	if !s.stopGame() {
		s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
		return
	}
	s.logger.Info("game terminated by client", "mode", mode)
}

func denied(operation string, mode config.CapabilityMode) error {
	return errors.New(debugerr.PermissionDenied(operation, string(mode)).Message)
}

// describe turns runtime errors into messages for the editor's user.
func describe(op string, err error) error {
	switch {
	case errors.Is(err, godot.ErrNotStopped):
		return errors.New(debugerr.NotStopped(op).Message)
	case errors.Is(err, godot.ErrRunning):
		return errors.New(debugerr.AlreadyStopped().Message)
	case errors.Is(err, godot.ErrTerminated), errors.Is(err, godot.ErrClosed):
		return errors.New("the game is no longer connected")
	case errors.Is(err, godot.ErrUnknownHandle):
		return errors.New("these variables are no longer available; the game has moved on")
	}
	return err
}

func toSource(file, onDisk string) *dap.Source {
	src := &dap.Source{Name: path.Base(file), Path: onDisk}
	if src.Path == "" {
		src.Path = file
	}
	if strings.HasPrefix(src.Path, "res://") {
		src.Origin = "engine"
	}
	return src
}

func toBreakpoint(bp godot.Breakpoint) dap.Breakpoint {
	out := dap.Breakpoint{
		Id:       bp.ID,
		Verified: bp.Verified,
		Line:     bp.Line,
	}
	if bp.File != "" || bp.Path != "" {
		out.Source = toSource(bp.File, bp.Path)
	}
	return out
}

func toVariable(v scope.View) dap.Variable {
	out := dap.Variable{
		Name:         v.Name,
		Value:        v.Value,
		Type:         v.Type,
		EvaluateName: v.Path,
	}
	if v.HasChildren {
		out.VariablesReference = v.Handle
	}
	return out
}
