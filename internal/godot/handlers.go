package godot

import (
	"fmt"
	"strings"

	"github.com/ctagard/godot-dap-mcp/internal/command"
	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

// Property usage flags that mark inspector grouping rows rather than values.
const (
	usageGroup    = 128
	usageCategory = 256
)

// engineBreakpointReason is the debug_enter reason for a breakpoint stop.
const engineBreakpointReason = "Breakpoint"

// Periodic engine traffic the debugger has no use for.
var ignoredCommands = []string{
	"message:scene_tree",
	"message:video_mem",
	"message:click_ctrl",
	"message:inspect_scene",
	"profile_sig",
	"profile_frame",
	"profile_total",
	"network_profile",
	"network_bandwidth",
	"visual_profile_frame",
}

type frameVars struct {
	locals, members, globals []variant.Value
}

func (r *Runtime) commands() []command.Command {
	cmds := []command.Command{
		command.SelfDescribing(command.DebugEnter, r.onDebugEnter),
		command.SelfDescribing(command.DebugExit, r.onDebugExit),
		command.SelfDescribing(command.StackDump, r.onStackDump),
		command.SelfDescribing(command.StackFrameVars, r.onStackFrameVars),
		command.SelfDescribing(command.Output, r.onOutput),
		command.SelfDescribing(command.Error, r.onError),
		command.SelfDescribing(command.Performance, r.onPerformance),
		command.SelfDescribing(command.InspectObject, r.onInspectObject),
	}
	for _, name := range ignoredCommands {
		cmds = append(cmds, command.SelfDescribing(name, nil))
	}
	return cmds
}

func param(params []variant.Value, i int) variant.Value {
	if i < len(params) {
		return params[i]
	}
	return variant.Nil{}
}

// debug_enter: [count, can_continue, reason]
func (r *Runtime) onDebugEnter(params []variant.Value) {
	canContinue := variant.AsBool(param(params, 1))
	reason, _ := variant.AsString(param(params, 2))

	r.state = StateStopped
	r.frames = nil
	r.scopes.Reset()

	stop := &StoppedEvent{
		Reason:      r.stopReason(reason, canContinue),
		Description: reason,
		CanContinue: canContinue,
	}
	r.lastAction = ""
	r.lastStop = stop.Reason
	r.logger.Debug("engine stopped", "reason", reason, "canContinue", canContinue)

	if reason != engineBreakpointReason && !canContinue {
		r.emit(*stop)
		return
	}
	r.pendingStop = stop
	if err := r.sender.GetStackDump(); err != nil {
		r.logger.Error("request stack dump", "error", err)
		r.pendingStop = nil
		r.emit(*stop)
	}
}

func (r *Runtime) stopReason(reason string, canContinue bool) string {
	switch {
	case r.lastAction == ReasonStep:
		return ReasonStep
	case r.lastAction == ReasonPause:
		return ReasonPause
	case reason == engineBreakpointReason || (canContinue && reason == ""):
		return ReasonBreakpoint
	}
	return ReasonException
}

// debug_exit: [0]
func (r *Runtime) onDebugExit([]variant.Value) {
	if r.state == StateTerminated {
		return
	}
	r.state = StateRunning
	r.frames = nil
	r.pendingStop = nil
	r.lastStop = ""
	r.scopes.Reset()
	r.emit(ContinuedEvent{})
}

// stack_dump: [count, {file, line, function, id}...]
func (r *Runtime) onStackDump(params []variant.Value) {
	frames := make([]StackFrame, 0, max(len(params)-1, 0))
	for i, v := range params[min(1, len(params)):] {
		d, ok := v.(variant.Dictionary)
		if !ok {
			r.logger.Warn("malformed stack frame", "level", i, "type", v.Type())
			continue
		}
		f := StackFrame{Level: len(frames)}
		if v, ok := d.Get("file"); ok {
			f.File, _ = variant.AsString(v)
		}
		if v, ok := d.Get("function"); ok {
			f.Function, _ = variant.AsString(v)
		}
		if v, ok := d.Get("line"); ok {
			n, _ := variant.AsInt(v)
			f.Line = int(n)
		}
		if v, ok := d.Get("id"); ok {
			n, _ := variant.AsInt(v)
			f.ID = int(n)
		}
		if r.opts.Project != "" && strings.HasPrefix(f.File, resPrefix) {
			f.Path = FromEnginePath(r.opts.Project, f.File)
		}
		frames = append(frames, f)
	}

	r.frames = frames
	r.scopes.Reset()

	stop := r.pendingStop
	r.pendingStop = nil
	if stop == nil {
		return
	}
	stop.Frames = frames
	r.emit(*stop)
	if stop.Reason == ReasonBreakpoint && len(frames) > 0 {
		r.verifyAt(frames[0])
	}
}

// stack_frame_vars: [count, nLocals, pairs..., nMembers, pairs..., nGlobals, pairs...]
// Answers arrive in request order.
func (r *Runtime) onStackFrameVars(params []variant.Value) {
	vars, err := splitFrameVars(params[min(1, len(params)):])
	if err != nil {
		r.logger.Warn("malformed stack_frame_vars", "error", err)
	}
	if len(r.varsRequests) == 0 {
		r.logger.Debug("unsolicited stack_frame_vars")
		return
	}
	req := r.varsRequests[0]
	r.varsRequests = r.varsRequests[1:]
	if req.level >= len(r.frames) {
		r.logger.Debug("stack_frame_vars for a stale stop", "level", req.level)
		return
	}
	req.done(vars)
}

func splitFrameVars(vs []variant.Value) (frameVars, error) {
	var out frameVars
	lists := []*[]variant.Value{&out.locals, &out.members, &out.globals}
	off := 0
	for _, list := range lists {
		if off >= len(vs) {
			return out, fmt.Errorf("missing scope count at %d", off)
		}
		n, ok := variant.AsInt(vs[off])
		if !ok || n < 0 {
			return out, fmt.Errorf("bad scope count %s at %d", variant.Render(vs[off]), off)
		}
		off++
		end := off + int(n)*2
		if end > len(vs) {
			*list = vs[off:len(vs):len(vs)]
			return out, fmt.Errorf("scope wants %d values, %d left", n*2, len(vs)-off)
		}
		*list = vs[off:end:end]
		off = end
	}
	return out, nil
}

// output: [count, lines...]
func (r *Runtime) onOutput(params []variant.Value) {
	for _, v := range params[min(1, len(params)):] {
		s, ok := variant.AsString(v)
		if !ok {
			s = variant.Render(v)
		}
		r.emit(OutputEvent{Category: "stdout", Output: s + "\n"})
	}
}

// error: [count, [hr, min, sec, msec, func, file, line, error, descr, warning], nFrames, frames...]
func (r *Runtime) onError(params []variant.Value) {
	data, ok := param(params, 1).(variant.Array)
	if !ok {
		r.logger.Warn("malformed error report", "type", param(params, 1).Type())
		return
	}
	str := func(i int) string {
		s, _ := variant.AsString(param(data, i))
		return s
	}
	line, _ := variant.AsInt(param(data, 6))
	msg := str(8)
	if msg == "" {
		msg = str(7)
	}
	kind := "ERROR"
	if variant.AsBool(param(data, 9)) {
		kind = "WARNING"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s: %s\n", kind, str(4), msg)
	fmt.Fprintf(&b, "   At: %s:%d\n", str(5), line)
	for _, v := range params[min(3, len(params)):] {
		fmt.Fprintf(&b, "   %s\n", errorFrame(v))
	}
	r.emit(OutputEvent{Category: "stderr", Output: b.String()})
}

func errorFrame(v variant.Value) string {
	d, ok := v.(variant.Dictionary)
	if !ok {
		return variant.Render(v)
	}
	file, _ := d.Get("file")
	fn, _ := d.Get("function")
	line, _ := d.Get("line")
	f, _ := variant.AsString(file)
	name, _ := variant.AsString(fn)
	n, _ := variant.AsInt(line)
	return fmt.Sprintf("%s:%d @ %s()", f, n, name)
}

// performance: [1, [monitor values...]]. Only the frame rate is kept.
func (r *Runtime) onPerformance(params []variant.Value) {
	arr, ok := param(params, 1).(variant.Array)
	if !ok || len(arr) == 0 {
		return
	}
	switch v := arr[0].(type) {
	case variant.Float:
		r.fps = float64(v)
	case variant.Int:
		r.fps = float64(v)
	}
}

// message:inspect_object: [3, id, class, [[name, type, hint, hint_string, usage, value]...]]
func (r *Runtime) onInspectObject(params []variant.Value) {
	id, ok := variant.AsInt(param(params, 1))
	if !ok {
		r.logger.Warn("inspect result without an object id")
		return
	}
	class, _ := variant.AsString(param(params, 2))
	props, _ := param(params, 3).(variant.Array)

	obj := variant.Object{Class: class}
	for _, p := range props {
		row, ok := p.(variant.Array)
		if !ok || len(row) < 6 {
			continue
		}
		usage, _ := variant.AsInt(row[4])
		if usage&(usageGroup|usageCategory) != 0 {
			continue
		}
		name, _ := variant.AsString(row[0])
		obj.Properties = append(obj.Properties, variant.Property{Name: name, Value: row[5]})
	}
	r.scopes.ResolveObject(uint64(id), obj)
}
