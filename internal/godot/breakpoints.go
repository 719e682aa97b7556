package godot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
)

var ErrInvalidLine = errors.New("breakpoint line must be positive")

// breakpointKey gives a file one spelling whether it was named on disk or as
// an engine path.
func (r *Runtime) breakpointKey(file string) string {
	return NormalizePath(FromEnginePath(r.opts.Project, ToEnginePath(r.opts.Project, file)))
}

func (r *Runtime) addBreakpoint(key, file string, line int) (*Breakpoint, error) {
	for _, bp := range r.breakpoints[key] {
		if bp.Line == line {
			return bp, nil
		}
	}
	r.nextBreakpoint++
	bp := &Breakpoint{
		ID:   r.nextBreakpoint,
		Path: key,
		File: ToEnginePath(r.opts.Project, file),
		Line: line,
	}
	r.breakpoints[key] = append(r.breakpoints[key], bp)
	if err := r.sendBreakpoint(bp, true); err != nil {
		return bp, err
	}
	return bp, nil
}

func (r *Runtime) sendBreakpoint(bp *Breakpoint, set bool) error {
	if r.state == StateTerminated {
		return nil
	}
	if err := r.sender.Breakpoint(bp.File, bp.Line, set); err != nil {
		return fmt.Errorf("send breakpoint %s:%d: %w", bp.File, bp.Line, err)
	}
	return nil
}

// SetBreakpoint adds a line breakpoint. Setting an existing breakpoint
// returns it unchanged. Before the engine connects the command is queued.
func (r *Runtime) SetBreakpoint(ctx context.Context, file string, line int) (Breakpoint, error) {
	if line <= 0 {
		return Breakpoint{}, ErrInvalidLine
	}
	type result struct {
		bp  Breakpoint
		err error
	}
	ch := make(chan result, 1)
	if !r.post(func() {
		bp, err := r.addBreakpoint(r.breakpointKey(file), file, line)
		ch <- result{bp: *bp, err: err}
	}) {
		return Breakpoint{}, ErrClosed
	}
	res, err := await(ctx, r, ch, "set breakpoint")
	if err != nil {
		return Breakpoint{}, err
	}
	return res.bp, res.err
}

// RemoveBreakpoint clears a line breakpoint. Removing an unknown breakpoint
// is not an error.
func (r *Runtime) RemoveBreakpoint(ctx context.Context, file string, line int) error {
	return r.call(ctx, "remove breakpoint", func() error {
		key := r.breakpointKey(file)
		bps := r.breakpoints[key]
		i := slices.IndexFunc(bps, func(bp *Breakpoint) bool { return bp.Line == line })
		if i < 0 {
			return nil
		}
		bp := bps[i]
		bps = slices.Delete(bps, i, i+1)
		if len(bps) == 0 {
			delete(r.breakpoints, key)
		} else {
			r.breakpoints[key] = bps
		}
		return r.sendBreakpoint(bp, false)
	})
}

// SetBreakpoints replaces the breakpoints of one file with lines, the way a
// DAP setBreakpoints request does. Lines that were already set keep their
// ids; the result is in the order of lines.
func (r *Runtime) SetBreakpoints(ctx context.Context, file string, lines []int) ([]Breakpoint, error) {
	for _, line := range lines {
		if line <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidLine, line)
		}
	}
	type result struct {
		bps []Breakpoint
		err error
	}
	ch := make(chan result, 1)
	if !r.post(func() {
		key := r.breakpointKey(file)
		var errs []error
		for _, bp := range r.breakpoints[key] {
			if !slices.Contains(lines, bp.Line) {
				errs = append(errs, r.sendBreakpoint(bp, false))
			}
		}
		old := r.breakpoints[key]
		delete(r.breakpoints, key)

		out := make([]Breakpoint, 0, len(lines))
		for _, line := range lines {
			if i := slices.IndexFunc(old, func(bp *Breakpoint) bool { return bp.Line == line }); i >= 0 {
				if !slices.ContainsFunc(r.breakpoints[key], func(bp *Breakpoint) bool { return bp.Line == line }) {
					r.breakpoints[key] = append(r.breakpoints[key], old[i])
				}
				out = append(out, *old[i])
				continue
			}
			bp, err := r.addBreakpoint(key, file, line)
			errs = append(errs, err)
			out = append(out, *bp)
		}
		ch <- result{bps: out, err: errors.Join(errs...)}
	}) {
		return nil, ErrClosed
	}
	res, err := await(ctx, r, ch, "set breakpoints")
	if err != nil {
		return nil, err
	}
	return res.bps, res.err
}

// Breakpoints lists every breakpoint ordered by file and line.
func (r *Runtime) Breakpoints(ctx context.Context) ([]Breakpoint, error) {
	ch := make(chan []Breakpoint, 1)
	if !r.post(func() { ch <- r.sortedBreakpoints() }) {
		return nil, ErrClosed
	}
	return await(ctx, r, ch, "breakpoints")
}

// EngineBreakpoints formats the breakpoints for the engine's --breakpoints
// flag (res://file.gd:line).
func (r *Runtime) EngineBreakpoints(ctx context.Context) ([]string, error) {
	bps, err := r.Breakpoints(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(bps))
	for i, bp := range bps {
		out[i] = bp.File + ":" + strconv.Itoa(bp.Line)
	}
	return out, nil
}

func (r *Runtime) sortedBreakpoints() []Breakpoint {
	var out []Breakpoint
	for _, bps := range r.breakpoints {
		for _, bp := range bps {
			out = append(out, *bp)
		}
	}
	slices.SortFunc(out, func(a, b Breakpoint) int {
		return cmp.Or(cmp.Compare(a.File, b.File), cmp.Compare(a.Line, b.Line))
	})
	return out
}

// verifyAt marks the breakpoints at frame as confirmed by the engine.
func (r *Runtime) verifyAt(frame StackFrame) {
	for _, bp := range r.breakpoints[r.breakpointKey(frame.File)] {
		if bp.Line != frame.Line || bp.Verified {
			continue
		}
		bp.Verified = true
		r.emit(BreakpointEvent{Reason: "changed", Breakpoint: *bp})
	}
}
