// Package godot drives a debug session with a Godot 3 engine over its remote
// debugger connection.
//
// The engine connects to us: the debugger listens on a TCP port and the game
// is started with --remote-debug pointing at it. A Runtime owns everything
// about one such connection. All of its state lives on a single event-loop
// goroutine; the exported methods post work to that loop and wait for the
// result, so they are safe to call from any goroutine.
package godot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/godot-dap-mcp/internal/command"
	"github.com/ctagard/godot-dap-mcp/internal/scope"
	"github.com/ctagard/godot-dap-mcp/internal/variant"
)

var (
	ErrClosed        = errors.New("runtime closed")
	ErrTerminated    = errors.New("engine session terminated")
	ErrNotStopped    = errors.New("engine is not stopped")
	ErrRunning       = errors.New("engine is already stopped")
	ErrConnected     = errors.New("engine already connected")
	ErrUnknownFrame  = errors.New("unknown stack frame")
	ErrUnknownHandle = errors.New("unknown variables handle")
	ErrTimeout       = errors.New("timed out waiting for the engine")
)

const (
	DefaultInspectTimeout = 3 * time.Second
	DefaultRequestTimeout = 10 * time.Second
	defaultEventBuffer    = 256
)

// Options configure a Runtime.
type Options struct {
	// Project is the directory holding project.godot. It maps engine paths to
	// files on disk; without it frames only carry res:// paths.
	Project string

	// InspectTimeout bounds each object inspect round trip.
	InspectTimeout time.Duration
	// RequestTimeout bounds calls that wait for an answer from the engine.
	RequestTimeout time.Duration

	WriteHighWater int
	EventBuffer    int
	Logger         *log.Logger
}

// State is the execution state of the engine as seen by the debugger.
type State int

const (
	StateWaiting State = iota
	StateRunning
	StateStopped
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTerminated:
		return "terminated"
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Status is a point-in-time summary of a runtime.
type Status struct {
	State       State   `json:"-"`
	StateName   string  `json:"state"`
	Reason      string  `json:"reason,omitempty"`
	Frames      int     `json:"frames"`
	Breakpoints int     `json:"breakpoints"`
	Queued      int     `json:"queuedCommands"`
	FPS         float64 `json:"fps,omitempty"`
}

type varsRequest struct {
	level int
	done  func(vars frameVars)
}

// Runtime is one debug session with one engine connection.
type Runtime struct {
	opts   Options
	logger *log.Logger

	ops      chan func()
	events   chan Event
	ctx      context.Context
	cancel   context.CancelFunc
	loopDone chan struct{}

	// Everything below is owned by the loop goroutine.
	dispatcher     *command.Dispatcher
	sender         *command.Sender
	scopes         *scope.Set
	state          State
	connected      bool
	breakpoints    map[string][]*Breakpoint
	nextBreakpoint int
	frames         []StackFrame
	pendingStop    *StoppedEvent
	lastStop       string
	lastAction     string
	varsRequests   []varsRequest
	fps            float64

	// held are the fail paths of calls waiting on an engine answer.
	held     map[int]func(error)
	nextHeld int
}

// NewRuntime creates a runtime and starts its event loop. Breakpoints may be
// set before the engine connects; they are sent once it does.
func NewRuntime(opts Options) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.InspectTimeout <= 0 {
		opts.InspectTimeout = DefaultInspectTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runtime{
		opts:        opts,
		logger:      opts.Logger.WithPrefix("godot"),
		ops:         make(chan func(), 64),
		events:      make(chan Event, opts.EventBuffer),
		ctx:         ctx,
		cancel:      cancel,
		loopDone:    make(chan struct{}),
		breakpoints: make(map[string][]*Breakpoint),
		held:        make(map[int]func(error)),
	}
	r.dispatcher = command.NewDispatcher(r.logger)
	r.sender = command.NewSender(r.logger)
	r.scopes = scope.NewSet(r.inspect)

	if err := r.dispatcher.Register(r.commands()...); err != nil {
		cancel()
		return nil, fmt.Errorf("register engine commands: %w", err)
	}

	go r.loop()
	return r, nil
}

func (r *Runtime) loop() {
	defer close(r.loopDone)
	defer r.shutdown()

	for {
		select {
		case <-r.ctx.Done():
			return
		case fn := <-r.ops:
			fn()
		}
	}
}

// post queues fn on the event loop. It reports false once the runtime is
// closed. It must not be called from the loop itself.
func (r *Runtime) post(fn func()) bool {
	select {
	case r.ops <- fn:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// await waits for a result produced on the loop, bounded by the request
// timeout, ctx and the runtime's lifetime.
func await[T any](ctx context.Context, r *Runtime, ch <-chan T, op string) (T, error) {
	timer := time.NewTimer(r.opts.RequestTimeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, fmt.Errorf("%s: %w after %s", op, ErrTimeout, r.opts.RequestTimeout)
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-r.ctx.Done():
		return zero, ErrClosed
	}
}

// call runs fn on the loop and returns its error.
func (r *Runtime) call(ctx context.Context, op string, fn func() error) error {
	ch := make(chan error, 1)
	if !r.post(func() { ch <- fn() }) {
		return ErrClosed
	}
	err, waitErr := await(ctx, r, ch, op)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// hold registers fail as the way to end a call that waits on the engine
// when the session terminates first. release must run once the call has
// its answer. Both run on the loop.
func (r *Runtime) hold(fail func(error)) (release func()) {
	r.nextHeld++
	id := r.nextHeld
	r.held[id] = fail
	return func() { delete(r.held, id) }
}

// Events returns the runtime's event stream. It is closed after the
// TerminatedEvent once the runtime is closed.
func (r *Runtime) Events() <-chan Event {
	return r.events
}

// emit never blocks the loop; when the consumer falls behind, events are
// dropped and logged.
func (r *Runtime) emit(ev Event) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("event dropped, consumer is not keeping up", "event", fmt.Sprintf("%T", ev))
	}
}

// Serve runs the session over conn until the engine disconnects, ctx is
// cancelled or the runtime is closed. A clean disconnect returns nil. The
// session cannot be resumed afterwards.
func (r *Runtime) Serve(ctx context.Context, conn net.Conn) error {
	w := newConnWriter(conn, r.opts.WriteHighWater, func() {
		r.post(func() {
			if err := r.sender.Drained(); err != nil {
				r.logger.Error("flush commands", "error", err)
			}
		})
	})

	if err := r.call(ctx, "attach", func() error { return r.attach(w) }); err != nil {
		conn.Close()
		return err
	}
	r.logger.Info("engine connected", "remote", conn.RemoteAddr())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.readLoop(conn) })
	g.Go(func() error { return w.run(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-r.ctx.Done():
		}
		conn.Close()
		return nil
	})

	err := g.Wait()
	if ctx.Err() != nil || r.ctx.Err() != nil || errors.Is(err, io.EOF) {
		err = nil
	}
	if err != nil {
		r.logger.Error("engine connection failed", "error", err)
	} else {
		r.logger.Info("engine disconnected")
	}
	r.post(func() { r.terminate(err) })
	return err
}

func (r *Runtime) attach(w command.Writer) error {
	switch {
	case r.state == StateTerminated:
		return ErrTerminated
	case r.connected:
		return ErrConnected
	}
	r.connected = true
	r.state = StateRunning
	return r.sender.Attach(w)
}

func (r *Runtime) readLoop(conn net.Conn) error {
	packets := variant.NewPacketReader(conn)
	for {
		tokens, err := packets.ReadPacket()
		var desync *variant.DesyncError
		switch {
		case errors.As(err, &desync):
			r.logger.Warn("dropping undecodable packet", "error", desync)
			if !r.post(r.dispatcher.Reset) {
				return ErrClosed
			}
			continue
		case err != nil:
			return fmt.Errorf("read from engine: %w", err)
		}

		if !r.post(func() { r.dispatcher.Feed(tokens) }) {
			return ErrClosed
		}
	}
}

// terminate ends the session after the connection is gone.
func (r *Runtime) terminate(err error) {
	if r.state == StateTerminated {
		return
	}
	r.state = StateTerminated
	r.dispatcher.Reset()
	r.sender.Close()
	r.scopes.Close()
	r.varsRequests = nil
	r.frames = nil
	r.pendingStop = nil
	held := r.held
	r.held = make(map[int]func(error))
	for _, fail := range held {
		fail(ErrTerminated)
	}
	r.emit(TerminatedEvent{Err: err})
}

func (r *Runtime) shutdown() {
	r.terminate(nil)
	close(r.events)
}

// Close stops the event loop and drops all session state, including queued
// commands and pending inspects. It does not close a connection passed to
// Serve; Serve returns once the loop is gone.
func (r *Runtime) Close() error {
	r.cancel()
	<-r.loopDone
	return nil
}

// inspect is the scope set's InspectFunc. Each request gets its own timer so
// a silent engine cannot hold a variables request forever.
func (r *Runtime) inspect(id uint64) error {
	if err := r.sender.InspectObject(id); err != nil {
		r.logger.Warn("inspect object", "id", id, "error", err)
		return err
	}
	time.AfterFunc(r.opts.InspectTimeout, func() {
		r.post(func() { r.scopes.Expire(id) })
	})
	return nil
}

func (r *Runtime) requireStopped() error {
	switch r.state {
	case StateTerminated:
		return ErrTerminated
	case StateStopped:
		return nil
	}
	return ErrNotStopped
}

// Continue resumes execution.
func (r *Runtime) Continue(ctx context.Context) error {
	return r.call(ctx, "continue", func() error {
		if err := r.requireStopped(); err != nil {
			return err
		}
		r.lastAction = ""
		return r.sender.Continue()
	})
}

// Break pauses the running game.
func (r *Runtime) Break(ctx context.Context) error {
	return r.call(ctx, "break", func() error {
		switch r.state {
		case StateTerminated:
			return ErrTerminated
		case StateStopped:
			return ErrRunning
		}
		r.lastAction = ReasonPause
		return r.sender.Break()
	})
}

// Next steps over the current line.
func (r *Runtime) Next(ctx context.Context) error {
	return r.call(ctx, "next", func() error {
		if err := r.requireStopped(); err != nil {
			return err
		}
		r.lastAction = ReasonStep
		return r.sender.Next()
	})
}

// Step steps into the call on the current line.
func (r *Runtime) Step(ctx context.Context) error {
	return r.call(ctx, "step", func() error {
		if err := r.requireStopped(); err != nil {
			return err
		}
		r.lastAction = ReasonStep
		return r.sender.Step()
	})
}

// SetSkipBreakpoints tells the engine to ignore (or honour again) all
// breakpoints.
func (r *Runtime) SetSkipBreakpoints(ctx context.Context, skip bool) error {
	return r.call(ctx, "set_skip_breakpoints", func() error {
		if r.state == StateTerminated {
			return ErrTerminated
		}
		return r.sender.SetSkipBreakpoints(skip)
	})
}

// Status returns a summary of the session.
func (r *Runtime) Status(ctx context.Context) (Status, error) {
	ch := make(chan Status, 1)
	if !r.post(func() {
		n := 0
		for _, bps := range r.breakpoints {
			n += len(bps)
		}
		ch <- Status{
			State:       r.state,
			StateName:   r.state.String(),
			Reason:      r.lastStop,
			Frames:      len(r.frames),
			Breakpoints: n,
			Queued:      r.sender.Pending(),
			FPS:         r.fps,
		}
	}) {
		return Status{State: StateTerminated, StateName: StateTerminated.String()}, nil
	}
	return await(ctx, r, ch, "status")
}

// StackFrames returns the stack of the current stop.
func (r *Runtime) StackFrames(ctx context.Context) ([]StackFrame, error) {
	type result struct {
		frames []StackFrame
		err    error
	}
	ch := make(chan result, 1)
	if !r.post(func() {
		if err := r.requireStopped(); err != nil {
			ch <- result{err: err}
			return
		}
		ch <- result{frames: slices.Clone(r.frames)}
	}) {
		return nil, ErrClosed
	}
	res, err := await(ctx, r, ch, "stack frames")
	if err != nil {
		return nil, err
	}
	return res.frames, res.err
}

// Scopes returns the locals, members and globals scopes of a stack level,
// fetching the frame's variables from the engine on first use.
func (r *Runtime) Scopes(ctx context.Context, level int) ([]Scope, error) {
	type result struct {
		scopes []Scope
		err    error
	}
	ch := make(chan result, 1)
	if !r.post(func() {
		if err := r.requireStopped(); err != nil {
			ch <- result{err: err}
			return
		}
		if level < 0 || level >= len(r.frames) {
			ch <- result{err: fmt.Errorf("%w: level %d", ErrUnknownFrame, level)}
			return
		}
		frame := r.frameKey(level)
		release := r.hold(func(err error) { ch <- result{err: err} })
		reply := func() {
			r.scopes.Await(func() {
				release()
				ch <- result{scopes: r.scopeSummary(frame)}
			})
		}
		if r.frameLoaded(frame) {
			reply()
			return
		}
		r.varsRequests = append(r.varsRequests, varsRequest{
			level: level,
			done: func(vars frameVars) {
				r.ingest(frame, vars)
				reply()
			},
		})
		if err := r.sender.GetStackFrameVars(level); err != nil {
			r.varsRequests = r.varsRequests[:len(r.varsRequests)-1]
			release()
			ch <- result{err: err}
		}
	}) {
		return nil, ErrClosed
	}
	res, err := await(ctx, r, ch, "scopes")
	if err != nil {
		return nil, err
	}
	return res.scopes, res.err
}

// Variables lists what a handle refers to: the variables of a scope or the
// children of a variable. Bare object references among them are inspected
// first so that they render with their class.
func (r *Runtime) Variables(ctx context.Context, handle int) ([]scope.View, error) {
	type result struct {
		views []scope.View
		err   error
	}
	ch := make(chan result, 1)
	if !r.post(func() {
		if err := r.requireStopped(); err != nil {
			ch <- result{err: err}
			return
		}
		if _, ok := r.scopes.Owner(handle); !ok {
			ch <- result{err: fmt.Errorf("%w: %d", ErrUnknownHandle, handle)}
			return
		}
		release := r.hold(func(err error) { ch <- result{err: err} })
		r.scopes.Settle(handle, func() {
			release()
			views, ok := r.scopes.Resolve(handle)
			if !ok {
				ch <- result{err: fmt.Errorf("%w: %d", ErrUnknownHandle, handle)}
				return
			}
			ch <- result{views: views}
		})
	}) {
		return nil, ErrClosed
	}
	res, err := await(ctx, r, ch, "variables")
	if err != nil {
		return nil, err
	}
	return res.views, res.err
}

func (r *Runtime) frameKey(level int) scope.Frame {
	return scope.Frame{Level: level, File: r.frames[level].File}
}

func (r *Runtime) frameLoaded(frame scope.Frame) bool {
	for _, kind := range scope.Kinds {
		sc, ok := r.scopes.Find(frame, kind)
		if !ok || !sc.Loaded() {
			return false
		}
	}
	return true
}

func (r *Runtime) ingest(frame scope.Frame, vars frameVars) {
	r.scopes.Scope(frame, scope.Locals).Ingest(vars.locals)
	r.scopes.Scope(frame, scope.Members).Ingest(vars.members)
	r.scopes.Scope(frame, scope.Globals).Ingest(vars.globals)
}

func (r *Runtime) scopeSummary(frame scope.Frame) []Scope {
	out := make([]Scope, 0, len(scope.Kinds))
	for _, kind := range scope.Kinds {
		sc := r.scopes.Scope(frame, kind)
		out = append(out, Scope{
			Name:      kind.String(),
			Kind:      kind,
			Handle:    sc.Handle(),
			Variables: len(sc.ListTopLevel()),
		})
	}
	return out
}
