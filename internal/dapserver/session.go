package dapserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/go-dap"
	"golang.org/x/sync/errgroup"

	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

// threadID is the one thread a Godot 3 game reports.
const threadID = 1

// session is the state of one DAP client.
type session struct {
	srv    *Server
	t      *Transport
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group

	configured     chan struct{}
	configuredOnce sync.Once

	mu      sync.Mutex
	mode    types.SessionMode
	rt      *godot.Runtime
	engine  *godot.Engine
	pending map[string][]int
	closed  bool
}

func newSession(ctx context.Context, srv *Server, t *Transport) *session {
	ctx, cancel := context.WithCancel(ctx)
	g, ctx := errgroup.WithContext(ctx)
	return &session{
		srv:        srv,
		t:          t,
		logger:     srv.logger,
		ctx:        ctx,
		cancel:     cancel,
		g:          g,
		configured: make(chan struct{}),
		pending:    make(map[string][]int),
	}
}

// run serves the client until it disconnects. The game, if any, is stopped
// before run returns.
func (s *session) run() error {
	s.g.Go(func() error {
		<-s.ctx.Done()
		s.shutdown()
		if err := s.t.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Debug("close transport", "error", err)
		}
		return nil
	})
	s.g.Go(s.readLoop)
	err := s.g.Wait()
	s.cancel()
	return err
}

func (s *session) readLoop() error {
	defer s.cancel()

	consecutiveErrors := 0
	const maxConsecutiveErrors = 5

	for {
		msg, err := s.t.Receive()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			var fieldErr *dap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				// Well framed but not understood, usually a request we do
				// not implement.
				req := &dap.Request{
					ProtocolMessage: dap.ProtocolMessage{Seq: fieldErr.Seq, Type: "request"},
				}
				if fieldErr.FieldName == "command" {
					req.Command = fieldErr.FieldValue
					s.sendError(req, errUnsupported)
				} else {
					s.sendError(req, fieldErr)
				}
				continue
			}
			consecutiveErrors++
			s.logger.Warn("DAP transport error", "attempt", consecutiveErrors, "max", maxConsecutiveErrors, "error", err)
			if consecutiveErrors >= maxConsecutiveErrors {
				return err
			}
			continue
		}
		consecutiveErrors = 0

		if done := s.dispatch(msg); done {
			return nil
		}
	}
}

// dispatch handles one client message and reports whether the client is
// done with the session.
func (s *session) dispatch(msg dap.Message) bool {
	switch req := msg.(type) {
	case *dap.InitializeRequest:
		s.onInitialize(req)
	case *dap.LaunchRequest:
		s.onLaunch(req)
	case *dap.AttachRequest:
		s.onAttach(req)
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpoints(req)
	case *dap.SetExceptionBreakpointsRequest:
		s.send(&dap.SetExceptionBreakpointsResponse{Response: s.newResponse(&req.Request)})
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDone(req)
	case *dap.ThreadsRequest:
		s.onThreads(req)
	case *dap.StackTraceRequest:
		s.onStackTrace(req)
	case *dap.ScopesRequest:
		s.onScopes(req)
	case *dap.VariablesRequest:
		s.onVariables(req)
	case *dap.ContinueRequest:
		s.onContinue(req)
	case *dap.NextRequest:
		s.onNext(req)
	case *dap.StepInRequest:
		s.onStepIn(req)
	case *dap.StepOutRequest:
		s.onStepOut(req)
	case *dap.PauseRequest:
		s.onPause(req)
	case *dap.TerminateRequest:
		s.onTerminate(req)
	case *dap.DisconnectRequest:
		s.send(&dap.DisconnectResponse{Response: s.newResponse(&req.Request)})
		return true
	case dap.RequestMessage:
		s.sendError(req.GetRequest(), errUnsupported)
	default:
		s.logger.Debug("ignoring client message", "type", fmt.Sprintf("%T", msg))
	}
	return false
}

func (s *session) newResponse(req *dap.Request) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.t.NextSeq(), Type: "response"},
		Command:         req.Command,
		RequestSeq:      req.Seq,
		Success:         true,
	}
}

func (s *session) newEvent(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: s.t.NextSeq(), Type: "event"},
		Event:           name,
	}
}

func (s *session) send(msg dap.Message) {
	if err := s.t.Send(msg); err != nil {
		s.logger.Debug("send to client", "error", err)
	}
}

func (s *session) sendError(req *dap.Request, err error) {
	resp := s.newResponse(req)
	resp.Success = false
	resp.Message = err.Error()
	s.send(&dap.ErrorResponse{
		Response: resp,
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{Id: 1, Format: err.Error(), ShowUser: true},
		},
	})
}

func (s *session) output(category, text string) {
	s.send(&dap.OutputEvent{
		Event: s.newEvent("output"),
		Body:  dap.OutputEventBody{Category: category, Output: text},
	})
}

// runtime returns the session's runtime once launch or attach created it.
func (s *session) runtime() (*godot.Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rt == nil {
		return nil, errNoGame
	}
	return s.rt, nil
}

// start installs rt as the session's runtime, applies the breakpoints the
// client set before it existed and starts forwarding its events.
func (s *session) start(mode types.SessionMode, rt *godot.Runtime) error {
	s.mu.Lock()
	if s.rt != nil || s.closed {
		s.mu.Unlock()
		rt.Close()
		return errAlreadyStarted
	}
	s.mode = mode
	s.rt = rt
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for file, lines := range pending {
		if _, err := rt.SetBreakpoints(s.ctx, file, lines); err != nil {
			s.logger.Warn("apply breakpoints", "file", file, "error", err)
		}
	}
	events := rt.Events()
	s.g.Go(func() error { return s.forward(events) })
	return nil
}

// serve runs the engine connection. It reports false, having closed eng,
// when the client is already gone.
func (s *session) serve(eng *godot.Engine) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		eng.Close()
		return false
	}
	s.engine = eng
	rt := s.rt
	s.mu.Unlock()

	s.g.Go(func() error {
		if err := rt.Serve(s.ctx, eng.Conn); err != nil {
			s.logger.Warn("engine connection ended", "error", err)
		}
		return nil
	})
	return true
}

// stopGame ends the engine connection and kills a launched game. The
// runtime reports the end with a terminated event.
func (s *session) stopGame() bool {
	s.mu.Lock()
	eng := s.engine
	s.mu.Unlock()
	if eng == nil {
		return false
	}
	if err := eng.Close(); err != nil {
		s.logger.Warn("stop engine", "pid", eng.PID(), "error", err)
	}
	return true
}

func (s *session) shutdown() {
	s.mu.Lock()
	s.closed = true
	rt, eng := s.rt, s.engine
	s.mu.Unlock()

	if rt != nil {
		rt.Close()
	}
	if eng != nil {
		if err := eng.Close(); err != nil {
			s.logger.Warn("stop engine", "pid", eng.PID(), "error", err)
		}
	}
}

// forward turns runtime events into DAP events until the runtime closes.
func (s *session) forward(events <-chan godot.Event) error {
	for ev := range events {
		switch ev := ev.(type) {
		case godot.StoppedEvent:
			body := dap.StoppedEventBody{
				Reason:            ev.Reason,
				Description:       ev.Description,
				ThreadId:          threadID,
				AllThreadsStopped: true,
			}
			if ev.Reason == godot.ReasonException {
				body.Text = ev.Description
			}
			s.send(&dap.StoppedEvent{Event: s.newEvent("stopped"), Body: body})
		case godot.ContinuedEvent:
			s.send(&dap.ContinuedEvent{
				Event: s.newEvent("continued"),
				Body:  dap.ContinuedEventBody{ThreadId: threadID, AllThreadsContinued: true},
			})
		case godot.OutputEvent:
			s.output(ev.Category, ev.Output)
		case godot.BreakpointEvent:
			s.send(&dap.BreakpointEvent{
				Event: s.newEvent("breakpoint"),
				Body:  dap.BreakpointEventBody{Reason: ev.Reason, Breakpoint: toBreakpoint(ev.Breakpoint)},
			})
		case godot.TerminatedEvent:
			if ev.Err != nil {
				s.output("stderr", "Connection to the game failed: "+ev.Err.Error()+"\n")
			}
			s.send(&dap.TerminatedEvent{Event: s.newEvent("terminated")})
		}
	}
	return nil
}
