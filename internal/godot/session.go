package godot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionLimitReached = errors.New("maximum number of sessions reached")
)

// Session is one debugged game: a runtime and the engine serving it.
type Session struct {
	ID        string
	Mode      types.SessionMode
	Project   string
	Runtime   *Runtime
	CreatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	engine   *Engine
	address  string
	lastUsed time.Time
	done     chan struct{}
	err      error
}

// Engine returns the connected engine, or nil while the session is starting.
func (s *Session) Engine() *Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

// Done is closed once the engine connection has ended.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastUsed = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUsed
}

// Info returns a summary of the session.
func (s *Session) Info(ctx context.Context) types.SessionInfo {
	s.mu.Lock()
	info := types.SessionInfo{
		SessionID: s.ID,
		Mode:      s.Mode,
		Project:   s.Project,
		Status:    types.SessionStatusInitializing,
		Address:   s.address,
	}
	if s.engine != nil {
		info.Address = s.engine.Addr
		info.PID = s.engine.PID()
	}
	if s.err != nil {
		info.Error = s.err.Error()
	}
	s.mu.Unlock()

	st, err := s.Runtime.Status(ctx)
	if err != nil {
		return info
	}
	info.Breakpoints = st.Breakpoints
	info.StopReason = st.Reason
	info.FPS = st.FPS
	switch st.State {
	case StateRunning:
		info.Status = types.SessionStatusRunning
	case StateStopped:
		info.Status = types.SessionStatusStopped
	case StateTerminated:
		info.Status = types.SessionStatusTerminated
	default:
		if info.Mode == types.SessionModeAttach {
			info.Status = types.SessionStatusWaiting
		}
	}
	return info
}

// SessionConfig configures a SessionManager.
type SessionConfig struct {
	MaxSessions    int
	SessionTimeout time.Duration
	Launcher       *Launcher
	// Runtime is the template for every session's runtime; Project is
	// filled in per session.
	Runtime Options
	Logger  *log.Logger
}

// SessionManager manages multiple debug sessions
type SessionManager struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	maxSessions    int
	sessionTimeout time.Duration
	launcher       *Launcher
	runtimeOpts    Options
	logger         *log.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSessionManager creates a session manager and starts its idle cleanup.
func NewSessionManager(cfg SessionConfig) *SessionManager {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.Launcher == nil {
		cfg.Launcher = &Launcher{}
	}
	if cfg.Runtime.Logger == nil {
		cfg.Runtime.Logger = cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	sm := &SessionManager{
		sessions:       make(map[string]*Session),
		maxSessions:    cfg.MaxSessions,
		sessionTimeout: cfg.SessionTimeout,
		launcher:       cfg.Launcher,
		runtimeOpts:    cfg.Runtime,
		logger:         cfg.Logger.WithPrefix("sessions"),
		ctx:            ctx,
		cancel:         cancel,
	}

	go sm.cleanupLoop()

	return sm
}

func (sm *SessionManager) cleanupLoop() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-sm.ctx.Done():
			return
		case now := <-ticker.C:
			sm.cleanupIdleSessions(now)
		}
	}
}

// cleanupIdleSessions terminates sessions nobody has used for longer than
// the session timeout.
func (sm *SessionManager) cleanupIdleSessions(now time.Time) {
	if sm.sessionTimeout <= 0 {
		return
	}
	sm.mu.Lock()
	var expired []*Session
	for id, s := range sm.sessions {
		if now.Sub(s.idleSince()) > sm.sessionTimeout {
			expired = append(expired, s)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()

	for _, s := range expired {
		sm.logger.Info("closing idle session", "session", s.ID, "idle", sm.sessionTimeout)
		sm.shutdown(s)
	}
}

// create reserves a slot and builds the session's runtime. Breakpoints are
// registered before the engine exists so a launch can pass them on the
// command line.
func (sm *SessionManager) create(ctx context.Context, mode types.SessionMode, project string, bps []types.SourceBreakpoint) (*Session, error) {
	sm.mu.Lock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sm.mu.Unlock()
		return nil, fmt.Errorf("%w (%d)", ErrSessionLimitReached, sm.maxSessions)
	}
	opts := sm.runtimeOpts
	opts.Project = project
	rt, err := NewRuntime(opts)
	if err != nil {
		sm.mu.Unlock()
		return nil, err
	}
	now := time.Now()
	sctx, cancel := context.WithCancel(sm.ctx)
	s := &Session{
		ID:        uuid.New().String(),
		Mode:      mode,
		Project:   project,
		Runtime:   rt,
		CreatedAt: now,
		ctx:       sctx,
		cancel:    cancel,
		lastUsed:  now,
		done:      make(chan struct{}),
	}
	sm.sessions[s.ID] = s
	sm.mu.Unlock()

	for _, bp := range bps {
		if _, err := rt.SetBreakpoint(ctx, bp.File, bp.Line); err != nil {
			sm.remove(s)
			return nil, fmt.Errorf("breakpoint %s:%d: %w", bp.File, bp.Line, err)
		}
	}
	return s, nil
}

// Launch starts a game under the debugger and waits for it to connect.
func (sm *SessionManager) Launch(ctx context.Context, req types.LaunchRequest) (*Session, error) {
	s, err := sm.create(ctx, types.SessionModeLaunch, req.Project, req.Breakpoints)
	if err != nil {
		return nil, err
	}
	engineBps, err := s.Runtime.EngineBreakpoints(ctx)
	if err != nil {
		sm.remove(s)
		return nil, err
	}
	eng, err := sm.launcher.Launch(ctx, LaunchRequest{
		Project:     req.Project,
		Scene:       req.Scene,
		Breakpoints: engineBps,
		Args:        req.Args,
		Env:         req.Env,
	})
	if err != nil {
		sm.remove(s)
		return nil, err
	}
	sm.serve(s, eng)
	return s, nil
}

// Attach waits for a game started outside the debugger. The wait happens in
// the background; the session reports "waiting" until the engine connects.
func (sm *SessionManager) Attach(ctx context.Context, req types.AttachRequest) (*Session, error) {
	s, err := sm.create(ctx, types.SessionModeAttach, req.Project, req.Breakpoints)
	if err != nil {
		return nil, err
	}
	launcher := *sm.launcher
	if req.Address != "" {
		launcher.Address = req.Address
	}
	if req.Port != 0 {
		launcher.Port = req.Port
	}
	ln, err := launcher.Listen()
	if err != nil {
		sm.remove(s)
		return nil, err
	}
	s.mu.Lock()
	s.address = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		eng, err := launcher.Attach(s.ctx, ln)
		if err != nil {
			sm.logger.Warn("attach failed", "session", s.ID, "error", err)
			s.mu.Lock()
			s.err = err
			s.mu.Unlock()
			s.Runtime.Close()
			close(s.done)
			return
		}
		sm.serve(s, eng)
	}()
	return s, nil
}

func (sm *SessionManager) serve(s *Session, eng *Engine) {
	s.mu.Lock()
	s.engine = eng
	s.mu.Unlock()

	go func() {
		err := s.Runtime.Serve(s.ctx, eng.Conn)
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
}

// GetSession retrieves a session by ID and marks it as used.
func (sm *SessionManager) GetSession(id string) (*Session, error) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	s, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	s.touch()
	return s, nil
}

// ListSessions returns all sessions
func (sm *SessionManager) ListSessions() []*Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	sessions := make([]*Session, 0, len(sm.sessions))
	for _, s := range sm.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// TerminateSession ends a session, closing the connection and killing a
// launched engine.
func (sm *SessionManager) TerminateSession(id string) error {
	sm.mu.Lock()
	s, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	sm.shutdown(s)
	return nil
}

func (sm *SessionManager) remove(s *Session) {
	sm.mu.Lock()
	delete(sm.sessions, s.ID)
	sm.mu.Unlock()
	sm.shutdown(s)
}

func (sm *SessionManager) shutdown(s *Session) {
	s.cancel()
	if err := s.Runtime.Close(); err != nil {
		sm.logger.Warn("close runtime", "session", s.ID, "error", err)
	}
	if eng := s.Engine(); eng != nil {
		if err := eng.Close(); err != nil {
			sm.logger.Warn("stop engine", "session", s.ID, "pid", eng.PID(), "error", err)
		}
	}
}

// Close shuts down the session manager and all sessions
func (sm *SessionManager) Close() {
	sm.cancel()

	sm.mu.Lock()
	sessions := sm.sessions
	sm.sessions = make(map[string]*Session)
	sm.mu.Unlock()

	for _, s := range sessions {
		sm.shutdown(s)
	}
}
