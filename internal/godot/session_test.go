package godot

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

func newTestManager(t *testing.T, maxSessions int) *SessionManager {
	t.Helper()
	sm := NewSessionManager(SessionConfig{
		MaxSessions:    maxSessions,
		SessionTimeout: time.Minute,
		Launcher:       &Launcher{Port: 0, ConnectTimeout: testWait, Logger: quietLogger()},
		Runtime:        Options{RequestTimeout: testWait},
		Logger:         quietLogger(),
	})
	t.Cleanup(sm.Close)
	return sm
}

func TestSessionAttachLifecycle(t *testing.T) {
	sm := newTestManager(t, 2)
	ctx := context.Background()

	s, err := sm.Attach(ctx, types.AttachRequest{
		Project:     "/game",
		Breakpoints: []types.SourceBreakpoint{{File: "res://player.gd", Line: 4}},
	})
	require.NoError(t, err)

	info := s.Info(ctx)
	assert.Equal(t, types.SessionStatusWaiting, info.Status)
	assert.Equal(t, types.SessionModeAttach, info.Mode)
	assert.Equal(t, 1, info.Breakpoints)
	require.NotEmpty(t, info.Address)

	conn, err := net.Dial("tcp", info.Address)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.Info(ctx).Status == types.SessionStatusRunning
	}, testWait, 10*time.Millisecond)

	got, err := sm.GetSession(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)
	assert.Len(t, sm.ListSessions(), 1)

	require.NoError(t, sm.TerminateSession(s.ID))
	select {
	case <-s.Done():
	case <-time.After(testWait):
		t.Fatal("session did not finish")
	}
	_, err = sm.GetSession(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, sm.TerminateSession(s.ID), ErrSessionNotFound)
}

func TestSessionLimit(t *testing.T) {
	sm := newTestManager(t, 1)
	ctx := context.Background()

	_, err := sm.Attach(ctx, types.AttachRequest{})
	require.NoError(t, err)
	_, err = sm.Attach(ctx, types.AttachRequest{})
	assert.ErrorIs(t, err, ErrSessionLimitReached)
}

func TestSessionIdleCleanup(t *testing.T) {
	sm := newTestManager(t, 2)
	s, err := sm.Attach(context.Background(), types.AttachRequest{})
	require.NoError(t, err)

	sm.cleanupIdleSessions(time.Now())
	assert.Len(t, sm.ListSessions(), 1)

	sm.cleanupIdleSessions(time.Now().Add(2 * time.Minute))
	assert.Empty(t, sm.ListSessions())
	select {
	case <-s.Done():
	case <-time.After(testWait):
		t.Fatal("idle session was not shut down")
	}
}

func TestSessionLaunchFailureReleasesSlot(t *testing.T) {
	sm := newTestManager(t, 1)
	_, err := sm.Launch(context.Background(), types.LaunchRequest{Project: "/does/not/exist"})
	require.Error(t, err)
	assert.Empty(t, sm.ListSessions())
}
