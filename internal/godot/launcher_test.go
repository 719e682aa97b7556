package godot

import (
	"context"
	"net"
	"os/exec"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	tests := []struct {
		name string
		req  LaunchRequest
		want []string
	}{
		{
			name: "minimal",
			req:  LaunchRequest{Project: "/game"},
			want: []string{"--path", "/game", "--remote-debug", "127.0.0.1:6007"},
		},
		{
			name: "breakpoints scene and args",
			req: LaunchRequest{
				Project:     "/game",
				Scene:       "res://levels/one.tscn",
				Breakpoints: []string{"res://player.gd:3", "res://enemy.gd:10"},
				Args:        []string{"--verbose"},
			},
			want: []string{
				"--path", "/game", "--remote-debug", "127.0.0.1:6007",
				"--breakpoints", "res://player.gd:3,res://enemy.gd:10",
				"res://levels/one.tscn", "--verbose",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BuildArgs(tt.req, "127.0.0.1:6007"))
		})
	}
}

func TestAttachAcceptsEngine(t *testing.T) {
	l := &Launcher{Logger: quietLogger(), ConnectTimeout: testWait}
	ln, err := l.Listen()
	require.NoError(t, err)

	go func() {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err == nil {
			defer conn.Close()
			time.Sleep(100 * time.Millisecond)
		}
	}()

	eng, err := l.Attach(context.Background(), ln)
	require.NoError(t, err)
	defer eng.Close()
	assert.Equal(t, 0, eng.PID())
	assert.Nil(t, eng.Exited())
	assert.Equal(t, ln.Addr().String(), eng.Addr)
}

func TestAttachTimesOut(t *testing.T) {
	l := &Launcher{Logger: quietLogger(), ConnectTimeout: 50 * time.Millisecond}
	ln, err := l.Listen()
	require.NoError(t, err)

	_, err = l.Attach(context.Background(), ln)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLaunchEngineExitsBeforeConnecting(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("needs a unix false binary")
	}
	exe, err := exec.LookPath("false")
	if err != nil {
		t.Skip("false not found")
	}
	l := &Launcher{Executable: exe, Logger: quietLogger(), ConnectTimeout: testWait}

	_, err = l.Launch(context.Background(), LaunchRequest{Project: t.TempDir()})
	assert.ErrorIs(t, err, ErrEngineExited)
}

func TestLaunchRequiresProject(t *testing.T) {
	l := &Launcher{Logger: quietLogger()}
	_, err := l.Launch(context.Background(), LaunchRequest{})
	assert.Error(t, err)

	_, err = l.Launch(context.Background(), LaunchRequest{Project: "/does/not/exist"})
	assert.Error(t, err)
}
