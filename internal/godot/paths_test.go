package godot

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToEnginePath(t *testing.T) {
	project := filepath.FromSlash("/home/dev/game")
	tests := []struct {
		name string
		file string
		want string
	}{
		{"inside project", filepath.FromSlash("/home/dev/game/scripts/player.gd"), "res://scripts/player.gd"},
		{"already engine path", "res://scripts/../player.gd", "res://player.gd"},
		{"relative", filepath.FromSlash("scripts/enemy.gd"), "res://scripts/enemy.gd"},
		{"outside project", filepath.FromSlash("/tmp/other.gd"), "/tmp/other.gd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if runtime.GOOS == "windows" && tt.name == "outside project" {
				t.Skip("absolute unix path")
			}
			assert.Equal(t, tt.want, ToEnginePath(project, tt.file))
		})
	}
}

func TestToEnginePathWithoutProject(t *testing.T) {
	assert.Equal(t, "res://main.gd", ToEnginePath("", "main.gd"))
	assert.Equal(t, "res://main.gd", ToEnginePath("", "./main.gd"))
}

func TestFromEnginePath(t *testing.T) {
	project := filepath.FromSlash("/home/dev/game")
	assert.Equal(t, filepath.Join(project, "scripts", "player.gd"), FromEnginePath(project, "res://scripts/player.gd"))
	assert.Equal(t, "res://a.gd", FromEnginePath("", "res://a.gd"))
	assert.Equal(t, "/tmp/a.gd", FromEnginePath(project, "/tmp/a.gd"))
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "res://a.gd", NormalizePath("res://a.gd"))
	assert.Equal(t, "/home/dev/game/a.gd", NormalizePath("/home/dev/game/./scripts/../a.gd"))
	if runtime.GOOS == "windows" {
		assert.Equal(t, "c:/Game/a.gd", NormalizePath(`C:\Game\a.gd`))
	}
}
