// Package launchconfig reads godot debug configurations from a VS Code
// launch.json, in the format the godot-tools extension writes.
package launchconfig

// GodotType is the debug type of godot configurations. Configurations of
// any other type are ignored.
const GodotType = "godot"

// LaunchJSON represents a VS Code launch.json file structure.
type LaunchJSON struct {
	Version        string               `json:"version"`
	Configurations []DebugConfiguration `json:"configurations"`
}

// DebugConfiguration represents a single debug configuration in launch.json.
type DebugConfiguration struct {
	// Required fields
	Type    string `json:"type"`    // "godot"
	Request string `json:"request"` // "launch" or "attach"
	Name    string `json:"name"`    // Human-readable name

	Project string `json:"project,omitempty"` // directory holding project.godot
	Port    int    `json:"port,omitempty"`
	Address string `json:"address,omitempty"`

	// Launch-specific fields
	LaunchScene       bool              `json:"launch_scene,omitempty"`
	SceneFile         string            `json:"scene_file,omitempty"`
	AdditionalOptions string            `json:"additional_options,omitempty"`
	Args              []string          `json:"args,omitempty"`
	Env               map[string]string `json:"env,omitempty"`
}

// ResolutionContext provides context for variable resolution.
type ResolutionContext struct {
	WorkspaceFolder string            // Root folder of the workspace
	CurrentFile     string            // Scene or script for ${file} variables
	ProjectFolder   string            // Set once the project is resolved
	EnvOverrides    map[string]string // Override environment variables
}
