package launchconfig

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ctagard/godot-dap-mcp/pkg/types"
)

// ResolvedConfiguration is a configuration with every variable substituted
// and defaults applied, ready to become a launch or attach request.
type ResolvedConfiguration struct {
	Name    string
	Request string
	Project string
	Scene   string
	Address string
	Port    int
	Args    []string
	Env     map[string]string
}

// ResolveConfiguration resolves all variables in a configuration. The
// project defaults to the workspace folder. With launch_scene set and no
// scene_file, the scene is the current file. A scene given as a path inside
// the project is turned into its res:// path.
func ResolveConfiguration(cfg *DebugConfiguration, ctx *ResolutionContext) (*ResolvedConfiguration, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if err := ValidateConfiguration(cfg); err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	resolved := &ResolvedConfiguration{
		Name:    cfg.Name,
		Request: cfg.Request,
		Port:    cfg.Port,
	}

	var err error
	project := cfg.Project
	if project == "" {
		project = "${workspaceFolder}"
	}
	if resolved.Project, err = resolveField("project", project, ctx); err != nil {
		return nil, err
	}
	if resolved.Project != "" && !filepath.IsAbs(resolved.Project) && ctx.WorkspaceFolder != "" {
		resolved.Project = filepath.Join(ctx.WorkspaceFolder, resolved.Project)
	}

	// Everything else may refer to ${projectFolder}.
	inProject := *ctx
	inProject.ProjectFolder = resolved.Project
	ctx = &inProject

	if resolved.Address, err = resolveField("address", cfg.Address, ctx); err != nil {
		return nil, err
	}

	scene := cfg.SceneFile
	if scene == "" && cfg.LaunchScene {
		scene = "${file}"
	}
	if scene, err = resolveField("scene_file", scene, ctx); err != nil {
		return nil, err
	}
	resolved.Scene = ResPath(resolved.Project, scene)

	options, err := resolveField("additional_options", cfg.AdditionalOptions, ctx)
	if err != nil {
		return nil, err
	}
	args, err := ResolveStringSlice(cfg.Args, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve args: %w", err)
	}
	resolved.Args = append(strings.Fields(options), args...)
	if len(resolved.Args) == 0 {
		resolved.Args = nil
	}

	if resolved.Env, err = ResolveStringMap(cfg.Env, ctx); err != nil {
		return nil, fmt.Errorf("failed to resolve env: %w", err)
	}

	return resolved, nil
}

// LaunchRequest converts the configuration into a launch request.
func (r *ResolvedConfiguration) LaunchRequest(breakpoints []types.SourceBreakpoint) types.LaunchRequest {
	return types.LaunchRequest{
		Project:     r.Project,
		Scene:       r.Scene,
		Args:        r.Args,
		Env:         r.Env,
		Breakpoints: breakpoints,
	}
}

// AttachRequest converts the configuration into an attach request.
func (r *ResolvedConfiguration) AttachRequest(breakpoints []types.SourceBreakpoint) types.AttachRequest {
	return types.AttachRequest{
		Project:     r.Project,
		Address:     r.Address,
		Port:        r.Port,
		Breakpoints: breakpoints,
	}
}
