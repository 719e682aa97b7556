package dapserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	debugerr "github.com/ctagard/godot-dap-mcp/internal/errors"
	"github.com/ctagard/godot-dap-mcp/internal/godot"
	"github.com/ctagard/godot-dap-mcp/internal/launchconfig"
)

// requestArgs are the arguments of a launch or attach request. Editors
// using the godot-tools launch.json format send a godot configuration
// as is; configName picks one out of launch.json instead.
type requestArgs struct {
	launchconfig.DebugConfiguration

	Scene      string `json:"scene,omitempty"`
	Executable string `json:"executable,omitempty"`
	ConfigName string `json:"configName,omitempty"`
	ConfigPath string `json:"configPath,omitempty"`
	Workspace  string `json:"workspace,omitempty"`
}

// target is a resolved launch or attach request.
type target struct {
	*launchconfig.ResolvedConfiguration
	Executable string
}

func resolveTarget(command string, raw json.RawMessage) (*target, error) {
	var args requestArgs
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, fmt.Errorf("invalid %s arguments: %w", command, err)
		}
	}

	cfg := &args.DebugConfiguration
	workspace := args.Workspace
	if args.ConfigName != "" {
		lj, path, err := loadLaunchJSON(args.ConfigPath, workspace)
		if err != nil {
			return nil, err
		}
		found, err := launchconfig.FindConfiguration(lj, args.ConfigName)
		if err != nil {
			return nil, debugerr.ConfigNotFound(args.ConfigName, launchconfig.ListConfigurationNames(lj))
		}
		cfg = found
		if workspace == "" {
			workspace = launchconfig.GetWorkspaceFolder(path)
		}
	}

	if cfg.Type == "" {
		cfg.Type = launchconfig.GodotType
	}
	if cfg.Name == "" {
		cfg.Name = command
	}
	// The request decides; a configuration written for the other one
	// still supplies its project, address and port.
	cfg.Request = command
	if args.Scene != "" {
		cfg.SceneFile = args.Scene
	}
	if workspace == "" {
		if wd, err := os.Getwd(); err == nil {
			workspace = wd
		}
	}

	resolved, err := launchconfig.ResolveConfiguration(cfg, &launchconfig.ResolutionContext{WorkspaceFolder: workspace})
	if err != nil {
		return nil, debugerr.ConfigInvalid(cfg.Name, err.Error())
	}
	return &target{ResolvedConfiguration: resolved, Executable: args.Executable}, nil
}

func loadLaunchJSON(configPath, workspace string) (*launchconfig.LaunchJSON, string, error) {
	if configPath != "" {
		lj, err := launchconfig.LoadFromPath(configPath)
		if err != nil {
			return nil, "", err
		}
		return lj, configPath, nil
	}
	lj, path, err := launchconfig.LoadAndDiscover(workspace)
	if err != nil {
		return nil, "", errors.Join(errors.New("configName needs a launch.json: pass workspace or configPath"), err)
	}
	return lj, path, nil
}

// launcher builds the launcher for t. Address and port fall back to the
// configured engine settings; a launch with no port picks a free one.
func (s *Server) launcher(t *target) *godot.Launcher {
	l := &godot.Launcher{
		Executable:     s.config.Engine.Path,
		Address:        s.config.Engine.Address,
		Port:           t.Port,
		ConnectTimeout: s.config.Engine.ConnectTimeout,
		Logger:         s.logger.WithPrefix("launcher"),
	}
	if t.Executable != "" {
		l.Executable = t.Executable
	}
	if t.Address != "" {
		l.Address = t.Address
	}
	return l
}

func (s *Server) runtimeOptions(project string) godot.Options {
	return godot.Options{
		Project:        project,
		InspectTimeout: s.config.Engine.InspectTimeout,
		RequestTimeout: s.config.Engine.RequestTimeout,
		WriteHighWater: s.config.Engine.WriteHighWater,
		Logger:         s.logger,
	}
}
