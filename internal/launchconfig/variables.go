package launchconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var variablePattern = regexp.MustCompile(`\$\{([^}]+)\}`)

const resPrefix = "res://"

type variableFunc func(ctx *ResolutionContext) (string, error)

// variables are the ${name} forms a godot configuration may use. ${env:NAME}
// is handled by resolveVariable.
var variables = map[string]variableFunc{
	"workspaceFolder": workspaceFolder,
	// Older godot-tools configurations still use the pre-multiroot name.
	"workspaceRoot": workspaceFolder,
	"workspaceFolderBasename": func(ctx *ResolutionContext) (string, error) {
		return filepath.Base(ctx.WorkspaceFolder), nil
	},

	// projectFolder is the resolved project directory, so scene_file and
	// args can point into the project without repeating its path.
	"projectFolder": func(ctx *ResolutionContext) (string, error) {
		if ctx.ProjectFolder == "" {
			return ctx.WorkspaceFolder, nil
		}
		return ctx.ProjectFolder, nil
	},

	"file": func(ctx *ResolutionContext) (string, error) { return ctx.CurrentFile, nil },
	"fileBasename": func(ctx *ResolutionContext) (string, error) {
		return filepath.Base(ctx.CurrentFile), nil
	},
	"fileDirname": func(ctx *ResolutionContext) (string, error) {
		return filepath.Dir(ctx.CurrentFile), nil
	},
	"relativeFile": func(ctx *ResolutionContext) (string, error) {
		if ctx.WorkspaceFolder != "" && ctx.CurrentFile != "" {
			if rel, err := filepath.Rel(ctx.WorkspaceFolder, ctx.CurrentFile); err == nil {
				return rel, nil
			}
		}
		return ctx.CurrentFile, nil
	},
	// resFile is the current file as the engine names it.
	"resFile": func(ctx *ResolutionContext) (string, error) {
		project := ctx.ProjectFolder
		if project == "" {
			project = ctx.WorkspaceFolder
		}
		return ResPath(project, ctx.CurrentFile), nil
	},

	"userHome": func(*ResolutionContext) (string, error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get user home: %w", err)
		}
		return home, nil
	},
	"pathSeparator": func(*ResolutionContext) (string, error) {
		return string(os.PathSeparator), nil
	},
}

func workspaceFolder(ctx *ResolutionContext) (string, error) {
	return ctx.WorkspaceFolder, nil
}

// ResolveVariables replaces all ${...} variables in text. Unknown variables
// are left in place and reported.
func ResolveVariables(text string, ctx *ResolutionContext) (string, error) {
	if ctx == nil {
		ctx = &ResolutionContext{}
	}

	var lastErr error
	result := variablePattern.ReplaceAllStringFunc(text, func(match string) string {
		resolved, err := resolveVariable(match[2:len(match)-1], ctx)
		if err != nil {
			lastErr = err
			return match
		}
		return resolved
	})
	return result, lastErr
}

func resolveVariable(expr string, ctx *ResolutionContext) (string, error) {
	if name, ok := strings.CutPrefix(expr, "env:"); ok {
		if val, ok := ctx.EnvOverrides[name]; ok {
			return val, nil
		}
		return os.Getenv(name), nil
	}
	fn, ok := variables[expr]
	if !ok {
		return "", fmt.Errorf("unknown variable: ${%s}", expr)
	}
	return fn(ctx)
}

// ResPath maps a file inside project to its res:// path. Paths that are
// already res:// paths, relative, or outside the project are returned as is.
func ResPath(project, file string) string {
	if file == "" || project == "" || strings.HasPrefix(file, resPrefix) || !filepath.IsAbs(file) {
		return file
	}
	rel, err := filepath.Rel(project, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return file
	}
	return resPrefix + filepath.ToSlash(rel)
}

// resolveField resolves one configuration field, naming it in errors the
// way launch.json spells it.
func resolveField(field, text string, ctx *ResolutionContext) (string, error) {
	s, err := ResolveVariables(text, ctx)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", field, err)
	}
	return s, nil
}

// ResolveStringSlice resolves variables in every element of values.
func ResolveStringSlice(values []string, ctx *ResolutionContext) ([]string, error) {
	if values == nil {
		return nil, nil
	}
	result := make([]string, len(values))
	for i, v := range values {
		resolved, err := resolveField(fmt.Sprintf("element %d", i), v, ctx)
		if err != nil {
			return nil, err
		}
		result[i] = resolved
	}
	return result, nil
}

// ResolveStringMap resolves variables in the values, not the keys, of values.
func ResolveStringMap(values map[string]string, ctx *ResolutionContext) (map[string]string, error) {
	if values == nil {
		return nil, nil
	}
	result := make(map[string]string, len(values))
	for k, v := range values {
		resolved, err := resolveField(fmt.Sprintf("value for key %q", k), v, ctx)
		if err != nil {
			return nil, err
		}
		result[k] = resolved
	}
	return result, nil
}
