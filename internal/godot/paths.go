package godot

import (
	"path"
	"path/filepath"
	"strings"
)

const resPrefix = "res://"

// ToEnginePath maps a file on disk to the engine's res:// form, relative to
// the project directory. Paths that are already engine paths are returned
// cleaned. Files outside the project cannot be mapped and are returned with
// forward slashes only.
func ToEnginePath(project, file string) string {
	if strings.HasPrefix(file, resPrefix) {
		return resPrefix + strings.TrimPrefix(path.Clean("/"+strings.TrimPrefix(file, resPrefix)), "/")
	}
	if project == "" || !filepath.IsAbs(file) {
		return resPrefix + strings.TrimPrefix(filepath.ToSlash(filepath.Clean(file)), "./")
	}
	rel, err := filepath.Rel(project, file)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return NormalizePath(file)
	}
	return resPrefix + filepath.ToSlash(rel)
}

// FromEnginePath maps a res:// path back to a file inside project. Anything
// else is returned unchanged.
func FromEnginePath(project, file string) string {
	if !strings.HasPrefix(file, resPrefix) || project == "" {
		return file
	}
	return filepath.Join(project, filepath.FromSlash(strings.TrimPrefix(file, resPrefix)))
}

// NormalizePath gives a file a single spelling for use as a map key: cleaned,
// forward slashes, and a lowercase drive letter on Windows-style paths.
func NormalizePath(file string) string {
	if strings.HasPrefix(file, resPrefix) {
		return file
	}
	p := filepath.ToSlash(filepath.Clean(file))
	if len(p) >= 2 && p[1] == ':' {
		p = strings.ToLower(p[:1]) + p[1:]
	}
	return p
}
