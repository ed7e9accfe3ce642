package units

import (
	"path"
	"regexp"
	"strings"
)

// UnknownName is the bucket CurrentModule falls back to when no name can be
// detected.
const UnknownName = "unknown"

// BootstrapName is the registry's own unit.
const BootstrapName = "units"

var (
	// at fn (path/to/unit.js:12:3)
	frameParenPattern = regexp.MustCompile(`\(([^()\s]+?):\d+(?::\d+)?\)\s*$`)
	// at path/to/unit.js:12:3 or path/to/unit.js:12
	frameLinePattern = regexp.MustCompile(`^(?:at\s+)?([^\s()]+?):\d+(?::\d+)?$`)
	// path/to/unit.js
	barePathPattern = regexp.MustCompile(`^(?:at\s+)?([A-Za-z0-9_./@-]+)$`)
	// any token that looks like a file name
	fileNamePattern = regexp.MustCompile(`([A-Za-z0-9_@-]+)\.[A-Za-z]{1,4}\b`)

	reservedNames = map[string]struct{}{
		"":            {},
		BootstrapName: {},
		UnknownName:   {},
		"require":     {},
		"anonymous":   {},
		"eval":        {},
		"native":      {},
	}

	// anonymous and native frames, and frames inside the engine's own source
	// files such as "at instantiate (units/require.go:160:3)"
	internalFramePattern = regexp.MustCompile(`<anonymous>|<native>|native code|(?:^|[\s(/])units/(?:registry|require|context|identity|cycles|errors|module)\.go:\d+`)
)

// NameResolver turns origins into unit names.
type NameResolver struct {
	sourceRoots []string
	extensions  []string
}

// NewNameResolver builds a resolver that strips the given source roots and
// extensions from detected paths.
func NewNameResolver(sourceRoots, extensions []string) *NameResolver {
	roots := make([]string, 0, len(sourceRoots))
	for _, root := range sourceRoots {
		root = strings.Trim(strings.TrimSpace(root), "/")
		if root != "" {
			roots = append(roots, root+"/")
		}
	}
	exts := make([]string, 0, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimSpace(ext)
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		exts = append(exts, ext)
	}
	return &NameResolver{sourceRoots: roots, extensions: exts}
}

// DetectName resolves an origin with the default source roots and extensions.
func DetectName(origin string) (string, error) {
	return NewNameResolver(defaultSourceRoots, defaultExtensions).Detect(origin)
}

// Detect walks the frames of origin, most recent first, and returns the first
// usable unit name.
func (r *NameResolver) Detect(origin string) (string, error) {
	for _, frame := range strings.Split(origin, "\n") {
		frame = strings.TrimSpace(frame)
		if frame == "" || isInternalFrame(frame) {
			continue
		}
		if name, ok := r.nameFromFrame(frame); ok {
			return name, nil
		}
		// Only the first non-internal frame is considered.
		break
	}
	return "", &NameDetectionError{Origin: origin}
}

func (r *NameResolver) nameFromFrame(frame string) (string, bool) {
	var candidates []string
	if m := frameParenPattern.FindStringSubmatch(frame); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := frameLinePattern.FindStringSubmatch(frame); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := barePathPattern.FindStringSubmatch(frame); m != nil {
		candidates = append(candidates, m[1])
	}
	for _, candidate := range candidates {
		if name := r.clean(candidate); isUsableName(name) {
			return name, true
		}
	}
	if m := fileNamePattern.FindStringSubmatch(frame); m != nil {
		if name := r.clean(m[0]); isUsableName(name) {
			return name, true
		}
	}
	return "", false
}

func (r *NameResolver) clean(raw string) string {
	name := strings.ReplaceAll(strings.TrimSpace(raw), "\\", "/")
	name = strings.TrimPrefix(name, "file://")
	for strings.HasPrefix(name, "./") {
		name = name[2:]
	}
	name = strings.TrimLeft(name, "/")
	for _, root := range r.sourceRoots {
		if strings.HasPrefix(name, root) {
			name = strings.TrimPrefix(name, root)
			break
		}
	}
	name = r.stripExtension(name)
	if name == "" {
		return ""
	}
	cleaned := path.Clean(name)
	if cleaned == "." || strings.HasPrefix(cleaned, "../") || cleaned == ".." {
		return ""
	}
	return cleaned
}

func (r *NameResolver) stripExtension(name string) string {
	for _, ext := range r.extensions {
		if strings.HasSuffix(name, ext) && len(name) > len(ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func isInternalFrame(frame string) bool {
	return internalFramePattern.MatchString(frame)
}

func isUsableName(name string) bool {
	if _, reserved := reservedNames[name]; reserved {
		return false
	}
	return !strings.ContainsAny(name, " \t:()")
}
