package unit

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// Resolver maps abstract or explicit state names to concrete units inside one
// workflow directory (the scope).
type Resolver struct {
	dir     string
	windows bool
}

// NewResolver creates a resolver for the given workflow directory, using the
// running platform's script extension.
func NewResolver(dir string) *Resolver {
	return newResolver(dir, runtime.GOOS == "windows")
}

func newResolver(dir string, windows bool) *Resolver {
	return &Resolver{dir: dir, windows: windows}
}

// Dir returns the workflow directory this resolver is scoped to.
func (r *Resolver) Dir() string { return r.dir }

func (r *Resolver) scriptExt() string {
	if r.windows {
		return ExtScriptWindows
	}
	return ExtScriptPosix
}

func (r *Resolver) foreignScriptExt() string {
	if r.windows {
		return ExtScriptPosix
	}
	return ExtScriptWindows
}

// Resolve maps a state name to a concrete unit. An explicit extension must
// exist and be valid on the running platform. An abstract (extensionless)
// name tries the prompt unit and the platform-appropriate script unit; both
// existing is ambiguous.
func (r *Resolver) Resolve(name string) (Unit, error) {
	if name == "" {
		return Unit{}, schema.NewError(schema.ErrCodeResolution, "empty state name")
	}
	if strings.ContainsAny(name, `/\`) {
		return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
			"state name %q must not contain path separators", name)
	}

	if ext := filepath.Ext(name); ext != "" {
		return r.resolveExplicit(name, ext)
	}
	return r.resolveAbstract(name)
}

func (r *Resolver) resolveExplicit(name, ext string) (Unit, error) {
	switch ext {
	case ExtPrompt:
		if !r.exists(name) {
			return Unit{}, r.notFound(name)
		}
		return r.unit(name, KindPrompt), nil
	case r.scriptExt():
		if !r.exists(name) {
			return Unit{}, r.notFound(name)
		}
		return r.unit(name, KindScript), nil
	case r.foreignScriptExt():
		return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
			"state %q uses %s scripts, which do not run on %s", name, ext, r.platformName())
	default:
		return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
			"state %q has unsupported extension %q", name, ext)
	}
}

func (r *Resolver) resolveAbstract(name string) (Unit, error) {
	promptName := name + ExtPrompt
	scriptName := name + r.scriptExt()

	promptExists := r.exists(promptName)
	scriptExists := r.exists(scriptName)

	switch {
	case promptExists && scriptExists:
		return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
			"state %q is ambiguous: both %s and %s exist", name, promptName, scriptName)
	case promptExists:
		return r.unit(promptName, KindPrompt), nil
	case scriptExists:
		return r.unit(scriptName, KindScript), nil
	}

	// A wrong-platform script should produce a pointed error rather than a
	// generic miss.
	if foreign := name + r.foreignScriptExt(); r.exists(foreign) {
		return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
			"state %q only exists as %s, which does not run on %s", name, foreign, r.platformName())
	}

	return Unit{}, schema.NewErrorf(schema.ErrCodeResolution,
		"no state unit named %q (looked for %s and %s)", name, promptName, scriptName)
}

func (r *Resolver) unit(name string, kind Kind) Unit {
	return Unit{Name: name, Kind: kind, Path: filepath.Join(r.dir, name)}
}

func (r *Resolver) exists(name string) bool {
	info, err := os.Stat(filepath.Join(r.dir, name))
	return err == nil && info.Mode().IsRegular()
}

func (r *Resolver) notFound(name string) error {
	return schema.NewErrorf(schema.ErrCodeResolution, "no state unit named %q", name)
}

func (r *Resolver) platformName() string {
	if r.windows {
		return "Windows"
	}
	return "non-Windows platforms"
}

// Base strips the unit extension from a concrete state name. Fork child id
// prefixes and abstract policy matching both work on the base name.
func Base(name string) string {
	if idx := strings.LastIndex(name, "."); idx > 0 {
		return name[:idx]
	}
	return name
}
