// Package unit models state units: the named step definitions of a workflow
// directory. A unit is either prompt-backed (NAME.md) or subprocess-backed
// (NAME.sh on POSIX platforms, NAME.bat on Windows).
package unit

// Kind discriminates the two state-unit executors.
type Kind int

const (
	KindPrompt Kind = iota
	KindScript
)

func (k Kind) String() string {
	switch k {
	case KindPrompt:
		return "prompt"
	case KindScript:
		return "script"
	default:
		return "unknown"
	}
}

// State unit file extensions. The two script extensions are mutually
// exclusive per platform.
const (
	ExtPrompt        = ".md"
	ExtScriptPosix   = ".sh"
	ExtScriptWindows = ".bat"
)

// Unit is a concretely resolved state unit.
type Unit struct {
	Name string // concrete name including extension, e.g. "PLAN.md"
	Kind Kind
	Path string // location on disk inside the workflow directory
}
