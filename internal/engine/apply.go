package engine

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// forkPrefixLen is how much of the target's base name goes into a fork
// child's id.
const forkPrefixLen = 6

// Outcome is the effect of applying one transition to an agent.
type Outcome struct {
	Agent      *store.AgentState // updated agent; nil when terminated
	Child      *store.AgentState // sibling spawned by fork
	Terminated bool
	Payload    string // result payload, kept for lifecycle reporting
}

// Apply runs one transition against an isolated copy of the agent. The
// one-shot transient fields are cleared first so every handler starts clean;
// session is the resume handle produced by the step (empty for scripts,
// which leave the session untouched). Fork child ids are allocated from the
// workflow's monotonic per-parent counters.
func Apply(wf *store.WorkflowState, agent *store.AgentState, tr schema.Transition,
	session string, logger *slog.Logger) (*Outcome, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cp := agent.Clone()
	cp.ClearTransient()
	cp.Retries = 0
	if session != "" {
		cp.Session = session
	}

	switch tr.Tag {
	case schema.TagGoto:
		// Directory overrides belong to reset and fork; goto only moves state.
		cp.State = tr.Target

	case schema.TagReset:
		if n := len(cp.Stack); n > 0 {
			logger.Warn("reset discards call frames", "agent", cp.ID, "frames", n)
		}
		cp.State = tr.Target
		cp.Session = ""
		cp.Stack = nil
		cp.Dir = resolveDir(cp.Dir, wf.Dir, tr.Cd())

	case schema.TagFunction:
		cp.PushFrame(store.Frame{CallerSession: cp.Session, ReturnState: tr.Return()})
		cp.Session = ""
		cp.State = tr.Target

	case schema.TagCall:
		// Same frame shape as function, but the callee branches off the
		// caller's history instead of starting from nothing.
		cp.PushFrame(store.Frame{CallerSession: cp.Session, ReturnState: tr.Return()})
		cp.ForkFrom = cp.Session
		cp.Session = ""
		cp.State = tr.Target

	case schema.TagFork:
		child := &store.AgentState{
			ID:            forkChildID(wf, cp.ID, tr.Target),
			State:         tr.Target,
			Status:        schema.AgentStatusActive,
			Dir:           resolveDir(cp.Dir, wf.Dir, tr.Cd()),
			TemplateAttrs: tr.ExtraAttrs(),
		}
		cp.State = tr.Next()
		return &Outcome{Agent: cp, Child: child}, nil

	case schema.TagResult:
		frame, ok := cp.PopFrame()
		if !ok {
			return &Outcome{Terminated: true, Payload: tr.Payload}, nil
		}
		cp.Session = frame.CallerSession
		cp.State = frame.ReturnState
		cp.PendingResult = tr.Payload

	default:
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"unknown transition tag %q", tr.Tag)
	}

	return &Outcome{Agent: cp}, nil
}

// forkChildID builds `{parent}_{prefix}{seq}` from the target's base name and
// the parent's monotonic fork counter.
func forkChildID(wf *store.WorkflowState, parentID, target string) string {
	prefix := strings.ToLower(unit.Base(target))
	if len(prefix) > forkPrefixLen {
		prefix = prefix[:forkPrefixLen]
	}
	return fmt.Sprintf("%s_%s%d", parentID, prefix, wf.NextForkSeq(parentID))
}

// resolveDir applies an optional cd override relative to the agent's current
// directory (or the workflow directory if unset), returning an absolute,
// cleaned path. An empty cd keeps the current override.
func resolveDir(current, workflowDir, cd string) string {
	if cd == "" {
		return current
	}
	if filepath.IsAbs(cd) {
		return filepath.Clean(cd)
	}
	base := current
	if base == "" {
		base = workflowDir
	}
	return filepath.Clean(filepath.Join(base, cd))
}
