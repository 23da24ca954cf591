package executor

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/troupe-sh/troupe/internal/transition"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// Environment variable contract for script units.
const (
	envWorkflowID = "TROUPE_WORKFLOW_ID"
	envAgentID    = "TROUPE_AGENT_ID"
	envState      = "TROUPE_STATE"
	envResult     = "TROUPE_RESULT"
	envAttrPrefix = "TROUPE_ATTR_"
)

// runScript executes a script unit. Scripts cost nothing, leave the agent's
// session untouched, and get no reminder loop: any failure is a script error,
// which the scheduler treats as workflow-fatal.
func (e *Executor) runScript(ctx context.Context, step Step, u unit.Unit) (*Result, error) {
	agent := step.Agent

	e.publish(ctx, schema.EventStateStarted, step, map[string]any{"kind": "script"})

	if e.manifest.StepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.manifest.StepTimeout)
		defer cancel()
	}

	cmd := scriptCommand(ctx, u.Path)
	cmd.Dir = e.resolver.Dir()
	if agent.Dir != "" {
		cmd.Dir = agent.Dir
	}
	cmd.Env = scriptEnv(step)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() == context.DeadlineExceeded {
		return nil, schema.NewErrorf(schema.ErrCodeScript,
			"script %q exceeded %s", u.Name, e.manifest.StepTimeout)
	}
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScript,
			"script %q failed: %v: %s", u.Name, err, tailOf(stderr.String(), 500)).WithCause(err)
	}

	transitions, err := transition.Parse(stdout.String())
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeScript,
			"script %q output: %s", u.Name, err.Error()).WithCause(err)
	}
	if len(transitions) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeScript,
			"script %q emitted %d transitions, want exactly 1", u.Name, len(transitions))
	}

	tr := transitions[0]
	if tr.Tag != schema.TagResult {
		// Scripts get no reminder loop, so a bad target is an authoring
		// fault like any other script failure.
		if err := e.resolveTransition(&tr); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeScript,
				"script %q transition: %s", u.Name, err.Error()).WithCause(err)
		}
	}

	e.publish(ctx, schema.EventStateCompleted, step, map[string]any{
		"kind": "script", "transition": tr.String(),
	})
	return &Result{Transition: tr}, nil
}

// scriptCommand builds the platform-appropriate interpreter invocation.
func scriptCommand(ctx context.Context, path string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/c", path)
	}
	return exec.CommandContext(ctx, "sh", path)
}

// scriptEnv extends the parent environment with the step's context: workflow
// and agent ids, the state name, any pending returned result, and one
// TROUPE_ATTR_<NAME> entry per template attribute.
func scriptEnv(step Step) []string {
	env := os.Environ()
	env = append(env,
		envWorkflowID+"="+step.WorkflowID,
		envAgentID+"="+step.Agent.ID,
		envState+"="+step.Agent.State,
	)
	if step.Agent.PendingResult != "" {
		env = append(env, envResult+"="+step.Agent.PendingResult)
	}
	for key, val := range step.Agent.TemplateAttrs {
		env = append(env, envAttrPrefix+strings.ToUpper(key)+"="+val)
	}
	return env
}

func tailOf(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
