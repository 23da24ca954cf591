// Package executor runs single steps: one state-unit execution for one agent,
// producing exactly one transition. Executors are pure with respect to shared
// state; they receive an agent copy and return values for the scheduler to
// apply.
package executor

import (
	"context"
	"log/slog"

	"github.com/troupe-sh/troupe/internal/claude"
	"github.com/troupe-sh/troupe/internal/events"
	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// Step is the input to one step execution. Agent is a clone; the scheduler
// keeps the authoritative record.
type Step struct {
	WorkflowID string
	Agent      *store.AgentState
	PreCost    float64 // workflow total cost before this step
	BudgetUSD  float64 // <= 0 means unlimited
}

// Result is the outcome of a completed step. Session is the updated resume
// handle; scripts leave it empty so the agent's session is untouched.
type Result struct {
	Transition schema.Transition
	Session    string
	CostUSD    float64
}

// Executor dispatches steps to the prompt or script runner by unit kind.
type Executor struct {
	resolver *unit.Resolver
	manifest *unit.Manifest
	invoker  claude.Invoker
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates an executor scoped to one workflow directory.
func New(resolver *unit.Resolver, manifest *unit.Manifest, invoker claude.Invoker,
	bus *events.Bus, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		resolver: resolver,
		manifest: manifest,
		invoker:  invoker,
		bus:      bus,
		logger:   logger,
	}
}

// ExecuteStep resolves the agent's current state to a concrete unit and runs
// it. Errors carry the agent id for scheduler-side classification.
func (e *Executor) ExecuteStep(ctx context.Context, step Step) (*Result, error) {
	// An agent already over budget is forced straight to a result transition
	// before its state is even resolved: no invocation, no subprocess.
	if step.BudgetUSD > 0 && step.PreCost > step.BudgetUSD {
		e.logger.WarnContext(ctx, "budget exceeded before step, forcing result",
			"agent", step.Agent.ID, "pre_cost", step.PreCost, "budget", step.BudgetUSD)
		return &Result{
			Transition: budgetResult(step.PreCost, step.BudgetUSD),
			Session:    step.Agent.Session,
		}, nil
	}

	u, err := e.resolver.Resolve(step.Agent.State)
	if err != nil {
		return nil, withAgent(err, step.Agent.ID)
	}

	var res *Result
	switch u.Kind {
	case unit.KindPrompt:
		res, err = e.runPrompt(ctx, step, u)
	case unit.KindScript:
		res, err = e.runScript(ctx, step, u)
	default:
		err = schema.NewErrorf(schema.ErrCodeResolution, "state %q has unknown kind", u.Name)
	}
	if err != nil {
		return nil, withAgent(err, step.Agent.ID)
	}
	return res, nil
}

// resolveTransition rewrites the transition's state names (target, return,
// next) to their concretely resolved forms, verifying each unit exists.
func (e *Executor) resolveTransition(tr *schema.Transition) error {
	resolved, err := e.resolver.Resolve(tr.Target)
	if err != nil {
		return err
	}
	tr.Target = resolved.Name

	for _, attr := range []string{schema.AttrReturn, schema.AttrNext} {
		name, ok := tr.Attrs[attr]
		if !ok || name == "" {
			continue
		}
		resolved, err := e.resolver.Resolve(name)
		if err != nil {
			return err
		}
		tr.Attrs[attr] = resolved.Name
	}
	return nil
}

func (e *Executor) publish(ctx context.Context, eventType string, step Step, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(ctx, events.Event{
		Type:       eventType,
		WorkflowID: step.WorkflowID,
		AgentID:    step.Agent.ID,
		State:      step.Agent.State,
		Payload:    payload,
	})
}

func withAgent(err error, agentID string) error {
	if te, ok := err.(*schema.TroupeError); ok && te.AgentID == "" {
		return te.WithAgent(agentID)
	}
	return err
}
