package executor

import (
	"context"
	"fmt"

	"github.com/troupe-sh/troupe/internal/claude"
	"github.com/troupe-sh/troupe/internal/template"
	"github.com/troupe-sh/troupe/internal/transition"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// maxPromptAttempts caps the reminder loop: the first invocation plus up to
// two corrective re-invocations of the same session.
const maxPromptAttempts = 3

// templateVarResult is the substitution key carrying a returned call result.
const templateVarResult = "result"

func (e *Executor) runPrompt(ctx context.Context, step Step, u unit.Unit) (*Result, error) {
	agent := step.Agent

	p, err := unit.LoadPrompt(u)
	if err != nil {
		return nil, err
	}

	model := e.manifest.Model
	if p.Policy != nil && p.Policy.Model != "" {
		model = p.Policy.Model
	}

	vars := make(map[string]string, len(agent.TemplateAttrs)+1)
	for k, v := range agent.TemplateAttrs {
		vars[k] = v
	}
	if agent.PendingResult != "" {
		vars[templateVarResult] = agent.PendingResult
	}
	prompt := template.Render(p.Template, vars)

	e.publish(ctx, schema.EventStateStarted, step, map[string]any{"kind": "prompt"})

	dir := e.resolver.Dir()
	if agent.Dir != "" {
		dir = agent.Dir
	}

	session := agent.Session
	forkFrom := agent.ForkFrom
	var cost float64

	for attempt := 1; ; attempt++ {
		req := claude.InvokeRequest{
			Prompt:         prompt,
			Model:          model,
			PermissionMode: e.manifest.PermissionMode,
			Dir:            dir,
			Timeout:        e.manifest.StepTimeout,
		}
		switch {
		case forkFrom != "" && session == "":
			req.ForkFromSession = forkFrom
		case session != "":
			req.ResumeSession = session
		}

		res, err := e.invoker.Invoke(ctx, req)
		if err != nil {
			return nil, err
		}
		cost += res.CostUSD
		if res.SessionID != "" {
			session = res.SessionID
		}

		// Budget is enforced the moment the running total crosses the
		// ceiling: whatever transition the step produced is discarded.
		if step.BudgetUSD > 0 && step.PreCost+cost > step.BudgetUSD {
			e.logger.WarnContext(ctx, "budget exceeded, discarding step transition",
				"total", step.PreCost+cost, "budget", step.BudgetUSD)
			tr := budgetResult(step.PreCost+cost, step.BudgetUSD)
			e.publish(ctx, schema.EventStateCompleted, step, map[string]any{
				"cost_usd": cost, "transition": tr.String(),
			})
			return &Result{Transition: tr, Session: session, CostUSD: cost}, nil
		}

		tr, recoverable, deriveErr := e.deriveTransition(p, res.Text)
		if deriveErr == nil {
			e.publish(ctx, schema.EventStateCompleted, step, map[string]any{
				"cost_usd": cost, "transition": tr.String(), "attempts": attempt,
			})
			return &Result{Transition: tr, Session: session, CostUSD: cost}, nil
		}
		if !recoverable || !p.Policy.AllowsReprompt() || attempt >= maxPromptAttempts {
			return nil, deriveErr
		}

		e.logger.InfoContext(ctx, "re-prompting after unusable step output",
			"attempt", attempt, "cause", deriveErr.Error())
		prompt = reminderPrompt(deriveErr)
	}
}

// deriveTransition turns raw step output into one resolved, policy-checked
// transition. recoverable marks the faults the reminder loop may correct:
// zero transitions with no implicit fallback, multiple transitions, an
// unresolvable target, or a policy violation.
func (e *Executor) deriveTransition(p *unit.Prompt, text string) (schema.Transition, bool, error) {
	transitions, err := transition.Parse(text)
	if err != nil {
		return schema.Transition{}, false, err
	}

	if len(transitions) == 0 {
		if implicit, ok := p.Policy.Implicit(); ok {
			if err := e.resolveTransition(&implicit); err != nil {
				return schema.Transition{}, false, err
			}
			return implicit, false, nil
		}
		return schema.Transition{}, true, schema.NewErrorf(schema.ErrCodeParse,
			"state %q emitted no transition", p.Name)
	}

	tr, err := transition.ValidateSingle(transitions)
	if err != nil {
		return schema.Transition{}, true, err
	}

	if tr.Tag != schema.TagResult {
		if err := e.resolveTransition(&tr); err != nil {
			return schema.Transition{}, true, err
		}
	}
	if err := p.Policy.Validate(tr); err != nil {
		return schema.Transition{}, true, err
	}
	return tr, false, nil
}

func budgetResult(total, budget float64) schema.Transition {
	return schema.Transition{
		Tag:     schema.TagResult,
		Payload: fmt.Sprintf("budget exceeded: spent $%.2f of $%.2f", total, budget),
	}
}

func reminderPrompt(cause error) string {
	return fmt.Sprintf(
		"Your previous reply did not produce a usable transition: %s\n"+
			"Reply again with exactly one transition tag and nothing that could "+
			"be mistaken for another one.", cause.Error())
}
