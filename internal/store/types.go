package store

import (
	"time"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// Frame is one saved call/return pair on an agent's stack. Pushed by
// function and call transitions, popped by result.
type Frame struct {
	CallerSession string `json:"caller_session,omitempty"`
	ReturnState   string `json:"return_state"`
}

// AgentState is the durable record of one agent: an independently-scheduled,
// stateful sequence of state-unit executions within a workflow.
type AgentState struct {
	ID      string             `json:"id"`
	State   string             `json:"state"`             // concrete state-unit name
	Session string             `json:"session,omitempty"` // opaque backend resume handle
	Stack   []Frame            `json:"stack,omitempty"`   // LIFO; last element is the top
	Status  schema.AgentStatus `json:"status"`
	Retries int                `json:"retries,omitempty"`
	Dir     string             `json:"dir,omitempty"` // working-directory override, absolute

	// PauseReason keeps the raw provider message that paused the agent so the
	// limit-wait helper can parse a reset time out of it.
	PauseReason string `json:"pause_reason,omitempty"`

	// One-shot transient fields, consumed by the next step and cleared before
	// each transition is applied.
	PendingResult string            `json:"pending_result,omitempty"`
	ForkFrom      string            `json:"fork_from,omitempty"` // branch next invocation from this session
	TemplateAttrs map[string]string `json:"template_attrs,omitempty"`
}

// ClearTransient zeroes the one-shot fields. Every transition handler starts
// from a cleared agent.
func (a *AgentState) ClearTransient() {
	a.PendingResult = ""
	a.ForkFrom = ""
	a.TemplateAttrs = nil
}

// Clone returns a deep copy. Step tasks operate on copies; only the
// scheduler mutates the authoritative state.
func (a *AgentState) Clone() *AgentState {
	cp := *a
	if a.Stack != nil {
		cp.Stack = make([]Frame, len(a.Stack))
		copy(cp.Stack, a.Stack)
	}
	if a.TemplateAttrs != nil {
		cp.TemplateAttrs = make(map[string]string, len(a.TemplateAttrs))
		for k, v := range a.TemplateAttrs {
			cp.TemplateAttrs[k] = v
		}
	}
	return &cp
}

// PushFrame records a caller frame on top of the stack.
func (a *AgentState) PushFrame(f Frame) {
	a.Stack = append(a.Stack, f)
}

// PopFrame removes and returns the top frame. ok is false on an empty stack.
func (a *AgentState) PopFrame() (Frame, bool) {
	if len(a.Stack) == 0 {
		return Frame{}, false
	}
	f := a.Stack[len(a.Stack)-1]
	a.Stack = a.Stack[:len(a.Stack)-1]
	return f, true
}

// WorkflowState is the single source of truth for one workflow run. It is
// owned exclusively by the scheduler goroutine and persisted as a complete
// snapshot after each applied batch.
type WorkflowState struct {
	ID         string         `json:"id"`
	Dir        string         `json:"dir"` // scope locator: the workflow directory
	Agents     []*AgentState  `json:"agents"`
	TotalCost  float64        `json:"total_cost"`
	BudgetUSD  float64        `json:"budget_usd,omitempty"`
	ForkCounts map[string]int `json:"fork_counts,omitempty"` // per-parent, monotonic, never reused
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Agent returns the agent with the given id, or nil.
func (w *WorkflowState) Agent(id string) *AgentState {
	for _, a := range w.Agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// ReplaceAgent swaps the stored agent with the same id for updated. The
// completed task's agent is never held in two versions at once.
func (w *WorkflowState) ReplaceAgent(updated *AgentState) {
	for i, a := range w.Agents {
		if a.ID == updated.ID {
			w.Agents[i] = updated
			return
		}
	}
	w.Agents = append(w.Agents, updated)
}

// RemoveAgent drops the agent with the given id.
func (w *WorkflowState) RemoveAgent(id string) {
	for i, a := range w.Agents {
		if a.ID == id {
			w.Agents = append(w.Agents[:i], w.Agents[i+1:]...)
			return
		}
	}
}

// NextForkSeq increments and returns the parent's fork counter. Counters
// survive child termination so historical ids are never reissued.
func (w *WorkflowState) NextForkSeq(parentID string) int {
	if w.ForkCounts == nil {
		w.ForkCounts = make(map[string]int)
	}
	w.ForkCounts[parentID]++
	return w.ForkCounts[parentID]
}

// Budgeted reports whether a cost ceiling is set.
func (w *WorkflowState) Budgeted() bool { return w.BudgetUSD > 0 }

// OverBudget reports whether the running total has exceeded the ceiling.
func (w *WorkflowState) OverBudget() bool {
	return w.Budgeted() && w.TotalCost > w.BudgetUSD
}
