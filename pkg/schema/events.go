package schema

// Event type constants for the lifecycle event bus.
const (
	EventWorkflowStarted   = "workflow_started"
	EventWorkflowCompleted = "workflow_completed"
	EventWorkflowPaused    = "workflow_paused"
	EventWorkflowWaiting   = "workflow_waiting"
	EventWorkflowResuming  = "workflow_resuming"

	EventStateStarted   = "state_started"
	EventStateCompleted = "state_completed"

	EventTransition = "transition"

	EventAgentSpawned    = "agent_spawned"
	EventAgentTerminated = "agent_terminated"
	EventAgentPaused     = "agent_paused"

	EventError = "error"
)

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusRunning   WorkflowStatus = "running"
	WorkflowStatusPaused    WorkflowStatus = "paused"
	WorkflowStatusCompleted WorkflowStatus = "completed"
)

// AgentStatus represents the lifecycle state of a single agent.
type AgentStatus string

const (
	AgentStatusActive AgentStatus = "active"
	AgentStatusPaused AgentStatus = "paused"
	AgentStatusFailed AgentStatus = "failed"
)

// ValidWorkflowTransitions defines the allowed status transitions for workflows.
// Paused and Completed are terminal for a single invocation of the loop; a
// paused workflow re-enters Running on the next invocation.
var ValidWorkflowTransitions = map[WorkflowStatus][]WorkflowStatus{
	WorkflowStatusRunning:   {WorkflowStatusPaused, WorkflowStatusCompleted},
	WorkflowStatusPaused:    {WorkflowStatusRunning},
	WorkflowStatusCompleted: {},
}

// ValidAgentTransitions defines the allowed status transitions for agents.
var ValidAgentTransitions = map[AgentStatus][]AgentStatus{
	AgentStatusActive: {AgentStatusPaused, AgentStatusFailed},
	AgentStatusPaused: {AgentStatusActive},
	AgentStatusFailed: {},
}

// CanTransitionWorkflow reports whether a workflow status change is legal.
func CanTransitionWorkflow(from, to WorkflowStatus) bool {
	for _, a := range ValidWorkflowTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

// CanTransitionAgent reports whether an agent status change is legal.
func CanTransitionAgent(from, to AgentStatus) bool {
	for _, a := range ValidAgentTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
