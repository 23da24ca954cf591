// Package engine drives workflow runs: a single coordinating goroutine
// schedules one step task per active agent on a bounded pool, rendezvouses on
// first completion, applies transitions, and persists one atomic snapshot per
// iteration.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/troupe-sh/troupe/internal/events"
	"github.com/troupe-sh/troupe/internal/executor"
	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

// StepRunner executes one step for one agent. Satisfied by
// *executor.Executor; tests substitute fakes.
type StepRunner interface {
	ExecuteStep(ctx context.Context, step executor.Step) (*executor.Result, error)
}

// completion is one finished step task, delivered on the shared channel.
type completion struct {
	agentID string
	res     *executor.Result
	err     error
}

// SchedulerConfig wires a scheduler. Sleep and Now default to the real clock
// and exist for tests.
type SchedulerConfig struct {
	Workflow *store.WorkflowState
	Runner   StepRunner
	Store    store.Store
	Bus      *events.Bus
	Manifest *unit.Manifest
	Logger   *slog.Logger
	DataDir  string
	Sleep    func(ctx context.Context, d time.Duration) error
	Now      func() time.Time
}

// Scheduler owns one workflow run. It is the sole writer of the in-memory
// WorkflowState and of durable storage; step tasks operate on agent copies
// and communicate back through the completion channel only.
type Scheduler struct {
	wf       *store.WorkflowState
	runner   StepRunner
	st       store.Store
	bus      *events.Bus
	manifest *unit.Manifest
	logger   *slog.Logger
	dataDir  string
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
}

// NewScheduler creates a scheduler from the config, applying defaults.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	s := &Scheduler{
		wf:       cfg.Workflow,
		runner:   cfg.Runner,
		st:       cfg.Store,
		bus:      cfg.Bus,
		manifest: cfg.Manifest,
		logger:   cfg.Logger,
		dataDir:  cfg.DataDir,
		sleep:    cfg.Sleep,
		now:      cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.sleep == nil {
		s.sleep = sleepCtx
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Run drives the workflow until it completes, pauses, or aborts. On a
// returned error the durable record is retained so the run can be inspected
// or resumed; the accompanying status is Paused.
func (s *Scheduler) Run(ctx context.Context) (schema.WorkflowStatus, error) {
	taskCtx, cancelTasks := context.WithCancel(ctx)
	defer cancelTasks()

	maxParallel := s.manifest.MaxParallel
	if maxParallel <= 0 {
		maxParallel = 1
	}
	pool := NewTaskPool(maxParallel)
	defer pool.Shutdown()

	inflight := make(map[string]struct{})
	// Capacity covers every in-flight task so a completing task never blocks
	// on delivery while the scheduler is launching.
	results := make(chan completion, maxParallel)

	s.publish(ctx, schema.EventWorkflowStarted, "", "", map[string]any{
		"agents": len(s.wf.Agents),
	})

	for {
		// (1) No agents left: the run is complete and the record goes away.
		if len(s.wf.Agents) == 0 {
			if err := s.st.Delete(ctx, s.wf.ID); err != nil {
				s.logger.Warn("delete completed workflow record", "error", err)
			}
			s.publish(ctx, schema.EventWorkflowCompleted, "", "", map[string]any{
				"total_cost": s.wf.TotalCost,
			})
			return schema.WorkflowStatusCompleted, nil
		}

		// (2) Everyone paused: try auto-wait, otherwise exit Paused.
		if s.allPaused() {
			resumed, err := s.tryAutoWait(ctx)
			if err != nil {
				return schema.WorkflowStatusPaused, err
			}
			if !resumed {
				if err := s.persist(ctx); err != nil {
					return s.abort(ctx, cancelTasks, inflight, results, err)
				}
				s.publish(ctx, schema.EventWorkflowPaused, "", "", nil)
				return schema.WorkflowStatusPaused, nil
			}
			continue
		}

		// (3) Exactly one outstanding task per active agent, up to the pool
		// bound. An agent is never re-entered while its own task is in
		// flight.
		for _, agent := range s.wf.Agents {
			if len(inflight) >= maxParallel {
				break
			}
			if agent.Status != schema.AgentStatusActive {
				continue
			}
			if _, busy := inflight[agent.ID]; busy {
				continue
			}
			step := executor.Step{
				WorkflowID: s.wf.ID,
				Agent:      agent.Clone(),
				PreCost:    s.wf.TotalCost,
				BudgetUSD:  s.wf.BudgetUSD,
			}
			id := agent.ID
			if err := pool.Submit(taskCtx, func(tctx context.Context) {
				res, err := s.runner.ExecuteStep(tctx, step)
				results <- completion{agentID: id, res: res, err: err}
			}); err != nil {
				return s.abort(ctx, cancelTasks, inflight, results, err)
			}
			inflight[id] = struct{}{}
		}

		// (4) First-completion rendezvous.
		var first completion
		select {
		case first = <-results:
		case <-ctx.Done():
			return s.abort(ctx, cancelTasks, inflight, results, ctx.Err())
		}

		// (5) Drain whatever else is already done and apply as one batch.
		// Every drained completion leaves inflight immediately: abort must
		// never wait on the channel for a completion this batch already holds.
		batch := []completion{first}
		delete(inflight, first.agentID)
	drain:
		for {
			select {
			case c := <-results:
				batch = append(batch, c)
				delete(inflight, c.agentID)
			default:
				break drain
			}
		}
		for _, c := range batch {
			if err := s.applyCompletion(ctx, c); err != nil {
				return s.abort(ctx, cancelTasks, inflight, results, err)
			}
		}

		// (6) One atomic snapshot per applied batch.
		if err := s.persist(ctx); err != nil {
			return s.abort(ctx, cancelTasks, inflight, results, err)
		}
	}
}

// applyCompletion folds one finished task into the workflow state. A
// returned error is workflow-fatal.
func (s *Scheduler) applyCompletion(ctx context.Context, c completion) error {
	agent := s.wf.Agent(c.agentID)
	if agent == nil {
		s.logger.Warn("completion for unknown agent", "agent", c.agentID)
		return nil
	}
	if c.err != nil {
		return s.applyFailure(ctx, agent, c.err)
	}

	res := c.res
	s.wf.TotalCost += res.CostUSD
	s.publish(ctx, schema.EventTransition, agent.ID, agent.State, map[string]any{
		"transition": res.Transition.String(),
		"cost_usd":   res.CostUSD,
	})

	outcome, err := Apply(s.wf, agent, res.Transition, res.Session, s.logger)
	if err != nil {
		return err
	}

	if outcome.Terminated {
		s.wf.RemoveAgent(agent.ID)
		s.publish(ctx, schema.EventAgentTerminated, agent.ID, agent.State, map[string]any{
			"result": outcome.Payload,
		})
		return nil
	}
	s.wf.ReplaceAgent(outcome.Agent)
	if outcome.Child != nil {
		s.wf.ReplaceAgent(outcome.Child)
		s.publish(ctx, schema.EventAgentSpawned, outcome.Child.ID, outcome.Child.State, map[string]any{
			"parent": outcome.Agent.ID,
		})
	}
	return nil
}

// applyFailure absorbs per-agent failures into state mutations; only
// workflow-fatal conditions come back as errors.
func (s *Scheduler) applyFailure(ctx context.Context, agent *store.AgentState, stepErr error) error {
	disp := Classify(stepErr, agent.Retries)
	s.logger.Warn("step failed",
		"agent", agent.ID, "state", agent.State,
		"disposition", disp.String(), "error", stepErr)

	switch disp {
	case DispositionRetry:
		agent.Retries++
		return nil

	case DispositionPause:
		agent.Status = schema.AgentStatusPaused
		agent.PauseReason = errMessage(stepErr)
		agent.Retries = 0
		s.publish(ctx, schema.EventAgentPaused, agent.ID, agent.State, map[string]any{
			"reason": agent.PauseReason,
		})
		return nil

	case DispositionFailAgent:
		path := WriteDiagnostic(s.dataDir, s.wf.ID, agent.ID, agent.State, stepErr)
		s.wf.RemoveAgent(agent.ID)
		s.publish(ctx, schema.EventAgentTerminated, agent.ID, agent.State, map[string]any{
			"error":      stepErr.Error(),
			"diagnostic": path,
		})
		return nil

	default:
		return stepErr
	}
}

// abort cancels every in-flight task, awaits them so no subprocess is
// orphaned, writes a diagnostic, persists what we have, and propagates cause.
func (s *Scheduler) abort(ctx context.Context, cancelTasks context.CancelFunc,
	inflight map[string]struct{}, results chan completion, cause error) (schema.WorkflowStatus, error) {
	cancelTasks()
	for len(inflight) > 0 {
		c := <-results
		delete(inflight, c.agentID)
	}

	agentID, state := "", ""
	var te *schema.TroupeError
	if errors.As(cause, &te) {
		agentID = te.AgentID
		if a := s.wf.Agent(agentID); a != nil {
			state = a.State
		}
	}
	path := WriteDiagnostic(s.dataDir, s.wf.ID, agentID, state, cause)
	s.publish(ctx, schema.EventError, agentID, state, map[string]any{
		"error":      cause.Error(),
		"diagnostic": path,
	})
	if err := s.persist(context.WithoutCancel(ctx)); err != nil {
		s.logger.Error("persist during abort", "error", err)
	}
	return schema.WorkflowStatusPaused, cause
}

// tryAutoWait handles a fully-paused workflow: if auto-wait is enabled and
// every pause reason parses to a reset time, sleep until the latest reset
// plus buffer and reactivate everyone.
func (s *Scheduler) tryAutoWait(ctx context.Context) (bool, error) {
	if !s.manifest.AutoWait {
		return false, nil
	}
	msgs := make([]string, 0, len(s.wf.Agents))
	for _, a := range s.wf.Agents {
		msgs = append(msgs, a.PauseReason)
	}
	target, ok := WaitTarget(msgs, s.now())
	if !ok {
		return false, nil
	}

	if err := s.persist(ctx); err != nil {
		return false, err
	}
	s.publish(ctx, schema.EventWorkflowWaiting, "", "", map[string]any{
		"until": target,
	})
	s.logger.Info("all agents rate limited, waiting for reset", "until", target)
	if d := target.Sub(s.now()); d > 0 {
		if err := s.sleep(ctx, d); err != nil {
			return false, err
		}
	}

	for _, a := range s.wf.Agents {
		a.Status = schema.AgentStatusActive
		a.PauseReason = ""
	}
	s.publish(ctx, schema.EventWorkflowResuming, "", "", nil)
	return true, nil
}

func (s *Scheduler) allPaused() bool {
	for _, a := range s.wf.Agents {
		if a.Status != schema.AgentStatusPaused {
			return false
		}
	}
	return len(s.wf.Agents) > 0
}

func (s *Scheduler) persist(ctx context.Context) error {
	s.wf.UpdatedAt = s.now()
	return s.st.Write(ctx, s.wf)
}

func (s *Scheduler) publish(ctx context.Context, eventType, agentID, state string, payload map[string]any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.Event{
		Type:       eventType,
		WorkflowID: s.wf.ID,
		AgentID:    agentID,
		State:      state,
		Payload:    payload,
	})
}

func errMessage(err error) string {
	var te *schema.TroupeError
	if errors.As(err, &te) {
		return te.Message
	}
	return err.Error()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
