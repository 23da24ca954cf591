package executor

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-sh/troupe/internal/claude"
	"github.com/troupe-sh/troupe/internal/store"
	"github.com/troupe-sh/troupe/internal/unit"
	"github.com/troupe-sh/troupe/pkg/schema"
)

type fakeResponse struct {
	result *claude.InvokeResult
	err    error
}

type fakeInvoker struct {
	responses []fakeResponse
	calls     []claude.InvokeRequest
}

func (f *fakeInvoker) Invoke(_ context.Context, req claude.InvokeRequest) (*claude.InvokeResult, error) {
	f.calls = append(f.calls, req)
	if len(f.responses) == 0 {
		return nil, schema.NewError(schema.ErrCodeInvocation, "fake invoker: no scripted response")
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	return resp.result, resp.err
}

func reply(text, session string, cost float64) fakeResponse {
	return fakeResponse{result: &claude.InvokeResult{Text: text, SessionID: session, CostUSD: cost}}
}

func writeUnit(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func newTestExecutor(t *testing.T, dir string, inv claude.Invoker) *Executor {
	t.Helper()
	return New(unit.NewResolver(dir), unit.DefaultManifest(), inv, nil,
		slog.New(slog.DiscardHandler))
}

func promptStep(agent *store.AgentState) Step {
	return Step{WorkflowID: "wf-1", Agent: agent}
}

func TestRunPrompt_HappyPath(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "PLAN.md", "Plan the work.")
	writeUnit(t, dir, "REVIEW.md", "Review it.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply(`All planned. <goto target="REVIEW"/>`, "sess-1", 0.02),
	}}
	e := newTestExecutor(t, dir, inv)

	res, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "PLAN.md",
	}))
	require.NoError(t, err)
	assert.Equal(t, schema.TagGoto, res.Transition.Tag)
	assert.Equal(t, "REVIEW.md", res.Transition.Target, "target resolves to the concrete unit")
	assert.Equal(t, "sess-1", res.Session)
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9)
}

func TestRunPrompt_TemplateSubstitution(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "MERGE.md", "Caller returned: ${result}. Topic: ${topic}.")

	inv := &fakeInvoker{responses: []fakeResponse{reply(`<result>ok</result>`, "s", 0)}}
	e := newTestExecutor(t, dir, inv)

	_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "MERGE.md",
		PendingResult: "all tests pass",
		TemplateAttrs: map[string]string{"topic": "auth"},
	}))
	require.NoError(t, err)
	require.Len(t, inv.calls, 1)
	assert.Equal(t, "Caller returned: all tests pass. Topic: auth.", inv.calls[0].Prompt)
}

func TestRunPrompt_SessionSemantics(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")

	t.Run("resume own session", func(t *testing.T) {
		inv := &fakeInvoker{responses: []fakeResponse{reply(`<result>done</result>`, "s2", 0)}}
		e := newTestExecutor(t, dir, inv)
		_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
			ID: "main", State: "WORK.md", Session: "s1",
		}))
		require.NoError(t, err)
		assert.Equal(t, "s1", inv.calls[0].ResumeSession)
		assert.Empty(t, inv.calls[0].ForkFromSession)
	})

	t.Run("fork from caller", func(t *testing.T) {
		inv := &fakeInvoker{responses: []fakeResponse{reply(`<result>done</result>`, "child-s", 0)}}
		e := newTestExecutor(t, dir, inv)
		_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
			ID: "main_worker1", State: "WORK.md", ForkFrom: "caller-s",
		}))
		require.NoError(t, err)
		assert.Equal(t, "caller-s", inv.calls[0].ForkFromSession)
		assert.Empty(t, inv.calls[0].ResumeSession)
	})
}

func TestRunPrompt_BudgetAlreadyExceededSkipsInvocation(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")

	inv := &fakeInvoker{}
	e := newTestExecutor(t, dir, inv)

	step := promptStep(&store.AgentState{ID: "main", State: "WORK.md", Session: "keep"})
	step.PreCost = 12.50
	step.BudgetUSD = 10.00

	res, err := e.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.Empty(t, inv.calls, "no external invocation when already over budget")
	assert.Equal(t, schema.TagResult, res.Transition.Tag)
	assert.Contains(t, res.Transition.Payload, "budget exceeded")
	assert.Equal(t, "keep", res.Session)
	assert.Zero(t, res.CostUSD)
}

func TestRunPrompt_BudgetCrossedDiscardsTransition(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")
	writeUnit(t, dir, "NEXT.md", "Next.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply(`<goto target="NEXT"/>`, "s1", 3.00),
	}}
	e := newTestExecutor(t, dir, inv)

	step := promptStep(&store.AgentState{ID: "main", State: "WORK.md"})
	step.PreCost = 8.00
	step.BudgetUSD = 10.00

	res, err := e.ExecuteStep(context.Background(), step)
	require.NoError(t, err)
	assert.Equal(t, schema.TagResult, res.Transition.Tag, "produced goto is discarded")
	assert.Contains(t, res.Transition.Payload, "budget exceeded")
	assert.InDelta(t, 3.00, res.CostUSD, 1e-9, "cost is still reported")
}

func TestRunPrompt_ReminderLoopRecovers(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")
	writeUnit(t, dir, "NEXT.md", "Next.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply("I think I am done here.", "s1", 0.01),
		reply(`<goto target="NEXT"/>`, "s1", 0.01),
	}}
	e := newTestExecutor(t, dir, inv)

	res, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.NoError(t, err)
	require.Len(t, inv.calls, 2)
	assert.Equal(t, "s1", inv.calls[1].ResumeSession, "reminder resumes the step's own session")
	assert.Contains(t, inv.calls[1].Prompt, "did not produce a usable transition")
	assert.Equal(t, "NEXT.md", res.Transition.Target)
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9, "cost accumulates across attempts")
}

func TestRunPrompt_ReminderLoopExhausts(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply("nothing", "s1", 0),
		reply("still nothing", "s1", 0),
		reply("sorry", "s1", 0),
	}}
	e := newTestExecutor(t, dir, inv)

	_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.Error(t, err)
	assert.Len(t, inv.calls, 3, "three attempts total")
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeParse, te.Code)
	assert.Equal(t, "main", te.AgentID)
}

func TestRunPrompt_RepromptDisabledFailsImmediately(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "---\nreprompt: false\n---\nDo it.")

	inv := &fakeInvoker{responses: []fakeResponse{reply("no tag here", "s1", 0)}}
	e := newTestExecutor(t, dir, inv)

	_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.Error(t, err)
	assert.Len(t, inv.calls, 1)
}

func TestRunPrompt_PolicyViolationTriggersReminder(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "---\ntransitions:\n  - goto: NEXT\n  - result:\n---\nDo it.")
	writeUnit(t, dir, "NEXT.md", "Next.")
	writeUnit(t, dir, "OTHER.md", "Other.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply(`<goto target="OTHER"/>`, "s1", 0),
		reply(`<goto target="NEXT"/>`, "s1", 0),
	}}
	e := newTestExecutor(t, dir, inv)

	res, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.NoError(t, err)
	assert.Len(t, inv.calls, 2)
	assert.Equal(t, "NEXT.md", res.Transition.Target)
}

func TestRunPrompt_ImplicitTransition(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "---\ntransitions:\n  - goto: NEXT\n---\nDo it.")
	writeUnit(t, dir, "NEXT.md", "Next.")

	inv := &fakeInvoker{responses: []fakeResponse{
		reply("All finished, moving on.", "s1", 0.01),
	}}
	e := newTestExecutor(t, dir, inv)

	res, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.NoError(t, err)
	assert.Len(t, inv.calls, 1, "implicit transition needs no reminder")
	assert.Equal(t, schema.TagGoto, res.Transition.Tag)
	assert.Equal(t, "NEXT.md", res.Transition.Target)
}

func TestRunPrompt_InvocationErrorPropagatesWithAgent(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "WORK.md", "Do it.")

	inv := &fakeInvoker{responses: []fakeResponse{{
		err: schema.NewError(schema.ErrCodeRateLimit, "usage limit reached|resets 3pm (UTC)"),
	}}}
	e := newTestExecutor(t, dir, inv)

	_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "WORK.md",
	}))
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeRateLimit, te.Code)
	assert.Equal(t, "main", te.AgentID)
}

func TestExecuteStep_UnresolvableState(t *testing.T) {
	dir := t.TempDir()
	e := newTestExecutor(t, dir, &fakeInvoker{})

	_, err := e.ExecuteStep(context.Background(), promptStep(&store.AgentState{
		ID: "main", State: "MISSING",
	}))
	require.Error(t, err)
	var te *schema.TroupeError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, schema.ErrCodeResolution, te.Code)
}
