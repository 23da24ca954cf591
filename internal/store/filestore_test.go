package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-sh/troupe/pkg/schema"
)

func sampleState(id string) *WorkflowState {
	return &WorkflowState{
		ID:  id,
		Dir: "/work/demo",
		Agents: []*AgentState{
			{
				ID:     "main",
				State:  "PLAN.md",
				Status: schema.AgentStatusActive,
				Stack:  []Frame{{CallerSession: "sess-1", ReturnState: "MERGE.md"}},
			},
		},
		TotalCost:  1.25,
		BudgetUSD:  10,
		ForkCounts: map[string]int{"main": 2},
	}
}

func TestFileStore_WriteReadRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	want := sampleState("wf-1")
	require.NoError(t, s.Write(ctx, want))

	got, err := s.Read(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Agents[0].Stack, got.Agents[0].Stack)
	assert.Equal(t, want.ForkCounts, got.ForkCounts)
	assert.Equal(t, want.TotalCost, got.TotalCost)
}

func TestFileStore_ReadMissing(t *testing.T) {
	s := NewFileStore(t.TempDir())
	_, err := s.Read(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_WriteLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	s := NewFileStore(dir)
	require.NoError(t, s.Write(context.Background(), sampleState("wf-1")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "wf-1.json", entries[0].Name())
}

func TestFileStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(t.TempDir())

	require.NoError(t, s.Write(ctx, sampleState("wf-a")))
	require.NoError(t, s.Write(ctx, sampleState("wf-b")))

	ids, err := s.List(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"wf-a", "wf-b"}, ids)

	require.NoError(t, s.Delete(ctx, "wf-a"))
	require.NoError(t, s.Delete(ctx, "wf-a")) // idempotent

	ids, err = s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"wf-b"}, ids)
}

func TestFileStore_ListMissingDir(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "never-created"))
	ids, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAgentState_ClearTransient(t *testing.T) {
	a := &AgentState{
		ID:            "main",
		PendingResult: "done",
		ForkFrom:      "sess-9",
		TemplateAttrs: map[string]string{"topic": "auth"},
	}
	a.ClearTransient()
	assert.Empty(t, a.PendingResult)
	assert.Empty(t, a.ForkFrom)
	assert.Nil(t, a.TemplateAttrs)
}

func TestAgentState_CloneIsDeep(t *testing.T) {
	a := &AgentState{
		ID:            "main",
		Stack:         []Frame{{ReturnState: "A.md"}},
		TemplateAttrs: map[string]string{"k": "v"},
	}
	cp := a.Clone()
	cp.Stack[0].ReturnState = "B.md"
	cp.TemplateAttrs["k"] = "changed"
	assert.Equal(t, "A.md", a.Stack[0].ReturnState)
	assert.Equal(t, "v", a.TemplateAttrs["k"])
}

func TestWorkflowState_NextForkSeqMonotonic(t *testing.T) {
	w := &WorkflowState{ID: "wf"}
	assert.Equal(t, 1, w.NextForkSeq("main"))
	assert.Equal(t, 2, w.NextForkSeq("main"))
	assert.Equal(t, 1, w.NextForkSeq("other"))
	// Counters are not tied to the live agent set.
	assert.Equal(t, 3, w.NextForkSeq("main"))
}

func TestWorkflowState_OverBudget(t *testing.T) {
	w := &WorkflowState{TotalCost: 5, BudgetUSD: 5}
	assert.False(t, w.OverBudget())
	w.TotalCost = 5.01
	assert.True(t, w.OverBudget())
	unlimited := &WorkflowState{TotalCost: 100}
	assert.False(t, unlimited.OverBudget())
}
