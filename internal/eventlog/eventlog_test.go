package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/troupe-sh/troupe/internal/events"
	"github.com/troupe-sh/troupe/pkg/schema"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	require.NoError(t, l.Append(ctx, events.Event{
		Type: schema.EventWorkflowStarted, WorkflowID: "wf-1",
	}))
	require.NoError(t, l.Append(ctx, events.Event{
		Type: schema.EventStateStarted, WorkflowID: "wf-1", AgentID: "main", State: "PLAN.md",
		Payload: map[string]any{"attempt": 1},
	}))
	require.NoError(t, l.Append(ctx, events.Event{
		Type: schema.EventWorkflowStarted, WorkflowID: "wf-2",
	}))

	recs, err := l.Events(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, int64(1), recs[0].Sequence)
	assert.Equal(t, int64(2), recs[1].Sequence)
	assert.Equal(t, "main", recs[1].AgentID)
	assert.JSONEq(t, `{"attempt": 1}`, string(recs[1].Payload))

	recs, err = l.Events(ctx, "wf-2")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(1), recs[0].Sequence)
}

func TestHandleEventImplementsHandler(t *testing.T) {
	ctx := context.Background()
	l := openTestLog(t)

	require.NoError(t, l.HandleEvent(ctx, events.Event{
		Type: schema.EventAgentSpawned, WorkflowID: "wf-1", AgentID: "main_worker1",
	}))
	recs, err := l.Events(ctx, "wf-1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, schema.EventAgentSpawned, recs[0].Type)
}
