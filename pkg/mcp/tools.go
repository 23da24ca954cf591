package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// handleList enumerates every workflow with a durable record.
func (s *TroupeServer) handleList(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids, err := s.store.List(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list workflows: %v", err)), nil
	}

	type summary struct {
		ID        string  `json:"id"`
		Agents    int     `json:"agents"`
		Paused    int     `json:"paused"`
		TotalCost float64 `json:"total_cost"`
	}
	out := make([]summary, 0, len(ids))
	for _, id := range ids {
		wf, err := s.store.Read(ctx, id)
		if err != nil {
			s.logger.Warn("read workflow during list", "workflow_id", id, "error", err)
			continue
		}
		sum := summary{ID: wf.ID, Agents: len(wf.Agents), TotalCost: wf.TotalCost}
		for _, a := range wf.Agents {
			if a.Status == schema.AgentStatusPaused {
				sum.Paused++
			}
		}
		out = append(out, sum)
	}
	return marshalResult(out)
}

// handleStatus returns the full durable snapshot of one workflow.
func (s *TroupeServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}

	wf, err := s.store.Read(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read workflow: %v", err)), nil
	}
	return marshalResult(wf)
}

// handleEvents returns a workflow's persisted event history.
func (s *TroupeServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	if s.eventLog == nil {
		return mcp.NewToolResultError("event log is not configured"), nil
	}

	recs, err := s.eventLog.Events(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read events: %v", err)), nil
	}

	limit := req.GetInt("limit", 0)
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	return marshalResult(recs)
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
