package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// diagnostic is the snapshot written for every fatal or agent-dropping
// failure: enough context to reconstruct what the step was doing.
type diagnostic struct {
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	AgentID    string         `json:"agent_id,omitempty"`
	State      string         `json:"state,omitempty"`
	ErrorCode  string         `json:"error_code,omitempty"`
	Error      string         `json:"error"`
	Details    map[string]any `json:"details,omitempty"`
}

// WriteDiagnostic persists a best-effort failure snapshot under
// <dataDir>/diagnostics/ and returns its path. It never fails: a problem
// while writing the diagnostic must not suppress or replace the original
// error, so the caller only gets an empty path back.
func WriteDiagnostic(dataDir, workflowID, agentID, state string, cause error) string {
	d := diagnostic{
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		AgentID:    agentID,
		State:      state,
		Error:      cause.Error(),
	}
	var te *schema.TroupeError
	if errors.As(cause, &te) {
		d.ErrorCode = te.Code
		d.Details = te.Details
	}

	dir := filepath.Join(dataDir, "diagnostics")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ""
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return ""
	}
	name := fmt.Sprintf("%s_%d.json", workflowID, time.Now().UnixNano())
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return ""
	}
	return path
}
