package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/troupe-sh/troupe/pkg/schema"
)

// FileStore persists workflow snapshots as JSON files, one per workflow,
// under a single directory. Writes go to a temp file in the same directory
// followed by a rename, so a crash mid-write never leaves a truncated record.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Read loads the snapshot for id, or ErrNotFound.
func (s *FileStore) Read(ctx context.Context, id string) (*WorkflowState, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "read workflow %s: %s", id, err.Error()).WithCause(err)
	}
	var state WorkflowState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "decode workflow %s: %s", id, err.Error()).WithCause(err)
	}
	return &state, nil
}

// Write atomically replaces the snapshot for state.ID.
func (s *FileStore) Write(ctx context.Context, state *WorkflowState) error {
	if state.ID == "" {
		return schema.NewError(schema.ErrCodeStore, "workflow state has no id")
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "create state directory: %s", err.Error()).WithCause(err)
	}

	state.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "encode workflow %s: %s", state.ID, err.Error()).WithCause(err)
	}

	final := s.path(state.ID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write workflow %s: %s", state.ID, err.Error()).WithCause(err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return schema.NewErrorf(schema.ErrCodeStore, "commit workflow %s: %s", state.ID, err.Error()).WithCause(err)
	}
	return nil
}

// Delete removes the snapshot for id. Deleting a missing record is not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if err != nil && !os.IsNotExist(err) {
		return schema.NewErrorf(schema.ErrCodeStore, "delete workflow %s: %s", id, err.Error()).WithCause(err)
	}
	return nil
}

// List returns the ids of every persisted workflow.
func (s *FileStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, schema.NewErrorf(schema.ErrCodeStore, "list workflows: %s", err.Error()).WithCause(err)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	return ids, nil
}

var _ Store = (*FileStore)(nil)
