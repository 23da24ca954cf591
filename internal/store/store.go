package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no durable record exists for a workflow id.
var ErrNotFound = errors.New("workflow state not found")

// Store is the durable state contract: one addressable record per workflow.
// Write must be atomic; a reader never observes a partial snapshot.
type Store interface {
	Read(ctx context.Context, id string) (*WorkflowState, error)
	Write(ctx context.Context, state *WorkflowState) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}
