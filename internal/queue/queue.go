// Package queue provides the two work queues that drive node dispatch: an
// immediate queue backed by Watermill pub/sub and a delayed queue persisted
// in the store and drained by a poller. Delivery is at-least-once; consumers
// are idempotent against redelivery through the engine's early-abort check.
package queue

import (
	"context"
	"time"
)

// Job identifies one node of one execution to run.
type Job struct {
	ExecutionID string `json:"execution_id"`
	OrgID       string `json:"org_id"`
	NodeID      string `json:"node_id"`
}

// Queue is the enqueue side consumed by the engine.
type Queue interface {
	// EnqueueNow publishes a job for immediate dispatch.
	EnqueueNow(ctx context.Context, job Job) error
	// EnqueueAt persists a job to be dispatched no earlier than the given time.
	EnqueueAt(ctx context.Context, job Job, at time.Time) error
}

// Handler executes one job. Satisfied by the engine (avoids an import cycle).
type Handler interface {
	ExecuteNode(ctx context.Context, job Job) error
}

// Resumer re-enqueues a delayed node after its wait, re-checking that the
// execution is still running. Satisfied by the engine.
type Resumer interface {
	ResumeWorkflow(ctx context.Context, executionID, orgID, nodeID string) error
}
