package domain

import (
	"context"
	"encoding/json"
	"time"
)

// JobStore is the durable tier. Put is an upsert that must ignore snapshots
// whose Version is not newer than the stored one. List returns one page
// ordered by creation time, newest first, plus the total row count.
type JobStore interface {
	Put(ctx context.Context, job Job) error
	Get(ctx context.Context, jobID string) (Job, error)
	List(ctx context.Context, limit, offset int) ([]Job, int, error)
}

// JobEvent is one entry of a job's transition history.
type JobEvent struct {
	JobID     string          `json:"job_id"`
	State     JobState        `json:"state"`
	Progress  int             `json:"progress"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// JobEventLog is implemented by durable stores that keep transition history.
type JobEventLog interface {
	AppendEvent(ctx context.Context, event JobEvent) error
	ListEvents(ctx context.Context, jobID string, limit int) ([]JobEvent, error)
}

// UnsettledLister is implemented by durable stores that can enumerate jobs
// left pending or processing, oldest first.
type UnsettledLister interface {
	ListUnsettled(ctx context.Context, limit int) ([]Job, error)
}
