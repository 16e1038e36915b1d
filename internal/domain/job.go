package domain

import (
	"fmt"
	"time"

	"vidgen/internal/domain/jsoncfg"
)

// JobKind enumerates supported generation sources.
type JobKind string

const (
	JobKindText  JobKind = "text"
	JobKindImage JobKind = "image"
)

// Valid reports whether the kind belongs to the closed set.
func (k JobKind) Valid() bool {
	return k == JobKindText || k == JobKindImage
}

// JobState enumerates job lifecycle states.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

func (s JobState) rank() int {
	switch s {
	case JobStatePending:
		return 0
	case JobStateProcessing:
		return 1
	case JobStateCompleted, JobStateFailed:
		return 2
	default:
		return -1
	}
}

// Progress checkpoints recorded by the orchestrator.
const (
	ProgressStarted   = 5
	ProgressGenerated = 70
	ProgressDone      = 100
)

// Job encapsulates the lifecycle of a single video generation.
type Job struct {
	ID            string                  `json:"id"`
	Kind          JobKind                 `json:"kind,omitempty"`
	State         JobState                `json:"state"`
	Progress      int                     `json:"progress"`
	Input         jsoncfg.GenerationInput `json:"input"`
	Result        string                  `json:"result,omitempty"`
	FailureReason string                  `json:"failure_reason,omitempty"`
	CallbackURL   string                  `json:"callback_url,omitempty"`
	Requester     string                  `json:"-"`
	Version       int64                   `json:"version"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

// NewJob builds a pending job at version 1.
func NewJob(id string, kind JobKind, input jsoncfg.GenerationInput, callbackURL string, now time.Time) Job {
	now = stamp(now)
	return Job{
		ID:          id,
		Kind:        kind,
		State:       JobStatePending,
		Input:       input,
		CallbackURL: callbackURL,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start moves a pending job into processing.
func (j *Job) Start(now time.Time) error {
	if err := j.checkTransition(JobStateProcessing); err != nil {
		return err
	}
	j.State = JobStateProcessing
	j.raiseProgress(ProgressStarted)
	j.touch(now)
	return nil
}

// Advance raises progress of a processing job. Lower values are ignored so
// progress never decreases.
func (j *Job) Advance(progress int, now time.Time) error {
	if j.State != JobStateProcessing {
		return fmt.Errorf("%w: advance in state %s", ErrInvalidTransition, j.State)
	}
	if progress >= ProgressDone {
		progress = ProgressDone - 1
	}
	if progress <= j.Progress {
		return nil
	}
	j.Progress = progress
	j.touch(now)
	return nil
}

// Complete records the result locator and fixes progress at 100.
func (j *Job) Complete(locator string, now time.Time) error {
	if locator == "" {
		return fmt.Errorf("%w: empty result locator", ErrInvalidTransition)
	}
	if err := j.checkTransition(JobStateCompleted); err != nil {
		return err
	}
	j.State = JobStateCompleted
	j.Result = locator
	j.finish(now)
	return nil
}

// Fail records the failure reason and fixes progress at 100.
func (j *Job) Fail(reason string, now time.Time) error {
	if reason == "" {
		reason = "video generation failed"
	}
	if err := j.checkTransition(JobStateFailed); err != nil {
		return err
	}
	j.State = JobStateFailed
	j.FailureReason = reason
	j.finish(now)
	return nil
}

// checkTransition allows pending→processing and processing→terminal only.
func (j *Job) checkTransition(to JobState) error {
	if j.State.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, j.State)
	}
	if to.rank() != j.State.rank()+1 {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	return nil
}

func (j *Job) finish(now time.Time) {
	j.Progress = ProgressDone
	ts := stamp(now)
	j.CompletedAt = &ts
	j.touch(now)
}

func (j *Job) raiseProgress(p int) {
	if p > j.Progress {
		j.Progress = p
	}
}

func (j *Job) touch(now time.Time) {
	j.UpdatedAt = stamp(now)
	j.Version++
}

// stamp normalizes timestamps to UTC microseconds, the precision of a
// PostgreSQL timestamptz, so every tier holds the same value.
func stamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Newer reports whether j reflects a later mutation than other.
func (j Job) Newer(other Job) bool {
	return j.Version > other.Version
}

// Clone returns a copy that shares no mutable memory with j.
func (j Job) Clone() Job {
	if j.CompletedAt != nil {
		ts := *j.CompletedAt
		j.CompletedAt = &ts
	}
	return j
}
