package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobStore and domain.JobEventLog on
// PostgreSQL through the audited SQL runner.
type JobRepositoryPG struct {
	db infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(db infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{db: db}
}

// Put upserts the job. Rows holding a newer or equal version are left alone.
func (r *JobRepositoryPG) Put(ctx context.Context, job domain.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	_, err = r.db.Exec(ctx, sqlinline.QUpsertVideoJob,
		job.ID,
		string(job.Kind),
		string(job.State),
		job.Progress,
		input,
		job.Result,
		job.FailureReason,
		job.CallbackURL,
		job.Requester,
		job.Version,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return unavailable(err, "upsert job %s", job.ID)
	}
	return nil
}

// Get fetches a job by its identifier. Ids that are not UUIDs cannot exist
// in the table and report domain.ErrNotFound.
func (r *JobRepositoryPG) Get(ctx context.Context, jobID string) (domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return domain.Job{}, domain.ErrNotFound
	}
	job, err := scanJob(r.db.QueryRow(ctx, sqlinline.QGetVideoJob, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, unavailable(err, "get job %s", jobID)
	}
	return job, nil
}

// List returns one page of jobs, newest first, and the total count.
func (r *JobRepositoryPG) List(ctx context.Context, limit, offset int) ([]domain.Job, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, sqlinline.QCountVideoJobs).Scan(&total); err != nil {
		return nil, 0, unavailable(err, "count jobs")
	}

	rows, err := r.db.Query(ctx, sqlinline.QListVideoJobs, limit, offset)
	if err != nil {
		return nil, 0, unavailable(err, "list jobs")
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, unavailable(err, "iterate jobs")
	}
	return jobs, total, nil
}

// ListUnsettled returns up to limit non-terminal jobs, oldest first.
func (r *JobRepositoryPG) ListUnsettled(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.Query(ctx, sqlinline.QListUnsettledVideoJobs, limit)
	if err != nil {
		return nil, unavailable(err, "list unsettled jobs")
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate unsettled jobs")
	}
	return jobs, nil
}

// AppendEvent records one transition in the job's history.
func (r *JobRepositoryPG) AppendEvent(ctx context.Context, event domain.JobEvent) error {
	_, err := r.db.Exec(ctx, sqlinline.QInsertVideoJobEvent,
		event.JobID,
		string(event.State),
		event.Progress,
		nullableBytes(event.Payload),
		event.CreatedAt,
	)
	if err != nil {
		return unavailable(err, "append event for %s", event.JobID)
	}
	return nil
}

// ListEvents returns up to limit events in the order they were recorded.
func (r *JobRepositoryPG) ListEvents(ctx context.Context, jobID string, limit int) ([]domain.JobEvent, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return []domain.JobEvent{}, nil
	}
	rows, err := r.db.Query(ctx, sqlinline.QListVideoJobEvents, jobID, limit)
	if err != nil {
		return nil, unavailable(err, "list events for %s", jobID)
	}
	defer rows.Close()

	events := []domain.JobEvent{}
	for rows.Next() {
		var (
			ev      domain.JobEvent
			state   string
			payload []byte
		)
		if err := rows.Scan(&ev.JobID, &state, &ev.Progress, &payload, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.State = domain.JobState(state)
		ev.Payload = json.RawMessage(payload)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate events")
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		job         domain.Job
		kind, state string
		input       []byte
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&kind,
		&state,
		&job.Progress,
		&input,
		&job.Result,
		&job.FailureReason,
		&job.CallbackURL,
		&job.Requester,
		&job.Version,
		&job.CreatedAt,
		&job.UpdatedAt,
		&completedAt,
	); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	job.CompletedAt = completedAt
	if len(input) > 0 {
		if err := json.Unmarshal(input, &job.Input); err != nil {
			return domain.Job{}, fmt.Errorf("decode input: %w", err)
		}
	}
	return job, nil
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var (
	_ domain.JobStore    = (*JobRepositoryPG)(nil)
	_ domain.JobEventLog = (*JobRepositoryPG)(nil)
)

// unavailable tags a driver failure so callers can tell it from a missing row.
func unavailable(err error, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %w", fmt.Sprintf(format, args...), domain.ErrStoreUnavailable, err)
}
