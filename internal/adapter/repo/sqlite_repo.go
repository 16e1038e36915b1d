package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"vidgen/internal/domain"
)

const sqliteSchema = `
create table if not exists video_jobs (
  id text primary key,
  kind text not null,
  state text not null,
  progress integer not null default 0,
  input_json text not null,
  result_url text not null default '',
  failure_reason text not null default '',
  callback_url text not null default '',
  requester text not null default '',
  version integer not null,
  created_at text not null,
  updated_at text not null,
  completed_at text
);
create index if not exists video_jobs_created_at_idx on video_jobs (created_at desc);
create table if not exists video_job_events (
  id integer primary key autoincrement,
  job_id text not null,
  state text not null,
  progress integer not null,
  payload text not null default '{}',
  created_at text not null
);
create index if not exists video_job_events_job_idx on video_job_events (job_id, id);
`

// Fixed-width so lexical order matches time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// JobRepositorySQLite is the embedded durable store used when no PostgreSQL
// database is configured.
type JobRepositorySQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database file at path and
// applies the schema.
func OpenSQLite(ctx context.Context, path string) (*JobRepositorySQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "pragma journal_mode = wal; pragma busy_timeout = 5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &JobRepositorySQLite{db: db}, nil
}

func (r *JobRepositorySQLite) Close() error { return r.db.Close() }

func (r *JobRepositorySQLite) Ping(ctx context.Context) error { return r.db.PingContext(ctx) }

func (r *JobRepositorySQLite) Put(ctx context.Context, job domain.Job) error {
	input, err := json.Marshal(job.Input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var completedAt any
	if job.CompletedAt != nil {
		completedAt = job.CompletedAt.UTC().Format(sqliteTimeLayout)
	}
	_, err = r.db.ExecContext(ctx, `
insert into video_jobs (
  id, kind, state, progress, input_json, result_url, failure_reason,
  callback_url, requester, version, created_at, updated_at, completed_at
) values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
on conflict (id) do update set
  state = excluded.state,
  progress = excluded.progress,
  result_url = excluded.result_url,
  failure_reason = excluded.failure_reason,
  version = excluded.version,
  updated_at = excluded.updated_at,
  completed_at = excluded.completed_at
where video_jobs.version < excluded.version`,
		job.ID, string(job.Kind), string(job.State), job.Progress, string(input),
		job.Result, job.FailureReason, job.CallbackURL, job.Requester, job.Version,
		job.CreatedAt.UTC().Format(sqliteTimeLayout), job.UpdatedAt.UTC().Format(sqliteTimeLayout), completedAt,
	)
	if err != nil {
		return unavailable(err, "upsert job %s", job.ID)
	}
	return nil
}

const sqliteJobColumns = `id, kind, state, progress, input_json, result_url, failure_reason,
  callback_url, requester, version, created_at, updated_at, completed_at`

func (r *JobRepositorySQLite) Get(ctx context.Context, jobID string) (domain.Job, error) {
	row := r.db.QueryRowContext(ctx, `select `+sqliteJobColumns+` from video_jobs where id = ?`, jobID)
	job, err := scanSQLiteJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Job{}, domain.ErrNotFound
		}
		return domain.Job{}, unavailable(err, "get job %s", jobID)
	}
	return job, nil
}

func (r *JobRepositorySQLite) List(ctx context.Context, limit, offset int) ([]domain.Job, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `select count(*) from video_jobs`).Scan(&total); err != nil {
		return nil, 0, unavailable(err, "count jobs")
	}
	rows, err := r.db.QueryContext(ctx,
		`select `+sqliteJobColumns+` from video_jobs order by created_at desc, id limit ? offset ?`, limit, offset)
	if err != nil {
		return nil, 0, unavailable(err, "list jobs")
	}
	defer rows.Close()

	jobs := make([]domain.Job, 0, limit)
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

func (r *JobRepositorySQLite) ListUnsettled(ctx context.Context, limit int) ([]domain.Job, error) {
	rows, err := r.db.QueryContext(ctx,
		`select `+sqliteJobColumns+` from video_jobs where state in ('pending', 'processing') order by created_at asc, id limit ?`, limit)
	if err != nil {
		return nil, unavailable(err, "list unsettled jobs")
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanSQLiteJob(rows)
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

func (r *JobRepositorySQLite) AppendEvent(ctx context.Context, event domain.JobEvent) error {
	payload := string(event.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := r.db.ExecContext(ctx,
		`insert into video_job_events (job_id, state, progress, payload, created_at) values (?, ?, ?, ?, ?)`,
		event.JobID, string(event.State), event.Progress, payload, event.CreatedAt.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return unavailable(err, "append event for %s", event.JobID)
	}
	return nil
}

func (r *JobRepositorySQLite) ListEvents(ctx context.Context, jobID string, limit int) ([]domain.JobEvent, error) {
	rows, err := r.db.QueryContext(ctx,
		`select job_id, state, progress, payload, created_at from video_job_events where job_id = ? order by id asc limit ?`,
		jobID, limit)
	if err != nil {
		return nil, unavailable(err, "list events for %s", jobID)
	}
	defer rows.Close()

	events := []domain.JobEvent{}
	for rows.Next() {
		var (
			ev             domain.JobEvent
			state, payload string
			createdAt      string
		)
		if err := rows.Scan(&ev.JobID, &state, &ev.Progress, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.State = domain.JobState(state)
		ev.Payload = json.RawMessage(payload)
		if ev.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
			return nil, fmt.Errorf("parse event time: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err, "iterate events")
	}
	return events, nil
}

func scanSQLiteJob(row rowScanner) (domain.Job, error) {
	var (
		job                  domain.Job
		kind, state, input   string
		createdAt, updatedAt string
		completedAt          sql.NullString
	)
	if err := row.Scan(
		&job.ID, &kind, &state, &job.Progress, &input,
		&job.Result, &job.FailureReason, &job.CallbackURL, &job.Requester,
		&job.Version, &createdAt, &updatedAt, &completedAt,
	); err != nil {
		return domain.Job{}, err
	}
	job.Kind = domain.JobKind(kind)
	job.State = domain.JobState(state)
	if err := json.Unmarshal([]byte(input), &job.Input); err != nil {
		return domain.Job{}, fmt.Errorf("decode input: %w", err)
	}
	var err error
	if job.CreatedAt, err = time.Parse(sqliteTimeLayout, createdAt); err != nil {
		return domain.Job{}, fmt.Errorf("parse created_at: %w", err)
	}
	if job.UpdatedAt, err = time.Parse(sqliteTimeLayout, updatedAt); err != nil {
		return domain.Job{}, fmt.Errorf("parse updated_at: %w", err)
	}
	if completedAt.Valid && completedAt.String != "" {
		ts, err := time.Parse(sqliteTimeLayout, completedAt.String)
		if err != nil {
			return domain.Job{}, fmt.Errorf("parse completed_at: %w", err)
		}
		job.CompletedAt = &ts
	}
	return job, nil
}

var (
	_ domain.JobStore    = (*JobRepositorySQLite)(nil)
	_ domain.JobEventLog = (*JobRepositorySQLite)(nil)
)
