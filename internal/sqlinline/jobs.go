package sqlinline

const QUpsertVideoJob = `--sql 6ffe759c-32f3-4a71-9030-8373f111756c
insert into video_jobs (
  id, kind, state, progress, input_json, result_url, failure_reason,
  callback_url, requester, version, created_at, updated_at, completed_at
)
values ($1::uuid, $2, $3, $4, $5::jsonb, nullif($6, ''), nullif($7, ''),
        nullif($8, ''), nullif($9, ''), $10, $11, $12, $13)
on conflict (id) do update set
  state = excluded.state,
  progress = excluded.progress,
  result_url = excluded.result_url,
  failure_reason = excluded.failure_reason,
  version = excluded.version,
  updated_at = excluded.updated_at,
  completed_at = excluded.completed_at
where video_jobs.version < excluded.version;
`

const QGetVideoJob = `--sql 944ad44d-e5e7-4a76-884e-79f3d2b56e0c
select id::text, kind, state, progress, input_json,
       coalesce(result_url, ''), coalesce(failure_reason, ''),
       coalesce(callback_url, ''), coalesce(requester, ''),
       version, created_at, updated_at, completed_at
from video_jobs
where id = $1::uuid;
`

const QListVideoJobs = `--sql 388ae57d-5c0a-42c3-8407-b588ec67d9cc
select id::text, kind, state, progress, input_json,
       coalesce(result_url, ''), coalesce(failure_reason, ''),
       coalesce(callback_url, ''), coalesce(requester, ''),
       version, created_at, updated_at, completed_at
from video_jobs
order by created_at desc, id
limit $1 offset $2;
`

const QListUnsettledVideoJobs = `--sql 1bdb7555-59bf-4503-ad10-c5f1da395f01
select id::text, kind, state, progress, input_json,
       coalesce(result_url, ''), coalesce(failure_reason, ''),
       coalesce(callback_url, ''), coalesce(requester, ''),
       version, created_at, updated_at, completed_at
from video_jobs
where state in ('pending', 'processing')
order by created_at asc, id
limit $1;
`

const QCountVideoJobs = `--sql 911b9531-7d16-4952-bcef-1f5cf2f34e6b
select count(*) from video_jobs;
`

const QInsertVideoJobEvent = `--sql a23f3ddf-0f1f-49cd-b205-292c04e9c5ba
insert into video_job_events (job_id, state, progress, payload, created_at)
values ($1::uuid, $2, $3, coalesce($4::jsonb, '{}'::jsonb), $5);
`

const QListVideoJobEvents = `--sql f72c3c17-fd6f-40af-b2ba-9707b689cd61
select job_id::text, state, progress, payload, created_at
from video_job_events
where job_id = $1::uuid
order by id asc
limit $2;
`
