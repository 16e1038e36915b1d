package jobcache

import (
	"errors"
	"testing"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time { return f.t }

func newJob(t *testing.T, id string, created time.Time) domain.Job {
	t.Helper()
	return domain.NewJob(id, domain.JobKindText, jsoncfg.GenerationInput{Prompt: "a quiet harbor at dawn"}, "", created)
}

func TestPutIgnoresOlderVersion(t *testing.T) {
	c := New(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	job := newJob(t, "j1", now)
	if err := job.Start(now); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Put(job)

	stale := newJob(t, "j1", now)
	c.Put(stale)

	got, ok := c.Get("j1")
	if !ok {
		t.Fatalf("expected cached job")
	}
	if got.State != domain.JobStateProcessing || got.Version != job.Version {
		t.Fatalf("stale put overwrote newer job: %+v", got)
	}
}

func TestUpdate(t *testing.T) {
	c := New(time.Hour)
	now := time.Unix(1_700_000_000, 0)
	c.Put(newJob(t, "j1", now))

	got, err := c.Update("j1", func(j *domain.Job) error { return j.Start(now) })
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.State != domain.JobStateProcessing {
		t.Fatalf("state = %s", got.State)
	}

	// failed mutation leaves the entry untouched
	_, err = c.Update("j1", func(j *domain.Job) error { return j.Start(now) })
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	cached, _ := c.Get("j1")
	if cached.Version != got.Version {
		t.Fatalf("version changed on failed update: %d != %d", cached.Version, got.Version)
	}

	if _, err := c.Update("missing", func(*domain.Job) error { return nil }); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListOrderAndPagination(t *testing.T) {
	c := New(time.Hour)
	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"a", "b", "c", "d"} {
		c.Put(newJob(t, id, base.Add(time.Duration(i)*time.Minute)))
	}

	tests := []struct {
		name   string
		limit  int
		offset int
		want   []string
	}{
		{name: "all", limit: 0, offset: 0, want: []string{"d", "c", "b", "a"}},
		{name: "first page", limit: 2, offset: 0, want: []string{"d", "c"}},
		{name: "second page", limit: 2, offset: 2, want: []string{"b", "a"}},
		{name: "past end", limit: 2, offset: 10, want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			jobs, total := c.List(tc.limit, tc.offset)
			if total != 4 {
				t.Fatalf("total = %d", total)
			}
			if len(jobs) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(jobs), len(tc.want))
			}
			for i, id := range tc.want {
				if jobs[i].ID != id {
					t.Fatalf("jobs[%d] = %s, want %s", i, jobs[i].ID, id)
				}
			}
		})
	}
}

func TestSweepEvictsAfterRetention(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(6 * time.Hour)
	c.now = clock.Now

	c.Put(newJob(t, "old", clock.t))
	clock.t = clock.t.Add(5 * time.Hour)
	c.Put(newJob(t, "fresh", clock.t))

	clock.t = clock.t.Add(90 * time.Minute)
	if n := c.Sweep(); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if _, ok := c.Get("old"); ok {
		t.Fatalf("old entry should be evicted")
	}
	if _, ok := c.Get("fresh"); !ok {
		t.Fatalf("fresh entry should survive")
	}
}
