package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/adapter/repo"
	"vidgen/internal/assets"
	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
	"vidgen/internal/jobcache"
)

type stubStore struct {
	jobs map[string]domain.Job
	err  error
}

func (s *stubStore) Put(context.Context, domain.Job) error { return s.err }

func (s *stubStore) Get(_ context.Context, id string) (domain.Job, error) {
	if s.err != nil {
		return domain.Job{}, s.err
	}
	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, domain.ErrNotFound
	}
	return job, nil
}

func (s *stubStore) List(_ context.Context, limit, offset int) ([]domain.Job, int, error) {
	if s.err != nil {
		return nil, 0, s.err
	}
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, len(out), nil
}

func jobAt(id string, version int64) domain.Job {
	job := domain.NewJob(id, domain.JobKindText, jsoncfg.GenerationInput{Prompt: "a long enough prompt"}, "", time.Now())
	job.Version = version
	return job
}

func TestResolveTierOrder(t *testing.T) {
	ctx := context.Background()
	locators := assets.NewMemoryLocatorStore(0)
	assetResolver := assets.NewResolver(locators, "https://cdn.example.com", time.Second, zerolog.Nop())
	assetResolver.Remember(ctx, "only-asset", "https://host/only.mp4")

	stored := jobAt("both", 2)
	fresher := stored
	_ = fresher.Start(time.Now())
	_ = fresher.Advance(70, time.Now())

	tests := []struct {
		name       string
		store      *stubStore
		cached     []domain.Job
		id         string
		wantSource Source
		wantErr    error
		wantState  domain.JobState
	}{
		{
			name:       "cache newer than store wins",
			store:      &stubStore{jobs: map[string]domain.Job{"both": stored}},
			cached:     []domain.Job{fresher},
			id:         "both",
			wantSource: SourceCache,
			wantState:  domain.JobStateProcessing,
		},
		{
			name:       "store equal or newer wins",
			store:      &stubStore{jobs: map[string]domain.Job{"both": fresher}},
			cached:     []domain.Job{stored},
			id:         "both",
			wantSource: SourceStore,
			wantState:  domain.JobStateProcessing,
		},
		{
			name:       "store failure falls back to cache",
			store:      &stubStore{err: domain.ErrStoreUnavailable},
			cached:     []domain.Job{stored},
			id:         "both",
			wantSource: SourceCache,
			wantState:  domain.JobStatePending,
		},
		{
			name:       "store only",
			store:      &stubStore{jobs: map[string]domain.Job{"both": stored}},
			id:         "both",
			wantSource: SourceStore,
			wantState:  domain.JobStatePending,
		},
		{
			name:       "asset locator builds completed job",
			store:      &stubStore{},
			id:         "only-asset",
			wantSource: SourceAssets,
			wantState:  domain.JobStateCompleted,
		},
		{
			name:    "unknown everywhere",
			store:   &stubStore{},
			id:      "missing",
			wantErr: domain.ErrNotFound,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cache := jobcache.New(time.Hour)
			for _, j := range tc.cached {
				cache.Put(j)
			}
			r := NewResolver(tc.store, cache, assetResolver, time.Second, zerolog.Nop())
			job, source, err := r.Resolve(ctx, tc.id)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("err = %v, want %v", err, tc.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if source != tc.wantSource || job.State != tc.wantState {
				t.Fatalf("got %s from %s, want %s from %s", job.State, source, tc.wantState, tc.wantSource)
			}
		})
	}
}

func TestResolveAssetJobShape(t *testing.T) {
	ctx := context.Background()
	assetResolver := assets.NewResolver(assets.NewMemoryLocatorStore(0), "https://cdn.example.com", time.Second, zerolog.Nop())
	assetResolver.Remember(ctx, "j1", "https://host/j1.mp4")
	r := NewResolver(nil, jobcache.New(time.Hour), assetResolver, time.Second, zerolog.Nop())

	job, _, err := r.Resolve(ctx, "j1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if job.ID != "j1" || job.Progress != 100 || job.Result != "https://host/j1.mp4" {
		t.Fatalf("asset job = %+v", job)
	}
}

func TestListFallsBackToCache(t *testing.T) {
	cache := jobcache.New(time.Hour)
	older := jobAt("a", 1)
	older.CreatedAt = time.Now().Add(-time.Minute)
	cache.Put(older)
	cache.Put(jobAt("b", 1))

	r := NewResolver(&stubStore{err: domain.ErrStoreUnavailable}, cache, nil, time.Second, zerolog.Nop())
	page, err := r.List(context.Background(), 1, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Source != SourceCache || page.Total != 2 || len(page.Jobs) != 1 || page.Jobs[0].ID != "b" {
		t.Fatalf("page = %+v", page)
	}

	r = NewResolver(&stubStore{jobs: map[string]domain.Job{"a": older}}, cache, nil, time.Second, zerolog.Nop())
	page, err = r.List(context.Background(), 10, 0)
	if err != nil || page.Source != SourceStore || page.Total != 1 {
		t.Fatalf("store page = %+v, %v", page, err)
	}
}

func TestResolveReturnsSameContentFromStoreAndCache(t *testing.T) {
	ctx := context.Background()
	store, err := repo.OpenSQLite(ctx, filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	at := time.Date(2025, 5, 6, 7, 8, 9, 987654321, time.UTC)
	job := domain.NewJob("job-1", domain.JobKindText, jsoncfg.GenerationInput{Prompt: "a long enough prompt", Duration: 4}, "https://hooks.example.com/cb", at)
	if err := job.Start(at.Add(time.Millisecond)); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := job.Complete("https://host/clip.mp4", at.Add(1500*time.Microsecond+333)); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := store.Put(ctx, job); err != nil {
		t.Fatalf("put: %v", err)
	}

	cacheOnly := jobcache.New(time.Hour)
	cacheOnly.Put(job)
	both := jobcache.New(time.Hour)
	both.Put(job)

	fromStore, source, err := NewResolver(store, both, nil, time.Second, zerolog.Nop()).Resolve(ctx, job.ID)
	if err != nil || source != SourceStore {
		t.Fatalf("store resolve = %s, %v", source, err)
	}
	fromCache, source, err := NewResolver(nil, cacheOnly, nil, time.Second, zerolog.Nop()).Resolve(ctx, job.ID)
	if err != nil || source != SourceCache {
		t.Fatalf("cache resolve = %s, %v", source, err)
	}

	storeJSON, _ := json.Marshal(fromStore)
	cacheJSON, _ := json.Marshal(fromCache)
	if !bytes.Equal(storeJSON, cacheJSON) {
		t.Fatalf("tiers disagree:\nstore: %s\ncache: %s", storeJSON, cacheJSON)
	}
}
