// Package status answers job reads from any consumer by walking the storage
// tiers in order: durable store, in-process cache, then the asset locator.
package status

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/assets"
	"vidgen/internal/domain"
	"vidgen/internal/jobcache"
)

// Source names the tier that answered a read.
type Source string

const (
	SourceStore  Source = "store"
	SourceCache  Source = "cache"
	SourceAssets Source = "assets"
)

// Resolver is safe for concurrent use. Store and Assets may be nil.
type Resolver struct {
	store   domain.JobStore
	cache   *jobcache.Cache
	assets  *assets.Resolver
	timeout time.Duration
	logger  zerolog.Logger
}

func NewResolver(store domain.JobStore, cache *jobcache.Cache, assetResolver *assets.Resolver, timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{store: store, cache: cache, assets: assetResolver, timeout: timeout, logger: logger}
}

// Resolve returns the freshest known copy of a job. When both the store and
// the cache hold it, the higher version wins, so a lagging store write never
// shows a poller an older state than it has already seen.
func (r *Resolver) Resolve(ctx context.Context, jobID string) (domain.Job, Source, error) {
	stored, storeErr := r.fromStore(ctx, jobID)
	cached, inCache := r.cache.Get(jobID)

	switch {
	case storeErr == nil && inCache:
		if cached.Newer(stored) {
			return cached, SourceCache, nil
		}
		return stored, SourceStore, nil
	case storeErr == nil:
		return stored, SourceStore, nil
	case inCache:
		return cached, SourceCache, nil
	}

	if err := ctx.Err(); err != nil {
		return domain.Job{}, "", err
	}
	if r.assets != nil {
		if locator, ok := r.assets.Lookup(ctx, jobID); ok {
			return assetJob(jobID, locator), SourceAssets, nil
		}
	}
	return domain.Job{}, "", domain.ErrNotFound
}

func (r *Resolver) fromStore(ctx context.Context, jobID string) (domain.Job, error) {
	if r.store == nil {
		return domain.Job{}, domain.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	job, err := r.store.Get(ctx, jobID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("durable store read failed; falling back")
	}
	return job, err
}

// assetJob is the minimal completed job reconstructed from a locator alone.
func assetJob(jobID, locator string) domain.Job {
	return domain.Job{
		ID:       jobID,
		State:    domain.JobStateCompleted,
		Progress: domain.ProgressDone,
		Result:   locator,
	}
}

// Page is one slice of the job listing.
type Page struct {
	Jobs   []domain.Job
	Total  int
	Source Source
}

// List pages through jobs newest first. The cache answers when the store is
// absent or failing.
func (r *Resolver) List(ctx context.Context, limit, offset int) (Page, error) {
	if r.store != nil {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		jobs, total, err := r.store.List(sctx, limit, offset)
		cancel()
		if err == nil {
			return Page{Jobs: jobs, Total: total, Source: SourceStore}, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Page{}, ctxErr
		}
		r.logger.Warn().Err(err).Msg("durable store list failed; serving cache")
	}
	jobs, total := r.cache.List(limit, offset)
	return Page{Jobs: jobs, Total: total, Source: SourceCache}, nil
}
