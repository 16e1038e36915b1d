package assets

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Resolver turns provider output into a locator and records it.
type Resolver struct {
	store        LocatorStore
	fallbackBase string
	timeout      time.Duration
	logger       zerolog.Logger
}

func NewResolver(store LocatorStore, fallbackBase string, timeout time.Duration, logger zerolog.Logger) *Resolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Resolver{
		store:        store,
		fallbackBase: strings.TrimRight(fallbackBase, "/"),
		timeout:      timeout,
		logger:       logger,
	}
}

// FallbackLocator is the deterministic placeholder used when the provider
// output carries no recognizable media URL.
func (r *Resolver) FallbackLocator(jobID string) string {
	return r.fallbackBase + "/" + jobID + ".mp4"
}

// Locate picks the locator for a provider output without recording it. It
// never returns an empty string.
func (r *Resolver) Locate(jobID string, output any) string {
	locator, ok := Extract(output)
	if !ok {
		locator = r.FallbackLocator(jobID)
		r.logger.Warn().Str("job_id", jobID).Str("locator", locator).Msg("provider output has no media url; using placeholder locator")
	}
	return locator
}

// Remember records the locator of a settled job. Store failures are logged only.
func (r *Resolver) Remember(ctx context.Context, jobID, locator string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.Save(ctx, jobID, locator); err != nil {
		r.logger.Error().Err(err).Str("job_id", jobID).Msg("save asset locator")
	}
}

// Lookup returns the last known locator for a job.
func (r *Resolver) Lookup(ctx context.Context, jobID string) (string, bool) {
	if r.store == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	locator, ok, err := r.store.Load(ctx, jobID)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", jobID).Msg("load asset locator")
		return "", false
	}
	return locator, ok
}
