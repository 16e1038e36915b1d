package orchestrator

import (
	"context"
	"fmt"

	"vidgen/internal/domain"
)

const interruptedReason = "interrupted by service restart"

// Recover settles jobs an earlier process left unfinished in the durable
// store. Pending jobs never reached the provider and are driven again.
// Processing jobs lost their provider call with the process and are failed.
// It returns the number of jobs picked up.
func (o *Orchestrator) Recover(ctx context.Context, limit int) (int, error) {
	lister, ok := o.store.(domain.UnsettledLister)
	if !ok {
		return 0, nil
	}
	sctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	jobs, err := lister.ListUnsettled(sctx, limit)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("list unsettled jobs: %w", err)
	}

	for _, job := range jobs {
		o.cache.Put(job)
		switch job.State {
		case domain.JobStatePending:
			o.logger.Info().Str("job_id", job.ID).Msg("recover: re-driving pending job")
			o.startDrive(job.ID)
		case domain.JobStateProcessing:
			o.logger.Warn().Str("job_id", job.ID).Msg("recover: failing interrupted job")
			o.fail(job.ID, interruptedReason, map[string]any{"recovered": true})
		}
	}
	return len(jobs), nil
}
