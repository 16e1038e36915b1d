package orchestrator

import (
	"context"
	"errors"

	"vidgen/internal/domain"
	"vidgen/internal/providers/video"
)

// ProviderCallback is an inbound settlement notice from the provider.
type ProviderCallback struct {
	PredictionID string
	Status       string
	Output       any
	Error        string
}

var errSettled = errors.New("job already settled")

// ApplyProviderCallback settles a job from a provider webhook. Succeeded
// callbacks complete the job, failed or cancelled ones (or any carrying an
// error) fail it, and other statuses are acknowledged without mutation. A
// job that is already terminal is returned unchanged.
func (o *Orchestrator) ApplyProviderCallback(ctx context.Context, jobID string, cb ProviderCallback) (domain.Job, error) {
	current, err := o.current(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if current.State.Terminal() {
		return current, nil
	}

	var (
		fn      func(*domain.Job) error
		payload map[string]any
		locator string
	)
	switch {
	case cb.Status == video.StatusSucceeded && cb.Output != nil:
		locator = o.assets.Locate(jobID, cb.Output)
		payload = map[string]any{"resultUrl": locator, "prediction_id": cb.PredictionID, "webhook": true}
		fn = func(j *domain.Job) error {
			if j.State.Terminal() {
				return errSettled
			}
			if j.State == domain.JobStatePending {
				if err := j.Start(o.now()); err != nil {
					return err
				}
			}
			return j.Complete(locator, o.now())
		}
	case cb.Status == video.StatusFailed || cb.Status == video.StatusCanceled || cb.Error != "":
		reason := cb.Error
		if reason == "" {
			reason = "video generation " + cb.Status
		}
		payload = map[string]any{"error": reason, "prediction_id": cb.PredictionID, "webhook": true}
		fn = func(j *domain.Job) error {
			if j.State.Terminal() {
				return errSettled
			}
			if j.State == domain.JobStatePending {
				if err := j.Start(o.now()); err != nil {
					return err
				}
			}
			return j.Fail(reason, o.now())
		}
	default:
		return current, nil
	}

	job, err := o.mutate(ctx, jobID, fn, payload)
	if errors.Is(err, errSettled) {
		return o.current(ctx, jobID)
	}
	if err != nil {
		return domain.Job{}, err
	}
	if locator != "" {
		o.assets.Remember(ctx, jobID, locator)
	}
	o.logger.Info().Str("job_id", jobID).Str("state", string(job.State)).Str("prediction_id", cb.PredictionID).Msg("provider callback applied")
	return job, nil
}

// current returns the freshest known copy of a job, cache first.
func (o *Orchestrator) current(ctx context.Context, jobID string) (domain.Job, error) {
	if job, ok := o.cache.Get(jobID); ok {
		return job, nil
	}
	if o.store == nil {
		return domain.Job{}, domain.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	return o.store.Get(ctx, jobID)
}
