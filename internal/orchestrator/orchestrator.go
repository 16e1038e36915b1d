// Package orchestrator owns the job lifecycle: admission, creation, the
// asynchronous drive against the provider, and fan-out of every mutation to
// the cache, the durable store, live subscribers and callback URLs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vidgen/internal/admission"
	"vidgen/internal/assets"
	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
	"vidgen/internal/jobcache"
	"vidgen/internal/progress"
	"vidgen/internal/providers/video"
	"vidgen/internal/webhook"
)

const (
	tracerName = "vidgen/internal/orchestrator"
	lockShards = 64
)

// Notifier delivers outbound job notifications.
type Notifier interface {
	Notify(url string, note webhook.Notification)
}

// Options wires the orchestrator's collaborators. Store, Events, Limiter and
// Notifier are optional.
type Options struct {
	Cache     *jobcache.Cache
	Store     domain.JobStore
	Events    domain.JobEventLog
	Assets    *assets.Resolver
	Bus       *progress.Bus
	Notifier  Notifier
	Limiter   *admission.Limiter
	Generator video.Generator
	Logger    zerolog.Logger
	Tracer    trace.Tracer

	StoreTimeout time.Duration
	DriveTimeout time.Duration
	WriteQueue   int

	Now   func() time.Time
	NewID func() string
}

// SubmitRequest is a validated-on-entry job submission.
type SubmitRequest struct {
	Kind        domain.JobKind
	Input       jsoncfg.GenerationInput
	CallbackURL string
	Requester   string
}

type Orchestrator struct {
	cache     *jobcache.Cache
	store     domain.JobStore
	assets    *assets.Resolver
	bus       *progress.Bus
	notifier  Notifier
	limiter   *admission.Limiter
	generator video.Generator
	logger    zerolog.Logger
	tracer    trace.Tracer
	writer    *writeBehind

	storeTimeout time.Duration
	driveTimeout time.Duration
	now          func() time.Time
	newID        func() string

	locks   [lockShards]sync.Mutex
	driving sync.Map
	drives  sync.WaitGroup
	base    context.Context
	cancel  context.CancelFunc
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Cache == nil || opts.Bus == nil || opts.Assets == nil || opts.Generator == nil {
		return nil, errors.New("orchestrator: cache, bus, assets and generator are required")
	}
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 5 * time.Second
	}
	if opts.DriveTimeout <= 0 {
		opts.DriveTimeout = 15 * time.Minute
	}
	if opts.WriteQueue <= 0 {
		opts.WriteQueue = 1024
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	base, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		cache:        opts.Cache,
		store:        opts.Store,
		assets:       opts.Assets,
		bus:          opts.Bus,
		notifier:     opts.Notifier,
		limiter:      opts.Limiter,
		generator:    opts.Generator,
		logger:       opts.Logger,
		tracer:       opts.Tracer,
		writer:       newWriteBehind(opts.Store, opts.Events, opts.StoreTimeout, opts.WriteQueue, opts.Logger),
		storeTimeout: opts.StoreTimeout,
		driveTimeout: opts.DriveTimeout,
		now:          opts.Now,
		newID:        opts.NewID,
		base:         base,
		cancel:       cancel,
	}, nil
}

// Submit validates, admits and records a new job, then starts driving it in
// the background. The only errors are *domain.ValidationError and
// *admission.RejectedError; nothing is stored when either is returned.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (domain.Job, error) {
	if err := ctx.Err(); err != nil {
		return domain.Job{}, err
	}
	if !req.Kind.Valid() {
		return domain.Job{}, &domain.ValidationError{Field: "kind", Message: "must be one of text, image"}
	}
	input := req.Input
	input.Normalize()
	if err := input.Validate(string(req.Kind)); err != nil {
		return domain.Job{}, toValidationError(err)
	}
	if err := jsoncfg.ValidateCallbackURL(req.CallbackURL); err != nil {
		return domain.Job{}, toValidationError(err)
	}
	if o.limiter != nil {
		if err := o.limiter.Admit(req.Requester); err != nil {
			return domain.Job{}, err
		}
	}

	job := domain.NewJob(o.newID(), req.Kind, input, req.CallbackURL, o.now())
	job.Requester = req.Requester

	lock := o.lockFor(job.ID)
	lock.Lock()
	o.cache.Put(job)
	o.writer.enqueue(job, jsoncfg.MustMarshal(map[string]any{"msg": "created"}))
	o.emit(job)
	lock.Unlock()

	o.logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("requester", job.Requester).
		Msg("job accepted")

	o.startDrive(job.ID)
	return job.Clone(), nil
}

// startDrive launches the single drive of a job. A second call for the same
// id while the first is running is ignored.
func (o *Orchestrator) startDrive(jobID string) {
	if _, loaded := o.driving.LoadOrStore(jobID, struct{}{}); loaded {
		o.logger.Warn().Str("job_id", jobID).Err(domain.ErrAlreadyDriven).Msg("drive not started")
		return
	}
	o.drives.Add(1)
	go func() {
		defer o.drives.Done()
		defer o.driving.Delete(jobID)
		o.drive(jobID)
	}()
}

// drive moves one job to a terminal state. It never panics past its
// boundary: any failure, including a recovered panic, becomes the job's
// failure reason.
func (o *Orchestrator) drive(jobID string) {
	ctx, cancel := context.WithTimeout(o.base, o.driveTimeout)
	defer cancel()
	ctx, span := o.tracer.Start(ctx, "vidgen.job.drive",
		trace.WithAttributes(
			attribute.String("vidgen.job.id", jobID),
			attribute.String("vidgen.provider", o.generator.Name()),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("internal error: %v", r)
			o.logger.Error().Str("job_id", jobID).Interface("panic", r).Msg("drive panicked")
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.fail(jobID, err.Error(), nil)
		}
	}()

	job, err := o.mutate(ctx, jobID, func(j *domain.Job) error { return j.Start(o.now()) },
		map[string]any{"phase": "start"})
	if err != nil {
		// a provider callback may already have settled the job
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("drive could not start job")
		return
	}
	span.SetAttributes(attribute.String("vidgen.job.kind", string(job.Kind)))

	result, err := o.generate(ctx, job)
	if err != nil {
		reason := failureReason(ctx, o.generator.Name(), err, o.driveTimeout)
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		o.logger.Warn().Err(err).Str("job_id", jobID).Msg("generation failed")
		o.fail(jobID, reason, nil)
		return
	}

	if _, err := o.mutate(ctx, jobID, func(j *domain.Job) error { return j.Advance(domain.ProgressGenerated, o.now()) },
		map[string]any{"phase": "mid", "prediction_id": result.PredictionID}); err != nil {
		o.logger.Debug().Err(err).Str("job_id", jobID).Msg("generated checkpoint skipped")
	}

	locator := o.assets.Locate(jobID, result.Output)
	done, err := o.mutate(ctx, jobID, func(j *domain.Job) error { return j.Complete(locator, o.now()) },
		map[string]any{"resultUrl": locator, "prediction_id": result.PredictionID})
	if err != nil {
		o.logger.Info().Err(err).Str("job_id", jobID).Msg("completion skipped; job already settled")
		return
	}
	o.assets.Remember(ctx, jobID, locator)
	span.SetStatus(codes.Ok, "")
	o.logger.Info().Str("job_id", jobID).Str("result", done.Result).Msg("job completed")
}

func (o *Orchestrator) generate(ctx context.Context, job domain.Job) (*video.Result, error) {
	ctx, span := o.tracer.Start(ctx, "vidgen.provider.generate",
		trace.WithAttributes(attribute.String("vidgen.job.id", job.ID)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	defer span.End()

	res, err := o.generator.Generate(ctx, video.GenerateRequest{JobID: job.ID, Kind: job.Kind, Input: job.Input})
	if err == nil && res == nil {
		err = errors.New("provider returned no result")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &domain.ProviderError{Provider: o.generator.Name(), Err: err}
	}
	return res, nil
}

func (o *Orchestrator) fail(jobID, reason string, extra map[string]any) {
	payload := map[string]any{"error": reason}
	for k, v := range extra {
		payload[k] = v
	}
	ctx, cancel := context.WithTimeout(context.Background(), o.storeTimeout)
	defer cancel()
	if _, err := o.mutate(ctx, jobID, func(j *domain.Job) error { return j.Fail(reason, o.now()) }, payload); err != nil {
		o.logger.Info().Err(err).Str("job_id", jobID).Msg("failure not recorded; job already settled")
		return
	}
	o.logger.Info().Str("job_id", jobID).Str("reason", reason).Msg("job failed")
}

// mutate applies fn to the job under its lock, then writes through to the
// durable store and publishes. Holding the lock across publish keeps each
// job's events in version order.
func (o *Orchestrator) mutate(ctx context.Context, jobID string, fn func(*domain.Job) error, payload map[string]any) (domain.Job, error) {
	lock := o.lockFor(jobID)
	lock.Lock()
	defer lock.Unlock()

	job, err := o.cache.Update(jobID, fn)
	if errors.Is(err, domain.ErrNotFound) {
		if err := o.rehydrate(ctx, jobID); err != nil {
			return domain.Job{}, err
		}
		job, err = o.cache.Update(jobID, fn)
	}
	if err != nil {
		return job, err
	}

	o.writer.enqueue(job, jsoncfg.MustMarshal(payload))
	o.emit(job)
	return job, nil
}

// rehydrate reloads an evicted job from the durable store into the cache.
func (o *Orchestrator) rehydrate(ctx context.Context, jobID string) error {
	if o.store == nil {
		return domain.ErrNotFound
	}
	ctx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	defer cancel()
	job, err := o.store.Get(ctx, jobID)
	if err != nil {
		return err
	}
	o.cache.Put(job)
	return nil
}

func (o *Orchestrator) emit(job domain.Job) {
	o.bus.Publish(job.ID, progress.EventFromJob(job))
	if o.notifier != nil && job.CallbackURL != "" {
		o.notifier.Notify(job.CallbackURL, webhook.NotificationFromJob(job))
	}
}

func (o *Orchestrator) lockFor(jobID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jobID))
	return &o.locks[h.Sum32()%lockShards]
}

// Close waits for running drives until ctx is done, cancels the rest, and
// flushes pending durable writes.
func (o *Orchestrator) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.drives.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		o.logger.Warn().Msg("cancelling in-flight drives")
		o.cancel()
		<-done
	}
	o.cancel()

	flushCtx, cancel := context.WithTimeout(context.Background(), o.storeTimeout)
	defer cancel()
	return o.writer.close(flushCtx)
}

// Wait blocks until every started drive has returned. Intended for tests.
func (o *Orchestrator) Wait() {
	o.drives.Wait()
}

func failureReason(ctx context.Context, provider string, err error, timeout time.Duration) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Sprintf("%s: generation timed out after %s", provider, timeout)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Sprintf("%s: generation cancelled", provider)
	}
	return err.Error()
}

func toValidationError(err error) error {
	var fe *jsoncfg.FieldError
	if errors.As(err, &fe) {
		return &domain.ValidationError{Field: fe.Field, Message: fe.Message}
	}
	return &domain.ValidationError{Message: err.Error()}
}
