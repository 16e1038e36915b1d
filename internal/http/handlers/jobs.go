package handlers

import (
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/admission"
	"vidgen/internal/domain"
	"vidgen/internal/middleware"
	"vidgen/internal/orchestrator"
)

const (
	maxSubmitBody    = 1 << 20
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxEventsLimit   = 500
)

func (a *App) SubmitJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSubmitBody))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
		return
	}
	sub, err := decodeSubmission(body)
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.submit(w, r, sub)
}

func (a *App) submit(w http.ResponseWriter, r *http.Request, sub submission) {
	job, err := a.Jobs.Submit(r.Context(), orchestrator.SubmitRequest{
		Kind:        sub.Kind,
		Input:       sub.Input,
		CallbackURL: sub.CallbackURL,
		Requester:   middleware.ClientIP(r),
	})
	if err != nil {
		a.submitError(w, err)
		return
	}
	a.Logger.Info().
		Str("job_id", job.ID).
		Str("kind", string(job.Kind)).
		Str("country", middleware.CountryFromContext(r.Context())).
		Str("request_id", middleware.RequestIDFromContext(r.Context())).
		Msg("job submitted")
	w.Header().Set("Location", "/v1/status/"+job.ID)
	a.json(w, http.StatusCreated, job)
}

func (a *App) submitError(w http.ResponseWriter, err error) {
	var (
		ve       *domain.ValidationError
		rejected *admission.RejectedError
	)
	switch {
	case errors.As(err, &ve):
		a.error(w, http.StatusBadRequest, "invalid_input", ve.Error())
	case errors.As(err, &rejected):
		retry := int(math.Ceil(time.Until(rejected.ResetAt).Seconds()))
		if retry < 1 {
			retry = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		a.json(w, http.StatusTooManyRequests, map[string]any{
			"error":      errorBody{Code: "rate_limited", Message: "too many generation requests"},
			"retryAfter": retry,
		})
	default:
		a.Logger.Error().Err(err).Msg("submit job")
		a.error(w, http.StatusInternalServerError, "internal", "failed to submit job")
	}
}

func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}
	page, err := a.Status.List(r.Context(), limit, offset)
	if err != nil {
		a.error(w, http.StatusServiceUnavailable, "unavailable", "failed to list jobs")
		return
	}
	jobs := page.Jobs
	if jobs == nil {
		jobs = []domain.Job{}
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobs":   jobs,
		"total":  page.Total,
		"limit":  limit,
		"offset": offset,
		"source": page.Source,
	})
}

func (a *App) JobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if a.Events == nil {
		a.error(w, http.StatusNotImplemented, "not_implemented", "job history requires a durable store")
		return
	}
	limit := queryInt(r, "limit", 100)
	if limit <= 0 || limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	events, err := a.Events.ListEvents(r.Context(), jobID, limit)
	if errors.Is(err, domain.ErrStoreUnavailable) {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("list job events")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "job history is temporarily unavailable")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Msg("list job events")
		a.error(w, http.StatusInternalServerError, "internal", "failed to load job events")
		return
	}
	if len(events) == 0 {
		if _, _, err := a.Status.Resolve(r.Context(), jobID); errors.Is(err, domain.ErrNotFound) {
			a.error(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		events = []domain.JobEvent{}
	}
	a.json(w, http.StatusOK, map[string]any{"job_id": jobID, "events": events})
}
