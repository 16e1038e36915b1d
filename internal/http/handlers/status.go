package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/domain"
	"vidgen/internal/progress"
)

func (a *App) JobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	if wantsEventStream(r) {
		a.streamStatus(w, r, jobID)
		return
	}
	job, source, err := a.Status.Resolve(r.Context(), jobID)
	if err != nil {
		a.resolveError(w, jobID, err)
		return
	}
	w.Header().Set("X-Job-Source", string(source))
	a.json(w, http.StatusOK, job)
}

func (a *App) resolveError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	a.Logger.Warn().Err(err).Str("job_id", jobID).Msg("resolve job")
	a.error(w, http.StatusServiceUnavailable, "unavailable", "job status temporarily unavailable")
}

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// streamStatus sends a snapshot, then progress deltas, then one terminal
// event. The subscription is opened before the snapshot is read so no
// transition between the two is lost. Events at or below the last sent
// version are skipped. Every heartbeat tick also re-reads the job so a
// dropped bus event cannot stall the stream.
func (a *App) streamStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	sub := a.Bus.Subscribe(jobID)
	defer sub.Close()

	job, _, err := a.Status.Resolve(ctx, jobID)
	if err != nil {
		a.resolveError(w, jobID, err)
		return
	}

	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		a.Logger.Debug().Err(err).Msg("clear write deadline")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	a.Logger.Debug().Str("job_id", jobID).Int("subscribers", a.Bus.Subscribers(jobID)).Msg("status stream opened")

	send := func(name string, evt progress.Event) error {
		data, err := json.Marshal(evt)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
			return err
		}
		return rc.Flush()
	}
	// deliver reports whether the stream is finished.
	var last int64
	deliver := func(name string, evt progress.Event) bool {
		if err := send(name, evt); err != nil {
			a.Logger.Debug().Err(err).Str("job_id", jobID).Msg("stream write failed")
			return true
		}
		last = evt.Version
		return evt.Terminal()
	}

	snapshot := progress.EventFromJob(job)
	if err := send("snapshot", snapshot); err != nil {
		return
	}
	last = snapshot.Version
	if snapshot.Terminal() {
		_ = send(string(snapshot.State), snapshot)
		return
	}

	ticker := time.NewTicker(a.heartbeatInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.C():
			if !ok {
				return
			}
			if evt.Version <= last {
				continue
			}
			if deliver(eventName(evt), evt) {
				return
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
			current, _, err := a.Status.Resolve(ctx, jobID)
			if err != nil || current.Version <= last {
				continue
			}
			evt := progress.EventFromJob(current)
			if deliver(eventName(evt), evt) {
				return
			}
		}
	}
}

func eventName(evt progress.Event) string {
	if evt.Terminal() {
		return string(evt.State)
	}
	return "progress"
}
