package handlers

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"vidgen/internal/domain"
)

// DownloadJob proxies the finished asset so browsers save it under a stable
// file name.
func (a *App) DownloadJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id required")
		return
	}
	job, _, err := a.Status.Resolve(r.Context(), jobID)
	if err != nil {
		a.resolveError(w, jobID, err)
		return
	}
	if job.State != domain.JobStateCompleted || job.Result == "" {
		a.error(w, http.StatusNotFound, "not_found", "video not available for this job")
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, job.Result, nil)
	if err != nil {
		a.error(w, http.StatusNotFound, "not_found", "video locator is not fetchable")
		return
	}
	resp, err := a.httpClient().Do(req)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", jobID).Str("locator", job.Result).Msg("download: upstream fetch failed")
		a.error(w, http.StatusBadGateway, "upstream_error", "failed to fetch video")
		return
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		a.error(w, http.StatusNotFound, "not_found", "video no longer available")
		return
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		a.Logger.Warn().Int("status", resp.StatusCode).Str("job_id", jobID).Msg("download: upstream status")
		a.error(w, http.StatusBadGateway, "upstream_error", "failed to fetch video")
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp4"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "video_"+jobID+".mp4"))
	if resp.ContentLength > 0 {
		w.Header().Set("Content-Length", fmt.Sprint(resp.ContentLength))
	}
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, resp.Body); err != nil {
		a.Logger.Warn().Err(err).Int64("bytes", n).Str("job_id", jobID).Msg("download: stream interrupted")
	}
}
