package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vidgen/internal/domain"
	"vidgen/internal/orchestrator"
	"vidgen/internal/providers/video"
	"vidgen/internal/webhook"
)

const (
	AutomationSignatureHeader = "X-Automation-Signature"
	automationAction          = "video_generation_request"
	maxWebhookBody            = 1 << 20
)

// ProviderWebhook settles a job from the provider's completion callback.
// Non-terminal statuses and already settled jobs are acknowledged with 200.
func (a *App) ProviderWebhook(w http.ResponseWriter, r *http.Request) {
	jobID := r.URL.Query().Get("job_id")
	if jobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "job_id query parameter required")
		return
	}
	var pred video.Prediction
	if err := json.NewDecoder(io.LimitReader(r.Body, maxWebhookBody)).Decode(&pred); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid prediction payload")
		return
	}
	job, err := a.Jobs.ApplyProviderCallback(r.Context(), jobID, orchestrator.ProviderCallback{
		PredictionID: pred.ID,
		Status:       pred.Status,
		Output:       pred.DecodedOutput(),
		Error:        pred.ErrorMessage(),
	})
	if errors.Is(err, domain.ErrNotFound) {
		a.error(w, http.StatusNotFound, "not_found", "job not found")
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", jobID).Str("prediction_id", pred.ID).Msg("provider webhook")
		a.error(w, http.StatusServiceUnavailable, "unavailable", "failed to apply provider callback")
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"jobId":    job.ID,
		"status":   job.State,
		"progress": job.Progress,
	})
}

// AutomationWebhook accepts job submissions from workflow automation tools.
// When a secret is configured the raw body must carry a matching HMAC.
func (a *App) AutomationWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		a.error(w, http.StatusRequestEntityTooLarge, "bad_request", "request body too large")
		return
	}
	if secret := a.automationSecret(); secret != "" {
		if !webhook.VerifySignature(body, r.Header.Get(AutomationSignatureHeader), secret) {
			a.Logger.Warn().Str("remote", r.RemoteAddr).Msg("automation webhook: bad signature")
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid signature")
			return
		}
	}
	sub, err := decodeSubmission(body)
	if err != nil {
		a.submitError(w, err)
		return
	}
	if sub.Action != "" && sub.Action != automationAction {
		a.error(w, http.StatusBadRequest, "invalid_input", "unsupported action "+sub.Action)
		return
	}
	a.submit(w, r, sub)
}

func (a *App) automationSecret() string {
	if a.Config == nil {
		return ""
	}
	return a.Config.AutomationSecret
}
