package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/orchestrator"
	"vidgen/internal/progress"
	"vidgen/internal/status"
	"vidgen/internal/storage"
)

// Jobs is the write side the handlers drive.
type Jobs interface {
	Submit(ctx context.Context, req orchestrator.SubmitRequest) (domain.Job, error)
	ApplyProviderCallback(ctx context.Context, jobID string, cb orchestrator.ProviderCallback) (domain.Job, error)
}

// StatusReader answers job reads through the storage tiers.
type StatusReader interface {
	Resolve(ctx context.Context, jobID string) (domain.Job, status.Source, error)
	List(ctx context.Context, limit, offset int) (status.Page, error)
}

// Pinger reports durable store health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Config     *infra.Config
	Logger     zerolog.Logger
	Jobs       Jobs
	Status     StatusReader
	Events     domain.JobEventLog
	Bus        *progress.Bus
	Files      *storage.FileStore
	Store      Pinger
	HTTPClient *http.Client
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"error": errorBody{Code: kind, Message: message}})
}

func (a *App) heartbeatInterval() time.Duration {
	if a.Config != nil && a.Config.HeartbeatInterval > 0 {
		return a.Config.HeartbeatInterval
	}
	return 15 * time.Second
}

func (a *App) httpClient() *http.Client {
	if a.HTTPClient != nil {
		return a.HTTPClient
	}
	timeout := 2 * time.Minute
	if a.Config != nil && a.Config.DownloadTimeout > 0 {
		timeout = a.Config.DownloadTimeout
	}
	return &http.Client{Timeout: timeout}
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return fallback
	}
	return v
}
