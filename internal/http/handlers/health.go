package handlers

import (
	"context"
	"net/http"
	"time"
)

type healthBody struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
	Events struct {
		Published int64 `json:"published"`
		Dropped   int64 `json:"dropped"`
	} `json:"events"`
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok"}
	if a.Bus != nil {
		body.Events.Published, body.Events.Dropped = a.Bus.Stats()
	}
	if a.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := a.Store.Ping(ctx); err != nil {
			a.Logger.Warn().Err(err).Msg("health: durable store unreachable")
			body.Status, body.Store = "degraded", "unreachable"
		}
	}
	a.json(w, http.StatusOK, body)
}
