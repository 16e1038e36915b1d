package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"vidgen/internal/http/handlers"
	"vidgen/internal/middleware"
)

// NewRouter mounts the public API. country may be nil when no GeoIP
// database is configured.
func NewRouter(app *handlers.App, country middleware.CountryLookup) http.Handler {
	var (
		origins    []string
		trustProxy bool
	)
	if app.Config != nil {
		origins = app.Config.CORSOrigins
		trustProxy = app.Config.TrustProxy
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.ClientAddr(trustProxy),
		middleware.Country(country),
		middleware.Logger(app.Logger),
		chimw.Recoverer,
		middleware.CORS(origins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1/jobs", func(r chi.Router) {
		r.Post("/", app.SubmitJob)
		r.Get("/", app.ListJobs)
		r.Get("/{job_id}/events", app.JobEvents)
	})
	r.Get("/v1/status/{job_id}", app.JobStatus)
	r.Get("/v1/download/{job_id}", app.DownloadJob)
	r.Post("/v1/uploads", app.UploadImage)

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/provider", app.ProviderWebhook)
	})
	r.Post("/v1/automation/webhook", app.AutomationWebhook)

	if app.Files != nil {
		r.Handle("/static/*", http.StripPrefix("/static", app.Files.Handler()))
	}

	return r
}
