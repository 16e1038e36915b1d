package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"vidgen/internal/admission"
	"vidgen/internal/assets"
	"vidgen/internal/domain"
	"vidgen/internal/infra"
	"vidgen/internal/jobcache"
	"vidgen/internal/orchestrator"
	"vidgen/internal/progress"
	"vidgen/internal/providers/video"
	"vidgen/internal/status"
)

type testEnv struct {
	app    *App
	orch   *orchestrator.Orchestrator
	cache  *jobcache.Cache
	events *memoryEvents
	mux    http.Handler
}

type envOption func(*orchestrator.Options, *App)

func withLimiter(l *admission.Limiter) envOption {
	return func(o *orchestrator.Options, _ *App) { o.Limiter = l }
}

func withConfig(cfg *infra.Config) envOption {
	return func(_ *orchestrator.Options, a *App) { a.Config = cfg }
}

func newTestEnv(t *testing.T, gen video.Generator, opts ...envOption) *testEnv {
	t.Helper()
	cache := jobcache.New(time.Hour)
	bus := progress.NewBus(32)
	events := &memoryEvents{}
	locators := assets.NewResolver(assets.NewMemoryLocatorStore(0), "https://cdn.example.com/videos", time.Second, zerolog.Nop())

	orchOpts := orchestrator.Options{
		Cache:     cache,
		Events:    events,
		Assets:    locators,
		Bus:       bus,
		Generator: gen,
		Logger:    zerolog.Nop(),
	}
	app := &App{
		Config: &infra.Config{HeartbeatInterval: 20 * time.Millisecond},
		Logger: zerolog.Nop(),
		Bus:    bus,
		Events: events,
	}
	for _, opt := range opts {
		opt(&orchOpts, app)
	}
	orch, err := orchestrator.New(orchOpts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	app.Jobs = orch
	app.Status = status.NewResolver(nil, cache, locators, time.Second, zerolog.Nop())

	return &testEnv{app: app, orch: orch, cache: cache, events: events, mux: testRouter(app)}
}

// testRouter mirrors the public routes needed for URL parameters.
func testRouter(app *App) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/jobs", app.SubmitJob)
	r.Get("/v1/jobs", app.ListJobs)
	r.Get("/v1/jobs/{job_id}/events", app.JobEvents)
	r.Get("/v1/status/{job_id}", app.JobStatus)
	r.Get("/v1/download/{job_id}", app.DownloadJob)
	r.Post("/v1/uploads", app.UploadImage)
	r.Post("/v1/webhooks/provider", app.ProviderWebhook)
	r.Post("/v1/automation/webhook", app.AutomationWebhook)
	r.Get("/v1/healthz", app.Health)
	return r
}

func (e *testEnv) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case []byte:
		buf.Write(v)
	case string:
		buf.WriteString(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "198.51.100.7:5555"
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.mux.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) submit(t *testing.T, body any) domain.Job {
	t.Helper()
	rr := e.do(http.MethodPost, "/v1/jobs", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body=%s", rr.Code, rr.Body.String())
	}
	var job domain.Job
	if err := json.NewDecoder(rr.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return job
}

func textJob(prompt string) map[string]any {
	return map[string]any{"kind": "text", "input": map[string]any{"prompt": prompt}}
}

func succeedWith(output any) video.Generator {
	return video.Func(func(ctx context.Context, req video.GenerateRequest) (*video.Result, error) {
		return &video.Result{PredictionID: "p-" + req.JobID, Output: output}, nil
	})
}

// gated blocks every generation until release is closed.
func gated(output any) (video.Generator, chan struct{}) {
	release := make(chan struct{})
	gen := video.Func(func(ctx context.Context, req video.GenerateRequest) (*video.Result, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &video.Result{Output: output}, nil
	})
	return gen, release
}

type memoryEvents struct {
	mu     sync.Mutex
	events []domain.JobEvent
	fail   error
}

func (m *memoryEvents) AppendEvent(_ context.Context, ev domain.JobEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryEvents) ListEvents(_ context.Context, jobID string, limit int) ([]domain.JobEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return nil, m.fail
	}
	var out []domain.JobEvent
	for _, ev := range m.events {
		if ev.JobID == jobID && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}
