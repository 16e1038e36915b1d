package video

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"vidgen/internal/domain"
	"vidgen/internal/domain/jsoncfg"
)

// GenerateRequest carries one job's normalized input to a provider.
type GenerateRequest struct {
	JobID string
	Kind  domain.JobKind
	Input jsoncfg.GenerationInput
}

// Result is the raw provider output. Output has no fixed shape and is
// handed to the asset resolver as decoded JSON.
type Result struct {
	PredictionID string
	Output       any
}

// Generator runs one generation to completion or failure.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (*Result, error)
}

// Synthetic returns a deterministic locator after a short delay. It keeps the
// pipeline exercised when no provider token is configured.
type Synthetic struct {
	baseURL string
	delay   time.Duration
}

func NewSynthetic(baseURL string, delay time.Duration) *Synthetic {
	return &Synthetic{baseURL: strings.TrimRight(baseURL, "/"), delay: delay}
}

func (s *Synthetic) Name() string { return "synthetic" }

func (s *Synthetic) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	timer := time.NewTimer(s.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &Result{
		PredictionID: "synthetic-" + req.JobID,
		Output:       []any{fmt.Sprintf("%s/%s/%s.mp4", s.baseURL, req.Kind, req.JobID)},
	}, nil
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, req GenerateRequest) (*Result, error)

func (f Func) Name() string { return "func" }

func (f Func) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	return f(ctx, req)
}

// decodeOutput turns raw JSON output into a generic tree.
func decodeOutput(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	return v
}

var (
	_ Generator = (*Synthetic)(nil)
	_ Generator = Func(nil)
)
