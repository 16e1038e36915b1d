package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

// ReplicateOptions controls how the predictions client is configured.
type ReplicateOptions struct {
	Token        string
	BaseURL      string
	TextModel    string
	TextVersion  string
	ImageModel   string
	ImageVersion string
	// WebhookURL, when set, is registered with each prediction with the
	// job id appended as the job_id query parameter.
	WebhookURL   string
	PollInterval time.Duration
	// PollRetries bounds consecutive transient poll failures before the
	// prediction is given up on.
	PollRetries int
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// Replicate drives a prediction through the Replicate HTTP API: one create
// call, then polling until the prediction settles.
type Replicate struct {
	opts       ReplicateOptions
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type predictionRequest struct {
	Version             string         `json:"version"`
	Input               map[string]any `json:"input"`
	Webhook             string         `json:"webhook,omitempty"`
	WebhookEventsFilter []string       `json:"webhook_events_filter,omitempty"`
}

// Prediction is the subset of the prediction resource the client reads. The
// same shape arrives on the provider webhook.
type Prediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  json.RawMessage `json:"error,omitempty"`
	URLs   struct {
		Get string `json:"get"`
	} `json:"urls"`
}

const defaultPollRetries = 3

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Settled reports whether the prediction will not change any more.
func (p Prediction) Settled() bool {
	return p.Status == StatusSucceeded || p.Status == StatusFailed || p.Status == StatusCanceled
}

// DecodedOutput returns the output as a generic tree.
func (p Prediction) DecodedOutput() any { return decodeOutput(p.Output) }

// ErrorMessage extracts a human readable failure from the error field, which
// is either a string or an object with detail or message.
func (p Prediction) ErrorMessage() string {
	if len(p.Error) == 0 || string(p.Error) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(p.Error, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var obj struct {
		Detail  string `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(p.Error, &obj); err == nil {
		if obj.Detail != "" {
			return obj.Detail
		}
		return obj.Message
	}
	return strings.TrimSpace(string(p.Error))
}

func NewReplicate(opts ReplicateOptions) (*Replicate, error) {
	if strings.TrimSpace(opts.Token) == "" {
		return nil, errors.New("replicate token is required")
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollRetries <= 0 {
		opts.PollRetries = defaultPollRetries
	}
	return &Replicate{opts: opts, baseURL: baseURL, httpClient: client, logger: opts.Logger}, nil
}

func (c *Replicate) Name() string { return "replicate" }

func (c *Replicate) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	model, version := c.opts.TextModel, c.opts.TextVersion
	if req.Kind == domain.JobKindImage {
		model, version = c.opts.ImageModel, c.opts.ImageVersion
	}

	body := predictionRequest{
		Version: version,
		Input:   ShapeInput(model, req.Kind, req.Input),
	}
	if c.opts.WebhookURL != "" {
		body.Webhook = c.opts.WebhookURL + "?job_id=" + url.QueryEscape(req.JobID)
		body.WebhookEventsFilter = []string{"completed"}
	}

	c.logger.Debug().Str("job_id", req.JobID).Str("model", model).Msg("replicate: creating prediction")

	var pred Prediction
	if err := c.do(ctx, http.MethodPost, c.baseURL+"/predictions", body, &pred); err != nil {
		return nil, err
	}

	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()
	failures := 0
	for !pred.Settled() {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
		endpoint := pred.URLs.Get
		if endpoint == "" {
			endpoint = c.baseURL + "/predictions/" + url.PathEscape(pred.ID)
		}
		var next Prediction
		if err := c.do(ctx, http.MethodGet, endpoint, nil, &next); err != nil {
			failures++
			if !transient(err) || failures > c.opts.PollRetries {
				return nil, fmt.Errorf("poll prediction %s: %w", pred.ID, err)
			}
			c.logger.Warn().Err(err).
				Str("job_id", req.JobID).
				Str("prediction_id", pred.ID).
				Int("attempt", failures).
				Msg("replicate: poll failed; retrying")
			continue
		}
		failures = 0
		pred = next
	}

	if pred.Status != StatusSucceeded {
		msg := pred.ErrorMessage()
		if msg == "" {
			msg = "prediction " + pred.Status
		}
		return nil, errors.New(msg)
	}

	c.logger.Debug().Str("job_id", req.JobID).Str("prediction_id", pred.ID).Msg("replicate: prediction succeeded")
	return &Result{PredictionID: pred.ID, Output: pred.DecodedOutput()}, nil
}

func (c *Replicate) do(ctx context.Context, method, endpoint string, payload any, out any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.opts.Token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke replicate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &apiError{Status: resp.StatusCode}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Detail == "" {
			apiErr.Detail = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode replicate response: %w", err)
	}
	return nil
}

// apiError is a non-2xx answer from the predictions API.
type apiError struct {
	Status int    `json:"-"`
	Detail string `json:"detail"`
}

func (e *apiError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("replicate status %d", e.Status)
	}
	return fmt.Sprintf("replicate status %d: %s", e.Status, e.Detail)
}

// transient reports whether a failed call is worth repeating: transport
// errors, throttling and server errors.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusTooManyRequests || apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

var _ Generator = (*Replicate)(nil)
