// Package webhook delivers job notifications to caller-supplied URLs and
// verifies signed inbound automation requests.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"vidgen/internal/domain"
)

const (
	SignatureHeader = "X-Webhook-Signature"
	DefaultTimeout  = 10 * time.Second
)

// Notification is the outbound payload.
type Notification struct {
	JobID     string          `json:"jobId"`
	Status    domain.JobState `json:"status"`
	Progress  int             `json:"progress"`
	ResultURL string          `json:"resultUrl,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NotificationFromJob snapshots a job into a payload.
func NotificationFromJob(job domain.Job) Notification {
	return Notification{
		JobID:     job.ID,
		Status:    job.State,
		Progress:  job.Progress,
		ResultURL: job.Result,
		Error:     job.FailureReason,
		Timestamp: job.UpdatedAt,
	}
}

// Options configures a Notifier.
type Options struct {
	Secret     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Notifier posts notifications at most once each; delivery errors are
// logged and never retried.
type Notifier struct {
	secret     string
	timeout    time.Duration
	httpClient *http.Client
	logger     zerolog.Logger
	wg         sync.WaitGroup
}

func NewNotifier(opts Options) *Notifier {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Notifier{
		secret:     opts.Secret,
		timeout:    timeout,
		httpClient: client,
		logger:     opts.Logger,
	}
}

// Notify sends n to url in the background. An empty url is a no-op.
func (n *Notifier) Notify(url string, note Notification) {
	url = strings.TrimSpace(url)
	if url == "" {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.Deliver(ctx, url, note); err != nil {
			n.logger.Warn().Err(err).Str("job_id", note.JobID).Str("status", string(note.Status)).Msg("webhook delivery failed")
			return
		}
		n.logger.Debug().Str("job_id", note.JobID).Str("status", string(note.Status)).Msg("webhook delivered")
	}()
}

// Deliver performs one synchronous POST.
func (n *Notifier) Deliver(ctx context.Context, url string, note Notification) error {
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.secret))
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sign returns the hex HMAC-SHA256 of body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature against the HMAC of body in constant
// time. A "sha256=" prefix is accepted.
func VerifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	got, err := hex.DecodeString(signature)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
