package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mtlprog/humantask/internal/domain"
	"github.com/sethvargo/go-retry"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultWebhookRetries = 3
	defaultWebhookBackoff = 200 * time.Millisecond
)

// WebhookConfig configures a WebhookPublisher.
type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	MaxRetries uint64
	Backoff    time.Duration
}

// WebhookPublisher POSTs each event as JSON to the workflow engine callback.
// 5xx responses and transport errors are retried with exponential backoff;
// 4xx responses fail immediately.
type WebhookPublisher struct {
	cfg    WebhookConfig
	client *http.Client
}

// NewWebhookPublisher creates a WebhookPublisher.
func NewWebhookPublisher(cfg WebhookConfig) *WebhookPublisher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultWebhookTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultWebhookRetries
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = defaultWebhookBackoff
	}
	return &WebhookPublisher{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (p *WebhookPublisher) Publish(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		if err := p.post(ctx, e); err != nil {
			return fmt.Errorf("deliver event %s to %s: %w", e.ID, p.cfg.URL, err)
		}
	}
	return nil
}

func (p *WebhookPublisher) post(ctx context.Context, e domain.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	backoff := retry.WithMaxRetries(p.cfg.MaxRetries, retry.NewExponential(p.cfg.Backoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.URL, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-HumanTask-Event", string(e.Type))
		req.Header.Set("X-HumanTask-Delivery", e.ID)
		req.Header.Set("X-HumanTask-Tenant", e.TenantID)
		if strings.TrimSpace(p.cfg.Secret) != "" {
			req.Header.Set("X-HumanTask-Secret", p.cfg.Secret)
		}

		res, err := p.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer res.Body.Close()

		if res.StatusCode >= 200 && res.StatusCode < 300 {
			return nil
		}
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		err = fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return retry.RetryableError(err)
		}
		return err
	})
}
